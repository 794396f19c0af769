package syms

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/jtang613/gosyms/pkg/regs"
	"github.com/jtang613/gosyms/pkg/unwind"
)

var (
	// ErrOptimizedOut is returned when a variable has no location.
	ErrOptimizedOut = errors.New("syms: variable optimized out")
	// ErrNotInMemory is returned for the address of a variable that lives
	// in a register or in its debug record.
	ErrNotInMemory = errors.New("syms: variable has no memory address")
	// ErrThreadLocal is returned for the address of a thread-local variable.
	ErrThreadLocal = errors.New("syms: thread-local variable")
)

// Format identifies the backend selected at load time.
type Format uint8

// Backend formats.
const (
	FormatNone Format = iota
	FormatPDB
	FormatDWARF
	FormatELFSymtab
)

func (f Format) String() string {
	switch f {
	case FormatPDB:
		return "pdb"
	case FormatDWARF:
		return "dwarf"
	case FormatELFSymtab:
		return "elf-symtab"
	}
	return "none"
}

// Range is a half-open address range.
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Contains reports whether addr lies in r.
func (r Range) Contains(addr uint64) bool { return addr >= r.Start && addr < r.End }

func inRanges(rs []Range, addr uint64) bool {
	for _, r := range rs {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// Module is one build unit: a PDB module, a DWARF compile unit, or the
// whole image for a bare symbol table.
type Module struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	Object string  `json:"object,omitempty"`
	Ranges []Range `json:"ranges,omitempty"`
}

// Section is an allocated image section.
type Section struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Range Range  `json:"range"`
	Exec  bool   `json:"exec"`
}

// Proc is a procedure. Range covers its code; Ranges lists every piece for
// procedures split across the image.
type Proc struct {
	Module      int     `json:"module"`
	Name        string  `json:"name"`
	LinkageName string  `json:"linkage_name,omitempty"`
	Range       Range   `json:"range"`
	Ranges      []Range `json:"ranges,omitempty"`
	Type        string  `json:"type,omitempty"`
	Global      bool    `json:"global"`

	ref any
}

// Contains reports whether addr is inside the procedure's code.
func (p Proc) Contains(addr uint64) bool {
	if len(p.Ranges) > 0 {
		return inRanges(p.Ranges, addr)
	}
	if p.Range.Start == p.Range.End {
		return addr == p.Range.Start
	}
	return p.Range.Contains(addr)
}

// Line maps an address to a source position. End rows close the previous
// sequence and carry no position.
type Line struct {
	Addr      uint64 `json:"addr"`
	File      string `json:"file,omitempty"`
	Line      uint32 `json:"line,omitempty"`
	Column    uint16 `json:"column,omitempty"`
	Statement bool   `json:"statement,omitempty"`
	End       bool   `json:"end,omitempty"`
}

// Type is a named aggregate or enum definition.
type Type struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Size    uint64   `json:"size,omitempty"`
	File    string   `json:"file,omitempty"`
	Line    uint32   `json:"line,omitempty"`
	Members []Member `json:"members,omitempty"`
}

// Member is a field, base class or enumerator of a Type.
type Member struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	TypeName string `json:"type_name,omitempty"`
	Offset   uint64 `json:"offset,omitempty"`
	Value    int64  `json:"value,omitempty"`
}

// GlobalKind tells data from thread-local globals.
type GlobalKind uint8

// Global kinds.
const (
	GlobalData GlobalKind = iota
	GlobalTLS
)

func (k GlobalKind) String() string {
	if k == GlobalTLS {
		return "tls"
	}
	return "data"
}

// Global is a global or file-static variable. Addr is an image address for
// data and the offset within the TLS block for thread-locals.
type Global struct {
	Name     string     `json:"name"`
	Kind     GlobalKind `json:"kind"`
	Addr     uint64     `json:"addr"`
	Type     string     `json:"type,omitempty"`
	External bool       `json:"external"`
	Module   int        `json:"module"`
}

// Const is a named compile-time constant.
type Const struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Value int64  `json:"value"`
}

// LocationKind tells how a variable's storage is found.
type LocationKind uint8

// Location kinds.
const (
	LocationNone LocationKind = iota
	LocationRegister
	LocationRegisterRelative
	LocationFrameRelative
	LocationAddress
	LocationTLS
	LocationConst
	LocationExpr
)

func (k LocationKind) String() string {
	switch k {
	case LocationNone:
		return "none"
	case LocationRegister:
		return "register"
	case LocationRegisterRelative:
		return "regrel"
	case LocationFrameRelative:
		return "framerel"
	case LocationAddress:
		return "address"
	case LocationTLS:
		return "tls"
	case LocationConst:
		return "const"
	case LocationExpr:
		return "expr"
	}
	return "unknown"
}

// Location is where a variable lives. Value holds the bytes of constant
// locations; Expr holds expressions this package does not evaluate.
type Location struct {
	Kind     LocationKind `json:"kind"`
	Register regs.ID      `json:"register,omitempty"`
	Offset   int64        `json:"offset,omitempty"`
	Addr     uint64       `json:"addr,omitempty"`
	Value    []byte       `json:"value,omitempty"`
	Expr     []byte       `json:"expr,omitempty"`
}

// Address computes the variable's memory address from a register state.
func (l Location) Address(rs unwind.Registers) (uint64, error) {
	switch l.Kind {
	case LocationRegisterRelative, LocationFrameRelative:
		base, err := rs.ReadRegister(l.Register)
		if err != nil {
			return 0, err
		}
		return base + uint64(l.Offset), nil
	case LocationAddress:
		return l.Addr, nil
	case LocationTLS:
		return 0, errors.Wrapf(ErrThreadLocal, "tls offset 0x%x", l.Offset)
	case LocationNone:
		return 0, ErrOptimizedOut
	}
	return 0, ErrNotInMemory
}

func constValue(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

// Local is a parameter or local variable visible at the queried address.
// Depth counts the lexical blocks and inline sites around it, with the
// procedure body at one.
type Local struct {
	Name     string   `json:"name"`
	Type     string   `json:"type,omitempty"`
	Param    bool     `json:"param,omitempty"`
	Depth    int      `json:"depth"`
	Inline   bool     `json:"inline,omitempty"`
	Location Location `json:"location"`
}

// InlineSite is one inlined call. Depth 1 is the outermost site.
type InlineSite struct {
	Name     string  `json:"name"`
	Depth    int     `json:"depth"`
	Ranges   []Range `json:"ranges"`
	CallFile string  `json:"call_file,omitempty"`
	CallLine uint32  `json:"call_line,omitempty"`
}

// File is a debug-information input held in memory.
type File struct {
	Name string
	Data []byte
}

// Iterator is a read cursor over query results. It must not be shared
// between goroutines.
type Iterator[T any] struct {
	items []T
	pos   int
}

func newIterator[T any](items []T) *Iterator[T] {
	return &Iterator[T]{items: items, pos: -1}
}

// Next advances to the next value.
func (it *Iterator[T]) Next() bool {
	if it.pos+1 >= len(it.items) {
		it.pos = len(it.items)
		return false
	}
	it.pos++
	return true
}

// Value returns the current value.
func (it *Iterator[T]) Value() T {
	if it.pos < 0 || it.pos >= len(it.items) {
		var zero T
		return zero
	}
	return it.items[it.pos]
}

// Len returns the total number of values.
func (it *Iterator[T]) Len() int { return len(it.items) }
