// Package dwarftest encodes small DWARF 4 compilation units (.debug_abbrev,
// .debug_info and .debug_line) for tests.
package dwarftest

import (
	"debug/dwarf"
	"encoding/binary"

	"github.com/jtang613/gosyms/pkg/bytestream"
)

// Form is a DWARF attribute form.
type Form uint8

// Forms understood by the encoder.
const (
	FormAddr        Form = 0x01
	FormData2       Form = 0x05
	FormData4       Form = 0x06
	FormData8       Form = 0x07
	FormString      Form = 0x08
	FormData1       Form = 0x0b
	FormSdata       Form = 0x0d
	FormUdata       Form = 0x0f
	FormRef4        Form = 0x13
	FormSecOffset   Form = 0x17
	FormExprloc     Form = 0x18
	FormFlagPresent Form = 0x19
)

// Attr is one attribute of a DIE. Ref4 values are *DIE.
type Attr struct {
	Attr  dwarf.Attr
	Form  Form
	Value any
}

// DIE is a debugging information entry.
type DIE struct {
	Tag      dwarf.Tag
	Attrs    []Attr
	Children []*DIE

	off uint32
}

// NewDIE returns an entry with attrs.
func NewDIE(tag dwarf.Tag, attrs ...Attr) *DIE {
	return &DIE{Tag: tag, Attrs: attrs}
}

// Add appends children and returns d.
func (d *DIE) Add(children ...*DIE) *DIE {
	d.Children = append(d.Children, children...)
	return d
}

// Name is an inline string name attribute.
func Name(s string) Attr { return Attr{dwarf.AttrName, FormString, s} }

// Str is an inline string attribute.
func Str(a dwarf.Attr, s string) Attr { return Attr{a, FormString, s} }

// Addr is an address attribute.
func Addr(a dwarf.Attr, v uint64) Attr { return Attr{a, FormAddr, v} }

// Data is a 4-byte constant attribute.
func Data(a dwarf.Attr, v uint32) Attr { return Attr{a, FormData4, v} }

// Sdata is a signed LEB128 constant attribute.
func Sdata(a dwarf.Attr, v int64) Attr { return Attr{a, FormSdata, v} }

// Ref is a unit-relative reference to target.
func Ref(a dwarf.Attr, target *DIE) Attr { return Attr{a, FormRef4, target} }

// Flag is a present flag attribute.
func Flag(a dwarf.Attr) Attr { return Attr{a, FormFlagPresent, nil} }

// Expr is an expression location attribute.
func Expr(a dwarf.Attr, expr ...byte) Attr { return Attr{a, FormExprloc, expr} }

// Range returns low_pc and a high_pc length.
func Range(low, size uint64) []Attr {
	return []Attr{Addr(dwarf.AttrLowpc, low), Data(dwarf.AttrHighpc, uint32(size))}
}

// Row is one line-table row. End closes the current sequence.
type Row struct {
	Addr   uint64
	File   int
	Line   int
	Column int
	End    bool
}

// LineProgram is a DWARF 4 line program. File indices are 1-based.
type LineProgram struct {
	Files []string
	Rows  []Row
}

// Sections holds encoded section contents.
type Sections struct {
	Abbrev []byte
	Info   []byte
	Line   []byte
}

// Data parses the sections with debug/dwarf.
func (s Sections) Data() (*dwarf.Data, error) {
	return dwarf.New(s.Abbrev, nil, nil, s.Info, s.Line, nil, nil, nil)
}

// Unit pairs a compile unit DIE with its line program.
type Unit struct {
	CU    *DIE
	Lines *LineProgram
}

// Encode encodes units. A stmt_list attribute is added to each CU that
// has a line program.
func Encode(units ...Unit) Sections {
	var s Sections
	for _, u := range units {
		if u.Lines != nil {
			u.CU.Attrs = append(u.CU.Attrs, Attr{dwarf.AttrStmtList, FormSecOffset, uint32(len(s.Line))})
			s.Line = append(s.Line, u.Lines.encode()...)
		}
		abbrevOff := uint32(len(s.Abbrev))
		e := &encoder{}
		e.die(u.CU)
		e.patch()
		s.Abbrev = append(s.Abbrev, e.abbrev...)
		s.Abbrev = append(s.Abbrev, 0)

		hdr := make([]byte, 11)
		binary.LittleEndian.PutUint32(hdr[0:], uint32(7+len(e.info)))
		binary.LittleEndian.PutUint16(hdr[4:], 4)
		binary.LittleEndian.PutUint32(hdr[6:], abbrevOff)
		hdr[10] = 8
		s.Info = append(s.Info, hdr...)
		s.Info = append(s.Info, e.info...)
	}
	return s
}

const unitHeaderSize = 11

type fixup struct {
	pos    int
	target *DIE
}

type encoder struct {
	abbrev []byte
	info   []byte
	code   uint64
	fixups []fixup
}

func (e *encoder) die(d *DIE) {
	e.code++
	d.off = uint32(unitHeaderSize + len(e.info))
	e.abbrev = bytestream.AppendULEB128(e.abbrev, e.code)
	e.abbrev = bytestream.AppendULEB128(e.abbrev, uint64(d.Tag))
	if len(d.Children) > 0 {
		e.abbrev = append(e.abbrev, 1)
	} else {
		e.abbrev = append(e.abbrev, 0)
	}
	e.info = bytestream.AppendULEB128(e.info, e.code)
	for _, a := range d.Attrs {
		e.abbrev = bytestream.AppendULEB128(e.abbrev, uint64(a.Attr))
		e.abbrev = bytestream.AppendULEB128(e.abbrev, uint64(a.Form))
		e.value(a)
	}
	e.abbrev = append(e.abbrev, 0, 0)
	if len(d.Children) > 0 {
		for _, c := range d.Children {
			e.die(c)
		}
		e.info = append(e.info, 0)
	}
}

func (e *encoder) value(a Attr) {
	le := binary.LittleEndian
	switch a.Form {
	case FormAddr, FormData8:
		e.info = le.AppendUint64(e.info, a.Value.(uint64))
	case FormData4, FormSecOffset:
		e.info = le.AppendUint32(e.info, a.Value.(uint32))
	case FormData2:
		e.info = le.AppendUint16(e.info, a.Value.(uint16))
	case FormData1:
		e.info = append(e.info, a.Value.(uint8))
	case FormString:
		e.info = append(e.info, a.Value.(string)...)
		e.info = append(e.info, 0)
	case FormSdata:
		e.info = bytestream.AppendSLEB128(e.info, a.Value.(int64))
	case FormUdata:
		e.info = bytestream.AppendULEB128(e.info, a.Value.(uint64))
	case FormRef4:
		e.fixups = append(e.fixups, fixup{pos: len(e.info), target: a.Value.(*DIE)})
		e.info = append(e.info, 0, 0, 0, 0)
	case FormExprloc:
		expr := a.Value.([]byte)
		e.info = bytestream.AppendULEB128(e.info, uint64(len(expr)))
		e.info = append(e.info, expr...)
	case FormFlagPresent:
	default:
		panic("dwarftest: unsupported form")
	}
}

func (e *encoder) patch() {
	for _, f := range e.fixups {
		binary.LittleEndian.PutUint32(e.info[f.pos:], f.target.off)
	}
}

// Line program opcodes.
const (
	lnsCopy         = 0x01
	lnsAdvancePC    = 0x02
	lnsAdvanceLine  = 0x03
	lnsSetFile      = 0x04
	lnsSetColumn    = 0x05
	lneEndSequence  = 0x01
	lneSetAddress   = 0x02
	lineOpcodeBase  = 13
	lineHeaderAfter = 2 + 4 // version and header_length
)

func (lp *LineProgram) encode() []byte {
	var hdr []byte
	hdr = append(hdr, 1, 1, 1)        // min_inst_length, max_ops, default_is_stmt
	hdr = append(hdr, 0xfb, 14)       // line_base -5, line_range
	hdr = append(hdr, lineOpcodeBase) // opcode_base
	hdr = append(hdr, 0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1)
	hdr = append(hdr, 0) // no include directories
	for _, f := range lp.Files {
		hdr = append(hdr, f...)
		hdr = append(hdr, 0, 0, 0, 0)
	}
	hdr = append(hdr, 0)

	var prog []byte
	addr, file, line, col, inSeq := uint64(0), 1, 1, 0, false
	for _, r := range lp.Rows {
		if !inSeq {
			prog = append(prog, 0, 9, lneSetAddress)
			prog = binary.LittleEndian.AppendUint64(prog, r.Addr)
			addr, file, line, col, inSeq = r.Addr, 1, 1, 0, true
		}
		if r.Addr != addr {
			prog = append(prog, lnsAdvancePC)
			prog = bytestream.AppendULEB128(prog, r.Addr-addr)
			addr = r.Addr
		}
		if r.End {
			prog = append(prog, 0, 1, lneEndSequence)
			inSeq = false
			continue
		}
		if r.File != file {
			prog = append(prog, lnsSetFile)
			prog = bytestream.AppendULEB128(prog, uint64(r.File))
			file = r.File
		}
		if r.Line != line {
			prog = append(prog, lnsAdvanceLine)
			prog = bytestream.AppendSLEB128(prog, int64(r.Line-line))
			line = r.Line
		}
		if r.Column != col {
			prog = append(prog, lnsSetColumn)
			prog = bytestream.AppendULEB128(prog, uint64(r.Column))
			col = r.Column
		}
		prog = append(prog, lnsCopy)
	}

	out := binary.LittleEndian.AppendUint32(nil, uint32(lineHeaderAfter+len(hdr)+len(prog)))
	out = binary.LittleEndian.AppendUint16(out, 4)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(hdr)))
	out = append(out, hdr...)
	return append(out, prog...)
}
