// Package pdb reads Microsoft PDB files: modules, procedures, locals,
// inline sites, line tables, global symbols, sections and frame data.
package pdb

import "github.com/jtang613/gosyms/pkg/pdb/codeview"

// Info contains basic PDB file information.
type Info struct {
	GUID         string            `json:"guid"`
	Age          uint32            `json:"age"`
	Signature    uint32            `json:"signature"`
	Version      uint32            `json:"version"`
	Machine      string            `json:"machine"`
	Streams      int               `json:"streams"`
	Modules      int               `json:"modules"`
	Types        int               `json:"types"`
	HashedTypes  bool              `json:"hashed_types"`
	NamedStreams map[string]uint32 `json:"named_streams,omitempty"`
}

// Module is one compiland of the DBI module table.
type Module struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	ObjectFile   string `json:"object_file"`
	SymbolStream uint16 `json:"symbol_stream"`
	SymbolSize   uint32 `json:"symbol_size"`
	C11Size      uint32 `json:"c11_size,omitempty"`
	C13Size      uint32 `json:"c13_size,omitempty"`
	SourceFiles  uint16 `json:"source_files"`
	Section      uint16 `json:"section"`
	RVA          uint32 `json:"rva"`
	Size         uint32 `json:"size"`
}

// Section is a PE section as recorded in the section header debug stream.
type Section struct {
	Index           uint16 `json:"index"` // 1-based
	Name            string `json:"name,omitempty"`
	RVA             uint32 `json:"rva"`
	Size            uint32 `json:"size"`
	Characteristics uint32 `json:"characteristics"`
}

// Proc is a procedure found in a module symbol stream.
type Proc struct {
	Module int    `json:"module"`
	Name   string `json:"name"`
	// SymOffset is the position of the procedure record in the module
	// stream and identifies the procedure within its module.
	SymOffset  uint32             `json:"sym_offset"`
	End        uint32             `json:"-"`
	Section    uint16             `json:"section"`
	Offset     uint32             `json:"offset"`
	RVA        uint32             `json:"rva"`
	Length     uint32             `json:"length"`
	DebugStart uint32             `json:"debug_start"`
	DebugEnd   uint32             `json:"debug_end"`
	Type       codeview.TypeIndex `json:"type"`
	// ID is the IPI function id of procedures recorded with an _ID kind.
	ID     codeview.TypeIndex `json:"id,omitempty"`
	Global bool               `json:"global"`
	Flags  uint8              `json:"flags"`
	// Parent is the SymOffset of the enclosing procedure, zero at top
	// level; Depth counts the enclosing procedures.
	Parent uint32 `json:"parent,omitempty"`
	Depth  int    `json:"depth,omitempty"`
}

// Contains reports whether rva lies in the procedure's code.
func (p Proc) Contains(rva uint32) bool {
	return rva >= p.RVA && rva-p.RVA < p.Length
}

// GlobalKind classifies records of the global symbol stream.
type GlobalKind uint8

// Global symbol kinds.
const (
	GlobalData GlobalKind = iota
	GlobalThreadData
	GlobalConstant
	GlobalUDT
	GlobalPublic
	GlobalProcRef
)

func (k GlobalKind) String() string {
	switch k {
	case GlobalData:
		return "data"
	case GlobalThreadData:
		return "tls"
	case GlobalConstant:
		return "const"
	case GlobalUDT:
		return "udt"
	case GlobalPublic:
		return "public"
	case GlobalProcRef:
		return "procref"
	}
	return "unknown"
}

// Global is one record of the global symbol stream.
type Global struct {
	Kind      GlobalKind         `json:"kind"`
	Name      string             `json:"name"`
	Demangled string             `json:"demangled,omitempty"`
	Section   uint16             `json:"section,omitempty"`
	Offset    uint32             `json:"offset,omitempty"`
	RVA       uint32             `json:"rva,omitempty"`
	Type      codeview.TypeIndex `json:"type,omitempty"`
	// Value holds the value of constants.
	Value codeview.Numeric `json:"-"`
	// Module and SymOffset locate the target of a procedure reference.
	Module    int    `json:"module,omitempty"`
	SymOffset uint32 `json:"sym_offset,omitempty"`
	// External is false for file-static data, local procedures and
	// non-global publics.
	External bool   `json:"external"`
	Flags    uint32 `json:"flags,omitempty"`
}

// SourceFile is one file referenced by a module's line table.
type SourceFile struct {
	Name         string `json:"name"`
	ChecksumKind uint8  `json:"checksum_kind,omitempty"`
	Checksum     []byte `json:"checksum,omitempty"`
}

// Line maps the code at RVA to a source position. File indexes the
// module's SourceFile list. An End line closes the preceding sequence and
// carries no position.
type Line struct {
	RVA       uint32 `json:"rva"`
	Section   uint16 `json:"section"`
	Offset    uint32 `json:"offset"`
	File      int    `json:"file"`
	Line      uint32 `json:"line"`
	Column    uint16 `json:"column,omitempty"`
	Statement bool   `json:"statement,omitempty"`
	End       bool   `json:"end,omitempty"`
}

// TypeInfo is a normalized type with its members resolved to names.
type TypeInfo struct {
	Index     codeview.TypeIndex `json:"index"`
	Kind      string             `json:"kind"`
	Name      string             `json:"name"`
	Size      uint64             `json:"size,omitempty"`
	Signature string             `json:"signature"`
	File      string             `json:"file,omitempty"`
	Line      uint32             `json:"line,omitempty"`
	Members   []Member           `json:"members,omitempty"`
}

// Member is a field, base, method or enumerator of an aggregate.
type Member struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	TypeName string `json:"type_name,omitempty"`
	Offset   uint64 `json:"offset"`
	Value    int64  `json:"value,omitempty"`
}
