// Package codeview decodes CodeView type leaves, symbol records, binary
// annotations and line subsections as stored in PDB streams.
package codeview

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Symbol type constants (S_* values, 32-bit forms).
const (
	S_END       = 0x0006
	S_SKIP      = 0x0007
	S_ENDARG    = 0x000a
	S_RETURN    = 0x000d
	S_ENTRYTHIS = 0x000e

	S_FRAMEPROC  = 0x1012
	S_ANNOTATION = 0x1019

	S_OBJNAME   = 0x1101
	S_THUNK32   = 0x1102
	S_BLOCK32   = 0x1103
	S_WITH32    = 0x1104
	S_LABEL32   = 0x1105
	S_REGISTER  = 0x1106
	S_CONSTANT  = 0x1107
	S_UDT       = 0x1108
	S_MANYREG   = 0x110a
	S_BPREL32   = 0x110b
	S_LDATA32   = 0x110c
	S_GDATA32   = 0x110d
	S_PUB32     = 0x110e
	S_LPROC32   = 0x110f
	S_GPROC32   = 0x1110
	S_REGREL32  = 0x1111
	S_LTHREAD32 = 0x1112
	S_GTHREAD32 = 0x1113
	S_LPROCMIPS = 0x1114
	S_GPROCMIPS = 0x1115
	S_COMPILE2  = 0x1116
	S_LPROCIA64 = 0x1118
	S_GPROCIA64 = 0x1119
	S_LMANDATA  = 0x111c
	S_GMANDATA  = 0x111d

	S_UNAMESPACE = 0x1124
	S_PROCREF    = 0x1125
	S_DATAREF    = 0x1126
	S_LPROCREF   = 0x1127
	S_GMANPROC   = 0x112a
	S_LMANPROC   = 0x112b
	S_TRAMPOLINE = 0x112c

	S_SEPCODE      = 0x1132
	S_SECTION      = 0x1136
	S_COFFGROUP    = 0x1137
	S_EXPORT       = 0x1138
	S_CALLSITEINFO = 0x1139
	S_FRAMECOOKIE  = 0x113a
	S_COMPILE3     = 0x113c
	S_ENVBLOCK     = 0x113d

	S_LOCAL                                = 0x113e
	S_DEFRANGE                             = 0x113f
	S_DEFRANGE_SUBFIELD                    = 0x1140
	S_DEFRANGE_REGISTER                    = 0x1141
	S_DEFRANGE_FRAMEPOINTER_REL            = 0x1142
	S_DEFRANGE_SUBFIELD_REGISTER           = 0x1143
	S_DEFRANGE_FRAMEPOINTER_REL_FULL_SCOPE = 0x1144
	S_DEFRANGE_REGISTER_REL                = 0x1145

	S_LPROC32_ID     = 0x1146
	S_GPROC32_ID     = 0x1147
	S_LPROCMIPS_ID   = 0x1148
	S_GPROCMIPS_ID   = 0x1149
	S_LPROCIA64_ID   = 0x114a
	S_GPROCIA64_ID   = 0x114b
	S_BUILDINFO      = 0x114c
	S_INLINESITE     = 0x114d
	S_INLINESITE_END = 0x114e
	S_PROC_ID_END    = 0x114f

	S_FILESTATIC     = 0x1153
	S_LPROC32_DPC    = 0x1155
	S_LPROC32_DPC_ID = 0x1156
	S_CALLEES        = 0x115a
	S_CALLERS        = 0x115b
	S_INLINESITE2    = 0x115d
	S_HEAPALLOCSITE  = 0x115e
	S_INLINEES       = 0x1168
)

// CVSignatureC13 starts every module symbol substream written by VC 7.0
// and later.
const CVSignatureC13 = 4

// Procedure flags (S_*PROC32 flags byte).
const (
	ProcNoFPO      = 0x01
	ProcInterrupt  = 0x02
	ProcFar        = 0x04
	ProcNever      = 0x08
	ProcNotReached = 0x10
	ProcCustomCall = 0x20
	ProcNoInline   = 0x40
	ProcOptDbgInfo = 0x80
)

// Local variable flags (S_LOCAL).
const (
	LocalIsParam        = 0x0001
	LocalAddrTaken      = 0x0002
	LocalCompGenerated  = 0x0004
	LocalIsAggregate    = 0x0008
	LocalIsAggregated   = 0x0010
	LocalIsAliased      = 0x0020
	LocalIsAlias        = 0x0040
	LocalIsReturnValue  = 0x0080
	LocalIsOptimizedOut = 0x0100
	LocalIsEnregGlobal  = 0x0200
	LocalIsEnregStatic  = 0x0400
)

// S_FRAMEPROC flags relevant to unwinding.
const (
	FrameHasAlloca      = 0x00000001
	FrameHasSetJmp      = 0x00000002
	FrameHasLongJmp     = 0x00000004
	FrameHasInlAsm      = 0x00000008
	FrameHasEH          = 0x00000010
	FrameInlSpec        = 0x00000020
	FrameHasSEH         = 0x00000040
	FrameNaked          = 0x00000080
	FrameAsyncEH        = 0x00000200
	FrameGSNoStackOrder = 0x00000400
)

// SymbolRecord is one raw symbol. Offset is the position of the record's
// length field within its stream, which is what parent and end pointers
// refer to. Data excludes the length and kind fields.
type SymbolRecord struct {
	Offset uint32
	Kind   uint16
	Data   []byte
}

// End returns the stream offset of the following record.
func (r SymbolRecord) End() uint32 {
	return r.Offset + 4 + uint32(len(r.Data))
}

// SymbolIterator walks length-prefixed symbol records. Records are
// returned regardless of kind so callers can skip what they do not model.
type SymbolIterator struct {
	data []byte
	base uint32
	off  int
	cur  SymbolRecord
	err  error
}

// NewSymbolIterator iterates data, whose first byte sits at stream offset
// base.
func NewSymbolIterator(data []byte, base uint32) *SymbolIterator {
	return &SymbolIterator{data: data, base: base}
}

// Next advances to the next record.
func (it *SymbolIterator) Next() bool {
	if it.err != nil || it.off+4 > len(it.data) {
		return false
	}
	recLen := int(binary.LittleEndian.Uint16(it.data[it.off:]))
	if recLen < 2 || it.off+2+recLen > len(it.data) {
		it.err = errors.Wrapf(ErrMalformedRecord, "symbol at 0x%x: length %d overruns stream", it.base+uint32(it.off), recLen)
		return false
	}
	it.cur = SymbolRecord{
		Offset: it.base + uint32(it.off),
		Kind:   binary.LittleEndian.Uint16(it.data[it.off+2:]),
		Data:   it.data[it.off+4 : it.off+2+recLen],
	}
	it.off += 2 + recLen
	return true
}

// Record returns the current record.
func (it *SymbolIterator) Record() SymbolRecord { return it.cur }

// Seek positions the iterator so the next record read is the one at stream
// offset off.
func (it *SymbolIterator) Seek(off uint32) error {
	if off < it.base || int(off-it.base) > len(it.data) {
		return errors.Wrapf(ErrMalformedRecord, "symbol offset 0x%x outside [0x%x, 0x%x]", off, it.base, it.base+uint32(len(it.data)))
	}
	it.off = int(off - it.base)
	it.err = nil
	return nil
}

// Err returns the error that stopped iteration, if any.
func (it *SymbolIterator) Err() error { return it.err }

// ProcSym represents a procedure symbol (S_GPROC32, S_LPROC32 and the _ID forms).
type ProcSym struct {
	Parent    uint32
	End       uint32
	Next      uint32
	Length    uint32
	DbgStart  uint32
	DbgEnd    uint32
	TypeIndex TypeIndex
	Offset    uint32
	Segment   uint16
	Flags     uint8
	Name      string
}

// DataSym represents a data symbol (S_GDATA32, S_LDATA32, S_GTHREAD32, S_LTHREAD32).
type DataSym struct {
	TypeIndex TypeIndex
	Offset    uint32
	Segment   uint16
	Name      string
}

// UDTSym represents a user-defined type symbol (S_UDT).
type UDTSym struct {
	TypeIndex TypeIndex
	Name      string
}

// PubSym represents a public symbol (S_PUB32).
type PubSym struct {
	Flags   uint32
	Offset  uint32
	Segment uint16
	Name    string
}

// Public symbol flags.
const (
	PubCode     = 0x1
	PubFunction = 0x2
	PubManaged  = 0x4
	PubMSIL     = 0x8
)

// ConstantSym represents a constant symbol (S_CONSTANT).
type ConstantSym struct {
	TypeIndex TypeIndex
	Value     Numeric
	Name      string
}

// ProcRefSym references a procedure in a module stream (S_PROCREF, S_LPROCREF, S_DATAREF).
type ProcRefSym struct {
	SumName   uint32
	SymOffset uint32
	// Module is the one-based module index.
	Module uint16
	Name   string
}

// BlockSym opens a lexical block (S_BLOCK32).
type BlockSym struct {
	Parent  uint32
	End     uint32
	Length  uint32
	Offset  uint32
	Segment uint16
	Name    string
}

// RegRelSym is a register-relative variable (S_REGREL32).
type RegRelSym struct {
	Offset    int32
	TypeIndex TypeIndex
	Register  uint16
	Name      string
}

// BPRelSym is a frame-pointer-relative variable (S_BPREL32).
type BPRelSym struct {
	Offset    int32
	TypeIndex TypeIndex
	Name      string
}

// RegisterSym is an enregistered variable (S_REGISTER).
type RegisterSym struct {
	TypeIndex TypeIndex
	Register  uint16
	Name      string
}

// LocalSym declares a variable whose locations follow in S_DEFRANGE_* records (S_LOCAL).
type LocalSym struct {
	TypeIndex TypeIndex
	Flags     uint16
	Name      string
}

// AddrRange is a section-relative code range used by defrange records.
type AddrRange struct {
	Offset  uint32
	Section uint16
	Length  uint16
}

// AddrGap is a hole in an AddrRange, relative to the range start.
type AddrGap struct {
	Start  uint16
	Length uint16
}

// DefRangeSym is one location of an S_LOCAL (S_DEFRANGE_*).
type DefRangeSym struct {
	Kind     uint16
	Register uint16
	// Offset is the frame or register offset for relative forms.
	Offset int32
	// ParentOffset is the offset within the enclosing variable for
	// subfield forms.
	ParentOffset uint32
	Flags        uint16
	// FullScope ranges are valid for the whole enclosing procedure.
	FullScope bool
	Range     AddrRange
	Gaps      []AddrGap
}

// FrameProcSym describes a procedure's frame (S_FRAMEPROC).
type FrameProcSym struct {
	FrameSize        uint32
	PadSize          uint32
	PadOffset        uint32
	CalleeSaveSize   uint32
	ExHandlerOffset  uint32
	ExHandlerSection uint16
	Flags            uint32
}

// InlineSiteSym opens an inlined call site (S_INLINESITE, S_INLINESITE2).
type InlineSiteSym struct {
	Parent      uint32
	End         uint32
	Inlinee     TypeIndex
	Invocations uint32
	Annotations []byte
}

// ObjNameSym names the object file of a module (S_OBJNAME).
type ObjNameSym struct {
	Signature uint32
	Name      string
}

// ParseProcSym parses a procedure symbol record.
func ParseProcSym(sym SymbolRecord) (ProcSym, error) {
	r := newSymReader(sym)
	p := ProcSym{
		Parent:    r.u32(),
		End:       r.u32(),
		Next:      r.u32(),
		Length:    r.u32(),
		DbgStart:  r.u32(),
		DbgEnd:    r.u32(),
		TypeIndex: r.ti(),
		Offset:    r.u32(),
		Segment:   r.u16(),
		Flags:     r.u8(),
	}
	p.Name = r.cstring()
	if r.err != nil {
		return ProcSym{}, r.fail()
	}
	return p, nil
}

// ParseDataSym parses a data symbol record.
func ParseDataSym(sym SymbolRecord) (DataSym, error) {
	r := newSymReader(sym)
	d := DataSym{TypeIndex: r.ti(), Offset: r.u32(), Segment: r.u16()}
	d.Name = r.cstring()
	if r.err != nil {
		return DataSym{}, r.fail()
	}
	return d, nil
}

// ParseUDTSym parses a UDT symbol record.
func ParseUDTSym(sym SymbolRecord) (UDTSym, error) {
	r := newSymReader(sym)
	u := UDTSym{TypeIndex: r.ti()}
	u.Name = r.cstring()
	if r.err != nil {
		return UDTSym{}, r.fail()
	}
	return u, nil
}

// ParsePubSym parses a public symbol record.
func ParsePubSym(sym SymbolRecord) (PubSym, error) {
	r := newSymReader(sym)
	p := PubSym{Flags: r.u32(), Offset: r.u32(), Segment: r.u16()}
	p.Name = r.cstring()
	if r.err != nil {
		return PubSym{}, r.fail()
	}
	return p, nil
}

// ParseConstantSym parses a constant symbol record.
func ParseConstantSym(sym SymbolRecord) (ConstantSym, error) {
	r := newSymReader(sym)
	c := ConstantSym{TypeIndex: r.ti()}
	c.Value = r.numeric()
	c.Name = r.cstring()
	if r.err != nil {
		return ConstantSym{}, r.fail()
	}
	return c, nil
}

// ParseProcRefSym parses S_PROCREF, S_LPROCREF and S_DATAREF.
func ParseProcRefSym(sym SymbolRecord) (ProcRefSym, error) {
	r := newSymReader(sym)
	p := ProcRefSym{SumName: r.u32(), SymOffset: r.u32(), Module: r.u16()}
	p.Name = r.cstring()
	if r.err != nil {
		return ProcRefSym{}, r.fail()
	}
	return p, nil
}

// ParseBlockSym parses S_BLOCK32.
func ParseBlockSym(sym SymbolRecord) (BlockSym, error) {
	r := newSymReader(sym)
	b := BlockSym{Parent: r.u32(), End: r.u32(), Length: r.u32(), Offset: r.u32(), Segment: r.u16()}
	b.Name = r.cstring()
	if r.err != nil {
		return BlockSym{}, r.fail()
	}
	return b, nil
}

// ParseRegRelSym parses S_REGREL32.
func ParseRegRelSym(sym SymbolRecord) (RegRelSym, error) {
	r := newSymReader(sym)
	v := RegRelSym{Offset: int32(r.u32()), TypeIndex: r.ti(), Register: r.u16()}
	v.Name = r.cstring()
	if r.err != nil {
		return RegRelSym{}, r.fail()
	}
	return v, nil
}

// ParseBPRelSym parses S_BPREL32.
func ParseBPRelSym(sym SymbolRecord) (BPRelSym, error) {
	r := newSymReader(sym)
	v := BPRelSym{Offset: int32(r.u32()), TypeIndex: r.ti()}
	v.Name = r.cstring()
	if r.err != nil {
		return BPRelSym{}, r.fail()
	}
	return v, nil
}

// ParseRegisterSym parses S_REGISTER.
func ParseRegisterSym(sym SymbolRecord) (RegisterSym, error) {
	r := newSymReader(sym)
	v := RegisterSym{TypeIndex: r.ti(), Register: r.u16()}
	v.Name = r.cstring()
	if r.err != nil {
		return RegisterSym{}, r.fail()
	}
	return v, nil
}

// ParseLocalSym parses S_LOCAL.
func ParseLocalSym(sym SymbolRecord) (LocalSym, error) {
	r := newSymReader(sym)
	v := LocalSym{TypeIndex: r.ti(), Flags: r.u16()}
	v.Name = r.cstring()
	if r.err != nil {
		return LocalSym{}, r.fail()
	}
	return v, nil
}

// ParseDefRangeSym parses the S_DEFRANGE_* records that follow an S_LOCAL.
func ParseDefRangeSym(sym SymbolRecord) (DefRangeSym, error) {
	r := newSymReader(sym)
	d := DefRangeSym{Kind: sym.Kind}
	switch sym.Kind {
	case S_DEFRANGE_REGISTER:
		d.Register = r.u16()
		d.Flags = r.u16()
	case S_DEFRANGE_FRAMEPOINTER_REL:
		d.Offset = int32(r.u32())
	case S_DEFRANGE_SUBFIELD_REGISTER:
		d.Register = r.u16()
		d.Flags = r.u16()
		d.ParentOffset = r.u32() & 0xfff
	case S_DEFRANGE_FRAMEPOINTER_REL_FULL_SCOPE:
		d.Offset = int32(r.u32())
		d.FullScope = true
	case S_DEFRANGE_REGISTER_REL:
		d.Register = r.u16()
		d.Flags = r.u16()
		d.Offset = int32(r.u32())
		d.ParentOffset = uint32(d.Flags >> 4)
	default:
		return DefRangeSym{}, errors.Wrapf(ErrUnsupportedRecordKind, "%s at 0x%x", SymbolKindName(sym.Kind), sym.Offset)
	}
	if !d.FullScope {
		d.Range = AddrRange{Offset: r.u32(), Section: r.u16(), Length: r.u16()}
		for r.err == nil && r.s.Remaining() >= 4 {
			d.Gaps = append(d.Gaps, AddrGap{Start: r.u16(), Length: r.u16()})
		}
	}
	if r.err != nil {
		return DefRangeSym{}, r.fail()
	}
	return d, nil
}

// ParseFrameProcSym parses S_FRAMEPROC.
func ParseFrameProcSym(sym SymbolRecord) (FrameProcSym, error) {
	r := newSymReader(sym)
	f := FrameProcSym{
		FrameSize:        r.u32(),
		PadSize:          r.u32(),
		PadOffset:        r.u32(),
		CalleeSaveSize:   r.u32(),
		ExHandlerOffset:  r.u32(),
		ExHandlerSection: r.u16(),
		Flags:            r.u32(),
	}
	if r.err != nil {
		return FrameProcSym{}, r.fail()
	}
	return f, nil
}

// ParseInlineSiteSym parses S_INLINESITE and S_INLINESITE2.
func ParseInlineSiteSym(sym SymbolRecord) (InlineSiteSym, error) {
	r := newSymReader(sym)
	s := InlineSiteSym{Parent: r.u32(), End: r.u32(), Inlinee: r.ti()}
	if sym.Kind == S_INLINESITE2 {
		s.Invocations = r.u32()
	}
	if r.err != nil {
		return InlineSiteSym{}, r.fail()
	}
	rest := r.s.Rest()
	s.Annotations, _ = rest.ReadAll()
	return s, nil
}

// ParseObjNameSym parses S_OBJNAME.
func ParseObjNameSym(sym SymbolRecord) (ObjNameSym, error) {
	r := newSymReader(sym)
	o := ObjNameSym{Signature: r.u32()}
	o.Name = r.cstring()
	if r.err != nil {
		return ObjNameSym{}, r.fail()
	}
	return o, nil
}

// SymbolKindName returns the name for a symbol kind constant.
func SymbolKindName(kind uint16) string {
	switch kind {
	case S_END:
		return "S_END"
	case S_FRAMEPROC:
		return "S_FRAMEPROC"
	case S_OBJNAME:
		return "S_OBJNAME"
	case S_THUNK32:
		return "S_THUNK32"
	case S_BLOCK32:
		return "S_BLOCK32"
	case S_LABEL32:
		return "S_LABEL32"
	case S_REGISTER:
		return "S_REGISTER"
	case S_CONSTANT:
		return "S_CONSTANT"
	case S_UDT:
		return "S_UDT"
	case S_BPREL32:
		return "S_BPREL32"
	case S_LDATA32:
		return "S_LDATA32"
	case S_GDATA32:
		return "S_GDATA32"
	case S_PUB32:
		return "S_PUB32"
	case S_LPROC32:
		return "S_LPROC32"
	case S_GPROC32:
		return "S_GPROC32"
	case S_REGREL32:
		return "S_REGREL32"
	case S_LTHREAD32:
		return "S_LTHREAD32"
	case S_GTHREAD32:
		return "S_GTHREAD32"
	case S_COMPILE2:
		return "S_COMPILE2"
	case S_UNAMESPACE:
		return "S_UNAMESPACE"
	case S_PROCREF:
		return "S_PROCREF"
	case S_DATAREF:
		return "S_DATAREF"
	case S_LPROCREF:
		return "S_LPROCREF"
	case S_SECTION:
		return "S_SECTION"
	case S_COFFGROUP:
		return "S_COFFGROUP"
	case S_CALLSITEINFO:
		return "S_CALLSITEINFO"
	case S_FRAMECOOKIE:
		return "S_FRAMECOOKIE"
	case S_COMPILE3:
		return "S_COMPILE3"
	case S_ENVBLOCK:
		return "S_ENVBLOCK"
	case S_LOCAL:
		return "S_LOCAL"
	case S_DEFRANGE_REGISTER:
		return "S_DEFRANGE_REGISTER"
	case S_DEFRANGE_FRAMEPOINTER_REL:
		return "S_DEFRANGE_FRAMEPOINTER_REL"
	case S_DEFRANGE_SUBFIELD_REGISTER:
		return "S_DEFRANGE_SUBFIELD_REGISTER"
	case S_DEFRANGE_FRAMEPOINTER_REL_FULL_SCOPE:
		return "S_DEFRANGE_FRAMEPOINTER_REL_FULL_SCOPE"
	case S_DEFRANGE_REGISTER_REL:
		return "S_DEFRANGE_REGISTER_REL"
	case S_LPROC32_ID:
		return "S_LPROC32_ID"
	case S_GPROC32_ID:
		return "S_GPROC32_ID"
	case S_BUILDINFO:
		return "S_BUILDINFO"
	case S_INLINESITE:
		return "S_INLINESITE"
	case S_INLINESITE2:
		return "S_INLINESITE2"
	case S_INLINESITE_END:
		return "S_INLINESITE_END"
	case S_PROC_ID_END:
		return "S_PROC_ID_END"
	case S_HEAPALLOCSITE:
		return "S_HEAPALLOCSITE"
	default:
		return fmt.Sprintf("S_0x%04x", kind)
	}
}

// IsProcSymbol returns true if the kind is a procedure symbol.
func IsProcSymbol(kind uint16) bool {
	switch kind {
	case S_GPROC32, S_LPROC32, S_GPROC32_ID, S_LPROC32_ID,
		S_GPROCIA64, S_LPROCIA64, S_GPROCIA64_ID, S_LPROCIA64_ID,
		S_GPROCMIPS, S_LPROCMIPS, S_GPROCMIPS_ID, S_LPROCMIPS_ID,
		S_LPROC32_DPC, S_LPROC32_DPC_ID:
		return true
	}
	return false
}

// IsDataSymbol returns true if the kind is a data symbol.
func IsDataSymbol(kind uint16) bool {
	switch kind {
	case S_GDATA32, S_LDATA32, S_GMANDATA, S_LMANDATA, S_GTHREAD32, S_LTHREAD32:
		return true
	}
	return false
}

// IsGlobalSymbol returns true if the symbol has global linkage.
func IsGlobalSymbol(kind uint16) bool {
	switch kind {
	case S_GPROC32, S_GPROC32_ID, S_GPROCIA64, S_GPROCMIPS,
		S_GMANPROC, S_GDATA32, S_GMANDATA, S_GTHREAD32, S_PUB32:
		return true
	}
	return false
}

// OpensScope reports whether the record is closed by a later end record.
func OpensScope(kind uint16) bool {
	switch kind {
	case S_BLOCK32, S_THUNK32, S_WITH32, S_SEPCODE, S_INLINESITE, S_INLINESITE2,
		S_GMANPROC, S_LMANPROC:
		return true
	}
	return IsProcSymbol(kind)
}

// ClosesScope reports whether the record ends the innermost open scope.
func ClosesScope(kind uint16) bool {
	switch kind {
	case S_END, S_PROC_ID_END, S_INLINESITE_END:
		return true
	}
	return false
}
