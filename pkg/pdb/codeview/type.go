package codeview

import (
	"github.com/jtang613/gosyms/pkg/bytestream"
	"github.com/pkg/errors"
)

// ErrMalformedRecord is returned when a record's payload does not match its
// leaf layout or a resolution chain does not terminate.
var ErrMalformedRecord = errors.New("codeview: malformed record")

// TypeSource resolves type indices and names for one type stream.
type TypeSource interface {
	FindByIndex(ti TypeIndex) (Record, bool)
	FindByName(name string) (TypeIndex, bool)
}

// Kind classifies a normalized type.
type Kind uint8

// Type kinds.
const (
	KindNull Kind = iota
	KindVoid
	KindBool
	KindChar
	KindInt
	KindUInt
	KindFloat
	KindComplex
	KindPointer
	KindArray
	KindProc
	KindMethod
	KindStruct
	KindClass
	KindInterface
	KindUnion
	KindEnum
	KindBitfield
	KindArgList
	KindFieldList
	KindMethodList
	KindVTShape
	KindVFTable
	KindLabel
	KindFuncID
	KindMFuncID
	KindStringID
	KindSubstrList
	KindBuildInfo
	KindUDTSrcLine
)

var kindNames = [...]string{
	KindNull:       "null",
	KindVoid:       "void",
	KindBool:       "bool",
	KindChar:       "char",
	KindInt:        "int",
	KindUInt:       "uint",
	KindFloat:      "float",
	KindComplex:    "complex",
	KindPointer:    "pointer",
	KindArray:      "array",
	KindProc:       "proc",
	KindMethod:     "method",
	KindStruct:     "struct",
	KindClass:      "class",
	KindInterface:  "interface",
	KindUnion:      "union",
	KindEnum:       "enum",
	KindBitfield:   "bitfield",
	KindArgList:    "arglist",
	KindFieldList:  "fieldlist",
	KindMethodList: "methodlist",
	KindVTShape:    "vtshape",
	KindVFTable:    "vftable",
	KindLabel:      "label",
	KindFuncID:     "func_id",
	KindMFuncID:    "mfunc_id",
	KindStringID:   "string_id",
	KindSubstrList: "substr_list",
	KindBuildInfo:  "buildinfo",
	KindUDTSrcLine: "udt_src_line",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsUDT reports whether the kind is an aggregate with a field list.
func (k Kind) IsUDT() bool {
	switch k {
	case KindStruct, KindClass, KindInterface, KindUnion, KindEnum:
		return true
	}
	return false
}

// Modifiers is the set of qualifiers folded into a normalized type.
type Modifiers uint16

// Modifier bits.
const (
	ModConst Modifiers = 1 << iota
	ModVolatile
	ModUnaligned
	ModRestrict
	ModLRef
	ModRRef
	ModFwdRef
)

// Raw attribute bits.
const (
	cvModifierConst     = 0x1
	cvModifierVolatile  = 0x2
	cvModifierUnaligned = 0x4

	cvPtrFlat32    = 0x100
	cvPtrVolatile  = 0x200
	cvPtrConst     = 0x400
	cvPtrUnaligned = 0x800
	cvPtrRestrict  = 0x1000
	cvPtrLRef      = 0x400000
	cvPtrRRef      = 0x800000

	// PropFwdRef marks an incomplete aggregate declaration.
	PropFwdRef = 0x80
	// PropHasUniqueName marks an aggregate followed by a decorated name.
	PropHasUniqueName = 0x200
)

// Pointer kinds (low five bits of the pointer attributes).
const (
	PtrNear32 = 0x0a
	Ptr64     = 0x0c
)

// Pointer modes.
const (
	PtrModePointer    = 0
	PtrModeLRef       = 1
	PtrModeDataMember = 2
	PtrModeMemberFunc = 3
	PtrModeRRef       = 4
)

// maxResolveDepth caps modifier chains, forward reference hops and array
// dimension walks.
const maxResolveDepth = 64

// Type is a normalized type record. Aggregates carry the index of their
// field list rather than resolved members.
type Type struct {
	Index     TypeIndex
	Kind      Kind
	Size      uint64
	Name      string
	Modifiers Modifiers
	// Next is the pointee, array element, return type, bitfield base type,
	// enum underlying type or the signature of a function id.
	Next TypeIndex

	// Pointer
	PointerKind uint8
	PointerMode uint8
	PointerAttr uint32
	MemberClass TypeIndex

	// Array
	Count     uint64
	IndexType TypeIndex

	// Procedure and member function
	CallConv   uint8
	FuncAttr   uint8
	ArgList    TypeIndex
	ArgCount   uint16
	Class      TypeIndex
	This       TypeIndex
	ThisAdjust int32

	// Aggregates
	FieldList   TypeIndex
	MemberCount uint16
	Properties  uint16
	Derived     TypeIndex
	VShape      TypeIndex
	UniqueName  string

	// Bitfield
	BitLength   uint8
	BitPosition uint8

	// Id records. Scope is the enclosing scope of a function id or the
	// parent class of a member function id.
	Scope      TypeIndex
	SubstrList TypeIndex
	Args       []TypeIndex

	// UDT source lines
	SourceFile TypeIndex
	Line       uint32
	Module     uint16

	// VTShape descriptors, vftable method names, or raw field and method
	// list bytes.
	Data []byte
}

// Normalize resolves ti into a Type. Basic types below TypeIndexBegin are
// synthesised from the index bits. Modifiers are folded into the target
// type; forward references are replaced by the complete definition when
// src can find one by name.
func Normalize(src TypeSource, ti TypeIndex) (Type, error) {
	return normalize(src, ti, 0)
}

func normalize(src TypeSource, ti TypeIndex, depth int) (Type, error) {
	var mods Modifiers
	for ; depth < maxResolveDepth; depth++ {
		if ti < TypeIndexBegin {
			t, err := basicType(ti)
			t.Modifiers |= mods
			return t, err
		}
		rec, ok := src.FindByIndex(ti)
		if !ok {
			return Type{}, errors.Wrapf(ErrTypeIndexOutOfRange, "type index 0x%x", uint32(ti))
		}

		switch rec.Kind {
		case LF_MODIFIER:
			r := newLeafReader(rec)
			next := r.ti()
			attr := r.u16()
			if r.err != nil {
				return Type{}, r.fail()
			}
			if attr&cvModifierConst != 0 {
				mods |= ModConst
			}
			if attr&cvModifierVolatile != 0 {
				mods |= ModVolatile
			}
			if attr&cvModifierUnaligned != 0 {
				mods |= ModUnaligned
			}
			ti = next
			continue

		case LF_CLASS, LF_STRUCTURE, LF_INTERFACE, LF_UNION, LF_ENUM, LF_CLASS2, LF_STRUCTURE2, LF_UNION2, LF_INTERFACE2:
			t, err := decodeRecord(rec)
			if err != nil {
				return Type{}, err
			}
			if t.Properties&PropFwdRef == 0 {
				t.Modifiers |= mods
				return t, nil
			}
			full, found := src.FindByName(t.Name)
			if found && full != ti {
				ti = full
				continue
			}
			t.Modifiers |= mods | ModFwdRef
			if t.Kind == KindEnum {
				// An enum declared but never defined behaves as int.
				t.Next = T_INT4
				t.Size = 4
			}
			return t, nil
		}

		t, err := decodeRecord(rec)
		if err != nil {
			return Type{}, err
		}
		t.Modifiers |= mods
		if t.Kind == KindArray {
			if elem, err := sizeOf(src, t.Next, depth+1); err == nil && elem > 0 {
				t.Count = t.Size / elem
			}
		}
		return t, nil
	}
	return Type{}, errors.Wrapf(ErrMalformedRecord, "type 0x%x: resolution chain too deep", uint32(ti))
}

// sizeOf returns the byte size of ti without normalizing aggregates'
// members.
func sizeOf(src TypeSource, ti TypeIndex, depth int) (uint64, error) {
	if depth >= maxResolveDepth {
		return 0, errors.Wrap(ErrMalformedRecord, "size resolution too deep")
	}
	t, err := normalize(src, ti, depth)
	if err != nil {
		return 0, err
	}
	return t.Size, nil
}

func basicType(ti TypeIndex) (Type, error) {
	if !IsKnownBasicType(ti) {
		return Type{}, errors.Wrapf(ErrTypeIndexOutOfRange, "basic type 0x%x", uint32(ti))
	}
	info := basicTypes[BasicKind(ti)]
	t := Type{Index: ti, Name: BasicTypeName(ti)}
	if mode := BasicMode(ti); mode != TM_DIRECT {
		t.Kind = KindPointer
		t.Size = uint64(basicPointerSize(mode))
		t.Next = TypeIndex(BasicKind(ti))
		return t, nil
	}
	t.Kind = info.kind
	t.Size = uint64(info.size)
	return t, nil
}

// decodeRecord maps one leaf record to a Type without following links.
func decodeRecord(rec Record) (Type, error) {
	t := Type{Index: rec.Index}
	r := newLeafReader(rec)

	switch rec.Kind {
	case LF_POINTER:
		t.Kind = KindPointer
		t.Next = r.ti()
		attr := r.u32()
		t.PointerAttr = attr
		t.PointerKind = uint8(attr & 0x1f)
		t.PointerMode = uint8((attr >> 5) & 0x7)
		t.Size = uint64((attr >> 13) & 0xff)
		if t.Size == 0 {
			switch t.PointerKind {
			case Ptr64:
				t.Size = 8
			default:
				t.Size = 4
			}
		}
		if attr&cvPtrConst != 0 {
			t.Modifiers |= ModConst
		}
		if attr&cvPtrVolatile != 0 {
			t.Modifiers |= ModVolatile
		}
		if attr&cvPtrUnaligned != 0 {
			t.Modifiers |= ModUnaligned
		}
		if attr&cvPtrRestrict != 0 {
			t.Modifiers |= ModRestrict
		}
		if attr&cvPtrLRef != 0 || t.PointerMode == PtrModeLRef {
			t.Modifiers |= ModLRef
		}
		if attr&cvPtrRRef != 0 || t.PointerMode == PtrModeRRef {
			t.Modifiers |= ModRRef
		}
		if t.PointerMode == PtrModeDataMember || t.PointerMode == PtrModeMemberFunc {
			t.MemberClass = r.ti()
		}

	case LF_PROCEDURE:
		t.Kind = KindProc
		t.Next = r.ti()
		t.CallConv = r.u8()
		t.FuncAttr = r.u8()
		t.ArgCount = r.u16()
		t.ArgList = r.ti()

	case LF_MFUNCTION:
		t.Kind = KindMethod
		t.Next = r.ti()
		t.Class = r.ti()
		t.This = r.ti()
		t.CallConv = r.u8()
		t.FuncAttr = r.u8()
		t.ArgCount = r.u16()
		t.ArgList = r.ti()
		t.ThisAdjust = int32(r.u32())

	case LF_ARGLIST, LF_SUBSTR_LIST:
		t.Kind = KindArgList
		if rec.Kind == LF_SUBSTR_LIST {
			t.Kind = KindSubstrList
		}
		n := r.u32()
		t.Args = r.tiList(int(n))

	case LF_BUILDINFO:
		t.Kind = KindBuildInfo
		n := r.u16()
		t.Args = r.tiList(int(n))

	case LF_ARRAY:
		t.Kind = KindArray
		t.Next = r.ti()
		t.IndexType = r.ti()
		t.Size = r.numeric().Uint64()
		t.Name = r.cstring()

	case LF_CLASS, LF_STRUCTURE, LF_INTERFACE:
		t.Kind = udtKind(rec.Kind)
		t.MemberCount = r.u16()
		t.Properties = r.u16()
		t.FieldList = r.ti()
		t.Derived = r.ti()
		t.VShape = r.ti()
		t.Size = r.numeric().Uint64()
		t.Name = r.cstring()
		if t.Properties&PropHasUniqueName != 0 {
			t.UniqueName = r.cstring()
		}

	case LF_CLASS2, LF_STRUCTURE2, LF_INTERFACE2:
		t.Kind = udtKind(rec.Kind)
		t.Properties = uint16(r.u32())
		t.FieldList = r.ti()
		t.Derived = r.ti()
		t.VShape = r.ti()
		t.MemberCount = r.u16()
		t.Size = r.numeric().Uint64()
		t.Name = r.cstring()
		if t.Properties&PropHasUniqueName != 0 {
			t.UniqueName = r.cstring()
		}

	case LF_UNION:
		t.Kind = KindUnion
		t.MemberCount = r.u16()
		t.Properties = r.u16()
		t.FieldList = r.ti()
		t.Size = r.numeric().Uint64()
		t.Name = r.cstring()
		if t.Properties&PropHasUniqueName != 0 {
			t.UniqueName = r.cstring()
		}

	case LF_UNION2:
		t.Kind = KindUnion
		t.Properties = uint16(r.u32())
		t.FieldList = r.ti()
		t.MemberCount = r.u16()
		t.Size = r.numeric().Uint64()
		t.Name = r.cstring()
		if t.Properties&PropHasUniqueName != 0 {
			t.UniqueName = r.cstring()
		}

	case LF_ENUM:
		t.Kind = KindEnum
		t.MemberCount = r.u16()
		t.Properties = r.u16()
		t.Next = r.ti()
		t.FieldList = r.ti()
		t.Name = r.cstring()
		if t.Properties&PropHasUniqueName != 0 {
			t.UniqueName = r.cstring()
		}
		if base, err := basicType(t.Next); err == nil {
			t.Size = base.Size
		}

	case LF_BITFIELD:
		t.Kind = KindBitfield
		t.Next = r.ti()
		t.BitLength = r.u8()
		t.BitPosition = r.u8()
		if base, err := basicType(t.Next); err == nil {
			t.Size = base.Size
		}

	case LF_FIELDLIST:
		t.Kind = KindFieldList
		t.Data = rec.Data

	case LF_METHODLIST:
		t.Kind = KindMethodList
		t.Data = rec.Data

	case LF_VTSHAPE:
		t.Kind = KindVTShape
		t.MemberCount = r.u16()
		t.Data = r.bytes((int(t.MemberCount) + 1) / 2)

	case LF_VFTABLE:
		t.Kind = KindVFTable
		t.Class = r.ti()
		t.Derived = r.ti()
		t.Size = uint64(r.u32())
		namesLen := r.u32()
		names := r.bytes(int(namesLen))
		if r.err == nil {
			t.Name, _ = parseCString(names)
			if n := len(t.Name) + 1; n <= len(names) {
				t.Data = names[n:]
			}
		}

	case LF_LABEL:
		t.Kind = KindLabel
		t.PointerMode = uint8(r.u16())

	case LF_FUNC_ID:
		t.Kind = KindFuncID
		t.Scope = r.ti()
		t.Next = r.ti()
		t.Name = r.cstring()

	case LF_MFUNC_ID:
		t.Kind = KindMFuncID
		t.Scope = r.ti()
		t.Next = r.ti()
		t.Name = r.cstring()

	case LF_STRING_ID:
		t.Kind = KindStringID
		t.SubstrList = r.ti()
		t.Name = r.cstring()

	case LF_UDT_SRC_LINE:
		t.Kind = KindUDTSrcLine
		t.Next = r.ti()
		t.SourceFile = r.ti()
		t.Line = r.u32()

	case LF_UDT_MOD_SRC_LINE:
		t.Kind = KindUDTSrcLine
		t.Next = r.ti()
		t.SourceFile = r.ti()
		t.Line = r.u32()
		t.Module = r.u16()

	default:
		return Type{}, errors.Wrapf(ErrUnsupportedRecordKind, "%s at 0x%x", LeafKindName(rec.Kind), uint32(rec.Index))
	}

	if r.err != nil {
		return Type{}, r.fail()
	}
	return t, nil
}

// UDTName returns the name of an aggregate record and whether the record
// is only a forward declaration. ok is false for every other leaf.
func UDTName(rec Record) (name string, forward bool, ok bool) {
	switch rec.Kind {
	case LF_CLASS, LF_STRUCTURE, LF_INTERFACE, LF_UNION, LF_ENUM,
		LF_CLASS2, LF_STRUCTURE2, LF_UNION2, LF_INTERFACE2:
	default:
		return "", false, false
	}
	t, err := decodeRecord(rec)
	if err != nil {
		return "", false, false
	}
	return t.Name, t.Properties&PropFwdRef != 0, true
}

func udtKind(leaf uint16) Kind {
	switch leaf {
	case LF_CLASS, LF_CLASS2:
		return KindClass
	case LF_INTERFACE, LF_INTERFACE2:
		return KindInterface
	}
	return KindStruct
}

// ArgTypes returns the argument type indices of a procedure, member
// function or argument list.
func ArgTypes(src TypeSource, ti TypeIndex) ([]TypeIndex, error) {
	t, err := Normalize(src, ti)
	if err != nil {
		return nil, err
	}
	switch t.Kind {
	case KindArgList:
		return t.Args, nil
	case KindProc, KindMethod:
		if t.ArgList == 0 {
			return nil, nil
		}
		return ArgTypes(src, t.ArgList)
	}
	return nil, errors.Wrapf(ErrMalformedRecord, "type 0x%x is a %s, not a procedure", uint32(ti), t.Kind)
}

// leafReader decodes fixed fields from a type or symbol record payload.
// The first failure is kept and later reads return zero values.
type leafReader struct {
	kind uint16
	at   uint32
	sym  bool
	s    bytestream.Stream
	err  error
}

func newLeafReader(rec Record) *leafReader {
	return &leafReader{kind: rec.Kind, at: uint32(rec.Index), s: bytestream.NewBuffer(rec.Data)}
}

func newSymReader(sym SymbolRecord) *leafReader {
	return &leafReader{kind: sym.Kind, at: sym.Offset, sym: true, s: bytestream.NewBuffer(sym.Data)}
}

func (r *leafReader) fail() error {
	name := LeafKindName(r.kind)
	if r.sym {
		name = SymbolKindName(r.kind)
	}
	return errors.Wrapf(ErrMalformedRecord, "%s at 0x%x: %v", name, r.at, r.err)
}

func (r *leafReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.s.ReadU8()
	r.err = err
	return v
}

func (r *leafReader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := r.s.ReadU16()
	r.err = err
	return v
}

func (r *leafReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.s.ReadU32()
	r.err = err
	return v
}

func (r *leafReader) ti() TypeIndex {
	return TypeIndex(r.u32())
}

func (r *leafReader) tiList(n int) []TypeIndex {
	if r.err != nil {
		return nil
	}
	if int64(n)*4 > r.s.Remaining() {
		r.err = errors.Wrapf(bytestream.ErrReadFailed, "list of %d indices", n)
		return nil
	}
	out := make([]TypeIndex, n)
	for i := range out {
		out[i] = r.ti()
	}
	return out
}

func (r *leafReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	b, err := r.s.ReadBytes(n)
	r.err = err
	return b
}

func (r *leafReader) numeric() Numeric {
	if r.err != nil {
		return Numeric{}
	}
	n, err := ReadNumericFrom(&r.s)
	r.err = err
	return n
}

// cstring reads a name. Names at the end of a record may lack a terminator.
func (r *leafReader) cstring() string {
	if r.err != nil {
		return ""
	}
	rest := r.s.Rest()
	b, _ := rest.ReadAll()
	str, n := parseCString(b)
	r.err = r.s.Skip(int64(n))
	return str
}
