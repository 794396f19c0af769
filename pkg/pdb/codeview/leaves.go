package codeview

import (
	"fmt"
)

// TypeIndex identifies a record in the TPI or IPI stream, or a basic type
// when it is below TypeIndexBegin.
type TypeIndex uint32

// TypeIndexBegin is the first index stored as a record; basic types are below it.
const TypeIndexBegin TypeIndex = 0x1000

// Record is a raw type leaf. Data excludes the length and kind fields and
// aliases the type stream buffer.
type Record struct {
	Index TypeIndex
	Kind  uint16
	Data  []byte
}

// LF_* type leaf constants (32-bit type index forms).
const (
	LF_VTSHAPE = 0x000a
	LF_LABEL   = 0x000e
	LF_NULL    = 0x000f

	LF_MODIFIER  = 0x1001
	LF_POINTER   = 0x1002
	LF_PROCEDURE = 0x1008
	LF_MFUNCTION = 0x1009
	LF_COBOL0    = 0x100a
	LF_BARRAY    = 0x100b
	LF_DIMARRAY  = 0x100c
	LF_VFTPATH   = 0x100d
	LF_PRECOMP   = 0x100e
	LF_OEM       = 0x100f

	LF_SKIP       = 0x1200
	LF_ARGLIST    = 0x1201
	LF_DEFARG     = 0x1202
	LF_FIELDLIST  = 0x1203
	LF_DERIVED    = 0x1204
	LF_BITFIELD   = 0x1205
	LF_METHODLIST = 0x1206

	LF_BCLASS    = 0x1400
	LF_VBCLASS   = 0x1401
	LF_IVBCLASS  = 0x1402
	LF_FRIENDFCN = 0x1403
	LF_INDEX     = 0x1404
	LF_VFUNCTAB  = 0x1409
	LF_VFUNCOFF  = 0x140c

	LF_ENUMERATE  = 0x1502
	LF_ARRAY      = 0x1503
	LF_CLASS      = 0x1504
	LF_STRUCTURE  = 0x1505
	LF_UNION      = 0x1506
	LF_ENUM       = 0x1507
	LF_ALIAS      = 0x150a
	LF_MEMBER     = 0x150d
	LF_STMEMBER   = 0x150e
	LF_METHOD     = 0x150f
	LF_NESTTYPE   = 0x1510
	LF_ONEMETHOD  = 0x1511
	LF_NESTTYPEEX = 0x1512
	LF_TYPESERVER = 0x1515
	LF_INTERFACE  = 0x1519
	LF_VFTABLE    = 0x151d
	LF_CLASS2     = 0x1608
	LF_STRUCTURE2 = 0x1609
	LF_UNION2     = 0x160a
	LF_INTERFACE2 = 0x160b

	LF_FUNC_ID          = 0x1601
	LF_MFUNC_ID         = 0x1602
	LF_BUILDINFO        = 0x1603
	LF_SUBSTR_LIST      = 0x1604
	LF_STRING_ID        = 0x1605
	LF_UDT_SRC_LINE     = 0x1606
	LF_UDT_MOD_SRC_LINE = 0x1607
)

// Numeric leaf tags. Values below LF_NUMERIC are stored inline.
const (
	LF_NUMERIC    = 0x8000
	LF_CHAR       = 0x8000
	LF_SHORT      = 0x8001
	LF_USHORT     = 0x8002
	LF_LONG       = 0x8003
	LF_ULONG      = 0x8004
	LF_REAL32     = 0x8005
	LF_REAL64     = 0x8006
	LF_REAL80     = 0x8007
	LF_REAL128    = 0x8008
	LF_QUADWORD   = 0x8009
	LF_UQUADWORD  = 0x800a
	LF_REAL48     = 0x800b
	LF_COMPLEX32  = 0x800c
	LF_COMPLEX64  = 0x800d
	LF_COMPLEX80  = 0x800e
	LF_COMPLEX128 = 0x800f
	LF_VARSTRING  = 0x8010
	LF_OCTWORD    = 0x8017
	LF_UOCTWORD   = 0x8018
	LF_DECIMAL    = 0x8019
	LF_DATE       = 0x801a
	LF_UTF8STRING = 0x801b
	LF_REAL16     = 0x801c
)

// LF_PAD0 through LF_PAD15 align sub-records inside field lists; the low
// nibble is the number of bytes to skip including the pad byte itself.
const (
	LF_PAD0  = 0xf0
	LF_PAD15 = 0xff
)

// Basic type pointer modes (bits 8-10 of a basic type index).
const (
	TM_DIRECT  = 0
	TM_NPTR    = 1
	TM_FPTR    = 2
	TM_HPTR    = 3
	TM_NPTR32  = 4
	TM_FPTR32  = 5
	TM_NPTR64  = 6
	TM_NPTR128 = 7
)

// Basic type kinds (low byte of a basic type index).
const (
	T_NOTYPE    = 0x0000
	T_ABS       = 0x0001
	T_SEGMENT   = 0x0002
	T_VOID      = 0x0003
	T_CURRENCY  = 0x0004
	T_NBASICSTR = 0x0005
	T_FBASICSTR = 0x0006
	T_NOTTRANS  = 0x0007
	T_HRESULT   = 0x0008

	T_CHAR  = 0x0010
	T_SHORT = 0x0011
	T_LONG  = 0x0012
	T_QUAD  = 0x0013
	T_OCT   = 0x0014

	T_UCHAR  = 0x0020
	T_USHORT = 0x0021
	T_ULONG  = 0x0022
	T_UQUAD  = 0x0023
	T_UOCT   = 0x0024

	T_BOOL08 = 0x0030
	T_BOOL16 = 0x0031
	T_BOOL32 = 0x0032
	T_BOOL64 = 0x0033

	T_REAL32   = 0x0040
	T_REAL64   = 0x0041
	T_REAL80   = 0x0042
	T_REAL128  = 0x0043
	T_REAL48   = 0x0044
	T_REAL32PP = 0x0045
	T_REAL16   = 0x0046

	T_CPLX32  = 0x0050
	T_CPLX64  = 0x0051
	T_CPLX80  = 0x0052
	T_CPLX128 = 0x0053

	T_BIT      = 0x0060
	T_PASCHAR  = 0x0061
	T_BOOL32FF = 0x0062

	T_INT1   = 0x0068
	T_UINT1  = 0x0069
	T_RCHAR  = 0x0070
	T_WCHAR  = 0x0071
	T_INT2   = 0x0072
	T_UINT2  = 0x0073
	T_INT4   = 0x0074
	T_UINT4  = 0x0075
	T_INT8   = 0x0076
	T_UINT8  = 0x0077
	T_INT16  = 0x0078
	T_UINT16 = 0x0079
	T_CHAR16 = 0x007a
	T_CHAR32 = 0x007b
	T_CHAR8  = 0x007c
)

type basicInfo struct {
	name string
	size uint32
	kind Kind
}

var basicTypes = map[uint32]basicInfo{
	T_NOTYPE:    {"<no type>", 0, KindNull},
	T_ABS:       {"<abs>", 0, KindNull},
	T_SEGMENT:   {"<segment>", 2, KindUInt},
	T_VOID:      {"void", 0, KindVoid},
	T_CURRENCY:  {"CURRENCY", 8, KindInt},
	T_NBASICSTR: {"<near basic str>", 0, KindNull},
	T_FBASICSTR: {"<far basic str>", 0, KindNull},
	T_NOTTRANS:  {"<not translated>", 0, KindNull},
	T_HRESULT:   {"HRESULT", 4, KindInt},

	T_CHAR:  {"signed char", 1, KindInt},
	T_SHORT: {"short", 2, KindInt},
	T_LONG:  {"long", 4, KindInt},
	T_QUAD:  {"__int64", 8, KindInt},
	T_OCT:   {"__int128", 16, KindInt},

	T_UCHAR:  {"unsigned char", 1, KindUInt},
	T_USHORT: {"unsigned short", 2, KindUInt},
	T_ULONG:  {"unsigned long", 4, KindUInt},
	T_UQUAD:  {"unsigned __int64", 8, KindUInt},
	T_UOCT:   {"unsigned __int128", 16, KindUInt},

	T_BOOL08: {"bool", 1, KindBool},
	T_BOOL16: {"__bool16", 2, KindBool},
	T_BOOL32: {"__bool32", 4, KindBool},
	T_BOOL64: {"__bool64", 8, KindBool},

	T_REAL32:   {"float", 4, KindFloat},
	T_REAL64:   {"double", 8, KindFloat},
	T_REAL80:   {"long double", 10, KindFloat},
	T_REAL128:  {"__float128", 16, KindFloat},
	T_REAL48:   {"__float48", 6, KindFloat},
	T_REAL32PP: {"__float32pp", 4, KindFloat},
	T_REAL16:   {"__float16", 2, KindFloat},

	T_CPLX32:  {"_Complex float", 8, KindComplex},
	T_CPLX64:  {"_Complex double", 16, KindComplex},
	T_CPLX80:  {"_Complex long double", 20, KindComplex},
	T_CPLX128: {"_Complex __float128", 32, KindComplex},

	T_BIT:      {"<bit>", 0, KindUInt},
	T_PASCHAR:  {"<pascal char>", 1, KindInt},
	T_BOOL32FF: {"__bool32ff", 4, KindBool},

	T_INT1:   {"__int8", 1, KindInt},
	T_UINT1:  {"unsigned __int8", 1, KindUInt},
	T_RCHAR:  {"char", 1, KindChar},
	T_WCHAR:  {"wchar_t", 2, KindChar},
	T_INT2:   {"__int16", 2, KindInt},
	T_UINT2:  {"unsigned __int16", 2, KindUInt},
	T_INT4:   {"int", 4, KindInt},
	T_UINT4:  {"unsigned int", 4, KindUInt},
	T_INT8:   {"__int64", 8, KindInt},
	T_UINT8:  {"unsigned __int64", 8, KindUInt},
	T_INT16:  {"__int128", 16, KindInt},
	T_UINT16: {"unsigned __int128", 16, KindUInt},
	T_CHAR16: {"char16_t", 2, KindChar},
	T_CHAR32: {"char32_t", 4, KindChar},
	T_CHAR8:  {"char8_t", 1, KindChar},
}

// BasicKind returns the kind byte of a basic type index.
func BasicKind(ti TypeIndex) uint32 { return uint32(ti) & 0xff }

// BasicMode returns the pointer mode bits of a basic type index.
func BasicMode(ti TypeIndex) uint32 { return (uint32(ti) >> 8) & 0x7 }

// IsKnownBasicType reports whether ti is a basic type index with a known
// kind and pointer mode.
func IsKnownBasicType(ti TypeIndex) bool {
	if ti >= TypeIndexBegin || uint32(ti)&^0x7ff != 0 {
		return false
	}
	_, ok := basicTypes[BasicKind(ti)]
	return ok
}

// basicPointerSize returns the pointer width implied by a basic type mode.
func basicPointerSize(mode uint32) uint32 {
	switch mode {
	case TM_NPTR:
		return 2
	case TM_FPTR, TM_HPTR, TM_NPTR32:
		return 4
	case TM_FPTR32:
		return 6
	case TM_NPTR64:
		return 8
	case TM_NPTR128:
		return 16
	}
	return 0
}

// BasicTypeName returns the C spelling of a basic type index, including
// pointer decoration.
func BasicTypeName(ti TypeIndex) string {
	if ti >= TypeIndexBegin {
		return ""
	}
	info, ok := basicTypes[BasicKind(ti)]
	if !ok {
		return fmt.Sprintf("<basic 0x%04x>", uint32(ti))
	}

	// Apply pointer mode
	switch BasicMode(ti) {
	case TM_DIRECT:
		return info.name
	case TM_FPTR, TM_FPTR32:
		return info.name + " far*"
	case TM_HPTR:
		return info.name + " huge*"
	default:
		return info.name + "*"
	}
}

// LeafKindName returns the name for a LF_* constant.
func LeafKindName(kind uint16) string {
	switch kind {
	case LF_VTSHAPE:
		return "LF_VTSHAPE"
	case LF_LABEL:
		return "LF_LABEL"
	case LF_MODIFIER:
		return "LF_MODIFIER"
	case LF_POINTER:
		return "LF_POINTER"
	case LF_PROCEDURE:
		return "LF_PROCEDURE"
	case LF_MFUNCTION:
		return "LF_MFUNCTION"
	case LF_ARGLIST:
		return "LF_ARGLIST"
	case LF_FIELDLIST:
		return "LF_FIELDLIST"
	case LF_BITFIELD:
		return "LF_BITFIELD"
	case LF_METHODLIST:
		return "LF_METHODLIST"
	case LF_ARRAY:
		return "LF_ARRAY"
	case LF_CLASS:
		return "LF_CLASS"
	case LF_STRUCTURE:
		return "LF_STRUCTURE"
	case LF_INTERFACE:
		return "LF_INTERFACE"
	case LF_UNION:
		return "LF_UNION"
	case LF_ENUM:
		return "LF_ENUM"
	case LF_VFTABLE:
		return "LF_VFTABLE"
	case LF_FUNC_ID:
		return "LF_FUNC_ID"
	case LF_MFUNC_ID:
		return "LF_MFUNC_ID"
	case LF_BUILDINFO:
		return "LF_BUILDINFO"
	case LF_SUBSTR_LIST:
		return "LF_SUBSTR_LIST"
	case LF_STRING_ID:
		return "LF_STRING_ID"
	case LF_UDT_SRC_LINE:
		return "LF_UDT_SRC_LINE"
	case LF_UDT_MOD_SRC_LINE:
		return "LF_UDT_MOD_SRC_LINE"
	default:
		return fmt.Sprintf("LF_0x%04x", kind)
	}
}
