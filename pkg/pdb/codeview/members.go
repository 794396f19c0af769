package codeview

import (
	"github.com/pkg/errors"
)

// MemberKind classifies an entry of a field list.
type MemberKind uint8

// Member kinds.
const (
	MemberData MemberKind = iota
	MemberStatic
	MemberBase
	MemberVirtualBase
	MemberIndirectVirtualBase
	MemberMethod
	MemberOverloads
	MemberNested
	MemberVFuncTab
	MemberEnumerate
)

func (k MemberKind) String() string {
	switch k {
	case MemberData:
		return "data"
	case MemberStatic:
		return "static"
	case MemberBase:
		return "base"
	case MemberVirtualBase:
		return "vbase"
	case MemberIndirectVirtualBase:
		return "ivbase"
	case MemberMethod:
		return "method"
	case MemberOverloads:
		return "overloads"
	case MemberNested:
		return "nested"
	case MemberVFuncTab:
		return "vfunctab"
	case MemberEnumerate:
		return "enumerate"
	}
	return "unknown"
}

// Method property values (bits 2-4 of the member attributes).
const (
	MethodVanilla     = 0
	MethodVirtual     = 1
	MethodStatic      = 2
	MethodFriend      = 3
	MethodIntro       = 4
	MethodPureVirtual = 5
	MethodPureIntro   = 6
)

// Member is one entry of a field list. Type is the member's type, the base
// class, the nested type, the method signature, or the method list of an
// overload set.
type Member struct {
	Kind       MemberKind
	Name       string
	Type       TypeIndex
	Attributes uint16
	Offset     int64
	Value      Numeric

	// Virtual bases
	VBPtr        TypeIndex
	VBPtrOffset  int64
	VBTableIndex int64

	// Methods
	VTableOffset uint32
	Overloads    uint16
}

// Access returns the access protection (1 private, 2 protected, 3 public).
func (m Member) Access() uint16 { return m.Attributes & 0x3 }

// MethodProperty returns the method property bits of the attributes.
func (m Member) MethodProperty() uint16 { return (m.Attributes >> 2) & 0x7 }

func isIntroducing(attr uint16) bool {
	p := (attr >> 2) & 0x7
	return p == MethodIntro || p == MethodPureIntro
}

// maxFieldListHops bounds LF_INDEX continuation chains.
const maxFieldListHops = 1 << 16

// MemberIterator walks a field list lazily, following LF_INDEX
// continuations into further field list records. Member types are left as
// indices, so self-referential aggregates never recurse.
type MemberIterator struct {
	src     TypeSource
	r       *leafReader
	visited map[TypeIndex]bool
	cur     Member
	err     error
}

// Members returns an iterator over the field list fieldList.
func Members(src TypeSource, fieldList TypeIndex) *MemberIterator {
	it := &MemberIterator{src: src, visited: map[TypeIndex]bool{}}
	it.open(fieldList)
	return it
}

func (it *MemberIterator) open(ti TypeIndex) {
	if it.visited[ti] || len(it.visited) >= maxFieldListHops {
		it.err = errors.Wrapf(ErrMalformedRecord, "field list 0x%x continues into a cycle", uint32(ti))
		return
	}
	it.visited[ti] = true
	rec, ok := it.src.FindByIndex(ti)
	if !ok {
		it.err = errors.Wrapf(ErrTypeIndexOutOfRange, "field list 0x%x", uint32(ti))
		return
	}
	if rec.Kind != LF_FIELDLIST {
		it.err = errors.Wrapf(ErrMalformedRecord, "type 0x%x is %s, not a field list", uint32(ti), LeafKindName(rec.Kind))
		return
	}
	it.r = newLeafReader(rec)
}

// Err returns the error that stopped iteration, if any.
func (it *MemberIterator) Err() error { return it.err }

// Member returns the current member.
func (it *MemberIterator) Member() Member { return it.cur }

// Next advances to the next member.
func (it *MemberIterator) Next() bool {
	for it.err == nil && it.r != nil {
		it.skipPadding()
		if it.r.s.Remaining() == 0 {
			return false
		}
		leaf := it.r.u16()
		m := Member{}
		switch leaf {
		case LF_MEMBER:
			m.Kind = MemberData
			m.Attributes = it.r.u16()
			m.Type = it.r.ti()
			m.Offset = it.r.numeric().Int64()
			m.Name = it.r.cstring()

		case LF_STMEMBER:
			m.Kind = MemberStatic
			m.Attributes = it.r.u16()
			m.Type = it.r.ti()
			m.Name = it.r.cstring()

		case LF_BCLASS:
			m.Kind = MemberBase
			m.Attributes = it.r.u16()
			m.Type = it.r.ti()
			m.Offset = it.r.numeric().Int64()

		case LF_VBCLASS, LF_IVBCLASS:
			m.Kind = MemberVirtualBase
			if leaf == LF_IVBCLASS {
				m.Kind = MemberIndirectVirtualBase
			}
			m.Attributes = it.r.u16()
			m.Type = it.r.ti()
			m.VBPtr = it.r.ti()
			m.VBPtrOffset = it.r.numeric().Int64()
			m.VBTableIndex = it.r.numeric().Int64()

		case LF_ONEMETHOD:
			m.Kind = MemberMethod
			m.Attributes = it.r.u16()
			m.Type = it.r.ti()
			if isIntroducing(m.Attributes) {
				m.VTableOffset = it.r.u32()
			}
			m.Name = it.r.cstring()

		case LF_METHOD:
			m.Kind = MemberOverloads
			m.Overloads = it.r.u16()
			m.Type = it.r.ti()
			m.Name = it.r.cstring()

		case LF_NESTTYPE:
			m.Kind = MemberNested
			it.r.u16()
			m.Type = it.r.ti()
			m.Name = it.r.cstring()

		case LF_VFUNCTAB:
			m.Kind = MemberVFuncTab
			it.r.u16()
			m.Type = it.r.ti()

		case LF_ENUMERATE:
			m.Kind = MemberEnumerate
			m.Attributes = it.r.u16()
			m.Value = it.r.numeric()
			m.Offset = m.Value.Int64()
			m.Name = it.r.cstring()

		case LF_INDEX:
			it.r.u16()
			next := it.r.ti()
			if it.r.err != nil {
				it.err = it.r.fail()
				return false
			}
			it.open(next)
			continue

		default:
			it.err = errors.Wrapf(ErrUnsupportedRecordKind, "field list entry %s", LeafKindName(leaf))
			return false
		}

		if it.r.err != nil {
			it.err = it.r.fail()
			return false
		}
		it.cur = m
		return true
	}
	return false
}

// skipPadding consumes LF_PAD bytes; the low nibble of a pad byte is the
// distance to the next entry.
func (it *MemberIterator) skipPadding() {
	s := &it.r.s
	for s.Remaining() > 0 {
		save := s.Offset()
		b, err := s.ReadU8()
		if err != nil || b < LF_PAD0 {
			s.Seek(save)
			return
		}
		n := int64(b & 0x0f)
		if n == 0 {
			n = 1
		}
		if err := s.Seek(save + n); err != nil {
			s.Seek(s.Len())
			return
		}
	}
}

// Method is one entry of an LF_METHODLIST overload set.
type Method struct {
	Attributes   uint16
	Type         TypeIndex
	VTableOffset uint32
}

// MethodList decodes the overloads listed by an LF_METHODLIST record.
func MethodList(src TypeSource, ti TypeIndex) ([]Method, error) {
	rec, ok := src.FindByIndex(ti)
	if !ok {
		return nil, errors.Wrapf(ErrTypeIndexOutOfRange, "method list 0x%x", uint32(ti))
	}
	if rec.Kind != LF_METHODLIST {
		return nil, errors.Wrapf(ErrMalformedRecord, "type 0x%x is %s, not a method list", uint32(ti), LeafKindName(rec.Kind))
	}
	r := newLeafReader(rec)
	var out []Method
	for r.s.Remaining() > 0 {
		m := Method{Attributes: r.u16()}
		r.u16()
		m.Type = r.ti()
		if isIntroducing(m.Attributes) {
			m.VTableOffset = r.u32()
		}
		if r.err != nil {
			return out, r.fail()
		}
		out = append(out, m)
	}
	return out, nil
}
