package codeview_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/gosyms/pkg/pdb/codeview"
	"github.com/jtang613/gosyms/pkg/pdb/pdbtest"
)

// recordSet serves records straight from a TypeBuilder.
type recordSet []codeview.Record

func (s recordSet) FindByIndex(ti codeview.TypeIndex) (codeview.Record, bool) {
	i := int(ti) - int(codeview.TypeIndexBegin)
	if i < 0 || i >= len(s) {
		return codeview.Record{}, false
	}
	return s[i], true
}

func (s recordSet) FindByName(name string) (codeview.TypeIndex, bool) {
	for _, r := range s {
		if n, fwd, ok := codeview.UDTName(r); ok && !fwd && n == name {
			return r.Index, true
		}
	}
	return 0, false
}

func TestNormalizeBasicTypes(t *testing.T) {
	src := recordSet(nil)

	typ, err := codeview.Normalize(src, codeview.T_INT4)
	require.NoError(t, err)
	assert.Equal(t, codeview.KindInt, typ.Kind)
	assert.Equal(t, uint64(4), typ.Size)
	assert.Equal(t, "int", typ.Name)

	typ, err = codeview.Normalize(src, codeview.TM_NPTR64<<8|codeview.T_RCHAR)
	require.NoError(t, err)
	assert.Equal(t, codeview.KindPointer, typ.Kind)
	assert.Equal(t, uint64(8), typ.Size)
	assert.Equal(t, codeview.TypeIndex(codeview.T_RCHAR), typ.Next)

	_, err = codeview.Normalize(src, 0x0fff)
	assert.True(t, errors.Is(err, codeview.ErrTypeIndexOutOfRange))
	_, err = codeview.Normalize(src, 0x1000)
	assert.True(t, errors.Is(err, codeview.ErrTypeIndexOutOfRange))
}

func TestNormalizeFoldsModifiers(t *testing.T) {
	b := pdbtest.NewTypeBuilder()
	c := b.Modifier(codeview.T_INT4, 0x1)
	cv := b.Modifier(c, 0x2)
	ptr := b.Pointer(cv, codeview.Ptr64|8<<13|0x400)
	src := recordSet(b.Records())

	typ, err := codeview.Normalize(src, cv)
	require.NoError(t, err)
	assert.Equal(t, codeview.KindInt, typ.Kind)
	assert.Equal(t, codeview.ModConst|codeview.ModVolatile, typ.Modifiers)

	typ, err = codeview.Normalize(src, ptr)
	require.NoError(t, err)
	assert.Equal(t, codeview.KindPointer, typ.Kind)
	assert.Equal(t, uint64(8), typ.Size)
	assert.Equal(t, codeview.ModConst, typ.Modifiers)
	assert.Equal(t, "const volatile int* const", codeview.TypeName(src, ptr))
}

func TestNormalizeResolvesForwardReference(t *testing.T) {
	b := pdbtest.NewTypeBuilder()
	fwd := b.Struct("Node", 0, 0, codeview.PropFwdRef, 0)
	next := b.Pointer64(fwd)
	fl := b.FieldList(new(pdbtest.FieldList).
		Member("value", codeview.T_INT4, 0).
		Member("next", next, 8))
	full := b.Struct("Node", fl, 2, 0, 16)
	src := recordSet(b.Records())

	typ, err := codeview.Normalize(src, fwd)
	require.NoError(t, err)
	assert.Equal(t, full, typ.Index)
	assert.Equal(t, codeview.KindStruct, typ.Kind)
	assert.Equal(t, uint64(16), typ.Size)
	assert.Zero(t, typ.Modifiers&codeview.ModFwdRef)

	it := codeview.Members(src, typ.FieldList)
	var names []string
	for it.Next() {
		names = append(names, it.Member().Name)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"value", "next"}, names)
	assert.Equal(t, "Node*", codeview.TypeName(src, next))
}

func TestNormalizeUnresolvedForwardEnum(t *testing.T) {
	b := pdbtest.NewTypeBuilder()
	e := b.Enum("Color", 0, 0, 0, codeview.PropFwdRef)
	src := recordSet(b.Records())

	typ, err := codeview.Normalize(src, e)
	require.NoError(t, err)
	assert.Equal(t, codeview.KindEnum, typ.Kind)
	assert.Equal(t, codeview.TypeIndex(codeview.T_INT4), typ.Next)
	assert.Equal(t, uint64(4), typ.Size)
	assert.NotZero(t, typ.Modifiers&codeview.ModFwdRef)
}

func TestNormalizeArrayCount(t *testing.T) {
	b := pdbtest.NewTypeBuilder()
	arr := b.Array(codeview.T_INT4, codeview.T_ULONG, 40)
	src := recordSet(b.Records())

	typ, err := codeview.Normalize(src, arr)
	require.NoError(t, err)
	assert.Equal(t, codeview.KindArray, typ.Kind)
	assert.Equal(t, uint64(10), typ.Count)
	assert.Equal(t, "int[10]", codeview.TypeName(src, arr))
}

func TestProcedureArgs(t *testing.T) {
	b := pdbtest.NewTypeBuilder()
	pc := b.Pointer64(codeview.T_RCHAR)
	proc := b.Procedure(codeview.T_INT4, codeview.T_INT4, pc)
	src := recordSet(b.Records())

	args, err := codeview.ArgTypes(src, proc)
	require.NoError(t, err)
	assert.Equal(t, []codeview.TypeIndex{codeview.T_INT4, pc}, args)
	assert.Equal(t, "int (int, char*)", codeview.TypeName(src, proc))

	_, err = codeview.ArgTypes(src, pc)
	assert.True(t, errors.Is(err, codeview.ErrMalformedRecord))
}

func TestMembersFollowContinuation(t *testing.T) {
	b := pdbtest.NewTypeBuilder()
	tail := b.FieldList(new(pdbtest.FieldList).
		Enumerate("Blue", 2).
		Enumerate("Unknown", -1))
	head := b.FieldList(new(pdbtest.FieldList).
		Enumerate("Red", 0).
		Enumerate("Green", 1).
		Continue(tail))
	src := recordSet(b.Records())

	it := codeview.Members(src, head)
	var got []string
	var values []int64
	for it.Next() {
		m := it.Member()
		assert.Equal(t, codeview.MemberEnumerate, m.Kind)
		got = append(got, m.Name)
		values = append(values, m.Value.Int64())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"Red", "Green", "Blue", "Unknown"}, got)
	assert.Equal(t, []int64{0, 1, 2, -1}, values)
}

func TestMembersDetectContinuationCycle(t *testing.T) {
	b := pdbtest.NewTypeBuilder()
	self := b.Next()
	b.FieldList(new(pdbtest.FieldList).Member("x", codeview.T_INT4, 0).Continue(self))
	src := recordSet(b.Records())

	it := codeview.Members(src, self)
	require.True(t, it.Next())
	assert.False(t, it.Next())
	assert.True(t, errors.Is(it.Err(), codeview.ErrMalformedRecord))
}

func TestMembersMethodsAndBases(t *testing.T) {
	b := pdbtest.NewTypeBuilder()
	base := b.Class("Base", 0, 0, codeview.PropFwdRef, 0)
	proc := b.Procedure(codeview.T_VOID)
	fl := b.FieldList(new(pdbtest.FieldList).
		Base(base, 0).
		OneMethod("run", 3|codeview.MethodIntro<<2, proc, 8).
		OneMethod("stop", 3, proc, 0).
		StaticMember("count", codeview.T_INT4).
		Nested("Inner", base))
	src := recordSet(b.Records())

	it := codeview.Members(src, fl)
	var ms []codeview.Member
	for it.Next() {
		ms = append(ms, it.Member())
	}
	require.NoError(t, it.Err())
	require.Len(t, ms, 5)
	assert.Equal(t, codeview.MemberBase, ms[0].Kind)
	assert.Equal(t, codeview.MemberMethod, ms[1].Kind)
	assert.Equal(t, uint32(8), ms[1].VTableOffset)
	assert.Equal(t, "stop", ms[2].Name)
	assert.Zero(t, ms[2].VTableOffset)
	assert.Equal(t, codeview.MemberStatic, ms[3].Kind)
	assert.Equal(t, codeview.MemberNested, ms[4].Kind)
}

func TestUDTName(t *testing.T) {
	b := pdbtest.NewTypeBuilder()
	b.Struct("Fwd", 0, 0, codeview.PropFwdRef, 0)
	b.Union("U", 0, 0, 0, 8)
	b.Pointer64(codeview.T_INT4)
	recs := b.Records()

	name, fwd, ok := codeview.UDTName(recs[0])
	assert.Equal(t, "Fwd", name)
	assert.True(t, fwd)
	assert.True(t, ok)

	name, fwd, ok = codeview.UDTName(recs[1])
	assert.Equal(t, "U", name)
	assert.False(t, fwd)
	assert.True(t, ok)

	_, _, ok = codeview.UDTName(recs[2])
	assert.False(t, ok)
}

func TestReadNumeric(t *testing.T) {
	tests := []struct {
		name  string
		in    []byte
		want  int64
		size  int
		typ   codeview.TypeIndex
		isErr bool
	}{
		{"immediate", []byte{0x34, 0x12}, 0x1234, 2, codeview.T_USHORT, false},
		{"char", []byte{0x00, 0x80, 0xff}, -1, 3, codeview.T_CHAR, false},
		{"long", []byte{0x03, 0x80, 0xfe, 0xff, 0xff, 0xff}, -2, 6, codeview.T_LONG, false},
		{"ulong", []byte{0x04, 0x80, 0x00, 0x00, 0x00, 0x80}, 0x80000000, 6, codeview.T_ULONG, false},
		{"truncated", []byte{0x04, 0x80, 0x00}, 0, 0, 0, true},
		{"unknown", []byte{0x7f, 0x80, 0, 0}, 0, 0, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n, size, err := codeview.ReadNumeric(tc.in)
			if tc.isErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, n.Int64())
			assert.Equal(t, tc.size, size)
			assert.Equal(t, tc.typ, n.Type)
		})
	}
}

func TestReadNumericVarString(t *testing.T) {
	n, size, err := codeview.ReadNumeric([]byte{0x10, 0x80, 3, 0, 'a', 'b', 'c', 0xff})
	require.NoError(t, err)
	assert.Equal(t, 7, size)
	assert.Equal(t, "abc", n.String())
}
