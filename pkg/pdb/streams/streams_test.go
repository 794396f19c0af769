package streams_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/gosyms/pkg/pdb/pdbtest"
	"github.com/jtang613/gosyms/pkg/pdb/streams"
)

func TestHashV1(t *testing.T) {
	// Letter case only affects bits that the fold forces on.
	assert.Equal(t, streams.HashStringV1("ABCD"), streams.HashStringV1("abcd"))
	assert.NotEqual(t, streams.HashStringV1("abcd"), streams.HashStringV1("abce"))
	assert.Equal(t, streams.HashV1([]byte("xyz")), streams.HashStringV1("xyz"))
}

func TestStringTable(t *testing.T) {
	b := pdbtest.NewStringTableBuilder()
	a := b.Add(`c:\src\main.cpp`)
	h := b.Add(`c:\src\util.h`)
	assert.Equal(t, a, b.Add(`c:\src\main.cpp`))

	st, err := streams.ReadStringTable(b.Build())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), st.Count())

	s, ok := st.String(h)
	require.True(t, ok)
	assert.Equal(t, `c:\src\util.h`, s)
	s, ok = st.String(0)
	require.True(t, ok)
	assert.Empty(t, s)
	_, ok = st.String(0xffff)
	assert.False(t, ok)

	off, ok := st.Offset(`c:\src\main.cpp`)
	require.True(t, ok)
	assert.Equal(t, a, off)
	_, ok = st.Offset("missing")
	assert.False(t, ok)

	_, err = streams.ReadStringTable([]byte{1, 2, 3, 4})
	assert.True(t, errors.Is(err, streams.ErrBadStringTable))
}

func TestPDBInfo(t *testing.T) {
	guid := [16]byte{0x78, 0x56, 0x34, 0x12, 0xbc, 0x9a, 0xf0, 0xde, 1, 2, 3, 4, 5, 6, 7, 8}
	data := pdbtest.InfoStream(3, guid, map[string]uint32{
		streams.NamedStreamNames:    9,
		streams.NamedStreamLinkInfo: 5,
	})
	info, err := streams.ReadPDBInfo(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), info.Age)
	assert.Equal(t, uint32(streams.PDBStreamVersionVC70), info.Version)
	assert.Equal(t, "123456789ABCDEF00102030405060708", info.GUIDString())

	sn, ok := info.NamedStream(streams.NamedStreamNames)
	require.True(t, ok)
	assert.Equal(t, 9, sn)
	sn, ok = info.NamedStream(streams.NamedStreamLinkInfo)
	require.True(t, ok)
	assert.Equal(t, 5, sn)
	_, ok = info.NamedStream("/src/files/missing")
	assert.False(t, ok)
}

func TestPDBInfoLegacyHeader(t *testing.T) {
	w := &pdbtest.Writer{}
	w.U32(streams.PDBStreamVersionVC50).U32(0x1234).U32(2)
	info, err := streams.ReadPDBInfo(w.B)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), info.Age)
	assert.Equal(t, [16]byte{}, info.GUID)
	assert.Empty(t, info.NamedStreams)
}

func TestSectionContribLookup(t *testing.T) {
	b := pdbtest.NewPDBBuilder()
	b.AddModule(pdbtest.Module{Name: "a.obj", ObjName: "a.obj", Files: []string{"a.c", "common.h"}})
	b.AddModule(pdbtest.Module{Name: "b.obj", ObjName: "lib.lib", Files: []string{"b.c"}})
	b.Contribs = []streams.SectionContrib{
		{Section: 1, Offset: 0x100, Size: 0x80, ModuleIndex: 1},
		{Section: 1, Offset: 0x0, Size: 0x100, ModuleIndex: 0},
		{Section: 2, Offset: 0x0, Size: 0x40, ModuleIndex: 1},
		{Section: 2, Offset: 0x40, Size: 0, ModuleIndex: 0},
	}
	m, err := b.Open()
	require.NoError(t, err)
	data, err := m.ReadStream(3)
	require.NoError(t, err)
	dbi, err := streams.ReadDBIStream(data)
	require.NoError(t, err)

	require.Len(t, dbi.Modules, 2)
	assert.Equal(t, "b.obj", dbi.Modules[1].ModuleName)
	assert.Equal(t, "lib.lib", dbi.Modules[1].ObjFileName)
	assert.False(t, dbi.Modules[0].HasSymbols())
	assert.Equal(t, [][]string{{"a.c", "common.h"}, {"b.c"}}, dbi.ModuleFiles)
	assert.Equal(t, "x64", streams.MachineTypeName(dbi.Header.Machine))

	tests := []struct {
		sec  uint16
		off  uint32
		mod  int
		find bool
	}{
		{1, 0x0, 0, true},
		{1, 0xff, 0, true},
		{1, 0x100, 1, true},
		{1, 0x17f, 1, true},
		{1, 0x180, 0, false},
		{2, 0x10, 1, true},
		{2, 0x40, 0, false},
		{3, 0x0, 0, false},
		{0, 0x0, 0, false},
	}
	for _, tc := range tests {
		mod, ok := dbi.ModuleForSectionOffset(tc.sec, tc.off)
		assert.Equal(t, tc.find, ok, "%d:%x", tc.sec, tc.off)
		if tc.find {
			assert.Equal(t, tc.mod, mod, "%d:%x", tc.sec, tc.off)
		}
	}

	_, ok := dbi.DebugStream(streams.DebugStreamFPO)
	assert.False(t, ok)
}

func TestDBIRejectsBadSignature(t *testing.T) {
	data := make([]byte, 64)
	_, err := streams.ReadDBIStream(data)
	assert.True(t, errors.Is(err, streams.ErrBadDBI))
	_, err = streams.ReadDBIStream(data[:10])
	assert.True(t, errors.Is(err, streams.ErrBadDBI))
}
