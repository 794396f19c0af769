package syms_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/gosyms/pkg/arena"
	"github.com/jtang613/gosyms/pkg/syms"
)

func TestLineTableOrdering(t *testing.T) {
	a := arena.New()
	lt, err := syms.NewLineTable(a, []syms.Line{
		{Addr: 0x30, File: "b.c", Line: 7},
		{Addr: 0x10, File: "a.c", Line: 1},
		{Addr: 0x20, End: true},
		{Addr: 0x20, File: "b.c", Line: 5},
		{Addr: 0x18, File: "a.c", Line: 2},
		{Addr: 0x40, End: true},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 6, lt.Len())
	assert.Equal(t, []string{"b.c", "a.c"}, lt.Files())
	assert.Positive(t, a.Used())

	rows := lt.Rows()
	assert.Equal(t, syms.Line{Addr: 0x20, End: true}, rows[2])
	assert.Equal(t, syms.Line{Addr: 0x20, File: "b.c", Line: 5}, rows[3])

	tests := []struct {
		addr uint64
		line uint32
		ok   bool
	}{
		{0x0f, 0, false},
		{0x10, 1, true},
		{0x1f, 2, true},
		{0x20, 5, true},
		{0x3f, 7, true},
		{0x40, 0, false},
		{0x100, 0, false},
	}
	for _, tc := range tests {
		l, ok := lt.LineForAddr(tc.addr)
		assert.Equal(t, tc.ok, ok, "0x%x", tc.addr)
		assert.Equal(t, tc.line, l.Line, "0x%x", tc.addr)
	}
}

func TestLineTableAddrFor(t *testing.T) {
	lt, err := syms.NewLineTable(nil, []syms.Line{
		{Addr: 0x100, File: `c:\src\a.cpp`, Line: 10},
		{Addr: 0x110, File: `c:\src\a.cpp`, Line: 12},
		{Addr: 0x108, File: `c:\src\a.cpp`, Line: 12},
		{Addr: 0x120, File: `C:/Src/A.cpp`, Line: 15},
		{Addr: 0x130, End: true},
	}, true)
	require.NoError(t, err)
	assert.Len(t, lt.Files(), 1)

	tests := []struct {
		file    string
		line    uint32
		addr    uint64
		matched uint32
		ok      bool
	}{
		{`c:\src\a.cpp`, 10, 0x100, 10, true},
		{`c:\src\a.cpp`, 11, 0x108, 12, true},
		{`A.CPP`, 13, 0x120, 15, true},
		{`src/a.cpp`, 1, 0x100, 10, true},
		{`.cpp`, 1, 0, 0, false},
		{`a.cpp`, 16, 0, 0, false},
		{`b.cpp`, 1, 0, 0, false},
	}
	for _, tc := range tests {
		addr, matched, ok := lt.AddrFor(tc.file, tc.line)
		assert.Equal(t, tc.ok, ok, "%s:%d", tc.file, tc.line)
		assert.Equal(t, tc.addr, addr, "%s:%d", tc.file, tc.line)
		assert.Equal(t, tc.matched, matched, "%s:%d", tc.file, tc.line)
	}
}

func TestLineTableArenaLimit(t *testing.T) {
	a := arena.New(arena.WithLimit(64))
	_, err := syms.NewLineTable(a, []syms.Line{{Addr: 1, File: "a.c", Line: 1}}, false)
	assert.ErrorIs(t, err, arena.ErrOutOfMemory)
}
