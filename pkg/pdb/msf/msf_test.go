package msf_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/gosyms/pkg/pdb/msf"
	"github.com/jtang613/gosyms/pkg/pdb/pdbtest"
)

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7) ^ seed
	}
	return b
}

func TestPageStitchingRoundTrip(t *testing.T) {
	const blockSize = 512
	for pages := 1; pages <= 24; pages++ {
		b := pdbtest.NewMSFBuilder(blockSize)
		b.Seed = int64(pages)
		want := pattern(pages*blockSize-pages, byte(pages))
		b.AddStream([]byte("filler"))
		idx := b.AddStream(want)

		m, err := msf.FromBytes(b.Build())
		require.NoError(t, err, "pages=%d", pages)

		s, err := m.Stream(idx)
		require.NoError(t, err)
		got, err := io.ReadAll(&s)
		require.NoError(t, err)
		require.True(t, bytes.Equal(want, got), "pages=%d", pages)

		blocks, err := m.Pages(idx)
		require.NoError(t, err)
		assert.Len(t, blocks, pages)
	}
}

func TestStreamReadsAcrossBlockBoundary(t *testing.T) {
	b := pdbtest.NewMSFBuilder(512)
	b.Seed = 99
	data := pattern(2000, 3)
	idx := b.AddStream(data)
	m, err := msf.FromBytes(b.Build())
	require.NoError(t, err)

	s, err := m.Stream(idx)
	require.NoError(t, err)
	require.NoError(t, s.Seek(510))
	v, err := s.ReadU32()
	require.NoError(t, err)
	assert.Equal(t, binary.LittleEndian.Uint32(data[510:]), v)

	sub, err := s.Subset(1020, 10)
	require.NoError(t, err)
	got, err := sub.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, data[1020:1030], got)
}

func TestLargeDirectorySpansBlocks(t *testing.T) {
	b := pdbtest.NewMSFBuilder(512)
	b.Seed = 7
	for i := 0; i < 200; i++ {
		b.AddStream(pattern(40, byte(i)))
	}
	m, err := msf.FromBytes(b.Build())
	require.NoError(t, err)
	require.Greater(t, m.SuperBlock().NumDirectoryBlocks(), uint32(1))
	assert.Equal(t, 200, m.NumStreams())

	got, err := m.ReadStream(150)
	require.NoError(t, err)
	assert.Equal(t, pattern(40, 150), got)
}

func TestBlockMapSpansPages(t *testing.T) {
	const blockSize = 512
	build := func() []byte {
		b := pdbtest.NewMSFBuilder(blockSize)
		b.Seed = 11
		for i := 0; i < 20000; i++ {
			b.AddStream([]byte{})
		}
		b.AddStream(pattern(700, 5))
		return b.Build()
	}

	m, err := msf.FromBytes(build())
	require.NoError(t, err)
	require.Greater(t, m.SuperBlock().NumDirectoryBlocks(), uint32(blockSize/4))
	assert.Equal(t, 20001, m.NumStreams())
	got, err := m.ReadStream(20000)
	require.NoError(t, err)
	assert.Equal(t, pattern(700, 5), got)

	file := build()
	binary.LittleEndian.PutUint32(file[msf.SuperBlockSize:], 0)
	_, err = msf.FromBytes(file)
	assert.True(t, errors.Is(err, msf.ErrCorruptedContainer), "got %v", err)
}

func TestNilAndMissingStreams(t *testing.T) {
	b := pdbtest.NewMSFBuilder(512)
	b.AddStream([]byte("a"))
	b.SetNilStream(1)
	m, err := msf.FromBytes(b.Build())
	require.NoError(t, err)

	size, err := m.StreamSize(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), size)
	data, err := m.ReadStream(1)
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = m.Stream(5)
	assert.True(t, errors.Is(err, msf.ErrNoSuchStream))
}

func TestInvalidSignature(t *testing.T) {
	file := pdbtest.NewMSFBuilder(512).Build()
	file[0] = 'X'
	_, err := msf.FromBytes(file)
	require.Error(t, err)
	assert.True(t, errors.Is(err, msf.ErrInvalidSignature))

	_, err = msf.FromBytes([]byte("short"))
	assert.True(t, errors.Is(err, msf.ErrInvalidSignature))
}

func TestCorruptedContainer(t *testing.T) {
	good := func() []byte {
		b := pdbtest.NewMSFBuilder(512)
		b.AddStream(pattern(1500, 1))
		return b.Build()
	}

	cases := map[string]func([]byte) []byte{
		"block size": func(f []byte) []byte {
			binary.LittleEndian.PutUint32(f[32:], 1000)
			return f
		},
		"free block map": func(f []byte) []byte {
			binary.LittleEndian.PutUint32(f[36:], 5)
			return f
		},
		"blocks exceed file": func(f []byte) []byte {
			binary.LittleEndian.PutUint32(f[40:], 1000)
			return f
		},
		"truncated file": func(f []byte) []byte {
			return f[:len(f)-512]
		},
		"directory block out of range": func(f []byte) []byte {
			binary.LittleEndian.PutUint32(f[3*512:], 0xFFFF)
			return f
		},
	}
	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := msf.FromBytes(corrupt(good()))
			require.Error(t, err)
			assert.True(t, errors.Is(err, msf.ErrCorruptedContainer), "got %v", err)
		})
	}
}

func TestOpenFromDisk(t *testing.T) {
	b := pdbtest.NewMSFBuilder(1024)
	b.Seed = 5
	want := pattern(5000, 9)
	idx := b.AddStream(want)
	path := filepath.Join(t.TempDir(), "test.pdb")
	require.NoError(t, os.WriteFile(path, b.Build(), 0o644))

	m, err := msf.Open(path)
	require.NoError(t, err)
	defer m.Close()
	got, err := m.ReadStream(idx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
