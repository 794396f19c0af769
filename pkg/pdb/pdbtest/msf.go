// Package pdbtest builds synthetic PDB files in memory for tests.
package pdbtest

import (
	"encoding/binary"
	"math/rand"

	"github.com/jtang613/gosyms/pkg/pdb/msf"
)

// MSFBuilder lays out streams into an MSF 7.00 container.
type MSFBuilder struct {
	BlockSize uint32
	// Seed scatters stream blocks across the file in a pseudo-random
	// order when non-zero.
	Seed    int64
	streams [][]byte
	nilMask map[int]bool
}

// NewMSFBuilder returns a builder with the given block size.
func NewMSFBuilder(blockSize uint32) *MSFBuilder {
	return &MSFBuilder{BlockSize: blockSize, nilMask: map[int]bool{}}
}

// AddStream appends a stream and returns its number.
func (b *MSFBuilder) AddStream(data []byte) int {
	b.streams = append(b.streams, data)
	return len(b.streams) - 1
}

// SetStream stores data as stream i, growing the directory as needed.
func (b *MSFBuilder) SetStream(i int, data []byte) {
	for len(b.streams) <= i {
		b.streams = append(b.streams, nil)
	}
	b.streams[i] = data
	delete(b.nilMask, i)
}

// SetNilStream marks stream i as unused (size 0xFFFFFFFF).
func (b *MSFBuilder) SetNilStream(i int) {
	b.SetStream(i, nil)
	b.nilMask[i] = true
}

// NumStreams returns the number of streams added so far.
func (b *MSFBuilder) NumStreams() int {
	return len(b.streams)
}

// Build serialises the container.
func (b *MSFBuilder) Build() []byte {
	bs := b.BlockSize
	blocksFor := func(n int) int { return (n + int(bs) - 1) / int(bs) }

	dirSize := 4 + 4*len(b.streams)
	dataBlocks := 0
	for i, s := range b.streams {
		if b.nilMask[i] {
			continue
		}
		n := blocksFor(len(s))
		dataBlocks += n
		dirSize += 4 * n
	}
	dirBlocks := blocksFor(dirSize)
	mapBlocks := blocksFor(4 * dirBlocks)

	// Block 0 is the superblock, 1 and 2 the free block maps, then the
	// block map pages.
	firstFree := 3 + mapBlocks
	total := firstFree + dataBlocks + dirBlocks
	pool := make([]uint32, 0, dataBlocks+dirBlocks)
	for i := firstFree; i < total; i++ {
		pool = append(pool, uint32(i))
	}
	if b.Seed != 0 {
		r := rand.New(rand.NewSource(b.Seed))
		r.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	}
	take := func(n int) []uint32 {
		out := pool[:n:n]
		pool = pool[n:]
		return out
	}

	file := make([]byte, total*int(bs))
	le := binary.LittleEndian
	place := func(data []byte, blocks []uint32) {
		for i, blk := range blocks {
			start := i * int(bs)
			end := start + int(bs)
			if end > len(data) {
				end = len(data)
			}
			copy(file[int(blk)*int(bs):], data[start:end])
		}
	}

	dir := make([]byte, 0, dirSize)
	dir = le.AppendUint32(dir, uint32(len(b.streams)))
	for i, s := range b.streams {
		if b.nilMask[i] {
			dir = le.AppendUint32(dir, msf.NilStreamSize)
			continue
		}
		dir = le.AppendUint32(dir, uint32(len(s)))
	}
	for i, s := range b.streams {
		if b.nilMask[i] {
			continue
		}
		blocks := take(blocksFor(len(s)))
		place(s, blocks)
		for _, blk := range blocks {
			dir = le.AppendUint32(dir, blk)
		}
	}

	dirBlockList := take(dirBlocks)
	place(dir, dirBlockList)
	for i, blk := range dirBlockList {
		le.PutUint32(file[3*int(bs)+4*i:], blk)
	}
	for i := 1; i < mapBlocks; i++ {
		le.PutUint32(file[msf.SuperBlockSize+4*(i-1):], uint32(3+i))
	}

	copy(file, msf.MSFMagic)
	le.PutUint32(file[32:], bs)
	le.PutUint32(file[36:], 1)
	le.PutUint32(file[40:], uint32(total))
	le.PutUint32(file[44:], uint32(len(dir)))
	le.PutUint32(file[48:], 0)
	le.PutUint32(file[52:], 3)
	return file
}
