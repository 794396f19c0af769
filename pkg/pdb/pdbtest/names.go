package pdbtest

import (
	"sort"

	"github.com/jtang613/gosyms/pkg/pdb/streams"
)

// StringTableBuilder builds a version 1 /names stream. Offset 0 always
// holds the empty string.
type StringTableBuilder struct {
	buf  []byte
	offs map[string]uint32
}

// NewStringTableBuilder returns an empty builder.
func NewStringTableBuilder() *StringTableBuilder {
	return &StringTableBuilder{buf: []byte{0}, offs: map[string]uint32{"": 0}}
}

// Add interns s and returns its offset.
func (b *StringTableBuilder) Add(s string) uint32 {
	if off, ok := b.offs[s]; ok {
		return off
	}
	off := uint32(len(b.buf))
	b.buf = append(append(b.buf, s...), 0)
	b.offs[s] = off
	return off
}

// Build serialises the table with a linear-probed hash index.
func (b *StringTableBuilder) Build() []byte {
	names := make([]string, 0, len(b.offs))
	for s := range b.offs {
		if s != "" {
			names = append(names, s)
		}
	}
	sort.Strings(names)

	n := uint32(len(names))*2 + 1
	buckets := make([]uint32, n)
	for _, s := range names {
		h := streams.HashStringV1(s)
		for i := uint32(0); ; i++ {
			slot := (h + i) % n
			if buckets[slot] == 0 {
				buckets[slot] = b.offs[s]
				break
			}
		}
	}

	w := &Writer{}
	w.U32(streams.StringTableSignature).U32(1).U32(uint32(len(b.buf))).Bytes(b.buf)
	w.U32(n)
	for _, v := range buckets {
		w.U32(v)
	}
	w.U32(uint32(len(names)))
	return w.B
}

// InfoStream builds a VC70 PDB info stream with the given named streams.
func InfoStream(age uint32, guid [16]byte, named map[string]uint32) []byte {
	w := &Writer{}
	w.U32(streams.PDBStreamVersionVC70).U32(0x5f3759df).U32(age).Bytes(guid[:])

	keys := make([]string, 0, len(named))
	for k := range named {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var strs []byte
	kv := make([][2]uint32, len(keys))
	for i, k := range keys {
		kv[i] = [2]uint32{uint32(len(strs)), named[k]}
		strs = append(append(strs, k...), 0)
	}
	w.U32(uint32(len(strs))).Bytes(strs)
	writeHashTable(w, kv)
	w.U32(0)
	w.U32(streams.PDBStreamVersionVC140)
	return w.B
}
