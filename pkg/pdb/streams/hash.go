package streams

import (
	"encoding/binary"

	"github.com/jtang613/gosyms/pkg/bytestream"
	"github.com/pkg/errors"
)

// HashV1 is the string hash used by the PDB name tables and the TPI hash
// substream. The low bits are folded after forcing every byte to lower
// case, so the hash is insensitive to ASCII letter case.
func HashV1(b []byte) uint32 {
	var h uint32
	n := len(b) / 4
	for i := 0; i < n; i++ {
		h ^= binary.LittleEndian.Uint32(b[i*4:])
	}
	rest := b[n*4:]
	if len(rest) >= 2 {
		h ^= uint32(binary.LittleEndian.Uint16(rest))
		rest = rest[2:]
	}
	if len(rest) == 1 {
		h ^= uint32(rest[0])
	}
	h |= 0x20202020
	h ^= h >> 11
	return h ^ (h >> 16)
}

// HashStringV1 hashes a string with HashV1.
func HashStringV1(s string) uint32 {
	return HashV1([]byte(s))
}

// HashStringV2 is the hash of version 2 /names tables.
func HashStringV2(s string) uint32 {
	h := uint32(0xb170a1bf)
	b := []byte(s)
	n := len(b) / 4
	for i := 0; i < n; i++ {
		h += binary.LittleEndian.Uint32(b[i*4:])
		h += h << 10
		h ^= h >> 6
	}
	for _, c := range b[n*4:] {
		h += uint32(c)
		h += h << 10
		h ^= h >> 6
	}
	return h*1664525 + 1013904223
}

// hashEntry is one present slot of a serialized hash table.
type hashEntry struct {
	Key   uint32
	Value uint32
}

// readHashTable decodes the serialized open-addressing table used by the
// named stream map and the TPI hash adjusters: size, capacity, present and
// deleted bit vectors, then one key/value pair per present slot.
func readHashTable(s *bytestream.Stream) ([]hashEntry, error) {
	size, err := s.ReadU32()
	if err != nil {
		return nil, errors.Wrap(err, "hash table size")
	}
	capacity, err := s.ReadU32()
	if err != nil {
		return nil, errors.Wrap(err, "hash table capacity")
	}
	if size > capacity {
		return nil, errors.Errorf("hash table holds %d entries in %d slots", size, capacity)
	}
	present, err := readBitVector(s)
	if err != nil {
		return nil, errors.Wrap(err, "present bits")
	}
	if _, err := readBitVector(s); err != nil {
		return nil, errors.Wrap(err, "deleted bits")
	}

	out := make([]hashEntry, 0, size)
	for i := uint32(0); i < capacity; i++ {
		if !isBitSet(present, i) {
			continue
		}
		var e hashEntry
		if e.Key, err = s.ReadU32(); err != nil {
			return out, errors.Wrapf(err, "hash table slot %d", i)
		}
		if e.Value, err = s.ReadU32(); err != nil {
			return out, errors.Wrapf(err, "hash table slot %d", i)
		}
		out = append(out, e)
	}
	return out, nil
}

func readBitVector(s *bytestream.Stream) ([]uint32, error) {
	n, err := s.ReadU32()
	if err != nil {
		return nil, err
	}
	if int64(n)*4 > s.Remaining() {
		return nil, errors.Wrapf(bytestream.ErrReadFailed, "bit vector of %d words", n)
	}
	words := make([]uint32, n)
	for i := range words {
		words[i], _ = s.ReadU32()
	}
	return words, nil
}

// isBitSet checks if bit n is set in the bit vector.
func isBitSet(words []uint32, n uint32) bool {
	wordIdx := n / 32
	bitIdx := n % 32
	if wordIdx >= uint32(len(words)) {
		return false
	}
	return (words[wordIdx] & (1 << bitIdx)) != 0
}
