package streams

import (
	"bytes"
	"encoding/binary"

	"github.com/jtang613/gosyms/pkg/bytestream"
	"github.com/jtang613/gosyms/pkg/pdb/codeview"
	"github.com/jtang613/gosyms/pkg/pdb/msf"
	"github.com/pkg/errors"
)

// TPI Stream versions
const (
	TPIStreamVersion40  = 19950410
	TPIStreamVersion41  = 19951122
	TPIStreamVersion50  = 19961031
	TPIStreamVersionV70 = 19990903
	TPIStreamVersionV80 = 20040203
)

// Hash bucket count bounds accepted for the TPI hash substream.
const (
	minHashBuckets = 0x1000
	maxHashBuckets = 0x40000
)

// ErrBadTypeStream is returned when a TPI or IPI header is inconsistent
// with the stream it describes.
var ErrBadTypeStream = errors.New("streams: malformed type stream")

const invalidOffset = ^uint32(0)

// TPIHeader is the header of the TPI and IPI streams.
type TPIHeader struct {
	Version                 uint32
	HeaderSize              uint32
	TypeIndexBegin          uint32
	TypeIndexEnd            uint32
	TypeRecordBytes         uint32
	HashStreamIndex         uint16
	HashAuxStreamIndex      uint16
	HashKeySize             uint32
	NumHashBuckets          uint32
	HashValueBufferOffset   int32
	HashValueBufferLength   uint32
	IndexOffsetBufferOffset int32
	IndexOffsetBufferLength uint32
	HashAdjBufferOffset     int32
	HashAdjBufferLength     uint32
}

// TypeMap indexes the records of a TPI or IPI stream. It is immutable once
// built and safe for concurrent readers.
type TypeMap struct {
	Header  TPIHeader
	records []byte
	offsets []uint32
	buckets [][]codeview.TypeIndex
	adj     map[string]codeview.TypeIndex
	linear  bool
}

// BuildTypeMap reads the type stream numbered stream. Record offsets come
// from the index-offset substream when it agrees with the records and from
// a linear walk otherwise. Name lookups use the hash substream when it
// passes validation; names, when non-nil, resolves hash adjuster entries.
func BuildTypeMap(m *msf.MSF, stream int, names *StringTable) (*TypeMap, error) {
	data, err := m.ReadStream(stream)
	if err != nil {
		return nil, errors.Wrapf(err, "type stream %d", stream)
	}
	if len(data) == 0 {
		return emptyTypeMap(), nil
	}

	var header TPIHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(ErrBadTypeStream, "failed to read TPI header")
	}
	if header.Version != TPIStreamVersionV80 && header.Version != TPIStreamVersionV70 {
		return nil, errors.Wrapf(ErrBadTypeStream, "unsupported TPI version: %d", header.Version)
	}
	if header.HeaderSize < uint32(binary.Size(header)) ||
		uint64(header.HeaderSize)+uint64(header.TypeRecordBytes) > uint64(len(data)) {
		return nil, errors.Wrapf(ErrBadTypeStream, "header size %d and %d record bytes exceed stream of %d",
			header.HeaderSize, header.TypeRecordBytes, len(data))
	}
	if header.TypeIndexBegin < uint32(codeview.TypeIndexBegin) || header.TypeIndexEnd < header.TypeIndexBegin {
		return nil, errors.Wrapf(ErrBadTypeStream, "type index range [0x%x, 0x%x)", header.TypeIndexBegin, header.TypeIndexEnd)
	}
	count := header.TypeIndexEnd - header.TypeIndexBegin
	if uint64(count)*4 > uint64(header.TypeRecordBytes) {
		return nil, errors.Wrapf(ErrBadTypeStream, "%d types cannot fit in %d bytes", count, header.TypeRecordBytes)
	}

	tm := &TypeMap{
		Header:  header,
		records: data[header.HeaderSize : header.HeaderSize+header.TypeRecordBytes],
		offsets: make([]uint32, count),
	}

	var hashData []byte
	if header.HashStreamIndex != 0xffff {
		hashData, _ = m.ReadStream(int(header.HashStreamIndex))
	}
	if !tm.indexFromOffsets(hashData) {
		tm.indexLinear()
	}
	tm.loadBuckets(hashData)
	tm.loadHashAdj(hashData, names)
	return tm, nil
}

func emptyTypeMap() *TypeMap {
	lo := uint32(codeview.TypeIndexBegin)
	return &TypeMap{Header: TPIHeader{TypeIndexBegin: lo, TypeIndexEnd: lo}}
}

// substream returns [off, off+n) of b, or nil when the range is invalid.
func substream(b []byte, off int32, n uint32) []byte {
	if off < 0 || uint64(off)+uint64(n) > uint64(len(b)) {
		return nil
	}
	return b[off : uint32(off)+n]
}

// recordEnd returns the offset just past the record at off, or false if
// the record overruns the buffer.
func (t *TypeMap) recordEnd(off uint32) (uint32, bool) {
	if uint64(off)+4 > uint64(len(t.records)) {
		return 0, false
	}
	n := uint32(binary.LittleEndian.Uint16(t.records[off:]))
	if n < 2 || uint64(off)+2+uint64(n) > uint64(len(t.records)) {
		return 0, false
	}
	return off + 2 + n, true
}

func (t *TypeMap) indexLinear() {
	var off uint32
	ok := true
	for i := range t.offsets {
		if !ok {
			t.offsets[i] = invalidOffset
			continue
		}
		var end uint32
		if end, ok = t.recordEnd(off); !ok {
			t.offsets[i] = invalidOffset
			continue
		}
		t.offsets[i] = off
		off = end
	}
}

// indexFromOffsets fills offsets block by block from the (ti, offset)
// pairs of the hash stream. It reports false when the pairs disagree with
// the records so the caller can walk linearly instead.
func (t *TypeMap) indexFromOffsets(hashData []byte) bool {
	h := t.Header
	pairs := substream(hashData, h.IndexOffsetBufferOffset, h.IndexOffsetBufferLength)
	if len(pairs) == 0 || len(pairs)%8 != 0 || len(t.offsets) == 0 {
		return false
	}
	le := binary.LittleEndian
	n := len(pairs) / 8
	if le.Uint32(pairs) != h.TypeIndexBegin || le.Uint32(pairs[4:]) != 0 {
		return false
	}
	for b := 0; b < n; b++ {
		ti := le.Uint32(pairs[b*8:])
		off := le.Uint32(pairs[b*8+4:])
		next := h.TypeIndexEnd
		if b+1 < n {
			next = le.Uint32(pairs[(b+1)*8:])
		}
		if ti < h.TypeIndexBegin || next > h.TypeIndexEnd || next <= ti {
			return false
		}
		for ; ti < next; ti++ {
			end, ok := t.recordEnd(off)
			if !ok {
				return false
			}
			t.offsets[ti-h.TypeIndexBegin] = off
			off = end
		}
		if b+1 < n && off != le.Uint32(pairs[(b+1)*8+4:]) {
			return false
		}
	}
	return true
}

// loadBuckets builds the name hash chains when the hash values substream
// is consistent with the header. Chains list type indices in ascending
// order.
func (t *TypeMap) loadBuckets(hashData []byte) {
	h := t.Header
	count := len(t.offsets)
	if h.HashKeySize != 4 || h.NumHashBuckets < minHashBuckets || h.NumHashBuckets >= maxHashBuckets || count == 0 {
		return
	}
	vals := substream(hashData, h.HashValueBufferOffset, h.HashValueBufferLength)
	if len(vals) != 4*count {
		return
	}
	buckets := make([][]codeview.TypeIndex, h.NumHashBuckets)
	for i := 0; i < count; i++ {
		b := binary.LittleEndian.Uint32(vals[i*4:])
		if b >= h.NumHashBuckets {
			return
		}
		buckets[b] = append(buckets[b], codeview.TypeIndex(h.TypeIndexBegin+uint32(i)))
	}
	t.buckets = buckets
}

func (t *TypeMap) loadHashAdj(hashData []byte, names *StringTable) {
	h := t.Header
	if names == nil || h.HashAdjBufferLength == 0 || h.HashAdjBufferLength == ^uint32(0) {
		return
	}
	sub := substream(hashData, h.HashAdjBufferOffset, h.HashAdjBufferLength)
	if sub == nil {
		return
	}
	s := bytestream.NewBuffer(sub)
	entries, err := readHashTable(&s)
	if err != nil {
		return
	}
	for _, e := range entries {
		ti := codeview.TypeIndex(e.Value)
		name, ok := names.String(e.Key)
		if !ok || !t.inRange(ti) {
			continue
		}
		if t.adj == nil {
			t.adj = make(map[string]codeview.TypeIndex)
		}
		t.adj[name] = ti
	}
}

func (t *TypeMap) inRange(ti codeview.TypeIndex) bool {
	return uint32(ti) >= t.Header.TypeIndexBegin && uint32(ti) < t.Header.TypeIndexEnd
}

// TILo returns the first type index stored in the stream.
func (t *TypeMap) TILo() codeview.TypeIndex { return codeview.TypeIndex(t.Header.TypeIndexBegin) }

// TIHi returns one past the last type index stored in the stream.
func (t *TypeMap) TIHi() codeview.TypeIndex { return codeview.TypeIndex(t.Header.TypeIndexEnd) }

// Count returns the number of type records.
func (t *TypeMap) Count() int { return len(t.offsets) }

// HasHash reports whether name lookups go through the hash substream.
func (t *TypeMap) HasHash() bool { return t.buckets != nil && !t.linear }

// ForceLinear returns a view of the map that resolves names by scanning
// every record. Both views answer every query identically.
func (t *TypeMap) ForceLinear() *TypeMap {
	c := *t
	c.linear = true
	return &c
}

// FindByIndex returns the raw record for ti.
func (t *TypeMap) FindByIndex(ti codeview.TypeIndex) (codeview.Record, bool) {
	if !t.inRange(ti) {
		return codeview.Record{}, false
	}
	off := t.offsets[uint32(ti)-t.Header.TypeIndexBegin]
	if off == invalidOffset {
		return codeview.Record{}, false
	}
	end, ok := t.recordEnd(off)
	if !ok {
		return codeview.Record{}, false
	}
	return codeview.Record{
		Index: ti,
		Kind:  binary.LittleEndian.Uint16(t.records[off+2:]),
		Data:  t.records[off+4 : end : end],
	}, true
}

// FindByName returns the complete aggregate definition named name. When
// several records match, hash adjuster entries win, then the lowest index.
// Forward declarations never match.
func (t *TypeMap) FindByName(name string) (codeview.TypeIndex, bool) {
	if ti, ok := t.adj[name]; ok {
		return ti, true
	}
	if t.HasHash() {
		b := HashStringV1(name) % t.Header.NumHashBuckets
		for _, ti := range t.buckets[b] {
			if t.definesName(ti, name) {
				return ti, true
			}
		}
		return 0, false
	}
	for ti := t.TILo(); ti < t.TIHi(); ti++ {
		if t.definesName(ti, name) {
			return ti, true
		}
	}
	return 0, false
}

func (t *TypeMap) definesName(ti codeview.TypeIndex, name string) bool {
	rec, ok := t.FindByIndex(ti)
	if !ok {
		return false
	}
	n, fwd, ok := codeview.UDTName(rec)
	return ok && !fwd && n == name
}

// FindUDTSrcLine returns the LF_UDT_SRC_LINE or LF_UDT_MOD_SRC_LINE item
// describing where udt was defined. It is meaningful on the IPI map, whose
// hash chains key these items by the 4-byte type index.
func (t *TypeMap) FindUDTSrcLine(udt codeview.TypeIndex) (codeview.Type, bool) {
	match := func(ti codeview.TypeIndex) (codeview.Type, bool) {
		rec, ok := t.FindByIndex(ti)
		if !ok || (rec.Kind != codeview.LF_UDT_SRC_LINE && rec.Kind != codeview.LF_UDT_MOD_SRC_LINE) {
			return codeview.Type{}, false
		}
		if len(rec.Data) < 4 || codeview.TypeIndex(binary.LittleEndian.Uint32(rec.Data)) != udt {
			return codeview.Type{}, false
		}
		typ, err := codeview.Normalize(t, ti)
		return typ, err == nil
	}
	if t.HasHash() {
		var key [4]byte
		binary.LittleEndian.PutUint32(key[:], uint32(udt))
		for _, ti := range t.buckets[HashV1(key[:])%t.Header.NumHashBuckets] {
			if typ, ok := match(ti); ok {
				return typ, true
			}
		}
		return codeview.Type{}, false
	}
	for ti := t.TILo(); ti < t.TIHi(); ti++ {
		if typ, ok := match(ti); ok {
			return typ, true
		}
	}
	return codeview.Type{}, false
}
