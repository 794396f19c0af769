package pdbtest

import (
	"encoding/binary"

	"github.com/jtang613/gosyms/pkg/pdb/codeview"
	"github.com/jtang613/gosyms/pkg/pdb/streams"
)

// TypeBuilder accumulates TPI or IPI records.
type TypeBuilder struct {
	// Buckets enables the hash values substream when non-zero.
	Buckets uint32
	// IndexEvery controls the index-offset substream: one (ti, offset)
	// pair every IndexEvery records. Zero omits the substream.
	IndexEvery int
	// CorruptHash stores an out-of-range bucket for the first record.
	CorruptHash bool

	recs [][]byte
	adj  []adjEntry
}

type adjEntry struct {
	name string
	ti   codeview.TypeIndex
}

// NewTypeBuilder returns a builder with a hash substream of 0x1000
// buckets and an index pair for every record.
func NewTypeBuilder() *TypeBuilder {
	return &TypeBuilder{Buckets: 0x1000, IndexEvery: 1}
}

// Next returns the index the next added record will receive.
func (b *TypeBuilder) Next() codeview.TypeIndex {
	return codeview.TypeIndexBegin + codeview.TypeIndex(len(b.recs))
}

// Add appends a record and returns its type index.
func (b *TypeBuilder) Add(kind uint16, payload []byte) codeview.TypeIndex {
	w := &Writer{}
	w.U16(0).U16(kind).Bytes(payload).PadLeaf()
	binary.LittleEndian.PutUint16(w.B, uint16(len(w.B)-2))
	ti := b.Next()
	b.recs = append(b.recs, w.B)
	return ti
}

// Records returns the added records in index order.
func (b *TypeBuilder) Records() []codeview.Record {
	out := make([]codeview.Record, len(b.recs))
	for i, r := range b.recs {
		out[i] = codeview.Record{
			Index: codeview.TypeIndexBegin + codeview.TypeIndex(i),
			Kind:  binary.LittleEndian.Uint16(r[2:]),
			Data:  r[4:],
		}
	}
	return out
}

// Adjust records a hash adjuster entry mapping name to ti.
func (b *TypeBuilder) Adjust(name string, ti codeview.TypeIndex) {
	b.adj = append(b.adj, adjEntry{name, ti})
}

// Pointer adds an LF_POINTER to ti with the given attribute word.
func (b *TypeBuilder) Pointer(ti codeview.TypeIndex, attr uint32) codeview.TypeIndex {
	w := &Writer{}
	return b.Add(codeview.LF_POINTER, w.TI(ti).U32(attr).B)
}

// Pointer64 adds a plain 64-bit pointer to ti.
func (b *TypeBuilder) Pointer64(ti codeview.TypeIndex) codeview.TypeIndex {
	return b.Pointer(ti, codeview.Ptr64|8<<13)
}

// Modifier adds an LF_MODIFIER.
func (b *TypeBuilder) Modifier(ti codeview.TypeIndex, attr uint16) codeview.TypeIndex {
	w := &Writer{}
	return b.Add(codeview.LF_MODIFIER, w.TI(ti).U16(attr).U16(0).B)
}

// Array adds an LF_ARRAY of size bytes.
func (b *TypeBuilder) Array(elem, index codeview.TypeIndex, size uint64) codeview.TypeIndex {
	w := &Writer{}
	return b.Add(codeview.LF_ARRAY, w.TI(elem).TI(index).Numeric(size).Str("").B)
}

// ArgList adds an LF_ARGLIST.
func (b *TypeBuilder) ArgList(args ...codeview.TypeIndex) codeview.TypeIndex {
	w := &Writer{}
	w.U32(uint32(len(args)))
	for _, a := range args {
		w.TI(a)
	}
	return b.Add(codeview.LF_ARGLIST, w.B)
}

// Procedure adds an LF_PROCEDURE with a new argument list.
func (b *TypeBuilder) Procedure(ret codeview.TypeIndex, args ...codeview.TypeIndex) codeview.TypeIndex {
	al := b.ArgList(args...)
	w := &Writer{}
	return b.Add(codeview.LF_PROCEDURE, w.TI(ret).U8(0).U8(0).U16(uint16(len(args))).TI(al).B)
}

// Struct adds an LF_STRUCTURE. A zero field list with PropFwdRef set
// declares a forward reference.
func (b *TypeBuilder) Struct(name string, fieldList codeview.TypeIndex, count uint16, props uint16, size uint64) codeview.TypeIndex {
	return b.aggregate(codeview.LF_STRUCTURE, name, fieldList, count, props, size)
}

// Class adds an LF_CLASS.
func (b *TypeBuilder) Class(name string, fieldList codeview.TypeIndex, count uint16, props uint16, size uint64) codeview.TypeIndex {
	return b.aggregate(codeview.LF_CLASS, name, fieldList, count, props, size)
}

func (b *TypeBuilder) aggregate(kind uint16, name string, fieldList codeview.TypeIndex, count, props uint16, size uint64) codeview.TypeIndex {
	w := &Writer{}
	w.U16(count).U16(props).TI(fieldList).TI(0).TI(0).Numeric(size).Str(name)
	return b.Add(kind, w.B)
}

// Union adds an LF_UNION.
func (b *TypeBuilder) Union(name string, fieldList codeview.TypeIndex, count uint16, props uint16, size uint64) codeview.TypeIndex {
	w := &Writer{}
	w.U16(count).U16(props).TI(fieldList).Numeric(size).Str(name)
	return b.Add(codeview.LF_UNION, w.B)
}

// Enum adds an LF_ENUM.
func (b *TypeBuilder) Enum(name string, underlying, fieldList codeview.TypeIndex, count uint16, props uint16) codeview.TypeIndex {
	w := &Writer{}
	w.U16(count).U16(props).TI(underlying).TI(fieldList).Str(name)
	return b.Add(codeview.LF_ENUM, w.B)
}

// Bitfield adds an LF_BITFIELD.
func (b *TypeBuilder) Bitfield(base codeview.TypeIndex, length, position uint8) codeview.TypeIndex {
	w := &Writer{}
	return b.Add(codeview.LF_BITFIELD, w.TI(base).U8(length).U8(position).B)
}

// FuncID adds an IPI LF_FUNC_ID.
func (b *TypeBuilder) FuncID(scope, sig codeview.TypeIndex, name string) codeview.TypeIndex {
	w := &Writer{}
	return b.Add(codeview.LF_FUNC_ID, w.TI(scope).TI(sig).Str(name).B)
}

// UDTSrcLine adds an IPI LF_UDT_SRC_LINE; file is a string id.
func (b *TypeBuilder) UDTSrcLine(udt, file codeview.TypeIndex, line uint32) codeview.TypeIndex {
	w := &Writer{}
	return b.Add(codeview.LF_UDT_SRC_LINE, w.TI(udt).TI(file).U32(line).B)
}

// StringID adds an IPI LF_STRING_ID.
func (b *TypeBuilder) StringID(s string) codeview.TypeIndex {
	w := &Writer{}
	return b.Add(codeview.LF_STRING_ID, w.TI(0).Str(s).B)
}

// FieldList encodes field list entries into one LF_FIELDLIST record.
type FieldList struct {
	w Writer
}

// Member appends an LF_MEMBER.
func (f *FieldList) Member(name string, ti codeview.TypeIndex, offset uint64) *FieldList {
	f.w.U16(codeview.LF_MEMBER).U16(3).TI(ti).Numeric(offset).Str(name).PadLeaf()
	return f
}

// StaticMember appends an LF_STMEMBER.
func (f *FieldList) StaticMember(name string, ti codeview.TypeIndex) *FieldList {
	f.w.U16(codeview.LF_STMEMBER).U16(3).TI(ti).Str(name).PadLeaf()
	return f
}

// Base appends an LF_BCLASS.
func (f *FieldList) Base(ti codeview.TypeIndex, offset uint64) *FieldList {
	f.w.U16(codeview.LF_BCLASS).U16(3).TI(ti).Numeric(offset).PadLeaf()
	return f
}

// Enumerate appends an LF_ENUMERATE.
func (f *FieldList) Enumerate(name string, value int64) *FieldList {
	f.w.U16(codeview.LF_ENUMERATE).U16(3).SignedNumeric(value).Str(name).PadLeaf()
	return f
}

// OneMethod appends an LF_ONEMETHOD; introducing virtuals carry a vtable
// offset.
func (f *FieldList) OneMethod(name string, attr uint16, ti codeview.TypeIndex, vtoff uint32) *FieldList {
	f.w.U16(codeview.LF_ONEMETHOD).U16(attr).TI(ti)
	if p := (attr >> 2) & 7; p == codeview.MethodIntro || p == codeview.MethodPureIntro {
		f.w.U32(vtoff)
	}
	f.w.Str(name).PadLeaf()
	return f
}

// Nested appends an LF_NESTTYPE.
func (f *FieldList) Nested(name string, ti codeview.TypeIndex) *FieldList {
	f.w.U16(codeview.LF_NESTTYPE).U16(0).TI(ti).Str(name).PadLeaf()
	return f
}

// Continue appends an LF_INDEX continuation to another field list.
func (f *FieldList) Continue(ti codeview.TypeIndex) *FieldList {
	f.w.U16(codeview.LF_INDEX).U16(0).TI(ti)
	return f
}

// Raw appends bytes verbatim.
func (f *FieldList) Raw(b ...byte) *FieldList {
	f.w.Bytes(b)
	return f
}

// FieldList adds the accumulated entries as an LF_FIELDLIST.
func (b *TypeBuilder) FieldList(f *FieldList) codeview.TypeIndex {
	return b.Add(codeview.LF_FIELDLIST, f.w.B)
}

// hashValue returns the bucket a PDB writer would store for rec.
func (b *TypeBuilder) hashValue(i int, rec codeview.Record) uint32 {
	if name, fwd, ok := codeview.UDTName(rec); ok && !fwd {
		return streams.HashStringV1(name) % b.Buckets
	}
	if rec.Kind == codeview.LF_UDT_SRC_LINE || rec.Kind == codeview.LF_UDT_MOD_SRC_LINE {
		return streams.HashV1(rec.Data[:4]) % b.Buckets
	}
	return uint32(i*7919) % b.Buckets
}

// Build serialises the type stream and its hash stream. hashStream is the
// stream number the header should reference; names resolves adjuster
// names and may be nil when no adjusters were added.
func (b *TypeBuilder) Build(hashStream uint16, names *StringTableBuilder) (tpi, hash []byte) {
	var records []byte
	offsets := make([]uint32, len(b.recs))
	for i, r := range b.recs {
		offsets[i] = uint32(len(records))
		records = append(records, r...)
	}

	h := &Writer{}
	hdr := streams.TPIHeader{
		Version:                 streams.TPIStreamVersionV80,
		HeaderSize:              uint32(binary.Size(streams.TPIHeader{})),
		TypeIndexBegin:          uint32(codeview.TypeIndexBegin),
		TypeIndexEnd:            uint32(b.Next()),
		TypeRecordBytes:         uint32(len(records)),
		HashStreamIndex:         hashStream,
		HashAuxStreamIndex:      0xffff,
		HashKeySize:             4,
		NumHashBuckets:          b.Buckets,
		HashValueBufferOffset:   -1,
		IndexOffsetBufferOffset: -1,
		HashAdjBufferOffset:     -1,
	}

	if b.Buckets > 0 {
		hdr.HashValueBufferOffset = int32(h.Len())
		for i, r := range b.recs {
			rec := codeview.Record{Kind: binary.LittleEndian.Uint16(r[2:]), Data: r[4:]}
			v := b.hashValue(i, rec)
			if i == 0 && b.CorruptHash {
				v = b.Buckets + 1
			}
			h.U32(v)
		}
		hdr.HashValueBufferLength = uint32(h.Len()) - uint32(hdr.HashValueBufferOffset)
	}
	if b.IndexEvery > 0 {
		hdr.IndexOffsetBufferOffset = int32(h.Len())
		for i := 0; i < len(b.recs); i += b.IndexEvery {
			h.U32(uint32(codeview.TypeIndexBegin) + uint32(i)).U32(offsets[i])
		}
		hdr.IndexOffsetBufferLength = uint32(h.Len()) - uint32(hdr.IndexOffsetBufferOffset)
	}
	if len(b.adj) > 0 && names != nil {
		hdr.HashAdjBufferOffset = int32(h.Len())
		kv := make([][2]uint32, len(b.adj))
		for i, a := range b.adj {
			kv[i] = [2]uint32{names.Add(a.name), uint32(a.ti)}
		}
		writeHashTable(h, kv)
		hdr.HashAdjBufferLength = uint32(h.Len()) - uint32(hdr.HashAdjBufferOffset)
	}

	out := &Writer{}
	writeStruct(out, hdr)
	out.Bytes(records)
	return out.B, h.B
}

// writeHashTable serialises kv as a fully packed open-addressing table.
func writeHashTable(w *Writer, kv [][2]uint32) {
	n := uint32(len(kv))
	words := (n + 31) / 32
	w.U32(n).U32(n).U32(words)
	for i := uint32(0); i < words; i++ {
		bits := uint32(0xffffffff)
		if rem := n - i*32; rem < 32 {
			bits = 1<<rem - 1
		}
		w.U32(bits)
	}
	w.U32(0)
	for _, e := range kv {
		w.U32(e[0]).U32(e[1])
	}
}

func writeStruct(w *Writer, v interface{}) {
	var buf sliceWriter
	binary.Write(&buf, binary.LittleEndian, v)
	w.Bytes(buf)
}

type sliceWriter []byte

func (s *sliceWriter) Write(p []byte) (int, error) {
	*s = append(*s, p...)
	return len(p), nil
}
