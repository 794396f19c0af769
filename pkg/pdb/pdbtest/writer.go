package pdbtest

import (
	"encoding/binary"

	"github.com/jtang613/gosyms/pkg/pdb/codeview"
)

// Writer appends little-endian fields to a byte slice.
type Writer struct {
	B []byte
}

// U8 appends a byte.
func (w *Writer) U8(v uint8) *Writer {
	w.B = append(w.B, v)
	return w
}

// U16 appends a uint16.
func (w *Writer) U16(v uint16) *Writer {
	w.B = binary.LittleEndian.AppendUint16(w.B, v)
	return w
}

// U32 appends a uint32.
func (w *Writer) U32(v uint32) *Writer {
	w.B = binary.LittleEndian.AppendUint32(w.B, v)
	return w
}

// U64 appends a uint64.
func (w *Writer) U64(v uint64) *Writer {
	w.B = binary.LittleEndian.AppendUint64(w.B, v)
	return w
}

// TI appends a type index.
func (w *Writer) TI(ti codeview.TypeIndex) *Writer {
	return w.U32(uint32(ti))
}

// Str appends a NUL-terminated string.
func (w *Writer) Str(s string) *Writer {
	w.B = append(append(w.B, s...), 0)
	return w
}

// Bytes appends raw bytes.
func (w *Writer) Bytes(b []byte) *Writer {
	w.B = append(w.B, b...)
	return w
}

// Numeric appends v in the shortest numeric leaf form.
func (w *Writer) Numeric(v uint64) *Writer {
	switch {
	case v < codeview.LF_NUMERIC:
		return w.U16(uint16(v))
	case v <= 0xffffffff:
		return w.U16(codeview.LF_ULONG).U32(uint32(v))
	}
	return w.U16(codeview.LF_UQUADWORD).U64(v)
}

// SignedNumeric appends a negative-capable numeric leaf.
func (w *Writer) SignedNumeric(v int64) *Writer {
	switch {
	case v >= 0 && v < codeview.LF_NUMERIC:
		return w.U16(uint16(v))
	case v >= -0x80 && v < 0x80:
		return w.U16(codeview.LF_CHAR).U8(uint8(v))
	case v >= -0x8000 && v < 0x8000:
		return w.U16(codeview.LF_SHORT).U16(uint16(v))
	case v >= -0x80000000 && v < 0x80000000:
		return w.U16(codeview.LF_LONG).U32(uint32(v))
	}
	return w.U16(codeview.LF_QUADWORD).U64(uint64(v))
}

// PadLeaf pads to a 4-byte boundary with LF_PAD bytes, the way field
// list entries and type records are padded.
func (w *Writer) PadLeaf() *Writer {
	for n := (4 - len(w.B)%4) % 4; n > 0; n-- {
		w.B = append(w.B, byte(0xf0+n))
	}
	return w
}

// Align pads with zero bytes to a multiple of n.
func (w *Writer) Align(n int) *Writer {
	for len(w.B)%n != 0 {
		w.B = append(w.B, 0)
	}
	return w
}

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.B) }
