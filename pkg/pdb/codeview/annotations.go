package codeview

import (
	"github.com/pkg/errors"
)

// Binary annotation opcodes of S_INLINESITE records.
const (
	BAEnd                           = 0
	BACodeOffset                    = 1
	BAChangeCodeOffsetBase          = 2
	BAChangeCodeOffset              = 3
	BAChangeCodeLength              = 4
	BAChangeFile                    = 5
	BAChangeLineOffset              = 6
	BAChangeLineEndDelta            = 7
	BAChangeRangeKind               = 8
	BAChangeColumnStart             = 9
	BAChangeColumnEndDelta          = 10
	BAChangeCodeOffsetAndLineOffset = 11
	BAChangeCodeLengthAndCodeOffset = 12
	BAChangeColumnEnd               = 13
)

// ErrBadCompressedInt is returned for a compressed integer whose lead byte
// has the reserved 111xxxxx form.
var ErrBadCompressedInt = errors.New("codeview: invalid compressed integer")

// ReadCompressedUint decodes the one, two or four byte unsigned integer
// encoding used by binary annotations. It returns the value and the number
// of bytes consumed.
func ReadCompressedUint(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, errors.Wrap(ErrBadCompressedInt, "empty input")
	}
	switch {
	case b[0]&0x80 == 0x00:
		return uint32(b[0]), 1, nil
	case b[0]&0xc0 == 0x80:
		if len(b) < 2 {
			return 0, 0, errors.Wrap(ErrBadCompressedInt, "truncated two byte form")
		}
		return uint32(b[0]&0x3f)<<8 | uint32(b[1]), 2, nil
	case b[0]&0xe0 == 0xc0:
		if len(b) < 4 {
			return 0, 0, errors.Wrap(ErrBadCompressedInt, "truncated four byte form")
		}
		return uint32(b[0]&0x1f)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, nil
	}
	return 0, 0, errors.Wrapf(ErrBadCompressedInt, "lead byte 0x%02x", b[0])
}

// DecodeSignedCompressed maps the low-bit-sign encoding to a signed value.
func DecodeSignedCompressed(v uint32) int32 {
	if v&1 != 0 {
		return -int32(v >> 1)
	}
	return int32(v >> 1)
}

// AppendCompressedUint appends the compressed encoding of v, which must be
// below 1<<29.
func AppendCompressedUint(b []byte, v uint32) []byte {
	switch {
	case v < 0x80:
		return append(b, byte(v))
	case v < 0x4000:
		return append(b, byte(v>>8)|0x80, byte(v))
	}
	return append(b, byte(v>>24)|0xc0, byte(v>>16), byte(v>>8), byte(v))
}

// EncodeSignedCompressed is the inverse of DecodeSignedCompressed.
func EncodeSignedCompressed(v int32) uint32 {
	if v < 0 {
		return uint32(-v)<<1 | 1
	}
	return uint32(v) << 1
}

// AnnotationRange is one code range described by an annotation program.
// Offset is relative to the start of the enclosing procedure. A zero
// Length means the program never closed the range, so it runs to the end
// of the enclosing procedure.
type AnnotationRange struct {
	Offset    uint32
	Length    uint32
	LineDelta int32
	// File is a checksum offset; it is valid only when FileChanged is set,
	// otherwise the range is in the inlinee's declaring file.
	File        uint32
	FileChanged bool
	Column      uint32
	Expression  bool
}

// DecodeAnnotations runs an annotation program and returns its ranges in
// order. Decoding stops at BAEnd or at the end of b. Line and file
// changes apply to the range currently being described; opcodes that move
// the code offset close that range and open the next one.
func DecodeAnnotations(b []byte) ([]AnnotationRange, error) {
	var (
		out     []AnnotationRange
		cur     AnnotationRange
		open    bool
		sized   bool
		base    uint32
		offset  uint32
		line    int32
		file    uint32
		hasFile bool
		column  uint32
		expr    bool
		pos     int
	)

	read := func() (uint32, error) {
		v, n, err := ReadCompressedUint(b[pos:])
		if err != nil {
			return 0, errors.Wrapf(err, "annotation operand at %d", pos)
		}
		pos += n
		return v, nil
	}
	flush := func() {
		if !open {
			return
		}
		end := base + offset
		if !sized && end > cur.Offset {
			cur.Length = end - cur.Offset
		}
		cur.LineDelta = line
		cur.File = file
		cur.FileChanged = hasFile
		cur.Column = column
		cur.Expression = expr
		out = append(out, cur)
		open = false
	}
	start := func() {
		flush()
		cur = AnnotationRange{Offset: base + offset}
		open = true
		sized = false
	}

	for pos < len(b) {
		op, err := read()
		if err != nil {
			return out, err
		}
		if op == BAEnd {
			break
		}
		var v uint32
		if op <= BAChangeColumnEnd {
			if v, err = read(); err != nil {
				return out, err
			}
		}
		switch op {
		case BACodeOffset:
			offset = v
			start()
		case BAChangeCodeOffsetBase:
			base = v
		case BAChangeCodeOffset:
			offset += v
			start()
		case BAChangeCodeLength:
			if !open {
				start()
			}
			cur.Length = v
			sized = true
			offset += v
		case BAChangeFile:
			file = v
			hasFile = true
		case BAChangeLineOffset:
			line += DecodeSignedCompressed(v)
		case BAChangeLineEndDelta:
		case BAChangeRangeKind:
			expr = v == 1
		case BAChangeColumnStart, BAChangeColumnEnd:
			column = v
		case BAChangeColumnEndDelta:
			column = uint32(int32(column) + DecodeSignedCompressed(v))
		case BAChangeCodeOffsetAndLineOffset:
			offset += v & 0xf
			flush()
			line += DecodeSignedCompressed(v >> 4)
			start()
		case BAChangeCodeLengthAndCodeOffset:
			off, err := read()
			if err != nil {
				return out, err
			}
			offset += off
			start()
			cur.Length = v
			sized = true
			offset += v
		default:
			return out, errors.Wrapf(ErrMalformedRecord, "annotation opcode %d at %d", op, pos)
		}
	}
	flush()
	return out, nil
}
