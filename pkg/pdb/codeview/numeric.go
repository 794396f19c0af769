package codeview

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/jtang613/gosyms/pkg/bytestream"
	"github.com/pkg/errors"
)

var (
	// ErrTypeIndexOutOfRange is returned when a type index lies outside the
	// map and is not a known basic type.
	ErrTypeIndexOutOfRange = errors.New("codeview: type index out of range")
	// ErrUnsupportedRecordKind is returned for leaf or symbol kinds the
	// decoder does not model. Callers skip the record by its length.
	ErrUnsupportedRecordKind = errors.New("codeview: unsupported record kind")
)

// Numeric is a decoded numeric leaf. Type is the basic type describing
// how the value bytes are interpreted.
type Numeric struct {
	Type TypeIndex
	Size int
	raw  [16]byte
	str  string
}

// numericWidths maps numeric leaf tags to their basic type and byte width.
var numericWidths = map[uint16]struct {
	ti   TypeIndex
	size int
}{
	LF_CHAR:      {T_CHAR, 1},
	LF_SHORT:     {T_SHORT, 2},
	LF_USHORT:    {T_USHORT, 2},
	LF_LONG:      {T_LONG, 4},
	LF_ULONG:     {T_ULONG, 4},
	LF_REAL16:    {T_REAL16, 2},
	LF_REAL32:    {T_REAL32, 4},
	LF_REAL48:    {T_REAL48, 6},
	LF_REAL64:    {T_REAL64, 8},
	LF_REAL80:    {T_REAL80, 10},
	LF_REAL128:   {T_REAL128, 16},
	LF_QUADWORD:  {T_QUAD, 8},
	LF_UQUADWORD: {T_UQUAD, 8},
	LF_OCTWORD:   {T_OCT, 16},
	LF_UOCTWORD:  {T_UOCT, 16},
	LF_COMPLEX32: {T_CPLX32, 8},
	LF_COMPLEX64: {T_CPLX64, 16},
	LF_DATE:      {T_UQUAD, 8},
	LF_DECIMAL:   {T_OCT, 16},
}

// ReadNumeric decodes the numeric leaf at the start of b and returns the
// number of bytes consumed, tag included.
func ReadNumeric(b []byte) (Numeric, int, error) {
	if len(b) < 2 {
		return Numeric{}, 0, errors.Wrap(bytestream.ErrReadFailed, "numeric leaf tag")
	}
	tag := binary.LittleEndian.Uint16(b)
	if tag < LF_NUMERIC {
		n := Numeric{Type: T_USHORT, Size: 2}
		binary.LittleEndian.PutUint16(n.raw[:], tag)
		return n, 2, nil
	}

	switch tag {
	case LF_VARSTRING, LF_UTF8STRING:
		if tag == LF_UTF8STRING {
			i := bytes.IndexByte(b[2:], 0)
			if i < 0 {
				return Numeric{}, 0, errors.Wrap(bytestream.ErrReadFailed, "unterminated utf8 numeric")
			}
			return Numeric{Type: T_RCHAR, Size: i, str: string(b[2 : 2+i])}, 3 + i, nil
		}
		if len(b) < 4 {
			return Numeric{}, 0, errors.Wrap(bytestream.ErrReadFailed, "varstring length")
		}
		n := int(binary.LittleEndian.Uint16(b[2:]))
		if len(b) < 4+n {
			return Numeric{}, 0, errors.Wrapf(bytestream.ErrReadFailed, "varstring of %d bytes", n)
		}
		return Numeric{Type: T_RCHAR, Size: n, str: string(b[4 : 4+n])}, 4 + n, nil
	}

	w, ok := numericWidths[tag]
	if !ok {
		return Numeric{}, 0, errors.Wrapf(ErrUnsupportedRecordKind, "numeric leaf 0x%04x", tag)
	}
	if len(b) < 2+w.size {
		return Numeric{}, 0, errors.Wrapf(bytestream.ErrReadFailed, "numeric leaf 0x%04x needs %d bytes", tag, w.size)
	}
	n := Numeric{Type: w.ti, Size: w.size}
	copy(n.raw[:], b[2:2+w.size])
	return n, 2 + w.size, nil
}

// ReadNumericFrom decodes a numeric leaf at the cursor of s. On failure
// the cursor is unchanged.
func ReadNumericFrom(s *bytestream.Stream) (Numeric, error) {
	start := s.Offset()
	var head [2]byte
	if err := s.ReadFull(head[:]); err != nil {
		return Numeric{}, err
	}
	tag := binary.LittleEndian.Uint16(head[:])
	need := 0
	switch {
	case tag < LF_NUMERIC:
	case tag == LF_VARSTRING:
		l, err := s.ReadU16()
		if err != nil {
			s.Seek(start)
			return Numeric{}, err
		}
		need = 2 + int(l)
		s.Seek(start + 2)
	case tag == LF_UTF8STRING:
		rest := s.Rest()
		str, err := rest.ReadCString()
		if err != nil {
			s.Seek(start)
			return Numeric{}, err
		}
		need = len(str) + 1
	default:
		w, ok := numericWidths[tag]
		if !ok {
			s.Seek(start)
			return Numeric{}, errors.Wrapf(ErrUnsupportedRecordKind, "numeric leaf 0x%04x", tag)
		}
		need = w.size
	}
	body, err := s.ReadBytes(need)
	if err != nil {
		s.Seek(start)
		return Numeric{}, err
	}
	n, _, err := ReadNumeric(append(head[:], body...))
	if err != nil {
		s.Seek(start)
	}
	return n, err
}

// IsSigned reports whether the value is a signed integer.
func (n Numeric) IsSigned() bool {
	switch BasicKind(n.Type) {
	case T_CHAR, T_SHORT, T_LONG, T_QUAD, T_OCT:
		return true
	}
	return false
}

// IsFloat reports whether the value is a real number.
func (n Numeric) IsFloat() bool {
	k, ok := basicTypes[BasicKind(n.Type)]
	return ok && k.kind == KindFloat
}

// Uint64 returns the low 64 bits of the value zero-extended. Signed
// values are sign-extended first.
func (n Numeric) Uint64() uint64 {
	return uint64(n.Int64())
}

// Int64 returns the integer value, sign-extended for signed kinds.
func (n Numeric) Int64() int64 {
	le := binary.LittleEndian
	switch n.Type {
	case T_CHAR:
		return int64(int8(n.raw[0]))
	case T_SHORT:
		return int64(int16(le.Uint16(n.raw[:])))
	case T_LONG:
		return int64(int32(le.Uint32(n.raw[:])))
	case T_QUAD, T_OCT:
		return int64(le.Uint64(n.raw[:]))
	case T_USHORT:
		return int64(le.Uint16(n.raw[:]))
	case T_ULONG:
		return int64(le.Uint32(n.raw[:]))
	}
	return int64(le.Uint64(n.raw[:]))
}

// Float64 returns the value of 32- and 64-bit reals; integer kinds are
// converted.
func (n Numeric) Float64() float64 {
	le := binary.LittleEndian
	switch n.Type {
	case T_REAL32:
		return float64(math.Float32frombits(le.Uint32(n.raw[:])))
	case T_REAL64:
		return math.Float64frombits(le.Uint64(n.raw[:]))
	}
	if n.IsSigned() {
		return float64(n.Int64())
	}
	return float64(n.Uint64())
}

// Bytes returns the raw little-endian value bytes.
func (n Numeric) Bytes() []byte {
	if n.str != "" {
		return []byte(n.str)
	}
	return append([]byte(nil), n.raw[:n.Size]...)
}

// String returns the text of string-valued numerics.
func (n Numeric) String() string {
	return n.str
}

// parseCString returns the NUL-terminated string at the start of b and the
// bytes consumed including the terminator. A missing terminator takes the
// rest of b.
func parseCString(b []byte) (string, int) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return string(b), len(b)
	}
	return string(b[:i]), i + 1
}
