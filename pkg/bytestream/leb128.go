package bytestream

import (
	"github.com/pkg/errors"
)

// maxLEB128Len is the longest encoding of a 64-bit value.
const maxLEB128Len = 10

// ReadULEB128 decodes an unsigned LEB128 value. Bits past 64 are dropped.
// On failure the cursor is left where it was.
func (s *Stream) ReadULEB128() (uint64, error) {
	start := s.off
	var result uint64
	var shift uint
	for {
		b, err := s.ReadU8()
		if err != nil {
			s.off = start
			return 0, errors.Wrap(err, "uleb128")
		}
		if shift < 64 {
			result |= uint64(b&0x7f) << shift
		}
		shift += 7
		if b&0x80 == 0 {
			return result, nil
		}
	}
}

// ReadSLEB128 decodes a signed LEB128 value, sign-extending from the last
// byte's sign bit.
func (s *Stream) ReadSLEB128() (int64, error) {
	start := s.off
	var result int64
	var shift uint
	var b uint8
	for {
		var err error
		b, err = s.ReadU8()
		if err != nil {
			s.off = start
			return 0, errors.Wrap(err, "sleb128")
		}
		if shift < 64 {
			result |= int64(b&0x7f) << shift
		}
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// DecodeULEB128 decodes from b and returns the value and encoded length.
func DecodeULEB128(b []byte) (uint64, int, error) {
	s := NewBuffer(b)
	v, err := s.ReadULEB128()
	return v, int(s.off), err
}

// DecodeSLEB128 decodes from b and returns the value and encoded length.
func DecodeSLEB128(b []byte) (int64, int, error) {
	s := NewBuffer(b)
	v, err := s.ReadSLEB128()
	return v, int(s.off), err
}

// AppendULEB128 appends the unsigned LEB128 encoding of v to dst.
func AppendULEB128(dst []byte, v uint64) []byte {
	for {
		c := uint8(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		dst = append(dst, c)
		if c&0x80 == 0 {
			return dst
		}
	}
}

// AppendSLEB128 appends the signed LEB128 encoding of v to dst.
func AppendSLEB128(dst []byte, v int64) []byte {
	for {
		c := uint8(v & 0x7f)
		s := uint8(v & 0x40)
		v >>= 7
		if (v != -1 || s == 0) && (v != 0 || s != 0) {
			c |= 0x80
		}
		dst = append(dst, c)
		if c&0x80 == 0 {
			return dst
		}
	}
}
