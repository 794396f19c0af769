// Package bytestream provides bounded little-endian cursors over flat
// buffers and over any io.ReaderAt, such as a paged MSF stream.
package bytestream

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

var (
	// ErrReadFailed is returned when a read would cross the stream bound.
	ErrReadFailed = errors.New("stream read failed")
	// ErrSeekFailed is returned when a seek target lies past the stream bound.
	ErrSeekFailed = errors.New("stream seek failed")
)

// Stream is a read cursor over the byte range [base, base+size) of a
// source. Streams are small values; copying one yields an independent
// cursor over the same source.
type Stream struct {
	src  io.ReaderAt
	flat []byte
	base int64
	size int64
	off  int64
}

// New returns a stream over size bytes of src starting at offset 0.
func New(src io.ReaderAt, size int64) Stream {
	return Stream{src: src, size: size}
}

// NewBuffer returns a stream over a host-memory buffer. Reads slice the
// buffer directly.
func NewBuffer(b []byte) Stream {
	return Stream{src: &flatSource{b: b}, flat: b, size: int64(len(b))}
}

type flatSource struct {
	b []byte
}

func (f *flatSource) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(f.b).ReadAt(p, off)
}

// Len returns the declared size of the stream.
func (s *Stream) Len() int64 { return s.size }

// Offset returns the current read offset.
func (s *Stream) Offset() int64 { return s.off }

// Remaining returns the number of bytes left after the cursor.
func (s *Stream) Remaining() int64 { return s.size - s.off }

// Seek moves the cursor to an absolute offset. Seeking to exactly Len is
// allowed.
func (s *Stream) Seek(off int64) error {
	if off < 0 || off > s.size {
		return errors.Wrapf(ErrSeekFailed, "offset %d, size %d", off, s.size)
	}
	s.off = off
	return nil
}

// Skip advances the cursor by n bytes.
func (s *Stream) Skip(n int64) error {
	return s.Seek(s.off + n)
}

// Align advances the cursor to the next multiple of a.
func (s *Stream) Align(a int64) error {
	if a <= 1 {
		return nil
	}
	return s.Seek((s.off + a - 1) / a * a)
}

// Subset returns an independent cursor over [off, off+size) of this stream.
// The new cursor shares the source and starts at offset 0.
func (s *Stream) Subset(off, size int64) (Stream, error) {
	if off < 0 || size < 0 || off > s.size || size > s.size-off {
		return Stream{}, errors.Wrapf(ErrSeekFailed, "subset [%d, +%d) of %d", off, size, s.size)
	}
	sub := Stream{src: s.src, base: s.base + off, size: size}
	if s.flat != nil {
		sub.flat = s.flat
	}
	return sub, nil
}

// Rest returns a cursor over the bytes after the current offset.
func (s *Stream) Rest() Stream {
	sub, _ := s.Subset(s.off, s.size-s.off)
	return sub
}

// ReadAt implements io.ReaderAt relative to the stream start.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > s.size {
		return 0, errors.Wrapf(ErrReadFailed, "offset %d, size %d", off, s.size)
	}
	n := int64(len(p))
	if n > s.size-off {
		n = s.size - off
	}
	if s.flat != nil {
		copy(p[:n], s.flat[s.base+off:s.base+off+n])
	} else if n > 0 {
		if _, err := s.src.ReadAt(p[:n], s.base+off); err != nil && err != io.EOF {
			return 0, errors.Wrap(err, "reading stream source")
		}
	}
	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	if s.off >= s.size {
		return 0, io.EOF
	}
	n, err := s.ReadAt(p, s.off)
	s.off += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// peek fills p from the cursor without moving it.
func (s *Stream) peek(p []byte) error {
	if int64(len(p)) > s.size-s.off {
		return errors.Wrapf(ErrReadFailed, "read of %d bytes at %d, size %d", len(p), s.off, s.size)
	}
	if s.flat != nil {
		copy(p, s.flat[s.base+s.off:])
		return nil
	}
	if _, err := s.src.ReadAt(p, s.base+s.off); err != nil && err != io.EOF {
		return errors.Wrapf(ErrReadFailed, "read of %d bytes at %d: %v", len(p), s.off, err)
	}
	return nil
}

// ReadFull fills p and advances the cursor.
func (s *Stream) ReadFull(p []byte) error {
	if err := s.peek(p); err != nil {
		return err
	}
	s.off += int64(len(p))
	return nil
}

// ReadBytes returns the next n bytes. For buffer-backed streams the result
// aliases the buffer.
func (s *Stream) ReadBytes(n int) ([]byte, error) {
	if n < 0 || int64(n) > s.size-s.off {
		return nil, errors.Wrapf(ErrReadFailed, "read of %d bytes at %d, size %d", n, s.off, s.size)
	}
	if s.flat != nil {
		start := s.base + s.off
		s.off += int64(n)
		return s.flat[start : start+int64(n) : start+int64(n)], nil
	}
	p := make([]byte, n)
	if err := s.ReadFull(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ReadAll returns every byte of the stream regardless of the cursor.
func (s *Stream) ReadAll() ([]byte, error) {
	c := *s
	c.off = 0
	return c.ReadBytes(int(c.size))
}

// ReadU8 reads one byte.
func (s *Stream) ReadU8() (uint8, error) {
	var b [1]byte
	if err := s.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 reads a little-endian uint16.
func (s *Stream) ReadU16() (uint16, error) {
	var b [2]byte
	if err := s.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// ReadU32 reads a little-endian uint32.
func (s *Stream) ReadU32() (uint32, error) {
	var b [4]byte
	if err := s.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// ReadU64 reads a little-endian uint64.
func (s *Stream) ReadU64() (uint64, error) {
	var b [8]byte
	if err := s.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// ReadS8 reads a signed byte.
func (s *Stream) ReadS8() (int8, error) {
	v, err := s.ReadU8()
	return int8(v), err
}

// ReadS16 reads a little-endian int16.
func (s *Stream) ReadS16() (int16, error) {
	v, err := s.ReadU16()
	return int16(v), err
}

// ReadS32 reads a little-endian int32.
func (s *Stream) ReadS32() (int32, error) {
	v, err := s.ReadU32()
	return int32(v), err
}

// ReadS64 reads a little-endian int64.
func (s *Stream) ReadS64() (int64, error) {
	v, err := s.ReadU64()
	return int64(v), err
}

// ReadCString reads a NUL-terminated string and consumes the terminator.
// A string running to the end of the stream without a terminator fails.
func (s *Stream) ReadCString() (string, error) {
	if s.flat != nil {
		start := s.base + s.off
		end := s.base + s.size
		i := bytes.IndexByte(s.flat[start:end], 0)
		if i < 0 {
			return "", errors.Wrapf(ErrReadFailed, "unterminated string at %d", s.off)
		}
		s.off += int64(i) + 1
		return string(s.flat[start : start+int64(i)]), nil
	}

	var buf []byte
	var chunk [64]byte
	off := s.off
	for off < s.size {
		n := int64(len(chunk))
		if n > s.size-off {
			n = s.size - off
		}
		if _, err := s.src.ReadAt(chunk[:n], s.base+off); err != nil && err != io.EOF {
			return "", errors.Wrapf(ErrReadFailed, "string at %d: %v", s.off, err)
		}
		if i := bytes.IndexByte(chunk[:n], 0); i >= 0 {
			buf = append(buf, chunk[:i]...)
			s.off = off + int64(i) + 1
			return string(buf), nil
		}
		buf = append(buf, chunk[:n]...)
		off += n
	}
	return "", errors.Wrapf(ErrReadFailed, "unterminated string at %d", s.off)
}

// ReadPString8 reads a string prefixed by a one-byte length.
func (s *Stream) ReadPString8() (string, error) {
	start := s.off
	n, err := s.ReadU8()
	if err != nil {
		return "", err
	}
	b, err := s.ReadBytes(int(n))
	if err != nil {
		s.off = start
		return "", err
	}
	return string(b), nil
}
