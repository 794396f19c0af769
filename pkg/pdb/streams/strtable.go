package streams

import (
	"bytes"

	"github.com/jtang613/gosyms/pkg/bytestream"
	"github.com/pkg/errors"
)

// StringTableSignature starts the /names stream.
const StringTableSignature = 0xEFFEEFFE

// ErrBadStringTable is returned when /names has the wrong signature or a
// truncated layout.
var ErrBadStringTable = errors.New("streams: malformed string table")

// StringTable is the /names stream: a blob of NUL-terminated strings
// referenced by byte offset, plus a hash index from names to offsets.
type StringTable struct {
	Version uint32
	buf     []byte
	buckets []uint32
	count   uint32
}

// ReadStringTable parses a /names stream.
func ReadStringTable(data []byte) (*StringTable, error) {
	s := bytestream.NewBuffer(data)
	sig, err := s.ReadU32()
	if err != nil || sig != StringTableSignature {
		return nil, errors.Wrapf(ErrBadStringTable, "signature 0x%x", sig)
	}
	st := &StringTable{}
	if st.Version, err = s.ReadU32(); err != nil {
		return nil, errors.Wrap(ErrBadStringTable, "missing version")
	}
	n, err := s.ReadU32()
	if err != nil {
		return nil, errors.Wrap(ErrBadStringTable, "missing buffer size")
	}
	if st.buf, err = s.ReadBytes(int(n)); err != nil {
		return nil, errors.Wrapf(ErrBadStringTable, "buffer of %d bytes", n)
	}

	// The bucket index is optional for readers; a table without it still
	// resolves offsets.
	nb, err := s.ReadU32()
	if err != nil {
		return st, nil
	}
	if int64(nb)*4 > s.Remaining() {
		return st, nil
	}
	st.buckets = make([]uint32, nb)
	for i := range st.buckets {
		st.buckets[i], _ = s.ReadU32()
	}
	st.count, _ = s.ReadU32()
	return st, nil
}

// String returns the string at byte offset off.
func (st *StringTable) String(off uint32) (string, bool) {
	if st == nil || int(off) >= len(st.buf) {
		return "", false
	}
	b := st.buf[off:]
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", false
	}
	return string(b[:i]), true
}

// Offset returns the offset of name. It probes the hash index when one is
// present and falls back to scanning the buffer.
func (st *StringTable) Offset(name string) (uint32, bool) {
	if st == nil {
		return 0, false
	}
	if n := uint32(len(st.buckets)); n > 0 {
		var h uint32
		if st.Version == 2 {
			h = HashStringV2(name)
		} else {
			h = HashStringV1(name)
		}
		for i := uint32(0); i < n; i++ {
			off := st.buckets[(h+i)%n]
			if off == 0 {
				break
			}
			if s, ok := st.String(off); ok && s == name {
				return off, true
			}
		}
	}
	for off := 0; off < len(st.buf); {
		i := bytes.IndexByte(st.buf[off:], 0)
		if i < 0 {
			break
		}
		if string(st.buf[off:off+i]) == name {
			return uint32(off), true
		}
		off += i + 1
	}
	return 0, false
}

// Count returns the number of names recorded in the table footer.
func (st *StringTable) Count() uint32 {
	if st == nil {
		return 0
	}
	return st.count
}
