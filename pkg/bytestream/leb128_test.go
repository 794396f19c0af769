package bytestream

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULEB128RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 1<<7 - 1, 1 << 7, 1<<14 - 1, 1 << 14, 1 << 35, math.MaxUint32, math.MaxUint64} {
		enc := AppendULEB128(nil, v)
		require.LessOrEqual(t, len(enc), maxLEB128Len)
		// Trailing garbage must not be consumed.
		got, n, err := DecodeULEB128(append(enc, 0xEE))
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, got)
		assert.Equal(t, len(enc), n, "value %d", v)
	}
}

func TestSLEB128RoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 63, 64, -64, -65, math.MinInt64, math.MaxInt64}
	// One value per encoded length, 1 through 10 bytes.
	for k := 0; k < 10; k++ {
		values = append(values, int64(1)<<(7*k)-1, -(int64(1) << (7 * k)))
	}
	for _, v := range values {
		enc := AppendSLEB128(nil, v)
		require.LessOrEqual(t, len(enc), maxLEB128Len)
		got, n, err := DecodeSLEB128(append(enc, 0xEE))
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, got)
		assert.Equal(t, len(enc), n, "value %d", v)
	}
}

func TestLEB128KnownEncodings(t *testing.T) {
	assert.Equal(t, []byte{0xE5, 0x8E, 0x26}, AppendULEB128(nil, 624485))
	assert.Equal(t, []byte{0xC0, 0xBB, 0x78}, AppendSLEB128(nil, -123456))
	assert.Equal(t, []byte{0x7F}, AppendSLEB128(nil, -1))
	assert.Len(t, AppendULEB128(nil, math.MaxUint64), 10)
	assert.Len(t, AppendSLEB128(nil, math.MinInt64), 10)
}

func TestLEB128Truncated(t *testing.T) {
	s := NewBuffer([]byte{0x80, 0x80})
	_, err := s.ReadULEB128()
	require.ErrorIs(t, err, ErrReadFailed)
	assert.Equal(t, int64(0), s.Offset(), "cursor is restored on failure")

	_, err = s.ReadSLEB128()
	require.ErrorIs(t, err, ErrReadFailed)
}
