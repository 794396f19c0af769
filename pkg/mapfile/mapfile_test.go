package mapfile

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, []byte("Microsoft C/C++ MSF 7.00"), 0o644))

	f, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 24, f.Len())
	assert.Equal(t, []byte("Microsoft"), f.Data()[:9])

	buf := make([]byte, 4)
	n, err := f.ReadAt(buf, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "C/C+", string(buf))

	n, err = f.ReadAt(buf, 22)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 2, n)
	_, err = f.ReadAt(buf, 100)
	assert.Error(t, err)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.Nil(t, f.Data())
}

func TestOpenEmptyAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	f, err := Open(path)
	require.NoError(t, err)
	assert.Zero(t, f.Len())
	require.NoError(t, f.Close())

	_, err = Open(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
