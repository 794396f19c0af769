// Package mapfile maps files read-only into memory so that debug-info
// parsers can work on a plain byte slice.
package mapfile

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// mapFile is set per platform. It returns a read-only view of length
// bytes of fd starting at offset.
var mapFile func(fd int, offset int64, length int) ([]byte, error)

// unmapFile releases a view returned by mapFile.
var unmapFile func(data []byte) error

// File is a read-only mapping of a whole file.
type File struct {
	data   []byte
	mapped bool
}

// Open maps path into memory. Platforms without mmap support, and empty
// files, fall back to reading the file.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat file")
	}
	size := st.Size()
	if size != int64(int(size)) {
		return nil, errors.Errorf("file %s too large to map (%d bytes)", path, size)
	}
	if mapFile == nil || size == 0 {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read file")
		}
		return &File{data: data}, nil
	}

	data, err := mapFile(int(f.Fd()), 0, int(size))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %s", path)
	}
	return &File{data: data, mapped: true}, nil
}

// Data returns the file contents. The slice must not be written to and
// is invalid after Close.
func (f *File) Data() []byte {
	return f.data
}

// Len returns the file size.
func (f *File) Len() int {
	return len(f.data)
}

// ReadAt implements io.ReaderAt over the mapping.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(f.data)) {
		return 0, errors.Errorf("mapfile: offset %d out of range", off)
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the file. It is safe to call more than once.
func (f *File) Close() error {
	data := f.data
	f.data = nil
	if !f.mapped || data == nil {
		return nil
	}
	f.mapped = false
	return unmapFile(data)
}
