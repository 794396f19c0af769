package msf

import (
	"io"

	"github.com/pkg/errors"
)

// pagedReader presents the non-contiguous blocks of one stream as a
// contiguous io.ReaderAt.
type pagedReader struct {
	src       io.ReaderAt
	blockSize uint32
	blocks    []uint32
	size      uint32
}

// ReadAt implements io.ReaderAt, splitting the request at block boundaries.
func (r *pagedReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	if off >= int64(r.size) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	blockSize := int64(r.blockSize)
	total := 0
	for len(p) > 0 && off < int64(r.size) {
		blockIndex := off / blockSize
		posInBlock := off % blockSize

		// Determine how many bytes we can read from the current block
		toRead := int64(len(p))
		if toRead > blockSize-posInBlock {
			toRead = blockSize - posInBlock
		}
		if toRead > int64(r.size)-off {
			toRead = int64(r.size) - off
		}
		if blockIndex >= int64(len(r.blocks)) {
			return total, errors.Wrapf(ErrCorruptedContainer, "offset %d past block list", off)
		}

		fileOffset := int64(r.blocks[blockIndex])*blockSize + posInBlock
		n, err := r.src.ReadAt(p[:toRead], fileOffset)
		total += n
		if err != nil && !(err == io.EOF && int64(n) == toRead) {
			return total, errors.Wrapf(err, "reading block %d", r.blocks[blockIndex])
		}
		off += toRead
		p = p[toRead:]
	}
	if len(p) > 0 {
		return total, io.EOF
	}
	return total, nil
}

// StreamDirectory represents the directory of all streams in the MSF file.
type StreamDirectory struct {
	NumStreams   uint32
	StreamSizes  []uint32
	StreamBlocks [][]uint32
}
