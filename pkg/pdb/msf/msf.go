package msf

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	bufra "github.com/avvmoto/buf-readerat"
	"github.com/jtang613/gosyms/pkg/bytestream"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidSignature is returned when the file does not start with the MSF magic.
	ErrInvalidSignature = errors.New("msf: invalid signature")
	// ErrCorruptedContainer is returned when page or offset arithmetic is
	// inconsistent with the file.
	ErrCorruptedContainer = errors.New("msf: corrupted container")
	// ErrNoSuchStream is returned for stream numbers outside the directory.
	ErrNoSuchStream = errors.New("msf: no such stream")
)

// Well-known stream numbers.
const (
	StreamOldDirectory = 0
	StreamPDBInfo      = 1
	StreamTPI          = 2
	StreamDBI          = 3
	StreamIPI          = 4
)

// NilStreamSize marks an unused stream in the directory.
const NilStreamSize = 0xFFFFFFFF

// MSF represents an opened MSF (Multi-Stream Format) container. It is
// immutable after construction; containers built with New or FromBytes
// are safe for concurrent readers when the source is.
type MSF struct {
	src        io.ReaderAt
	size       int64
	closer     io.Closer
	superBlock *SuperBlock
	directory  *StreamDirectory
}

// New parses an MSF container of the given size read through src.
func New(src io.ReaderAt, size int64) (*MSF, error) {
	hdr := make([]byte, SuperBlockSize)
	if size < SuperBlockSize {
		return nil, errors.Wrapf(ErrInvalidSignature, "file too small (%d bytes)", size)
	}
	if _, err := src.ReadAt(hdr, 0); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to read superblock")
	}
	sb, err := ParseSuperBlock(hdr)
	if err != nil {
		return nil, err
	}
	if sb.FileSize() > size {
		return nil, errors.Wrapf(ErrCorruptedContainer, "%d blocks of %d bytes exceed file size %d", sb.NumBlocks, sb.BlockSize, size)
	}

	m := &MSF{src: src, size: size, superBlock: sb}
	if err := m.readStreamDirectory(); err != nil {
		return nil, errors.Wrap(err, "failed to read stream directory")
	}
	return m, nil
}

// FromBytes parses an MSF container held in memory.
func FromBytes(data []byte) (*MSF, error) {
	return New(bytes.NewReader(data), int64(len(data)))
}

// Open opens an MSF file on disk. Blocks are read on demand through a
// buffered reader, so a container opened this way must be read from one
// goroutine at a time.
func Open(path string) (*MSF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to stat file")
	}
	m, err := New(bufra.NewBufReaderAt(f, 4*0x1000), st.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	m.closer = f
	return m, nil
}

// Close releases the underlying file when the container was opened from disk.
func (m *MSF) Close() error {
	if m.closer != nil {
		return m.closer.Close()
	}
	return nil
}

// SuperBlock returns the MSF SuperBlock.
func (m *MSF) SuperBlock() *SuperBlock {
	return m.superBlock
}

// BlockSize returns the block size used by this MSF file.
func (m *MSF) BlockSize() uint32 {
	return m.superBlock.BlockSize
}

// NumStreams returns the number of streams in the file.
func (m *MSF) NumStreams() int {
	return int(m.directory.NumStreams)
}

// StreamSize returns the byte size of stream i. Unused streams report zero.
func (m *MSF) StreamSize(i int) (uint32, error) {
	if i < 0 || i >= m.NumStreams() {
		return 0, errors.Wrapf(ErrNoSuchStream, "stream %d of %d", i, m.NumStreams())
	}
	size := m.directory.StreamSizes[i]
	if size == NilStreamSize {
		return 0, nil
	}
	return size, nil
}

// Pages returns the physical block indices backing stream i.
func (m *MSF) Pages(i int) ([]uint32, error) {
	if i < 0 || i >= m.NumStreams() {
		return nil, errors.Wrapf(ErrNoSuchStream, "stream %d of %d", i, m.NumStreams())
	}
	return m.directory.StreamBlocks[i], nil
}

// Stream returns a cursor over stream i that stitches its blocks together.
func (m *MSF) Stream(i int) (bytestream.Stream, error) {
	size, err := m.StreamSize(i)
	if err != nil {
		return bytestream.Stream{}, err
	}
	r := &pagedReader{src: m.src, blockSize: m.superBlock.BlockSize, blocks: m.directory.StreamBlocks[i], size: size}
	return bytestream.New(r, int64(size)), nil
}

// ReadStream reads the whole content of stream i.
func (m *MSF) ReadStream(i int) ([]byte, error) {
	s, err := m.Stream(i)
	if err != nil {
		return nil, err
	}
	data, err := s.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read stream %d", i)
	}
	return data, nil
}

// readStreamDirectory reads the block map and then the stream directory
// through the same block stitching used for ordinary streams.
//
// BlockMapAddr is the first entry of an array of block map pages that
// continues past the superblock fields in block 0. Each page holds
// BlockSize/4 directory block numbers.
func (m *MSF) readStreamDirectory() error {
	sb := m.superBlock
	numDirBlocks := sb.NumDirectoryBlocks()
	perPage := sb.BlockSize / 4
	numMapPages := blocksFor(numDirBlocks*4, sb.BlockSize)
	if maxPages := (sb.BlockSize - SuperBlockSize + 4) / 4; numMapPages > maxPages {
		return errors.Wrapf(ErrCorruptedContainer, "directory needs %d block map pages, superblock holds %d", numMapPages, maxPages)
	}

	mapPages := make([]uint32, numMapPages)
	mapPages[0] = sb.BlockMapAddr
	if numMapPages > 1 {
		raw := make([]byte, (numMapPages-1)*4)
		if _, err := m.src.ReadAt(raw, SuperBlockSize); err != nil && err != io.EOF {
			return errors.Wrap(err, "failed to read block map addresses")
		}
		for i := range mapPages[1:] {
			mapPages[i+1] = binary.LittleEndian.Uint32(raw[i*4:])
		}
	}

	blockMap := make([]uint32, 0, numDirBlocks)
	for _, page := range mapPages {
		if page == 0 || page >= sb.NumBlocks {
			return errors.Wrapf(ErrCorruptedContainer, "block map page %d outside [1, %d)", page, sb.NumBlocks)
		}
		n := numDirBlocks - uint32(len(blockMap))
		if n > perPage {
			n = perPage
		}
		raw := make([]byte, n*4)
		if _, err := m.src.ReadAt(raw, int64(page)*int64(sb.BlockSize)); err != nil && err != io.EOF {
			return errors.Wrap(err, "failed to read block map")
		}
		for i := uint32(0); i < n; i++ {
			blk := binary.LittleEndian.Uint32(raw[i*4:])
			if blk >= sb.NumBlocks {
				return errors.Wrapf(ErrCorruptedContainer, "directory block %d outside file (%d blocks)", blk, sb.NumBlocks)
			}
			blockMap = append(blockMap, blk)
		}
	}

	dir := &pagedReader{src: m.src, blockSize: sb.BlockSize, blocks: blockMap, size: sb.NumDirectoryBytes}
	return m.parseStreamDirectory(bytestream.New(dir, int64(sb.NumDirectoryBytes)))
}

// parseStreamDirectory parses the stream count, sizes and block lists.
func (m *MSF) parseStreamDirectory(r bytestream.Stream) error {
	numStreams, err := r.ReadU32()
	if err != nil {
		return errors.Wrap(ErrCorruptedContainer, "failed to read NumStreams")
	}
	if int64(numStreams)*4 > r.Remaining() {
		return errors.Wrapf(ErrCorruptedContainer, "%d streams do not fit in a %d byte directory", numStreams, r.Len())
	}

	// Read stream sizes
	streamSizes := make([]uint32, numStreams)
	for i := range streamSizes {
		if streamSizes[i], err = r.ReadU32(); err != nil {
			return errors.Wrapf(ErrCorruptedContainer, "failed to read stream size %d", i)
		}
	}

	// Read stream block lists
	blockSize := m.superBlock.BlockSize
	streamBlocks := make([][]uint32, numStreams)
	for i, size := range streamSizes {
		// Size of 0xFFFFFFFF indicates an unused/deleted stream
		if size == NilStreamSize {
			continue
		}
		numBlocks := blocksFor(size, blockSize)
		if int64(numBlocks)*4 > r.Remaining() {
			return errors.Wrapf(ErrCorruptedContainer, "block list of stream %d truncated", i)
		}
		blocks := make([]uint32, numBlocks)
		for j := range blocks {
			blocks[j], _ = r.ReadU32()
			if blocks[j] >= m.superBlock.NumBlocks {
				return errors.Wrapf(ErrCorruptedContainer, "stream %d block %d outside file (%d blocks)", i, blocks[j], m.superBlock.NumBlocks)
			}
		}
		streamBlocks[i] = blocks
	}

	m.directory = &StreamDirectory{
		NumStreams:   numStreams,
		StreamSizes:  streamSizes,
		StreamBlocks: streamBlocks,
	}
	return nil
}
