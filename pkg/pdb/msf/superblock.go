// Package msf implements parsing for Microsoft's Multi-Stream Format (MSF) container.
package msf

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// MSF 7.00 magic signature
var MSFMagic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")

// SuperBlock is the header structure at the beginning of an MSF file.
// It contains metadata needed to navigate the file's stream structure.
type SuperBlock struct {
	Magic             [32]byte // Must be MSFMagic
	BlockSize         uint32   // Block size in bytes (512, 1024, 2048, or 4096)
	FreeBlockMapBlock uint32   // Index of active FPM block (1 or 2)
	NumBlocks         uint32   // Total number of blocks in file
	NumDirectoryBytes uint32   // Size of stream directory in bytes
	Unknown           uint32   // Reserved/unknown field
	BlockMapAddr      uint32   // Block index containing the stream directory block map
}

// SuperBlockSize is the size of the SuperBlock structure in bytes.
const SuperBlockSize = 56

// ValidBlockSizes are the allowed block sizes for MSF files.
var ValidBlockSizes = []uint32{512, 1024, 2048, 4096}

// HasMagic reports whether data starts with the MSF 7.00 signature.
func HasMagic(data []byte) bool {
	return len(data) >= len(MSFMagic) && bytes.Equal(data[:len(MSFMagic)], MSFMagic)
}

// ParseSuperBlock decodes and validates the SuperBlock from the first
// SuperBlockSize bytes of an MSF file.
func ParseSuperBlock(data []byte) (*SuperBlock, error) {
	if len(data) < SuperBlockSize {
		return nil, errors.Wrapf(ErrInvalidSignature, "file too small for superblock (%d bytes)", len(data))
	}
	if !HasMagic(data) {
		return nil, errors.Wrap(ErrInvalidSignature, "not a valid PDB file")
	}

	var sb SuperBlock
	copy(sb.Magic[:], data)
	le := binary.LittleEndian
	sb.BlockSize = le.Uint32(data[32:])
	sb.FreeBlockMapBlock = le.Uint32(data[36:])
	sb.NumBlocks = le.Uint32(data[40:])
	sb.NumDirectoryBytes = le.Uint32(data[44:])
	sb.Unknown = le.Uint32(data[48:])
	sb.BlockMapAddr = le.Uint32(data[52:])

	if !isValidBlockSize(sb.BlockSize) {
		return nil, errors.Wrapf(ErrCorruptedContainer, "invalid block size: %d", sb.BlockSize)
	}
	if sb.FreeBlockMapBlock != 1 && sb.FreeBlockMapBlock != 2 {
		return nil, errors.Wrapf(ErrCorruptedContainer, "invalid FreeBlockMapBlock: %d (must be 1 or 2)", sb.FreeBlockMapBlock)
	}
	if sb.NumDirectoryBytes < 4 {
		return nil, errors.Wrapf(ErrCorruptedContainer, "stream directory too small: %d bytes", sb.NumDirectoryBytes)
	}
	if sb.BlockMapAddr == 0 || sb.BlockMapAddr >= sb.NumBlocks {
		return nil, errors.Wrapf(ErrCorruptedContainer, "block map address %d outside [1, %d)", sb.BlockMapAddr, sb.NumBlocks)
	}

	return &sb, nil
}

// NumDirectoryBlocks returns the number of blocks needed to store the stream directory.
func (sb *SuperBlock) NumDirectoryBlocks() uint32 {
	return blocksFor(sb.NumDirectoryBytes, sb.BlockSize)
}

// FileSize returns the expected file size based on block count.
func (sb *SuperBlock) FileSize() int64 {
	return int64(sb.NumBlocks) * int64(sb.BlockSize)
}

func blocksFor(size, blockSize uint32) uint32 {
	return uint32((uint64(size) + uint64(blockSize) - 1) / uint64(blockSize))
}

func isValidBlockSize(size uint32) bool {
	for _, valid := range ValidBlockSizes {
		if size == valid {
			return true
		}
	}
	return false
}
