// Package streams provides parsers for the various PDB streams.
package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jtang613/gosyms/pkg/bytestream"
	"github.com/pkg/errors"
)

// PDB Stream versions
const (
	PDBStreamVersionVC2     = 19941610
	PDBStreamVersionVC4     = 19950623
	PDBStreamVersionVC41    = 19950814
	PDBStreamVersionVC50    = 19960307
	PDBStreamVersionVC98    = 19970604
	PDBStreamVersionVC70Dep = 19990604
	PDBStreamVersionVC70    = 20000404
	PDBStreamVersionVC80    = 20030901
	PDBStreamVersionVC110   = 20091201
	PDBStreamVersionVC140   = 20140508
)

// Well-known named streams.
const (
	NamedStreamNames       = "/names"
	NamedStreamLinkInfo    = "/LinkInfo"
	NamedStreamHeaderBlock = "/src/headerblock"
)

// PDBInfo represents the PDB Info Stream (Stream 1).
type PDBInfo struct {
	Version      uint32
	Signature    uint32            // Timestamp of PDB creation
	Age          uint32            // Number of times PDB has been written
	GUID         [16]byte          // Unique identifier
	NamedStreams map[string]uint32 // Map of named streams to stream indices
}

// PDBInfoHeader is the fixed header at the start of the PDB info stream.
type PDBInfoHeader struct {
	Version   uint32
	Signature uint32
	Age       uint32
	GUID      [16]byte
}

// ReadPDBInfo parses the PDB info stream. Streams written before VC 7.0
// carry no GUID; the named stream map is optional.
func ReadPDBInfo(data []byte) (*PDBInfo, error) {
	var header PDBInfoHeader
	headerSize := binary.Size(header)
	if len(data) >= 4 && binary.LittleEndian.Uint32(data) < PDBStreamVersionVC70 {
		headerSize = 12
	}
	if len(data) < headerSize {
		return nil, errors.Wrapf(bytestream.ErrReadFailed, "PDB info header needs %d bytes, have %d", headerSize, len(data))
	}
	buf := make([]byte, binary.Size(header))
	copy(buf, data[:headerSize])
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(err, "failed to read PDB info header")
	}

	info := &PDBInfo{
		Version:      header.Version,
		Signature:    header.Signature,
		Age:          header.Age,
		GUID:         header.GUID,
		NamedStreams: make(map[string]uint32),
	}

	s := bytestream.NewBuffer(data)
	if err := s.Seek(int64(headerSize)); err != nil {
		return info, nil
	}

	// Format: StringBufferSize + StringBuffer + serialized hash table
	strBufSize, err := s.ReadU32()
	if err != nil {
		return info, nil
	}
	strBuf, err := s.ReadBytes(int(strBufSize))
	if err != nil {
		return info, nil
	}
	entries, err := readHashTable(&s)
	if err != nil {
		return info, errors.Wrap(err, "named stream map")
	}
	for _, e := range entries {
		if e.Key < strBufSize {
			info.NamedStreams[extractCString(strBuf[e.Key:])] = e.Value
		}
	}
	return info, nil
}

// NamedStream returns the stream number registered under name.
func (p *PDBInfo) NamedStream(name string) (int, bool) {
	sn, ok := p.NamedStreams[name]
	if !ok || sn == 0xffff || sn == 0xffffffff {
		return 0, false
	}
	return int(sn), true
}

// GUIDString returns the GUID as a formatted string.
func (p *PDBInfo) GUIDString() string {
	return fmt.Sprintf("%08X%04X%04X%02X%02X%02X%02X%02X%02X%02X%02X",
		binary.LittleEndian.Uint32(p.GUID[0:4]),
		binary.LittleEndian.Uint16(p.GUID[4:6]),
		binary.LittleEndian.Uint16(p.GUID[6:8]),
		p.GUID[8], p.GUID[9], p.GUID[10], p.GUID[11],
		p.GUID[12], p.GUID[13], p.GUID[14], p.GUID[15])
}

// extractCString extracts a null-terminated string from bytes.
func extractCString(data []byte) string {
	idx := bytes.IndexByte(data, 0)
	if idx == -1 {
		return string(data)
	}
	return string(data[:idx])
}
