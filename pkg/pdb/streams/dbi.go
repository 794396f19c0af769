package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/jtang613/gosyms/pkg/bytestream"
	"github.com/pkg/errors"
)

// DBI Stream versions
const (
	DBIStreamVersionVC41 = 930803
	DBIStreamVersionV50  = 19960307
	DBIStreamVersionV60  = 19970606
	DBIStreamVersionV70  = 19990903
	DBIStreamVersionV110 = 20091201
)

// Section contribution substream versions.
const (
	SectionContribV60 = 0xeffe0000 + 19970605
	SectionContribV2  = 0xeffe0000 + 20140516
)

// Machine types
const (
	MachineUnknown = 0x0000
	MachineI386    = 0x014c
	MachineIA64    = 0x0200
	MachineAMD64   = 0x8664
	MachineARM     = 0x01c0
	MachineARM64   = 0xAA64
)

// Optional debug header stream slots.
const (
	DebugStreamFPO = iota
	DebugStreamException
	DebugStreamFixup
	DebugStreamOmapToSrc
	DebugStreamOmapFromSrc
	DebugStreamSectionHdr
	DebugStreamTokenRIDMap
	DebugStreamXData
	DebugStreamPData
	DebugStreamNewFPO
	DebugStreamSectionHdrOrig
)

// ErrBadDBI is returned when the DBI header or a substream is malformed.
var ErrBadDBI = errors.New("streams: malformed DBI stream")

// DBIHeader is the fixed header of the DBI stream (64 bytes).
type DBIHeader struct {
	VersionSignature        int32  // Always -1
	VersionHeader           uint32 // DBI version
	Age                     uint32 // PDB age
	GlobalStreamIndex       uint16 // Global symbols stream index
	BuildNumber             uint16 // Toolchain version
	PublicStreamIndex       uint16 // Public symbols stream index
	PdbDllVersion           uint16
	SymRecordStream         uint16 // Symbol record stream index
	PdbDllRbld              uint16
	ModInfoSize             int32 // Size of module info substream
	SectionContributionSize int32 // Size of section contribution substream
	SectionMapSize          int32 // Size of section map substream
	SourceInfoSize          int32 // Size of source info substream
	TypeServerMapSize       int32 // Size of type server map substream
	MFCTypeServerIndex      uint32
	OptionalDbgHeaderSize   int32 // Size of optional debug header
	ECSubstreamSize         int32 // Size of EC substream
	Flags                   uint16
	Machine                 uint16 // CPU type
	Padding                 uint32
}

// DBIStream represents the parsed DBI stream.
type DBIStream struct {
	Header          DBIHeader
	Modules         []ModuleInfo
	SectionContribs []SectionContrib
	SectionMap      []SectionMapEntry
	// ModuleFiles lists the source files of each module, by module index.
	ModuleFiles [][]string
	// DebugStreams holds the optional debug header stream numbers.
	DebugStreams []uint16

	sorted []SectionContrib
}

// ModuleInfo contains information about a compiled module.
type ModuleInfo struct {
	Unused1              uint32
	SectionContrib       SectionContrib
	Flags                uint16
	ModuleSymStream      uint16 // Stream containing module symbols (-1 if none)
	SymByteSize          uint32 // Size of symbol data in bytes
	C11ByteSize          uint32 // Size of C11 line info
	C13ByteSize          uint32 // Size of C13 line info
	SourceFileCount      uint16
	Padding              uint16
	Unused2              uint32
	SourceFileNameIndex  uint32
	PdbFilePathNameIndex uint32
	ModuleName           string // Object file name
	ObjFileName          string // Archive or object file path
}

// SectionContrib describes a section contribution from a module.
type SectionContrib struct {
	Section         uint16
	Padding1        uint16
	Offset          int32
	Size            int32
	Characteristics uint32
	ModuleIndex     uint16
	Padding2        uint16
	DataCrc         uint32
	RelocCrc        uint32
}

// SectionMapEntry is one logical segment descriptor of the section map.
type SectionMapEntry struct {
	Flags         uint16
	Ovl           uint16
	Group         uint16
	Frame         uint16
	SectionName   uint16
	ClassName     uint16
	Offset        uint32
	SectionLength uint32
}

// ReadDBIStream parses the DBI stream.
func ReadDBIStream(data []byte) (*DBIStream, error) {
	if len(data) < 64 {
		return nil, errors.Wrapf(ErrBadDBI, "DBI stream too small: %d bytes", len(data))
	}

	var header DBIHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(err, "failed to read DBI header")
	}

	// Validate header
	if header.VersionSignature != -1 {
		return nil, errors.Wrapf(ErrBadDBI, "invalid DBI version signature: %d", header.VersionSignature)
	}

	dbi := &DBIStream{
		Header: header,
	}

	// Substreams follow the header in a fixed order.
	sizes := []int32{
		header.ModInfoSize,
		header.SectionContributionSize,
		header.SectionMapSize,
		header.SourceInfoSize,
		header.TypeServerMapSize,
		header.ECSubstreamSize,
		header.OptionalDbgHeaderSize,
	}
	subs := make([][]byte, len(sizes))
	off := int64(64)
	for i, n := range sizes {
		if n < 0 || off+int64(n) > int64(len(data)) {
			return nil, errors.Wrapf(ErrBadDBI, "substream %d of %d bytes at %d overruns stream of %d", i, n, off, len(data))
		}
		subs[i] = data[off : off+int64(n)]
		off += int64(n)
	}

	var err error
	if dbi.Modules, err = parseModuleInfo(subs[0]); err != nil {
		return nil, errors.Wrap(err, "failed to parse module info")
	}
	if dbi.SectionContribs, err = parseSectionContribs(subs[1]); err != nil {
		return nil, errors.Wrap(err, "failed to parse section contributions")
	}
	if dbi.SectionMap, err = parseSectionMap(subs[2]); err != nil {
		return nil, errors.Wrap(err, "failed to parse section map")
	}
	if dbi.ModuleFiles, err = parseFileInfo(subs[3]); err != nil {
		return nil, errors.Wrap(err, "failed to parse file info")
	}
	dbg := bytestream.NewBuffer(subs[6])
	for dbg.Remaining() >= 2 {
		sn, _ := dbg.ReadU16()
		dbi.DebugStreams = append(dbi.DebugStreams, sn)
	}

	dbi.sorted = make([]SectionContrib, 0, len(dbi.SectionContribs))
	for _, c := range dbi.SectionContribs {
		if c.Size > 0 {
			dbi.sorted = append(dbi.sorted, c)
		}
	}
	sort.SliceStable(dbi.sorted, func(i, j int) bool {
		a, b := dbi.sorted[i], dbi.sorted[j]
		if a.Section != b.Section {
			return a.Section < b.Section
		}
		return uint32(a.Offset) < uint32(b.Offset)
	})
	return dbi, nil
}

// parseModuleInfo parses the module info substream.
func parseModuleInfo(data []byte) ([]ModuleInfo, error) {
	var modules []ModuleInfo
	s := bytestream.NewBuffer(data)

	for s.Remaining() > 0 {
		fixed, err := s.ReadBytes(64)
		if err != nil {
			return modules, errors.Wrapf(ErrBadDBI, "module %d: truncated record", len(modules))
		}
		var mod ModuleInfo
		r := bytes.NewReader(fixed)
		le := binary.LittleEndian
		// Read fixed fields
		binary.Read(r, le, &mod.Unused1)
		binary.Read(r, le, &mod.SectionContrib)
		binary.Read(r, le, &mod.Flags)
		binary.Read(r, le, &mod.ModuleSymStream)
		binary.Read(r, le, &mod.SymByteSize)
		binary.Read(r, le, &mod.C11ByteSize)
		binary.Read(r, le, &mod.C13ByteSize)
		binary.Read(r, le, &mod.SourceFileCount)
		binary.Read(r, le, &mod.Padding)
		binary.Read(r, le, &mod.Unused2)
		binary.Read(r, le, &mod.SourceFileNameIndex)
		binary.Read(r, le, &mod.PdbFilePathNameIndex)

		if mod.ModuleName, err = s.ReadCString(); err != nil {
			return modules, errors.Wrapf(ErrBadDBI, "module %d: unterminated module name", len(modules))
		}
		if mod.ObjFileName, err = s.ReadCString(); err != nil {
			return modules, errors.Wrapf(ErrBadDBI, "module %d: unterminated object name", len(modules))
		}

		// Align to 4-byte boundary
		if err := s.Align(4); err != nil {
			s.Seek(s.Len())
		}
		modules = append(modules, mod)
	}

	return modules, nil
}

// parseSectionContribs parses the section contribution substream.
func parseSectionContribs(data []byte) ([]SectionContrib, error) {
	if len(data) < 4 {
		return nil, nil
	}
	version := binary.LittleEndian.Uint32(data)

	// Determine entry size based on version
	var entrySize int
	switch version {
	case SectionContribV60:
		entrySize = 28
	case SectionContribV2:
		entrySize = 32 // V2 adds ISectCoff
	default:
		return nil, errors.Wrapf(ErrBadDBI, "section contribution version 0x%x", version)
	}

	body := data[4:]
	contribs := make([]SectionContrib, 0, len(body)/entrySize)
	for off := 0; off+entrySize <= len(body); off += entrySize {
		var contrib SectionContrib
		if err := binary.Read(bytes.NewReader(body[off:off+28]), binary.LittleEndian, &contrib); err != nil {
			return contribs, err
		}
		contribs = append(contribs, contrib)
	}
	return contribs, nil
}

func parseSectionMap(data []byte) ([]SectionMapEntry, error) {
	if len(data) < 4 {
		return nil, nil
	}
	count := int(binary.LittleEndian.Uint16(data))
	body := data[4:]
	if count*20 > len(body) {
		return nil, errors.Wrapf(ErrBadDBI, "section map of %d entries in %d bytes", count, len(body))
	}
	out := make([]SectionMapEntry, count)
	if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseFileInfo decodes the source info substream into per-module file
// name lists. The on-disk file count is 16 bits, so it is recomputed from
// the per-module counts.
func parseFileInfo(data []byte) ([][]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	s := bytestream.NewBuffer(data)
	nmod, err := s.ReadU16()
	if err != nil {
		return nil, err
	}
	s.Skip(2)
	if err := s.Skip(int64(nmod) * 2); err != nil {
		return nil, errors.Wrap(ErrBadDBI, "file info module indices")
	}
	counts := make([]uint16, nmod)
	total := 0
	for i := range counts {
		if counts[i], err = s.ReadU16(); err != nil {
			return nil, errors.Wrap(ErrBadDBI, "file info module counts")
		}
		total += int(counts[i])
	}
	offs := make([]uint32, total)
	for i := range offs {
		if offs[i], err = s.ReadU32(); err != nil {
			return nil, errors.Wrap(ErrBadDBI, "file info name offsets")
		}
	}
	names := s.Rest()
	buf, _ := names.ReadAll()

	out := make([][]string, nmod)
	k := 0
	for m, n := range counts {
		files := make([]string, n)
		for i := range files {
			if int(offs[k]) < len(buf) {
				files[i] = extractCString(buf[offs[k]:])
			}
			k++
		}
		out[m] = files
	}
	return out, nil
}

// ModuleForSectionOffset returns the index of the module whose section
// contribution covers sec:off. Section numbers are one-based.
func (d *DBIStream) ModuleForSectionOffset(sec uint16, off uint32) (int, bool) {
	i := sort.Search(len(d.sorted), func(i int) bool {
		c := d.sorted[i]
		return c.Section > sec || (c.Section == sec && uint32(c.Offset) > off)
	})
	if i == 0 {
		return 0, false
	}
	c := d.sorted[i-1]
	if c.Section != sec || off-uint32(c.Offset) >= uint32(c.Size) {
		return 0, false
	}
	return int(c.ModuleIndex), true
}

// DebugStream returns the stream number stored in an optional debug header
// slot.
func (d *DBIStream) DebugStream(slot int) (int, bool) {
	if slot < 0 || slot >= len(d.DebugStreams) || d.DebugStreams[slot] == 0xffff {
		return 0, false
	}
	return int(d.DebugStreams[slot]), true
}

// MachineTypeName returns the human-readable name for a machine type.
func MachineTypeName(machine uint16) string {
	switch machine {
	case MachineI386:
		return "x86"
	case MachineAMD64:
		return "x64"
	case MachineARM:
		return "ARM"
	case MachineARM64:
		return "ARM64"
	case MachineIA64:
		return "IA64"
	default:
		return fmt.Sprintf("0x%04x", machine)
	}
}

// HasSymbols returns true if the module has symbol information.
func (m *ModuleInfo) HasSymbols() bool {
	return m.ModuleSymStream != 0xFFFF && m.SymByteSize > 0
}
