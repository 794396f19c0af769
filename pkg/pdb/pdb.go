package pdb

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/jtang613/gosyms/pkg/pdb/codeview"
	"github.com/jtang613/gosyms/pkg/pdb/msf"
	"github.com/jtang613/gosyms/pkg/pdb/streams"
	"github.com/jtang613/gosyms/pkg/regs"
)

// ErrNoModule is returned for module indices outside the module table.
var ErrNoModule = errors.New("pdb: no such module")

// PDB is an opened PDB file. Everything parsed at open time is read-only
// afterwards, so one PDB may serve concurrent readers; iterators must not
// be shared between goroutines.
type PDB struct {
	msf      *msf.MSF
	info     *streams.PDBInfo
	names    *streams.StringTable
	tpi      *streams.TypeMap
	ipi      *streams.TypeMap
	dbi      *streams.DBIStream
	symrec   []byte
	sections []pe.SectionHeader32
	frames   *frameTable
	arch     regs.Arch
}

// Open reads a PDB file into memory and parses its core structures.
func Open(path string) (*PDB, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read PDB")
	}
	return FromBytes(data)
}

// FromBytes parses a PDB held in memory.
func FromBytes(data []byte) (*PDB, error) {
	m, err := msf.FromBytes(data)
	if err != nil {
		return nil, err
	}
	return New(m)
}

// New parses the PDB info, DBI and type streams of an MSF container.
// Failures in these streams are fatal; optional streams that are missing
// or malformed are ignored.
func New(m *msf.MSF) (*PDB, error) {
	p := &PDB{msf: m}

	data, err := m.ReadStream(msf.StreamPDBInfo)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read PDB info stream")
	}
	if p.info, err = streams.ReadPDBInfo(data); err != nil {
		return nil, errors.Wrap(err, "failed to parse PDB info stream")
	}
	if sn, ok := p.info.NamedStream(streams.NamedStreamNames); ok {
		if data, err := m.ReadStream(sn); err == nil {
			p.names, _ = streams.ReadStringTable(data)
		}
	}

	if p.tpi, err = streams.BuildTypeMap(m, msf.StreamTPI, p.names); err != nil {
		return nil, errors.Wrap(err, "failed to build TPI")
	}
	if p.ipi, err = streams.BuildTypeMap(m, msf.StreamIPI, p.names); err != nil {
		return nil, errors.Wrap(err, "failed to build IPI")
	}

	if data, err = m.ReadStream(msf.StreamDBI); err != nil {
		return nil, errors.Wrap(err, "failed to read DBI stream")
	}
	if p.dbi, err = streams.ReadDBIStream(data); err != nil {
		return nil, err
	}
	p.arch = regs.ArchFromMachine(p.dbi.Header.Machine)

	if sn := p.dbi.Header.SymRecordStream; sn != 0xffff {
		if p.symrec, err = m.ReadStream(int(sn)); err != nil {
			return nil, errors.Wrap(err, "failed to read symbol record stream")
		}
	}
	if sn, ok := p.dbi.DebugStream(streams.DebugStreamSectionHdr); ok {
		if data, err := m.ReadStream(sn); err == nil {
			p.sections = readSectionHeaders(data)
		}
	}
	p.frames = p.readFrameTable()
	return p, nil
}

func readSectionHeaders(data []byte) []pe.SectionHeader32 {
	n := len(data) / binary.Size(pe.SectionHeader32{})
	out := make([]pe.SectionHeader32, n)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, out); err != nil {
		return nil
	}
	return out
}

// Close releases the container.
func (p *PDB) Close() error {
	return p.msf.Close()
}

// MSF returns the underlying container.
func (p *PDB) MSF() *msf.MSF { return p.msf }

// DBI returns the parsed DBI stream.
func (p *PDB) DBI() *streams.DBIStream { return p.dbi }

// TPI returns the type map of the TPI stream.
func (p *PDB) TPI() *streams.TypeMap { return p.tpi }

// IPI returns the type map of the IPI stream.
func (p *PDB) IPI() *streams.TypeMap { return p.ipi }

// Names returns the /names string table, or nil when the file has none.
func (p *PDB) Names() *streams.StringTable { return p.names }

// Arch returns the register architecture of the DBI machine type.
func (p *PDB) Arch() regs.Arch { return p.arch }

// Info returns basic PDB file information.
func (p *PDB) Info() *Info {
	return &Info{
		GUID:         p.info.GUIDString(),
		Age:          p.info.Age,
		Signature:    p.info.Signature,
		Version:      p.info.Version,
		Machine:      streams.MachineTypeName(p.dbi.Header.Machine),
		Streams:      p.msf.NumStreams(),
		Modules:      len(p.dbi.Modules),
		Types:        p.tpi.Count(),
		HashedTypes:  p.tpi.HasHash(),
		NamedStreams: p.info.NamedStreams,
	}
}

// String resolves an offset into /names.
func (p *PDB) String(off uint32) (string, bool) {
	if p.names == nil {
		return "", false
	}
	return p.names.String(off)
}

// ModuleCount returns the number of modules. Module indices are dense in
// [0, ModuleCount).
func (p *PDB) ModuleCount() int { return len(p.dbi.Modules) }

// Modules lists the module table.
func (p *PDB) Modules() []Module {
	out := make([]Module, len(p.dbi.Modules))
	for i := range p.dbi.Modules {
		out[i], _ = p.Module(i)
	}
	return out
}

// Module describes one module.
func (p *PDB) Module(i int) (Module, error) {
	if i < 0 || i >= len(p.dbi.Modules) {
		return Module{}, errors.Wrapf(ErrNoModule, "module %d of %d", i, len(p.dbi.Modules))
	}
	mi := p.dbi.Modules[i]
	m := Module{
		Index:        i,
		Name:         mi.ModuleName,
		ObjectFile:   mi.ObjFileName,
		SymbolStream: mi.ModuleSymStream,
		SymbolSize:   mi.SymByteSize,
		C11Size:      mi.C11ByteSize,
		C13Size:      mi.C13ByteSize,
		SourceFiles:  mi.SourceFileCount,
		Section:      mi.SectionContrib.Section,
		Size:         uint32(mi.SectionContrib.Size),
	}
	m.RVA, _ = p.RVA(mi.SectionContrib.Section, uint32(mi.SectionContrib.Offset))
	return m, nil
}

// ModuleStreams holds the three regions of a module symbol stream.
// Symbols excludes the leading signature; its first record sits at stream
// offset 4, which is the base symbol offsets are relative to.
type ModuleStreams struct {
	Signature uint32
	Symbols   []byte
	C11       []byte
	C13       []byte
}

// SymbolBase is the module stream offset of the first symbol record.
const SymbolBase = 4

// ModuleStreams reads and splits the symbol stream of module i. Modules
// without a stream yield empty regions.
func (p *PDB) ModuleStreams(i int) (ModuleStreams, error) {
	if i < 0 || i >= len(p.dbi.Modules) {
		return ModuleStreams{}, errors.Wrapf(ErrNoModule, "module %d of %d", i, len(p.dbi.Modules))
	}
	mi := &p.dbi.Modules[i]
	if mi.ModuleSymStream == 0xffff {
		return ModuleStreams{}, nil
	}
	data, err := p.msf.ReadStream(int(mi.ModuleSymStream))
	if err != nil {
		return ModuleStreams{}, errors.Wrapf(err, "module %d stream %d", i, mi.ModuleSymStream)
	}
	end := uint64(mi.SymByteSize) + uint64(mi.C11ByteSize) + uint64(mi.C13ByteSize)
	if end > uint64(len(data)) {
		return ModuleStreams{}, errors.Wrapf(codeview.ErrMalformedRecord,
			"module %d regions need %d bytes, stream has %d", i, end, len(data))
	}
	var ms ModuleStreams
	if mi.SymByteSize >= SymbolBase {
		ms.Signature = binary.LittleEndian.Uint32(data)
		ms.Symbols = data[SymbolBase:mi.SymByteSize]
	}
	c11End := mi.SymByteSize + mi.C11ByteSize
	ms.C11 = data[mi.SymByteSize:c11End]
	ms.C13 = data[c11End : c11End+mi.C13ByteSize]
	return ms, nil
}

// Sections lists the image sections.
func (p *PDB) Sections() []Section {
	out := make([]Section, len(p.sections))
	for i, s := range p.sections {
		out[i] = Section{
			Index:           uint16(i + 1),
			Name:            sectionName(s.Name),
			RVA:             s.VirtualAddress,
			Size:            s.VirtualSize,
			Characteristics: s.Characteristics,
		}
	}
	return out
}

func sectionName(b [8]uint8) string {
	if i := bytes.IndexByte(b[:], 0); i >= 0 {
		return string(b[:i])
	}
	return string(b[:])
}

// RVA converts a one-based section and offset to a relative virtual
// address.
func (p *PDB) RVA(sec uint16, off uint32) (uint32, bool) {
	if sec == 0 || int(sec) > len(p.sections) {
		return 0, false
	}
	return p.sections[sec-1].VirtualAddress + off, true
}

// SectionOffset converts an RVA back to a section and offset.
func (p *PDB) SectionOffset(rva uint32) (uint16, uint32, bool) {
	i := sort.Search(len(p.sections), func(i int) bool {
		return p.sections[i].VirtualAddress > rva
	})
	if i == 0 {
		return 0, 0, false
	}
	s := p.sections[i-1]
	size := s.VirtualSize
	if size < s.SizeOfRawData {
		size = s.SizeOfRawData
	}
	if rva-s.VirtualAddress >= size {
		return 0, 0, false
	}
	return uint16(i), rva - s.VirtualAddress, true
}

// ModuleForRVA finds the module whose section contribution covers rva.
func (p *PDB) ModuleForRVA(rva uint32) (int, bool) {
	sec, off, ok := p.SectionOffset(rva)
	if !ok {
		return 0, false
	}
	return p.dbi.ModuleForSectionOffset(sec, off)
}
