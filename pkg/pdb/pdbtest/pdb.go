package pdbtest

import (
	"debug/pe"

	"github.com/jtang613/gosyms/pkg/pdb/msf"
	"github.com/jtang613/gosyms/pkg/pdb/streams"
)

// Module describes one compiland of a synthetic PDB.
type Module struct {
	Name    string
	ObjName string
	// Syms must be created with NewSymbolWriter(4).
	Syms    *SymbolWriter
	C11     []byte
	C13     [][]byte
	Files   []string
	Contrib streams.SectionContrib
}

// FPO is one FPO_DATA entry.
type FPO struct {
	Start, ProcSize uint32
	Locals          uint32
	Params          uint16
	Prolog          uint8
	Regs            uint8
	HasSEH, UseBP   bool
	Frame           uint8
}

// FrameData is one FRAMEDATA entry. Program is interned into /names.
type FrameData struct {
	RVA, CodeSize        uint32
	Locals, Params       uint32
	MaxStack             uint32
	Program              string
	Prolog, SavedRegs    uint16
	HasSEH, HasEH, Start bool
}

// PDBBuilder assembles a complete PDB from its parts.
type PDBBuilder struct {
	BlockSize uint32
	Seed      int64
	Age       uint32
	GUID      [16]byte
	Machine   uint16
	TPI       *TypeBuilder
	IPI       *TypeBuilder
	Names     *StringTableBuilder
	// Globals holds the symbol record stream and must be created with
	// NewSymbolWriter(0).
	Globals  *SymbolWriter
	Modules  []Module
	Contribs []streams.SectionContrib
	Sections []pe.SectionHeader32
	FPO      []FPO
	Frames   []FrameData
	// NoIPI leaves stream 4 empty, as older toolchains did.
	NoIPI bool
}

// NewPDBBuilder returns an x64 builder with empty type streams.
func NewPDBBuilder() *PDBBuilder {
	return &PDBBuilder{
		BlockSize: 4096,
		Age:       1,
		GUID:      [16]byte{0x10, 0x32, 0x54, 0x76, 0x98, 0xba, 0xdc, 0xfe, 1, 2, 3, 4, 5, 6, 7, 8},
		Machine:   streams.MachineAMD64,
		TPI:       NewTypeBuilder(),
		IPI:       NewTypeBuilder(),
		Names:     NewStringTableBuilder(),
		Globals:   NewSymbolWriter(0),
	}
}

// AddModule appends a module and returns its zero-based index.
func (b *PDBBuilder) AddModule(m Module) int {
	b.Modules = append(b.Modules, m)
	return len(b.Modules) - 1
}

// Build serialises the PDB.
func (b *PDBBuilder) Build() []byte {
	mb := NewMSFBuilder(b.BlockSize)
	mb.Seed = b.Seed
	mb.AddStream(nil)
	info := mb.AddStream(nil)
	tpi := mb.AddStream(nil)
	dbi := mb.AddStream(nil)
	ipi := mb.AddStream(nil)

	// FRAMEDATA programs must be interned before /names is serialised.
	var frames []byte
	if len(b.Frames) > 0 {
		w := &Writer{}
		for _, f := range b.Frames {
			flags := uint32(0)
			if f.HasSEH {
				flags |= 1
			}
			if f.HasEH {
				flags |= 2
			}
			if f.Start {
				flags |= 4
			}
			w.U32(f.RVA).U32(f.CodeSize).U32(f.Locals).U32(f.Params).U32(f.MaxStack).
				U32(b.Names.Add(f.Program)).U16(f.Prolog).U16(f.SavedRegs).U32(flags)
		}
		frames = w.B
	}

	tpiHash := mb.AddStream(nil)
	tpiData, tpiHashData := b.TPI.Build(uint16(tpiHash), b.Names)
	mb.SetStream(tpiHash, tpiHashData)
	mb.SetStream(tpi, tpiData)
	if !b.NoIPI {
		ipiHash := mb.AddStream(nil)
		ipiData, ipiHashData := b.IPI.Build(uint16(ipiHash), b.Names)
		mb.SetStream(ipiHash, ipiHashData)
		mb.SetStream(ipi, ipiData)
	}

	symrec := mb.AddStream(b.Globals.B)

	modInfo := &Writer{}
	for _, m := range b.Modules {
		sn := uint16(0xffff)
		var symBytes, c11Bytes, c13Bytes uint32
		if m.Syms != nil {
			var data []byte
			data, symBytes, c11Bytes, c13Bytes = ModuleStream(m.Syms, m.C11, m.C13...)
			sn = uint16(mb.AddStream(data))
		}
		modInfo.U32(0)
		writeStruct(modInfo, m.Contrib)
		modInfo.U16(0).U16(sn).U32(symBytes).U32(c11Bytes).U32(c13Bytes).
			U16(uint16(len(m.Files))).U16(0).U32(0).U32(0).U32(0).
			Str(m.Name).Str(m.ObjName).Align(4)
	}

	debug := make([]uint16, streams.DebugStreamSectionHdrOrig+1)
	for i := range debug {
		debug[i] = 0xffff
	}
	if len(b.Sections) > 0 {
		w := &Writer{}
		for _, s := range b.Sections {
			writeStruct(w, s)
		}
		debug[streams.DebugStreamSectionHdr] = uint16(mb.AddStream(w.B))
	}
	if len(b.FPO) > 0 {
		w := &Writer{}
		for _, f := range b.FPO {
			bits := uint16(f.Prolog) | uint16(f.Regs&7)<<8 | uint16(f.Frame&3)<<14
			if f.HasSEH {
				bits |= 1 << 11
			}
			if f.UseBP {
				bits |= 1 << 12
			}
			w.U32(f.Start).U32(f.ProcSize).U32(f.Locals).U16(f.Params).U16(bits)
		}
		debug[streams.DebugStreamFPO] = uint16(mb.AddStream(w.B))
	}
	if frames != nil {
		debug[streams.DebugStreamNewFPO] = uint16(mb.AddStream(frames))
	}

	names := mb.AddStream(b.Names.Build())
	mb.SetStream(info, InfoStream(b.Age, b.GUID, map[string]uint32{
		streams.NamedStreamNames: uint32(names),
	}))

	contribs := &Writer{}
	contribs.U32(streams.SectionContribV60)
	for _, c := range b.Contribs {
		writeStruct(contribs, c)
	}

	fileInfo := b.fileInfo()

	secMap := &Writer{}
	secMap.U16(uint16(len(b.Sections))).U16(uint16(len(b.Sections)))
	for i, s := range b.Sections {
		secMap.U16(0x10d).U16(0).U16(0).U16(uint16(i + 1)).U16(0xffff).U16(0xffff).U32(0).U32(s.VirtualSize)
	}

	dbg := &Writer{}
	for _, sn := range debug {
		dbg.U16(sn)
	}

	hdr := streams.DBIHeader{
		VersionSignature:        -1,
		VersionHeader:           streams.DBIStreamVersionV70,
		Age:                     b.Age,
		GlobalStreamIndex:       0xffff,
		PublicStreamIndex:       0xffff,
		SymRecordStream:         uint16(symrec),
		ModInfoSize:             int32(modInfo.Len()),
		SectionContributionSize: int32(contribs.Len()),
		SectionMapSize:          int32(secMap.Len()),
		SourceInfoSize:          int32(len(fileInfo)),
		OptionalDbgHeaderSize:   int32(dbg.Len()),
		Machine:                 b.Machine,
	}
	out := &Writer{}
	writeStruct(out, hdr)
	out.Bytes(modInfo.B).Bytes(contribs.B).Bytes(secMap.B).Bytes(fileInfo).Bytes(dbg.B)
	mb.SetStream(dbi, out.B)
	return mb.Build()
}

func (b *PDBBuilder) fileInfo() []byte {
	if len(b.Modules) == 0 {
		return nil
	}
	w := &Writer{}
	w.U16(uint16(len(b.Modules))).U16(0)
	total := 0
	for _, m := range b.Modules {
		w.U16(uint16(total))
		total += len(m.Files)
	}
	for _, m := range b.Modules {
		w.U16(uint16(len(m.Files)))
	}
	var buf []byte
	for _, m := range b.Modules {
		for _, f := range m.Files {
			w.U32(uint32(len(buf)))
			buf = append(append(buf, f...), 0)
		}
	}
	return w.Bytes(buf).Align(4).B
}

// Open builds the PDB and opens it as an MSF container.
func (b *PDBBuilder) Open() (*msf.MSF, error) {
	return msf.FromBytes(b.Build())
}
