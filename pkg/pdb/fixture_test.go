package pdb_test

import (
	"debug/pe"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jtang613/gosyms/pkg/pdb"
	"github.com/jtang613/gosyms/pkg/pdb/codeview"
	"github.com/jtang613/gosyms/pkg/pdb/pdbtest"
	"github.com/jtang613/gosyms/pkg/pdb/streams"
)

// fixture describes the synthetic image used across the package tests:
//
//	.text at 0x1000: main [0x1100,0x1140), helper [0x1200,0x1220),
//	                 old.obj C11 lines at [0x1300,0x1310)
//	.data at 0x3000: g_total at 0x3020, s_counter at 0x3010
type fixture struct {
	p       *pdb.PDB
	sig     codeview.TypeIndex
	inlinee codeview.TypeIndex
	mainOff uint32
	helpOff uint32
	inlOff  uint32
}

func section(name string, va, size uint32) pe.SectionHeader32 {
	s := pe.SectionHeader32{VirtualAddress: va, VirtualSize: size, SizeOfRawData: size}
	copy(s.Name[:], name)
	return s
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	b := pdbtest.NewPDBBuilder()
	b.Sections = []pe.SectionHeader32{
		section(".text", 0x1000, 0x1000),
		section(".data", 0x3000, 0x1000),
	}
	f.sig = b.TPI.Procedure(codeview.T_INT4, codeview.T_INT4)
	f.inlinee = b.IPI.FuncID(0, f.sig, "inl_add")

	mainName := b.Names.Add(`c:\src\main.cpp`)
	utilName := b.Names.Add(`c:\src\util.h`)
	sums, offs := pdbtest.FileChecksumsData(
		pdbtest.Checksum{NameOffset: mainName, Kind: codeview.ChecksumMD5, Bytes: make([]byte, 16)},
		pdbtest.Checksum{NameOffset: utilName},
	)

	syms := pdbtest.NewSymbolWriter(4)
	f.mainOff = syms.Proc("main", false, 1, 0x100, 0x40, f.sig, 0)
	syms.FrameProc(0x28, 2<<14|1<<16)
	syms.RegRel("argc", codeview.CV_AMD64_RSP, 8, codeview.T_INT4)
	syms.Local("x", codeview.T_INT4, 0)
	syms.DefRangeRegister(codeview.CV_AMD64_RAX,
		codeview.AddrRange{Offset: 0x110, Section: 1, Length: 0x10},
		codeview.AddrGap{Start: 4, Length: 0x20})
	syms.Local("y", codeview.T_INT4, 0)
	syms.Block(1, 0x120, 0x10)
	syms.BPRel("b", -8, codeview.T_INT4)
	syms.End()
	f.inlOff = syms.InlineSite(f.inlinee, []byte{
		codeview.BACodeOffset, 0x28,
		codeview.BAChangeCodeLength, 0x08,
		codeview.BAChangeLineOffset, 0x04,
	})
	syms.Local("t", codeview.T_INT4, codeview.LocalIsParam)
	syms.DefRangeFramePointerRel(16, codeview.AddrRange{Offset: 0x128, Section: 1, Length: 8})
	syms.End()
	syms.Data("s_counter", false, 2, 0x10, codeview.T_INT4)
	syms.Constant("kLimit", codeview.T_INT4, 7)
	syms.End()
	f.helpOff = syms.Proc("helper", true, 1, 0x200, 0x20, f.sig, 0)
	syms.End()

	b.AddModule(pdbtest.Module{
		Name:    "main.obj",
		ObjName: "main.obj",
		Syms:    syms,
		C13: [][]byte{
			pdbtest.Subsection(codeview.DebugSFileChecksums, sums),
			pdbtest.Subsection(codeview.DebugSLines, pdbtest.LinesData(1, 0x100, 0x40, false,
				pdbtest.LineFile{ChecksumOffset: offs[0], Lines: []pdbtest.Line{
					{Offset: 0, Line: 10, IsStatement: true},
					{Offset: 0x10, Line: 11, IsStatement: true},
					{Offset: 0x28, Line: 12, IsStatement: true},
				}})),
			pdbtest.Subsection(codeview.DebugSLines, pdbtest.LinesData(1, 0x200, 0x20, false,
				pdbtest.LineFile{ChecksumOffset: offs[1], Lines: []pdbtest.Line{
					{Offset: 0, Line: 5, IsStatement: true},
				}})),
			pdbtest.Subsection(codeview.DebugSInlineeLines, pdbtest.InlineeLinesData(
				pdbtest.Inlinee{ID: f.inlinee, ChecksumOffset: offs[1], Line: 40})),
		},
		Files:   []string{`c:\src\main.cpp`, `c:\src\util.h`},
		Contrib: streams.SectionContrib{Section: 1, Offset: 0x100, Size: 0x200},
	})
	b.AddModule(pdbtest.Module{
		Name:    "old.obj",
		ObjName: "legacy.lib",
		Syms:    pdbtest.NewSymbolWriter(4),
		C11: pdbtest.C11Data(pdbtest.C11File{Name: `c:\src\old.c`, Segments: []pdbtest.C11Segment{{
			Section: 1, Start: 0x300, End: 0x310,
			Offsets: []uint32{0x300, 0x308},
			Lines:   []uint16{1, 2},
		}}}),
		Files:   []string{`c:\src\old.c`},
		Contrib: streams.SectionContrib{Section: 1, Offset: 0x300, Size: 0x10, ModuleIndex: 1},
	})
	b.Contribs = []streams.SectionContrib{
		{Section: 1, Offset: 0x100, Size: 0x200},
		{Section: 1, Offset: 0x300, Size: 0x10, ModuleIndex: 1},
		{Section: 2, Offset: 0, Size: 0x100},
	}

	b.Globals.Data("g_total", true, 2, 0x20, codeview.T_INT4)
	b.Globals.Data("g_hidden", false, 2, 0x28, codeview.T_INT4)
	b.Globals.Constant("kAnswer", codeview.T_INT4, 42)
	b.Globals.UDT("sig_t", f.sig)
	b.Globals.Pub("?main@@YAHH@Z", codeview.PubFunction, 1, 0x100)
	b.Globals.Pub("g_total", 0, 2, 0x20)
	b.Globals.ProcRef("main", false, f.mainOff, 1)
	b.Globals.ProcRef("ns::helper", true, f.helpOff, 1)
	b.Globals.ProcRef("broken", false, 0, 0)

	b.Frames = []pdbtest.FrameData{{
		RVA: 0x1100, CodeSize: 0x40, Locals: 0x28, Params: 8,
		Program: "$T0 .raSearch = $rip $T0 ^ = $rsp $T0 8 + =",
		Prolog:  4, Start: true,
	}}
	b.FPO = []pdbtest.FPO{{Start: 0x1400, ProcSize: 0x20, Locals: 2, Params: 1, Prolog: 3, Regs: 1, UseBP: true}}

	var err error
	f.p, err = pdb.FromBytes(b.Build())
	require.NoError(t, err)
	return f
}
