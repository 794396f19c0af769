package syms_test

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"debug/pe"
	"encoding/binary"
	"testing"

	"go.uber.org/goleak"

	dt "github.com/jtang613/gosyms/pkg/dwarfsyms/dwarftest"
	"github.com/jtang613/gosyms/pkg/elfsyms/elftest"
	"github.com/jtang613/gosyms/pkg/pdb/codeview"
	"github.com/jtang613/gosyms/pkg/pdb/pdbtest"
	"github.com/jtang613/gosyms/pkg/pdb/streams"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const rebase = 0x140000000

var pdbGUID = [16]byte{0x10, 0x32, 0x54, 0x76, 0x98, 0xba, 0xdc, 0xfe, 1, 2, 3, 4, 5, 6, 7, 8}

func section(name string, va, size, chars uint32) pe.SectionHeader32 {
	s := pe.SectionHeader32{VirtualAddress: va, VirtualSize: size, SizeOfRawData: size, Characteristics: chars}
	copy(s.Name[:], name)
	return s
}

// pdbFile builds a two-module PDB:
//
//	.text at 0x1000: main [0x1100,0x1140), helper [0x1200,0x1220),
//	                 old.obj C11 lines at [0x1300,0x1310)
//	.data at 0x3000: g_total at 0x3020, s_counter at 0x3010
func pdbFile() []byte {
	b := pdbtest.NewPDBBuilder()
	b.GUID = pdbGUID
	b.Sections = []pe.SectionHeader32{
		section(".text", 0x1000, 0x1000, 0x60000020),
		section(".data", 0x3000, 0x1000, 0xc0000040),
	}
	sig := b.TPI.Procedure(codeview.T_INT4, codeview.T_INT4)
	fl := b.TPI.FieldList(new(pdbtest.FieldList).
		Member("x", codeview.T_INT4, 0).
		Member("y", codeview.T_INT4, 4))
	b.TPI.Struct("Point", fl, 2, 0, 8)
	inlinee := b.IPI.FuncID(0, sig, "inl_add")

	mainName := b.Names.Add(`c:\src\main.cpp`)
	utilName := b.Names.Add(`c:\src\util.h`)
	sums, offs := pdbtest.FileChecksumsData(
		pdbtest.Checksum{NameOffset: mainName, Kind: codeview.ChecksumMD5, Bytes: make([]byte, 16)},
		pdbtest.Checksum{NameOffset: utilName},
	)

	syms := pdbtest.NewSymbolWriter(4)
	mainOff := syms.Proc("main", false, 1, 0x100, 0x40, sig, 0)
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
	syms.InlineSite(inlinee, []byte{
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
	helpOff := syms.Proc("helper", true, 1, 0x200, 0x20, sig, 0)
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
				pdbtest.Inlinee{ID: inlinee, ChecksumOffset: offs[1], Line: 40})),
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
	b.Globals.Pub("?main@@YAHH@Z", codeview.PubFunction, 1, 0x100)
	b.Globals.ProcRef("main", false, mainOff, 1)
	b.Globals.ProcRef("ns::helper", true, helpOff, 1)

	b.Frames = []pdbtest.FrameData{{
		RVA: 0x1100, CodeSize: 0x40, Locals: 0x28, Params: 8,
		Program: "$T0 .raSearch = $rip $T0 ^ = $rsp $T0 8 + =",
		Prolog:  4, Start: true,
	}}
	return b.Build()
}

// dwarfFile builds an ELF debug file with one compile unit:
//
//	main [0x401000,0x401040) with add inlined at [0x401020,0x401030),
//	helper [0x401080,0x4010a0), g_total at 0x404000.
func dwarfFile() []byte {
	intType := dt.NewDIE(dwarf.TagBaseType, dt.Name("int"), dt.Data(dwarf.AttrByteSize, 4), dt.Data(dwarf.AttrEncoding, 5))
	point := dt.NewDIE(dwarf.TagStructType, dt.Name("point"), dt.Data(dwarf.AttrByteSize, 8)).Add(
		dt.NewDIE(dwarf.TagMember, dt.Name("x"), dt.Ref(dwarf.AttrType, intType), dt.Data(dwarf.AttrDataMemberLoc, 0)),
		dt.NewDIE(dwarf.TagMember, dt.Name("y"), dt.Ref(dwarf.AttrType, intType), dt.Data(dwarf.AttrDataMemberLoc, 4)),
	)
	addParam := dt.NewDIE(dwarf.TagFormalParameter, dt.Name("a"), dt.Ref(dwarf.AttrType, intType))
	add := dt.NewDIE(dwarf.TagSubprogram, dt.Name("add"), dt.Data(dwarf.AttrInline, 3)).Add(addParam)

	main := dt.NewDIE(dwarf.TagSubprogram, append([]dt.Attr{
		dt.Name("main"),
		dt.Flag(dwarf.AttrExternal),
		dt.Expr(dwarf.AttrFrameBase, 0x9c),
	}, dt.Range(0x401000, 0x40)...)...).Add(
		dt.NewDIE(dwarf.TagFormalParameter, dt.Name("argc"), dt.Ref(dwarf.AttrType, intType), dt.Expr(dwarf.AttrLocation, 0x91, 0x6c)),
		dt.NewDIE(dwarf.TagVariable, dt.Name("x"), dt.Ref(dwarf.AttrType, intType), dt.Expr(dwarf.AttrLocation, 0x50)),
		dt.NewDIE(dwarf.TagLexDwarfBlock, dt.Range(0x401010, 0x10)...).Add(
			dt.NewDIE(dwarf.TagVariable, dt.Name("tmp"), dt.Ref(dwarf.AttrType, point), dt.Expr(dwarf.AttrLocation, 0x76, 0x08)),
		),
		dt.NewDIE(dwarf.TagInlinedSubroutine, append([]dt.Attr{
			dt.Ref(dwarf.AttrAbstractOrigin, add),
			dt.Data(dwarf.AttrCallFile, 1),
			dt.Data(dwarf.AttrCallLine, 12),
		}, dt.Range(0x401020, 0x10)...)...).Add(
			dt.NewDIE(dwarf.TagFormalParameter, dt.Ref(dwarf.AttrAbstractOrigin, addParam), dt.Expr(dwarf.AttrLocation, 0x51)),
		),
	)
	helper := dt.NewDIE(dwarf.TagSubprogram, append([]dt.Attr{dt.Name("helper")}, dt.Range(0x401080, 0x20)...)...)

	cu := dt.NewDIE(dwarf.TagCompileUnit, append([]dt.Attr{
		dt.Name("main.c"),
		dt.Str(dwarf.AttrCompDir, "/src"),
		dt.Str(dwarf.AttrProducer, "gcc"),
		dt.Data(dwarf.AttrLanguage, 0x0c),
	}, dt.Range(0x401000, 0x100)...)...).Add(
		intType, point,
		dt.NewDIE(dwarf.TagVariable, dt.Name("g_total"), dt.Ref(dwarf.AttrType, intType), dt.Flag(dwarf.AttrExternal),
			dt.Expr(dwarf.AttrLocation, 0x03, 0x00, 0x40, 0x40, 0, 0, 0, 0, 0)),
		dt.NewDIE(dwarf.TagVariable, dt.Name("k_limit"), dt.Ref(dwarf.AttrType, intType), dt.Sdata(dwarf.AttrConstValue, 7)),
		add, main, helper,
	)
	lines := &dt.LineProgram{
		Files: []string{"/src/main.c", "/src/util.h"},
		Rows: []dt.Row{
			{Addr: 0x401000, File: 1, Line: 10},
			{Addr: 0x401010, File: 1, Line: 11},
			{Addr: 0x401020, File: 2, Line: 40},
			{Addr: 0x401030, File: 1, Line: 12},
			{Addr: 0x401040, End: true},
			{Addr: 0x401080, File: 1, Line: 20},
			{Addr: 0x4010a0, End: true},
		},
	}
	s := dt.Encode(dt.Unit{CU: cu, Lines: lines})
	b := elftest.New().Text(0x401000, 0x100).
		Debug(".debug_abbrev", s.Abbrev).
		Debug(".debug_info", s.Info).
		Debug(".debug_line", s.Line)
	b.Symbol(elftest.Sym{Name: "main", Value: 0x401000, Size: 0x40, Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL, Section: ".text"})
	return b.Bytes()
}

func buildID() []byte {
	id := make([]byte, 20)
	for i := range id {
		id[i] = byte(i + 1)
	}
	return id
}

// elfFile builds a stripped-down executable with only a symbol table.
func elfFile(id []byte) []byte {
	fn := func(name string, value, size uint64) elftest.Sym {
		return elftest.Sym{Name: name, Value: value, Size: size, Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL, Section: ".text"}
	}
	b := elftest.New().
		Text(0x401000, 0x100).
		Section(".data", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE, 0x404000, make([]byte, 0x20))
	if id != nil {
		b.GNUBuildID(id)
	}
	b.Symbol(fn("main", 0x401000, 0x20))
	b.Symbol(fn("_Z3addii", 0x401020, 0x10))
	b.Symbol(elftest.Sym{Name: "g_counter", Value: 0x404000, Size: 4, Type: elf.STT_OBJECT, Bind: elf.STB_GLOBAL, Section: ".data"})
	b.Symbol(elftest.Sym{Name: "tls_var", Value: 0x10, Size: 8, Type: elf.STT_TLS, Bind: elf.STB_GLOBAL, Section: ".data"})
	return b.Bytes()
}

// peFile builds a PE32+ image whose debug directory names app.pdb with
// the given GUID and age.
func peFile(guid [16]byte, age uint32) []byte {
	const (
		peOff   = 0x40
		dataOff = 0x200
		rdataVA = 0x2000
		rsdsOff = 0x40
	)
	var w bytes.Buffer
	dos := make([]byte, peOff)
	copy(dos, "MZ")
	binary.LittleEndian.PutUint32(dos[0x3c:], peOff)
	w.Write(dos)
	w.WriteString("PE\x00\x00")

	oh := pe.OptionalHeader64{
		Magic:               0x20b,
		ImageBase:           rebase,
		SectionAlignment:    0x1000,
		FileAlignment:       0x200,
		SizeOfImage:         0x3000,
		SizeOfHeaders:       dataOff,
		NumberOfRvaAndSizes: 16,
	}
	oh.DataDirectory[6] = pe.DataDirectory{VirtualAddress: rdataVA, Size: 28}
	binary.Write(&w, binary.LittleEndian, pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_AMD64,
		NumberOfSections:     1,
		SizeOfOptionalHeader: uint16(binary.Size(oh)),
		Characteristics:      0x22,
	})
	binary.Write(&w, binary.LittleEndian, oh)
	sec := pe.SectionHeader32{
		VirtualSize:      0x200,
		VirtualAddress:   rdataVA,
		SizeOfRawData:    0x200,
		PointerToRawData: dataOff,
		Characteristics:  0x40000040,
	}
	copy(sec.Name[:], ".rdata")
	binary.Write(&w, binary.LittleEndian, sec)
	w.Write(make([]byte, dataOff-w.Len()))

	data := make([]byte, 0x200)
	binary.LittleEndian.PutUint32(data[12:], 2)
	binary.LittleEndian.PutUint32(data[16:], 24+uint32(len("c:\\build\\app.pdb\x00")))
	binary.LittleEndian.PutUint32(data[20:], rdataVA+rsdsOff)
	binary.LittleEndian.PutUint32(data[24:], dataOff+rsdsOff)
	rec := data[rsdsOff:]
	copy(rec, "RSDS")
	copy(rec[4:], guid[:])
	binary.LittleEndian.PutUint32(rec[20:], age)
	copy(rec[24:], "c:\\build\\app.pdb\x00")
	w.Write(data)
	return w.Bytes()
}
