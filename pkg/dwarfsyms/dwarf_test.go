package dwarfsyms_test

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/gosyms/pkg/dwarfsyms"
	dt "github.com/jtang613/gosyms/pkg/dwarfsyms/dwarftest"
	"github.com/jtang613/gosyms/pkg/elfsyms/elftest"
	"github.com/jtang613/gosyms/pkg/regs"
)

func sections() dt.Sections {
	intType := dt.NewDIE(dwarf.TagBaseType, dt.Name("int"), dt.Data(dwarf.AttrByteSize, 4), dt.Data(dwarf.AttrEncoding, 5))
	point := dt.NewDIE(dwarf.TagStructType, dt.Name("point"), dt.Data(dwarf.AttrByteSize, 8)).Add(
		dt.NewDIE(dwarf.TagMember, dt.Name("x"), dt.Ref(dwarf.AttrType, intType), dt.Data(dwarf.AttrDataMemberLoc, 0)),
		dt.NewDIE(dwarf.TagMember, dt.Name("y"), dt.Ref(dwarf.AttrType, intType), dt.Data(dwarf.AttrDataMemberLoc, 4)),
	)
	color := dt.NewDIE(dwarf.TagEnumerationType, dt.Name("color"), dt.Data(dwarf.AttrByteSize, 4)).Add(
		dt.NewDIE(dwarf.TagEnumerator, dt.Name("red"), dt.Sdata(dwarf.AttrConstValue, 0)),
		dt.NewDIE(dwarf.TagEnumerator, dt.Name("green"), dt.Sdata(dwarf.AttrConstValue, 1)),
	)
	addParam := dt.NewDIE(dwarf.TagFormalParameter, dt.Name("a"), dt.Ref(dwarf.AttrType, intType))
	add := dt.NewDIE(dwarf.TagSubprogram, dt.Name("add"), dt.Data(dwarf.AttrInline, 3)).Add(addParam)

	main := dt.NewDIE(dwarf.TagSubprogram, append([]dt.Attr{
		dt.Name("main"),
		dt.Flag(dwarf.AttrExternal),
		dt.Data(dwarf.AttrDeclLine, 3),
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
		intType, point, color,
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
	return dt.Encode(dt.Unit{CU: cu, Lines: lines})
}

func newData(t *testing.T) *dwarfsyms.Data {
	dw, err := sections().Data()
	require.NoError(t, err)
	d, err := dwarfsyms.New(dw, regs.ArchX64)
	require.NoError(t, err)
	return d
}

func TestUnitsAndProcs(t *testing.T) {
	d := newData(t)
	require.Len(t, d.Units(), 1)
	u := d.Units()[0]
	assert.Equal(t, "main.c", u.Name)
	assert.Equal(t, "/src", u.CompDir)
	assert.Equal(t, "gcc", u.Producer)
	assert.Equal(t, [][2]uint64{{0x401000, 0x401100}}, u.Ranges)
	_, err := d.Unit(3)
	assert.True(t, errors.Is(err, dwarfsyms.ErrNoUnit))

	procs := d.Procs(-1)
	require.Len(t, procs, 2)
	assert.Equal(t, "main", procs[0].Name)
	assert.True(t, procs[0].External)
	assert.Equal(t, int64(3), procs[0].DeclLine)
	assert.Equal(t, [][2]uint64{{0x401000, 0x401040}}, procs[0].Ranges)
	assert.Equal(t, "helper", procs[1].Name)
	assert.False(t, procs[1].External)
	assert.Len(t, d.Procs(0), 2)
	assert.Empty(t, d.Procs(1))

	tests := []struct {
		pc   uint64
		name string
	}{
		{0x401000, "main"},
		{0x401025, "main"},
		{0x401040, ""},
		{0x401050, ""},
		{0x40109f, "helper"},
		{0x400000, ""},
	}
	for _, tc := range tests {
		p, ok := d.ProcForPC(tc.pc)
		assert.Equal(t, tc.name != "", ok, "0x%x", tc.pc)
		assert.Equal(t, tc.name, p.Name, "0x%x", tc.pc)
	}

	p, ok := d.FindProc("helper")
	require.True(t, ok)
	assert.Equal(t, uint64(0x401080), p.Low)
	assert.Equal(t, uint64(0x4010a0), p.High)
	_, ok = d.FindProc("add")
	assert.False(t, ok)

	unit, ok := d.UnitForPC(0x401090)
	require.True(t, ok)
	assert.Zero(t, unit)
	_, ok = d.UnitForPC(0x500000)
	assert.False(t, ok)
}

func TestGlobalsAndTypes(t *testing.T) {
	d := newData(t)
	globals := d.Globals()
	require.Len(t, globals, 2)
	assert.Equal(t, "g_total", globals[0].Name)
	assert.Equal(t, uint64(0x404000), globals[0].Address)
	assert.True(t, globals[0].External)
	assert.Equal(t, "int", globals[0].Type)

	g, ok := d.FindGlobal("k_limit")
	require.True(t, ok)
	assert.True(t, g.Constant)
	assert.Equal(t, int64(7), g.Value)
	_, ok = d.FindGlobal("argc")
	assert.False(t, ok)

	assert.Equal(t, []string{"int", "point", "color"}, d.TypeNames())
	ti, ok := d.FindType("point")
	require.True(t, ok)
	assert.Equal(t, "struct", ti.Kind)
	assert.Equal(t, int64(8), ti.Size)
	assert.Equal(t, []dwarfsyms.Member{
		{Kind: "data", Name: "x", TypeName: "int", Offset: 0},
		{Kind: "data", Name: "y", TypeName: "int", Offset: 4},
	}, ti.Members)

	ti, ok = d.FindType("color")
	require.True(t, ok)
	assert.Equal(t, "enum", ti.Kind)
	assert.Equal(t, []dwarfsyms.Member{
		{Kind: "enumerate", Name: "red"},
		{Kind: "enumerate", Name: "green", Value: 1},
	}, ti.Members)
	_, ok = d.FindType("missing")
	assert.False(t, ok)
}

func TestLines(t *testing.T) {
	d := newData(t)
	lines, err := d.Lines(0)
	require.NoError(t, err)
	want := []dwarfsyms.Line{
		{Address: 0x401000, File: "/src/main.c", Line: 10, Statement: true},
		{Address: 0x401010, File: "/src/main.c", Line: 11, Statement: true},
		{Address: 0x401020, File: "/src/util.h", Line: 40, Statement: true},
		{Address: 0x401030, File: "/src/main.c", Line: 12, Statement: true},
		{Address: 0x401040, End: true},
		{Address: 0x401080, File: "/src/main.c", Line: 20, Statement: true},
		{Address: 0x4010a0, End: true},
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	_, err = d.Lines(1)
	assert.True(t, errors.Is(err, dwarfsyms.ErrNoUnit))
}

func TestLocalsAndInlineSites(t *testing.T) {
	d := newData(t)
	main, ok := d.FindProc("main")
	require.True(t, ok)

	vars, err := d.Locals(main)
	require.NoError(t, err)
	require.Len(t, vars, 4)

	assert.Equal(t, "argc", vars[0].Name)
	assert.True(t, vars[0].Param)
	assert.Equal(t, "int", vars[0].Type)
	assert.Equal(t, dwarfsyms.Location{Kind: dwarfsyms.LocationFrameRelative, Offset: -20}, vars[0].Location)

	assert.Equal(t, "x", vars[1].Name)
	assert.Equal(t, dwarfsyms.Location{Kind: dwarfsyms.LocationRegister, Register: regs.X64RAX}, vars[1].Location)
	assert.Zero(t, vars[1].Depth)

	assert.Equal(t, "tmp", vars[2].Name)
	assert.Equal(t, "struct point", vars[2].Type)
	assert.Equal(t, 1, vars[2].Depth)
	assert.Equal(t, [][2]uint64{{0x401010, 0x401020}}, vars[2].Scope)
	assert.Equal(t, dwarfsyms.Location{Kind: dwarfsyms.LocationRegisterRelative, Register: regs.X64RBP, Offset: 8}, vars[2].Location)

	assert.Equal(t, "a", vars[3].Name)
	assert.True(t, vars[3].Inline)
	assert.True(t, vars[3].Param)
	assert.Equal(t, 1, vars[3].Depth)
	assert.Equal(t, dwarfsyms.Location{Kind: dwarfsyms.LocationRegister, Register: regs.X64RDX}, vars[3].Location)

	want := []dwarfsyms.InlineSite{{
		Name:     "add",
		Depth:    1,
		Ranges:   [][2]uint64{{0x401020, 0x401030}},
		CallFile: "/src/main.c",
		CallLine: 12,
	}}
	sites, err := d.InlineSites(main)
	require.NoError(t, err)
	assert.Equal(t, want, sites)

	stack, err := d.InlineStack(0x401025)
	require.NoError(t, err)
	assert.Equal(t, want, stack)
	assert.True(t, stack[0].Contains(0x40102f))

	stack, err = d.InlineStack(0x401005)
	require.NoError(t, err)
	assert.Empty(t, stack)
}

func TestLocationKinds(t *testing.T) {
	assert.Equal(t, "cfa", dwarfsyms.LocationFrameRelative.String())
	assert.Equal(t, "expr", dwarfsyms.LocationExpr.String())
}

func TestFromELF(t *testing.T) {
	s := sections()
	img := elftest.New().Text(0x401000, 0x100).
		Debug(".debug_abbrev", s.Abbrev).
		Debug(".debug_info", s.Info).
		Debug(".debug_line", s.Line).
		Bytes()
	f, err := elf.NewFile(bytes.NewReader(img))
	require.NoError(t, err)
	d, err := dwarfsyms.FromELF(f)
	require.NoError(t, err)
	assert.Equal(t, regs.ArchX64, d.Arch())
	assert.Len(t, d.Procs(-1), 2)

	f, err = elf.NewFile(bytes.NewReader(elftest.New().Text(0x401000, 0x10).Bytes()))
	require.NoError(t, err)
	_, err = dwarfsyms.FromELF(f)
	assert.True(t, errors.Is(err, dwarfsyms.ErrNoDWARF))
}
