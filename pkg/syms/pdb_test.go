package syms_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-kit/log"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/gosyms/pkg/regs"
	"github.com/jtang613/gosyms/pkg/syms"
	"github.com/jtang613/gosyms/pkg/unwind"
)

func loadPDB(t *testing.T, opts syms.Options) *syms.Instance {
	t.Helper()
	in := syms.New(opts)
	require.NoError(t, in.LoadDebugInfo(syms.File{Name: "app.pdb", Data: pdbFile()}))
	return in
}

// mustCollect drains an iterator returned with an error.
func mustCollect[T any](it *syms.Iterator[T], err error) []T {
	if err != nil {
		panic(err)
	}
	var out []T
	for it.Next() {
		out = append(out, it.Value())
	}
	return out
}

func TestPDBModules(t *testing.T) {
	in := loadPDB(t, syms.Options{Rebase: rebase})
	assert.Equal(t, syms.FormatPDB, in.Format())
	assert.Equal(t, "pdb", in.Format().String())
	assert.Equal(t, regs.ArchX64, in.Arch())
	require.Equal(t, 2, in.ModuleCount())
	assert.Equal(t, 2, in.ModuleBuildCount())

	mods := mustCollect(in.Modules(), nil)
	assert.Equal(t, "main.obj", mods[0].Name)
	assert.Equal(t, []syms.Range{{Start: rebase + 0x1100, End: rebase + 0x1300}}, mods[0].Ranges)
	assert.Equal(t, "legacy.lib", mods[1].Object)

	_, err := in.Module(5)
	assert.True(t, errors.Is(err, syms.ErrNoModule))

	secs := mustCollect(in.Sections(), nil)
	require.Len(t, secs, 2)
	assert.Equal(t, ".text", secs[0].Name)
	assert.True(t, secs[0].Exec)
	assert.Equal(t, syms.Range{Start: rebase + 0x1000, End: rebase + 0x2000}, secs[0].Range)
	assert.False(t, secs[1].Exec)

	m, ok := in.ModuleFromAddr(rebase + 0x1305)
	require.True(t, ok)
	assert.Equal(t, 1, m.ID)
	_, ok = in.ModuleFromAddr(0x1305)
	assert.False(t, ok)
}

func TestPDBProcs(t *testing.T) {
	for _, deferBuild := range []bool{false, true} {
		in := loadPDB(t, syms.Options{Rebase: rebase, DeferBuild: deferBuild})

		p, ok := in.ProcFromAddr(rebase + 0x1130)
		require.True(t, ok, "deferred %v", deferBuild)
		assert.Equal(t, "main", p.Name)
		assert.Equal(t, syms.Range{Start: rebase + 0x1100, End: rebase + 0x1140}, p.Range)
		assert.Equal(t, "int (int)", p.Type)

		p, ok = in.ProcFromAddr(rebase + 0x121f)
		require.True(t, ok)
		assert.Equal(t, "helper", p.Name)
		assert.False(t, p.Global)

		_, ok = in.ProcFromAddr(rebase + 0x1150)
		assert.False(t, ok)

		procs := mustCollect(in.Procs(0))
		require.Len(t, procs, 2)
		assert.Equal(t, "main", procs[0].Name)
		assert.Equal(t, "helper", procs[1].Name)
	}

	in := loadPDB(t, syms.Options{})
	p, ok := in.ProcFromName("ns::helper")
	require.True(t, ok)
	assert.Equal(t, uint64(0x1200), p.Range.Start)
	_, ok = in.ProcFromName("missing")
	assert.False(t, ok)
}

func TestPDBLines(t *testing.T) {
	in := loadPDB(t, syms.Options{Rebase: rebase})

	l, ok := in.AddrToSrc(rebase + 0x1114)
	require.True(t, ok)
	assert.Equal(t, syms.Line{Addr: rebase + 0x1110, File: `c:\src\main.cpp`, Line: 11, Statement: true}, l)
	l, ok = in.AddrToSrc(rebase + 0x1309)
	require.True(t, ok)
	assert.Equal(t, `c:\src\old.c`, l.File)
	assert.Equal(t, uint32(2), l.Line)
	_, ok = in.AddrToSrc(rebase + 0x1140)
	assert.False(t, ok)

	tests := []struct {
		file      string
		line      uint32
		addr      uint64
		matched   uint32
		wantFound bool
	}{
		{`c:\src\main.cpp`, 11, rebase + 0x1110, 11, true},
		{`C:/SRC/MAIN.CPP`, 11, rebase + 0x1110, 11, true},
		{`main.cpp`, 12, rebase + 0x1128, 12, true},
		{`main.cpp`, 2, rebase + 0x1100, 10, true},
		{`src\util.h`, 1, rebase + 0x1200, 5, true},
		{`old.c`, 2, rebase + 0x1308, 2, true},
		{`ain.cpp`, 10, 0, 0, false},
		{`main.cpp`, 13, 0, 0, false},
	}
	for _, tc := range tests {
		addr, matched, ok := in.SrcToAddr(tc.file, tc.line)
		assert.Equal(t, tc.wantFound, ok, "%s:%d", tc.file, tc.line)
		assert.Equal(t, tc.addr, addr, "%s:%d", tc.file, tc.line)
		assert.Equal(t, tc.matched, matched, "%s:%d", tc.file, tc.line)
	}

	rows := mustCollect(in.Lines(1))
	want := []syms.Line{
		{Addr: rebase + 0x1300, File: `c:\src\old.c`, Line: 1, Statement: true},
		{Addr: rebase + 0x1308, File: `c:\src\old.c`, Line: 2, Statement: true},
		{Addr: rebase + 0x1310, End: true},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestPDBGlobalsAndTypes(t *testing.T) {
	in := loadPDB(t, syms.Options{Rebase: rebase})

	names := []string{}
	for _, g := range mustCollect(in.Globals()) {
		names = append(names, g.Name)
	}
	assert.Equal(t, []string{"g_total", "g_hidden"}, names)

	g, ok := in.GlobalFromName("g_total")
	require.True(t, ok)
	assert.Equal(t, uint64(rebase+0x3020), g.Addr)
	assert.Equal(t, syms.GlobalData, g.Kind)
	assert.True(t, g.External)
	assert.Equal(t, "int", g.Type)
	_, ok = in.GlobalFromName("kAnswer")
	assert.False(t, ok)

	c, ok := in.ConstFromName("kAnswer")
	require.True(t, ok)
	assert.Equal(t, int64(42), c.Value)

	typ, ok := in.TypeFromName("Point")
	require.True(t, ok)
	assert.Equal(t, syms.Type{
		Name: "Point",
		Kind: "struct",
		Size: 8,
		Members: []syms.Member{
			{Kind: "data", Name: "x", TypeName: "int"},
			{Kind: "data", Name: "y", TypeName: "int", Offset: 4},
		},
	}, typ)
	_, ok = in.TypeFromName("Nope")
	assert.False(t, ok)

	types := mustCollect(in.Types())
	require.Len(t, types, 1)
	assert.Equal(t, "Point", types[0].Name)
}

func TestPDBLocals(t *testing.T) {
	in := loadPDB(t, syms.Options{Rebase: rebase})
	main, ok := in.ProcFromName("main")
	require.True(t, ok)

	byName := func(locals []syms.Local) map[string]syms.Local {
		m := map[string]syms.Local{}
		for _, l := range locals {
			m[l.Name] = l
		}
		return m
	}

	vars := byName(mustCollect(in.Locals(main, rebase+0x1112)))
	assert.Len(t, vars, 5)
	assert.Equal(t, syms.Location{Kind: syms.LocationRegisterRelative, Register: regs.X64RSP, Offset: 8}, vars["argc"].Location)
	assert.Equal(t, 1, vars["argc"].Depth)
	assert.Equal(t, syms.Location{Kind: syms.LocationRegister, Register: regs.X64RAX}, vars["x"].Location)
	assert.Equal(t, syms.LocationNone, vars["y"].Location.Kind)
	assert.Equal(t, syms.Location{Kind: syms.LocationAddress, Addr: rebase + 0x3010}, vars["s_counter"].Location)
	k := vars["kLimit"]
	assert.Equal(t, syms.LocationConst, k.Location.Kind)
	require.NotEmpty(t, k.Location.Value)
	assert.Equal(t, byte(7), k.Location.Value[0])

	vars = byName(mustCollect(in.Locals(main, rebase+0x112c)))
	assert.Len(t, vars, 6)
	assert.NotContains(t, vars, "x")
	assert.Equal(t, 2, vars["b"].Depth)
	assert.Equal(t, syms.Location{Kind: syms.LocationFrameRelative, Register: regs.X64RBP, Offset: -8}, vars["b"].Location)
	assert.True(t, vars["t"].Param)
	assert.Equal(t, syms.Location{Kind: syms.LocationFrameRelative, Register: regs.X64RSP, Offset: 16}, vars["t"].Location)

	vars = byName(mustCollect(in.Locals(main, 0x112c)))
	assert.Empty(t, vars)
}

func TestPDBLocationAddress(t *testing.T) {
	file := regs.NewFile(regs.ArchX64)
	require.NoError(t, file.Set(regs.X64RSP, 0x7000))
	rs := unwind.FileRegisters{File: file}

	addr, err := syms.Location{Kind: syms.LocationRegisterRelative, Register: regs.X64RSP, Offset: 8}.Address(rs)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7008), addr)
	addr, err = syms.Location{Kind: syms.LocationAddress, Addr: 0x1234}.Address(rs)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), addr)

	_, err = syms.Location{Kind: syms.LocationTLS, Offset: 0x10}.Address(rs)
	assert.True(t, errors.Is(err, syms.ErrThreadLocal))
	_, err = syms.Location{}.Address(rs)
	assert.True(t, errors.Is(err, syms.ErrOptimizedOut))
	_, err = syms.Location{Kind: syms.LocationRegister, Register: regs.X64RAX}.Address(rs)
	assert.True(t, errors.Is(err, syms.ErrNotInMemory))
	assert.Equal(t, "regrel", syms.LocationRegisterRelative.String())
}

func TestPDBInlineSites(t *testing.T) {
	in := loadPDB(t, syms.Options{Rebase: rebase})

	sites := mustCollect(in.InlineSites(rebase + 0x112c))
	want := []syms.InlineSite{{
		Name:     "inl_add",
		Depth:    1,
		Ranges:   []syms.Range{{Start: rebase + 0x1128, End: rebase + 0x1130}},
		CallFile: `c:\src\main.cpp`,
		CallLine: 12,
	}}
	if diff := cmp.Diff(want, sites); diff != "" {
		t.Errorf("inline sites mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, mustCollect(in.InlineSites(rebase+0x1110)))
	assert.Empty(t, mustCollect(in.InlineSites(rebase+0x1800)))
}

func TestPDBStep(t *testing.T) {
	in := loadPDB(t, syms.Options{Rebase: rebase})
	file := regs.NewFile(regs.ArchX64)
	require.NoError(t, file.Set(regs.X64RIP, rebase+0x1110))
	require.NoError(t, file.Set(regs.X64RSP, 0x7000))
	data := make([]byte, 0x40)
	binary.LittleEndian.PutUint64(data[0x28:], rebase+0x1500)

	require.NoError(t, in.Step(unwind.BytesMemory{Base: 0x7000, Data: data}, unwind.FileRegisters{File: file}))
	ip, _ := file.Get(regs.X64RIP)
	sp, _ := file.Get(regs.X64RSP)
	assert.Equal(t, uint64(rebase+0x1500), ip)
	assert.Equal(t, uint64(0x7030), sp)

	err := in.Step(unwind.BytesMemory{Base: 0x7000, Data: data}, unwind.FileRegisters{File: file})
	assert.True(t, errors.Is(err, unwind.ErrNoFrameData))
}

func TestPDBImageMatch(t *testing.T) {
	tests := []struct {
		name string
		guid [16]byte
		age  uint32
		warn bool
	}{
		{"match", pdbGUID, 1, false},
		{"age", pdbGUID, 2, true},
		{"guid", [16]byte{1}, 1, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			in := syms.New(syms.Options{Logger: log.NewLogfmtLogger(&buf)})
			require.NoError(t, in.LoadImage(peFile(tc.guid, tc.age)))
			require.NoError(t, in.LoadDebugInfo(syms.File{Name: "app.pdb", Data: pdbFile()}))
			assert.Equal(t, tc.warn, bytes.Contains(buf.Bytes(), []byte("PDB does not match image")), buf.String())
		})
	}
}
