package elfsyms_test

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/gosyms/pkg/elfsyms"
	"github.com/jtang613/gosyms/pkg/elfsyms/elftest"
	"github.com/jtang613/gosyms/pkg/regs"
)

func image() []byte {
	fn := func(name string, value, size uint64, bind elf.SymBind) elftest.Sym {
		return elftest.Sym{Name: name, Value: value, Size: size, Type: elf.STT_FUNC, Bind: bind, Section: ".text"}
	}
	id := make([]byte, 20)
	for i := range id {
		id[i] = byte(i + 1)
	}
	b := elftest.New().
		Text(0x401000, 0x100).
		Section(".data", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE, 0x404000, make([]byte, 0x20)).
		GNUBuildID(id)
	b.Symbol(elftest.Sym{Name: "main.c", Type: elf.STT_FILE, Bind: elf.STB_LOCAL})
	b.Symbol(fn("main", 0x401000, 0x20, elf.STB_GLOBAL))
	b.Symbol(fn("_Z3addii", 0x401020, 0x10, elf.STB_GLOBAL))
	b.Symbol(fn("helper", 0x401040, 0, elf.STB_LOCAL))
	b.Symbol(elftest.Sym{Name: "g_counter", Value: 0x404000, Size: 4, Type: elf.STT_OBJECT, Bind: elf.STB_GLOBAL, Section: ".data"})
	b.Symbol(elftest.Sym{Name: "tls_var", Value: 0x10, Size: 8, Type: elf.STT_TLS, Bind: elf.STB_GLOBAL, Section: ".data"})
	b.Symbol(elftest.Sym{Name: "puts", Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL, Undefined: true})
	b.Dynamic(fn("main", 0x401000, 0x20, elf.STB_GLOBAL))
	b.Dynamic(fn("_Z3addii", 0x401020, 0x10, elf.STB_GLOBAL))
	b.Dynamic(fn("exported_only", 0x401080, 8, elf.STB_GLOBAL))
	return b.Bytes()
}

func TestTable(t *testing.T) {
	tab, err := elfsyms.FromBytes(image(), nil)
	require.NoError(t, err)
	assert.Equal(t, regs.ArchX64, tab.Arch)
	assert.Equal(t, elf.EM_X86_64, tab.Machine)
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f1011121314", tab.BuildID())

	names := lo.Map(tab.Symbols(), func(s elfsyms.Symbol, _ int) string { return s.Name })
	assert.Equal(t, []string{"tls_var", "main", "_Z3addii", "helper", "exported_only", "g_counter"}, names)
	assert.Equal(t, 6, tab.Size())

	tests := []struct {
		addr  uint64
		kinds []elfsyms.Kind
		name  string
	}{
		{0x401005, nil, "main"},
		{0x401025, nil, "_Z3addii"},
		{0x401030, nil, ""},
		{0x401050, nil, "helper"},
		{0x401084, nil, "exported_only"},
		{0x401090, nil, ""},
		{0x404002, []elfsyms.Kind{elfsyms.KindFunc}, ""},
		{0x404002, nil, "g_counter"},
		{0x400000, nil, ""},
	}
	for _, tc := range tests {
		s, ok := tab.Resolve(tc.addr, tc.kinds...)
		assert.Equal(t, tc.name != "", ok, "0x%x", tc.addr)
		assert.Equal(t, tc.name, s.Name, "0x%x", tc.addr)
	}

	s, ok := tab.Lookup("add(int, int)")
	require.True(t, ok)
	assert.Equal(t, "_Z3addii", s.Name)
	assert.Equal(t, "add(int, int)", s.DisplayName())
	assert.Equal(t, ".text", s.Section)

	s, ok = tab.Lookup("main")
	require.True(t, ok)
	assert.False(t, s.Dynamic)
	assert.True(t, s.Global)
	assert.Equal(t, "main", s.DisplayName())

	s, ok = tab.Lookup("exported_only")
	require.True(t, ok)
	assert.True(t, s.Dynamic)

	s, ok = tab.Lookup("helper")
	require.True(t, ok)
	assert.False(t, s.Global)

	s, ok = tab.Lookup("tls_var")
	require.True(t, ok)
	assert.Equal(t, elfsyms.KindTLS, s.Kind)
	assert.Equal(t, "tls", s.Kind.String())

	_, ok = tab.Lookup("puts")
	assert.False(t, ok)
	_, ok = tab.Lookup("main.c")
	assert.False(t, ok)

	sec, ok := tab.SectionFor(0x401010)
	require.True(t, ok)
	assert.Equal(t, ".text", sec.Name)
	assert.True(t, sec.Exec)
	sec, ok = tab.SectionFor(0x404010)
	require.True(t, ok)
	assert.False(t, sec.Exec)
	_, ok = tab.SectionFor(0x500000)
	assert.False(t, ok)
}

func TestDemangleModes(t *testing.T) {
	tab, err := elfsyms.FromBytes(image(), elfsyms.DemangleOptions("simplified"))
	require.NoError(t, err)
	s, ok := tab.Lookup("_Z3addii")
	require.True(t, ok)
	assert.Equal(t, "add", s.Demangled)

	tab, err = elfsyms.FromBytes(image(), elfsyms.DemangleOptions("none"))
	require.NoError(t, err)
	s, ok = tab.Lookup("_Z3addii")
	require.True(t, ok)
	assert.Empty(t, s.Demangled)
	_, ok = tab.Lookup("add(int, int)")
	assert.False(t, ok)
}

func TestNoSymbols(t *testing.T) {
	_, err := elfsyms.FromBytes(elftest.New().Text(0x1000, 0x10).Bytes(), nil)
	assert.True(t, errors.Is(err, elfsyms.ErrNoSymbols))

	_, err = elfsyms.FromBytes([]byte("not an elf"), nil)
	assert.Error(t, err)

	f, err := elf.NewFile(bytes.NewReader(elftest.New().Text(0x1000, 0x10).Bytes()))
	require.NoError(t, err)
	_, err = elfsyms.GNUBuildID(f)
	assert.True(t, errors.Is(err, elfsyms.ErrNoBuildID))
}
