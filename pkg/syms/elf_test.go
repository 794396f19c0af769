package syms_test

import (
	"bytes"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/gosyms/pkg/syms"
)

func TestELFSymtab(t *testing.T) {
	in := syms.New(syms.Options{})
	require.NoError(t, in.LoadDebugInfo(syms.File{Name: "app", Data: elfFile(nil)}))
	assert.Equal(t, syms.FormatELFSymtab, in.Format())
	assert.Equal(t, "elf-symtab", in.Format().String())
	require.Equal(t, 1, in.ModuleCount())

	m, err := in.Module(0)
	require.NoError(t, err)
	assert.Equal(t, "app", m.Name)
	assert.Equal(t, []syms.Range{{Start: 0x401000, End: 0x401100}}, m.Ranges)
	_, ok := in.ModuleFromAddr(0x401010)
	assert.True(t, ok)

	p, ok := in.ProcFromAddr(0x401024)
	require.True(t, ok)
	assert.Equal(t, syms.Proc{
		Name:        "add(int, int)",
		LinkageName: "_Z3addii",
		Range:       syms.Range{Start: 0x401020, End: 0x401030},
		Global:      true,
	}, p)
	_, ok = in.ProcFromAddr(0x401040)
	assert.False(t, ok)

	p, ok = in.ProcFromName("main")
	require.True(t, ok)
	assert.Equal(t, uint64(0x401000), p.Range.Start)
	_, ok = in.ProcFromName("g_counter")
	assert.False(t, ok)

	g, ok := in.GlobalFromName("g_counter")
	require.True(t, ok)
	assert.Equal(t, uint64(0x404000), g.Addr)
	g, ok = in.GlobalFromName("tls_var")
	require.True(t, ok)
	assert.Equal(t, syms.GlobalTLS, g.Kind)
	assert.Equal(t, uint64(0x10), g.Addr)

	_, ok = in.AddrToSrc(0x401004)
	assert.False(t, ok)
	types := mustCollect(in.Types())
	assert.Empty(t, types)
	_, err = in.Procs(1)
	assert.ErrorIs(t, err, syms.ErrNoModule)
}

func TestELFImageAsDebugInfo(t *testing.T) {
	in := syms.New(syms.Options{Rebase: 0x1000})
	require.NoError(t, in.LoadImage(elfFile(buildID())))
	img := in.Image()
	require.NotNil(t, img)
	assert.Equal(t, "elf", img.Format)
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f1011121314", img.BuildID)

	require.NoError(t, in.LoadDebugInfo())
	assert.Equal(t, syms.FormatELFSymtab, in.Format())
	p, ok := in.ProcFromAddr(0x402004)
	require.True(t, ok)
	assert.Equal(t, "main", p.Name)
	assert.Equal(t, uint64(0x402000), p.Range.Start)
}

func TestELFBuildIDMismatch(t *testing.T) {
	other := buildID()
	other[0] = 0xff
	tests := []struct {
		name string
		id   []byte
		warn bool
	}{
		{"match", buildID(), false},
		{"mismatch", other, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			in := syms.New(syms.Options{Logger: log.NewLogfmtLogger(&buf)})
			require.NoError(t, in.LoadImage(elfFile(buildID())))
			require.NoError(t, in.LoadDebugInfo(syms.File{Name: "app.debug", Data: elfFile(tc.id)}))
			assert.Equal(t, tc.warn, bytes.Contains(buf.Bytes(), []byte("debug file does not match image")), buf.String())
		})
	}
}

func TestLoadFailures(t *testing.T) {
	in := syms.New(syms.Options{})
	err := in.LoadDebugInfo()
	assert.ErrorIs(t, err, syms.ErrLoadFailed)
	assert.Contains(t, err.Error(), "no input")

	err = in.LoadDebugInfo(syms.File{Name: "junk", Data: []byte("not debug info")})
	assert.ErrorIs(t, err, syms.ErrLoadFailed)
	assert.Contains(t, err.Error(), "junk")
	assert.Equal(t, syms.FormatNone, in.Format())
	assert.Zero(t, in.ModuleCount())

	assert.ErrorIs(t, in.LoadImage([]byte("garbage")), syms.ErrLoadFailed)
	assert.Nil(t, in.Image())

	_, ok := in.ProcFromAddr(0x1000)
	assert.False(t, ok)
	_, err = in.Locals(syms.Proc{}, 0)
	assert.ErrorIs(t, err, syms.ErrLoadFailed)
	assert.Empty(t, mustCollect(in.Globals()))

	require.NoError(t, in.LoadDebugInfo(syms.File{Name: "junk"}, syms.File{Name: "app", Data: elfFile(nil)}))
	assert.Equal(t, syms.FormatELFSymtab, in.Format())
	assert.Error(t, in.LoadDebugInfo(syms.File{Name: "app", Data: elfFile(nil)}))
}
