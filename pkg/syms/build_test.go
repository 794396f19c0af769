package syms_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jtang613/gosyms/pkg/arena"
	"github.com/jtang613/gosyms/pkg/syms"
)

func TestDeferredBuild(t *testing.T) {
	reg := prometheus.NewRegistry()
	in := loadPDB(t, syms.Options{Rebase: rebase, DeferBuild: true, Registerer: reg})
	assert.Zero(t, in.ModuleBuildCount())
	_, ok := in.Built(0)
	assert.False(t, ok)

	a := arena.New()
	bm, err := in.BuildModule(0, a)
	require.NoError(t, err)
	assert.Equal(t, "main.obj", bm.Module.Name)
	assert.Equal(t, 2, bm.ProcCount())
	assert.Equal(t, 6, bm.Lines.Len())
	assert.Positive(t, a.Used())

	p, ok := bm.ProcForAddr(rebase + 0x1210)
	require.True(t, ok)
	assert.Equal(t, "helper", p.Name)
	_, ok = bm.ProcForAddr(rebase + 0x10ff)
	assert.False(t, ok)

	got, ok := in.Built(0)
	require.True(t, ok)
	assert.Same(t, bm, got)
	assert.Equal(t, 1, in.ModuleBuildCount())

	_, err = in.BuildModule(7, nil)
	assert.ErrorIs(t, err, syms.ErrNoModule)

	assert.Equal(t, 1.0, counter(t, reg, "syms_modules_built_total"))
}

func TestBuildModuleConcurrent(t *testing.T) {
	reg := prometheus.NewRegistry()
	in := loadPDB(t, syms.Options{Rebase: rebase, DeferBuild: true, Registerer: reg})
	require.Greater(t, in.ModuleCount(), 1)

	got := make([]*syms.BuiltModule, in.ModuleCount())
	var g errgroup.Group
	for id := range got {
		id := id
		g.Go(func() error {
			bm, err := in.BuildModule(id, arena.New())
			got[id] = bm
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, in.ModuleCount(), in.ModuleBuildCount())
	for id, bm := range got {
		built, ok := in.Built(id)
		require.True(t, ok, id)
		assert.Same(t, bm, built, id)
		assert.Equal(t, id, built.Module.ID)
	}
	assert.Equal(t, float64(in.ModuleCount()), counter(t, reg, "syms_modules_built_total"))
}

func TestBuildModuleOutOfMemory(t *testing.T) {
	reg := prometheus.NewRegistry()
	in := loadPDB(t, syms.Options{Rebase: rebase, ArenaLimit: 1024, Registerer: reg})
	assert.Zero(t, in.ModuleBuildCount())

	a := arena.New(arena.WithLimit(1024))
	_, err := in.BuildModule(0, a)
	assert.ErrorIs(t, err, arena.ErrOutOfMemory)
	assert.Zero(t, a.Used())
	_, ok := in.Built(0)
	assert.False(t, ok)

	// Unbuilt modules still answer by scanning.
	p, ok := in.ProcFromAddr(rebase + 0x1110)
	require.True(t, ok)
	assert.Equal(t, "main", p.Name)
	_, ok = in.AddrToSrc(rebase + 0x1110)
	assert.True(t, ok)

	// Both modules failed at load time, module 0 once more above.
	assert.Equal(t, 3.0, counter(t, reg, "syms_module_build_failures_total"))
	assert.Zero(t, counter(t, reg, "syms_modules_built_total"))
}

func TestMetricsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	loadPDB(t, syms.Options{Registerer: reg})
	loadPDB(t, syms.Options{Registerer: reg})

	assert.Equal(t, 4.0, counter(t, reg, "syms_modules_built_total"))
	assert.Zero(t, counter(t, reg, "syms_module_build_failures_total"))
	n, err := testutil.GatherAndCount(reg, "syms_module_build_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func counter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			require.Len(t, mf.GetMetric(), 1)
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}
