package syms

import (
	"time"

	"github.com/pkg/errors"

	"github.com/jtang613/gosyms/pkg/arena"
)

// procScanBack bounds the backward scan of ProcForAddr past procedures
// that start below addr but end before it.
const procScanBack = 16

// BuiltModule holds a module's procedures sorted by address and its line
// table. Its storage lives in the arena it was built with and must not be
// used after that arena's frame ends.
type BuiltModule struct {
	Module Module
	Lines  *LineTable

	procs *arena.BlockAllocator[Proc]
}

// ProcCount returns the number of procedures.
func (m *BuiltModule) ProcCount() int { return m.procs.Len() }

// Procs returns a copy of the procedures in address order.
func (m *BuiltModule) Procs() []Proc { return m.procs.Slice() }

// ProcForAddr returns the procedure containing addr.
func (m *BuiltModule) ProcForAddr(addr uint64) (Proc, bool) {
	i := m.procs.Search(func(p *Proc) bool { return p.Range.Start > addr })
	for j := i - 1; j >= 0 && i-j <= procScanBack; j-- {
		if p := m.procs.At(j); p.Contains(addr) {
			return *p, true
		}
	}
	return Proc{}, false
}

// BuildModule builds module id into a. A nil arena gets a fresh one
// limited by Options.ArenaLimit. On failure everything the build pushed is
// released and the module stays unbuilt.
//
// Calls for distinct ids may run concurrently, each with its own arena.
// Queries must not run concurrently with a build of the module they read.
func (i *Instance) BuildModule(id int, a *arena.Arena) (*BuiltModule, error) {
	mod, err := i.Module(id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		a = arena.New(arena.WithLimit(i.opts.ArenaLimit))
	}
	start := time.Now()
	var bm *BuiltModule
	err = a.Scope(func() error {
		var err error
		bm, err = i.build(mod, a)
		return err
	})
	i.metrics.duration.Observe(time.Since(start).Seconds())
	if err != nil {
		i.metrics.failures.Inc()
		return nil, errors.Wrapf(err, "failed to build module %d", id)
	}
	i.metrics.built.Inc()
	i.built[id] = bm
	return bm, nil
}

func (i *Instance) build(mod Module, a *arena.Arena) (*BuiltModule, error) {
	procs, err := i.b.procs(mod.ID)
	if err != nil {
		return nil, err
	}
	bm := &BuiltModule{Module: mod, procs: arena.NewBlockAllocator[Proc](a, 256)}
	for _, p := range procs {
		if err := bm.procs.Append(p); err != nil {
			return nil, err
		}
	}
	bm.procs.Sort(func(x, y *Proc) bool {
		if x.Range.Start != y.Range.Start {
			return x.Range.Start < y.Range.Start
		}
		return x.Range.End > y.Range.End
	})

	lines, err := i.b.lines(mod.ID)
	if err != nil {
		return nil, err
	}
	if bm.Lines, err = NewLineTable(a, lines, i.b.foldCase()); err != nil {
		return nil, err
	}
	return bm, nil
}

func (i *Instance) builtModule(id int) *BuiltModule {
	if id < 0 || id >= len(i.built) {
		return nil
	}
	return i.built[id]
}

// Built returns module id if it has been built.
func (i *Instance) Built(id int) (*BuiltModule, bool) {
	bm := i.builtModule(id)
	return bm, bm != nil
}

// ModuleBuildCount returns the number of built modules.
func (i *Instance) ModuleBuildCount() int {
	n := 0
	for _, bm := range i.built {
		if bm != nil {
			n++
		}
	}
	return n
}
