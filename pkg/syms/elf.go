package syms

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/jtang613/gosyms/pkg/elfsyms"
	"github.com/jtang613/gosyms/pkg/regs"
	"github.com/jtang613/gosyms/pkg/unwind"
)

// elfBackend serves a bare ELF symbol table as a single module covering
// the executable sections. It has no lines, types or locals.
type elfBackend struct {
	t      *elfsyms.Table
	name   string
	rebase uint64
}

func elfSections(t *elfsyms.Table, rebase uint64) []Section {
	return lo.Map(t.Sections(), func(s elfsyms.Section, _ int) Section {
		return Section{
			Index: s.Index,
			Name:  s.Name,
			Range: Range{Start: rebase + s.Addr, End: rebase + s.Addr + s.Size},
			Exec:  s.Exec,
		}
	})
}

func (b *elfBackend) format() Format  { return FormatELFSymtab }
func (b *elfBackend) arch() regs.Arch { return b.t.Arch }
func (b *elfBackend) foldCase() bool  { return false }

func (b *elfBackend) modules() []Module {
	exec := lo.Filter(b.sections(), func(s Section, _ int) bool { return s.Exec })
	return []Module{{
		Name:   b.name,
		Ranges: lo.Map(exec, func(s Section, _ int) Range { return s.Range }),
	}}
}

func (b *elfBackend) sections() []Section { return elfSections(b.t, b.rebase) }

func (b *elfBackend) moduleForAddr(addr uint64) (int, bool) {
	if addr < b.rebase {
		return 0, false
	}
	_, ok := b.t.SectionFor(addr - b.rebase)
	return 0, ok
}

func (b *elfBackend) proc(s elfsyms.Symbol) Proc {
	p := Proc{
		Name:   s.DisplayName(),
		Range:  Range{Start: b.rebase + s.Value, End: b.rebase + s.Value + s.Size},
		Global: s.Global,
	}
	if s.Demangled != "" {
		p.LinkageName = s.Name
	}
	return p
}

func (b *elfBackend) procs(mod int) ([]Proc, error) {
	if mod != 0 {
		return nil, errors.Wrapf(ErrNoModule, "module %d", mod)
	}
	funcs := lo.Filter(b.t.Symbols(), func(s elfsyms.Symbol, _ int) bool { return s.Kind == elfsyms.KindFunc })
	return lo.Map(funcs, func(s elfsyms.Symbol, _ int) Proc { return b.proc(s) }), nil
}

func (b *elfBackend) procFromAddr(addr uint64) (Proc, bool) {
	if addr < b.rebase {
		return Proc{}, false
	}
	s, ok := b.t.Resolve(addr-b.rebase, elfsyms.KindFunc)
	if !ok {
		return Proc{}, false
	}
	return b.proc(s), true
}

func (b *elfBackend) procFromName(name string) (Proc, bool) {
	s, ok := b.t.Lookup(name)
	if !ok || s.Kind != elfsyms.KindFunc {
		return Proc{}, false
	}
	return b.proc(s), true
}

func (b *elfBackend) lines(mod int) ([]Line, error) {
	if mod != 0 {
		return nil, errors.Wrapf(ErrNoModule, "module %d", mod)
	}
	return nil, nil
}

func (b *elfBackend) types() ([]Type, error)           { return nil, nil }
func (b *elfBackend) typeFromName(string) (Type, bool) { return Type{}, false }

func (b *elfBackend) globals() ([]Global, error) {
	var out []Global
	for _, s := range b.t.Symbols() {
		switch s.Kind {
		case elfsyms.KindObject:
			out = append(out, Global{Name: s.DisplayName(), Addr: b.rebase + s.Value, External: s.Global})
		case elfsyms.KindTLS:
			out = append(out, Global{Name: s.DisplayName(), Kind: GlobalTLS, Addr: s.Value, External: s.Global})
		}
	}
	return out, nil
}

func (b *elfBackend) consts() ([]Const, error)                 { return nil, nil }
func (b *elfBackend) locals(Proc, uint64) ([]Local, error)     { return nil, nil }
func (b *elfBackend) inlineStack(uint64) ([]InlineSite, error) { return nil, nil }
func (b *elfBackend) frames() unwind.FrameSource               { return noFrames{} }
