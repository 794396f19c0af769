package syms

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/jtang613/gosyms/pkg/pdb"
	"github.com/jtang613/gosyms/pkg/regs"
	"github.com/jtang613/gosyms/pkg/unwind"
)

const (
	scnCntCode    = 0x00000020
	scnMemExecute = 0x20000000
)

type pdbBackend struct {
	p      *pdb.PDB
	rebase uint64
	logger log.Logger
}

func newPDBBackend(p *pdb.PDB, rebase uint64, logger log.Logger) *pdbBackend {
	return &pdbBackend{p: p, rebase: rebase, logger: logger}
}

func (b *pdbBackend) format() Format  { return FormatPDB }
func (b *pdbBackend) arch() regs.Arch { return b.p.Arch() }
func (b *pdbBackend) foldCase() bool  { return true }

func (b *pdbBackend) addr(rva uint32) uint64 { return b.rebase + uint64(rva) }

func (b *pdbBackend) rva(addr uint64) (uint32, bool) {
	if addr < b.rebase || addr-b.rebase > 0xffffffff {
		return 0, false
	}
	return uint32(addr - b.rebase), true
}

func (b *pdbBackend) modules() []Module {
	mods := b.p.Modules()
	out := make([]Module, 0, len(mods))
	for _, m := range mods {
		mod := Module{ID: m.Index, Name: m.Name, Object: m.ObjectFile}
		if m.Size > 0 {
			mod.Ranges = []Range{{Start: b.addr(m.RVA), End: b.addr(m.RVA + m.Size)}}
		}
		out = append(out, mod)
	}
	return out
}

func (b *pdbBackend) sections() []Section {
	secs := b.p.Sections()
	out := make([]Section, 0, len(secs))
	for _, s := range secs {
		out = append(out, Section{
			Index: int(s.Index),
			Name:  s.Name,
			Range: Range{Start: b.addr(s.RVA), End: b.addr(s.RVA + s.Size)},
			Exec:  s.Characteristics&(scnCntCode|scnMemExecute) != 0,
		})
	}
	return out
}

func (b *pdbBackend) moduleForAddr(addr uint64) (int, bool) {
	rva, ok := b.rva(addr)
	if !ok {
		return 0, false
	}
	return b.p.ModuleForRVA(rva)
}

func (b *pdbBackend) proc(p pdb.Proc) Proc {
	return Proc{
		Module: p.Module,
		Name:   p.Name,
		Range:  Range{Start: b.addr(p.RVA), End: b.addr(p.RVA + p.Length)},
		Type:   b.p.TypeName(p.Type),
		Global: p.Global,
		ref:    p,
	}
}

func (b *pdbBackend) procs(mod int) ([]Proc, error) {
	var out []Proc
	it := b.p.Procs(mod)
	for it.Next() {
		out = append(out, b.proc(it.Proc()))
	}
	if n := it.Skipped(); n > 0 {
		level.Debug(b.logger).Log("msg", "skipped malformed procedures", "module", mod, "count", n)
	}
	return out, it.Err()
}

func (b *pdbBackend) procFromAddr(addr uint64) (Proc, bool) {
	rva, ok := b.rva(addr)
	if !ok {
		return Proc{}, false
	}
	mod, ok := b.p.ModuleForRVA(rva)
	if !ok {
		return Proc{}, false
	}
	it := b.p.Procs(mod)
	for it.Next() {
		if p := it.Proc(); p.Contains(rva) {
			return b.proc(p), true
		}
	}
	return Proc{}, false
}

func (b *pdbBackend) procFromName(name string) (Proc, bool) {
	p, ok := b.p.FindProc(name)
	if !ok {
		return Proc{}, false
	}
	return b.proc(p), true
}

func (b *pdbBackend) lines(mod int) ([]Line, error) {
	lines, files, err := b.p.Lines(mod)
	if err != nil {
		return nil, err
	}
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		row := Line{Addr: b.addr(l.RVA), End: l.End}
		if !l.End {
			if l.File >= 0 && l.File < len(files) {
				row.File = files[l.File].Name
			}
			row.Line, row.Column, row.Statement = l.Line, l.Column, l.Statement
		}
		out = append(out, row)
	}
	return out, nil
}

func convertPDBType(t *pdb.TypeInfo) Type {
	out := Type{Name: t.Name, Kind: t.Kind, Size: t.Size, File: t.File, Line: t.Line}
	for _, m := range t.Members {
		out.Members = append(out.Members, Member{
			Kind:     m.Kind,
			Name:     m.Name,
			TypeName: m.TypeName,
			Offset:   m.Offset,
			Value:    m.Value,
		})
	}
	return out
}

func (b *pdbBackend) types() ([]Type, error) {
	var out []Type
	it := b.p.Types()
	for it.Next() {
		t, err := it.Type()
		if err != nil {
			level.Debug(b.logger).Log("msg", "skipped unresolvable type", "index", it.Index(), "err", err)
			continue
		}
		out = append(out, convertPDBType(t))
	}
	return out, nil
}

func (b *pdbBackend) typeFromName(name string) (Type, bool) {
	t, ok := b.p.FindType(name)
	if !ok {
		return Type{}, false
	}
	return convertPDBType(t), true
}

func (b *pdbBackend) global(g pdb.Global) Global {
	out := Global{
		Name:     g.Name,
		Type:     b.p.TypeName(g.Type),
		External: g.External,
		Module:   g.Module,
	}
	if g.Kind == pdb.GlobalThreadData {
		out.Kind = GlobalTLS
		out.Addr = uint64(g.Offset)
	} else {
		out.Addr = b.addr(g.RVA)
	}
	return out
}

func (b *pdbBackend) globals() ([]Global, error) {
	var out []Global
	it := b.p.Globals(pdb.GlobalData, pdb.GlobalThreadData)
	for it.Next() {
		out = append(out, b.global(it.Global()))
	}
	return out, it.Err()
}

func (b *pdbBackend) consts() ([]Const, error) {
	var out []Const
	it := b.p.Globals(pdb.GlobalConstant)
	for it.Next() {
		g := it.Global()
		out = append(out, Const{Name: g.Name, Type: b.p.TypeName(g.Type), Value: g.Value.Int64()})
	}
	return out, it.Err()
}

func (b *pdbBackend) location(l pdb.Location) Location {
	out := Location{Register: l.Register, Offset: l.Offset}
	switch l.Kind {
	case pdb.LocationRegister:
		out.Kind = LocationRegister
	case pdb.LocationRegisterRelative:
		out.Kind = LocationRegisterRelative
	case pdb.LocationFrameRelative:
		out.Kind = LocationFrameRelative
	case pdb.LocationRVA:
		out.Kind = LocationAddress
		out.Addr = b.addr(l.RVA)
	case pdb.LocationTLS:
		out.Kind = LocationTLS
		out.Offset = int64(l.RVA)
	case pdb.LocationImplicit:
		out.Kind = LocationConst
		out.Value = l.Implicit
	default:
		out = Location{}
	}
	return out
}

func (b *pdbBackend) locals(p Proc, addr uint64) ([]Local, error) {
	proc, ok := p.ref.(pdb.Proc)
	if !ok {
		return nil, errors.Errorf("syms: procedure %q does not belong to a PDB", p.Name)
	}
	rva, ok := b.rva(addr)
	if !ok {
		return nil, nil
	}
	var out []Local
	it := b.p.Locals(proc)
	for it.Next() {
		l := it.Local()
		if l.Event != pdb.Var || !l.LiveAt(rva) {
			continue
		}
		out = append(out, Local{
			Name:     l.Name,
			Type:     b.p.TypeName(l.Type),
			Param:    l.Param,
			Depth:    l.Depth,
			Inline:   l.Inline,
			Location: b.location(l.Location),
		})
	}
	return out, it.Err()
}

func (b *pdbBackend) inlineStack(addr uint64) ([]InlineSite, error) {
	p, ok := b.procFromAddr(addr)
	if !ok {
		return nil, nil
	}
	rva, _ := b.rva(addr)
	stack, err := b.p.InlineStack(p.ref.(pdb.Proc), rva)
	if err != nil {
		return nil, err
	}
	out := make([]InlineSite, 0, len(stack))
	for _, s := range stack {
		site := InlineSite{Name: s.Name, Depth: s.Depth, CallFile: s.CallFile, CallLine: s.CallLine}
		for _, r := range s.Ranges {
			site.Ranges = append(site.Ranges, Range{Start: b.addr(r.Start), End: b.addr(r.End)})
		}
		out = append(out, site)
	}
	return out, nil
}

func (b *pdbBackend) frames() unwind.FrameSource { return b.p.FrameSource(b.rebase) }
