package syms

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/jtang613/gosyms/pkg/dwarfsyms"
	"github.com/jtang613/gosyms/pkg/elfsyms"
	"github.com/jtang613/gosyms/pkg/regs"
	"github.com/jtang613/gosyms/pkg/unwind"
)

// dwarfBackend serves DWARF compile units. The ELF symbol table, when the
// file has one, provides the section list.
type dwarfBackend struct {
	d      *dwarfsyms.Data
	symtab *elfsyms.Table
	rebase uint64
}

func (b *dwarfBackend) format() Format  { return FormatDWARF }
func (b *dwarfBackend) arch() regs.Arch { return b.d.Arch() }
func (b *dwarfBackend) foldCase() bool  { return false }

func (b *dwarfBackend) ranges(rs [][2]uint64) []Range {
	return lo.Map(rs, func(r [2]uint64, _ int) Range {
		return Range{Start: b.rebase + r[0], End: b.rebase + r[1]}
	})
}

func (b *dwarfBackend) modules() []Module {
	return lo.Map(b.d.Units(), func(u dwarfsyms.Unit, _ int) Module {
		return Module{ID: u.Index, Name: u.Name, Object: u.CompDir, Ranges: b.ranges(u.Ranges)}
	})
}

func (b *dwarfBackend) sections() []Section {
	if b.symtab == nil {
		return nil
	}
	return elfSections(b.symtab, b.rebase)
}

func (b *dwarfBackend) moduleForAddr(addr uint64) (int, bool) {
	if addr < b.rebase {
		return 0, false
	}
	return b.d.UnitForPC(addr - b.rebase)
}

func (b *dwarfBackend) proc(p dwarfsyms.Proc) Proc {
	return Proc{
		Module:      p.Unit,
		Name:        p.Name,
		LinkageName: p.LinkageName,
		Range:       Range{Start: b.rebase + p.Low, End: b.rebase + p.High},
		Ranges:      b.ranges(p.Ranges),
		Global:      p.External,
		ref:         p,
	}
}

func (b *dwarfBackend) procs(mod int) ([]Proc, error) {
	if _, err := b.d.Unit(mod); err != nil {
		return nil, err
	}
	return lo.Map(b.d.Procs(mod), func(p dwarfsyms.Proc, _ int) Proc { return b.proc(p) }), nil
}

func (b *dwarfBackend) procFromAddr(addr uint64) (Proc, bool) {
	if addr < b.rebase {
		return Proc{}, false
	}
	p, ok := b.d.ProcForPC(addr - b.rebase)
	if !ok {
		return Proc{}, false
	}
	return b.proc(p), true
}

func (b *dwarfBackend) procFromName(name string) (Proc, bool) {
	p, ok := b.d.FindProc(name)
	if !ok {
		return Proc{}, false
	}
	return b.proc(p), true
}

func (b *dwarfBackend) lines(mod int) ([]Line, error) {
	lines, err := b.d.Lines(mod)
	if err != nil {
		return nil, err
	}
	return lo.Map(lines, func(l dwarfsyms.Line, _ int) Line {
		return Line{
			Addr:      b.rebase + l.Address,
			File:      l.File,
			Line:      uint32(l.Line),
			Column:    uint16(l.Column),
			Statement: l.Statement,
			End:       l.End,
		}
	}), nil
}

func convertDWARFType(t *dwarfsyms.TypeInfo) Type {
	out := Type{Name: t.Name, Kind: t.Kind}
	if t.Size > 0 {
		out.Size = uint64(t.Size)
	}
	for _, m := range t.Members {
		mem := Member{Kind: m.Kind, Name: m.Name, TypeName: m.TypeName, Value: m.Value}
		if m.Offset > 0 {
			mem.Offset = uint64(m.Offset)
		}
		out.Members = append(out.Members, mem)
	}
	return out
}

func (b *dwarfBackend) types() ([]Type, error) {
	var out []Type
	for _, name := range b.d.TypeNames() {
		if t, ok := b.d.FindType(name); ok {
			out = append(out, convertDWARFType(t))
		}
	}
	return out, nil
}

func (b *dwarfBackend) typeFromName(name string) (Type, bool) {
	t, ok := b.d.FindType(name)
	if !ok {
		return Type{}, false
	}
	return convertDWARFType(t), true
}

func (b *dwarfBackend) globals() ([]Global, error) {
	var out []Global
	for _, g := range b.d.Globals() {
		if g.Constant {
			continue
		}
		gl := Global{Name: g.Name, Type: g.Type, External: g.External, Module: g.Unit}
		if g.TLS {
			gl.Kind = GlobalTLS
			gl.Addr = g.Address
		} else {
			gl.Addr = b.rebase + g.Address
		}
		out = append(out, gl)
	}
	return out, nil
}

func (b *dwarfBackend) consts() ([]Const, error) {
	consts := lo.Filter(b.d.Globals(), func(g dwarfsyms.Global, _ int) bool { return g.Constant })
	return lo.Map(consts, func(g dwarfsyms.Global, _ int) Const {
		return Const{Name: g.Name, Type: g.Type, Value: g.Value}
	}), nil
}

func (b *dwarfBackend) location(l dwarfsyms.Location) Location {
	out := Location{Register: l.Register, Offset: l.Offset}
	switch l.Kind {
	case dwarfsyms.LocationRegister:
		out.Kind = LocationRegister
	case dwarfsyms.LocationRegisterRelative:
		out.Kind = LocationRegisterRelative
	case dwarfsyms.LocationFrameRelative:
		out.Kind = LocationFrameRelative
	case dwarfsyms.LocationAddress:
		out.Kind = LocationAddress
		out.Addr = b.rebase + l.Address
	case dwarfsyms.LocationTLS:
		out.Kind = LocationTLS
		out.Offset = int64(l.Address)
	case dwarfsyms.LocationConst:
		out.Kind = LocationConst
		out.Value = constValue(l.Value)
	case dwarfsyms.LocationExpr:
		out.Kind = LocationExpr
		out.Expr = l.Expr
	default:
		out = Location{}
	}
	return out
}

func (b *dwarfBackend) locals(p Proc, addr uint64) ([]Local, error) {
	proc, ok := p.ref.(dwarfsyms.Proc)
	if !ok {
		return nil, errors.Errorf("syms: procedure %q does not belong to DWARF data", p.Name)
	}
	vars, err := b.d.Locals(proc)
	if err != nil {
		return nil, err
	}
	var out []Local
	for _, v := range vars {
		if len(v.Scope) > 0 && !inRanges(b.ranges(v.Scope), addr) {
			continue
		}
		out = append(out, Local{
			Name:     v.Name,
			Type:     v.Type,
			Param:    v.Param,
			Depth:    v.Depth + 1,
			Inline:   v.Inline,
			Location: b.location(v.Location),
		})
	}
	return out, nil
}

func (b *dwarfBackend) inlineStack(addr uint64) ([]InlineSite, error) {
	if addr < b.rebase {
		return nil, nil
	}
	stack, err := b.d.InlineStack(addr - b.rebase)
	if err != nil {
		return nil, err
	}
	return lo.Map(stack, func(s dwarfsyms.InlineSite, _ int) InlineSite {
		return InlineSite{
			Name:     s.Name,
			Depth:    s.Depth,
			Ranges:   b.ranges(s.Ranges),
			CallFile: s.CallFile,
			CallLine: uint32(s.CallLine),
		}
	}), nil
}

func (b *dwarfBackend) frames() unwind.FrameSource { return noFrames{} }
