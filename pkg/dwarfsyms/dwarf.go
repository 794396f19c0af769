// Package dwarfsyms reads procedures, line tables, inline sites, locals,
// globals and types from DWARF debug information.
package dwarfsyms

import (
	"debug/dwarf"
	"debug/elf"
	"sort"

	"github.com/pkg/errors"

	"github.com/jtang613/gosyms/pkg/regs"
)

var (
	// ErrNoDWARF is returned for images without DWARF sections.
	ErrNoDWARF = errors.New("dwarfsyms: no DWARF data")
	// ErrNoUnit is returned for unit indices outside the unit table.
	ErrNoUnit = errors.New("dwarfsyms: no such unit")
)

// Unit is one compilation unit.
type Unit struct {
	Index    int         `json:"index"`
	Name     string      `json:"name"`
	CompDir  string      `json:"comp_dir,omitempty"`
	Producer string      `json:"producer,omitempty"`
	Language int64       `json:"language,omitempty"`
	Ranges   [][2]uint64 `json:"ranges,omitempty"`

	entry *dwarf.Entry
}

// Proc is a subprogram with code.
type Proc struct {
	Unit        int          `json:"unit"`
	Name        string       `json:"name"`
	LinkageName string       `json:"linkage_name,omitempty"`
	Low         uint64       `json:"low"`
	High        uint64       `json:"high"`
	Ranges      [][2]uint64  `json:"ranges"`
	External    bool         `json:"external"`
	DeclLine    int64        `json:"decl_line,omitempty"`
	Offset      dwarf.Offset `json:"offset"`

	frameBase []byte
}

// Contains reports whether pc lies in one of the procedure's ranges.
func (p Proc) Contains(pc uint64) bool {
	for _, r := range p.Ranges {
		if pc >= r[0] && pc < r[1] {
			return true
		}
	}
	return false
}

// Global is a unit-level variable or constant.
type Global struct {
	Unit     int    `json:"unit"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Address  uint64 `json:"address,omitempty"`
	External bool   `json:"external"`
	// Constant globals carry Value instead of an address.
	Constant bool  `json:"constant,omitempty"`
	Value    int64 `json:"value,omitempty"`
	TLS      bool  `json:"tls,omitempty"`

	typ dwarf.Offset
}

type procRange struct {
	low, high uint64
	proc      int
}

// Data indexes a dwarf.Data. The index is built once in New and is
// read-only afterwards, so one Data may serve concurrent readers.
type Data struct {
	dw   *dwarf.Data
	arch regs.Arch

	units   []Unit
	procs   []Proc
	ranges  []procRange
	byName  map[string]int
	globals []Global
	types   []typeEntry
	byType  map[string]int
	skipped int
}

// FromELF indexes the DWARF sections of f.
func FromELF(f *elf.File) (*Data, error) {
	if f.Section(".debug_info") == nil && f.Section(".zdebug_info") == nil {
		return nil, ErrNoDWARF
	}
	dw, err := f.DWARF()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load DWARF")
	}
	return New(dw, regs.ArchFromELF(uint16(f.Machine)))
}

// New indexes units, procedures, globals and named types of dw.
func New(dw *dwarf.Data, arch regs.Arch) (*Data, error) {
	d := &Data{dw: dw, arch: arch, byName: map[string]int{}, byType: map[string]int{}}
	if err := d.index(); err != nil {
		return nil, err
	}
	for i, p := range d.procs {
		for _, r := range p.Ranges {
			d.ranges = append(d.ranges, procRange{low: r[0], high: r[1], proc: i})
		}
		if _, ok := d.byName[p.Name]; !ok && p.Name != "" {
			d.byName[p.Name] = i
		}
		if _, ok := d.byName[p.LinkageName]; !ok && p.LinkageName != "" {
			d.byName[p.LinkageName] = i
		}
	}
	sort.SliceStable(d.ranges, func(i, j int) bool { return d.ranges[i].low < d.ranges[j].low })
	for i := range d.globals {
		d.globals[i].Type = d.typeName(d.globals[i].typ)
	}
	return d, nil
}

func (d *Data) index() error {
	r := d.dw.Reader()
	depth := 0
	names := map[dwarf.Offset]string{}
	type pending struct {
		proc   int
		origin dwarf.Offset
	}
	var unresolved []pending
	for {
		e, err := r.Next()
		if err != nil {
			return errors.Wrap(err, "failed to read DWARF entry")
		}
		if e == nil {
			break
		}
		if e.Tag == 0 {
			depth--
			continue
		}
		level := depth
		if e.Children {
			depth++
		}

		switch e.Tag {
		case dwarf.TagCompileUnit, dwarf.TagPartialUnit:
			u := Unit{Index: len(d.units), entry: e}
			u.Name, _ = e.Val(dwarf.AttrName).(string)
			u.CompDir, _ = e.Val(dwarf.AttrCompDir).(string)
			u.Producer, _ = e.Val(dwarf.AttrProducer).(string)
			u.Language, _ = e.Val(dwarf.AttrLanguage).(int64)
			if u.Ranges, err = d.dw.Ranges(e); err != nil {
				d.skipped++
			}
			d.units = append(d.units, u)
		case dwarf.TagSubprogram:
			name, _ := e.Val(dwarf.AttrName).(string)
			if name != "" {
				names[e.Offset] = name
			}
			ranges, err := d.dw.Ranges(e)
			if err != nil {
				d.skipped++
				continue
			}
			if len(ranges) == 0 || len(d.units) == 0 {
				continue
			}
			p := Proc{
				Unit:   len(d.units) - 1,
				Name:   name,
				Ranges: ranges,
				Low:    ranges[0][0],
				High:   ranges[0][1],
				Offset: e.Offset,
			}
			p.LinkageName, _ = e.Val(dwarf.AttrLinkageName).(string)
			p.External, _ = e.Val(dwarf.AttrExternal).(bool)
			p.DeclLine, _ = e.Val(dwarf.AttrDeclLine).(int64)
			p.frameBase, _ = e.Val(dwarf.AttrFrameBase).([]byte)
			for _, rg := range ranges {
				p.Low = min(p.Low, rg[0])
				p.High = max(p.High, rg[1])
			}
			if name == "" {
				origin, ok := e.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
				if !ok {
					origin, ok = e.Val(dwarf.AttrSpecification).(dwarf.Offset)
				}
				if ok {
					unresolved = append(unresolved, pending{proc: len(d.procs), origin: origin})
				}
			}
			d.procs = append(d.procs, p)
		case dwarf.TagVariable, dwarf.TagConstant:
			// Unit-level only; locals are read per procedure.
			if level == 1 && len(d.units) > 0 {
				if g, ok := d.global(e); ok {
					d.globals = append(d.globals, g)
				}
			}
		}
		if isNamedType(e.Tag) {
			d.addType(e)
		}
	}
	for _, u := range unresolved {
		if name, ok := names[u.origin]; ok {
			d.procs[u.proc].Name = name
		} else if name, err := d.entryName(u.origin); err == nil {
			d.procs[u.proc].Name = name
		}
	}
	return nil
}

// entryName reads the name of the entry at off, following one level of
// abstract origin or specification.
func (d *Data) entryName(off dwarf.Offset) (string, error) {
	for i := 0; i < 2; i++ {
		r := d.dw.Reader()
		r.Seek(off)
		e, err := r.Next()
		if err != nil {
			return "", err
		}
		if e == nil {
			return "", errors.Errorf("no entry at 0x%x", off)
		}
		if name, ok := e.Val(dwarf.AttrName).(string); ok {
			return name, nil
		}
		next, ok := e.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
		if !ok {
			if next, ok = e.Val(dwarf.AttrSpecification).(dwarf.Offset); !ok {
				break
			}
		}
		off = next
	}
	return "", errors.Errorf("entry at 0x%x has no name", off)
}

func (d *Data) global(e *dwarf.Entry) (Global, bool) {
	g := Global{Unit: len(d.units) - 1}
	g.Name, _ = e.Val(dwarf.AttrName).(string)
	if g.Name == "" {
		return g, false
	}
	g.External, _ = e.Val(dwarf.AttrExternal).(bool)
	g.typ, _ = e.Val(dwarf.AttrType).(dwarf.Offset)
	if v, ok := e.Val(dwarf.AttrConstValue).(int64); ok {
		g.Constant, g.Value = true, v
		return g, true
	}
	expr, ok := e.Val(dwarf.AttrLocation).([]byte)
	if !ok {
		return g, false
	}
	loc := d.decodeLocation(expr, nil)
	switch loc.Kind {
	case LocationAddress:
		g.Address = loc.Address
	case LocationTLS:
		g.Address, g.TLS = loc.Address, true
	default:
		return g, false
	}
	return g, true
}

// Arch returns the architecture of the image the data came from.
func (d *Data) Arch() regs.Arch { return d.arch }

// DWARF returns the underlying data.
func (d *Data) DWARF() *dwarf.Data { return d.dw }

// Skipped reports entries whose ranges could not be read.
func (d *Data) Skipped() int { return d.skipped }

// Units returns the compilation units in section order.
func (d *Data) Units() []Unit { return d.units }

// Unit returns unit i.
func (d *Data) Unit(i int) (Unit, error) {
	if i < 0 || i >= len(d.units) {
		return Unit{}, errors.Wrapf(ErrNoUnit, "unit %d", i)
	}
	return d.units[i], nil
}

// UnitForPC returns the unit whose ranges contain pc.
func (d *Data) UnitForPC(pc uint64) (int, bool) {
	for _, u := range d.units {
		for _, r := range u.Ranges {
			if pc >= r[0] && pc < r[1] {
				return u.Index, true
			}
		}
	}
	if p, ok := d.ProcForPC(pc); ok {
		return p.Unit, true
	}
	return 0, false
}

// Procs returns the procedures of unit, or of all units when unit is
// negative.
func (d *Data) Procs(unit int) []Proc {
	if unit < 0 {
		return d.procs
	}
	var out []Proc
	for _, p := range d.procs {
		if p.Unit == unit {
			out = append(out, p)
		}
	}
	return out
}

// ProcForPC returns the procedure containing pc. When ranges nest, the
// one starting closest to pc wins.
func (d *Data) ProcForPC(pc uint64) (Proc, bool) {
	i := sort.Search(len(d.ranges), func(i int) bool { return d.ranges[i].low > pc })
	for i--; i >= 0; i-- {
		if r := d.ranges[i]; pc < r.high {
			return d.procs[r.proc], true
		}
	}
	return Proc{}, false
}

// FindProc looks a procedure up by name or linkage name.
func (d *Data) FindProc(name string) (Proc, bool) {
	i, ok := d.byName[name]
	if !ok {
		return Proc{}, false
	}
	return d.procs[i], true
}

// Globals returns unit-level variables and constants.
func (d *Data) Globals() []Global {
	return d.globals
}

// FindGlobal looks a global up by name.
func (d *Data) FindGlobal(name string) (Global, bool) {
	for _, g := range d.globals {
		if g.Name == name {
			return g, true
		}
	}
	return Global{}, false
}
