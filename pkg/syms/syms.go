// Package syms is a format-agnostic view over debug information. An
// Instance is loaded from PDB, DWARF or a bare ELF symbol table, chosen by
// sniffing each input's signature, and answers the same queries for all
// of them.
//
// The package starts no goroutines and takes no locks. Everything set up
// by LoadDebugInfo is read-only afterwards; callers wanting parallel
// module builds load with DeferBuild and call BuildModule for distinct
// ids from their own workers.
package syms

import (
	"bytes"
	"debug/elf"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jtang613/gosyms/pkg/dwarfsyms"
	"github.com/jtang613/gosyms/pkg/elfsyms"
	"github.com/jtang613/gosyms/pkg/pdb"
	"github.com/jtang613/gosyms/pkg/pdb/msf"
	"github.com/jtang613/gosyms/pkg/regs"
	"github.com/jtang613/gosyms/pkg/unwind"
)

var (
	// ErrLoadFailed is returned when no input could be loaded.
	ErrLoadFailed = errors.New("syms: failed to load debug information")
	// ErrNoModule is returned for module ids outside the loaded range.
	ErrNoModule = errors.New("syms: no such module")
)

// Options configures an Instance.
type Options struct {
	Logger     log.Logger
	Registerer prometheus.Registerer
	// DeferBuild leaves modules unbuilt after loading.
	DeferBuild bool
	// Rebase is added to every address the backend reports.
	Rebase uint64
	// ArenaLimit caps the bytes of each module build; zero is unlimited.
	ArenaLimit int
	// Demangle selects ELF symbol demangling: none, simplified, templates
	// or full.
	Demangle string
}

// Instance holds the debug information of one image.
type Instance struct {
	opts    Options
	logger  log.Logger
	metrics *metrics

	image *Image
	b     backend
	mods  []Module
	built []*BuiltModule
}

// New creates an empty instance.
func New(opts Options) *Instance {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	return &Instance{
		opts:    opts,
		logger:  opts.Logger,
		metrics: newMetrics(opts.Registerer),
	}
}

// LoadImage records the executable the debug information describes. It is
// optional: PE images let a PDB be checked against the image, and an ELF
// image can serve as its own debug information.
func (i *Instance) LoadImage(data []byte) error {
	img, err := parseImage(data)
	if err != nil {
		return errors.Wrap(ErrLoadFailed, err.Error())
	}
	i.image = img
	level.Debug(i.logger).Log("msg", "image loaded", "format", img.Format, "arch", img.Arch, "sections", len(img.Sections))
	return nil
}

// Image returns the loaded image, or nil.
func (i *Instance) Image() *Image { return i.image }

// LoadDebugInfo selects a backend from the first input that parses. PDB
// containers are recognised by their MSF magic; ELF files are served from
// their DWARF sections, else from their symbol table. Without a usable
// input, a loaded ELF image is tried last.
func (i *Instance) LoadDebugInfo(files ...File) error {
	if i.b != nil {
		return errors.New("syms: debug information already loaded")
	}
	var errs []string
	for _, f := range files {
		b, err := i.open(f.Data, f.Name)
		if err != nil {
			level.Debug(i.logger).Log("msg", "input rejected", "file", f.Name, "err", err)
			errs = append(errs, f.Name+": "+err.Error())
			continue
		}
		i.b = b
		break
	}
	if i.b == nil && i.image != nil && i.image.elf != nil {
		b, err := i.openELF(i.image.elf, "image")
		if err != nil {
			errs = append(errs, "image: "+err.Error())
		} else {
			i.b = b
		}
	}
	if i.b == nil {
		if len(errs) == 0 {
			return errors.Wrap(ErrLoadFailed, "no input")
		}
		return errors.Wrapf(ErrLoadFailed, "%v", errs)
	}

	i.mods = i.b.modules()
	i.built = make([]*BuiltModule, len(i.mods))
	level.Info(i.logger).Log("msg", "debug information loaded", "format", i.b.format(), "arch", i.b.arch(), "modules", len(i.mods))
	if i.opts.DeferBuild {
		return nil
	}
	for id := range i.mods {
		if _, err := i.BuildModule(id, nil); err != nil {
			level.Warn(i.logger).Log("msg", "failed to build module", "module", id, "err", err)
		}
	}
	return nil
}

func (i *Instance) open(data []byte, name string) (backend, error) {
	switch {
	case msf.HasMagic(data):
		p, err := pdb.FromBytes(data)
		if err != nil {
			return nil, err
		}
		i.checkPDB(p)
		return newPDBBackend(p, i.opts.Rebase, i.logger), nil
	case bytes.HasPrefix(data, elfMagic):
		f, err := elf.NewFile(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse ELF")
		}
		i.checkBuildID(f)
		return i.openELF(f, name)
	}
	return nil, errors.New("unrecognized format")
}

func (i *Instance) openELF(f *elf.File, name string) (backend, error) {
	symtab, symErr := elfsyms.New(f, elfsyms.DemangleOptions(i.opts.Demangle))
	d, err := dwarfsyms.FromELF(f)
	switch {
	case err == nil:
		if symErr != nil {
			symtab = nil
		}
		if n := d.Skipped(); n > 0 {
			level.Debug(i.logger).Log("msg", "skipped unreadable DWARF entries", "count", n)
		}
		return &dwarfBackend{d: d, symtab: symtab, rebase: i.opts.Rebase}, nil
	case !errors.Is(err, dwarfsyms.ErrNoDWARF):
		level.Warn(i.logger).Log("msg", "failed to load DWARF, falling back to symbol table", "file", name, "err", err)
	}
	if symErr != nil {
		return nil, symErr
	}
	return &elfBackend{t: symtab, name: name, rebase: i.opts.Rebase}, nil
}

func (i *Instance) checkPDB(p *pdb.PDB) {
	if i.image == nil || i.image.PDB == nil {
		return
	}
	info := p.Info()
	if info.GUID != i.image.PDB.GUID || info.Age != i.image.PDB.Age {
		level.Warn(i.logger).Log("msg", "PDB does not match image",
			"pdb_guid", info.GUID, "pdb_age", info.Age,
			"image_guid", i.image.PDB.GUID, "image_age", i.image.PDB.Age)
	}
}

func (i *Instance) checkBuildID(f *elf.File) {
	if i.image == nil || i.image.BuildID == "" {
		return
	}
	if id, err := elfsyms.GNUBuildID(f); err == nil && id != i.image.BuildID {
		level.Warn(i.logger).Log("msg", "debug file does not match image", "build_id", id, "image_build_id", i.image.BuildID)
	}
}

// Format returns the selected backend format.
func (i *Instance) Format() Format {
	if i.b == nil {
		return FormatNone
	}
	return i.b.format()
}

// Arch returns the target architecture.
func (i *Instance) Arch() regs.Arch {
	if i.b != nil {
		return i.b.arch()
	}
	if i.image != nil {
		return i.image.Arch
	}
	return regs.ArchNone
}

// ModuleCount returns the number of modules.
func (i *Instance) ModuleCount() int { return len(i.mods) }

// Module returns module id.
func (i *Instance) Module(id int) (Module, error) {
	if id < 0 || id >= len(i.mods) {
		return Module{}, errors.Wrapf(ErrNoModule, "module %d", id)
	}
	return i.mods[id], nil
}

// Modules iterates the modules.
func (i *Instance) Modules() *Iterator[Module] { return newIterator(i.mods) }

// Sections iterates the image sections known to the debug information,
// or to the loaded image when the backend has none.
func (i *Instance) Sections() *Iterator[Section] {
	var secs []Section
	if i.b != nil {
		secs = i.b.sections()
	}
	if len(secs) == 0 && i.image != nil {
		secs = i.image.Sections
	}
	return newIterator(secs)
}

// ModuleFromAddr returns the module covering addr.
func (i *Instance) ModuleFromAddr(addr uint64) (Module, bool) {
	if i.b == nil {
		return Module{}, false
	}
	id, ok := i.b.moduleForAddr(addr)
	if !ok || id < 0 || id >= len(i.mods) {
		return Module{}, false
	}
	return i.mods[id], true
}

// ProcFromAddr returns the procedure containing addr. Built modules answer
// from their sorted table; others are scanned.
func (i *Instance) ProcFromAddr(addr uint64) (Proc, bool) {
	if i.b == nil {
		return Proc{}, false
	}
	if id, ok := i.b.moduleForAddr(addr); ok {
		if bm := i.builtModule(id); bm != nil {
			if p, ok := bm.ProcForAddr(addr); ok {
				return p, true
			}
		}
	}
	return i.b.procFromAddr(addr)
}

// ProcFromName returns the procedure named name.
func (i *Instance) ProcFromName(name string) (Proc, bool) {
	if i.b == nil {
		return Proc{}, false
	}
	return i.b.procFromName(name)
}

// Procs iterates the procedures of module mod.
func (i *Instance) Procs(mod int) (*Iterator[Proc], error) {
	if _, err := i.Module(mod); err != nil {
		return nil, err
	}
	if bm := i.builtModule(mod); bm != nil {
		return newIterator(bm.Procs()), nil
	}
	procs, err := i.b.procs(mod)
	if err != nil {
		return nil, err
	}
	return newIterator(procs), nil
}

func (i *Instance) lineTable(mod int) (*LineTable, error) {
	if bm := i.builtModule(mod); bm != nil {
		return bm.Lines, nil
	}
	lines, err := i.b.lines(mod)
	if err != nil {
		return nil, err
	}
	return NewLineTable(nil, lines, i.b.foldCase())
}

// Lines iterates the line rows of module mod in address order.
func (i *Instance) Lines(mod int) (*Iterator[Line], error) {
	if _, err := i.Module(mod); err != nil {
		return nil, err
	}
	lt, err := i.lineTable(mod)
	if err != nil {
		return nil, err
	}
	return newIterator(lt.Rows()), nil
}

// AddrToSrc returns the source position of addr.
func (i *Instance) AddrToSrc(addr uint64) (Line, bool) {
	if i.b == nil {
		return Line{}, false
	}
	id, ok := i.b.moduleForAddr(addr)
	if !ok {
		return Line{}, false
	}
	lt, err := i.lineTable(id)
	if err != nil {
		level.Debug(i.logger).Log("msg", "failed to read lines", "module", id, "err", err)
		return Line{}, false
	}
	return lt.LineForAddr(addr)
}

// SrcToAddr returns the lowest address generated for the first line at or
// after line in file, across all modules. The matched line is returned
// with it.
func (i *Instance) SrcToAddr(file string, line uint32) (uint64, uint32, bool) {
	var (
		bestAddr uint64
		best     uint32
		found    bool
	)
	for id := range i.mods {
		lt, err := i.lineTable(id)
		if err != nil {
			level.Debug(i.logger).Log("msg", "failed to read lines", "module", id, "err", err)
			continue
		}
		addr, l, ok := lt.AddrFor(file, line)
		if !ok {
			continue
		}
		if !found || l < best || (l == best && addr < bestAddr) {
			bestAddr, best, found = addr, l, true
		}
	}
	return bestAddr, best, found
}

// Types iterates the named type definitions.
func (i *Instance) Types() (*Iterator[Type], error) {
	if i.b == nil {
		return newIterator[Type](nil), nil
	}
	types, err := i.b.types()
	if err != nil {
		return nil, err
	}
	return newIterator(types), nil
}

// TypeFromName resolves a type definition by name.
func (i *Instance) TypeFromName(name string) (Type, bool) {
	if i.b == nil {
		return Type{}, false
	}
	return i.b.typeFromName(name)
}

// Globals iterates the global variables.
func (i *Instance) Globals() (*Iterator[Global], error) {
	if i.b == nil {
		return newIterator[Global](nil), nil
	}
	globals, err := i.b.globals()
	if err != nil {
		return nil, err
	}
	return newIterator(globals), nil
}

// GlobalFromName returns the first global variable named name.
func (i *Instance) GlobalFromName(name string) (Global, bool) {
	it, err := i.Globals()
	if err != nil {
		return Global{}, false
	}
	for it.Next() {
		if g := it.Value(); g.Name == name {
			return g, true
		}
	}
	return Global{}, false
}

// Consts iterates the named constants.
func (i *Instance) Consts() (*Iterator[Const], error) {
	if i.b == nil {
		return newIterator[Const](nil), nil
	}
	consts, err := i.b.consts()
	if err != nil {
		return nil, err
	}
	return newIterator(consts), nil
}

// ConstFromName returns the first constant named name.
func (i *Instance) ConstFromName(name string) (Const, bool) {
	it, err := i.Consts()
	if err != nil {
		return Const{}, false
	}
	for it.Next() {
		if c := it.Value(); c.Name == name {
			return c, true
		}
	}
	return Const{}, false
}

// Locals iterates the variables of p whose location is valid at addr.
func (i *Instance) Locals(p Proc, addr uint64) (*Iterator[Local], error) {
	if i.b == nil {
		return nil, ErrLoadFailed
	}
	locals, err := i.b.locals(p, addr)
	if err != nil {
		return nil, err
	}
	return newIterator(locals), nil
}

// InlineSites iterates the inline sites covering addr, outermost first.
func (i *Instance) InlineSites(addr uint64) (*Iterator[InlineSite], error) {
	if i.b == nil {
		return newIterator[InlineSite](nil), nil
	}
	sites, err := i.b.inlineStack(addr)
	if err != nil {
		return nil, err
	}
	return newIterator(sites), nil
}

// FrameSource returns the unwind data of the loaded debug information.
func (i *Instance) FrameSource() unwind.FrameSource {
	if i.b == nil {
		return noFrames{}
	}
	return i.b.frames()
}

// Step unwinds one frame: rs holds the callee's registers on entry and
// the caller's on success. Nothing is written on failure.
func (i *Instance) Step(mem unwind.Memory, rs unwind.Registers) error {
	return unwind.Step(i.Arch(), i.FrameSource(), mem, rs)
}
