package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/jtang613/gosyms/pkg/pdb"
	"github.com/jtang613/gosyms/pkg/pdb/msf"
	"github.com/jtang613/gosyms/pkg/regs"
	"github.com/jtang613/gosyms/pkg/syms"
)

func collect[T any](it *syms.Iterator[T], err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, it.Len())
	for it.Next() {
		out = append(out, it.Value())
	}
	return out, nil
}

func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid address %q", s)
	}
	return v, nil
}

// moduleIDs returns cfg.module, or every module when it is negative.
func moduleIDs(in *syms.Instance) ([]int, error) {
	if cfg.module < 0 {
		return lo.Range(in.ModuleCount()), nil
	}
	if cfg.module >= in.ModuleCount() {
		return nil, errors.Wrapf(syms.ErrNoModule, "module %d", cfg.module)
	}
	return []int{cfg.module}, nil
}

func rangeString(rs []syms.Range) string {
	return strings.Join(lo.Map(rs, func(r syms.Range, _ int) string {
		return hex(r.Start) + "-" + hex(r.End)
	}), " ")
}

type infoReport struct {
	Format  string      `json:"format"`
	Arch    string      `json:"arch"`
	Modules int         `json:"modules"`
	Built   int         `json:"built"`
	Image   *syms.Image `json:"image,omitempty"`
	PDB     *pdb.Info   `json:"pdb,omitempty"`
}

func info(s *session) error {
	v := infoReport{
		Format:  s.in.Format().String(),
		Arch:    s.in.Arch().String(),
		Modules: s.in.ModuleCount(),
		Built:   s.in.ModuleBuildCount(),
		Image:   s.in.Image(),
	}
	if msf.HasMagic(s.data) {
		p, err := pdb.FromBytes(s.data)
		if err != nil {
			return err
		}
		v.PDB = p.Info()
		p.Close()
	}

	r := report{header: []string{"Property", "Value"}, value: v}
	r.add("format", v.Format)
	r.add("arch", v.Arch)
	r.add("modules", strconv.Itoa(v.Modules))
	r.add("built", strconv.Itoa(v.Built))
	if img := v.Image; img != nil {
		r.add("image", img.Format)
		r.add("image base", hex(img.Base))
		if img.PDB != nil {
			r.add("image pdb", img.PDB.Path)
			r.add("image guid", img.PDB.GUID+" age "+strconv.FormatUint(uint64(img.PDB.Age), 10))
		}
		if img.BuildID != "" {
			r.add("image build-id", img.BuildID)
		}
	}
	if p := v.PDB; p != nil {
		r.add("guid", p.GUID)
		r.add("age", strconv.FormatUint(uint64(p.Age), 10))
		r.add("machine", p.Machine)
		r.add("streams", strconv.Itoa(p.Streams))
		r.add("types", strconv.Itoa(p.Types))
	}
	return r.write()
}

type streamInfo struct {
	Index int    `json:"index"`
	Size  uint32 `json:"size"`
}

func streams(path string) error {
	m, err := msf.Open(path)
	if err != nil {
		return err
	}
	defer m.Close()

	var v []streamInfo
	r := report{header: []string{"Stream", "Size", "Human"}}
	for i := 0; i < m.NumStreams(); i++ {
		size, err := m.StreamSize(i)
		if err != nil {
			return err
		}
		v = append(v, streamInfo{Index: i, Size: size})
		r.add(strconv.Itoa(i), strconv.FormatUint(uint64(size), 10), humanize.Bytes(uint64(size)))
	}
	r.value = v
	return r.write()
}

func modules(s *session) error {
	mods, err := collect(s.in.Modules(), nil)
	if err != nil {
		return err
	}
	r := report{header: []string{"ID", "Name", "Object", "Ranges", "Built"}, value: mods}
	for _, m := range mods {
		_, built := s.in.Built(m.ID)
		r.add(strconv.Itoa(m.ID), m.Name, m.Object, rangeString(m.Ranges), yesNo(built))
	}
	return r.write()
}

func procs(s *session) error {
	ids, err := moduleIDs(s.in)
	if err != nil {
		return err
	}
	var all []syms.Proc
	for _, id := range ids {
		ps, err := collect(s.in.Procs(id))
		if err != nil {
			return err
		}
		all = append(all, ps...)
	}
	r := report{header: []string{"Module", "Start", "End", "Name", "Type"}, value: all}
	for _, p := range all {
		r.add(strconv.Itoa(p.Module), hex(p.Range.Start), hex(p.Range.End), p.Name, p.Type)
	}
	return r.write()
}

func types(s *session) error {
	ts, err := collect(s.in.Types())
	if err != nil {
		return err
	}
	r := report{header: []string{"Name", "Kind", "Size", "Members", "Defined"}, value: ts}
	for _, t := range ts {
		def := ""
		if t.File != "" {
			def = t.File + ":" + strconv.FormatUint(uint64(t.Line), 10)
		}
		r.add(t.Name, t.Kind, strconv.FormatUint(t.Size, 10), strconv.Itoa(len(t.Members)), def)
	}
	return r.write()
}

type globalsReport struct {
	Globals []syms.Global `json:"globals"`
	Consts  []syms.Const  `json:"consts"`
}

func globals(s *session) error {
	gs, err := collect(s.in.Globals())
	if err != nil {
		return err
	}
	cs, err := collect(s.in.Consts())
	if err != nil {
		return err
	}
	r := report{header: []string{"Kind", "Name", "Address", "Type"}, value: globalsReport{Globals: gs, Consts: cs}}
	for _, g := range gs {
		r.add(g.Kind.String(), g.Name, hex(g.Addr), g.Type)
	}
	for _, c := range cs {
		r.add("const", c.Name, strconv.FormatInt(c.Value, 10), c.Type)
	}
	return r.write()
}

func lines(s *session) error {
	ids, err := moduleIDs(s.in)
	if err != nil {
		return err
	}
	var all []syms.Line
	for _, id := range ids {
		ls, err := collect(s.in.Lines(id))
		if err != nil {
			return err
		}
		all = append(all, ls...)
	}
	r := report{header: []string{"Address", "File", "Line", "Column"}, value: all}
	for _, l := range all {
		if l.End {
			r.add(hex(l.Addr), "<end>", "", "")
			continue
		}
		r.add(hex(l.Addr), l.File, strconv.FormatUint(uint64(l.Line), 10), strconv.FormatUint(uint64(l.Column), 10))
	}
	return r.write()
}

type addrInfo struct {
	Addr    uint64            `json:"addr"`
	Module  string            `json:"module,omitempty"`
	Proc    string            `json:"proc,omitempty"`
	File    string            `json:"file,omitempty"`
	Line    uint32            `json:"line,omitempty"`
	Inlined []syms.InlineSite `json:"inlined,omitempty"`
}

func resolve(in *syms.Instance, addr uint64) (addrInfo, error) {
	v := addrInfo{Addr: addr}
	if m, ok := in.ModuleFromAddr(addr); ok {
		v.Module = m.Name
	}
	if p, ok := in.ProcFromAddr(addr); ok {
		v.Proc = p.Name
	}
	if l, ok := in.AddrToSrc(addr); ok {
		v.File, v.Line = l.File, l.Line
	}
	sites, err := collect(in.InlineSites(addr))
	if err != nil {
		return v, err
	}
	v.Inlined = sites
	return v, nil
}

func addr2line(args []string) func(*session) error {
	return func(s *session) error {
		cache, err := lru.New[uint64, addrInfo](1024)
		if err != nil {
			return err
		}
		var all []addrInfo
		r := report{header: []string{"Address", "Module", "Proc", "Source", "Inlined"}}
		for _, arg := range args {
			addr, err := parseAddr(arg)
			if err != nil {
				return err
			}
			v, ok := cache.Get(addr)
			if !ok {
				if v, err = resolve(s.in, addr); err != nil {
					return err
				}
				cache.Add(addr, v)
			}
			all = append(all, v)
			src := ""
			if v.File != "" {
				src = v.File + ":" + strconv.FormatUint(uint64(v.Line), 10)
			}
			inlined := lo.Map(v.Inlined, func(site syms.InlineSite, _ int) string { return site.Name })
			r.add(hex(addr), v.Module, v.Proc, src, strings.Join(inlined, " > "))
		}
		r.value = all
		return r.write()
	}
}

type srcAddr struct {
	File    string `json:"file"`
	Line    uint32 `json:"line"`
	Addr    uint64 `json:"addr"`
	Matched uint32 `json:"matched_line"`
}

// src2addr takes FILE:LINE. The last colon separates the line so Windows
// drive letters survive.
func src2addr(pos string) func(*session) error {
	return func(s *session) error {
		i := strings.LastIndexByte(pos, ':')
		if i <= 0 {
			return errors.Errorf("position %q is not FILE:LINE", pos)
		}
		line, err := strconv.ParseUint(pos[i+1:], 10, 32)
		if err != nil {
			return errors.Wrapf(err, "position %q", pos)
		}
		file := pos[:i]
		addr, matched, ok := s.in.SrcToAddr(file, uint32(line))
		if !ok {
			return errors.Errorf("no code for %s", pos)
		}
		v := srcAddr{File: file, Line: uint32(line), Addr: addr, Matched: matched}
		r := report{header: []string{"Position", "Address", "Line"}, value: v}
		r.add(pos, hex(addr), strconv.FormatUint(uint64(matched), 10))
		return r.write()
	}
}

func locationString(arch regs.Arch, l syms.Location) string {
	reg := func() string {
		if d, ok := regs.Lookup(arch, l.Register); ok {
			return d.Name
		}
		return "r" + strconv.Itoa(int(l.Register))
	}
	switch l.Kind {
	case syms.LocationRegister:
		return reg()
	case syms.LocationRegisterRelative, syms.LocationFrameRelative:
		return fmt.Sprintf("[%s%+d]", reg(), l.Offset)
	case syms.LocationAddress:
		return hex(l.Addr)
	case syms.LocationTLS:
		return "tls+" + hex(uint64(l.Offset))
	}
	return l.Kind.String()
}

func locals(arg string) func(*session) error {
	return func(s *session) error {
		addr, err := parseAddr(arg)
		if err != nil {
			return err
		}
		p, ok := s.in.ProcFromAddr(addr)
		if !ok {
			return errors.Errorf("no procedure at %s", hex(addr))
		}
		vars, err := collect(s.in.Locals(p, addr))
		if err != nil {
			return err
		}
		arch := s.in.Arch()
		r := report{header: []string{"Depth", "Name", "Type", "Param", "Inline", "Location"}, value: vars}
		for _, v := range vars {
			r.add(strconv.Itoa(v.Depth), v.Name, v.Type, yesNo(v.Param), yesNo(v.Inline), locationString(arch, v.Location))
		}
		return r.write()
	}
}

func registers(name string) error {
	arch, ok := regs.ParseArch(name)
	if !ok {
		return errors.Errorf("unknown architecture %q", name)
	}
	var descs []regs.Descriptor
	r := report{header: []string{"ID", "Name", "Class", "Offset", "Bits"}}
	for _, id := range regs.IDs(arch) {
		d, ok := regs.Lookup(arch, id)
		if !ok {
			continue
		}
		descs = append(descs, d)
		bits := strconv.Itoa(int(d.BitWidth))
		if d.BitOffset != 0 {
			bits += "@" + strconv.Itoa(int(d.BitOffset))
		}
		r.add(strconv.Itoa(int(id)), d.Name, d.Class.String(), strconv.Itoa(int(d.Offset)), bits)
	}
	r.value = descs
	return r.write()
}
