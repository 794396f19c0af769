// Package elftest assembles small little-endian ELF64 images in memory for
// tests of the ELF and DWARF readers.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"sort"
)

// Sym is a symbol table entry. Section names the defining section; an
// empty name makes the symbol absolute, Undefined makes it an import.
type Sym struct {
	Name      string
	Value     uint64
	Size      uint64
	Type      elf.SymType
	Bind      elf.SymBind
	Section   string
	Undefined bool
}

type section struct {
	name    string
	typ     elf.SectionType
	flags   elf.SectionFlag
	addr    uint64
	data    []byte
	link    uint32
	info    uint32
	entsize uint64
}

// Builder collects sections and symbols.
type Builder struct {
	Machine elf.Machine
	Type    elf.Type

	sections []section
	symtab   []Sym
	dynsym   []Sym
}

// New returns a builder for an x86-64 executable.
func New() *Builder {
	return &Builder{Machine: elf.EM_X86_64, Type: elf.ET_EXEC}
}

// Section adds a section with the given contents.
func (b *Builder) Section(name string, typ elf.SectionType, flags elf.SectionFlag, addr uint64, data []byte) *Builder {
	b.sections = append(b.sections, section{name: name, typ: typ, flags: flags, addr: addr, data: data})
	return b
}

// Text adds an executable .text section of size bytes at addr.
func (b *Builder) Text(addr uint64, size int) *Builder {
	return b.Section(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, addr, make([]byte, size))
}

// Debug adds a non-allocated .debug_* section.
func (b *Builder) Debug(name string, data []byte) *Builder {
	return b.Section(name, elf.SHT_PROGBITS, 0, 0, data)
}

// GNUBuildID adds a .note.gnu.build-id note carrying id.
func (b *Builder) GNUBuildID(id []byte) *Builder {
	var w bytes.Buffer
	binary.Write(&w, binary.LittleEndian, [3]uint32{4, uint32(len(id)), 3})
	w.WriteString("GNU\x00")
	w.Write(id)
	return b.Section(".note.gnu.build-id", elf.SHT_NOTE, elf.SHF_ALLOC, 0, w.Bytes())
}

// Symbol adds an entry to .symtab.
func (b *Builder) Symbol(s Sym) *Builder {
	b.symtab = append(b.symtab, s)
	return b
}

// Dynamic adds an entry to .dynsym.
func (b *Builder) Dynamic(s Sym) *Builder {
	b.dynsym = append(b.dynsym, s)
	return b
}

type strtab struct {
	buf  []byte
	offs map[string]uint32
}

func newStrtab() *strtab {
	return &strtab{buf: []byte{0}, offs: map[string]uint32{"": 0}}
}

func (t *strtab) add(s string) uint32 {
	if off, ok := t.offs[s]; ok {
		return off
	}
	off := uint32(len(t.buf))
	t.buf = append(t.buf, s...)
	t.buf = append(t.buf, 0)
	t.offs[s] = off
	return off
}

func (b *Builder) sectionIndex(name string) elf.SectionIndex {
	for i, s := range b.sections {
		if s.name == name {
			return elf.SectionIndex(i + 1)
		}
	}
	return elf.SHN_ABS
}

// symbols encodes syms with locals first, returning the table, its string
// table and the index of the first global.
func (b *Builder) symbols(syms []Sym) ([]byte, []byte, uint32) {
	syms = append([]Sym(nil), syms...)
	sort.SliceStable(syms, func(i, j int) bool {
		return syms[i].Bind == elf.STB_LOCAL && syms[j].Bind != elf.STB_LOCAL
	})
	strs := newStrtab()
	var w bytes.Buffer
	binary.Write(&w, binary.LittleEndian, elf.Sym64{})
	firstGlobal := uint32(len(syms) + 1)
	for i, s := range syms {
		if s.Bind != elf.STB_LOCAL && firstGlobal > uint32(len(syms)) {
			firstGlobal = uint32(i + 1)
		}
		shndx := b.sectionIndex(s.Section)
		if s.Undefined {
			shndx = elf.SHN_UNDEF
		}
		binary.Write(&w, binary.LittleEndian, elf.Sym64{
			Name:  strs.add(s.Name),
			Info:  elf.ST_INFO(s.Bind, s.Type),
			Shndx: uint16(shndx),
			Value: s.Value,
			Size:  s.Size,
		})
	}
	return w.Bytes(), strs.buf, firstGlobal
}

// Bytes lays out the image: header, section contents, then the section
// header table.
func (b *Builder) Bytes() []byte {
	secs := append([]section(nil), b.sections...)
	if len(b.symtab) > 0 {
		syms, strs, first := b.symbols(b.symtab)
		n := uint32(len(secs) + 1)
		secs = append(secs,
			section{name: ".symtab", typ: elf.SHT_SYMTAB, data: syms, link: n + 1, info: first, entsize: elf.Sym64Size},
			section{name: ".strtab", typ: elf.SHT_STRTAB, data: strs})
	}
	if len(b.dynsym) > 0 {
		syms, strs, first := b.symbols(b.dynsym)
		n := uint32(len(secs) + 1)
		secs = append(secs,
			section{name: ".dynsym", typ: elf.SHT_DYNSYM, flags: elf.SHF_ALLOC, data: syms, link: n + 1, info: first, entsize: elf.Sym64Size},
			section{name: ".dynstr", typ: elf.SHT_STRTAB, flags: elf.SHF_ALLOC, data: strs})
	}
	shstr := newStrtab()
	for _, s := range secs {
		shstr.add(s.name)
	}
	shstr.add(".shstrtab")
	secs = append(secs, section{name: ".shstrtab", typ: elf.SHT_STRTAB, data: shstr.buf})

	const headerSize = 64
	var body bytes.Buffer
	offs := make([]uint64, len(secs))
	for i, s := range secs {
		for (headerSize+body.Len())%8 != 0 {
			body.WriteByte(0)
		}
		offs[i] = uint64(headerSize + body.Len())
		body.Write(s.data)
	}
	for (headerSize+body.Len())%8 != 0 {
		body.WriteByte(0)
	}
	shoff := uint64(headerSize + body.Len())

	var out bytes.Buffer
	hdr := elf.Header64{
		Type:      uint16(b.Type),
		Machine:   uint16(b.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Ehsize:    headerSize,
		Shentsize: 64,
		Shnum:     uint16(len(secs) + 1),
		Shstrndx:  uint16(len(secs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	binary.Write(&out, binary.LittleEndian, hdr)
	out.Write(body.Bytes())

	binary.Write(&out, binary.LittleEndian, elf.Section64{})
	for i, s := range secs {
		binary.Write(&out, binary.LittleEndian, elf.Section64{
			Name:      shstr.add(s.name),
			Type:      uint32(s.typ),
			Flags:     uint64(s.flags),
			Addr:      s.addr,
			Off:       offs[i],
			Size:      uint64(len(s.data)),
			Link:      s.link,
			Info:      s.info,
			Addralign: 1,
			Entsize:   s.entsize,
		})
	}
	return out.Bytes()
}
