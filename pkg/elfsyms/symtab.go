// Package elfsyms indexes the .symtab and .dynsym tables of ELF images for
// address and name lookups.
package elfsyms

import (
	"bytes"
	"debug/elf"
	"encoding/hex"
	"io"
	"sort"

	"github.com/ianlancetaylor/demangle"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/jtang613/gosyms/pkg/regs"
)

var (
	// ErrNoSymbols is returned for images with neither .symtab nor .dynsym.
	ErrNoSymbols = errors.New("elfsyms: no symbols")
	// ErrNoBuildID is returned when the image has no GNU build-id note.
	ErrNoBuildID = errors.New("elfsyms: build ID section not found")
)

// Demangling presets.
var (
	DemangleNone       = []demangle.Option{}
	DemangleSimplified = []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams, demangle.NoTemplateParams}
	DemangleTemplates  = []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams}
	DemangleFull       = []demangle.Option{demangle.NoClones}
)

// DemangleOptions maps a preset name to options. Unknown names demangle
// fully.
func DemangleOptions(mode string) []demangle.Option {
	switch mode {
	case "none":
		return DemangleNone
	case "simplified":
		return DemangleSimplified
	case "templates":
		return DemangleTemplates
	}
	return DemangleFull
}

// Kind classifies symbols kept in the index.
type Kind uint8

// Symbol kinds.
const (
	KindFunc Kind = iota
	KindObject
	KindTLS
)

func (k Kind) String() string {
	switch k {
	case KindFunc:
		return "func"
	case KindObject:
		return "object"
	case KindTLS:
		return "tls"
	}
	return "unknown"
}

// Symbol is one defined function or data symbol.
type Symbol struct {
	Name      string `json:"name"`
	Demangled string `json:"demangled,omitempty"`
	Value     uint64 `json:"value"`
	Size      uint64 `json:"size"`
	Kind      Kind   `json:"kind"`
	Global    bool   `json:"global"`
	Dynamic   bool   `json:"dynamic,omitempty"`
	Section   string `json:"section,omitempty"`
}

// DisplayName returns the demangled name when there is one.
func (s Symbol) DisplayName() string {
	if s.Demangled != "" {
		return s.Demangled
	}
	return s.Name
}

// Contains reports whether addr lies in the symbol. Symbols of size zero
// contain only their own address.
func (s Symbol) Contains(addr uint64) bool {
	if s.Size == 0 {
		return addr == s.Value
	}
	return addr >= s.Value && addr-s.Value < s.Size
}

// Section is an allocated section of the image.
type Section struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Addr  uint64 `json:"addr"`
	Size  uint64 `json:"size"`
	Exec  bool   `json:"exec"`
}

// Table is a symbol index sorted by address, then name.
type Table struct {
	Machine elf.Machine
	Arch    regs.Arch

	syms     []Symbol
	byName   map[string]int
	sections []Section
	buildID  string
}

// Open parses the ELF image read through r.
func Open(r io.ReaderAt, opts []demangle.Option) (*Table, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse ELF")
	}
	return New(f, opts)
}

// FromBytes parses an ELF image held in memory.
func FromBytes(data []byte, opts []demangle.Option) (*Table, error) {
	return Open(bytes.NewReader(data), opts)
}

// New indexes f's symbol tables. A nil opts demangles fully; an empty
// slice disables demangling.
func New(f *elf.File, opts []demangle.Option) (*Table, error) {
	if opts == nil {
		opts = DemangleFull
	}
	sym, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, errors.Wrap(err, "failed to read .symtab")
	}
	dynsym, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, errors.Wrap(err, "failed to read .dynsym")
	}

	t := &Table{
		Machine: f.Machine,
		Arch:    regs.ArchFromELF(uint16(f.Machine)),
		byName:  map[string]int{},
	}
	for i, s := range f.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Type == elf.SHT_NULL {
			continue
		}
		t.sections = append(t.sections, Section{
			Index: i,
			Name:  s.Name,
			Addr:  s.Addr,
			Size:  s.Size,
			Exec:  s.Flags&elf.SHF_EXECINSTR != 0,
		})
	}

	all := make([]Symbol, 0, len(sym)+len(dynsym))
	all = appendSymbols(all, f, sym, false, opts)
	all = appendSymbols(all, f, dynsym, true, opts)
	if len(all) == 0 {
		return nil, ErrNoSymbols
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Value == all[j].Value {
			return all[i].Name < all[j].Name
		}
		return all[i].Value < all[j].Value
	})
	// .dynsym usually repeats exported .symtab entries.
	t.syms = all[:0]
	for _, s := range all {
		if n := len(t.syms); n > 0 && t.syms[n-1].Value == s.Value && t.syms[n-1].Name == s.Name {
			continue
		}
		t.syms = append(t.syms, s)
	}
	for i, s := range t.syms {
		if _, ok := t.byName[s.Name]; !ok {
			t.byName[s.Name] = i
		}
		if s.Demangled != "" {
			if _, ok := t.byName[s.Demangled]; !ok {
				t.byName[s.Demangled] = i
			}
		}
	}
	if id, err := GNUBuildID(f); err == nil {
		t.buildID = id
	}
	return t, nil
}

func appendSymbols(dst []Symbol, f *elf.File, syms []elf.Symbol, dynamic bool, opts []demangle.Option) []Symbol {
	for _, s := range syms {
		if s.Name == "" || s.Section == elf.SHN_UNDEF {
			continue
		}
		var kind Kind
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, elf.STT_LOOS: // STT_GNU_IFUNC
			kind = KindFunc
		case elf.STT_OBJECT:
			kind = KindObject
		case elf.STT_TLS:
			kind = KindTLS
		default:
			continue
		}
		out := Symbol{
			Name:    s.Name,
			Value:   s.Value,
			Size:    s.Size,
			Kind:    kind,
			Global:  elf.ST_BIND(s.Info) != elf.STB_LOCAL,
			Dynamic: dynamic,
		}
		if len(opts) > 0 {
			if d := demangle.Filter(s.Name, opts...); d != s.Name {
				out.Demangled = d
			}
		}
		if int(s.Section) < len(f.Sections) {
			out.Section = f.Sections[s.Section].Name
		}
		dst = append(dst, out)
	}
	return dst
}

// GNUBuildID returns the hex build id from .note.gnu.build-id.
func GNUBuildID(f *elf.File) (string, error) {
	s := f.Section(".note.gnu.build-id")
	if s == nil {
		return "", ErrNoBuildID
	}
	data, err := s.Data()
	if err != nil {
		return "", errors.Wrap(err, "reading .note.gnu.build-id")
	}
	if len(data) < 16 {
		return "", errors.New(".note.gnu.build-id is too small")
	}
	if !bytes.Equal([]byte("GNU"), data[12:15]) {
		return "", errors.New(".note.gnu.build-id is not a GNU build-id")
	}
	raw := data[16:]
	if len(raw) != 20 && len(raw) != 8 && len(raw) != 16 {
		return "", errors.Errorf(".note.gnu.build-id has wrong size %d", len(raw))
	}
	return hex.EncodeToString(raw), nil
}

// Size returns the number of indexed symbols.
func (t *Table) Size() int { return len(t.syms) }

// Symbols returns the index in address order.
func (t *Table) Symbols() []Symbol { return t.syms }

// Sections returns the allocated sections in header order.
func (t *Table) Sections() []Section { return t.sections }

// BuildID returns the GNU build id, or "" when the image has none.
func (t *Table) BuildID() string { return t.buildID }

// Resolve returns the closest symbol of one of kinds (any kind when none
// are given) at or below addr. Sized symbols must contain addr; symbols of
// size zero extend to the next symbol.
func (t *Table) Resolve(addr uint64, kinds ...Kind) (Symbol, bool) {
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].Value > addr })
	for i--; i >= 0; i-- {
		s := t.syms[i]
		if len(kinds) > 0 && !lo.Contains(kinds, s.Kind) {
			continue
		}
		if s.Size == 0 || s.Contains(addr) {
			return s, true
		}
		return Symbol{}, false
	}
	return Symbol{}, false
}

// Lookup finds a symbol by its raw or demangled name.
func (t *Table) Lookup(name string) (Symbol, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Symbol{}, false
	}
	return t.syms[i], true
}

// SectionFor returns the allocated section containing addr.
func (t *Table) SectionFor(addr uint64) (Section, bool) {
	for _, s := range t.sections {
		if addr >= s.Addr && addr-s.Addr < s.Size {
			return s, true
		}
	}
	return Section{}, false
}
