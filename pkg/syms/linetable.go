package syms

import (
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"

	"github.com/jtang613/gosyms/pkg/arena"
)

type lineRow struct {
	addr   uint64
	seq    uint32
	file   uint32
	line   uint32
	column uint16
	stmt   bool
	end    bool
}

// LineTable is a module's line rows sorted by address, with file names
// interned. It answers address-to-line and file-and-line-to-address
// queries.
type LineTable struct {
	rows   *arena.BlockAllocator[lineRow]
	files  []string
	keys   []string
	byHash map[uint64][]uint32
	fold   bool
}

// NewLineTable builds a table from rows in any order. Storage is charged
// to a, which may be nil. With foldCase, file names match regardless of
// letter case and path separator.
func NewLineTable(a *arena.Arena, lines []Line, foldCase bool) (*LineTable, error) {
	t := &LineTable{
		rows:   arena.NewBlockAllocator[lineRow](a, 512),
		byHash: map[uint64][]uint32{},
		fold:   foldCase,
	}
	for i, l := range lines {
		row := lineRow{addr: l.Addr, seq: uint32(i), end: l.End}
		if !l.End {
			row.file = t.intern(l.File)
			row.line, row.column, row.stmt = l.Line, l.Column, l.Statement
		}
		if err := t.rows.Append(row); err != nil {
			return nil, err
		}
	}
	// End rows sort before rows starting at the same address.
	t.rows.Sort(func(x, y *lineRow) bool {
		if x.addr != y.addr {
			return x.addr < y.addr
		}
		if x.end != y.end {
			return x.end
		}
		return x.seq < y.seq
	})
	return t, nil
}

func (t *LineTable) key(name string) string {
	if !t.fold {
		return name
	}
	return strings.ToLower(strings.ReplaceAll(name, "/", `\`))
}

func (t *LineTable) intern(name string) uint32 {
	k := t.key(name)
	h := xxhash.Sum64String(k)
	for _, i := range t.byHash[h] {
		if t.keys[i] == k {
			return i
		}
	}
	i := uint32(len(t.files))
	t.files = append(t.files, name)
	t.keys = append(t.keys, k)
	t.byHash[h] = append(t.byHash[h], i)
	return i
}

// lookupFile returns the indices of files named name. A name without an
// exact match matches files it is a path suffix of.
func (t *LineTable) lookupFile(name string) []uint32 {
	k := t.key(name)
	var out []uint32
	for _, i := range t.byHash[xxhash.Sum64String(k)] {
		if t.keys[i] == k {
			out = append(out, i)
		}
	}
	if len(out) > 0 {
		return out
	}
	for i, fk := range t.keys {
		if len(fk) > len(k) && strings.HasSuffix(fk, k) {
			if c := fk[len(fk)-len(k)-1]; c == '/' || c == '\\' {
				out = append(out, uint32(i))
			}
		}
	}
	return out
}

// Len returns the number of rows.
func (t *LineTable) Len() int { return t.rows.Len() }

// Files returns the interned file names.
func (t *LineTable) Files() []string { return t.files }

func (t *LineTable) line(r *lineRow) Line {
	if r.end {
		return Line{Addr: r.addr, End: true}
	}
	return Line{
		Addr:      r.addr,
		File:      t.files[r.file],
		Line:      r.line,
		Column:    r.column,
		Statement: r.stmt,
	}
}

// Rows returns the rows in address order.
func (t *LineTable) Rows() []Line {
	out := make([]Line, 0, t.rows.Len())
	for i := 0; i < t.rows.Len(); i++ {
		out = append(out, t.line(t.rows.At(i)))
	}
	return out
}

// LineForAddr returns the row covering addr: the last row at or below it,
// unless that row ends a sequence.
func (t *LineTable) LineForAddr(addr uint64) (Line, bool) {
	i := t.rows.Search(func(r *lineRow) bool { return r.addr > addr })
	if i == 0 {
		return Line{}, false
	}
	r := t.rows.At(i - 1)
	if r.end {
		return Line{}, false
	}
	return t.line(r), true
}

// AddrFor returns the lowest address of the smallest line number at or
// after line in file. The matched line is returned with it.
func (t *LineTable) AddrFor(file string, line uint32) (uint64, uint32, bool) {
	files := t.lookupFile(file)
	if len(files) == 0 {
		return 0, 0, false
	}
	var (
		best     uint32
		bestAddr uint64
		found    bool
	)
	for i := 0; i < t.rows.Len(); i++ {
		r := t.rows.At(i)
		if r.end || r.line < line || !lo.Contains(files, r.file) {
			continue
		}
		if !found || r.line < best || (r.line == best && r.addr < bestAddr) {
			best, bestAddr, found = r.line, r.addr, true
		}
	}
	return bestAddr, best, found
}
