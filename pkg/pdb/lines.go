package pdb

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/jtang613/gosyms/pkg/pdb/codeview"
)

// moduleDebug is the decoded C13 region of one module.
type moduleDebug struct {
	checksums []codeview.FileChecksum
	lines     []codeview.LineBlocks
	inlinees  map[codeview.TypeIndex]codeview.InlineeLine
}

func parseModuleDebug(c13 []byte) (*moduleDebug, error) {
	md := &moduleDebug{inlinees: map[codeview.TypeIndex]codeview.InlineeLine{}}
	it := codeview.NewSubsectionIterator(c13)
	for it.Next() {
		sub := it.Subsection()
		switch sub.Kind {
		case codeview.DebugSFileChecksums:
			cs, err := codeview.ParseFileChecksums(sub.Data)
			if err != nil {
				return md, err
			}
			md.checksums = append(md.checksums, cs...)
		case codeview.DebugSLines:
			lb, err := codeview.ParseLines(sub.Data)
			if err != nil {
				return md, err
			}
			md.lines = append(md.lines, lb)
		case codeview.DebugSInlineeLines:
			ils, err := codeview.ParseInlineeLines(sub.Data)
			if err != nil {
				return md, err
			}
			for _, il := range ils {
				md.inlinees[il.Inlinee] = il
			}
		}
	}
	return md, it.Err()
}

// fileIndex maps checksum offsets to positions in files, adding files on
// first use.
type fileIndex struct {
	p     *PDB
	byOff map[uint32]int
	sums  map[uint32]codeview.FileChecksum
	files []SourceFile
}

func newFileIndex(p *PDB, sums []codeview.FileChecksum) *fileIndex {
	fi := &fileIndex{p: p, byOff: map[uint32]int{}, sums: map[uint32]codeview.FileChecksum{}}
	for _, s := range sums {
		fi.sums[s.Offset] = s
	}
	return fi
}

func (fi *fileIndex) lookup(off uint32) int {
	if i, ok := fi.byOff[off]; ok {
		return i
	}
	sf := SourceFile{}
	if s, ok := fi.sums[off]; ok {
		sf.Name, _ = fi.p.String(s.NameOffset)
		sf.ChecksumKind = s.Kind
		sf.Checksum = s.Checksum
	}
	fi.byOff[off] = len(fi.files)
	fi.files = append(fi.files, sf)
	return len(fi.files) - 1
}

func (fi *fileIndex) name(off uint32) string {
	return fi.files[fi.lookup(off)].Name
}

// Lines decodes the line table of module mod from its C13 region, or from
// its C11 region when it has no C13 data. The result is sorted by RVA;
// each contiguous run of code ends with an End line.
func (p *PDB) Lines(mod int) ([]Line, []SourceFile, error) {
	ms, err := p.ModuleStreams(mod)
	if err != nil {
		return nil, nil, err
	}
	var lines []Line
	var files []SourceFile
	switch {
	case len(ms.C13) > 0:
		md, err := parseModuleDebug(ms.C13)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "module %d C13 lines", mod)
		}
		fi := newFileIndex(p, md.checksums)
		for _, lb := range md.lines {
			lines = p.appendC13(lines, fi, lb)
		}
		files = fi.files
	case len(ms.C11) > 0:
		c11, err := codeview.ParseC11Lines(ms.C11, ms.Signature < codeview.CVSignatureC13)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "module %d C11 lines", mod)
		}
		lines, files = p.appendC11(lines, c11)
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].RVA != lines[j].RVA {
			return lines[i].RVA < lines[j].RVA
		}
		// An End line at the start of the next sequence sorts first.
		return lines[i].End && !lines[j].End
	})
	return lines, files, nil
}

func (p *PDB) appendC13(lines []Line, fi *fileIndex, lb codeview.LineBlocks) []Line {
	base, ok := p.RVA(lb.Section, lb.Offset)
	if !ok {
		return lines
	}
	last := -1
	for _, f := range lb.Files {
		file := fi.lookup(f.ChecksumOffset)
		last = file
		for _, le := range f.Lines {
			lines = append(lines, Line{
				RVA:       base + le.Offset,
				Section:   lb.Section,
				Offset:    lb.Offset + le.Offset,
				File:      file,
				Line:      le.Line,
				Column:    le.ColumnStart,
				Statement: le.IsStatement,
			})
		}
	}
	if last < 0 {
		return lines
	}
	return append(lines, Line{
		RVA:     base + lb.Length,
		Section: lb.Section,
		Offset:  lb.Offset + lb.Length,
		File:    last,
		End:     true,
	})
}

func (p *PDB) appendC11(lines []Line, c11 []codeview.C11File) ([]Line, []SourceFile) {
	files := make([]SourceFile, len(c11))
	for i, f := range c11 {
		files[i] = SourceFile{Name: f.Name}
		for _, seg := range f.Segments {
			base, ok := p.RVA(seg.Section, 0)
			if !ok {
				continue
			}
			for _, l := range seg.Lines {
				lines = append(lines, Line{
					RVA:       base + l.Offset,
					Section:   seg.Section,
					Offset:    l.Offset,
					File:      i,
					Line:      uint32(l.Line),
					Statement: true,
				})
			}
			lines = append(lines, Line{
				RVA:     base + seg.End,
				Section: seg.Section,
				Offset:  seg.End,
				File:    i,
				End:     true,
			})
		}
	}
	return lines, files
}

// LineAt returns the line covering rva in a table sorted by Lines: the
// last line at or below rva, provided its sequence has not ended.
func LineAt(lines []Line, rva uint32) (Line, bool) {
	i := sort.Search(len(lines), func(i int) bool { return lines[i].RVA > rva })
	if i == 0 {
		return Line{}, false
	}
	l := lines[i-1]
	if l.End {
		return Line{}, false
	}
	return l, true
}
