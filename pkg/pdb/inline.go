package pdb

import (
	"github.com/pkg/errors"

	"github.com/jtang613/gosyms/pkg/pdb/codeview"
)

// InlineRange is one code range of an inline site together with the
// inlinee source line it belongs to.
type InlineRange struct {
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
	File  string `json:"file,omitempty"`
	Line  uint32 `json:"line"`
}

// InlineSite is a call that the compiler expanded into its caller. Offset
// identifies the S_INLINESITE record; Parent is the record offset of the
// enclosing inline site, or of the procedure at depth one.
type InlineSite struct {
	Offset   uint32             `json:"offset"`
	Parent   uint32             `json:"parent"`
	Depth    int                `json:"depth"`
	Inlinee  codeview.TypeIndex `json:"inlinee"`
	Name     string             `json:"name"`
	Type     codeview.TypeIndex `json:"type,omitempty"`
	DeclFile string             `json:"decl_file,omitempty"`
	DeclLine uint32             `json:"decl_line,omitempty"`
	CallFile string             `json:"call_file,omitempty"`
	CallLine uint32             `json:"call_line,omitempty"`
	Ranges   []InlineRange      `json:"ranges"`
}

// Contains reports whether rva lies in one of the site's ranges.
func (s InlineSite) Contains(rva uint32) bool {
	for _, r := range s.Ranges {
		if rva >= r.Start && rva < r.End {
			return true
		}
	}
	return false
}

func (s InlineSite) rangeAt(rva uint32) (InlineRange, bool) {
	for _, r := range s.Ranges {
		if rva >= r.Start && rva < r.End {
			return r, true
		}
	}
	return InlineRange{}, false
}

// inlineRanges converts an annotation program to RVA ranges of proc.
func (p *PDB) inlineRanges(proc Proc, annotations []byte) ([]InlineRange, error) {
	ars, err := codeview.DecodeAnnotations(annotations)
	if err != nil {
		return nil, err
	}
	out := make([]InlineRange, 0, len(ars))
	end := proc.RVA + proc.Length
	for _, ar := range ars {
		r := InlineRange{Start: proc.RVA + ar.Offset, End: end}
		if ar.Length != 0 {
			r.End = r.Start + ar.Length
		}
		if r.Start >= r.End {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// InlineIterator walks the inline sites of one procedure in record order,
// outer sites before the sites nested in them.
type InlineIterator struct {
	p       *PDB
	proc    Proc
	it      *codeview.SymbolIterator
	md      *moduleDebug
	files   *fileIndex
	lines   []Line
	srcs    []SourceFile
	stack   []InlineSite
	depth   int
	cur     InlineSite
	err     error
	skipped int
}

// InlineSites iterates the inline sites of proc.
func (p *PDB) InlineSites(proc Proc) *InlineIterator {
	ii := &InlineIterator{p: p, proc: proc}
	ms, err := p.ModuleStreams(proc.Module)
	if err != nil {
		ii.err = err
		return ii
	}
	if ii.md, err = parseModuleDebug(ms.C13); err != nil {
		ii.err = errors.Wrapf(err, "module %d C13 lines", proc.Module)
		return ii
	}
	ii.files = newFileIndex(p, ii.md.checksums)
	if ii.lines, ii.srcs, err = p.Lines(proc.Module); err != nil {
		ii.err = err
		return ii
	}
	ii.it = codeview.NewSymbolIterator(ms.Symbols, SymbolBase)
	if err := ii.it.Seek(proc.SymOffset); err != nil || !ii.it.Next() {
		ii.err = errors.Wrapf(codeview.ErrMalformedRecord, "no procedure at 0x%x", proc.SymOffset)
		ii.it = nil
		return ii
	}
	ii.depth = 1
	return ii
}

// Next advances to the next inline site.
func (ii *InlineIterator) Next() bool {
	if ii.it == nil {
		return false
	}
	for ii.depth > 0 && ii.it.Next() {
		rec := ii.it.Record()
		switch {
		case codeview.ClosesScope(rec.Kind):
			ii.depth--
			if rec.Kind == codeview.S_INLINESITE_END && len(ii.stack) > 0 {
				ii.stack = ii.stack[:len(ii.stack)-1]
			}
		case codeview.IsProcSymbol(rec.Kind):
			ps, err := codeview.ParseProcSym(rec)
			if err != nil || ii.it.Seek(ps.End) != nil || !ii.it.Next() {
				ii.err = errors.Wrapf(codeview.ErrMalformedRecord, "nested procedure at 0x%x", rec.Offset)
				ii.it = nil
				return false
			}
		case rec.Kind == codeview.S_INLINESITE || rec.Kind == codeview.S_INLINESITE2:
			ii.depth++
			site, err := ii.site(rec)
			if err != nil {
				ii.skipped++
				site = InlineSite{Offset: rec.Offset, Depth: len(ii.stack) + 1}
			}
			ii.stack = append(ii.stack, site)
			if err != nil {
				continue
			}
			ii.cur = site
			return true
		case codeview.OpensScope(rec.Kind):
			ii.depth++
		}
	}
	if ii.it != nil {
		ii.err = ii.it.Err()
	}
	return false
}

func (ii *InlineIterator) site(rec codeview.SymbolRecord) (InlineSite, error) {
	s, err := codeview.ParseInlineSiteSym(rec)
	if err != nil {
		return InlineSite{}, err
	}
	site := InlineSite{
		Offset:  rec.Offset,
		Parent:  ii.proc.SymOffset,
		Depth:   len(ii.stack) + 1,
		Inlinee: s.Inlinee,
		Name:    ii.p.funcName(s.Inlinee),
		Type:    ii.p.funcSignature(s.Inlinee),
	}
	if il, ok := ii.md.inlinees[s.Inlinee]; ok {
		site.DeclFile = ii.files.name(il.ChecksumOffset)
		site.DeclLine = il.Line
	}
	ars, err := codeview.DecodeAnnotations(s.Annotations)
	if err != nil {
		return InlineSite{}, err
	}
	end := ii.proc.RVA + ii.proc.Length
	for _, ar := range ars {
		r := InlineRange{Start: ii.proc.RVA + ar.Offset, End: end, File: site.DeclFile}
		if ar.Length != 0 {
			r.End = r.Start + ar.Length
		}
		if r.Start >= r.End {
			continue
		}
		if ar.FileChanged {
			r.File = ii.files.name(ar.File)
		}
		r.Line = uint32(int64(site.DeclLine) + int64(ar.LineDelta))
		site.Ranges = append(site.Ranges, r)
	}
	if len(site.Ranges) == 0 {
		return site, nil
	}
	at := site.Ranges[0].Start
	if n := len(ii.stack); n > 0 {
		parent := ii.stack[n-1]
		site.Parent = parent.Offset
		if r, ok := parent.rangeAt(at); ok {
			site.CallFile, site.CallLine = r.File, r.Line
		}
	} else if l, ok := LineAt(ii.lines, at); ok {
		site.CallLine = l.Line
		if l.File < len(ii.srcs) {
			site.CallFile = ii.srcs[l.File].Name
		}
	}
	return site, nil
}

// Site returns the current inline site.
func (ii *InlineIterator) Site() InlineSite { return ii.cur }

// Err returns the error that stopped iteration.
func (ii *InlineIterator) Err() error { return ii.err }

// Skipped counts inline sites whose annotations could not be decoded.
func (ii *InlineIterator) Skipped() int { return ii.skipped }

// InlineStack returns the inline sites of proc covering rva, outermost
// first.
func (p *PDB) InlineStack(proc Proc, rva uint32) ([]InlineSite, error) {
	var out []InlineSite
	ii := p.InlineSites(proc)
	for ii.Next() {
		s := ii.Site()
		if !s.Contains(rva) {
			continue
		}
		if len(out) > 0 && s.Parent != out[len(out)-1].Offset {
			continue
		}
		if len(out) == 0 && s.Depth != 1 {
			continue
		}
		out = append(out, s)
	}
	return out, ii.Err()
}
