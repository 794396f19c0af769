package pdb

import (
	"github.com/pkg/errors"

	"github.com/jtang613/gosyms/pkg/pdb/codeview"
)

type scope struct {
	offset uint32
	proc   bool
}

// ProcIterator walks the procedures of one module. Procedures nested in
// another procedure's scope report it as their Parent.
type ProcIterator struct {
	p       *PDB
	mod     int
	it      *codeview.SymbolIterator
	scopes  []scope
	cur     Proc
	err     error
	skipped int
}

// Procs iterates the procedures of module mod in stream order.
func (p *PDB) Procs(mod int) *ProcIterator {
	pi := &ProcIterator{p: p, mod: mod}
	ms, err := p.ModuleStreams(mod)
	if err != nil {
		pi.err = err
		return pi
	}
	pi.it = codeview.NewSymbolIterator(ms.Symbols, SymbolBase)
	return pi
}

// Next advances to the next procedure.
func (pi *ProcIterator) Next() bool {
	if pi.it == nil {
		return false
	}
	for pi.it.Next() {
		rec := pi.it.Record()
		switch {
		case codeview.ClosesScope(rec.Kind):
			if len(pi.scopes) > 0 {
				pi.scopes = pi.scopes[:len(pi.scopes)-1]
			}
		case codeview.IsProcSymbol(rec.Kind):
			proc, err := pi.p.parseProc(pi.mod, rec)
			if err != nil {
				// Unparsable procedures still open a scope their end
				// record will close.
				pi.skipped++
				pi.scopes = append(pi.scopes, scope{offset: rec.Offset, proc: true})
				continue
			}
			for i := len(pi.scopes) - 1; i >= 0; i-- {
				if pi.scopes[i].proc {
					if proc.Depth == 0 {
						proc.Parent = pi.scopes[i].offset
					}
					proc.Depth++
				}
			}
			pi.scopes = append(pi.scopes, scope{offset: rec.Offset, proc: true})
			pi.cur = proc
			return true
		case codeview.OpensScope(rec.Kind):
			pi.scopes = append(pi.scopes, scope{offset: rec.Offset})
		}
	}
	pi.err = pi.it.Err()
	return false
}

// Proc returns the current procedure.
func (pi *ProcIterator) Proc() Proc { return pi.cur }

// Err returns the error that stopped iteration.
func (pi *ProcIterator) Err() error { return pi.err }

// Skipped counts procedure records that could not be decoded.
func (pi *ProcIterator) Skipped() int { return pi.skipped }

func (p *PDB) parseProc(mod int, rec codeview.SymbolRecord) (Proc, error) {
	ps, err := codeview.ParseProcSym(rec)
	if err != nil {
		return Proc{}, err
	}
	proc := Proc{
		Module:     mod,
		Name:       ps.Name,
		SymOffset:  rec.Offset,
		End:        ps.End,
		Section:    ps.Segment,
		Offset:     ps.Offset,
		Length:     ps.Length,
		DebugStart: ps.DbgStart,
		DebugEnd:   ps.DbgEnd,
		Type:       ps.TypeIndex,
		Global:     codeview.IsGlobalSymbol(rec.Kind),
		Flags:      ps.Flags,
	}
	// Keep debug_start <= debug_end <= length for producers that emit
	// zero or oversized bounds.
	if proc.DebugEnd == 0 || proc.DebugEnd > proc.Length {
		proc.DebugEnd = proc.Length
	}
	if proc.DebugStart > proc.DebugEnd {
		proc.DebugStart = proc.DebugEnd
	}
	proc.RVA, _ = p.RVA(ps.Segment, ps.Offset)
	if isIDProc(rec.Kind) {
		proc.ID = ps.TypeIndex
		proc.Type = p.funcSignature(ps.TypeIndex)
	}
	return proc, nil
}

func isIDProc(kind uint16) bool {
	switch kind {
	case codeview.S_GPROC32_ID, codeview.S_LPROC32_ID, codeview.S_LPROC32_DPC_ID,
		codeview.S_GPROCIA64_ID, codeview.S_LPROCIA64_ID,
		codeview.S_GPROCMIPS_ID, codeview.S_LPROCMIPS_ID:
		return true
	}
	return false
}

// funcSignature maps an LF_FUNC_ID or LF_MFUNC_ID to its TPI signature.
func (p *PDB) funcSignature(id codeview.TypeIndex) codeview.TypeIndex {
	t, err := codeview.Normalize(p.ipi, id)
	if err != nil {
		return 0
	}
	return t.Next
}

// funcName returns the name of an IPI function id.
func (p *PDB) funcName(id codeview.TypeIndex) string {
	t, err := codeview.Normalize(p.ipi, id)
	if err != nil {
		return ""
	}
	return t.Name
}

// ProcAt decodes the procedure whose record sits at symOff in module mod.
func (p *PDB) ProcAt(mod int, symOff uint32) (Proc, error) {
	ms, err := p.ModuleStreams(mod)
	if err != nil {
		return Proc{}, err
	}
	it := codeview.NewSymbolIterator(ms.Symbols, SymbolBase)
	if err := it.Seek(symOff); err != nil {
		return Proc{}, err
	}
	if !it.Next() {
		if err := it.Err(); err != nil {
			return Proc{}, err
		}
		return Proc{}, errors.Wrapf(codeview.ErrMalformedRecord, "no record at 0x%x", symOff)
	}
	rec := it.Record()
	if !codeview.IsProcSymbol(rec.Kind) {
		return Proc{}, errors.Wrapf(codeview.ErrUnsupportedRecordKind,
			"%s at 0x%x is not a procedure", codeview.SymbolKindName(rec.Kind), symOff)
	}
	return p.parseProc(mod, rec)
}
