package pdb

import (
	"strings"

	"github.com/jtang613/gosyms/pkg/pdb/codeview"
)

// GlobalIterator walks the global symbol record stream, yielding the
// records whose kind was requested.
type GlobalIterator struct {
	p       *PDB
	it      *codeview.SymbolIterator
	want    [GlobalProcRef + 1]bool
	cur     Global
	skipped int
}

// Globals iterates the global symbol stream. With no kinds every
// supported record is returned.
func (p *PDB) Globals(kinds ...GlobalKind) *GlobalIterator {
	gi := &GlobalIterator{p: p, it: codeview.NewSymbolIterator(p.symrec, 0)}
	for _, k := range kinds {
		if int(k) < len(gi.want) {
			gi.want[k] = true
		}
	}
	if len(kinds) == 0 {
		for i := range gi.want {
			gi.want[i] = true
		}
	}
	return gi
}

// Next advances to the next matching record. Records that fail to decode
// are skipped.
func (gi *GlobalIterator) Next() bool {
	for gi.it.Next() {
		rec := gi.it.Record()
		kind, ok := globalKind(rec.Kind)
		if !ok || !gi.want[kind] {
			continue
		}
		g, err := gi.p.parseGlobal(kind, rec)
		if err != nil {
			gi.skipped++
			continue
		}
		gi.cur = g
		return true
	}
	return false
}

// Global returns the current record.
func (gi *GlobalIterator) Global() Global { return gi.cur }

// Err returns the error that stopped iteration.
func (gi *GlobalIterator) Err() error { return gi.it.Err() }

// Skipped counts records that could not be decoded.
func (gi *GlobalIterator) Skipped() int { return gi.skipped }

func globalKind(kind uint16) (GlobalKind, bool) {
	switch kind {
	case codeview.S_GDATA32, codeview.S_LDATA32:
		return GlobalData, true
	case codeview.S_GTHREAD32, codeview.S_LTHREAD32:
		return GlobalThreadData, true
	case codeview.S_CONSTANT:
		return GlobalConstant, true
	case codeview.S_UDT:
		return GlobalUDT, true
	case codeview.S_PUB32:
		return GlobalPublic, true
	case codeview.S_PROCREF, codeview.S_LPROCREF:
		return GlobalProcRef, true
	}
	return 0, false
}

func (p *PDB) parseGlobal(kind GlobalKind, rec codeview.SymbolRecord) (Global, error) {
	g := Global{Kind: kind, SymOffset: rec.Offset}
	switch kind {
	case GlobalData, GlobalThreadData:
		d, err := codeview.ParseDataSym(rec)
		if err != nil {
			return g, err
		}
		g.Name, g.Section, g.Offset, g.Type = d.Name, d.Segment, d.Offset, d.TypeIndex
		g.External = rec.Kind == codeview.S_GDATA32 || rec.Kind == codeview.S_GTHREAD32
		if kind == GlobalData {
			g.RVA, _ = p.RVA(d.Segment, d.Offset)
		}
	case GlobalConstant:
		c, err := codeview.ParseConstantSym(rec)
		if err != nil {
			return g, err
		}
		g.Name, g.Type, g.Value = c.Name, c.TypeIndex, c.Value
	case GlobalUDT:
		u, err := codeview.ParseUDTSym(rec)
		if err != nil {
			return g, err
		}
		g.Name, g.Type = u.Name, u.TypeIndex
	case GlobalPublic:
		pub, err := codeview.ParsePubSym(rec)
		if err != nil {
			return g, err
		}
		g.Name, g.Section, g.Offset, g.Flags = pub.Name, pub.Segment, pub.Offset, pub.Flags
		g.RVA, _ = p.RVA(pub.Segment, pub.Offset)
		g.External = true
		if d := Demangle(pub.Name); d != pub.Name {
			g.Demangled = d
		}
	case GlobalProcRef:
		r, err := codeview.ParseProcRefSym(rec)
		if err != nil {
			return g, err
		}
		if r.Module == 0 {
			return g, codeview.ErrMalformedRecord
		}
		g.Name, g.Module, g.SymOffset = r.Name, int(r.Module)-1, r.SymOffset
		g.External = rec.Kind == codeview.S_PROCREF
	}
	return g, nil
}

// FindGlobal returns the first record of one of kinds named name.
func (p *PDB) FindGlobal(name string, kinds ...GlobalKind) (Global, bool) {
	gi := p.Globals(kinds...)
	for gi.Next() {
		if g := gi.Global(); g.Name == name {
			return g, true
		}
	}
	return Global{}, false
}

// FindProc finds a procedure by name through the procedure references of
// the global stream. Names may be qualified; a match on the unqualified
// tail is accepted when no exact match exists.
func (p *PDB) FindProc(name string) (Proc, bool) {
	var tail *Global
	gi := p.Globals(GlobalProcRef)
	for gi.Next() {
		g := gi.Global()
		if g.Name == name {
			if proc, err := p.ProcAt(g.Module, g.SymOffset); err == nil {
				return proc, true
			}
			continue
		}
		if tail == nil && strings.HasSuffix(g.Name, "::"+name) {
			tail = &g
		}
	}
	if tail != nil {
		if proc, err := p.ProcAt(tail.Module, tail.SymOffset); err == nil {
			return proc, true
		}
	}
	return Proc{}, false
}
