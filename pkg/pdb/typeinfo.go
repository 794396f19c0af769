package pdb

import (
	"github.com/pkg/errors"

	"github.com/jtang613/gosyms/pkg/pdb/codeview"
)

// TypeInfo resolves a TPI type index. Aggregates and enums get their
// members; forward references resolve to their definition.
func (p *PDB) TypeInfo(ti codeview.TypeIndex) (*TypeInfo, error) {
	t, err := codeview.Normalize(p.tpi, ti)
	if err != nil {
		return nil, errors.Wrapf(err, "type 0x%x", uint32(ti))
	}
	info := &TypeInfo{
		Index:     t.Index,
		Kind:      t.Kind.String(),
		Name:      t.Name,
		Size:      t.Size,
		Signature: codeview.TypeName(p.tpi, ti),
	}
	if !t.Kind.IsUDT() {
		return info, nil
	}
	if src, ok := p.ipi.FindUDTSrcLine(t.Index); ok {
		info.Line = src.Line
		if f, err := codeview.Normalize(p.ipi, src.SourceFile); err == nil {
			info.File = f.Name
		}
	}
	if t.FieldList == 0 {
		return info, nil
	}
	it := codeview.Members(p.tpi, t.FieldList)
	for it.Next() {
		m := it.Member()
		mi := Member{Kind: m.Kind.String(), Name: m.Name}
		switch m.Kind {
		case codeview.MemberEnumerate:
			mi.Value = m.Value.Int64()
		case codeview.MemberOverloads:
		default:
			mi.TypeName = codeview.TypeName(p.tpi, m.Type)
			if m.Offset > 0 {
				mi.Offset = uint64(m.Offset)
			}
		}
		info.Members = append(info.Members, mi)
	}
	if err := it.Err(); err != nil {
		return info, errors.Wrapf(err, "members of type 0x%x", uint32(ti))
	}
	return info, nil
}

// TypeName renders a TPI type index as a C declaration fragment.
func (p *PDB) TypeName(ti codeview.TypeIndex) string {
	return codeview.TypeName(p.tpi, ti)
}

// FindType resolves a type by name.
func (p *PDB) FindType(name string) (*TypeInfo, bool) {
	ti, ok := p.tpi.FindByName(name)
	if !ok {
		return nil, false
	}
	info, err := p.TypeInfo(ti)
	if err != nil {
		return nil, false
	}
	return info, true
}

// TypeIterator walks the named aggregate and enum definitions of the TPI
// stream, skipping forward declarations.
type TypeIterator struct {
	p       *PDB
	ti      codeview.TypeIndex
	cur     codeview.TypeIndex
	skipped int
}

// Types iterates the named type definitions.
func (p *PDB) Types() *TypeIterator {
	return &TypeIterator{p: p, ti: p.tpi.TILo()}
}

// Next advances to the next definition.
func (it *TypeIterator) Next() bool {
	for ; it.ti < it.p.tpi.TIHi(); it.ti++ {
		rec, ok := it.p.tpi.FindByIndex(it.ti)
		if !ok {
			it.skipped++
			continue
		}
		name, fwd, ok := codeview.UDTName(rec)
		if !ok || fwd || name == "" {
			continue
		}
		it.cur = it.ti
		it.ti++
		return true
	}
	return false
}

// Index returns the current type index.
func (it *TypeIterator) Index() codeview.TypeIndex { return it.cur }

// Type resolves the current definition.
func (it *TypeIterator) Type() (*TypeInfo, error) { return it.p.TypeInfo(it.cur) }

// Skipped counts indices that could not be read.
func (it *TypeIterator) Skipped() int { return it.skipped }
