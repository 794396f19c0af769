package codeview_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/gosyms/pkg/pdb/codeview"
	"github.com/jtang613/gosyms/pkg/pdb/pdbtest"
)

func collect(t *testing.T, data []byte, base uint32) []codeview.SymbolRecord {
	it := codeview.NewSymbolIterator(data, base)
	var out []codeview.SymbolRecord
	for it.Next() {
		out = append(out, it.Record())
	}
	require.NoError(t, it.Err())
	return out
}

func TestSymbolScopesArePatched(t *testing.T) {
	w := pdbtest.NewSymbolWriter(4)
	proc := w.Proc("main", false, 1, 0x100, 0x40, 0x1002, codeview.ProcNoFPO)
	w.FrameProc(0x28, codeview.FrameHasEH)
	block := w.Block(1, 0x110, 0x10)
	w.RegRel("i", 0x14f, 8, codeview.T_INT4)
	blockEnd := w.End()
	procEnd := w.End()

	recs := collect(t, w.B, 4)
	require.Len(t, recs, 6)
	assert.Equal(t, proc, recs[0].Offset)

	p, err := codeview.ParseProcSym(recs[0])
	require.NoError(t, err)
	assert.Equal(t, "main", p.Name)
	assert.Equal(t, procEnd, p.End)
	assert.Zero(t, p.Parent)
	assert.Equal(t, uint32(0x100), p.Offset)
	assert.Equal(t, uint32(0x40), p.Length)
	assert.Equal(t, uint16(1), p.Segment)
	assert.Equal(t, uint8(codeview.ProcNoFPO), p.Flags)

	f, err := codeview.ParseFrameProcSym(recs[1])
	require.NoError(t, err)
	assert.Equal(t, uint32(0x28), f.FrameSize)
	assert.Equal(t, uint32(codeview.FrameHasEH), f.Flags)

	b, err := codeview.ParseBlockSym(recs[2])
	require.NoError(t, err)
	assert.Equal(t, block, recs[2].Offset)
	assert.Equal(t, proc, b.Parent)
	assert.Equal(t, blockEnd, b.End)

	r, err := codeview.ParseRegRelSym(recs[3])
	require.NoError(t, err)
	assert.Equal(t, int32(8), r.Offset)
	assert.Equal(t, uint16(0x14f), r.Register)

	assert.True(t, codeview.ClosesScope(recs[4].Kind))
	assert.True(t, codeview.ClosesScope(recs[5].Kind))
	assert.Equal(t, recs[5].End(), 4+uint32(len(w.B)))
}

func TestSymbolIteratorSeek(t *testing.T) {
	w := pdbtest.NewSymbolWriter(0)
	w.UDT("a", codeview.T_INT4)
	second := w.UDT("b", codeview.T_INT4)

	it := codeview.NewSymbolIterator(w.B, 0)
	require.NoError(t, it.Seek(second))
	require.True(t, it.Next())
	u, err := codeview.ParseUDTSym(it.Record())
	require.NoError(t, err)
	assert.Equal(t, "b", u.Name)
	assert.False(t, it.Next())

	assert.Error(t, it.Seek(uint32(len(w.B)+4)))
}

func TestSymbolIteratorRejectsOverrun(t *testing.T) {
	it := codeview.NewSymbolIterator([]byte{0x40, 0x00, 0x08, 0x11, 0, 0}, 0)
	assert.False(t, it.Next())
	assert.True(t, errors.Is(it.Err(), codeview.ErrMalformedRecord))
}

func TestParseDefRanges(t *testing.T) {
	rng := codeview.AddrRange{Offset: 0x120, Section: 1, Length: 0x20}
	gap := codeview.AddrGap{Start: 4, Length: 2}
	w := pdbtest.NewSymbolWriter(0)
	w.Local("x", codeview.T_INT4, codeview.LocalIsParam)
	w.DefRangeRegister(17, rng, gap)
	w.DefRangeRegisterRel(335, -16, rng)
	w.DefRangeFramePointerRel(24, rng)
	w.DefRangeFullScope(-8)
	recs := collect(t, w.B, 0)
	require.Len(t, recs, 5)

	l, err := codeview.ParseLocalSym(recs[0])
	require.NoError(t, err)
	assert.Equal(t, "x", l.Name)
	assert.Equal(t, uint16(codeview.LocalIsParam), l.Flags)

	d, err := codeview.ParseDefRangeSym(recs[1])
	require.NoError(t, err)
	assert.Equal(t, uint16(17), d.Register)
	assert.Equal(t, rng, d.Range)
	assert.Equal(t, []codeview.AddrGap{gap}, d.Gaps)

	d, err = codeview.ParseDefRangeSym(recs[2])
	require.NoError(t, err)
	assert.Equal(t, uint16(335), d.Register)
	assert.Equal(t, int32(-16), d.Offset)
	assert.Empty(t, d.Gaps)

	d, err = codeview.ParseDefRangeSym(recs[3])
	require.NoError(t, err)
	assert.Equal(t, int32(24), d.Offset)
	assert.False(t, d.FullScope)

	d, err = codeview.ParseDefRangeSym(recs[4])
	require.NoError(t, err)
	assert.True(t, d.FullScope)
	assert.Equal(t, int32(-8), d.Offset)

	_, err = codeview.ParseDefRangeSym(recs[0])
	assert.True(t, errors.Is(err, codeview.ErrUnsupportedRecordKind))
}

func TestParseGlobalSymbols(t *testing.T) {
	w := pdbtest.NewSymbolWriter(0)
	w.Data("g_count", true, 2, 0x40, codeview.T_INT4)
	w.Pub("?run@@YAXXZ", 2, 1, 0x100)
	w.Constant("kMinusOne", codeview.T_INT4, -1)
	w.ProcRef("run", false, 0x40, 3)
	recs := collect(t, w.B, 0)
	require.Len(t, recs, 4)

	d, err := codeview.ParseDataSym(recs[0])
	require.NoError(t, err)
	assert.Equal(t, "g_count", d.Name)
	assert.Equal(t, uint16(2), d.Segment)
	assert.True(t, codeview.IsDataSymbol(recs[0].Kind))
	assert.True(t, codeview.IsGlobalSymbol(recs[0].Kind))

	p, err := codeview.ParsePubSym(recs[1])
	require.NoError(t, err)
	assert.Equal(t, "?run@@YAXXZ", p.Name)
	assert.Equal(t, uint32(0x100), p.Offset)

	c, err := codeview.ParseConstantSym(recs[2])
	require.NoError(t, err)
	assert.Equal(t, int64(-1), c.Value.Int64())
	assert.Equal(t, "kMinusOne", c.Name)

	r, err := codeview.ParseProcRefSym(recs[3])
	require.NoError(t, err)
	assert.Equal(t, uint16(3), r.Module)
	assert.Equal(t, uint32(0x40), r.SymOffset)
}

func TestParseInlineSite(t *testing.T) {
	prog := []byte{codeview.BACodeOffset, 0x04, codeview.BAChangeCodeLength, 0x08}
	w := pdbtest.NewSymbolWriter(4)
	proc := w.Proc("outer", false, 1, 0, 0x40, 0, 0)
	site := w.InlineSite(0x1003, prog)
	w.End()
	w.End()
	recs := collect(t, w.B, 4)
	require.Len(t, recs, 4)

	s, err := codeview.ParseInlineSiteSym(recs[1])
	require.NoError(t, err)
	assert.Equal(t, site, recs[1].Offset)
	assert.Equal(t, proc, s.Parent)
	assert.Equal(t, recs[2].Offset, s.End)
	assert.Equal(t, codeview.TypeIndex(0x1003), s.Inlinee)
	assert.Equal(t, uint16(codeview.S_INLINESITE_END), recs[2].Kind)
	assert.True(t, codeview.OpensScope(recs[1].Kind))

	ranges, err := codeview.DecodeAnnotations(s.Annotations)
	require.NoError(t, err)
	assert.Equal(t, []codeview.AnnotationRange{{Offset: 4, Length: 8}}, ranges)
}
