package codeview_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/gosyms/pkg/pdb/codeview"
	"github.com/jtang613/gosyms/pkg/pdb/pdbtest"
)

func TestSubsectionIteratorSkipsIgnored(t *testing.T) {
	var region []byte
	region = append(region, pdbtest.Subsection(codeview.DebugSLines|codeview.DebugSIgnore, []byte{1, 2, 3})...)
	region = append(region, pdbtest.Subsection(codeview.DebugSFileChecksums, []byte{9, 9, 9, 9, 9})...)

	it := codeview.NewSubsectionIterator(region)
	require.True(t, it.Next())
	sub := it.Subsection()
	assert.Equal(t, uint32(codeview.DebugSFileChecksums), sub.Kind)
	assert.Equal(t, []byte{9, 9, 9, 9, 9}, sub.Data)
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
}

func TestParseLines(t *testing.T) {
	data := pdbtest.LinesData(1, 0x1000, 0x40, true,
		pdbtest.LineFile{ChecksumOffset: 0, Lines: []pdbtest.Line{
			{Offset: 0, Line: 10, IsStatement: true, Columns: [2]uint16{1, 5}},
			{Offset: 8, Line: 12, IsStatement: true, Columns: [2]uint16{3, 9}},
		}},
		pdbtest.LineFile{ChecksumOffset: 0x18, Lines: []pdbtest.Line{
			{Offset: 0x20, Line: 7},
		}},
	)
	lb, err := codeview.ParseLines(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1000), lb.Offset)
	assert.Equal(t, uint16(1), lb.Section)
	assert.Equal(t, uint32(0x40), lb.Length)
	require.Len(t, lb.Files, 2)

	f := lb.Files[0]
	require.Len(t, f.Lines, 2)
	assert.Equal(t, uint32(12), f.Lines[1].Line)
	assert.True(t, f.Lines[1].IsStatement)
	assert.Equal(t, uint16(3), f.Lines[1].ColumnStart)
	assert.Equal(t, uint16(9), f.Lines[1].ColumnEnd)

	f = lb.Files[1]
	assert.Equal(t, uint32(0x18), f.ChecksumOffset)
	require.Len(t, f.Lines, 1)
	assert.Equal(t, uint32(0x20), f.Lines[0].Offset)
	assert.False(t, f.Lines[0].IsStatement)
}

func TestParseLinesRejectsOverlongBlock(t *testing.T) {
	w := &pdbtest.Writer{}
	w.U32(0).U16(1).U16(0).U32(0x10)
	w.U32(0).U32(100).U32(20)
	_, err := codeview.ParseLines(w.B)
	assert.True(t, errors.Is(err, codeview.ErrMalformedRecord))
}

func TestParseFileChecksums(t *testing.T) {
	data, offs := pdbtest.FileChecksumsData(
		pdbtest.Checksum{NameOffset: 1, Kind: codeview.ChecksumMD5, Bytes: make([]byte, 16)},
		pdbtest.Checksum{NameOffset: 9},
		pdbtest.Checksum{NameOffset: 17, Kind: codeview.ChecksumSHA256, Bytes: make([]byte, 32)},
	)
	got, err := codeview.ParseFileChecksums(data)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, fc := range got {
		assert.Equal(t, offs[i], fc.Offset)
	}
	assert.Equal(t, []uint32{0, 24, 32}, offs)
	assert.Equal(t, uint32(9), got[1].NameOffset)
	assert.Len(t, got[2].Checksum, 32)
}

func TestParseInlineeLines(t *testing.T) {
	data := pdbtest.InlineeLinesData(
		pdbtest.Inlinee{ID: 0x1003, ChecksumOffset: 0x18, Line: 42},
		pdbtest.Inlinee{ID: 0x1005, ChecksumOffset: 0, Line: 7},
	)
	got, err := codeview.ParseInlineeLines(data)
	require.NoError(t, err)
	assert.Equal(t, []codeview.InlineeLine{
		{Inlinee: 0x1003, ChecksumOffset: 0x18, Line: 42},
		{Inlinee: 0x1005, ChecksumOffset: 0, Line: 7},
	}, got)

	w := &pdbtest.Writer{}
	w.U32(codeview.InlineeSourceLineEx).U32(0x1003).U32(0).U32(1).U32(2).U32(0x30).U32(0x48)
	got, err = codeview.ParseInlineeLines(w.B)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []uint32{0x30, 0x48}, got[0].ExtraFiles)

	_, err = codeview.ParseInlineeLines([]byte{7, 0, 0, 0})
	assert.True(t, errors.Is(err, codeview.ErrMalformedRecord))
}

func TestParseC11Lines(t *testing.T) {
	data := pdbtest.C11Data(
		pdbtest.C11File{Name: `c:\src\a.c`, Segments: []pdbtest.C11Segment{{
			Section: 1, Start: 0x10, End: 0x30,
			Offsets: []uint32{0x10, 0x18, 0x20},
			Lines:   []uint16{3, 4, 6},
		}}},
		pdbtest.C11File{Name: `c:\src\b.h`, Segments: []pdbtest.C11Segment{{
			Section: 1, Start: 0x40, End: 0x48,
			Offsets: []uint32{0x40},
			Lines:   []uint16{100},
		}}},
	)
	files, err := codeview.ParseC11Lines(data, false)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, `c:\src\a.c`, files[0].Name)
	seg := files[0].Segments[0]
	assert.Equal(t, uint32(0x10), seg.Start)
	assert.Equal(t, uint32(0x30), seg.End)
	assert.Equal(t, []codeview.C11Line{{Offset: 0x10, Line: 3}, {Offset: 0x18, Line: 4}, {Offset: 0x20, Line: 6}}, seg.Lines)
	assert.Equal(t, `c:\src\b.h`, files[1].Name)
	assert.Equal(t, uint16(100), files[1].Segments[0].Lines[0].Line)
}
