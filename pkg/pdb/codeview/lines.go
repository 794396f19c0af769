package codeview

import (
	"github.com/jtang613/gosyms/pkg/bytestream"
	"github.com/pkg/errors"
)

// C13 debug subsection kinds.
const (
	DebugSSymbols           = 0xf1
	DebugSLines             = 0xf2
	DebugSStringTable       = 0xf3
	DebugSFileChecksums     = 0xf4
	DebugSFrameData         = 0xf5
	DebugSInlineeLines      = 0xf6
	DebugSCrossScopeImports = 0xf7
	DebugSCrossScopeExports = 0xf8
	DebugSILLines           = 0xf9
	DebugSFuncMDTokenMap    = 0xfa
	DebugSTypeMDTokenMap    = 0xfb
	DebugSMergedAssemblyIn  = 0xfc
	DebugSCOFFSymbolRVA     = 0xfd

	// DebugSIgnore marks a subsection a reader must skip.
	DebugSIgnore = 0x80000000
)

// Checksum kinds of DEBUG_S_FILECHKSMS entries.
const (
	ChecksumNone   = 0
	ChecksumMD5    = 1
	ChecksumSHA1   = 2
	ChecksumSHA256 = 3
)

// Inlinee lines signatures.
const (
	InlineeSourceLine   = 0x0
	InlineeSourceLineEx = 0x1
)

const (
	linesHaveColumns = 0x1

	lineNumberMask = 0x00ffffff
	lineDeltaShift = 24
	lineDeltaMask  = 0x7f
	lineStatement  = 0x80000000
)

// Subsection is one C13 debug subsection of a module stream.
type Subsection struct {
	Kind uint32
	Data []byte
}

// SubsectionIterator walks the C13 lines region of a module stream.
type SubsectionIterator struct {
	s   bytestream.Stream
	cur Subsection
	err error
}

// NewSubsectionIterator iterates the C13 subsections in b.
func NewSubsectionIterator(b []byte) *SubsectionIterator {
	return &SubsectionIterator{s: bytestream.NewBuffer(b)}
}

// Next advances to the next subsection, skipping ignored ones.
func (it *SubsectionIterator) Next() bool {
	for it.err == nil && it.s.Remaining() >= 8 {
		kind, _ := it.s.ReadU32()
		size, _ := it.s.ReadU32()
		data, err := it.s.ReadBytes(int(size))
		if err != nil {
			it.err = errors.Wrapf(err, "subsection 0x%x of %d bytes", kind, size)
			return false
		}
		alignOrEnd(&it.s)
		if kind&DebugSIgnore != 0 {
			continue
		}
		it.cur = Subsection{Kind: kind, Data: data}
		return true
	}
	return false
}

// Subsection returns the current subsection.
func (it *SubsectionIterator) Subsection() Subsection { return it.cur }

// Err returns the error that stopped iteration, if any.
func (it *SubsectionIterator) Err() error { return it.err }

// LineEntry is one row of a line block. Offset is relative to the start of
// the owning LineBlocks contribution.
type LineEntry struct {
	Offset      uint32
	Line        uint32
	LineEnd     uint32
	IsStatement bool
	ColumnStart uint16
	ColumnEnd   uint16
}

// LineFileBlock groups the lines of one source file. ChecksumOffset
// addresses the DEBUG_S_FILECHKSMS entry of the file.
type LineFileBlock struct {
	ChecksumOffset uint32
	Lines          []LineEntry
}

// LineBlocks is a decoded DEBUG_S_LINES subsection covering one code
// contribution.
type LineBlocks struct {
	Offset  uint32
	Section uint16
	Flags   uint16
	Length  uint32
	Files   []LineFileBlock
}

// ParseLines decodes a DEBUG_S_LINES subsection.
func ParseLines(b []byte) (LineBlocks, error) {
	s := bytestream.NewBuffer(b)
	var lb LineBlocks
	var err error
	if lb.Offset, err = s.ReadU32(); err != nil {
		return lb, errors.Wrap(err, "lines header")
	}
	lb.Section, _ = s.ReadU16()
	lb.Flags, _ = s.ReadU16()
	if lb.Length, err = s.ReadU32(); err != nil {
		return lb, errors.Wrap(err, "lines header")
	}

	for s.Remaining() >= 12 {
		blockStart := s.Offset()
		var f LineFileBlock
		f.ChecksumOffset, _ = s.ReadU32()
		n, _ := s.ReadU32()
		size, _ := s.ReadU32()
		if size < 12 || int64(size) > s.Len()-blockStart {
			return lb, errors.Wrapf(ErrMalformedRecord, "line block at %d: size %d", blockStart, size)
		}
		need := int64(n) * 8
		if lb.Flags&linesHaveColumns != 0 {
			need += int64(n) * 4
		}
		if need > int64(size)-12 {
			return lb, errors.Wrapf(ErrMalformedRecord, "line block at %d: %d lines in %d bytes", blockStart, n, size)
		}
		f.Lines = make([]LineEntry, n)
		for i := range f.Lines {
			off, _ := s.ReadU32()
			bits, _ := s.ReadU32()
			line := bits & lineNumberMask
			f.Lines[i] = LineEntry{
				Offset:      off,
				Line:        line,
				LineEnd:     line + (bits>>lineDeltaShift)&lineDeltaMask,
				IsStatement: bits&lineStatement != 0,
			}
		}
		if lb.Flags&linesHaveColumns != 0 {
			for i := range f.Lines {
				f.Lines[i].ColumnStart, _ = s.ReadU16()
				f.Lines[i].ColumnEnd, _ = s.ReadU16()
			}
		}
		lb.Files = append(lb.Files, f)
		if err := s.Seek(blockStart + int64(size)); err != nil {
			return lb, err
		}
	}
	return lb, nil
}

// FileChecksum is one DEBUG_S_FILECHKSMS entry. Offset is the entry's
// position in the subsection, which is how line blocks refer to it.
type FileChecksum struct {
	Offset     uint32
	NameOffset uint32
	Kind       uint8
	Checksum   []byte
}

// ParseFileChecksums decodes a DEBUG_S_FILECHKSMS subsection.
func ParseFileChecksums(b []byte) ([]FileChecksum, error) {
	s := bytestream.NewBuffer(b)
	var out []FileChecksum
	for s.Remaining() >= 6 {
		fc := FileChecksum{Offset: uint32(s.Offset())}
		fc.NameOffset, _ = s.ReadU32()
		n, _ := s.ReadU8()
		fc.Kind, _ = s.ReadU8()
		sum, err := s.ReadBytes(int(n))
		if err != nil {
			return out, errors.Wrapf(err, "checksum entry at %d", fc.Offset)
		}
		fc.Checksum = sum
		out = append(out, fc)
		alignOrEnd(&s)
	}
	return out, nil
}

// InlineeLine gives the declaring position of an inlined function.
type InlineeLine struct {
	Inlinee        TypeIndex
	ChecksumOffset uint32
	Line           uint32
	ExtraFiles     []uint32
}

// ParseInlineeLines decodes a DEBUG_S_INLINEELINES subsection in either
// signature.
func ParseInlineeLines(b []byte) ([]InlineeLine, error) {
	s := bytestream.NewBuffer(b)
	sig, err := s.ReadU32()
	if err != nil {
		return nil, errors.Wrap(err, "inlinee lines signature")
	}
	if sig != InlineeSourceLine && sig != InlineeSourceLineEx {
		return nil, errors.Wrapf(ErrMalformedRecord, "inlinee lines signature %d", sig)
	}
	var out []InlineeLine
	for s.Remaining() >= 12 {
		var il InlineeLine
		ti, _ := s.ReadU32()
		il.Inlinee = TypeIndex(ti)
		il.ChecksumOffset, _ = s.ReadU32()
		il.Line, _ = s.ReadU32()
		if sig == InlineeSourceLineEx {
			n, err := s.ReadU32()
			if err != nil {
				return out, errors.Wrap(err, "inlinee extra file count")
			}
			if int64(n)*4 > s.Remaining() {
				return out, errors.Wrapf(ErrMalformedRecord, "inlinee 0x%x: %d extra files", ti, n)
			}
			il.ExtraFiles = make([]uint32, n)
			for i := range il.ExtraFiles {
				il.ExtraFiles[i], _ = s.ReadU32()
			}
		}
		out = append(out, il)
	}
	return out, nil
}

// C11Line is one (offset, line) pair of a C11 line table. Offset is
// section-relative.
type C11Line struct {
	Offset uint32
	Line   uint16
}

// C11Segment is a run of lines for one section.
type C11Segment struct {
	Section uint16
	Start   uint32
	End     uint32
	Lines   []C11Line
}

// C11File is the line information of one source file.
type C11File struct {
	Name     string
	Segments []C11Segment
}

// ParseC11Lines decodes the C11 line region of a module stream. Files
// written before VC 7.0 store names with a one-byte length prefix rather
// than a terminator; pstringNames selects that form.
func ParseC11Lines(b []byte, pstringNames bool) ([]C11File, error) {
	s := bytestream.NewBuffer(b)
	fileCount, err := s.ReadU16()
	if err != nil {
		return nil, errors.Wrap(err, "c11 header")
	}
	rangeCount, err := s.ReadU16()
	if err != nil {
		return nil, errors.Wrap(err, "c11 header")
	}
	if err := s.Skip(int64(fileCount)*4 + int64(rangeCount)*10); err != nil {
		return nil, errors.Wrap(err, "c11 file and range tables")
	}
	if err := s.Align(4); err != nil {
		return nil, errors.Wrap(err, "c11 header")
	}

	out := make([]C11File, 0, fileCount)
	for i := 0; i < int(fileCount); i++ {
		segCount, err := s.ReadU16()
		if err != nil {
			return out, errors.Wrapf(err, "c11 file %d", i)
		}
		s.Skip(2)
		if err := s.Skip(int64(segCount) * 4); err != nil {
			return out, errors.Wrapf(err, "c11 file %d", i)
		}
		ranges, err := s.ReadBytes(int(segCount) * 8)
		if err != nil {
			return out, errors.Wrapf(err, "c11 file %d ranges", i)
		}
		var f C11File
		if pstringNames {
			f.Name, err = s.ReadPString8()
		} else {
			f.Name, err = s.ReadCString()
		}
		if err != nil {
			return out, errors.Wrapf(err, "c11 file %d name", i)
		}
		alignOrEnd(&s)

		rs := bytestream.NewBuffer(ranges)
		for j := 0; j < int(segCount); j++ {
			var seg C11Segment
			seg.Section, _ = s.ReadU16()
			pairs, err := s.ReadU16()
			if err != nil {
				return out, errors.Wrapf(err, "c11 file %d segment %d", i, j)
			}
			seg.Start, _ = rs.ReadU32()
			seg.End, _ = rs.ReadU32()
			offs, err := s.ReadBytes(int(pairs) * 4)
			if err != nil {
				return out, errors.Wrapf(err, "c11 file %d segment %d offsets", i, j)
			}
			lines, err := s.ReadBytes(int(pairs) * 2)
			if err != nil {
				return out, errors.Wrapf(err, "c11 file %d segment %d lines", i, j)
			}
			or, lr := bytestream.NewBuffer(offs), bytestream.NewBuffer(lines)
			seg.Lines = make([]C11Line, pairs)
			for k := range seg.Lines {
				seg.Lines[k].Offset, _ = or.ReadU32()
				seg.Lines[k].Line, _ = lr.ReadU16()
			}
			alignOrEnd(&s)
			f.Segments = append(f.Segments, seg)
		}
		out = append(out, f)
	}
	return out, nil
}

// alignOrEnd moves s to the next 4-byte boundary, or to its end when the
// padding is cut short.
func alignOrEnd(s *bytestream.Stream) {
	if err := s.Align(4); err != nil {
		s.Seek(s.Len())
	}
}
