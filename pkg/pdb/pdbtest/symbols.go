package pdbtest

import (
	"encoding/binary"

	"github.com/jtang613/gosyms/pkg/pdb/codeview"
)

// SymbolWriter builds a symbol substream. Scope records get their parent
// and end pointers patched when End closes them.
type SymbolWriter struct {
	Writer
	base uint32
	open []int
}

// NewSymbolWriter returns a writer whose first record sits at stream
// offset base.
func NewSymbolWriter(base uint32) *SymbolWriter {
	return &SymbolWriter{base: base}
}

// Offset returns the stream offset of the next record.
func (w *SymbolWriter) Offset() uint32 { return w.base + uint32(w.Len()) }

// Add appends a record padded to 4 bytes and returns its offset.
func (w *SymbolWriter) Add(kind uint16, payload []byte) uint32 {
	off := w.Offset()
	rec := &Writer{}
	rec.U16(0).U16(kind).Bytes(payload).Align(4)
	binary.LittleEndian.PutUint16(rec.B, uint16(rec.Len()-2))
	w.Bytes(rec.B)
	return off
}

func (w *SymbolWriter) parent() uint32 {
	if len(w.open) == 0 {
		return 0
	}
	return w.base + uint32(w.open[len(w.open)-1])
}

func (w *SymbolWriter) openScope(kind uint16, payload []byte) uint32 {
	binary.LittleEndian.PutUint32(payload, w.parent())
	off := w.Add(kind, payload)
	w.open = append(w.open, int(off-w.base))
	return off
}

// Proc opens an S_GPROC32 (or S_LPROC32 when local) scope.
func (w *SymbolWriter) Proc(name string, local bool, sec uint16, off, length uint32, ti codeview.TypeIndex, flags uint8) uint32 {
	kind := uint16(codeview.S_GPROC32)
	if local {
		kind = codeview.S_LPROC32
	}
	p := &Writer{}
	p.U32(0).U32(0).U32(0).U32(length).U32(0).U32(length).TI(ti).U32(off).U16(sec).U8(flags).Str(name)
	return w.openScope(kind, p.B)
}

// ProcID opens an S_GPROC32_ID scope whose type index is an IPI id.
func (w *SymbolWriter) ProcID(name string, sec uint16, off, length uint32, id codeview.TypeIndex) uint32 {
	p := &Writer{}
	p.U32(0).U32(0).U32(0).U32(length).U32(0).U32(length).TI(id).U32(off).U16(sec).U8(0).Str(name)
	return w.openScope(codeview.S_GPROC32_ID, p.B)
}

// Block opens an S_BLOCK32 scope.
func (w *SymbolWriter) Block(sec uint16, off, length uint32) uint32 {
	p := &Writer{}
	p.U32(0).U32(0).U32(length).U32(off).U16(sec).Str("")
	return w.openScope(codeview.S_BLOCK32, p.B)
}

// InlineSite opens an S_INLINESITE scope.
func (w *SymbolWriter) InlineSite(inlinee codeview.TypeIndex, annotations []byte) uint32 {
	p := &Writer{}
	p.U32(0).U32(0).TI(inlinee).Bytes(annotations)
	return w.openScope(codeview.S_INLINESITE, p.B)
}

// End closes the innermost scope with the matching end record.
func (w *SymbolWriter) End() uint32 {
	start := w.open[len(w.open)-1]
	w.open = w.open[:len(w.open)-1]
	kind := binary.LittleEndian.Uint16(w.B[start+2:])
	endKind := uint16(codeview.S_END)
	switch kind {
	case codeview.S_INLINESITE, codeview.S_INLINESITE2:
		endKind = codeview.S_INLINESITE_END
	case codeview.S_GPROC32_ID, codeview.S_LPROC32_ID:
		endKind = codeview.S_PROC_ID_END
	}
	off := w.Add(endKind, nil)
	binary.LittleEndian.PutUint32(w.B[start+8:], off)
	return off
}

// FrameProc appends an S_FRAMEPROC.
func (w *SymbolWriter) FrameProc(frameSize uint32, flags uint32) uint32 {
	p := &Writer{}
	return w.Add(codeview.S_FRAMEPROC, p.U32(frameSize).U32(0).U32(0).U32(0).U32(0).U16(0).U32(flags).B)
}

// RegRel appends an S_REGREL32.
func (w *SymbolWriter) RegRel(name string, reg uint16, off int32, ti codeview.TypeIndex) uint32 {
	p := &Writer{}
	return w.Add(codeview.S_REGREL32, p.U32(uint32(off)).TI(ti).U16(reg).Str(name).B)
}

// BPRel appends an S_BPREL32.
func (w *SymbolWriter) BPRel(name string, off int32, ti codeview.TypeIndex) uint32 {
	p := &Writer{}
	return w.Add(codeview.S_BPREL32, p.U32(uint32(off)).TI(ti).Str(name).B)
}

// Register appends an S_REGISTER.
func (w *SymbolWriter) Register(name string, reg uint16, ti codeview.TypeIndex) uint32 {
	p := &Writer{}
	return w.Add(codeview.S_REGISTER, p.TI(ti).U16(reg).Str(name).B)
}

// Local appends an S_LOCAL; defrange records follow it.
func (w *SymbolWriter) Local(name string, ti codeview.TypeIndex, flags uint16) uint32 {
	p := &Writer{}
	return w.Add(codeview.S_LOCAL, p.TI(ti).U16(flags).Str(name).B)
}

// DefRangeRegister appends an S_DEFRANGE_REGISTER.
func (w *SymbolWriter) DefRangeRegister(reg uint16, rng codeview.AddrRange, gaps ...codeview.AddrGap) uint32 {
	p := &Writer{}
	p.U16(reg).U16(0)
	return w.Add(codeview.S_DEFRANGE_REGISTER, appendRange(p, rng, gaps).B)
}

// DefRangeRegisterRel appends an S_DEFRANGE_REGISTER_REL.
func (w *SymbolWriter) DefRangeRegisterRel(reg uint16, off int32, rng codeview.AddrRange, gaps ...codeview.AddrGap) uint32 {
	p := &Writer{}
	p.U16(reg).U16(0).U32(uint32(off))
	return w.Add(codeview.S_DEFRANGE_REGISTER_REL, appendRange(p, rng, gaps).B)
}

// DefRangeFramePointerRel appends an S_DEFRANGE_FRAMEPOINTER_REL.
func (w *SymbolWriter) DefRangeFramePointerRel(off int32, rng codeview.AddrRange, gaps ...codeview.AddrGap) uint32 {
	p := &Writer{}
	p.U32(uint32(off))
	return w.Add(codeview.S_DEFRANGE_FRAMEPOINTER_REL, appendRange(p, rng, gaps).B)
}

// DefRangeFullScope appends an S_DEFRANGE_FRAMEPOINTER_REL_FULL_SCOPE.
func (w *SymbolWriter) DefRangeFullScope(off int32) uint32 {
	p := &Writer{}
	return w.Add(codeview.S_DEFRANGE_FRAMEPOINTER_REL_FULL_SCOPE, p.U32(uint32(off)).B)
}

func appendRange(p *Writer, rng codeview.AddrRange, gaps []codeview.AddrGap) *Writer {
	p.U32(rng.Offset).U16(rng.Section).U16(rng.Length)
	for _, g := range gaps {
		p.U16(g.Start).U16(g.Length)
	}
	return p
}

// Data appends an S_GDATA32 or S_LDATA32.
func (w *SymbolWriter) Data(name string, global bool, sec uint16, off uint32, ti codeview.TypeIndex) uint32 {
	kind := uint16(codeview.S_LDATA32)
	if global {
		kind = codeview.S_GDATA32
	}
	p := &Writer{}
	return w.Add(kind, p.TI(ti).U32(off).U16(sec).Str(name).B)
}

// Pub appends an S_PUB32.
func (w *SymbolWriter) Pub(name string, flags uint32, sec uint16, off uint32) uint32 {
	p := &Writer{}
	return w.Add(codeview.S_PUB32, p.U32(flags).U32(off).U16(sec).Str(name).B)
}

// UDT appends an S_UDT.
func (w *SymbolWriter) UDT(name string, ti codeview.TypeIndex) uint32 {
	p := &Writer{}
	return w.Add(codeview.S_UDT, p.TI(ti).Str(name).B)
}

// Constant appends an S_CONSTANT.
func (w *SymbolWriter) Constant(name string, ti codeview.TypeIndex, value int64) uint32 {
	p := &Writer{}
	return w.Add(codeview.S_CONSTANT, p.TI(ti).SignedNumeric(value).Str(name).B)
}

// ProcRef appends an S_PROCREF or S_LPROCREF; module is one-based.
func (w *SymbolWriter) ProcRef(name string, local bool, symOff uint32, module uint16) uint32 {
	kind := uint16(codeview.S_PROCREF)
	if local {
		kind = codeview.S_LPROCREF
	}
	p := &Writer{}
	return w.Add(kind, p.U32(0).U32(symOff).U16(module).Str(name).B)
}

// ObjName appends an S_OBJNAME.
func (w *SymbolWriter) ObjName(name string) uint32 {
	p := &Writer{}
	return w.Add(codeview.S_OBJNAME, p.U32(0).Str(name).B)
}

// Subsection frames one C13 debug subsection.
func Subsection(kind uint32, data []byte) []byte {
	w := &Writer{}
	w.U32(kind).U32(uint32(len(data))).Bytes(data).Align(4)
	return w.B
}

// Checksum is one FILECHKSMS entry to encode.
type Checksum struct {
	NameOffset uint32
	Kind       uint8
	Bytes      []byte
}

// FileChecksumsData encodes a FILECHKSMS payload and returns the offset of
// each entry within it.
func FileChecksumsData(files ...Checksum) ([]byte, []uint32) {
	w := &Writer{}
	offs := make([]uint32, len(files))
	for i, f := range files {
		offs[i] = uint32(w.Len())
		w.U32(f.NameOffset).U8(uint8(len(f.Bytes))).U8(f.Kind).Bytes(f.Bytes).Align(4)
	}
	return w.B, offs
}

// Line is one line entry to encode.
type Line struct {
	Offset      uint32
	Line        uint32
	IsStatement bool
	Columns     [2]uint16
}

// LineFile is one file block of a LINES subsection.
type LineFile struct {
	ChecksumOffset uint32
	Lines          []Line
}

// LinesData encodes a LINES payload covering [off, off+length) of sec.
func LinesData(sec uint16, off, length uint32, columns bool, files ...LineFile) []byte {
	w := &Writer{}
	flags := uint16(0)
	if columns {
		flags = 1
	}
	w.U32(off).U16(sec).U16(flags).U32(length)
	for _, f := range files {
		size := 12 + 8*len(f.Lines)
		if columns {
			size += 4 * len(f.Lines)
		}
		w.U32(f.ChecksumOffset).U32(uint32(len(f.Lines))).U32(uint32(size))
		for _, l := range f.Lines {
			packed := l.Line & 0xffffff
			if l.IsStatement {
				packed |= 1 << 31
			}
			w.U32(l.Offset).U32(packed)
		}
		if columns {
			for _, l := range f.Lines {
				w.U16(l.Columns[0]).U16(l.Columns[1])
			}
		}
	}
	return w.B
}

// Inlinee is one INLINEELINES entry.
type Inlinee struct {
	ID             codeview.TypeIndex
	ChecksumOffset uint32
	Line           uint32
}

// InlineeLinesData encodes a signature 0 INLINEELINES payload.
func InlineeLinesData(entries ...Inlinee) []byte {
	w := &Writer{}
	w.U32(codeview.InlineeSourceLine)
	for _, e := range entries {
		w.TI(e.ID).U32(e.ChecksumOffset).U32(e.Line)
	}
	return w.B
}

// ModuleStream assembles a module stream from a symbol writer created at
// base 4, optional C11 line bytes and C13 subsections.
func ModuleStream(syms *SymbolWriter, c11 []byte, c13 ...[]byte) (data []byte, symBytes, c11Bytes, c13Bytes uint32) {
	w := &Writer{}
	w.U32(codeview.CVSignatureC13).Bytes(syms.B)
	symBytes = uint32(w.Len())
	w.Bytes(c11)
	c11Bytes = uint32(len(c11))
	for _, s := range c13 {
		w.Bytes(s)
		c13Bytes += uint32(len(s))
	}
	w.U32(0)
	return w.B, symBytes, c11Bytes, c13Bytes
}

// C11File is one file of a C11 line table.
type C11File struct {
	Name     string
	Segments []C11Segment
}

// C11Segment is one segment block of a C11 file.
type C11Segment struct {
	Section    uint16
	Start, End uint32
	Offsets    []uint32
	Lines      []uint16
}

// C11Data encodes a C11 line table with NUL-terminated names.
func C11Data(files ...C11File) []byte {
	w := &Writer{}
	w.U16(uint16(len(files))).U16(0)
	for range files {
		w.U32(0)
	}
	w.Align(4)
	for _, f := range files {
		w.U16(uint16(len(f.Segments))).U16(0)
		for range f.Segments {
			w.U32(0)
		}
		for _, s := range f.Segments {
			w.U32(s.Start).U32(s.End)
		}
		w.Str(f.Name).Align(4)
		for _, s := range f.Segments {
			w.U16(s.Section).U16(uint16(len(s.Offsets)))
			for _, o := range s.Offsets {
				w.U32(o)
			}
			for _, l := range s.Lines {
				w.U16(l)
			}
			w.Align(4)
		}
	}
	return w.B
}
