package pdb

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/jtang613/gosyms/pkg/pdb/codeview"
	"github.com/jtang613/gosyms/pkg/regs"
	"github.com/jtang613/gosyms/pkg/unwind"
)

var (
	// ErrOptimizedOut is returned when decoding a variable that has no
	// location.
	ErrOptimizedOut = errors.New("pdb: variable optimized out")
	// ErrNotInMemory is returned for the address of a variable held in a
	// register or in its debug record.
	ErrNotInMemory = errors.New("pdb: variable has no memory address")
	// ErrThreadLocal is returned for the address of thread-local storage,
	// which depends on the thread's TLS block.
	ErrThreadLocal = errors.New("pdb: thread-local variable")
)

// LocationKind tells how a variable's storage is found.
type LocationKind uint8

// Location kinds.
const (
	LocationNull LocationKind = iota
	LocationRegister
	LocationRegisterRelative
	LocationFrameRelative
	LocationRVA
	LocationTLS
	LocationImplicit
)

func (k LocationKind) String() string {
	switch k {
	case LocationNull:
		return "null"
	case LocationRegister:
		return "register"
	case LocationRegisterRelative:
		return "regrel"
	case LocationFrameRelative:
		return "framerel"
	case LocationRVA:
		return "rva"
	case LocationTLS:
		return "tls"
	case LocationImplicit:
		return "implicit"
	}
	return "unknown"
}

// Location is an encoded variable location. Register is the base register
// of relative forms and the holding register of LocationRegister; frame
// relative locations carry the procedure's resolved frame register.
// Piece is the byte offset within the variable for locations describing
// part of it.
type Location struct {
	Kind     LocationKind `json:"kind"`
	Register regs.ID      `json:"register,omitempty"`
	Offset   int64        `json:"offset,omitempty"`
	RVA      uint32       `json:"rva,omitempty"`
	Piece    uint32       `json:"piece,omitempty"`
	Implicit []byte       `json:"implicit,omitempty"`
}

// Address computes where the variable lives in memory. rebase is the
// load address of the image.
func (l Location) Address(rebase uint64, rs unwind.Registers) (uint64, error) {
	switch l.Kind {
	case LocationRegisterRelative, LocationFrameRelative:
		base, err := rs.ReadRegister(l.Register)
		if err != nil {
			return 0, err
		}
		return base + uint64(l.Offset), nil
	case LocationRVA:
		return rebase + uint64(l.RVA), nil
	case LocationTLS:
		return 0, errors.Wrapf(ErrThreadLocal, "tls offset 0x%x", l.RVA)
	case LocationNull:
		return 0, ErrOptimizedOut
	}
	return 0, ErrNotInMemory
}

// Decode reads size bytes of the variable's value.
func (l Location) Decode(rebase uint64, rs unwind.Registers, mem unwind.Memory, size int) ([]byte, error) {
	switch l.Kind {
	case LocationImplicit:
		out := make([]byte, size)
		copy(out, l.Implicit)
		return out, nil
	case LocationRegister:
		v, err := rs.ReadRegister(l.Register)
		if err != nil {
			return nil, err
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		out := make([]byte, size)
		copy(out, b[:])
		return out, nil
	}
	addr, err := l.Address(rebase, rs)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	if err := mem.ReadMemory(addr, out); err != nil {
		return nil, errors.Wrapf(unwind.ErrMemoryReadFailed, "0x%x: %v", addr, err)
	}
	return out, nil
}

// Range is a half-open RVA range.
type Range struct {
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
}

// Contains reports whether rva lies in r.
func (r Range) Contains(rva uint32) bool { return rva >= r.Start && rva < r.End }

// LocalEvent is the kind of a Local.
type LocalEvent uint8

// Local events.
const (
	ScopeBegin LocalEvent = iota
	ScopeEnd
	Var
)

// Local is one event of a procedure's local symbol walk. ScopeBegin and
// ScopeEnd bracket lexical blocks and inline sites; Scope is set on both.
// Var describes one live range of a variable.
type Local struct {
	Event  LocalEvent         `json:"event"`
	Depth  int                `json:"depth"`
	Scope  Range              `json:"scope"`
	Inline bool               `json:"inline,omitempty"`
	Name   string             `json:"name,omitempty"`
	Type   codeview.TypeIndex `json:"type,omitempty"`
	Flags  uint16             `json:"flags,omitempty"`
	Param  bool               `json:"param,omitempty"`
	Static bool               `json:"static,omitempty"`
	// Location is valid in Live, minus Gaps.
	Location Location `json:"location"`
	Live     Range    `json:"live"`
	Gaps     []Range  `json:"gaps,omitempty"`
}

// LiveAt reports whether the variable's location is valid at rva.
func (l Local) LiveAt(rva uint32) bool {
	if !l.Live.Contains(rva) {
		return false
	}
	for _, g := range l.Gaps {
		if g.Contains(rva) {
			return false
		}
	}
	return true
}

type localScope struct {
	rng    Range
	inline bool
}

// LocalIterator walks the variables and scopes of one procedure.
type LocalIterator struct {
	p       *PDB
	proc    Proc
	it      *codeview.SymbolIterator
	scopes  []localScope
	held    *codeview.SymbolRecord
	pending *Local
	emitted bool
	// frame bases for locals and parameters.
	localBase, paramBase frameReg
	cur                  Local
	err                  error
	skipped              int
}

// Locals iterates the locals of proc. The first event is the body of the
// procedure; Depth returns to zero once the procedure's end is reached.
func (p *PDB) Locals(proc Proc) *LocalIterator {
	li := &LocalIterator{
		p:         p,
		proc:      proc,
		localBase: frameReg{reg: regs.FP(p.arch)},
		paramBase: frameReg{reg: regs.FP(p.arch)},
	}
	ms, err := p.ModuleStreams(proc.Module)
	if err != nil {
		li.err = err
		return li
	}
	li.it = codeview.NewSymbolIterator(ms.Symbols, SymbolBase)
	if err := li.it.Seek(proc.SymOffset); err != nil {
		li.err = err
		li.it = nil
		return li
	}
	if !li.it.Next() || !codeview.IsProcSymbol(li.it.Record().Kind) {
		li.err = errors.Wrapf(codeview.ErrMalformedRecord, "no procedure at 0x%x", proc.SymOffset)
		li.it = nil
		return li
	}
	li.scopes = append(li.scopes, localScope{rng: Range{Start: proc.RVA, End: proc.RVA + proc.Length}})
	return li
}

// Depth is the number of open scopes, including the procedure itself.
func (li *LocalIterator) Depth() int { return len(li.scopes) }

// Local returns the current event.
func (li *LocalIterator) Local() Local { return li.cur }

// Err returns the error that stopped iteration.
func (li *LocalIterator) Err() error { return li.err }

// Skipped counts records that could not be decoded.
func (li *LocalIterator) Skipped() int { return li.skipped }

func (li *LocalIterator) nextRecord() (codeview.SymbolRecord, bool) {
	if li.held != nil {
		rec := *li.held
		li.held = nil
		return rec, true
	}
	if !li.it.Next() {
		li.err = li.it.Err()
		return codeview.SymbolRecord{}, false
	}
	return li.it.Record(), true
}

// Next advances to the next event.
func (li *LocalIterator) Next() bool {
	if li.it == nil {
		return false
	}
	for len(li.scopes) > 0 {
		rec, ok := li.nextRecord()
		if !ok {
			return false
		}
		if li.pending != nil && !isDefRange(rec.Kind) {
			// An S_LOCAL without any defrange has no location.
			local := *li.pending
			li.pending = nil
			if !li.emitted {
				li.held = &rec
				li.cur = local
				return true
			}
		}
		if li.handle(rec) {
			return true
		}
	}
	return false
}

func isDefRange(kind uint16) bool {
	return kind >= codeview.S_DEFRANGE && kind <= codeview.S_DEFRANGE_REGISTER_REL
}

func (li *LocalIterator) scope() Range { return li.scopes[len(li.scopes)-1].rng }

func (li *LocalIterator) handle(rec codeview.SymbolRecord) bool {
	depth := len(li.scopes)
	switch {
	case codeview.ClosesScope(rec.Kind):
		s := li.scopes[depth-1]
		li.scopes = li.scopes[:depth-1]
		if depth == 1 {
			return false
		}
		li.cur = Local{Event: ScopeEnd, Depth: depth - 1, Scope: s.rng, Inline: s.inline}
		return true

	case codeview.IsProcSymbol(rec.Kind):
		// Nested procedures are walked on their own.
		ps, err := codeview.ParseProcSym(rec)
		if err == nil {
			err = li.it.Seek(ps.End)
		}
		if err == nil && li.it.Next() {
			return false
		}
		li.err = errors.Wrapf(codeview.ErrMalformedRecord, "nested procedure at 0x%x", rec.Offset)
		li.it = nil
		li.scopes = nil
		return false

	case rec.Kind == codeview.S_BLOCK32:
		rng := li.scope()
		if b, err := codeview.ParseBlockSym(rec); err == nil {
			if rva, ok := li.p.RVA(b.Segment, b.Offset); ok {
				rng = Range{Start: rva, End: rva + b.Length}
			}
		} else {
			li.skipped++
		}
		return li.open(localScope{rng: rng})

	case rec.Kind == codeview.S_INLINESITE || rec.Kind == codeview.S_INLINESITE2:
		rng := li.scope()
		if s, err := codeview.ParseInlineSiteSym(rec); err == nil {
			if ranges, err := li.p.inlineRanges(li.proc, s.Annotations); err == nil && len(ranges) > 0 {
				rng = Range{Start: ranges[0].Start, End: ranges[0].End}
				for _, r := range ranges[1:] {
					rng.Start = min(rng.Start, r.Start)
					rng.End = max(rng.End, r.End)
				}
			}
		} else {
			li.skipped++
		}
		return li.open(localScope{rng: rng, inline: true})

	case codeview.OpensScope(rec.Kind):
		return li.open(localScope{rng: li.scope()})

	case rec.Kind == codeview.S_FRAMEPROC:
		if depth == 1 {
			if f, err := codeview.ParseFrameProcSym(rec); err == nil {
				li.localBase = li.frameBase((f.Flags >> 14) & 3)
				li.paramBase = li.frameBase((f.Flags >> 16) & 3)
			}
		}
		return false

	case rec.Kind == codeview.S_LOCAL:
		l, err := codeview.ParseLocalSym(rec)
		if err != nil {
			li.skipped++
			return false
		}
		li.pending = &Local{
			Event: Var,
			Depth: depth,
			Name:  l.Name,
			Type:  l.TypeIndex,
			Flags: l.Flags,
			Param: l.Flags&codeview.LocalIsParam != 0,
			Live:  li.scope(),
		}
		li.emitted = false
		return false

	case isDefRange(rec.Kind):
		return li.defRange(rec)
	}
	return li.plainVar(rec)
}

func (li *LocalIterator) open(s localScope) bool {
	li.scopes = append(li.scopes, s)
	li.cur = Local{Event: ScopeBegin, Depth: len(li.scopes), Scope: s.rng, Inline: s.inline}
	return true
}

func (li *LocalIterator) defRange(rec codeview.SymbolRecord) bool {
	if li.pending == nil {
		return false
	}
	d, err := codeview.ParseDefRangeSym(rec)
	if err != nil {
		li.skipped++
		return false
	}
	v := *li.pending
	v.Live = Range{Start: li.proc.RVA, End: li.proc.RVA + li.proc.Length}
	if !d.FullScope {
		start, ok := li.p.RVA(d.Range.Section, d.Range.Offset)
		if !ok {
			li.skipped++
			return false
		}
		v.Live = Range{Start: start, End: start + uint32(d.Range.Length)}
		for _, g := range d.Gaps {
			gs := start + uint32(g.Start)
			ge := gs + uint32(g.Length)
			if gs >= v.Live.End {
				continue
			}
			v.Gaps = append(v.Gaps, Range{Start: gs, End: min(ge, v.Live.End)})
		}
	}
	switch d.Kind {
	case codeview.S_DEFRANGE_REGISTER, codeview.S_DEFRANGE_SUBFIELD_REGISTER:
		v.Location = Location{Kind: LocationRegister, Register: li.reg(d.Register), Piece: d.ParentOffset}
	case codeview.S_DEFRANGE_REGISTER_REL:
		v.Location = Location{Kind: LocationRegisterRelative, Register: li.reg(d.Register), Offset: int64(d.Offset), Piece: d.ParentOffset}
	default:
		base := li.frameReg(v.Param)
		v.Location = Location{Kind: LocationFrameRelative, Register: base.reg, Offset: base.off + int64(d.Offset)}
	}
	li.emitted = true
	li.cur = v
	return true
}

func (li *LocalIterator) reg(cv uint16) regs.ID {
	id, ok := regs.FromCodeView(li.p.arch, cv)
	if !ok {
		li.skipped++
	}
	return id
}

func (li *LocalIterator) frameReg(param bool) frameReg {
	if param {
		return li.paramBase
	}
	return li.localBase
}

// plainVar decodes the variable records that carry their own location.
func (li *LocalIterator) plainVar(rec codeview.SymbolRecord) bool {
	v := Local{Event: Var, Depth: len(li.scopes), Live: li.scope()}
	switch rec.Kind {
	case codeview.S_REGREL32:
		s, err := codeview.ParseRegRelSym(rec)
		if err != nil {
			break
		}
		v.Name, v.Type = s.Name, s.TypeIndex
		v.Location = Location{Kind: LocationRegisterRelative, Register: li.reg(s.Register), Offset: int64(s.Offset)}
	case codeview.S_BPREL32:
		s, err := codeview.ParseBPRelSym(rec)
		if err != nil {
			break
		}
		v.Name, v.Type = s.Name, s.TypeIndex
		v.Location = Location{Kind: LocationFrameRelative, Register: regs.FP(li.p.arch), Offset: int64(s.Offset)}
	case codeview.S_REGISTER:
		s, err := codeview.ParseRegisterSym(rec)
		if err != nil {
			break
		}
		v.Name, v.Type = s.Name, s.TypeIndex
		v.Location = Location{Kind: LocationRegister, Register: li.reg(s.Register)}
	case codeview.S_LDATA32, codeview.S_GDATA32, codeview.S_LTHREAD32, codeview.S_GTHREAD32:
		s, err := codeview.ParseDataSym(rec)
		if err != nil {
			break
		}
		v.Name, v.Type, v.Static = s.Name, s.TypeIndex, true
		v.Live = Range{Start: li.proc.RVA, End: li.proc.RVA + li.proc.Length}
		if rec.Kind == codeview.S_LTHREAD32 || rec.Kind == codeview.S_GTHREAD32 {
			v.Location = Location{Kind: LocationTLS, RVA: s.Offset}
		} else {
			rva, _ := li.p.RVA(s.Segment, s.Offset)
			v.Location = Location{Kind: LocationRVA, RVA: rva}
		}
	case codeview.S_CONSTANT:
		s, err := codeview.ParseConstantSym(rec)
		if err != nil {
			break
		}
		v.Name, v.Type = s.Name, s.TypeIndex
		v.Location = Location{Kind: LocationImplicit, Implicit: s.Value.Bytes()}
	default:
		return false
	}
	if v.Name == "" && v.Location.Kind == LocationNull {
		li.skipped++
		return false
	}
	li.cur = v
	return true
}

// frameReg is a frame base: a register plus a constant.
type frameReg struct {
	reg regs.ID
	off int64
}

// frameBase maps the two-bit base pointer selector of S_FRAMEPROC to a
// frame base. The x86 VFRAME is taken from the procedure's FRAMEDATA
// program; without one it is approximated by ESP.
func (li *LocalIterator) frameBase(sel uint32) frameReg {
	arch := li.p.arch
	switch arch {
	case regs.ArchX64:
		switch sel {
		case codeview.FramePtrSP:
			return frameReg{reg: regs.X64RSP}
		case codeview.FramePtrFP:
			return frameReg{reg: regs.X64RBP}
		case codeview.FramePtrBP:
			return frameReg{reg: regs.X64R13}
		}
	case regs.ArchX86:
		switch sel {
		case codeview.FramePtrSP:
			if fd, ok := li.p.FrameData(li.proc.RVA); ok {
				reg, off := unwind.VirtualFrame(arch, fd)
				return frameReg{reg: reg, off: off}
			}
			return frameReg{reg: regs.X86ESP}
		case codeview.FramePtrFP:
			return frameReg{reg: regs.X86EBP}
		case codeview.FramePtrBP:
			return frameReg{reg: regs.X86EBX}
		}
	}
	return frameReg{reg: regs.FP(arch)}
}
