package pdb

import (
	"encoding/binary"
	"sort"

	"github.com/jtang613/gosyms/pkg/pdb/streams"
	"github.com/jtang613/gosyms/pkg/unwind"
)

const (
	fpoEntrySize       = 16
	frameDataEntrySize = 32
)

// FPO frame types.
const (
	fpoFrameFPO    = 0
	fpoFrameTrap   = 1
	fpoFrameTSS    = 2
	fpoFrameNonFPO = 3
)

// FRAMEDATA flags.
const (
	frameDataSEH       = 1
	frameDataEH        = 2
	frameDataFuncStart = 4
)

// frameEntry is frame data keyed by RVA.
type frameEntry struct {
	rva uint32
	fd  unwind.FrameData
}

// frameTable holds FRAMEDATA and FPO entries sorted by RVA. FRAMEDATA
// takes precedence where both cover an address.
type frameTable struct {
	framedata []frameEntry
	fpo       []frameEntry
}

func (p *PDB) readFrameTable() *frameTable {
	ft := &frameTable{}
	if sn, ok := p.dbi.DebugStream(streams.DebugStreamNewFPO); ok {
		if data, err := p.msf.ReadStream(sn); err == nil {
			ft.framedata = p.parseFrameData(data)
		}
	}
	if sn, ok := p.dbi.DebugStream(streams.DebugStreamFPO); ok {
		if data, err := p.msf.ReadStream(sn); err == nil {
			ft.fpo = parseFPO(data)
		}
	}
	return ft
}

func (p *PDB) parseFrameData(data []byte) []frameEntry {
	out := make([]frameEntry, 0, len(data)/frameDataEntrySize)
	for ; len(data) >= frameDataEntrySize; data = data[frameDataEntrySize:] {
		le := binary.LittleEndian
		flags := le.Uint32(data[28:])
		e := frameEntry{rva: le.Uint32(data[0:])}
		e.fd = unwind.FrameData{
			Size:          uint64(le.Uint32(data[4:])),
			LocalsSize:    le.Uint32(data[8:]),
			ParamsSize:    le.Uint32(data[12:]),
			MaxStack:      le.Uint32(data[16:]),
			Prolog:        uint32(le.Uint16(data[24:])),
			SavedRegsSize: uint32(le.Uint16(data[26:])),
			HasSEH:        flags&frameDataSEH != 0,
			HasEH:         flags&frameDataEH != 0,
		}
		e.fd.Program, _ = p.String(le.Uint32(data[20:]))
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].rva < out[j].rva })
	return out
}

func parseFPO(data []byte) []frameEntry {
	out := make([]frameEntry, 0, len(data)/fpoEntrySize)
	for ; len(data) >= fpoEntrySize; data = data[fpoEntrySize:] {
		le := binary.LittleEndian
		bits := le.Uint16(data[14:])
		frame := bits >> 14 & 3
		if frame == fpoFrameTrap || frame == fpoFrameTSS {
			// Kernel transition frames cannot be unwound from memory alone.
			continue
		}
		// cbRegs counts pushes in the fixed order EBX, ESI, EDI, EBP but
		// not where they landed, so Saved stays empty and those registers
		// keep the callee's values after a step.
		e := frameEntry{rva: le.Uint32(data[0:])}
		e.fd = unwind.FrameData{
			Size:             uint64(le.Uint32(data[4:])),
			LocalsSize:       le.Uint32(data[8:]) * 4,
			ParamsSize:       uint32(le.Uint16(data[12:])) * 4,
			Prolog:           uint32(bits & 0xff),
			SavedRegsSize:    uint32(bits>>8&7) * 4,
			HasSEH:           bits&(1<<11) != 0,
			UsesFramePointer: bits&(1<<12) != 0 || frame == fpoFrameNonFPO,
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].rva < out[j].rva })
	return out
}

// maxFrameScan bounds the backward search over entries starting below an
// address, which only matters for nested or overlapping entries.
const maxFrameScan = 16

func findFrame(entries []frameEntry, rva uint32) (frameEntry, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].rva > rva })
	for j := i - 1; j >= 0 && i-j <= maxFrameScan; j-- {
		e := entries[j]
		if uint64(rva-e.rva) < e.fd.Size {
			return e, true
		}
	}
	return frameEntry{}, false
}

// FrameData returns the frame data covering rva, preferring FRAMEDATA
// over FPO records. Start is left as an RVA.
func (p *PDB) FrameData(rva uint32) (unwind.FrameData, bool) {
	e, ok := findFrame(p.frames.framedata, rva)
	if !ok {
		e, ok = findFrame(p.frames.fpo, rva)
	}
	if !ok {
		return unwind.FrameData{}, false
	}
	fd := e.fd
	fd.Start = uint64(e.rva)
	return fd, true
}

// FrameCount returns the number of FRAMEDATA and FPO entries.
func (p *PDB) FrameCount() (framedata, fpo int) {
	return len(p.frames.framedata), len(p.frames.fpo)
}

// FrameSource adapts the PDB's frame data to an image loaded at rebase.
func (p *PDB) FrameSource(rebase uint64) unwind.FrameSource {
	return frameSource{p: p, rebase: rebase}
}

type frameSource struct {
	p      *PDB
	rebase uint64
}

func (s frameSource) FrameData(ip uint64) (unwind.FrameData, bool) {
	if ip < s.rebase || ip-s.rebase > 0xffffffff {
		return unwind.FrameData{}, false
	}
	fd, ok := s.p.FrameData(uint32(ip - s.rebase))
	if !ok {
		return unwind.FrameData{}, false
	}
	fd.Start += s.rebase
	return fd, true
}
