// Package unwind steps a simulated register state from one stack frame to
// its caller using static frame data. The package keeps no state between
// steps; memory and registers are reached through caller callbacks.
package unwind

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/jtang613/gosyms/pkg/regs"
)

var (
	// ErrNoFrameData is returned when no frame data covers the
	// instruction pointer.
	ErrNoFrameData = errors.New("unwind: no frame data for address")
	// ErrMemoryReadFailed is returned when a stack read fails.
	ErrMemoryReadFailed = errors.New("unwind: memory read failed")
	// ErrMalformedFrameData is returned for frame data that cannot be
	// applied, such as an unparsable frame program.
	ErrMalformedFrameData = errors.New("unwind: malformed frame data")
	// ErrUnsupportedFrameKind is returned for frames using structured or
	// asynchronous exception handling.
	ErrUnsupportedFrameKind = errors.New("unwind: unsupported frame kind")
)

// SavedRegister records where a callee-saved register was spilled. Offset
// is relative to the stack pointer of the frame body, or to the frame
// pointer when the frame uses one.
type SavedRegister struct {
	Reg    regs.ID
	Offset int32
}

// FrameData describes one procedure's frame. Start and Size delimit the
// code it covers, in the address space of the instruction pointer passed
// to FrameSource.
type FrameData struct {
	Start         uint64
	Size          uint64
	LocalsSize    uint32
	SavedRegsSize uint32
	ParamsSize    uint32
	MaxStack      uint32
	Prolog        uint32
	Saved         []SavedRegister

	UsesFramePointer bool
	HasSEH           bool
	HasEH            bool

	// Program is a postfix frame program. When set it replaces the fixed
	// layout described by the size fields.
	Program string
}

// Contains reports whether ip lies in the frame's code.
func (fd FrameData) Contains(ip uint64) bool {
	return ip >= fd.Start && ip-fd.Start < fd.Size
}

// FrameSource finds the frame data covering an instruction pointer.
type FrameSource interface {
	FrameData(ip uint64) (FrameData, bool)
}

// Memory reads the target's memory.
type Memory interface {
	ReadMemory(addr uint64, buf []byte) error
}

// Registers reads and writes the simulated register state.
type Registers interface {
	ReadRegister(id regs.ID) (uint64, error)
	WriteRegister(id regs.ID, v uint64) error
}

// FrameSources tries each source in order.
type FrameSources []FrameSource

// FrameData implements FrameSource.
func (s FrameSources) FrameData(ip uint64) (FrameData, bool) {
	for _, src := range s {
		if fd, ok := src.FrameData(ip); ok {
			return fd, true
		}
	}
	return FrameData{}, false
}

// FileRegisters adapts a register file to Registers.
type FileRegisters struct {
	File *regs.File
}

// ReadRegister implements Registers.
func (r FileRegisters) ReadRegister(id regs.ID) (uint64, error) { return r.File.Get(id) }

// WriteRegister implements Registers.
func (r FileRegisters) WriteRegister(id regs.ID, v uint64) error { return r.File.Set(id, v) }

// BytesMemory serves reads from a buffer mapped at Base.
type BytesMemory struct {
	Base uint64
	Data []byte
}

// ReadMemory implements Memory.
func (m BytesMemory) ReadMemory(addr uint64, buf []byte) error {
	if addr < m.Base || addr-m.Base > uint64(len(m.Data)) || uint64(len(buf)) > uint64(len(m.Data))-(addr-m.Base) {
		return errors.Errorf("address 0x%x outside [0x%x, 0x%x)", addr, m.Base, m.Base+uint64(len(m.Data)))
	}
	copy(buf, m.Data[addr-m.Base:])
	return nil
}

type write struct {
	id regs.ID
	v  uint64
}

// Step replaces the register state of the current frame with the caller's.
// All caller registers are computed before the first write, so on error
// the register state is left untouched.
func Step(arch regs.Arch, frames FrameSource, mem Memory, rs Registers) error {
	ipReg, spReg, fpReg := regs.IP(arch), regs.SP(arch), regs.FP(arch)
	if ipReg == 0 {
		return errors.Wrapf(ErrUnsupportedFrameKind, "architecture %s", arch)
	}
	ip, err := rs.ReadRegister(ipReg)
	if err != nil {
		return errors.Wrap(err, "read instruction pointer")
	}
	fd, ok := frames.FrameData(ip)
	if !ok {
		return errors.Wrapf(ErrNoFrameData, "ip 0x%x", ip)
	}
	if fd.HasSEH || fd.HasEH {
		return errors.Wrapf(ErrUnsupportedFrameKind, "frame at 0x%x uses exception handling", fd.Start)
	}
	sp, err := rs.ReadRegister(spReg)
	if err != nil {
		return errors.Wrap(err, "read stack pointer")
	}

	var writes []write
	if fd.Program != "" {
		writes, err = runProgram(arch, fd, mem, rs)
	} else {
		writes, err = fixedLayout(arch, fd, ip, sp, fpReg, mem, rs)
	}
	if err != nil {
		return err
	}
	for _, w := range writes {
		if err := rs.WriteRegister(w.id, w.v); err != nil {
			return errors.Wrapf(err, "write register %d", w.id)
		}
	}
	return nil
}

// fixedLayout unwinds a frame shaped as
//
//	[sp]                      locals and spills
//	[sp+locals+saved]         return address
//
// or, for frame pointer frames, with the return address above the saved
// frame pointer.
func fixedLayout(arch regs.Arch, fd FrameData, ip, sp uint64, fpReg regs.ID, mem Memory, rs Registers) ([]write, error) {
	ptr := uint64(arch.PtrSize())
	var writes []write

	// Nothing has been pushed yet at the first instruction.
	if ip == fd.Start {
		ra, err := readPtr(mem, sp, ptr)
		if err != nil {
			return nil, err
		}
		return []write{{regs.IP(arch), ra}, {regs.SP(arch), sp + ptr}}, nil
	}

	base := sp
	var raAddr uint64
	if fd.UsesFramePointer {
		fp, err := rs.ReadRegister(fpReg)
		if err != nil {
			return nil, errors.Wrap(err, "read frame pointer")
		}
		base = fp
		raAddr = fp + ptr
		savedFP, err := readPtr(mem, fp, ptr)
		if err != nil {
			return nil, err
		}
		writes = append(writes, write{fpReg, savedFP})
	} else {
		raAddr = sp + uint64(fd.LocalsSize) + uint64(fd.SavedRegsSize)
	}

	for _, s := range fd.Saved {
		v, err := readPtr(mem, uint64(int64(base)+int64(s.Offset)), ptr)
		if err != nil {
			return nil, err
		}
		writes = append(writes, write{s.Reg, v})
	}
	ra, err := readPtr(mem, raAddr, ptr)
	if err != nil {
		return nil, err
	}
	return append(writes,
		write{regs.IP(arch), ra},
		write{regs.SP(arch), raAddr + ptr},
	), nil
}

func readPtr(mem Memory, addr, size uint64) (uint64, error) {
	var buf [8]byte
	if err := mem.ReadMemory(addr, buf[:size]); err != nil {
		return 0, errors.Wrapf(ErrMemoryReadFailed, "0x%x: %v", addr, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
