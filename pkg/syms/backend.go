package syms

import (
	"github.com/jtang613/gosyms/pkg/regs"
	"github.com/jtang613/gosyms/pkg/unwind"
)

// backend is one debug-information format. Addresses crossing this
// interface are already rebased. Implementations read only state that is
// immutable after load, so distinct modules may be queried concurrently.
type backend interface {
	format() Format
	arch() regs.Arch
	modules() []Module
	sections() []Section
	moduleForAddr(addr uint64) (int, bool)

	procs(mod int) ([]Proc, error)
	procFromAddr(addr uint64) (Proc, bool)
	procFromName(name string) (Proc, bool)
	lines(mod int) ([]Line, error)
	// foldCase reports whether source file names compare case-insensitively.
	foldCase() bool

	types() ([]Type, error)
	typeFromName(name string) (Type, bool)
	globals() ([]Global, error)
	consts() ([]Const, error)

	locals(p Proc, addr uint64) ([]Local, error)
	inlineStack(addr uint64) ([]InlineSite, error)
	frames() unwind.FrameSource
}

// noFrames is the frame source of formats without unwind tables.
type noFrames struct{}

func (noFrames) FrameData(uint64) (unwind.FrameData, bool) { return unwind.FrameData{}, false }
