// Package regs describes the x86 and x64 register sets as bit ranges of a
// flat little-endian register file, so that aliases such as al, ax, eax
// and rax share storage.
package regs

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

var (
	// ErrUnknownRegister is returned for register ids outside an
	// architecture's table.
	ErrUnknownRegister = errors.New("regs: unknown register")
	// ErrUnknownArch is returned for architectures without a table.
	ErrUnknownArch = errors.New("regs: unsupported architecture")
	// ErrValueTooWide is returned when a value does not fit the register,
	// or a register does not fit a uint64.
	ErrValueTooWide = errors.New("regs: value does not fit register")
)

// Arch selects a register table.
type Arch uint8

// Supported architectures.
const (
	ArchNone Arch = iota
	ArchX86
	ArchX64
)

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "x86"
	case ArchX64:
		return "x64"
	}
	return "none"
}

// PtrSize returns the address width of the architecture in bytes.
func (a Arch) PtrSize() int {
	if a == ArchX86 {
		return 4
	}
	return 8
}

// PE machine types understood by ArchFromMachine.
const (
	machineI386  = 0x014c
	machineAMD64 = 0x8664
)

// ArchFromMachine maps a PE/DBI machine type to an Arch.
func ArchFromMachine(machine uint16) Arch {
	switch machine {
	case machineI386:
		return ArchX86
	case machineAMD64:
		return ArchX64
	}
	return ArchNone
}

// ELF e_machine values understood by ArchFromELF.
const (
	elfMachine386    = 3
	elfMachineX86_64 = 62
)

// ArchFromELF maps an ELF e_machine value to an Arch.
func ArchFromELF(machine uint16) Arch {
	switch machine {
	case elfMachine386:
		return ArchX86
	case elfMachineX86_64:
		return ArchX64
	}
	return ArchNone
}

// ParseArch accepts the names printed by Arch.String and a few aliases.
func ParseArch(s string) (Arch, bool) {
	switch strings.ToLower(s) {
	case "x86", "i386", "386":
		return ArchX86, true
	case "x64", "amd64", "x86_64", "x86-64":
		return ArchX64, true
	}
	return ArchNone, false
}

// ID is a dense per-architecture register number. Zero is never a valid
// register.
type ID uint16

// Class groups registers by role.
type Class uint8

// Register classes.
const (
	ClassState Class = iota
	ClassGPR
	ClassControl
	ClassFP
	ClassVector
	ClassSegment
)

func (c Class) String() string {
	switch c {
	case ClassState:
		return "state"
	case ClassGPR:
		return "gpr"
	case ClassControl:
		return "control"
	case ClassFP:
		return "fp"
	case ClassVector:
		return "vector"
	case ClassSegment:
		return "segment"
	}
	return "unknown"
}

// Descriptor locates a register inside the register file: BitWidth bits
// starting BitOffset bits into the byte at Offset.
type Descriptor struct {
	Name      string
	Class     Class
	Offset    uint32
	BitOffset uint8
	BitWidth  uint16
}

// Bytes is the number of bytes the register touches.
func (d Descriptor) Bytes() int {
	return (int(d.BitOffset) + int(d.BitWidth) + 7) / 8
}

type archTable struct {
	descs    []Descriptor
	ids      []ID
	size     int
	ip       ID
	sp       ID
	fp       ID
	codeview map[uint16]ID
	dwarf    map[uint16]ID
	byName   map[string]ID
}

var tables = [...]*archTable{
	ArchX86: newArchTable(x86Table[:], x86FileSize, X86EIP, X86ESP, X86EBP, x86CodeView, x86DWARF),
	ArchX64: newArchTable(x64Table[:], x64FileSize, X64RIP, X64RSP, X64RBP, x64CodeView, x64DWARF),
}

func newArchTable(descs []Descriptor, size int, ip, sp, fp ID, cv, dw map[uint16]ID) *archTable {
	ids := lo.Map(descs[1:], func(_ Descriptor, i int) ID { return ID(i + 1) })
	return &archTable{
		descs:    descs,
		ids:      ids,
		size:     size,
		ip:       ip,
		sp:       sp,
		fp:       fp,
		codeview: cv,
		dwarf:    dw,
		byName:   lo.KeyBy(ids, func(id ID) string { return descs[id].Name }),
	}
}

func table(arch Arch) *archTable {
	if int(arch) >= len(tables) {
		return nil
	}
	return tables[arch]
}

// Lookup returns the descriptor of id.
func Lookup(arch Arch, id ID) (Descriptor, bool) {
	t := table(arch)
	if t == nil || id == 0 || int(id) >= len(t.descs) {
		return Descriptor{}, false
	}
	return t.descs[id], true
}

// ByName finds a register by its lower-case name.
func ByName(arch Arch, name string) (ID, bool) {
	t := table(arch)
	if t == nil {
		return 0, false
	}
	id, ok := t.byName[strings.ToLower(name)]
	return id, ok
}

// IDs lists every register of arch in id order.
func IDs(arch Arch) []ID {
	t := table(arch)
	if t == nil {
		return nil
	}
	return append([]ID(nil), t.ids...)
}

// FileSize is the size in bytes of a register file for arch.
func FileSize(arch Arch) int {
	if t := table(arch); t != nil {
		return t.size
	}
	return 0
}

// IP returns the instruction pointer register.
func IP(arch Arch) ID {
	if t := table(arch); t != nil {
		return t.ip
	}
	return 0
}

// SP returns the stack pointer register.
func SP(arch Arch) ID {
	if t := table(arch); t != nil {
		return t.sp
	}
	return 0
}

// FP returns the frame pointer register.
func FP(arch Arch) ID {
	if t := table(arch); t != nil {
		return t.fp
	}
	return 0
}

// FromCodeView maps a CodeView register number to an ID.
func FromCodeView(arch Arch, cv uint16) (ID, bool) {
	t := table(arch)
	if t == nil {
		return 0, false
	}
	id, ok := t.codeview[cv]
	return id, ok
}

// FromDWARF maps a DWARF register number to an ID.
func FromDWARF(arch Arch, reg uint16) (ID, bool) {
	t := table(arch)
	if t == nil {
		return 0, false
	}
	id, ok := t.dwarf[reg]
	return id, ok
}
