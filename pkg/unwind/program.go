package unwind

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/jtang613/gosyms/pkg/regs"
)

// programState evaluates a postfix frame program such as
//
//	$T0 .raSearch = $eip $T0 ^ = $esp $T0 4 + =
//
// Operands are integers, register variables ($eip), temporaries ($T0)
// and the frame constants .raSearch, .cbLocals, .cbSavedRegs and
// .cbParams. ^ dereferences, @ aligns down and = assigns.
type programState struct {
	arch  regs.Arch
	mem   Memory
	rs    Registers
	vars  map[string]uint64
	order []string
	stack []string
}

func runProgram(arch regs.Arch, fd FrameData, mem Memory, rs Registers) ([]write, error) {
	sp, err := rs.ReadRegister(regs.SP(arch))
	if err != nil {
		return nil, errors.Wrap(err, "read stack pointer")
	}
	ps := &programState{
		arch: arch,
		mem:  mem,
		rs:   rs,
		vars: map[string]uint64{
			".raSearch":      sp + uint64(fd.LocalsSize) + uint64(fd.SavedRegsSize),
			".raSearchStart": sp + uint64(fd.LocalsSize) + uint64(fd.SavedRegsSize),
			".cbLocals":      uint64(fd.LocalsSize),
			".cbSavedRegs":   uint64(fd.SavedRegsSize),
			".cbParams":      uint64(fd.ParamsSize),
		},
	}
	if err := ps.run(fd.Program); err != nil {
		return nil, err
	}

	var writes []write
	var haveIP, haveSP bool
	for _, name := range ps.order {
		id, ok := regs.ByName(arch, strings.TrimPrefix(name, "$"))
		if !ok {
			continue
		}
		haveIP = haveIP || id == regs.IP(arch)
		haveSP = haveSP || id == regs.SP(arch)
		writes = append(writes, write{id, ps.vars[name]})
	}
	if !haveIP || !haveSP {
		return nil, errors.Wrapf(ErrMalformedFrameData, "program %q does not recover ip and sp", fd.Program)
	}
	return writes, nil
}

func (ps *programState) run(program string) error {
	for _, tok := range strings.Fields(program) {
		var err error
		switch tok {
		case "+", "-", "*", "/", "%", "@":
			err = ps.binary(tok)
		case "^":
			err = ps.deref()
		case "=":
			err = ps.assign()
		default:
			ps.stack = append(ps.stack, tok)
		}
		if err != nil {
			return err
		}
	}
	if len(ps.stack) != 0 {
		return errors.Wrapf(ErrMalformedFrameData, "%d values left on the stack", len(ps.stack))
	}
	return nil
}

func (ps *programState) pop() (string, error) {
	if len(ps.stack) == 0 {
		return "", errors.Wrap(ErrMalformedFrameData, "program stack underflow")
	}
	tok := ps.stack[len(ps.stack)-1]
	ps.stack = ps.stack[:len(ps.stack)-1]
	return tok, nil
}

func (ps *programState) popValue() (uint64, error) {
	tok, err := ps.pop()
	if err != nil {
		return 0, err
	}
	return ps.value(tok)
}

func (ps *programState) push(v uint64) {
	ps.stack = append(ps.stack, strconv.FormatUint(v, 10))
}

func (ps *programState) value(tok string) (uint64, error) {
	if v, ok := ps.vars[tok]; ok {
		return v, nil
	}
	if strings.HasPrefix(tok, "$") {
		id, ok := regs.ByName(ps.arch, tok[1:])
		if !ok {
			return 0, errors.Wrapf(ErrMalformedFrameData, "unknown variable %s", tok)
		}
		v, err := ps.rs.ReadRegister(id)
		if err != nil {
			return 0, errors.Wrapf(err, "read %s", tok)
		}
		return v, nil
	}
	if v, err := strconv.ParseInt(tok, 0, 64); err == nil {
		return uint64(v), nil
	}
	v, err := strconv.ParseUint(tok, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedFrameData, "bad operand %q", tok)
	}
	return v, nil
}

func (ps *programState) binary(op string) error {
	b, err := ps.popValue()
	if err != nil {
		return err
	}
	a, err := ps.popValue()
	if err != nil {
		return err
	}
	var r uint64
	switch op {
	case "+":
		r = a + b
	case "-":
		r = a - b
	case "*":
		r = a * b
	case "/", "%":
		if b == 0 {
			return errors.Wrap(ErrMalformedFrameData, "division by zero")
		}
		if op == "/" {
			r = a / b
		} else {
			r = a % b
		}
	case "@":
		if b == 0 || b&(b-1) != 0 {
			return errors.Wrapf(ErrMalformedFrameData, "bad alignment %d", b)
		}
		r = a &^ (b - 1)
	}
	ps.push(r)
	return nil
}

func (ps *programState) deref() error {
	addr, err := ps.popValue()
	if err != nil {
		return err
	}
	v, err := readPtr(ps.mem, addr, uint64(ps.arch.PtrSize()))
	if err != nil {
		return err
	}
	ps.push(v)
	return nil
}

func (ps *programState) assign() error {
	v, err := ps.popValue()
	if err != nil {
		return err
	}
	name, err := ps.pop()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(name, "$") && !strings.HasPrefix(name, ".") {
		return errors.Wrapf(ErrMalformedFrameData, "cannot assign to %q", name)
	}
	if _, seen := ps.vars[name]; !seen {
		ps.order = append(ps.order, name)
	}
	ps.vars[name] = v
	return nil
}

// VirtualFrame returns the register and offset the x86 virtual frame
// pointer is computed from: the value fd's program assigns to $T0, taken
// at the procedure body. Only assignments of .raSearch or a register, each
// optionally adjusted by a constant, are recognised; anything else yields
// .raSearch.
func VirtualFrame(arch regs.Arch, fd FrameData) (regs.ID, int64) {
	sp := regs.SP(arch)
	raSearch := int64(fd.LocalsSize) + int64(fd.SavedRegsSize)

	var stmt []string
	for _, tok := range strings.Fields(fd.Program) {
		if tok != "=" {
			stmt = append(stmt, tok)
			continue
		}
		if len(stmt) > 1 && stmt[0] == "$T0" {
			if reg, off, ok := linearExpr(arch, stmt[1:], raSearch); ok {
				return reg, off
			}
			break
		}
		stmt = stmt[:0]
	}
	return sp, raSearch
}

// linearExpr matches "base", "base n +" and "base n -" where base is
// .raSearch or a register variable.
func linearExpr(arch regs.Arch, expr []string, raSearch int64) (regs.ID, int64, bool) {
	var reg regs.ID
	var off int64
	switch base := expr[0]; {
	case base == ".raSearch" || base == ".raSearchStart":
		reg, off = regs.SP(arch), raSearch
	case strings.HasPrefix(base, "$"):
		id, ok := regs.ByName(arch, base[1:])
		if !ok {
			return 0, 0, false
		}
		reg = id
	default:
		return 0, 0, false
	}
	switch len(expr) {
	case 1:
		return reg, off, true
	case 3:
		n, err := strconv.ParseInt(expr[1], 0, 64)
		if err != nil {
			return 0, 0, false
		}
		switch expr[2] {
		case "+":
			return reg, off + n, true
		case "-":
			return reg, off - n, true
		}
	}
	return 0, 0, false
}
