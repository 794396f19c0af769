package dwarfsyms

import (
	"encoding/binary"

	"github.com/jtang613/gosyms/pkg/bytestream"
	"github.com/jtang613/gosyms/pkg/regs"
)

// LocationKind says how a variable's storage is found.
type LocationKind uint8

// Location kinds.
const (
	LocationNone LocationKind = iota
	LocationRegister
	LocationRegisterRelative
	// LocationFrameRelative offsets are relative to the canonical frame
	// address of the enclosing procedure.
	LocationFrameRelative
	LocationAddress
	LocationTLS
	LocationConst
	// LocationExpr holds an expression this package does not evaluate.
	LocationExpr
)

func (k LocationKind) String() string {
	switch k {
	case LocationNone:
		return "none"
	case LocationRegister:
		return "register"
	case LocationRegisterRelative:
		return "regrel"
	case LocationFrameRelative:
		return "cfa"
	case LocationAddress:
		return "address"
	case LocationTLS:
		return "tls"
	case LocationConst:
		return "const"
	case LocationExpr:
		return "expr"
	}
	return "unknown"
}

// Location is a decoded single-piece location expression.
type Location struct {
	Kind     LocationKind `json:"kind"`
	Register regs.ID      `json:"register,omitempty"`
	Offset   int64        `json:"offset,omitempty"`
	Address  uint64       `json:"address,omitempty"`
	Value    int64        `json:"value,omitempty"`
	Expr     []byte       `json:"expr,omitempty"`
}

// Location opcodes.
const (
	opAddr              = 0x03
	opConst4u           = 0x0c
	opConst8u           = 0x0e
	opLit0              = 0x30
	opLit31             = 0x4f
	opReg0              = 0x50
	opReg31             = 0x6f
	opBreg0             = 0x70
	opBreg31            = 0x8f
	opRegx              = 0x90
	opFbreg             = 0x91
	opBregx             = 0x92
	opStackValue        = 0x9f
	opCallFrameCFA      = 0x9c
	opFormTLSAddress    = 0x9b
	opGNUPushTLSAddress = 0xe0
)

// decodeLocation decodes the common single-operation forms. frameBase is
// the enclosing procedure's DW_AT_frame_base and resolves DW_OP_fbreg.
func (d *Data) decodeLocation(expr, frameBase []byte) Location {
	if len(expr) == 0 {
		return Location{Kind: LocationNone}
	}
	raw := Location{Kind: LocationExpr, Expr: expr}
	op, rest := expr[0], expr[1:]
	switch {
	case op == opAddr:
		if addr, n, ok := readAddr(rest); ok && n == len(rest) {
			return Location{Kind: LocationAddress, Address: addr}
		}
	case op == opConst8u || op == opConst4u:
		n := 8
		if op == opConst4u {
			n = 4
		}
		if len(rest) == n+1 && (rest[n] == opFormTLSAddress || rest[n] == opGNUPushTLSAddress) {
			v := uint64(0)
			if n == 8 {
				v = binary.LittleEndian.Uint64(rest)
			} else {
				v = uint64(binary.LittleEndian.Uint32(rest))
			}
			return Location{Kind: LocationTLS, Address: v}
		}
	case op >= opLit0 && op <= opLit31:
		if len(rest) == 1 && rest[0] == opStackValue {
			return Location{Kind: LocationConst, Value: int64(op - opLit0)}
		}
	case op >= opReg0 && op <= opReg31:
		if len(rest) == 0 {
			if id, ok := regs.FromDWARF(d.arch, uint16(op-opReg0)); ok {
				return Location{Kind: LocationRegister, Register: id}
			}
		}
	case op == opRegx:
		if r, n, err := bytestream.DecodeULEB128(rest); err == nil && n == len(rest) {
			if id, ok := regs.FromDWARF(d.arch, uint16(r)); ok {
				return Location{Kind: LocationRegister, Register: id}
			}
		}
	case op >= opBreg0 && op <= opBreg31:
		if off, n, err := bytestream.DecodeSLEB128(rest); err == nil && n == len(rest) {
			if id, ok := regs.FromDWARF(d.arch, uint16(op-opBreg0)); ok {
				return Location{Kind: LocationRegisterRelative, Register: id, Offset: off}
			}
		}
	case op == opBregx:
		r, n, err := bytestream.DecodeULEB128(rest)
		if err != nil {
			break
		}
		off, m, err := bytestream.DecodeSLEB128(rest[n:])
		if err == nil && n+m == len(rest) {
			if id, ok := regs.FromDWARF(d.arch, uint16(r)); ok {
				return Location{Kind: LocationRegisterRelative, Register: id, Offset: off}
			}
		}
	case op == opFbreg:
		off, n, err := bytestream.DecodeSLEB128(rest)
		if err != nil || n != len(rest) {
			break
		}
		base := d.decodeLocation(frameBase, nil)
		switch {
		case len(frameBase) == 1 && frameBase[0] == opCallFrameCFA:
			return Location{Kind: LocationFrameRelative, Offset: off}
		case base.Kind == LocationRegister:
			return Location{Kind: LocationRegisterRelative, Register: base.Register, Offset: off}
		case base.Kind == LocationRegisterRelative:
			return Location{Kind: LocationRegisterRelative, Register: base.Register, Offset: base.Offset + off}
		}
	}
	return raw
}

func readAddr(b []byte) (uint64, int, bool) {
	switch len(b) {
	case 8:
		return binary.LittleEndian.Uint64(b), 8, true
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), 4, true
	}
	return 0, 0, false
}
