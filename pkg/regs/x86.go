package regs

import "github.com/jtang613/gosyms/pkg/pdb/codeview"

// x86 register ids. The register file stores the eight general purpose
// registers, eip and eflags as 32-bit slots; narrower registers alias them.
const (
	X86Nil ID = iota
	X86EAX
	X86ECX
	X86EDX
	X86EBX
	X86ESP
	X86EBP
	X86ESI
	X86EDI
	X86AX
	X86CX
	X86DX
	X86BX
	X86SP
	X86BP
	X86SI
	X86DI
	X86AL
	X86CL
	X86DL
	X86BL
	X86AH
	X86CH
	X86DH
	X86BH
	X86EIP
	X86IP
	X86EFLAGS
	X86FLAGS
	X86ES
	X86CS
	X86SS
	X86DS
	X86FS
	X86GS
	X86ST0
	X86ST1
	X86ST2
	X86ST3
	X86ST4
	X86ST5
	X86ST6
	X86ST7
	X86XMM0
	X86XMM1
	X86XMM2
	X86XMM3
	X86XMM4
	X86XMM5
	X86XMM6
	X86XMM7
	x86Count
)

const x86FileSize = 320

var x86Table = [...]Descriptor{
	X86EAX:    {"eax", ClassGPR, 0, 0, 32},
	X86ECX:    {"ecx", ClassGPR, 4, 0, 32},
	X86EDX:    {"edx", ClassGPR, 8, 0, 32},
	X86EBX:    {"ebx", ClassGPR, 12, 0, 32},
	X86ESP:    {"esp", ClassGPR, 16, 0, 32},
	X86EBP:    {"ebp", ClassGPR, 20, 0, 32},
	X86ESI:    {"esi", ClassGPR, 24, 0, 32},
	X86EDI:    {"edi", ClassGPR, 28, 0, 32},
	X86AX:     {"ax", ClassGPR, 0, 0, 16},
	X86CX:     {"cx", ClassGPR, 4, 0, 16},
	X86DX:     {"dx", ClassGPR, 8, 0, 16},
	X86BX:     {"bx", ClassGPR, 12, 0, 16},
	X86SP:     {"sp", ClassGPR, 16, 0, 16},
	X86BP:     {"bp", ClassGPR, 20, 0, 16},
	X86SI:     {"si", ClassGPR, 24, 0, 16},
	X86DI:     {"di", ClassGPR, 28, 0, 16},
	X86AL:     {"al", ClassGPR, 0, 0, 8},
	X86CL:     {"cl", ClassGPR, 4, 0, 8},
	X86DL:     {"dl", ClassGPR, 8, 0, 8},
	X86BL:     {"bl", ClassGPR, 12, 0, 8},
	X86AH:     {"ah", ClassGPR, 0, 8, 8},
	X86CH:     {"ch", ClassGPR, 4, 8, 8},
	X86DH:     {"dh", ClassGPR, 8, 8, 8},
	X86BH:     {"bh", ClassGPR, 12, 8, 8},
	X86EIP:    {"eip", ClassState, 32, 0, 32},
	X86IP:     {"ip", ClassState, 32, 0, 16},
	X86EFLAGS: {"eflags", ClassControl, 36, 0, 32},
	X86FLAGS:  {"flags", ClassControl, 36, 0, 16},
	X86ES:     {"es", ClassSegment, 40, 0, 16},
	X86CS:     {"cs", ClassSegment, 42, 0, 16},
	X86SS:     {"ss", ClassSegment, 44, 0, 16},
	X86DS:     {"ds", ClassSegment, 46, 0, 16},
	X86FS:     {"fs", ClassSegment, 48, 0, 16},
	X86GS:     {"gs", ClassSegment, 50, 0, 16},
	X86ST0:    {"st0", ClassFP, 64, 0, 80},
	X86ST1:    {"st1", ClassFP, 80, 0, 80},
	X86ST2:    {"st2", ClassFP, 96, 0, 80},
	X86ST3:    {"st3", ClassFP, 112, 0, 80},
	X86ST4:    {"st4", ClassFP, 128, 0, 80},
	X86ST5:    {"st5", ClassFP, 144, 0, 80},
	X86ST6:    {"st6", ClassFP, 160, 0, 80},
	X86ST7:    {"st7", ClassFP, 176, 0, 80},
	X86XMM0:   {"xmm0", ClassVector, 192, 0, 128},
	X86XMM1:   {"xmm1", ClassVector, 208, 0, 128},
	X86XMM2:   {"xmm2", ClassVector, 224, 0, 128},
	X86XMM3:   {"xmm3", ClassVector, 240, 0, 128},
	X86XMM4:   {"xmm4", ClassVector, 256, 0, 128},
	X86XMM5:   {"xmm5", ClassVector, 272, 0, 128},
	X86XMM6:   {"xmm6", ClassVector, 288, 0, 128},
	X86XMM7:   {"xmm7", ClassVector, 304, 0, 128},
}

var x86CodeView = map[uint16]ID{
	codeview.CV_REG_AL:       X86AL,
	codeview.CV_REG_CL:       X86CL,
	codeview.CV_REG_DL:       X86DL,
	codeview.CV_REG_BL:       X86BL,
	codeview.CV_REG_AH:       X86AH,
	codeview.CV_REG_CH:       X86CH,
	codeview.CV_REG_DH:       X86DH,
	codeview.CV_REG_BH:       X86BH,
	codeview.CV_REG_AX:       X86AX,
	codeview.CV_REG_CX:       X86CX,
	codeview.CV_REG_DX:       X86DX,
	codeview.CV_REG_BX:       X86BX,
	codeview.CV_REG_SP:       X86SP,
	codeview.CV_REG_BP:       X86BP,
	codeview.CV_REG_SI:       X86SI,
	codeview.CV_REG_DI:       X86DI,
	codeview.CV_REG_EAX:      X86EAX,
	codeview.CV_REG_ECX:      X86ECX,
	codeview.CV_REG_EDX:      X86EDX,
	codeview.CV_REG_EBX:      X86EBX,
	codeview.CV_REG_ESP:      X86ESP,
	codeview.CV_REG_EBP:      X86EBP,
	codeview.CV_REG_ESI:      X86ESI,
	codeview.CV_REG_EDI:      X86EDI,
	codeview.CV_REG_ES:       X86ES,
	codeview.CV_REG_CS:       X86CS,
	codeview.CV_REG_SS:       X86SS,
	codeview.CV_REG_DS:       X86DS,
	codeview.CV_REG_FS:       X86FS,
	codeview.CV_REG_GS:       X86GS,
	codeview.CV_REG_IP:       X86IP,
	codeview.CV_REG_FLAGS:    X86FLAGS,
	codeview.CV_REG_EIP:      X86EIP,
	codeview.CV_REG_EFLAGS:   X86EFLAGS,
	codeview.CV_REG_ST0:      X86ST0,
	codeview.CV_REG_ST0 + 1:  X86ST1,
	codeview.CV_REG_ST0 + 2:  X86ST2,
	codeview.CV_REG_ST0 + 3:  X86ST3,
	codeview.CV_REG_ST0 + 4:  X86ST4,
	codeview.CV_REG_ST0 + 5:  X86ST5,
	codeview.CV_REG_ST0 + 6:  X86ST6,
	codeview.CV_REG_ST0 + 7:  X86ST7,
	codeview.CV_REG_XMM0:     X86XMM0,
	codeview.CV_REG_XMM0 + 1: X86XMM1,
	codeview.CV_REG_XMM0 + 2: X86XMM2,
	codeview.CV_REG_XMM0 + 3: X86XMM3,
	codeview.CV_REG_XMM0 + 4: X86XMM4,
	codeview.CV_REG_XMM0 + 5: X86XMM5,
	codeview.CV_REG_XMM0 + 6: X86XMM6,
	codeview.CV_REG_XMM0 + 7: X86XMM7,
}

var x86DWARF = map[uint16]ID{
	0:  X86EAX,
	1:  X86ECX,
	2:  X86EDX,
	3:  X86EBX,
	4:  X86ESP,
	5:  X86EBP,
	6:  X86ESI,
	7:  X86EDI,
	8:  X86EIP,
	9:  X86EFLAGS,
	11: X86ST0,
	12: X86ST1,
	13: X86ST2,
	14: X86ST3,
	15: X86ST4,
	16: X86ST5,
	17: X86ST6,
	18: X86ST7,
	21: X86XMM0,
	22: X86XMM1,
	23: X86XMM2,
	24: X86XMM3,
	25: X86XMM4,
	26: X86XMM5,
	27: X86XMM6,
	28: X86XMM7,
	40: X86ES,
	41: X86CS,
	42: X86SS,
	43: X86DS,
	44: X86FS,
	45: X86GS,
}
