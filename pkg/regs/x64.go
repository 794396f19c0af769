package regs

import "github.com/jtang613/gosyms/pkg/pdb/codeview"

// x64 register ids. Each general purpose register has a 64-bit slot; the
// xmm registers are the low halves of the ymm slots.
const (
	X64Nil ID = iota
	X64RAX
	X64RCX
	X64RDX
	X64RBX
	X64RSP
	X64RBP
	X64RSI
	X64RDI
	X64R8
	X64R9
	X64R10
	X64R11
	X64R12
	X64R13
	X64R14
	X64R15
	X64EAX
	X64ECX
	X64EDX
	X64EBX
	X64ESP
	X64EBP
	X64ESI
	X64EDI
	X64R8D
	X64R9D
	X64R10D
	X64R11D
	X64R12D
	X64R13D
	X64R14D
	X64R15D
	X64AX
	X64CX
	X64DX
	X64BX
	X64SP
	X64BP
	X64SI
	X64DI
	X64R8W
	X64R9W
	X64R10W
	X64R11W
	X64R12W
	X64R13W
	X64R14W
	X64R15W
	X64AL
	X64CL
	X64DL
	X64BL
	X64SPL
	X64BPL
	X64SIL
	X64DIL
	X64R8B
	X64R9B
	X64R10B
	X64R11B
	X64R12B
	X64R13B
	X64R14B
	X64R15B
	X64AH
	X64CH
	X64DH
	X64BH
	X64RIP
	X64RFLAGS
	X64EFLAGS
	X64ES
	X64CS
	X64SS
	X64DS
	X64FS
	X64GS
	X64ST0
	X64ST1
	X64ST2
	X64ST3
	X64ST4
	X64ST5
	X64ST6
	X64ST7
	X64XMM0
	X64XMM1
	X64XMM2
	X64XMM3
	X64XMM4
	X64XMM5
	X64XMM6
	X64XMM7
	X64XMM8
	X64XMM9
	X64XMM10
	X64XMM11
	X64XMM12
	X64XMM13
	X64XMM14
	X64XMM15
	X64YMM0
	X64YMM1
	X64YMM2
	X64YMM3
	X64YMM4
	X64YMM5
	X64YMM6
	X64YMM7
	X64YMM8
	X64YMM9
	X64YMM10
	X64YMM11
	X64YMM12
	X64YMM13
	X64YMM14
	X64YMM15
	x64Count
)

const x64FileSize = 800

var x64Table = [...]Descriptor{
	X64RAX:    {"rax", ClassGPR, 0, 0, 64},
	X64RCX:    {"rcx", ClassGPR, 8, 0, 64},
	X64RDX:    {"rdx", ClassGPR, 16, 0, 64},
	X64RBX:    {"rbx", ClassGPR, 24, 0, 64},
	X64RSP:    {"rsp", ClassGPR, 32, 0, 64},
	X64RBP:    {"rbp", ClassGPR, 40, 0, 64},
	X64RSI:    {"rsi", ClassGPR, 48, 0, 64},
	X64RDI:    {"rdi", ClassGPR, 56, 0, 64},
	X64R8:     {"r8", ClassGPR, 64, 0, 64},
	X64R9:     {"r9", ClassGPR, 72, 0, 64},
	X64R10:    {"r10", ClassGPR, 80, 0, 64},
	X64R11:    {"r11", ClassGPR, 88, 0, 64},
	X64R12:    {"r12", ClassGPR, 96, 0, 64},
	X64R13:    {"r13", ClassGPR, 104, 0, 64},
	X64R14:    {"r14", ClassGPR, 112, 0, 64},
	X64R15:    {"r15", ClassGPR, 120, 0, 64},
	X64EAX:    {"eax", ClassGPR, 0, 0, 32},
	X64ECX:    {"ecx", ClassGPR, 8, 0, 32},
	X64EDX:    {"edx", ClassGPR, 16, 0, 32},
	X64EBX:    {"ebx", ClassGPR, 24, 0, 32},
	X64ESP:    {"esp", ClassGPR, 32, 0, 32},
	X64EBP:    {"ebp", ClassGPR, 40, 0, 32},
	X64ESI:    {"esi", ClassGPR, 48, 0, 32},
	X64EDI:    {"edi", ClassGPR, 56, 0, 32},
	X64R8D:    {"r8d", ClassGPR, 64, 0, 32},
	X64R9D:    {"r9d", ClassGPR, 72, 0, 32},
	X64R10D:   {"r10d", ClassGPR, 80, 0, 32},
	X64R11D:   {"r11d", ClassGPR, 88, 0, 32},
	X64R12D:   {"r12d", ClassGPR, 96, 0, 32},
	X64R13D:   {"r13d", ClassGPR, 104, 0, 32},
	X64R14D:   {"r14d", ClassGPR, 112, 0, 32},
	X64R15D:   {"r15d", ClassGPR, 120, 0, 32},
	X64AX:     {"ax", ClassGPR, 0, 0, 16},
	X64CX:     {"cx", ClassGPR, 8, 0, 16},
	X64DX:     {"dx", ClassGPR, 16, 0, 16},
	X64BX:     {"bx", ClassGPR, 24, 0, 16},
	X64SP:     {"sp", ClassGPR, 32, 0, 16},
	X64BP:     {"bp", ClassGPR, 40, 0, 16},
	X64SI:     {"si", ClassGPR, 48, 0, 16},
	X64DI:     {"di", ClassGPR, 56, 0, 16},
	X64R8W:    {"r8w", ClassGPR, 64, 0, 16},
	X64R9W:    {"r9w", ClassGPR, 72, 0, 16},
	X64R10W:   {"r10w", ClassGPR, 80, 0, 16},
	X64R11W:   {"r11w", ClassGPR, 88, 0, 16},
	X64R12W:   {"r12w", ClassGPR, 96, 0, 16},
	X64R13W:   {"r13w", ClassGPR, 104, 0, 16},
	X64R14W:   {"r14w", ClassGPR, 112, 0, 16},
	X64R15W:   {"r15w", ClassGPR, 120, 0, 16},
	X64AL:     {"al", ClassGPR, 0, 0, 8},
	X64CL:     {"cl", ClassGPR, 8, 0, 8},
	X64DL:     {"dl", ClassGPR, 16, 0, 8},
	X64BL:     {"bl", ClassGPR, 24, 0, 8},
	X64SPL:    {"spl", ClassGPR, 32, 0, 8},
	X64BPL:    {"bpl", ClassGPR, 40, 0, 8},
	X64SIL:    {"sil", ClassGPR, 48, 0, 8},
	X64DIL:    {"dil", ClassGPR, 56, 0, 8},
	X64R8B:    {"r8b", ClassGPR, 64, 0, 8},
	X64R9B:    {"r9b", ClassGPR, 72, 0, 8},
	X64R10B:   {"r10b", ClassGPR, 80, 0, 8},
	X64R11B:   {"r11b", ClassGPR, 88, 0, 8},
	X64R12B:   {"r12b", ClassGPR, 96, 0, 8},
	X64R13B:   {"r13b", ClassGPR, 104, 0, 8},
	X64R14B:   {"r14b", ClassGPR, 112, 0, 8},
	X64R15B:   {"r15b", ClassGPR, 120, 0, 8},
	X64AH:     {"ah", ClassGPR, 0, 8, 8},
	X64CH:     {"ch", ClassGPR, 8, 8, 8},
	X64DH:     {"dh", ClassGPR, 16, 8, 8},
	X64BH:     {"bh", ClassGPR, 24, 8, 8},
	X64RIP:    {"rip", ClassState, 128, 0, 64},
	X64RFLAGS: {"rflags", ClassControl, 136, 0, 64},
	X64EFLAGS: {"eflags", ClassControl, 136, 0, 32},
	X64ES:     {"es", ClassSegment, 144, 0, 16},
	X64CS:     {"cs", ClassSegment, 146, 0, 16},
	X64SS:     {"ss", ClassSegment, 148, 0, 16},
	X64DS:     {"ds", ClassSegment, 150, 0, 16},
	X64FS:     {"fs", ClassSegment, 152, 0, 16},
	X64GS:     {"gs", ClassSegment, 154, 0, 16},
	X64ST0:    {"st0", ClassFP, 160, 0, 80},
	X64ST1:    {"st1", ClassFP, 176, 0, 80},
	X64ST2:    {"st2", ClassFP, 192, 0, 80},
	X64ST3:    {"st3", ClassFP, 208, 0, 80},
	X64ST4:    {"st4", ClassFP, 224, 0, 80},
	X64ST5:    {"st5", ClassFP, 240, 0, 80},
	X64ST6:    {"st6", ClassFP, 256, 0, 80},
	X64ST7:    {"st7", ClassFP, 272, 0, 80},
	X64XMM0:   {"xmm0", ClassVector, 288, 0, 128},
	X64XMM1:   {"xmm1", ClassVector, 320, 0, 128},
	X64XMM2:   {"xmm2", ClassVector, 352, 0, 128},
	X64XMM3:   {"xmm3", ClassVector, 384, 0, 128},
	X64XMM4:   {"xmm4", ClassVector, 416, 0, 128},
	X64XMM5:   {"xmm5", ClassVector, 448, 0, 128},
	X64XMM6:   {"xmm6", ClassVector, 480, 0, 128},
	X64XMM7:   {"xmm7", ClassVector, 512, 0, 128},
	X64XMM8:   {"xmm8", ClassVector, 544, 0, 128},
	X64XMM9:   {"xmm9", ClassVector, 576, 0, 128},
	X64XMM10:  {"xmm10", ClassVector, 608, 0, 128},
	X64XMM11:  {"xmm11", ClassVector, 640, 0, 128},
	X64XMM12:  {"xmm12", ClassVector, 672, 0, 128},
	X64XMM13:  {"xmm13", ClassVector, 704, 0, 128},
	X64XMM14:  {"xmm14", ClassVector, 736, 0, 128},
	X64XMM15:  {"xmm15", ClassVector, 768, 0, 128},
	X64YMM0:   {"ymm0", ClassVector, 288, 0, 256},
	X64YMM1:   {"ymm1", ClassVector, 320, 0, 256},
	X64YMM2:   {"ymm2", ClassVector, 352, 0, 256},
	X64YMM3:   {"ymm3", ClassVector, 384, 0, 256},
	X64YMM4:   {"ymm4", ClassVector, 416, 0, 256},
	X64YMM5:   {"ymm5", ClassVector, 448, 0, 256},
	X64YMM6:   {"ymm6", ClassVector, 480, 0, 256},
	X64YMM7:   {"ymm7", ClassVector, 512, 0, 256},
	X64YMM8:   {"ymm8", ClassVector, 544, 0, 256},
	X64YMM9:   {"ymm9", ClassVector, 576, 0, 256},
	X64YMM10:  {"ymm10", ClassVector, 608, 0, 256},
	X64YMM11:  {"ymm11", ClassVector, 640, 0, 256},
	X64YMM12:  {"ymm12", ClassVector, 672, 0, 256},
	X64YMM13:  {"ymm13", ClassVector, 704, 0, 256},
	X64YMM14:  {"ymm14", ClassVector, 736, 0, 256},
	X64YMM15:  {"ymm15", ClassVector, 768, 0, 256},
}

var x64CodeView = map[uint16]ID{
	codeview.CV_REG_AL:          X64AL,
	codeview.CV_REG_CL:          X64CL,
	codeview.CV_REG_DL:          X64DL,
	codeview.CV_REG_BL:          X64BL,
	codeview.CV_REG_AH:          X64AH,
	codeview.CV_REG_CH:          X64CH,
	codeview.CV_REG_DH:          X64DH,
	codeview.CV_REG_BH:          X64BH,
	codeview.CV_REG_AX:          X64AX,
	codeview.CV_REG_CX:          X64CX,
	codeview.CV_REG_DX:          X64DX,
	codeview.CV_REG_BX:          X64BX,
	codeview.CV_REG_SP:          X64SP,
	codeview.CV_REG_BP:          X64BP,
	codeview.CV_REG_SI:          X64SI,
	codeview.CV_REG_DI:          X64DI,
	codeview.CV_REG_EAX:         X64EAX,
	codeview.CV_REG_ECX:         X64ECX,
	codeview.CV_REG_EDX:         X64EDX,
	codeview.CV_REG_EBX:         X64EBX,
	codeview.CV_REG_ESP:         X64ESP,
	codeview.CV_REG_EBP:         X64EBP,
	codeview.CV_REG_ESI:         X64ESI,
	codeview.CV_REG_EDI:         X64EDI,
	codeview.CV_REG_ES:          X64ES,
	codeview.CV_REG_CS:          X64CS,
	codeview.CV_REG_SS:          X64SS,
	codeview.CV_REG_DS:          X64DS,
	codeview.CV_REG_FS:          X64FS,
	codeview.CV_REG_GS:          X64GS,
	codeview.CV_REG_EFLAGS:      X64EFLAGS,
	codeview.CV_AMD64_RIP:       X64RIP,
	codeview.CV_REG_ST0:         X64ST0,
	codeview.CV_REG_ST0 + 1:     X64ST1,
	codeview.CV_REG_ST0 + 2:     X64ST2,
	codeview.CV_REG_ST0 + 3:     X64ST3,
	codeview.CV_REG_ST0 + 4:     X64ST4,
	codeview.CV_REG_ST0 + 5:     X64ST5,
	codeview.CV_REG_ST0 + 6:     X64ST6,
	codeview.CV_REG_ST0 + 7:     X64ST7,
	codeview.CV_REG_XMM0:        X64XMM0,
	codeview.CV_REG_XMM0 + 1:    X64XMM1,
	codeview.CV_REG_XMM0 + 2:    X64XMM2,
	codeview.CV_REG_XMM0 + 3:    X64XMM3,
	codeview.CV_REG_XMM0 + 4:    X64XMM4,
	codeview.CV_REG_XMM0 + 5:    X64XMM5,
	codeview.CV_REG_XMM0 + 6:    X64XMM6,
	codeview.CV_REG_XMM0 + 7:    X64XMM7,
	codeview.CV_AMD64_XMM8:      X64XMM8,
	codeview.CV_AMD64_XMM8 + 1:  X64XMM9,
	codeview.CV_AMD64_XMM8 + 2:  X64XMM10,
	codeview.CV_AMD64_XMM8 + 3:  X64XMM11,
	codeview.CV_AMD64_XMM8 + 4:  X64XMM12,
	codeview.CV_AMD64_XMM8 + 5:  X64XMM13,
	codeview.CV_AMD64_XMM8 + 6:  X64XMM14,
	codeview.CV_AMD64_XMM8 + 7:  X64XMM15,
	codeview.CV_AMD64_SIL:       X64SIL,
	codeview.CV_AMD64_DIL:       X64DIL,
	codeview.CV_AMD64_BPL:       X64BPL,
	codeview.CV_AMD64_SPL:       X64SPL,
	codeview.CV_AMD64_RAX:       X64RAX,
	codeview.CV_AMD64_RBX:       X64RBX,
	codeview.CV_AMD64_RCX:       X64RCX,
	codeview.CV_AMD64_RDX:       X64RDX,
	codeview.CV_AMD64_RSI:       X64RSI,
	codeview.CV_AMD64_RDI:       X64RDI,
	codeview.CV_AMD64_RBP:       X64RBP,
	codeview.CV_AMD64_RSP:       X64RSP,
	codeview.CV_AMD64_R8:        X64R8,
	codeview.CV_AMD64_R8 + 1:    X64R9,
	codeview.CV_AMD64_R8 + 2:    X64R10,
	codeview.CV_AMD64_R8 + 3:    X64R11,
	codeview.CV_AMD64_R8 + 4:    X64R12,
	codeview.CV_AMD64_R8 + 5:    X64R13,
	codeview.CV_AMD64_R8 + 6:    X64R14,
	codeview.CV_AMD64_R8 + 7:    X64R15,
	codeview.CV_AMD64_R8B:       X64R8B,
	codeview.CV_AMD64_R8B + 1:   X64R9B,
	codeview.CV_AMD64_R8B + 2:   X64R10B,
	codeview.CV_AMD64_R8B + 3:   X64R11B,
	codeview.CV_AMD64_R8B + 4:   X64R12B,
	codeview.CV_AMD64_R8B + 5:   X64R13B,
	codeview.CV_AMD64_R8B + 6:   X64R14B,
	codeview.CV_AMD64_R8B + 7:   X64R15B,
	codeview.CV_AMD64_R8W:       X64R8W,
	codeview.CV_AMD64_R8W + 1:   X64R9W,
	codeview.CV_AMD64_R8W + 2:   X64R10W,
	codeview.CV_AMD64_R8W + 3:   X64R11W,
	codeview.CV_AMD64_R8W + 4:   X64R12W,
	codeview.CV_AMD64_R8W + 5:   X64R13W,
	codeview.CV_AMD64_R8W + 6:   X64R14W,
	codeview.CV_AMD64_R8W + 7:   X64R15W,
	codeview.CV_AMD64_R8D:       X64R8D,
	codeview.CV_AMD64_R8D + 1:   X64R9D,
	codeview.CV_AMD64_R8D + 2:   X64R10D,
	codeview.CV_AMD64_R8D + 3:   X64R11D,
	codeview.CV_AMD64_R8D + 4:   X64R12D,
	codeview.CV_AMD64_R8D + 5:   X64R13D,
	codeview.CV_AMD64_R8D + 6:   X64R14D,
	codeview.CV_AMD64_R8D + 7:   X64R15D,
	codeview.CV_AMD64_YMM0:      X64YMM0,
	codeview.CV_AMD64_YMM0 + 1:  X64YMM1,
	codeview.CV_AMD64_YMM0 + 2:  X64YMM2,
	codeview.CV_AMD64_YMM0 + 3:  X64YMM3,
	codeview.CV_AMD64_YMM0 + 4:  X64YMM4,
	codeview.CV_AMD64_YMM0 + 5:  X64YMM5,
	codeview.CV_AMD64_YMM0 + 6:  X64YMM6,
	codeview.CV_AMD64_YMM0 + 7:  X64YMM7,
	codeview.CV_AMD64_YMM0 + 8:  X64YMM8,
	codeview.CV_AMD64_YMM0 + 9:  X64YMM9,
	codeview.CV_AMD64_YMM0 + 10: X64YMM10,
	codeview.CV_AMD64_YMM0 + 11: X64YMM11,
	codeview.CV_AMD64_YMM0 + 12: X64YMM12,
	codeview.CV_AMD64_YMM0 + 13: X64YMM13,
	codeview.CV_AMD64_YMM0 + 14: X64YMM14,
	codeview.CV_AMD64_YMM0 + 15: X64YMM15,
}

var x64DWARF = map[uint16]ID{
	0:  X64RAX,
	1:  X64RDX,
	2:  X64RCX,
	3:  X64RBX,
	4:  X64RSI,
	5:  X64RDI,
	6:  X64RBP,
	7:  X64RSP,
	8:  X64R8,
	9:  X64R9,
	10: X64R10,
	11: X64R11,
	12: X64R12,
	13: X64R13,
	14: X64R14,
	15: X64R15,
	16: X64RIP,
	17: X64XMM0,
	18: X64XMM1,
	19: X64XMM2,
	20: X64XMM3,
	21: X64XMM4,
	22: X64XMM5,
	23: X64XMM6,
	24: X64XMM7,
	25: X64XMM8,
	26: X64XMM9,
	27: X64XMM10,
	28: X64XMM11,
	29: X64XMM12,
	30: X64XMM13,
	31: X64XMM14,
	32: X64XMM15,
	33: X64ST0,
	34: X64ST1,
	35: X64ST2,
	36: X64ST3,
	37: X64ST4,
	38: X64ST5,
	39: X64ST6,
	40: X64ST7,
	49: X64RFLAGS,
	50: X64ES,
	51: X64CS,
	52: X64SS,
	53: X64DS,
	54: X64FS,
	55: X64GS,
}
