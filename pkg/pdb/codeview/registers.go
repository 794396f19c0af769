package codeview

// CodeView register numbers (CV_REG_* and CV_AMD64_*). Values below 128
// are shared by both architectures.
const (
	CV_REG_NONE   = 0
	CV_REG_AL     = 1
	CV_REG_CL     = 2
	CV_REG_DL     = 3
	CV_REG_BL     = 4
	CV_REG_AH     = 5
	CV_REG_CH     = 6
	CV_REG_DH     = 7
	CV_REG_BH     = 8
	CV_REG_AX     = 9
	CV_REG_CX     = 10
	CV_REG_DX     = 11
	CV_REG_BX     = 12
	CV_REG_SP     = 13
	CV_REG_BP     = 14
	CV_REG_SI     = 15
	CV_REG_DI     = 16
	CV_REG_EAX    = 17
	CV_REG_ECX    = 18
	CV_REG_EDX    = 19
	CV_REG_EBX    = 20
	CV_REG_ESP    = 21
	CV_REG_EBP    = 22
	CV_REG_ESI    = 23
	CV_REG_EDI    = 24
	CV_REG_ES     = 25
	CV_REG_CS     = 26
	CV_REG_SS     = 27
	CV_REG_DS     = 28
	CV_REG_FS     = 29
	CV_REG_GS     = 30
	CV_REG_IP     = 31
	CV_REG_FLAGS  = 32
	CV_REG_EIP    = 33
	CV_REG_EFLAGS = 34

	CV_REG_ST0  = 128
	CV_REG_XMM0 = 154

	CV_AMD64_RIP   = 33
	CV_AMD64_XMM8  = 252
	CV_AMD64_SIL   = 324
	CV_AMD64_DIL   = 325
	CV_AMD64_BPL   = 326
	CV_AMD64_SPL   = 327
	CV_AMD64_RAX   = 328
	CV_AMD64_RBX   = 329
	CV_AMD64_RCX   = 330
	CV_AMD64_RDX   = 331
	CV_AMD64_RSI   = 332
	CV_AMD64_RDI   = 333
	CV_AMD64_RBP   = 334
	CV_AMD64_RSP   = 335
	CV_AMD64_R8    = 336
	CV_AMD64_R8B   = 344
	CV_AMD64_R8W   = 352
	CV_AMD64_R8D   = 360
	CV_AMD64_YMM0  = 368
	CV_AMD64_YMM15 = 383
)

// Frame pointer selectors of S_DEFRANGE_FRAMEPOINTER_REL and S_FRAMEPROC
// encoded local and parameter base registers.
const (
	FramePtrNone = 0
	FramePtrSP   = 1
	FramePtrFP   = 2
	FramePtrBP   = 3
)
