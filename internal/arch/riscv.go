package arch

import (
	"encoding/binary"
	"fmt"

	"disfacts/internal/disasm"

	"golang.org/x/arch/riscv64/riscv64asm"
)

// RISCV64 decodes RV64GC code: 4-byte base encodings and 2-byte compressed ones.
type RISCV64 struct{}

// NewRISCV64 returns the RISC-V 64 decoder.
func NewRISCV64() *RISCV64 { return &RISCV64{} }

func (*RISCV64) Name() string { return "RISCV64" }

func (*RISCV64) Passes() []Mode { return []Mode{0} }

func (*RISCV64) Alignment(Mode) int { return 2 }

// riscvBranches have a PC-relative offset as their last argument.
var riscvBranches = map[riscv64asm.Op]bool{
	riscv64asm.JAL:    true,
	riscv64asm.BEQ:    true,
	riscv64asm.BNE:    true,
	riscv64asm.BLT:    true,
	riscv64asm.BGE:    true,
	riscv64asm.BLTU:   true,
	riscv64asm.BGEU:   true,
	riscv64asm.C_J:    true,
	riscv64asm.C_BEQZ: true,
	riscv64asm.C_BNEZ: true,
}

func (*RISCV64) Decode(window []byte, addr uint64, m Mode) (disasm.Inst, Mode, error) {
	if len(window) < 2 || (window[0]&3 == 3 && len(window) < 4) {
		return disasm.Inst{}, m, ErrTruncatedInstruction
	}
	riscvMu.Lock()
	inst, err := riscv64asm.Decode(window)
	riscvMu.Unlock()
	if err != nil {
		enc := uint32(binary.LittleEndian.Uint16(window))
		if window[0]&3 == 3 {
			enc = binary.LittleEndian.Uint32(window)
		}
		return disasm.Inst{}, m, fmt.Errorf("%w: riscv %#x", ErrUnsupportedEncoding, enc)
	}

	out := disasm.Inst{Address: addr, Size: inst.Len, Mnemonic: inst.Op.String()}
	var args []riscv64asm.Arg
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		args = append(args, arg)
	}
	for n, arg := range args {
		if len(out.Operands) == disasm.MaxOperands {
			break
		}
		if s, ok := arg.(riscv64asm.Simm); ok && n == len(args)-1 && riscvBranches[inst.Op] {
			out.Operands = append(out.Operands, disasm.Imm{Value: int64(addr) + int64(s.Imm)})
			continue
		}
		out.Operands = append(out.Operands, riscvOperand(arg))
	}
	return out, m, nil
}

func riscvOperand(arg riscv64asm.Arg) disasm.Operand {
	switch a := arg.(type) {
	case riscv64asm.Reg:
		return disasm.Reg{Name: a.String()}
	case riscv64asm.Simm:
		return disasm.Imm{Value: int64(a.Imm)}
	case riscv64asm.Uimm:
		return disasm.Imm{Value: int64(a.Imm)}
	case riscv64asm.RegOffset:
		return disasm.Mem{Base: a.OfsReg.String(), Disp: int64(a.Ofs.Imm)}
	case riscv64asm.AmoReg:
		s := a.String()
		return disasm.Mem{Base: s[1 : len(s)-1]}
	case riscv64asm.CSR:
		return disasm.Special{Kind: "csr", Value: a.String()}
	case riscv64asm.MemOrder:
		return disasm.Special{Kind: "memory_order", Value: a.String()}
	}
	return disasm.Special{Kind: "other", Value: arg.String()}
}
