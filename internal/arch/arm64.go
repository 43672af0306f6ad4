package arch

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"disfacts/internal/disasm"

	"golang.org/x/arch/arm64/arm64asm"
)

// ARM64 decodes AArch64 code. Every instruction is 4 bytes.
type ARM64 struct{}

// NewARM64 returns the AArch64 decoder.
func NewARM64() *ARM64 { return &ARM64{} }

func (*ARM64) Name() string { return "ARM64" }

func (*ARM64) Passes() []Mode { return []Mode{0} }

func (*ARM64) Alignment(Mode) int { return 4 }

func (*ARM64) Decode(window []byte, addr uint64, m Mode) (disasm.Inst, Mode, error) {
	if len(window) < 4 {
		return disasm.Inst{}, m, ErrTruncatedInstruction
	}
	arm64asmMu.Lock()
	inst, err := arm64asm.Decode(window[:4])
	arm64asmMu.Unlock()
	if err != nil {
		return disasm.Inst{}, m, fmt.Errorf("%w: arm64 %#08x", ErrUnsupportedEncoding, binary.LittleEndian.Uint32(window))
	}

	out := disasm.Inst{Address: addr, Size: 4, Mnemonic: inst.Op.String()}
	for n, arg := range inst.Args {
		if arg == nil {
			break
		}
		// B.cond carries its condition as the first argument.
		if c, ok := arg.(arm64asm.Cond); ok && n == 0 && inst.Op == arm64asm.B {
			out.Cond = c.String()
			continue
		}
		if len(out.Operands) < disasm.MaxOperands {
			out.Operands = append(out.Operands, arm64Operand(inst.Op, arg, addr))
		}
	}
	return out, m, nil
}

func arm64Operand(op arm64asm.Op, arg arm64asm.Arg, pc uint64) disasm.Operand {
	switch a := arg.(type) {
	case arm64asm.Reg:
		return disasm.Reg{Name: a.String()}
	case arm64asm.RegSP:
		return disasm.Reg{Name: a.String()}
	case arm64asm.Imm:
		return disasm.Imm{Value: int64(a.Imm), Size: 4}
	case arm64asm.Imm64:
		return disasm.Imm{Value: int64(a.Imm), Size: 8}
	case arm64asm.ImmShift:
		if v, ok := parseShiftedImm(a.String()); ok {
			return disasm.Imm{Value: v}
		}
		return disasm.Special{Kind: "shifted_immediate", Value: a.String()}
	case arm64asm.PCRel:
		switch op {
		case arm64asm.ADRP:
			return disasm.Imm{Value: int64(pc&^0xfff) + int64(a), Size: 8}
		case arm64asm.LDR, arm64asm.LDRSW, arm64asm.PRFM:
			// load literal
			return disasm.Mem{Base: "PC", Disp: int64(a)}
		}
		return disasm.Imm{Value: int64(pc) + int64(a), Size: 8}
	case arm64asm.MemImmediate:
		return arm64MemImmediate(a)
	case arm64asm.MemExtend:
		return disasm.Mem{
			Base:  a.Base.String(),
			Index: a.Index.String(),
			Scale: 1 << a.Amount,
		}
	case arm64asm.RegExtshiftAmount:
		return arm64ShiftedReg(a.String())
	case arm64asm.Cond:
		return disasm.Special{Kind: "cond", Value: a.String()}
	case arm64asm.Systemreg:
		return disasm.Special{Kind: "system_register", Value: a.String()}
	case arm64asm.Imm_fp:
		return disasm.Special{Kind: "float", Value: a.String()}
	case arm64asm.RegisterWithArrangement, arm64asm.RegisterWithArrangementAndIndex:
		return disasm.Special{Kind: "vector", Value: a.String()}
	case arm64asm.Imm_option:
		return disasm.Special{Kind: "barrier", Value: a.String()}
	case arm64asm.Pstatefield:
		return disasm.Special{Kind: "pstate", Value: a.String()}
	}
	return disasm.Special{Kind: "other", Value: arg.String()}
}

// parseShiftedImm reads "#0x10" or "#0x10, LSL #12".
func parseShiftedImm(s string) (int64, bool) {
	head, shift, hasShift := strings.Cut(s, ", ")
	v, err := strconv.ParseInt(strings.TrimPrefix(head, "#"), 0, 64)
	if err != nil {
		return 0, false
	}
	if !hasShift {
		return v, true
	}
	var n uint
	if _, err := fmt.Sscanf(shift, "LSL #%d", &n); err != nil {
		return 0, false
	}
	return v << n, true
}

// arm64MemImmediate rebuilds a memory operand from its "[Xn,#imm]" text,
// since the immediate is not exported.
func arm64MemImmediate(m arm64asm.MemImmediate) disasm.Operand {
	out := disasm.Mem{Base: m.Base.String()}
	if m.Mode == arm64asm.AddrPostIndex || m.Mode == arm64asm.AddrPostReg {
		return out
	}
	s := m.String()
	if i := strings.IndexByte(s, '#'); i >= 0 {
		digits := strings.TrimRight(s[i+1:], "]!")
		if v, err := strconv.ParseInt(digits, 10, 64); err == nil {
			out.Disp = v
		}
	}
	return out
}

// arm64ShiftedReg reads "X1", "X1, LSL #2" or "W2, UXTW #1".
func arm64ShiftedReg(s string) disasm.Operand {
	r, rest, ok := strings.Cut(s, ", ")
	if !ok {
		return disasm.Reg{Name: r}
	}
	kind, amount, _ := strings.Cut(rest, " #")
	n, _ := strconv.ParseUint(amount, 10, 64)
	return disasm.Shifted{Reg: r, Shift: kind, Amount: n}
}
