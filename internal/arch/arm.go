package arch

import (
	"encoding/binary"
	"fmt"
	"strings"

	"disfacts/internal/disasm"

	"golang.org/x/arch/arm/armasm"
)

// ThumbMode is the ARM mode bit selecting the Thumb instruction set. Bits
// 8-15 of an ARM mode hold the IT block state.
const ThumbMode Mode = 1

// ARM decodes 32-bit ARM code in two passes: ARM state, then Thumb state.
type ARM struct{}

// NewARM returns the ARM/Thumb decoder.
func NewARM() *ARM { return &ARM{} }

func (*ARM) Name() string { return "ARM" }

func (*ARM) Passes() []Mode { return []Mode{0, ThumbMode} }

// AddressOf sets bit 0 for Thumb positions.
func (*ARM) AddressOf(addr uint64, m Mode) uint64 {
	if m&ThumbMode != 0 {
		return addr | 1
	}
	return addr
}

func (*ARM) Alignment(m Mode) int {
	if m&ThumbMode != 0 {
		return 2
	}
	return 4
}

func (*ARM) Decode(window []byte, addr uint64, m Mode) (disasm.Inst, Mode, error) {
	if m&ThumbMode != 0 {
		return decodeThumb(window, addr, m)
	}
	if len(window) < 4 {
		return disasm.Inst{}, m, ErrTruncatedInstruction
	}
	armasmMu.Lock()
	inst, err := armasm.Decode(window[:4], armasm.ModeARM)
	armasmMu.Unlock()
	if err != nil {
		return disasm.Inst{}, m, fmt.Errorf("%w: arm %#08x", ErrUnsupportedEncoding, binary.LittleEndian.Uint32(window))
	}

	out := disasm.Inst{Address: addr, Size: inst.Len}
	out.Mnemonic, out.Cond = splitARMOp(inst.Op.String())
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		// an empty register list is UNPREDICTABLE
		if list, ok := arg.(armasm.RegList); ok && list == 0 {
			return disasm.Inst{}, m, fmt.Errorf("%w: arm %#08x", ErrUnsupportedEncoding, binary.LittleEndian.Uint32(window))
		}
		if op := armOperand(arg, addr); op != nil && len(out.Operands) < disasm.MaxOperands {
			out.Operands = append(out.Operands, op)
		}
	}
	return out, m, nil
}

// splitARMOp separates an armasm op name such as "ADD.S.EQ" or
// "VADD.EQ.F32" into a mnemonic ("ADDS", "VADD.F32") and a condition.
func splitARMOp(op string) (mnemonic, cond string) {
	parts := strings.Split(op, ".")
	mnemonic = parts[0]
	for _, p := range parts[1:] {
		switch {
		case isCondition(p):
			cond = p
		case p == "ZZ":
		case p == "S":
			mnemonic += "S"
		default:
			mnemonic += "." + p
		}
	}
	return mnemonic, cond
}

func armOperand(arg armasm.Arg, pc uint64) disasm.Operand {
	switch a := arg.(type) {
	case armasm.Reg:
		return disasm.Reg{Name: a.String()}
	case armasm.Imm:
		return disasm.Imm{Value: int64(uint32(a)), Size: 4}
	case armasm.ImmAlt:
		return disasm.Imm{Value: int64(uint32(a.Imm())), Size: 4}
	case armasm.Label:
		return disasm.Imm{Value: int64(uint32(a)), Size: 4}
	case armasm.PCRel:
		return disasm.Imm{Value: int64(uint32(pc) + 8 + uint32(a)), Size: 4}
	case armasm.RegX:
		return disasm.Special{Kind: "lane", Value: a.String()}
	case armasm.RegList:
		return disasm.RegList{Regs: armRegList(uint16(a))}
	case armasm.RegShift:
		if a.Shift == armasm.ShiftLeft && a.Count == 0 {
			return disasm.Reg{Name: a.Reg.String()}
		}
		return disasm.Shifted{Reg: a.Reg.String(), Shift: a.Shift.String(), Amount: uint64(a.Count)}
	case armasm.RegShiftReg:
		return disasm.Special{Kind: "shift_register", Value: a.String()}
	case armasm.Mem:
		return armMem(a)
	case armasm.Endian:
		return disasm.Special{Kind: "endian", Value: a.String()}
	case armasm.Float32Imm, armasm.Float64Imm:
		return disasm.Special{Kind: "float", Value: a.String()}
	}
	return disasm.Special{Kind: "other", Value: arg.String()}
}

func armMem(m armasm.Mem) disasm.Operand {
	out := disasm.Mem{Base: m.Base.String()}
	if m.Mode == armasm.AddrLDM || m.Mode == armasm.AddrLDM_WB {
		return disasm.Reg{Name: out.Base}
	}
	if m.Mode == armasm.AddrPostIndex {
		return out
	}
	if m.Sign != 0 {
		out.Index = m.Index.String()
		out.Scale = int64(m.Sign)
		if m.Shift == armasm.ShiftLeft {
			out.Scale <<= m.Count
		}
		return out
	}
	out.Disp = int64(m.Offset)
	return out
}

func armRegList(mask uint16) []string {
	var regs []string
	for i := 0; i < 16; i++ {
		if mask&(1<<uint(i)) != 0 {
			regs = append(regs, armasm.Reg(i).String())
		}
	}
	return regs
}
