package arch

import (
	"encoding/binary"
	"fmt"

	"disfacts/internal/disasm"

	"golang.org/x/arch/arm/armasm"
)

// IT block state lives in bits 8-15 of the mode: firstcond in the high
// nibble, the remaining mask in the low nibble.
const (
	itShift = 8
	itMask  = Mode(0xff) << itShift
)

func itState(m Mode) uint8 { return uint8(m >> itShift) }

func withIT(m Mode, it uint8) Mode { return m&^itMask | Mode(it)<<itShift }

// advanceIT steps the IT state past one instruction.
func advanceIT(it uint8) uint8 {
	if it&0x7 == 0 {
		return 0
	}
	return it&0xe0 | (it<<1)&0x1f
}

func reg(n uint16) disasm.Operand { return disasm.Reg{Name: armasm.Reg(n).String()} }

func imm(v int64) disasm.Operand { return disasm.Imm{Value: v} }

func mem(base uint16, disp int64) disasm.Operand {
	return disasm.Mem{Base: armasm.Reg(base).String(), Disp: disp}
}

func signExtend(v uint32, bits uint) int64 {
	shift := 32 - bits
	return int64(int32(v<<shift) >> shift)
}

// decodeThumb decodes one Thumb instruction: the 16-bit instruction set,
// 32-bit BL/BLX and B.W branches, CBZ/CBNZ and IT blocks. Other 32-bit
// Thumb-2 encodings are reported as unsupported.
func decodeThumb(window []byte, addr uint64, m Mode) (disasm.Inst, Mode, error) {
	if len(window) < 2 {
		return disasm.Inst{}, m, ErrTruncatedInstruction
	}
	it := itState(m)
	hw := binary.LittleEndian.Uint16(window)

	var (
		inst disasm.Inst
		err  error
	)
	if hw>>11 >= 0x1d {
		if len(window) < 4 {
			return disasm.Inst{}, withIT(m, 0), ErrTruncatedInstruction
		}
		inst, err = thumb32(hw, binary.LittleEndian.Uint16(window[2:]), addr)
		inst.Size = 4
	} else {
		inst, err = thumb16(hw, addr)
		inst.Size = 2
	}
	if err != nil {
		return disasm.Inst{}, withIT(m, 0), err
	}
	inst.Address = addr | 1

	switch {
	case hw&0xff00 == 0xbf00 && hw&0xf != 0:
		return inst, withIT(m, uint8(hw)), nil
	case it&0xf != 0:
		inst.Cond = conditions[it>>4]
		return inst, withIT(m, advanceIT(it)), nil
	}
	return inst, m, nil
}

func unsupportedThumb(hw uint16) error {
	return fmt.Errorf("%w: thumb %#04x", ErrUnsupportedEncoding, hw)
}

var (
	thumbShiftOps = [3]string{"LSLS", "LSRS", "ASRS"}
	thumbImmOps   = [4]string{"MOVS", "CMP", "ADDS", "SUBS"}
	thumbALUOps   = [16]string{
		"ANDS", "EORS", "LSLS", "LSRS", "ASRS", "ADCS", "SBCS", "RORS",
		"TST", "RSBS", "CMP", "CMN", "ORRS", "MULS", "BICS", "MVNS",
	}
	thumbLoadStoreReg = [8]string{"STR", "STRH", "STRB", "LDRSB", "LDR", "LDRH", "LDRB", "LDRSH"}
	thumbLoadStoreImm = [4]string{"STR", "LDR", "STRB", "LDRB"}
	thumbExtendOps    = [4]string{"SXTH", "SXTB", "UXTH", "UXTB"}
	thumbHints        = [5]string{"NOP", "YIELD", "WFE", "WFI", "SEV"}
)

func thumb16(hw uint16, addr uint64) (disasm.Inst, error) {
	rd := hw & 7
	rn := (hw >> 3) & 7
	var i disasm.Inst
	op := func(mnemonic string, ops ...disasm.Operand) (disasm.Inst, error) {
		i.Mnemonic = mnemonic
		i.Operands = ops
		return i, nil
	}

	switch {
	case hw>>11 == 0x3: // add/subtract register or 3-bit immediate
		mn := "ADDS"
		if hw&(1<<9) != 0 {
			mn = "SUBS"
		}
		third := (hw >> 6) & 7
		if hw&(1<<10) != 0 {
			return op(mn, reg(rd), reg(rn), imm(int64(third)))
		}
		return op(mn, reg(rd), reg(rn), reg(third))

	case hw>>13 == 0: // shift by immediate
		kind := (hw >> 11) & 3
		amount := int64((hw >> 6) & 0x1f)
		if kind == 0 && amount == 0 {
			return op("MOVS", reg(rd), reg(rn))
		}
		if kind != 0 && amount == 0 {
			amount = 32
		}
		return op(thumbShiftOps[kind], reg(rd), reg(rn), imm(amount))

	case hw>>13 == 1: // move/compare/add/subtract immediate
		return op(thumbImmOps[(hw>>11)&3], reg((hw>>8)&7), imm(int64(hw&0xff)))

	case hw>>10 == 0x10: // data processing
		alu := (hw >> 6) & 0xf
		if alu == 9 {
			return op("RSBS", reg(rd), reg(rn), imm(0))
		}
		return op(thumbALUOps[alu], reg(rd), reg(rn))

	case hw>>10 == 0x11: // high register operations and branch exchange
		rm := (hw >> 3) & 0xf
		rdn := (hw>>4)&8 | rd
		switch (hw >> 8) & 3 {
		case 0:
			return op("ADD", reg(rdn), reg(rm))
		case 1:
			return op("CMP", reg(rdn), reg(rm))
		case 2:
			return op("MOV", reg(rdn), reg(rm))
		}
		if hw&(1<<7) != 0 {
			return op("BLX", reg(rm))
		}
		return op("BX", reg(rm))

	case hw>>11 == 0x9: // load from literal pool
		return op("LDR", reg((hw>>8)&7), mem(15, int64(hw&0xff)<<2))

	case hw>>12 == 0x5: // load/store register offset
		m := disasm.Mem{
			Base:  armasm.Reg(rn).String(),
			Index: armasm.Reg((hw >> 6) & 7).String(),
			Scale: 1,
		}
		return op(thumbLoadStoreReg[(hw>>9)&7], reg(rd), m)

	case hw>>13 == 0x3: // load/store word or byte immediate offset
		off := int64((hw >> 6) & 0x1f)
		byteOp := hw&(1<<12) != 0
		if !byteOp {
			off <<= 2
		}
		return op(thumbLoadStoreImm[(hw>>11)&3], reg(rd), mem(rn, off))

	case hw>>12 == 0x8: // load/store halfword
		mn := "STRH"
		if hw&(1<<11) != 0 {
			mn = "LDRH"
		}
		return op(mn, reg(rd), mem(rn, int64((hw>>6)&0x1f)<<1))

	case hw>>12 == 0x9: // SP-relative load/store
		mn := "STR"
		if hw&(1<<11) != 0 {
			mn = "LDR"
		}
		return op(mn, reg((hw>>8)&7), mem(13, int64(hw&0xff)<<2))

	case hw>>12 == 0xa: // ADR and ADD Rd, SP, #imm
		off := int64(hw&0xff) << 2
		if hw&(1<<11) != 0 {
			return op("ADD", reg((hw>>8)&7), reg(13), imm(off))
		}
		target := int64((addr+4)&^3) + off
		return op("ADR", reg((hw>>8)&7), imm(target))

	case hw>>12 == 0xb:
		return thumbMisc(hw, addr)

	case hw>>12 == 0xc: // load/store multiple
		rb := (hw >> 8) & 7
		if hw&0xff == 0 {
			return i, unsupportedThumb(hw)
		}
		list := disasm.RegList{Regs: armRegList(hw & 0xff)}
		if hw&(1<<11) != 0 {
			if hw&(1<<rb) == 0 {
				return op("LDM", disasm.Special{Kind: "writeback", Value: armasm.Reg(rb).String() + "!"}, list)
			}
			return op("LDM", reg(rb), list)
		}
		return op("STM", disasm.Special{Kind: "writeback", Value: armasm.Reg(rb).String() + "!"}, list)

	case hw>>12 == 0xd: // conditional branch and supervisor call
		cond := (hw >> 8) & 0xf
		switch cond {
		case 0xe:
			return op("UDF", imm(int64(hw&0xff)))
		case 0xf:
			return op("SVC", imm(int64(hw&0xff)))
		}
		i.Cond = conditions[cond]
		target := int64(addr) + 4 + signExtend(uint32(hw&0xff)<<1, 9)
		return op("B", imm(target))

	case hw>>11 == 0x1c: // unconditional branch
		target := int64(addr) + 4 + signExtend(uint32(hw&0x7ff)<<1, 12)
		return op("B", imm(target))
	}
	return i, unsupportedThumb(hw)
}

func thumbMisc(hw uint16, addr uint64) (disasm.Inst, error) {
	var i disasm.Inst
	op := func(mnemonic string, ops ...disasm.Operand) (disasm.Inst, error) {
		i.Mnemonic = mnemonic
		i.Operands = ops
		return i, nil
	}
	rd := hw & 7
	rm := (hw >> 3) & 7

	switch {
	case hw&0xff00 == 0xb000: // adjust stack pointer
		off := int64(hw&0x7f) << 2
		if hw&(1<<7) != 0 {
			return op("SUB", reg(13), reg(13), imm(off))
		}
		return op("ADD", reg(13), reg(13), imm(off))

	case hw&0xf500 == 0xb100: // compare and branch on (non-)zero
		off := uint64((hw>>9)&1)<<6 | uint64((hw>>3)&0x1f)<<1
		mn := "CBZ"
		if hw&(1<<11) != 0 {
			mn = "CBNZ"
		}
		return op(mn, reg(rd), imm(int64(addr+4+off)))

	case hw&0xff00 == 0xb200:
		return op(thumbExtendOps[(hw>>6)&3], reg(rd), reg(rm))

	case hw&0xfe00 == 0xb400:
		if hw&0x1ff == 0 {
			return i, unsupportedThumb(hw)
		}
		list := armRegList(hw & 0xff)
		if hw&(1<<8) != 0 {
			list = append(list, "LR")
		}
		return op("PUSH", disasm.RegList{Regs: list})

	case hw&0xfe00 == 0xbc00:
		if hw&0x1ff == 0 {
			return i, unsupportedThumb(hw)
		}
		list := armRegList(hw & 0xff)
		if hw&(1<<8) != 0 {
			list = append(list, "PC")
		}
		return op("POP", disasm.RegList{Regs: list})

	case hw&0xffe8 == 0xb660: // change processor state
		mn := "CPSIE"
		if hw&(1<<4) != 0 {
			mn = "CPSID"
		}
		flags := ""
		for bit, name := range []string{"f", "i", "a"} {
			if hw&(1<<uint(bit)) != 0 {
				flags = name + flags
			}
		}
		return op(mn, disasm.Special{Kind: "interrupt_flags", Value: flags})

	case hw&0xff00 == 0xba00:
		switch (hw >> 6) & 3 {
		case 0:
			return op("REV", reg(rd), reg(rm))
		case 1:
			return op("REV16", reg(rd), reg(rm))
		case 3:
			return op("REVSH", reg(rd), reg(rm))
		}

	case hw&0xff00 == 0xbe00:
		return op("BKPT", imm(int64(hw&0xff)))

	case hw&0xff00 == 0xbf00:
		mask := hw & 0xf
		firstcond := (hw >> 4) & 0xf
		if mask == 0 {
			if firstcond < uint16(len(thumbHints)) {
				return op(thumbHints[firstcond])
			}
			break
		}
		if firstcond == 0xf || (firstcond == 0xe && mask&(mask-1) != 0) {
			break
		}
		cond := conditions[firstcond]
		if firstcond == 0xe {
			cond = "AL"
		}
		return op(itMnemonic(firstcond, mask), disasm.Special{Kind: "cond", Value: cond})
	}
	return i, unsupportedThumb(hw)
}

// itMnemonic spells an IT instruction's then/else pattern, e.g. "ITTE".
func itMnemonic(firstcond, mask uint16) string {
	s := "IT"
	low := 0
	for mask&(1<<uint(low)) == 0 {
		low++
	}
	for bit := 3; bit > low; bit-- {
		if (mask>>uint(bit))&1 == firstcond&1 {
			s += "T"
		} else {
			s += "E"
		}
	}
	return s
}

func thumb32(hw1, hw2 uint16, addr uint64) (disasm.Inst, error) {
	var i disasm.Inst
	if hw1>>11 != 0x1e || hw2&0x8000 == 0 {
		return i, fmt.Errorf("%w: thumb2 %#04x %#04x", ErrUnsupportedEncoding, hw1, hw2)
	}
	s := uint32(hw1>>10) & 1
	j1 := uint32(hw2>>13) & 1
	j2 := uint32(hw2>>11) & 1
	imm11 := uint32(hw2 & 0x7ff)

	if hw2&0x5000 == 0 { // conditional B.W
		cond := (hw1 >> 6) & 0xf
		if cond >= 0xe {
			return i, fmt.Errorf("%w: thumb2 %#04x %#04x", ErrUnsupportedEncoding, hw1, hw2)
		}
		imm6 := uint32(hw1 & 0x3f)
		off := signExtend(s<<20|j2<<19|j1<<18|imm6<<12|imm11<<1, 21)
		i.Mnemonic = "B.W"
		i.Cond = conditions[cond]
		i.Operands = []disasm.Operand{imm(int64(addr) + 4 + off)}
		return i, nil
	}

	i1 := ^(j1 ^ s) & 1
	i2 := ^(j2 ^ s) & 1
	imm10 := uint32(hw1 & 0x3ff)
	off := signExtend(s<<24|i1<<23|i2<<22|imm10<<12|imm11<<1, 25)

	switch {
	case hw2&0x5000 == 0x1000:
		i.Mnemonic = "B.W"
		i.Operands = []disasm.Operand{imm(int64(addr) + 4 + off)}
	case hw2&0x5000 == 0x5000:
		i.Mnemonic = "BL"
		i.Operands = []disasm.Operand{imm(int64(addr) + 4 + off)}
	default: // BLX to ARM state
		if imm11&1 != 0 {
			return i, fmt.Errorf("%w: thumb2 %#04x %#04x", ErrUnsupportedEncoding, hw1, hw2)
		}
		i.Mnemonic = "BLX"
		i.Operands = []disasm.Operand{imm(int64((addr+4)&^3) + off)}
	}
	return i, nil
}
