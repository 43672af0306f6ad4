package arch

import (
	"errors"
	"fmt"

	"disfacts/internal/disasm"

	"golang.org/x/arch/x86/x86asm"
)

// X86 decodes IA-32 or x86-64 code. Instructions are byte aligned.
type X86 struct {
	bits int
}

// NewX86 returns a decoder for 32 or 64-bit mode.
func NewX86(bits int) *X86 { return &X86{bits: bits} }

func (d *X86) Name() string {
	if d.bits == 64 {
		return "X64"
	}
	return "IA32"
}

func (*X86) Passes() []Mode { return []Mode{0} }

func (*X86) Alignment(Mode) int { return 1 }

func (d *X86) Decode(window []byte, addr uint64, m Mode) (disasm.Inst, Mode, error) {
	if len(window) == 0 {
		return disasm.Inst{}, m, ErrTruncatedInstruction
	}
	x86asmMu.Lock()
	inst, err := x86asm.Decode(window, d.bits)
	x86asmMu.Unlock()
	if err != nil {
		if errors.Is(err, x86asm.ErrTruncated) {
			return disasm.Inst{}, m, fmt.Errorf("%w: x86 at %#x", ErrTruncatedInstruction, addr)
		}
		return disasm.Inst{}, m, fmt.Errorf("%w: x86 %#02x: %v", ErrUnsupportedEncoding, window[0], err)
	}

	out := disasm.Inst{
		Address:  addr,
		Size:     inst.Len,
		Prefix:   x86Prefix(inst.Prefix),
		Mnemonic: inst.Op.String(),
	}
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		out.Operands = append(out.Operands, x86Operand(inst, arg, addr))
	}
	return out, m, nil
}

// x86Prefix returns the explicit LOCK or REP family prefix, if any.
func x86Prefix(prefixes x86asm.Prefixes) string {
	for _, p := range prefixes {
		if p == 0 {
			break
		}
		if p&(x86asm.PrefixImplicit|x86asm.PrefixIgnored|x86asm.PrefixInvalid) != 0 {
			continue
		}
		switch p &^ (x86asm.PrefixImplicit | x86asm.PrefixIgnored | x86asm.PrefixInvalid) {
		case x86asm.PrefixLOCK, x86asm.PrefixREP, x86asm.PrefixREPN:
			return p.String()
		}
	}
	return ""
}

func x86Reg(r x86asm.Reg) string {
	if r == 0 {
		return ""
	}
	return r.String()
}

func x86Operand(inst x86asm.Inst, arg x86asm.Arg, pc uint64) disasm.Operand {
	switch a := arg.(type) {
	case x86asm.Reg:
		return disasm.Reg{Name: a.String()}
	case x86asm.Imm:
		return disasm.Imm{Value: int64(a), Size: inst.DataSize / 8}
	case x86asm.Rel:
		return disasm.Imm{Value: int64(pc) + int64(inst.Len) + int64(a)}
	case x86asm.Mem:
		return disasm.Mem{
			Segment: x86Reg(a.Segment),
			Base:    x86Reg(a.Base),
			Index:   x86Reg(a.Index),
			Scale:   int64(a.Scale),
			Disp:    a.Disp,
			Size:    inst.MemBytes,
		}
	}
	return disasm.Special{Kind: "other", Value: arg.String()}
}
