// Package disasm defines a common instruction representation used
// across architecture-specific decoders.
package disasm

import (
	"fmt"
	"strings"
)

// MaxOperands is the number of operand slots an instruction row carries.
const MaxOperands = 4

// Inst is a decoded instruction in architecture-neutral form.
type Inst struct {
	Address  uint64    // address of instruction; Thumb addresses have bit 0 set
	Size     int       // encoded length in bytes
	Prefix   string    // LOCK, REP and similar, empty when none
	Mnemonic string    // upper case, condition suffix removed
	Cond     string    // condition code, empty when unconditional
	Operands []Operand // at most MaxOperands
}

// Operand is one instruction operand. The set of implementations is closed.
type Operand interface {
	fmt.Stringer
	operand()
}

// Reg is a register-direct operand.
type Reg struct {
	Name string
}

// Imm is an immediate value or an absolute branch target.
type Imm struct {
	Value int64
	Size  int // bytes, 0 when the encoding does not fix it
}

// Mem is a memory reference: [segment:base + index*scale + disp].
type Mem struct {
	Segment string
	Base    string
	Index   string
	Scale   int64
	Disp    int64
	Size    int // access width in bytes, 0 when unknown
}

// Shifted is a register shifted by a constant amount.
type Shifted struct {
	Reg    string
	Shift  string // LSL, LSR, ASR, ROR, RRX
	Amount uint64
}

// RegList is a register list such as {R4-R7, LR}.
type RegList struct {
	Regs []string
}

// Special covers operands with no structured form: system registers,
// barrier options, vector arrangements and so on.
type Special struct {
	Kind  string
	Value string
}

func (Reg) operand()     {}
func (Imm) operand()     {}
func (Mem) operand()     {}
func (Shifted) operand() {}
func (RegList) operand() {}
func (Special) operand() {}

func (r Reg) String() string { return r.Name }

func (i Imm) String() string {
	if i.Value < 0 {
		return fmt.Sprintf("#-%#x", -i.Value)
	}
	return fmt.Sprintf("#%#x", i.Value)
}

func (m Mem) String() string {
	var parts []string
	if m.Base != "" {
		parts = append(parts, m.Base)
	}
	if m.Index != "" {
		idx := m.Index
		if m.Scale != 1 && m.Scale != 0 {
			idx = fmt.Sprintf("%s*%d", m.Index, m.Scale)
		}
		parts = append(parts, idx)
	}
	if m.Disp != 0 || len(parts) == 0 {
		if m.Disp < 0 {
			parts = append(parts, fmt.Sprintf("-%#x", -m.Disp))
		} else {
			parts = append(parts, fmt.Sprintf("%#x", m.Disp))
		}
	}
	s := "[" + strings.Join(parts, "+") + "]"
	s = strings.ReplaceAll(s, "+-", "-")
	if m.Segment != "" {
		s = m.Segment + ":" + s
	}
	return s
}

func (s Shifted) String() string {
	if s.Shift == "RRX" {
		return s.Reg + ", RRX"
	}
	return fmt.Sprintf("%s, %s #%d", s.Reg, s.Shift, s.Amount)
}

func (l RegList) String() string { return "{" + strings.Join(l.Regs, ", ") + "}" }

func (s Special) String() string { return s.Value }

// String formats the instruction as one line of assembly.
func (i Inst) String() string {
	var b strings.Builder
	if i.Prefix != "" {
		b.WriteString(i.Prefix)
		b.WriteByte(' ')
	}
	b.WriteString(i.Mnemonic)
	if i.Cond != "" {
		b.WriteByte('.')
		b.WriteString(i.Cond)
	}
	for n, op := range i.Operands {
		if n == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteString(", ")
		}
		b.WriteString(op.String())
	}
	return b.String()
}

// Stream is a linear sequence of instructions.
type Stream []Inst
