package arch

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"disfacts/internal/disasm"
)

func le32(words ...uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

func le16(halves ...uint16) []byte {
	out := make([]byte, 2*len(halves))
	for i, h := range halves {
		binary.LittleEndian.PutUint16(out[2*i:], h)
	}
	return out
}

func TestLookup(t *testing.T) {
	for _, isa := range []string{"ARM", "ARM64", "IA32", "X64", "RISCV64"} {
		d, err := Lookup(isa)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", isa, err)
		}
		if d.Name() != isa {
			t.Errorf("Lookup(%q).Name() = %q", isa, d.Name())
		}
		if len(d.Passes()) == 0 {
			t.Errorf("%s has no passes", isa)
		}
	}
	if _, err := Lookup("MIPS"); !errors.Is(err, ErrUnsupportedArchitecture) {
		t.Errorf("Lookup(MIPS) error = %v", err)
	}
	if got := ISAs(); !reflect.DeepEqual(got, []string{"ARM", "ARM64", "IA32", "RISCV64", "X64"}) {
		t.Errorf("ISAs() = %v", got)
	}
}

func TestARMDecode(t *testing.T) {
	d := NewARM()
	testCases := []struct {
		name     string
		word     uint32
		mnemonic string
		cond     string
		operands []disasm.Operand
	}{
		{
			name:     "mov immediate",
			word:     0xe3a00001,
			mnemonic: "MOV",
			operands: []disasm.Operand{disasm.Reg{Name: "R0"}, disasm.Imm{Value: 1, Size: 4}},
		},
		{
			name:     "conditional mov",
			word:     0x03a00001,
			mnemonic: "MOV",
			cond:     "EQ",
			operands: []disasm.Operand{disasm.Reg{Name: "R0"}, disasm.Imm{Value: 1, Size: 4}},
		},
		{
			name:     "branch to self",
			word:     0xeafffffe,
			mnemonic: "B",
			operands: []disasm.Operand{disasm.Imm{Value: 0x8000, Size: 4}},
		},
		{
			name:     "load with offset",
			word:     0xe5912004,
			mnemonic: "LDR",
			operands: []disasm.Operand{disasm.Reg{Name: "R2"}, disasm.Mem{Base: "R1", Disp: 4}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inst, mode, err := d.Decode(le32(tc.word), 0x8000, 0)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if mode != 0 {
				t.Errorf("mode = %#x, want 0", mode)
			}
			if inst.Size != 4 || inst.Address != 0x8000 {
				t.Errorf("size/address = %d/%#x", inst.Size, inst.Address)
			}
			if inst.Mnemonic != tc.mnemonic || inst.Cond != tc.cond {
				t.Errorf("got %s cond %q, want %s cond %q", inst.Mnemonic, inst.Cond, tc.mnemonic, tc.cond)
			}
			if !reflect.DeepEqual(inst.Operands, tc.operands) {
				t.Errorf("operands = %#v, want %#v", inst.Operands, tc.operands)
			}
		})
	}

	if _, _, err := d.Decode([]byte{0x01, 0x00}, 0x8000, 0); !errors.Is(err, ErrTruncatedInstruction) {
		t.Errorf("short window error = %v", err)
	}
	if d.Alignment(0) != 4 || d.Alignment(ThumbMode) != 2 {
		t.Errorf("alignments = %d/%d", d.Alignment(0), d.Alignment(ThumbMode))
	}
}

func TestSplitARMOp(t *testing.T) {
	testCases := []struct{ op, mnemonic, cond string }{
		{"ADD.S.EQ", "ADDS", "EQ"},
		{"VADD.EQ.F32", "VADD.F32", "EQ"},
		{"BX.ZZ", "BX", ""},
		{"MOV", "MOV", ""},
	}
	for _, tc := range testCases {
		m, c := splitARMOp(tc.op)
		if m != tc.mnemonic || c != tc.cond {
			t.Errorf("splitARMOp(%q) = %q, %q", tc.op, m, c)
		}
	}
}

func TestThumbDecode(t *testing.T) {
	d := NewARM()
	testCases := []struct {
		name     string
		code     []byte
		mnemonic string
		size     int
		operands []disasm.Operand
	}{
		{
			name:     "movs immediate",
			code:     le16(0x2001),
			mnemonic: "MOVS",
			size:     2,
			operands: []disasm.Operand{disasm.Reg{Name: "R0"}, disasm.Imm{Value: 1}},
		},
		{
			name:     "bx lr",
			code:     le16(0x4770),
			mnemonic: "BX",
			size:     2,
			operands: []disasm.Operand{disasm.Reg{Name: "LR"}},
		},
		{
			name:     "push",
			code:     le16(0xb510),
			mnemonic: "PUSH",
			size:     2,
			operands: []disasm.Operand{disasm.RegList{Regs: []string{"R4", "LR"}}},
		},
		{
			name:     "bl pair",
			code:     le16(0xf000, 0xfffe),
			mnemonic: "BL",
			size:     4,
			operands: []disasm.Operand{disasm.Imm{Value: 0x2000}},
		},
		{
			name:     "ldr literal",
			code:     le16(0x4b02),
			mnemonic: "LDR",
			size:     2,
			operands: []disasm.Operand{disasm.Reg{Name: "R3"}, disasm.Mem{Base: "PC", Disp: 8}},
		},
		{
			name:     "unconditional branch",
			code:     le16(0xe7fe),
			mnemonic: "B",
			size:     2,
			operands: []disasm.Operand{disasm.Imm{Value: 0x1000}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inst, _, err := d.Decode(tc.code, 0x1000, ThumbMode)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if inst.Address != 0x1001 {
				t.Errorf("address = %#x, want Thumb bit set", inst.Address)
			}
			if inst.Mnemonic != tc.mnemonic || inst.Size != tc.size {
				t.Errorf("got %s/%d, want %s/%d", inst.Mnemonic, inst.Size, tc.mnemonic, tc.size)
			}
			if !reflect.DeepEqual(inst.Operands, tc.operands) {
				t.Errorf("operands = %#v, want %#v", inst.Operands, tc.operands)
			}
		})
	}
}

func TestThumbErrors(t *testing.T) {
	d := NewARM()
	testCases := []struct {
		name string
		code []byte
		want error
	}{
		{"one byte", []byte{0x01}, ErrTruncatedInstruction},
		{"half of a bl pair", le16(0xf000), ErrTruncatedInstruction},
		{"reserved rev", le16(0xba80), ErrUnsupportedEncoding},
		{"thumb2 data processing", le16(0xe92d, 0x4ff0), ErrUnsupportedEncoding},
		{"empty push", le16(0xb400), ErrUnsupportedEncoding},
		{"empty pop", le16(0xbc00), ErrUnsupportedEncoding},
		{"empty stm", le16(0xc800), ErrUnsupportedEncoding},
		{"empty ldm", le16(0xc900), ErrUnsupportedEncoding},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := d.Decode(tc.code, 0x1000, ThumbMode); !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestARMEmptyRegisterList(t *testing.T) {
	// STMDA R0, {}
	if _, _, err := NewARM().Decode(le32(0xe8000000), 0x1000, 0); !errors.Is(err, ErrUnsupportedEncoding) {
		t.Errorf("error = %v, want %v", err, ErrUnsupportedEncoding)
	}
}

func TestAddressOf(t *testing.T) {
	testCases := []struct {
		d    Decoder
		mode Mode
		want uint64
	}{
		{NewARM(), 0, 0x1000},
		{NewARM(), ThumbMode, 0x1001},
		{NewARM64(), 0, 0x1000},
	}
	for _, tc := range testCases {
		if got := AddressOf(tc.d, 0x1000, tc.mode); got != tc.want {
			t.Errorf("AddressOf(%s, %d) = %#x, want %#x", tc.d.Name(), tc.mode, got, tc.want)
		}
	}
}

func TestThumbITBlock(t *testing.T) {
	d := NewARM()
	// ITE NE; MOVS R0, #1; MOVS R0, #2; MOVS R0, #3
	code := le16(0xbf14, 0x2001, 0x2002, 0x2003)
	want := []struct {
		mnemonic string
		cond     string
	}{
		{"ITE", ""},
		{"MOVS", "NE"},
		{"MOVS", "EQ"},
		{"MOVS", ""},
	}

	mode := ThumbMode
	addr := uint64(0x2000)
	for i, w := range want {
		inst, next, err := d.Decode(code[2*i:], addr, mode)
		if err != nil {
			t.Fatalf("inst %d: %v", i, err)
		}
		if inst.Mnemonic != w.mnemonic || inst.Cond != w.cond {
			t.Errorf("inst %d = %s cond %q, want %s cond %q", i, inst.Mnemonic, inst.Cond, w.mnemonic, w.cond)
		}
		if next&ThumbMode == 0 {
			t.Fatalf("inst %d dropped the Thumb bit", i)
		}
		mode = next
		addr += uint64(inst.Size)
	}
	if mode != ThumbMode {
		t.Errorf("IT state not cleared: mode = %#x", mode)
	}
}

func TestITMnemonic(t *testing.T) {
	testCases := []struct {
		firstcond, mask uint16
		want            string
	}{
		{0x0, 0x8, "IT"},
		{0x1, 0x4, "ITE"},
		{0x0, 0x4, "ITT"},
		{0x0, 0x1, "ITTTT"},
		{0x1, 0x1, "ITEEE"},
	}
	for _, tc := range testCases {
		if got := itMnemonic(tc.firstcond, tc.mask); got != tc.want {
			t.Errorf("itMnemonic(%#x, %#x) = %q, want %q", tc.firstcond, tc.mask, got, tc.want)
		}
	}
}

func TestARM64Decode(t *testing.T) {
	d := NewARM64()
	testCases := []struct {
		name     string
		word     uint32
		addr     uint64
		mnemonic string
		cond     string
		check    func(t *testing.T, ops []disasm.Operand)
	}{
		{
			name:     "nop",
			word:     0xd503201f,
			addr:     0x4000,
			mnemonic: "NOP",
			check: func(t *testing.T, ops []disasm.Operand) {
				if len(ops) != 0 {
					t.Errorf("operands = %v", ops)
				}
			},
		},
		{
			name:     "conditional branch",
			word:     0x54000040,
			addr:     0x4000,
			mnemonic: "B",
			cond:     "EQ",
			check: func(t *testing.T, ops []disasm.Operand) {
				if !reflect.DeepEqual(ops, []disasm.Operand{disasm.Imm{Value: 0x4008, Size: 8}}) {
					t.Errorf("operands = %#v", ops)
				}
			},
		},
		{
			name:     "add immediate",
			word:     0x91000420,
			addr:     0x4000,
			mnemonic: "ADD",
			check: func(t *testing.T, ops []disasm.Operand) {
				if len(ops) != 3 || ops[2] != (disasm.Imm{Value: 1}) {
					t.Errorf("operands = %#v", ops)
				}
			},
		},
		{
			name:     "load unsigned offset",
			word:     0xf9400420,
			addr:     0x4000,
			mnemonic: "LDR",
			check: func(t *testing.T, ops []disasm.Operand) {
				want := []disasm.Operand{disasm.Reg{Name: "X0"}, disasm.Mem{Base: "X1", Disp: 8}}
				if !reflect.DeepEqual(ops, want) {
					t.Errorf("operands = %#v", ops)
				}
			},
		},
		{
			name:     "load literal",
			word:     0x58000040,
			addr:     0x1000,
			mnemonic: "LDR",
			check: func(t *testing.T, ops []disasm.Operand) {
				want := []disasm.Operand{disasm.Reg{Name: "X0"}, disasm.Mem{Base: "PC", Disp: 8}}
				if !reflect.DeepEqual(ops, want) {
					t.Errorf("operands = %#v", ops)
				}
			},
		},
		{
			name:     "load signed word literal",
			word:     0x98000040,
			addr:     0x1000,
			mnemonic: "LDRSW",
			check: func(t *testing.T, ops []disasm.Operand) {
				want := []disasm.Operand{disasm.Reg{Name: "X0"}, disasm.Mem{Base: "PC", Disp: 8}}
				if !reflect.DeepEqual(ops, want) {
					t.Errorf("operands = %#v", ops)
				}
			},
		},
		{
			name:     "adrp",
			word:     0x90000000,
			addr:     0x1234,
			mnemonic: "ADRP",
			check: func(t *testing.T, ops []disasm.Operand) {
				if len(ops) != 2 || ops[1] != (disasm.Imm{Value: 0x1000, Size: 8}) {
					t.Errorf("operands = %#v", ops)
				}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inst, _, err := d.Decode(le32(tc.word), tc.addr, 0)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if inst.Size != 4 || inst.Mnemonic != tc.mnemonic || inst.Cond != tc.cond {
				t.Errorf("got %s cond %q size %d", inst.Mnemonic, inst.Cond, inst.Size)
			}
			tc.check(t, inst.Operands)
		})
	}

	if _, _, err := d.Decode([]byte{1, 2, 3}, 0, 0); !errors.Is(err, ErrTruncatedInstruction) {
		t.Errorf("short window error = %v", err)
	}
}

func TestParseShiftedImm(t *testing.T) {
	testCases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"#0x10", 0x10, true},
		{"#0x1, LSL #12", 0x1000, true},
		{"#0xff, MSL #8", 0, false},
	}
	for _, tc := range testCases {
		got, ok := parseShiftedImm(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("parseShiftedImm(%q) = %#x, %v", tc.in, got, ok)
		}
	}
}

func TestX86Decode(t *testing.T) {
	d := NewX86(64)
	testCases := []struct {
		name     string
		code     []byte
		size     int
		prefix   string
		mnemonic string
		check    func(t *testing.T, ops []disasm.Operand)
	}{
		{
			name: "nop", code: []byte{0x90}, size: 1, mnemonic: "NOP",
			check: func(t *testing.T, ops []disasm.Operand) {},
		},
		{
			name: "mov rbp rsp", code: []byte{0x48, 0x89, 0xe5}, size: 3, mnemonic: "MOV",
			check: func(t *testing.T, ops []disasm.Operand) {
				want := []disasm.Operand{disasm.Reg{Name: "RBP"}, disasm.Reg{Name: "RSP"}}
				if !reflect.DeepEqual(ops, want) {
					t.Errorf("operands = %#v", ops)
				}
			},
		},
		{
			name: "call rel32", code: []byte{0xe8, 0x00, 0x00, 0x00, 0x00}, size: 5, mnemonic: "CALL",
			check: func(t *testing.T, ops []disasm.Operand) {
				if len(ops) != 1 || ops[0] != (disasm.Imm{Value: 0x1005}) {
					t.Errorf("operands = %#v", ops)
				}
			},
		},
		{
			name: "load from frame", code: []byte{0x8b, 0x45, 0xf8}, size: 3, mnemonic: "MOV",
			check: func(t *testing.T, ops []disasm.Operand) {
				if len(ops) != 2 {
					t.Fatalf("operands = %#v", ops)
				}
				m, ok := ops[1].(disasm.Mem)
				if !ok || m.Base != "RBP" || m.Disp != -8 || m.Size != 4 || m.Index != "" {
					t.Errorf("memory operand = %#v", ops[1])
				}
			},
		},
		{
			name: "lock prefix", code: []byte{0xf0, 0xff, 0x00}, size: 3, prefix: "LOCK", mnemonic: "INC",
			check: func(t *testing.T, ops []disasm.Operand) {},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inst, _, err := d.Decode(tc.code, 0x1000, 0)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if inst.Size != tc.size || inst.Prefix != tc.prefix || inst.Mnemonic != tc.mnemonic {
				t.Errorf("got %q %s size %d", inst.Prefix, inst.Mnemonic, inst.Size)
			}
			tc.check(t, inst.Operands)
		})
	}

	if _, _, err := d.Decode(nil, 0x1000, 0); !errors.Is(err, ErrTruncatedInstruction) {
		t.Errorf("empty window error = %v", err)
	}
}

func TestRISCV64Decode(t *testing.T) {
	d := NewRISCV64()

	inst, _, err := d.Decode(le32(0x00a00513), 0x1000, 0)
	if err != nil {
		t.Fatalf("addi: %v", err)
	}
	if inst.Mnemonic != "ADDI" || inst.Size != 4 {
		t.Errorf("addi = %s/%d", inst.Mnemonic, inst.Size)
	}
	if len(inst.Operands) != 3 || inst.Operands[0] != (disasm.Reg{Name: "x10"}) || inst.Operands[2] != (disasm.Imm{Value: 10}) {
		t.Errorf("addi operands = %#v", inst.Operands)
	}

	inst, _, err = d.Decode(le32(0x008000ef), 0x1000, 0)
	if err != nil {
		t.Fatalf("jal: %v", err)
	}
	if len(inst.Operands) != 2 || inst.Operands[1] != (disasm.Imm{Value: 0x1008}) {
		t.Errorf("jal operands = %#v", inst.Operands)
	}

	inst, _, err = d.Decode(le16(0x4501), 0x1000, 0)
	if err != nil {
		t.Fatalf("compressed: %v", err)
	}
	if inst.Size != 2 {
		t.Errorf("compressed size = %d", inst.Size)
	}

	for _, code := range [][]byte{{0x13}, {0x13, 0x05}} {
		if _, _, err := d.Decode(code, 0x1000, 0); !errors.Is(err, ErrTruncatedInstruction) {
			t.Errorf("Decode(% x) error = %v", code, err)
		}
	}
}
