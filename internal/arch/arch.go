// Package arch provides one instruction decoder per supported ISA behind a
// common interface. Decoders are pure: they see a byte window and an
// address and return a normalised disasm.Inst.
package arch

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"disfacts/internal/disasm"
)

var (
	// ErrUnsupportedEncoding reports bytes that do not form a known instruction.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	// ErrTruncatedInstruction reports a window too short for the encoding.
	ErrTruncatedInstruction = errors.New("truncated instruction")
	// ErrUnsupportedArchitecture reports an ISA tag with no decoder.
	ErrUnsupportedArchitecture = errors.New("unsupported architecture")
)

// The x/arch decoders record table coverage in package-level slices, so
// calls into each of them are serialized.
var (
	armasmMu   sync.Mutex
	arm64asmMu sync.Mutex
	x86asmMu   sync.Mutex
	riscvMu    sync.Mutex
)

// Mode is decoder state carried between consecutive Decode calls in one
// region. Its meaning is private to each decoder; zero is the default.
type Mode uint32

// Decoder turns bytes into instructions for one ISA.
type Decoder interface {
	// Name is the ISA tag the decoder was registered under.
	Name() string
	// Passes lists the initial modes; each code interval is decoded once per pass.
	Passes() []Mode
	// Alignment is the instruction alignment in bytes for a mode.
	Alignment(m Mode) int
	// Decode decodes the instruction at the start of window, which is
	// located at addr, and returns the mode for the next call.
	Decode(window []byte, addr uint64, m Mode) (disasm.Inst, Mode, error)
}

var registry = map[string]func() Decoder{
	"ARM":     func() Decoder { return NewARM() },
	"ARM64":   func() Decoder { return NewARM64() },
	"IA32":    func() Decoder { return NewX86(32) },
	"X64":     func() Decoder { return NewX86(64) },
	"RISCV64": func() Decoder { return NewRISCV64() },
}

// Lookup returns a fresh decoder for an ISA tag.
func Lookup(isa string) (Decoder, error) {
	ctor, ok := registry[isa]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedArchitecture, isa)
	}
	return ctor(), nil
}

// ISAs lists the supported ISA tags in sorted order.
func ISAs() []string {
	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

type addressTagger interface {
	AddressOf(addr uint64, m Mode) uint64
}

// AddressOf is the address d records for a position decoded in mode m,
// including positions that did not decode.
func AddressOf(d Decoder, addr uint64, m Mode) uint64 {
	if t, ok := d.(addressTagger); ok {
		return t.AddressOf(addr, m)
	}
	return addr
}

// conditions are the ARM condition code names indexed by encoding.
var conditions = [16]string{
	"EQ", "NE", "CS", "CC", "MI", "PL", "VS", "VC",
	"HI", "LS", "GE", "LT", "GT", "LE", "", "",
}

func isCondition(s string) bool {
	for _, c := range conditions[:14] {
		if c == s {
			return true
		}
	}
	return false
}
