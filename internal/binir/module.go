// Package binir is the binary intermediate representation the decoder
// reads: identification tags, code intervals and auxiliary metadata tables
// for one module. It is populated from ELF or PE files, or from a YAML
// manifest of synthetic modules, and is read-only once built.
package binir

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownContainer reports a file that is neither ELF nor PE.
var ErrUnknownContainer = errors.New("unknown container format")

// Interval is a contiguous run of executable bytes at a virtual address.
type Interval struct {
	Address uint64
	Bytes   []byte
}

// End is the address one past the interval's last byte.
func (iv Interval) End() uint64 { return iv.Address + uint64(len(iv.Bytes)) }

// Section describes one section of the container.
type Section struct {
	Name    string
	Size    uint64
	Address uint64
	Flags   uint64
	Exec    bool
}

// Table is an auxiliary metadata table: rows of Go scalars with a fixed arity.
type Table struct {
	Arity int
	Rows  [][]any
}

// Module is one binary as seen by the decoder.
type Module struct {
	Name        string
	Path        string
	ISA         string // ARM, ARM64, IA32, X64, RISCV64
	Format      string // ELF, PE, RAW
	EntryPoint  uint64
	BaseAddress uint64
	Sections    []Section
	Intervals   []Interval
	Aux         map[string]*Table
}

// Table returns the named auxiliary table.
func (m *Module) Table(name string) (*Table, bool) {
	t, ok := m.Aux[name]
	return t, ok
}

// AddRows appends rows to the named table, creating it with the given
// arity. Every row must have that arity.
func (m *Module) AddRows(name string, arity int, rows ...[]any) error {
	if m.Aux == nil {
		m.Aux = make(map[string]*Table)
	}
	t, ok := m.Aux[name]
	if !ok {
		t = &Table{Arity: arity}
		m.Aux[name] = t
	}
	if t.Arity != arity {
		return fmt.Errorf("table %s: arity %d, have %d", name, arity, t.Arity)
	}
	for _, r := range rows {
		if len(r) != arity {
			return fmt.Errorf("table %s: row of %d values, want %d", name, len(r), arity)
		}
		t.Rows = append(t.Rows, r)
	}
	return nil
}

// TableNames lists the auxiliary tables in sorted order.
func (m *Module) TableNames() []string {
	names := make([]string, 0, len(m.Aux))
	for name := range m.Aux {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CodeSize is the total number of bytes across all intervals.
func (m *Module) CodeSize() int {
	n := 0
	for _, iv := range m.Intervals {
		n += len(iv.Bytes)
	}
	return n
}
