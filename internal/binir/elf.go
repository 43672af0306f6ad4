package binir

import (
	"bytes"
	"debug/elf"
	"fmt"
	"path/filepath"
	"strings"
)

// Aux table names filled by the ELF reader.
const (
	TableSymbol       = "symbol"
	TableDynamicEntry = "dynamic_entry"
	TableRelocation   = "relocation"
)

func elfISA(f *elf.File) string {
	switch f.Machine {
	case elf.EM_ARM:
		return "ARM"
	case elf.EM_AARCH64:
		return "ARM64"
	case elf.EM_386:
		return "IA32"
	case elf.EM_X86_64:
		return "X64"
	case elf.EM_RISCV:
		if f.Class == elf.ELFCLASS64 {
			return "RISCV64"
		}
	}
	return strings.TrimPrefix(f.Machine.String(), "EM_")
}

// ReadELF builds a module from the bytes of an ELF file. Executable
// PROGBITS sections become code intervals; a stripped image without
// section headers falls back to its executable PT_LOAD segments.
func ReadELF(path string, data []byte) (*Module, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}
	defer f.Close()

	m := &Module{
		Name:       filepath.Base(path),
		Path:       path,
		ISA:        elfISA(f),
		Format:     "ELF",
		EntryPoint: f.Entry,
	}

	base := ^uint64(0)
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && p.Vaddr < base {
			base = p.Vaddr
		}
	}
	if base != ^uint64(0) {
		m.BaseAddress = base
	}

	for _, s := range f.Sections {
		if s.Type == elf.SHT_NULL {
			continue
		}
		exec := s.Flags&elf.SHF_EXECINSTR != 0
		m.Sections = append(m.Sections, Section{
			Name:    s.Name,
			Size:    s.Size,
			Address: s.Addr,
			Flags:   uint64(s.Flags),
			Exec:    exec,
		})
		if !exec || s.Type != elf.SHT_PROGBITS || s.Size == 0 {
			continue
		}
		b, ok := fileRange(data, s.Offset, s.Size)
		if !ok {
			return nil, fmt.Errorf("section %s: range %#x+%#x outside file", s.Name, s.Offset, s.Size)
		}
		m.Intervals = append(m.Intervals, Interval{Address: s.Addr, Bytes: b})
	}

	if len(m.Intervals) == 0 {
		for _, p := range f.Progs {
			if p.Type != elf.PT_LOAD || p.Flags&elf.PF_X == 0 || p.Filesz == 0 {
				continue
			}
			b, ok := fileRange(data, p.Off, p.Filesz)
			if !ok {
				return nil, fmt.Errorf("segment at %#x: range outside file", p.Vaddr)
			}
			m.Intervals = append(m.Intervals, Interval{Address: p.Vaddr, Bytes: b})
		}
	}

	if err := loadELFSymbols(f, m); err != nil {
		return nil, err
	}
	if err := loadELFDynamic(f, m); err != nil {
		return nil, err
	}
	if err := loadELFRelocations(f, m); err != nil {
		return nil, err
	}
	return m, nil
}

func fileRange(data []byte, off, size uint64) ([]byte, bool) {
	end := off + size
	if end < off || end > uint64(len(data)) {
		return nil, false
	}
	return data[off:end], true
}

// loadELFSymbols records .symtab then .dynsym. Missing tables are not errors.
func loadELFSymbols(f *elf.File, m *Module) error {
	for _, read := range []func() ([]elf.Symbol, error){f.Symbols, f.DynamicSymbols} {
		syms, err := read()
		if err != nil {
			continue
		}
		for _, sym := range syms {
			if sym.Name == "" {
				continue
			}
			row := []any{
				sym.Value,
				sym.Size,
				strings.TrimPrefix(elf.ST_TYPE(sym.Info).String(), "STT_"),
				strings.TrimPrefix(elf.ST_BIND(sym.Info).String(), "STB_"),
				strings.TrimPrefix(elf.ST_VISIBILITY(sym.Other).String(), "STV_"),
				uint64(sym.Section),
				sym.Name,
			}
			if err := m.AddRows(TableSymbol, 7, row); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadELFDynamic(f *elf.File, m *Module) error {
	s := f.SectionByType(elf.SHT_DYNAMIC)
	if s == nil {
		return nil
	}
	data, err := s.Data()
	if err != nil {
		return fmt.Errorf("read %s: %w", s.Name, err)
	}
	word := 8
	if f.Class == elf.ELFCLASS32 {
		word = 4
	}
	for off := 0; off+2*word <= len(data); off += 2 * word {
		tag, val := readWord(f, data[off:], word), readWord(f, data[off+word:], word)
		if elf.DynTag(tag) == elf.DT_NULL {
			break
		}
		name := strings.TrimPrefix(elf.DynTag(tag).String(), "DT_")
		if err := m.AddRows(TableDynamicEntry, 2, []any{name, val}); err != nil {
			return err
		}
	}
	return nil
}

func readWord(f *elf.File, b []byte, word int) uint64 {
	if word == 4 {
		return uint64(f.ByteOrder.Uint32(b))
	}
	return f.ByteOrder.Uint64(b)
}

// loadELFRelocations parses every SHT_REL and SHT_RELA section. Symbol
// names come from the symbol table the section links to.
func loadELFRelocations(f *elf.File, m *Module) error {
	var (
		dynsyms, _ = f.DynamicSymbols()
		symtab, _  = f.Symbols()
	)
	for _, s := range f.Sections {
		if s.Type != elf.SHT_REL && s.Type != elf.SHT_RELA {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return fmt.Errorf("read %s: %w", s.Name, err)
		}
		syms := symtab
		if int(s.Link) < len(f.Sections) && f.Sections[s.Link].Type == elf.SHT_DYNSYM {
			syms = dynsyms
		}

		word := 8
		if f.Class == elf.ELFCLASS32 {
			word = 4
		}
		entry := 2 * word
		if s.Type == elf.SHT_RELA {
			entry = 3 * word
		}
		for off := 0; off+entry <= len(data); off += entry {
			offset := readWord(f, data[off:], word)
			info := readWord(f, data[off+word:], word)
			var addend int64
			if s.Type == elf.SHT_RELA {
				addend = int64(readWord(f, data[off+2*word:], word))
				if word == 4 {
					addend = int64(int32(addend))
				}
			}

			var symIndex, typ uint64
			if word == 4 {
				symIndex, typ = info>>8, info&0xff
			} else {
				symIndex, typ = info>>32, info&0xffffffff
			}
			var symName string
			// index 0 is the null symbol, which debug/elf omits
			if symIndex > 0 && int(symIndex) <= len(syms) {
				symName = syms[symIndex-1].Name
			}

			row := []any{offset, relocType(f.Machine, uint32(typ)), symName, addend, symIndex, s.Name}
			if err := m.AddRows(TableRelocation, 6, row); err != nil {
				return err
			}
		}
	}
	return nil
}

func relocType(machine elf.Machine, t uint32) string {
	var name, prefix string
	switch machine {
	case elf.EM_X86_64:
		name, prefix = elf.R_X86_64(t).String(), "R_X86_64_"
	case elf.EM_386:
		name, prefix = elf.R_386(t).String(), "R_386_"
	case elf.EM_AARCH64:
		name, prefix = elf.R_AARCH64(t).String(), "R_AARCH64_"
	case elf.EM_ARM:
		name, prefix = elf.R_ARM(t).String(), "R_ARM_"
	case elf.EM_RISCV:
		name, prefix = elf.R_RISCV(t).String(), "R_RISCV_"
	default:
		return fmt.Sprintf("%d", t)
	}
	return strings.TrimPrefix(name, prefix)
}
