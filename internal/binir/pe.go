package binir

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
)

// Aux table names filled by the PE reader.
const (
	TableExportEntry   = "export_entry"
	TableImportEntry   = "import_entry"
	TableDataDirectory = "data_directory"
	TablePEDebugData   = "pe_debug_data"
)

var dataDirectoryNames = [...]string{
	"EXPORT", "IMPORT", "RESOURCE", "EXCEPTION", "SECURITY", "BASERELOC",
	"DEBUG", "ARCHITECTURE", "GLOBALPTR", "TLS", "LOAD_CONFIG", "BOUND_IMPORT",
	"IAT", "DELAY_IMPORT", "COM_DESCRIPTOR", "RESERVED",
}

var debugTypeNames = map[uint32]string{
	0: "UNKNOWN", 1: "COFF", 2: "CODEVIEW", 3: "FPO", 4: "MISC", 5: "EXCEPTION",
	6: "FIXUP", 7: "OMAP_TO_SRC", 8: "OMAP_FROM_SRC", 9: "BORLAND", 10: "RESERVED10",
	11: "CLSID", 12: "VC_FEATURE", 13: "POGO", 14: "ILTCG", 15: "MPX", 16: "REPRO",
	20: "EX_DLLCHARACTERISTICS",
}

func peISA(machine uint16) string {
	switch machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		return "IA32"
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return "X64"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return "ARM64"
	case pe.IMAGE_FILE_MACHINE_ARM, pe.IMAGE_FILE_MACHINE_ARMNT, pe.IMAGE_FILE_MACHINE_THUMB:
		return "ARM"
	case pe.IMAGE_FILE_MACHINE_RISCV64:
		return "RISCV64"
	}
	return fmt.Sprintf("PE_MACHINE_%#x", machine)
}

// peImage resolves relative virtual addresses against section contents.
type peImage struct {
	base     uint64
	wide     bool // PE32+
	sections []peSection
}

type peSection struct {
	rva  uint32
	data []byte
}

// read returns n bytes at rva, or false when the range is unmapped.
func (im *peImage) read(rva uint32, n int) ([]byte, bool) {
	for _, s := range im.sections {
		if rva < s.rva || uint64(rva) >= uint64(s.rva)+uint64(len(s.data)) {
			continue
		}
		off := int(rva - s.rva)
		if n < 0 || off+n > len(s.data) {
			return nil, false
		}
		return s.data[off : off+n], true
	}
	return nil, false
}

// cstring reads a NUL-terminated string at rva.
func (im *peImage) cstring(rva uint32) (string, bool) {
	for _, s := range im.sections {
		if rva < s.rva || uint64(rva) >= uint64(s.rva)+uint64(len(s.data)) {
			continue
		}
		b := s.data[rva-s.rva:]
		if i := bytes.IndexByte(b, 0); i >= 0 {
			b = b[:i]
		}
		return string(b), true
	}
	return "", false
}

func (im *peImage) u32(rva uint32) (uint32, bool) {
	b, ok := im.read(rva, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// ReadPE builds a module from the bytes of a PE image. Sections marked
// executable become code intervals, clipped to their virtual size.
func ReadPE(path string, data []byte) (*Module, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open pe: %w", err)
	}
	defer f.Close()

	m := &Module{
		Name:   filepath.Base(path),
		Path:   path,
		ISA:    peISA(f.Machine),
		Format: "PE",
	}
	im := &peImage{}
	var dirs []pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		im.base = uint64(oh.ImageBase)
		m.EntryPoint = im.base + uint64(oh.AddressOfEntryPoint)
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	case *pe.OptionalHeader64:
		im.base = oh.ImageBase
		im.wide = true
		m.EntryPoint = im.base + uint64(oh.AddressOfEntryPoint)
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	default:
		return nil, fmt.Errorf("pe %s: missing optional header", path)
	}
	m.BaseAddress = im.base

	for _, s := range f.Sections {
		raw, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("read section %s: %w", s.Name, err)
		}
		if s.VirtualSize != 0 && int(s.VirtualSize) < len(raw) {
			raw = raw[:s.VirtualSize]
		}
		im.sections = append(im.sections, peSection{rva: s.VirtualAddress, data: raw})

		exec := s.Characteristics&(pe.IMAGE_SCN_MEM_EXECUTE|pe.IMAGE_SCN_CNT_CODE) != 0
		m.Sections = append(m.Sections, Section{
			Name:    strings.TrimRight(s.Name, "\x00"),
			Size:    uint64(max(s.VirtualSize, s.Size)),
			Address: im.base + uint64(s.VirtualAddress),
			Flags:   uint64(s.Characteristics),
			Exec:    exec,
		})
		if exec && len(raw) > 0 {
			m.Intervals = append(m.Intervals, Interval{Address: im.base + uint64(s.VirtualAddress), Bytes: raw})
		}
	}

	// the table exists even when every directory is empty
	if err := m.AddRows(TableDataDirectory, 3); err != nil {
		return nil, err
	}
	for i, d := range dirs {
		if d.VirtualAddress == 0 && d.Size == 0 {
			continue
		}
		row := []any{dataDirectoryNames[i], im.base + uint64(d.VirtualAddress), uint64(d.Size)}
		if err := m.AddRows(TableDataDirectory, 3, row); err != nil {
			return nil, err
		}
	}
	if len(dirs) > pe.IMAGE_DIRECTORY_ENTRY_EXPORT {
		if err := im.exports(m, dirs[pe.IMAGE_DIRECTORY_ENTRY_EXPORT]); err != nil {
			return nil, err
		}
	}
	if len(dirs) > pe.IMAGE_DIRECTORY_ENTRY_IMPORT {
		if err := im.imports(m, dirs[pe.IMAGE_DIRECTORY_ENTRY_IMPORT]); err != nil {
			return nil, err
		}
	}
	if len(dirs) > pe.IMAGE_DIRECTORY_ENTRY_DEBUG {
		if err := im.debugData(m, dirs[pe.IMAGE_DIRECTORY_ENTRY_DEBUG]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// exports walks IMAGE_EXPORT_DIRECTORY. Unnamed ordinals are recorded with
// the name NONE downstream.
func (im *peImage) exports(m *Module, dir pe.DataDirectory) error {
	if dir.VirtualAddress == 0 {
		return nil
	}
	hdr, ok := im.read(dir.VirtualAddress, 40)
	if !ok {
		return fmt.Errorf("export directory at %#x: unmapped", dir.VirtualAddress)
	}
	var (
		ordinalBase = binary.LittleEndian.Uint32(hdr[16:])
		numFuncs    = binary.LittleEndian.Uint32(hdr[20:])
		numNames    = binary.LittleEndian.Uint32(hdr[24:])
		funcsRVA    = binary.LittleEndian.Uint32(hdr[28:])
		namesRVA    = binary.LittleEndian.Uint32(hdr[32:])
		ordsRVA     = binary.LittleEndian.Uint32(hdr[36:])
	)

	names := make(map[uint32]string, numNames)
	for i := uint32(0); i < numNames; i++ {
		nameRVA, ok := im.u32(namesRVA + 4*i)
		if !ok {
			break
		}
		ob, ok := im.read(ordsRVA+2*i, 2)
		if !ok {
			break
		}
		if name, ok := im.cstring(nameRVA); ok {
			names[uint32(binary.LittleEndian.Uint16(ob))] = name
		}
	}

	for i := uint32(0); i < numFuncs; i++ {
		rva, ok := im.u32(funcsRVA + 4*i)
		if !ok {
			return fmt.Errorf("export address table at %#x: unmapped", funcsRVA)
		}
		if rva == 0 {
			continue
		}
		row := []any{im.base + uint64(rva), int64(ordinalBase + i), names[i]}
		if err := m.AddRows(TableExportEntry, 3, row); err != nil {
			return err
		}
	}
	return nil
}

// imports walks the import descriptors. Each thunk becomes one row whose
// address is its IAT slot; by-ordinal imports have no function name.
func (im *peImage) imports(m *Module, dir pe.DataDirectory) error {
	if dir.VirtualAddress == 0 {
		return nil
	}
	thunk := uint32(4)
	flag := uint64(1) << 31
	if im.wide {
		thunk, flag = 8, 1<<63
	}
	for desc := dir.VirtualAddress; ; desc += 20 {
		d, ok := im.read(desc, 20)
		if !ok {
			return fmt.Errorf("import descriptor at %#x: unmapped", desc)
		}
		lookup := binary.LittleEndian.Uint32(d[0:])
		nameRVA := binary.LittleEndian.Uint32(d[12:])
		iat := binary.LittleEndian.Uint32(d[16:])
		if lookup == 0 && nameRVA == 0 && iat == 0 {
			return nil
		}
		if lookup == 0 {
			lookup = iat
		}
		lib, _ := im.cstring(nameRVA)

		for i := uint32(0); ; i++ {
			b, ok := im.read(lookup+i*thunk, int(thunk))
			if !ok {
				break
			}
			var v uint64
			if im.wide {
				v = binary.LittleEndian.Uint64(b)
			} else {
				v = uint64(binary.LittleEndian.Uint32(b))
			}
			if v == 0 {
				break
			}
			ordinal := int64(-1)
			var fn string
			if v&flag != 0 {
				ordinal = int64(v & 0xffff)
			} else {
				fn, _ = im.cstring(uint32(v) + 2)
			}
			row := []any{im.base + uint64(iat+i*thunk), ordinal, fn, lib}
			if err := m.AddRows(TableImportEntry, 4, row); err != nil {
				return err
			}
		}
	}
}

// debugData walks IMAGE_DEBUG_DIRECTORY entries.
func (im *peImage) debugData(m *Module, dir pe.DataDirectory) error {
	if dir.VirtualAddress == 0 {
		return nil
	}
	for off := uint32(0); off+28 <= dir.Size; off += 28 {
		e, ok := im.read(dir.VirtualAddress+off, 28)
		if !ok {
			return fmt.Errorf("debug directory at %#x: unmapped", dir.VirtualAddress+off)
		}
		typ := binary.LittleEndian.Uint32(e[12:])
		name, ok := debugTypeNames[typ]
		if !ok {
			name = fmt.Sprintf("TYPE_%d", typ)
		}
		size := binary.LittleEndian.Uint32(e[16:])
		rva := binary.LittleEndian.Uint32(e[20:])
		var addr uint64
		if rva != 0 {
			addr = im.base + uint64(rva)
		}
		if err := m.AddRows(TablePEDebugData, 3, []any{name, addr, uint64(size)}); err != nil {
			return err
		}
	}
	return nil
}
