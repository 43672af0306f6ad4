package binir

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const manifestYAML = `
modules:
  - name: hello
    isa: ARM64
    entry_point: 0x1000
    intervals:
      - address: 0x1000
        bytes: "1f2003d5 c0035fd6"
    tables:
      symbol:
        - [0x1000, 8, FUNC, GLOBAL, DEFAULT, 1, main]
  - name: other
    isa: MIPS
    format: ELF
    sections:
      - {name: .text, address: 0x400, size: 4, flags: 6, exec: true}
    intervals:
      - address: 0x400
        bytes: "00000000"
`

func TestReadManifest(t *testing.T) {
	modules, err := ReadManifest(strings.NewReader(manifestYAML))
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if len(modules) != 2 {
		t.Fatalf("got %d modules, want 2", len(modules))
	}

	hello := modules[0]
	if hello.Format != "RAW" || hello.ISA != "ARM64" || hello.EntryPoint != 0x1000 {
		t.Errorf("hello = %+v", hello)
	}
	if len(hello.Intervals) != 1 || len(hello.Intervals[0].Bytes) != 8 || hello.Intervals[0].End() != 0x1008 {
		t.Errorf("intervals = %+v", hello.Intervals)
	}
	if len(hello.Sections) != 1 || !hello.Sections[0].Exec || hello.Sections[0].Size != 8 {
		t.Errorf("default sections = %+v", hello.Sections)
	}
	sym, ok := hello.Table(TableSymbol)
	if !ok || sym.Arity != 7 || len(sym.Rows) != 1 {
		t.Fatalf("symbol table = %+v", sym)
	}
	if sym.Rows[0][6] != "main" || sym.Rows[0][0] != 0x1000 {
		t.Errorf("symbol row = %v", sym.Rows[0])
	}

	other := modules[1]
	if other.Format != "ELF" || len(other.Sections) != 1 || other.Sections[0].Flags != 6 {
		t.Errorf("other = %+v", other)
	}
	if _, ok := other.Table(TableSymbol); ok {
		t.Error("other has a symbol table")
	}
}

func TestReadManifestErrors(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
	}{
		{"bad hex", "modules:\n  - name: a\n    intervals:\n      - {address: 0, bytes: zz}\n"},
		{"missing name", "modules:\n  - isa: X64\n"},
		{"unknown field", "modules:\n  - name: a\n    colour: red\n"},
		{"ragged table", "modules:\n  - name: a\n    tables:\n      t:\n        - [1, 2]\n        - [3]\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ReadManifest(strings.NewReader(tc.yaml)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestAddRowsArity(t *testing.T) {
	m := &Module{}
	if err := m.AddRows("t", 2, []any{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := m.AddRows("t", 3, []any{1, 2, 3}); err == nil {
		t.Error("arity change accepted")
	}
	if got := m.TableNames(); len(got) != 1 || got[0] != "t" {
		t.Errorf("TableNames = %v", got)
	}
}

// minimalELF is an AArch64 executable with a single 8-byte .text section.
func minimalELF() []byte {
	le := binary.LittleEndian
	b := make([]byte, 0x60+3*64)
	copy(b, "\x7fELF")
	b[4], b[5], b[6] = 2, 1, 1 // ELFCLASS64, little endian, EV_CURRENT
	le.PutUint16(b[16:], 2)    // ET_EXEC
	le.PutUint16(b[18:], 183)  // EM_AARCH64
	le.PutUint32(b[20:], 1)
	le.PutUint64(b[24:], 0x400040)
	le.PutUint64(b[40:], 0x60)
	le.PutUint16(b[52:], 64)
	le.PutUint16(b[54:], 56)
	le.PutUint16(b[58:], 64)
	le.PutUint16(b[60:], 3)
	le.PutUint16(b[62:], 2)

	le.PutUint32(b[0x40:], 0xd503201f)
	le.PutUint32(b[0x44:], 0xd65f03c0)
	copy(b[0x48:], "\x00.text\x00.shstrtab\x00")

	sh := func(i int, name, typ uint32, flags, addr, off, size uint64) {
		h := b[0x60+i*64:]
		le.PutUint32(h[0:], name)
		le.PutUint32(h[4:], typ)
		le.PutUint64(h[8:], flags)
		le.PutUint64(h[16:], addr)
		le.PutUint64(h[24:], off)
		le.PutUint64(h[32:], size)
		le.PutUint64(h[48:], 1)
	}
	sh(1, 1, 1, 6, 0x400040, 0x40, 8)
	sh(2, 7, 3, 0, 0, 0x48, 17)
	return b
}

func TestReadELF(t *testing.T) {
	m, err := ReadELF("/tmp/hello", minimalELF())
	if err != nil {
		t.Fatalf("ReadELF: %v", err)
	}
	if m.Name != "hello" || m.ISA != "ARM64" || m.Format != "ELF" || m.EntryPoint != 0x400040 {
		t.Errorf("module = %+v", m)
	}
	if len(m.Sections) != 2 || m.Sections[0].Name != ".text" || !m.Sections[0].Exec || m.Sections[1].Exec {
		t.Errorf("sections = %+v", m.Sections)
	}
	if len(m.Intervals) != 1 || m.Intervals[0].Address != 0x400040 || len(m.Intervals[0].Bytes) != 8 {
		t.Errorf("intervals = %+v", m.Intervals)
	}
	if len(m.Aux) != 0 {
		t.Errorf("unexpected aux tables %v", m.TableNames())
	}
}

// minimalPE is a PE32+ x86-64 image whose .text section holds two bytes of
// code and an export directory with one named and one unnamed export.
func minimalPE() []byte {
	le := binary.LittleEndian
	b := make([]byte, 0x400)
	copy(b, "MZ")
	le.PutUint32(b[0x3c:], 0x40)
	copy(b[0x40:], "PE\x00\x00")

	coff := b[0x44:]
	le.PutUint16(coff[0:], 0x8664)
	le.PutUint16(coff[2:], 1)
	le.PutUint16(coff[16:], 240)
	le.PutUint16(coff[18:], 0x22)

	opt := b[0x58:]
	le.PutUint16(opt[0:], 0x20b)
	le.PutUint32(opt[16:], 0x1000)
	le.PutUint64(opt[24:], 0x140000000)
	le.PutUint32(opt[32:], 0x1000)
	le.PutUint32(opt[36:], 0x200)
	le.PutUint32(opt[108:], 16)
	le.PutUint32(opt[112:], 0x1010)
	le.PutUint32(opt[116:], 40)

	sec := b[0x148:]
	copy(sec, ".text")
	le.PutUint32(sec[8:], 0x100)
	le.PutUint32(sec[12:], 0x1000)
	le.PutUint32(sec[16:], 0x200)
	le.PutUint32(sec[20:], 0x200)
	le.PutUint32(sec[36:], 0x60000020)

	raw := b[0x200:]
	at := func(rva uint32) []byte { return raw[rva-0x1000:] }
	copy(at(0x1000), []byte{0x90, 0xc3})
	exp := at(0x1010)
	le.PutUint32(exp[12:], 0x1070)
	le.PutUint32(exp[16:], 1)
	le.PutUint32(exp[20:], 2)
	le.PutUint32(exp[24:], 1)
	le.PutUint32(exp[28:], 0x1040)
	le.PutUint32(exp[32:], 0x1050)
	le.PutUint32(exp[36:], 0x1058)
	le.PutUint32(at(0x1040), 0x1000)
	le.PutUint32(at(0x1044), 0x1001)
	le.PutUint32(at(0x1050), 0x1060)
	le.PutUint16(at(0x1058), 1)
	copy(at(0x1060), "second\x00")
	copy(at(0x1070), "test.dll\x00")
	return b
}

func TestReadPE(t *testing.T) {
	m, err := ReadPE("test.dll", minimalPE())
	if err != nil {
		t.Fatalf("ReadPE: %v", err)
	}
	const base = 0x140000000
	if m.ISA != "X64" || m.Format != "PE" || m.EntryPoint != base+0x1000 || m.BaseAddress != base {
		t.Errorf("module = %+v", m)
	}
	if len(m.Intervals) != 1 || m.Intervals[0].Address != base+0x1000 || len(m.Intervals[0].Bytes) != 0x100 {
		t.Errorf("intervals = %d", len(m.Intervals))
	}

	dd, ok := m.Table(TableDataDirectory)
	if !ok || len(dd.Rows) != 1 || dd.Rows[0][0] != "EXPORT" || dd.Rows[0][1] != uint64(base+0x1010) {
		t.Errorf("data_directory = %+v", dd)
	}

	exp, ok := m.Table(TableExportEntry)
	if !ok || len(exp.Rows) != 2 {
		t.Fatalf("export_entry = %+v", exp)
	}
	testCases := []struct {
		addr    uint64
		ordinal int64
		name    string
	}{
		{base + 0x1000, 1, ""},
		{base + 0x1001, 2, "second"},
	}
	for i, tc := range testCases {
		row := exp.Rows[i]
		if row[0] != tc.addr || row[1] != tc.ordinal || row[2] != tc.name {
			t.Errorf("export %d = %v, want %v", i, row, tc)
		}
	}
	if _, ok := m.Table(TableImportEntry); ok {
		t.Error("unexpected import_entry table")
	}
}

func TestReadPEWithoutDirectories(t *testing.T) {
	testCases := []struct {
		name    string
		entries uint32
	}{
		{name: "all directories empty", entries: 16},
		{name: "no directory entries", entries: 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			img := minimalPE()
			opt := img[0x58:]
			binary.LittleEndian.PutUint32(opt[108:], tc.entries)
			binary.LittleEndian.PutUint64(opt[112:], 0)
			if tc.entries == 0 {
				// shrink the optional header and move the section table up
				binary.LittleEndian.PutUint16(img[0x44+16:], 112)
				copy(img[0x58+112:], img[0x148:0x148+40])
			}

			m, err := ReadPE("plain.exe", img)
			if err != nil {
				t.Fatalf("ReadPE: %v", err)
			}
			dd, ok := m.Table(TableDataDirectory)
			if !ok || len(dd.Rows) != 0 || dd.Arity != 3 {
				t.Errorf("data_directory = %+v, present %v", dd, ok)
			}
			if _, ok := m.Table(TableExportEntry); ok {
				t.Error("unexpected export_entry table")
			}
		})
	}
}

func TestOpenSniffsFormat(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	testCases := []struct {
		path   string
		format string
		count  int
	}{
		{write("a.out", minimalELF()), "ELF", 1},
		{write("a.dll", minimalPE()), "PE", 1},
		{write("m.yaml", []byte(manifestYAML)), "RAW", 2},
	}
	for _, tc := range testCases {
		t.Run(filepath.Base(tc.path), func(t *testing.T) {
			modules, err := Open(tc.path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if len(modules) != tc.count || modules[0].Format != tc.format || modules[0].Path != tc.path {
				t.Errorf("got %d modules, first %+v", len(modules), modules[0])
			}
		})
	}

	if _, err := Open(write("junk", []byte("\x00\x01\x02: ["))); !errors.Is(err, ErrUnknownContainer) {
		t.Errorf("junk error = %v, want ErrUnknownContainer", err)
	}
}
