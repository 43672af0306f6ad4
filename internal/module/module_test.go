package module

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"disfacts/internal/arch"
	"disfacts/internal/binir"
	"disfacts/internal/format"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const batch = `
modules:
  - name: arm64
    isa: ARM64
    intervals:
      - address: 0x1000
        bytes: "1f2003d5 c0035fd6"
  - name: mips
    isa: MIPS
    intervals:
      - address: 0x0
        bytes: "00000000"
  - name: x64
    isa: X64
    intervals:
      - address: 0x400000
        bytes: "90 c3"
  - name: nodirs
    isa: X64
    format: PE
    intervals:
      - address: 0x400000
        bytes: "c3"
`

func readBatch(t *testing.T) []*binir.Module {
	t.Helper()
	modules, err := binir.ReadManifest(strings.NewReader(batch))
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	return modules
}

func TestDecode(t *testing.T) {
	m := readBatch(t)[0]
	res, err := Decode(context.Background(), m, Options{Logger: quiet})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if res.Stats.Instructions != 2 || res.Bytes != 8 {
		t.Errorf("instructions = %d, bytes = %d, want 2 and 8", res.Stats.Instructions, res.Bytes)
	}
	for _, name := range []string{"binary_isa", "section", "instruction", "invalid", "known_prototype"} {
		if _, ok := res.Store.Lookup(name); !ok {
			t.Errorf("relation %s missing", name)
		}
	}
	isa, _ := res.Store.Lookup("binary_isa")
	if isa.Render() != "Relation binary_isa\n(ARM64)\n" {
		t.Errorf("binary_isa = %q", isa.Render())
	}
}

func TestDecodeFailures(t *testing.T) {
	modules := readBatch(t)
	testCases := []struct {
		module *binir.Module
		tag    string
		err    error
	}{
		{module: modules[1], tag: "MIPS", err: arch.ErrUnsupportedArchitecture},
		{module: modules[3], tag: "PE", err: format.ErrMissingRequiredTable},
		{module: &binir.Module{Name: "macho", ISA: "X64", Format: "MACHO"}, tag: "MACHO", err: format.ErrUnsupportedFormat},
	}
	for _, tc := range testCases {
		t.Run(tc.module.Name, func(t *testing.T) {
			_, err := Decode(context.Background(), tc.module, Options{Logger: quiet})
			if !errors.Is(err, tc.err) {
				t.Fatalf("error = %v, want %v", err, tc.err)
			}
			var me *ModuleError
			if !errors.As(err, &me) || me.Module != tc.module.Name || me.Tag != tc.tag {
				t.Errorf("ModuleError = %+v", me)
			}
			if !strings.Contains(err.Error(), tc.module.Name) {
				t.Errorf("error %q does not name the module", err)
			}
		})
	}
}

func TestDecodeAllContainsFailures(t *testing.T) {
	modules := readBatch(t)
	results := DecodeAll(context.Background(), modules, Options{Modules: 2, Logger: quiet})
	if len(results) != len(modules) {
		t.Fatalf("got %d results", len(results))
	}
	for i, r := range results {
		if r.Module != modules[i].Name {
			t.Errorf("result %d is %s, want %s", i, r.Module, modules[i].Name)
		}
	}

	s := Summarize(results)
	if s.Modules != 4 || s.Succeeded != 2 || len(s.Failures) != 2 {
		t.Fatalf("summary = %+v", s)
	}
	if s.Failures[0].Module != "mips" || s.Failures[1].Module != "nodirs" {
		t.Errorf("failures = %+v", s.Failures)
	}
	if s.Instructions != 4 || s.OpaqueTotal() != 0 || s.Bytes != 10 || len(s.Reasons()) != 0 {
		t.Errorf("instructions = %d, opaque = %d, bytes = %d", s.Instructions, s.OpaqueTotal(), s.Bytes)
	}
	if s.Relations["instruction"] != 4 || s.Relations["binary_isa"] != 2 {
		t.Errorf("relation counts = %v", s.Relations)
	}
	if names := s.RelationNames(); len(names) == 0 || names[0] != "base_address" {
		t.Errorf("RelationNames = %v", names)
	}
}
