package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "disfacts.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvPath, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 0 || cfg.Strict || len(cfg.Prototypes) != 4 || len(cfg.Typedefs) != 2 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Tables().Prototypes["malloc"] != "extern void *malloc(size_t size);" {
		t.Errorf("malloc prototype = %q", cfg.Tables().Prototypes["malloc"])
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
workers: 3
strict: true
debug_dir: /tmp/facts
program: rules.mg
outputs:
  code_address: u
prototypes:
  strlen: "extern size_t strlen(char * s);"
  malloc: "extern void *malloc(unsigned long n);"
`)
	testCases := []struct {
		name string
		arg  string
		env  string
	}{
		{name: "flag", arg: path},
		{name: "environment", env: path},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvPath, tc.env)
			cfg, err := Load(tc.arg)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Workers != 3 || !cfg.Strict || cfg.DebugDir != "/tmp/facts" || cfg.Outputs["code_address"] != "u" {
				t.Errorf("cfg = %+v", cfg)
			}
			if len(cfg.Prototypes) != 5 || cfg.Prototypes["malloc"] != "extern void *malloc(unsigned long n);" {
				t.Errorf("prototypes = %v", cfg.Prototypes)
			}
			if len(cfg.Typedefs) != 2 {
				t.Errorf("typedefs = %v", cfg.Typedefs)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvPath, "")
	testCases := []struct {
		name string
		body string
		want string
	}{
		{name: "negative workers", body: "workers: -1\n", want: "workers must not be negative"},
		{name: "outputs without program", body: "outputs: {a: s}\n", want: "outputs given without a program"},
		{name: "not yaml", body: "workers: [\n", want: "parse config"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want it to contain %q", err, tc.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestSchema(t *testing.T) {
	bts, err := Schema()
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(bts, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	for _, field := range []string{"workers", "debug_dir", "prototypes"} {
		if !strings.Contains(string(bts), `"`+field+`"`) {
			t.Errorf("schema lacks %s", field)
		}
	}
}
