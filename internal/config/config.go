// Package config loads the disfacts configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"disfacts/internal/format"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable consulted when no --config flag
// is given.
const EnvPath = "DISFACTS_CONFIG"

// Config is the disfacts configuration.
type Config struct {
	Workers    int               `json:"workers,omitempty" yaml:"workers,omitempty" jsonschema:"title=Workers,description=Concurrent decode work units per module; 0 means one per CPU,minimum=0"`
	Modules    int               `json:"modules,omitempty" yaml:"modules,omitempty" jsonschema:"title=Modules,description=Modules decoded at once; 0 means one per CPU,minimum=0"`
	Strict     bool              `json:"strict,omitempty" yaml:"strict,omitempty" jsonschema:"title=Strict,description=Fail on the first malformed line when reading engine output"`
	DebugDir   string            `json:"debug_dir,omitempty" yaml:"debug_dir,omitempty" jsonschema:"title=Debug Directory,description=Write every relation as <name>.facts and <name>.schema under this directory"`
	Database   string            `json:"database,omitempty" yaml:"database,omitempty" jsonschema:"title=Database,description=SQLite file that decoded facts are saved to"`
	Program    string            `json:"program,omitempty" yaml:"program,omitempty" jsonschema:"title=Program,description=Mangle program evaluated over the decoded facts"`
	Outputs    map[string]string `json:"outputs,omitempty" yaml:"outputs,omitempty" jsonschema:"title=Outputs,description=Relations read back from the program with their signatures"`
	Typedefs   map[string]string `json:"typedefs,omitempty" yaml:"typedefs,omitempty" jsonschema:"title=Typedefs,description=Known C typedefs by type name"`
	Prototypes map[string]string `json:"prototypes,omitempty" yaml:"prototypes,omitempty" jsonschema:"title=Prototypes,description=Known C prototypes by function name"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Typedefs: map[string]string{
			"size_t": "typedef uint8 size_t;",
			"int":    "typedef int4 int;",
		},
		Prototypes: map[string]string{
			"malloc":         "extern void *malloc(size_t size);",
			"printf":         "extern int printf(char * format, ...);",
			"__cxa_finalize": "extern void __cxa_finalize(void * d);",
			"_Znwm":          "extern void * _Znwm(size_t size);",
		},
	}
}

// Load reads the configuration at path, falling back to $DISFACTS_CONFIG.
// With neither set it returns Default. Values in the file override the
// defaults; typedef and prototype entries are merged by name.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validate(file); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg.merge(file), nil
}

func (c Config) merge(o Config) Config {
	if o.Workers != 0 {
		c.Workers = o.Workers
	}
	if o.Modules != 0 {
		c.Modules = o.Modules
	}
	c.Strict = c.Strict || o.Strict
	if o.DebugDir != "" {
		c.DebugDir = o.DebugDir
	}
	if o.Database != "" {
		c.Database = o.Database
	}
	if o.Program != "" {
		c.Program = o.Program
	}
	if len(o.Outputs) > 0 {
		c.Outputs = o.Outputs
	}
	for k, v := range o.Typedefs {
		c.Typedefs[k] = v
	}
	for k, v := range o.Prototypes {
		c.Prototypes[k] = v
	}
	return c
}

func validate(o Config) error {
	var errs []error
	if o.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", o.Workers))
	}
	if o.Modules < 0 {
		errs = append(errs, fmt.Errorf("modules must not be negative, got %d", o.Modules))
	}
	if len(o.Outputs) > 0 && o.Program == "" {
		errs = append(errs, errors.New("outputs given without a program"))
	}
	return errors.Join(errs...)
}

// Tables returns the lookup tables handed to the prototype loader.
func (c Config) Tables() format.Tables {
	return format.Tables{Typedefs: c.Typedefs, Prototypes: c.Prototypes}
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	reflector := new(jsonschema.Reflector)
	bts, err := json.MarshalIndent(reflector.Reflect(&Config{}), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return bts, nil
}
