package binir

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest describes synthetic modules in YAML:
//
//	modules:
//	  - name: hello
//	    isa: ARM64
//	    entry_point: 0x1000
//	    intervals:
//	      - address: 0x1000
//	        bytes: "1f2003d5 c0035fd6"
//	    tables:
//	      symbol:
//	        - [0x1000, 8, FUNC, GLOBAL, DEFAULT, 1, main]
type Manifest struct {
	Modules []ManifestModule `yaml:"modules"`
}

type ManifestModule struct {
	Name        string             `yaml:"name"`
	ISA         string             `yaml:"isa"`
	Format      string             `yaml:"format,omitempty"`
	EntryPoint  uint64             `yaml:"entry_point,omitempty"`
	BaseAddress uint64             `yaml:"base_address,omitempty"`
	Sections    []ManifestSection  `yaml:"sections,omitempty"`
	Intervals   []ManifestInterval `yaml:"intervals"`
	Tables      map[string][][]any `yaml:"tables,omitempty"`
}

type ManifestSection struct {
	Name    string `yaml:"name"`
	Size    uint64 `yaml:"size"`
	Address uint64 `yaml:"address"`
	Flags   uint64 `yaml:"flags,omitempty"`
	Exec    bool   `yaml:"exec,omitempty"`
}

type ManifestInterval struct {
	Address uint64 `yaml:"address"`
	Bytes   string `yaml:"bytes"`
}

// ReadManifest decodes a YAML manifest into modules. Format defaults to
// RAW; a module without sections gets one executable section per interval.
func ReadManifest(r io.Reader) ([]*Module, error) {
	var man Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&man); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	modules := make([]*Module, 0, len(man.Modules))
	for i, mm := range man.Modules {
		m, err := mm.build()
		if err != nil {
			return nil, fmt.Errorf("manifest module %d (%s): %w", i, mm.Name, err)
		}
		modules = append(modules, m)
	}
	return modules, nil
}

func (mm ManifestModule) build() (*Module, error) {
	if mm.Name == "" {
		return nil, errors.New("missing name")
	}
	m := &Module{
		Name:        mm.Name,
		ISA:         mm.ISA,
		Format:      mm.Format,
		EntryPoint:  mm.EntryPoint,
		BaseAddress: mm.BaseAddress,
	}
	if m.Format == "" {
		m.Format = "RAW"
	}
	for _, iv := range mm.Intervals {
		b, err := hex.DecodeString(strings.Join(strings.Fields(iv.Bytes), ""))
		if err != nil {
			return nil, fmt.Errorf("interval %#x: %w", iv.Address, err)
		}
		m.Intervals = append(m.Intervals, Interval{Address: iv.Address, Bytes: b})
	}
	for _, s := range mm.Sections {
		m.Sections = append(m.Sections, Section(s))
	}
	if len(m.Sections) == 0 {
		for i, iv := range m.Intervals {
			m.Sections = append(m.Sections, Section{
				Name:    fmt.Sprintf(".text%d", i),
				Size:    uint64(len(iv.Bytes)),
				Address: iv.Address,
				Exec:    true,
			})
		}
	}
	for name, rows := range mm.Tables {
		if len(rows) == 0 {
			continue
		}
		if err := m.AddRows(name, len(rows[0]), rows...); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Open reads a binary or manifest from disk. ELF and PE files are
// recognised by their magic; anything that parses as a manifest is one.
func Open(path string) ([]*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	switch {
	case bytes.HasPrefix(data, []byte(elfMagic)):
		m, err := ReadELF(path, data)
		if err != nil {
			return nil, err
		}
		return []*Module{m}, nil
	case bytes.HasPrefix(data, []byte("MZ")):
		m, err := ReadPE(path, data)
		if err != nil {
			return nil, err
		}
		return []*Module{m}, nil
	}
	modules, err := ReadManifest(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrUnknownContainer, err)
	}
	for _, m := range modules {
		m.Path = path
	}
	return modules, nil
}

const elfMagic = "\x7fELF"
