// Package format turns a module's identification tags, sections and
// auxiliary tables into relations. Which loaders run depends on the
// container format.
package format

import (
	"errors"
	"fmt"

	"disfacts/internal/binir"
	"disfacts/internal/facts"
	"disfacts/internal/relation"
)

var (
	// ErrUnsupportedFormat reports a format tag with no loader set.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrMissingRequiredTable reports an aux table a loader cannot do without.
	ErrMissingRequiredTable = errors.New("missing required table")
)

// Loader writes one group of relations for a module.
type Loader interface {
	Name() string
	Load(m *binir.Module, store *facts.Store) error
}

// Chain runs loaders in sequence and stops at the first failure.
type Chain struct {
	loaders []Loader
}

// NewChain creates a chain over loaders.
func NewChain(loaders ...Loader) *Chain {
	return &Chain{loaders: loaders}
}

// Load runs every loader in order.
func (c *Chain) Load(m *binir.Module, store *facts.Store) error {
	for _, l := range c.loaders {
		if err := l.Load(m, store); err != nil {
			return fmt.Errorf("%s loader: %w", l.Name(), err)
		}
	}
	return nil
}

// Names lists the loaders in run order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.loaders))
	for i, l := range c.loaders {
		names[i] = l.Name()
	}
	return names
}

// Tables are the lookup tables injected into every module's facts.
type Tables struct {
	Typedefs   map[string]string
	Prototypes map[string]string
}

// demangler is shared by every module so the cache spans a batch.
var demangler = NewDemangler()

// Identify returns the loaders for a format tag. Every format gets the
// demangling and prototype loaders after its own.
func Identify(format string, tables Tables) ([]Loader, error) {
	var loaders []Loader
	switch format {
	case "ELF":
		loaders = []Loader{ModuleInfo{}, Sections{}, ElfSymbols(), ElfDynamic(), ElfRelocations()}
	case "PE":
		loaders = []Loader{ModuleInfo{}, Sections{}, PeSymbols(), PeDataDirectories()}
	case "RAW":
		loaders = []Loader{ModuleInfo{}, Sections{}}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return append(loaders, demangler, Prototypes{Tables: tables}), nil
}

// Schemas are the signatures of every relation a format loader writes.
var Schemas = map[string]string{
	"binary_isa":      "<s:isa>",
	"binary_format":   "<s:format>",
	"entry_point":     "<u:address>",
	"base_address":    "<u:address>",
	"section":         "<s:name,u:size,u:address,u:flags>",
	"symbol":          "<u:address,u:size,s:type,s:binding,s:visibility,u:section_index,s:name>",
	"dynamic_entry":   "<s:tag,u:value>",
	"relocation":      "<u:address,s:type,s:symbol,i:addend,u:symbol_index,s:section>",
	"export_entry":    "<u:address,i:ordinal,s:name>",
	"import_entry":    "<u:address,i:ordinal,s:function,s:library>",
	"data_directory":  "<s:type,u:address,u:size>",
	"pe_debug_data":   "<s:type,u:address,u:size>",
	"demangled_name":  "<s:mangled,s:demangled>",
	"known_prototype": "<s:function,s:prototype>",
	"known_typedef":   "<s:name,s:typedef>",
}

func declare(store *facts.Store, name string) (relation.Schema, error) {
	schema := relation.ParseSchema(Schemas[name])
	return schema, store.Declare(name, schema)
}

// insert declares name and writes rows of Go scalars coerced to its schema.
func insert(store *facts.Store, name string, rows ...[]any) error {
	schema, err := declare(store, name)
	if err != nil {
		return err
	}
	out := make([]relation.Row, 0, len(rows))
	for _, r := range rows {
		if len(r) != schema.Arity() {
			return fmt.Errorf("%s: %w: %d values for %d columns", name, facts.ErrArityMismatch, len(r), schema.Arity())
		}
		row := make(relation.Row, len(r))
		for i, v := range r {
			c, err := relation.Coerce(schema[i].Tag, v)
			if err != nil {
				return fmt.Errorf("%s column %s: %w", name, schema[i].Name, err)
			}
			row[i] = c
		}
		out = append(out, row)
	}
	return store.Insert(name, out...)
}
