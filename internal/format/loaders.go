package format

import (
	"fmt"
	"sort"

	"disfacts/internal/binir"
	"disfacts/internal/facts"
)

// ModuleInfo writes the identification relations.
type ModuleInfo struct{}

func (ModuleInfo) Name() string { return "module-info" }

func (ModuleInfo) Load(m *binir.Module, store *facts.Store) error {
	for _, r := range []struct {
		name string
		v    any
	}{
		{"binary_isa", m.ISA},
		{"binary_format", m.Format},
		{"entry_point", m.EntryPoint},
		{"base_address", m.BaseAddress},
	} {
		if err := insert(store, r.name, []any{r.v}); err != nil {
			return err
		}
	}
	return nil
}

// Sections writes one section row per container section.
type Sections struct{}

func (Sections) Name() string { return "sections" }

func (Sections) Load(m *binir.Module, store *facts.Store) error {
	rows := make([][]any, len(m.Sections))
	for i, s := range m.Sections {
		rows[i] = []any{s.Name, s.Size, s.Address, s.Flags}
	}
	return insert(store, "section", rows...)
}

// tableSpec copies one aux table into the relation of the same name.
type tableSpec struct {
	name     string
	required bool
}

// TableLoader copies aux tables into relations. An absent optional table
// yields an empty relation; an absent required one fails the module.
type TableLoader struct {
	name   string
	tables []tableSpec
}

// ElfSymbols loads the ELF symbol table.
func ElfSymbols() *TableLoader {
	return &TableLoader{name: "elf-symbols", tables: []tableSpec{{name: binir.TableSymbol}}}
}

// ElfDynamic loads dynamic section entries.
func ElfDynamic() *TableLoader {
	return &TableLoader{name: "elf-dynamic", tables: []tableSpec{{name: binir.TableDynamicEntry}}}
}

// ElfRelocations loads REL and RELA entries.
func ElfRelocations() *TableLoader {
	return &TableLoader{name: "elf-relocations", tables: []tableSpec{{name: binir.TableRelocation}}}
}

// PeSymbols loads the export and import entries.
func PeSymbols() *TableLoader {
	return &TableLoader{name: "pe-symbols", tables: []tableSpec{
		{name: binir.TableExportEntry},
		{name: binir.TableImportEntry},
	}}
}

// PeDataDirectories loads the data directory, which every PE image has,
// and the optional debug directory entries.
func PeDataDirectories() *TableLoader {
	return &TableLoader{name: "pe-data-directories", tables: []tableSpec{
		{name: binir.TableDataDirectory, required: true},
		{name: binir.TablePEDebugData},
	}}
}

func (l *TableLoader) Name() string { return l.name }

func (l *TableLoader) Load(m *binir.Module, store *facts.Store) error {
	for _, spec := range l.tables {
		t, ok := m.Table(spec.name)
		if !ok {
			if spec.required {
				return fmt.Errorf("%w: %s", ErrMissingRequiredTable, spec.name)
			}
			if _, err := declare(store, spec.name); err != nil {
				return err
			}
			continue
		}
		if err := insert(store, spec.name, t.Rows...); err != nil {
			return err
		}
	}
	return nil
}

// Prototypes writes the injected typedef and prototype tables in key order.
type Prototypes struct {
	Tables Tables
}

func (Prototypes) Name() string { return "prototypes" }

func (p Prototypes) Load(_ *binir.Module, store *facts.Store) error {
	if err := insert(store, "known_typedef", sortedPairs(p.Tables.Typedefs)...); err != nil {
		return err
	}
	return insert(store, "known_prototype", sortedPairs(p.Tables.Prototypes)...)
}

func sortedPairs(m map[string]string) [][]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]any, len(keys))
	for i, k := range keys {
		rows[i] = []any{k, m[k]}
	}
	return rows
}
