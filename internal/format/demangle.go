package format

import (
	"sort"
	"sync"

	"disfacts/internal/binir"
	"disfacts/internal/facts"

	"github.com/ianlancetaylor/demangle"
)

// Demangler writes a demangled_name row for every symbol, export or import
// name that demangles to something different. Results are cached across
// modules, so one Demangler can be shared by concurrent decodes.
type Demangler struct {
	mu    sync.RWMutex
	cache map[string]string
	hits  int
}

func NewDemangler() *Demangler {
	return &Demangler{cache: make(map[string]string)}
}

func (*Demangler) Name() string { return "demangle" }

// Demangle returns the demangled form of name, or name itself.
func (d *Demangler) Demangle(name string) string {
	d.mu.RLock()
	if out, ok := d.cache[name]; ok {
		d.mu.RUnlock()
		d.mu.Lock()
		d.hits++
		d.mu.Unlock()
		return out
	}
	d.mu.RUnlock()

	out := demangle.Filter(name, demangle.NoClones)

	d.mu.Lock()
	d.cache[name] = out
	d.mu.Unlock()
	return out
}

// Stats reports the number of cached names and cache hits.
func (d *Demangler) Stats() (entries, hits int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cache), d.hits
}

// nameColumns is the column holding a symbol name in each aux table.
var nameColumns = map[string]int{
	binir.TableSymbol:      6,
	binir.TableExportEntry: 2,
	binir.TableImportEntry: 2,
}

func (d *Demangler) Load(m *binir.Module, store *facts.Store) error {
	seen := make(map[string]bool)
	for table, col := range nameColumns {
		t, ok := m.Table(table)
		if !ok {
			continue
		}
		for _, r := range t.Rows {
			if name, ok := r[col].(string); ok && name != "" {
				seen[name] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	var rows [][]any
	for _, name := range names {
		if out := d.Demangle(name); out != name {
			rows = append(rows, []any{name, out})
		}
	}
	return insert(store, "demangled_name", rows...)
}
