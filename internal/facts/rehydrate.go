package facts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"disfacts/internal/relation"
)

// Encoded is one relation as it comes back from the rule engine: a schema
// signature and newline separated, whitespace tokenized rows.
type Encoded struct {
	Signature string
	Text      string
}

// Rehydrate builds a store from engine output. Every named output becomes a
// relation, even when its text is empty. Stats are keyed by relation name.
func Rehydrate(outputs map[string]Encoded, opts relation.LoadOptions) (*Store, map[string]relation.LoadStats, error) {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	store := NewStore()
	stats := make(map[string]relation.LoadStats, len(names))
	for _, name := range names {
		enc := outputs[name]
		rel, st, err := relation.Load(name, relation.ParseSchema(enc.Signature), enc.Text, opts)
		stats[name] = st
		if err != nil {
			return nil, stats, fmt.Errorf("rehydrate: %w", err)
		}
		store.rels[name] = rel
	}
	return store, stats, nil
}

// ReadDump reads a directory written by Dump back into Encoded outputs.
func ReadDump(dir string) (map[string]Encoded, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.schema"))
	if err != nil {
		return nil, err
	}
	out := make(map[string]Encoded, len(paths))
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), ".schema")
		sig, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		text, err := os.ReadFile(filepath.Join(dir, name+".facts"))
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s.facts: %w", name, err)
		}
		out[name] = Encoded{Signature: strings.TrimSpace(string(sig)), Text: string(text)}
	}
	return out, nil
}
