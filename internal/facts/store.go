// Package facts holds the per-module fact store: every relation produced
// while decoding one binary, keyed by relation name.
package facts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"disfacts/internal/relation"
)

// ErrArityMismatch reports a row whose width differs from the relation's schema.
var ErrArityMismatch = errors.New("arity mismatch")

// Store maps relation names to relations. Insert and Declare are safe for
// concurrent use. Relations returned by Lookup must not be read while other
// goroutines are still inserting into the store.
type Store struct {
	mu   sync.Mutex
	rels map[string]*relation.Relation
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{rels: make(map[string]*relation.Relation)}
}

// Declare creates an empty relation with an explicit schema. Declaring an
// existing relation with the same arity is a no-op.
func (s *Store) Declare(name string, schema relation.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rel, ok := s.rels[name]; ok {
		if rel.Schema.Arity() != schema.Arity() {
			return fmt.Errorf("%s: %w: declared %d columns, have %d", name, ErrArityMismatch, schema.Arity(), rel.Schema.Arity())
		}
		return nil
	}
	s.rels[name] = relation.New(name, schema)
	return nil
}

// Insert appends rows to the named relation, creating it with a schema taken
// from the first row's cell tags. If any row has the wrong arity nothing
// is inserted.
func (s *Store) Insert(name string, rows ...relation.Row) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.rels[name]
	schema := relation.SchemaOf(rows[0])
	if ok {
		schema = rel.Schema
	}
	for _, row := range rows {
		if len(row) != schema.Arity() {
			return fmt.Errorf("%s: %w: %d cells for %d columns", name, ErrArityMismatch, len(row), schema.Arity())
		}
	}
	if !ok {
		rel = relation.New(name, schema)
		s.rels[name] = rel
	}
	rel.Rows = append(rel.Rows, rows...)
	return nil
}

// Lookup returns the named relation. It reports false when the relation was
// never declared or inserted into; a declared relation with no rows is
// present.
func (s *Store) Lookup(name string) (*relation.Relation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.rels[name]
	return rel, ok
}

// Names returns the relation names in sorted order.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.rels))
	for name := range s.rels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len is the total number of rows across all relations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rel := range s.rels {
		n += rel.Len()
	}
	return n
}

// Count is the number of rows in the named relation, zero when absent.
func (s *Store) Count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rel, ok := s.rels[name]; ok {
		return rel.Len()
	}
	return 0
}

// Merge appends every relation of other into s, in other's name order.
// Empty relations in other are declared in s.
func (s *Store) Merge(other *Store) error {
	if other == nil || other == s {
		return nil
	}
	for _, name := range other.Names() {
		rel, _ := other.Lookup(name)
		if err := s.Declare(name, rel.Schema); err != nil {
			return err
		}
		if err := s.Insert(name, rel.Rows...); err != nil {
			return err
		}
	}
	return nil
}

// Dump writes <name>.facts (tab separated rows) and <name>.schema (the
// signature) for every relation into dir, creating it if needed.
func (s *Store) Dump(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create debug dir: %w", err)
	}
	for _, name := range s.Names() {
		rel, _ := s.Lookup(name)
		if err := dumpRelation(dir, rel); err != nil {
			return err
		}
	}
	return nil
}

func dumpRelation(dir string, rel *relation.Relation) error {
	f, err := os.Create(filepath.Join(dir, rel.Name+".facts"))
	if err != nil {
		return fmt.Errorf("create %s.facts: %w", rel.Name, err)
	}
	if err := rel.WriteText(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s.facts: %w", rel.Name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s.facts: %w", rel.Name, err)
	}
	sig := rel.Schema.Signature() + "\n"
	if err := os.WriteFile(filepath.Join(dir, rel.Name+".schema"), []byte(sig), 0o644); err != nil {
		return fmt.Errorf("write %s.schema: %w", rel.Name, err)
	}
	return nil
}
