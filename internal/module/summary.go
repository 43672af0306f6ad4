package module

import (
	"sort"

	"disfacts/internal/loader"
)

// Failure names a module that could not be decoded.
type Failure struct {
	Module string
	Reason string
}

// Summary aggregates a batch.
type Summary struct {
	Modules      int
	Succeeded    int
	Failures     []Failure
	Instructions int
	Bytes        int // code bytes scanned by successful modules
	Opaque       map[string]int
	Stalled      int
	Relations    map[string]int // row counts summed over successful modules
}

// Summarize folds results into a Summary.
func Summarize(results []Result) Summary {
	s := Summary{
		Modules:   len(results),
		Opaque:    make(map[string]int),
		Relations: make(map[string]int),
	}
	for _, r := range results {
		if r.Err != nil {
			s.Failures = append(s.Failures, Failure{Module: r.Module, Reason: r.Err.Error()})
			continue
		}
		s.Succeeded++
		s.Instructions += r.Stats.Instructions
		s.Bytes += r.Bytes
		s.Stalled += r.Stats.Stalled
		for k, v := range r.Stats.Opaque {
			s.Opaque[k] += v
		}
		if r.Store == nil {
			continue
		}
		for _, name := range r.Store.Names() {
			s.Relations[name] += r.Store.Count(name)
		}
	}
	return s
}

// OpaqueTotal is the number of placeholders across all reasons.
func (s Summary) OpaqueTotal() int {
	n := 0
	for _, v := range s.Opaque {
		n += v
	}
	return n
}

// Reasons lists the opaque reasons seen in the batch, sorted.
func (s Summary) Reasons() []string {
	return loader.Stats{Opaque: s.Opaque}.Reasons()
}

// RelationNames lists the relations seen in the batch, sorted.
func (s Summary) RelationNames() []string {
	names := make([]string, 0, len(s.Relations))
	for name := range s.Relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
