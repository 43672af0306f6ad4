package relation

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Row is one tuple. Its length equals the owning relation's arity.
type Row []Cell

// Relation is a named, typed, ordered collection of rows.
type Relation struct {
	Name   string
	Schema Schema
	Rows   []Row
}

// LoadOptions controls text ingestion.
type LoadOptions struct {
	// Strict turns the first dropped line into an error.
	Strict bool
}

// LoadStats counts what Load did with each input line.
type LoadStats struct {
	Lines      int // non-blank lines seen
	Rows       int // rows kept
	Mismatched int // dropped for a wrong token count
	Malformed  int // dropped for a value that did not convert
}

// Dropped is the number of non-blank lines that produced no row.
func (s LoadStats) Dropped() int { return s.Mismatched + s.Malformed }

// New returns an empty relation.
func New(name string, schema Schema) *Relation {
	return &Relation{Name: name, Schema: schema}
}

// Load parses whitespace-delimited text, one row per line, against schema.
// Blank lines are skipped. Lines with the wrong token count or a value that
// fails to convert are dropped whole, unless opts.Strict is set, in which
// case the first such line aborts the load.
func Load(name string, schema Schema, text string, opts LoadOptions) (*Relation, LoadStats, error) {
	r := New(name, schema)
	stats, err := r.Load(text, opts)
	if err != nil {
		return nil, stats, err
	}
	return r, stats, nil
}

// Load appends the rows parsed from text to r. See the package-level Load.
func (r *Relation) Load(text string, opts LoadOptions) (LoadStats, error) {
	var stats LoadStats
	for n, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		stats.Lines++
		row, err := r.parseRow(fields)
		if err != nil {
			if opts.Strict {
				return stats, fmt.Errorf("%s line %d: %w", r.Name, n+1, err)
			}
			if len(fields) != len(r.Schema) {
				stats.Mismatched++
			} else {
				stats.Malformed++
			}
			continue
		}
		r.Rows = append(r.Rows, row)
		stats.Rows++
	}
	return stats, nil
}

func (r *Relation) parseRow(fields []string) (Row, error) {
	if len(fields) != len(r.Schema) {
		return nil, fmt.Errorf("%w: %d tokens for %d columns", ErrSchemaMismatch, len(fields), len(r.Schema))
	}
	row := make(Row, len(fields))
	for i, f := range fields {
		c, err := ParseCell(r.Schema[i].Tag, f)
		if err != nil {
			return nil, err
		}
		row[i] = c
	}
	return row, nil
}

// Append adds a row after checking its arity and column tags.
func (r *Relation) Append(row Row) error {
	if len(row) != len(r.Schema) {
		return fmt.Errorf("%s: %w: %d cells for %d columns", r.Name, ErrSchemaMismatch, len(row), len(r.Schema))
	}
	if !r.Schema.Matches(row) {
		return fmt.Errorf("%s: %w: row %s does not match %s", r.Name, ErrSchemaMismatch, SchemaOf(row).Signature(), r.Schema.Signature())
	}
	r.Rows = append(r.Rows, row)
	return nil
}

// Len is the number of rows.
func (r *Relation) Len() int { return len(r.Rows) }

// Render formats the relation as a header line followed by one
// parenthesised tuple per row.
func (r *Relation) Render() string {
	var b strings.Builder
	b.WriteString("Relation ")
	b.WriteString(r.Name)
	b.WriteByte('\n')
	for _, row := range r.Rows {
		b.WriteByte('(')
		for i, c := range row {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.String())
		}
		b.WriteString(")\n")
	}
	return b.String()
}

// WriteText writes the rows tab separated, one per line, in the form Load
// accepts.
func (r *Relation) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, row := range r.Rows {
		for i, c := range row {
			if i > 0 {
				bw.WriteByte('\t')
			}
			bw.WriteString(c.String())
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// SortByAddress orders rows by the first unsigned column, keeping the
// relative order of equal keys. Relations without an unsigned column are
// left as they are.
func (r *Relation) SortByAddress() {
	key := -1
	for i, c := range r.Schema {
		if c.Tag == TagUnsigned {
			key = i
			break
		}
	}
	if key < 0 {
		return
	}
	sort.SliceStable(r.Rows, func(i, j int) bool {
		a, _ := r.Rows[i][key].(Unsigned)
		b, _ := r.Rows[j][key].(Unsigned)
		return a < b
	})
}
