// Package engine hands decoded facts to a Mangle program and brings the
// derived relations back as signature plus text, the same shape any
// external rule engine would return.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"disfacts/internal/facts"
	"disfacts/internal/relation"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// derivedFactLimit caps evaluation of runaway recursive rules.
const derivedFactLimit = 1 << 22

// Term converts a cell into a Mangle constant. Unsigned values keep their
// bit pattern in the signed number.
func Term(c relation.Cell) ast.BaseTerm {
	switch v := c.(type) {
	case relation.String:
		return ast.String(string(v))
	case relation.Int:
		return ast.Number(int64(v))
	case relation.Unsigned:
		return ast.Number(int64(v))
	case relation.Float:
		return ast.Float64(float64(v))
	}
	return ast.String(c.String())
}

// Export copies every row of store into a Mangle fact store.
func Export(store *facts.Store) factstore.FactStore {
	fs := factstore.NewSimpleInMemoryStore()
	for _, name := range store.Names() {
		rel, _ := store.Lookup(name)
		sym := ast.PredicateSym{Symbol: name, Arity: rel.Schema.Arity()}
		for _, row := range rel.Rows {
			args := make([]ast.BaseTerm, len(row))
			for i, c := range row {
				args[i] = Term(c)
			}
			fs.Add(ast.Atom{Predicate: sym, Args: args})
		}
	}
	return fs
}

// declarations declares every exported relation the program does not
// declare itself, so rules may use relations that happen to be empty.
func declarations(store *facts.Store, program string) string {
	var b strings.Builder
	for _, name := range store.Names() {
		if strings.Contains(program, "Decl "+name+"(") {
			continue
		}
		rel, _ := store.Lookup(name)
		vars := make([]string, rel.Schema.Arity())
		for i := range vars {
			vars[i] = fmt.Sprintf("X%d", i)
		}
		fmt.Fprintf(&b, "Decl %s(%s).\n", name, strings.Join(vars, ", "))
	}
	return b.String()
}

// Evaluate runs program over the facts in store and returns each output
// relation as text in the requested signature. An output the program never
// derives comes back with empty text.
func Evaluate(ctx context.Context, program string, store *facts.Store, outputs map[string]string) (map[string]facts.Encoded, error) {
	unit, err := parse.Unit(strings.NewReader(declarations(store, program) + program))
	if err != nil {
		return nil, fmt.Errorf("parse program: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze program: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs := Export(store)
	if err := engine.EvalProgram(info, fs, engine.WithCreatedFactLimit(derivedFactLimit)); err != nil {
		return nil, fmt.Errorf("evaluate program: %w", err)
	}

	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make(map[string]facts.Encoded, len(outputs))
	for _, name := range names {
		schema := relation.ParseSchema(outputs[name])
		var lines []string
		query := ast.NewQuery(ast.PredicateSym{Symbol: name, Arity: schema.Arity()})
		err := fs.GetFacts(query, func(a ast.Atom) error {
			lines = append(lines, atomText(a, schema))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		sort.Strings(lines)
		result[name] = facts.Encoded{Signature: outputs[name], Text: strings.Join(lines, "\n")}
	}
	return result, nil
}

// atomText renders one derived atom as a whitespace-separated line.
func atomText(a ast.Atom, schema relation.Schema) string {
	fields := make([]string, len(a.Args))
	for i, arg := range a.Args {
		c, ok := arg.(ast.Constant)
		if !ok {
			fields[i] = relation.None
			continue
		}
		switch c.Type {
		case ast.NumberType:
			if i < len(schema) && schema[i].Tag == relation.TagUnsigned {
				fields[i] = relation.Unsigned(uint64(c.NumValue)).String()
			} else {
				fields[i] = relation.Int(c.NumValue).String()
			}
		case ast.Float64Type:
			fv, err := c.Float64Value()
			if err != nil {
				fields[i] = relation.None
				continue
			}
			fields[i] = relation.Float(fv).String()
		default:
			fields[i] = string(relation.Token(c.Symbol))
		}
	}
	return strings.Join(fields, " ")
}
