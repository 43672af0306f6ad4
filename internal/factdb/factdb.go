// Package factdb persists per-module fact stores in SQLite so a batch can
// be decoded once and queried or re-exported later.
package factdb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"disfacts/internal/facts"
	"disfacts/internal/relation"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// 1 - modules, relations and facts tables
const currentSchemaVersion = 1

// ErrUnknownModule reports a module name with no saved facts.
var ErrUnknownModule = errors.New("unknown module")

// DB is a fact database.
type DB struct {
	db *sql.DB
}

// Module identifies a saved module.
type Module struct {
	Name   string
	ISA    string
	Format string
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set user_version: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Save replaces everything stored for m with the contents of store.
func (d *DB) Save(ctx context.Context, m Module, store *facts.Store) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM modules WHERE name = ?`, m.Name); err != nil {
		return fmt.Errorf("delete %s: %w", m.Name, err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO modules (name, isa, format) VALUES (?, ?, ?)`, m.Name, m.ISA, m.Format)
	if err != nil {
		return fmt.Errorf("insert module %s: %w", m.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	relStmt, err := tx.PrepareContext(ctx, `INSERT INTO relations (module_id, name, signature, row_count) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer relStmt.Close()
	factStmt, err := tx.PrepareContext(ctx, `INSERT INTO facts (module_id, relation, seq, tuple) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer factStmt.Close()

	for _, name := range store.Names() {
		rel, _ := store.Lookup(name)
		if _, err = relStmt.ExecContext(ctx, id, name, rel.Schema.Signature(), rel.Len()); err != nil {
			return fmt.Errorf("insert relation %s: %w", name, err)
		}
		for seq, row := range rel.Rows {
			if _, err = factStmt.ExecContext(ctx, id, name, seq, tuple(row)); err != nil {
				return fmt.Errorf("insert %s row %d: %w", name, seq, err)
			}
		}
	}
	return tx.Commit()
}

func tuple(row relation.Row) string {
	fields := make([]string, len(row))
	for i, c := range row {
		fields[i] = c.String()
	}
	return strings.Join(fields, "\t")
}

// Load rebuilds the fact store saved for the named module.
func (d *DB) Load(ctx context.Context, name string) (*facts.Store, error) {
	var id int64
	err := d.db.QueryRowContext(ctx, `SELECT id FROM modules WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	if err != nil {
		return nil, fmt.Errorf("find module %s: %w", name, err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT r.name, r.signature, COALESCE(f.tuple, '')
		FROM relations r
		LEFT JOIN facts f ON f.module_id = r.module_id AND f.relation = r.name
		WHERE r.module_id = ?
		ORDER BY r.name, f.seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	outputs := make(map[string]facts.Encoded)
	text := make(map[string]*strings.Builder)
	for rows.Next() {
		var rel, sig, tup string
		if err := rows.Scan(&rel, &sig, &tup); err != nil {
			return nil, err
		}
		b, ok := text[rel]
		if !ok {
			b = &strings.Builder{}
			text[rel] = b
			outputs[rel] = facts.Encoded{Signature: sig}
		}
		if tup != "" {
			b.WriteString(tup)
			b.WriteByte('\n')
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for rel, b := range text {
		enc := outputs[rel]
		enc.Text = b.String()
		outputs[rel] = enc
	}

	store, _, err := facts.Rehydrate(outputs, relation.LoadOptions{Strict: true})
	if err != nil {
		return nil, fmt.Errorf("rebuild %s: %w", name, err)
	}
	return store, nil
}

// Modules lists saved modules by name.
func (d *DB) Modules(ctx context.Context) ([]Module, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name, isa, format FROM modules ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Module
	for rows.Next() {
		var m Module
		if err := rows.Scan(&m.Name, &m.ISA, &m.Format); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Counts returns the saved row count of every relation of a module.
func (d *DB) Counts(ctx context.Context, name string) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT r.name, r.row_count FROM relations r
		JOIN modules m ON m.id = r.module_id
		WHERE m.name = ?`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var rel string
		var n int
		if err := rows.Scan(&rel, &n); err != nil {
			return nil, err
		}
		counts[rel] = n
	}
	return counts, rows.Err()
}
