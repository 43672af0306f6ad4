// Package module decodes whole modules: it picks the decoder and the
// format loaders from the module's tags, runs them into a fresh fact store
// and reports per-module outcomes for a batch.
package module

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"disfacts/internal/arch"
	"disfacts/internal/binir"
	"disfacts/internal/facts"
	"disfacts/internal/format"
	"disfacts/internal/loader"

	"golang.org/x/sync/errgroup"
)

// ModuleError labels a module-fatal failure with the module name and the
// tag that caused it.
type ModuleError struct {
	Module string
	Tag    string
	Err    error
}

func (e *ModuleError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("module %s: %v", e.Module, e.Err)
	}
	return fmt.Sprintf("module %s (%s): %v", e.Module, e.Tag, e.Err)
}

func (e *ModuleError) Unwrap() error { return e.Err }

// Options configures Decode and DecodeAll.
type Options struct {
	Workers int // decode work units per module
	Modules int // modules decoded at once by DecodeAll
	Tables  format.Tables
	Logger  *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Result is the outcome of decoding one module.
type Result struct {
	Module string
	ISA    string
	Format string
	Store  *facts.Store
	Stats  loader.Stats
	Bytes  int // code bytes scanned
	Err    error
}

// IdentifyArchitecture returns the decoder for an ISA tag.
func IdentifyArchitecture(isa string) (arch.Decoder, error) {
	return arch.Lookup(isa)
}

// IdentifyFormat returns the loaders for a format tag.
func IdentifyFormat(tag string, tables format.Tables) ([]format.Loader, error) {
	return format.Identify(tag, tables)
}

// Decode runs the format loaders and the instruction loader for m. An
// unknown ISA or format, or a missing required table, fails the module
// before any instruction is decoded.
func Decode(ctx context.Context, m *binir.Module, opts Options) (*Result, error) {
	d, err := IdentifyArchitecture(m.ISA)
	if err != nil {
		return nil, &ModuleError{Module: m.Name, Tag: m.ISA, Err: err}
	}
	loaders, err := IdentifyFormat(m.Format, opts.Tables)
	if err != nil {
		return nil, &ModuleError{Module: m.Name, Tag: m.Format, Err: err}
	}

	store := facts.NewStore()
	if err := format.NewChain(loaders...).Load(m, store); err != nil {
		return nil, &ModuleError{Module: m.Name, Tag: m.Format, Err: err}
	}

	lg := opts.logger().With("module", m.Name)
	stats, err := loader.Load(ctx, d, m.Intervals, store, loader.Options{Workers: opts.Workers, Logger: lg})
	if err != nil {
		return nil, &ModuleError{Module: m.Name, Err: err}
	}
	lg.Info("decoded module",
		"isa", m.ISA, "format", m.Format, "bytes", m.CodeSize(), "instructions", stats.Instructions,
		"opaque", stats.OpaqueTotal(), "reasons", stats.Reasons(), "relations", store.Len())
	return &Result{Module: m.Name, ISA: m.ISA, Format: m.Format, Store: store, Stats: stats, Bytes: m.CodeSize()}, nil
}

// DecodeAll decodes modules concurrently. A failing module is recorded in
// its Result and never stops the others; results keep input order.
func DecodeAll(ctx context.Context, modules []*binir.Module, opts Options) []Result {
	limit := opts.Modules
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	results := make([]Result, len(modules))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, m := range modules {
		g.Go(func() error {
			res, err := Decode(ctx, m, opts)
			if err != nil {
				opts.logger().Error("module failed", "module", m.Name, "err", err)
				results[i] = Result{Module: m.Name, ISA: m.ISA, Format: m.Format, Err: err}
				return nil
			}
			results[i] = *res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
