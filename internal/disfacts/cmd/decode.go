package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"disfacts/internal/binir"
	"disfacts/internal/config"
	"disfacts/internal/engine"
	"disfacts/internal/factdb"
	"disfacts/internal/facts"
	"disfacts/internal/module"
	"disfacts/internal/relation"
	"disfacts/internal/report"
)

var errNothingDecoded = errors.New("no module decoded")

func newDecodeCmd(root *rootOptions) *cobra.Command {
	var flags config.Config
	cmd := &cobra.Command{
		Use:   "decode <file>...",
		Short: "Decode modules and report the batch",
		Long: `Decode every module found in the given ELF, PE or manifest files.
Relations can be written as text, saved to SQLite or fed to a Mangle program.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := overlay(root.cfg, flags, cmd)
			results, err := decodeFiles(cmd.Context(), args, cfg)
			if err != nil {
				return err
			}
			if err := persist(cmd.Context(), results, cfg); err != nil {
				return err
			}
			if err := writeSummary(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if module.Summarize(results).Succeeded == 0 {
				return errNothingDecoded
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&flags.Workers, "workers", "w", 0, "Decode work units per module (default one per CPU)")
	cmd.Flags().IntVar(&flags.Modules, "modules", 0, "Modules decoded at once (default one per CPU)")
	cmd.Flags().StringVar(&flags.DebugDir, "debug-dir", "", "Write <module>/<relation>.facts and .schema files here")
	cmd.Flags().StringVar(&flags.Database, "database", "", "Save the decoded facts to this SQLite file")
	cmd.Flags().StringVar(&flags.Program, "program", "", "Mangle program evaluated over each module")
	cmd.Flags().BoolVar(&flags.Strict, "strict", false, "Fail on malformed program output")
	return cmd
}

// overlay applies the flags the user actually set on top of cfg.
func overlay(cfg, flags config.Config, cmd *cobra.Command) config.Config {
	set := cmd.Flags().Changed
	if set("workers") {
		cfg.Workers = flags.Workers
	}
	if set("modules") {
		cfg.Modules = flags.Modules
	}
	if set("debug-dir") {
		cfg.DebugDir = flags.DebugDir
	}
	if set("database") {
		cfg.Database = flags.Database
	}
	if set("program") {
		cfg.Program = flags.Program
	}
	if set("strict") {
		cfg.Strict = flags.Strict
	}
	return cfg
}

func decodeFiles(ctx context.Context, paths []string, cfg config.Config) ([]module.Result, error) {
	var modules []*binir.Module
	for _, p := range paths {
		ms, err := binir.Open(p)
		if err != nil {
			return nil, err
		}
		modules = append(modules, ms...)
	}
	slog.Debug("opened modules", "files", len(paths), "modules", len(modules))

	return module.DecodeAll(ctx, modules, module.Options{
		Workers: cfg.Workers,
		Modules: cfg.Modules,
		Tables:  cfg.Tables(),
	}), nil
}

// persist writes each decoded store wherever the configuration asks.
func persist(ctx context.Context, results []module.Result, cfg config.Config) error {
	var db *factdb.DB
	if cfg.Database != "" {
		var err error
		if db, err = factdb.Open(cfg.Database); err != nil {
			return err
		}
		defer db.Close()
	}
	var program string
	if cfg.Program != "" {
		src, err := os.ReadFile(cfg.Program)
		if err != nil {
			return fmt.Errorf("read program: %w", err)
		}
		program = string(src)
	}

	for _, res := range results {
		if res.Err != nil {
			continue
		}
		if cfg.DebugDir != "" {
			if err := res.Store.Dump(filepath.Join(cfg.DebugDir, res.Module)); err != nil {
				return err
			}
		}
		if db != nil {
			m := factdb.Module{Name: res.Module, ISA: res.ISA, Format: res.Format}
			if err := db.Save(ctx, m, res.Store); err != nil {
				return err
			}
		}
		if program != "" {
			if err := evaluate(ctx, program, res, cfg); err != nil {
				return fmt.Errorf("module %s: %w", res.Module, err)
			}
		}
	}
	return nil
}

func evaluate(ctx context.Context, program string, res module.Result, cfg config.Config) error {
	outputs, err := engine.Evaluate(ctx, program, res.Store, cfg.Outputs)
	if err != nil {
		return err
	}
	derived, stats, err := facts.Rehydrate(outputs, relation.LoadOptions{Strict: cfg.Strict})
	if err != nil {
		return err
	}
	for _, name := range derived.Names() {
		st := stats[name]
		slog.Info("derived relation", "module", res.Module, "relation", name,
			"rows", st.Rows, "dropped", st.Dropped())
	}
	if cfg.DebugDir != "" {
		return derived.Dump(filepath.Join(cfg.DebugDir, res.Module, "derived"))
	}
	return nil
}

func writeSummary(w io.Writer, results []module.Result) error {
	md := report.Markdown(results)
	if f, ok := w.(*os.File); ok && term.IsTerminal(f.Fd()) && report.ColorEnabled() {
		width, _, err := term.GetSize(f.Fd())
		if err != nil || width <= 0 {
			width = 80
		}
		out, err := report.RenderMarkdown(md, width)
		if err == nil {
			md = out
		}
	}
	_, err := io.WriteString(w, md)
	return err
}
