package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"disfacts/internal/factdb"
	"disfacts/internal/facts"
	"disfacts/internal/report"
)

type renderOptions struct {
	database string
	module   string
}

func newRenderCmd(root *rootOptions) *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render [file]...",
		Short: "Print the listing rebuilt from decoded facts",
		Long: `Decode the given files and print one listing per module, rebuilt from the
instruction and operand relations. With --database and no files the listing
comes from facts saved by an earlier decode.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			color := false
			if f, ok := w.(*os.File); ok {
				color = term.IsTerminal(f.Fd())
			}
			if len(args) == 0 {
				if opts.database == "" {
					return errors.New("render needs files or --database")
				}
				return renderSaved(cmd, w, opts, color)
			}

			results, err := decodeFiles(cmd.Context(), args, root.cfg)
			if err != nil {
				return err
			}
			for _, res := range results {
				if opts.module != "" && res.Module != opts.module {
					continue
				}
				if res.Err != nil {
					fmt.Fprintf(w, "; %s: %v\n", res.Module, res.Err)
					continue
				}
				if err := renderStore(w, res.Module, res.Store, color); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.database, "database", "", "Read facts saved by decode --database")
	cmd.Flags().StringVarP(&opts.module, "module", "m", "", "Only this module")
	return cmd
}

func renderSaved(cmd *cobra.Command, w io.Writer, opts *renderOptions, color bool) error {
	db, err := factdb.Open(opts.database)
	if err != nil {
		return err
	}
	defer db.Close()

	saved, err := db.Modules(cmd.Context())
	if err != nil {
		return err
	}
	for _, m := range saved {
		if opts.module != "" && m.Name != opts.module {
			continue
		}
		store, err := db.Load(cmd.Context(), m.Name)
		if err != nil {
			return err
		}
		if err := renderStore(w, m.Name, store, color); err != nil {
			return err
		}
	}
	return nil
}

func renderStore(w io.Writer, name string, store *facts.Store, color bool) error {
	listing, err := report.Listing(store)
	if err != nil {
		return fmt.Errorf("module %s: %w", name, err)
	}
	if color {
		listing = report.Colorize(listing)
	}
	_, err = fmt.Fprintf(w, "; %s\n%s", name, listing)
	return err
}
