package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"disfacts/internal/config"
	"disfacts/internal/format"
	"disfacts/internal/loader"
	"disfacts/internal/report"
)

func newRelationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relations",
		Short: "List every relation disfacts can produce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			type entry struct{ name, source, sig string }
			var all []entry
			for name, sig := range loader.Schemas {
				all = append(all, entry{name, "instructions", sig})
			}
			for name, sig := range format.Schemas {
				all = append(all, entry{name, "metadata", sig})
			}
			sort.Slice(all, func(i, j int) bool { return all[i].name < all[j].name })

			width := 0
			for _, e := range all {
				width = max(width, len(e.name))
			}
			nameStyle := lipgloss.NewStyle().Width(width + 2)
			sourceStyle := lipgloss.NewStyle().Width(len("instructions") + 2)
			sigStyle := lipgloss.NewStyle()
			w := cmd.OutOrStdout()
			if f, ok := w.(*os.File); ok && term.IsTerminal(f.Fd()) && report.ColorEnabled() {
				nameStyle = nameStyle.Bold(true)
				sourceStyle = sourceStyle.Foreground(lipgloss.Color("240"))
				sigStyle = sigStyle.Foreground(lipgloss.Color("#7C9C9D"))
			}
			for _, e := range all {
				fmt.Fprintln(w, nameStyle.Render(e.name)+sourceStyle.Render(e.source)+sigStyle.Render(e.sig))
			}
			return nil
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "schema",
		Short:  "Generate JSON schema for configuration",
		Long:   "Generate JSON schema for the disfacts configuration file",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			bts, err := config.Schema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(bts))
			return nil
		},
	}
}
