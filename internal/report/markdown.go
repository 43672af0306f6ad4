package report

import (
	"fmt"
	"strings"

	"disfacts/internal/module"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/x/exp/charmtone"
)

// Markdown describes a batch: outcome per module, opaque placeholders by
// reason and relation sizes.
func Markdown(results []module.Result) string {
	s := module.Summarize(results)
	var b strings.Builder

	b.WriteString("# Decode summary\n\n")
	fmt.Fprintf(&b, "%d of %d modules decoded, %d instructions, %d opaque placeholders",
		s.Succeeded, s.Modules, s.Instructions, s.OpaqueTotal())
	if s.Stalled > 0 {
		fmt.Fprintf(&b, ", %d stalled decodes", s.Stalled)
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Scanned %d bytes of code.\n\n", s.Bytes)

	b.WriteString("## Modules\n\n")
	b.WriteString("| Module | ISA | Format | Instructions | Opaque | Status |\n")
	b.WriteString("|---|---|---|---:|---:|---|\n")
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = strings.ReplaceAll(r.Err.Error(), "|", "/")
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %d | %s |\n",
			r.Module, r.ISA, r.Format, r.Stats.Instructions, r.Stats.OpaqueTotal(), status)
	}

	if len(s.Opaque) > 0 {
		b.WriteString("\n## Opaque data\n\n")
		for _, k := range s.Reasons() {
			fmt.Fprintf(&b, "- `%s`: %d\n", k, s.Opaque[k])
		}
	}

	if names := s.RelationNames(); len(names) > 0 {
		b.WriteString("\n## Relations\n\n")
		b.WriteString("| Relation | Rows |\n|---|---:|\n")
		for _, name := range names {
			fmt.Fprintf(&b, "| %s | %d |\n", name, s.Relations[name])
		}
	}
	return b.String()
}

func boolPtr(b bool) *bool       { return &b }
func stringPtr(s string) *string { return &s }
func uintPtr(u uint) *uint       { return &u }

// MarkdownStyle is the glamour style used for terminal reports.
func MarkdownStyle() ansi.StyleConfig {
	return ansi.StyleConfig{
		Document: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Color: stringPtr(charmtone.Smoke.Hex())},
			Margin:         uintPtr(1),
		},
		Heading: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{
				BlockSuffix: "\n",
				Color:       stringPtr(charmtone.Malibu.Hex()),
				Bold:        boolPtr(true),
			},
		},
		H1: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{
				Prefix:          " ",
				Suffix:          " ",
				Color:           stringPtr(charmtone.Zest.Hex()),
				BackgroundColor: stringPtr(charmtone.Charple.Hex()),
				Bold:            boolPtr(true),
			},
		},
		H2: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Prefix: "## "},
		},
		Strong: ansi.StylePrimitive{Bold: boolPtr(true)},
		Item:   ansi.StylePrimitive{BlockPrefix: "• "},
		List:   ansi.StyleList{LevelIndent: 2},
		Code: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Color: stringPtr(charmtone.Guac.Hex())},
		},
		Table: ansi.StyleTable{
			StyleBlock: ansi.StyleBlock{StylePrimitive: ansi.StylePrimitive{}},
		},
		Text: ansi.StylePrimitive{},
	}
}

// RenderMarkdown renders md for a terminal of the given width.
func RenderMarkdown(md string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(MarkdownStyle()),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
