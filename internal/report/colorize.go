package report

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// ListingDark highlights listings: mnemonics white, registers teal,
// numbers pink, comments dimmed.
var ListingDark = styles.Register(chroma.MustNewStyle("disfacts-dark", chroma.StyleEntries{
	chroma.Text:           "#FFFFFF",
	chroma.Background:     "bg:#1e1e1e",
	chroma.Comment:        "#8A8A8A",
	chroma.CommentPreproc: "#8A8A8A",

	chroma.Keyword:       "#FFFFFF",
	chroma.KeywordPseudo: "#FFFFFF",
	chroma.Name:          "#7C9C9D",
	chroma.NameBuiltin:   "#7C9C9D",
	chroma.NameVariable:  "#7C9C9D",

	chroma.LiteralNumber:        "#FF5F87",
	chroma.LiteralNumberHex:     "#FF5F87",
	chroma.LiteralNumberInteger: "#FF5F87",
	chroma.LiteralNumberFloat:   "#FF5F87",

	chroma.NameLabel:    "#FFD700",
	chroma.NameFunction: "#FFFFFF",
	chroma.Operator:     "#FFFFFF",
	chroma.Punctuation:  "#FFFFFF",
	chroma.String:       "#EACD53",
}))

// ColorEnabled reports whether listings should be highlighted.
// DISFACTS_NO_COLOR (or NO_COLOR) set to anything disables it.
func ColorEnabled() bool {
	return os.Getenv("DISFACTS_NO_COLOR") == "" && os.Getenv("NO_COLOR") == ""
}

func assemblyLexer() chroma.Lexer {
	for _, name := range []string{"nasm", "armasm", "gas"} {
		if l := lexers.Get(name); l != nil {
			return l
		}
	}
	return nil
}

func terminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if f := formatters.Get(name); f != nil {
			return f
		}
	}
	return formatters.Fallback
}

// Colorize highlights a listing line by line. The address column is
// painted gray and the rest goes through chroma. With colour disabled, or
// when no assembly lexer is available, text comes back unchanged.
func Colorize(listing string) string {
	if !ColorEnabled() {
		return listing
	}
	lexer := assemblyLexer()
	if lexer == nil {
		return listing
	}
	formatter := terminalFormatter()

	var b strings.Builder
	for _, line := range strings.SplitAfter(listing, "\n") {
		if line == "" {
			continue
		}
		body := strings.TrimSuffix(line, "\n")
		addr, rest, ok := strings.Cut(body, "  ")
		if !ok {
			b.WriteString(line)
			continue
		}
		it, err := lexer.Tokenise(nil, rest)
		if err != nil {
			b.WriteString(line)
			continue
		}
		var out strings.Builder
		if err := formatter.Format(&out, ListingDark, it); err != nil {
			b.WriteString(line)
			continue
		}
		// the lexer may append a newline; the line had none
		colored := strings.ReplaceAll(out.String(), "\n", "")
		fmt.Fprintf(&b, "\033[38;2;79;79;79m%s\033[0m  %s", addr, colored)
		if strings.HasSuffix(line, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// StripANSI removes escape sequences.
func StripANSI(s string) string {
	var b strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
