// Package output renders lint results for the command-line modes.
package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/sourcegraph/go-lsp"
)

var (
	warning = lipgloss.Color("#F59E0B")
	danger  = lipgloss.Color("#EF4444")
	success = lipgloss.Color("#22C55E")
	dim     = lipgloss.Color("#6B7280")
)

var (
	fileStyle    = lipgloss.NewStyle().Bold(true)
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(warning)
	failStyle    = lipgloss.NewStyle().Bold(true).Foreground(danger)
	passStyle    = lipgloss.NewStyle().Foreground(success)
	dimStyle     = lipgloss.NewStyle().Foreground(dim)
)

// A Printer renders results, optionally with colour.
type Printer struct {
	Coloured bool
}

func (p Printer) render(style lipgloss.Style, s string) string {
	if !p.Coloured {
		return s
	}
	return style.Render(s)
}

// Diagnostics renders the diagnostics for one file, one per line, in the usual
// file:line:col format with 1-indexed positions.
func (p Printer) Diagnostics(filename string, diags []lsp.Diagnostic) string {
	var b strings.Builder
	for _, d := range diags {
		pos := fmt.Sprintf("%s:%d:%d:", filename, d.Range.Start.Line+1, d.Range.Start.Character+1)
		b.WriteString(p.render(fileStyle, pos))
		b.WriteString(" ")
		b.WriteString(p.render(warningStyle, "warning:"))
		b.WriteString(" ")
		b.WriteString(d.Message)
		if d.Code != "" {
			b.WriteString(" ")
			b.WriteString(p.render(dimStyle, "["+d.Code+"]"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Failure renders a run that failed.
func (p Printer) Failure(filename string, err error) string {
	return fmt.Sprintf("%s %s %s\n", p.render(fileStyle, filename+":"), p.render(failStyle, "error:"), err)
}

// Summary renders a one-line summary of a set of runs.
func (p Printer) Summary(files, issues, failures int) string {
	msg := fmt.Sprintf("Linted %s, %s", plural(files, "file"), plural(issues, "issue"))
	if failures > 0 {
		return p.render(failStyle, fmt.Sprintf("%s, %s failed", msg, humanize.Comma(int64(failures)))) + "\n"
	} else if issues > 0 {
		return p.render(warningStyle, msg) + "\n"
	}
	return p.render(passStyle, msg) + "\n"
}

func plural(n int, s string) string {
	if n == 1 {
		return "1 " + s
	}
	return humanize.Comma(int64(n)) + " " + s + "s"
}
