// Styling helpers for hydractl's terminal output, grounded on the
// teacher's pkg/x_log style tables: a small palette of lipgloss styles
// keyed by semantic role, picked dark-terminal-first since that's what
// the teacher's DefaultStylesDark assumes.
package hydractl

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

const (
	colorGreen40  = "#42be65"
	colorOrange40 = "#ff832b"
	colorRed60    = "#da1e28"
	colorBlue40   = "#78a9ff"
	colorGray60   = "#8d8d8d"
)

type cliStyles struct {
	Header lipgloss.Style
	OK     lipgloss.Style
	Warn   lipgloss.Style
	Err    lipgloss.Style
	Dim    lipgloss.Style
}

// plainStyles renders every style as a no-op, used whenever stdout isn't
// a terminal so piped/redirected output stays free of escape codes.
func plainStyles() cliStyles {
	return cliStyles{
		Header: lipgloss.NewStyle(),
		OK:     lipgloss.NewStyle(),
		Warn:   lipgloss.NewStyle(),
		Err:    lipgloss.NewStyle(),
		Dim:    lipgloss.NewStyle(),
	}
}

func coloredStyles() cliStyles {
	return cliStyles{
		Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorBlue40)),
		OK:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen40)),
		Warn:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorOrange40)),
		Err:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorRed60)),
		Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray60)),
	}
}

// newStyles picks colored or plain output depending on whether stdout is
// an actual terminal, the same isatty-gated check any lipgloss CLI uses
// to avoid leaking ANSI codes into logs or pipes.
func newStyles() cliStyles {
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return coloredStyles()
	}
	return plainStyles()
}
