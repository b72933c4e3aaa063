package output

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Styles holds the lipgloss styles used by command output. Without a
// terminal every style renders plain text.
type Styles struct {
	Header  lipgloss.Style
	Bold    lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style
}

// NewStyles builds styles bound to w.
func NewStyles(w io.Writer, color bool) *Styles {
	lr := lipgloss.NewRenderer(w)
	if !color {
		plain := lr.NewStyle()
		return &Styles{
			Header:  plain,
			Bold:    plain,
			Success: plain,
			Error:   plain,
			Warning: plain,
			Info:    plain,
			Muted:   plain,
		}
	}
	return &Styles{
		Header:  lr.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Bold:    lr.NewStyle().Bold(true),
		Success: lr.NewStyle().Foreground(lipgloss.Color("10")),
		Error:   lr.NewStyle().Foreground(lipgloss.Color("9")),
		Warning: lr.NewStyle().Foreground(lipgloss.Color("11")),
		Info:    lr.NewStyle().Foreground(lipgloss.Color("14")),
		Muted:   lr.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// StatusIcon returns the styled marker for a status.
func (s *Styles) StatusIcon(status string) string {
	switch status {
	case "success", "completed":
		return s.Success.Render("✓")
	case "failed", "error":
		return s.Error.Render("✗")
	case "skipped", "cancelled", "warning":
		return s.Warning.Render("-")
	}
	return s.Muted.Render("•")
}
