// Package theme holds the terminal styles of the command line.
package theme

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for table headers and section titles.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Padding(0, 1)

// CellStyle pads table cells.
var CellStyle = lipgloss.NewStyle().Padding(0, 1)

// HelpStyle is used for hints and remedies.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

var (
	SuccessStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorGreen)
	WarningStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorYellow)
	ErrorStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorRed)
)

// ProtocolStyle returns a color-coded style for a protocol name.
func ProtocolStyle(protocol string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch protocol {
	case "imap", "smtp":
		return base.Foreground(ColorBlue)
	case "maildir", "notmuch":
		return base.Foreground(ColorMagenta)
	case "sendmail":
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorGray)
	}
}

// Status renders a check mark or a cross followed by msg.
func Status(ok bool, msg string) string {
	if ok {
		return SuccessStyle.Render("✓") + " " + msg
	}
	return ErrorStyle.Render("✗") + " " + msg
}

// Table renders rows under headers with a rounded border.
func Table(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorBorder)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderStyle
			}
			return CellStyle
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}
