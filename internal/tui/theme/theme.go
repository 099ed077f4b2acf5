// Package theme provides the Lip Gloss color palette and reusable styles
// for the stepsnap viewer. It is a leaf package with no internal imports
// besides the session model.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/stepsnap/stepsnap/internal/session"
)

// Status colors.
var (
	ColorIdle      = lipgloss.Color("#4b5563")
	ColorCapturing = lipgloss.Color("#dc2626")
	ColorPaused    = lipgloss.Color("#d97706")
	ColorEditing   = lipgloss.Color("#2563eb")
	ColorDone      = lipgloss.Color("#16a34a")
)

// Interaction kind colors.
var (
	ColorClick      = lipgloss.Color("#3b82f6")
	ColorInput      = lipgloss.Color("#a855f7")
	ColorKeypress   = lipgloss.Color("#06b6d4")
	ColorNavigation = lipgloss.Color("#22c55e")
	ColorScroll     = lipgloss.Color("#9ca3af")
)

// Gauge thresholds.
var (
	ColorGaugeLow  = lipgloss.Color("#22c55e") // <50%
	ColorGaugeMid  = lipgloss.Color("#d97706") // 50-80%
	ColorGaugeHigh = lipgloss.Color("#dc2626") // >80%
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorDefault = lipgloss.Color("#9ca3af")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

func StatusColor(s session.Status) lipgloss.Color {
	switch s {
	case session.Capturing:
		return ColorCapturing
	case session.Paused:
		return ColorPaused
	case session.Editing:
		return ColorEditing
	case session.Done:
		return ColorDone
	default:
		return ColorIdle
	}
}

func StatusGlyph(s session.Status) string {
	switch s {
	case session.Capturing:
		return "●"
	case session.Paused:
		return "❚❚"
	case session.Editing:
		return "✎"
	case session.Done:
		return "✓"
	default:
		return "○"
	}
}

func KindColor(k session.EventKind) lipgloss.Color {
	switch k {
	case session.KindClick:
		return ColorClick
	case session.KindInput, session.KindChange:
		return ColorInput
	case session.KindKeypress:
		return ColorKeypress
	case session.KindNavigation:
		return ColorNavigation
	case session.KindScroll:
		return ColorScroll
	default:
		return ColorDefault
	}
}

func KindGlyph(k session.EventKind) string {
	switch k {
	case session.KindClick:
		return "◉"
	case session.KindInput, session.KindChange:
		return "✎"
	case session.KindKeypress:
		return "⌨"
	case session.KindNavigation:
		return "→"
	case session.KindScroll:
		return "↕"
	default:
		return "·"
	}
}

// GaugeColor returns the color for a fill fraction.
func GaugeColor(pct float64) lipgloss.Color {
	switch {
	case pct > 0.8:
		return ColorGaugeHigh
	case pct > 0.5:
		return ColorGaugeMid
	default:
		return ColorGaugeLow
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorDanger)
)
