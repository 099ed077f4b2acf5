package status

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/stepsnap/stepsnap/internal/session"
	"github.com/stepsnap/stepsnap/internal/tui/theme"
)

const (
	gaugeWidth = 20
	// FPS is the gauge animation frame rate.
	FPS = 30
)

// Model holds the status bar state. The step gauge eases toward its target
// on a spring; call Animate once per frame while Animating is true.
type Model struct {
	Connected bool
	Status    session.Status
	Title     string
	Steps     int
	MaxSteps  int
	InFlight  bool
	Width     int

	spring harmonica.Spring
	pos    float64
	vel    float64
	target float64
}

func New() Model {
	return Model{
		spring: harmonica.NewSpring(harmonica.FPS(FPS), 6.0, 0.7),
	}
}

// SetSession updates the status from a session. A nil session means idle.
func (m *Model) SetSession(s *session.CaptureSession) {
	if s == nil {
		m.Status = session.Idle
		m.Title = ""
		m.Steps = 0
	} else {
		m.Status = s.Status
		m.Title = s.Title
		m.Steps = len(s.Steps)
	}
	m.retarget()
}

func (m *Model) SetMaxSteps(n int) {
	m.MaxSteps = n
	m.retarget()
}

func (m *Model) retarget() {
	if m.MaxSteps <= 0 {
		m.target = 0
		return
	}
	m.target = math.Min(1, float64(m.Steps)/float64(m.MaxSteps))
}

// Animating reports whether the gauge has not yet come to rest.
func (m Model) Animating() bool {
	return math.Abs(m.pos-m.target) > 0.001 || math.Abs(m.vel) > 0.001
}

// Animate advances the gauge by one frame.
func (m *Model) Animate() {
	m.pos, m.vel = m.spring.Update(m.pos, m.vel, m.target)
	if !m.Animating() {
		m.pos, m.vel = m.target, 0
	}
}

// Gauge is the current (animated) fill fraction.
func (m Model) Gauge() float64 {
	return math.Max(0, math.Min(1, m.pos))
}

func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	statusStr := lipgloss.NewStyle().Foreground(theme.StatusColor(m.Status)).
		Render(theme.StatusGlyph(m.Status) + " " + m.Status.String())
	if m.InFlight {
		statusStr += theme.StyleDimmed.Render(" (capturing…)")
	}

	parts := []string{connStr, statusStr}
	if m.Title != "" {
		parts = append(parts, theme.StyleHeader.Render(m.Title))
	}
	parts = append(parts, m.renderGauge())

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := strings.Join(parts, sep)

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func (m Model) renderGauge() string {
	if m.MaxSteps <= 0 {
		return fmt.Sprintf("%d steps", m.Steps)
	}
	pct := m.Gauge()
	filled := int(math.Round(pct * gaugeWidth))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", gaugeWidth-filled)
	return lipgloss.NewStyle().Foreground(theme.GaugeColor(pct)).Render(bar) +
		fmt.Sprintf(" %d/%d", m.Steps, m.MaxSteps)
}
