// Package steps renders the scrolling list of captured steps.
package steps

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/stepsnap/stepsnap/internal/session"
	"github.com/stepsnap/stepsnap/internal/tui/theme"
)

// Model holds the list and its selection.
type Model struct {
	Steps    []session.Step
	Selected int
	Width    int
	Height   int
	offset   int
}

func New() Model {
	return Model{}
}

// SetSteps replaces the list, keeping the selection on the same step id
// when it still exists.
func (m *Model) SetSteps(steps []session.Step) {
	var selectedID string
	if st, ok := m.SelectedStep(); ok {
		selectedID = st.ID
	}
	m.Steps = steps
	m.Selected = 0
	for i, st := range steps {
		if st.ID == selectedID {
			m.Selected = i
			break
		}
	}
	m.clamp()
}

// SelectedStep returns the highlighted step.
func (m Model) SelectedStep() (session.Step, bool) {
	if m.Selected < 0 || m.Selected >= len(m.Steps) {
		return session.Step{}, false
	}
	return m.Steps[m.Selected], true
}

func (m *Model) Up() {
	if m.Selected > 0 {
		m.Selected--
	}
	m.clamp()
}

func (m *Model) Down() {
	if m.Selected < len(m.Steps)-1 {
		m.Selected++
	}
	m.clamp()
}

// MovedIDs returns the step ids in order with the selected step shifted by
// delta places, or nil when it cannot move that way.
func (m Model) MovedIDs(delta int) []string {
	to := m.Selected + delta
	if len(m.Steps) == 0 || to < 0 || to >= len(m.Steps) {
		return nil
	}
	ids := make([]string, len(m.Steps))
	for i, st := range m.Steps {
		ids[i] = st.ID
	}
	ids[m.Selected], ids[to] = ids[to], ids[m.Selected]
	return ids
}

func (m *Model) clamp() {
	if m.Selected >= len(m.Steps) {
		m.Selected = len(m.Steps) - 1
	}
	if m.Selected < 0 {
		m.Selected = 0
	}
	rows := m.rows()
	if m.Selected < m.offset {
		m.offset = m.Selected
	}
	if m.Selected >= m.offset+rows {
		m.offset = m.Selected - rows + 1
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

func (m Model) rows() int {
	if m.Height <= 0 {
		return 10
	}
	return m.Height
}

func (m Model) View() string {
	if len(m.Steps) == 0 {
		return theme.StyleDimmed.Render("  No steps captured yet")
	}

	width := m.Width
	if width < 40 {
		width = 40
	}
	descWidth := width - 20

	end := min(m.offset+m.rows(), len(m.Steps))
	lines := make([]string, 0, end-m.offset)
	for i := m.offset; i < end; i++ {
		st := m.Steps[i]
		prefix := "  "
		style := lipgloss.NewStyle()
		if i == m.Selected {
			prefix = "> "
			style = theme.StyleSelected
		}
		glyph := lipgloss.NewStyle().Foreground(theme.KindColor(st.Event.Kind)).Render(theme.KindGlyph(st.Event.Kind))
		when := theme.StyleDimmed.Render(st.CreatedAt.Local().Format("15:04:05"))
		desc := truncate(st.Description, descWidth)
		lines = append(lines, fmt.Sprintf("%s%3d. %s %s  %s", prefix, st.Number, glyph, style.Render(desc), when))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max < 2 || len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
