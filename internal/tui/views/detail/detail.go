// Package detail renders one step as markdown in a scrollable panel.
package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/stepsnap/stepsnap/internal/session"
	"github.com/stepsnap/stepsnap/internal/tui/theme"
)

var stylePanel = lipgloss.NewStyle().
	BorderStyle(lipgloss.RoundedBorder()).
	BorderForeground(theme.ColorBorder).
	Padding(0, 1)

// Model holds the detail overlay.
type Model struct {
	Step     *session.Step
	viewport viewport.Model
	width    int
}

func New() Model {
	return Model{viewport: viewport.New(60, 20)}
}

// SetStep renders st into the viewport at the given outer size.
func (m *Model) SetStep(st session.Step, width, height int) {
	m.Step = &st
	m.width = max(width-4, 20)
	m.viewport.Width = m.width
	m.viewport.Height = max(height-4, 5)
	m.viewport.SetContent(render(Markdown(st), m.width))
	m.viewport.GotoTop()
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.Step == nil {
		return ""
	}
	footer := theme.StyleDimmed.Render("[j/k] scroll  [esc] close")
	return stylePanel.Render(m.viewport.View() + "\n" + footer)
}

func render(md string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

// Markdown describes a step for the detail panel.
func Markdown(st session.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Step %d\n\n", st.Number)
	fmt.Fprintf(&b, "**%s**\n\n", escape(st.Description))

	b.WriteString("| | |\n|---|---|\n")
	row(&b, "Interaction", string(st.Event.Kind))
	row(&b, "Captured", st.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	row(&b, "URL", st.URL)
	if st.Event.PageTitle != "" {
		row(&b, "Page", st.Event.PageTitle)
	}
	if st.Event.Key != "" {
		row(&b, "Key", st.Event.Key)
	}
	if st.Event.Value != "" {
		row(&b, "Value", st.Event.Value)
	}
	if st.Event.Kind == session.KindScroll {
		row(&b, "Scrolled", fmt.Sprintf("%dpx", st.Event.DeltaY))
	}
	if st.Screenshot != "" {
		row(&b, "Screenshot", "full image retained")
	} else {
		row(&b, "Screenshot", "thumbnail only")
	}

	if el := st.Element; el != nil {
		b.WriteString("\n## Element\n\n")
		b.WriteString("| | |\n|---|---|\n")
		row(&b, "Tag", el.Tag)
		row(&b, "Text", el.Text)
		row(&b, "Label", el.Label)
		row(&b, "Aria label", el.AriaLabel)
		row(&b, "Name", el.Name)
		row(&b, "Type", el.Type)
		row(&b, "Selector", el.Selector)
	}

	if len(st.Annotations) > 0 {
		b.WriteString("\n## Annotations\n\n```json\n")
		b.Write(st.Annotations)
		b.WriteString("\n```\n")
	}
	return b.String()
}

func row(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "| %s | %s |\n", label, escape(value))
}

var mdEscaper = strings.NewReplacer("|", `\|`, "*", `\*`, "_", `\_`, "`", "\\`")

func escape(s string) string {
	return mdEscaper.Replace(s)
}
