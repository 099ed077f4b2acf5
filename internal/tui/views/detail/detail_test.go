package detail

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stepsnap/stepsnap/internal/session"
)

func sampleStep() session.Step {
	return session.Step{
		ID:          "s1",
		Number:      3,
		Description: `Type "ada" into the "Email" field`,
		CreatedAt:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		URL:         "https://example.com/signup",
		Event: session.InteractionEvent{
			Kind:      session.KindInput,
			Value:     "ada|lovelace",
			PageTitle: "Sign up",
		},
		Element: &session.ElementInfo{
			Tag:      "input",
			Label:    "Email",
			Selector: "#email",
		},
		Annotations: json.RawMessage(`[{"kind":"arrow"}]`),
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleStep())
	assert.Contains(t, md, "# Step 3")
	assert.Contains(t, md, "| Interaction | input |")
	assert.Contains(t, md, "| Page | Sign up |")
	assert.Contains(t, md, `| Value | ada\|lovelace |`)
	assert.Contains(t, md, "| Selector | #email |")
	assert.Contains(t, md, "thumbnail only")
	assert.Contains(t, md, `[{"kind":"arrow"}]`)
	assert.NotContains(t, md, "| Key |")
}

func TestMarkdownScroll(t *testing.T) {
	st := session.Step{Number: 1, Event: session.InteractionEvent{Kind: session.KindScroll, DeltaY: 480}}
	md := Markdown(st)
	assert.Contains(t, md, "| Scrolled | 480px |")
	assert.NotContains(t, md, "## Element")
}

func TestViewEmptyUntilSet(t *testing.T) {
	m := New()
	assert.Empty(t, m.View())

	m.SetStep(sampleStep(), 100, 30)
	v := m.View()
	assert.True(t, strings.Contains(v, "esc"), "footer should be rendered")
	assert.Equal(t, "s1", m.Step.ID)
}
