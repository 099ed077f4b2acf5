package session

import (
	"encoding/json"
	"fmt"
	"time"
)

type Status int

const (
	Idle Status = iota
	Capturing
	Paused
	Editing
	Done
)

var statusNames = map[Status]string{
	Idle:      "idle",
	Capturing: "capturing",
	Paused:    "paused",
	Editing:   "editing",
	Done:      "done",
}

var statusFromName = map[string]Status{
	"idle":      Idle,
	"capturing": Capturing,
	"paused":    Paused,
	"editing":   Editing,
	"done":      Done,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	v, ok := statusFromName[n]
	if !ok {
		return fmt.Errorf("session: unknown status %q", n)
	}
	*s = v
	return nil
}

// EventKind classifies a DOM interaction reported by the page.
type EventKind string

const (
	KindClick      EventKind = "click"
	KindInput      EventKind = "input"
	KindChange     EventKind = "change"
	KindKeypress   EventKind = "keypress"
	KindNavigation EventKind = "navigation"
	KindScroll     EventKind = "scroll"
)

// Priority orders kinds for the single-slot queue. Click wins over
// everything; scroll loses to everything.
func (k EventKind) Priority() int {
	switch k {
	case KindClick:
		return 4
	case KindChange, KindKeypress:
		return 3
	case KindInput:
		return 2
	case KindNavigation:
		return 1
	default:
		return 0
	}
}

// Valid reports whether k is one of the known interaction kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindClick, KindInput, KindChange, KindKeypress, KindNavigation, KindScroll:
		return true
	}
	return false
}

// TabRef identifies the browser tab a session or event belongs to.
type TabRef struct {
	ID    int    `json:"id"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// ElementInfo is the page-side description of the element that received an
// interaction. Every field comes from an untrusted page context.
type ElementInfo struct {
	Tag          string `json:"tagName"`
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	Type         string `json:"type,omitempty"`
	Role         string `json:"role,omitempty"`
	Text         string `json:"text,omitempty"`
	AriaLabel    string `json:"ariaLabel,omitempty"`
	Placeholder  string `json:"placeholder,omitempty"`
	Title        string `json:"title,omitempty"`
	Label        string `json:"label,omitempty"`
	Href         string `json:"href,omitempty"`
	Autocomplete string `json:"autocomplete,omitempty"`
	Selector     string `json:"selector,omitempty"`
	Checked      *bool  `json:"checked,omitempty"`
}

type InteractionEvent struct {
	Kind      EventKind    `json:"type"`
	Timestamp int64        `json:"timestamp"` // producer clock, ms since epoch
	URL       string       `json:"url"`
	TabID     int          `json:"tabId,omitempty"`
	PageTitle string       `json:"pageTitle,omitempty"`
	Element   *ElementInfo `json:"element,omitempty"`
	Key       string       `json:"key,omitempty"`
	Value     string       `json:"value,omitempty"`
	X         int          `json:"x,omitempty"`
	Y         int          `json:"y,omitempty"`
	DeltaY    int          `json:"deltaY,omitempty"`
}

type Step struct {
	ID          string           `json:"id"`
	Number      int              `json:"stepNumber"`
	Description string           `json:"description"`
	Screenshot  string           `json:"screenshotDataUrl"`
	Thumbnail   string           `json:"thumbnailDataUrl,omitempty"`
	Element     *ElementInfo     `json:"element,omitempty"`
	Event       InteractionEvent `json:"interaction"`
	CreatedAt   time.Time        `json:"timestamp"`
	URL         string           `json:"url"`
	Annotations json.RawMessage  `json:"annotations,omitempty"`
}

// clone returns a copy of the step whose pointer and slice fields can be
// mutated independently of the original.
func (st Step) clone() Step {
	if st.Element != nil {
		el := st.Element.clone()
		st.Element = el
	}
	if st.Event.Element != nil {
		st.Event.Element = st.Event.Element.clone()
	}
	if st.Annotations != nil {
		st.Annotations = append(json.RawMessage(nil), st.Annotations...)
	}
	return st
}

func (e *ElementInfo) clone() *ElementInfo {
	c := *e
	if e.Checked != nil {
		v := *e.Checked
		c.Checked = &v
	}
	return &c
}

type CaptureSession struct {
	ID          string     `json:"id"`
	TabID       int        `json:"tabId"`
	Status      Status     `json:"status"`
	Title       string     `json:"title"`
	Steps       []Step     `json:"steps"`
	StartURL    string     `json:"startUrl"`
	StartedAt   time.Time  `json:"startedAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a deep copy of the session, duplicating pointer and slice
// fields so the copy can be mutated independently of the original.
func (s *CaptureSession) Clone() *CaptureSession {
	c := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.Steps != nil {
		c.Steps = make([]Step, len(s.Steps))
		for i, st := range s.Steps {
			c.Steps[i] = st.clone()
		}
	}
	return &c
}

// LastStep returns the most recently appended step, if any.
func (s *CaptureSession) LastStep() (Step, bool) {
	if len(s.Steps) == 0 {
		return Step{}, false
	}
	return s.Steps[len(s.Steps)-1], true
}

// StepIndex returns the position of the step with the given id in Steps,
// or -1.
func (s *CaptureSession) StepIndex(id string) int {
	for i := range s.Steps {
		if s.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// Renumber rewrites step numbers so they run 1..N in slice order.
func (s *CaptureSession) Renumber() {
	for i := range s.Steps {
		s.Steps[i].Number = i + 1
	}
}

// IsTerminal reports whether the session can no longer change status.
func (s *CaptureSession) IsTerminal() bool {
	return s.Status == Done
}

// ToolbarPosition is where the in-page toolbar was last dragged to.
type ToolbarPosition struct {
	X int `json:"x"`
	Y int `json:"y"`
}
