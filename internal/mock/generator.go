package mock

import (
	"context"
	"log/slog"
	"time"

	"github.com/stepsnap/stepsnap/internal/pipeline"
	"github.com/stepsnap/stepsnap/internal/session"
)

// scripted is one interaction in the demo walkthrough.
type scripted struct {
	kind   session.EventKind
	el     *session.ElementInfo
	key    string
	value  string
	url    string
	title  string
	deltaY int
	precap bool // buffer a screenshot before submitting, like a pointerdown
}

const demoOrigin = "https://demo.stepsnap.local"

var walkthrough = []scripted{
	{kind: session.KindNavigation, url: demoOrigin + "/login", title: "Sign in"},
	{kind: session.KindClick, el: &session.ElementInfo{Tag: "input", Type: "email", Name: "email", Placeholder: "you@example.com"}, precap: true},
	{kind: session.KindChange, el: &session.ElementInfo{Tag: "input", Type: "email", Name: "email", Label: "Email"}, value: "ada@example.com"},
	{kind: session.KindChange, el: &session.ElementInfo{Tag: "input", Type: "password", Name: "password", Label: "Password"}, value: "hunter2"},
	{kind: session.KindClick, el: &session.ElementInfo{Tag: "button", Text: "Sign in"}, precap: true},
	{kind: session.KindNavigation, url: demoOrigin + "/dashboard", title: "Dashboard"},
	{kind: session.KindScroll, deltaY: 640},
	{kind: session.KindClick, el: &session.ElementInfo{Tag: "a", Text: "Reports", Href: demoOrigin + "/reports"}, precap: true},
	{kind: session.KindKeypress, el: &session.ElementInfo{Tag: "input", Type: "search", AriaLabel: "Search reports"}, key: "Enter"},
	{kind: session.KindClick, el: &session.ElementInfo{Tag: "button", AriaLabel: "Export"}, precap: true},
}

// Generator replays a scripted walkthrough against an Orchestrator in a
// loop: start, one event per tick, stop, mark exported, start again.
type Generator struct {
	orch     *pipeline.Orchestrator
	tab      session.TabRef
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func NewGenerator(orch *pipeline.Orchestrator, interval time.Duration, log *slog.Logger) *Generator {
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		orch:     orch,
		tab:      session.TabRef{ID: 1, Title: "StepSnap demo", URL: demoOrigin + "/"},
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

func (g *Generator) Start(ctx context.Context) {
	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.advance(ctx, tick)
			tick++
		}
	}
}

// advance performs the action for one tick. A cycle is the walkthrough plus
// three bookkeeping ticks: start, stop and export.
func (g *Generator) advance(ctx context.Context, tick int) {
	cycle := len(walkthrough) + 3
	pos := tick % cycle

	switch {
	case pos == 0:
		if _, ok := g.orch.Start(ctx, g.tab); ok {
			g.log.Info("mock: capture started", "tab", g.tab.ID)
		}
	case pos <= len(walkthrough):
		g.emit(ctx, walkthrough[pos-1])
	case pos == len(walkthrough)+1:
		if sess, ok := g.orch.Stop(ctx); ok {
			g.log.Info("mock: capture stopped", "steps", len(sess.Steps))
		}
	default:
		g.orch.ExportReady(ctx)
	}
}

func (g *Generator) emit(ctx context.Context, s scripted) {
	if s.precap {
		g.orch.Buffer(ctx, g.tab.ID)
	}
	ev := g.event(s)
	res := g.orch.Submit(ctx, ev)
	g.log.Debug("mock: interaction", "kind", ev.Kind, "outcome", res.Outcome)
}

func (g *Generator) event(s scripted) session.InteractionEvent {
	url := s.url
	if url == "" {
		url = g.tab.URL
	}
	title := s.title
	if title == "" {
		title = g.tab.Title
	}
	ev := session.InteractionEvent{
		Kind:      s.kind,
		Timestamp: g.now().UnixMilli(),
		URL:       url,
		TabID:     g.tab.ID,
		PageTitle: title,
		Key:       s.key,
		Value:     s.value,
		DeltaY:    s.deltaY,
	}
	if s.el != nil {
		el := *s.el
		ev.Element = &el
	}
	return ev
}
