package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stepsnap/stepsnap/internal/session"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Millis is the current fake time as a page timestamp.
func (c *fakeClock) Millis() int64 { return c.Now().UnixMilli() }

type fakeCapturer struct {
	mu       sync.Mutex
	captures int
	err      error

	// When gate is non-nil each capture signals started and then blocks
	// until gate yields.
	gate    chan struct{}
	started chan struct{}
}

func (c *fakeCapturer) block() {
	c.gate = make(chan struct{})
	c.started = make(chan struct{}, 16)
}

func (c *fakeCapturer) release() { c.gate <- struct{}{} }

func (c *fakeCapturer) CaptureVisible(ctx context.Context, tabID int) (string, error) {
	if c.gate != nil {
		c.started <- struct{}{}
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captures++
	if c.err != nil {
		return "", c.err
	}
	return fmt.Sprintf("shot-%d", c.captures), nil
}

func (c *fakeCapturer) Resize(ctx context.Context, img string, maxWidth int) (string, error) {
	return img + "@w", nil
}

func (c *fakeCapturer) Thumbnail(ctx context.Context, img string, width, quality int) (string, error) {
	return "thumb(" + img + ")", nil
}

func (c *fakeCapturer) Captures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captures
}

type fakeSurface struct {
	mu        sync.Mutex
	hides     int
	shows     int
	reinjects int
	restores  []int
}

func (s *fakeSurface) HideOverlay(context.Context, int) error {
	s.mu.Lock()
	s.hides++
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) ShowOverlay(context.Context, int) error {
	s.mu.Lock()
	s.shows++
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) RestoreOverlay(_ context.Context, _ int, count int, _ *session.ToolbarPosition) error {
	s.mu.Lock()
	s.restores = append(s.restores, count)
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) Reinject(context.Context, int) error {
	s.mu.Lock()
	s.reinjects++
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) Settled(context.Context, int, time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (s *fakeSurface) counts() (hides, shows, reinjects int, restores []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hides, s.shows, s.reinjects, append([]int(nil), s.restores...)
}

type fakePersister struct {
	mu       sync.Mutex
	saved    *session.CaptureSession
	saves    int
	purges   int
	restore  *session.CaptureSession
	restores int
	err      error
}

func (p *fakePersister) Save(_ context.Context, s *session.CaptureSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	if p.err != nil {
		return p.err
	}
	p.saved = s.Clone()
	return nil
}

func (p *fakePersister) Restore(context.Context) (*session.CaptureSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restores++
	if p.restore == nil {
		return nil, nil
	}
	return p.restore.Clone(), nil
}

func (p *fakePersister) Purge(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purges++
	p.saved = nil
	return nil
}

func (p *fakePersister) snapshot() (saved *session.CaptureSession, saves, purges int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saved, p.saves, p.purges
}

var errCaptureFailed = errors.New("capture failed")

type harness struct {
	o       *Orchestrator
	clock   *fakeClock
	cap     *fakeCapturer
	surface *fakeSurface
	persist *fakePersister

	evMu   sync.Mutex
	events []session.EventType
}

func newHarness(mutate ...func(*Options)) *harness {
	h := &harness{
		clock:   newFakeClock(),
		cap:     &fakeCapturer{},
		surface: &fakeSurface{},
		persist: &fakePersister{},
	}
	opts := Options{
		MaxSteps:        100,
		RedactSensitive: true,
		Surface:         h.surface,
		Persister:       h.persist,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:             h.clock.Now,
		OnEvent: func(e session.Event) {
			h.evMu.Lock()
			h.events = append(h.events, e.Type)
			h.evMu.Unlock()
		},
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.o = New(session.NewStore(), h.cap, opts)
	return h
}

func (h *harness) eventTypes() []session.EventType {
	h.evMu.Lock()
	defer h.evMu.Unlock()
	return append([]session.EventType(nil), h.events...)
}

func (h *harness) steps() []session.Step {
	s, ok := h.o.Store().Get()
	if !ok {
		return nil
	}
	return s.Steps
}

// click builds a click event stamped with the current fake time.
func (h *harness) click(label string) session.InteractionEvent {
	return session.InteractionEvent{
		Kind:      session.KindClick,
		Timestamp: h.clock.Millis(),
		URL:       "https://example.com/app",
		TabID:     7,
		Element:   &session.ElementInfo{Tag: "button", Text: label},
	}
}

func (h *harness) event(kind session.EventKind) session.InteractionEvent {
	ev := h.click("x")
	ev.Kind = kind
	return ev
}

var testTab = session.TabRef{ID: 7, Title: "App", URL: "https://example.com/app"}

// overlayTracker records whether the overlay was visible each time a shot
// completed.
type overlayTracker struct {
	nopSurface
	mu      sync.Mutex
	visible bool
	seen    []bool
}

func (s *overlayTracker) HideOverlay(context.Context, int) error {
	s.mu.Lock()
	s.visible = false
	s.mu.Unlock()
	return nil
}

func (s *overlayTracker) ShowOverlay(context.Context, int) error {
	s.mu.Lock()
	s.visible = true
	s.mu.Unlock()
	return nil
}

func (s *overlayTracker) record() {
	s.mu.Lock()
	s.seen = append(s.seen, s.visible)
	s.mu.Unlock()
}

func (s *overlayTracker) isVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

func (s *overlayTracker) shots() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.seen...)
}

type trackingCapturer struct {
	*fakeCapturer
	overlay *overlayTracker
}

func (c trackingCapturer) CaptureVisible(ctx context.Context, tabID int) (string, error) {
	img, err := c.fakeCapturer.CaptureVisible(ctx, tabID)
	c.overlay.record()
	return img, err
}
