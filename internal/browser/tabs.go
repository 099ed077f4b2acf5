package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/stepsnap/stepsnap/internal/session"
)

//go:embed overlay.js
var overlayJS string

const bindingName = "__stepsnap_emit"

// ErrUnknownTab is returned for a tab id that is not open.
var ErrUnknownTab = errors.New("browser: unknown tab")

// Handlers receive what the page reports. Any of them may be nil. Page
// messages for one tab are delivered on a single goroutine in the order the
// page sent them, so handlers should return promptly.
type Handlers struct {
	OnInteraction func(tabID int, ev session.InteractionEvent)
	OnPointerDown func(tabID int)
	OnToolbar     func(tabID int, pos session.ToolbarPosition)
	// OnNavigate receives frame navigations. frameID is 0 for the top
	// frame and 1 for any sub-frame.
	OnNavigate func(tabID, frameID int, url string)
}

type tab struct {
	page   *rod.Page
	cancel context.CancelFunc
}

// Tabs maps small integer tab ids onto open pages.
type Tabs struct {
	mgr      *Manager
	handlers Handlers
	log      *slog.Logger

	mu   sync.RWMutex
	tabs map[int]*tab
	next int
}

func NewTabs(mgr *Manager, h Handlers) *Tabs {
	return &Tabs{
		mgr:      mgr,
		handlers: h,
		log:      mgr.log,
		tabs:     make(map[int]*tab),
	}
}

// Open creates a tab, installs the content surface on every document it
// loads and navigates to url.
func (t *Tabs) Open(ctx context.Context, url string) (session.TabRef, error) {
	b := t.mgr.Browser()
	if b == nil {
		return session.TabRef{}, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if t.mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return session.TabRef{}, fmt.Errorf("browser: create tab: %w", err)
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		page.Close()
		return session.TabRef{}, fmt.Errorf("browser: add binding: %w", err)
	}
	if _, err := page.EvalOnNewDocument("(" + overlayJS + ")()"); err != nil {
		page.Close()
		return session.TabRef{}, fmt.Errorf("browser: install overlay: %w", err)
	}

	t.mu.Lock()
	t.next++
	id := t.next
	watchCtx, cancel := context.WithCancel(context.Background())
	t.tabs[id] = &tab{page: page, cancel: cancel}
	t.mu.Unlock()

	go t.watch(watchCtx, id, page)

	if url != "" {
		navCtx, cancelNav := context.WithTimeout(ctx, 30*time.Second)
		defer cancelNav()
		if err := page.Context(navCtx).Navigate(url); err != nil {
			t.Close(id)
			return session.TabRef{}, fmt.Errorf("browser: navigate %s: %w", url, err)
		}
		if err := page.Context(navCtx).WaitLoad(); err != nil {
			t.log.Warn("browser: wait load timeout", "url", url, "error", err)
		}
	}

	ref, err := t.Ref(ctx, id)
	if err != nil {
		return session.TabRef{ID: id, URL: url}, nil
	}
	t.log.Info("browser: tab opened", "tab", id, "url", ref.URL)
	return ref, nil
}

// inboxSize bounds the page messages waiting for delivery on one tab.
const inboxSize = 64

// watch forwards binding calls and frame navigations until ctx is done.
func (t *Tabs) watch(ctx context.Context, id int, page *rod.Page) {
	inbox := make(chan pageMessage, inboxSize)
	go t.deliver(ctx, id, inbox)

	wait := page.Context(ctx).EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != bindingName {
				return
			}
			t.enqueue(ctx, inbox, id, e.Payload)
		},
		func(e *proto.PageFrameNavigated) {
			if t.handlers.OnNavigate == nil || e.Frame == nil {
				return
			}
			t.handlers.OnNavigate(id, frameID(e.Frame), e.Frame.URL)
		},
	)
	wait()
}

// enqueue parses a binding payload and queues it behind earlier messages.
func (t *Tabs) enqueue(ctx context.Context, inbox chan<- pageMessage, id int, payload string) {
	m, err := parsePageMessage(payload)
	if err != nil {
		t.log.Debug("browser: dropped page message", "tab", id, "error", err)
		return
	}
	select {
	case inbox <- m:
	case <-ctx.Done():
	}
}

// deliver hands queued messages to the handlers one at a time until ctx is
// done.
func (t *Tabs) deliver(ctx context.Context, id int, inbox <-chan pageMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-inbox:
			t.dispatch(id, m)
		}
	}
}

func frameID(f *proto.PageFrame) int {
	if f.ParentID == "" {
		return 0
	}
	return 1
}

// pageMessage is what overlay.js sends through the binding.
type pageMessage struct {
	Kind     string                    `json:"kind"`
	Event    *session.InteractionEvent `json:"event,omitempty"`
	Position *session.ToolbarPosition  `json:"position,omitempty"`
}

func parsePageMessage(payload string) (pageMessage, error) {
	var m pageMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return m, fmt.Errorf("browser: parse page message: %w", err)
	}
	return m, nil
}

func (t *Tabs) dispatch(id int, m pageMessage) {
	h := t.handlers
	switch m.Kind {
	case "interaction":
		if m.Event == nil || !m.Event.Kind.Valid() || h.OnInteraction == nil {
			return
		}
		ev := *m.Event
		ev.TabID = id
		h.OnInteraction(id, ev)
	case "pointerdown":
		if h.OnPointerDown != nil {
			h.OnPointerDown(id)
		}
	case "toolbar":
		if m.Position != nil && h.OnToolbar != nil {
			h.OnToolbar(id, *m.Position)
		}
	}
}

// Page returns the page behind a tab id.
func (t *Tabs) Page(id int) (*rod.Page, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tb, ok := t.tabs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTab, id)
	}
	return tb.page, nil
}

// Ref describes a tab with its current title and URL.
func (t *Tabs) Ref(ctx context.Context, id int) (session.TabRef, error) {
	page, err := t.Page(id)
	if err != nil {
		return session.TabRef{}, err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return session.TabRef{}, fmt.Errorf("browser: tab info: %w", err)
	}
	return session.TabRef{ID: id, Title: info.Title, URL: info.URL}, nil
}

// Close closes one tab.
func (t *Tabs) Close(id int) {
	t.mu.Lock()
	tb, ok := t.tabs[id]
	delete(t.tabs, id)
	t.mu.Unlock()
	if !ok {
		return
	}
	tb.cancel()
	if err := tb.page.Close(); err != nil {
		t.log.Debug("browser: close tab", "tab", id, "error", err)
	}
}

// CloseAll closes every open tab.
func (t *Tabs) CloseAll() {
	t.mu.RLock()
	ids := make([]int, 0, len(t.tabs))
	for id := range t.tabs {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	for _, id := range ids {
		t.Close(id)
	}
}
