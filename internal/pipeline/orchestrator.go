// Package pipeline owns the capture session lifecycle and turns a bursty
// stream of interaction events into at most one screenshot pipeline run at a
// time.
//
// All mutation of the active session goes through an Orchestrator. Reads may
// use the session.Store directly.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stepsnap/stepsnap/internal/config"
	"github.com/stepsnap/stepsnap/internal/session"
)

var (
	ErrNoSession    = session.ErrNoSession
	ErrStepNotFound = errors.New("pipeline: step not found")
	ErrNotCapturing = errors.New("pipeline: session is not capturing")
	ErrBusy         = errors.New("pipeline: a capture is already in flight")
)

// fallbackTitle names sessions whose tab has no title.
const fallbackTitle = "Untitled capture"

type Options struct {
	MaxSteps           int
	MaxWorkingWidth    int
	ThumbnailWidth     int
	ThumbnailQuality   int
	GeneralDebounce    time.Duration
	NavigationDebounce time.Duration
	PrecaptureMaxAge   time.Duration
	SettleMaxWait      time.Duration
	SettleQuiet        time.Duration
	RedactSensitive    bool

	Surface   Surface
	Persister Persister
	Logger    *slog.Logger
	// OnEvent receives every session change. It is called synchronously and
	// must not call back into the Orchestrator.
	OnEvent func(session.Event)
	// Now is the process wall clock. Defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig copies the capture settings out of cfg.
func OptionsFromConfig(cfg config.CaptureConfig) Options {
	return Options{
		MaxSteps:           cfg.MaxSteps,
		MaxWorkingWidth:    cfg.MaxWorkingWidth,
		ThumbnailWidth:     cfg.ThumbnailWidth,
		ThumbnailQuality:   cfg.ThumbnailQuality,
		GeneralDebounce:    cfg.GeneralDebounce,
		NavigationDebounce: cfg.NavigationDebounce,
		PrecaptureMaxAge:   cfg.PrecaptureMaxAge,
		SettleMaxWait:      cfg.SettleMaxWait,
		SettleQuiet:        cfg.SettleQuiet,
		RedactSensitive:    cfg.RedactSensitive,
	}
}

func (o *Options) setDefaults() {
	d := config.Default().Capture
	if o.MaxSteps <= 0 {
		o.MaxSteps = d.MaxSteps
	}
	if o.MaxWorkingWidth <= 0 {
		o.MaxWorkingWidth = d.MaxWorkingWidth
	}
	if o.ThumbnailWidth <= 0 {
		o.ThumbnailWidth = d.ThumbnailWidth
	}
	if o.ThumbnailQuality <= 0 {
		o.ThumbnailQuality = d.ThumbnailQuality
	}
	if o.GeneralDebounce <= 0 {
		o.GeneralDebounce = d.GeneralDebounce
	}
	if o.NavigationDebounce <= 0 {
		o.NavigationDebounce = d.NavigationDebounce
	}
	if o.PrecaptureMaxAge <= 0 {
		o.PrecaptureMaxAge = d.PrecaptureMaxAge
	}
	if o.Surface == nil {
		o.Surface = nopSurface{}
	}
	if o.Persister == nil {
		o.Persister = nopPersister{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type queuedEvent struct {
	ctx       context.Context
	ev        session.InteractionEvent
	fromQueue bool
}

// precapture is the single-slot speculative screenshot.
type precapture struct {
	gen     uint64
	pending chan struct{} // closed when the in-flight Buffer call finishes
	image   string
	at      time.Time
}

type Orchestrator struct {
	store   *session.Store
	capture Capturer
	surface Surface
	opts    Options
	log     *slog.Logger
	now     func() time.Time
	saver   *saver

	// lifecycle serializes operations that replace or clear the session.
	lifecycle sync.Mutex

	mu       sync.Mutex
	inFlight bool
	queued   *queuedEvent
	pre      precapture

	// shutter keeps image captures from interleaving.
	shutter sync.Mutex

	restoreOnce sync.Once
	dispatch    sync.WaitGroup
}

func New(store *session.Store, capture Capturer, opts Options) *Orchestrator {
	opts.setDefaults()
	return &Orchestrator{
		store:   store,
		capture: capture,
		surface: opts.Surface,
		opts:    opts,
		log:     opts.Logger,
		now:     opts.Now,
		saver:   newSaver(opts.Persister, opts.Logger),
	}
}

// Store returns the session store the orchestrator mutates.
func (o *Orchestrator) Store() *session.Store {
	return o.store
}

// MaxSteps is the per-session step cap.
func (o *Orchestrator) MaxSteps() int {
	return o.opts.MaxSteps
}

// InFlight reports whether a pipeline run is executing.
func (o *Orchestrator) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

// Wait blocks until queued dispatches and pending saves have drained.
func (o *Orchestrator) Wait() {
	o.dispatch.Wait()
	o.saver.wait()
}

func (o *Orchestrator) notify(t session.EventType, s *session.CaptureSession, stepID string) {
	if o.opts.OnEvent == nil {
		return
	}
	o.opts.OnEvent(session.Event{Type: t, Session: s, StepID: stepID})
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

var errRejected = errors.New("pipeline: transition rejected")

// Start allocates a new capturing session for tab. A finished session
// (editing or done) counts as idle and is replaced. It reports false when
// a capture is already running or paused.
func (o *Orchestrator) Start(ctx context.Context, tab session.TabRef) (*session.CaptureSession, bool) {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	from := session.Idle
	if st := o.store.Status(); st == session.Capturing || st == session.Paused {
		from = st
	}
	to, ok := session.Transition(from, session.ActionStartCapture)
	if !ok {
		o.log.Debug("start rejected", "status", from)
		return nil, false
	}

	now := o.now()
	title := tab.Title
	if title == "" {
		title = fallbackTitle
	}
	sess := &session.CaptureSession{
		ID:        newID(),
		TabID:     tab.ID,
		Status:    to,
		Title:     title,
		Steps:     []session.Step{},
		StartURL:  tab.URL,
		StartedAt: now,
		UpdatedAt: now,
	}

	o.mu.Lock()
	o.queued = nil
	o.resetPrecaptureLocked()
	o.mu.Unlock()

	o.store.Set(sess)
	o.log.Info("capture started", "session", sess.ID, "tab", tab.ID)
	o.notify(session.EventStarted, sess.Clone(), "")
	o.saver.save(sess)
	return sess, true
}

// Stop moves a capturing session to editing and stamps its completion time.
// Only a session in capturing can be stopped.
func (o *Orchestrator) Stop(ctx context.Context) (*session.CaptureSession, bool) {
	sess, ok := o.apply(session.ActionStop, func(s *session.CaptureSession, now time.Time) {
		s.CompletedAt = &now
	})
	if ok {
		o.mu.Lock()
		o.queued = nil
		o.mu.Unlock()
	}
	return sess, ok
}

func (o *Orchestrator) Pause(ctx context.Context) (session.Status, bool) {
	return o.applyStatus(session.ActionPause)
}

func (o *Orchestrator) Resume(ctx context.Context) (session.Status, bool) {
	return o.applyStatus(session.ActionResume)
}

func (o *Orchestrator) ExportReady(ctx context.Context) (session.Status, bool) {
	return o.applyStatus(session.ActionExportReady)
}

func (o *Orchestrator) EditorClosed(ctx context.Context) (session.Status, bool) {
	return o.applyStatus(session.ActionEditorClosed)
}

func (o *Orchestrator) applyStatus(action session.Action) (session.Status, bool) {
	sess, ok := o.apply(action, nil)
	if !ok {
		return o.store.Status(), false
	}
	return sess.Status, true
}

// apply runs a table transition against the active session. extra, if
// non-nil, runs on the working copy after the status has changed.
func (o *Orchestrator) apply(action session.Action, extra func(*session.CaptureSession, time.Time)) (*session.CaptureSession, bool) {
	now := o.now()
	sess, err := o.store.UpdateAndNotify(func(s *session.CaptureSession) error {
		to, ok := session.Transition(s.Status, action)
		if !ok {
			return errRejected
		}
		s.Status = to
		s.UpdatedAt = now
		if extra != nil {
			extra(s, now)
		}
		return nil
	}, func(s *session.CaptureSession) {
		o.notify(session.EventUpdated, s, "")
	})
	if err != nil {
		o.log.Debug("transition rejected", "action", action, "status", o.store.Status())
		return nil, false
	}
	o.saver.save(sess)
	return sess, true
}

// Cancel discards a capturing or paused session along with the toolbar
// position, the queued event and everything persisted.
func (o *Orchestrator) Cancel(ctx context.Context) bool {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	if _, ok := session.Transition(o.store.Status(), session.ActionCancel); !ok {
		o.log.Debug("cancel rejected", "status", o.store.Status())
		return false
	}
	o.clear()
	o.store.ClearToolbar()
	o.log.Info("capture cancelled")
	return true
}

// clear drops the active session, the queued event and the pre-capture
// buffer, and purges storage.
func (o *Orchestrator) clear() {
	o.mu.Lock()
	o.queued = nil
	o.resetPrecaptureLocked()
	o.mu.Unlock()

	o.store.Clear()
	o.notify(session.EventCleared, nil, "")
	o.saver.purge()
}

// EnsureRestored loads the persisted session the first time it is called
// with no session in memory. Later calls are no-ops whatever the outcome.
func (o *Orchestrator) EnsureRestored(ctx context.Context) {
	o.restoreOnce.Do(func() {
		o.lifecycle.Lock()
		defer o.lifecycle.Unlock()

		if _, ok := o.store.Get(); ok {
			return
		}
		sess, err := o.opts.Persister.Restore(ctx)
		if err != nil {
			o.log.Warn("restore failed", "error", err)
			return
		}
		if sess == nil {
			return
		}
		o.store.Set(sess)
		o.log.Info("session restored", "session", sess.ID, "steps", len(sess.Steps), "status", sess.Status)
		o.notify(session.EventUpdated, sess.Clone(), "")

		if sess.Status == session.Capturing || sess.Status == session.Paused {
			o.restoreOverlay(ctx, sess.TabID, len(sess.Steps))
		}
	})
}

func (o *Orchestrator) restoreOverlay(ctx context.Context, tabID, stepCount int) {
	var pos *session.ToolbarPosition
	if p, ok := o.store.Toolbar(); ok {
		pos = &p
	}
	if err := o.surface.RestoreOverlay(ctx, tabID, stepCount, pos); err != nil {
		o.log.Warn("restore overlay failed", "tab", tabID, "error", err)
	}
}

// ExpireStale clears the in-memory session if it has not been updated for
// longer than maxAge. It reports whether a session was cleared.
func (o *Orchestrator) ExpireStale(maxAge time.Duration) bool {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	sess, ok := o.store.Get()
	if !ok || o.now().Sub(sess.UpdatedAt) <= maxAge {
		return false
	}
	o.clear()
	o.log.Info("session expired", "session", sess.ID, "updated_at", sess.UpdatedAt)
	return true
}
