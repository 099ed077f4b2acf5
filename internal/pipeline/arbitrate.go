package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/stepsnap/stepsnap/internal/describe"
	"github.com/stepsnap/stepsnap/internal/session"
)

var (
	errSuppressed   = errors.New("pipeline: suppressed")
	errLimitReached = errors.New("pipeline: step limit reached")
)

// Submit arbitrates one interaction event. At most one pipeline run executes
// at a time; an event that arrives while one is in flight is parked in a
// single slot and dispatched when the run completes.
func (o *Orchestrator) Submit(ctx context.Context, ev session.InteractionEvent) SubmitResult {
	return o.submit(ctx, ev, false)
}

// Post arbitrates ev before returning and runs any resulting pipeline in the
// background. Events posted one after another are arbitrated in that order.
func (o *Orchestrator) Post(ctx context.Context, ev session.InteractionEvent) {
	res, sess, admitted := o.admit(ctx, ev, false)
	if !admitted {
		o.log.Debug("event posted", "kind", ev.Kind, "outcome", res.Outcome)
		return
	}
	o.dispatch.Add(1)
	go func() {
		defer o.dispatch.Done()
		defer o.finishRun()
		res := o.run(context.WithoutCancel(ctx), sess.ID, sess.TabID, ev, false)
		o.log.Debug("event posted", "kind", ev.Kind, "outcome", res.Outcome)
	}()
}

func (o *Orchestrator) submit(ctx context.Context, ev session.InteractionEvent, fromQueue bool) SubmitResult {
	res, sess, admitted := o.admit(ctx, ev, fromQueue)
	if !admitted {
		return res
	}
	defer o.finishRun()
	return o.run(context.WithoutCancel(ctx), sess.ID, sess.TabID, ev, fromQueue)
}

// admit applies the pre-run checks and claims the in-flight guard. When it
// reports true the caller owns the run and must call finishRun.
func (o *Orchestrator) admit(ctx context.Context, ev session.InteractionEvent, fromQueue bool) (SubmitResult, *session.CaptureSession, bool) {
	sess, ok := o.store.Get()
	if !ok || sess.Status != session.Capturing {
		return SubmitResult{Outcome: OutcomeNotCapturing}, nil, false
	}
	if ev.TabID != 0 && sess.TabID != 0 && ev.TabID != sess.TabID {
		return SubmitResult{Outcome: OutcomeWrongTab}, nil, false
	}
	if len(sess.Steps) >= o.opts.MaxSteps {
		return SubmitResult{Outcome: OutcomeLimitReached}, nil, false
	}
	if last, ok := sess.LastStep(); ok && o.withinProducerWindow(ev, last) {
		o.log.Debug("event suppressed", "kind", ev.Kind, "clock", "producer")
		return SubmitResult{Outcome: OutcomeSuppressed}, nil, false
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		o.enqueueLocked(queuedEvent{ctx: context.WithoutCancel(ctx), ev: ev, fromQueue: fromQueue})
		return SubmitResult{Outcome: OutcomeQueued}, nil, false
	}
	o.inFlight = true
	return SubmitResult{}, sess, true
}

// enqueueLocked parks q in the slot if it is empty or q outranks the
// current occupant. Equal priority keeps the earlier event.
func (o *Orchestrator) enqueueLocked(q queuedEvent) {
	if o.queued != nil && q.ev.Kind.Priority() <= o.queued.ev.Kind.Priority() {
		o.log.Debug("event dropped", "kind", q.ev.Kind, "queued", o.queued.ev.Kind)
		return
	}
	o.queued = &q
}

// finishRun releases the in-flight guard and re-submits the queued event,
// if any. It runs on every exit path of a pipeline run.
func (o *Orchestrator) finishRun() {
	o.mu.Lock()
	o.inFlight = false
	next := o.queued
	o.queued = nil
	o.mu.Unlock()

	if next == nil {
		return
	}
	o.dispatch.Add(1)
	go func() {
		defer o.dispatch.Done()
		res := o.submit(next.ctx, next.ev, true)
		o.log.Debug("queued event dispatched", "kind", next.ev.Kind, "outcome", res.Outcome)
	}()
}

// withinProducerWindow compares the event's page timestamp with the
// creation time of the previous step.
func (o *Orchestrator) withinProducerWindow(ev session.InteractionEvent, last session.Step) bool {
	d := time.Duration(ev.Timestamp-last.CreatedAt.UnixMilli()) * time.Millisecond
	if d < 0 {
		d = -d
	}
	return o.withinWindow(ev.Kind, d)
}

func (o *Orchestrator) withinWindow(kind session.EventKind, d time.Duration) bool {
	if kind == session.KindNavigation && d < o.opts.NavigationDebounce {
		return true
	}
	return d < o.opts.GeneralDebounce
}

// run executes one pipeline: acquire, resize, thumbnail, describe, commit.
func (o *Orchestrator) run(ctx context.Context, sessID string, tabID int, ev session.InteractionEvent, fromQueue bool) SubmitResult {
	defer o.clearPrecapture()

	src, buffered := o.takePrecapture()
	if !buffered {
		var err error
		src, err = o.captureVisible(ctx, tabID)
		if err != nil {
			return o.failed("capture", err)
		}
	}

	working, err := o.capture.Resize(ctx, src, o.opts.MaxWorkingWidth)
	if err != nil {
		return o.failed("resize", err)
	}
	thumb, err := o.capture.Thumbnail(ctx, working, o.opts.ThumbnailWidth, o.opts.ThumbnailQuality)
	if err != nil {
		return o.failed("thumbnail", err)
	}

	if o.opts.RedactSensitive {
		ev = session.RedactEvent(ev)
	}
	step := session.Step{
		ID:          newID(),
		Description: describe.Step(ev),
		Screenshot:  working,
		Thumbnail:   thumb,
		Element:     ev.Element,
		Event:       ev,
		URL:         ev.URL,
	}

	sess, err := o.store.UpdateAndNotify(func(s *session.CaptureSession) error {
		if s.ID != sessID || s.Status != session.Capturing {
			return ErrNotCapturing
		}
		if len(s.Steps) >= o.opts.MaxSteps {
			return errLimitReached
		}
		now := o.now()
		if last, ok := s.LastStep(); ok && !fromQueue && o.withinWindow(ev.Kind, now.Sub(last.CreatedAt)) {
			return errSuppressed
		}
		step.CreatedAt = now
		step.Number = len(s.Steps) + 1
		s.Steps = append(s.Steps, step)
		s.UpdatedAt = now
		return nil
	}, func(s *session.CaptureSession) {
		o.notify(session.EventStepAdded, s, step.ID)
	})
	switch {
	case errors.Is(err, errSuppressed):
		o.log.Debug("event suppressed", "kind", ev.Kind, "clock", "wall")
		return SubmitResult{Outcome: OutcomeSuppressed}
	case errors.Is(err, errLimitReached):
		return SubmitResult{Outcome: OutcomeLimitReached}
	case err != nil:
		return SubmitResult{Outcome: OutcomeNotCapturing}
	}

	o.saver.save(sess)
	o.log.Debug("step added", "session", sess.ID, "step", step.Number, "kind", ev.Kind, "buffered", buffered)
	committed := sess.Steps[len(sess.Steps)-1]
	return SubmitResult{Outcome: OutcomeProduced, Step: &committed}
}

func (o *Orchestrator) failed(stage string, err error) SubmitResult {
	o.log.Warn("pipeline run failed", "stage", stage, "error", err)
	return SubmitResult{Outcome: OutcomeFailed, Err: err}
}

// captureVisible waits for the page to settle, then takes a shot.
func (o *Orchestrator) captureVisible(ctx context.Context, tabID int) (string, error) {
	o.waitSettled(ctx, tabID)
	return o.shoot(ctx, tabID)
}

// shoot screenshots tab with the overlay hidden. The overlay is shown again
// on every exit path. Shots never interleave, so one caller's ShowOverlay
// cannot land inside another caller's capture.
func (o *Orchestrator) shoot(ctx context.Context, tabID int) (string, error) {
	o.shutter.Lock()
	defer o.shutter.Unlock()

	if err := o.surface.HideOverlay(ctx, tabID); err != nil {
		o.log.Debug("hide overlay failed", "tab", tabID, "error", err)
	}
	defer func() {
		if err := o.surface.ShowOverlay(ctx, tabID); err != nil {
			o.log.Debug("show overlay failed", "tab", tabID, "error", err)
		}
	}()
	return o.capture.CaptureVisible(ctx, tabID)
}

// waitSettled returns when the page reports it has settled or the maximum
// wait elapses, whichever comes first.
func (o *Orchestrator) waitSettled(ctx context.Context, tabID int) {
	if o.opts.SettleMaxWait <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := time.NewTimer(o.opts.SettleMaxWait)
	defer timer.Stop()

	select {
	case <-o.surface.Settled(ctx, tabID, o.opts.SettleQuiet):
	case <-timer.C:
		o.log.Debug("settle wait timed out", "tab", tabID)
	case <-ctx.Done():
	}
}
