package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stepsnap/stepsnap/internal/describe"
	"github.com/stepsnap/stepsnap/internal/session"
)

// StepPatch carries the editable fields of a step. Nil fields are left
// unchanged.
type StepPatch struct {
	Description *string         `json:"description,omitempty"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
	Screenshot  *string         `json:"screenshot,omitempty"`
}

// UpdateStep edits one step. A new screenshot also regenerates the
// thumbnail.
func (o *Orchestrator) UpdateStep(ctx context.Context, id string, patch StepPatch) (*session.Step, error) {
	var thumb string
	if patch.Screenshot != nil {
		if _, ok := o.findStep(id); !ok {
			return nil, ErrStepNotFound
		}
		var err error
		thumb, err = o.capture.Thumbnail(ctx, *patch.Screenshot, o.opts.ThumbnailWidth, o.opts.ThumbnailQuality)
		if err != nil {
			return nil, fmt.Errorf("pipeline: update step thumbnail: %w", err)
		}
	}

	var updated session.Step
	sess, err := o.mutate(func(s *session.CaptureSession) error {
		i := s.StepIndex(id)
		if i < 0 {
			return ErrStepNotFound
		}
		st := &s.Steps[i]
		if patch.Description != nil {
			st.Description = *patch.Description
		}
		if patch.Annotations != nil {
			st.Annotations = append(json.RawMessage(nil), patch.Annotations...)
		}
		if patch.Screenshot != nil {
			st.Screenshot = *patch.Screenshot
			st.Thumbnail = thumb
		}
		updated = *st
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.log.Debug("step updated", "session", sess.ID, "step", id)
	return &updated, nil
}

// DeleteStep removes a step and renumbers the rest from 1.
func (o *Orchestrator) DeleteStep(ctx context.Context, id string) (*session.CaptureSession, error) {
	return o.mutate(func(s *session.CaptureSession) error {
		i := s.StepIndex(id)
		if i < 0 {
			return ErrStepNotFound
		}
		s.Steps = append(s.Steps[:i], s.Steps[i+1:]...)
		s.Renumber()
		return nil
	})
}

// ReorderSteps puts the listed steps first, in the given order, followed by
// any steps the list left out in their original order. Unknown and repeated
// ids are skipped.
func (o *Orchestrator) ReorderSteps(ctx context.Context, ids []string) (*session.CaptureSession, error) {
	return o.mutate(func(s *session.CaptureSession) error {
		byID := make(map[string]session.Step, len(s.Steps))
		for _, st := range s.Steps {
			byID[st.ID] = st
		}
		placed := make(map[string]bool, len(ids))
		out := make([]session.Step, 0, len(s.Steps))
		for _, id := range ids {
			st, ok := byID[id]
			if !ok || placed[id] {
				continue
			}
			placed[id] = true
			out = append(out, st)
		}
		for _, st := range s.Steps {
			if !placed[st.ID] {
				out = append(out, st)
			}
		}
		s.Steps = out
		s.Renumber()
		return nil
	})
}

// mutate applies fn to the active session, stamps it, notifies observers
// and schedules a save.
func (o *Orchestrator) mutate(fn func(*session.CaptureSession) error) (*session.CaptureSession, error) {
	now := o.now()
	sess, err := o.store.UpdateAndNotify(func(s *session.CaptureSession) error {
		if err := fn(s); err != nil {
			return err
		}
		s.UpdatedAt = now
		return nil
	}, func(s *session.CaptureSession) {
		o.notify(session.EventUpdated, s, "")
	})
	if err != nil {
		return nil, err
	}
	o.saver.save(sess)
	return sess, nil
}

// StepImage returns the full screenshot of a step.
func (o *Orchestrator) StepImage(id string) (string, error) {
	st, ok := o.findStep(id)
	if !ok {
		return "", ErrStepNotFound
	}
	return st.Screenshot, nil
}

func (o *Orchestrator) findStep(id string) (session.Step, bool) {
	sess, ok := o.store.Get()
	if !ok {
		return session.Step{}, false
	}
	i := sess.StepIndex(id)
	if i < 0 {
		return session.Step{}, false
	}
	return sess.Steps[i], true
}

func (o *Orchestrator) SaveToolbar(pos session.ToolbarPosition) {
	o.store.SetToolbar(pos)
}

func (o *Orchestrator) Toolbar() (session.ToolbarPosition, bool) {
	return o.store.Toolbar()
}

// TakeScreenshot captures tab once and replaces whatever session exists
// with a new editing session holding that single step.
func (o *Orchestrator) TakeScreenshot(ctx context.Context, tab session.TabRef) (*session.CaptureSession, error) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	o.inFlight = true
	o.mu.Unlock()
	defer o.finishRun()

	ctx = context.WithoutCancel(ctx)
	src, err := o.captureVisible(ctx, tab.ID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: screenshot: %w", err)
	}
	working, err := o.capture.Resize(ctx, src, o.opts.MaxWorkingWidth)
	if err != nil {
		return nil, fmt.Errorf("pipeline: screenshot resize: %w", err)
	}
	thumb, err := o.capture.Thumbnail(ctx, working, o.opts.ThumbnailWidth, o.opts.ThumbnailQuality)
	if err != nil {
		return nil, fmt.Errorf("pipeline: screenshot thumbnail: %w", err)
	}

	now := o.now()
	title := tab.Title
	if title == "" {
		title = "Screenshot"
	}
	sess := &session.CaptureSession{
		ID:     newID(),
		TabID:  tab.ID,
		Status: session.Editing,
		Title:  title,
		Steps: []session.Step{{
			ID:          newID(),
			Number:      1,
			Description: describe.Screenshot(tab.Title),
			Screenshot:  working,
			Thumbnail:   thumb,
			CreatedAt:   now,
			URL:         tab.URL,
		}},
		StartURL:    tab.URL,
		StartedAt:   now,
		UpdatedAt:   now,
		CompletedAt: &now,
	}

	o.lifecycle.Lock()
	o.mu.Lock()
	o.queued = nil
	o.resetPrecaptureLocked()
	o.mu.Unlock()
	o.store.Set(sess)
	o.lifecycle.Unlock()

	o.log.Info("screenshot taken", "session", sess.ID, "tab", tab.ID)
	o.notify(session.EventStarted, sess.Clone(), "")
	o.saver.save(sess)
	return sess, nil
}

// HandleNavigation re-injects the content surface after a hard navigation
// of the capturing tab's top frame (frameID 0). It reports whether a
// re-inject happened.
func (o *Orchestrator) HandleNavigation(ctx context.Context, tabID, frameID int, url string) bool {
	if frameID != 0 {
		return false
	}
	sess, ok := o.store.Get()
	if !ok || sess.Status != session.Capturing || sess.TabID != tabID {
		return false
	}
	if err := o.surface.Reinject(ctx, tabID); err != nil {
		o.log.Warn("reinject failed", "tab", tabID, "url", url, "error", err)
		return false
	}
	o.restoreOverlay(ctx, tabID, len(sess.Steps))
	o.log.Debug("content reinjected", "tab", tabID, "url", url)
	return true
}
