package pipeline

import (
	"context"

	"github.com/stepsnap/stepsnap/internal/session"
)

// Buffer speculatively screenshots tab so that the next pipeline run can
// skip acquisition. The shot is taken without waiting for the page to
// settle, so it shows the page before the pending click takes effect.
// It returns immediately; failures leave the buffer empty. A new call
// always replaces the previous buffer.
func (o *Orchestrator) Buffer(ctx context.Context, tabID int) {
	sess, ok := o.store.Get()
	if !ok || sess.Status != session.Capturing {
		return
	}
	if tabID == 0 {
		tabID = sess.TabID
	}
	if sess.TabID != 0 && tabID != sess.TabID {
		return
	}

	o.mu.Lock()
	o.pre.gen++
	gen := o.pre.gen
	done := make(chan struct{})
	o.pre.pending = done
	o.pre.image = ""
	o.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		img, err := o.shoot(ctx, tabID)

		o.mu.Lock()
		defer o.mu.Unlock()
		if o.pre.gen != gen {
			return
		}
		o.pre.pending = nil
		if err != nil {
			o.log.Debug("pre-capture failed", "tab", tabID, "error", err)
			return
		}
		o.pre.image = img
		o.pre.at = o.now()
	}()
}

// takePrecapture waits for an in-flight Buffer call, then consumes the
// buffer. It reports false when the buffer is empty or stale.
func (o *Orchestrator) takePrecapture() (string, bool) {
	o.mu.Lock()
	pending := o.pre.pending
	o.mu.Unlock()
	if pending != nil {
		<-pending
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	img, at := o.pre.image, o.pre.at
	o.resetPrecaptureLocked()
	if img == "" {
		return "", false
	}
	if age := o.now().Sub(at); age >= o.opts.PrecaptureMaxAge {
		o.log.Debug("pre-capture stale", "age", age)
		return "", false
	}
	return img, true
}

func (o *Orchestrator) clearPrecapture() {
	o.mu.Lock()
	o.resetPrecaptureLocked()
	o.mu.Unlock()
}

// resetPrecaptureLocked empties the buffer and orphans any in-flight Buffer
// call so its result is discarded.
func (o *Orchestrator) resetPrecaptureLocked() {
	o.pre = precapture{gen: o.pre.gen + 1}
}
