package pipeline

import (
	"context"
	"time"

	"github.com/stepsnap/stepsnap/internal/session"
)

// Capturer produces screenshots of a tab and derives the working image and
// thumbnail from them. Images are data URLs.
type Capturer interface {
	CaptureVisible(ctx context.Context, tabID int) (string, error)
	Resize(ctx context.Context, img string, maxWidth int) (string, error)
	Thumbnail(ctx context.Context, img string, width, quality int) (string, error)
}

// Surface is the content-side presence in a tab: the in-page overlay and
// the script that reports interactions.
type Surface interface {
	HideOverlay(ctx context.Context, tabID int) error
	ShowOverlay(ctx context.Context, tabID int) error
	RestoreOverlay(ctx context.Context, tabID, stepCount int, pos *session.ToolbarPosition) error
	Reinject(ctx context.Context, tabID int) error
	// Settled returns a channel that is closed once the page has gone quiet
	// for the given duration. It may never close.
	Settled(ctx context.Context, tabID int, quiet time.Duration) <-chan struct{}
}

// Persister is the durable side of the session store.
type Persister interface {
	Save(ctx context.Context, s *session.CaptureSession) error
	// Restore returns nil, nil when nothing is stored.
	Restore(ctx context.Context) (*session.CaptureSession, error)
	Purge(ctx context.Context) error
}

type nopSurface struct{}

func (nopSurface) HideOverlay(context.Context, int) error { return nil }
func (nopSurface) ShowOverlay(context.Context, int) error { return nil }
func (nopSurface) RestoreOverlay(context.Context, int, int, *session.ToolbarPosition) error {
	return nil
}
func (nopSurface) Reinject(context.Context, int) error { return nil }
func (nopSurface) Settled(context.Context, int, time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type nopPersister struct{}

func (nopPersister) Save(context.Context, *session.CaptureSession) error { return nil }
func (nopPersister) Restore(context.Context) (*session.CaptureSession, error) {
	return nil, nil
}
func (nopPersister) Purge(context.Context) error { return nil }
