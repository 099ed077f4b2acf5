package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/stepsnap/stepsnap/internal/imaging"
	"github.com/stepsnap/stepsnap/internal/session"
)

const captureTimeout = 15 * time.Second

// Capturer screenshots the visible area of a tab and delegates resizing to
// an imaging.Processor.
type Capturer struct {
	tabs *Tabs
	proc *imaging.Processor
}

func NewCapturer(tabs *Tabs, proc *imaging.Processor) *Capturer {
	return &Capturer{tabs: tabs, proc: proc}
}

func (c *Capturer) CaptureVisible(ctx context.Context, tabID int) (string, error) {
	page, err := c.tabs.Page(tabID)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	data, err := page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return "", fmt.Errorf("browser: screenshot tab %d: %w", tabID, err)
	}
	return imaging.EncodeDataURL(imaging.MimePNG, data), nil
}

func (c *Capturer) Resize(ctx context.Context, img string, maxWidth int) (string, error) {
	return c.proc.Resize(ctx, img, maxWidth)
}

func (c *Capturer) Thumbnail(ctx context.Context, img string, width, quality int) (string, error) {
	return c.proc.Thumbnail(ctx, img, width, quality)
}

// Surface talks to the overlay script installed in each tab.
type Surface struct {
	tabs *Tabs
}

func NewSurface(tabs *Tabs) *Surface {
	return &Surface{tabs: tabs}
}

func (s *Surface) eval(ctx context.Context, tabID int, js string, args ...any) (*proto.RuntimeRemoteObject, error) {
	page, err := s.tabs.Page(tabID)
	if err != nil {
		return nil, err
	}
	return page.Context(ctx).Eval(js, args...)
}

func (s *Surface) HideOverlay(ctx context.Context, tabID int) error {
	_, err := s.eval(ctx, tabID, `() => window.__stepsnap && window.__stepsnap.hide()`)
	return err
}

func (s *Surface) ShowOverlay(ctx context.Context, tabID int) error {
	_, err := s.eval(ctx, tabID, `() => window.__stepsnap && window.__stepsnap.show()`)
	return err
}

func (s *Surface) RestoreOverlay(ctx context.Context, tabID, stepCount int, pos *session.ToolbarPosition) error {
	_, err := s.eval(ctx, tabID, `(count, pos) => window.__stepsnap && window.__stepsnap.restore(count, pos)`, stepCount, pos)
	return err
}

// Reinject installs the overlay into the current document. It is a no-op
// when the overlay is already there.
func (s *Surface) Reinject(ctx context.Context, tabID int) error {
	_, err := s.eval(ctx, tabID, overlayJS)
	return err
}

func (s *Surface) Settled(ctx context.Context, tabID int, quiet time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		_, err := s.eval(ctx, tabID,
			`(quiet) => window.__stepsnap ? window.__stepsnap.settled(quiet) : true`,
			quiet.Milliseconds())
		if err == nil {
			close(ch)
		}
	}()
	return ch
}
