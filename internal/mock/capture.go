package mock

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/stepsnap/stepsnap/internal/imaging"
	"github.com/stepsnap/stepsnap/internal/session"
)

// Capturer renders synthetic "screenshots" so the server can run without a
// browser. Each frame is a flat page with a header bar and a frame label.
type Capturer struct {
	proc   *imaging.Processor
	width  int
	height int

	mu     sync.Mutex
	frames int
}

func NewCapturer(proc *imaging.Processor, width, height int) *Capturer {
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 800
	}
	return &Capturer{proc: proc, width: width, height: height}
}

var palette = []color.RGBA{
	{0x3b, 0x82, 0xf6, 0xff},
	{0x10, 0xb9, 0x81, 0xff},
	{0xf5, 0x9e, 0x0b, 0xff},
	{0xef, 0x44, 0x44, 0xff},
	{0x8b, 0x5c, 0xf6, 0xff},
}

func (c *Capturer) CaptureVisible(ctx context.Context, tabID int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.frames++
	n := c.frames
	c.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{0xf8, 0xfa, 0xfc, 0xff}), image.Point{}, draw.Src)

	header := image.Rect(0, 0, c.width, c.height/10)
	accent := palette[n%len(palette)]
	draw.Draw(img, header, image.NewUniform(accent), image.Point{}, draw.Src)

	// A moving block stands in for the element that was interacted with.
	bw, bh := c.width/5, c.height/8
	x := (n * bw / 2) % (c.width - bw)
	y := c.height/4 + (n*bh)%(c.height/2)
	draw.Draw(img, image.Rect(x, y, x+bw, y+bh), image.NewUniform(accent), image.Point{}, draw.Src)

	label(img, 16, header.Max.Y-16, fmt.Sprintf("tab %d  frame %d  %s", tabID, n, time.Now().Format(time.TimeOnly)))

	return imaging.EncodePNG(img)
}

func label(img *image.RGBA, x, y int, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func (c *Capturer) Resize(ctx context.Context, img string, maxWidth int) (string, error) {
	return c.proc.Resize(ctx, img, maxWidth)
}

func (c *Capturer) Thumbnail(ctx context.Context, img string, width, quality int) (string, error) {
	return c.proc.Thumbnail(ctx, img, width, quality)
}

// Frames reports how many frames have been rendered.
func (c *Capturer) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Surface stands in for the page overlay. Every call succeeds; the page is
// always considered settled.
type Surface struct {
	mu       sync.Mutex
	hidden   bool
	restores int
}

func (s *Surface) HideOverlay(context.Context, int) error {
	s.mu.Lock()
	s.hidden = true
	s.mu.Unlock()
	return nil
}

func (s *Surface) ShowOverlay(context.Context, int) error {
	s.mu.Lock()
	s.hidden = false
	s.mu.Unlock()
	return nil
}

func (s *Surface) RestoreOverlay(context.Context, int, int, *session.ToolbarPosition) error {
	s.mu.Lock()
	s.restores++
	s.mu.Unlock()
	return nil
}

func (s *Surface) Reinject(context.Context, int) error { return nil }

func (s *Surface) Settled(context.Context, int, time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Hidden reports whether the overlay is currently hidden.
func (s *Surface) Hidden() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hidden
}
