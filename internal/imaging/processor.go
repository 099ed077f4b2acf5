package imaging

import (
	"context"
	"image"

	"golang.org/x/image/draw"
)

// Processor resizes screenshots and derives thumbnails. It is stateless and
// safe for concurrent use.
type Processor struct {
	scaler draw.Scaler
}

func NewProcessor() *Processor {
	return &Processor{scaler: draw.CatmullRom}
}

// Resize scales src down to at most maxWidth pixels wide, keeping the aspect
// ratio. Narrower images are returned unchanged.
func (p *Processor) Resize(ctx context.Context, src string, maxWidth int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	img, err := Decode(src)
	if err != nil {
		return "", err
	}
	if maxWidth <= 0 || img.Bounds().Dx() <= maxWidth {
		return src, nil
	}
	return EncodePNG(p.scale(img, maxWidth))
}

// Thumbnail scales src to width pixels (never upscaling) and encodes it as
// JPEG at quality.
func (p *Processor) Thumbnail(ctx context.Context, src string, width, quality int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	img, err := Decode(src)
	if err != nil {
		return "", err
	}
	if width > 0 && img.Bounds().Dx() > width {
		img = p.scale(img, width)
	}
	return EncodeJPEG(img, quality)
}

func (p *Processor) scale(img image.Image, width int) image.Image {
	b := img.Bounds()
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	p.scaler.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
