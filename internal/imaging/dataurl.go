// Package imaging implements the resize and thumbnail routines behind the
// capture service. Images travel through the system as base64 data URLs, the
// same representation the page and the editor use.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"
)

// ErrInvalidDataURL is returned when a string is not a base64 image data URL.
var ErrInvalidDataURL = errors.New("imaging: invalid data URL")

const (
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
)

// EncodeDataURL wraps raw image bytes in a data URL.
func EncodeDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL splits a base64 data URL into its mime type and payload.
func DecodeDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	mime, enc, _ := strings.Cut(meta, ";")
	if enc != "base64" || !strings.HasPrefix(mime, "image/") {
		return "", nil, ErrInvalidDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return mime, data, nil
}

// Decode parses a data URL into an image.
func Decode(s string) (image.Image, error) {
	_, data, err := DecodeDataURL(s)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode: %w", err)
	}
	return img, nil
}

// EncodePNG renders img as a PNG data URL.
func EncodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("imaging: encode png: %w", err)
	}
	return EncodeDataURL(MimePNG, buf.Bytes()), nil
}

// EncodeJPEG renders img as a JPEG data URL at the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return "", fmt.Errorf("imaging: encode jpeg: %w", err)
	}
	return EncodeDataURL(MimeJPEG, buf.Bytes()), nil
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return jpeg.DefaultQuality
	case q > 100:
		return 100
	default:
		return q
	}
}
