package report

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxImageWidth is the widest an embedded image may be displayed, in pixels.
const MaxImageWidth = 13780

var (
	ErrNotImage   = errors.New("not an image")
	ErrBadDataURI = errors.New("malformed data uri")
)

// Image is a decoded, embeddable raster.
type Image struct {
	MIME   string
	Data   []byte
	Width  int
	Height int
}

// DataURI renders the image bytes as a base64 data: URI.
func (img Image) DataURI() string {
	return "data:" + img.MIME + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// IsDataImage reports whether src is an inline data:image/ URI.
func IsDataImage(src string) bool {
	return strings.HasPrefix(strings.TrimSpace(src), "data:image/")
}

// DecodeDataURI extracts the payload after "base64,". Padded encoding is
// tried first, then unpadded.
func DecodeDataURI(src string) ([]byte, error) {
	src = strings.TrimSpace(src)
	idx := strings.Index(src, "base64,")
	if !IsDataImage(src) || idx < 0 {
		return nil, ErrBadDataURI
	}
	payload := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, src[idx+len("base64,"):])
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDataURI, err)
	}
	return data, nil
}

// DecodeImage sniffs the content type and reads the image header to get its
// pixel size. Only png, jpeg and gif are accepted.
func DecodeImage(data []byte) (Image, error) {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return Image{}, fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Image{}, fmt.Errorf("%w: empty image", ErrNotImage)
	}
	return Image{MIME: mt.String(), Data: data, Width: cfg.Width, Height: cfg.Height}, nil
}

// ScaleDimensions returns the display size of a w×h image. cssW and cssH are
// the requested size, -1 when unset. A width above MaxImageWidth is clamped
// and the height scaled by the same ratio, rounded half-up to two decimals and
// then truncated.
func ScaleDimensions(w, h, cssW, cssH int) (int, int) {
	width, height, _ := scaleDimensions(w, h, cssW, cssH)
	return width, height
}

// scaleDimensions also reports whether the width was clamped.
func scaleDimensions(w, h, cssW, cssH int) (int, int, bool) {
	width, height := w, h
	if cssW > 0 {
		width = cssW
	}
	if cssH > 0 {
		height = cssH
	}
	if width > MaxImageWidth {
		return MaxImageWidth, scaleHeight(width, height), true
	}
	switch {
	case cssW > 0 && cssH <= 0 && w > 0:
		height = int((int64(h)*int64(cssW)*2 + int64(w)) / (int64(w) * 2))
	case cssH > 0 && cssW <= 0 && h > 0:
		width = int((int64(w)*int64(cssH)*2 + int64(h)) / (int64(h) * 2))
		if width > MaxImageWidth {
			return MaxImageWidth, scaleHeight(width, height), true
		}
	}
	return width, height, false
}

func scaleHeight(width, height int) int {
	w := int64(width)
	hundredths := (int64(height)*MaxImageWidth*200 + w) / (w * 2)
	return int(hundredths / 100)
}
