package media

import (
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"
)

// Anchor places a watermark relative to a corner of the surface.
type Anchor string

// Anchors supported by the legacy position option.
const (
	AnchorNone        Anchor = ""
	AnchorTopLeft     Anchor = "top-left"
	AnchorTopRight    Anchor = "top-right"
	AnchorBottomLeft  Anchor = "bottom-left"
	AnchorBottomRight Anchor = "bottom-right"
)

// MarkKind identifies the watermark variant.
type MarkKind string

// Watermark variants.
const (
	MarkText  MarkKind = "text"
	MarkImage MarkKind = "image"
)

// Watermark is one overlay painted on every frame.
// X and Y are logical pixels from the top-left corner. For text marks Y is the baseline.
type Watermark struct {
	X      float64
	Y      float64
	Anchor Anchor
	Margin float64
	Mark   Mark
}

// Mark is the sealed set of watermark variants: *TextMark or *ImageMark.
type Mark interface {
	Kind() MarkKind
	// extent returns the logical width plus the height above and below the anchor point.
	extent(fonts *fontCache) (width, above, below float64)
	paint(s *Surface, fonts *fontCache, x, y float64)
}

// TextMark paints a line of text.
type TextMark struct {
	Text     string
	FontSize string // as configured, e.g. "20px"
	SizePx   float64
	Color    color.NRGBA
}

// Kind implements Mark.
func (m *TextMark) Kind() MarkKind { return MarkText }

// ImageMark paints a decoded bitmap. Bitmap is populated by the AssetLoader and
// left nil when loading failed, in which case the mark is skipped.
type ImageMark struct {
	URL    string
	Width  float64 // 0 = natural width
	Height float64 // 0 = natural height
	Bitmap image.Image
}

// Kind implements Mark.
func (m *ImageMark) Kind() MarkKind { return MarkImage }

// size returns the logical draw size, falling back to the natural bitmap size.
func (m *ImageMark) size() (float64, float64) {
	w, h := m.Width, m.Height
	if m.Bitmap == nil {
		return w, h
	}
	b := m.Bitmap.Bounds()
	switch {
	case w == 0 && h == 0:
		w, h = float64(b.Dx()), float64(b.Dy())
	case w == 0:
		w = h * float64(b.Dx()) / float64(b.Dy())
	case h == 0:
		h = w * float64(b.Dy()) / float64(b.Dx())
	}
	return w, h
}

func (m *ImageMark) extent(_ *fontCache) (float64, float64, float64) {
	w, h := m.size()
	return w, 0, h
}

func (m *ImageMark) paint(s *Surface, _ *fontCache, x, y float64) {
	if m.Bitmap == nil {
		return
	}
	w, h := m.size()
	s.DrawImage(m.Bitmap, x, y, w, h)
}

func (m *TextMark) extent(fonts *fontCache) (float64, float64, float64) {
	face, err := fonts.face(m.SizePx)
	if err != nil {
		return 0, m.SizePx, 0
	}
	w, ascent, descent := measureText(face, m.Text)
	return w, ascent, descent
}

func (m *TextMark) paint(s *Surface, fonts *fontCache, x, y float64) {
	dpr := s.DevicePixelRatio()
	face, err := fonts.face(m.SizePx * dpr)
	if err != nil {
		return
	}
	// Text is rasterized in device pixels so glyphs stay sharp at high DPR.
	s.Scale(1/dpr, 1/dpr)
	s.FillText(m.Text, face, m.Color, x*dpr, y*dpr)
}

// placement resolves the logical paint position of a watermark on a surface.
func (w Watermark) placement(fonts *fontCache, width, height float64) (float64, float64) {
	if w.Anchor == AnchorNone {
		return w.X, w.Y
	}
	mw, above, below := w.Mark.extent(fonts)

	var x, y float64
	switch w.Anchor {
	case AnchorTopLeft, AnchorBottomLeft:
		x = w.Margin
	default:
		x = width - w.Margin - mw
	}
	switch w.Anchor {
	case AnchorTopLeft, AnchorTopRight:
		y = w.Margin + above
	default:
		y = height - w.Margin - below
	}
	return x, y
}

// ParseFontSize converts a CSS-like font size into pixels.
// Accepts plain numbers and the px, pt, em, rem and % units.
func ParseFontSize(v string) (float64, error) {
	s := strings.TrimSpace(strings.ToLower(v))
	if s == "" {
		return 0, configError("empty font size")
	}

	units := []struct {
		suffix string
		factor float64
	}{
		{"rem", 16},
		{"px", 1},
		{"pt", 4.0 / 3.0},
		{"em", 16},
		{"%", 0.16},
	}

	factor := 1.0
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			factor = u.factor
			break
		}
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, configError("invalid font size %q", v)
	}
	return n * factor, nil
}
