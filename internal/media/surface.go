package media

import (
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
)

var identity = f64.Aff3{1, 0, 0, 0, 1, 0}

// Surface is an off-screen raster with a 2D transform stack.
// Coordinates passed to drawing calls are logical pixels mapped through the
// current transform, which starts as a uniform scale by the device pixel ratio.
type Surface struct {
	img    *image.RGBA
	width  float64
	height float64
	dpr    float64
	ctm    f64.Aff3
	stack  []f64.Aff3
	interp xdraw.Interpolator
}

// NewSurface allocates a surface of width x height logical pixels backed by
// width*dpr x height*dpr physical pixels.
func NewSurface(width, height, dpr float64) *Surface {
	if dpr <= 0 {
		dpr = 1
	}
	pw := int(math.Ceil(width * dpr))
	ph := int(math.Ceil(height * dpr))
	return &Surface{
		img:    image.NewRGBA(image.Rect(0, 0, pw, ph)),
		width:  width,
		height: height,
		dpr:    dpr,
		ctm:    f64.Aff3{dpr, 0, 0, 0, dpr, 0},
		interp: xdraw.ApproxBiLinear,
	}
}

// Size returns the logical size.
func (s *Surface) Size() (float64, float64) { return s.width, s.height }

// DevicePixelRatio returns the physical pixels per logical pixel.
func (s *Surface) DevicePixelRatio() float64 { return s.dpr }

// Bounds returns the physical pixel bounds.
func (s *Surface) Bounds() image.Rectangle { return s.img.Rect }

// Transform returns the current transform.
func (s *Surface) Transform() f64.Aff3 { return s.ctm }

// Save pushes the current transform.
func (s *Surface) Save() {
	s.stack = append(s.stack, s.ctm)
}

// Restore pops the last saved transform. Unbalanced calls are ignored.
func (s *Surface) Restore() {
	if len(s.stack) == 0 {
		return
	}
	s.ctm = s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
}

// Translate moves the origin by (tx, ty) in current coordinates.
func (s *Surface) Translate(tx, ty float64) {
	s.ctm = mul(s.ctm, f64.Aff3{1, 0, tx, 0, 1, ty})
}

// Scale scales subsequent drawing by (sx, sy). A negative factor mirrors.
func (s *Surface) Scale(sx, sy float64) {
	s.ctm = mul(s.ctm, f64.Aff3{sx, 0, 0, 0, sy, 0})
}

// Clear resets every pixel to transparent black.
func (s *Surface) Clear() {
	clear(s.img.Pix)
}

// DrawImage paints src scaled into the rectangle (x, y, w, h) in current coordinates.
func (s *Surface) DrawImage(src image.Image, x, y, w, h float64) {
	sr := src.Bounds()
	if sr.Empty() || w == 0 || h == 0 {
		return
	}
	kx := w / float64(sr.Dx())
	ky := h / float64(sr.Dy())
	local := f64.Aff3{
		kx, 0, x - float64(sr.Min.X)*kx,
		0, ky, y - float64(sr.Min.Y)*ky,
	}
	s.interp.Transform(s.img, mul(s.ctm, local), src, sr, xdraw.Over, nil)
}

// FillText draws text with its baseline origin at (x, y) in current coordinates.
// Glyphs are rasterized by the face as is, only the origin is transformed.
func (s *Surface) FillText(text string, face font.Face, c color.Color, x, y float64) {
	dx, dy := apply(s.ctm, x, y)
	d := font.Drawer{
		Dst:  s.img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.Int26_6(math.Round(dx * 64)), Y: fixed.Int26_6(math.Round(dy * 64))},
	}
	d.DrawString(text)
}

// Snapshot copies the physical pixels into a new image of equal size.
func (s *Surface) Snapshot() *image.RGBA {
	out := image.NewRGBA(s.img.Rect)
	copy(out.Pix, s.img.Pix)
	return out
}

// CopyTo copies the physical pixels into dst when sizes match, reporting success.
func (s *Surface) CopyTo(dst *image.RGBA) bool {
	if dst == nil || dst.Rect != s.img.Rect {
		return false
	}
	copy(dst.Pix, s.img.Pix)
	return true
}

// mul returns a·b, the transform applying b first.
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3],
		a[0]*b[1] + a[1]*b[4],
		a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3],
		a[3]*b[1] + a[4]*b[4],
		a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

func apply(m f64.Aff3, x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}
