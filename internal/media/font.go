package media

import (
	"fmt"
	"math"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

var (
	regularOnce sync.Once
	regularFont *sfnt.Font
	regularErr  error
)

func loadRegular() (*sfnt.Font, error) {
	regularOnce.Do(func() {
		regularFont, regularErr = opentype.Parse(goregular.TTF)
	})
	return regularFont, regularErr
}

// fontCache hands out faces keyed by pixel size rounded to 1/4 px.
type fontCache struct {
	mu    sync.Mutex
	faces map[int]font.Face
}

func newFontCache() *fontCache {
	return &fontCache{faces: make(map[int]font.Face)}
}

func (c *fontCache) face(sizePx float64) (font.Face, error) {
	if sizePx <= 0 {
		return nil, fmt.Errorf("invalid font size %v", sizePx)
	}
	key := int(math.Round(sizePx * 4))

	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.faces[key]; ok {
		return f, nil
	}

	ft, err := loadRegular()
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	// 72 DPI makes points equal pixels.
	f, err := opentype.NewFace(ft, &opentype.FaceOptions{
		Size:    float64(key) / 4,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create face: %w", err)
	}
	c.faces[key] = f
	return f, nil
}

func (c *fontCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, f := range c.faces {
		_ = f.Close()
		delete(c.faces, k)
	}
}

// measureText returns the advance width, ascent and descent in pixels.
func measureText(face font.Face, text string) (float64, float64, float64) {
	m := face.Metrics()
	w := font.MeasureString(face, text)
	return float64(w) / 64, float64(m.Ascent) / 64, float64(m.Descent) / 64
}
