package media

import (
	"errors"
	"image/color"
	"testing"
	"time"
)

func TestResolveDefaults(t *testing.T) {
	cfg, err := Resolve(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.FacingMode != FacingEnvironment {
		t.Errorf("FacingMode = %q, want environment", cfg.FacingMode)
	}
	if cfg.Audio || cfg.Mirror {
		t.Errorf("Audio/Mirror = %v/%v, want false/false", cfg.Audio, cfg.Mirror)
	}
	if !cfg.AudioOpts.EchoCancellation || !cfg.AudioOpts.NoiseSuppression || !cfg.AudioOpts.AutoGainControl {
		t.Errorf("AudioOpts = %+v, want all enabled", cfg.AudioOpts)
	}
	if cfg.RecordLimit != 0 {
		t.Errorf("RecordLimit = %v, want unlimited", cfg.RecordLimit)
	}
	if cons := cfg.Constraints(); cons.Audio != nil {
		t.Error("Constraints().Audio should be nil when audio is off")
	}
}

func TestResolveOverrides(t *testing.T) {
	cfg, err := Resolve(DefaultConfig(), map[string]any{
		"facingMode":  "user",
		"isAudio":     true,
		"isMirror":    "true",
		"audio":       map[string]any{"noiseSuppression": false},
		"frameRate":   int64(15),
		"recordLimit": "30s",
		"recordTick":  500,
		"unknownKey":  42,
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if cfg.FacingMode != FacingUser {
		t.Errorf("FacingMode = %q, want user", cfg.FacingMode)
	}
	if !cfg.Audio || !cfg.Mirror {
		t.Errorf("Audio/Mirror = %v/%v, want true/true", cfg.Audio, cfg.Mirror)
	}
	if cfg.AudioOpts.NoiseSuppression || !cfg.AudioOpts.EchoCancellation {
		t.Errorf("AudioOpts = %+v, want only noise suppression disabled", cfg.AudioOpts)
	}
	if cfg.FrameRate != 15 {
		t.Errorf("FrameRate = %v, want 15", cfg.FrameRate)
	}
	if cfg.RecordLimit != 30*time.Second {
		t.Errorf("RecordLimit = %v, want 30s", cfg.RecordLimit)
	}
	if cfg.RecordTick != 500*time.Millisecond {
		t.Errorf("RecordTick = %v, want 500ms", cfg.RecordTick)
	}

	cons := cfg.Constraints()
	if cons.FacingMode != FacingUser || cons.Audio == nil || cons.Audio.NoiseSuppression {
		t.Errorf("Constraints() = %+v, want user facing with audio options", cons)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name string
		user map[string]any
	}{
		{"bad facing mode", map[string]any{"facingMode": "sideways"}},
		{"facing mode not a string", map[string]any{"facingMode": 1}},
		{"bad boolean", map[string]any{"isAudio": "maybe"}},
		{"audio not an object", map[string]any{"audio": true}},
		{"zero frame rate", map[string]any{"frameRate": 0}},
		{"negative limit", map[string]any{"recordLimit": -5}},
		{"bad limit", map[string]any{"recordLimit": "soon"}},
		{"bad watermark", map[string]any{"watermark": 12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(DefaultConfig(), tt.user)
			if !errors.Is(err, ErrConfig) {
				t.Errorf("Resolve() error = %v, want a config error", err)
			}
		})
	}
}

func TestResolveDoesNotShareDefaultWatermarks(t *testing.T) {
	defaults := DefaultConfig()
	defaults.Watermarks = []Watermark{{X: 1, Mark: &TextMark{Text: "a"}}}

	cfg, err := Resolve(defaults, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Watermarks[0].X = 99
	if defaults.Watermarks[0].X != 1 {
		t.Error("resolved config aliases the default watermark slice")
	}
}

func TestParseWatermarksString(t *testing.T) {
	wms, err := ParseWatermarks("hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(wms) != 1 {
		t.Fatalf("got %d watermarks, want 1", len(wms))
	}
	tm, ok := wms[0].Mark.(*TextMark)
	if !ok {
		t.Fatalf("mark = %T, want *TextMark", wms[0].Mark)
	}
	if tm.Text != "hello" || tm.FontSize != DefaultFontSize {
		t.Errorf("text mark = %+v", tm)
	}
	if want := (color.NRGBA{255, 255, 255, 128}); !nearNRGBA(tm.Color, want) {
		t.Errorf("Color = %v, want %v", tm.Color, want)
	}
	if wms[0].Anchor != AnchorBottomRight || wms[0].Margin != DefaultMargin {
		t.Errorf("anchor = %q margin = %v, want bottom-right 10", wms[0].Anchor, wms[0].Margin)
	}
}

func TestParseWatermarksList(t *testing.T) {
	wms, err := ParseWatermarks([]any{
		map[string]any{
			"text": map[string]any{"text": "top", "fontSize": "2rem", "color": "red"},
			"x":    5,
			"y":    float64(40),
		},
		map[string]any{
			"img":      map[string]any{"url": "logo.png", "width": 64},
			"position": "top-left",
			"margin":   4,
		},
		"plain",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(wms) != 3 {
		t.Fatalf("got %d watermarks, want 3", len(wms))
	}

	tm := wms[0].Mark.(*TextMark)
	if wms[0].Anchor != AnchorNone || wms[0].X != 5 || wms[0].Y != 40 {
		t.Errorf("first = %+v, want explicit (5,40)", wms[0])
	}
	if tm.FontSize != "2rem" || tm.Color != (color.NRGBA{255, 0, 0, 255}) {
		t.Errorf("text mark = %+v", tm)
	}

	im := wms[1].Mark.(*ImageMark)
	if im.URL != "logo.png" || im.Width != 64 || im.Height != 0 {
		t.Errorf("image mark = %+v", im)
	}
	if wms[1].Anchor != AnchorTopLeft || wms[1].Margin != 4 {
		t.Errorf("second anchor = %q margin = %v", wms[1].Anchor, wms[1].Margin)
	}

	if wms[2].Mark.Kind() != MarkText {
		t.Errorf("third kind = %q, want text", wms[2].Mark.Kind())
	}
}

func TestParseWatermarksAnchoredStructured(t *testing.T) {
	tests := []struct {
		name   string
		input  map[string]any
		kind   MarkKind
		anchor Anchor
		margin float64
	}{
		{
			name:   "text with position",
			input:  map[string]any{"text": map[string]any{"text": "hi"}, "position": "top-left"},
			kind:   MarkText,
			anchor: AnchorTopLeft,
			margin: DefaultMargin,
		},
		{
			name:   "img with position and margin",
			input:  map[string]any{"img": map[string]any{"url": "logo.png"}, "position": "bottom-right", "margin": 8},
			kind:   MarkImage,
			anchor: AnchorBottomRight,
			margin: 8,
		},
		{
			name:   "img next to a flat image key",
			input:  map[string]any{"img": map[string]any{"url": "a.png"}, "image": "ignored.png", "position": "top-right"},
			kind:   MarkImage,
			anchor: AnchorTopRight,
			margin: DefaultMargin,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wms, err := ParseWatermarks(tt.input)
			if err != nil {
				t.Fatalf("ParseWatermarks() error = %v", err)
			}
			if len(wms) != 1 {
				t.Fatalf("got %d watermarks, want 1", len(wms))
			}
			wm := wms[0]
			if wm.Mark.Kind() != tt.kind || wm.Anchor != tt.anchor || wm.Margin != tt.margin {
				t.Errorf("got kind=%q anchor=%q margin=%v, want %q %q %v",
					wm.Mark.Kind(), wm.Anchor, wm.Margin, tt.kind, tt.anchor, tt.margin)
			}
		})
	}
}

func TestParseWatermarksLegacy(t *testing.T) {
	wms, err := ParseWatermarks(map[string]any{
		"text":     "legacy",
		"image":    "https://example.com/logo.png",
		"position": "top-right",
		"fontSize": 18,
		"margin":   "12",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(wms) != 2 {
		t.Fatalf("got %d watermarks, want text then image", len(wms))
	}
	if wms[0].Mark.Kind() != MarkText || wms[1].Mark.Kind() != MarkImage {
		t.Errorf("kinds = %q, %q", wms[0].Mark.Kind(), wms[1].Mark.Kind())
	}
	for i, wm := range wms {
		if wm.Anchor != AnchorTopRight || wm.Margin != 12 {
			t.Errorf("watermark[%d] anchor = %q margin = %v", i, wm.Anchor, wm.Margin)
		}
	}
	if fs := wms[0].Mark.(*TextMark).FontSize; fs != "18px" {
		t.Errorf("FontSize = %q, want 18px", fs)
	}
}

func TestParseWatermarksTypedList(t *testing.T) {
	wms, err := ParseWatermarks([]map[string]any{
		{"text": map[string]any{"text": "a"}},
		{"text": map[string]any{"text": "b"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(wms) != 2 {
		t.Errorf("got %d watermarks, want 2", len(wms))
	}
}

func TestParseWatermarksErrors(t *testing.T) {
	tests := []struct {
		name string
		in   any
	}{
		{"both text and img", map[string]any{
			"text": map[string]any{"text": "a"},
			"img":  map[string]any{"url": "b.png"},
		}},
		{"neither text nor img", map[string]any{"x": 1}},
		{"empty text", ""},
		{"img without url", map[string]any{"img": map[string]any{"width": 10}}},
		{"invalid color", map[string]any{"text": map[string]any{"text": "a", "color": "not-a-color"}}},
		{"invalid position", map[string]any{"text": map[string]any{"text": "a"}, "position": "middle"}},
		{"position without content", map[string]any{"position": "top-left"}},
		{"bad list item", []any{"ok", 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseWatermarks(tt.in); !errors.Is(err, ErrConfig) {
				t.Errorf("ParseWatermarks() error = %v, want a config error", err)
			}
		})
	}
}

func TestParseFontSize(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"20px", 20, false},
		{"20", 20, false},
		{"1.5rem", 24, false},
		{"2em", 32, false},
		{"12pt", 16, false},
		{"100%", 16, false},
		{" 14 PX ", 14, false},
		{"", 0, true},
		{"0px", 0, true},
		{"-3px", 0, true},
		{"big", 0, true},
		{"NaN", 0, true},
		{"inf", 0, true},
		{"Infpx", 0, true},
		{"-infrem", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFontSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFontSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("ParseFontSize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{"#ff0000", color.NRGBA{255, 0, 0, 255}, false},
		{"white", color.NRGBA{255, 255, 255, 255}, false},
		{"rgba(0, 0, 255, 0.5)", color.NRGBA{0, 0, 255, 128}, false},
		{"nope", color.NRGBA{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseColor(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !nearNRGBA(got, tt.want) {
				t.Errorf("ParseColor(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestWatermarkPlacement(t *testing.T) {
	mark := &ImageMark{URL: "x", Bitmap: solidImage(20, 10, blue)}
	fonts := newFontCache()
	defer fonts.close()

	tests := []struct {
		anchor Anchor
		wantX  float64
		wantY  float64
	}{
		{AnchorTopLeft, 10, 10},
		{AnchorTopRight, 170, 10},
		{AnchorBottomLeft, 10, 80},
		{AnchorBottomRight, 170, 80},
	}

	for _, tt := range tests {
		t.Run(string(tt.anchor), func(t *testing.T) {
			wm := Watermark{Anchor: tt.anchor, Margin: 10, Mark: mark}
			x, y := wm.placement(fonts, 200, 100)
			if x != tt.wantX || y != tt.wantY {
				t.Errorf("placement() = (%v,%v), want (%v,%v)", x, y, tt.wantX, tt.wantY)
			}
		})
	}

	t.Run("explicit", func(t *testing.T) {
		wm := Watermark{X: 3, Y: 4, Mark: mark}
		if x, y := wm.placement(fonts, 200, 100); x != 3 || y != 4 {
			t.Errorf("placement() = (%v,%v), want (3,4)", x, y)
		}
	})
}

func TestImageMarkSizeKeepsAspect(t *testing.T) {
	bmp := solidImage(40, 20, blue)
	tests := []struct {
		name         string
		w, h         float64
		wantW, wantH float64
	}{
		{"natural", 0, 0, 40, 20},
		{"width only", 80, 0, 80, 40},
		{"height only", 0, 10, 20, 10},
		{"both", 10, 10, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &ImageMark{Width: tt.w, Height: tt.h, Bitmap: bmp}
			if w, h := m.size(); w != tt.wantW || h != tt.wantH {
				t.Errorf("size() = %vx%v, want %vx%v", w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestFacingModeOpposite(t *testing.T) {
	if FacingUser.Opposite() != FacingEnvironment || FacingEnvironment.Opposite() != FacingUser {
		t.Error("Opposite() does not swap user and environment")
	}
}

// nearNRGBA tolerates the off-by-one of fractional alpha rounding.
func nearNRGBA(a, b color.NRGBA) bool {
	d := func(x, y uint8) bool { return int(x)-int(y) <= 1 && int(y)-int(x) <= 1 }
	return d(a.R, b.R) && d(a.G, b.G) && d(a.B, b.B) && d(a.A, b.A)
}
