package media

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
	"time"

	"github.com/mazznoer/csscolorparser"
)

// Watermark defaults.
const (
	DefaultFontSize = "20px"
	DefaultColor    = "rgba(255, 255, 255, 0.5)"
	DefaultMargin   = 10.0
	DefaultAnchor   = AnchorBottomRight
)

// Config is the fully resolved set of camera options.
type Config struct {
	FacingMode  FacingMode
	Audio       bool
	AudioOpts   AudioConstraints
	Mirror      bool
	Watermarks  []Watermark
	FrameRate   float64
	RecordLimit time.Duration // 0 = unlimited
	RecordTick  time.Duration
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		FacingMode: FacingEnvironment,
		AudioOpts: AudioConstraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
		FrameRate:  30,
		RecordTick: time.Second,
	}
}

// Constraints derives acquisition constraints from the config.
func (c Config) Constraints() Constraints {
	cons := Constraints{FacingMode: c.FacingMode}
	if c.Audio {
		a := c.AudioOpts
		cons.Audio = &a
	}
	return cons
}

// Resolve merges user supplied options over defaults. Unknown keys are ignored.
// Values may come from JSON or TOML so numbers are accepted as any numeric type.
func Resolve(defaults Config, user map[string]any) (Config, error) {
	cfg := defaults
	cfg.Watermarks = append([]Watermark(nil), defaults.Watermarks...)

	if v, ok := user["facingMode"]; ok {
		s, ok := v.(string)
		if !ok {
			return Config{}, configError("facingMode must be a string")
		}
		fm, err := ParseFacingMode(s)
		if err != nil {
			return Config{}, err
		}
		cfg.FacingMode = fm
	}

	if v, ok := user["isAudio"]; ok {
		b, err := toBool("isAudio", v)
		if err != nil {
			return Config{}, err
		}
		cfg.Audio = b
	}

	if v, ok := user["isMirror"]; ok {
		b, err := toBool("isMirror", v)
		if err != nil {
			return Config{}, err
		}
		cfg.Mirror = b
	}

	if v, ok := user["audio"]; ok {
		m, ok := v.(map[string]any)
		if !ok {
			return Config{}, configError("audio must be an object")
		}
		for key, dst := range map[string]*bool{
			"echoCancellation": &cfg.AudioOpts.EchoCancellation,
			"noiseSuppression": &cfg.AudioOpts.NoiseSuppression,
			"autoGainControl":  &cfg.AudioOpts.AutoGainControl,
		} {
			if raw, ok := m[key]; ok {
				b, err := toBool("audio."+key, raw)
				if err != nil {
					return Config{}, err
				}
				*dst = b
			}
		}
	}

	if v, ok := user["frameRate"]; ok {
		f, err := toFloat("frameRate", v)
		if err != nil {
			return Config{}, err
		}
		if f <= 0 {
			return Config{}, configError("frameRate must be positive")
		}
		cfg.FrameRate = f
	}

	if v, ok := user["recordLimit"]; ok {
		d, err := toDuration("recordLimit", v)
		if err != nil {
			return Config{}, err
		}
		cfg.RecordLimit = d
	}

	if v, ok := user["recordTick"]; ok {
		d, err := toDuration("recordTick", v)
		if err != nil {
			return Config{}, err
		}
		if d <= 0 {
			return Config{}, configError("recordTick must be positive")
		}
		cfg.RecordTick = d
	}

	if v, ok := user["watermark"]; ok {
		marks, err := ParseWatermarks(v)
		if err != nil {
			return Config{}, err
		}
		cfg.Watermarks = marks
	}

	return cfg, nil
}

// ParseWatermarks normalizes every accepted watermark form into a list:
// a plain string, a single descriptor, a list of descriptors or strings,
// and the legacy flat {text, image, position, color, fontSize, margin} object.
func ParseWatermarks(v any) ([]Watermark, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		wm, err := textWatermark(map[string]any{"text": val}, nil)
		if err != nil {
			return nil, err
		}
		return []Watermark{wm}, nil
	case map[string]any:
		if isLegacyWatermark(val) {
			return parseLegacyWatermark(val)
		}
		wm, err := parseWatermark(val)
		if err != nil {
			return nil, err
		}
		return []Watermark{wm}, nil
	case []map[string]any:
		items := make([]any, len(val))
		for i := range val {
			items[i] = val[i]
		}
		return ParseWatermarks(items)
	case []any:
		out := make([]Watermark, 0, len(val))
		for i, item := range val {
			marks, err := ParseWatermarks(item)
			if err != nil {
				return nil, fmt.Errorf("watermark[%d]: %w", i, err)
			}
			out = append(out, marks...)
		}
		return out, nil
	default:
		return nil, configError("unsupported watermark value of type %T", v)
	}
}

// isLegacyWatermark reports whether m is the flat {text, image, position}
// form. A position alone does not make it legacy: structured marks anchor
// with it too.
func isLegacyWatermark(m map[string]any) bool {
	if _, ok := m["img"]; ok {
		return false
	}
	if _, ok := m["text"].(map[string]any); ok {
		return false
	}
	if _, ok := m["image"]; ok {
		return true
	}
	_, isString := m["text"].(string)
	return isString
}

// parseLegacyWatermark expands the flat object into up to two anchored marks,
// text first so the image paints above it.
func parseLegacyWatermark(m map[string]any) ([]Watermark, error) {
	anchor := DefaultAnchor
	if v, ok := m["position"]; ok {
		s, _ := v.(string)
		a, err := ParseAnchor(s)
		if err != nil {
			return nil, err
		}
		anchor = a
	}

	margin := DefaultMargin
	if v, ok := m["margin"]; ok {
		f, err := toFloat("margin", v)
		if err != nil {
			return nil, err
		}
		margin = f
	}

	var out []Watermark
	if text, ok := m["text"].(string); ok && text != "" {
		wm, err := textWatermark(map[string]any{
			"text":     text,
			"fontSize": m["fontSize"],
			"color":    m["color"],
		}, nil)
		if err != nil {
			return nil, err
		}
		wm.Anchor, wm.Margin = anchor, margin
		out = append(out, wm)
	}
	if img, ok := m["image"].(string); ok && img != "" {
		wm := Watermark{Anchor: anchor, Margin: margin, Mark: &ImageMark{URL: img}}
		out = append(out, wm)
	}
	if len(out) == 0 {
		return nil, configError("watermark needs text or image")
	}
	return out, nil
}

func parseWatermark(m map[string]any) (Watermark, error) {
	text, hasText := m["text"]
	img, hasImg := m["img"]
	if hasText && text == nil {
		hasText = false
	}
	if hasImg && img == nil {
		hasImg = false
	}
	if hasText == hasImg {
		return Watermark{}, configError("watermark must have exactly one of text or img")
	}

	var wm Watermark
	var err error
	if hasText {
		tm, ok := text.(map[string]any)
		if !ok {
			return Watermark{}, configError("watermark text must be an object")
		}
		wm, err = textWatermark(tm, m)
	} else {
		im, ok := img.(map[string]any)
		if !ok {
			return Watermark{}, configError("watermark img must be an object")
		}
		wm, err = imageWatermark(im, m)
	}
	if err != nil {
		return Watermark{}, err
	}
	return wm, nil
}

// textWatermark builds a text mark. pos holds x/y/position/margin and may be nil.
func textWatermark(m, pos map[string]any) (Watermark, error) {
	text, _ := m["text"].(string)
	if text == "" {
		return Watermark{}, configError("watermark text is empty")
	}

	fontSize := DefaultFontSize
	switch fs := m["fontSize"].(type) {
	case nil:
	case string:
		if fs != "" {
			fontSize = fs
		}
	default:
		f, err := toFloat("fontSize", fs)
		if err != nil {
			return Watermark{}, err
		}
		fontSize = strconv.FormatFloat(f, 'f', -1, 64) + "px"
	}

	colorSpec := DefaultColor
	if c, ok := m["color"].(string); ok && c != "" {
		colorSpec = c
	}
	col, err := ParseColor(colorSpec)
	if err != nil {
		return Watermark{}, err
	}

	wm := Watermark{Mark: &TextMark{Text: text, FontSize: fontSize, Color: col}}
	if pos == nil {
		wm.Anchor, wm.Margin = DefaultAnchor, DefaultMargin
		return wm, nil
	}
	return positioned(wm, pos)
}

func imageWatermark(m, pos map[string]any) (Watermark, error) {
	url, _ := m["url"].(string)
	if url == "" {
		return Watermark{}, configError("watermark img url is empty")
	}
	mark := &ImageMark{URL: url}
	if v, ok := m["width"]; ok {
		f, err := toFloat("img.width", v)
		if err != nil {
			return Watermark{}, err
		}
		mark.Width = f
	}
	if v, ok := m["height"]; ok {
		f, err := toFloat("img.height", v)
		if err != nil {
			return Watermark{}, err
		}
		mark.Height = f
	}
	return positioned(Watermark{Mark: mark}, pos)
}

// positioned applies x/y, or a corner anchor when no explicit coordinates are given.
func positioned(wm Watermark, pos map[string]any) (Watermark, error) {
	_, hasX := pos["x"]
	_, hasY := pos["y"]

	if hasX || hasY {
		if hasX {
			x, err := toFloat("x", pos["x"])
			if err != nil {
				return Watermark{}, err
			}
			wm.X = x
		}
		if hasY {
			y, err := toFloat("y", pos["y"])
			if err != nil {
				return Watermark{}, err
			}
			wm.Y = y
		}
		return wm, nil
	}

	wm.Anchor = DefaultAnchor
	if v, ok := pos["position"]; ok {
		s, _ := v.(string)
		a, err := ParseAnchor(s)
		if err != nil {
			return Watermark{}, err
		}
		wm.Anchor = a
	}
	wm.Margin = DefaultMargin
	if v, ok := pos["margin"]; ok {
		f, err := toFloat("margin", v)
		if err != nil {
			return Watermark{}, err
		}
		wm.Margin = f
	}
	return wm, nil
}

// ParseAnchor validates a corner anchor name.
func ParseAnchor(s string) (Anchor, error) {
	switch a := Anchor(strings.TrimSpace(strings.ToLower(s))); a {
	case AnchorTopLeft, AnchorTopRight, AnchorBottomLeft, AnchorBottomRight:
		return a, nil
	default:
		return AnchorNone, configError("invalid watermark position %q", s)
	}
}

// ParseColor parses any CSS color string.
func ParseColor(s string) (color.NRGBA, error) {
	c, err := csscolorparser.Parse(s)
	if err != nil {
		return color.NRGBA{}, &Error{Code: ErrCodeConfig, Message: fmt.Sprintf("invalid color %q", s), Cause: err}
	}
	r, g, b, a := c.RGBA255()
	return color.NRGBA{R: r, G: g, B: b, A: a}, nil
}

func toBool(name string, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, configError("%s must be a boolean", name)
		}
		return parsed, nil
	default:
		return false, configError("%s must be a boolean", name)
	}
}

func toFloat(name string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, configError("%s must be a number", name)
		}
		return f, nil
	default:
		return 0, configError("%s must be a number", name)
	}
}

// toDuration accepts Go duration strings or a number of milliseconds.
func toDuration(name string, v any) (time.Duration, error) {
	if s, ok := v.(string); ok {
		d, err := time.ParseDuration(s)
		if err == nil {
			if d < 0 {
				return 0, configError("%s must not be negative", name)
			}
			return d, nil
		}
	}
	ms, err := toFloat(name, v)
	if err != nil {
		return 0, configError("%s must be a duration", name)
	}
	if ms < 0 {
		return 0, configError("%s must not be negative", name)
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}
