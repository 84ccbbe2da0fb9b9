package media

import (
	"image"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/smazurov/markcam/internal/metrics"
)

// CompositorState is the lifecycle state of the frame loop.
type CompositorState int

// Compositor states.
const (
	CompositorIdle CompositorState = iota
	CompositorRunning
	CompositorStopped
)

func (s CompositorState) String() string {
	switch s {
	case CompositorIdle:
		return "idle"
	case CompositorRunning:
		return "running"
	case CompositorStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Fill is the aspect-fill geometry of a source frame on the surface, in logical pixels.
type Fill struct {
	Scale   float64
	Width   float64
	Height  float64
	OffsetX float64
	OffsetY float64
}

// AspectFill scales a vw x vh source to cover a sw x sh surface, centered.
// Offsets are negative on the cropped axis.
func AspectFill(sw, sh, vw, vh float64) Fill {
	if vw <= 0 || vh <= 0 {
		return Fill{}
	}
	scale := math.Max(sw/vw, sh/vh)
	w, h := vw*scale, vh*scale
	return Fill{
		Scale:   scale,
		Width:   w,
		Height:  h,
		OffsetX: (sw - w) / 2,
		OffsetY: (sh - h) / 2,
	}
}

// CompositorOptions configures a Compositor.
type CompositorOptions struct {
	ID               string
	Width            float64
	Height           float64
	DevicePixelRatio float64
	Mirror           bool
	Watermarks       []Watermark
	Scheduler        Scheduler
	Logger           *slog.Logger
}

// Compositor redraws the latest camera frame onto an off-screen surface once
// per scheduler tick, then paints the watermarks above it.
type Compositor struct {
	id     string
	logger *slog.Logger
	sched  Scheduler
	owned  *TickerScheduler
	fonts  *fontCache

	mu             sync.Mutex
	state          CompositorState
	running        bool
	handle         FrameHandle
	surface        *Surface
	frame          *image.RGBA
	mirror         bool
	watermarks     []Watermark
	showWatermarks bool
	frames         uint64
	lastFill       Fill
	feedCancel     func()
	firstFrame     chan struct{}

	fpsWindow time.Time
	fpsCount  int
}

// NewCompositor allocates the surface. The loop starts once Attach delivers a frame.
func NewCompositor(opts CompositorOptions) *Compositor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var owned *TickerScheduler
	sched := opts.Scheduler
	if sched == nil {
		owned = NewTickerScheduler(DefaultFrameInterval)
		sched = owned
	}
	return &Compositor{
		id:             opts.ID,
		logger:         logger,
		sched:          sched,
		owned:          owned,
		fonts:          newFontCache(),
		surface:        NewSurface(opts.Width, opts.Height, opts.DevicePixelRatio),
		mirror:         opts.Mirror,
		watermarks:     append([]Watermark(nil), opts.Watermarks...),
		showWatermarks: true,
		firstFrame:     make(chan struct{}),
	}
}

// Attach feeds frames from a raw video track. The first frame starts the loop.
func (c *Compositor) Attach(track *Track) {
	ch, cancel := track.Subscribe(1)

	c.mu.Lock()
	if c.feedCancel != nil {
		c.feedCancel()
	}
	c.feedCancel = cancel
	c.mu.Unlock()

	go func() {
		for sample := range ch {
			if sample.Image == nil {
				continue
			}
			c.setFrame(sample.Image)
		}
		c.logger.Debug("Camera feed ended", "track", track.ID())
	}()
}

func (c *Compositor) setFrame(img *image.RGBA) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frame = img
	if c.state != CompositorIdle {
		return
	}
	c.state = CompositorRunning
	c.running = true
	c.handle = c.sched.RequestFrame(c.drawFrame)
	b := img.Bounds()
	c.logger.Info("Compositor started", "source_width", b.Dx(), "source_height", b.Dy())
}

func (c *Compositor) drawFrame(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.handle = 0

	// Without a surface or a frame there is nothing to draw and the loop stalls.
	if c.surface == nil || c.frame == nil {
		return
	}

	s := c.surface
	sw, sh := s.Size()
	b := c.frame.Bounds()
	fill := AspectFill(sw, sh, float64(b.Dx()), float64(b.Dy()))
	c.lastFill = fill

	s.Clear()

	s.Save()
	if c.mirror {
		s.Translate(sw, 0)
		s.Scale(-1, 1)
	}
	s.DrawImage(c.frame, fill.OffsetX, fill.OffsetY, fill.Width, fill.Height)
	s.Restore()

	if c.showWatermarks {
		for _, wm := range c.watermarks {
			if wm.Mark == nil {
				continue
			}
			x, y := wm.placement(c.fonts, sw, sh)
			s.Save()
			wm.Mark.paint(s, c.fonts, x, y)
			s.Restore()
		}
	}

	c.frames++
	if c.frames == 1 {
		close(c.firstFrame)
	}
	c.recordMetrics(now)

	c.handle = c.sched.RequestFrame(c.drawFrame)
}

func (c *Compositor) recordMetrics(now time.Time) {
	if c.id == "" {
		return
	}
	metrics.AddCompositedFrame(c.id)

	if c.fpsWindow.IsZero() {
		c.fpsWindow = now
	}
	c.fpsCount++
	if elapsed := now.Sub(c.fpsWindow); elapsed >= time.Second {
		metrics.SetCompositorFPS(c.id, float64(c.fpsCount)/elapsed.Seconds())
		c.fpsWindow = now
		c.fpsCount = 0
	}
}

// Stop ends the loop and cancels the pending frame. Safe to call more than once.
func (c *Compositor) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running = false
	if c.handle != 0 {
		c.sched.CancelFrame(c.handle)
		c.handle = 0
	}
	if c.feedCancel != nil {
		c.feedCancel()
		c.feedCancel = nil
	}
	if c.owned != nil {
		c.owned.Close()
	}
	c.state = CompositorStopped
}

// Release drops the surface and the last frame. Call after Stop.
func (c *Compositor) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.surface = nil
	c.frame = nil
	c.fonts.close()
}

// State returns the loop state.
func (c *Compositor) State() CompositorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Frames returns the number of composited frames.
func (c *Compositor) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// FirstFrame is closed once the first frame was composited.
func (c *Compositor) FirstFrame() <-chan struct{} {
	return c.firstFrame
}

// LastFill returns the geometry used for the latest frame.
func (c *Compositor) LastFill() Fill {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFill
}

// SurfaceBounds returns the physical surface size, empty after Release.
func (c *Compositor) SurfaceBounds() image.Rectangle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.surface == nil {
		return image.Rectangle{}
	}
	return c.surface.Bounds()
}

// Snapshot copies the composited surface. Returns ErrNotInitialized before the first frame.
func (c *Compositor) Snapshot() (*image.RGBA, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.surface == nil || c.frames == 0 {
		return nil, 0, ErrNotInitialized
	}
	return c.surface.Snapshot(), c.frames, nil
}

// SnapshotSince is Snapshot that skips the copy when no frame was composited
// after frame last. It then returns a nil image and last.
func (c *Compositor) SnapshotSince(last uint64) (*image.RGBA, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.surface == nil || c.frames == 0 {
		return nil, 0, ErrNotInitialized
	}
	if c.frames == last {
		return nil, last, nil
	}
	return c.surface.Snapshot(), c.frames, nil
}

// SetMirror toggles horizontal mirroring of the camera image.
func (c *Compositor) SetMirror(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mirror = on
}

// Mirror reports whether mirroring is on.
func (c *Compositor) Mirror() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror
}

// SetWatermarkVisible shows or hides all watermarks.
func (c *Compositor) SetWatermarkVisible(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showWatermarks = on
}

// WatermarkVisible reports whether watermarks are painted.
func (c *Compositor) WatermarkVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.showWatermarks
}

// SetWatermarks replaces the watermark list. Image marks must already be loaded.
func (c *Compositor) SetWatermarks(wms []Watermark) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watermarks = append([]Watermark(nil), wms...)
}

// Watermarks returns a copy of the current watermark list.
func (c *Compositor) Watermarks() []Watermark {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Watermark(nil), c.watermarks...)
}
