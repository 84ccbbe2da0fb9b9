package media

import (
	"sync"
	"time"
)

// FrameHandle identifies a pending frame callback. Zero is never issued.
type FrameHandle uint64

// Scheduler runs one-shot frame callbacks in step with a display-like clock.
type Scheduler interface {
	RequestFrame(cb func(now time.Time)) FrameHandle
	CancelFrame(h FrameHandle)
}

type pendingFrame struct {
	handle FrameHandle
	cb     func(time.Time)
}

// frameQueue holds requested callbacks until the next tick.
type frameQueue struct {
	mu      sync.Mutex
	next    FrameHandle
	pending []pendingFrame
}

func (q *frameQueue) request(cb func(time.Time)) FrameHandle {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	q.pending = append(q.pending, pendingFrame{handle: q.next, cb: cb})
	return q.next
}

func (q *frameQueue) cancel(h FrameHandle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p.handle == h {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// run fires the callbacks queued before this call. Callbacks requested while
// running wait for the following tick.
func (q *frameQueue) run(now time.Time) int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, p := range batch {
		p.cb(now)
	}
	return len(batch)
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// TickerScheduler fires pending callbacks on a fixed interval.
type TickerScheduler struct {
	queue frameQueue
	stop  chan struct{}
	once  sync.Once
}

// DefaultFrameInterval is the 60 Hz refresh period.
const DefaultFrameInterval = time.Second / 60

// NewTickerScheduler starts a scheduler ticking every interval.
func NewTickerScheduler(interval time.Duration) *TickerScheduler {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	s := &TickerScheduler{stop: make(chan struct{})}
	go s.loop(interval)
	return s
}

func (s *TickerScheduler) loop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.queue.run(now)
		}
	}
}

// RequestFrame implements Scheduler.
func (s *TickerScheduler) RequestFrame(cb func(time.Time)) FrameHandle {
	return s.queue.request(cb)
}

// CancelFrame implements Scheduler.
func (s *TickerScheduler) CancelFrame(h FrameHandle) {
	s.queue.cancel(h)
}

// Close stops the ticker. Pending callbacks never fire.
func (s *TickerScheduler) Close() {
	s.once.Do(func() { close(s.stop) })
}

// ManualScheduler fires callbacks only when Tick is called.
type ManualScheduler struct {
	queue frameQueue
	now   time.Time
}

// NewManualScheduler returns a scheduler whose clock starts at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// RequestFrame implements Scheduler.
func (s *ManualScheduler) RequestFrame(cb func(time.Time)) FrameHandle {
	return s.queue.request(cb)
}

// CancelFrame implements Scheduler.
func (s *ManualScheduler) CancelFrame(h FrameHandle) {
	s.queue.cancel(h)
}

// Tick advances the clock by one 60 Hz period and runs pending callbacks,
// returning how many ran.
func (s *ManualScheduler) Tick() int {
	s.now = s.now.Add(DefaultFrameInterval)
	return s.queue.run(s.now)
}

// Pending returns the number of queued callbacks.
func (s *ManualScheduler) Pending() int {
	return s.queue.len()
}
