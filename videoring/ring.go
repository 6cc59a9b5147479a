// Package videoring implements the compositor's output-side video frame
// ring: a fixed-capacity, multi-slot buffer with a single writer (the
// compositor render thread) and one or many readers (encoders and raw
// subscribers), per spec §4.4 "Video output ring".
package videoring

import (
	"sync"

	"github.com/zsiec/lite-obs/media"
)

// Slot is a reserved ring position returned by LockFrame. The caller fills
// Frame in place, then calls Ring.UnlockFrame to publish it.
type Slot struct {
	index int
	frame *media.VideoFrame
}

// Frame returns the video frame owned by this slot for the writer to fill.
func (s *Slot) Frame() *media.VideoFrame { return s.frame }

// subscriber is a raw-video consumer registered via Connect. Frames are
// delivered by value reference; a slow subscriber drops frames rather than
// blocking the writer (spec §4.4 "the writer never blocks on a subscriber").
type subscriber struct {
	ch     chan *media.VideoFrame
	cancel chan struct{}
}

// Ring is the fixed-capacity multi-slot video frame buffer described in
// spec §4.4. N is the slot count (media.VideoRingSize by convention).
type Ring struct {
	mu    sync.Mutex
	slots []*media.VideoFrame
	held  []bool // true while slot i is locked by LockFrame and not yet unlocked
	write int    // next slot index to write

	logicalClock int64 // advances by `count` frame intervals per LockFrame

	subsMu sync.Mutex
	subs   map[int]*subscriber
	nextID int

	skipped int64 // frames dropped to back-pressure, for diagnostics
}

// New creates a Ring with the given slot count.
func New(n int) *Ring {
	if n <= 0 {
		n = media.VideoRingSize
	}
	return &Ring{
		slots: make([]*media.VideoFrame, n),
		held:  make([]bool, n),
		subs:  make(map[int]*subscriber),
	}
}

// LockFrame reserves the next slot at logical index ts, advancing the
// logical clock by count frame intervals. It returns nil if the next slot
// is still locked by an earlier LockFrame that has not been unlocked
// (back-pressure; spec §4.4 lock_frame). Subscribers hold no slots, so a
// slow reader never causes back-pressure here; it only misses frames.
func (r *Ring) LockFrame(count int64, ts int64) *Slot {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.write
	if r.held[idx] {
		return nil
	}
	if r.slots[idx] == nil {
		r.slots[idx] = &media.VideoFrame{}
	}
	r.slots[idx].TimestampNS = ts
	r.held[idx] = true
	r.logicalClock += count

	return &Slot{index: idx, frame: r.slots[idx]}
}

// UnlockFrame publishes a reserved slot to every connected subscriber,
// atomically with respect to LockFrame (spec §4.4 unlock_frame). Slow
// subscribers that already have a frame queued are skipped rather than
// blocked.
func (r *Ring) UnlockFrame(s *Slot) {
	r.mu.Lock()
	r.write = (s.index + 1) % len(r.slots)
	r.held[s.index] = false
	frame := r.slots[s.index]
	r.mu.Unlock()

	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, sub := range r.subs {
		select {
		case sub.ch <- frame:
		default:
			r.skipped++
		}
	}
}

// Connect registers a raw-video subscriber. The returned channel receives
// every published frame that the subscriber is able to keep up with;
// frames are dropped, never blocked on, when the subscriber falls behind.
// The returned cancel func unregisters the subscriber.
func (r *Ring) Connect(bufferSize int) (<-chan *media.VideoFrame, func()) {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	sub := &subscriber{ch: make(chan *media.VideoFrame, bufferSize), cancel: make(chan struct{})}

	r.subsMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = sub
	r.subsMu.Unlock()

	return sub.ch, func() {
		r.subsMu.Lock()
		delete(r.subs, id)
		r.subsMu.Unlock()
		close(sub.cancel)
	}
}

// LogicalClock returns the ring's current logical frame-count clock.
func (r *Ring) LogicalClock() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logicalClock
}

// Skipped returns the number of subscriber deliveries dropped to
// back-pressure since creation.
func (r *Ring) Skipped() int64 {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	return r.skipped
}
