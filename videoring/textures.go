package videoring

import (
	"sync"
	"sync/atomic"

	"github.com/zsiec/lite-obs/gfx"
)

// TextureRef is one entry on the GPU-encode queue: a texture handle paired
// with the compositor timestamp it was produced at, plus a refcount used
// when the queue is full and the oldest entry must be duplicated rather
// than dropped (spec §4.4 "Texture-encode subscribers").
type TextureRef struct {
	Texture     gfx.TextureHandle
	TimestampNS int64
	refs        atomic.Int32
}

// TextureQueue is the GPU-encode consumer's view of the compositor's output
// texture: a bounded ring of distinct textures (default capacity 5). When
// full, the oldest entry's refcount is bumped and a duplicate-timestamp
// reference is handed back instead of growing the queue.
type TextureQueue struct {
	mu      sync.Mutex
	cap     int
	entries []*TextureRef

	skipped atomic.Int64
}

// NewTextureQueue creates a TextureQueue with the given capacity, defaulting
// to media.GPUEncodeQueueSize semantics when capacity <= 0.
func NewTextureQueue(capacity int) *TextureQueue {
	if capacity <= 0 {
		capacity = 5
	}
	return &TextureQueue{cap: capacity}
}

// Enqueue adds a new texture reference. If the queue is already at capacity,
// the oldest entry's refcount is incremented and returned instead (the
// encoder observes a duplicate timestamp for the duplicated frame), and the
// skipped counter is incremented.
func (q *TextureQueue) Enqueue(tex gfx.TextureHandle, ts int64) *TextureRef {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.cap {
		oldest := q.entries[0]
		oldest.refs.Add(1)
		q.skipped.Add(1)
		return oldest
	}

	ref := &TextureRef{Texture: tex, TimestampNS: ts}
	q.entries = append(q.entries, ref)
	return ref
}

// Dequeue pops the oldest texture reference, or nil if the queue is empty.
func (q *TextureQueue) Dequeue() *TextureRef {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil
	}
	ref := q.entries[0]
	q.entries = q.entries[1:]
	return ref
}

// Len reports the current queue depth.
func (q *TextureQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Skipped reports how many enqueue calls hit a full queue and duplicated
// the oldest entry instead of growing it.
func (q *TextureQueue) Skipped() int64 {
	return q.skipped.Load()
}
