// Package source implements the video and audio source variants that feed
// the compositor: a texture-backed video source, an async (queued CPU
// frame) video source, and an audio source with its own resampler
// (spec §3 "Source (polymorphic...)", §4.3).
package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/zsiec/lite-obs/gfx"
	"github.com/zsiec/lite-obs/media"
)

// Kind identifies a source's capability set (spec §6 "new_media_source").
type Kind int

const (
	KindVideoTexture Kind = iota
	KindVideoAsync
	KindAudio
)

// VideoSource is a source that contributes a texture to the compositor's
// per-frame render pass. It holds either a live texture handle (published
// by output_video_texture / output_video_image) or an async queue of
// decoded CPU frames (published by output_video_frame), never both.
type VideoSource struct {
	ID   uuid.UUID
	Kind Kind

	mu        sync.Mutex
	transform Transform
	zOrder    int
	enabled   bool

	// KindVideoTexture state (set by OutputVideoTexture / OutputVideoImage).
	texture gfx.TextureHandle
	texW    int
	texH    int
	hasTex  bool

	// KindVideoAsync state: a monotone timestamp queue of decoded frames;
	// the compositor pulls the newest frame with ts <= frame clock.
	queue   []*media.VideoFrame
	current *media.VideoFrame
}

// NewTextureSource creates a video source that will be fed via
// OutputVideoTexture / OutputVideoImage.
func NewTextureSource(zOrder int) *VideoSource {
	return &VideoSource{ID: uuid.New(), Kind: KindVideoTexture, transform: NewTransform(), zOrder: zOrder, enabled: true}
}

// NewAsyncSource creates a video source that will be fed decoded CPU
// frames via OutputVideoFrame.
func NewAsyncSource(zOrder int) *VideoSource {
	return &VideoSource{ID: uuid.New(), Kind: KindVideoAsync, transform: NewTransform(), zOrder: zOrder, enabled: true}
}

// OutputVideoTexture publishes an externally managed texture as the
// source's current content (spec §4.3 output_video_texture).
func (s *VideoSource) OutputVideoTexture(tex gfx.TextureHandle, w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texture, s.texW, s.texH, s.hasTex = tex, w, h, true
}

// OutputVideoImage replaces the source's current content with a static
// RGBA image (spec §4.3 output_video_image). The caller is responsible for
// having already uploaded rgba to a texture via the render-thread Context;
// this just records the handle.
func (s *VideoSource) OutputVideoImage(tex gfx.TextureHandle, w, h int) {
	s.OutputVideoTexture(tex, w, h)
}

// OutputVideoFrame enqueues a CPU frame into the async-source ring; the
// compositor uploads it to a source-owned texture on the render thread
// (spec §4.3 output_video_frame). Frames must arrive in non-decreasing
// timestamp order; out-of-order frames are dropped.
func (s *VideoSource) OutputVideoFrame(f *media.VideoFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.queue); n > 0 && f.TimestampNS < s.queue[n-1].TimestampNS {
		return fmt.Errorf("source: out-of-order async frame ts=%d < last=%d", f.TimestampNS, s.queue[n-1].TimestampNS)
	}
	s.queue = append(s.queue, f)
	return nil
}

// AdvanceTo selects, for an async source, the newest queued frame whose
// timestamp does not exceed frameClockNS, discarding older frames it
// supersedes (spec §4.2 step 1). No-op for texture sources.
func (s *VideoSource) AdvanceTo(frameClockNS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Kind != KindVideoAsync {
		return
	}
	i := sort.Search(len(s.queue), func(i int) bool { return s.queue[i].TimestampNS > frameClockNS })
	if i > 0 {
		s.current = s.queue[i-1]
		s.queue = s.queue[i:]
	}
}

// CurrentFrame returns the async source's currently selected CPU frame, or
// nil if none has arrived yet.
func (s *VideoSource) CurrentFrame() *media.VideoFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CurrentTexture returns the texture-source's current handle and whether
// one has been published yet.
func (s *VideoSource) CurrentTexture() (gfx.TextureHandle, int, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.texture, s.texW, s.texH, s.hasTex
}

// SetPosition sets the source's translation (spec §4.3 set_position).
func (s *VideoSource) SetPosition(x, y float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transform.X, s.transform.Y = x, y
}

// SetScale sets the source's scale (spec §4.3 set_scale).
func (s *VideoSource) SetScale(sx, sy float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transform.ScaleX, s.transform.ScaleY = sx, sy
}

// SetRotation sets the source's rotation in radians (spec §4.3 set_rotate).
func (s *VideoSource) SetRotation(rad float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transform.RotationRad = rad
}

// SetFlip sets the source's per-axis mirroring (spec §4.3 set_flip).
func (s *VideoSource) SetFlip(f Flip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transform.Flip = f
}

// SetRenderBox sets the source's fit box (spec §4.3 set_render_box).
func (s *VideoSource) SetRenderBox(x, y, w, h float32, fit Fit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transform.Box = RenderBox{X: x, Y: y, W: w, H: h, Fit: fit}
	s.transform.HasBox = true
}

// ClearVideo removes any published content, returning the source to an
// empty state (spec §6 clear_video).
func (s *VideoSource) ClearVideo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasTex = false
	s.queue = nil
	s.current = nil
}

// Transform returns a snapshot of the source's current affine transform.
func (s *VideoSource) Transform() Transform {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transform
}

// ZOrder returns the source's current z-order index.
func (s *VideoSource) ZOrder() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zOrder
}

// setZOrder sets the source's raw z-order index, used by Registry.Reorder.
func (s *VideoSource) setZOrder(z int) {
	s.mu.Lock()
	s.zOrder = z
	s.mu.Unlock()
}

// Enabled reports whether the source participates in the current frame.
func (s *VideoSource) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled enables or disables the source.
func (s *VideoSource) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}
