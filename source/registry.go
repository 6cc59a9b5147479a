package source

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/zsiec/lite-obs/resample"
)

// Registry tracks every live video and audio source by handle, providing
// the create/remove/lookup/list operations behind the spec's
// new_media_source API (spec §6) and the z-order mutation commands (spec
// §3 "Source ordering"). One Registry is owned per orchestrator run.
type Registry struct {
	log *slog.Logger

	mu     sync.RWMutex
	video  map[uuid.UUID]*VideoSource
	audio  map[uuid.UUID]*AudioSource
	nextZ  int
}

// NewRegistry creates an empty Registry. If log is nil, slog.Default() is
// used.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log.With("component", "source-registry"),
		video: make(map[uuid.UUID]*VideoSource),
		audio: make(map[uuid.UUID]*AudioSource),
	}
}

// CreateVideo creates and registers a new video source of the given kind
// at the top of the z-order.
func (r *Registry) CreateVideo(kind Kind) *VideoSource {
	r.mu.Lock()
	defer r.mu.Unlock()

	z := r.nextZ
	r.nextZ++

	var vs *VideoSource
	switch kind {
	case KindVideoAsync:
		vs = NewAsyncSource(z)
	default:
		vs = NewTextureSource(z)
	}
	r.video[vs.ID] = vs
	r.log.Info("video source created", "id", vs.ID, "kind", kind)
	return vs
}

// CreateAudio creates and registers a new audio source targeting dstSpec.
func (r *Registry) CreateAudio(dstSpec resample.Spec) *AudioSource {
	r.mu.Lock()
	defer r.mu.Unlock()

	as := NewAudioSource(dstSpec)
	r.audio[as.ID] = as
	r.log.Info("audio source created", "id", as.ID)
	return as
}

// RemoveVideo unregisters a video source by handle.
func (r *Registry) RemoveVideo(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.video[id]; ok {
		delete(r.video, id)
		r.log.Info("video source removed", "id", id)
	}
}

// RemoveAudio unregisters an audio source by handle, releasing its
// resamplers.
func (r *Registry) RemoveAudio(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if as, ok := r.audio[id]; ok {
		as.Close()
		delete(r.audio, id)
		r.log.Info("audio source removed", "id", id)
	}
}

// VideoByID looks up a video source by handle.
func (r *Registry) VideoByID(id uuid.UUID) (*VideoSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vs, ok := r.video[id]
	return vs, ok
}

// AudioByID looks up an audio source by handle.
func (r *Registry) AudioByID(id uuid.UUID) (*AudioSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	as, ok := r.audio[id]
	return as, ok
}

// OrderedVideo returns every registered video source, enabled or not,
// sorted by z-order ascending (back to front), the order the compositor
// renders in (spec §4.2 step 3); the compositor skips disabled sources
// itself. The returned slice reflects the order at the moment of
// the call; mutations afterward take effect on the caller's next call,
// matching the "order at frame N is the order present when frame N began"
// invariant (spec §3 "Source ordering").
func (r *Registry) OrderedVideo() []*VideoSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*VideoSource, 0, len(r.video))
	for _, vs := range r.video {
		out = append(out, vs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ZOrder() < out[j].ZOrder() })
	return out
}

// Reorder applies a z-order movement command to the given video source
// (spec §3 source ordering commands, §4.3 set_order).
func (r *Registry) Reorder(id uuid.UUID, movement Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.video[id]
	if !ok {
		return fmt.Errorf("source: unknown video source %s", id)
	}

	ordered := make([]*VideoSource, 0, len(r.video))
	for _, vs := range r.video {
		ordered = append(ordered, vs)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ZOrder() < ordered[j].ZOrder() })

	idx := -1
	for i, vs := range ordered {
		if vs.ID == target.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("source: video source %s not in order list", id)
	}

	switch movement {
	case OrderToTop:
		ordered = append(append(ordered[:idx], ordered[idx+1:]...), target)
	case OrderToBottom:
		rest := append([]*VideoSource{target}, ordered[:idx]...)
		ordered = append(rest, ordered[idx+1:]...)
	case OrderUpOne:
		if idx+1 < len(ordered) {
			ordered[idx], ordered[idx+1] = ordered[idx+1], ordered[idx]
		}
	case OrderDownOne:
		if idx > 0 {
			ordered[idx], ordered[idx-1] = ordered[idx-1], ordered[idx]
		}
	}

	for i, vs := range ordered {
		vs.setZOrder(i)
	}
	return nil
}

// VideoCount and AudioCount support diagnostics/debug snapshots.
func (r *Registry) VideoCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.video)
}

func (r *Registry) AudioCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.audio)
}
