package source

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	astiav "github.com/asticode/go-astiav"

	"github.com/zsiec/lite-obs/audiobuf"
	"github.com/zsiec/lite-obs/media"
	"github.com/zsiec/lite-obs/resample"
)

// mixBufferBytes is sized for a few ticks of float32 planar audio at the
// mixer's canonical format, per mix slot, per channel.
const mixBufferBytes = 64 * 1024

// AudioSource buffers incoming PCM per mix slot, one ring per channel, for
// the audio mixer to pull on its own cadence (spec §4.3 "Audio-source
// contract"). It creates a resampler per mix slot but never converts
// through it: planes are buffered exactly as given, and timestamps are
// recorded as given, not mapped into another timebase.
type AudioSource struct {
	ID uuid.UUID

	mu         sync.Mutex
	resamplers map[int]*resample.Resampler // per mix slot
	buffers    map[int][]*audiobuf.Ring     // per mix slot, one ring per channel
	dstSpec    resample.Spec
	lastTS     int64
}

// NewAudioSource creates an audio source targeting dst as its canonical
// per-mix output format.
func NewAudioSource(dst resample.Spec) *AudioSource {
	return &AudioSource{
		ID:         uuid.New(),
		resamplers: make(map[int]*resample.Resampler),
		buffers:    make(map[int][]*audiobuf.Ring),
		dstSpec:    dst,
	}
}

// OutputAudio ingests PCM for the given mix slot, pushing each plane as
// given into that slot's per-channel circular buffers (spec §4.3
// output_audio). It does not resample: planes whose format, layout or
// rate differ from the destination spec are buffered unconverted.
func (a *AudioSource) OutputAudio(mixSlot int, planes [][]byte, frames int, format astiav.SampleFormat, layout astiav.ChannelLayout, sampleRate int, timestampNS int64) error {
	if mixSlot < 0 || mixSlot >= media.MaxAudioMixes {
		return fmt.Errorf("source: mix slot %d out of range", mixSlot)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rs, ok := a.resamplers[mixSlot]
	if !ok {
		var err error
		rs, err = resample.New(a.dstSpec)
		if err != nil {
			return fmt.Errorf("source: create resampler for mix %d: %w", mixSlot, err)
		}
		a.resamplers[mixSlot] = rs
	}

	rings, ok := a.buffers[mixSlot]
	if !ok {
		rings = make([]*audiobuf.Ring, layout.Channels())
		for i := range rings {
			rings[i] = audiobuf.New(mixBufferBytes)
		}
		a.buffers[mixSlot] = rings
	}

	// The passthrough result is not acted on: matching and non-matching
	// formats both push the planes unconverted into the per-channel rings.
	_ = rs.Passthrough(sampleRate, format, layout)
	for i, p := range planes {
		if i < len(rings) {
			rings[i].Push(p)
		}
	}

	a.lastTS = timestampNS
	return nil
}

// EnsureMixSlot pre-creates the per-channel rings for mixSlot using the
// source's destination channel layout, so the caller (the orchestrator,
// binding this source's rings into the audio mixer) has a stable slice to
// bind before any audio has actually arrived. Calling it more than once for
// the same slot is a no-op.
func (a *AudioSource) EnsureMixSlot(mixSlot int) []*audiobuf.Ring {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rings, ok := a.buffers[mixSlot]; ok {
		return rings
	}
	rings := make([]*audiobuf.Ring, a.dstSpec.ChannelLayout.Channels())
	for i := range rings {
		rings[i] = audiobuf.New(mixBufferBytes)
	}
	a.buffers[mixSlot] = rings
	return rings
}

// Ring returns the circular buffer for the given mix slot and channel, or
// nil if the slot hasn't received audio yet.
func (a *AudioSource) Ring(mixSlot, channel int) *audiobuf.Ring {
	a.mu.Lock()
	defer a.mu.Unlock()
	rings, ok := a.buffers[mixSlot]
	if !ok || channel >= len(rings) {
		return nil
	}
	return rings[channel]
}

// LastTimestampNS returns the timestamp passed with the most recently
// ingested audio. The mixer does not read it.
func (a *AudioSource) LastTimestampNS() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastTS
}

// Close releases the source's resamplers.
func (a *AudioSource) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rs := range a.resamplers {
		rs.Close()
	}
}
