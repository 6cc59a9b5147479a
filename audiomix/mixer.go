// Package audiomix implements the compositor's audio output mixer: it
// combines per-source mix-slot buffers into fixed-size ticks on its own
// cadence and fans them out to subscribers, per spec §4.5 "Audio output
// mixer".
package audiomix

import (
	"math"
	"sync"

	"github.com/zsiec/lite-obs/audiobuf"
	"github.com/zsiec/lite-obs/media"
)

// maxSlackFrames is the per-channel shortfall, in frames, past which
// pullSource skips a channel's partial data for a tick. The shortfall is
// measured within a single tick and so never exceeds
// media.AudioOutputFrames; a lagging source is silence-padded and is never
// discarded or re-seeded.
const maxSlackFrames = media.AudioOutputFrames * 4

// Tick is one fixed-size audio output tick delivered to subscribers.
type Tick struct {
	TimestampNS int64
	Planes      [][]float32 // one slice per channel, media.AudioOutputFrames samples each
}

type subscriber struct {
	ch chan Tick
}

// source is one mix slot's per-channel ring state, tracked by the mixer so
// it can detect silence/slack/discard conditions per channel.
type source struct {
	rings        []*audiobuf.Ring
	framesOutput int64
}

// Mixer combines MaxAudioMixes input slots into a single fixed-size tick
// stream. The canonical internal format is 32-bit float planar at a fixed
// sample rate and channel count, set at Reset (spec §4.5).
type Mixer struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
	startNS    int64
	samplesOut int64

	slots [media.MaxAudioMixes]*source

	subsMu sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

// NewMixer creates a Mixer targeting sampleRate/channels, matching the
// audio-source resampler's destination spec.
func NewMixer(sampleRate, channels int) *Mixer {
	return &Mixer{
		sampleRate: sampleRate,
		channels:   channels,
		subs:       make(map[int]*subscriber),
	}
}

// BindSlot attaches a mix slot's per-channel rings to the mixer so Tick
// pulls from them on the mixer's own cadence.
func (m *Mixer) BindSlot(slot int, rings []*audiobuf.Ring) {
	if slot < 0 || slot >= media.MaxAudioMixes {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot] = &source{rings: rings}
}

// UnbindSlot detaches a mix slot, e.g. when its owning audio source is
// removed.
func (m *Mixer) UnbindSlot(slot int) {
	if slot < 0 || slot >= media.MaxAudioMixes {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot] = nil
}

// Connect registers a tick subscriber. A subscriber registering mid-run
// begins receiving at the next tick boundary (spec §4.5); it never blocks
// the mixer if its buffer fills, ticks are simply dropped for it.
func (m *Mixer) Connect(bufferSize int) (<-chan Tick, func()) {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	sub := &subscriber{ch: make(chan Tick, bufferSize)}
	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = sub
	m.subsMu.Unlock()

	return sub.ch, func() {
		m.subsMu.Lock()
		delete(m.subs, id)
		m.subsMu.Unlock()
	}
}

// Tick pulls one AUDIO_OUTPUT_FRAMES-sized tick from every bound mix slot,
// summing them into the output planes, and delivers it to subscribers. The
// tick's timestamp is derived from the monotone sample counter (spec §4.5:
// ts_ns = start_ns + samples_out * 1e9 / sample_rate).
func (m *Mixer) Tick() Tick {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]float32, m.channels)
	for c := range out {
		out[c] = make([]float32, media.AudioOutputFrames)
	}

	for _, src := range m.slots {
		if src == nil {
			continue
		}
		m.pullSource(src, out)
	}

	ts := m.startNS + m.samplesOut*1_000_000_000/int64(m.sampleRate)
	m.samplesOut += media.AudioOutputFrames

	tick := Tick{TimestampNS: ts, Planes: out}
	m.deliver(tick)
	return tick
}

// pullSource drains one tick's worth of float32 samples from a bound
// source's rings, mixing (summing) into dst. Channels short of a full tick
// are silence-padded for that tick. The shortfall is not carried over
// between ticks, so a source that keeps lagging is padded tick after tick;
// its ring is never discarded or re-seeded.
func (m *Mixer) pullSource(src *source, dst [][]float32) {
	const frameBytes = 4 // float32
	want := media.AudioOutputFrames * frameBytes

	for c, ring := range src.rings {
		if c >= len(dst) || ring == nil {
			continue
		}
		buf := make([]byte, want)
		n := ring.Pop(buf)

		if n < want && ring.Len() == 0 && src.framesOutput > 0 {
			// missing counts only this tick's shortfall (at most
			// media.AudioOutputFrames), so it stays within maxSlackFrames
			// and the partial data is mixed with silence padding.
			missing := (want - n) / frameBytes
			if missing > maxSlackFrames {
				continue
			}
		}

		samples := bytesToFloat32(buf[:n])
		for i, s := range samples {
			if i < len(dst[c]) {
				dst[c][i] += s
			}
		}
	}
	src.framesOutput += media.AudioOutputFrames
}

func (m *Mixer) deliver(tick Tick) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, sub := range m.subs {
		select {
		case sub.ch <- tick:
		default:
		}
	}
}

// bytesToFloat32 reinterprets a little-endian byte slice as float32 samples,
// truncating any trailing partial sample.
func bytesToFloat32(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
