// Package interleave implements the output interleaver described in spec
// §4.7: it accepts packets from paired video/audio encoders and emits a
// single strictly dts-ordered stream beginning at a joint audio/video
// start, for the backend-specific writer to consume.
package interleave

import (
	"sort"
	"sync"

	"github.com/zsiec/lite-obs/media"
)

// Interleaver merges one video and one audio encoder's packet streams into
// a single dts_usec-ordered stream (spec §4.7).
type Interleaver struct {
	mu sync.Mutex

	receivedVideo bool
	receivedAudio bool
	started       bool

	videoOffsetUsec int64
	audioOffsetUsec int64

	highestVideoUsec int64
	highestAudioUsec int64

	buf []*media.EncoderPacket
}

// New creates an empty Interleaver.
func New() *Interleaver {
	return &Interleaver{}
}

func dtsUsec(p *media.EncoderPacket) int64 {
	if p.TimebaseDen == 0 {
		return p.DTS
	}
	return p.DTS * 1_000_000 * int64(p.TimebaseNum) / int64(p.TimebaseDen)
}

// lessByDTSVideoFirst orders by dts_usec ascending; at ties video sorts
// before audio (spec §4.7 step 3), which only matters before the stream
// has started (either order is permissible afterward, per spec §9).
func lessByDTSVideoFirst(a, b *media.EncoderPacket) bool {
	da, db := dtsUsec(a), dtsUsec(b)
	if da != db {
		return da < db
	}
	return a.Type == media.PacketVideo && b.Type != media.PacketVideo
}

// Push accepts one packet from a paired encoder (spec §4.7 "Algorithm on
// packet arrival"). The packet is deep-copied before being buffered.
func (il *Interleaver) Push(p *media.EncoderPacket) {
	il.mu.Lock()
	defer il.mu.Unlock()

	if !il.started && p.Type == media.PacketVideo && !p.Keyframe {
		// Step 1: discard buffered audio older than this packet's dts and
		// drop the non-keyframe video packet itself.
		cutoff := dtsUsec(p)
		il.buf = dropAudioOlderThan(il.buf, cutoff)
		return
	}

	pkt := p.Clone()

	if il.started {
		switch pkt.Type {
		case media.PacketVideo:
			pkt.DTSUsec = dtsUsec(pkt) - il.videoOffsetUsec
		case media.PacketAudio:
			pkt.DTSUsec = dtsUsec(pkt) - il.audioOffsetUsec
		}
	} else {
		pkt.DTSUsec = dtsUsec(pkt)
		switch pkt.Type {
		case media.PacketVideo:
			il.receivedVideo = true
		case media.PacketAudio:
			il.receivedAudio = true
		}
	}

	il.insertSorted(pkt)

	if !il.started {
		il.tryStart()
	}
}

func (il *Interleaver) insertSorted(p *media.EncoderPacket) {
	i := sort.Search(len(il.buf), func(i int) bool {
		return lessByDTSVideoFirst(p, il.buf[i])
	})
	il.buf = append(il.buf, nil)
	copy(il.buf[i+1:], il.buf[i:])
	il.buf[i] = p
}

func dropAudioOlderThan(buf []*media.EncoderPacket, cutoffUsec int64) []*media.EncoderPacket {
	out := buf[:0]
	for _, p := range buf {
		if p.Type == media.PacketAudio && dtsUsec(p) < cutoffUsec {
			continue
		}
		out = append(out, p)
	}
	return out
}

// tryStart implements spec §4.7 step 4: prune premature packets, then once
// both types are present and aligned, set offsets and begin emission.
func (il *Interleaver) tryStart() {
	if !il.receivedVideo || !il.receivedAudio {
		return
	}

	firstVideo := il.firstOfType(media.PacketVideo)
	if firstVideo == nil {
		return
	}

	// Audio strictly before the first video packet is premature: it
	// predates anything the stream can start at, so it's discarded up to
	// the first video packet (scenario S3).
	il.buf = dropAudioOlderThan(il.buf, firstVideo.DTSUsec)
	firstAudio := il.firstOfType(media.PacketAudio)
	if firstAudio == nil {
		// Video still leads with nothing to pair yet; wait for audio.
		return
	}

	il.videoOffsetUsec = firstVideo.DTSUsec
	il.audioOffsetUsec = firstAudio.DTSUsec
	for _, p := range il.buf {
		switch p.Type {
		case media.PacketVideo:
			p.DTSUsec -= il.videoOffsetUsec
		case media.PacketAudio:
			p.DTSUsec -= il.audioOffsetUsec
		}
	}
	sort.SliceStable(il.buf, func(i, j int) bool { return lessByDTSVideoFirst(il.buf[i], il.buf[j]) })
	il.started = true
}

func (il *Interleaver) firstOfType(t media.PacketType) *media.EncoderPacket {
	for _, p := range il.buf {
		if p.Type == t {
			return p
		}
	}
	return nil
}

// Emit returns every packet currently eligible for emission: the head
// packet is emittable iff a packet of the opposing type with strictly
// higher dts_usec exists in the buffer (spec §4.7 step 5) — this bounds
// interleave latency without requiring look-ahead blocking.
func (il *Interleaver) Emit() []*media.EncoderPacket {
	il.mu.Lock()
	defer il.mu.Unlock()

	if !il.started {
		return nil
	}

	var out []*media.EncoderPacket
	for len(il.buf) > 0 {
		head := il.buf[0]
		if !il.hasOpposingNewer(head) {
			break
		}
		out = append(out, head)
		il.buf = il.buf[1:]
		if head.Type == media.PacketVideo && head.DTSUsec > il.highestVideoUsec {
			il.highestVideoUsec = head.DTSUsec
		}
		if head.Type == media.PacketAudio && head.DTSUsec > il.highestAudioUsec {
			il.highestAudioUsec = head.DTSUsec
		}
	}
	return out
}

func (il *Interleaver) hasOpposingNewer(head *media.EncoderPacket) bool {
	for _, p := range il.buf[1:] {
		if p.Type != head.Type && p.DTSUsec > head.DTSUsec {
			return true
		}
	}
	return false
}

// Len returns the number of packets currently buffered.
func (il *Interleaver) Len() int {
	il.mu.Lock()
	defer il.mu.Unlock()
	return len(il.buf)
}

// Started reports whether the interleaved stream has begun.
func (il *Interleaver) Started() bool {
	il.mu.Lock()
	defer il.mu.Unlock()
	return il.started
}
