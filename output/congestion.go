package output

import (
	"time"

	"github.com/zsiec/lite-obs/media"
)

// Congestion-drop defaults (spec §4.8).
const (
	DefaultDropBUsec = 700_000
	DefaultDropPUsec = DefaultDropBUsec + 200_000

	dbrTriggerUsec    = 200_000
	dbrIncTimer       = 30 * time.Second
	dbrMinBitrateKbps = 50
)

// bufferDurationUsec is last_dts_usec - first_video_packet.dts_usec across
// the queue (spec §4.8 "Buffer duration").
func bufferDurationUsec(buf []*media.EncoderPacket) int64 {
	if len(buf) == 0 {
		return 0
	}
	var firstVideoUsec int64
	found := false
	for _, p := range buf {
		if p.Type == media.PacketVideo {
			firstVideoUsec = p.DTSUsec
			found = true
			break
		}
	}
	if !found {
		return 0
	}
	last := buf[len(buf)-1].DTSUsec
	d := last - firstVideoUsec
	if d < 0 {
		return 0
	}
	return d
}

// dropPolicy implements the non-DBR congestion response (spec §4.8, S4):
// once the buffer exceeds dropBUsec, raise a minimum-priority floor and
// drop everything below it except audio and keyframes. The floor persists
// (minPriority) across calls until a new keyframe clears it.
type dropPolicy struct {
	dropBUsec, dropPUsec int64
	minPriority          *int
}

func newDropPolicy(dropB, dropP int64) *dropPolicy {
	mp := media.DropPriorityDisposable
	return &dropPolicy{dropBUsec: dropB, dropPUsec: dropP, minPriority: &mp}
}

// apply is installed as an Output's DropPolicy hook. The floor only ever
// escalates within a congestion episode (spec §4.8 "Record a minimum
// priority until the next keyframe clears it") — it is reset to
// DropPriorityDisposable once a keyframe survives the filter below on a
// call where the buffer is no longer over dropBUsec, so a keyframe already
// queued when the floor was raised does not clear it.
func (d *dropPolicy) apply(buf []*media.EncoderPacket) []*media.EncoderPacket {
	dur := bufferDurationUsec(buf)
	congested := dur > d.dropBUsec
	switch {
	case dur > d.dropPUsec:
		*d.minPriority = media.DropPriorityHigh
	case dur > d.dropBUsec && *d.minPriority < media.DropPriorityLow:
		*d.minPriority = media.DropPriorityLow
	}

	if *d.minPriority == media.DropPriorityDisposable {
		return buf
	}

	out := buf[:0]
	sawKeyframe := false
	for _, p := range buf {
		if p.Type == media.PacketAudio || p.Keyframe || p.DropPriority >= *d.minPriority {
			out = append(out, p)
			if p.Type == media.PacketVideo && p.Keyframe {
				sawKeyframe = true
			}
		}
	}
	if sawKeyframe && !congested {
		*d.minPriority = media.DropPriorityDisposable
	}
	return out
}

// bitrateSample is one (send_beg, send_end, size) observation used by the
// dynamic-bitrate estimator (spec §4.8 "Dynamic bitrate (DBR)").
type bitrateSample struct {
	beg, end time.Time
	size     int
}

// dbrController estimates outbound bitrate over a sliding window and
// reduces/raises the paired video encoder's target bitrate (scenario S5).
type dbrController struct {
	window      time.Duration
	audioKbps   int
	origKbps    int
	currentKbps int

	samples []bitrateSample
	incAt   time.Time
	armed   bool

	updateBitrate func(kbps int)
}

func newDBRController(window time.Duration, audioKbps, origKbps int, update func(kbps int)) *dbrController {
	return &dbrController{
		window:        window,
		audioKbps:     audioKbps,
		origKbps:      origKbps,
		currentKbps:   origKbps,
		updateBitrate: update,
	}
}

// observe records one send sample and re-evaluates the bitrate (spec §4.8
// DBR: "accumulate samples over a sliding 1-2s window").
func (d *dbrController) observe(beg, end time.Time, size int, bufferUsec int64) {
	d.samples = append(d.samples, bitrateSample{beg, end, size})
	cutoff := end.Add(-d.window)
	i := 0
	for i < len(d.samples) && d.samples[i].end.Before(cutoff) {
		i++
	}
	d.samples = d.samples[i:]

	if !d.incAt.IsZero() && end.After(d.incAt) {
		d.raise(end)
	}

	if bufferUsec < dbrTriggerUsec {
		return
	}

	estimate := d.estimateKbps()
	if estimate >= d.currentKbps {
		return
	}
	floored := (estimate / 100) * 100
	if floored < dbrMinBitrateKbps {
		floored = dbrMinBitrateKbps
	}
	if floored >= d.currentKbps {
		return
	}
	d.currentKbps = floored
	d.updateBitrate(floored)
	d.incAt = end.Add(dbrIncTimer)
	d.armed = true
}

func (d *dbrController) estimateKbps() int {
	if len(d.samples) == 0 {
		return d.currentKbps
	}
	var totalSize int
	first, last := d.samples[0].beg, d.samples[0].end
	for _, s := range d.samples {
		totalSize += s.size
		if s.beg.Before(first) {
			first = s.beg
		}
		if s.end.After(last) {
			last = s.end
		}
	}
	durationMs := last.Sub(first).Milliseconds()
	if durationMs <= 0 {
		return d.currentKbps
	}
	// 8 bits/byte over duration_ms gives kbit/s directly (1 byte/ms == 8
	// kbit/s), then the audio share is subtracted to isolate the video
	// budget (spec §4.8 DBR).
	estimate := int(int64(8*totalSize)/durationMs) - d.audioKbps
	if estimate < dbrMinBitrateKbps {
		estimate = dbrMinBitrateKbps
	}
	return estimate
}

// raise applies the inc-timer's bitrate increase (spec §4.8: "raise the
// bitrate by orig/10, capped at original, arming a new 30s timer").
func (d *dbrController) raise(now time.Time) {
	if d.currentKbps >= d.origKbps {
		d.armed = false
		d.incAt = time.Time{}
		return
	}
	next := d.currentKbps + d.origKbps/10
	if next > d.origKbps {
		next = d.origKbps
	}
	d.currentKbps = next
	d.updateBitrate(next)
	if next < d.origKbps {
		d.incAt = now.Add(dbrIncTimer)
	} else {
		d.armed = false
		d.incAt = time.Time{}
	}
}
