// Package clock provides the shared monotonic timebase and frame-pacing
// helpers used by the compositor and audio mixer (spec §2 "Clock & timebase").
package clock

import "time"

// NowNS returns the current monotonic time as nanoseconds since an
// unspecified epoch. Only differences between two NowNS calls are
// meaningful.
func NowNS() int64 {
	return int64(time.Since(epoch))
}

// epoch is the process-local origin of NowNS; time.Since reads Go's
// monotonic clock, so NowNS never steps backwards with wall-clock changes.
var epoch = time.Now()

// FrameInterval computes the nanosecond duration of one frame at the given
// rational frame rate (spec §4.2: interval_ns = 1e9 * fps_den / fps_num).
func FrameInterval(fpsNum, fpsDen int) int64 {
	if fpsNum <= 0 {
		fpsNum = 1
	}
	if fpsDen <= 0 {
		fpsDen = 1
	}
	return int64(1e9) * int64(fpsDen) / int64(fpsNum)
}

// Rescale converts a timestamp from one rational timebase to another,
// rounding to the nearest integer. Used to move PTS/DTS between an
// encoder's timebase and a muxer stream's timebase.
func Rescale(ts int64, fromNum, fromDen, toNum, toDen int) int64 {
	if fromNum <= 0 {
		fromNum = 1
	}
	if toNum <= 0 {
		toNum = 1
	}
	// ts is in units of fromNum/fromDen seconds; convert to toNum/toDen units.
	num := ts * int64(fromNum) * int64(toDen)
	den := int64(fromDen) * int64(toNum)
	if den == 0 {
		return ts
	}
	if num < 0 {
		return -((-num + den/2) / den)
	}
	return (num + den/2) / den
}

// Pacer drives a fixed-interval frame loop, tracking lag so that frame
// timestamps stay monotone even when a deadline is missed (spec §4.2
// "Pacing").
type Pacer struct {
	intervalNS int64
	lastNS     int64
	started    bool
}

// NewPacer creates a Pacer for the given frame interval in nanoseconds.
func NewPacer(intervalNS int64) *Pacer {
	return &Pacer{intervalNS: intervalNS}
}

// Next blocks (via the supplied sleep func, nil means time.Sleep) until the
// next frame boundary and returns the number of intervals that should be
// advanced (normally 1; >1 under overload) along with the new frame clock.
// The first call never sleeps and always returns count=1.
func (p *Pacer) Next(sleep func(time.Duration)) (count int64, frameClockNS int64) {
	if sleep == nil {
		sleep = time.Sleep
	}
	now := NowNS()
	if !p.started {
		p.started = true
		p.lastNS = now
		return 1, now
	}

	deadline := p.lastNS + p.intervalNS
	if now < deadline {
		sleep(time.Duration(deadline - now))
		now = NowNS()
	}

	elapsed := now - p.lastNS
	count = elapsed / p.intervalNS
	if count < 1 {
		count = 1
	}
	p.lastNS += count * p.intervalNS
	return count, p.lastNS
}

// Reset clears the pacer's state so the next call to Next behaves as if it
// were the first frame of a new run.
func (p *Pacer) Reset() {
	p.started = false
	p.lastNS = 0
}
