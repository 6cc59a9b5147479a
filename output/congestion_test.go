package output

import (
	"testing"
	"time"

	"github.com/zsiec/lite-obs/media"
)

func vp(dtsUsec int64, keyframe bool, priority int) *media.EncoderPacket {
	return &media.EncoderPacket{Type: media.PacketVideo, DTSUsec: dtsUsec, Keyframe: keyframe, DropPriority: priority}
}

func ap(dtsUsec int64) *media.EncoderPacket {
	return &media.EncoderPacket{Type: media.PacketAudio, DTSUsec: dtsUsec}
}

// S4 — drop policy: drop_b=700ms, drop_p=900ms, 20-packet queue spanning
// 1000ms of dts.
func TestDropPolicyS4(t *testing.T) {
	t.Parallel()
	dp := newDropPolicy(700_000, 900_000)

	var buf []*media.EncoderPacket
	buf = append(buf, vp(0, true, media.DropPriorityDisposable)) // first video, keyframe
	for i := int64(1); i < 19; i++ {
		dtsUsec := i * (1_000_000 / 19)
		if i%4 == 0 {
			buf = append(buf, ap(dtsUsec))
			continue
		}
		priority := media.DropPriorityDisposable
		if i%3 == 0 {
			priority = media.DropPriorityLow
		}
		buf = append(buf, vp(dtsUsec, false, priority))
	}
	buf = append(buf, vp(1_000_000, false, media.DropPriorityDisposable)) // last packet, 1000ms span

	out := dp.apply(buf)

	for _, p := range out {
		if p.Type == media.PacketAudio || p.Keyframe {
			continue
		}
		if p.DropPriority < media.DropPriorityHigh {
			t.Fatalf("surviving non-keyframe video packet has priority %d, want >= HIGH", p.DropPriority)
		}
	}
	if *dp.minPriority != media.DropPriorityHigh {
		t.Fatalf("minPriority = %d, want HIGH (floor persists until next keyframe)", *dp.minPriority)
	}
}

func TestDropPolicyFloorClearsOnNextKeyframe(t *testing.T) {
	t.Parallel()
	dp := newDropPolicy(700_000, 900_000)

	congested := []*media.EncoderPacket{
		vp(0, true, media.DropPriorityDisposable),
		vp(1_000_000, false, media.DropPriorityDisposable),
	}
	dp.apply(congested)
	if *dp.minPriority != media.DropPriorityHigh {
		t.Fatalf("expected floor raised to HIGH after congestion, got %d", *dp.minPriority)
	}

	withNewKeyframe := []*media.EncoderPacket{
		vp(0, true, media.DropPriorityDisposable),
	}
	dp.apply(withNewKeyframe)
	if *dp.minPriority != media.DropPriorityDisposable {
		t.Fatalf("expected floor cleared after a surviving keyframe, got %d", *dp.minPriority)
	}
}

func TestDropPolicyNoDropBelowThreshold(t *testing.T) {
	t.Parallel()
	dp := newDropPolicy(700_000, 900_000)
	buf := []*media.EncoderPacket{
		vp(0, true, media.DropPriorityDisposable),
		vp(100_000, false, media.DropPriorityDisposable),
	}
	out := dp.apply(buf)
	if len(out) != len(buf) {
		t.Fatalf("expected no drops under threshold, got %d of %d", len(out), len(buf))
	}
}

func TestDBRControllerReducesBitrateUnderSustainedLoad(t *testing.T) {
	t.Parallel()
	var got int
	d := newDBRController(2*time.Second, 160, 4000, func(kbps int) { got = kbps })

	base := time.Now()
	// 1500 kbps sustained over 1.5s of samples.
	totalBytes := 1500 * 1000 * 1500 / 1000 / 8 // bits/s * s / 8 = bytes
	d.observe(base, base.Add(1500*time.Millisecond), totalBytes, 250_000)

	if got == 0 {
		t.Fatal("expected UpdateBitrate to be called")
	}
	// Raw throughput ~1500kbps, minus the 160kbps audio share = 1340kbps,
	// floored to the nearest 100 (spec §4.8 DBR, scenario S5).
	if got != 1300 {
		t.Fatalf("bitrate = %d, want 1300", got)
	}
	if !d.armed {
		t.Fatal("expected a 30s inc-timer armed after a bitrate reduction")
	}
}
