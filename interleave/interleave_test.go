package interleave

import (
	"testing"

	"github.com/zsiec/lite-obs/media"
)

func pkt(typ media.PacketType, dtsMs int64, keyframe bool) *media.EncoderPacket {
	return &media.EncoderPacket{
		Type:        typ,
		DTS:         dtsMs,
		TimebaseNum: 1,
		TimebaseDen: 1000, // dts already in ms -> dts_usec = dts*1000
		Keyframe:    keyframe,
	}
}

func typesAndTS(pkts []*media.EncoderPacket) []string {
	out := make([]string, len(pkts))
	for i, p := range pkts {
		tag := "A"
		if p.Type == media.PacketVideo {
			tag = "V"
		}
		out[i] = tag
	}
	return out
}

// S3 — Interleaver cold start.
func TestInterleaverColdStartS3(t *testing.T) {
	t.Parallel()
	il := New()

	il.Push(pkt(media.PacketVideo, 100, true))
	il.Push(pkt(media.PacketAudio, 95, false))
	il.Push(pkt(media.PacketAudio, 105, false))
	il.Push(pkt(media.PacketAudio, 115, false))
	il.Push(pkt(media.PacketVideo, 133, false))

	// V@133 has no opposing (audio) packet newer than it yet, so the
	// emission rule (spec §4.7 step 5) holds it back; only the first three
	// packets are eligible, with A@95 already pruned as premature.
	out := il.Emit()
	if len(out) != 3 {
		t.Fatalf("got %d packets, want 3: %v", len(out), typesAndTS(out))
	}

	wantType := []media.PacketType{media.PacketVideo, media.PacketAudio, media.PacketAudio}
	wantDTSUsec := []int64{0, 0, 10_000} // each type's dts_usec offset to its own stream start
	for i, p := range out {
		if p.Type != wantType[i] {
			t.Fatalf("packet %d type = %v, want %v", i, p.Type, wantType[i])
		}
		if p.DTSUsec != wantDTSUsec[i] {
			t.Fatalf("packet %d dts_usec = %d, want %d", i, p.DTSUsec, wantDTSUsec[i])
		}
	}

	if il.Len() != 1 {
		t.Fatalf("expected the trailing video packet still buffered, got len %d", il.Len())
	}
}

func TestInterleaverDropsNonKeyframeBeforeStart(t *testing.T) {
	t.Parallel()
	il := New()
	il.Push(pkt(media.PacketVideo, 50, false)) // non-keyframe, dropped
	if il.Started() {
		t.Fatal("should not start on a dropped non-keyframe packet")
	}
	if il.Len() != 0 {
		t.Fatalf("buffer len = %d, want 0", il.Len())
	}
}

func TestInterleaverNotStartedUntilBothTypesPresent(t *testing.T) {
	t.Parallel()
	il := New()
	il.Push(pkt(media.PacketVideo, 100, true))
	if il.Started() {
		t.Fatal("should not start with only video present")
	}
	if out := il.Emit(); out != nil {
		t.Fatal("should not emit before start")
	}
}

func TestInterleaverTieBreaksVideoFirst(t *testing.T) {
	t.Parallel()
	il := New()
	il.Push(pkt(media.PacketVideo, 100, true))
	il.Push(pkt(media.PacketAudio, 100, false))
	if !il.Started() {
		t.Fatal("expected interleaver started")
	}
	il.Push(pkt(media.PacketAudio, 200, false))

	// Only the tied video packet has an opposing (audio) packet strictly
	// newer than it buffered; the two audio packets have no opposing video
	// newer than them yet, so they wait.
	out := il.Emit()
	if len(out) != 1 {
		t.Fatalf("expected exactly 1 emitted packet, got %d", len(out))
	}
	if out[0].Type != media.PacketVideo {
		t.Fatalf("expected video first at tie, got %v", out[0].Type)
	}
	if il.Len() != 2 {
		t.Fatalf("expected 2 packets still buffered, got %d", il.Len())
	}
}
