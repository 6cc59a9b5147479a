package source

import (
	"testing"

	astiav "github.com/asticode/go-astiav"

	"github.com/zsiec/lite-obs/resample"
)

func testDstSpec() resample.Spec {
	return resample.Spec{
		SampleRate:    48000,
		SampleFormat:  astiav.SampleFormatFltp,
		ChannelLayout: astiav.ChannelLayoutStereo,
	}
}

func TestAudioSourceOutputAudioRejectsBadMixSlot(t *testing.T) {
	t.Parallel()
	as := NewAudioSource(testDstSpec())
	err := as.OutputAudio(-1, nil, 0, astiav.SampleFormatFltp, astiav.ChannelLayoutStereo, 48000, 0)
	if err == nil {
		t.Fatal("expected error for negative mix slot")
	}
	err = as.OutputAudio(999, nil, 0, astiav.SampleFormatFltp, astiav.ChannelLayoutStereo, 48000, 0)
	if err == nil {
		t.Fatal("expected error for out-of-range mix slot")
	}
}

func TestAudioSourceOutputAudioBuffersPerChannel(t *testing.T) {
	t.Parallel()
	as := NewAudioSource(testDstSpec())
	left := make([]byte, 256)
	right := make([]byte, 256)
	for i := range left {
		left[i] = byte(i)
	}
	if err := as.OutputAudio(0, [][]byte{left, right}, 64, astiav.SampleFormatFltp, astiav.ChannelLayoutStereo, 48000, 12345); err != nil {
		t.Fatalf("OutputAudio: %v", err)
	}

	lr := as.Ring(0, 0)
	if lr == nil || lr.Len() != len(left) {
		t.Fatalf("left ring len = %v, want %d", lr, len(left))
	}
	rr := as.Ring(0, 1)
	if rr == nil || rr.Len() != len(right) {
		t.Fatalf("right ring len = %v, want %d", rr, len(right))
	}
	if as.LastTimestampNS() != 12345 {
		t.Fatalf("LastTimestampNS = %d, want 12345", as.LastTimestampNS())
	}
}

func TestAudioSourceRingUnknownSlot(t *testing.T) {
	t.Parallel()
	as := NewAudioSource(testDstSpec())
	if r := as.Ring(0, 0); r != nil {
		t.Fatal("expected nil ring before any OutputAudio call")
	}
}

func TestAudioSourceClose(t *testing.T) {
	t.Parallel()
	as := NewAudioSource(testDstSpec())
	_ = as.OutputAudio(0, [][]byte{{1, 2, 3}}, 1, astiav.SampleFormatFltp, astiav.ChannelLayoutStereo, 48000, 0)
	as.Close()
}
