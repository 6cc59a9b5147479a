package encoder

import (
	"errors"
	"testing"
)

func TestNewVideoEncoderRejectsZeroDimensions(t *testing.T) {
	t.Parallel()
	_, err := NewVideoEncoder(VariantH264Software, 0, 720, 30, 1, 4000, 0)
	if !errors.Is(err, ErrBadConfig) {
		t.Fatalf("err = %v, want ErrBadConfig", err)
	}
}

func TestNewVideoEncoderRejectsUnknownVariant(t *testing.T) {
	t.Parallel()
	_, err := NewVideoEncoder(VideoVariant("bogus"), 1280, 720, 30, 1, 4000, 0)
	if !errors.Is(err, ErrBadConfig) {
		t.Fatalf("err = %v, want ErrBadConfig", err)
	}
}

func TestVideoEncoderSEIInjectionGating(t *testing.T) {
	t.Parallel()
	e := &VideoEncoder{}
	e.SetSEI([]byte{0xAA, 0xBB}, 3)
	if string(e.GetSEIData()) != string([]byte{0xAA, 0xBB}) {
		t.Fatal("expected SEI payload stored")
	}
	if e.seiRate != 3 {
		t.Fatalf("seiRate = %d, want 3", e.seiRate)
	}
}

func TestVideoEncoderPairing(t *testing.T) {
	t.Parallel()
	v := &VideoEncoder{}
	a := &AudioEncoder{}
	v.PairWith(a)
	if v.Pair() != a {
		t.Fatal("expected paired audio encoder")
	}
}

func TestVideoEncoderGPUEncodeAvailableDefaultsFalse(t *testing.T) {
	t.Parallel()
	e := &VideoEncoder{variant: VariantH264Software}
	if e.GPUEncodeAvailable() {
		t.Fatal("software variant should never report GPU encode available")
	}
}

func TestVideoEncoderGetExtradataNotReady(t *testing.T) {
	t.Parallel()
	e := &VideoEncoder{}
	if _, _, err := e.GetExtradata(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestVideoEncoderUpdateBitrateOnClosedEncoderIsNoop(t *testing.T) {
	t.Parallel()
	e := &VideoEncoder{}
	e.UpdateBitrate(2000) // ctx is nil; must not panic
}
