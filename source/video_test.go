package source

import (
	"testing"

	"github.com/google/uuid"

	"github.com/zsiec/lite-obs/media"
)

func uuidZero() uuid.UUID { return uuid.UUID{} }

func TestNewTextureSourceIdentity(t *testing.T) {
	t.Parallel()
	vs := NewTextureSource(0)
	if vs.Kind != KindVideoTexture {
		t.Fatalf("Kind = %v, want KindVideoTexture", vs.Kind)
	}
	if !vs.Enabled() {
		t.Fatal("expected new source to be enabled")
	}
	tr := vs.Transform()
	if tr.ScaleX != 1 || tr.ScaleY != 1 {
		t.Fatalf("expected identity scale, got %v/%v", tr.ScaleX, tr.ScaleY)
	}
}

func TestOutputVideoTextureRoundTrip(t *testing.T) {
	t.Parallel()
	vs := NewTextureSource(0)
	vs.OutputVideoTexture(42, 1920, 1080)
	tex, w, h, ok := vs.CurrentTexture()
	if !ok || tex != 42 || w != 1920 || h != 1080 {
		t.Fatalf("CurrentTexture = %v %v %v %v", tex, w, h, ok)
	}
}

func TestAsyncSourceOutOfOrderRejected(t *testing.T) {
	t.Parallel()
	vs := NewAsyncSource(0)
	if err := vs.OutputVideoFrame(&media.VideoFrame{TimestampNS: 1000}); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if err := vs.OutputVideoFrame(&media.VideoFrame{TimestampNS: 500}); err == nil {
		t.Fatal("expected out-of-order frame to be rejected")
	}
}

func TestAsyncSourceAdvanceToSelectsNewestEligible(t *testing.T) {
	t.Parallel()
	vs := NewAsyncSource(0)
	f1 := &media.VideoFrame{TimestampNS: 1000}
	f2 := &media.VideoFrame{TimestampNS: 2000}
	f3 := &media.VideoFrame{TimestampNS: 3000}
	for _, f := range []*media.VideoFrame{f1, f2, f3} {
		if err := vs.OutputVideoFrame(f); err != nil {
			t.Fatalf("OutputVideoFrame: %v", err)
		}
	}

	vs.AdvanceTo(2500)
	if got := vs.CurrentFrame(); got != f2 {
		t.Fatalf("CurrentFrame = %v, want f2", got)
	}

	vs.AdvanceTo(900)
	if got := vs.CurrentFrame(); got != f2 {
		t.Fatalf("CurrentFrame after stale advance = %v, want f2 (no regression)", got)
	}

	vs.AdvanceTo(3000)
	if got := vs.CurrentFrame(); got != f3 {
		t.Fatalf("CurrentFrame = %v, want f3", got)
	}
}

func TestClearVideoResetsState(t *testing.T) {
	t.Parallel()
	vs := NewTextureSource(0)
	vs.OutputVideoTexture(1, 100, 100)
	vs.ClearVideo()
	if _, _, _, ok := vs.CurrentTexture(); ok {
		t.Fatal("expected no texture after ClearVideo")
	}
}

func TestTransformSetters(t *testing.T) {
	t.Parallel()
	vs := NewTextureSource(0)
	vs.SetPosition(10, 20)
	vs.SetScale(2, 3)
	vs.SetRotation(1.5)
	vs.SetFlip(Flip{Horizontal: true})
	vs.SetRenderBox(0, 0, 640, 480, FitKeep)

	tr := vs.Transform()
	if tr.X != 10 || tr.Y != 20 || tr.ScaleX != 2 || tr.ScaleY != 3 || tr.RotationRad != 1.5 || !tr.Flip.Horizontal || !tr.HasBox {
		t.Fatalf("unexpected transform snapshot: %+v", tr)
	}
}

func TestSetEnabled(t *testing.T) {
	t.Parallel()
	vs := NewTextureSource(0)
	vs.SetEnabled(false)
	if vs.Enabled() {
		t.Fatal("expected source disabled")
	}
}
