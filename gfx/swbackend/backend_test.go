package swbackend

import (
	"testing"

	"github.com/zsiec/lite-obs/gfx"
	"github.com/zsiec/lite-obs/media"
)

func TestTextureCreateAndCopy(t *testing.T) {
	t.Parallel()
	b := New()
	src, err := b.TextureCreate(4, 4, media.PixelFormatRGBA, gfx.TextureFlagNone)
	if err != nil {
		t.Fatalf("TextureCreate: %v", err)
	}
	dst, err := b.TextureCreate(4, 4, media.PixelFormatRGBA, gfx.TextureFlagNone)
	if err != nil {
		t.Fatalf("TextureCreate: %v", err)
	}
	if err := b.TextureCopy(dst, src); err != nil {
		t.Fatalf("TextureCopy: %v", err)
	}
}

func TestTextureCreateZeroDimensionsFails(t *testing.T) {
	t.Parallel()
	b := New()
	if _, err := b.TextureCreate(0, 0, media.PixelFormatRGBA, gfx.TextureFlagNone); err == nil {
		t.Fatal("expected error for zero-dimension texture")
	}
}

func TestStageSurfaceMapBusy(t *testing.T) {
	t.Parallel()
	b := New()
	s, err := b.StageSurfaceCreate(4, 4, media.PixelFormatRGBA)
	if err != nil {
		t.Fatalf("StageSurfaceCreate: %v", err)
	}
	if _, _, err := b.StageSurfaceMap(s); err != nil {
		t.Fatalf("first map: %v", err)
	}
	if _, _, err := b.StageSurfaceMap(s); err != gfx.ErrMappingBusy {
		t.Fatalf("second map: got %v, want ErrMappingBusy", err)
	}
	b.StageSurfaceUnmap(s)
	if _, _, err := b.StageSurfaceMap(s); err != nil {
		t.Fatalf("map after unmap: %v", err)
	}
}

func TestFramebufferForIsCached(t *testing.T) {
	t.Parallel()
	b := New()
	tex, _ := b.TextureCreate(4, 4, media.PixelFormatRGBA, gfx.TextureFlagRenderTarget)
	fb1, err := b.FramebufferFor(tex)
	if err != nil {
		t.Fatalf("FramebufferFor: %v", err)
	}
	fb2, err := b.FramebufferFor(tex)
	if err != nil {
		t.Fatalf("FramebufferFor: %v", err)
	}
	if fb1 != fb2 {
		t.Error("expected attaching the same texture twice to return the same framebuffer")
	}
}
