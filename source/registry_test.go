package source

import "testing"

func TestRegistryCreateAndRemoveVideo(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	vs := r.CreateVideo(KindVideoTexture)
	if r.VideoCount() != 1 {
		t.Fatalf("VideoCount = %d, want 1", r.VideoCount())
	}
	if _, ok := r.VideoByID(vs.ID); !ok {
		t.Fatal("expected to find created source by id")
	}
	r.RemoveVideo(vs.ID)
	if r.VideoCount() != 0 {
		t.Fatalf("VideoCount after remove = %d, want 0", r.VideoCount())
	}
}

func TestRegistryOrderedVideoSortsByZOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	a := r.CreateVideo(KindVideoTexture)
	b := r.CreateVideo(KindVideoTexture)
	c := r.CreateVideo(KindVideoTexture)

	ordered := r.OrderedVideo()
	if len(ordered) != 3 || ordered[0].ID != a.ID || ordered[1].ID != b.ID || ordered[2].ID != c.ID {
		t.Fatalf("unexpected initial order")
	}
}

func TestRegistryReorderToTop(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	a := r.CreateVideo(KindVideoTexture)
	b := r.CreateVideo(KindVideoTexture)
	c := r.CreateVideo(KindVideoTexture)

	if err := r.Reorder(a.ID, OrderToTop); err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	ordered := r.OrderedVideo()
	if ordered[len(ordered)-1].ID != a.ID {
		t.Fatalf("expected a at top, got order %v %v %v", ordered[0].ID, ordered[1].ID, ordered[2].ID)
	}
	_ = b
	_ = c
}

func TestRegistryReorderUpAndDownOne(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	a := r.CreateVideo(KindVideoTexture)
	b := r.CreateVideo(KindVideoTexture)

	if err := r.Reorder(a.ID, OrderUpOne); err != nil {
		t.Fatalf("Reorder up: %v", err)
	}
	ordered := r.OrderedVideo()
	if ordered[0].ID != b.ID || ordered[1].ID != a.ID {
		t.Fatal("expected a and b swapped after OrderUpOne")
	}

	if err := r.Reorder(a.ID, OrderDownOne); err != nil {
		t.Fatalf("Reorder down: %v", err)
	}
	ordered = r.OrderedVideo()
	if ordered[0].ID != a.ID || ordered[1].ID != b.ID {
		t.Fatal("expected a and b swapped back after OrderDownOne")
	}
}

func TestRegistryReorderUnknownID(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	if err := r.Reorder(uuidZero(), OrderToTop); err == nil {
		t.Fatal("expected error for unknown source id")
	}
}

func TestRegistryCreateAndRemoveAudio(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	as := r.CreateAudio(testDstSpec())
	if r.AudioCount() != 1 {
		t.Fatalf("AudioCount = %d, want 1", r.AudioCount())
	}
	r.RemoveAudio(as.ID)
	if r.AudioCount() != 0 {
		t.Fatalf("AudioCount after remove = %d, want 0", r.AudioCount())
	}
}
