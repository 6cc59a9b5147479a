package gfx

import "testing"

func TestProgramSetParamTypeCheck(t *testing.T) {
	t.Parallel()
	p := NewProgram(1, "convert", []Param{{Name: "colorMatrix", Type: ParamMat4}})
	if err := p.SetParam("colorMatrix", ParamMat4, [16]float32{}); err != nil {
		t.Fatalf("SetParam: %v", err)
	}
	if err := p.SetParam("colorMatrix", ParamFloat, 1.0); err == nil {
		t.Fatal("expected type mismatch error")
	}
	if err := p.SetParam("missing", ParamFloat, 1.0); err == nil {
		t.Fatal("expected error for undeclared parameter")
	}
}

func TestProgramDirtyTracking(t *testing.T) {
	t.Parallel()
	p := NewProgram(1, "convert", []Param{{Name: "scale", Type: ParamFloat}})
	if len(p.DirtyParams()) != 0 {
		t.Fatal("expected no dirty params initially")
	}
	_ = p.SetParam("scale", ParamFloat, 2.0)
	if len(p.DirtyParams()) != 1 {
		t.Fatal("expected one dirty param after SetParam")
	}
	p.ClearDirty()
	if len(p.DirtyParams()) != 0 {
		t.Fatal("expected no dirty params after ClearDirty")
	}
}

func TestManagerWithContextReentrant(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	depth := 0
	err := m.WithContext(1, func(Context) error {
		depth++
		return m.WithContext(1, func(Context) error {
			depth++
			return nil
		})
	})
	if err != nil {
		t.Fatalf("WithContext: %v", err)
	}
	if depth != 2 {
		t.Fatalf("depth = %d, want 2", depth)
	}
	if m.owner != 0 {
		t.Fatal("expected context released after outermost call returns")
	}
}

func TestMatrixGuardReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	var pushed, popped int
	ctx := &countingContext{onPush: func() { pushed++ }, onPop: func() { popped++ }}
	g := PushModelGuarded(ctx, [16]float32{})
	g.Release()
	g.Release()
	if pushed != 1 || popped != 1 {
		t.Fatalf("pushed=%d popped=%d, want 1,1", pushed, popped)
	}
}

// countingContext is a minimal Context stub used only to test MatrixGuard.
type countingContext struct {
	Context
	onPush, onPop func()
}

func (c *countingContext) PushModel(m [16]float32) { c.onPush() }
func (c *countingContext) PopModel()               { c.onPop() }
