package source

import "math"

// Fit selects how a source's content is mapped into its render box when
// the content's aspect ratio doesn't match the box (spec §3 "aspect-ratio-
// fit policy").
type Fit int

const (
	FitIgnore Fit = iota
	FitKeep
	FitKeepByExpanding
)

// Flip selects which axes a source is mirrored across.
type Flip struct {
	Horizontal bool
	Vertical   bool
}

// RenderBox is the axis-aligned box a source's content is fit into before
// the rest of its transform is applied.
type RenderBox struct {
	X, Y, W, H float32
	Fit        Fit
}

// Transform is one video source's affine placement: scale about the
// origin, then rotate about the origin, then flip per axis, then
// translate to (X, Y). When a render box is set, its fit scale is
// multiplied into the scale step and the box origin is added to the
// translation; the fit is not applied as a separate step after the
// translation. The order is fixed; there is no general affine composition
// API (spec §4.3).
type Transform struct {
	X, Y       float32
	ScaleX     float32
	ScaleY     float32
	RotationRad float32
	Flip       Flip
	Box        RenderBox
	HasBox     bool
}

// NewTransform returns the identity transform (unit scale, no rotation, no
// flip, origin position, no render box).
func NewTransform() Transform {
	return Transform{ScaleX: 1, ScaleY: 1}
}

// Matrix computes the model matrix (column-major 4x4, matching gfx's
// model-stack convention) for this transform applied to content of size
// (contentW, contentH).
func (t Transform) Matrix(contentW, contentH float32) [16]float32 {
	sx, sy := t.ScaleX, t.ScaleY
	if t.HasBox && contentW > 0 && contentH > 0 {
		bx, by := fitScale(contentW, contentH, t.Box.W, t.Box.H, t.Box.Fit)
		sx *= bx
		sy *= by
	}
	fx, fy := float32(1), float32(1)
	if t.Flip.Horizontal {
		fx = -1
	}
	if t.Flip.Vertical {
		fy = -1
	}

	cos, sin := float32(math.Cos(float64(t.RotationRad))), float32(math.Sin(float64(t.RotationRad)))

	// scale, then rotate, then flip, then translate -- composed
	// right-to-left as the spec's fixed pipeline requires (no
	// caller-visible compose step).
	m00, m01 := fx*cos*sx, -fx*sin*sy
	m10, m11 := fy*sin*sx, fy*cos*sy

	tx, ty := t.X, t.Y
	if t.HasBox {
		tx += t.Box.X
		ty += t.Box.Y
	}

	return [16]float32{
		m00, m10, 0, 0,
		m01, m11, 0, 0,
		0, 0, 1, 0,
		tx, ty, 0, 1,
	}
}

// fitScale computes the (sx, sy) multiplier that maps a contentW x contentH
// box into a boxW x boxH render box under the given Fit policy.
func fitScale(contentW, contentH, boxW, boxH float32, fit Fit) (float32, float32) {
	if boxW <= 0 || boxH <= 0 || contentW <= 0 || contentH <= 0 {
		return 1, 1
	}
	switch fit {
	case FitIgnore:
		return boxW / contentW, boxH / contentH
	case FitKeep:
		s := math32Min(boxW/contentW, boxH/contentH)
		return s, s
	case FitKeepByExpanding:
		s := math32Max(boxW/contentW, boxH/contentH)
		return s, s
	default:
		return 1, 1
	}
}

func math32Min(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func math32Max(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// Order is the movement commands that mutate a video source's position in
// the compositor's z-order list (spec §3 "Source ordering").
type Order int

const (
	OrderToTop Order = iota
	OrderToBottom
	OrderUpOne
	OrderDownOne
)
