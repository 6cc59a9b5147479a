// Package swbackend is a CPU-backed implementation of gfx.Context, used
// when no real GL/EGL binding is linked in. It renders onto image.RGBA
// buffers with golang.org/x/image/draw instead of GPU shaders, so the
// compositor's data flow (spec §4.2) is fully exercisable and testable
// without a graphics driver.
package swbackend

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/zsiec/lite-obs/gfx"
	"github.com/zsiec/lite-obs/media"
)

var nextHandle atomic.Uint64

func allocHandle() uint64 { return nextHandle.Add(1) }

// Backend is a single-threaded CPU compositor context.
type Backend struct {
	mu       sync.Mutex
	images   map[gfx.TextureHandle]*image.RGBA
	fbCache  map[gfx.TextureHandle]*gfx.Framebuffer
	stageSrc map[uint64]*stageState
	current  *image.RGBA // bound render target

	modelStack    [][16]float32
	blendStack    []bool
	viewportStack [][4]int
}

type stageState struct {
	data   []byte
	w, h   int
	format media.PixelFormat
}

// New creates an empty CPU backend.
func New() *Backend {
	return &Backend{
		images:   make(map[gfx.TextureHandle]*image.RGBA),
		fbCache:  make(map[gfx.TextureHandle]*gfx.Framebuffer),
		stageSrc: make(map[uint64]*stageState),
	}
}

func (b *Backend) TextureCreate(w, h int, format media.PixelFormat, flags gfx.TextureFlags) (*gfx.Texture, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("gfx/swbackend: %w: invalid dimensions %dx%d", gfx.ErrOutOfResources, w, h)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h64 := gfx.TextureHandle(allocHandle())
	b.images[h64] = image.NewRGBA(image.Rect(0, 0, w, h))
	return &gfx.Texture{Handle: h64, Width: w, Height: h, Format: format, Flags: flags}, nil
}

func (b *Backend) TextureDestroy(t *gfx.Texture) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.images, t.Handle)
	delete(b.fbCache, t.Handle)
}

func (b *Backend) TextureCopy(dst, src *gfx.Texture) error {
	if dst.Width != src.Width || dst.Height != src.Height || dst.Format != src.Format {
		return fmt.Errorf("gfx/swbackend: TextureCopy: format/dimension mismatch")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	dstImg, srcImg := b.images[dst.Handle], b.images[src.Handle]
	if dstImg == nil || srcImg == nil {
		return fmt.Errorf("gfx/swbackend: TextureCopy: unknown texture")
	}
	copy(dstImg.Pix, srcImg.Pix)
	return nil
}

// TextureUpload copies a CPU frame's planes into an RGBA texture, used by
// the compositor to host async video sources (decoded CPU frames) before
// drawing them like any other texture source. Only RGBA uploads are
// supported directly; planar sources are expected to have already been
// converted to RGBA by the caller, matching the real GL backend's texture
// upload path (a planar upload would otherwise need its own shader pass).
func (b *Backend) TextureUpload(t *gfx.Texture, planes [][]byte, linesize []int) error {
	if len(planes) == 0 {
		return fmt.Errorf("gfx/swbackend: TextureUpload: no planes")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	img, ok := b.images[t.Handle]
	if !ok {
		return fmt.Errorf("gfx/swbackend: TextureUpload: unknown texture")
	}
	src, stride := planes[0], t.Width*4
	if len(linesize) > 0 && linesize[0] > 0 {
		stride = linesize[0]
	}
	for y := 0; y < t.Height; y++ {
		srcOff := y * stride
		dstOff := y * img.Stride
		if srcOff+t.Width*4 > len(src) || dstOff+t.Width*4 > len(img.Pix) {
			break
		}
		copy(img.Pix[dstOff:dstOff+t.Width*4], src[srcOff:srcOff+t.Width*4])
	}
	return nil
}

func (b *Backend) FramebufferFor(t *gfx.Texture) (*gfx.Framebuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fb, ok := b.fbCache[t.Handle]; ok {
		return fb, nil
	}
	fb := &gfx.Framebuffer{Handle: allocHandle(), Texture: t.Handle, Width: t.Width, Height: t.Height, Format: t.Format}
	b.fbCache[t.Handle] = fb
	return fb, nil
}

func (b *Backend) BindFramebuffer(fb *gfx.Framebuffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.images[fb.Texture]
}

func (b *Backend) Clear(r, g, bch, a float32) {
	b.mu.Lock()
	img := b.current
	b.mu.Unlock()
	if img == nil {
		return
	}
	c := color.RGBA{R: to8(r), G: to8(g), B: to8(bch), A: to8(a)}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
}

func to8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v * 255)
}

func (b *Backend) StageSurfaceCreate(w, h int, format media.PixelFormat) (*gfx.StageSurface, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handle := allocHandle()
	b.stageSrc[handle] = &stageState{w: w, h: h, format: format}
	return &gfx.StageSurface{Handle: handle, Width: w, Height: h, Format: format}, nil
}

func (b *Backend) StageSurfaceMap(s *gfx.StageSurface) ([]byte, int, error) {
	b.mu.Lock()
	st, ok := b.stageSrc[s.Handle]
	b.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("gfx/swbackend: unknown stage surface")
	}
	s.mu.Lock()
	if s.mapped {
		s.mu.Unlock()
		return nil, 0, gfx.ErrMappingBusy
	}
	s.mapped = true
	s.mu.Unlock()
	return st.data, st.w * 4, nil
}

func (b *Backend) StageSurfaceUnmap(s *gfx.StageSurface) {
	s.mu.Lock()
	s.mapped = false
	s.mu.Unlock()
}

func (b *Backend) StageSurfaceCopyFrom(s *gfx.StageSurface, t *gfx.Texture) error {
	b.mu.Lock()
	img := b.images[t.Handle]
	st := b.stageSrc[s.Handle]
	b.mu.Unlock()
	if img == nil || st == nil {
		return fmt.Errorf("gfx/swbackend: StageSurfaceCopyFrom: unknown resource")
	}
	st.data = append(st.data[:0], img.Pix...)
	return nil
}

func (b *Backend) ProgramUpload(p *gfx.Program, changedOnly bool) error {
	if changedOnly {
		p.ClearDirty()
	}
	return nil
}

// Draw rasterizes the whole of the program's bound "tex" texture into the
// current render target, applying model as an affine transform. vb is not
// read: its positions and texture coordinates do not affect the result.
// This is the CPU
// stand-in for the vertex/fragment shader pass the spec's real GL backend
// would run.
func (b *Backend) Draw(p *gfx.Program, vb *gfx.VertexBuffer, model [16]float32) error {
	b.mu.Lock()
	dst := b.current
	var src *image.RGBA
	if v, ok := p.Param("tex"); ok {
		if tp, ok := v.(gfx.TextureHandle); ok {
			src = b.images[tp]
		}
	}
	b.mu.Unlock()
	if dst == nil || src == nil {
		return nil
	}
	aff := draw.BiLinear
	m := f2d(model)
	aff.Transform(dst, m, src, src.Bounds(), draw.Over, nil)
	return nil
}

// f2d extracts the 2D affine components (scale/rotate/translate) from the
// compositor's column-major 4x4 model matrix for use with x/image/draw's
// 2D affine transform.
func f2d(m [16]float32) draw.Affine2 {
	return draw.Affine2{
		float64(m[0]), float64(m[4]), float64(m[12]),
		float64(m[1]), float64(m[5]), float64(m[13]),
	}
}

func (b *Backend) PushModel(m [16]float32) { b.modelStack = append(b.modelStack, m) }
func (b *Backend) PopModel() {
	if n := len(b.modelStack); n > 0 {
		b.modelStack = b.modelStack[:n-1]
	}
}
func (b *Backend) PushBlend(enabled bool) { b.blendStack = append(b.blendStack, enabled) }
func (b *Backend) PopBlend() {
	if n := len(b.blendStack); n > 0 {
		b.blendStack = b.blendStack[:n-1]
	}
}
func (b *Backend) PushViewport(x, y, w, h int) {
	b.viewportStack = append(b.viewportStack, [4]int{x, y, w, h})
}
func (b *Backend) PopViewport() {
	if n := len(b.viewportStack); n > 0 {
		b.viewportStack = b.viewportStack[:n-1]
	}
}

var _ gfx.Context = (*Backend)(nil)
