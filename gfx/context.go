// Package gfx defines the minimal GPU resource contract the compositor
// renders against: textures, framebuffers, programs, vertex buffers,
// samplers, stage surfaces, and the matrix/blend/viewport state stacks
// (spec §4.1 "Graphics context and resource layer"). Host-platform GL/EGL
// context creation is out of scope (spec §1); this package specifies only
// the interface a concrete binding must satisfy. gfx/swbackend provides a
// CPU-backed implementation so the compositor is exercisable without one.
package gfx

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zsiec/lite-obs/media"
)

// ErrOutOfResources is returned by TextureCreate when GPU allocation fails.
var ErrOutOfResources = errors.New("gfx: out of resources")

// ErrMappingBusy is returned by StageSurfaceMap when the surface is already
// mapped.
var ErrMappingBusy = errors.New("gfx: stage surface already mapped")

// TextureFlags describes creation-time texture capabilities.
type TextureFlags uint8

const (
	TextureFlagNone         TextureFlags = 0
	TextureFlagDynamic      TextureFlags = 1 << iota
	TextureFlagRenderTarget TextureFlags = 1 << iota
)

// TextureHandle uniquely identifies a GPU texture within one Context.
type TextureHandle uint64

// Texture is an opaque GPU image (spec §3 "Texture").
type Texture struct {
	Handle TextureHandle
	Width  int
	Height int
	Format media.PixelFormat
	Flags  TextureFlags
}

// Framebuffer is a cached (framebuffer, attached-texture) pair keyed by the
// owning texture's identity and dimensions (spec §3 "Framebuffer
// attachment"). Attaching the same texture twice returns the same handle.
type Framebuffer struct {
	Handle     uint64
	Texture    TextureHandle
	Width      int
	Height     int
	Format     media.PixelFormat
	DepthStencil bool
}

// StageSurface is a CPU-readable mirror of a texture, owned by the
// compositor, one per conversion plane per frame-in-flight (spec §3
// "Stage surface").
type StageSurface struct {
	Handle   uint64
	Width    int
	Height   int
	Format   media.PixelFormat
	mapped   bool
	mu       sync.Mutex
}

// ParamType identifies a shader program parameter's data type.
type ParamType int

const (
	ParamFloat ParamType = iota
	ParamVec2
	ParamVec3
	ParamVec4
	ParamMat4
	ParamTexture
	ParamInt
)

// Param is one declared uniform or attribute parameter of a Program,
// tagged with (type, name); Dirty is set whenever SetParam changes Value
// so only changed uniforms are uploaded on the next Upload call.
type Param struct {
	Name  string
	Type  ParamType
	Value any
	Dirty bool
}

// Program is a linked vertex+fragment shader pair plus its declared
// parameters (spec §3 "Program").
type Program struct {
	Handle uint64
	Name   string
	params map[string]*Param
}

// NewProgram creates a Program with the given declared parameters.
func NewProgram(handle uint64, name string, declared []Param) *Program {
	p := &Program{Handle: handle, Name: name, params: make(map[string]*Param, len(declared))}
	for _, d := range declared {
		cp := d
		p.params[d.Name] = &cp
	}
	return p
}

// SetParam type-checks and stores value under name, marking it dirty.
func (p *Program) SetParam(name string, t ParamType, value any) error {
	param, ok := p.params[name]
	if !ok {
		return fmt.Errorf("gfx: program %s has no parameter %q", p.Name, name)
	}
	if param.Type != t {
		return fmt.Errorf("gfx: program %s parameter %q type mismatch", p.Name, name)
	}
	param.Value = value
	param.Dirty = true
	return nil
}

// Param returns the named parameter's current value, for a Context
// implementation to read during Draw.
func (p *Program) Param(name string) (any, bool) {
	v, ok := p.params[name]
	if !ok {
		return nil, false
	}
	return v.Value, true
}

// DirtyParams returns the parameters changed since the last Upload, for a
// Context implementation to upload to the GPU.
func (p *Program) DirtyParams() []*Param {
	var out []*Param
	for _, v := range p.params {
		if v.Dirty {
			out = append(out, v)
		}
	}
	return out
}

// ClearDirty marks all parameters clean, called by Context.ProgramUpload
// after a successful upload.
func (p *Program) ClearDirty() {
	for _, v := range p.params {
		v.Dirty = false
	}
}

// VertexMode selects whether a VertexBuffer's data is uploaded once
// (static) or re-uploaded on every flush (dynamic).
type VertexMode int

const (
	VertexStatic VertexMode = iota
	VertexDynamic
)

// VertexBuffer holds interleaved positions, up to N texture-coordinate
// planes, and optional normal/tangent/color streams (spec §3
// "Vertex buffer").
type VertexBuffer struct {
	Handle     uint64
	Mode       VertexMode
	Positions  [][2]float32
	TexCoords  [][][2]float32 // one slice per texture-coordinate plane
	Normals    [][3]float32
	Colors     [][4]float32
}

// Context is the render-thread-bound GPU API the compositor draws
// through. All methods must be called while the owning thread holds the
// context (see WithContext).
type Context interface {
	TextureCreate(w, h int, format media.PixelFormat, flags TextureFlags) (*Texture, error)
	TextureDestroy(t *Texture)
	TextureCopy(dst, src *Texture) error
	TextureUpload(t *Texture, planes [][]byte, linesize []int) error

	FramebufferFor(t *Texture) (*Framebuffer, error)
	BindFramebuffer(fb *Framebuffer)
	Clear(r, g, b, a float32)

	StageSurfaceCreate(w, h int, format media.PixelFormat) (*StageSurface, error)
	StageSurfaceMap(s *StageSurface) (ptr []byte, linesize int, err error)
	StageSurfaceUnmap(s *StageSurface)
	StageSurfaceCopyFrom(s *StageSurface, t *Texture) error

	ProgramUpload(p *Program, changedOnly bool) error
	Draw(p *Program, vb *VertexBuffer, model [16]float32) error

	PushModel(m [16]float32)
	PopModel()
	PushBlend(enabled bool)
	PopBlend()
	PushViewport(x, y, w, h int)
	PopViewport()
}

// Manager owns a Context bound to one render thread and provides the
// scoped with_context acquisition described in spec §4.1: reentrant from
// the same goroutine, guaranteed release on every exit path.
type Manager struct {
	mu     sync.Mutex
	ctx    Context
	owner  int64 // 0 = unowned; otherwise a caller-supplied thread token
	depth  int
}

// NewManager wraps ctx with scoped, reentrant acquisition.
func NewManager(ctx Context) *Manager {
	return &Manager{ctx: ctx}
}

// WithContext runs f with the context held. Calls from the same thread
// token while already held re-enter without deadlocking; the context is
// only released when the outermost call returns, on every exit path
// including a panic.
func (m *Manager) WithContext(threadToken int64, f func(Context) error) (err error) {
	m.mu.Lock()
	if m.owner != threadToken {
		for m.owner != 0 {
			m.mu.Unlock()
			m.mu.Lock()
		}
		m.owner = threadToken
	}
	m.depth++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.depth--
		if m.depth == 0 {
			m.owner = 0
		}
		m.mu.Unlock()
	}()

	return f(m.ctx)
}

// MatrixGuard balances a PushModel/PopModel pair: Release pops exactly
// once even if called multiple times or after a panic unwinds past it
// (spec §9 "a guard type that pops on drop").
type MatrixGuard struct {
	ctx      Context
	released bool
}

// PushModelGuarded pushes m and returns a guard whose Release pops it.
func PushModelGuarded(ctx Context, m [16]float32) *MatrixGuard {
	ctx.PushModel(m)
	return &MatrixGuard{ctx: ctx}
}

// Release pops the matrix stack if it hasn't been released yet.
func (g *MatrixGuard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.ctx.PopModel()
}
