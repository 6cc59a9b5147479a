// Package compositor implements core_render (spec §4.2): the render-thread
// loop that draws every enabled video source into a canvas texture each
// frame, optionally scales to the configured output resolution, converts
// to planar YUV when required, and publishes the result onto the video
// output ring and the GPU-encode texture queue.
package compositor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/lite-obs/clock"
	"github.com/zsiec/lite-obs/gfx"
	"github.com/zsiec/lite-obs/media"
	"github.com/zsiec/lite-obs/source"
	"github.com/zsiec/lite-obs/videoring"
)

// scaleCloseness is the per-axis pixel tolerance under which the canvas ->
// output resize uses the passthrough program instead of the bicubic
// scaler (spec §4.2 step 4).
const scaleCloseness = 16

// Config configures a Compositor run (spec §4.2, §3 "Canvas").
type Config struct {
	CanvasWidth, CanvasHeight int
	OutputWidth, OutputHeight int
	FPSNum, FPSDen            int
	Format                    media.PixelFormat // RGBA or a planar format
	ColorSpace                media.ColorSpace
	ColorRange                media.ColorRange

	ReadbackLatency    int // frames of delay before a slot's planes are read back (spec §4.2 step 8)
	RingSize           int // video output ring slot count, media.VideoRingSize by default
	GPUEncodeQueueSize int // media.GPUEncodeQueueSize by default

	ThreadToken int64 // passed to gfx.Manager.WithContext for every render-thread call
}

func (c *Config) setDefaults() {
	if c.RingSize <= 0 {
		c.RingSize = media.VideoRingSize
	}
	if c.GPUEncodeQueueSize <= 0 {
		c.GPUEncodeQueueSize = media.GPUEncodeQueueSize
	}
	if c.FPSNum <= 0 {
		c.FPSNum = 30
	}
	if c.FPSDen <= 0 {
		c.FPSDen = 1
	}
}

// frameSlot holds one frame-in-flight's planes between the render step
// that fills it and the later step that reads it back (spec §4.2 steps 7
// and 8: "stage-copy planes into the current slot" / "mapped... at the
// start of frame N+1").
type frameSlot struct {
	filled      bool
	timestampNS int64
	count       int64
	width       int
	height      int
	format      media.PixelFormat
	planes      [][]byte
	linesize    []int
}

// Compositor owns the render-thread GPU resources and drives the
// per-frame render loop described in spec §4.2.
type Compositor struct {
	cfg Config
	log *slog.Logger

	mgr      *gfx.Manager
	registry *source.Registry

	ring         *videoring.Ring
	textureQueue *videoring.TextureQueue

	pacer *clock.Pacer

	canvasTex *gfx.Texture
	outputTex *gfx.Texture // == canvasTex when dimensions match

	quad            *gfx.VertexBuffer
	sourceProgram   *gfx.Program
	passthroughProg *gfx.Program
	bicubicProg     *gfx.Program

	asyncTex map[uuid.UUID]*gfx.Texture
	scalers  map[uuid.UUID]*rgbaScaler

	rgbaStage *gfx.StageSurface

	slots    []*frameSlot
	frameIdx int64

	gpuEncodeActive bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Compositor bound to mgr (the render-thread-scoped GPU
// context), registry (the live source set to draw each frame), and the
// ring/texture-queue it publishes into. GPU resources are allocated
// eagerly so a startup failure is fatal, per spec §4.2 failure semantics.
func New(cfg Config, mgr *gfx.Manager, registry *source.Registry, ring *videoring.Ring, textureQueue *videoring.TextureQueue, log *slog.Logger) (*Compositor, error) {
	cfg.setDefaults()
	if log == nil {
		log = slog.Default()
	}
	c := &Compositor{
		cfg:          cfg,
		log:          log.With("component", "compositor"),
		mgr:          mgr,
		registry:     registry,
		ring:         ring,
		textureQueue: textureQueue,
		pacer:        clock.NewPacer(clock.FrameInterval(cfg.FPSNum, cfg.FPSDen)),
		asyncTex:     make(map[uuid.UUID]*gfx.Texture),
		scalers:      make(map[uuid.UUID]*rgbaScaler),
		slots:        make([]*frameSlot, cfg.RingSize),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}

	err := mgr.WithContext(cfg.ThreadToken, func(ctx gfx.Context) error {
		var err error
		c.canvasTex, err = ctx.TextureCreate(cfg.CanvasWidth, cfg.CanvasHeight, media.PixelFormatRGBA, gfx.TextureFlagRenderTarget)
		if err != nil {
			return fmt.Errorf("compositor: canvas texture: %w", err)
		}
		if cfg.OutputWidth == cfg.CanvasWidth && cfg.OutputHeight == cfg.CanvasHeight {
			c.outputTex = c.canvasTex
		} else {
			c.outputTex, err = ctx.TextureCreate(cfg.OutputWidth, cfg.OutputHeight, media.PixelFormatRGBA, gfx.TextureFlagRenderTarget)
			if err != nil {
				return fmt.Errorf("compositor: output texture: %w", err)
			}
		}

		c.quad = &gfx.VertexBuffer{
			Mode:      gfx.VertexStatic,
			Positions: [][2]float32{{0, 0}, {1, 0}, {1, 1}, {0, 0}, {1, 1}, {0, 1}},
			TexCoords: [][][2]float32{{{0, 0}, {1, 0}, {1, 1}, {0, 0}, {1, 1}, {0, 1}}},
		}
		decl := []gfx.Param{{Name: "tex", Type: gfx.ParamTexture}}
		c.sourceProgram = gfx.NewProgram(1, "source_blit", decl)
		c.passthroughProg = gfx.NewProgram(2, "passthrough", decl)
		c.bicubicProg = gfx.NewProgram(3, "bicubic_scale", decl)

		if cfg.Format != media.PixelFormatRGBA {
			c.rgbaStage, err = ctx.StageSurfaceCreate(cfg.OutputWidth, cfg.OutputHeight, media.PixelFormatRGBA)
			if err != nil {
				return fmt.Errorf("compositor: rgba stage surface: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SetGPUEncodeActive enables or disables texture-queue publication (spec
// §4.2 step 6, §4.4 "Texture-encode subscribers").
func (c *Compositor) SetGPUEncodeActive(active bool) { c.gpuEncodeActive = active }

// RenderFrame executes one pass of the canonical per-frame sequence
// (spec §4.2 steps 1-8) at frame index frameIdx, advancing count logical
// frame intervals and stamping frameClockNS.
func (c *Compositor) RenderFrame(frameIdx, count, frameClockNS int64) error {
	return c.mgr.WithContext(c.cfg.ThreadToken, func(ctx gfx.Context) error {
		// Step 8 (read first): the slot filled (readback_latency) frames
		// ago is now ready to be mapped and published.
		c.readback(ctx, frameIdx)

		// Step 1: advance async sources, uploading any newly selected
		// frame to its source-owned texture.
		for _, vs := range c.registry.OrderedVideo() {
			if vs.Kind != source.KindVideoAsync {
				continue
			}
			vs.AdvanceTo(frameClockNS)
			if err := c.uploadAsync(ctx, vs); err != nil {
				c.log.Warn("async source upload failed", "source", vs.ID, "error", err)
			}
		}

		// Step 2.
		canvasFB, err := ctx.FramebufferFor(c.canvasTex)
		if err != nil {
			return fmt.Errorf("compositor: canvas framebuffer: %w", err)
		}
		ctx.BindFramebuffer(canvasFB)
		ctx.PushBlend(false)
		ctx.Clear(0, 0, 0, 1)
		ctx.PopBlend()

		// Step 3.
		for _, vs := range c.registry.OrderedVideo() {
			if !vs.Enabled() {
				continue
			}
			c.drawSource(ctx, vs)
		}

		// Step 4.
		if c.outputTex != c.canvasTex {
			if err := c.scaleToOutput(ctx); err != nil {
				return err
			}
		}

		// Steps 5-7.
		slot := &frameSlot{timestampNS: frameClockNS, count: count, width: c.cfg.OutputWidth, height: c.cfg.OutputHeight, format: c.cfg.Format}
		rgba, stride, err := c.readOutputRGBA(ctx)
		if err != nil {
			return fmt.Errorf("compositor: readback output: %w", err)
		}
		if c.cfg.Format == media.PixelFormatRGBA {
			slot.planes, slot.linesize = [][]byte{rgba}, []int{stride}
		} else {
			slot.planes, slot.linesize = rgbaToPlanar(rgba, stride, c.cfg.OutputWidth, c.cfg.OutputHeight, c.cfg.Format, c.cfg.ColorSpace, c.cfg.ColorRange)
		}
		slot.filled = true

		// Step 6.
		if c.gpuEncodeActive && c.textureQueue != nil {
			c.textureQueue.Enqueue(gfx.TextureHandle(c.outputTex.Handle), frameClockNS)
		}

		c.slots[frameIdx%int64(len(c.slots))] = slot
		return nil
	})
}

// readback implements step 8: the slot filled readback_latency frames
// before frameIdx is now due, so map its planes into the output ring.
func (c *Compositor) readback(ctx gfx.Context, frameIdx int64) {
	due := frameIdx - int64(c.cfg.ReadbackLatency)
	if due < 0 {
		return
	}
	slot := c.slots[due%int64(len(c.slots))]
	if slot == nil || !slot.filled {
		return
	}

	s := c.ring.LockFrame(slot.count, slot.timestampNS)
	if s == nil {
		c.log.Warn("video ring back-pressure, dropping frame", "ts", slot.timestampNS)
		return
	}
	f := s.Frame()
	f.TimestampNS = slot.timestampNS
	f.Width, f.Height = slot.width, slot.height
	f.Format = slot.format
	f.ColorSpace, f.ColorRange = c.cfg.ColorSpace, c.cfg.ColorRange
	f.Planes, f.LineSize = slot.planes, slot.linesize
	c.ring.UnlockFrame(s)
}

func (c *Compositor) uploadAsync(ctx gfx.Context, vs *source.VideoSource) error {
	frame := vs.CurrentFrame()
	if frame == nil {
		return nil
	}

	tex, ok := c.asyncTex[vs.ID]
	if !ok || tex.Width != frame.Width || tex.Height != frame.Height {
		if ok {
			ctx.TextureDestroy(tex)
		}
		var err error
		tex, err = ctx.TextureCreate(frame.Width, frame.Height, media.PixelFormatRGBA, gfx.TextureFlagDynamic)
		if err != nil {
			return err
		}
		c.asyncTex[vs.ID] = tex
	}

	if frame.Format == media.PixelFormatRGBA {
		return ctx.TextureUpload(tex, frame.Planes, frame.LineSize)
	}

	astiavFmt, err := astiavPixelFormat(frame.Format)
	if err != nil {
		return err
	}
	scaler, ok := c.scalers[vs.ID]
	if !ok {
		scaler = &rgbaScaler{}
		c.scalers[vs.ID] = scaler
	}
	rgba, err := scaler.convert(frame.Planes, frame.LineSize, frame.Width, frame.Height, astiavFmt)
	if err != nil {
		return err
	}
	return ctx.TextureUpload(tex, [][]byte{rgba}, []int{frame.Width * 4})
}

func (c *Compositor) drawSource(ctx gfx.Context, vs *source.VideoSource) {
	var tex gfx.TextureHandle
	var w, h int
	switch vs.Kind {
	case source.KindVideoAsync:
		t, ok := c.asyncTex[vs.ID]
		if !ok {
			return
		}
		tex, w, h = t.Handle, t.Width, t.Height
	default:
		var hasTex bool
		tex, w, h, hasTex = vs.CurrentTexture()
		if !hasTex {
			return
		}
	}

	model := vs.Transform().Matrix(float32(w), float32(h))
	guard := gfx.PushModelGuarded(ctx, model)
	defer guard.Release()

	if err := c.sourceProgram.SetParam("tex", gfx.ParamTexture, tex); err != nil {
		c.log.Warn("set source texture param", "error", err)
		return
	}
	if err := ctx.ProgramUpload(c.sourceProgram, true); err != nil {
		c.log.Warn("upload source program", "error", err)
		return
	}
	ctx.PushBlend(true)
	defer ctx.PopBlend()
	if err := ctx.Draw(c.sourceProgram, c.quad, model); err != nil {
		c.log.Warn("draw source failed, skipping frame for this source", "source", vs.ID, "error", err)
	}
}

// scaleToOutput implements step 4: draw the canvas into the output
// texture, picking the passthrough program when dimensions are within
// scaleCloseness pixels on both axes, otherwise the bicubic scaler.
func (c *Compositor) scaleToOutput(ctx gfx.Context) error {
	dw := c.cfg.OutputWidth - c.cfg.CanvasWidth
	dh := c.cfg.OutputHeight - c.cfg.CanvasHeight
	prog := c.bicubicProg
	if abs(dw) <= scaleCloseness && abs(dh) <= scaleCloseness {
		prog = c.passthroughProg
	}

	outFB, err := ctx.FramebufferFor(c.outputTex)
	if err != nil {
		return fmt.Errorf("compositor: output framebuffer: %w", err)
	}
	ctx.BindFramebuffer(outFB)
	if err := prog.SetParam("tex", gfx.ParamTexture, gfx.TextureHandle(c.canvasTex.Handle)); err != nil {
		return err
	}
	if err := ctx.ProgramUpload(prog, true); err != nil {
		return err
	}
	identity := [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
	return ctx.Draw(prog, c.quad, identity)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// readOutputRGBA copies the output texture into the compositor's RGBA
// stage surface (or, when the output format already is RGBA, into a
// throwaway one-shot stage surface) and returns its mapped bytes.
func (c *Compositor) readOutputRGBA(ctx gfx.Context) ([]byte, int, error) {
	stage := c.rgbaStage
	if stage == nil {
		var err error
		stage, err = ctx.StageSurfaceCreate(c.cfg.OutputWidth, c.cfg.OutputHeight, media.PixelFormatRGBA)
		if err != nil {
			return nil, 0, err
		}
	}
	if err := ctx.StageSurfaceCopyFrom(stage, c.outputTex); err != nil {
		return nil, 0, err
	}
	data, linesize, err := ctx.StageSurfaceMap(stage)
	if err != nil {
		return nil, 0, err
	}
	defer ctx.StageSurfaceUnmap(stage)
	out := append([]byte(nil), data...)
	return out, linesize, nil
}

// Run drives the render loop at the configured frame rate until ctx is
// canceled or Stop is called, pacing via clock.Pacer and tracking lagged
// frames under overload (spec §4.2 "Pacing").
func (c *Compositor) Run(ctx context.Context) error {
	defer close(c.doneCh)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		default:
		}

		count, frameClockNS := c.pacer.Next(func(d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			case <-c.stopCh:
			}
		})

		if count > 1 {
			c.log.Warn("render loop missed deadline", "lagged_frames", count-1)
		}

		if err := c.RenderFrame(c.frameIdx, count, frameClockNS); err != nil {
			c.log.Error("render frame failed", "frame", c.frameIdx, "error", err)
		}
		c.frameIdx++
	}
}

// Stop signals Run to exit after its current frame.
func (c *Compositor) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}

// Done reports the channel closed once Run has returned.
func (c *Compositor) Done() <-chan struct{} { return c.doneCh }
