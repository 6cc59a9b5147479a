// Package orchestrator wires every other package into the reset_video/
// reset_audio/start_output/stop_output API surface described in spec §4.10
// and supervises the thread roles named in spec §5.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	astiav "github.com/asticode/go-astiav"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/lite-obs/audiomix"
	"github.com/zsiec/lite-obs/clock"
	"github.com/zsiec/lite-obs/compositor"
	"github.com/zsiec/lite-obs/encoder"
	"github.com/zsiec/lite-obs/gfx"
	"github.com/zsiec/lite-obs/gfx/swbackend"
	"github.com/zsiec/lite-obs/interleave"
	"github.com/zsiec/lite-obs/media"
	"github.com/zsiec/lite-obs/output"
	"github.com/zsiec/lite-obs/resample"
	"github.com/zsiec/lite-obs/source"
	"github.com/zsiec/lite-obs/videoring"
)

// Errors specific to the orchestrator's own wiring, checked with errors.Is
// alongside the per-layer taxonomies in output/encoder (spec §7).
var (
	ErrBadConfig      = errors.New("orchestrator: bad config")
	ErrNotReady       = errors.New("orchestrator: video or audio not configured")
	ErrAlreadyRunning = errors.New("orchestrator: output already running")
	ErrNotRunning     = errors.New("orchestrator: no output running")
)

// renderThreadToken is the fixed thread token the render-thread goroutine
// passes to gfx.Manager.WithContext; it never changes identity across the
// run, only the goroutine calling WithContext does (the token models
// "the render thread", not a specific OS thread).
const renderThreadToken = int64(1)

// VideoConfig mirrors reset_video(w, h, fps) (spec §4.10). The compositor
// always renders internally in RGBA and reads back I420 so the video
// encoder — fixed to astiav.PixelFormatYuv420P (spec §4.6) — always has a
// compatible frame.
type VideoConfig struct {
	Width, Height int
	FPSNum, FPSDen int
}

// AudioConfig mirrors reset_audio(sample_rate) (spec §4.10). Channels
// defaults to 2 (stereo); the mixer's canonical format is always 32-bit
// float planar (spec §4.5).
type AudioConfig struct {
	SampleRate int
	Channels   int
}

// StartOutputConfig mirrors start_output(type, endpoint, video_kbps,
// audio_kbps, callbacks) (spec §4.10/§6).
type StartOutputConfig struct {
	Endpoint  string
	VideoKbps int
	AudioKbps int

	// VideoVariant selects the encoder implementation; the zero value
	// defaults to encoder.VariantH264Software (spec §4.10 "software H.264
	// unless platform GPU encode is available and requested").
	VideoVariant encoder.VideoVariant

	Callbacks output.Callbacks
	Reconnect output.ReconnectPolicy

	// RTMP-only congestion tuning; zero uses output's defaults.
	DropBUsec, DropPUsec int64
	DBRWindow            time.Duration
}

// Snapshot is a point-in-time debug view of the running orchestrator,
// following the teacher's StreamSnapshot/PipelineDebugStats idiom
// (internal/distribution/server.go, internal/pipeline/pipeline.go) applied
// to this domain's own state instead of stream/viewer state.
type Snapshot struct {
	RunID         uuid.UUID
	VideoWidth    int
	VideoHeight   int
	FPSNum        int
	FPSDen        int
	AudioSampleRate int
	AudioChannels int

	OutputRunning bool
	OutputState   output.State
	OutputURL     string
	InterleaverLen int
	VideoSourceCount int
	AudioSourceCount int
	TextureQueueSkipped int64
	RingSkipped         int64
}

// Orchestrator is the top-level handle analogous to spec §6's `api`
// object: one per logical "stream" being produced, owning the compositor,
// mixer, sources, and at most one active output at a time.
type Orchestrator struct {
	log   *slog.Logger
	runID uuid.UUID

	mu       sync.Mutex
	registry *source.Registry

	videoCfg    VideoConfig
	videoReady  bool
	mgr         *gfx.Manager
	comp        *compositor.Compositor
	ring        *videoring.Ring
	textureQ    *videoring.TextureQueue
	renderCancel context.CancelFunc
	renderDone   chan struct{}

	audioCfg   AudioConfig
	audioReady bool
	mixer      *audiomix.Mixer
	mixerCancel context.CancelFunc
	mixerDone   chan struct{}
	nextMixSlot int

	run *activeRun
}

// activeRun holds everything torn down by StopOutput/Close: the live
// output, its encoders, and the worker goroutines feeding it.
type activeRun struct {
	cancel   context.CancelFunc
	group    *errgroup.Group
	out      *output.Output
	video    *encoder.VideoEncoder
	audio    *encoder.AudioEncoder
	interl   *interleave.Interleaver
	ringUnsub   func()
	mixerUnsub  func()
	url      string
}

// New creates an empty Orchestrator. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		log:      log.With("component", "orchestrator"),
		runID:    uuid.New(),
		registry: source.NewRegistry(log),
	}
}

// ResetVideo configures (or reconfigures) the compositor (spec §4.10
// reset_video). Zero dimensions, a non-positive frame rate, or calling
// this again while an output is running are all BadConfig (spec §9's
// "reset_video while running" open-question resolution).
func (o *Orchestrator) ResetVideo(width, height, fpsNum, fpsDen int) error {
	if width <= 0 || height <= 0 || fpsNum <= 0 || fpsDen <= 0 {
		return fmt.Errorf("%w: width/height/fps must be positive", ErrBadConfig)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run != nil {
		return fmt.Errorf("%w: reset_video while an output is running", ErrBadConfig)
	}
	if o.renderCancel != nil {
		o.renderCancel()
		<-o.renderDone
	}

	mgr := gfx.NewManager(swbackend.New())
	ring := videoring.New(media.VideoRingSize)
	textureQ := videoring.NewTextureQueue(media.GPUEncodeQueueSize)

	cfg := compositor.Config{
		CanvasWidth: width, CanvasHeight: height,
		OutputWidth: width, OutputHeight: height,
		FPSNum: fpsNum, FPSDen: fpsDen,
		Format:      media.PixelFormatI420,
		ColorSpace:  media.ColorSpaceBT709,
		ColorRange:  media.ColorRangePartial,
		ThreadToken: renderThreadToken,
	}
	comp, err := compositor.New(cfg, mgr, o.registry, ring, textureQ, o.log)
	if err != nil {
		return fmt.Errorf("orchestrator: create compositor: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := comp.Run(ctx); err != nil {
			o.log.Error("render thread exited", "error", err)
		}
	}()

	o.videoCfg = VideoConfig{Width: width, Height: height, FPSNum: fpsNum, FPSDen: fpsDen}
	o.videoReady = true
	o.mgr, o.comp, o.ring, o.textureQ = mgr, comp, ring, textureQ
	o.renderCancel, o.renderDone = cancel, done
	return nil
}

// ResetAudio configures (or reconfigures) the audio mixer (spec §4.10
// reset_audio). Channels defaults to 2 when zero.
func (o *Orchestrator) ResetAudio(sampleRate, channels int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive", ErrBadConfig)
	}
	if channels <= 0 {
		channels = 2
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run != nil {
		return fmt.Errorf("%w: reset_audio while an output is running", ErrBadConfig)
	}
	if o.mixerCancel != nil {
		o.mixerCancel()
		<-o.mixerDone
	}

	mixer := audiomix.NewMixer(sampleRate, channels)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	interval := int64(1e9) * int64(media.AudioOutputFrames) / int64(sampleRate)
	go o.runAudioMixerThread(ctx, done, mixer, interval)

	o.audioCfg = AudioConfig{SampleRate: sampleRate, Channels: channels}
	o.audioReady = true
	o.mixer = mixer
	o.mixerCancel, o.mixerDone = cancel, done
	o.nextMixSlot = 0
	return nil
}

// runAudioMixerThread paces Mixer.Tick() at one tick per
// AUDIO_OUTPUT_FRAMES/sample_rate seconds (spec §4.5, role 2 "wall-clock-
// paced" in spec §5): the mixer itself has no internal cadence, only the
// pull/subscribe mechanics, so the orchestrator drives it the same way
// compositor.Compositor.Run drives the render thread's pacer.
func (o *Orchestrator) runAudioMixerThread(ctx context.Context, done chan struct{}, mixer *audiomix.Mixer, intervalNS int64) {
	defer close(done)
	pacer := clock.NewPacer(intervalNS)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, _ = pacer.Next(func(d time.Duration) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		})
		if ctx.Err() != nil {
			return
		}
		mixer.Tick()
	}
}

// NewVideoSource creates a video source of the given kind (spec §6
// new_media_source(kind=video/video_async)).
func (o *Orchestrator) NewVideoSource(kind source.Kind) *source.VideoSource {
	return o.registry.CreateVideo(kind)
}

// NewAudioSource creates an audio source and binds its mix slot into the
// audio mixer (spec §6 new_media_source(kind=audio)). Fails with NotReady
// if reset_audio hasn't been called yet, and with OutOfResources if every
// mix slot is already bound (spec §7 "GPU/texture allocation failed" is
// the closest taxonomy entry for a fixed-capacity resource exhaustion).
func (o *Orchestrator) NewAudioSource() (*source.AudioSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.audioReady {
		return nil, fmt.Errorf("%w: reset_audio not called", ErrNotReady)
	}
	if o.nextMixSlot >= media.MaxAudioMixes {
		return nil, fmt.Errorf("orchestrator: no free mix slot (max %d): %w", media.MaxAudioMixes, output.ErrOutOfResources)
	}

	layout := astiav.ChannelLayoutStereo
	if o.audioCfg.Channels == 1 {
		layout = astiav.ChannelLayoutMono
	}
	dst := resample.Spec{SampleRate: o.audioCfg.SampleRate, SampleFormat: astiav.SampleFormatFltp, ChannelLayout: layout}

	as := o.registry.CreateAudio(dst)
	slot := o.nextMixSlot
	o.nextMixSlot++
	rings := as.EnsureMixSlot(slot)
	o.mixer.BindSlot(slot, rings)
	return as, nil
}

// RemoveVideoSource unregisters a video source (spec §6 clear_video plus
// handle teardown).
func (o *Orchestrator) RemoveVideoSource(id uuid.UUID) {
	o.registry.RemoveVideo(id)
}

// RemoveAudioSource unregisters an audio source and releases its
// resamplers. Its mix slot stays bound in the mixer, which reads silence
// from the slot's no-longer-fed rings; the slot is not reused within this run (spec has no slot-recycling
// semantics; a long-running host is expected to reset_audio between
// distinct sessions).
func (o *Orchestrator) RemoveAudioSource(id uuid.UUID) {
	o.mu.Lock()
	o.registry.RemoveAudio(id)
	o.mu.Unlock()
}

// StartOutput constructs the requested output backend, creates and pairs
// its encoders, and starts the encoder/sender worker threads (spec §4.10
// start_output). Only one output may run at a time.
func (o *Orchestrator) StartOutput(cfg StartOutputConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.videoReady || !o.audioReady {
		return fmt.Errorf("%w", ErrNotReady)
	}
	if o.run != nil {
		return fmt.Errorf("%w", ErrAlreadyRunning)
	}
	if cfg.VideoVariant == "" {
		cfg.VideoVariant = encoder.VariantH264Software
	}
	// Validate the endpoint scheme before allocating any codec resources,
	// so a bad URL is reported as BadPath without touching libavcodec.
	if _, err := validScheme(cfg.Endpoint); err != nil {
		return err
	}

	layout := astiav.ChannelLayoutStereo
	if o.audioCfg.Channels == 1 {
		layout = astiav.ChannelLayoutMono
	}

	videoEnc, err := encoder.NewVideoEncoder(cfg.VideoVariant, o.videoCfg.Width, o.videoCfg.Height, o.videoCfg.FPSNum, o.videoCfg.FPSDen, cfg.VideoKbps, 0)
	if err != nil {
		return fmt.Errorf("orchestrator: create video encoder: %w", err)
	}
	audioEnc, err := encoder.NewAudioEncoder(o.audioCfg.SampleRate, layout, cfg.AudioKbps, 0)
	if err != nil {
		videoEnc.Close()
		return fmt.Errorf("orchestrator: create audio encoder: %w", err)
	}
	videoEnc.PairWith(audioEnc)
	audioEnc.PairWith(videoEnc)

	o.comp.SetGPUEncodeActive(videoEnc.GPUEncodeAvailable())

	backend, dropPolicy, err := o.buildBackend(cfg, videoEnc, audioEnc)
	if err != nil {
		videoEnc.Close()
		audioEnc.Close()
		return err
	}

	out := output.New(backend, cfg.Callbacks, cfg.Reconnect, o.log)
	if dropPolicy != nil {
		out.DropPolicy = dropPolicy
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := out.Start(ctx); err != nil {
		cancel()
		videoEnc.Close()
		audioEnc.Close()
		return fmt.Errorf("orchestrator: start output: %w", err)
	}

	interl := interleave.New()
	videoFrames, unsubVideo := o.ring.Connect(media.VideoRingSize)
	audioTicks, unsubAudio := o.mixer.Connect(4)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.videoEncoderThread(gctx, videoFrames, videoEnc, interl, out) })
	g.Go(func() error { return o.audioEncoderThread(gctx, audioTicks, audioEnc, layout, interl, out) })
	g.Go(func() error { return o.gpuEncodeThread(gctx, videoEnc) })

	o.run = &activeRun{
		cancel: cancel, group: g, out: out,
		video: videoEnc, audio: audioEnc, interl: interl,
		ringUnsub: unsubVideo, mixerUnsub: unsubAudio,
		url: cfg.Endpoint,
	}
	return nil
}

// buildBackend dispatches on the endpoint (spec §6 "Endpoint schemes"):
// rtmp:// builds an RTMPBackend, udp/tcp/http/srt:// build an
// MPEGTSBackend, and any local path whose extension maps to a libavformat
// container (no "://" present) builds a FileBackend.
func (o *Orchestrator) buildBackend(cfg StartOutputConfig, videoEnc *encoder.VideoEncoder, audioEnc *encoder.AudioEncoder) (output.Backend, func([]*media.EncoderPacket) []*media.EncoderPacket, error) {
	scheme, _ := validScheme(cfg.Endpoint)
	switch scheme {
	case "rtmp":
		rtmpCfg := output.RTMPConfig{
			URL:              cfg.Endpoint,
			Width:            o.videoCfg.Width,
			Height:           o.videoCfg.Height,
			FPSNum:           o.videoCfg.FPSNum,
			FPSDen:           o.videoCfg.FPSDen,
			VideoBitrateKbps: cfg.VideoKbps,
			AudioSampleRate:  o.audioCfg.SampleRate,
			AudioChannels:    o.audioCfg.Channels,
			AudioBitrateKbps: cfg.AudioKbps,
			DropBUsec:        cfg.DropBUsec,
			DropPUsec:        cfg.DropPUsec,
			DBRWindow:        cfg.DBRWindow,
		}
		backend := output.NewRTMPBackend(rtmpCfg, videoEnc, audioEnc, o.log)
		return backend, backend.DropPolicy, nil
	case "udp", "tcp", "http", "srt":
		mpegtsCfg := output.MPEGTSConfig{
			URL:              cfg.Endpoint,
			VideoTimebaseNum: o.videoCfg.FPSDen,
			VideoTimebaseDen: o.videoCfg.FPSNum,
			AudioTimebaseNum: 1,
			AudioTimebaseDen: o.audioCfg.SampleRate,
		}
		backend, err := output.NewMPEGTSBackend(mpegtsCfg, videoEnc, audioEnc, o.log)
		if err != nil {
			return nil, nil, err
		}
		return backend, nil, nil
	case "file":
		fileCfg := output.FileConfig{
			Path:             cfg.Endpoint,
			VideoTimebaseNum: o.videoCfg.FPSDen,
			VideoTimebaseDen: o.videoCfg.FPSNum,
			AudioTimebaseNum: 1,
			AudioTimebaseDen: o.audioCfg.SampleRate,
		}
		backend, err := output.NewFileBackend(fileCfg, videoEnc, audioEnc, o.log)
		if err != nil {
			return nil, nil, err
		}
		return backend, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: unsupported endpoint scheme %q", output.ErrBadPath, scheme)
	}
}

// validScheme classifies the endpoint (spec §6 "Endpoint schemes"): a
// "scheme://" prefix selects a network backend (rtmp/udp/tcp/http/srt);
// anything else is treated as a local path and must have a
// libavformat-recognizable container extension, in which case it
// classifies as "file" (output.ValidContainerPath does the extension
// check, shared with output.NewFileBackend/FileBackend.Connect so both
// validate identically).
func validScheme(endpoint string) (string, error) {
	i := strings.Index(endpoint, "://")
	if i < 0 {
		if err := output.ValidContainerPath(endpoint); err != nil {
			return "", err
		}
		return "file", nil
	}
	scheme := strings.ToLower(endpoint[:i])
	switch scheme {
	case "rtmp", "udp", "tcp", "http", "srt":
		return scheme, nil
	default:
		return "", fmt.Errorf("%w: unsupported endpoint scheme %q", output.ErrBadPath, scheme)
	}
}

// videoEncoderThread is spec §5 role 3: it dequeues the video ring's
// published frames, encodes each, and feeds resulting packets to the
// interleaver and on to the output's send queue.
func (o *Orchestrator) videoEncoderThread(ctx context.Context, frames <-chan *media.VideoFrame, enc *encoder.VideoEncoder, interl *interleave.Interleaver, out *output.Output) error {
	var nextPTS int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			af, err := videoFrameToAstiav(f, nextPTS)
			if err != nil {
				o.log.Warn("video frame conversion failed", "error", err)
				continue
			}
			nextPTS++
			packets, err := enc.Encode(af, 0)
			af.Free()
			if err != nil {
				o.log.Warn("video encode failed", "error", err)
				continue
			}
			emitPackets(packets, interl, out)
		}
	}
}

// audioEncoderThread is spec §5 role 4: the same pattern against the audio
// mixer's tick stream.
func (o *Orchestrator) audioEncoderThread(ctx context.Context, ticks <-chan audiomix.Tick, enc *encoder.AudioEncoder, layout astiav.ChannelLayout, interl *interleave.Interleaver, out *output.Output) error {
	var nextPTS int64
	frameSize := int64(media.AudioOutputFrames)
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-ticks:
			if !ok {
				return nil
			}
			af, err := audioTickToAstiav(t, layout, o.audioCfg.SampleRate, nextPTS)
			if err != nil {
				o.log.Warn("audio tick conversion failed", "error", err)
				continue
			}
			nextPTS += frameSize
			packets, err := enc.Encode(af, 1)
			af.Free()
			if err != nil {
				o.log.Warn("audio encode failed", "error", err)
				continue
			}
			emitPackets(packets, interl, out)
		}
	}
}

// gpuEncodeThread is spec §5 role 5: present only when a texture-taking
// video encoder is active. encoder.VideoEncoder.GPUEncodeAvailable()
// always reports false for the variants this package can actually open
// (see encoder/video.go and DESIGN.md), so this loop's Dequeue never
// observes an entry in practice; it is still wired so the thread role
// named in spec §5 exists and the queue is drained if a future encoder
// variant sets gpuEncodeAvailable.
func (o *Orchestrator) gpuEncodeThread(ctx context.Context, enc *encoder.VideoEncoder) error {
	if !enc.GPUEncodeAvailable() {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for ref := o.textureQ.Dequeue(); ref != nil; ref = o.textureQ.Dequeue() {
				_ = ref // a real GPU-encode path would submit ref.Texture here.
			}
		}
	}
}

// emitPackets stamps each packet's wall-clock arrival time, pushes it
// through the interleaver, and drains whatever it now has eligible for
// emission to the output's send queue (spec §4.7). SysDTSUsec is the
// wall-clock counterpart to DTSUsec's stream-relative timebase, and is
// what output.Output.Stop's graceful-drain cutoff (spec §5 scenario S6)
// compares against — it must be stamped here, the one place every
// packet (video and audio) actually passes through before reaching the
// output, or stop_output(ts) has nothing real to cut off against.
func emitPackets(packets []*media.EncoderPacket, interl *interleave.Interleaver, out *output.Output) {
	now := time.Now().UnixMicro()
	for _, p := range packets {
		p.SysDTSUsec = now
		interl.Push(p)
	}
	for _, p := range interl.Emit() {
		out.Push(p)
	}
}

// StopOutput signals stop to the active output (spec §4.10 stop_output):
// ts == 0 is immediate, ts > 0 drains packets whose sys_dts_usec < ts
// (spec §5 cancellation rules, implemented by output.Output.Stop).
func (o *Orchestrator) StopOutput(ts int64) error {
	o.mu.Lock()
	run := o.run
	o.mu.Unlock()

	if run == nil {
		return fmt.Errorf("%w", ErrNotRunning)
	}

	run.out.Stop(ts)
	run.ringUnsub()
	run.mixerUnsub()
	run.cancel()
	_ = run.group.Wait()
	run.video.Close()
	run.audio.Close()

	o.mu.Lock()
	o.run = nil
	o.mu.Unlock()
	return nil
}

// Snapshot returns a point-in-time debug view (spec's supplemented stats
// surface; see SPEC_FULL.md §4).
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		RunID:           o.runID,
		VideoWidth:      o.videoCfg.Width,
		VideoHeight:     o.videoCfg.Height,
		FPSNum:          o.videoCfg.FPSNum,
		FPSDen:          o.videoCfg.FPSDen,
		AudioSampleRate: o.audioCfg.SampleRate,
		AudioChannels:   o.audioCfg.Channels,
		VideoSourceCount: o.registry.VideoCount(),
		AudioSourceCount: o.registry.AudioCount(),
	}
	if o.ring != nil {
		s.RingSkipped = o.ring.Skipped()
	}
	if o.textureQ != nil {
		s.TextureQueueSkipped = o.textureQ.Skipped()
	}
	if o.run != nil {
		s.OutputRunning = true
		s.OutputState = o.run.out.State()
		s.OutputURL = o.run.url
		s.InterleaverLen = o.run.interl.Len()
	}
	return s
}

// Close tears down any active output and stops the render/mixer threads.
// It is safe to call on an Orchestrator that was never started.
func (o *Orchestrator) Close() {
	if run := o.snapshotRun(); run != nil {
		_ = o.StopOutput(0)
	}

	o.mu.Lock()
	renderCancel, renderDone := o.renderCancel, o.renderDone
	mixerCancel, mixerDone := o.mixerCancel, o.mixerDone
	o.mu.Unlock()

	if renderCancel != nil {
		renderCancel()
		<-renderDone
	}
	if mixerCancel != nil {
		mixerCancel()
		<-mixerDone
	}
}

func (o *Orchestrator) snapshotRun() *activeRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run
}
