package output

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	astiav "github.com/asticode/go-astiav"

	"github.com/zsiec/lite-obs/encoder"
	"github.com/zsiec/lite-obs/flv"
	"github.com/zsiec/lite-obs/media"
)

// RTMPConfig configures an RTMPBackend (spec §4.8).
type RTMPConfig struct {
	URL string

	Width, Height int
	FPSNum, FPSDen int
	VideoBitrateKbps int

	AudioSampleRate int
	AudioChannels   int
	AudioBitrateKbps int

	DropBUsec, DropPUsec int64 // 0 uses DefaultDropBUsec/DefaultDropPUsec
	DBRWindow            time.Duration
}

// RTMPBackend is the RTMP wire backend (spec §4.8). It uses libavformat's
// RTMP protocol handler only for the socket/handshake layer — astiav's
// IOContext opened directly against the rtmp:// URL — and writes hand-built
// FLV tag bytes straight through it, rather than going through libavformat's
// own flv muxer. This mirrors the teacher's preference for a thin transport
// wrapper over a full muxer when the wire format is simple and fully owned
// by this package (see flv.BuildTag).
type RTMPBackend struct {
	cfg RTMPConfig
	log *slog.Logger

	video *encoder.VideoEncoder
	audio *encoder.AudioEncoder

	mu          sync.Mutex
	pb          *astiav.IOContext
	baseUsec    int64
	haveBase    bool
	wroteHeader bool

	lastBufferUsec int64
	lastSendAt     time.Time

	drop *dropPolicy
	dbr  *dbrController
}

// NewRTMPBackend builds an RTMP backend bound to the video/audio encoders
// whose packets it will send — it reads their extradata for the sequence
// headers and drives the video encoder's UpdateBitrate for DBR (scenario
// S5).
func NewRTMPBackend(cfg RTMPConfig, video *encoder.VideoEncoder, audio *encoder.AudioEncoder, log *slog.Logger) *RTMPBackend {
	if log == nil {
		log = slog.Default()
	}
	dropB, dropP := cfg.DropBUsec, cfg.DropPUsec
	if dropB == 0 {
		dropB = DefaultDropBUsec
	}
	if dropP == 0 {
		dropP = DefaultDropPUsec
	}
	window := cfg.DBRWindow
	if window == 0 {
		window = 2 * time.Second
	}

	b := &RTMPBackend{
		cfg:   cfg,
		log:   log.With("component", "rtmp"),
		video: video,
		audio: audio,
		drop:  newDropPolicy(dropB, dropP),
	}
	b.dbr = newDBRController(window, cfg.AudioBitrateKbps, cfg.VideoBitrateKbps, video.UpdateBitrate)
	return b
}

// DropPolicy is the hook installed as Output.DropPolicy. It also records the
// queue's current buffer duration, the same congestion signal the DBR
// controller needs (spec §4.8): Output calls this on every Push, giving the
// DBR controller an up-to-date backlog reading between sends.
func (b *RTMPBackend) DropPolicy(buf []*media.EncoderPacket) []*media.EncoderPacket {
	b.mu.Lock()
	b.lastBufferUsec = bufferDurationUsec(buf)
	b.mu.Unlock()
	return b.drop.apply(buf)
}

// Connect opens the RTMP socket and performs the handshake (spec §5
// "Connect/write operations... are synchronous and blocking").
func (b *RTMPBackend) Connect(ctx context.Context) error {
	if b.cfg.URL == "" {
		return fmt.Errorf("%w: empty RTMP URL", ErrBadPath)
	}

	flags := astiav.NewIOContextFlags(astiav.IOContextFlagWrite)
	pb, err := astiav.OpenIOContext(b.cfg.URL, flags, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrConnectFailed, b.cfg.URL, err)
	}

	b.mu.Lock()
	b.pb = pb
	b.haveBase = false
	b.wroteHeader = false
	b.mu.Unlock()
	return nil
}

// Close flushes and frees the IOContext.
func (b *RTMPBackend) Close() error {
	b.mu.Lock()
	pb := b.pb
	b.pb = nil
	b.mu.Unlock()
	if pb == nil {
		return nil
	}
	err := pb.Close()
	pb.Free()
	return err
}

// Send writes one packet as an FLV tag, lazily emitting the metadata and
// sequence-header tags ahead of the first video/audio media tag (spec §6:
// "metadata, then video sequence header, then audio sequence header, then
// media packets").
func (b *RTMPBackend) Send(p *media.EncoderPacket) error {
	b.mu.Lock()
	pb := b.pb
	b.mu.Unlock()
	if pb == nil {
		return fmt.Errorf("%w: not connected", ErrDisconnected)
	}

	if err := b.ensureHeaderTags(pb); err != nil {
		return err
	}

	b.mu.Lock()
	if !b.haveBase {
		b.baseUsec = p.DTSUsec
		b.haveBase = true
	}
	tsMs := uint32((p.DTSUsec - b.baseUsec) / 1000)
	b.mu.Unlock()

	var body []byte
	var tagType byte
	switch p.Type {
	case media.PacketVideo:
		avcc := encoder.ToAVCC(p.Payload)
		body = flv.BuildVideoTagBody(p.Keyframe, flv.AVCPacketTypeNALU, 0, avcc)
		tagType = flv.TagTypeVideo
	case media.PacketAudio:
		body = flv.BuildAudioTagBody(flv.AACPacketTypeRaw, p.Payload)
		tagType = flv.TagTypeAudio
	default:
		return fmt.Errorf("%w: unknown packet type", ErrEncodeError)
	}

	if _, err := pb.Write(flv.BuildTag(tagType, tsMs, body)); err != nil {
		return fmt.Errorf("%w: write tag: %v", ErrDisconnected, err)
	}

	if p.Type == media.PacketVideo {
		now := time.Now()
		b.mu.Lock()
		beg := b.lastSendAt
		if beg.IsZero() {
			beg = now
		}
		bufferUsec := b.lastBufferUsec
		b.lastSendAt = now
		b.mu.Unlock()
		b.dbr.observe(beg, now, len(p.Payload), bufferUsec)
	}
	return nil
}

// ensureHeaderTags writes the onMetaData script tag and both sequence
// headers exactly once, blocking until both encoders' extradata is ready
// (scenario S2).
func (b *RTMPBackend) ensureHeaderTags(pb *astiav.IOContext) error {
	b.mu.Lock()
	done := b.wroteHeader
	b.mu.Unlock()
	if done {
		return nil
	}

	sps, pps, err := b.video.GetExtradata()
	if err != nil {
		return fmt.Errorf("%w: video extradata not ready", ErrEncodeError)
	}
	audioExtra, err := b.audio.GetExtradata()
	if err != nil {
		return fmt.Errorf("%w: audio extradata not ready", ErrEncodeError)
	}

	meta := flv.BuildMetaDataTagBody(flv.MetaData{
		Width:           float64(b.cfg.Width),
		Height:          float64(b.cfg.Height),
		VideoDataRate:   float64(b.cfg.VideoBitrateKbps),
		FrameRate:       float64(b.cfg.FPSNum) / float64(max1(b.cfg.FPSDen)),
		AudioDataRate:   float64(b.cfg.AudioBitrateKbps),
		AudioSampleRate: float64(b.cfg.AudioSampleRate),
		AudioChannels:   float64(b.cfg.AudioChannels),
		Stereo:          b.cfg.AudioChannels >= 2,
	})
	if _, err := pb.Write(flv.BuildTag(flv.TagTypeScript, 0, meta)); err != nil {
		return fmt.Errorf("%w: write metadata tag: %v", ErrDisconnected, err)
	}

	avcRecord, err := flv.BuildAVCDecoderConfigurationRecord(sps, pps)
	if err != nil {
		return fmt.Errorf("%w: build AVCDecoderConfigurationRecord: %v", ErrEncodeError, err)
	}
	videoHeader := flv.BuildVideoTagBody(true, flv.AVCPacketTypeSequenceHeader, 0, avcRecord)
	if _, err := pb.Write(flv.BuildTag(flv.TagTypeVideo, 0, videoHeader)); err != nil {
		return fmt.Errorf("%w: write video sequence header: %v", ErrDisconnected, err)
	}

	audioHeader := flv.BuildAudioTagBody(flv.AACPacketTypeSequenceHeader, audioExtra)
	if _, err := pb.Write(flv.BuildTag(flv.TagTypeAudio, 0, audioHeader)); err != nil {
		return fmt.Errorf("%w: write audio sequence header: %v", ErrDisconnected, err)
	}

	b.mu.Lock()
	b.wroteHeader = true
	b.mu.Unlock()
	return nil
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
