package output

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	astiav "github.com/asticode/go-astiav"

	"github.com/zsiec/lite-obs/encoder"
	"github.com/zsiec/lite-obs/media"
)

// MPEGTSConfig configures an MPEGTSBackend (spec §4.9).
type MPEGTSConfig struct {
	URL string // udp://, tcp://, http://, or srt://

	VideoTimebaseNum, VideoTimebaseDen int
	AudioTimebaseNum, AudioTimebaseDen int
}

// MPEGTSBackend muxes one H.264 video stream and one AAC audio stream into
// MPEG-TS, delivered over udp/tcp/http (via libavformat's own protocol
// handlers) or srt (via srtSink, wrapping github.com/zsiec/srtgo — spec
// §4.9's explicit carve-out from libavformat's built-in SRT protocol
// support, since this project standardizes on its own SRT stack for every
// transport leg rather than two independent SRT implementations).
type MPEGTSBackend struct {
	cfg MPEGTSConfig
	log *slog.Logger

	video *encoder.VideoEncoder
	audio *encoder.AudioEncoder

	mu          sync.Mutex
	fc          *astiav.FormatContext
	pb          *astiav.IOContext
	videoStream *astiav.Stream
	audioStream *astiav.Stream
	wroteHeader bool
	srt         *srtSink
}

// NewMPEGTSBackend validates the URL scheme and binds the backend to the
// encoders it will read extradata/codec parameters from.
func NewMPEGTSBackend(cfg MPEGTSConfig, video *encoder.VideoEncoder, audio *encoder.AudioEncoder, log *slog.Logger) (*MPEGTSBackend, error) {
	if log == nil {
		log = slog.Default()
	}
	if _, err := schemeOf(cfg.URL); err != nil {
		return nil, err
	}
	return &MPEGTSBackend{
		cfg:   cfg,
		log:   log.With("component", "mpegts"),
		video: video,
		audio: audio,
	}, nil
}

func schemeOf(url string) (string, error) {
	idx := strings.Index(url, "://")
	if idx < 0 {
		return "", fmt.Errorf("%w: no scheme in %q", ErrBadPath, url)
	}
	scheme := url[:idx]
	switch scheme {
	case "udp", "tcp", "http", "srt":
		return scheme, nil
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrBadPath, scheme)
	}
}

// Connect opens the transport and allocates the muxer's FormatContext. The
// muxer's WriteHeader is deferred until Send sees both encoders' extradata
// (spec §4.9 "wait for extradata before WriteHeader").
func (b *MPEGTSBackend) Connect(ctx context.Context) error {
	scheme, err := schemeOf(b.cfg.URL)
	if err != nil {
		return err
	}

	fc, err := astiav.AllocOutputFormatContext(nil, "mpegts", "")
	if err != nil || fc == nil {
		return fmt.Errorf("%w: AllocOutputFormatContext: %v", ErrConnectFailed, err)
	}

	var pb *astiav.IOContext
	var sink *srtSink
	switch scheme {
	case "srt":
		sink, err = dialSRTSink(ctx, b.cfg.URL)
		if err != nil {
			fc.Free()
			return fmt.Errorf("%w: srt dial: %v", ErrConnectFailed, err)
		}
		pb, err = astiav.AllocIOContext(4096, true, sink.write)
		if err != nil {
			sink.Close()
			fc.Free()
			return fmt.Errorf("%w: AllocIOContext: %v", ErrConnectFailed, err)
		}
	default:
		flags := astiav.NewIOContextFlags(astiav.IOContextFlagWrite)
		pb, err = astiav.OpenIOContext(b.cfg.URL, flags, nil, nil)
		if err != nil {
			fc.Free()
			return fmt.Errorf("%w: OpenIOContext: %v", ErrConnectFailed, err)
		}
	}
	fc.SetPb(pb)

	videoStream := fc.NewStream(nil)
	if videoStream == nil {
		pb.Close()
		pb.Free()
		fc.Free()
		return fmt.Errorf("%w: NewStream video", ErrConnectFailed)
	}
	videoStream.CodecParameters().SetMediaType(astiav.MediaTypeVideo)
	videoStream.CodecParameters().SetCodecID(astiav.CodecIDH264)
	videoStream.SetTimeBase(astiav.NewRational(b.cfg.VideoTimebaseNum, b.cfg.VideoTimebaseDen))

	audioStream := fc.NewStream(nil)
	if audioStream == nil {
		pb.Close()
		pb.Free()
		fc.Free()
		return fmt.Errorf("%w: NewStream audio", ErrConnectFailed)
	}
	audioStream.CodecParameters().SetMediaType(astiav.MediaTypeAudio)
	audioStream.CodecParameters().SetCodecID(astiav.CodecIDAac)
	audioStream.SetTimeBase(astiav.NewRational(b.cfg.AudioTimebaseNum, b.cfg.AudioTimebaseDen))

	b.mu.Lock()
	b.fc = fc
	b.pb = pb
	b.videoStream = videoStream
	b.audioStream = audioStream
	b.wroteHeader = false
	b.srt = sink
	b.mu.Unlock()
	return nil
}

// Close writes the trailer and tears down the muxer and transport.
func (b *MPEGTSBackend) Close() error {
	b.mu.Lock()
	fc, pb, sink, wroteHeader := b.fc, b.pb, b.srt, b.wroteHeader
	b.fc, b.pb, b.srt = nil, nil, nil
	b.mu.Unlock()

	if fc == nil {
		return nil
	}
	var err error
	if wroteHeader {
		err = fc.WriteTrailer()
	}
	pb.Close()
	pb.Free()
	fc.Free()
	if sink != nil {
		sink.Close()
	}
	return err
}

// Send muxes one packet, deferring WriteHeader until both encoders' extra-
// data (SPS/PPS, AudioSpecificConfig) are available (scenario: "mid-GOP
// join" — the first media.EncoderPacket may already be mid-stream, but the
// header still needs the very first parameter sets seen).
func (b *MPEGTSBackend) Send(p *media.EncoderPacket) error {
	if err := b.ensureHeader(); err != nil {
		return err
	}

	b.mu.Lock()
	fc := b.fc
	var stream *astiav.Stream
	if p.Type == media.PacketVideo {
		stream = b.videoStream
	} else {
		stream = b.audioStream
	}
	b.mu.Unlock()

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	pkt.SetData(p.Payload)
	pkt.SetPts(p.PTS)
	pkt.SetDts(p.DTS)
	pkt.SetStreamIndex(stream.Index())
	if p.Keyframe {
		pkt.SetFlags(pkt.Flags() | astiav.PacketFlagKey)
	}

	if err := fc.WriteInterleavedFrame(pkt); err != nil {
		return fmt.Errorf("%w: write frame: %v", ErrDisconnected, err)
	}
	return nil
}

func (b *MPEGTSBackend) ensureHeader() error {
	b.mu.Lock()
	done := b.wroteHeader
	fc := b.fc
	videoStream := b.videoStream
	audioStream := b.audioStream
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

	extradata := append(append([]byte{0, 0, 0, 1}, sps...), append([]byte{0, 0, 0, 1}, pps...)...)
	if err := videoStream.CodecParameters().SetExtraData(extradata); err != nil {
		return fmt.Errorf("%w: set video extradata: %v", ErrEncodeError, err)
	}
	if err := audioStream.CodecParameters().SetExtraData(audioExtra); err != nil {
		return fmt.Errorf("%w: set audio extradata: %v", ErrEncodeError, err)
	}

	if err := fc.WriteHeader(nil); err != nil {
		return fmt.Errorf("%w: WriteHeader: %v", ErrConnectFailed, err)
	}

	b.mu.Lock()
	b.wroteHeader = true
	b.mu.Unlock()
	return nil
}
