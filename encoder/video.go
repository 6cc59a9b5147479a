package encoder

import (
	"errors"
	"fmt"
	"sync"

	astiav "github.com/asticode/go-astiav"

	"github.com/zsiec/lite-obs/media"
)

// Video errors, checked with errors.Is per the project's sentinel-error
// convention (spec §7 error taxonomy, scoped to this layer's concerns).
var (
	ErrBadConfig   = errors.New("encoder: bad config")
	ErrNotReady    = errors.New("encoder: extradata not ready")
	ErrEncodeError = errors.New("encoder: encode failed")
	ErrUnsupported = errors.New("encoder: unsupported")
)

// VideoVariant names a concrete video encoder implementation (spec §4.6:
// "h264-software, h264-hardware-{win,ios,mac,android}").
type VideoVariant string

const (
	VariantH264Software      VideoVariant = "h264-software"
	VariantH264HardwareWin   VideoVariant = "h264-hardware-win"
	VariantH264HardwareMac   VideoVariant = "h264-hardware-mac"
	VariantH264HardwareIOS   VideoVariant = "h264-hardware-ios"
	VariantH264HardwareAndr  VideoVariant = "h264-hardware-android"
)

// encoderNames maps a variant to the libavcodec encoder name go-astiav
// looks up via FindEncoderByName. Only the portable software encoder is
// resolvable on every platform; hardware variants are named for
// completeness, and creating one fails with ErrUnsupported if the named
// encoder isn't registered in the linked ffmpeg build.
var encoderNames = map[VideoVariant]string{
	VariantH264Software:     "libx264",
	VariantH264HardwareWin:  "h264_mf",
	VariantH264HardwareMac:  "h264_videotoolbox",
	VariantH264HardwareIOS:  "h264_videotoolbox",
	VariantH264HardwareAndr: "h264_mediacodec",
}

// VideoEncoder wraps an astiav.CodecContext configured for H.264, tracking
// extradata (SPS/PPS), SEI injection state, and the paired audio encoder
// used by the output interleaver's wait-for-video logic (spec §4.6).
type VideoEncoder struct {
	mu      sync.Mutex
	variant VideoVariant
	ctx     *astiav.CodecContext
	mixIdx  int

	sps, pps []byte
	extraSet bool

	seiPayload []byte
	seiRate    int
	seiCount   int

	pair *AudioEncoder

	gpuEncodeAvailable bool
}

// NewVideoEncoder allocates and opens a video encoder of the given variant
// at width x height, fpsNum/fpsDen, targeting bitrateKbps (spec §4.6
// create(bitrate, mixer_idx)).
func NewVideoEncoder(variant VideoVariant, width, height, fpsNum, fpsDen, bitrateKbps, mixIdx int) (*VideoEncoder, error) {
	if width <= 0 || height <= 0 || bitrateKbps <= 0 {
		return nil, fmt.Errorf("%w: invalid video encoder dimensions/bitrate", ErrBadConfig)
	}
	name, ok := encoderNames[variant]
	if !ok {
		return nil, fmt.Errorf("%w: unknown video variant %q", ErrBadConfig, variant)
	}

	codec := astiav.FindEncoderByName(name)
	if codec == nil {
		return nil, fmt.Errorf("%w: encoder %q not available", ErrUnsupported, name)
	}

	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return nil, fmt.Errorf("%w: AllocCodecContext failed", ErrBadConfig)
	}

	ctx.SetWidth(width)
	ctx.SetHeight(height)
	ctx.SetTimeBase(astiav.NewRational(fpsDen, fpsNum))
	ctx.SetFramerate(astiav.NewRational(fpsNum, fpsDen))
	ctx.SetBitRate(int64(bitrateKbps) * 1000)
	ctx.SetPixelFormat(astiav.PixelFormatYuv420P)
	ctx.SetGopSize(fpsNum / fpsDen * 2)

	if err := ctx.Open(codec, nil); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("%w: open %q: %v", ErrBadConfig, name, err)
	}

	return &VideoEncoder{
		variant: variant,
		ctx:     ctx,
		mixIdx:  mixIdx,
	}, nil
}

// Close frees the underlying codec context.
func (e *VideoEncoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx != nil {
		e.ctx.Free()
		e.ctx = nil
	}
}

// SetSEI installs a SEI payload injected into every rate-th emitted packet (spec §4.6
// "SEI injection").
func (e *VideoEncoder) SetSEI(payload []byte, rate int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seiPayload = payload
	if rate < 1 {
		rate = 1
	}
	e.seiRate = rate
	e.seiCount = 0
}

// GetSEIData returns the installed SEI payload, if any.
func (e *VideoEncoder) GetSEIData() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seiPayload
}

// PairWith records the audio encoder paired with this video encoder for
// the duration of the run (spec §4.6 "Pairing").
func (e *VideoEncoder) PairWith(a *AudioEncoder) {
	e.mu.Lock()
	e.pair = a
	e.mu.Unlock()
}

// Pair returns the paired audio encoder, or nil.
func (e *VideoEncoder) Pair() *AudioEncoder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pair
}

// GPUEncodeAvailable reports whether this variant can accept a texture
// handle directly rather than a CPU frame (spec §4.6 "GPU-encode variant").
func (e *VideoEncoder) GPUEncodeAvailable() bool {
	switch e.variant {
	case VariantH264HardwareMac, VariantH264HardwareIOS, VariantH264HardwareAndr, VariantH264HardwareWin:
		return e.gpuEncodeAvailable
	default:
		return false
	}
}

// Encode submits one raw video frame and returns zero or more encoder
// packets in encode order (spec §4.6 encode). The first packet to contain
// an SPS/PPS NAL latches e.sps/e.pps as the stable extradata.
func (e *VideoEncoder) Encode(frame *astiav.Frame, trackIdx int) ([]*media.EncoderPacket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx == nil {
		return nil, fmt.Errorf("%w: encoder closed", ErrEncodeError)
	}

	if err := e.ctx.SendFrame(frame); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return nil, fmt.Errorf("%w: send frame: %v", ErrEncodeError, err)
	}

	var out []*media.EncoderPacket
	for {
		pkt := astiav.AllocPacket()
		err := e.ctx.ReceivePacket(pkt)
		if err != nil {
			pkt.Free()
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				break
			}
			return out, fmt.Errorf("%w: receive packet: %v", ErrEncodeError, err)
		}

		payload := append([]byte(nil), pkt.Data()...)
		pts, dts := pkt.Pts(), pkt.Dts()
		tb := e.ctx.TimeBase()
		pkt.Free()

		units := ParseAnnexB(payload)
		keyframe := IsKeyframe(units)

		if !e.extraSet {
			if sps, pps, ok := ExtractParameterSets(units); ok {
				e.sps, e.pps = sps, pps
				e.extraSet = true
			}
		}

		if e.seiPayload != nil {
			e.seiCount++
			if e.seiCount%e.seiRate == 0 {
				payload = append(append([]byte(nil), seiNAL(e.seiPayload)...), payload...)
			}
		}

		out = append(out, &media.EncoderPacket{
			Payload:     payload,
			PTS:         pts,
			DTS:         dts,
			TimebaseNum: int(tb.Num()),
			TimebaseDen: int(tb.Den()),
			Type:        media.PacketVideo,
			Keyframe:    keyframe,
			TrackIdx:    trackIdx,
		})
	}
	return out, nil
}

// GetExtradata returns the SPS/PPS pair extracted from the first
// parameter-set-bearing packet, or ErrNotReady before that.
func (e *VideoEncoder) GetExtradata() (sps, pps []byte, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.extraSet {
		return nil, nil, ErrNotReady
	}
	return e.sps, e.pps, nil
}

// UpdateBitrate applies a best-effort bitrate change (spec §4.6
// update_bitrate). libx264 and most software encoders support in-place
// reconfiguration; this is recorded for the output backend's DBR loop even
// when the underlying codec ignores it until the next GOP.
func (e *VideoEncoder) UpdateBitrate(kbps int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx != nil {
		e.ctx.SetBitRate(int64(kbps) * 1000)
	}
}

// seiNAL wraps payload in a minimal H.264 SEI NAL (type 6), including an
// Annex-B start code so it can be prepended directly onto an Annex-B
// packet payload.
func seiNAL(payload []byte) []byte {
	out := []byte{0, 0, 0, 1, byte(nalTypeSEI)}
	n := len(payload)
	for n >= 255 {
		out = append(out, 0xFF)
		n -= 255
	}
	out = append(out, byte(n))
	out = append(out, payload...)
	out = append(out, 0x80) // rbsp_trailing_bits
	return out
}
