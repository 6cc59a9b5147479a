package encoder

import (
	"errors"
	"fmt"
	"sync"

	astiav "github.com/asticode/go-astiav"

	"github.com/zsiec/lite-obs/media"
)

// AudioEncoder wraps an astiav.CodecContext configured for AAC (spec §4.6,
// the single `aac` variant). It holds a back-reference to its paired video
// encoder for the duration of a run; the "wait-for-video" drop logic itself
// lives in the output interleaver (spec §4.7 step 1), which is where both
// streams are actually observed together.
type AudioEncoder struct {
	mu       sync.Mutex
	ctx      *astiav.CodecContext
	mixIdx   int
	extra    []byte
	extraSet bool
	pair     *VideoEncoder
}

// NewAudioEncoder allocates and opens an AAC encoder targeting sampleRate/
// channelLayout at bitrateKbps for the given mix slot (spec §4.6
// create(bitrate, mixer_idx)).
func NewAudioEncoder(sampleRate int, layout astiav.ChannelLayout, bitrateKbps, mixIdx int) (*AudioEncoder, error) {
	if sampleRate <= 0 || bitrateKbps <= 0 {
		return nil, fmt.Errorf("%w: invalid audio encoder sample rate/bitrate", ErrBadConfig)
	}

	codec := astiav.FindEncoder(astiav.CodecIDAac)
	if codec == nil {
		return nil, fmt.Errorf("%w: AAC encoder not available", ErrUnsupported)
	}

	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return nil, fmt.Errorf("%w: AllocCodecContext failed", ErrBadConfig)
	}

	ctx.SetChannelLayout(layout)
	ctx.SetSampleRate(sampleRate)
	sfs := codec.SampleFormats()
	if len(sfs) > 0 {
		ctx.SetSampleFormat(sfs[0])
	}
	ctx.SetTimeBase(astiav.NewRational(1, sampleRate))
	ctx.SetBitRate(int64(bitrateKbps) * 1000)
	ctx.SetStrictStdCompliance(astiav.StrictStdComplianceExperimental)

	if err := ctx.Open(codec, nil); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("%w: open AAC: %v", ErrBadConfig, err)
	}

	return &AudioEncoder{ctx: ctx, mixIdx: mixIdx}, nil
}

// Close frees the underlying codec context.
func (e *AudioEncoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx != nil {
		e.ctx.Free()
		e.ctx = nil
	}
}

// FrameSize returns the number of samples per encoded block (spec §4.6
// frame_size(), typically 1024 for AAC-LC).
func (e *AudioEncoder) FrameSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return 0
	}
	return e.ctx.FrameSize()
}

// PairWith records the paired video encoder.
func (e *AudioEncoder) PairWith(v *VideoEncoder) {
	e.mu.Lock()
	e.pair = v
	e.mu.Unlock()
}

// Pair returns the paired video encoder, or nil.
func (e *AudioEncoder) Pair() *VideoEncoder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pair
}

// Encode submits one resampled audio frame and returns zero or more encoder
// packets in encode order.
func (e *AudioEncoder) Encode(frame *astiav.Frame, trackIdx int) ([]*media.EncoderPacket, error) {
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

		if !e.extraSet {
			if extra := e.ctx.ExtraData(); len(extra) > 0 {
				e.extra = append([]byte(nil), extra...)
				e.extraSet = true
			}
		}

		out = append(out, &media.EncoderPacket{
			Payload:     payload,
			PTS:         pts,
			DTS:         dts,
			TimebaseNum: int(tb.Num()),
			TimebaseDen: int(tb.Den()),
			Type:        media.PacketAudio,
			Keyframe:    true,
			TrackIdx:    trackIdx,
		})
	}
	return out, nil
}

// GetExtradata returns the AudioSpecificConfig bytes once known, or
// ErrNotReady before the first packet.
func (e *AudioEncoder) GetExtradata() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.extraSet {
		return nil, ErrNotReady
	}
	return e.extra, nil
}
