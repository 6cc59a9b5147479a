// Package resample converts PCM audio between sample rate, sample format,
// and channel layout using libswresample (spec §2 "Audio resampler"),
// tracking residual delay so that a source's next push continues the
// conversion without losing or duplicating samples.
package resample

import (
	"fmt"

	astiav "github.com/asticode/go-astiav"
)

// Spec describes the canonical format a Resampler converts into. The
// compositor's audio mixer fixes this once at reset (spec §4.5: "Canonical
// internal format: 32-bit float planar").
type Spec struct {
	SampleRate    int
	SampleFormat  astiav.SampleFormat
	ChannelLayout astiav.ChannelLayout
}

// Resampler wraps an astiav.SoftwareResampleContext, converting frames from
// a source's native format into the mixer's canonical Spec and reporting
// the residual delay introduced by filtering (used to correct per-source
// timestamps as they cross the resampler).
type Resampler struct {
	swr *astiav.SoftwareResampleContext
	dst Spec

	srcRate    int
	srcFormat  astiav.SampleFormat
	srcLayout  astiav.ChannelLayout
	configured bool
}

// New creates a Resampler targeting dst. The underlying swresample context
// configures itself lazily on the first Convert call, mirroring the
// "libswresample will configure itself on first ConvertFrame()" pattern.
func New(dst Spec) (*Resampler, error) {
	swr := astiav.AllocSoftwareResampleContext()
	if swr == nil {
		return nil, fmt.Errorf("resample: AllocSoftwareResampleContext failed")
	}
	return &Resampler{swr: swr, dst: dst}, nil
}

// Close frees the underlying swresample context.
func (r *Resampler) Close() {
	if r.swr != nil {
		r.swr.Free()
		r.swr = nil
	}
}

// Passthrough reports whether src already matches the destination format
// exactly, in which case Convert is a byte-identical copy (spec §8
// "Audio resample with identical src==dst is a byte-identical passthrough").
func (r *Resampler) Passthrough(srcRate int, srcFormat astiav.SampleFormat, srcLayout astiav.ChannelLayout) bool {
	return srcRate == r.dst.SampleRate &&
		srcFormat == r.dst.SampleFormat &&
		srcLayout.String() == r.dst.ChannelLayout.String()
}

// Convert resamples src into dst, which must already be allocated with the
// target format/layout/sample-rate set and nb_samples sized for the
// expected output (the encoder-side AllocBuffer pattern in the teacher's
// recording path). Residual delay carried inside the swr context handles
// any leftover samples across calls automatically.
func (r *Resampler) Convert(src, dst *astiav.Frame) error {
	if err := r.swr.ConvertFrame(src, dst); err != nil {
		return fmt.Errorf("resample: convert frame: %w", err)
	}
	return nil
}

// Delay returns the number of samples, at the destination sample rate,
// currently buffered inside the resampler's internal filter state and not
// yet emitted. Used by an audio source to know how many samples are still
// "in flight" when computing its next push's timestamp.
func (r *Resampler) Delay() int64 {
	return r.swr.Delay(int64(r.dst.SampleRate))
}
