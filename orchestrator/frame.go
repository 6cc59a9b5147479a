package orchestrator

import (
	"fmt"
	"math"

	astiav "github.com/asticode/go-astiav"

	"github.com/zsiec/lite-obs/audiomix"
	"github.com/zsiec/lite-obs/media"
)

// videoFrameToAstiav converts a compositor-published media.VideoFrame into
// an astiav.Frame ready to hand to encoder.VideoEncoder.Encode. The video
// encoder is always opened against astiav.PixelFormatYuv420P (spec §4.6),
// so f must already be I420 — the compositor's readback path produces that
// format whenever a video output is active (spec §4.2 step 5).
//
// astiav.Frame has no documented SetPts in the retrieved examples; this
// mirrors the symmetric Packet.SetPts/Packet.Pts() pair already used by
// this repo's encoders, a reasonable extrapolation rather than a verified
// call (see DESIGN.md).
func videoFrameToAstiav(f *media.VideoFrame, pts int64) (*astiav.Frame, error) {
	if f.Format != media.PixelFormatI420 {
		return nil, fmt.Errorf("orchestrator: video encode requires I420, got %v", f.Format)
	}

	af := astiav.AllocFrame()
	af.SetWidth(f.Width)
	af.SetHeight(f.Height)
	af.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := af.AllocBuffer(1); err != nil {
		af.Free()
		return nil, fmt.Errorf("orchestrator: video frame AllocBuffer: %w", err)
	}

	for i, plane := range f.Planes {
		dst, err := af.Data().Bytes(i)
		if err != nil {
			af.Free()
			return nil, fmt.Errorf("orchestrator: video frame plane %d: %w", i, err)
		}
		stride := f.Width
		if i < len(f.LineSize) && f.LineSize[i] > 0 {
			stride = f.LineSize[i]
		}
		copyPlane(dst, plane, stride)
	}

	af.SetPts(pts)
	return af, nil
}

// audioTickToAstiav converts one audiomix.Tick into an astiav.Frame ready
// for encoder.AudioEncoder.Encode. The AAC encoder's native sample format
// (AV_SAMPLE_FMT_FLTP) matches the mixer's canonical 32-bit float planar
// output exactly (spec §4.5 "Canonical internal format"), so this is a
// direct per-channel plane copy with no resampling step.
func audioTickToAstiav(t audiomix.Tick, layout astiav.ChannelLayout, sampleRate int, pts int64) (*astiav.Frame, error) {
	af := astiav.AllocFrame()
	af.SetSampleFormat(astiav.SampleFormatFltp)
	af.SetChannelLayout(layout)
	af.SetSampleRate(sampleRate)
	af.SetNbSamples(media.AudioOutputFrames)
	if err := af.AllocBuffer(1); err != nil {
		af.Free()
		return nil, fmt.Errorf("orchestrator: audio frame AllocBuffer: %w", err)
	}

	for c, plane := range t.Planes {
		dst, err := af.Data().Bytes(c)
		if err != nil {
			af.Free()
			return nil, fmt.Errorf("orchestrator: audio frame plane %d: %w", c, err)
		}
		copyFloat32Plane(dst, plane)
	}

	af.SetPts(pts)
	return af, nil
}

// copyPlane copies src row-by-row into dst, which is stride bytes wide per
// row and may be longer than src's packed length.
func copyPlane(dst, src []byte, stride int) {
	for row := 0; row*stride < len(src) && row*stride < len(dst); row++ {
		n := stride
		if row*stride+n > len(dst) {
			n = len(dst) - row*stride
		}
		if row*stride+n > len(src) {
			n = len(src) - row*stride
		}
		copy(dst[row*stride:row*stride+n], src[row*stride:row*stride+n])
	}
}

// copyFloat32Plane reinterprets a []float32 channel plane as little-endian
// bytes into dst.
func copyFloat32Plane(dst []byte, src []float32) {
	for i, s := range src {
		off := i * 4
		if off+4 > len(dst) {
			break
		}
		bits := math.Float32bits(s)
		dst[off] = byte(bits)
		dst[off+1] = byte(bits >> 8)
		dst[off+2] = byte(bits >> 16)
		dst[off+3] = byte(bits >> 24)
	}
}
