package compositor

import (
	"fmt"

	astiav "github.com/asticode/go-astiav"

	"github.com/zsiec/lite-obs/media"
)

// astiavPixelFormat maps this repo's media.PixelFormat onto the libswscale
// pixel format it corresponds to, so an async video source's decoded CPU
// frame can be converted to RGBA before it is uploaded as a texture (spec
// §4.3 "the compositor uploads it to a source-owned texture on the render
// thread").
func astiavPixelFormat(f media.PixelFormat) (astiav.PixelFormat, error) {
	switch f {
	case media.PixelFormatRGBA:
		return astiav.PixelFormatRgba, nil
	case media.PixelFormatI420:
		return astiav.PixelFormatYuv420P, nil
	case media.PixelFormatNV12:
		return astiav.PixelFormatNv12, nil
	case media.PixelFormatI444:
		return astiav.PixelFormatYuv444P, nil
	default:
		return 0, fmt.Errorf("compositor: unsupported source pixel format %v", f)
	}
}

// rgbaScaler converts an async source's decoded CPU frame (whatever planar
// or packed format it arrived in) into a tightly packed RGBA buffer using
// libswscale, the same "always run decoded frames through FFmpeg's
// software scaler" approach the teacher's bgraScaler takes in its own
// recorder path — this just targets RGBA instead of BGRA, since the
// compositor's gfx textures are RGBA.
type rgbaScaler struct {
	ssc    *astiav.SoftwareScaleContext
	dst    *astiav.Frame
	srcW   int
	srcH   int
	srcFmt astiav.PixelFormat
}

func (s *rgbaScaler) close() {
	if s.dst != nil {
		s.dst.Free()
		s.dst = nil
	}
	if s.ssc != nil {
		s.ssc.Free()
		s.ssc = nil
	}
}

func (s *rgbaScaler) ensure(w, h int, format astiav.PixelFormat) error {
	if s.ssc != nil && w == s.srcW && h == s.srcH && format == s.srcFmt {
		return nil
	}
	s.close()

	flags := astiav.NewSoftwareScaleContextFlags()
	ssc, err := astiav.CreateSoftwareScaleContext(w, h, format, w, h, astiav.PixelFormatRgba, flags)
	if err != nil {
		return fmt.Errorf("compositor: CreateSoftwareScaleContext(%dx%d %v -> RGBA): %w", w, h, format, err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(w)
	dst.SetHeight(h)
	dst.SetPixelFormat(astiav.PixelFormatRgba)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		ssc.Free()
		return fmt.Errorf("compositor: dst.AllocBuffer: %w", err)
	}

	s.ssc, s.dst = ssc, dst
	s.srcW, s.srcH, s.srcFmt = w, h, format
	return nil
}

// convert scales a raw CPU frame's planes into a packed RGBA buffer.
func (s *rgbaScaler) convert(planes [][]byte, linesize []int, w, h int, format astiav.PixelFormat) ([]byte, error) {
	if err := s.ensure(w, h, format); err != nil {
		return nil, err
	}

	src := astiav.AllocFrame()
	defer src.Free()
	src.SetWidth(w)
	src.SetHeight(h)
	src.SetPixelFormat(format)
	if err := src.AllocBuffer(1); err != nil {
		return nil, fmt.Errorf("compositor: src.AllocBuffer: %w", err)
	}
	for i, plane := range planes {
		dst, err := src.Data().Bytes(i)
		if err != nil {
			return nil, fmt.Errorf("compositor: src plane %d: %w", i, err)
		}
		stride := w
		if i < len(linesize) && linesize[i] > 0 {
			stride = linesize[i]
		}
		for row := 0; row*stride < len(plane) && row*stride < len(dst); row++ {
			n := stride
			if row*stride+n > len(dst) {
				n = len(dst) - row*stride
			}
			if row*stride+n > len(plane) {
				n = len(plane) - row*stride
			}
			copy(dst[row*stride:row*stride+n], plane[row*stride:row*stride+n])
		}
	}

	if err := s.ssc.ScaleFrame(src, s.dst); err != nil {
		return nil, fmt.Errorf("compositor: ScaleFrame: %w", err)
	}

	n, err := s.dst.ImageBufferSize(1)
	if err != nil {
		return nil, fmt.Errorf("compositor: ImageBufferSize: %w", err)
	}
	out := make([]byte, n)
	if _, err := s.dst.ImageCopyToBuffer(out, 1); err != nil {
		return nil, fmt.Errorf("compositor: ImageCopyToBuffer: %w", err)
	}
	return out, nil
}
