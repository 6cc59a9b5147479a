package compositor

import "github.com/zsiec/lite-obs/media"

// rgbaToPlanar converts a tightly packed RGBA buffer into the planar
// layout the spec's conversion tuple calls for (spec §4.2 step 5),
// selecting the color matrix from colorSpace and the output range from
// colorRange. This is the software-backend equivalent of running the
// compositor's per-plane conversion programs: the swbackend doesn't
// implement real shader math, so the conversion happens here instead of
// on a GPU.
func rgbaToPlanar(rgba []byte, stride, w, h int, format media.PixelFormat, cs media.ColorSpace, cr media.ColorRange) (planes [][]byte, linesize []int) {
	kr, kb := bt601Kr, bt601Kb
	if cs == media.ColorSpaceBT709 {
		kr, kb = bt709Kr, bt709Kb
	}

	switch format {
	case media.PixelFormatI420:
		y := make([]byte, w*h)
		cw, ch := (w+1)/2, (h+1)/2
		u := make([]byte, cw*ch)
		v := make([]byte, cw*ch)
		fillY(rgba, stride, w, h, kr, kb, cr, y, w)
		fillChroma420(rgba, stride, w, h, kr, kb, cr, u, v, cw)
		return [][]byte{y, u, v}, []int{w, cw, cw}

	case media.PixelFormatNV12:
		y := make([]byte, w*h)
		cw, ch := (w+1)/2, (h+1)/2
		uv := make([]byte, cw*ch*2)
		fillY(rgba, stride, w, h, kr, kb, cr, y, w)
		fillChromaNV12(rgba, stride, w, h, kr, kb, cr, uv, cw*2)
		return [][]byte{y, uv}, []int{w, cw * 2}

	case media.PixelFormatI444:
		y := make([]byte, w*h)
		u := make([]byte, w*h)
		v := make([]byte, w*h)
		fillY(rgba, stride, w, h, kr, kb, cr, y, w)
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				r, g, b := rgbaAt(rgba, stride, col, row)
				_, cu, cv := toYUV(r, g, b, kr, kb, cr)
				u[row*w+col] = cu
				v[row*w+col] = cv
			}
		}
		return [][]byte{y, u, v}, []int{w, w, w}

	default:
		return nil, nil
	}
}

const (
	bt601Kr = 0.299
	bt601Kb = 0.114
	bt709Kr = 0.2126
	bt709Kb = 0.0722
)

func rgbaAt(rgba []byte, stride, x, y int) (r, g, b float64) {
	off := y*stride + x*4
	if off+3 >= len(rgba) {
		return 0, 0, 0
	}
	return float64(rgba[off]), float64(rgba[off+1]), float64(rgba[off+2])
}

func toYUV(r, g, b, kr, kb float64, cr media.ColorRange) (y, u, v byte) {
	kg := 1 - kr - kb
	yf := kr*r + kg*g + kb*b
	uf := (b - yf) / (2 * (1 - kb))
	vf := (r - yf) / (2 * (1 - kr))

	var yLo, ySpan, cSpan float64
	if cr == media.ColorRangeFull {
		yLo, ySpan, cSpan = 0, 255, 255
	} else {
		yLo, ySpan, cSpan = 16, 219, 224
	}
	yOut := yLo + yf*ySpan/255
	uOut := 128 + uf*cSpan/255
	vOut := 128 + vf*cSpan/255
	return clamp8(yOut), clamp8(uOut), clamp8(vOut)
}

func clamp8(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v + 0.5)
}

func fillY(rgba []byte, stride, w, h int, kr, kb float64, cr media.ColorRange, y []byte, yStride int) {
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			r, g, b := rgbaAt(rgba, stride, col, row)
			lum, _, _ := toYUV(r, g, b, kr, kb, cr)
			y[row*yStride+col] = lum
		}
	}
}

// fillChroma420 averages each 2x2 luma block into one chroma sample per
// plane (spec §4.2 step 5 "half/half, horizontal 2-tap").
func fillChroma420(rgba []byte, stride, w, h int, kr, kb float64, cr media.ColorRange, u, v []byte, cStride int) {
	for cy := 0; cy*2 < h; cy++ {
		for cx := 0; cx*2 < w; cx++ {
			r, g, b := averageBlock(rgba, stride, w, h, cx*2, cy*2)
			_, cu, cv := toYUV(r, g, b, kr, kb, cr)
			u[cy*cStride+cx] = cu
			v[cy*cStride+cx] = cv
		}
	}
}

func fillChromaNV12(rgba []byte, stride, w, h int, kr, kb float64, cr media.ColorRange, uv []byte, uvStride int) {
	for cy := 0; cy*2 < h; cy++ {
		for cx := 0; cx*2 < w; cx++ {
			r, g, b := averageBlock(rgba, stride, w, h, cx*2, cy*2)
			_, cu, cv := toYUV(r, g, b, kr, kb, cr)
			uv[cy*uvStride+cx*2] = cu
			uv[cy*uvStride+cx*2+1] = cv
		}
	}
}

func averageBlock(rgba []byte, stride, w, h, x, y int) (r, g, b float64) {
	n := 0
	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			if x+dx >= w || y+dy >= h {
				continue
			}
			rr, gg, bb := rgbaAt(rgba, stride, x+dx, y+dy)
			r += rr
			g += gg
			b += bb
			n++
		}
	}
	if n == 0 {
		return 0, 0, 0
	}
	return r / float64(n), g / float64(n), b / float64(n)
}
