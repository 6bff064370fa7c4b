package preprocess

import (
	"image"
	"image/color"
	"sort"

	"github.com/disintegration/imaging"
)

// stretchContrast maps the clip and 1-clip luminance percentiles of a grayscale image to
// the full range.
func stretchContrast(img *image.NRGBA, clip float64) *image.NRGBA {
	var hist [256]int
	total := 0
	for i := 0; i < len(img.Pix); i += 4 {
		hist[img.Pix[i]]++
		total++
	}
	if total == 0 {
		return img
	}

	lo, hi := percentile(hist, total, clip), percentile(hist, total, 1-clip)
	if hi <= lo {
		return img
	}
	scale := 255.0 / float64(hi-lo)
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		v := clamp((float64(c.R) - float64(lo)) * scale)
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

func percentile(hist [256]int, total int, q float64) int {
	target := int(q * float64(total))
	seen := 0
	for v, n := range hist {
		seen += n
		if seen > target {
			return v
		}
	}
	return 255
}

func clamp(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v + 0.5)
}

// median3 applies a 3x3 median filter to a grayscale image. Edge pixels use the clamped
// neighbourhood.
func median3(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	at := func(x, y int) uint8 {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
		return img.Pix[y*img.Stride+x*4]
	}

	window := make([]int, 0, 9)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			window = window[:0]
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					window = append(window, int(at(x+dx, y+dy)))
				}
			}
			sort.Ints(window)
			v := uint8(window[4])
			i := y*out.Stride + x*4
			out.Pix[i], out.Pix[i+1], out.Pix[i+2] = v, v, v
			out.Pix[i+3] = img.Pix[y*img.Stride+x*4+3]
		}
	}
	return out
}
