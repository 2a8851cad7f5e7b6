package ocr

import (
	"fmt"
	"image"
)

// Angles returns the first n orientations: 0, 90, ..., (n-1)*90.
func Angles(n int) []int {
	if n < 0 {
		n = 0
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i * 90
	}
	return out
}

// Rotate turns img counter-clockwise by angle degrees. angle must be a
// multiple of 90; negative angles rotate clockwise. A zero rotation returns
// img unchanged.
func Rotate(img image.Image, angle int) (image.Image, error) {
	if angle%90 != 0 {
		return nil, fmt.Errorf("rotate by %d: angle must be a multiple of 90", angle)
	}
	quarter := ((angle/90)%4 + 4) % 4
	if quarter == 0 {
		return img, nil
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.RGBA
	if quarter == 2 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			switch quarter {
			case 1:
				dst.Set(y, w-1-x, c)
			case 2:
				dst.Set(w-1-x, h-1-y, c)
			case 3:
				dst.Set(h-1-y, x, c)
			}
		}
	}
	return dst, nil
}
