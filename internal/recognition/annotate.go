package recognition

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	knownColor   = color.RGBA{G: 255, A: 255}
	unknownColor = color.RGBA{R: 255, A: 255}
)

const boxThickness = 2

// annotate draws the face box and its label onto dst.
func annotate(dst *image.RGBA, box image.Rectangle, label string, known bool) {
	col := unknownColor
	if known {
		col = knownColor
	}

	for t := 0; t < boxThickness; t++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			dst.SetRGBA(x, box.Min.Y+t, col)
			dst.SetRGBA(x, box.Max.Y-1-t, col)
		}
		for y := box.Min.Y; y < box.Max.Y; y++ {
			dst.SetRGBA(box.Min.X+t, y, col)
			dst.SetRGBA(box.Max.X-1-t, y, col)
		}
	}

	face := basicfont.Face7x13
	baseline := box.Min.Y - 10
	if baseline-face.Ascent < dst.Bounds().Min.Y {
		baseline = box.Min.Y + face.Ascent + boxThickness
	}
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(box.Min.X, baseline),
	}
	d.DrawString(label)
}
