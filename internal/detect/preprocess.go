package detect

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/nfnt/resize"
)

// Letterbox holds the mapping from model input space back to source pixels.
type Letterbox struct {
	Scale      float64
	PadX, PadY int
	SrcW, SrcH int
}

// letterboxImage scales img to fit a size x size square preserving aspect
// ratio, padding the borders with neutral gray (the YOLO convention).
func letterboxImage(img image.Image, size int) (*image.RGBA, Letterbox) {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	scale := float64(size) / float64(srcW)
	if s := float64(size) / float64(srcH); s < scale {
		scale = s
	}
	newW := int(float64(srcW) * scale)
	newH := int(float64(srcH) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}
	scaled := resize.Resize(uint(newW), uint(newH), img, resize.Bilinear)

	lb := Letterbox{
		Scale: scale,
		PadX:  (size - newW) / 2,
		PadY:  (size - newH) / 2,
		SrcW:  srcW,
		SrcH:  srcH,
	}
	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.RGBA{114, 114, 114, 255}}, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(lb.PadX, lb.PadY, lb.PadX+newW, lb.PadY+newH), scaled, scaled.Bounds().Min, draw.Src)
	return canvas, lb
}

// imageToTensor converts an RGBA image to a normalized NCHW float32 tensor.
func imageToTensor(img *image.RGBA, size int) []float32 {
	data := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := img.PixOffset(x, y)
			idx := y*size + x
			data[idx] = float32(img.Pix[off]) / 255.0
			data[plane+idx] = float32(img.Pix[off+1]) / 255.0
			data[2*plane+idx] = float32(img.Pix[off+2]) / 255.0
		}
	}
	return data
}

// toSource maps a box from letterboxed input space back to source pixels,
// clamped to the frame.
func (lb Letterbox) toSource(x1, y1, x2, y2 float64) [4]int {
	sx1 := int((x1 - float64(lb.PadX)) / lb.Scale)
	sy1 := int((y1 - float64(lb.PadY)) / lb.Scale)
	sx2 := int((x2 - float64(lb.PadX)) / lb.Scale)
	sy2 := int((y2 - float64(lb.PadY)) / lb.Scale)
	return [4]int{
		clamp(sx1, 0, lb.SrcW),
		clamp(sy1, 0, lb.SrcH),
		clamp(sx2, 0, lb.SrcW),
		clamp(sy2, 0, lb.SrcH),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
