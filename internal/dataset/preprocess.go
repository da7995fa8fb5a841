package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"gorgonia.org/tensor"

	"visionzoo/internal/nn"
)

// ImageNet channel statistics applied after scaling pixels to [0,1].
var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocess decodes raw image bytes and produces a 3 x size x size CHW
// tensor: center square crop, bilinear resize, [0,1] scaling, per-channel
// ImageNet normalization.
func Preprocess(raw []byte, size int) (*tensor.Dense, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("empty image")
	}

	crop := width
	if height < width {
		crop = height
	}
	offX := bounds.Min.X + (width-crop)/2
	offY := bounds.Min.Y + (height-crop)/2

	out := nn.NewTensor(3, size, size)
	dst := out.Data().([]float32)
	plane := size * size

	// bilinear sampling from the cropped square
	scale := float64(crop) / float64(size)
	for y := 0; y < size; y++ {
		srcY := (float64(y)+0.5)*scale - 0.5
		y0, fy := splitCoord(srcY, crop)
		for x := 0; x < size; x++ {
			srcX := (float64(x)+0.5)*scale - 0.5
			x0, fx := splitCoord(srcX, crop)

			r, g, b := lerpPixel(img, offX, offY, x0, y0, fx, fy, crop)
			dst[0*plane+y*size+x] = (r - channelMean[0]) / channelStd[0]
			dst[1*plane+y*size+x] = (g - channelMean[1]) / channelStd[1]
			dst[2*plane+y*size+x] = (b - channelMean[2]) / channelStd[2]
		}
	}
	return out, nil
}

func splitCoord(v float64, limit int) (int, float64) {
	if v < 0 {
		return 0, 0
	}
	i := int(v)
	if i >= limit-1 {
		return limit - 1, 0
	}
	return i, v - float64(i)
}

func lerpPixel(img image.Image, offX, offY, x0, y0 int, fx, fy float64, crop int) (r, g, b float32) {
	x1, y1 := x0+1, y0+1
	if x1 >= crop {
		x1 = crop - 1
	}
	if y1 >= crop {
		y1 = crop - 1
	}
	r00, g00, b00 := rgbAt(img, offX+x0, offY+y0)
	r10, g10, b10 := rgbAt(img, offX+x1, offY+y0)
	r01, g01, b01 := rgbAt(img, offX+x0, offY+y1)
	r11, g11, b11 := rgbAt(img, offX+x1, offY+y1)

	wx0, wx1 := 1-fx, fx
	wy0, wy1 := 1-fy, fy
	r = float32(wy0*(wx0*r00+wx1*r10) + wy1*(wx0*r01+wx1*r11))
	g = float32(wy0*(wx0*g00+wx1*g10) + wy1*(wx0*g01+wx1*g11))
	b = float32(wy0*(wx0*b00+wx1*b10) + wy1*(wx0*b01+wx1*b11))
	return r, g, b
}

func rgbAt(img image.Image, x, y int) (float64, float64, float64) {
	r, g, b, _ := img.At(x, y).RGBA()
	return float64(r) / 65535, float64(g) / 65535, float64(b) / 65535
}
