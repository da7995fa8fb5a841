package dataset

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"gorgonia.org/tensor"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestPreprocessShape(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	out, err := Preprocess(encodePNG(t, img), 299)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if !out.Shape().Eq(tensor.Shape{3, 299, 299}) {
		t.Fatalf("unexpected shape %v", out.Shape())
	}
}

func TestPreprocessNormalization(t *testing.T) {
	// uniform mid-gray input: every channel should land on a constant
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	out, err := Preprocess(encodePNG(t, img), 4)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	data := out.Data().([]float32)
	plane := 16
	for c := 0; c < 3; c++ {
		want := (float32(128)/255 - channelMean[c]) / channelStd[c]
		for i := 0; i < plane; i++ {
			got := data[c*plane+i]
			if math.Abs(float64(got-want)) > 1e-2 {
				t.Fatalf("channel %d index %d: expected %f, got %f", c, i, want, got)
			}
		}
	}
}

func TestPreprocessRejectsGarbage(t *testing.T) {
	if _, err := Preprocess([]byte("not an image"), 299); err == nil {
		t.Fatalf("expected decode error")
	}
}
