package runner

import (
	"archive/tar"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorgonia.org/tensor"

	"visionzoo/internal/dataset"
	"visionzoo/internal/nn"
)

// fixedModel always predicts class 0.
type fixedModel struct {
	classes int
	inC     int
}

func (m *fixedModel) Name() string       { return "fixed" }
func (m *fixedModel) NumClasses() int    { return m.classes }
func (m *fixedModel) InChannels() int    { return m.inC }
func (m *fixedModel) Params() []nn.Param { return nil }

func (m *fixedModel) OutShape(in tensor.Shape) tensor.Shape {
	return tensor.Shape{in[0], m.classes}
}

func (m *fixedModel) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	n := x.Shape()[0]
	backing := make([]float32, n*m.classes)
	for i := 0; i < n; i++ {
		backing[i*m.classes] = 5
	}
	return tensor.New(tensor.WithShape(n, m.classes), tensor.WithBacking(backing))
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestRunOnePass(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "0", "a.png"))
	writePNG(t, filepath.Join(dir, "0", "b.png"))
	writePNG(t, filepath.Join(dir, "1", "c.png"))

	err := Run(context.Background(), RunConfig{
		Model:     &fixedModel{classes: 4, inC: 3},
		Root:      dir,
		Size:      16,
		BatchSize: 2,
		LogEvery:  1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunRequiresBatchSize(t *testing.T) {
	err := Run(context.Background(), RunConfig{Model: &fixedModel{classes: 2, inC: 3}})
	if err == nil {
		t.Fatalf("expected error for missing batch size")
	}
}

func TestRunRejectsChannelMismatch(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "0", "a.png"))

	err := Run(context.Background(), RunConfig{
		Model:     &fixedModel{classes: 4, inC: 1},
		Root:      dir,
		Size:      16,
		BatchSize: 1,
	})
	if err == nil || !strings.Contains(err.Error(), "model wants") {
		t.Fatalf("expected channel mismatch error, got %v", err)
	}
}

func TestRunReportsLoaderError(t *testing.T) {
	dir := t.TempDir()

	// shard with an image entry that never gets a .cls partner
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	hdr := &tar.Header{Name: "000001.png", Size: 4, Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	if _, err := tw.Write([]byte("data")); err != nil {
		t.Fatalf("tar write: %v", err)
	}
	tw.Close()
	if err := os.WriteFile(filepath.Join(dir, "shard-000000.tar"), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}

	err := Run(context.Background(), RunConfig{
		Model:     &fixedModel{classes: 4, inC: 3},
		Root:      dir,
		Size:      16,
		BatchSize: 2,
	})
	if err == nil || !strings.Contains(err.Error(), "incomplete") {
		t.Fatalf("expected incomplete-sample error, got %v", err)
	}
}

func TestStackBatch(t *testing.T) {
	a := tensor.New(tensor.WithShape(3, 2, 2), tensor.WithBacking(make([]float32, 12)))
	b := tensor.New(tensor.WithShape(3, 2, 2), tensor.WithBacking(make([]float32, 12)))
	bData := b.Data().([]float32)
	for i := range bData {
		bData[i] = 1
	}
	stacked, err := stackBatch([]dataset.Item{{Input: a}, {Input: b}}, 3, 2)
	if err != nil {
		t.Fatalf("stackBatch: %v", err)
	}
	if !stacked.Shape().Eq(tensor.Shape{2, 3, 2, 2}) {
		t.Fatalf("unexpected shape %v", stacked.Shape())
	}
	data := stacked.Data().([]float32)
	if data[0] != 0 || data[12] != 1 {
		t.Fatalf("batch planes out of order: %v", data)
	}
}

func TestStackBatchRejectsShapeMismatch(t *testing.T) {
	x := tensor.New(tensor.WithShape(3, 2, 2), tensor.WithBacking([]float32{
		1, 1, 1, 1,
		2, 2, 2, 2,
		3, 3, 3, 3,
	}))
	if _, err := stackBatch([]dataset.Item{{Key: "a", Input: x}}, 1, 2); err == nil {
		t.Fatalf("expected error stacking a 3-channel sample into a 1-channel batch")
	}
	if _, err := stackBatch([]dataset.Item{{Key: "a", Input: x}}, 3, 4); err == nil {
		t.Fatalf("expected error stacking a 2x2 sample into a 4x4 batch")
	}
}

func TestTop1(t *testing.T) {
	idx, conf := top1([]float32{0, 0, 10, 0})
	if idx != 2 {
		t.Fatalf("expected argmax 2, got %d", idx)
	}
	if conf < 0.99 || conf > 1 {
		t.Fatalf("expected near-certain confidence, got %f", conf)
	}

	_, uniform := top1([]float32{1, 1, 1, 1})
	if math.Abs(uniform-0.25) > 1e-6 {
		t.Fatalf("expected uniform confidence 0.25, got %f", uniform)
	}
}
