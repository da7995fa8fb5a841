package dataset

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"gorgonia.org/tensor"
)

func writeTestImage(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 64, A: 255})
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, encodePNG(t, img), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoaderFromImageFolder(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, filepath.Join(dir, "3", "a.png"))
	writeTestImage(t, filepath.Join(dir, "3", "b.png"))
	writeTestImage(t, filepath.Join(dir, "misc", "c.png"))

	items, errCh, err := StartLoader(context.Background(), LoaderOptions{
		Root:       dir,
		Size:       32,
		NumWorkers: 2,
	})
	if err != nil {
		t.Fatalf("StartLoader: %v", err)
	}

	labels := map[string]int{}
	for item := range items {
		if !item.Input.Shape().Eq(tensor.Shape{3, 32, 32}) {
			t.Fatalf("unexpected item shape %v", item.Input.Shape())
		}
		labels[item.Key] = item.Label
	}
	if err := <-errCh; err != nil {
		t.Fatalf("loader error: %v", err)
	}

	if len(labels) != 3 {
		t.Fatalf("expected 3 items, got %d", len(labels))
	}
	if labels["a"] != 3 || labels["b"] != 3 {
		t.Fatalf("expected class-directory labels, got %v", labels)
	}
	if labels["c"] != -1 {
		t.Fatalf("expected unlabeled item to carry -1, got %d", labels["c"])
	}
}

func TestLoaderFromShards(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	raw := encodePNG(t, img)
	buf := buildShard(map[string]filePair{
		"000001": {imageExt: ".png", image: raw, label: 2},
		"000002": {imageExt: ".png", image: raw, label: 9},
	})
	if err := os.WriteFile(filepath.Join(dir, "shard-000000.tar"), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}

	items, errCh, err := StartLoader(context.Background(), LoaderOptions{
		Root:       dir,
		Size:       16,
		NumWorkers: 1,
	})
	if err != nil {
		t.Fatalf("StartLoader: %v", err)
	}

	got := map[string]int{}
	for item := range items {
		got[item.Key] = item.Label
	}
	if err := <-errCh; err != nil {
		t.Fatalf("loader error: %v", err)
	}
	if got["000001"] != 2 || got["000002"] != 9 {
		t.Fatalf("unexpected labels %v", got)
	}
}

func TestLoaderEmptyRoot(t *testing.T) {
	_, _, err := StartLoader(context.Background(), LoaderOptions{Root: t.TempDir(), Size: 299})
	if err == nil {
		t.Fatalf("expected error for empty root")
	}
}
