package metrics

import (
	"math"
	"testing"
	"time"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(64, 20*time.Millisecond, 10*time.Millisecond, 40, 64, 0.91)
	w.Record(64, 10*time.Millisecond, 20*time.Millisecond, 56, 64, 0.87)
	snap := w.Snapshot()
	if math.Abs(snap.ImagesPerSec-2133.3333) > 1 {
		t.Fatalf("unexpected throughput %.2f", snap.ImagesPerSec)
	}
	if w.samples != 0 || w.steps != 0 || w.labeled != 0 {
		t.Fatalf("window was not reset")
	}
	if math.Abs(snap.Top1Accuracy-0.75) > 1e-9 {
		t.Fatalf("expected 75%% accuracy, got %.4f", snap.Top1Accuracy)
	}
	if snap.LastConfidence != 0.87 {
		t.Fatalf("expected last confidence 0.87, got %.2f", snap.LastConfidence)
	}
}

func TestWindowUnlabeled(t *testing.T) {
	var w Window
	w.Record(32, time.Millisecond, 5*time.Millisecond, 0, 0, 0.5)
	snap := w.Snapshot()
	if snap.Labeled != 0 {
		t.Fatalf("expected no labeled samples, got %d", snap.Labeled)
	}
	if snap.Top1Accuracy != 0 {
		t.Fatalf("accuracy should stay zero without labels, got %.4f", snap.Top1Accuracy)
	}
}
