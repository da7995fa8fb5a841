package metrics

import "time"

// Window accumulates timing and prediction stats across multiple batches.
type Window struct {
	samples  int
	data     time.Duration
	compute  time.Duration
	steps    int
	labeled  int
	correct  int
	lastConf float64
}

// Record adds a new batch measurement to the window. correct and labeled
// describe how many samples in the batch carried ground-truth labels and
// how many of those the model predicted correctly; meanConf is the mean
// top-1 softmax confidence of the batch.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, correct, labeled int, meanConf float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.correct += correct
	w.labeled += labeled
	w.lastConf = meanConf
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
	}
	snap.Labeled = w.labeled
	if w.labeled > 0 {
		snap.Top1Accuracy = float64(w.correct) / float64(w.labeled)
	}
	snap.LastConfidence = w.lastConf

	w.samples = 0
	w.data = 0
	w.compute = 0
	w.steps = 0
	w.labeled = 0
	w.correct = 0
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	ImagesPerSec   float64
	AvgDataMS      float64
	AvgComputeMS   float64
	Labeled        int
	Top1Accuracy   float64
	LastConfidence float64
}
