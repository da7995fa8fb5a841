package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"gorgonia.org/tensor"

	"visionzoo/internal/dataset"
	"visionzoo/internal/metrics"
	"visionzoo/internal/zoo"
)

// RunConfig captures the knobs required by the inference loop.
type RunConfig struct {
	Model      zoo.Model
	Root       string
	Size       int
	BatchSize  int
	NumWorkers int
	LogEvery   int
}

// Run streams the dataset under Root through the model in batches and logs
// throughput and top-1 stats. It makes one pass and returns when the data
// is exhausted or the context is cancelled.
func Run(ctx context.Context, cfg RunConfig) error {
	if cfg.Model == nil {
		return errors.New("runner: model is required")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("runner: batch size must be > 0")
	}
	if cfg.Size <= 0 {
		cfg.Size = 299
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 10
	}

	items, loaderErr, err := dataset.StartLoader(ctx, dataset.LoaderOptions{
		Root:       cfg.Root,
		Size:       cfg.Size,
		NumWorkers: cfg.NumWorkers,
	})
	if err != nil {
		return err
	}

	var window metrics.Window
	var total, correct, labeled int
	step := 0

	for {
		startData := time.Now()
		batch, err := nextBatch(ctx, items, loaderErr, cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		input, err := stackBatch(batch, cfg.Model.InChannels(), cfg.Size)
		if err != nil {
			return err
		}
		logits := cfg.Model.Forward(input, false)
		computeTime := time.Since(startCompute)

		batchCorrect, batchLabeled, meanConf := scoreBatch(logits, batch)
		total += len(batch)
		correct += batchCorrect
		labeled += batchLabeled
		window.Record(len(batch), dataTime, computeTime, batchCorrect, batchLabeled, meanConf)

		step++
		if step%cfg.LogEvery == 0 {
			snap := window.Snapshot()
			log.Printf("step=%d images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f top1_acc=%.4f confidence=%.4f",
				step,
				snap.ImagesPerSec,
				snap.AvgDataMS,
				snap.AvgComputeMS,
				snap.Top1Accuracy,
				snap.LastConfidence,
			)
		}
	}

	// a loader error can land between the last item and channel close
	if err, ok := <-loaderErr; ok && err != nil {
		return err
	}

	if labeled > 0 {
		log.Printf("done images=%d labeled=%d top1_acc=%.4f", total, labeled, float64(correct)/float64(labeled))
	} else {
		log.Printf("done images=%d", total)
	}
	return nil
}

func nextBatch(ctx context.Context, items <-chan dataset.Item, errs <-chan error, batchSize int) ([]dataset.Item, error) {
	batch := make([]dataset.Item, 0, batchSize)
	for len(batch) < batchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err, ok := <-errs:
			if ok && err != nil {
				return nil, err
			}
			errs = nil
		case item, ok := <-items:
			if !ok {
				return batch, nil
			}
			batch = append(batch, item)
		}
	}
	return batch, nil
}

// stackBatch copies per-sample CHW tensors into one NCHW input. Every
// sample must match the model's expected shape; a silent copy of a
// mismatched plane would feed the network wrong data.
func stackBatch(batch []dataset.Item, channels, size int) (*tensor.Dense, error) {
	want := tensor.Shape{channels, size, size}
	plane := channels * size * size
	backing := make([]float32, len(batch)*plane)
	for i, item := range batch {
		if !item.Input.Shape().Eq(want) {
			return nil, fmt.Errorf("runner: sample %s has shape %v, model wants %v",
				item.Key, item.Input.Shape(), want)
		}
		copy(backing[i*plane:(i+1)*plane], item.Input.Data().([]float32))
	}
	return tensor.New(
		tensor.WithShape(len(batch), channels, size, size),
		tensor.WithBacking(backing),
	), nil
}

func scoreBatch(logits *tensor.Dense, batch []dataset.Item) (correct, labeled int, meanConf float64) {
	shape := logits.Shape()
	classes := shape[len(shape)-1]
	data := logits.Data().([]float32)
	for i, item := range batch {
		idx, conf := top1(data[i*classes : (i+1)*classes])
		meanConf += conf
		if item.Label >= 0 {
			labeled++
			if idx == item.Label {
				correct++
			}
		}
	}
	if len(batch) > 0 {
		meanConf /= float64(len(batch))
	}
	return correct, labeled, meanConf
}

// top1 returns the argmax class and its softmax probability.
func top1(logits []float32) (int, float64) {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - logits[best]))
	}
	return best, 1 / sum
}
