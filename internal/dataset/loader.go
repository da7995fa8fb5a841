package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gorgonia.org/tensor"
)

// Item is a decoded, preprocessed sample ready for the model.
type Item struct {
	Key   string
	Input *tensor.Dense // 3 x size x size
	Label int           // -1 when the source carries no label
}

// LoaderOptions configures the decode pipeline.
type LoaderOptions struct {
	Root       string
	Size       int
	NumWorkers int
	PendingCap int
}

// StartLoader discovers the dataset beneath Root and streams preprocessed
// items through a worker pool. WebDataset shards take priority; otherwise
// loose image files are used, with labels taken from numeric parent
// directory names when present. The pipeline makes one pass and closes its
// channels; samples that fail to decode are dropped.
func StartLoader(ctx context.Context, opts LoaderOptions) (<-chan Item, <-chan error, error) {
	if opts.Size <= 0 {
		return nil, nil, errors.New("loader: image size must be > 0")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}

	shards, err := DiscoverShards(opts.Root)
	if err != nil {
		return nil, nil, err
	}
	var images []string
	if len(shards) == 0 {
		images, err = DiscoverImages(opts.Root)
		if err != nil {
			return nil, nil, err
		}
		if len(images) == 0 {
			return nil, nil, fmt.Errorf("loader: no shards or images under %s", opts.Root)
		}
	}

	raw := make(chan Sample, opts.NumWorkers)
	out := make(chan Item, opts.NumWorkers*2)
	errCh := make(chan error, opts.NumWorkers+1)

	go func() {
		defer close(raw)
		if len(shards) > 0 {
			produceShards(ctx, raw, errCh, shards, opts.PendingCap)
		} else {
			produceImages(ctx, raw, errCh, images)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sample := range raw {
				input, err := Preprocess(sample.Image, opts.Size)
				if err != nil {
					continue // corrupt image, drop
				}
				select {
				case <-ctx.Done():
					return
				case out <- Item{Key: sample.Key, Input: input, Label: sample.Label}:
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
		close(errCh)
	}()

	return out, errCh, nil
}

func produceShards(ctx context.Context, raw chan<- Sample, errCh chan<- error, shards []string, pendingCap int) {
	for _, shard := range shards {
		samples, shardErr := StreamShard(ctx, shard, pendingCap)
		for sample := range samples {
			select {
			case <-ctx.Done():
				return
			case raw <- sample:
			}
		}
		if err := <-shardErr; err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("shard %s: %w", shard, err)
			return
		}
	}
}

func produceImages(ctx context.Context, raw chan<- Sample, errCh chan<- error, paths []string) {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			errCh <- fmt.Errorf("read image: %w", err)
			return
		}
		name := filepath.Base(path)
		key := strings.TrimSuffix(name, filepath.Ext(name))
		select {
		case <-ctx.Done():
			return
		case raw <- Sample{Key: key, Image: data, Label: labelFromPath(path)}:
		}
	}
}

// labelFromPath reads an ImageFolder-style numeric class directory, e.g.
// root/7/img001.jpg -> 7.
func labelFromPath(path string) int {
	dir := filepath.Base(filepath.Dir(path))
	if label, err := strconv.Atoi(dir); err == nil && label >= 0 {
		return label
	}
	return -1
}
