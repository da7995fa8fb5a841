package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"visionzoo/internal/config"
	"visionzoo/internal/runner"
	"visionzoo/internal/server"
	"visionzoo/internal/zoo"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	mode := flag.String("mode", "run", "run | serve | summary")
	model := flag.String("model", "", "Override model name")
	numClasses := flag.Int("num-classes", 0, "Override classifier width")
	weights := flag.String("weights", "", "Checkpoint file or URL to load")
	imageRoot := flag.String("image-root", "", "Override image root")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	numWorkers := flag.Int("num-workers", 0, "Number of data loader workers")
	logEvery := flag.Int("log-every", 0, "Log every N batches")
	listen := flag.String("listen", "", "Override serve address")
	seed := flag.Int64("seed", 0, "PRNG seed")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		Model:      *model,
		NumClasses: *numClasses,
		Weights:    *weights,
		ImageRoot:  *imageRoot,
		BatchSize:  *batchSize,
		NumWorkers: *numWorkers,
		LogEvery:   *logEvery,
		Listen:     *listen,
		Seed:       *seed,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "run":
		if err := runInference(ctx, cfg); err != nil {
			log.Fatalf("inference failed: %v", err)
		}
	case "serve":
		if err := serveZoo(ctx, cfg); err != nil {
			log.Fatalf("serve failed: %v", err)
		}
	case "summary":
		if err := printSummary(cfg); err != nil {
			log.Fatalf("summary failed: %v", err)
		}
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}

func buildModel(cfg *config.Config) (zoo.Model, error) {
	m, err := zoo.Build(cfg.Model,
		zoo.WithInChannels(cfg.InChannels),
		zoo.WithNumClasses(cfg.NumClasses),
		zoo.WithDropRate(cfg.DropRate),
		zoo.WithSeed(cfg.Seed),
	)
	if err != nil {
		return nil, err
	}
	if cfg.Weights != "" {
		if err := zoo.LoadCheckpoint(m, cfg.Weights); err != nil {
			return nil, fmt.Errorf("load weights: %w", err)
		}
		log.Printf("model=%s weights=%s", m.Name(), cfg.Weights)
	}
	return m, nil
}

func runInference(ctx context.Context, cfg *config.Config) error {
	if cfg.ImageRoot == "" {
		return fmt.Errorf("image_root must be set for mode=run")
	}
	m, err := buildModel(cfg)
	if err != nil {
		return err
	}
	log.Printf("model=%s params=%d classes=%d", m.Name(), zoo.ParamCount(m), m.NumClasses())

	return runner.Run(ctx, runner.RunConfig{
		Model:      m,
		Root:       cfg.ImageRoot,
		Size:       cfg.ImageSize,
		BatchSize:  cfg.BatchSize,
		NumWorkers: cfg.NumWorkers,
		LogEvery:   cfg.LogEvery,
	})
}

func serveZoo(ctx context.Context, cfg *config.Config) error {
	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: server.New(cfg.ImageSize,
			zoo.WithInChannels(cfg.InChannels),
			zoo.WithNumClasses(cfg.NumClasses),
			zoo.WithDropRate(cfg.DropRate),
			zoo.WithSeed(cfg.Seed),
		).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening addr=%s", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}

func printSummary(cfg *config.Config) error {
	m, err := buildModel(cfg)
	if err != nil {
		return err
	}
	fmt.Printf("model: %s\n", m.Name())
	fmt.Printf("classes: %d\n", m.NumClasses())
	fmt.Printf("input channels: %d\n", m.InChannels())
	fmt.Printf("parameters: %d\n", zoo.ParamCount(m))
	return nil
}
