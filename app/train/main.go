package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tsawler/go-empathy/checkpoints"
	"github.com/tsawler/go-empathy/config"
	"github.com/tsawler/go-empathy/dataset"
	"github.com/tsawler/go-empathy/device"
	"github.com/tsawler/go-empathy/logging"
	"github.com/tsawler/go-empathy/model"
	"github.com/tsawler/go-empathy/optimizer"
	"github.com/tsawler/go-empathy/tokenizer"
	"github.com/tsawler/go-empathy/training"
)

var (
	configFile = flag.String("config", "", "Path to JSON configuration file")
	envFile    = flag.String("env", ".env", "Path to optional .env file")
	dataPath   = flag.String("data", "", "Dataset path (overrides dataset_path)")
	checkpoint = flag.String("checkpoint", "", "Checkpoint to evaluate in eval mode (default: latest in registry)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile, *envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dataPath != "" {
		cfg.DatasetPath = *dataPath
	}

	logger, err := logging.NewLogger(&logging.LoggingConfig{
		Level:  cfg.LogLevel,
		Format: "text",
		Output: cfg.LogOutput,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Run failed: %v", err)
	}
	logger.Info("Done")
}

func run(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	dev := device.Select()
	logger.Info("Using device %s", dev)

	logger.Info("Loading dataset %s", cfg.DatasetPath)
	essays, err := dataset.Load(cfg.DatasetPath, dataset.Options{
		RegressionTargets: cfg.RegressionTargets,
		RemoveStopwords:   cfg.RemoveStopwords,
		Lemmatize:         cfg.Lemmatize,
	})
	if err != nil {
		return err
	}
	logger.Info("Loaded %d essays with targets %v", essays.Len(), essays.Targets())

	trainSize, valSize, err := training.SplitSizes(essays.Len(), cfg.ValidationSplit)
	if err != nil {
		return err
	}
	parts, err := training.RandomSplit(essays, []int{trainSize, valSize}, cfg.Seed)
	if err != nil {
		return fmt.Errorf("failed to split dataset: %w", err)
	}
	trainLoader, err := training.NewDataLoader(parts[0], cfg.BatchSize, true, true, cfg.Seed)
	if err != nil {
		return err
	}
	valLoader, err := training.NewDataLoader(parts[1], cfg.BatchSize, false, true, cfg.Seed)
	if err != nil {
		return err
	}
	logger.Info("Split %d train / %d validation (%d / %d batches)", trainSize, valSize, trainLoader.Len(), valLoader.Len())

	enc, err := newTokenizer(cfg, essays.Texts(), logger)
	if err != nil {
		return err
	}

	net, err := model.New(model.Config{
		BatchSize:       cfg.BatchSize,
		EmbedDim:        cfg.EmbedDim,
		HiddenDim:       cfg.HiddenDim,
		NumClasses:      cfg.NumClasses,
		RegressionHeads: len(essays.Targets()),
		Seed:            cfg.Seed,
	}, enc)
	if err != nil {
		return fmt.Errorf("failed to build model: %w", err)
	}

	criteria, err := training.Criteria(&cfg, net.Heads())
	if err != nil {
		return err
	}

	adamConfig := optimizer.DefaultAdamConfig()
	adamConfig.LearningRate = float32(cfg.LearningRate)
	adam, err := optimizer.NewAdamOptimizer(adamConfig)
	if err != nil {
		return err
	}

	format, err := checkpoints.ParseFormat(cfg.CheckpointFormat)
	if err != nil {
		return err
	}

	var registry *checkpoints.Registry
	if cfg.RegistryPath != "" {
		if registry, err = checkpoints.OpenRegistry(cfg.RegistryPath); err != nil {
			return err
		}
		defer registry.Close()
	}

	var progress *training.ProgressReporter
	if cfg.Progress {
		progress = training.NewProgressReporter(os.Stderr)
	}

	trainer, err := training.NewTrainer(net, criteria, adam, dev, training.TrainerConfig{
		Epochs:         cfg.Epochs,
		MaxLen:         cfg.MaxLen,
		NumClasses:     cfg.NumClasses,
		SkipBadBatches: cfg.SkipBadBatches,
		Checkpoint: training.CheckpointConfig{
			SaveDirectory:   cfg.CheckpointDir,
			Format:          format,
			FilenamePattern: "bert_%d.pt",
		},
		Progress: progress,
	}, logger, registry)
	if err != nil {
		return err
	}
	defer trainer.Close()

	if cfg.Mode == config.ModeEval {
		return evaluate(ctx, trainer, valLoader, registry, logger)
	}

	if _, err := trainer.Run(ctx, trainLoader, valLoader); err != nil {
		return err
	}
	return nil
}

func newTokenizer(cfg config.Config, corpus []string, logger *logging.Logger) (tokenizer.Encoder, error) {
	if cfg.Tokenizer == "tiktoken" {
		logger.Info("Using tiktoken cl100k_base folded into %d buckets", cfg.VocabSize)
		return tokenizer.NewTikToken("cl100k_base", cfg.VocabSize)
	}

	vocabPath := cfg.VocabPath
	if vocabPath == "" {
		vocabPath = filepath.Join(cfg.CheckpointDir, "vocab.txt")
	}
	if _, err := os.Stat(vocabPath); err == nil {
		logger.Info("Loading vocabulary %s", vocabPath)
		return tokenizer.LoadVocab(vocabPath)
	}

	wp, err := tokenizer.BuildVocab(corpus, cfg.VocabSize, vocabPath)
	if err != nil {
		return nil, err
	}
	logger.Info("Built vocabulary of %d tokens into %s", wp.VocabSize(), vocabPath)
	return wp, nil
}

func evaluate(ctx context.Context, trainer *training.Trainer, loader *training.DataLoader, registry *checkpoints.Registry, logger *logging.Logger) error {
	path := *checkpoint
	if path == "" {
		if registry == nil {
			return fmt.Errorf("eval mode needs -checkpoint or a registry")
		}
		entry, err := registry.Latest()
		if err != nil {
			return err
		}
		if err := entry.Verify(); err != nil {
			return err
		}
		path = entry.Path
	}

	epoch, err := trainer.Restore(path)
	if err != nil {
		return err
	}
	logger.Info("Evaluating %s (epoch %d)", path, epoch)

	metrics, err := trainer.Evaluate(ctx, loader)
	if err != nil {
		return err
	}
	logger.Info("Val loss %.4f, accuracy %.2f, macro F1 %.4f over %d batches",
		average(metrics.ValLoss), average(metrics.ValAccuracy), metrics.ValMacroF1, len(metrics.ValLoss))
	return nil
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
