package training

import (
	"context"
	"fmt"
	"time"

	"github.com/tsawler/go-empathy/checkpoints"
	"github.com/tsawler/go-empathy/device"
	"github.com/tsawler/go-empathy/logging"
	"github.com/tsawler/go-empathy/optimizer"
	"github.com/tsawler/go-empathy/tokenizer"
	"gorgonia.org/tensor"
)

// TrainerConfig holds configuration for training
type TrainerConfig struct {
	Epochs         int
	MaxLen         int  // tokenizer max length for every batch
	NumClasses     int  // width of the categorical head, for the confusion matrix
	SkipBadBatches bool // log and skip a failing batch instead of aborting the run
	Checkpoint     CheckpointConfig
	Progress       *ProgressReporter // nil disables progress bars
}

// EpochMetrics holds the per-batch values of one epoch
type EpochMetrics struct {
	Epoch          int
	TrainLoss      []float64
	TrainAccuracy  []float64
	TrainF1        []float64
	ValLoss        []float64
	ValAccuracy    []float64
	ValF1          []float64
	ValMacroF1     float64
	ValRegression  []*RegressionMetrics // one per regression head
	SkippedBatches int
	Checkpoint     string
	Duration       time.Duration
}

// Trainer manages the training process
type Trainer struct {
	model       Model
	session     *Session
	optimizer   optimizer.Optimizer
	checkpoints *CheckpointManager
	device      device.Device
	config      TrainerConfig
	logger      *logging.Logger
}

// NewTrainer wires the model, one criterion per head and the optimizer into a
// loop on dev. registry may be nil.
func NewTrainer(m Model, criteria []Criterion, opt optimizer.Optimizer, dev device.Device, config TrainerConfig, logger *logging.Logger, registry *checkpoints.Registry) (*Trainer, error) {
	if config.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", config.Epochs)
	}
	if config.MaxLen <= 0 {
		return nil, fmt.Errorf("max length must be positive, got %d", config.MaxLen)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	session, err := NewSession(m, criteria, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to build training session: %w", err)
	}

	ckpt := config.Checkpoint
	ckpt.Description = "trained on " + dev.String()
	ckpt.Tags = append(append([]string(nil), ckpt.Tags...), "device:"+dev.Kind.String())

	return &Trainer{
		model:       m,
		session:     session,
		optimizer:   opt,
		checkpoints: NewCheckpointManager(m, opt, ckpt, registry),
		device:      dev,
		config:      config,
		logger:      logger,
	}, nil
}

// Run trains for the configured epochs. Every epoch is one pass over
// trainLoader, a checkpoint, and one pass over valLoader in eval mode.
func (t *Trainer) Run(ctx context.Context, trainLoader, valLoader *DataLoader) ([]EpochMetrics, error) {
	t.logger.Info("Starting training for %d epochs on %s", t.config.Epochs, t.device)

	history := make([]EpochMetrics, 0, t.config.Epochs)
	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		epochStart := time.Now()
		metrics := EpochMetrics{Epoch: epoch}
		t.logger.Info("Epoch: %d", epoch)

		if err := t.trainEpoch(ctx, trainLoader, &metrics); err != nil {
			return history, fmt.Errorf("training epoch %d failed: %w", epoch, err)
		}

		path, err := t.checkpoints.SaveCheckpoint(epoch)
		if err != nil {
			return history, fmt.Errorf("failed to save checkpoint for epoch %d: %w", epoch, err)
		}
		metrics.Checkpoint = path
		t.logger.Info("Saved checkpoint %s", path)

		if valLoader != nil {
			if err := t.validateEpoch(ctx, valLoader, &metrics); err != nil {
				return history, fmt.Errorf("validation epoch %d failed: %w", epoch, err)
			}
		}

		metrics.Duration = time.Since(epochStart)
		t.printEpochSummary(metrics)
		history = append(history, metrics)
	}
	return history, nil
}

// Evaluate runs one validation pass without training or checkpointing
func (t *Trainer) Evaluate(ctx context.Context, loader *DataLoader) (EpochMetrics, error) {
	start := time.Now()
	metrics := EpochMetrics{Epoch: -1}
	if err := t.validateEpoch(ctx, loader, &metrics); err != nil {
		return metrics, fmt.Errorf("evaluation failed: %w", err)
	}
	metrics.Duration = time.Since(start)
	return metrics, nil
}

// Restore loads model and optimizer state from a checkpoint file and
// returns its epoch
func (t *Trainer) Restore(path string) (int, error) {
	return t.checkpoints.LoadCheckpoint(path)
}

// Close releases the session machines
func (t *Trainer) Close() error {
	return t.session.Close()
}

func (t *Trainer) trainEpoch(ctx context.Context, loader *DataLoader, metrics *EpochMetrics) error {
	t.model.Train()
	loader.Reset()

	bar := t.config.Progress.Start("train", loader.Len())
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			bar.Abort()
			return err
		}

		batch, err := loader.Next()
		if err != nil {
			bar.Abort()
			return err
		}
		if batch == nil {
			break
		}

		t.logger.Info("Batch: %d", n)
		res, err := t.step(batch, true)
		if err != nil {
			if t.config.SkipBadBatches {
				t.logger.Warn("Skipping training batch %d: %v", n, err)
				metrics.SkippedBatches++
				bar.Increment()
				continue
			}
			bar.Abort()
			return fmt.Errorf("batch %d: %w", n, err)
		}

		metrics.TrainLoss = append(metrics.TrainLoss, res.Loss)
		metrics.TrainAccuracy = append(metrics.TrainAccuracy, res.Accuracy)
		metrics.TrainF1 = append(metrics.TrainF1, res.F1)

		t.logger.Info("Train loss: %.4f", res.Loss)
		t.logger.Info("Train accuracy: %.2f", res.Accuracy)
		t.logger.Info("Train F1: %.4f", res.F1)
		bar.Increment()
	}
	bar.Finish()
	return nil
}

func (t *Trainer) validateEpoch(ctx context.Context, loader *DataLoader, metrics *EpochMetrics) error {
	t.model.Eval()
	defer t.model.Train()
	loader.Reset()

	var confusion *ConfusionMatrix
	if t.config.NumClasses > 1 {
		confusion = NewConfusionMatrix(t.config.NumClasses)
	}
	var regression []*RegressionAccumulator

	bar := t.config.Progress.Start("validate", loader.Len())
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			bar.Abort()
			return err
		}

		batch, err := loader.Next()
		if err != nil {
			bar.Abort()
			return err
		}
		if batch == nil {
			break
		}

		res, err := t.step(batch, false)
		if err != nil {
			if t.config.SkipBadBatches {
				t.logger.Warn("Skipping validation batch %d: %v", n, err)
				metrics.SkippedBatches++
				bar.Increment()
				continue
			}
			bar.Abort()
			return fmt.Errorf("batch %d: %w", n, err)
		}

		metrics.ValLoss = append(metrics.ValLoss, res.Loss)
		metrics.ValAccuracy = append(metrics.ValAccuracy, res.Accuracy)
		metrics.ValF1 = append(metrics.ValF1, res.F1)

		if err := accumulate(batch.Labels, res.Outputs, confusion, &regression); err != nil {
			bar.Abort()
			return err
		}

		t.logger.Info("Val loss: %.4f", res.Loss)
		t.logger.Info("Val accuracy: %.2f", res.Accuracy)
		t.logger.Info("Val F1: %.4f", res.F1)
		bar.Increment()
	}
	bar.Finish()

	if confusion != nil {
		metrics.ValMacroF1 = confusion.GetMetric(MacroF1)
	}
	for _, acc := range regression {
		metrics.ValRegression = append(metrics.ValRegression, acc.Metrics())
	}
	return nil
}

// step tokenizes, binds and runs one batch
func (t *Trainer) step(batch *Batch, train bool) (*StepResult, error) {
	enc, err := t.model.Tokenize(batch.Texts, tokenizer.TrainingOptions(t.config.MaxLen))
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize batch: %w", err)
	}
	batch.Input = enc

	if err := t.model.Bind(enc); err != nil {
		return nil, err
	}
	if err := t.session.BindTargets(batch.Labels); err != nil {
		return nil, err
	}
	return t.session.Run(batch.Labels, train)
}

// accumulate feeds head 0 to the confusion matrix and every other head to its
// regression accumulator
func accumulate(labels, outputs []*tensor.Dense, confusion *ConfusionMatrix, regression *[]*RegressionAccumulator) error {
	for len(*regression) < len(outputs)-1 {
		*regression = append(*regression, &RegressionAccumulator{})
	}

	for i, out := range outputs {
		truth, err := labelValues(labels[i])
		if err != nil {
			return err
		}
		if i == 0 {
			if confusion != nil {
				if err := confusion.Update(truth, out); err != nil {
					return err
				}
			}
			continue
		}
		preds, ok := out.Data().([]float32)
		if !ok {
			return fmt.Errorf("head %d output has dtype %v, want float32", i, out.Dtype())
		}
		if err := (*regression)[i-1].Add(preds, truth); err != nil {
			return fmt.Errorf("head %d: %w", i, err)
		}
	}
	return nil
}

func (t *Trainer) printEpochSummary(m EpochMetrics) {
	t.logger.Info("Epoch %d/%d: Train Loss=%.4f, Train Acc=%.2f%%, Val Loss=%.4f, Val Acc=%.2f%%, Val Macro F1=%.4f, Time=%v",
		m.Epoch+1, t.config.Epochs, mean(m.TrainLoss), mean(m.TrainAccuracy), mean(m.ValLoss), mean(m.ValAccuracy), m.ValMacroF1, m.Duration)
	for i, r := range m.ValRegression {
		t.logger.Info("  head %d: MAE=%.4f RMSE=%.4f R2=%.4f", i+1, r.MAE, r.RMSE, r.R2)
	}
	if m.SkippedBatches > 0 {
		t.logger.Warn("  skipped %d batches", m.SkippedBatches)
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
