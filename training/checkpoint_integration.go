package training

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tsawler/go-empathy/checkpoints"
	"github.com/tsawler/go-empathy/optimizer"
)

// CheckpointConfig configures checkpoint saving behavior
type CheckpointConfig struct {
	SaveDirectory   string                       // Directory to save checkpoints
	MaxCheckpoints  int                          // Maximum number of checkpoints to keep (0 = unlimited)
	Format          checkpoints.CheckpointFormat // JSON or protobuf
	FilenamePattern string                       // Pattern for checkpoint filenames, formatted with the epoch
	Description     string                       // Stored in checkpoint metadata
	Tags            []string                     // Stored in checkpoint metadata
}

// DefaultCheckpointConfig returns the layout used by the training program:
// ./ckpts/bert_<epoch>.pt for every epoch.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		SaveDirectory:   "./ckpts",
		Format:          checkpoints.FormatJSON,
		FilenamePattern: "bert_%d.pt",
	}
}

// CheckpointCapable is a model whose parameters can be saved and restored
type CheckpointCapable interface {
	StateDict() ([]checkpoints.WeightTensor, error)
	LoadStateDict(weights []checkpoints.WeightTensor) error
}

// CheckpointManager writes {epoch, state_dict, optimizer} after each epoch
// and, when a registry is attached, indexes every file it writes.
type CheckpointManager struct {
	config     CheckpointConfig
	model      CheckpointCapable
	optimizer  optimizer.Optimizer
	saver      *checkpoints.CheckpointSaver
	registry   *checkpoints.Registry
	savedFiles []string // Track saved checkpoint files for cleanup
}

// NewCheckpointManager creates a new checkpoint manager. registry may be nil.
func NewCheckpointManager(model CheckpointCapable, opt optimizer.Optimizer, config CheckpointConfig, registry *checkpoints.Registry) *CheckpointManager {
	return &CheckpointManager{
		config:    config,
		model:     model,
		optimizer: opt,
		saver:     checkpoints.NewCheckpointSaver(config.Format),
		registry:  registry,
	}
}

// SaveCheckpoint saves the current model and optimizer state for epoch and
// returns the written path
func (cm *CheckpointManager) SaveCheckpoint(epoch int) (string, error) {
	checkpoint, err := cm.createCheckpoint(epoch)
	if err != nil {
		return "", fmt.Errorf("failed to create checkpoint: %w", err)
	}

	path := filepath.Join(cm.config.SaveDirectory, cm.generateFilename(epoch))
	if err := cm.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return "", fmt.Errorf("failed to save checkpoint: %w", err)
	}
	cm.savedFiles = append(cm.savedFiles, path)

	if cm.registry != nil {
		if _, err := cm.registry.Record(epoch, path, cm.config.Format); err != nil {
			return path, fmt.Errorf("failed to record checkpoint: %w", err)
		}
	}

	if err := cm.cleanupOldCheckpoints(); err != nil {
		return path, err
	}
	return path, nil
}

// LoadCheckpoint restores model and optimizer state from path and returns
// the stored epoch
func (cm *CheckpointManager) LoadCheckpoint(path string) (int, error) {
	checkpoint, err := cm.saver.LoadCheckpoint(path)
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := cm.model.LoadStateDict(checkpoint.StateDict); err != nil {
		return 0, fmt.Errorf("failed to restore model: %w", err)
	}
	if checkpoint.Optimizer != nil && cm.optimizer != nil {
		if err := cm.optimizer.LoadState(checkpoint.Optimizer); err != nil {
			return 0, fmt.Errorf("failed to restore optimizer: %w", err)
		}
	}
	return checkpoint.Epoch, nil
}

// SavedFiles returns the paths written so far that have not been cleaned up
func (cm *CheckpointManager) SavedFiles() []string {
	return cm.savedFiles
}

func (cm *CheckpointManager) createCheckpoint(epoch int) (*checkpoints.Checkpoint, error) {
	weights, err := cm.model.StateDict()
	if err != nil {
		return nil, err
	}

	var state *checkpoints.OptimizerState
	if cm.optimizer != nil {
		if state, err = cm.optimizer.GetState(); err != nil {
			return nil, fmt.Errorf("failed to read optimizer state: %w", err)
		}
	}

	return &checkpoints.Checkpoint{
		Epoch:     epoch,
		StateDict: weights,
		Optimizer: state,
		Metadata: checkpoints.CheckpointMetadata{
			Framework:   checkpoints.Framework,
			Description: cm.config.Description,
			Tags:        cm.config.Tags,
		},
	}, nil
}

// Helper methods

func (cm *CheckpointManager) generateFilename(epoch int) string {
	pattern := cm.config.FilenamePattern
	if pattern == "" {
		pattern = "bert_%d.pt"
	}
	return fmt.Sprintf(pattern, epoch)
}

func (cm *CheckpointManager) cleanupOldCheckpoints() error {
	if cm.config.MaxCheckpoints <= 0 {
		return nil // No limit
	}
	if len(cm.savedFiles) <= cm.config.MaxCheckpoints {
		return nil // Under limit
	}

	// Remove oldest checkpoints
	toRemove := len(cm.savedFiles) - cm.config.MaxCheckpoints
	for i := 0; i < toRemove; i++ {
		if err := os.Remove(cm.savedFiles[i]); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove old checkpoint %s: %w", cm.savedFiles[i], err)
		}
	}
	cm.savedFiles = cm.savedFiles[toRemove:]
	return nil
}
