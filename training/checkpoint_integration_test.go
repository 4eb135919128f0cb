package training

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-empathy/checkpoints"
)

// fakeWeights is a CheckpointCapable holding one tensor
type fakeWeights struct {
	data []float32
}

func (f *fakeWeights) StateDict() ([]checkpoints.WeightTensor, error) {
	return []checkpoints.WeightTensor{{Name: "w", Shape: []int{len(f.data)}, Data: append([]float32(nil), f.data...)}}, nil
}

func (f *fakeWeights) LoadStateDict(weights []checkpoints.WeightTensor) error {
	f.data = append([]float32(nil), weights[0].Data...)
	return nil
}

func TestCheckpointManagerRoundTrip(t *testing.T) {
	for _, format := range []checkpoints.CheckpointFormat{checkpoints.FormatJSON, checkpoints.FormatProtobuf} {
		t.Run(format.String(), func(t *testing.T) {
			cfg := DefaultCheckpointConfig()
			cfg.SaveDirectory = t.TempDir()
			cfg.Format = format

			src := &fakeWeights{data: []float32{1, 2, 3}}
			cm := NewCheckpointManager(src, nil, cfg, nil)
			path, err := cm.SaveCheckpoint(4)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(cfg.SaveDirectory, "bert_4.pt"), path)

			dst := &fakeWeights{}
			epoch, err := NewCheckpointManager(dst, nil, cfg, nil).LoadCheckpoint(path)
			require.NoError(t, err)
			assert.Equal(t, 4, epoch)
			assert.Equal(t, []float32{1, 2, 3}, dst.data)
		})
	}
}

func TestCheckpointManagerKeepsNewest(t *testing.T) {
	cfg := DefaultCheckpointConfig()
	cfg.SaveDirectory = t.TempDir()
	cfg.MaxCheckpoints = 2

	cm := NewCheckpointManager(&fakeWeights{data: []float32{1}}, nil, cfg, nil)
	for epoch := 0; epoch < 3; epoch++ {
		_, err := cm.SaveCheckpoint(epoch)
		require.NoError(t, err)
	}

	_, err := os.Stat(filepath.Join(cfg.SaveDirectory, "bert_0.pt"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, []string{
		filepath.Join(cfg.SaveDirectory, "bert_1.pt"),
		filepath.Join(cfg.SaveDirectory, "bert_2.pt"),
	}, cm.SavedFiles())
}

func TestProgressReporterNilIsSafe(t *testing.T) {
	var r *ProgressReporter
	bar := r.Start("train", 3)
	assert.Nil(t, bar)
	bar.Increment()
	bar.Finish()
	bar.Abort()
}
