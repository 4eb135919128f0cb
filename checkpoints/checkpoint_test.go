package checkpoints

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCheckpoint(epoch int) *Checkpoint {
	return &Checkpoint{
		Epoch: epoch,
		StateDict: []WeightTensor{
			{Name: "embedding.weight", Shape: []int{3, 2}, Data: []float32{0.1, -0.2, 0.3, 0.4, -0.5, 0.6}},
			{Name: "head0.bias", Shape: []int{1, 2}, Data: []float32{1.5, -2.25}},
		},
		Optimizer: &OptimizerState{
			Type: "Adam",
			Parameters: map[string]interface{}{
				"learning_rate": 0.001,
				"step_count":    7,
			},
			StateData: []OptimizerTensor{
				{Name: "m_head0.bias", Shape: []int{1, 2}, Data: []float32{0.01, 0.02}, StateType: "m"},
				{Name: "v_head0.bias", Shape: []int{1, 2}, Data: []float32{1e-4, 4e-4}, StateType: "v"},
			},
		},
		Metadata: CheckpointMetadata{
			CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
			Description: "unit test",
			Tags:        []string{"a", "b"},
		},
	}
}

func TestCheckpointSaveLoad(t *testing.T) {
	for _, format := range []CheckpointFormat{FormatJSON, FormatProtobuf} {
		t.Run(format.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ckpts", "bert_2.pt")
			saver := NewCheckpointSaver(format)

			original := testCheckpoint(2)
			require.NoError(t, saver.SaveCheckpoint(original, path))

			loaded, err := saver.LoadCheckpoint(path)
			require.NoError(t, err)

			assert.Equal(t, 2, loaded.Epoch)
			assert.Equal(t, original.StateDict, loaded.StateDict)
			require.NotNil(t, loaded.Optimizer)
			assert.Equal(t, "Adam", loaded.Optimizer.Type)
			assert.Equal(t, original.Optimizer.StateData, loaded.Optimizer.StateData)
			assert.InDelta(t, 0.001, loaded.Optimizer.Parameters["learning_rate"], 1e-9)
			assert.InDelta(t, 7, loaded.Optimizer.Parameters["step_count"], 1e-9)

			assert.Equal(t, Framework, loaded.Metadata.Framework)
			assert.True(t, original.Metadata.CreatedAt.Equal(loaded.Metadata.CreatedAt))
			assert.Equal(t, []string{"a", "b"}, loaded.Metadata.Tags)
		})
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bert_0.pt")
	require.NoError(t, NewCheckpointSaver(FormatJSON).SaveCheckpoint(testCheckpoint(0), path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bert_0.pt", entries[0].Name())
}

func TestCheckpointWithoutOptimizer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bert_1.pt")
	saver := NewCheckpointSaver(FormatProtobuf)
	ckpt := testCheckpoint(1)
	ckpt.Optimizer = nil
	require.NoError(t, saver.SaveCheckpoint(ckpt, path))

	loaded, err := saver.LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Nil(t, loaded.Optimizer)
	assert.NotNil(t, loaded.Weight("head0.bias"))
	assert.Nil(t, loaded.Weight("missing"))
}

func TestLoadWrongFormatFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bert_0.pt")
	require.NoError(t, NewCheckpointSaver(FormatJSON).SaveCheckpoint(testCheckpoint(0), path))

	_, err := NewCheckpointSaver(FormatProtobuf).LoadCheckpoint(path)
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    CheckpointFormat
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"", FormatJSON, false},
		{"Protobuf", FormatProtobuf, false},
		{"pb", FormatProtobuf, false},
		{"onnx", FormatJSON, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
