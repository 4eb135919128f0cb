package training

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-empathy/dataset"
)

// memDataset labels example i with class i%2 and target i
type memDataset struct {
	n int
}

func (m memDataset) Len() int { return m.n }

func (m memDataset) Get(idx int) (dataset.Example, error) {
	if idx < 0 || idx >= m.n {
		return dataset.Example{}, fmt.Errorf("index %d out of range", idx)
	}
	return dataset.Example{
		Text:   fmt.Sprintf("essay %d", idx),
		Labels: []float32{float32(idx % 2), float32(idx)},
	}, nil
}

func drain(t *testing.T, dl *DataLoader) []*Batch {
	t.Helper()
	dl.Reset()
	var batches []*Batch
	for {
		b, err := dl.Next()
		require.NoError(t, err)
		if b == nil {
			return batches
		}
		batches = append(batches, b)
	}
}

func TestDataLoaderBatches(t *testing.T) {
	dl, err := NewDataLoader(memDataset{n: 5}, 2, false, false, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, dl.Len())
	assert.Equal(t, 2, dl.BatchSize())

	batches := drain(t, dl)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"essay 0", "essay 1"}, batches[0].Texts)
	assert.Equal(t, 1, batches[2].Size())

	// one (B) tensor per label column
	require.Len(t, batches[1].Labels, 2)
	assert.Equal(t, []float32{0, 1}, batches[1].Labels[0].Data())
	assert.Equal(t, []float32{2, 3}, batches[1].Labels[1].Data())
	assert.False(t, dl.HasNext())
}

func TestDataLoaderDropLast(t *testing.T) {
	dl, err := NewDataLoader(memDataset{n: 5}, 2, false, true, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, dl.Len())
	batches := drain(t, dl)
	require.Len(t, batches, 2)
	for _, b := range batches {
		assert.Equal(t, 2, b.Size())
	}
}

func TestDataLoaderShuffleCoversEveryExample(t *testing.T) {
	dl, err := NewDataLoader(memDataset{n: 8}, 3, true, false, 7)
	require.NoError(t, err)

	var seen []string
	for _, b := range drain(t, dl) {
		seen = append(seen, b.Texts...)
	}
	sort.Strings(seen)

	want := make([]string, 8)
	for i := range want {
		want[i] = fmt.Sprintf("essay %d", i)
	}
	sort.Strings(want)
	assert.Equal(t, want, seen)
}

func TestDataLoaderRejectsBadBatchSize(t *testing.T) {
	_, err := NewDataLoader(memDataset{n: 4}, 0, false, false, 1)
	assert.Error(t, err)
}

func TestSplitSizes(t *testing.T) {
	tests := []struct {
		total, train, val int
		split             float64
	}{
		{10, 8, 2, 0.2},
		{7, 5, 2, 0.2},
		{1, 0, 1, 0.2},
		{4, 4, 0, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d@%g", tt.total, tt.split), func(t *testing.T) {
			train, val, err := SplitSizes(tt.total, tt.split)
			require.NoError(t, err)
			assert.Equal(t, tt.train, train)
			assert.Equal(t, tt.val, val)
			assert.Equal(t, tt.total, train+val)
		})
	}

	_, _, err := SplitSizes(10, 1)
	assert.Error(t, err)
}

func TestRandomSplitIsDisjoint(t *testing.T) {
	ds := memDataset{n: 10}
	parts, err := RandomSplit(ds, []int{8, 2}, 42)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	assert.Equal(t, 8, parts[0].Len())
	assert.Equal(t, 2, parts[1].Len())

	seen := map[int]bool{}
	for _, p := range parts {
		for _, idx := range p.Indices() {
			assert.False(t, seen[idx], "index %d appears twice", idx)
			seen[idx] = true
		}
	}
	assert.Len(t, seen, 10)

	ex, err := parts[1].Get(0)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("essay %d", parts[1].Indices()[0]), ex.Text)

	_, err = parts[1].Get(2)
	assert.Error(t, err)
}

func TestRandomSplitRejectsBadSizes(t *testing.T) {
	_, err := RandomSplit(memDataset{n: 10}, []int{8, 1}, 1)
	assert.Error(t, err)
	_, err = RandomSplit(memDataset{n: 10}, []int{11, -1}, 1)
	assert.Error(t, err)
}

func TestNewSubsetDatasetRangeCheck(t *testing.T) {
	_, err := NewSubsetDataset(memDataset{n: 3}, []int{0, 3})
	assert.Error(t, err)
}
