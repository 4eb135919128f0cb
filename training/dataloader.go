package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-empathy/dataset"
	"github.com/tsawler/go-empathy/tokenizer"
	"gorgonia.org/tensor"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                             // Total number of samples
	Get(idx int) (dataset.Example, error) // Returns a single sample
}

// Batch is one training step's worth of examples. Input is filled by the
// trainer after tokenizing Texts. Labels holds one (B) tensor per head in
// head order; Labels[0] carries the class codes.
type Batch struct {
	Texts  []string
	Input  *tokenizer.Encoding
	Labels []*tensor.Dense
}

// Size returns the number of examples in the batch
func (b *Batch) Size() int {
	return len(b.Texts)
}

// DataLoader provides batching and per-epoch shuffling
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	dropLast  bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader. With dropLast a trailing batch
// smaller than batchSize is never produced.
func NewDataLoader(dataset Dataset, batchSize int, shuffle, dropLast bool, seed int64) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	datasetLen := dataset.Len()
	indices := make([]int, datasetLen)
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		dropLast:  dropLast,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	if dl.dropLast {
		return len(dl.indices) / dl.batchSize
	}
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// BatchSize returns the configured batch size
func (dl *DataLoader) BatchSize() int {
	return dl.batchSize
}

// Reset resets the data loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch or nil if epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if !dl.hasNextLocked() {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	return batch, nil
}

// HasNext returns true if there are more batches in the current epoch
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.hasNextLocked()
}

func (dl *DataLoader) hasNextLocked() bool {
	remaining := len(dl.indices) - dl.position
	if dl.dropLast {
		return remaining >= dl.batchSize
	}
	return remaining > 0
}

// loadBatch gathers texts and transposes per-example labels into one
// tensor per head
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	batch := &Batch{Texts: make([]string, len(indices))}
	var columns [][]float32
	for i, idx := range indices {
		ex, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %w", idx, err)
		}
		if columns == nil {
			if len(ex.Labels) == 0 {
				return nil, fmt.Errorf("sample %d has no labels", idx)
			}
			columns = make([][]float32, len(ex.Labels))
			for c := range columns {
				columns[c] = make([]float32, len(indices))
			}
		}
		if len(ex.Labels) != len(columns) {
			return nil, fmt.Errorf("sample %d has %d labels, want %d", idx, len(ex.Labels), len(columns))
		}

		batch.Texts[i] = ex.Text
		for c, v := range ex.Labels {
			columns[c][i] = v
		}
	}

	batch.Labels = make([]*tensor.Dense, len(columns))
	for c, col := range columns {
		batch.Labels[c] = tensor.New(tensor.WithShape(len(col)), tensor.WithBacking(col))
	}
	return batch, nil
}
