package training

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-empathy/dataset"
)

// SubsetDataset is an index view over an underlying dataset. It holds no
// copies of the examples.
type SubsetDataset struct {
	originalDataset Dataset
	indices         []int
}

// NewSubsetDataset creates a view of original restricted to indices
func NewSubsetDataset(original Dataset, indices []int) (*SubsetDataset, error) {
	n := original.Len()
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("subset index %d out of range [0, %d)", idx, n)
		}
	}
	return &SubsetDataset{
		originalDataset: original,
		indices:         append([]int(nil), indices...),
	}, nil
}

// Len returns the number of samples in the subset
func (sd *SubsetDataset) Len() int {
	return len(sd.indices)
}

// Get returns the idx-th sample of the subset
func (sd *SubsetDataset) Get(idx int) (dataset.Example, error) {
	if idx < 0 || idx >= len(sd.indices) {
		return dataset.Example{}, fmt.Errorf("index out of bounds for subset: %d (len: %d)", idx, len(sd.indices))
	}
	return sd.originalDataset.Get(sd.indices[idx])
}

// Indices returns the positions in the underlying dataset
func (sd *SubsetDataset) Indices() []int {
	return sd.indices
}

// SplitSizes returns the train/validation sizes for a validation fraction.
// The training share is truncated and validation takes the rest, so the two
// always sum to total.
func SplitSizes(total int, validationSplit float64) (train, val int, err error) {
	if validationSplit < 0 || validationSplit >= 1 {
		return 0, 0, fmt.Errorf("validation split must be in [0, 1), got %g", validationSplit)
	}
	train = int(float64(total) * (1 - validationSplit))
	return train, total - train, nil
}

// RandomSplit permutes the dataset once and cuts it into consecutive,
// disjoint subsets of the given sizes. The sizes must sum to ds.Len().
func RandomSplit(ds Dataset, sizes []int, seed int64) ([]*SubsetDataset, error) {
	sum := 0
	for _, s := range sizes {
		if s < 0 {
			return nil, fmt.Errorf("split size cannot be negative, got %d", s)
		}
		sum += s
	}
	if sum != ds.Len() {
		return nil, fmt.Errorf("split sizes sum to %d, dataset has %d samples", sum, ds.Len())
	}

	perm := rand.New(rand.NewSource(seed)).Perm(ds.Len())
	subsets := make([]*SubsetDataset, 0, len(sizes))
	offset := 0
	for _, s := range sizes {
		sub, err := NewSubsetDataset(ds, perm[offset:offset+s])
		if err != nil {
			return nil, err
		}
		subsets = append(subsets, sub)
		offset += s
	}
	return subsets, nil
}
