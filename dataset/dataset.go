// Package dataset loads the WASSA essay corpus into labelled examples.
//
// Every example carries its essay text and one label per model head. Label 0
// is the emotion class code, the rest are the configured regression targets
// in configuration order.
package dataset

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Example is one essay with its labels
type Example struct {
	Text   string
	Labels []float32
}

// Dataset is an ordered, finite, indexable collection of examples
type Dataset interface {
	Len() int
	Get(idx int) (Example, error)
}

// Options controls which columns are read and how text is cleaned
type Options struct {
	RegressionTargets []string
	RemoveStopwords   bool
	Lemmatize         bool
}

// Essays is an in-memory Dataset
type Essays struct {
	examples []Example
	targets  []string
}

// NewEssays wraps already-built examples. Every example must carry the same
// number of labels.
func NewEssays(examples []Example, targets []string) (*Essays, error) {
	for i, ex := range examples {
		if len(ex.Labels) != len(targets)+1 {
			return nil, fmt.Errorf("example %d has %d labels, want %d", i, len(ex.Labels), len(targets)+1)
		}
	}
	return &Essays{examples: examples, targets: targets}, nil
}

// Len returns the number of examples
func (e *Essays) Len() int {
	return len(e.examples)
}

// Get returns the example at idx
func (e *Essays) Get(idx int) (Example, error) {
	if idx < 0 || idx >= len(e.examples) {
		return Example{}, fmt.Errorf("index %d out of range [0, %d)", idx, len(e.examples))
	}
	return e.examples[idx], nil
}

// Targets returns the regression target names in label order
func (e *Essays) Targets() []string {
	return e.targets
}

// Texts returns every essay text, used to build a vocabulary
func (e *Essays) Texts() []string {
	texts := make([]string, len(e.examples))
	for i, ex := range e.examples {
		texts[i] = ex.Text
	}
	return texts
}

// Load picks the reader from the file extension
func Load(path string, opts Options) (*Essays, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return LoadParquet(path, opts)
	default:
		return LoadTSV(path, opts)
	}
}

func newExample(text, emotion string, targets []float32, cleaner *Cleaner) (Example, error) {
	code, err := EmotionCode(emotion)
	if err != nil {
		return Example{}, err
	}
	labels := make([]float32, 0, len(targets)+1)
	labels = append(labels, float32(code))
	labels = append(labels, targets...)
	return Example{Text: cleaner.Clean(text), Labels: labels}, nil
}
