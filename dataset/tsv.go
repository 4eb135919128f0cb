package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Column names of the WASSA layout
const (
	EssayColumn   = "essay"
	EmotionColumn = "emotion"
)

// LoadTSV reads a tab-separated file with a header row
func LoadTSV(path string, opts Options) (*Essays, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return ReadTSV(f, opts)
}

// ReadTSV parses the WASSA layout. Columns other than essay, emotion and the
// regression targets are ignored.
func ReadTSV(r io.Reader, opts Options) (*Essays, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}

	column := func(name string) (int, error) {
		i, ok := index[strings.ToLower(name)]
		if !ok {
			return 0, fmt.Errorf("dataset is missing column %q", name)
		}
		return i, nil
	}
	essayCol, err := column(EssayColumn)
	if err != nil {
		return nil, err
	}
	emotionCol, err := column(EmotionColumn)
	if err != nil {
		return nil, err
	}
	targetCols := make([]int, len(opts.RegressionTargets))
	for i, name := range opts.RegressionTargets {
		if targetCols[i], err = column(name); err != nil {
			return nil, err
		}
	}

	cleaner := NewCleaner(opts.RemoveStopwords, opts.Lemmatize)
	var examples []Example
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}

		field := func(col int) (string, error) {
			if col >= len(record) {
				return "", fmt.Errorf("line %d has %d fields, want at least %d", line, len(record), col+1)
			}
			return record[col], nil
		}

		text, err := field(essayCol)
		if err != nil {
			return nil, err
		}
		emotion, err := field(emotionCol)
		if err != nil {
			return nil, err
		}
		targets := make([]float32, len(targetCols))
		for i, col := range targetCols {
			raw, err := field(col)
			if err != nil {
				return nil, err
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid %s value %q: %w", line, opts.RegressionTargets[i], raw, err)
			}
			targets[i] = float32(v)
		}

		ex, err := newExample(text, emotion, targets, cleaner)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		examples = append(examples, ex)
	}

	return NewEssays(examples, opts.RegressionTargets)
}
