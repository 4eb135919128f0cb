package dataset

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// EssayRecord is the Parquet row layout of the corpus
type EssayRecord struct {
	Essay    string  `parquet:"name=essay, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Emotion  string  `parquet:"name=emotion, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Empathy  float32 `parquet:"name=empathy, type=FLOAT"`
	Distress float32 `parquet:"name=distress, type=FLOAT"`
}

func (r *EssayRecord) target(name string) (float32, error) {
	switch name {
	case "empathy":
		return r.Empathy, nil
	case "distress":
		return r.Distress, nil
	default:
		return 0, fmt.Errorf("parquet layout has no column %q", name)
	}
}

// LoadParquet reads the corpus from a Parquet file
func LoadParquet(path string, opts Options) (*Essays, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(EssayRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	rows := make([]EssayRecord, pr.GetNumRows())
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("failed to read parquet rows: %w", err)
	}

	cleaner := NewCleaner(opts.RemoveStopwords, opts.Lemmatize)
	examples := make([]Example, 0, len(rows))
	for i := range rows {
		targets := make([]float32, len(opts.RegressionTargets))
		for j, name := range opts.RegressionTargets {
			if targets[j], err = rows[i].target(name); err != nil {
				return nil, err
			}
		}
		ex, err := newExample(rows[i].Essay, rows[i].Emotion, targets, cleaner)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		examples = append(examples, ex)
	}

	return NewEssays(examples, opts.RegressionTargets)
}

// WriteParquet stores records in the layout LoadParquet reads
func WriteParquet(path string, records []EssayRecord) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(EssayRecord), 4)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	for i := range records {
		if err := pw.Write(records[i]); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return nil
}
