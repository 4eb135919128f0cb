// Package tokenizer turns raw essay text into fixed-shape id and attention-mask
// tensors in the layout BERT-family encoders expect: [CLS] pieces... [SEP] followed
// by [PAD] up to the requested length.
package tokenizer

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Padding controls how rows are brought to a common length
type Padding int

const (
	// PadNone requires every row to already have the same length
	PadNone Padding = iota
	// PadLongest pads to the longest row in the batch
	PadLongest
	// PadMaxLength pads every row to Options.MaxLength
	PadMaxLength
)

// Options mirrors the knobs the training loop passes on every call
type Options struct {
	AddSpecialTokens    bool
	ReturnAttentionMask bool
	MaxLength           int
	Padding             Padding
	Truncation          bool
}

// TrainingOptions returns the fixed options used for every training and
// validation batch: special tokens, attention mask, max-length padding and
// truncation at maxLen.
func TrainingOptions(maxLen int) Options {
	return Options{
		AddSpecialTokens:    true,
		ReturnAttentionMask: true,
		MaxLength:           maxLen,
		Padding:             PadMaxLength,
		Truncation:          true,
	}
}

// SpecialIDs are the reserved ids of the special tokens
type SpecialIDs struct {
	Pad int
	Unk int
	Cls int
	Sep int
}

// Encoder converts a batch of texts into an Encoding
type Encoder interface {
	Encode(texts []string, opts Options) (*Encoding, error)
	VocabSize() int
	Special() SpecialIDs
}

// Encoding is a batch of encoded rows. Both tensors have shape (rows, seqLen)
// and Int dtype. AttentionMask is nil unless it was requested.
type Encoding struct {
	InputIDs      *tensor.Dense
	AttentionMask *tensor.Dense
}

// Rows returns the batch size of the encoding
func (e *Encoding) Rows() int {
	return e.InputIDs.Shape()[0]
}

// SeqLen returns the padded sequence length
func (e *Encoding) SeqLen() int {
	return e.InputIDs.Shape()[1]
}

// IDs returns the ids of one row. The slice aliases the tensor backing.
func (e *Encoding) IDs(row int) []int {
	l := e.SeqLen()
	return e.InputIDs.Ints()[row*l : (row+1)*l]
}

// Mask returns the attention mask of one row, or nil if no mask was requested.
func (e *Encoding) Mask(row int) []int {
	if e.AttentionMask == nil {
		return nil
	}
	l := e.SeqLen()
	return e.AttentionMask.Ints()[row*l : (row+1)*l]
}

// assemble applies special tokens, truncation and padding to pre-tokenized rows
func assemble(rows [][]int, special SpecialIDs, opts Options) (*Encoding, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("cannot encode an empty batch")
	}

	reserved := 0
	if opts.AddSpecialTokens {
		reserved = 2
	}

	seqs := make([][]int, len(rows))
	longest := 0
	for i, pieces := range rows {
		if opts.Truncation && opts.MaxLength > 0 {
			budget := opts.MaxLength - reserved
			if budget < 0 {
				return nil, fmt.Errorf("max_length %d is too small for special tokens", opts.MaxLength)
			}
			if len(pieces) > budget {
				pieces = pieces[:budget]
			}
		}

		seq := make([]int, 0, len(pieces)+reserved)
		if opts.AddSpecialTokens {
			seq = append(seq, special.Cls)
		}
		seq = append(seq, pieces...)
		if opts.AddSpecialTokens {
			seq = append(seq, special.Sep)
		}

		if opts.MaxLength > 0 && len(seq) > opts.MaxLength {
			return nil, fmt.Errorf("row %d has %d tokens, longer than max_length %d without truncation", i, len(seq), opts.MaxLength)
		}
		if len(seq) > longest {
			longest = len(seq)
		}
		seqs[i] = seq
	}

	var width int
	switch opts.Padding {
	case PadMaxLength:
		if opts.MaxLength <= 0 {
			return nil, fmt.Errorf("max_length padding requires a positive max_length")
		}
		width = opts.MaxLength
	case PadLongest:
		width = longest
	case PadNone:
		for i, seq := range seqs {
			if len(seq) != longest {
				return nil, fmt.Errorf("row %d has length %d, want %d; enable padding", i, len(seq), longest)
			}
		}
		width = longest
	default:
		return nil, fmt.Errorf("unknown padding mode %d", opts.Padding)
	}

	ids := make([]int, len(seqs)*width)
	var mask []int
	if opts.ReturnAttentionMask {
		mask = make([]int, len(seqs)*width)
	}
	for i, seq := range seqs {
		row := ids[i*width : (i+1)*width]
		for j := range row {
			if j < len(seq) {
				row[j] = seq[j]
				if mask != nil {
					mask[i*width+j] = 1
				}
			} else {
				row[j] = special.Pad
			}
		}
	}

	enc := &Encoding{
		InputIDs: tensor.New(tensor.WithShape(len(seqs), width), tensor.WithBacking(ids)),
	}
	if mask != nil {
		enc.AttentionMask = tensor.New(tensor.WithShape(len(seqs), width), tensor.WithBacking(mask))
	}
	return enc, nil
}
