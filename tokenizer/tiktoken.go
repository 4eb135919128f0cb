package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// reservedIDs is the count of ids kept for [PAD] [UNK] [CLS] [SEP] in the
// folded id space
const reservedIDs = 4

// TikToken wraps a BPE encoding (cl100k_base by default) and folds its large id
// space into a fixed number of buckets so the embedding table stays small.
type TikToken struct {
	enc     *tiktoken.Tiktoken
	buckets int
}

// NewTikToken loads the named encoding. The first call may download the BPE
// ranks; set TIKTOKEN_CACHE_DIR to reuse them.
func NewTikToken(encoding string, buckets int) (*TikToken, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if buckets <= 0 {
		return nil, fmt.Errorf("bucket count must be positive, got %d", buckets)
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}
	return &TikToken{enc: enc, buckets: buckets}, nil
}

// VocabSize returns the folded vocabulary size, including reserved ids
func (t *TikToken) VocabSize() int {
	return reservedIDs + t.buckets
}

// Special returns the reserved ids
func (t *TikToken) Special() SpecialIDs {
	return SpecialIDs{Pad: 0, Unk: 1, Cls: 2, Sep: 3}
}

// Encode tokenizes a batch and applies opts
func (t *TikToken) Encode(texts []string, opts Options) (*Encoding, error) {
	rows := make([][]int, len(texts))
	for i, text := range texts {
		rows[i] = foldIDs(t.enc.Encode(text, nil, nil), t.buckets)
	}
	return assemble(rows, t.Special(), opts)
}

// foldIDs maps raw BPE ids into [reservedIDs, reservedIDs+buckets)
func foldIDs(raw []int, buckets int) []int {
	out := make([]int, len(raw))
	for i, id := range raw {
		if id < 0 {
			id = -id
		}
		out[i] = reservedIDs + id%buckets
	}
	return out
}
