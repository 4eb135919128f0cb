package tokenizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVocab(t *testing.T) *WordPiece {
	t.Helper()
	wp, err := BuildVocab([]string{"Hello world", "hello there!"}, 0, filepath.Join(t.TempDir(), "vocab.txt"))
	require.NoError(t, err)
	return wp
}

func TestBuildVocabReservesSpecialTokens(t *testing.T) {
	wp := newTestVocab(t)

	assert.Equal(t, SpecialIDs{Pad: 0, Unk: 1, Cls: 2, Sep: 3}, wp.Special())
	assert.Equal(t, PadToken, wp.tokens[0])
	assert.Equal(t, SepToken, wp.tokens[3])
}

func TestBuildVocabRespectsMaxSize(t *testing.T) {
	wp, err := BuildVocab([]string{"alpha beta gamma delta"}, 10, filepath.Join(t.TempDir(), "vocab.txt"))
	require.NoError(t, err)
	// specials and character pieces are always kept
	assert.GreaterOrEqual(t, wp.VocabSize(), 4)
	_, hasAlpha := wp.vocab["alpha"]
	assert.False(t, hasAlpha)
}

func TestEncodeTrainingOptions(t *testing.T) {
	wp := newTestVocab(t)
	hello := wp.vocab["hello"]
	world := wp.vocab["world"]

	enc, err := wp.Encode([]string{"Hello world"}, TrainingOptions(6))
	require.NoError(t, err)

	assert.Equal(t, 1, enc.Rows())
	assert.Equal(t, 6, enc.SeqLen())
	assert.Equal(t, []int{2, hello, world, 3, 0, 0}, enc.IDs(0))
	assert.Equal(t, []int{1, 1, 1, 1, 0, 0}, enc.Mask(0))
}

func TestEncodeTruncates(t *testing.T) {
	wp := newTestVocab(t)

	enc, err := wp.Encode([]string{"hello world hello world"}, TrainingOptions(3))
	require.NoError(t, err)
	assert.Equal(t, []int{2, wp.vocab["hello"], 3}, enc.IDs(0))
	assert.Equal(t, []int{1, 1, 1}, enc.Mask(0))
}

func TestEncodeWithoutTruncationFailsWhenTooLong(t *testing.T) {
	wp := newTestVocab(t)
	opts := TrainingOptions(3)
	opts.Truncation = false

	_, err := wp.Encode([]string{"hello world hello"}, opts)
	assert.Error(t, err)
}

func TestEncodePadLongestAndNoMask(t *testing.T) {
	wp := newTestVocab(t)
	opts := Options{AddSpecialTokens: false, Padding: PadLongest}

	enc, err := wp.Encode([]string{"hello", "hello world"}, opts)
	require.NoError(t, err)

	assert.Equal(t, 2, enc.SeqLen())
	assert.Equal(t, []int{wp.vocab["hello"], 0}, enc.IDs(0))
	assert.Nil(t, enc.AttentionMask)
	assert.Nil(t, enc.Mask(0))
}

func TestEncodePadNoneRejectsRaggedRows(t *testing.T) {
	wp := newTestVocab(t)
	_, err := wp.Encode([]string{"hello", "hello world"}, Options{Padding: PadNone})
	assert.Error(t, err)
}

func TestEncodeEmptyBatch(t *testing.T) {
	wp := newTestVocab(t)
	_, err := wp.Encode(nil, TrainingOptions(4))
	assert.Error(t, err)
}

func TestWordPieceSplitsAndUnknowns(t *testing.T) {
	wp := newTestVocab(t)

	tests := []struct {
		text string
		want []int
	}{
		{"hellod", []int{wp.vocab["hello"], wp.vocab["##d"]}},
		{"xyz", []int{wp.special.Unk}},
		{"There!", []int{wp.vocab["there"], wp.vocab["!"]}},
		{"   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := wp.Tokenize(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildVocabWritesLoadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vocab.txt")
	wp, err := BuildVocab([]string{"Hello world", "hello there!"}, 0, path)
	require.NoError(t, err)

	loaded, err := LoadVocab(path)
	require.NoError(t, err)
	assert.Equal(t, wp.VocabSize(), loaded.VocabSize())

	want, err := wp.Tokenize("hello there world")
	require.NoError(t, err)
	got, err := loaded.Tokenize("hello there world")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, got, 3)
}

func TestLoadVocabRequiresSpecials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte("[PAD]\nhello\n"), 0644))

	_, err := LoadVocab(path)
	assert.Error(t, err)

	_, err = LoadVocab(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestFoldIDs(t *testing.T) {
	got := foldIDs([]int{0, 5, 17, 100264}, 10)
	assert.Equal(t, []int{4, 9, 11, 8}, got)
}
