package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	hf "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
)

// Special token strings, as they appear in a BERT vocab.txt
const (
	PadToken = "[PAD]"
	UnkToken = "[UNK]"
	ClsToken = "[CLS]"
	SepToken = "[SEP]"
)

// WordPiece is a BERT uncased tokenizer over a vocab.txt: BERT normalization
// and pre-tokenization followed by greedy longest-match-first word pieces.
// Special tokens, truncation and padding are applied by Encode.
type WordPiece struct {
	tk      *hf.Tokenizer
	vocab   map[string]int
	tokens  []string
	special SpecialIDs
}

// LoadVocab reads a BERT vocab.txt (one token per line, id = line number).
// The four special tokens must be present.
func LoadVocab(path string) (*WordPiece, error) {
	tokens, err := readVocab(path)
	if err != nil {
		return nil, err
	}

	wp := &WordPiece{
		vocab:  make(map[string]int, len(tokens)),
		tokens: tokens,
	}
	for i, tok := range tokens {
		if _, dup := wp.vocab[tok]; dup {
			continue
		}
		wp.vocab[tok] = i
	}

	ids := make([]int, 4)
	for i, name := range []string{PadToken, UnkToken, ClsToken, SepToken} {
		id, ok := wp.vocab[name]
		if !ok {
			return nil, fmt.Errorf("vocabulary %s is missing special token %s", path, name)
		}
		ids[i] = id
	}
	wp.special = SpecialIDs{Pad: ids[0], Unk: ids[1], Cls: ids[2], Sep: ids[3]}

	model, err := wordpiece.NewWordPieceFromFile(path, UnkToken)
	if err != nil {
		return nil, fmt.Errorf("failed to load word pieces: %w", err)
	}
	wp.tk = hf.NewTokenizer(model)
	wp.tk.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, false))
	wp.tk.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())
	return wp, nil
}

func readVocab(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocab: %w", err)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocab: %w", err)
	}
	return tokens, nil
}

// BuildVocab derives a vocabulary from a corpus, writes it to path in
// vocab.txt format and loads it. The vocabulary holds the special tokens,
// every character seen (both word-initial and "##" continuation forms, so no
// word is ever entirely unknown), then whole words by descending frequency
// until maxSize entries exist.
func BuildVocab(corpus []string, maxSize int, path string) (*WordPiece, error) {
	tokens := []string{PadToken, UnkToken, ClsToken, SepToken}
	seen := map[string]bool{PadToken: true, UnkToken: true, ClsToken: true, SepToken: true}
	add := func(tok string) {
		if !seen[tok] {
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}

	counts := make(map[string]int)
	chars := make(map[rune]bool)
	for _, text := range corpus {
		for _, word := range basicTokenize(text) {
			counts[word]++
			for _, r := range word {
				chars[r] = true
			}
		}
	}

	sortedChars := make([]rune, 0, len(chars))
	for r := range chars {
		sortedChars = append(sortedChars, r)
	}
	sort.Slice(sortedChars, func(i, j int) bool { return sortedChars[i] < sortedChars[j] })
	for _, r := range sortedChars {
		add(string(r))
		add("##" + string(r))
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	for _, w := range words {
		if maxSize > 0 && len(tokens) >= maxSize {
			break
		}
		add(w)
	}

	if err := writeVocab(path, tokens); err != nil {
		return nil, err
	}
	return LoadVocab(path)
}

func writeVocab(path string, tokens []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create vocab directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create vocab file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, tok := range tokens {
		if _, err := w.WriteString(tok + "\n"); err != nil {
			return fmt.Errorf("failed to write vocab: %w", err)
		}
	}
	return w.Flush()
}

// VocabSize returns the number of ids the tokenizer can emit
func (wp *WordPiece) VocabSize() int {
	return len(wp.tokens)
}

// Special returns the reserved ids
func (wp *WordPiece) Special() SpecialIDs {
	return wp.special
}

// Tokenize splits one text into word-piece ids without special tokens
func (wp *WordPiece) Tokenize(text string) ([]int, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	enc, err := wp.tk.EncodeSingle(text, false)
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize %q: %w", text, err)
	}
	return enc.Ids, nil
}

// Encode tokenizes a batch and applies opts
func (wp *WordPiece) Encode(texts []string, opts Options) (*Encoding, error) {
	rows := make([][]int, len(texts))
	for i, text := range texts {
		ids, err := wp.Tokenize(text)
		if err != nil {
			return nil, err
		}
		rows[i] = ids
	}
	return assemble(rows, wp.special, opts)
}

// basicTokenize mirrors the BERT pre-tokenizer for vocabulary building:
// lowercase, split on whitespace, isolate punctuation
func basicTokenize(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r) || unicode.IsControl(r):
			flush()
		case isBertPunct(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

// isBertPunct treats every non-alphanumeric ASCII printable as punctuation,
// as BERT does, plus the Unicode punctuation classes
func isBertPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
