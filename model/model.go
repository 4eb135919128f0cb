// Package model defines EssayToAll, a multi-output network over tokenized
// essays. It has one categorical emotion head and one scalar head per
// regression target, all reading a shared pooled representation.
//
// The network is a static gorgonia graph sized for a fixed batch. Each batch
// is fed by binding an encoding (Bind) before running a machine built over
// Graph().
package model

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-empathy/checkpoints"
	"github.com/tsawler/go-empathy/tokenizer"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Config sizes the network
type Config struct {
	BatchSize       int
	EmbedDim        int
	HiddenDim       int
	NumClasses      int
	RegressionHeads int
	Seed            int64
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.EmbedDim <= 0 || c.HiddenDim <= 0:
		return fmt.Errorf("embed and hidden dims must be positive, got %d and %d", c.EmbedDim, c.HiddenDim)
	case c.NumClasses < 2:
		return fmt.Errorf("need at least 2 classes, got %d", c.NumClasses)
	case c.RegressionHeads < 0:
		return fmt.Errorf("regression head count cannot be negative, got %d", c.RegressionHeads)
	}
	return nil
}

// EssayToAll maps a batch of encoded essays to one output per head:
// logits of shape (B, NumClasses) for head 0 and (B, 1) for each regression
// head.
//
// Token ids are pooled into a bag-of-tokens matrix (masked mean over the
// attention mask) on the host. Multiplying it by the embedding table yields
// the mean token embedding of each row.
type EssayToAll struct {
	cfg       Config
	tokenizer tokenizer.Encoder

	g        *gorgonia.ExprGraph
	input    *gorgonia.Node
	encoder  *Sequential
	heads    []*Linear
	outputs  gorgonia.Nodes
	training bool
}

// New builds the graph for cfg over the vocabulary of enc
func New(cfg Config, enc tokenizer.Encoder) (*EssayToAll, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}
	vocab := enc.VocabSize()
	if vocab <= 0 {
		return nil, fmt.Errorf("tokenizer has an empty vocabulary")
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	g := gorgonia.NewGraph()
	m := &EssayToAll{
		cfg:       cfg,
		tokenizer: enc,
		g:         g,
		training:  true,
	}

	m.input = gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(cfg.BatchSize, vocab),
		gorgonia.WithName("input"),
	)

	embedding, err := NewLinear(g, "embedding", vocab, cfg.EmbedDim, false, rng)
	if err != nil {
		return nil, err
	}
	hidden, err := NewLinear(g, "hidden", cfg.EmbedDim, cfg.HiddenDim, true, rng)
	if err != nil {
		return nil, err
	}
	m.encoder = NewSequential(embedding, hidden, NewReLU())

	pooled, err := m.encoder.Forward(m.input)
	if err != nil {
		return nil, fmt.Errorf("failed to build encoder: %w", err)
	}

	for i := 0; i < 1+cfg.RegressionHeads; i++ {
		width := 1
		if i == 0 {
			width = cfg.NumClasses
		}
		head, err := NewLinear(g, fmt.Sprintf("head%d", i), cfg.HiddenDim, width, true, rng)
		if err != nil {
			return nil, err
		}
		out, err := head.Forward(pooled)
		if err != nil {
			return nil, fmt.Errorf("failed to build head %d: %w", i, err)
		}
		m.heads = append(m.heads, head)
		m.outputs = append(m.outputs, out)
	}

	return m, nil
}

// Graph returns the expression graph the outputs live on
func (m *EssayToAll) Graph() *gorgonia.ExprGraph {
	return m.g
}

// Outputs returns one node per head, in head order
func (m *EssayToAll) Outputs() gorgonia.Nodes {
	return m.outputs
}

// Heads returns the number of output heads
func (m *EssayToAll) Heads() int {
	return len(m.outputs)
}

// BatchSize returns the fixed batch size the graph was built for
func (m *EssayToAll) BatchSize() int {
	return m.cfg.BatchSize
}

// NumClasses returns the width of the categorical head
func (m *EssayToAll) NumClasses() int {
	return m.cfg.NumClasses
}

// Learnables returns every trainable parameter
func (m *EssayToAll) Learnables() gorgonia.Nodes {
	params := m.encoder.Parameters()
	for _, h := range m.heads {
		params = append(params, h.Parameters()...)
	}
	return params
}

// Tokenize encodes texts with the model's tokenizer
func (m *EssayToAll) Tokenize(texts []string, opts tokenizer.Options) (*tokenizer.Encoding, error) {
	return m.tokenizer.Encode(texts, opts)
}

// Bind feeds an encoding to the input node
func (m *EssayToAll) Bind(enc *tokenizer.Encoding) error {
	if enc == nil {
		return fmt.Errorf("encoding is nil")
	}
	if enc.Rows() != m.cfg.BatchSize {
		return fmt.Errorf("batch has %d rows, graph expects %d", enc.Rows(), m.cfg.BatchSize)
	}
	bag, err := m.bagOfTokens(enc)
	if err != nil {
		return err
	}
	if err := gorgonia.Let(m.input, bag); err != nil {
		return fmt.Errorf("failed to bind input: %w", err)
	}
	return nil
}

// bagOfTokens spreads each row's weight evenly over its unmasked tokens
func (m *EssayToAll) bagOfTokens(enc *tokenizer.Encoding) (*tensor.Dense, error) {
	vocab := m.tokenizer.VocabSize()
	pad := m.tokenizer.Special().Pad
	rows := enc.Rows()
	data := make([]float32, rows*vocab)

	for r := 0; r < rows; r++ {
		ids := enc.IDs(r)
		mask := enc.Mask(r)

		count := 0
		for j, id := range ids {
			if (mask != nil && mask[j] == 0) || (mask == nil && id == pad) {
				continue
			}
			if id < 0 || id >= vocab {
				return nil, fmt.Errorf("row %d: token id %d outside vocabulary of %d", r, id, vocab)
			}
			data[r*vocab+id]++
			count++
		}
		if count == 0 {
			continue
		}
		row := data[r*vocab : (r+1)*vocab]
		for j := range row {
			row[j] /= float32(count)
		}
	}

	return tensor.New(tensor.WithShape(rows, vocab), tensor.WithBacking(data)), nil
}

// Train sets the model to training mode
func (m *EssayToAll) Train() {
	m.training = true
	m.encoder.Train()
	for _, h := range m.heads {
		h.Train()
	}
}

// Eval sets the model to evaluation mode
func (m *EssayToAll) Eval() {
	m.training = false
	m.encoder.Eval()
	for _, h := range m.heads {
		h.Eval()
	}
}

// IsTraining returns true if in training mode
func (m *EssayToAll) IsTraining() bool {
	return m.training
}

// StateDict copies every named parameter
func (m *EssayToAll) StateDict() ([]checkpoints.WeightTensor, error) {
	params := m.Learnables()
	weights := make([]checkpoints.WeightTensor, 0, len(params))
	for _, p := range params {
		data, err := float32Data(p)
		if err != nil {
			return nil, err
		}
		weights = append(weights, checkpoints.WeightTensor{
			Name:  p.Name(),
			Shape: []int(p.Shape().Clone()),
			Data:  append([]float32(nil), data...),
		})
	}
	return weights, nil
}

// LoadStateDict copies saved values into the parameters. Every parameter
// must be present with a matching shape.
func (m *EssayToAll) LoadStateDict(weights []checkpoints.WeightTensor) error {
	byName := make(map[string]checkpoints.WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}

	for _, p := range m.Learnables() {
		w, ok := byName[p.Name()]
		if !ok {
			return fmt.Errorf("state dict is missing %s", p.Name())
		}
		if !p.Shape().Eq(tensor.Shape(w.Shape)) {
			return fmt.Errorf("%s: saved shape %v, parameter shape %v", p.Name(), w.Shape, p.Shape())
		}
		data, err := float32Data(p)
		if err != nil {
			return err
		}
		if len(data) != len(w.Data) {
			return fmt.Errorf("%s: saved %d values, parameter has %d", p.Name(), len(w.Data), len(data))
		}
		copy(data, w.Data)
	}
	return nil
}

func float32Data(n *gorgonia.Node) ([]float32, error) {
	v := n.Value()
	if v == nil {
		return nil, fmt.Errorf("%s has no value", n.Name())
	}
	data, ok := v.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%s holds %T, want []float32", n.Name(), v.Data())
	}
	return data, nil
}
