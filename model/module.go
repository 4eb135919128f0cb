package model

import (
	"fmt"
	"math"
	"math/rand"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Module interface defines methods that all network layers must implement
type Module interface {
	Forward(input *gorgonia.Node) (*gorgonia.Node, error)
	Parameters() gorgonia.Nodes // Returns trainable parameters
	Train()                     // Sets module to training mode
	Eval()                      // Sets module to evaluation mode
	IsTraining() bool           // Returns true if in training mode
}

// Linear implements a fully connected (dense) layer: y = xW + b
type Linear struct {
	weight   *gorgonia.Node
	bias     *gorgonia.Node
	training bool
}

// NewLinear creates a new Linear layer on g. The weight is named
// name+".weight" and the bias name+".bias".
func NewLinear(g *gorgonia.ExprGraph, name string, inputSize, outputSize int, bias bool, rng *rand.Rand) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("linear layer %s needs positive sizes, got %dx%d", name, inputSize, outputSize)
	}

	// Initialize weights using Xavier/Glorot uniform initialization
	// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))

	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}

	linear := &Linear{
		weight: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(inputSize, outputSize),
			gorgonia.WithName(name+".weight"),
			gorgonia.WithValue(tensor.New(tensor.WithShape(inputSize, outputSize), tensor.WithBacking(weightData))),
		),
		training: true,
	}

	if bias {
		// Initialize bias to zeros. The leading axis is broadcast over the batch.
		linear.bias = gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(1, outputSize),
			gorgonia.WithName(name+".bias"),
			gorgonia.WithValue(tensor.New(tensor.WithShape(1, outputSize), tensor.Of(tensor.Float32))),
		)
	}

	return linear, nil
}

// Forward computes input @ weight (+ bias)
func (l *Linear) Forward(input *gorgonia.Node) (*gorgonia.Node, error) {
	if input.Dims() != 2 {
		return nil, fmt.Errorf("Linear layer expects 2D input [batch_size, input_size], got shape %v", input.Shape())
	}
	if input.Shape()[1] != l.weight.Shape()[0] {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", l.weight.Shape()[0], input.Shape()[1])
	}

	output, err := gorgonia.Mul(input, l.weight)
	if err != nil {
		return nil, fmt.Errorf("matmul failed: %w", err)
	}

	if l.bias != nil {
		output, err = gorgonia.BroadcastAdd(output, l.bias, nil, []byte{0})
		if err != nil {
			return nil, fmt.Errorf("bias addition failed: %w", err)
		}
	}

	return output, nil
}

// Parameters returns the trainable parameters
func (l *Linear) Parameters() gorgonia.Nodes {
	params := gorgonia.Nodes{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

// Train sets the module to training mode
func (l *Linear) Train() {
	l.training = true
}

// Eval sets the module to evaluation mode
func (l *Linear) Eval() {
	l.training = false
}

// IsTraining returns true if in training mode
func (l *Linear) IsTraining() bool {
	return l.training
}

// ReLU implements ReLU activation function module
type ReLU struct {
	training bool
}

// NewReLU creates a new ReLU activation module
func NewReLU() *ReLU {
	return &ReLU{training: true}
}

// Forward performs ReLU activation
func (r *ReLU) Forward(input *gorgonia.Node) (*gorgonia.Node, error) {
	return gorgonia.Rectify(input)
}

// Parameters returns nil (ReLU has no parameters)
func (r *ReLU) Parameters() gorgonia.Nodes {
	return nil
}

// Train sets the module to training mode
func (r *ReLU) Train() {
	r.training = true
}

// Eval sets the module to evaluation mode
func (r *ReLU) Eval() {
	r.training = false
}

// IsTraining returns true if in training mode
func (r *ReLU) IsTraining() bool {
	return r.training
}

// Sequential chains modules
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a new Sequential container
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules:  modules,
		training: true,
	}
}

// Forward passes input through all modules in sequence
func (s *Sequential) Forward(input *gorgonia.Node) (*gorgonia.Node, error) {
	output := input
	var err error

	for i, module := range s.modules {
		output, err = module.Forward(output)
		if err != nil {
			return nil, fmt.Errorf("module %d forward failed: %w", i, err)
		}
	}

	return output, nil
}

// Parameters returns all trainable parameters from all modules
func (s *Sequential) Parameters() gorgonia.Nodes {
	var allParams gorgonia.Nodes
	for _, module := range s.modules {
		allParams = append(allParams, module.Parameters()...)
	}
	return allParams
}

// Train sets all modules to training mode
func (s *Sequential) Train() {
	s.training = true
	for _, module := range s.modules {
		module.Train()
	}
}

// Eval sets all modules to evaluation mode
func (s *Sequential) Eval() {
	s.training = false
	for _, module := range s.modules {
		module.Eval()
	}
}

// IsTraining returns true if in training mode
func (s *Sequential) IsTraining() bool {
	return s.training
}
