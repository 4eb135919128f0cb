package optimizer

import (
	"fmt"

	"github.com/tsawler/go-empathy/checkpoints"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Common helper functions for optimizer state management

// named is satisfied by *gorgonia.Node
type named interface {
	Name() string
}

// paramName keys per-parameter state. Graph nodes are keyed by name so state
// survives a rebuild of the graph; anything else falls back to its position.
func paramName(vg gorgonia.ValueGrad, idx int) string {
	if n, ok := vg.(named); ok && n.Name() != "" {
		return n.Name()
	}
	return fmt.Sprintf("param_%d", idx)
}

// float32Pair returns the backing slices of a parameter and its gradient
func float32Pair(vg gorgonia.ValueGrad, name string) (weights, grads []float32, shape []int, err error) {
	w, ok := vg.Value().(*tensor.Dense)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%s: value is %T, want *tensor.Dense", name, vg.Value())
	}
	gv, err := vg.Grad()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s: failed to get gradient: %w", name, err)
	}
	g, ok := gv.(*tensor.Dense)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%s: gradient is %T, want *tensor.Dense", name, gv)
	}

	weights, ok = w.Data().([]float32)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%s: weights have dtype %v, want float32", name, w.Dtype())
	}
	grads, ok = g.Data().([]float32)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%s: gradient has dtype %v, want float32", name, g.Dtype())
	}
	if len(weights) != len(grads) {
		return nil, nil, nil, fmt.Errorf("%s: %d weights but %d gradients", name, len(weights), len(grads))
	}
	return weights, grads, []int(w.Shape().Clone()), nil
}

// extractBufferState copies one moment buffer into a checkpoint tensor
func extractBufferState(buffer []float32, shape []int, name string, stateType string) checkpoints.OptimizerTensor {
	data := make([]float32, len(buffer))
	copy(data, buffer)
	return checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     append([]int(nil), shape...),
		Data:      data,
		StateType: stateType,
	}
}

// extractFloat32Param safely extracts a float32 parameter from the state map
func extractFloat32Param(params map[string]interface{}, key string, defaultValue float32) float32 {
	switch val := params[key].(type) {
	case float64:
		return float32(val)
	case float32:
		return val
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map.
// Decoded checkpoints carry numbers as float64.
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	switch val := params[key].(type) {
	case float64:
		return uint64(val)
	case uint64:
		return val
	case int:
		return uint64(val)
	}
	return defaultValue
}
