package optimizer

import (
	"fmt"
	"math"
	"strings"

	"github.com/tsawler/go-empathy/checkpoints"
	"gorgonia.org/gorgonia"
)

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

type moments struct {
	shape []int
	m     []float32 // first moment
	v     []float32 // second moment
}

// AdamOptimizerState is Adam with bias correction. Moment buffers are created
// lazily on the first step that sees a parameter and are keyed by parameter
// name.
type AdamOptimizerState struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32

	// Step tracking for bias correction
	StepCount uint64

	state map[string]*moments
	order []string
}

var _ Optimizer = (*AdamOptimizerState)(nil)

// NewAdamOptimizer creates a new Adam optimizer
func NewAdamOptimizer(config AdamConfig) (*AdamOptimizerState, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("betas must be in [0, 1), got %g and %g", config.Beta1, config.Beta2)
	}

	return &AdamOptimizerState{
		LearningRate: config.LearningRate,
		Beta1:        config.Beta1,
		Beta2:        config.Beta2,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
		state:        make(map[string]*moments),
	}, nil
}

// Step applies one Adam update to every parameter in place and zeroes the
// gradients it consumed
func (adam *AdamOptimizerState) Step(model []gorgonia.ValueGrad) error {
	adam.StepCount++
	t := float64(adam.StepCount)
	beta1 := float64(adam.Beta1)
	beta2 := float64(adam.Beta2)
	bias1 := 1 - math.Pow(beta1, t)
	bias2 := 1 - math.Pow(beta2, t)
	lr := float64(adam.LearningRate)
	eps := float64(adam.Epsilon)
	decay := float64(adam.WeightDecay)

	for i, vg := range model {
		name := paramName(vg, i)
		weights, grads, shape, err := float32Pair(vg, name)
		if err != nil {
			return err
		}

		st, err := adam.buffers(name, shape, len(weights))
		if err != nil {
			return err
		}

		for j, w := range weights {
			g := float64(grads[j])
			if decay != 0 {
				g += decay * float64(w)
			}
			m := beta1*float64(st.m[j]) + (1-beta1)*g
			v := beta2*float64(st.v[j]) + (1-beta2)*g*g
			st.m[j] = float32(m)
			st.v[j] = float32(v)

			mHat := m / bias1
			vHat := v / bias2
			weights[j] = float32(float64(w) - lr*mHat/(math.Sqrt(vHat)+eps))
			grads[j] = 0
		}
	}
	return nil
}

func (adam *AdamOptimizerState) buffers(name string, shape []int, size int) (*moments, error) {
	st, ok := adam.state[name]
	if !ok {
		st = &moments{
			shape: shape,
			m:     make([]float32, size),
			v:     make([]float32, size),
		}
		adam.state[name] = st
		adam.order = append(adam.order, name)
		return st, nil
	}
	if len(st.m) != size {
		return nil, fmt.Errorf("%s: optimizer state holds %d elements, parameter has %d", name, len(st.m), size)
	}
	return st, nil
}

// UpdateLearningRate updates the learning rate
func (adam *AdamOptimizerState) UpdateLearningRate(newLR float32) {
	adam.LearningRate = newLR
}

// GetStepCount returns the number of steps taken
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizerState) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.LearningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    adam.StepCount,
		},
		StateData: make([]checkpoints.OptimizerTensor, 0, 2*len(adam.order)),
	}

	for _, name := range adam.order {
		st := adam.state[name]
		state.StateData = append(state.StateData,
			extractBufferState(st.m, st.shape, "m_"+name, "m"),
			extractBufferState(st.v, st.shape, "v_"+name, "v"),
		)
	}
	return state, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *AdamOptimizerState) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	restored := make(map[string]*moments)
	var order []string
	for _, tensor := range state.StateData {
		var name string
		switch tensor.StateType {
		case "m":
			name = strings.TrimPrefix(tensor.Name, "m_")
		case "v":
			name = strings.TrimPrefix(tensor.Name, "v_")
		default:
			return fmt.Errorf("unknown Adam state type %q for %s", tensor.StateType, tensor.Name)
		}

		st, ok := restored[name]
		if !ok {
			st = &moments{shape: append([]int(nil), tensor.Shape...)}
			restored[name] = st
			order = append(order, name)
		}
		data := append([]float32(nil), tensor.Data...)
		if tensor.StateType == "m" {
			st.m = data
		} else {
			st.v = data
		}
	}

	for _, name := range order {
		st := restored[name]
		if len(st.m) != len(st.v) {
			return fmt.Errorf("%s: first moment has %d elements, second has %d", name, len(st.m), len(st.v))
		}
	}

	params := state.Parameters
	adam.LearningRate = extractFloat32Param(params, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloat32Param(params, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat32Param(params, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat32Param(params, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat32Param(params, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(params, "step_count", 0)
	adam.state = restored
	adam.order = order
	return nil
}
