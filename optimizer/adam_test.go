package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// param is a ValueGrad backed by plain tensors
type param struct {
	name string
	w    *tensor.Dense
	g    *tensor.Dense
}

func (p *param) Name() string                  { return p.name }
func (p *param) Value() gorgonia.Value         { return p.w }
func (p *param) Grad() (gorgonia.Value, error) { return p.g, nil }
func newParam(name string, w, g []float32) *param {
	return &param{
		name: name,
		w:    tensor.New(tensor.WithShape(len(w)), tensor.WithBacking(w)),
		g:    tensor.New(tensor.WithShape(len(g)), tensor.WithBacking(g)),
	}
}

func TestAdamConfig(t *testing.T) {
	config := DefaultAdamConfig()

	assert.Equal(t, float32(0.001), config.LearningRate)
	assert.Equal(t, float32(0.9), config.Beta1)
	assert.Equal(t, float32(0.999), config.Beta2)
	assert.Equal(t, float32(1e-8), config.Epsilon)
	assert.Equal(t, float32(0), config.WeightDecay)
}

func TestNewAdamRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AdamConfig)
	}{
		{"zero learning rate", func(c *AdamConfig) { c.LearningRate = 0 }},
		{"beta1 of one", func(c *AdamConfig) { c.Beta1 = 1 }},
		{"negative beta2", func(c *AdamConfig) { c.Beta2 = -0.1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultAdamConfig()
			tt.mutate(&config)
			_, err := NewAdamOptimizer(config)
			assert.Error(t, err)
		})
	}
}

// With bias correction the first steps under a constant gradient move every
// weight by almost exactly lr against the sign of its gradient.
func TestAdamStepMath(t *testing.T) {
	adam, err := NewAdamOptimizer(DefaultAdamConfig())
	require.NoError(t, err)

	p := newParam("w", []float32{1, -1, 0.5}, []float32{0.5, -0.2, 0})
	require.NoError(t, adam.Step([]gorgonia.ValueGrad{p}))

	w := p.w.Data().([]float32)
	assert.InDelta(t, 0.999, w[0], 1e-6)
	assert.InDelta(t, -0.999, w[1], 1e-6)
	assert.InDelta(t, 0.5, w[2], 1e-9)

	copy(p.g.Data().([]float32), []float32{0.5, -0.2, 0})
	require.NoError(t, adam.Step([]gorgonia.ValueGrad{p}))
	assert.InDelta(t, 0.998, w[0], 1e-6)
	assert.InDelta(t, -0.998, w[1], 1e-6)
	assert.Equal(t, uint64(2), adam.GetStepCount())
}

func TestAdamStepClearsGradients(t *testing.T) {
	adam, err := NewAdamOptimizer(DefaultAdamConfig())
	require.NoError(t, err)

	p := newParam("w", []float32{1, 2}, []float32{0.5, -0.25})
	require.NoError(t, adam.Step([]gorgonia.ValueGrad{p}))
	assert.Equal(t, []float32{0, 0}, p.g.Data())

	// a second step with no new gradient only coasts on momentum
	before := append([]float32(nil), p.w.Data().([]float32)...)
	require.NoError(t, adam.Step([]gorgonia.ValueGrad{p}))
	after := p.w.Data().([]float32)
	for i := range before {
		assert.InDelta(t, before[i], after[i], 2e-3)
	}
}

func TestAdamMomentValues(t *testing.T) {
	adam, err := NewAdamOptimizer(DefaultAdamConfig())
	require.NoError(t, err)

	p := newParam("w", []float32{0}, []float32{2})
	require.NoError(t, adam.Step([]gorgonia.ValueGrad{p}))

	st := adam.state["w"]
	assert.InDelta(t, 0.2, st.m[0], 1e-6)   // (1-0.9)*2
	assert.InDelta(t, 0.004, st.v[0], 1e-7) // (1-0.999)*4
}

func TestAdamWeightDecay(t *testing.T) {
	config := DefaultAdamConfig()
	config.WeightDecay = 0.5
	adam, err := NewAdamOptimizer(config)
	require.NoError(t, err)

	// zero gradient, decay alone drives the update
	p := newParam("w", []float32{2}, []float32{0})
	require.NoError(t, adam.Step([]gorgonia.ValueGrad{p}))
	assert.InDelta(t, 1.999, p.w.Data().([]float32)[0], 1e-6)
}

func TestAdamShapeChangeFails(t *testing.T) {
	adam, err := NewAdamOptimizer(DefaultAdamConfig())
	require.NoError(t, err)

	require.NoError(t, adam.Step([]gorgonia.ValueGrad{newParam("w", []float32{1, 2}, []float32{1, 1})}))
	err = adam.Step([]gorgonia.ValueGrad{newParam("w", []float32{1}, []float32{1})})
	assert.Error(t, err)
}

func TestAdamStateRoundTrip(t *testing.T) {
	adam, err := NewAdamOptimizer(DefaultAdamConfig())
	require.NoError(t, err)

	a := newParam("embedding", []float32{1, 2}, []float32{0.1, -0.3})
	b := newParam("bias", []float32{3}, []float32{1})
	require.NoError(t, adam.Step([]gorgonia.ValueGrad{a, b}))

	state, err := adam.GetState()
	require.NoError(t, err)
	assert.Equal(t, "Adam", state.Type)
	require.Len(t, state.StateData, 4)
	assert.Equal(t, "m_embedding", state.StateData[0].Name)
	assert.Equal(t, "v_bias", state.StateData[3].Name)

	restored, err := NewAdamOptimizer(AdamConfig{LearningRate: 0.1, Beta1: 0.5, Beta2: 0.5})
	require.NoError(t, err)
	require.NoError(t, restored.LoadState(state))

	assert.Equal(t, adam.LearningRate, restored.LearningRate)
	assert.Equal(t, adam.Beta1, restored.Beta1)
	assert.Equal(t, uint64(1), restored.GetStepCount())

	// identical next steps from identical state
	a2 := newParam("embedding", []float32{1, 2}, []float32{0.1, -0.3})
	b2 := newParam("bias", []float32{3}, []float32{1})
	a3 := newParam("embedding", []float32{1, 2}, []float32{0.1, -0.3})
	b3 := newParam("bias", []float32{3}, []float32{1})
	require.NoError(t, adam.Step([]gorgonia.ValueGrad{a2, b2}))
	require.NoError(t, restored.Step([]gorgonia.ValueGrad{a3, b3}))
	assert.Equal(t, a2.w.Data(), a3.w.Data())
	assert.Equal(t, b2.w.Data(), b3.w.Data())
}

func TestLoadStateRejectsOtherOptimizers(t *testing.T) {
	adam, err := NewAdamOptimizer(DefaultAdamConfig())
	require.NoError(t, err)

	state, err := adam.GetState()
	require.NoError(t, err)
	state.Type = "SGD"
	assert.Error(t, adam.LoadState(state))
	assert.Error(t, adam.LoadState(nil))
}
