package training

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-empathy/config"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// constLoss ignores its inputs and returns a fixed value
type constLoss struct {
	value float32
}

func (constLoss) Kind() config.LossKind    { return "constant" }
func (constLoss) LabelType() LabelDataType { return LabelTypeContinuous }
func (constLoss) Target(labels *tensor.Dense, _ tensor.Shape) (*tensor.Dense, error) {
	return labels, nil
}
func (c constLoss) Loss(output, _ *gorgonia.Node) (*gorgonia.Node, error) {
	return gorgonia.NewScalar(output.Graph(), tensor.Float32,
		gorgonia.WithValue(c.value),
		gorgonia.WithName(fmt.Sprintf("const_%v", c.value)),
	), nil
}

func runScalar(t *testing.T, g *gorgonia.ExprGraph, n *gorgonia.Node) float64 {
	t.Helper()
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	v, err := scalarValue(n)
	require.NoError(t, err)
	return v
}

func TestTotalLossSumsHeads(t *testing.T) {
	g := gorgonia.NewGraph()
	var outputs, targets gorgonia.Nodes
	for i := 0; i < 3; i++ {
		outputs = append(outputs, gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 1), gorgonia.WithInit(gorgonia.Zeroes())))
		targets = append(targets, gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 1), gorgonia.WithInit(gorgonia.Zeroes())))
	}
	criteria := []Criterion{constLoss{0.5}, constLoss{1.25}, constLoss{2}}

	total, losses, err := TotalLoss(outputs, targets, criteria)
	require.NoError(t, err)
	require.Len(t, losses, 3)

	assert.InDelta(t, 3.75, runScalar(t, g, total), 1e-6)
}

func TestTotalLossCountMismatch(t *testing.T) {
	g := gorgonia.NewGraph()
	out := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 1), gorgonia.WithInit(gorgonia.Zeroes()))

	_, _, err := TotalLoss(gorgonia.Nodes{out}, gorgonia.Nodes{out}, []Criterion{constLoss{1}, constLoss{2}})
	assert.Error(t, err)

	_, _, err = TotalLoss(nil, nil, nil)
	assert.Error(t, err)
}

func TestCrossEntropyUniformLogits(t *testing.T) {
	g := gorgonia.NewGraph()
	logits := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 2), gorgonia.WithInit(gorgonia.Zeroes()))
	target := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 2), gorgonia.WithName("target"))
	onehot, err := CrossEntropyLoss{}.Target(vec(0, 1), logits.Shape())
	require.NoError(t, err)
	require.NoError(t, gorgonia.Let(target, onehot))

	loss, err := CrossEntropyLoss{}.Loss(logits, target)
	require.NoError(t, err)

	assert.InDelta(t, math.Log(2), runScalar(t, g, loss), 1e-4)
}

func TestRegressionLosses(t *testing.T) {
	tests := []struct {
		name      string
		criterion Criterion
		want      float64
	}{
		// differences are -1 and 3
		{"mse", MSELoss{}, 5},
		{"mae", MAELoss{}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gorgonia.NewGraph()
			out := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 1),
				gorgonia.WithValue(mat(2, 1, 1, 5)))
			target := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 1), gorgonia.WithName("target"))
			col, err := tt.criterion.Target(vec(2, 2), out.Shape())
			require.NoError(t, err)
			require.NoError(t, gorgonia.Let(target, col))

			loss, err := tt.criterion.Loss(out, target)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, runScalar(t, g, loss), 1e-5)
		})
	}
}

func TestRegressionTargetNeedsColumn(t *testing.T) {
	_, err := MSELoss{}.Target(vec(1, 2), tensor.Shape{2, 3})
	assert.Error(t, err)
	_, err = CrossEntropyLoss{}.Target(vec(1, 2), tensor.Shape{2})
	assert.Error(t, err)
}

func TestCriteria(t *testing.T) {
	cfg := config.Default()

	criteria, err := Criteria(&cfg, 3)
	require.NoError(t, err)
	require.Len(t, criteria, 3)
	assert.Equal(t, config.CategoricalCrossentropy, criteria[0].Kind())
	assert.Equal(t, LabelTypeClass, criteria[0].LabelType())
	assert.Equal(t, config.MeanSquaredError, criteria[1].Kind())
	assert.Equal(t, config.MeanSquaredError, criteria[2].Kind())

	cfg.RegressionLoss = "hinge"
	_, err = Criteria(&cfg, 2)
	assert.Error(t, err)

	// a lone classification head never reads the regression loss
	_, err = Criteria(&cfg, 1)
	assert.NoError(t, err)

	_, err = Criteria(&cfg, 0)
	assert.Error(t, err)
}

func TestNewCriterion(t *testing.T) {
	c, err := NewCriterion(config.MeanAbsoluteError)
	require.NoError(t, err)
	assert.IsType(t, MAELoss{}, c)

	_, err = NewCriterion("nope")
	assert.Error(t, err)
}
