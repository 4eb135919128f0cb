package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func vec(values ...float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(len(values)), tensor.WithBacking(values))
}

func mat(rows, cols int, values ...float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(values))
}

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name   string
		labels []float32
		pred   *tensor.Dense
		want   float64
	}{
		{"perfect class indices", []float32{0, 1, 2}, vec(0, 1, 2), 100},
		{"total mismatch", []float32{0, 1, 2}, vec(1, 2, 0), 0},
		{"argmax of scores", []float32{1, 0}, mat(2, 2, 0.1, 0.9, 0.8, 0.2), 100},
		{"half right", []float32{1, 1}, mat(2, 2, 0.1, 0.9, 0.8, 0.2), 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Accuracy(tt.labels, tt.pred)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestAccuracyErrors(t *testing.T) {
	_, err := Accuracy([]float32{0, 1}, vec(0))
	assert.Error(t, err)

	_, err = Accuracy([]float32{0}, nil)
	assert.Error(t, err)
}

func TestF1(t *testing.T) {
	t.Run("all zero is zero without dividing by zero", func(t *testing.T) {
		got, err := F1([]float32{0, 0, 0, 0}, vec(0, 0, 0, 0))
		require.NoError(t, err)
		assert.Equal(t, 0.0, got)
		assert.False(t, math.IsNaN(got))
	})

	t.Run("perfect binary match", func(t *testing.T) {
		got, err := F1([]float32{1, 0, 1, 0}, vec(1, 0, 1, 0))
		require.NoError(t, err)
		assert.InDelta(t, 1.0, got, 1e-6)
	})

	t.Run("half precision full recall", func(t *testing.T) {
		// tp=1 fp=1 fn=0 -> p=0.5 r=1 -> f1=2/3
		got, err := F1([]float32{1, 0}, vec(1, 1))
		require.NoError(t, err)
		assert.InDelta(t, 2.0/3.0, got, 1e-6)
	})

	t.Run("scores are reduced by argmax", func(t *testing.T) {
		got, err := F1([]float32{1, 0}, mat(2, 2, 0.2, 0.8, 0.7, 0.3))
		require.NoError(t, err)
		assert.InDelta(t, 1.0, got, 1e-6)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := F1([]float32{1}, vec(1, 0))
		assert.Error(t, err)
	})
}

func TestPredictedClassesRejects3D(t *testing.T) {
	_, err := PredictedClasses(tensor.New(tensor.WithShape(1, 1, 2), tensor.WithBacking([]float32{0, 1})))
	assert.Error(t, err)
}

func TestMetricTypeString(t *testing.T) {
	assert.Equal(t, "MacroF1", MacroF1.String())
	assert.Equal(t, "MicroPrecision", MicroPrecision.String())
	assert.Equal(t, "Unknown(999)", MetricType(999).String())
	assert.Equal(t, "Unknown(6)", MetricType(6).String())
}

func TestConfusionMatrix(t *testing.T) {
	cm := NewConfusionMatrix(3)
	require.Len(t, cm.Matrix, 3)

	// rows: true 0 pred 0, true 1 pred 1, true 2 pred 1, true 0 pred 0
	pred := mat(4, 3,
		0.9, 0.05, 0.05,
		0.1, 0.8, 0.1,
		0.1, 0.6, 0.3,
		0.7, 0.2, 0.1,
	)
	require.NoError(t, cm.Update([]float32{0, 1, 2, 0}, pred))

	assert.Equal(t, 4, cm.TotalSamples)
	assert.Equal(t, 2, cm.Matrix[0][0])
	assert.Equal(t, 1, cm.Matrix[2][1])
	assert.InDelta(t, 0.75, cm.GetAccuracy(), 1e-9)
	assert.InDelta(t, 0.75, cm.GetMetric(MicroF1), 1e-9)

	cm.Reset()
	assert.Equal(t, 0, cm.TotalSamples)
	assert.Equal(t, 0.0, cm.GetAccuracy())

	assert.Error(t, cm.Update([]float32{0}, pred))
}

func TestRegressionMetrics(t *testing.T) {
	var acc RegressionAccumulator
	require.NoError(t, acc.Add([]float32{1, 2}, []float32{1, 3}))
	require.NoError(t, acc.Add([]float32{3}, []float32{5}))
	assert.Error(t, acc.Add([]float32{1}, nil))

	m := acc.Metrics()
	// errors 0, 1, 2
	assert.InDelta(t, 1.0, m.MAE, 1e-9)
	assert.InDelta(t, 5.0/3.0, m.MSE, 1e-9)
	assert.InDelta(t, math.Sqrt(5.0/3.0), m.RMSE, 1e-9)
	// targets mean 3, total sum of squares 8
	assert.InDelta(t, 1-5.0/8.0, m.R2, 1e-9)

	assert.Equal(t, &RegressionMetrics{}, CalculateRegressionMetrics(nil, nil))
}
