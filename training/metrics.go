package training

import (
	"fmt"
	"math"

	"gorgonia.org/gorgonia"
)

// f1Epsilon keeps the F1 ratios finite when a count is zero
const f1Epsilon = 1e-7

// MetricType represents different evaluation metrics
type MetricType int

const (
	// Multi-class Metrics
	MacroPrecision MetricType = iota
	MacroRecall
	MacroF1
	MicroPrecision
	MicroRecall
	MicroF1
)

func (mt MetricType) String() string {
	switch mt {
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	case MicroPrecision:
		return "MicroPrecision"
	case MicroRecall:
		return "MicroRecall"
	case MicroF1:
		return "MicroF1"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// PredictedClasses reduces predictions to one value per row. 1-D input is
// returned as is; 2-D per-class scores are reduced by argmax over axis 1.
func PredictedClasses(pred gorgonia.Value) ([]float32, error) {
	if pred == nil {
		return nil, fmt.Errorf("predictions are nil")
	}
	data, ok := pred.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("predictions have dtype %v, want float32", pred.Dtype())
	}

	shape := pred.Shape()
	switch len(shape) {
	case 1:
		return append([]float32(nil), data...), nil
	case 2:
		rows, cols := shape[0], shape[1]
		out := make([]float32, rows)
		for i := 0; i < rows; i++ {
			out[i] = float32(argmax(data[i*cols : (i+1)*cols]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("predictions must be 1-D or 2-D, got shape %v", shape)
	}
}

func argmax(row []float32) int {
	best := 0
	for j := 1; j < len(row); j++ {
		if row[j] > row[best] {
			best = j
		}
	}
	return best
}

// Accuracy returns the percentage of rows whose predicted class equals the
// true class code. It only reads copied host values.
func Accuracy(trueLabels []float32, pred gorgonia.Value) (float64, error) {
	classes, err := PredictedClasses(pred)
	if err != nil {
		return 0, err
	}
	if len(classes) != len(trueLabels) {
		return 0, fmt.Errorf("have %d labels and %d predictions", len(trueLabels), len(classes))
	}
	if len(trueLabels) == 0 {
		return 0, fmt.Errorf("cannot score an empty batch")
	}

	correct := 0
	for i, t := range trueLabels {
		if t == classes[i] {
			correct++
		}
	}
	return 100 * float64(correct) / float64(len(trueLabels)), nil
}

// F1 applies the binary elementwise formula to the true labels and the
// predictions (argmax-reduced when 2-D):
//
//	tp = Σ t·p, fp = Σ (1-t)·p, fn = Σ t·(1-p)
//	precision = tp/(tp+fp+ε), recall = tp/(tp+fn+ε)
//	f1 = 2·precision·recall/(precision+recall+ε)
//
// Multi-class codes go through the same formula unchanged, so the value is
// only a true F1 for 0/1 labels.
func F1(trueLabels []float32, pred gorgonia.Value) (float64, error) {
	classes, err := PredictedClasses(pred)
	if err != nil {
		return 0, err
	}
	if len(classes) != len(trueLabels) {
		return 0, fmt.Errorf("have %d labels and %d predictions", len(trueLabels), len(classes))
	}

	var tp, fp, fn float64
	for i, t := range trueLabels {
		y := float64(t)
		p := float64(classes[i])
		tp += y * p
		fp += (1 - y) * p
		fn += y * (1 - p)
	}

	precision := tp / (tp + fp + f1Epsilon)
	recall := tp / (tp + fn + f1Epsilon)
	return 2 * (precision * recall) / (precision + recall + f1Epsilon), nil
}

// ConfusionMatrix represents a confusion matrix for classification tasks
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}

	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Update adds a batch of true class codes and predictions
func (cm *ConfusionMatrix) Update(trueLabels []float32, pred gorgonia.Value) error {
	classes, err := PredictedClasses(pred)
	if err != nil {
		return err
	}
	if len(classes) != len(trueLabels) {
		return fmt.Errorf("labels length mismatch: expected %d, got %d", len(classes), len(trueLabels))
	}

	for i, t := range trueLabels {
		trueClass := int(t)
		predClass := int(classes[i])

		// Validate class indices
		if trueClass < 0 || trueClass >= cm.NumClasses || predClass < 0 || predClass >= cm.NumClasses {
			continue // Skip invalid samples
		}

		cm.Matrix[trueClass][predClass]++
		cm.TotalSamples++
	}
	return nil
}

// GetMetric calculates a classification metric. Regression metrics live in
// RegressionMetrics.
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case MacroPrecision:
		return cm.calculateMacroPrecision()
	case MacroRecall:
		return cm.calculateMacroRecall()
	case MacroF1:
		return harmonic(cm.calculateMacroPrecision(), cm.calculateMacroRecall())
	case MicroPrecision:
		return cm.calculateMicroPrecision()
	case MicroRecall:
		return cm.calculateMicroRecall()
	case MicroF1:
		return harmonic(cm.calculateMicroPrecision(), cm.calculateMicroRecall())
	default:
		return 0.0
	}
}

func harmonic(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0.0
	}
	return 2 * (precision * recall) / (precision + recall)
}

// Multi-class metrics
func (cm *ConfusionMatrix) calculateMacroPrecision() float64 {
	sum := 0.0
	validClasses := 0

	for class := 0; class < cm.NumClasses; class++ {
		tp := float64(cm.Matrix[class][class])
		fp := 0.0

		// Sum false positives for this class
		for otherClass := 0; otherClass < cm.NumClasses; otherClass++ {
			if otherClass != class {
				fp += float64(cm.Matrix[otherClass][class])
			}
		}

		if tp+fp > 0 {
			sum += tp / (tp + fp)
			validClasses++
		}
	}

	if validClasses == 0 {
		return 0.0
	}
	return sum / float64(validClasses)
}

func (cm *ConfusionMatrix) calculateMacroRecall() float64 {
	sum := 0.0
	validClasses := 0

	for class := 0; class < cm.NumClasses; class++ {
		tp := float64(cm.Matrix[class][class])
		fn := 0.0

		// Sum false negatives for this class
		for otherClass := 0; otherClass < cm.NumClasses; otherClass++ {
			if otherClass != class {
				fn += float64(cm.Matrix[class][otherClass])
			}
		}

		if tp+fn > 0 {
			sum += tp / (tp + fn)
			validClasses++
		}
	}

	if validClasses == 0 {
		return 0.0
	}
	return sum / float64(validClasses)
}

// Every misclassification is one false positive and one false negative, so
// micro precision and recall both reduce to accuracy.
func (cm *ConfusionMatrix) calculateMicroPrecision() float64 {
	return cm.GetAccuracy()
}

func (cm *ConfusionMatrix) calculateMicroRecall() float64 {
	return cm.GetAccuracy()
}

// GetAccuracy returns overall classification accuracy in [0, 1]
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}

	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

// RegressionMetrics holds regression evaluation metrics for one head
type RegressionMetrics struct {
	MAE  float64 // Mean Absolute Error
	MSE  float64 // Mean Squared Error
	RMSE float64 // Root Mean Squared Error
	R2   float64 // R-squared
}

// RegressionAccumulator collects predictions and targets of a regression
// head over an epoch
type RegressionAccumulator struct {
	predictions []float32
	targets     []float32
}

// Add appends one batch
func (ra *RegressionAccumulator) Add(predictions, targets []float32) error {
	if len(predictions) != len(targets) {
		return fmt.Errorf("have %d predictions and %d targets", len(predictions), len(targets))
	}
	ra.predictions = append(ra.predictions, predictions...)
	ra.targets = append(ra.targets, targets...)
	return nil
}

// Metrics computes the metrics over everything added so far
func (ra *RegressionAccumulator) Metrics() *RegressionMetrics {
	return CalculateRegressionMetrics(ra.predictions, ra.targets)
}

// CalculateRegressionMetrics computes regression metrics
func CalculateRegressionMetrics(predictions []float32, trueValues []float32) *RegressionMetrics {
	n := len(predictions)
	if n == 0 || len(trueValues) != n {
		return &RegressionMetrics{}
	}

	// Calculate mean of true values for R²
	meanTrue := 0.0
	for _, v := range trueValues {
		meanTrue += float64(v)
	}
	meanTrue /= float64(n)

	sumAbsErr := 0.0
	sumSqErr := 0.0
	sumSqTotal := 0.0
	for i := 0; i < n; i++ {
		pred := float64(predictions[i])
		actual := float64(trueValues[i])

		sumAbsErr += math.Abs(pred - actual)
		sumSqErr += (pred - actual) * (pred - actual)
		sumSqTotal += (actual - meanTrue) * (actual - meanTrue)
	}

	mse := sumSqErr / float64(n)

	// R² calculation
	r2 := 0.0
	if sumSqTotal > 0 {
		r2 = 1.0 - (sumSqErr / sumSqTotal)
	}

	return &RegressionMetrics{
		MAE:  sumAbsErr / float64(n),
		MSE:  mse,
		RMSE: math.Sqrt(mse),
		R2:   r2,
	}
}
