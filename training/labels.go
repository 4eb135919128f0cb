package training

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

// LabelDataType represents the semantic type of a label column
type LabelDataType int

const (
	LabelTypeClass      LabelDataType = iota // Categorical class codes
	LabelTypeContinuous                      // Regression targets
)

// String returns human-readable label type name
func (ldt LabelDataType) String() string {
	switch ldt {
	case LabelTypeClass:
		return "Classification"
	case LabelTypeContinuous:
		return "Regression"
	default:
		return fmt.Sprintf("Unknown(%d)", ldt)
	}
}

// labelValues returns the float32 backing of a 1-D label tensor
func labelValues(labels *tensor.Dense) ([]float32, error) {
	if labels == nil {
		return nil, fmt.Errorf("labels are nil")
	}
	if labels.Dims() != 1 {
		return nil, fmt.Errorf("labels must be 1-D, got shape %v", labels.Shape())
	}
	data, ok := labels.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("labels have dtype %v, want float32", labels.Dtype())
	}
	return data, nil
}

// OneHot expands class codes of shape (B) into a (B, numClasses) matrix
func OneHot(labels *tensor.Dense, numClasses int) (*tensor.Dense, error) {
	codes, err := labelValues(labels)
	if err != nil {
		return nil, err
	}

	data := make([]float32, len(codes)*numClasses)
	for i, c := range codes {
		class := int(c)
		if float32(class) != c || math.IsNaN(float64(c)) {
			return nil, fmt.Errorf("label %d is %v, not a class code", i, c)
		}
		if class < 0 || class >= numClasses {
			return nil, fmt.Errorf("label %d has class %d outside [0, %d)", i, class, numClasses)
		}
		data[i*numClasses+class] = 1
	}
	return tensor.New(tensor.WithShape(len(codes), numClasses), tensor.WithBacking(data)), nil
}

// Column reshapes continuous targets of shape (B) into a (B, 1) matrix
func Column(labels *tensor.Dense) (*tensor.Dense, error) {
	values, err := labelValues(labels)
	if err != nil {
		return nil, err
	}
	data := append([]float32(nil), values...)
	return tensor.New(tensor.WithShape(len(values), 1), tensor.WithBacking(data)), nil
}
