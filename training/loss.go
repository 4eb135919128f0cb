package training

import (
	"fmt"

	"github.com/tsawler/go-empathy/config"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Criterion scores one output head against its labels
type Criterion interface {
	// Kind returns the configuration name of the criterion
	Kind() config.LossKind
	// LabelType reports whether the head is categorical or continuous
	LabelType() LabelDataType
	// Target turns a (B) label tensor into a dense target shaped like the head output
	Target(labels *tensor.Dense, outShape tensor.Shape) (*tensor.Dense, error)
	// Loss builds the scalar loss node for output against target
	Loss(output, target *gorgonia.Node) (*gorgonia.Node, error)
}

// CrossEntropyLoss is softmax cross-entropy on logits with one-hot targets,
// averaged over the batch.
type CrossEntropyLoss struct{}

// Kind implements Criterion
func (CrossEntropyLoss) Kind() config.LossKind { return config.CategoricalCrossentropy }

// LabelType implements Criterion
func (CrossEntropyLoss) LabelType() LabelDataType { return LabelTypeClass }

// Target one-hot encodes class codes
func (CrossEntropyLoss) Target(labels *tensor.Dense, outShape tensor.Shape) (*tensor.Dense, error) {
	if len(outShape) != 2 {
		return nil, fmt.Errorf("cross-entropy needs a 2-D output, got %v", outShape)
	}
	return OneHot(labels, outShape[1])
}

// Loss computes -mean(sum(target * log(softmax(output) + eps), 1))
func (CrossEntropyLoss) Loss(output, target *gorgonia.Node) (*gorgonia.Node, error) {
	probs, err := gorgonia.SoftMax(output)
	if err != nil {
		return nil, fmt.Errorf("softmax failed: %w", err)
	}
	eps := gorgonia.NodeFromAny(output.Graph(), float32(1e-7))
	safe, err := gorgonia.Add(probs, eps)
	if err != nil {
		return nil, err
	}
	logP, err := gorgonia.Log(safe)
	if err != nil {
		return nil, err
	}
	picked, err := gorgonia.HadamardProd(target, logP)
	if err != nil {
		return nil, err
	}
	perRow, err := gorgonia.Sum(picked, 1)
	if err != nil {
		return nil, err
	}
	mean, err := gorgonia.Mean(perRow)
	if err != nil {
		return nil, err
	}
	return gorgonia.Neg(mean)
}

// MSELoss is the mean of squared differences
type MSELoss struct{}

// Kind implements Criterion
func (MSELoss) Kind() config.LossKind { return config.MeanSquaredError }

// LabelType implements Criterion
func (MSELoss) LabelType() LabelDataType { return LabelTypeContinuous }

// Target reshapes labels to a column
func (MSELoss) Target(labels *tensor.Dense, outShape tensor.Shape) (*tensor.Dense, error) {
	return regressionTarget(labels, outShape)
}

// Loss computes mean((output - target)^2)
func (MSELoss) Loss(output, target *gorgonia.Node) (*gorgonia.Node, error) {
	diff, err := gorgonia.Sub(output, target)
	if err != nil {
		return nil, err
	}
	sq, err := gorgonia.Square(diff)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mean(sq)
}

// MAELoss is the mean of absolute differences
type MAELoss struct{}

// Kind implements Criterion
func (MAELoss) Kind() config.LossKind { return config.MeanAbsoluteError }

// LabelType implements Criterion
func (MAELoss) LabelType() LabelDataType { return LabelTypeContinuous }

// Target reshapes labels to a column
func (MAELoss) Target(labels *tensor.Dense, outShape tensor.Shape) (*tensor.Dense, error) {
	return regressionTarget(labels, outShape)
}

// Loss computes mean(|output - target|)
func (MAELoss) Loss(output, target *gorgonia.Node) (*gorgonia.Node, error) {
	diff, err := gorgonia.Sub(output, target)
	if err != nil {
		return nil, err
	}
	abs, err := gorgonia.Abs(diff)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mean(abs)
}

func regressionTarget(labels *tensor.Dense, outShape tensor.Shape) (*tensor.Dense, error) {
	if len(outShape) != 2 || outShape[1] != 1 {
		return nil, fmt.Errorf("regression head must have shape (B, 1), got %v", outShape)
	}
	return Column(labels)
}

// NewCriterion returns the criterion for a configured loss name
func NewCriterion(kind config.LossKind) (Criterion, error) {
	switch kind {
	case config.CategoricalCrossentropy:
		return CrossEntropyLoss{}, nil
	case config.MeanSquaredError:
		return MSELoss{}, nil
	case config.MeanAbsoluteError:
		return MAELoss{}, nil
	default:
		return nil, fmt.Errorf("unknown loss %q", kind)
	}
}

// Criteria returns one criterion per head: the classification loss for
// head 0 and the regression loss for every other head.
func Criteria(cfg *config.Config, heads int) ([]Criterion, error) {
	if heads < 1 {
		return nil, fmt.Errorf("need at least one head, got %d", heads)
	}
	classification, err := NewCriterion(cfg.ClassificationLoss)
	if err != nil {
		return nil, fmt.Errorf("classification loss: %w", err)
	}
	criteria := []Criterion{classification}
	for i := 1; i < heads; i++ {
		regression, err := NewCriterion(cfg.RegressionLoss)
		if err != nil {
			return nil, fmt.Errorf("regression loss: %w", err)
		}
		criteria = append(criteria, regression)
	}
	return criteria, nil
}

// TotalLoss builds criteria[i](outputs[i], targets[i]) for every head and
// their sum. It returns the sum and the per-head loss nodes.
func TotalLoss(outputs, targets gorgonia.Nodes, criteria []Criterion) (*gorgonia.Node, gorgonia.Nodes, error) {
	if len(outputs) != len(criteria) || len(targets) != len(criteria) {
		return nil, nil, fmt.Errorf("have %d outputs, %d targets and %d criteria", len(outputs), len(targets), len(criteria))
	}
	if len(criteria) == 0 {
		return nil, nil, fmt.Errorf("no criteria")
	}

	losses := make(gorgonia.Nodes, len(criteria))
	var total *gorgonia.Node
	for i, criterion := range criteria {
		loss, err := criterion.Loss(outputs[i], targets[i])
		if err != nil {
			return nil, nil, fmt.Errorf("head %d %s loss: %w", i, criterion.Kind(), err)
		}
		losses[i] = loss
		if total == nil {
			total = loss
			continue
		}
		if total, err = gorgonia.Add(total, loss); err != nil {
			return nil, nil, fmt.Errorf("failed to sum head %d loss: %w", i, err)
		}
	}
	return total, losses, nil
}
