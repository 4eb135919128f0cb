package training

import (
	"fmt"

	"github.com/tsawler/go-empathy/tokenizer"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Model is the network contract the loop drives. *model.EssayToAll
// satisfies it.
type Model interface {
	CheckpointCapable

	Graph() *gorgonia.ExprGraph
	Outputs() gorgonia.Nodes
	Learnables() gorgonia.Nodes
	Tokenize(texts []string, opts tokenizer.Options) (*tokenizer.Encoding, error)
	Bind(enc *tokenizer.Encoding) error
	Train()
	Eval()
	IsTraining() bool
}

// StepResult holds the host-side values of one batch
type StepResult struct {
	Loss       float64
	HeadLosses []float64
	Accuracy   float64
	F1         float64
	Outputs    []*tensor.Dense // copies, one per head
}

// Session owns the loss graph and the two machines that run it: a training
// machine with gradients and a forward-only machine for evaluation.
type Session struct {
	model      Model
	criteria   []Criterion
	solver     gorgonia.Solver
	targets    gorgonia.Nodes
	losses     gorgonia.Nodes
	total      *gorgonia.Node
	learnables gorgonia.Nodes
	trainVM    gorgonia.VM
	evalVM     gorgonia.VM
}

// NewSession adds target placeholders, per-head losses and gradients to the
// model graph. The criteria must line up with the model heads and head 0
// must be categorical.
func NewSession(m Model, criteria []Criterion, solver gorgonia.Solver) (*Session, error) {
	outputs := m.Outputs()
	if len(outputs) != len(criteria) {
		return nil, fmt.Errorf("model has %d heads but %d criteria were given", len(outputs), len(criteria))
	}
	if len(criteria) == 0 {
		return nil, fmt.Errorf("no criteria")
	}
	if criteria[0].LabelType() != LabelTypeClass {
		return nil, fmt.Errorf("head 0 needs a classification criterion, got %s", criteria[0].Kind())
	}
	if solver == nil {
		return nil, fmt.Errorf("solver is required")
	}

	g := m.Graph()
	targets := make(gorgonia.Nodes, len(outputs))
	for i, out := range outputs {
		shape := out.Shape()
		if len(shape) != 2 {
			return nil, fmt.Errorf("head %d output must be 2-D, got %v", i, shape)
		}
		targets[i] = gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(shape...),
			gorgonia.WithName(fmt.Sprintf("target%d", i)),
		)
	}

	total, losses, err := TotalLoss(outputs, targets, criteria)
	if err != nil {
		return nil, err
	}

	learnables := m.Learnables()
	if _, err := gorgonia.Grad(total, learnables...); err != nil {
		return nil, fmt.Errorf("failed to build gradients: %w", err)
	}

	return &Session{
		model:      m,
		criteria:   criteria,
		solver:     solver,
		targets:    targets,
		losses:     losses,
		total:      total,
		learnables: learnables,
		trainVM:    gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...)),
		evalVM:     gorgonia.NewTapeMachine(g.SubgraphRoots(total)),
	}, nil
}

// BindTargets feeds one label tensor per head to the target placeholders
func (s *Session) BindTargets(labels []*tensor.Dense) error {
	if len(labels) != len(s.criteria) {
		return fmt.Errorf("batch has %d label columns but the model has %d heads", len(labels), len(s.criteria))
	}
	outputs := s.model.Outputs()
	for i, criterion := range s.criteria {
		target, err := criterion.Target(labels[i], outputs[i].Shape())
		if err != nil {
			return fmt.Errorf("head %d: %w", i, err)
		}
		if err := gorgonia.Let(s.targets[i], target); err != nil {
			return fmt.Errorf("failed to bind head %d target: %w", i, err)
		}
	}
	return nil
}

// Run executes one bound batch. With train set, gradients are applied by the
// solver and then zeroed before the tape is reset; otherwise only the forward
// pass runs.
func (s *Session) Run(labels []*tensor.Dense, train bool) (*StepResult, error) {
	vm := s.evalVM
	if train {
		vm = s.trainVM
	}
	defer vm.Reset()

	if err := vm.RunAll(); err != nil {
		return nil, fmt.Errorf("forward pass failed: %w", err)
	}

	res := &StepResult{HeadLosses: make([]float64, len(s.losses))}
	var err error
	if res.Loss, err = scalarValue(s.total); err != nil {
		return nil, err
	}
	for i, l := range s.losses {
		if res.HeadLosses[i], err = scalarValue(l); err != nil {
			return nil, err
		}
	}

	for _, out := range s.model.Outputs() {
		data, err := nodeFloats(out)
		if err != nil {
			return nil, err
		}
		res.Outputs = append(res.Outputs, tensor.New(
			tensor.WithShape(out.Shape().Clone()...),
			tensor.WithBacking(append([]float32(nil), data...)),
		))
	}

	if train {
		if err := s.solver.Step(gorgonia.NodesToValueGrads(s.learnables)); err != nil {
			return nil, fmt.Errorf("optimizer step failed: %w", err)
		}
		if err := clearGradients(s.learnables); err != nil {
			return nil, err
		}
	}

	classes, err := labelValues(labels[0])
	if err != nil {
		return nil, err
	}
	if res.Accuracy, err = Accuracy(classes, res.Outputs[0]); err != nil {
		return nil, err
	}
	if res.F1, err = F1(classes, res.Outputs[0]); err != nil {
		return nil, err
	}
	return res, nil
}

// Close releases both machines
func (s *Session) Close() error {
	trainErr := s.trainVM.Close()
	evalErr := s.evalVM.Close()
	if trainErr != nil {
		return trainErr
	}
	return evalErr
}

// clearGradients zeroes the dual-value gradients of nodes. The tape does not
// reset them between runs.
func clearGradients(nodes gorgonia.Nodes) error {
	for _, n := range nodes {
		gv, err := n.Grad()
		if err != nil {
			return fmt.Errorf("failed to read %s gradient: %w", n.Name(), err)
		}
		g, ok := gv.(*tensor.Dense)
		if !ok {
			return fmt.Errorf("%s gradient is %T, want *tensor.Dense", n.Name(), gv)
		}
		g.Zero()
	}
	return nil
}

func nodeFloats(n *gorgonia.Node) ([]float32, error) {
	v := n.Value()
	if v == nil {
		return nil, fmt.Errorf("%s has no value", n.Name())
	}
	switch data := v.Data().(type) {
	case []float32:
		return data, nil
	case float32:
		return []float32{data}, nil
	default:
		return nil, fmt.Errorf("%s holds %T, want float32 data", n.Name(), data)
	}
}

func scalarValue(n *gorgonia.Node) (float64, error) {
	data, err := nodeFloats(n)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("%s has %d values, want a scalar", n.Name(), len(data))
	}
	return float64(data[0]), nil
}
