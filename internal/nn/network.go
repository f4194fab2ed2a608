// Package nn implements the fixed-topology feedforward networks that act as
// agent brains, along with their genetic operators and activation registry.
package nn

import (
	"fmt"
	"math/rand"

	"flapevo/internal/matrix"
)

// MutationSpread bounds the uniform perturbation applied by Mutate.
const MutationSpread = 0.05

var ErrTopologyMismatch = fmt.Errorf("network topology mismatch: %w", matrix.ErrShapeMismatch)

// Topology is the fixed input/hidden/output layer sizing of a Network.
type Topology struct {
	Inputs  int `json:"inputs" yaml:"inputs"`
	Hidden  int `json:"hidden" yaml:"hidden"`
	Outputs int `json:"outputs" yaml:"outputs"`
}

func (t Topology) Validate() error {
	if t.Inputs <= 0 || t.Hidden <= 0 || t.Outputs <= 0 {
		return fmt.Errorf("%w: topology %s", matrix.ErrInvalidShape, t)
	}
	return nil
}

func (t Topology) String() string {
	return fmt.Sprintf("%d-%d-%d", t.Inputs, t.Hidden, t.Outputs)
}

// Network is a three layer feedforward network:
//
//	hidden = act(weightsIH · inputs + biasH)
//	output = act(weightsHO · hidden + biasO)
//
// A Network is owned by exactly one agent and is not safe for concurrent
// Predict calls because the last activations are cached on the value.
type Network struct {
	topology   Topology
	activation string
	act        ActivationFunc

	weightsIH *matrix.Matrix // hidden x inputs
	weightsHO *matrix.Matrix // outputs x hidden
	biasH     *matrix.Matrix // hidden x 1
	biasO     *matrix.Matrix // outputs x 1

	hidden *matrix.Matrix
	output *matrix.Matrix
}

// New builds a sigmoid network with every weight and bias drawn uniformly
// from r.
func New(topology Topology, rng *rand.Rand, r matrix.Range) (*Network, error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	weightsIH, err := matrix.Random(topology.Hidden, topology.Inputs, rng, r)
	if err != nil {
		return nil, fmt.Errorf("weights input-hidden: %w", err)
	}
	weightsHO, err := matrix.Random(topology.Outputs, topology.Hidden, rng, r)
	if err != nil {
		return nil, fmt.Errorf("weights hidden-output: %w", err)
	}
	biasH, err := matrix.Random(topology.Hidden, 1, rng, r)
	if err != nil {
		return nil, fmt.Errorf("bias hidden: %w", err)
	}
	biasO, err := matrix.Random(topology.Outputs, 1, rng, r)
	if err != nil {
		return nil, fmt.Errorf("bias output: %w", err)
	}
	return &Network{
		topology:   topology,
		activation: DefaultActivation,
		act:        Sigmoid,
		weightsIH:  weightsIH,
		weightsHO:  weightsHO,
		biasH:      biasH,
		biasO:      biasO,
	}, nil
}

// NewFromMatrices builds a sigmoid network from explicit parameters. The
// matrices are copied; topology is inferred from weightsIH and weightsHO.
func NewFromMatrices(weightsIH, weightsHO, biasH, biasO *matrix.Matrix) (*Network, error) {
	if weightsIH == nil || weightsHO == nil || biasH == nil || biasO == nil {
		return nil, fmt.Errorf("%w: all weight and bias matrices are required", matrix.ErrInvalidShape)
	}
	topology := Topology{Inputs: weightsIH.Cols(), Hidden: weightsIH.Rows(), Outputs: weightsHO.Rows()}
	if weightsHO.Cols() != topology.Hidden {
		return nil, fmt.Errorf("%w: weights hidden-output has %d columns, want %d", ErrTopologyMismatch, weightsHO.Cols(), topology.Hidden)
	}
	if biasH.Rows() != topology.Hidden || biasH.Cols() != 1 {
		return nil, fmt.Errorf("%w: bias hidden must be %dx1", ErrTopologyMismatch, topology.Hidden)
	}
	if biasO.Rows() != topology.Outputs || biasO.Cols() != 1 {
		return nil, fmt.Errorf("%w: bias output must be %dx1", ErrTopologyMismatch, topology.Outputs)
	}
	return &Network{
		topology:   topology,
		activation: DefaultActivation,
		act:        Sigmoid,
		weightsIH:  weightsIH.Copy(),
		weightsHO:  weightsHO.Copy(),
		biasH:      biasH.Copy(),
		biasO:      biasO.Copy(),
	}, nil
}

// SetActivation swaps the layer activation for a registered one.
func (n *Network) SetActivation(name string) error {
	fn, err := GetActivation(name)
	if err != nil {
		return err
	}
	n.activation = name
	n.act = fn
	return nil
}

func (n *Network) Activation() string { return n.activation }

func (n *Network) Topology() Topology { return n.topology }

// Predict runs one forward pass. len(inputs) must equal the input size.
func (n *Network) Predict(inputs []float64) ([]float64, error) {
	if len(inputs) != n.topology.Inputs {
		return nil, fmt.Errorf("%w: got %d inputs, want %d", matrix.ErrShapeMismatch, len(inputs), n.topology.Inputs)
	}
	in, err := matrix.FromSlice(inputs)
	if err != nil {
		return nil, err
	}

	hidden, err := matrix.Multiply(n.weightsIH, in)
	if err != nil {
		return nil, fmt.Errorf("hidden layer: %w", err)
	}
	if err := hidden.AddMatrix(n.biasH); err != nil {
		return nil, fmt.Errorf("hidden bias: %w", err)
	}
	hidden.Map(n.act)

	output, err := matrix.Multiply(n.weightsHO, hidden)
	if err != nil {
		return nil, fmt.Errorf("output layer: %w", err)
	}
	if err := output.AddMatrix(n.biasO); err != nil {
		return nil, fmt.Errorf("output bias: %w", err)
	}
	output.Map(n.act)

	n.hidden = hidden
	n.output = output
	return output.ToSlice(), nil
}

// Mutate perturbs every weight and bias independently with probability rate
// by a uniform draw in [-MutationSpread, MutationSpread).
func (n *Network) Mutate(rng *rand.Rand, rate float64) error {
	if rng == nil {
		return fmt.Errorf("random source is required")
	}
	if rate < 0 || rate > 1 {
		return fmt.Errorf("mutation rate must be in [0, 1], got %f", rate)
	}
	perturb := func(v float64) float64 {
		if rng.Float64() < rate {
			return v + rng.Float64()*2*MutationSpread - MutationSpread
		}
		return v
	}
	for _, m := range n.parameters() {
		m.Map(perturb)
	}
	return nil
}

// Copy returns a deep clone sharing no buffers with n.
func (n *Network) Copy() *Network {
	clone := &Network{
		topology:   n.topology,
		activation: n.activation,
		act:        n.act,
		weightsIH:  n.weightsIH.Copy(),
		weightsHO:  n.weightsHO.Copy(),
		biasH:      n.biasH.Copy(),
		biasO:      n.biasO.Copy(),
	}
	if n.hidden != nil {
		clone.hidden = n.hidden.Copy()
	}
	if n.output != nil {
		clone.output = n.output.Copy()
	}
	return clone
}

// Equal reports whether both networks carry bit-identical parameters.
func (n *Network) Equal(other *Network) bool {
	if other == nil || n.topology != other.topology || n.activation != other.activation {
		return false
	}
	return n.weightsIH.Equal(other.weightsIH) &&
		n.weightsHO.Equal(other.weightsHO) &&
		n.biasH.Equal(other.biasH) &&
		n.biasO.Equal(other.biasO)
}

// ParameterCount is the number of scalars touched by Mutate.
func (n *Network) ParameterCount() int {
	total := 0
	for _, m := range n.parameters() {
		total += m.Len()
	}
	return total
}

func (n *Network) WeightsInputHidden() *matrix.Matrix { return n.weightsIH.Copy() }

func (n *Network) WeightsHiddenOutput() *matrix.Matrix { return n.weightsHO.Copy() }

func (n *Network) BiasHidden() *matrix.Matrix { return n.biasH.Copy() }

func (n *Network) BiasOutput() *matrix.Matrix { return n.biasO.Copy() }

func (n *Network) parameters() []*matrix.Matrix {
	return []*matrix.Matrix{n.weightsIH, n.weightsHO, n.biasH, n.biasO}
}

// Crossover clones parentA and replaces weightsIH rows [split, hidden) with
// parentB's rows. The other three matrices stay parentA's.
func Crossover(parentA, parentB *Network, split int) (*Network, error) {
	if parentA == nil || parentB == nil {
		return nil, fmt.Errorf("both parents are required")
	}
	if parentA.topology != parentB.topology {
		return nil, fmt.Errorf("%w: %s vs %s", ErrTopologyMismatch, parentA.topology, parentB.topology)
	}
	if split < 0 || split >= parentA.topology.Hidden {
		return nil, fmt.Errorf("crossover split %d outside [0, %d)", split, parentA.topology.Hidden)
	}
	child := parentA.Copy()
	child.hidden = nil
	child.output = nil
	if err := child.weightsIH.CopyRows(parentB.weightsIH, split, parentA.topology.Hidden); err != nil {
		return nil, fmt.Errorf("crossover: %w", err)
	}
	return child, nil
}

// RandomCrossover draws the split uniformly from [0, hidden) and returns it
// alongside the child.
func RandomCrossover(rng *rand.Rand, parentA, parentB *Network) (*Network, int, error) {
	if rng == nil {
		return nil, 0, fmt.Errorf("random source is required")
	}
	if parentA == nil {
		return nil, 0, fmt.Errorf("both parents are required")
	}
	split := rng.Intn(parentA.topology.Hidden)
	child, err := Crossover(parentA, parentB, split)
	if err != nil {
		return nil, 0, err
	}
	return child, split, nil
}
