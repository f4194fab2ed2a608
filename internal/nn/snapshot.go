package nn

// Snapshot is a read-only copy of a network's parameters and the activations
// of its most recent Predict call, for visualisers.
type Snapshot struct {
	Topology            Topology    `json:"topology"`
	Activation          string      `json:"activation"`
	WeightsInputHidden  [][]float64 `json:"weights_input_hidden"`
	WeightsHiddenOutput [][]float64 `json:"weights_hidden_output"`
	BiasHidden          []float64   `json:"bias_hidden"`
	BiasOutput          []float64   `json:"bias_output"`
	HiddenActivation    []float64   `json:"hidden_activation,omitempty"`
	OutputActivation    []float64   `json:"output_activation,omitempty"`
}

func (n *Network) Snapshot() Snapshot {
	return Snapshot{
		Topology:            n.topology,
		Activation:          n.activation,
		WeightsInputHidden:  n.weightsIH.ToRows(),
		WeightsHiddenOutput: n.weightsHO.ToRows(),
		BiasHidden:          n.biasH.ToSlice(),
		BiasOutput:          n.biasO.ToSlice(),
		HiddenActivation:    n.HiddenActivation(),
		OutputActivation:    n.OutputActivation(),
	}
}

// HiddenActivation returns a copy of the last hidden layer output, or nil
// before the first Predict.
func (n *Network) HiddenActivation() []float64 {
	if n.hidden == nil {
		return nil
	}
	return n.hidden.ToSlice()
}

// OutputActivation returns a copy of the last output layer values, or nil
// before the first Predict.
func (n *Network) OutputActivation() []float64 {
	if n.output == nil {
		return nil
	}
	return n.output.ToSlice()
}
