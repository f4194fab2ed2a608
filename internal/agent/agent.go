// Package agent pairs a controller network with the per-generation
// survival bookkeeping the population monitor selects on.
package agent

import (
	"fmt"

	"flapevo/internal/nn"
)

// DefaultActionThreshold is the output[0] level above which an agent acts.
const DefaultActionThreshold = 0.5

// Agent owns its Brain exclusively; Clone and Spawn never share network
// buffers between agents.
type Agent struct {
	ID            int
	Brain         *nn.Network
	Alive         bool
	Score         int
	SurvivalTicks int
	Fitness       float64
}

func New(id int, brain *nn.Network) (*Agent, error) {
	if brain == nil {
		return nil, fmt.Errorf("agent %d: brain is required", id)
	}
	return &Agent{ID: id, Brain: brain, Alive: true}, nil
}

// Think feeds one sensor vector through the brain and reports whether the
// first output exceeds threshold.
func (a *Agent) Think(sensors []float64, threshold float64) (bool, error) {
	out, err := a.Brain.Predict(sensors)
	if err != nil {
		return false, fmt.Errorf("agent %d predict: %w", a.ID, err)
	}
	if len(out) == 0 {
		return false, fmt.Errorf("agent %d: brain produced no outputs", a.ID)
	}
	return out[0] > threshold, nil
}

// Tally is the raw fitness proxy, score plus survival ticks.
func (a *Agent) Tally() int {
	return a.Score + a.SurvivalTicks
}

// Clone deep-copies the agent including its counters.
func (a *Agent) Clone() *Agent {
	clone := *a
	clone.Brain = a.Brain.Copy()
	return &clone
}

// Spawn returns a fresh, living agent in slot id carrying a copy of a's brain.
func (a *Agent) Spawn(id int) *Agent {
	return &Agent{ID: id, Brain: a.Brain.Copy(), Alive: true}
}
