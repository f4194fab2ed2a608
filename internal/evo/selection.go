package evo

import (
	"fmt"
	"math/rand"

	"flapevo/internal/agent"
)

// DefaultTournamentSize is the number of candidates drawn per tournament.
const DefaultTournamentSize = 5

// Selector chooses a parent from the current generation.
type Selector interface {
	Name() string
	PickParent(rng *rand.Rand, population []*agent.Agent) (*agent.Agent, error)
}

// TournamentSelector draws TournamentSize agents uniformly with replacement
// and returns the one with the highest fitness. Ties keep the earliest draw.
type TournamentSelector struct {
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickParent(rng *rand.Rand, population []*agent.Agent) (*agent.Agent, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if len(population) == 0 {
		return nil, fmt.Errorf("population is empty")
	}
	size := s.TournamentSize
	if size <= 0 {
		size = DefaultTournamentSize
	}

	best := population[rng.Intn(len(population))]
	for i := 1; i < size; i++ {
		candidate := population[rng.Intn(len(population))]
		if candidate.Fitness > best.Fitness {
			best = candidate
		}
	}
	return best, nil
}

// RandomSelector picks uniformly, ignoring fitness.
type RandomSelector struct{}

func (RandomSelector) Name() string {
	return "random"
}

func (RandomSelector) PickParent(rng *rand.Rand, population []*agent.Agent) (*agent.Agent, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if len(population) == 0 {
		return nil, fmt.Errorf("population is empty")
	}
	return population[rng.Intn(len(population))], nil
}

// SelectorFromName resolves a configured selector name.
func SelectorFromName(name string, tournamentSize int) (Selector, error) {
	switch name {
	case "", "tournament":
		return TournamentSelector{TournamentSize: tournamentSize}, nil
	case "random":
		return RandomSelector{}, nil
	default:
		return nil, fmt.Errorf("unsupported selector: %s", name)
	}
}
