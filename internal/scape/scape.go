// Package scape holds the environments a population is evaluated in and the
// boundary the population monitor drives them through.
package scape

import "errors"

var ErrUnknownAgent = errors.New("unknown agent")

// Tally carries the fitness inputs an environment accumulates per agent.
type Tally struct {
	Score         int `json:"score"`
	SurvivalTicks int `json:"survival_ticks"`
}

// Environment is the simulation boundary the population monitor drives. One
// tick is Advance followed by Sense/ApplyAction for every living agent.
// Agent ids are population slots in [0, populationSize).
type Environment interface {
	Name() string
	// Reset restores the initial layout with populationSize fresh agents.
	Reset(populationSize int) error
	// Advance moves the shared world state (obstacles) by one tick.
	Advance() error
	Sense(agentID int) ([]float64, error)
	// ApplyAction forwards the agent's decision and advances its physics,
	// marking it dead when it leaves the survival bounds.
	ApplyAction(agentID int, act bool) error
	Alive(agentID int) bool
	Tally(agentID int) (Tally, error)
}
