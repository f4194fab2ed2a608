// Package evo drives a fixed-size population through the environment and
// breeds each new generation by tournament selection, single-point
// crossover, mutation and single-slot elitism.
package evo

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"flapevo/internal/agent"
	"flapevo/internal/logging"
	"flapevo/internal/matrix"
	"flapevo/internal/nn"
	"flapevo/internal/scape"
)

const (
	DefaultInitialTimeout = 1000
	DefaultTimeoutStep    = 500
	DefaultTimeoutFloor   = 3000
)

// DefaultTopology matches the five-value sensor vector and single action.
var DefaultTopology = nn.Topology{Inputs: 5, Hidden: 8, Outputs: 1}

const (
	TriggerExtinction = "extinction"
	TriggerTimeout    = "timeout"
	TriggerManual     = "manual"
)

type GenerationDiagnostics struct {
	Generation       int     `json:"generation"`
	Trigger          string  `json:"trigger"`
	Ticks            int     `json:"ticks"`
	BestFitness      float64 `json:"best_fitness"`
	MeanFitness      float64 `json:"mean_fitness"`
	MinFitness       float64 `json:"min_fitness"`
	BestScore        int     `json:"best_score"`
	MeanScore        float64 `json:"mean_score"`
	MaxSurvivalTicks int     `json:"max_survival_ticks"`
	ChampionScore    int     `json:"champion_score"`
	Offspring        int     `json:"offspring"`
}

type LineageRecord struct {
	Slot       int    `json:"slot"`
	Generation int    `json:"generation"`
	ParentA    int    `json:"parent_a"`
	ParentB    int    `json:"parent_b"`
	Split      int    `json:"split"`
	Operation  string `json:"operation"`
}

// Status is a point-in-time view of the monitor for HUDs and logs.
type Status struct {
	Generation       int     `json:"generation"`
	Ticks            int     `json:"ticks"`
	TimeoutRemaining int     `json:"timeout_remaining"`
	Alive            int     `json:"alive"`
	PopulationSize   int     `json:"population_size"`
	ChampionScore    int     `json:"champion_score"`
	ChampionFitness  float64 `json:"champion_fitness"`
}

// GenerationObserver is notified after every turnover.
type GenerationObserver interface {
	ObserveGeneration(GenerationDiagnostics)
}

type GenerationObserverFunc func(GenerationDiagnostics)

func (f GenerationObserverFunc) ObserveGeneration(d GenerationDiagnostics) {
	f(d)
}

// MonitorConfig configures a PopulationMonitor. Zero values for Topology,
// ActionThreshold, WeightRange, the timeout fields and the selectors
// fall back to the package defaults.
type MonitorConfig struct {
	Environment     scape.Environment
	PopulationSize  int
	Topology        nn.Topology
	Activation      string
	MutationRate    float64
	ActionThreshold float64
	WeightRange     matrix.Range
	InitialTimeout  int
	TimeoutStep     int
	TimeoutFloor    int
	Selector        Selector
	PartnerSelector Selector
	Seed            int64
	Logger          *slog.Logger
	Observers       []GenerationObserver
}

// PopulationMonitor owns the agents of the current generation and the
// all-time champion. It is not safe for concurrent use.
type PopulationMonitor struct {
	cfg MonitorConfig
	rng *rand.Rand
	log *slog.Logger

	agents     []*agent.Agent
	champion   *agent.Agent
	generation int
	timeout    int
	ticks      int
	history    []GenerationDiagnostics
	lineage    []LineageRecord
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if cfg.Environment == nil {
		return nil, fmt.Errorf("environment is required")
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.MutationRate < 0 || cfg.MutationRate > 1 {
		return nil, fmt.Errorf("mutation rate must be in [0, 1], got %f", cfg.MutationRate)
	}
	if cfg.Topology == (nn.Topology{}) {
		cfg.Topology = DefaultTopology
	}
	if err := cfg.Topology.Validate(); err != nil {
		return nil, err
	}
	if cfg.Activation == "" {
		cfg.Activation = nn.DefaultActivation
	}
	if _, err := nn.GetActivation(cfg.Activation); err != nil {
		return nil, err
	}
	if cfg.ActionThreshold == 0 {
		cfg.ActionThreshold = agent.DefaultActionThreshold
	}
	if cfg.WeightRange == (matrix.Range{}) {
		cfg.WeightRange = matrix.DefaultRange
	}
	if cfg.WeightRange.High < cfg.WeightRange.Low {
		return nil, fmt.Errorf("invalid weight range [%f, %f)", cfg.WeightRange.Low, cfg.WeightRange.High)
	}
	if cfg.InitialTimeout < 0 || cfg.TimeoutStep < 0 || cfg.TimeoutFloor < 0 {
		return nil, fmt.Errorf("timeouts must be >= 0")
	}
	if cfg.InitialTimeout == 0 {
		cfg.InitialTimeout = DefaultInitialTimeout
	}
	if cfg.TimeoutStep == 0 {
		cfg.TimeoutStep = DefaultTimeoutStep
	}
	if cfg.TimeoutFloor == 0 {
		cfg.TimeoutFloor = DefaultTimeoutFloor
	}
	if cfg.Selector == nil {
		cfg.Selector = TournamentSelector{TournamentSize: DefaultTournamentSize}
	}
	if cfg.PartnerSelector == nil {
		cfg.PartnerSelector = RandomSelector{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	m := &PopulationMonitor{
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		log:        cfg.Logger.With("component", "population_monitor", "environment", cfg.Environment.Name()),
		generation: 1,
		timeout:    cfg.InitialTimeout,
	}
	m.agents = make([]*agent.Agent, cfg.PopulationSize)
	for i := range m.agents {
		brain, err := nn.New(cfg.Topology, m.rng, cfg.WeightRange)
		if err != nil {
			return nil, fmt.Errorf("seed agent %d: %w", i, err)
		}
		if err := brain.SetActivation(cfg.Activation); err != nil {
			return nil, err
		}
		m.agents[i], err = agent.New(i, brain)
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.Environment.Reset(cfg.PopulationSize); err != nil {
		return nil, fmt.Errorf("reset environment: %w", err)
	}
	m.log.Info("population seeded",
		"population", cfg.PopulationSize,
		"topology", cfg.Topology.String(),
		"activation", cfg.Activation,
		"selector", cfg.Selector.Name(),
		"seed", cfg.Seed,
	)
	return m, nil
}

// Advance runs one tick: the environment moves, every living agent senses,
// decides and acts, and the evaluation timeout counts down. It reports
// whether the tick ended in a generation turnover.
func (m *PopulationMonitor) Advance() (bool, error) {
	env := m.cfg.Environment
	if err := env.Advance(); err != nil {
		return false, fmt.Errorf("advance environment: %w", err)
	}

	alive := 0
	for _, a := range m.agents {
		if !a.Alive {
			continue
		}
		if env.Alive(a.ID) {
			sensors, err := env.Sense(a.ID)
			if err != nil {
				return false, fmt.Errorf("sense agent %d: %w", a.ID, err)
			}
			act, err := a.Think(sensors, m.cfg.ActionThreshold)
			if err != nil {
				return false, err
			}
			if err := env.ApplyAction(a.ID, act); err != nil {
				return false, fmt.Errorf("apply action agent %d: %w", a.ID, err)
			}
		}
		if err := m.syncAgent(a); err != nil {
			return false, err
		}
		if a.Alive {
			alive++
		}
	}
	m.ticks++
	m.timeout--

	var trigger string
	switch {
	case alive == 0:
		trigger = TriggerExtinction
	case m.timeout <= 0:
		trigger = TriggerTimeout
	default:
		return false, nil
	}
	if err := m.turnover(trigger); err != nil {
		return false, err
	}
	return true, nil
}

// NextGeneration forces a turnover regardless of the current tick state.
func (m *PopulationMonitor) NextGeneration() error {
	return m.turnover(TriggerManual)
}

// TickFunc is called by Run after every tick. tick counts from 1 within the
// call; turned reports whether that tick ended in a turnover.
type TickFunc func(tick int, turned bool)

// Run advances until generations turnovers have happened or ctx is done, and
// returns the diagnostics of those turnovers. onTick may be nil.
func (m *PopulationMonitor) Run(ctx context.Context, generations int, onTick TickFunc) ([]GenerationDiagnostics, error) {
	if generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	start := len(m.history)
	for tick := 1; len(m.history)-start < generations; tick++ {
		if err := ctx.Err(); err != nil {
			return m.historySince(start), err
		}
		turned, err := m.Advance()
		if err != nil {
			return m.historySince(start), err
		}
		if onTick != nil {
			onTick(tick, turned)
		}
	}
	return m.historySince(start), nil
}

func (m *PopulationMonitor) turnover(trigger string) error {
	for _, a := range m.agents {
		if err := m.syncAgent(a); err != nil {
			return err
		}
	}
	assignFitness(m.agents)

	ranked := append([]*agent.Agent(nil), m.agents...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Fitness > ranked[j].Fitness
	})
	m.updateChampion(ranked)

	next, lineage, err := m.breed(ranked)
	if err != nil {
		return fmt.Errorf("generation %d: %w", m.generation, err)
	}

	diag := summarizeGeneration(ranked, m.generation, trigger, m.ticks)
	diag.ChampionScore = m.champion.Score
	diag.Offspring = len(next) - 1
	m.history = append(m.history, diag)
	m.lineage = lineage

	m.timeout = max(m.generation*m.cfg.TimeoutStep, m.cfg.TimeoutFloor)
	m.generation++
	m.ticks = 0
	m.agents = next
	if err := m.cfg.Environment.Reset(len(next)); err != nil {
		return fmt.Errorf("reset environment: %w", err)
	}

	m.log.Info("generation complete",
		"generation", diag.Generation,
		"trigger", trigger,
		"ticks", diag.Ticks,
		"best_score", diag.BestScore,
		"best_fitness", diag.BestFitness,
		"mean_fitness", diag.MeanFitness,
	)
	for _, observer := range m.cfg.Observers {
		observer.ObserveGeneration(diag)
	}
	return nil
}

// assignFitness sets each agent's fitness to its share of the population's
// total score plus survival ticks. A zero total leaves every fitness at 0.
func assignFitness(agents []*agent.Agent) {
	total := 0
	for _, a := range agents {
		total += a.Tally()
	}
	for _, a := range agents {
		if total == 0 {
			a.Fitness = 0
			continue
		}
		a.Fitness = float64(a.Tally()) / float64(total)
	}
}

// updateChampion keeps a detached copy of the highest scoring agent seen so
// far. ranked is fitness ordered, so score ties favour the fitter agent.
func (m *PopulationMonitor) updateChampion(ranked []*agent.Agent) {
	best := ranked[0]
	for _, a := range ranked[1:] {
		if a.Score > best.Score {
			best = a
		}
	}
	if m.champion != nil && best.Score <= m.champion.Score {
		return
	}
	previous := -1
	if m.champion != nil {
		previous = m.champion.Score
	}
	m.champion = best.Clone()
	m.log.Debug("champion replaced",
		"generation", m.generation,
		"score", best.Score,
		"previous_score", previous,
		"fitness", best.Fitness,
	)
}

func (m *PopulationMonitor) breed(ranked []*agent.Agent) ([]*agent.Agent, []LineageRecord, error) {
	size := m.cfg.PopulationSize
	next := make([]*agent.Agent, size)
	lineage := make([]LineageRecord, 0, size)
	for slot := 0; slot < size-1; slot++ {
		parentA, err := m.cfg.Selector.PickParent(m.rng, ranked)
		if err != nil {
			return nil, nil, fmt.Errorf("select parent: %w", err)
		}
		parentB, err := m.cfg.PartnerSelector.PickParent(m.rng, ranked)
		if err != nil {
			return nil, nil, fmt.Errorf("select partner: %w", err)
		}
		brain, split, err := nn.RandomCrossover(m.rng, parentA.Brain, parentB.Brain)
		if err != nil {
			return nil, nil, err
		}
		if err := brain.Mutate(m.rng, m.cfg.MutationRate); err != nil {
			return nil, nil, err
		}
		next[slot], err = agent.New(slot, brain)
		if err != nil {
			return nil, nil, err
		}
		logging.Trace(m.log, "offspring bred",
			"generation", m.generation+1,
			"slot", slot,
			"parent_a", parentA.ID,
			"parent_b", parentB.ID,
			"split", split,
		)
		lineage = append(lineage, LineageRecord{
			Slot:       slot,
			Generation: m.generation + 1,
			ParentA:    parentA.ID,
			ParentB:    parentB.ID,
			Split:      split,
			Operation:  "crossover+mutate",
		})
	}

	elite := size - 1
	next[elite] = m.champion.Spawn(elite)
	lineage = append(lineage, LineageRecord{
		Slot:       elite,
		Generation: m.generation + 1,
		ParentA:    m.champion.ID,
		ParentB:    -1,
		Split:      -1,
		Operation:  "elite_clone",
	})
	return next, lineage, nil
}

func (m *PopulationMonitor) syncAgent(a *agent.Agent) error {
	tally, err := m.cfg.Environment.Tally(a.ID)
	if err != nil {
		return fmt.Errorf("tally agent %d: %w", a.ID, err)
	}
	a.Score = tally.Score
	a.SurvivalTicks = tally.SurvivalTicks
	a.Alive = m.cfg.Environment.Alive(a.ID)
	return nil
}

func summarizeGeneration(ranked []*agent.Agent, generation int, trigger string, ticks int) GenerationDiagnostics {
	diag := GenerationDiagnostics{Generation: generation, Trigger: trigger, Ticks: ticks}
	if len(ranked) == 0 {
		return diag
	}
	fitnessSum := 0.0
	scoreSum := 0
	diag.BestFitness = ranked[0].Fitness
	diag.MinFitness = ranked[0].Fitness
	for _, a := range ranked {
		fitnessSum += a.Fitness
		scoreSum += a.Score
		if a.Fitness < diag.MinFitness {
			diag.MinFitness = a.Fitness
		}
		if a.Score > diag.BestScore {
			diag.BestScore = a.Score
		}
		if a.SurvivalTicks > diag.MaxSurvivalTicks {
			diag.MaxSurvivalTicks = a.SurvivalTicks
		}
	}
	diag.MeanFitness = fitnessSum / float64(len(ranked))
	diag.MeanScore = float64(scoreSum) / float64(len(ranked))
	return diag
}

func (m *PopulationMonitor) Generation() int { return m.generation }

func (m *PopulationMonitor) TimeoutRemaining() int { return m.timeout }

// Agents returns the current generation in slot order. The agents are live;
// callers must not modify them.
func (m *PopulationMonitor) Agents() []*agent.Agent {
	return append([]*agent.Agent(nil), m.agents...)
}

// Leader is the agent in slot 0.
func (m *PopulationMonitor) Leader() *agent.Agent {
	return m.agents[0]
}

// Champion returns a copy of the all-time best scoring agent, or nil before
// the first turnover.
func (m *PopulationMonitor) Champion() *agent.Agent {
	if m.champion == nil {
		return nil
	}
	return m.champion.Clone()
}

func (m *PopulationMonitor) History() []GenerationDiagnostics {
	return append([]GenerationDiagnostics(nil), m.history...)
}

// Lineage returns how each slot of the current generation was produced.
func (m *PopulationMonitor) Lineage() []LineageRecord {
	return append([]LineageRecord(nil), m.lineage...)
}

func (m *PopulationMonitor) Status() Status {
	status := Status{
		Generation:       m.generation,
		Ticks:            m.ticks,
		TimeoutRemaining: m.timeout,
		PopulationSize:   len(m.agents),
	}
	for _, a := range m.agents {
		if a.Alive {
			status.Alive++
		}
	}
	if m.champion != nil {
		status.ChampionScore = m.champion.Score
		status.ChampionFitness = m.champion.Fitness
	}
	return status
}

func (m *PopulationMonitor) historySince(start int) []GenerationDiagnostics {
	return append([]GenerationDiagnostics(nil), m.history[start:]...)
}
