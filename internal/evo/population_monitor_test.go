package evo

import (
	"context"
	"errors"
	"math"
	"testing"

	"flapevo/internal/agent"
	"flapevo/internal/nn"
	"flapevo/internal/scape"
)

// fakeEnv keeps every agent alive until killAt environment ticks have
// elapsed. Each ApplyAction on a living agent adds one survival tick.
type fakeEnv struct {
	alive   []bool
	tallies []scape.Tally
	killAt  int
	ticks   int
	resets  int
	senses  map[int]int
	actions map[int]int
}

func newFakeEnv(killAt int) *fakeEnv {
	return &fakeEnv{killAt: killAt}
}

func (*fakeEnv) Name() string { return "fake" }

func (e *fakeEnv) Reset(size int) error {
	e.alive = make([]bool, size)
	for i := range e.alive {
		e.alive[i] = true
	}
	e.tallies = make([]scape.Tally, size)
	e.ticks = 0
	e.resets++
	e.senses = map[int]int{}
	e.actions = map[int]int{}
	return nil
}

func (e *fakeEnv) Advance() error {
	e.ticks++
	if e.killAt > 0 && e.ticks >= e.killAt {
		for i := range e.alive {
			e.alive[i] = false
		}
	}
	return nil
}

func (e *fakeEnv) Sense(id int) ([]float64, error) {
	if id < 0 || id >= len(e.alive) {
		return nil, scape.ErrUnknownAgent
	}
	e.senses[id]++
	return []float64{0.5, 0.3, 0.4, 0.6, 0}, nil
}

func (e *fakeEnv) ApplyAction(id int, act bool) error {
	if id < 0 || id >= len(e.alive) {
		return scape.ErrUnknownAgent
	}
	if act {
		e.actions[id]++
	}
	if e.alive[id] {
		e.tallies[id].SurvivalTicks++
	}
	return nil
}

func (e *fakeEnv) Alive(id int) bool {
	return id >= 0 && id < len(e.alive) && e.alive[id]
}

func (e *fakeEnv) Tally(id int) (scape.Tally, error) {
	if id < 0 || id >= len(e.tallies) {
		return scape.Tally{}, scape.ErrUnknownAgent
	}
	return e.tallies[id], nil
}

func newTestMonitor(t *testing.T, env *fakeEnv, size int) *PopulationMonitor {
	t.Helper()
	m, err := NewPopulationMonitor(MonitorConfig{
		Environment:    env,
		PopulationSize: size,
		MutationRate:   0.2,
		Seed:           7,
	})
	if err != nil {
		t.Fatalf("new population monitor: %v", err)
	}
	return m
}

func TestNewPopulationMonitorValidation(t *testing.T) {
	env := newFakeEnv(0)
	cases := []MonitorConfig{
		{PopulationSize: 3},
		{Environment: env},
		{Environment: env, PopulationSize: 3, MutationRate: 1.5},
		{Environment: env, PopulationSize: 3, Topology: nn.Topology{Inputs: 5, Hidden: 0, Outputs: 1}},
		{Environment: env, PopulationSize: 3, Activation: "missing"},
		{Environment: env, PopulationSize: 3, InitialTimeout: -1},
	}
	for i, cfg := range cases {
		if _, err := NewPopulationMonitor(cfg); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if _, err := NewPopulationMonitor(MonitorConfig{Environment: env, PopulationSize: 3, Activation: "unknown"}); !errors.Is(err, nn.ErrActivationNotFound) {
		t.Fatalf("expected ErrActivationNotFound, got %v", err)
	}
}

func TestNewPopulationMonitorInitialState(t *testing.T) {
	env := newFakeEnv(0)
	m := newTestMonitor(t, env, 6)
	if m.Generation() != 1 || m.TimeoutRemaining() != DefaultInitialTimeout {
		t.Fatalf("unexpected initial state: %+v", m.Status())
	}
	if env.resets != 1 || len(env.alive) != 6 {
		t.Fatalf("environment not reset for population: resets=%d size=%d", env.resets, len(env.alive))
	}
	agents := m.Agents()
	for i, a := range agents {
		if a.ID != i || !a.Alive || a.Brain.Topology() != DefaultTopology {
			t.Fatalf("agent %d not seeded correctly: %+v", i, a)
		}
	}
	if agents[0].Brain.Equal(agents[1].Brain) {
		t.Fatal("agents should get independent random brains")
	}
	if m.Champion() != nil {
		t.Fatal("no champion before the first turnover")
	}
	if m.Leader() != agents[0] {
		t.Fatal("leader is slot 0")
	}
}

func TestAssignFitnessSumsToOne(t *testing.T) {
	agents := []*agent.Agent{
		{ID: 0, Score: 2, SurvivalTicks: 8},
		{ID: 1, Score: 0, SurvivalTicks: 5},
		{ID: 2, Score: 1, SurvivalTicks: 24},
	}
	assignFitness(agents)
	sum := 0.0
	for _, a := range agents {
		sum += a.Fitness
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("fitness sums to %f", sum)
	}
	if math.Abs(agents[0].Fitness-0.25) > 1e-12 || math.Abs(agents[2].Fitness-0.625) > 1e-12 {
		t.Fatalf("unexpected fitness: %f %f", agents[0].Fitness, agents[2].Fitness)
	}
}

func TestAssignFitnessZeroTotal(t *testing.T) {
	agents := []*agent.Agent{{ID: 0, Fitness: 0.4}, {ID: 1, Fitness: 0.6}}
	assignFitness(agents)
	for _, a := range agents {
		if a.Fitness != 0 {
			t.Fatalf("expected zero fitness, got %f", a.Fitness)
		}
	}
}

func TestAdvanceTimeoutTrigger(t *testing.T) {
	env := newFakeEnv(0)
	m, err := NewPopulationMonitor(MonitorConfig{
		Environment:    env,
		PopulationSize: 4,
		InitialTimeout: 3,
		TimeoutStep:    10,
		TimeoutFloor:   1,
		Seed:           1,
	})
	if err != nil {
		t.Fatalf("new population monitor: %v", err)
	}
	for i := 0; i < 2; i++ {
		turned, err := m.Advance()
		if err != nil || turned {
			t.Fatalf("tick %d: turned=%v err=%v", i, turned, err)
		}
	}
	if got := m.Status(); got.Alive != 4 || got.TimeoutRemaining != 1 || got.Ticks != 2 {
		t.Fatalf("unexpected status: %+v", got)
	}
	turned, err := m.Advance()
	if err != nil || !turned {
		t.Fatalf("expected timeout turnover: turned=%v err=%v", turned, err)
	}
	history := m.History()
	if len(history) != 1 || history[0].Trigger != TriggerTimeout || history[0].Ticks != 3 {
		t.Fatalf("unexpected history: %+v", history)
	}
	if m.Generation() != 2 || m.TimeoutRemaining() != 10 {
		t.Fatalf("after first turnover generation=%d timeout=%d", m.Generation(), m.TimeoutRemaining())
	}
	if err := m.NextGeneration(); err != nil {
		t.Fatalf("next generation: %v", err)
	}
	if m.TimeoutRemaining() != 20 {
		t.Fatalf("timeout should scale with generation, got %d", m.TimeoutRemaining())
	}
}

func TestTimeoutFloor(t *testing.T) {
	m := newTestMonitor(t, newFakeEnv(0), 3)
	for i := 0; i < 7; i++ {
		if err := m.NextGeneration(); err != nil {
			t.Fatalf("next generation: %v", err)
		}
		want := max((i+1)*DefaultTimeoutStep, DefaultTimeoutFloor)
		if m.TimeoutRemaining() != want {
			t.Fatalf("generation %d: timeout %d want %d", i+1, m.TimeoutRemaining(), want)
		}
	}
}

func TestAdvanceExtinctionTrigger(t *testing.T) {
	env := newFakeEnv(2)
	m := newTestMonitor(t, env, 5)
	if turned, err := m.Advance(); err != nil || turned {
		t.Fatalf("first tick: turned=%v err=%v", turned, err)
	}
	turned, err := m.Advance()
	if err != nil || !turned {
		t.Fatalf("expected extinction turnover: turned=%v err=%v", turned, err)
	}
	if got := m.History()[0]; got.Trigger != TriggerExtinction || got.MaxSurvivalTicks != 1 {
		t.Fatalf("unexpected diagnostics: %+v", got)
	}
	if env.resets != 2 {
		t.Fatalf("environment should be reset on turnover, resets=%d", env.resets)
	}
}

func TestAdvanceSkipsDeadAgents(t *testing.T) {
	env := newFakeEnv(0)
	m := newTestMonitor(t, env, 3)
	env.alive[1] = false
	for i := 0; i < 3; i++ {
		if _, err := m.Advance(); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	if env.senses[1] != 0 {
		t.Fatalf("dead agent sensed %d times", env.senses[1])
	}
	if env.senses[0] != 3 || env.senses[2] != 3 {
		t.Fatalf("living agents should sense every tick: %v", env.senses)
	}
	if m.Agents()[1].Alive {
		t.Fatal("agent state not synced from environment")
	}
}

func TestNextGenerationKeepsPopulationSize(t *testing.T) {
	env := newFakeEnv(0)
	m := newTestMonitor(t, env, 8)
	for gen := 0; gen < 3; gen++ {
		for i := range env.tallies {
			env.tallies[i] = scape.Tally{Score: i % 3, SurvivalTicks: 10 * i}
		}
		if err := m.NextGeneration(); err != nil {
			t.Fatalf("next generation: %v", err)
		}
		agents := m.Agents()
		if len(agents) != 8 {
			t.Fatalf("population size changed to %d", len(agents))
		}
		for i, a := range agents {
			if a.ID != i || !a.Alive || a.Score != 0 || a.SurvivalTicks != 0 || a.Fitness != 0 {
				t.Fatalf("slot %d not fresh: %+v", i, a)
			}
		}
		lineage := m.Lineage()
		if len(lineage) != 8 || lineage[7].Operation != "elite_clone" {
			t.Fatalf("unexpected lineage: %+v", lineage)
		}
		for _, rec := range lineage[:7] {
			if rec.Split < 0 || rec.Split >= DefaultTopology.Hidden {
				t.Fatalf("split out of range: %+v", rec)
			}
		}
	}
	if got := m.History()[2]; got.Generation != 3 || got.Offspring != 7 || got.Trigger != TriggerManual {
		t.Fatalf("unexpected diagnostics: %+v", got)
	}
}

func TestEliteSlotCarriesChampionBrain(t *testing.T) {
	env := newFakeEnv(0)
	m := newTestMonitor(t, env, 6)
	best := m.Agents()[3].Brain.Copy()
	env.tallies[3] = scape.Tally{Score: 4, SurvivalTicks: 2}
	env.tallies[1] = scape.Tally{Score: 1, SurvivalTicks: 500}

	if err := m.NextGeneration(); err != nil {
		t.Fatalf("next generation: %v", err)
	}
	champion := m.Champion()
	if champion == nil || champion.Score != 4 || !champion.Brain.Equal(best) {
		t.Fatalf("champion should be the highest raw score agent: %+v", champion)
	}
	elite := m.Agents()[5]
	if !elite.Brain.Equal(best) {
		t.Fatal("last slot must carry an unmutated copy of the champion brain")
	}
	if elite.Brain == champion.Brain {
		t.Fatal("elite must not share the champion's network")
	}
	if got := m.History()[0]; got.ChampionScore != 4 || got.BestScore != 4 {
		t.Fatalf("unexpected diagnostics: %+v", got)
	}
}

func TestChampionReplacedOnlyOnStrictlyHigherScore(t *testing.T) {
	env := newFakeEnv(0)
	m := newTestMonitor(t, env, 4)
	env.tallies[0] = scape.Tally{Score: 5}
	if err := m.NextGeneration(); err != nil {
		t.Fatalf("next generation: %v", err)
	}
	first := m.Champion()

	env.tallies[2] = scape.Tally{Score: 5, SurvivalTicks: 100}
	if err := m.NextGeneration(); err != nil {
		t.Fatalf("next generation: %v", err)
	}
	if !m.Champion().Brain.Equal(first.Brain) {
		t.Fatal("equal score must not replace the champion")
	}

	env.tallies[1] = scape.Tally{Score: 6}
	replacement := m.Agents()[1].Brain.Copy()
	if err := m.NextGeneration(); err != nil {
		t.Fatalf("next generation: %v", err)
	}
	if got := m.Champion(); got.Score != 6 || !got.Brain.Equal(replacement) {
		t.Fatalf("higher score should replace the champion, got score %d", got.Score)
	}
	if m.Status().ChampionScore != 6 {
		t.Fatalf("status not tracking champion: %+v", m.Status())
	}
}

func TestZeroScoreGenerationStillBreeds(t *testing.T) {
	m := newTestMonitor(t, newFakeEnv(0), 4)
	if err := m.NextGeneration(); err != nil {
		t.Fatalf("next generation: %v", err)
	}
	got := m.History()[0]
	if got.BestFitness != 0 || got.MeanFitness != 0 || got.MinFitness != 0 {
		t.Fatalf("expected zero fitness diagnostics: %+v", got)
	}
	if m.Champion() == nil {
		t.Fatal("first turnover adopts a champion unconditionally")
	}
}

func TestSingleAgentPopulationIsEliteOnly(t *testing.T) {
	env := newFakeEnv(0)
	m := newTestMonitor(t, env, 1)
	brain := m.Agents()[0].Brain.Copy()
	if err := m.NextGeneration(); err != nil {
		t.Fatalf("next generation: %v", err)
	}
	if !m.Agents()[0].Brain.Equal(brain) {
		t.Fatal("single slot must be the unmutated champion")
	}
}

func TestSeedMakesTurnoverDeterministic(t *testing.T) {
	a := newTestMonitor(t, newFakeEnv(0), 5)
	b := newTestMonitor(t, newFakeEnv(0), 5)
	for i := 0; i < 3; i++ {
		if err := a.NextGeneration(); err != nil {
			t.Fatal(err)
		}
		if err := b.NextGeneration(); err != nil {
			t.Fatal(err)
		}
	}
	for i := range a.Agents() {
		if !a.Agents()[i].Brain.Equal(b.Agents()[i].Brain) {
			t.Fatalf("slot %d differs between equally seeded monitors", i)
		}
	}
}

func TestRunStopsAfterGenerations(t *testing.T) {
	var observed []int
	env := newFakeEnv(4)
	m, err := NewPopulationMonitor(MonitorConfig{
		Environment:    env,
		PopulationSize: 3,
		Seed:           3,
		Observers: []GenerationObserver{GenerationObserverFunc(func(d GenerationDiagnostics) {
			observed = append(observed, d.Generation)
		})},
	})
	if err != nil {
		t.Fatalf("new population monitor: %v", err)
	}
	ticks, turns := 0, 0
	diags, err := m.Run(context.Background(), 3, func(tick int, turned bool) {
		ticks = tick
		if turned {
			turns++
		}
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(diags) != 3 || diags[2].Generation != 3 {
		t.Fatalf("unexpected run diagnostics: %+v", diags)
	}
	if turns != 3 || ticks != 12 {
		t.Fatalf("tick hook saw %d ticks and %d turnovers, want 12 and 3", ticks, turns)
	}
	if len(observed) != 3 || observed[0] != 1 {
		t.Fatalf("observers not notified: %v", observed)
	}
	if _, err := m.Run(context.Background(), 0, nil); err == nil {
		t.Fatal("expected error for zero generations")
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	m := newTestMonitor(t, newFakeEnv(0), 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	diags, err := m.Run(ctx, 1, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
}

func TestBredSlotsAreCrossoverChildrenOfLineageParents(t *testing.T) {
	env := newFakeEnv(0)
	m, err := NewPopulationMonitor(MonitorConfig{
		Environment:    env,
		PopulationSize: 10,
		MutationRate:   0,
		Seed:           11,
	})
	if err != nil {
		t.Fatalf("new population monitor: %v", err)
	}
	for i := range env.tallies {
		env.tallies[i] = scape.Tally{Score: i % 4, SurvivalTicks: 3 * i}
	}
	old := make([]*nn.Network, 0, 10)
	for _, a := range m.Agents() {
		old = append(old, a.Brain.Copy())
	}

	if err := m.NextGeneration(); err != nil {
		t.Fatalf("next generation: %v", err)
	}
	agents := m.Agents()
	for _, rec := range m.Lineage()[:9] {
		want, err := nn.Crossover(old[rec.ParentA], old[rec.ParentB], rec.Split)
		if err != nil {
			t.Fatalf("slot %d crossover: %v", rec.Slot, err)
		}
		if !agents[rec.Slot].Brain.Equal(want) {
			t.Fatalf("slot %d is not the crossover of %d and %d at split %d", rec.Slot, rec.ParentA, rec.ParentB, rec.Split)
		}
	}
}
