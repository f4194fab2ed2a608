package agent

import (
	"math/rand"
	"testing"

	"flapevo/internal/matrix"
	"flapevo/internal/nn"
)

func newBrain(t *testing.T, seed int64) *nn.Network {
	t.Helper()
	brain, err := nn.New(nn.Topology{Inputs: 5, Hidden: 8, Outputs: 1}, rand.New(rand.NewSource(seed)), matrix.DefaultRange)
	if err != nil {
		t.Fatalf("new brain: %v", err)
	}
	return brain
}

func TestNewRequiresBrain(t *testing.T) {
	if _, err := New(0, nil); err == nil {
		t.Fatal("expected missing brain error")
	}
	a, err := New(3, newBrain(t, 1))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	if !a.Alive || a.Score != 0 || a.SurvivalTicks != 0 || a.ID != 3 {
		t.Fatalf("unexpected initial state: %+v", a)
	}
}

func TestThinkUsesThreshold(t *testing.T) {
	a, err := New(0, newBrain(t, 2))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	sensors := []float64{0.5, 0.3, 0.2, 0.9, 0}
	out, err := a.Brain.Predict(sensors)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}

	act, err := a.Think(sensors, out[0]-0.01)
	if err != nil {
		t.Fatalf("think: %v", err)
	}
	if !act {
		t.Fatal("expected action below output level")
	}
	act, err = a.Think(sensors, out[0])
	if err != nil {
		t.Fatalf("think: %v", err)
	}
	if act {
		t.Fatal("output equal to threshold must not act")
	}
	if _, err := a.Think([]float64{1}, DefaultActionThreshold); err == nil {
		t.Fatal("expected sensor length error")
	}
}

func TestSpawnAndCloneDoNotAliasBrain(t *testing.T) {
	parent, err := New(0, newBrain(t, 3))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	parent.Score = 7
	parent.SurvivalTicks = 120
	parent.Alive = false

	spawned := parent.Spawn(9)
	if spawned.ID != 9 || !spawned.Alive || spawned.Score != 0 || spawned.SurvivalTicks != 0 {
		t.Fatalf("spawned agent should start fresh: %+v", spawned)
	}
	if !spawned.Brain.Equal(parent.Brain) {
		t.Fatal("spawned brain should equal parent brain")
	}

	clone := parent.Clone()
	if clone.Score != 7 || clone.SurvivalTicks != 120 || clone.Alive || clone.Tally() != 127 {
		t.Fatalf("clone should keep counters: %+v", clone)
	}

	reference := parent.Brain.Copy()
	if err := spawned.Brain.Mutate(rand.New(rand.NewSource(4)), 1); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if err := clone.Brain.Mutate(rand.New(rand.NewSource(5)), 1); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if !parent.Brain.Equal(reference) {
		t.Fatal("mutating a derived agent changed the parent brain")
	}
}
