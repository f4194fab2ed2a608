package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"flapevo/internal/nn"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	e := cfg.Evolution
	if e.PopulationSize != 2000 || e.MutationRate != 0.2 || e.TournamentSize != 5 {
		t.Errorf("unexpected evolution defaults: %+v", e)
	}
	if cfg.Topology() != (nn.Topology{Inputs: 5, Hidden: 8, Outputs: 1}) {
		t.Errorf("unexpected topology: %s", cfg.Topology())
	}
	if e.InitialTimeout != 1000 || e.TimeoutStep != 500 || e.TimeoutFloor != 3000 {
		t.Errorf("unexpected timeouts: %+v", e)
	}
	if r := cfg.WeightRange(); r.Low != -1 || r.High != 0.4 {
		t.Errorf("unexpected weight range: %+v", r)
	}
	if cfg.World.Width != 600 || cfg.World.ObstacleGap != 200 || cfg.World.ScrollSpeed != 10 {
		t.Errorf("unexpected world defaults: %+v", cfg.World)
	}
	if cfg.Logging.Level != "info" || cfg.Run.Store != "memory" {
		t.Errorf("unexpected run/logging defaults: %+v %+v", cfg.Run, cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flapevo.yaml")
	content := `
evolution:
  population_size: 150
  mutation_rate: 0.1
  selection: random
world:
  obstacle_gap: 180
run:
  generations: 25
  store: sqlite
  db_path: runs.db
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Evolution.PopulationSize != 150 || cfg.Evolution.MutationRate != 0.1 || cfg.Evolution.Selection != "random" {
		t.Errorf("yaml values not applied: %+v", cfg.Evolution)
	}
	if cfg.Evolution.Hidden != 8 || cfg.Evolution.TimeoutFloor != 3000 {
		t.Errorf("defaults lost for unset keys: %+v", cfg.Evolution)
	}
	if cfg.World.ObstacleGap != 180 || cfg.World.Width != 600 {
		t.Errorf("unexpected world: %+v", cfg.World)
	}
	if cfg.Run.Generations != 25 || cfg.Run.Store != "sqlite" || cfg.Run.DBPath != "runs.db" {
		t.Errorf("unexpected run section: %+v", cfg.Run)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("unexpected log level: %s", cfg.Logging.Level)
	}
}

func TestLoadINI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flapevo.ini")
	content := `
[evolution]
population_size = 64
hidden = 12
mutation_rate = 0.3
seed = 42

[world]
scroll_speed = 8

[metrics]
addr = :9100
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Evolution.PopulationSize != 64 || cfg.Evolution.Hidden != 12 || cfg.Evolution.Seed != 42 {
		t.Errorf("ini values not applied: %+v", cfg.Evolution)
	}
	if cfg.Evolution.MutationRate != 0.3 {
		t.Errorf("unexpected mutation rate: %f", cfg.Evolution.MutationRate)
	}
	if cfg.World.ScrollSpeed != 8 || cfg.World.Height != 600 {
		t.Errorf("unexpected world: %+v", cfg.World)
	}
	if cfg.Metrics.Addr != ":9100" || cfg.Metrics.Namespace != "flapevo" {
		t.Errorf("unexpected metrics: %+v", cfg.Metrics)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"out.yaml", "out.ini"} {
		path := filepath.Join(t.TempDir(), "nested", name)
		cfg := Default()
		cfg.Evolution.PopulationSize = 321
		cfg.World.Thrust = 12
		cfg.Run.ArtifactsDir = "artifacts"
		if err := cfg.Save(path); err != nil {
			t.Fatalf("%s save: %v", name, err)
		}
		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("%s load: %v", name, err)
		}
		if *loaded != *cfg {
			t.Fatalf("%s round trip mismatch:\n got %+v\nwant %+v", name, loaded, cfg)
		}
	}
	if err := Default().Save(filepath.Join(t.TempDir(), "out.toml")); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for unknown format, got %v", err)
	}
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	if _, err := Load("config.json"); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Evolution.PopulationSize != 2000 {
		t.Fatalf("unexpected population: %d", cfg.Evolution.PopulationSize)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLAPEVO_LOG_LEVEL", "trace")
	t.Setenv("FLAPEVO_STORE", "sqlite")
	t.Setenv("FLAPEVO_DB_PATH", "/tmp/flapevo.db")
	t.Setenv("FLAPEVO_METRICS_ADDR", ":9200")
	t.Setenv("FLAPEVO_SEED", "77")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "trace" || cfg.Run.Store != "sqlite" || cfg.Run.DBPath != "/tmp/flapevo.db" {
		t.Errorf("env overrides not applied: %+v %+v", cfg.Logging, cfg.Run)
	}
	if cfg.Metrics.Addr != ":9200" || cfg.Evolution.Seed != 77 {
		t.Errorf("env overrides not applied: %+v seed=%d", cfg.Metrics, cfg.Evolution.Seed)
	}
}

func TestEnvSeedMustBeInteger(t *testing.T) {
	t.Setenv("FLAPEVO_SEED", "seven")
	if _, err := Load(""); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"population", func(c *Config) { c.Evolution.PopulationSize = 0 }},
		{"inputs", func(c *Config) { c.Evolution.Inputs = 4 }},
		{"hidden", func(c *Config) { c.Evolution.Hidden = 0 }},
		{"outputs", func(c *Config) { c.Evolution.Outputs = 0 }},
		{"mutation", func(c *Config) { c.Evolution.MutationRate = 1.5 }},
		{"selection", func(c *Config) { c.Evolution.Selection = "roulette" }},
		{"tournament", func(c *Config) { c.Evolution.TournamentSize = 0 }},
		{"threshold", func(c *Config) { c.Evolution.ActionThreshold = 1 }},
		{"weights", func(c *Config) { c.Evolution.WeightHigh = -2 }},
		{"timeouts", func(c *Config) { c.Evolution.TimeoutFloor = 0 }},
		{"activation", func(c *Config) { c.Evolution.Activation = "softmax" }},
		{"world", func(c *Config) { c.World.ScrollSpeed = 0 }},
		{"store", func(c *Config) { c.Run.Store = "postgres" }},
		{"sqlite path", func(c *Config) { c.Run.Store = "sqlite"; c.Run.DBPath = "" }},
		{"generations", func(c *Config) { c.Run.Generations = 0 }},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
