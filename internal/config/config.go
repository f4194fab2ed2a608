// Package config loads flapevo run configuration from YAML or INI files,
// layered over built-in defaults and FLAPEVO_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"flapevo/internal/matrix"
	"flapevo/internal/nn"
	"flapevo/internal/scape"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Evolution EvolutionConfig     `json:"evolution" yaml:"evolution"`
	World     scape.SkylineConfig `json:"world" yaml:"world"`
	Run       RunConfig           `json:"run" yaml:"run"`
	Logging   LoggingConfig       `json:"logging" yaml:"logging"`
	Metrics   MetricsConfig       `json:"metrics" yaml:"metrics"`
}

type EvolutionConfig struct {
	PopulationSize  int     `json:"population_size" yaml:"population_size" ini:"population_size"`
	Inputs          int     `json:"inputs" yaml:"inputs" ini:"inputs"`
	Hidden          int     `json:"hidden" yaml:"hidden" ini:"hidden"`
	Outputs         int     `json:"outputs" yaml:"outputs" ini:"outputs"`
	Activation      string  `json:"activation" yaml:"activation" ini:"activation"`
	MutationRate    float64 `json:"mutation_rate" yaml:"mutation_rate" ini:"mutation_rate"`
	Selection       string  `json:"selection" yaml:"selection" ini:"selection"`
	TournamentSize  int     `json:"tournament_size" yaml:"tournament_size" ini:"tournament_size"`
	ActionThreshold float64 `json:"action_threshold" yaml:"action_threshold" ini:"action_threshold"`
	WeightLow       float64 `json:"weight_low" yaml:"weight_low" ini:"weight_low"`
	WeightHigh      float64 `json:"weight_high" yaml:"weight_high" ini:"weight_high"`
	InitialTimeout  int     `json:"initial_timeout" yaml:"initial_timeout" ini:"initial_timeout"`
	TimeoutStep     int     `json:"timeout_step" yaml:"timeout_step" ini:"timeout_step"`
	TimeoutFloor    int     `json:"timeout_floor" yaml:"timeout_floor" ini:"timeout_floor"`
	Seed            int64   `json:"seed" yaml:"seed" ini:"seed"`
}

type RunConfig struct {
	Generations  int    `json:"generations" yaml:"generations" ini:"generations"`
	Store        string `json:"store" yaml:"store" ini:"store"`
	DBPath       string `json:"db_path" yaml:"db_path" ini:"db_path"`
	ArtifactsDir string `json:"artifacts_dir" yaml:"artifacts_dir" ini:"artifacts_dir"`
}

type LoggingConfig struct {
	Level string `json:"level" yaml:"level" ini:"level"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint.
	Addr      string `json:"addr" yaml:"addr" ini:"addr"`
	Namespace string `json:"namespace" yaml:"namespace" ini:"namespace"`
}

// Default returns the stock experiment: 2000 agents on a 600x600 course.
func Default() *Config {
	return &Config{
		Evolution: EvolutionConfig{
			PopulationSize:  2000,
			Inputs:          scape.SkylineSensorCount,
			Hidden:          8,
			Outputs:         1,
			Activation:      nn.DefaultActivation,
			MutationRate:    0.2,
			Selection:       "tournament",
			TournamentSize:  5,
			ActionThreshold: 0.5,
			WeightLow:       matrix.DefaultRange.Low,
			WeightHigh:      matrix.DefaultRange.High,
			InitialTimeout:  1000,
			TimeoutStep:     500,
			TimeoutFloor:    3000,
			Seed:            1,
		},
		World: scape.DefaultSkylineConfig(),
		Run: RunConfig{
			Generations:  10,
			Store:        "memory",
			ArtifactsDir: "flapevo_runs",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Namespace: "flapevo",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path loads defaults only. The format is
// chosen by extension: .yaml/.yml or .ini.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		cfg, err = LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFromFile(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadYAML(path)
	case ".ini":
		return loadINI(path)
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, filepath.Ext(path))
	}
}

func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

func loadINI(path string) (*Config, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:         true,
		UnescapeValueCommentSymbols: true,
	}, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%s': %w", path, err)
	}

	cfg := Default()
	for _, section := range cfg.sections() {
		if !file.HasSection(section.name) {
			continue
		}
		if err := file.Section(section.name).MapTo(section.value); err != nil {
			return nil, fmt.Errorf("failed to map [%s] section: %w", section.name, err)
		}
	}
	return cfg, nil
}

// Save writes the configuration as YAML or INI according to path's extension.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := yaml.Marshal(c)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	case ".ini":
		file := ini.Empty()
		for _, section := range c.sections() {
			if err := file.Section(section.name).ReflectFrom(section.value); err != nil {
				return fmt.Errorf("failed to write [%s] section: %w", section.name, err)
			}
		}
		return file.SaveTo(path)
	default:
		return fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, filepath.Ext(path))
	}
}

type section struct {
	name  string
	value any
}

func (c *Config) sections() []section {
	return []section{
		{"evolution", &c.Evolution},
		{"world", &c.World},
		{"run", &c.Run},
		{"logging", &c.Logging},
		{"metrics", &c.Metrics},
	}
}

// Validate checks that the configuration describes a runnable experiment.
func (c *Config) Validate() error {
	e := c.Evolution
	switch {
	case e.PopulationSize <= 0:
		return invalid("population_size must be > 0, got %d", e.PopulationSize)
	case e.Inputs != scape.SkylineSensorCount:
		return invalid("inputs must equal the sensor count %d, got %d", scape.SkylineSensorCount, e.Inputs)
	case e.Hidden <= 0:
		return invalid("hidden must be > 0, got %d", e.Hidden)
	case e.Outputs <= 0:
		return invalid("outputs must be > 0, got %d", e.Outputs)
	case e.MutationRate < 0 || e.MutationRate > 1:
		return invalid("mutation_rate must be between 0 and 1, got %f", e.MutationRate)
	case e.Selection != "tournament" && e.Selection != "random":
		return invalid("selection must be tournament or random, got %q", e.Selection)
	case e.TournamentSize <= 0:
		return invalid("tournament_size must be > 0, got %d", e.TournamentSize)
	case e.ActionThreshold <= 0 || e.ActionThreshold >= 1:
		return invalid("action_threshold must be in (0, 1), got %f", e.ActionThreshold)
	case e.WeightHigh <= e.WeightLow:
		return invalid("weight_high must exceed weight_low, got [%f, %f)", e.WeightLow, e.WeightHigh)
	case e.InitialTimeout <= 0 || e.TimeoutStep <= 0 || e.TimeoutFloor <= 0:
		return invalid("timeouts must be > 0")
	}
	if _, err := nn.GetActivation(e.Activation); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.World.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch c.Run.Store {
	case "", "memory":
	case "sqlite":
		if c.Run.DBPath == "" {
			return invalid("run.db_path is required for the sqlite store")
		}
	default:
		return invalid("unsupported store %q (valid: memory, sqlite)", c.Run.Store)
	}
	if c.Run.Generations <= 0 {
		return invalid("generations must be > 0, got %d", c.Run.Generations)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return invalid("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}
	return nil
}

func (c *Config) Topology() nn.Topology {
	return nn.Topology{Inputs: c.Evolution.Inputs, Hidden: c.Evolution.Hidden, Outputs: c.Evolution.Outputs}
}

func (c *Config) WeightRange() matrix.Range {
	return matrix.Range{Low: c.Evolution.WeightLow, High: c.Evolution.WeightHigh}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("FLAPEVO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FLAPEVO_STORE"); v != "" {
		cfg.Run.Store = v
	}
	if v := os.Getenv("FLAPEVO_DB_PATH"); v != "" {
		cfg.Run.DBPath = v
	}
	if v := os.Getenv("FLAPEVO_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("FLAPEVO_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return invalid("FLAPEVO_SEED must be an integer, got %q", v)
		}
		cfg.Evolution.Seed = n
	}
	return nil
}
