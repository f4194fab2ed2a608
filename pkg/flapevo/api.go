// Package flapevo is the programmatic entry point used by flapevoctl: it
// runs experiments and answers queries about past runs.
package flapevo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"flapevo/internal/config"
	"flapevo/internal/evo"
	"flapevo/internal/logging"
	"flapevo/internal/metrics"
	"flapevo/internal/model"
	"flapevo/internal/scape"
	"flapevo/internal/stats"
	"flapevo/internal/storage"
)

// statusEvery is the tick interval between status samples sent to the
// metrics recorder.
const statusEvery = 100

var ErrRunNotFound = errors.New("run not found")

type Options struct {
	Config   *config.Config
	Logger   *slog.Logger
	Recorder *metrics.Recorder
}

// Client looks runs up in the configured store first and falls back to the
// artifacts directory, so a memory-backed CLI can still list earlier runs.
type Client struct {
	cfg      *config.Config
	store    storage.Store
	logger   *slog.Logger
	recorder *metrics.Recorder

	initialized bool
}

type RunRequest struct {
	RunID string
}

type RunSummary struct {
	Record       model.RunRecord               `json:"run"`
	Diagnostics  []model.GenerationDiagnostics `json:"generation_diagnostics"`
	Lineage      []model.LineageRecord         `json:"-"`
	ArtifactsDir string                        `json:"artifacts_dir,omitempty"`
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID          string    `json:"run_id"`
	CreatedAt      time.Time `json:"created_at"`
	Environment    string    `json:"environment"`
	PopulationSize int       `json:"population_size"`
	Generations    int       `json:"generations"`
	Seed           int64     `json:"seed"`
	ChampionScore  int       `json:"champion_score"`
	Status         string    `json:"status"`
}

// RunQuery selects one run by id, or the most recent one with Latest.
// Limit keeps only the first n entries when positive.
type RunQuery struct {
	RunID  string
	Latest bool
	Limit  int
}

func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	store, err := storage.NewStore(cfg.Run.Store, cfg.Run.DBPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		recorder: opts.Recorder,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) ensureStore(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Run evolves cfg.Run.Generations generations and persists whatever was
// completed. A cancelled context is not an error: the partial run is
// recorded with status cancelled.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	cfg := c.cfg
	if err := c.ensureStore(ctx); err != nil {
		return RunSummary{}, err
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	env, err := scape.NewSkyline(cfg.World)
	if err != nil {
		return RunSummary{}, err
	}
	selector, err := evo.SelectorFromName(cfg.Evolution.Selection, cfg.Evolution.TournamentSize)
	if err != nil {
		return RunSummary{}, err
	}
	var observers []evo.GenerationObserver
	if c.recorder != nil {
		observers = append(observers, c.recorder)
	}
	monitor, err := evo.NewPopulationMonitor(evo.MonitorConfig{
		Environment:     env,
		PopulationSize:  cfg.Evolution.PopulationSize,
		Topology:        cfg.Topology(),
		Activation:      cfg.Evolution.Activation,
		MutationRate:    cfg.Evolution.MutationRate,
		ActionThreshold: cfg.Evolution.ActionThreshold,
		WeightRange:     cfg.WeightRange(),
		InitialTimeout:  cfg.Evolution.InitialTimeout,
		TimeoutStep:     cfg.Evolution.TimeoutStep,
		TimeoutFloor:    cfg.Evolution.TimeoutFloor,
		Selector:        selector,
		Seed:            cfg.Evolution.Seed,
		Logger:          c.logger.With("run_id", runID),
		Observers:       observers,
	})
	if err != nil {
		return RunSummary{}, err
	}

	record := model.RunRecord{
		VersionedRecord:      storage.Versioned(),
		ID:                   runID,
		CreatedAt:            time.Now().UTC(),
		Environment:          env.Name(),
		Seed:                 cfg.Evolution.Seed,
		PopulationSize:       cfg.Evolution.PopulationSize,
		Topology:             cfg.Topology().String(),
		Activation:           cfg.Evolution.Activation,
		Selector:             selector.Name(),
		MutationRate:         cfg.Evolution.MutationRate,
		GenerationsRequested: cfg.Run.Generations,
		Status:               model.RunStatusCompleted,
	}

	runErr := c.evolve(ctx, monitor, cfg.Run.Generations)
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		record.Status = model.RunStatusCancelled
		c.logger.Info("run cancelled", "run_id", runID, "generation", monitor.Generation())
	default:
		record.Status = model.RunStatusFailed
		record.Error = runErr.Error()
	}

	summary := RunSummary{
		Diagnostics: toModelDiagnostics(monitor.History()),
		Lineage:     toModelLineage(monitor.Lineage()),
	}
	record.GenerationsCompleted = len(summary.Diagnostics)
	for _, d := range summary.Diagnostics {
		record.BestScore = max(record.BestScore, d.BestScore)
		record.BestFitness = max(record.BestFitness, d.BestFitness)
	}
	if champion := monitor.Champion(); champion != nil {
		record.ChampionScore = champion.Score
	}
	summary.Record = record

	// A cancelled run still gets recorded.
	persistCtx := context.WithoutCancel(ctx)
	if err := c.persist(persistCtx, summary); err != nil {
		return summary, err
	}
	if cfg.Run.ArtifactsDir != "" {
		runDir, err := c.writeArtifacts(summary)
		if err != nil {
			return summary, err
		}
		summary.ArtifactsDir = runDir
	}
	c.logger.Info("run finished",
		"run_id", runID,
		"status", record.Status,
		"generations", record.GenerationsCompleted,
		"champion_score", record.ChampionScore,
	)
	if record.Status == model.RunStatusFailed {
		return summary, fmt.Errorf("run %s failed: %w", runID, runErr)
	}
	return summary, nil
}

func (c *Client) evolve(ctx context.Context, monitor *evo.PopulationMonitor, generations int) error {
	var onTick evo.TickFunc
	if c.recorder != nil {
		onTick = func(tick int, turned bool) {
			if turned || tick%statusEvery == 0 {
				c.recorder.ObserveStatus(monitor.Status())
			}
		}
	}
	_, err := monitor.Run(ctx, generations, onTick)
	return err
}

func (c *Client) persist(ctx context.Context, summary RunSummary) error {
	runID := summary.Record.ID
	if err := c.store.SaveRun(ctx, summary.Record); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	if err := c.store.SaveGenerationDiagnostics(ctx, runID, summary.Diagnostics); err != nil {
		return fmt.Errorf("save diagnostics: %w", err)
	}
	if err := c.store.SaveFitnessHistory(ctx, runID, stats.BestFitnessSeries(summary.Diagnostics)); err != nil {
		return fmt.Errorf("save fitness history: %w", err)
	}
	if err := c.store.SaveLineage(ctx, runID, summary.Lineage); err != nil {
		return fmt.Errorf("save lineage: %w", err)
	}
	return nil
}

func (c *Client) writeArtifacts(summary RunSummary) (string, error) {
	cfg := c.cfg
	record := summary.Record
	runDir, err := stats.WriteRunArtifacts(cfg.Run.ArtifactsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:           record.ID,
			Environment:     record.Environment,
			PopulationSize:  record.PopulationSize,
			Generations:     record.GenerationsRequested,
			Seed:            record.Seed,
			Topology:        record.Topology,
			Activation:      record.Activation,
			Selection:       record.Selector,
			TournamentSize:  cfg.Evolution.TournamentSize,
			MutationRate:    record.MutationRate,
			ActionThreshold: cfg.Evolution.ActionThreshold,
			WeightLow:       cfg.Evolution.WeightLow,
			WeightHigh:      cfg.Evolution.WeightHigh,
			InitialTimeout:  cfg.Evolution.InitialTimeout,
			TimeoutStep:     cfg.Evolution.TimeoutStep,
			TimeoutFloor:    cfg.Evolution.TimeoutFloor,
			WorldWidth:      cfg.World.Width,
			WorldHeight:     cfg.World.Height,
			WorldSeed:       cfg.World.Seed,
		},
		BestByGeneration:      stats.BestFitnessSeries(summary.Diagnostics),
		GenerationDiagnostics: summary.Diagnostics,
		Lineage:               summary.Lineage,
		Summary:               stats.Summarize(summary.Diagnostics),
	})
	if err != nil {
		return "", fmt.Errorf("write artifacts: %w", err)
	}
	if err := stats.AppendRunIndex(cfg.Run.ArtifactsDir, stats.RunIndexEntry{
		RunID:          record.ID,
		Environment:    record.Environment,
		PopulationSize: record.PopulationSize,
		Generations:    record.GenerationsCompleted,
		Seed:           record.Seed,
		ChampionScore:  record.ChampionScore,
		Status:         record.Status,
		CreatedAtUTC:   record.CreatedAt.Format(time.RFC3339),
	}); err != nil {
		return "", fmt.Errorf("update run index: %w", err)
	}
	return runDir, nil
}

// Runs lists runs newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}

	var items []RunItem
	if len(runs) > 0 {
		items = make([]RunItem, 0, len(runs))
		for _, r := range runs {
			items = append(items, RunItem{
				RunID:          r.ID,
				CreatedAt:      r.CreatedAt,
				Environment:    r.Environment,
				PopulationSize: r.PopulationSize,
				Generations:    r.GenerationsCompleted,
				Seed:           r.Seed,
				ChampionScore:  r.ChampionScore,
				Status:         r.Status,
			})
		}
	} else if c.cfg.Run.ArtifactsDir != "" {
		items, err = c.indexedRuns()
		if err != nil {
			return nil, err
		}
	}
	if len(items) > req.Limit {
		items = items[:req.Limit]
	}
	return items, nil
}

func (c *Client) indexedRuns() ([]RunItem, error) {
	entries, err := stats.ListRunIndex(c.cfg.Run.ArtifactsDir)
	if err != nil {
		return nil, err
	}
	items := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		createdAt, err := time.Parse(time.RFC3339, e.CreatedAtUTC)
		if err != nil {
			return nil, fmt.Errorf("run %s: bad created_at_utc %q: %w", e.RunID, e.CreatedAtUTC, err)
		}
		items = append(items, RunItem{
			RunID:          e.RunID,
			CreatedAt:      createdAt,
			Environment:    e.Environment,
			PopulationSize: e.PopulationSize,
			Generations:    e.Generations,
			Seed:           e.Seed,
			ChampionScore:  e.ChampionScore,
			Status:         e.Status,
		})
	}
	return items, nil
}

func (c *Client) Diagnostics(ctx context.Context, req RunQuery) ([]model.GenerationDiagnostics, error) {
	return lookup(ctx, c, req, "diagnostics", c.store.GetGenerationDiagnostics, stats.ReadGenerationDiagnostics)
}

func (c *Client) FitnessHistory(ctx context.Context, req RunQuery) ([]float64, error) {
	return lookup(ctx, c, req, "fitness history", c.store.GetFitnessHistory, stats.ReadFitnessHistory)
}

// ScoreHistory returns the best raw score of each generation.
func (c *Client) ScoreHistory(ctx context.Context, req RunQuery) ([]int, error) {
	return lookup(ctx, c, req, "score history", c.storedScores, stats.ReadBestScoreSeries)
}

func (c *Client) storedScores(ctx context.Context, runID string) ([]int, bool, error) {
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil || !ok {
		return nil, ok, err
	}
	scores := make([]int, 0, len(diagnostics))
	for _, d := range diagnostics {
		scores = append(scores, d.BestScore)
	}
	return scores, true, nil
}

// RunConfig returns the experiment settings a run was started with. They
// live only in the run's artifacts.
func (c *Client) RunConfig(ctx context.Context, req RunQuery) (stats.RunConfig, error) {
	if c.cfg.Run.ArtifactsDir == "" {
		return stats.RunConfig{}, errors.New("run config requires an artifacts directory")
	}
	runID, err := c.resolveRunID(ctx, req)
	if err != nil {
		return stats.RunConfig{}, err
	}
	cfg, ok, err := stats.ReadRunConfig(c.cfg.Run.ArtifactsDir, runID)
	if err != nil {
		return stats.RunConfig{}, err
	}
	if !ok {
		return stats.RunConfig{}, fmt.Errorf("%w: no config for run id %s", ErrRunNotFound, runID)
	}
	return cfg, nil
}

func (c *Client) Lineage(ctx context.Context, req RunQuery) ([]model.LineageRecord, error) {
	return lookup(ctx, c, req, "lineage", c.store.GetLineage, stats.ReadLineage)
}

func lookup[T any](
	ctx context.Context,
	c *Client,
	req RunQuery,
	what string,
	fromStore func(context.Context, string) ([]T, bool, error),
	fromArtifacts func(string, string) ([]T, bool, error),
) ([]T, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(ctx, req)
	if err != nil {
		return nil, err
	}

	values, ok, err := fromStore(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok && c.cfg.Run.ArtifactsDir != "" {
		values, ok, err = fromArtifacts(c.cfg.Run.ArtifactsDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: no %s for run id %s", ErrRunNotFound, what, runID)
	}
	if req.Limit > 0 && len(values) > req.Limit {
		values = values[:req.Limit]
	}
	return append([]T(nil), values...), nil
}

func (c *Client) resolveRunID(ctx context.Context, req RunQuery) (string, error) {
	if req.RunID != "" && req.Latest {
		return "", errors.New("use either run id or latest")
	}
	if err := c.ensureStore(ctx); err != nil {
		return "", err
	}
	if !req.Latest {
		if req.RunID == "" {
			return "", errors.New("run id or latest is required")
		}
		return req.RunID, nil
	}
	runs, err := c.Runs(ctx, RunsRequest{Limit: 1})
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("%w: no runs available", ErrRunNotFound)
	}
	return runs[0].RunID, nil
}

func toModelDiagnostics(in []evo.GenerationDiagnostics) []model.GenerationDiagnostics {
	out := make([]model.GenerationDiagnostics, 0, len(in))
	for _, d := range in {
		out = append(out, model.GenerationDiagnostics(d))
	}
	return out
}

func toModelLineage(in []evo.LineageRecord) []model.LineageRecord {
	out := make([]model.LineageRecord, 0, len(in))
	for _, l := range in {
		out = append(out, model.LineageRecord{
			VersionedRecord: storage.Versioned(),
			Slot:            l.Slot,
			Generation:      l.Generation,
			ParentA:         l.ParentA,
			ParentB:         l.ParentB,
			Split:           l.Split,
			Operation:       l.Operation,
		})
	}
	return out
}
