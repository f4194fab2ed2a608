package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"flapevo/internal/model"
)

const runIndexFile = "run_index.json"

type RunConfig struct {
	RunID           string  `json:"run_id"`
	Environment     string  `json:"environment"`
	PopulationSize  int     `json:"population_size"`
	Generations     int     `json:"generations"`
	Seed            int64   `json:"seed"`
	Topology        string  `json:"topology"`
	Activation      string  `json:"activation"`
	Selection       string  `json:"selection"`
	TournamentSize  int     `json:"tournament_size"`
	MutationRate    float64 `json:"mutation_rate"`
	ActionThreshold float64 `json:"action_threshold"`
	WeightLow       float64 `json:"weight_low"`
	WeightHigh      float64 `json:"weight_high"`
	InitialTimeout  int     `json:"initial_timeout"`
	TimeoutStep     int     `json:"timeout_step"`
	TimeoutFloor    int     `json:"timeout_floor"`
	WorldWidth      float64 `json:"world_width"`
	WorldHeight     float64 `json:"world_height"`
	WorldSeed       int64   `json:"world_seed"`
}

type RunArtifacts struct {
	Config                RunConfig                     `json:"config"`
	BestByGeneration      []float64                     `json:"best_by_generation"`
	GenerationDiagnostics []model.GenerationDiagnostics `json:"generation_diagnostics,omitempty"`
	Lineage               []model.LineageRecord         `json:"lineage,omitempty"`
	Summary               RunSummary                    `json:"summary"`
}

type RunIndexEntry struct {
	RunID          string `json:"run_id"`
	Environment    string `json:"environment"`
	PopulationSize int    `json:"population_size"`
	Generations    int    `json:"generations"`
	Seed           int64  `json:"seed"`
	ChampionScore  int    `json:"champion_score"`
	Status         string `json:"status"`
	CreatedAtUTC   string `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := WriteRunConfig(baseDir, artifacts.Config.RunID, artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "fitness_history.json"), map[string]any{"best_by_generation": artifacts.BestByGeneration}); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "generation_diagnostics.json"), artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "lineage.json"), artifacts.Lineage); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "summary.json"), artifacts.Summary); err != nil {
		return "", err
	}
	if err := WriteGenerationSeries(runDir, artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}
	if len(artifacts.GenerationDiagnostics) > 0 {
		title := fmt.Sprintf("%s %s", artifacts.Config.Environment, artifacts.Config.RunID)
		if err := PlotScores(artifacts.GenerationDiagnostics, title, filepath.Join(runDir, scorePlotFile)); err != nil {
			return "", fmt.Errorf("plot scores: %w", err)
		}
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first. Entries sharing a timestamp
// keep the most recently appended one first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	return cfg, ok, err
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

func ReadGenerationDiagnostics(baseDir, runID string) ([]model.GenerationDiagnostics, bool, error) {
	var diagnostics []model.GenerationDiagnostics
	ok, err := readJSON(filepath.Join(baseDir, runID, "generation_diagnostics.json"), &diagnostics)
	return diagnostics, ok, err
}

func ReadFitnessHistory(baseDir, runID string) ([]float64, bool, error) {
	var payload struct {
		BestByGeneration []float64 `json:"best_by_generation"`
	}
	ok, err := readJSON(filepath.Join(baseDir, runID, "fitness_history.json"), &payload)
	return payload.BestByGeneration, ok, err
}

func ReadLineage(baseDir, runID string) ([]model.LineageRecord, bool, error) {
	var lineage []model.LineageRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, "lineage.json"), &lineage)
	return lineage, ok, err
}

func ReadRunSummary(baseDir, runID string) (RunSummary, bool, error) {
	var summary RunSummary
	ok, err := readJSON(filepath.Join(baseDir, runID, "summary.json"), &summary)
	return summary, ok, err
}

// WriteGenerationSeries writes generation_series.csv with one row per
// turnover for spreadsheet plotting.
func WriteGenerationSeries(runDir string, diagnostics []model.GenerationDiagnostics) error {
	path := filepath.Join(runDir, "generation_series.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "trigger", "ticks", "best_score", "mean_score", "best_fitness", "champion_score"}); err != nil {
		return err
	}
	for _, d := range diagnostics {
		if err := writer.Write([]string{
			strconv.Itoa(d.Generation),
			d.Trigger,
			strconv.Itoa(d.Ticks),
			strconv.Itoa(d.BestScore),
			strconv.FormatFloat(d.MeanScore, 'f', -1, 64),
			strconv.FormatFloat(d.BestFitness, 'f', -1, 64),
			strconv.Itoa(d.ChampionScore),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadBestScoreSeries reads the best_score column back from
// generation_series.csv.
func ReadBestScoreSeries(baseDir, runID string) ([]int, bool, error) {
	path := filepath.Join(baseDir, runID, "generation_series.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []int{}, true, nil
		}
		return nil, false, err
	}
	column := -1
	for i, name := range header {
		if name == "best_score" {
			column = i
		}
	}
	if column < 0 {
		return nil, false, fmt.Errorf("generation series has no best_score column")
	}

	series := make([]int, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		value, err := strconv.Atoi(record[column])
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}
