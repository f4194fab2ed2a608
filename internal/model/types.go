package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

const (
	RunStatusCompleted = "completed"
	RunStatusCancelled = "cancelled"
	RunStatusFailed    = "failed"
)

// RunRecord summarises one evolution run. Networks are not persisted.
type RunRecord struct {
	VersionedRecord
	ID                   string    `json:"id"`
	CreatedAt            time.Time `json:"created_at"`
	Environment          string    `json:"environment"`
	Seed                 int64     `json:"seed"`
	PopulationSize       int       `json:"population_size"`
	Topology             string    `json:"topology"`
	Activation           string    `json:"activation"`
	Selector             string    `json:"selector"`
	MutationRate         float64   `json:"mutation_rate"`
	GenerationsRequested int       `json:"generations_requested"`
	GenerationsCompleted int       `json:"generations_completed"`
	BestScore            int       `json:"best_score"`
	BestFitness          float64   `json:"best_fitness"`
	ChampionScore        int       `json:"champion_score"`
	Status               string    `json:"status"`
	Error                string    `json:"error,omitempty"`
}

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

// LineageRecord describes how one slot of the final generation was bred.
type LineageRecord struct {
	VersionedRecord
	Slot       int    `json:"slot"`
	Generation int    `json:"generation"`
	ParentA    int    `json:"parent_a"`
	ParentB    int    `json:"parent_b"`
	Split      int    `json:"split"`
	Operation  string `json:"operation"`
}
