package stats

import (
	"flapevo/internal/model"
	"flapevo/internal/nn"
)

// RunSummary condenses a run's generation diagnostics.
type RunSummary struct {
	Generations      int     `json:"generations"`
	InitialBestScore int     `json:"initial_best_score"`
	FinalBestScore   int     `json:"final_best_score"`
	BestScoreMax     int     `json:"best_score_max"`
	BestScoreMean    float64 `json:"best_score_mean"`
	BestScoreStd     float64 `json:"best_score_std"`
	MeanTicks        float64 `json:"mean_ticks"`
	ChampionScore    int     `json:"champion_score"`
	Improvement      int     `json:"improvement"`
	Extinctions      int     `json:"extinctions"`
	Timeouts         int     `json:"timeouts"`
}

func Summarize(diagnostics []model.GenerationDiagnostics) RunSummary {
	if len(diagnostics) == 0 {
		return RunSummary{}
	}
	first := diagnostics[0]
	last := diagnostics[len(diagnostics)-1]
	summary := RunSummary{
		Generations:      len(diagnostics),
		InitialBestScore: first.BestScore,
		FinalBestScore:   last.BestScore,
		ChampionScore:    last.ChampionScore,
		Improvement:      last.BestScore - first.BestScore,
	}

	scores := make([]float64, 0, len(diagnostics))
	ticks := make([]float64, 0, len(diagnostics))
	for _, d := range diagnostics {
		scores = append(scores, float64(d.BestScore))
		ticks = append(ticks, float64(d.Ticks))
		if d.BestScore > summary.BestScoreMax {
			summary.BestScoreMax = d.BestScore
		}
		switch d.Trigger {
		case "extinction":
			summary.Extinctions++
		case "timeout":
			summary.Timeouts++
		}
	}
	summary.BestScoreMean, _ = nn.Avg(scores)
	summary.BestScoreStd, _ = nn.Std(scores)
	summary.MeanTicks, _ = nn.Avg(ticks)
	return summary
}

// BestFitnessSeries extracts the per-generation best fitness.
func BestFitnessSeries(diagnostics []model.GenerationDiagnostics) []float64 {
	series := make([]float64, 0, len(diagnostics))
	for _, d := range diagnostics {
		series = append(series, d.BestFitness)
	}
	return series
}
