// Package metrics exposes evolution progress as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flapevo/internal/evo"
)

// Recorder owns a private registry so several runs in one process (and
// tests) never collide on the default registerer.
type Recorder struct {
	registry *prometheus.Registry

	generations      *prometheus.CounterVec
	offspring        prometheus.Counter
	generation       prometheus.Gauge
	bestScore        prometheus.Gauge
	bestFitness      prometheus.Gauge
	meanFitness      prometheus.Gauge
	championScore    prometheus.Gauge
	maxSurvivalTicks prometheus.Gauge
	alive            prometheus.Gauge
	ticks            prometheus.Gauge
	timeoutRemaining prometheus.Gauge
}

func NewRecorder(namespace string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generation turnovers, by trigger.",
		}, []string{"trigger"}),
		offspring: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offspring_bred_total",
			Help:      "Agents produced by crossover and mutation.",
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation",
			Help:      "Current generation number.",
		}),
		bestScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_score",
			Help:      "Best score of the last evaluated generation.",
		}),
		bestFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_fitness",
			Help:      "Best normalized fitness of the last evaluated generation.",
		}),
		meanFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mean_fitness",
			Help:      "Mean normalized fitness of the last evaluated generation.",
		}),
		championScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "champion_score",
			Help:      "Score of the all-time champion.",
		}),
		maxSurvivalTicks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_survival_ticks",
			Help:      "Longest survival in the last evaluated generation.",
		}),
		alive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_alive",
			Help:      "Agents still alive in the current generation.",
		}),
		ticks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation_ticks",
			Help:      "Ticks evaluated in the current generation.",
		}),
		timeoutRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "timeout_remaining_ticks",
			Help:      "Ticks left before the current generation times out.",
		}),
	}
	r.registry.MustRegister(
		r.generations,
		r.offspring,
		r.generation,
		r.bestScore,
		r.bestFitness,
		r.meanFitness,
		r.championScore,
		r.maxSurvivalTicks,
		r.alive,
		r.ticks,
		r.timeoutRemaining,
	)
	return r
}

// ObserveGeneration implements evo.GenerationObserver.
func (r *Recorder) ObserveGeneration(d evo.GenerationDiagnostics) {
	r.generations.WithLabelValues(d.Trigger).Inc()
	r.offspring.Add(float64(d.Offspring))
	r.generation.Set(float64(d.Generation + 1))
	r.bestScore.Set(float64(d.BestScore))
	r.bestFitness.Set(d.BestFitness)
	r.meanFitness.Set(d.MeanFitness)
	r.championScore.Set(float64(d.ChampionScore))
	r.maxSurvivalTicks.Set(float64(d.MaxSurvivalTicks))
}

// ObserveStatus records the per-tick view; callers sample it at whatever
// cadence suits them.
func (r *Recorder) ObserveStatus(s evo.Status) {
	r.generation.Set(float64(s.Generation))
	r.alive.Set(float64(s.Alive))
	r.ticks.Set(float64(s.Ticks))
	r.timeoutRemaining.Set(float64(s.TimeoutRemaining))
	r.championScore.Set(float64(s.ChampionScore))
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
