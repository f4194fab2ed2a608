package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"flapevo/internal/config"
	"flapevo/internal/metrics"
	"flapevo/pkg/flapevo"
)

func newRunCmd(a *app) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evolve a population for a number of generations",
		Long: `Evolve a population on the skyline course. Flags override the config
file. Generation statistics go to the configured store and, unless
--artifacts-dir is empty, to JSON/CSV artifacts with a run index entry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			recorder := metrics.NewRecorder(cfg.Metrics.Namespace)
			if cfg.Metrics.Addr != "" {
				shutdown, err := serveMetrics(cfg.Metrics.Addr, recorder, a.logger)
				if err != nil {
					return err
				}
				defer shutdown()
			}

			client, err := flapevo.New(flapevo.Options{Config: cfg, Logger: a.logger, Recorder: recorder})
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			summary, err := client.Run(ctx, flapevo.RunRequest{RunID: runID})
			if err != nil {
				return err
			}
			return printRunSummary(cmd, a.jsonOut, summary)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&runID, "run-id", "", "Run id (random UUID when empty)")
	flags.Int("population", 0, "Population size")
	flags.Int("generations", 0, "Generations to evolve")
	flags.Int64("seed", 0, "Evolution seed")
	flags.Int64("world-seed", 0, "Obstacle layout seed")
	flags.Float64("mutation-rate", 0, "Per-weight mutation probability")
	flags.String("selection", "", "Parent selection: tournament or random")
	flags.String("store", "", "Store backend: memory or sqlite")
	flags.String("db-path", "", "SQLite database path")
	flags.String("artifacts-dir", "", "Directory for run artifacts (empty string disables)")
	flags.String("metrics-addr", "", "Serve Prometheus /metrics on this address")
	return cmd
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("population") {
		cfg.Evolution.PopulationSize, err = flags.GetInt("population")
	}
	if err == nil && flags.Changed("generations") {
		cfg.Run.Generations, err = flags.GetInt("generations")
	}
	if err == nil && flags.Changed("seed") {
		cfg.Evolution.Seed, err = flags.GetInt64("seed")
	}
	if err == nil && flags.Changed("world-seed") {
		cfg.World.Seed, err = flags.GetInt64("world-seed")
	}
	if err == nil && flags.Changed("mutation-rate") {
		cfg.Evolution.MutationRate, err = flags.GetFloat64("mutation-rate")
	}
	if err == nil && flags.Changed("selection") {
		cfg.Evolution.Selection, err = flags.GetString("selection")
	}
	if err == nil && flags.Changed("store") {
		cfg.Run.Store, err = flags.GetString("store")
	}
	if err == nil && flags.Changed("db-path") {
		cfg.Run.DBPath, err = flags.GetString("db-path")
	}
	if err == nil && flags.Changed("artifacts-dir") {
		cfg.Run.ArtifactsDir, err = flags.GetString("artifacts-dir")
	}
	if err == nil && flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, err = flags.GetString("metrics-addr")
	}
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func serveMetrics(addr string, recorder *metrics.Recorder, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func printRunSummary(cmd *cobra.Command, jsonOut bool, summary flapevo.RunSummary) error {
	out := cmd.OutOrStdout()
	if jsonOut {
		return encodeJSON(out, summary)
	}
	r := summary.Record
	fmt.Fprintf(out, "run_id=%s status=%s generations=%d/%d best_score=%d best_fitness=%.6f champion_score=%d\n",
		r.ID, r.Status, r.GenerationsCompleted, r.GenerationsRequested, r.BestScore, r.BestFitness, r.ChampionScore)
	if summary.ArtifactsDir != "" {
		fmt.Fprintf(out, "artifacts=%s\n", summary.ArtifactsDir)
	}
	return nil
}
