package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"flapevo/pkg/flapevo"
)

// addRunQueryFlags wires the run id argument and the --latest/--limit flags
// shared by the per-run query commands.
func addRunQueryFlags(cmd *cobra.Command, query *flapevo.RunQuery) {
	cmd.Args = cobra.MaximumNArgs(1)
	cmd.Flags().BoolVar(&query.Latest, "latest", false, "Use the most recent run")
	cmd.Flags().IntVar(&query.Limit, "limit", 0, "Print only the first n entries (0 for all)")
}

func runIDArg(query flapevo.RunQuery, args []string) flapevo.RunQuery {
	if len(args) == 1 {
		query.RunID = args[0]
	}
	return query
}

func newDiagnosticsCmd(a *app) *cobra.Command {
	var query flapevo.RunQuery
	cmd := &cobra.Command{
		Use:   "diagnostics [run-id]",
		Short: "Print per-generation statistics of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			diagnostics, err := client.Diagnostics(cmd.Context(), runIDArg(query, args))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOut {
				return encodeJSON(out, diagnostics)
			}
			if len(diagnostics) == 0 {
				fmt.Fprintln(out, "no diagnostics")
				return nil
			}
			for _, d := range diagnostics {
				fmt.Fprintf(out, "generation=%d trigger=%s ticks=%d best_score=%d mean_score=%.3f best_fitness=%.6f mean_fitness=%.6f min_fitness=%.6f max_survival=%d champion_score=%d\n",
					d.Generation,
					d.Trigger,
					d.Ticks,
					d.BestScore,
					d.MeanScore,
					d.BestFitness,
					d.MeanFitness,
					d.MinFitness,
					d.MaxSurvivalTicks,
					d.ChampionScore,
				)
			}
			return nil
		},
	}
	addRunQueryFlags(cmd, &query)
	return cmd
}

func newFitnessCmd(a *app) *cobra.Command {
	var (
		query flapevo.RunQuery
		score bool
	)
	cmd := &cobra.Command{
		Use:   "fitness [run-id]",
		Short: "Print the best fitness of each generation of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			out := cmd.OutOrStdout()
			if score {
				scores, err := client.ScoreHistory(cmd.Context(), runIDArg(query, args))
				if err != nil {
					return err
				}
				if a.jsonOut {
					return encodeJSON(out, scores)
				}
				for i, best := range scores {
					fmt.Fprintf(out, "generation=%d best_score=%d\n", i+1, best)
				}
				return nil
			}

			history, err := client.FitnessHistory(cmd.Context(), runIDArg(query, args))
			if err != nil {
				return err
			}
			if a.jsonOut {
				return encodeJSON(out, history)
			}
			for i, best := range history {
				fmt.Fprintf(out, "generation=%d best_fitness=%.6f\n", i+1, best)
			}
			return nil
		},
	}
	addRunQueryFlags(cmd, &query)
	cmd.Flags().BoolVar(&score, "score", false, "Print the best raw score instead of fitness")
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	var query flapevo.RunQuery
	cmd := &cobra.Command{
		Use:   "inspect [run-id]",
		Short: "Print the settings a run was started with",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			rc, err := client.RunConfig(cmd.Context(), runIDArg(query, args))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOut {
				return encodeJSON(out, rc)
			}
			fmt.Fprintf(out, "run_id=%s environment=%s world=%gx%g world_seed=%d\n",
				rc.RunID, rc.Environment, rc.WorldWidth, rc.WorldHeight, rc.WorldSeed)
			fmt.Fprintf(out, "population=%d generations=%d seed=%d topology=%s activation=%s\n",
				rc.PopulationSize, rc.Generations, rc.Seed, rc.Topology, rc.Activation)
			fmt.Fprintf(out, "selection=%s tournament_size=%d mutation_rate=%g action_threshold=%g weights=[%g, %g)\n",
				rc.Selection, rc.TournamentSize, rc.MutationRate, rc.ActionThreshold, rc.WeightLow, rc.WeightHigh)
			fmt.Fprintf(out, "timeout=%d step=%d floor=%d\n", rc.InitialTimeout, rc.TimeoutStep, rc.TimeoutFloor)
			return nil
		},
	}
	cmd.Args = cobra.MaximumNArgs(1)
	cmd.Flags().BoolVar(&query.Latest, "latest", false, "Use the most recent run")
	return cmd
}

func newLineageCmd(a *app) *cobra.Command {
	var query flapevo.RunQuery
	cmd := &cobra.Command{
		Use:   "lineage [run-id]",
		Short: "Print how each slot of a run's final generation was bred",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			lineage, err := client.Lineage(cmd.Context(), runIDArg(query, args))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOut {
				return encodeJSON(out, lineage)
			}
			for _, l := range lineage {
				fmt.Fprintf(out, "slot=%d generation=%d operation=%s parent_a=%d parent_b=%d split=%d\n",
					l.Slot, l.Generation, l.Operation, l.ParentA, l.ParentB, l.Split)
			}
			return nil
		},
	}
	addRunQueryFlags(cmd, &query)
	return cmd
}

func encodeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
