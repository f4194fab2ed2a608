package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"flapevo/pkg/flapevo"
)

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			items, err := client.Runs(cmd.Context(), flapevo.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOut {
				return encodeJSON(out, items)
			}
			if len(items) == 0 {
				fmt.Fprintln(out, "no runs found")
				return nil
			}
			return printRuns(out, items, time.Now())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Max runs to list")
	return cmd
}

func printRuns(w io.Writer, items []flapevo.RunItem, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tCREATED\tENV\tPOPULATION\tGENERATIONS\tCHAMPION\tSTATUS")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			item.RunID,
			humanize.RelTime(item.CreatedAt, now, "ago", "from now"),
			item.Environment,
			humanize.Comma(int64(item.PopulationSize)),
			item.Generations,
			item.ChampionScore,
			item.Status,
		)
	}
	return tw.Flush()
}
