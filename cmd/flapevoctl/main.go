package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"flapevo/internal/config"
	"flapevo/internal/logging"
	"flapevo/pkg/flapevo"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

// app carries the state resolved by the root command's persistent flags.
type app struct {
	configPath string
	logLevel   string
	jsonOut    bool

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "flapevoctl",
		Short: "Neuroevolution of flappy agents on a headless obstacle course",
		Long: `flapevoctl evolves a population of small feedforward networks that
learn to fly through scrolling gaps, and keeps per-generation statistics
for every run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (.yaml, .yml or .ini)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: info, debug or trace")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(a),
		newInitCmd(a),
		newRunCmd(a),
		newRunsCmd(a),
		newDiagnosticsCmd(a),
		newFitnessCmd(a),
		newLineageCmd(a),
		newInspectCmd(a),
	)
	return rootCmd
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg
	a.logger = logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
	return nil
}

func (a *app) client() (*flapevo.Client, error) {
	return flapevo.New(flapevo.Options{Config: a.cfg, Logger: a.logger})
}
