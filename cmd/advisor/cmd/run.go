package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/advisor/config"
	"github.com/rustyeddy/advisor/sched"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the advisor scheduler until interrupted",
	Long: `Run all background passes (evaluate, allocate, release, refresh) on
their configured intervals against the configured store and account driver.

Example:
  advisor run -f advisor.yaml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	app, err := buildApp(cfgPath)
	if err != nil {
		return err
	}
	defer app.Close()

	iv, err := intervals(app.cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Running advisor with config: %s\n", cfgPath)
	fmt.Printf("  Store: %s\n", app.cfg.Store.Backend)
	fmt.Printf("  Experts: %d\n", len(app.cfg.Experts))
	fmt.Println()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.sched.Run(ctx, iv)
	return nil
}

func intervals(cfg *config.Config) (sched.Intervals, error) {
	var iv sched.Intervals
	var err error

	if iv.Evaluate, err = config.Interval(cfg.Scheduler.EvaluateEvery, time.Minute); err != nil {
		return iv, fmt.Errorf("evaluate_every: %w", err)
	}
	if iv.Allocate, err = config.Interval(cfg.Scheduler.AllocateEvery, time.Minute); err != nil {
		return iv, fmt.Errorf("allocate_every: %w", err)
	}
	if iv.Release, err = config.Interval(cfg.Scheduler.ReleaseEvery, 15*time.Second); err != nil {
		return iv, fmt.Errorf("release_every: %w", err)
	}
	if iv.Refresh, err = config.Interval(cfg.Scheduler.RefreshEvery, 30*time.Second); err != nil {
		return iv, fmt.Errorf("refresh_every: %w", err)
	}
	return iv, nil
}
