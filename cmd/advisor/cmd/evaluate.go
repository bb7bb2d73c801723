package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one rule-evaluation pass over unprocessed recommendations",
	Long: `Evaluate every expert's ruleset against its unprocessed
recommendations, execute the resulting intents, and exit.

Example:
  advisor evaluate -f advisor.yaml`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	app, err := buildApp(cfgPath)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.sched.Evaluate(cmd.Context()); err != nil {
		return fmt.Errorf("evaluate pass: %w", err)
	}
	fmt.Println("✓ Evaluation pass complete")
	return nil
}
