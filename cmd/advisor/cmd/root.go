package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "advisor",
	Short: "Rule-driven trade advisor for expert recommendations",
	Long: `Advisor turns expert recommendations into sized, sequenced orders.

It provides tools for:
  - Evaluating condition/action rulesets against incoming recommendations
  - Allocating virtual capital across pending entries with per-instrument caps
  - Sequencing dependent take-profit / stop-loss orders through trigger states
  - Running the full pipeline against a simulated account driver`,
}

var cfgPath string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "f", "advisor.yaml", "path to config file (YAML or JSON)")
}
