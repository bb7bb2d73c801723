package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Run one capital-allocation pass over pending entries",
	Long: `Size every expert's pending unsized orders, delete the unfunded
ones, and exit. Optionally releases sized orders to the broker afterward.

Example:
  advisor allocate -f advisor.yaml --release`,
	RunE: runAllocate,
}

var allocateRelease bool

func init() {
	rootCmd.AddCommand(allocateCmd)
	allocateCmd.Flags().BoolVar(&allocateRelease, "release", false, "submit sized orders to the broker after allocating")
}

func runAllocate(cmd *cobra.Command, args []string) error {
	app, err := buildApp(cfgPath)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.sched.Allocate(cmd.Context()); err != nil {
		return fmt.Errorf("allocate pass: %w", err)
	}
	fmt.Println("✓ Allocation pass complete")

	if allocateRelease {
		if err := app.sched.Release(cmd.Context()); err != nil {
			return fmt.Errorf("release pass: %w", err)
		}
		fmt.Println("✓ Release pass complete")
	}
	return nil
}
