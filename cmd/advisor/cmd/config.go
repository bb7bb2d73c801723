package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/advisor/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage configuration files for the advisor.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  advisor config init -o advisor.yaml
  advisor config validate -f advisor.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var configInitOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "advisor.yaml", "output config file path")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  advisor run -f %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", cfgPath)
	fmt.Printf("  Store: %s\n", cfg.Store.Backend)
	fmt.Printf("  Experts: %d\n", len(cfg.Experts))
	for i := range cfg.Experts {
		exp := &cfg.Experts[i]
		fmt.Printf("    %s: balance %.2f, cap %.2f, ruleset %s\n",
			exp.ID, exp.VirtualBalance, exp.InstrumentCap(), exp.RulesetID)
	}
	return nil
}
