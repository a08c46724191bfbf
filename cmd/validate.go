package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/meshtel/internal/config"
)

var validatePrint bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration file (plus MESHTEL_* environment overrides), apply
defaults and validate it without starting a node.

Examples:
  meshtel validate -c meshtel.yml
  meshtel validate -c meshtel.yml --print`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, validatePrint, cmd.OutOrStdout())
	},
}

func runValidate(path string, print bool, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	source := path
	if source == "" {
		source = "defaults"
	}
	fmt.Fprintf(out, "VALID: %s (port %d, table capacity %d, mesh %s %s)\n",
		source, cfg.Node.Port, cfg.Node.TableCapacity, cfg.Mesh.Mode, cfg.Mesh.Prefix)

	if !print {
		return nil
	}
	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

func init() {
	validateCmd.Flags().BoolVar(&validatePrint, "print", false, "print the effective configuration as YAML")
	rootCmd.AddCommand(validateCmd)
}
