package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/meshtel/internal/analysis"
)

var statsFormat string

var statsCmd = &cobra.Command{
	Use:   "stats <telemetry.log | ->",
	Short: "Summarise a telemetry stream",
	Long: `Read a telemetry stream (or a simulator log containing it) and report, per
source: rows received, malformed payloads, estimated lost messages, loss rate
and min/avg/max delay in ticks. Sensor "tx" log lines are counted as well.

Lines may carry any prefix before "CSV,".

Examples:
  meshtel stats telemetry.csv
  meshtel stats --format yaml cooja.log
  meshtel receiver | meshtel stats -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(args[0], statsFormat, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func runStats(path, format string, stdin io.Reader, out io.Writer) error {
	if format != "text" && format != "yaml" {
		return fmt.Errorf("invalid format %q (must be text/yaml)", format)
	}

	in := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	rep, err := analysis.Analyze(in)
	if err != nil {
		return err
	}

	if format == "yaml" {
		return rep.WriteYAML(out)
	}
	return rep.WriteText(out)
}

func init() {
	statsCmd.Flags().StringVarP(&statsFormat, "format", "f", "text", "output format: text or yaml")
	rootCmd.AddCommand(statsCmd)
}
