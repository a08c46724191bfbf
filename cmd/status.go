package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/meshtel/internal/command"
	"firestige.xyz/meshtel/internal/config"
)

// StatusClient queries a running node.
type StatusClient interface {
	Status(ctx context.Context) (*command.NodeStatus, error)
}

var newStatusClient = func(socketPath string) StatusClient {
	return command.NewUDSClient(socketPath, 10*time.Second)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running node",
	Long: `Query a running node over its control socket (--socket or control.socket).

Shows: role, PID, uptime, mesh reachability, and either the ingest counters
(receiver, sink) or the sender counters (sensor).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := socketPath
		if path == "" {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			path = cfg.Control.Socket
		}
		if path == "" {
			return fmt.Errorf("no control socket: set --socket or control.socket")
		}
		return runStatus(cmd.Context(), newStatusClient(path), cmd.OutOrStdout())
	},
}

func runStatus(ctx context.Context, client StatusClient, out io.Writer) error {
	st, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to query node status: %w", err)
	}

	resultJSON, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	fmt.Fprintln(out, string(resultJSON))
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
