package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/meshtel/internal/command"
	"firestige.xyz/meshtel/internal/config"
	"firestige.xyz/meshtel/internal/daemon"
)

// ControlClient signals a running node.
type ControlClient interface {
	Stop(ctx context.Context) error
	Reload(ctx context.Context) error
}

// Client constructors, replaced in tests.
var (
	newControlClient = func(pidFile string) ControlClient {
		return daemon.NewControl(pidFile)
	}
	newSocketClient = func(socketPath string) ControlClient {
		return command.NewUDSClient(socketPath, 10*time.Second)
	}
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running node",
	Long: `Stop a running node and wait for it to exit.

With a control socket (--socket or control.socket) the node is asked over
JSON-RPC; otherwise SIGTERM is sent to the process named by the PID file
(--pidfile or control.pid_file).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), stopTimeout)
		defer cancel()
		return runStop(ctx, client, cmd.OutOrStdout())
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration of a running node",
	Long: `Ask a running node to reload its configuration file, over the control
socket or with SIGHUP to the process named by the PID file.

Log level and format are applied live; other changes are reported by the node
as requiring a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient()
		if err != nil {
			return err
		}
		return runReload(cmd.Context(), client, cmd.OutOrStdout())
	},
}

// controlClient prefers the control socket and falls back to signalling the
// process named by the PID file.
func controlClient() (ControlClient, error) {
	sock, pid := socketPath, pidFile
	if sock == "" && pid == "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		sock, pid = cfg.Control.Socket, cfg.Control.PIDFile
	}
	if sock != "" {
		return newSocketClient(sock), nil
	}
	if pid == "" {
		return nil, fmt.Errorf("no control socket or PID file: set --socket, --pidfile, control.socket or control.pid_file")
	}
	return newControlClient(pid), nil
}

func runStop(ctx context.Context, client ControlClient, out io.Writer) error {
	if err := client.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	fmt.Fprintln(out, "✓ Node stopped")
	return nil
}

func runReload(ctx context.Context, client ControlClient, out io.Writer) error {
	if err := client.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration reload requested")
	return nil
}

func init() {
	stopCmd.Flags().DurationVarP(&stopTimeout, "timeout", "t", 10*time.Second,
		"how long to wait for the node to exit")
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
}
