package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/meshtel/internal/daemon"
)

var receiverCmd = newRoleCmd(daemon.RoleReceiver, "Run a telemetry receiver node",
	`Run a receiver node in foreground.

The receiver will:
  1. Load configuration and initialize logging and metrics
  2. Listen for datagrams on node.listen:node.port
  3. Decode each payload, track the sender's sequence and estimate the gap
  4. Emit one CSV row per datagram to the telemetry sinks
  5. Log its global address once the mesh is reachable
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`)

var sinkCmd = newRoleCmd(daemon.RoleSink, "Run the mesh sink (root) node",
	`Run the sink node in foreground.

The sink registers as mesh root for mesh.prefix with address mesh.root_addr,
then ingests exactly like a receiver. A failed root registration is logged
and ingestion starts anyway.`)

var sensorCmd = newRoleCmd(daemon.RoleSensor, "Run a periodic sensor node",
	`Run a sensor node in foreground.

The sensor resolves sensor.sink_addr (failure is fatal), waits until the mesh
is reachable, then sends "seq=<n> t=<ticks>" to the sink every
sensor.interval. The sequence number advances whether or not a send succeeds.`)

func newRoleCmd(role daemon.Role, short, long string) *cobra.Command {
	return &cobra.Command{
		Use:   string(role),
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := runRole(role); err != nil {
				slog.Error("daemon failed", "role", role, "error", err)
				os.Exit(1)
			}
		},
	}
}

func runRole(role daemon.Role) error {
	d, err := daemon.New(role, configFile, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}

func init() {
	rootCmd.AddCommand(receiverCmd)
	rootCmd.AddCommand(sinkCmd)
	rootCmd.AddCommand(sensorCmd)
}
