// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	pidFile    string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshtel",
	Short: "Meshtel - mesh telemetry sender, receiver and analyser",
	Long: `Meshtel runs the nodes of a wireless-mesh telemetry experiment.

Sensors periodically send "seq=<n> t=<ticks>" datagrams to the sink. Receivers
and the sink track per-source sequence continuity, estimate message loss and
emit one CSV row per datagram:

  CSV,tag,src_ip,src_port,seq,t_send,t_recv,delay_ticks,len,gap

Roles:
  receiver   ingest and report telemetry
  sink       register as mesh root, then ingest and report telemetry
  sensor     send a frame to the sink every interval

Offline tools:
  replay     feed a pcap capture through the ingest pipeline
  stats      summarise a telemetry stream

Control:
  status     query a running node over its control socket
  stop       stop a running node
  reload     reload a running node's configuration`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (default: built-in defaults plus MESHTEL_* environment)")
	rootCmd.PersistentFlags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file)")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "",
		"control socket path (default: control.socket)")
}
