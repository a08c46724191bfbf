package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/meshtel/internal/config"
	"firestige.xyz/meshtel/internal/core"
	"firestige.xyz/meshtel/internal/ingest"
	logpkg "firestige.xyz/meshtel/internal/log"
	"firestige.xyz/meshtel/internal/replay"
	"firestige.xyz/meshtel/internal/telemetry"
)

var replayPort int

var replayCmd = &cobra.Command{
	Use:   "replay <capture.pcap>",
	Short: "Replay a packet capture through the ingest pipeline",
	Long: `Replay UDP datagrams from a pcap or pcapng capture through the same ingest
pipeline a receiver runs, writing CSV rows to the configured telemetry sinks.

Receive ticks come from capture timestamps at clock.ticks_per_second. With the
process epoch the first datagram is tick zero.

Supported link types: Ethernet, raw IP, Linux cooked (SLL), BSD loopback.

Examples:
  meshtel replay radio.pcap
  meshtel replay --port 5678 -c meshtel.yml radio.pcapng
  meshtel replay radio.pcap | meshtel stats -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := logpkg.Init(cfg.Log); err != nil {
			return err
		}
		defer logpkg.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sum, err := runReplay(ctx, cfg, args[0], cmd.OutOrStdout())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d datagrams (%d malformed) from %d packets\n",
			sum.Datagrams, sum.Malformed, sum.Packets)
		return nil
	},
}

func runReplay(ctx context.Context, cfg *config.GlobalConfig, path string, out io.Writer) (replay.Summary, error) {
	port := cfg.Node.Port
	if replayPort >= 0 {
		port = replayPort
	}
	if port > 65535 {
		return replay.Summary{}, fmt.Errorf("%w: invalid --port: %d", core.ErrConfigInvalid, port)
	}

	f, err := os.Open(path)
	if err != nil {
		return replay.Summary{}, err
	}
	defer f.Close()

	r, err := replay.NewReader(f, uint16(port))
	if err != nil {
		return replay.Summary{}, err
	}

	clk, err := replay.NewCaptureClock(cfg.Clock.TicksPerSecond, core.Epoch(cfg.Clock.Epoch))
	if err != nil {
		return replay.Summary{}, err
	}

	sinks, err := telemetry.Open(cfg.Telemetry, out)
	if err != nil {
		return replay.Summary{}, err
	}
	defer sinks.Close()

	p, err := ingest.New(ingest.Config{
		Role:          "replay",
		TableCapacity: cfg.Node.TableCapacity,
		Emitter:       telemetry.NewEmitter(sinks),
		Clock:         clk,
	})
	if err != nil {
		return replay.Summary{}, err
	}

	return replay.Run(ctx, r, clk, p)
}

func init() {
	replayCmd.Flags().IntVar(&replayPort, "port", -1,
		"destination UDP port to replay (default: node.port, 0 = any)")
	rootCmd.AddCommand(replayCmd)
}
