// Package daemon implements the node process lifecycle for each role.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/meshtel/internal/command"
	"firestige.xyz/meshtel/internal/config"
	"firestige.xyz/meshtel/internal/core"
	"firestige.xyz/meshtel/internal/ingest"
	logpkg "firestige.xyz/meshtel/internal/log"
	"firestige.xyz/meshtel/internal/mesh"
	"firestige.xyz/meshtel/internal/metrics"
	"firestige.xyz/meshtel/internal/sensor"
	"firestige.xyz/meshtel/internal/telemetry"
	"firestige.xyz/meshtel/internal/transport"
)

// Role selects what the node does.
type Role string

const (
	RoleReceiver Role = "receiver" // Ingest and report telemetry
	RoleSink     Role = "sink"     // Register as mesh root, then ingest
	RoleSensor   Role = "sensor"   // Periodically send frames to the sink
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleReceiver, RoleSink, RoleSensor:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", core.ErrConfigInvalid, s)
	}
}

// Daemon manages one node process.
type Daemon struct {
	// Configuration
	role       Role
	config     *config.GlobalConfig
	configPath string
	pidFile    string

	// Core components
	router        mesh.Router
	clock         core.Clock
	sinks         *telemetry.MultiWriter // nil for the sensor role
	pipeline      *ingest.Pipeline       // nil for the sensor role
	listener      *transport.Listener    // nil for the sensor role
	sender        *transport.Sender      // nil unless sensor role
	sensor        *sensor.Sensor         // nil unless sensor role
	metricsServer *metrics.Server        // nil if metrics disabled
	udsServer     *command.UDSServer     // nil if control.socket is empty

	// Lifecycle management
	mu           sync.Mutex // guards config across reloads
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	errChan      chan error
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	stopOnce     sync.Once
}

// New creates a daemon for role. An empty configPath uses defaults plus
// environment overrides; an empty pidFile falls back to control.pid_file.
func New(role Role, configPath, pidFile string) (*Daemon, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}

	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		role:         role,
		config:       globalConfig,
		configPath:   configPath,
		pidFile:      pidFile,
		errChan:      make(chan error, 2),
		shutdownChan: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Start initializes and starts all components of the role.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	slog.Info("boot", "role", d.role, "config", d.configPath)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		d.release()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Routing collaborator and clock
	router, err := mesh.New(d.config.Mesh)
	if err != nil {
		d.release()
		return err
	}
	d.router = router

	clock, err := core.NewTickClock(d.config.Clock.TicksPerSecond, core.Epoch(d.config.Clock.Epoch))
	if err != nil {
		d.release()
		return err
	}
	d.clock = clock

	// 5. Role components
	switch d.role {
	case RoleSensor:
		err = d.startSensor()
	default:
		err = d.startIngest()
	}
	if err != nil {
		d.release()
		return err
	}

	// 6. Control socket
	if err := d.startControl(); err != nil {
		d.release()
		return fmt.Errorf("failed to start control socket: %w", err)
	}

	// 7. Config file watch
	if d.config.Control.Watch && d.configPath != "" {
		if err := config.Watch(d.configPath, d.onConfigChange); err != nil {
			slog.Warn("config watch disabled", "error", err)
		}
	}

	slog.Info("daemon started successfully", "role", d.role)
	return nil
}

// startIngest opens the telemetry sinks, builds the pipeline and starts
// receiving. The sink role first registers as mesh root; a failed
// registration is logged and ingestion proceeds anyway.
func (d *Daemon) startIngest() error {
	sinks, err := telemetry.Open(d.config.Telemetry, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to open telemetry sinks: %w", err)
	}
	d.sinks = sinks

	d.pipeline, err = ingest.New(ingest.Config{
		Role:          string(d.role),
		TableCapacity: d.config.Node.TableCapacity,
		Emitter:       telemetry.NewEmitter(sinks),
		Clock:         d.clock,
	})
	if err != nil {
		return err
	}

	if d.role == RoleSink {
		prefix := d.config.MeshPrefix()
		slog.Info("set root ip", "addr", d.config.Mesh.RootAddr, "prefix", prefix)
		if err := d.router.BecomeRoot(prefix); err != nil {
			slog.Error("root start failed", "error", err)
		} else {
			slog.Info("root start ok")
		}
	}

	d.listener, err = transport.Listen(d.config.ListenAddrPort())
	if err != nil {
		return err
	}
	slog.Info("udp receiver listening", "port", d.config.Node.Port)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.listener.Serve(d.ctx, d.ingest); err != nil {
			d.fail(fmt.Errorf("receiver stopped: %w", err))
		}
	}()

	if d.role == RoleReceiver {
		meshCfg := d.config.Mesh
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.announce(meshCfg)
		}()
	}
	return nil
}

func (d *Daemon) ingest(dg core.Datagram) {
	d.pipeline.Ingest(dg)
}

// announce waits for reachability and logs the node's global address.
func (d *Daemon) announce(cfg config.MeshConfig) {
	if err := mesh.WaitReachable(d.ctx, d.router, cfg.PollInterval); err != nil {
		return
	}
	addrs, err := mesh.InterfaceAddrs(cfg.Interface)()
	if err != nil {
		slog.Debug("failed to list local addresses", "error", err)
		return
	}
	if ip, ok := mesh.PreferredGlobal(addrs); ok {
		slog.Info("my ip", "addr", ip)
	}
}

// startSensor resolves the sink address and starts the periodic sender.
// Resolution failure is fatal.
func (d *Daemon) startSensor() error {
	sink, err := sensor.ResolveSink(d.ctx, d.config.Sensor.SinkAddr, d.config.Node.Port)
	if err != nil {
		return err
	}

	local := netip.AddrPortFrom(d.config.ListenAddrPort().Addr(), uint16(d.config.Sensor.LocalPort))
	d.sender, err = transport.NewSender(local, sink)
	if err != nil {
		return err
	}

	d.sensor, err = sensor.New(sensor.Config{
		Sink:         sink,
		Interval:     d.config.Sensor.Interval,
		PollInterval: d.config.Mesh.PollInterval,
		Router:       d.router,
		Transport:    d.sender,
		Clock:        d.clock,
	})
	if err != nil {
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sensor.Run(d.ctx); err != nil {
			d.fail(fmt.Errorf("sensor stopped: %w", err))
		}
	}()
	return nil
}

// fail reports a fatal component error to Run.
func (d *Daemon) fail(err error) {
	select {
	case d.errChan <- err:
	default:
	}
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		slog.Info("initiating graceful shutdown")

		// 1. Cancel context: stops receiving, sending and reachability waits
		d.cancel()
		if d.listener != nil {
			d.listener.Close()
		}
		d.wg.Wait()

		d.release()

		// Unregister signal handler to prevent goroutine leak
		if d.sigChan != nil {
			signal.Stop(d.sigChan)
		}

		if d.pipeline != nil {
			st := d.pipeline.Stats()
			slog.Info("ingest totals",
				"received", st.Received,
				"decoded", st.Decoded,
				"malformed", st.Malformed,
				"untracked", st.Untracked,
				"tracked_sources", st.TrackedSources,
				"gap_messages", st.GapMessages,
			)
		}
		slog.Info("daemon stopped gracefully")

		if err := logpkg.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	})
}

// release closes sockets, sinks, the metrics server and the PID file.
func (d *Daemon) release() {
	d.cancel()

	if d.sender != nil {
		if err := d.sender.Close(); err != nil {
			slog.Error("error closing sender", "error", err)
		}
		d.sender = nil
	}
	if d.listener != nil {
		d.listener.Close()
	}
	if d.sinks != nil {
		if err := d.sinks.Close(); err != nil {
			slog.Error("error closing telemetry sinks", "error", err)
		}
		d.sinks = nil
	}
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
		d.metricsServer = nil
	}
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}
	if d.udsServer != nil {
		if err := d.udsServer.Stop(); err != nil {
			slog.Error("error stopping control socket", "error", err)
		}
		d.udsServer = nil
	}
}

// Run blocks until shutdown is triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. TriggerShutdown
//  3. a fatal component error
//
// SIGHUP triggers config reload.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			d.Stop()
			return nil

		case err := <-d.errChan:
			slog.Error("component failed", "error", err)
			d.Stop()
			return err
		}
	}
}

// TriggerShutdown asks Run to stop.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Reload reloads the configuration file.
// Hot-reloadable: log level/format.
// Cold (requires restart): everything else; changes are reported.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}
	d.apply(newConfig)
	return nil
}

func (d *Daemon) onConfigChange(cfg *config.GlobalConfig, err error) {
	if err != nil {
		slog.Error("ignoring invalid config change", "error", err)
		return
	}
	d.apply(cfg)
}

func (d *Daemon) apply(newConfig *config.GlobalConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()

	old := d.config
	hotReloaded := []string{}

	if newConfig.Log != old.Log {
		d.config = newConfig
		if err := d.initLogging(); err != nil {
			slog.Error("failed to reinitialize logging", "error", err)
			d.config = old
			return
		}
		hotReloaded = append(hotReloaded, "log")
	}

	requiresRestart := changedSections(old, newConfig)

	// Keep the running component settings; only log config is live.
	cfg := *old
	cfg.Log = newConfig.Log
	d.config = &cfg

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
}

// changedSections lists cold config sections that differ.
func changedSections(old, cur *config.GlobalConfig) []string {
	var out []string
	if old.Node != cur.Node {
		out = append(out, "node")
	}
	if old.Clock != cur.Clock {
		out = append(out, "clock")
	}
	if old.Mesh != cur.Mesh {
		out = append(out, "mesh")
	}
	if old.Sensor != cur.Sensor {
		out = append(out, "sensor")
	}
	if !telemetryEqual(old.Telemetry, cur.Telemetry) {
		out = append(out, "telemetry")
	}
	if old.Metrics != cur.Metrics {
		out = append(out, "metrics")
	}
	if old.Control != cur.Control {
		out = append(out, "control")
	}
	return out
}

func telemetryEqual(a, b config.TelemetryConfig) bool {
	if a.Stdout != b.Stdout || a.File != b.File {
		return false
	}
	ka, kb := a.Kafka, b.Kafka
	if ka.Enabled != kb.Enabled || ka.Topic != kb.Topic || ka.BatchSize != kb.BatchSize ||
		ka.BatchTimeout != kb.BatchTimeout || ka.Compression != kb.Compression ||
		len(ka.Brokers) != len(kb.Brokers) {
		return false
	}
	for i := range ka.Brokers {
		if ka.Brokers[i] != kb.Brokers[i] {
			return false
		}
	}
	return true
}

// startControl serves the JSON-RPC control socket if configured.
func (d *Daemon) startControl() error {
	if d.config.Control.Socket == "" {
		return nil
	}
	handler := command.NewCommandHandler(d, d)
	handler.SetShutdownFunc(d.TriggerShutdown)

	d.udsServer = command.NewUDSServer(d.config.Control.Socket, handler)
	if err := d.udsServer.Start(d.ctx); err != nil {
		d.udsServer = nil
		return err
	}
	return nil
}

// Status reports the role and live counters for the control socket.
func (d *Daemon) Status() command.NodeStatus {
	st := command.NodeStatus{
		Role: string(d.role),
		PID:  os.Getpid(),
	}
	if d.router != nil {
		st.Reachable = d.router.IsReachable()
	}
	if d.listener != nil {
		st.Listen = d.listener.LocalAddr().String()
	}
	if snap, ok := d.Stats(); ok {
		st.Ingest = &command.IngestStatus{
			Received:       snap.Received,
			Multicast:      snap.Multicast,
			Decoded:        snap.Decoded,
			Malformed:      snap.Malformed,
			Untracked:      snap.Untracked,
			FirstSightings: snap.FirstSightings,
			GapMessages:    snap.GapMessages,
			TrackedSources: snap.TrackedSources,
			TableCapacity:  snap.TableCapacity,
		}
	}
	if d.sensor != nil {
		st.Sensor = &command.SensorStatus{
			Sink:    d.sensor.Sink().String(),
			NextSeq: d.sensor.Seq(),
			Sent:    d.sensor.Sent(),
			Failed:  d.sensor.Failed(),
		}
	}
	return st
}

// Stats returns the ingest counters, or false for the sensor role.
func (d *Daemon) Stats() (ingest.StatsSnapshot, bool) {
	if d.pipeline == nil {
		return ingest.StatsSnapshot{}, false
	}
	return d.pipeline.Stats(), true
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}

	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Debug("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		d.metricsServer = nil
		return err
	}

	slog.Info("metrics server started",
		"addr", d.metricsServer.Addr(),
		"path", d.config.Metrics.Path,
	)
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
