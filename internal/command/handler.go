// Package command implements the local control channel of a running node.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Methods served by CommandHandler.
const (
	MethodDaemonStatus   = "daemon_status"
	MethodConfigReload   = "config_reload"
	MethodDaemonShutdown = "daemon_shutdown"
)

// StatusProvider reports the live state of a node.
type StatusProvider interface {
	Status() NodeStatus
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// NodeStatus is the result of daemon_status.
type NodeStatus struct {
	Role          string        `json:"role"`
	PID           int           `json:"pid"`
	UptimeSeconds int64         `json:"uptime_sec"`
	Listen        string        `json:"listen,omitempty"`
	Reachable     bool          `json:"reachable"`
	Ingest        *IngestStatus `json:"ingest,omitempty"`
	Sensor        *SensorStatus `json:"sensor,omitempty"`
}

// IngestStatus carries pipeline counters of a receiver or sink.
type IngestStatus struct {
	Received       uint64 `json:"received"`
	Multicast      uint64 `json:"multicast"`
	Decoded        uint64 `json:"decoded"`
	Malformed      uint64 `json:"malformed"`
	Untracked      uint64 `json:"untracked"`
	FirstSightings uint64 `json:"first_sightings"`
	GapMessages    uint64 `json:"gap_messages"`
	TrackedSources int    `json:"tracked_sources"`
	TableCapacity  int    `json:"table_capacity"`
}

// SensorStatus carries sender counters of a sensor.
type SensorStatus struct {
	Sink    string `json:"sink"`
	NextSeq uint32 `json:"next_seq"`
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	status         StatusProvider
	configReloader ConfigReloader
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	startTime      time.Time
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(status StatusProvider, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		status:         status,
		configReloader: reloader,
		startTime:      time.Now(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInternalError  = -32603 // Internal error
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Debug("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case MethodDaemonStatus:
		return h.handleDaemonStatus(ctx, cmd)
	case MethodConfigReload:
		return h.handleConfigReload(ctx, cmd)
	case MethodDaemonShutdown:
		return h.handleDaemonShutdown(ctx, cmd)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func errorResponse(id string, code int, msg string) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: msg}}
}

// handleDaemonStatus returns the node status with uptime filled in.
func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	if h.status == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "status provider not available")
	}
	st := h.status.Status()
	st.UptimeSeconds = int64(time.Since(h.startTime).Seconds())
	return Response{ID: cmd.ID, Result: st}
}

func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "config reloader not available")
	}
	if err := h.configReloader.Reload(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("reload config failed: %v", err))
	}
	return Response{
		ID:     cmd.ID,
		Result: map[string]interface{}{"status": "reloaded"},
	}
}

// handleDaemonShutdown triggers graceful shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Let the response be sent first

	return Response{
		ID:     cmd.ID,
		Result: map[string]interface{}{"status": "shutting_down"},
	}
}
