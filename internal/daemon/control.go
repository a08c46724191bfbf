package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrNotRunning is returned when the PID file names no live process.
var ErrNotRunning = errors.New("daemon not running")

// Control signals a running daemon found through its PID file.
type Control struct {
	pidFile string
	signal  func(pid int, sig syscall.Signal) error
	poll    time.Duration
}

// NewControl creates a controller for the daemon owning pidFile.
func NewControl(pidFile string) *Control {
	return &Control{
		pidFile: pidFile,
		signal:  signalProcess,
		poll:    100 * time.Millisecond,
	}
}

// PID reads the daemon's process ID.
func (c *Control) PID() (int, error) {
	if c.pidFile == "" {
		return 0, fmt.Errorf("%w: no PID file configured", ErrNotRunning)
	}
	data, err := os.ReadFile(c.pidFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s not found", ErrNotRunning, c.pidFile)
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", c.pidFile)
	}
	return pid, nil
}

// Reload sends SIGHUP.
func (c *Control) Reload(ctx context.Context) error {
	pid, err := c.PID()
	if err != nil {
		return err
	}
	return c.signal(pid, syscall.SIGHUP)
}

// Stop sends SIGTERM and waits for the daemon to remove its PID file.
func (c *Control) Stop(ctx context.Context) error {
	pid, err := c.PID()
	if err != nil {
		return err
	}
	if err := c.signal(pid, syscall.SIGTERM); err != nil {
		return err
	}

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(c.pidFile); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon %d did not exit: %w", pid, ctx.Err())
		case <-ticker.C:
		}
	}
}

func signalProcess(pid int, sig syscall.Signal) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("%w: process %d", ErrNotRunning, pid)
		}
		return err
	}
	return nil
}
