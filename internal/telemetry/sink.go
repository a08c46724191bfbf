package telemetry

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/meshtel/internal/config"
	"firestige.xyz/meshtel/internal/metrics"
)

// Sink names used as metric labels.
const (
	SinkStdout = "stdout"
	SinkFile   = "file"
	SinkKafka  = "kafka"
)

type namedWriter struct {
	name string
	w    io.Writer
}

// MultiWriter fans a row out to every sink. A failing sink does not stop
// the others; the last error is returned.
type MultiWriter struct {
	writers []namedWriter
	closers []io.Closer
}

// NewMultiWriter creates an empty fan-out writer.
func NewMultiWriter() *MultiWriter {
	return &MultiWriter{}
}

// Add registers a sink. If w is an io.Closer it is closed by Close.
func (m *MultiWriter) Add(name string, w io.Writer) *MultiWriter {
	m.writers = append(m.writers, namedWriter{name: name, w: w})
	if c, ok := w.(io.Closer); ok {
		m.closers = append(m.closers, c)
	}
	return m
}

// Len returns the number of registered sinks.
func (m *MultiWriter) Len() int {
	return len(m.writers)
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	for _, nw := range m.writers {
		if _, e := nw.w.Write(p); e != nil {
			metrics.TelemetryWriteErrorsTotal.WithLabelValues(nw.name).Inc()
			err = fmt.Errorf("%s sink: %w", nw.name, e)
		}
	}
	return len(p), err
}

// Close closes every closable sink.
func (m *MultiWriter) Close() error {
	var errs []error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open builds the configured sinks. The stdout sink writes to stdout, which
// is never closed; nil means os.Stdout.
func Open(cfg config.TelemetryConfig, stdout io.Writer) (*MultiWriter, error) {
	m := NewMultiWriter()

	if cfg.Stdout {
		if stdout == nil {
			stdout = os.Stdout
		}
		m.Add(SinkStdout, struct{ io.Writer }{stdout})
	}

	if cfg.File.Enabled {
		if cfg.File.Path == "" {
			return nil, fmt.Errorf("telemetry file sink requires 'path' field")
		}
		m.Add(SinkFile, &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.Rotation.MaxSizeMB,
			MaxBackups: cfg.File.Rotation.MaxBackups,
			MaxAge:     cfg.File.Rotation.MaxAgeDays,
			Compress:   cfg.File.Rotation.Compress,
		})
	}

	if cfg.Kafka.Enabled {
		kw, err := NewKafkaWriter(cfg.Kafka)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("telemetry kafka sink: %w", err)
		}
		m.Add(SinkKafka, kw)
	}

	if m.Len() == 0 {
		return nil, fmt.Errorf("no telemetry sink enabled")
	}
	return m, nil
}
