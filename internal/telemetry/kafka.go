package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/meshtel/internal/config"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultMaxAttempts  = 3
)

// KafkaWriter publishes each telemetry row as one Kafka message.
// Writes are asynchronous so the ingest path never waits on the broker.
type KafkaWriter struct {
	writer *kafka.Writer
	topic  string

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewKafkaWriter validates cfg and creates the writer. No connection is
// made until the first row is written.
func NewKafkaWriter(cfg config.KafkaSinkConfig) (*KafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}

	kw := &KafkaWriter{topic: cfg.Topic}
	kw.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    batchSize,
		BatchTimeout: batchTimeout,
		MaxAttempts:  defaultMaxAttempts,
		Compression:  codec,
		Async:        true,
		Completion:   kw.complete,
	}

	slog.Info("kafka telemetry sink configured",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"batch_size", batchSize,
		"batch_timeout", batchTimeout,
		"compression", cfg.Compression,
	)
	return kw, nil
}

func parseCompression(name string) (compress.Compression, error) {
	switch name {
	case "none", "":
		return compress.None, nil
	case "gzip":
		return compress.Gzip, nil
	case "snappy":
		return compress.Snappy, nil
	case "lz4":
		return compress.Lz4, nil
	case "zstd":
		return compress.Zstd, nil
	default:
		return compress.None, fmt.Errorf("invalid compression type: %s", name)
	}
}

// Write enqueues one row. p is copied because callers reuse their buffers.
func (k *KafkaWriter) Write(p []byte) (int, error) {
	value := make([]byte, len(p))
	copy(value, p)

	msg := kafka.Message{
		Key:   rowKey(value),
		Value: value,
		Time:  time.Now(),
	}
	if err := k.writer.WriteMessages(context.Background(), msg); err != nil {
		k.failed.Add(1)
		return 0, fmt.Errorf("kafka write failed: %w", err)
	}
	return len(p), nil
}

// rowKey returns the source address field of an event row so that rows of
// one source land on one partition. The header row has no key.
func rowKey(row []byte) []byte {
	rest, ok := bytes.CutPrefix(row, []byte(rowPrefix))
	if !ok {
		return nil
	}
	addr, _, ok := bytes.Cut(rest, []byte{','})
	if !ok {
		return nil
	}
	return addr
}

func (k *KafkaWriter) complete(messages []kafka.Message, err error) {
	if err != nil {
		k.failed.Add(uint64(len(messages)))
		slog.Warn("kafka telemetry batch failed", "topic", k.topic, "messages", len(messages), "error", err)
		return
	}
	k.written.Add(uint64(len(messages)))
}

// Close flushes pending rows and closes the writer.
func (k *KafkaWriter) Close() error {
	err := k.writer.Close()
	slog.Info("kafka telemetry sink stopped",
		"total_written", k.written.Load(),
		"total_failed", k.failed.Load(),
	)
	return err
}
