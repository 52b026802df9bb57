package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/l2sw/internal/metrics"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultWriteTimeout = 5 * time.Second
	defaultMaxAttempts  = 3
)

// LogSink writes FDB events to the structured log.
func LogSink(ev FDBEvent) error {
	attrs := []any{"mac", ev.MAC, "interface", ev.Interface}
	if ev.Previous != "" {
		attrs = append(attrs, "previous", ev.Previous)
	}
	slog.Info("fdb "+string(ev.Kind), attrs...)
	return nil
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	Compression  string // none|gzip|snappy|lz4
	BatchSize    int
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes FDB events as JSON, keyed by station address so one
// station's history lands in one Kafka partition.
type KafkaSink struct {
	writer  messageWriter
	node    string
	timeout time.Duration

	written atomic.Uint64
	errors  atomic.Uint64
}

// NewKafkaSink creates a synchronous writer; the bus partition goroutine
// absorbs the latency.
func NewKafkaSink(cfg KafkaConfig, node string) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink: topic is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}

	wc := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  defaultMaxAttempts,
	}
	switch cfg.Compression {
	case "none", "":
	case "gzip":
		wc.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		wc.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		wc.CompressionCodec = compress.Lz4.Codec()
	default:
		return nil, fmt.Errorf("kafka sink: invalid compression type: %s", cfg.Compression)
	}

	slog.Info("kafka event sink configured",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"compression", cfg.Compression)

	return newKafkaSink(kafka.NewWriter(wc), node), nil
}

func newKafkaSink(w messageWriter, node string) *KafkaSink {
	return &KafkaSink{writer: w, node: node, timeout: defaultWriteTimeout}
}

type kafkaRecord struct {
	FDBEvent
	Node string `json:"node"`
}

// Handle writes one event.
func (s *KafkaSink) Handle(ev FDBEvent) error {
	value, err := json.Marshal(kafkaRecord{FDBEvent: ev, Node: s.node})
	if err != nil {
		return fmt.Errorf("serialize fdb event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.MAC),
		Value: value,
		Time:  ev.Time,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	})
	if err != nil {
		s.errors.Add(1)
		metrics.EventSinkErrorsTotal.WithLabelValues("kafka").Inc()
		return fmt.Errorf("kafka write failed: %w", err)
	}
	s.written.Add(1)
	return nil
}

// Close flushes pending messages.
func (s *KafkaSink) Close() error {
	err := s.writer.Close()
	slog.Info("kafka event sink stopped",
		"total_written", s.written.Load(),
		"total_errors", s.errors.Load())
	return err
}
