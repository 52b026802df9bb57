package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/segmentio/kafka-go"

	"firestige.xyz/l2sw/internal/config"
)

// KafkaCommand is the wire format for commands received via Kafka.
//
// Example JSON:
//
//	{
//	  "version":    "v1",
//	  "target":     "sw-01",
//	  "command":    "fdb_flush",
//	  "timestamp":  "2026-01-15T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    { ... }
//	}
type KafkaCommand struct {
	Version   string          `json:"version"`    // Protocol version ("v1")
	Target    string          `json:"target"`     // Node hostname or "*" for broadcast
	Command   string          `json:"command"`    // Method name (e.g., "fdb_flush")
	Timestamp time.Time       `json:"timestamp"`  // When the command was issued
	RequestID string          `json:"request_id"` // Unique request ID for tracing
	Payload   json.RawMessage `json:"payload"`    // Command-specific parameters
}

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaCommandConsumer consumes commands from Kafka and dispatches to handler.
type KafkaCommandConsumer struct {
	hostname string // local node hostname for target matching
	reader   messageReader
	handler  *CommandHandler
	ttl      time.Duration // command TTL for stale-command rejection
	now      func() time.Time
	backoff  time.Duration
	seen     *cache.Cache // request_id → struct{}, for redelivered commands
}

// NewKafkaCommandConsumer creates a new Kafka command consumer.
func NewKafkaCommandConsumer(cc config.CommandChannelConfig, hostname string, handler *CommandHandler) (*KafkaCommandConsumer, error) {
	if len(cc.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cc.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cc.GroupID == "" {
		return nil, fmt.Errorf("group_id is required")
	}

	var startOffset int64
	switch cc.AutoOffsetReset {
	case "earliest":
		startOffset = kafka.FirstOffset
	case "latest", "":
		startOffset = kafka.LastOffset
	default:
		return nil, fmt.Errorf("invalid auto_offset_reset %q", cc.AutoOffsetReset)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cc.Brokers,
		Topic:          cc.Topic,
		GroupID:        cc.GroupID,
		StartOffset:    startOffset,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: time.Second,
		MaxWait:        time.Second,
	})

	slog.Info("kafka command consumer configured",
		"brokers", cc.Brokers,
		"topic", cc.Topic,
		"group_id", cc.GroupID,
		"hostname", hostname,
	)
	return newKafkaCommandConsumer(reader, hostname, handler, cc.CommandTTL), nil
}

func newKafkaCommandConsumer(r messageReader, hostname string, handler *CommandHandler, ttl time.Duration) *KafkaCommandConsumer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &KafkaCommandConsumer{
		hostname: hostname,
		reader:   r,
		handler:  handler,
		ttl:      ttl,
		now:      time.Now,
		backoff:  5 * time.Second,
		seen:     cache.New(ttl, ttl),
	}
}

// Start consumes commands until ctx is cancelled.
func (c *KafkaCommandConsumer) Start(ctx context.Context) error {
	slog.Info("kafka command consumer started", "ttl", c.ttl)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				slog.Info("kafka command consumer stopped", "reason", ctx.Err())
				return ctx.Err()
			}
			slog.Error("failed to fetch kafka message", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
				continue
			}
		}

		if err := c.processMessage(ctx, msg); err != nil {
			slog.Error("failed to process command",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}

		// Failed commands are committed too; they would fail the same way on redelivery.
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("failed to commit message", "error", err)
		}
	}
}

// processMessage runs one command if it targets this node and is fresh.
func (c *KafkaCommandConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var kCmd KafkaCommand
	if err := json.Unmarshal(msg.Value, &kCmd); err != nil {
		return fmt.Errorf("failed to parse kafka command: %w", err)
	}

	if kCmd.Target != "*" && kCmd.Target != "" && kCmd.Target != c.hostname {
		slog.Debug("skipping command not targeting this node",
			"target", kCmd.Target,
			"request_id", kCmd.RequestID,
		)
		return nil
	}

	if age := c.now().Sub(kCmd.Timestamp); !kCmd.Timestamp.IsZero() && age > c.ttl {
		slog.Warn("skipping stale command",
			"command", kCmd.Command,
			"request_id", kCmd.RequestID,
			"age", age,
			"ttl", c.ttl,
		)
		return nil
	}

	// A request older than ttl is rejected above, so remembering ids for ttl
	// covers every redelivery that could still execute.
	if kCmd.RequestID != "" {
		if err := c.seen.Add(kCmd.RequestID, struct{}{}, cache.DefaultExpiration); err != nil {
			slog.Warn("skipping duplicate command",
				"command", kCmd.Command,
				"request_id", kCmd.RequestID,
			)
			return nil
		}
	}

	resp := c.handler.Handle(ctx, Command{
		Method: kCmd.Command,
		Params: kCmd.Payload,
		ID:     kCmd.RequestID,
	})
	if resp.Error != nil {
		return fmt.Errorf("command %s failed: %w", kCmd.Command, resp.Error)
	}

	slog.Info("kafka command executed", "method", kCmd.Command, "request_id", kCmd.RequestID)
	return nil
}

// Stop closes the reader. Calling it twice is a no-op.
func (c *KafkaCommandConsumer) Stop() error {
	if c.reader == nil {
		return nil
	}
	reader := c.reader
	c.reader = nil
	if err := reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}
