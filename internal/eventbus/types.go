// Package eventbus fans FDB change events out to sinks through hash-partitioned
// queues, keeping per-station ordering without blocking publishers.
package eventbus

import "time"

// Event is the unit carried by the bus.
type Event struct {
	Topic   string `json:"topic"`
	Key     string `json:"key"` // partition key; events with one key stay ordered
	Payload any    `json:"payload"`
}

// Handler consumes one event.
type Handler func(event *Event) error

// Stats is a snapshot of bus counters.
type Stats struct {
	PublishedCount int64 `json:"published"`
	ProcessedCount int64 `json:"processed"`
	DroppedCount   int64 `json:"dropped"`
	FailedCount    int64 `json:"failed"`
	PartitionCount int   `json:"partitions"`
	QueuedCount    []int `json:"queued"`
}

// TopicFDB carries FDBEvent payloads.
const TopicFDB = "fdb"

// FDBEventKind names what happened to a station entry.
type FDBEventKind string

const (
	FDBLearned FDBEventKind = "learned"
	FDBMoved   FDBEventKind = "moved"
	FDBExpired FDBEventKind = "expired"
	FDBFlushed FDBEventKind = "flushed"
)

// FDBEvent describes one change to the forwarding database.
type FDBEvent struct {
	Kind      FDBEventKind `json:"kind"`
	MAC       string       `json:"mac"`
	Interface string       `json:"interface"`
	Previous  string       `json:"previous,omitempty"` // old interface for moves
	Time      time.Time    `json:"time"`
}

type partition struct {
	id    int
	name  string
	queue chan *Event
}
