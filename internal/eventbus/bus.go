package eventbus

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/serialx/hashring"

	"firestige.xyz/l2sw/internal/core"
	"firestige.xyz/l2sw/internal/metrics"
)

// EventBus is a partitioned, non-blocking publish/subscribe bus.
type EventBus interface {
	Publish(event *Event) error
	Subscribe(topic string, handler Handler) error
	Close() error
	GetStats() *Stats
}

// InMemoryEventBus runs one consumer goroutine per partition. A key always maps
// to the same partition through a consistent hash ring.
type InMemoryEventBus struct {
	partitions []*partition
	hashRing   *hashring.HashRing
	nodeIndex  map[string]int

	mu          sync.RWMutex // guards subscribers and closed against Publish
	subscribers map[string][]Handler
	closed      bool
	wg          sync.WaitGroup

	publishedCount atomic.Int64
	processedCount atomic.Int64
	droppedCount   atomic.Int64
	failedCount    atomic.Int64
}

// NewInMemoryEventBus creates a bus with partitionCount queues of queueSize.
func NewInMemoryEventBus(partitionCount, queueSize int) *InMemoryEventBus {
	if partitionCount <= 0 {
		partitionCount = 1
	}
	bus := &InMemoryEventBus{
		partitions:  make([]*partition, partitionCount),
		nodeIndex:   make(map[string]int, partitionCount),
		subscribers: make(map[string][]Handler),
	}

	nodes := make([]string, partitionCount)
	for i := 0; i < partitionCount; i++ {
		nodes[i] = "partition-" + strconv.Itoa(i)
		bus.nodeIndex[nodes[i]] = i
		bus.partitions[i] = &partition{
			id:    i,
			name:  nodes[i],
			queue: make(chan *Event, queueSize),
		}
	}
	bus.hashRing = hashring.New(nodes)

	for _, p := range bus.partitions {
		bus.wg.Add(1)
		go bus.runPartition(p)
	}
	return bus
}

// Publish enqueues event without blocking. A full partition drops the event and
// returns core.ErrEventQueueFull.
func (b *InMemoryEventBus) Publish(event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return core.ErrEventBusClosed
	}

	p := b.partitions[b.partitionID(event.Key)]
	select {
	case p.queue <- event:
		b.publishedCount.Add(1)
		return nil
	default:
		b.droppedCount.Add(1)
		metrics.EventsDroppedTotal.WithLabelValues(p.name).Inc()
		return fmt.Errorf("partition %d: %w", p.id, core.ErrEventQueueFull)
	}
}

// Subscribe adds handler for topic. Several handlers may share a topic; each
// sees every event in publish order for its key.
func (b *InMemoryEventBus) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return core.ErrEventBusClosed
	}
	b.subscribers[topic] = append(b.subscribers[topic], handler)

	slog.Info("subscribed to topic", "topic", topic, "handlers", len(b.subscribers[topic]))
	return nil
}

// Close stops accepting events, lets the partitions drain what is queued and
// waits for them.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, p := range b.partitions {
		close(p.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
	slog.Info("event bus closed",
		"published", b.publishedCount.Load(),
		"processed", b.processedCount.Load(),
		"dropped", b.droppedCount.Load())
	return nil
}

// GetStats returns current counters and queue depths.
func (b *InMemoryEventBus) GetStats() *Stats {
	stats := &Stats{
		PublishedCount: b.publishedCount.Load(),
		ProcessedCount: b.processedCount.Load(),
		DroppedCount:   b.droppedCount.Load(),
		FailedCount:    b.failedCount.Load(),
		PartitionCount: len(b.partitions),
		QueuedCount:    make([]int, len(b.partitions)),
	}
	for i, p := range b.partitions {
		stats.QueuedCount[i] = len(p.queue)
	}
	return stats
}

func (b *InMemoryEventBus) partitionID(key string) int {
	node, ok := b.hashRing.GetNode(key)
	if !ok {
		return 0
	}
	return b.nodeIndex[node]
}

func (b *InMemoryEventBus) handlers(topic string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subscribers[topic]
}

func (b *InMemoryEventBus) runPartition(p *partition) {
	defer b.wg.Done()
	slog.Debug("partition started", "partition", p.id)

	for event := range p.queue {
		hs := b.handlers(event.Topic)
		if len(hs) == 0 {
			slog.Debug("no handler for topic", "topic", event.Topic)
			continue
		}
		failed := false
		for _, h := range hs {
			if err := h(event); err != nil {
				failed = true
				slog.Warn("failed to handle event", "partition", p.id, "topic", event.Topic, "error", err)
			}
		}
		if failed {
			b.failedCount.Add(1)
		} else {
			b.processedCount.Add(1)
		}
	}
	slog.Debug("partition stopped", "partition", p.id)
}
