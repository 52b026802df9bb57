package eventbus

import "log/slog"

// FDBPublisher publishes FDB events keyed by station address. A nil
// *FDBPublisher discards everything, so callers need no enabled check.
type FDBPublisher struct {
	bus EventBus
}

// NewFDBPublisher wraps bus.
func NewFDBPublisher(bus EventBus) *FDBPublisher {
	return &FDBPublisher{bus: bus}
}

// Publish never blocks; a dropped event is counted by the bus and logged at
// debug level.
func (p *FDBPublisher) Publish(ev FDBEvent) {
	if p == nil {
		return
	}
	if err := p.bus.Publish(&Event{Topic: TopicFDB, Key: ev.MAC, Payload: ev}); err != nil {
		slog.Debug("fdb event dropped", "kind", ev.Kind, "mac", ev.MAC, "error", err)
	}
}

// SubscribeFDB registers handler for FDB events.
func SubscribeFDB(bus EventBus, handler func(FDBEvent) error) error {
	return bus.Subscribe(TopicFDB, func(event *Event) error {
		ev, ok := event.Payload.(FDBEvent)
		if !ok {
			return nil
		}
		return handler(ev)
	})
}
