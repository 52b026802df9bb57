package lswitch

import (
	"log/slog"
	"time"

	"firestige.xyz/l2sw/internal/eventbus"
	"firestige.xyz/l2sw/internal/fdb"
	"firestige.xyz/l2sw/internal/metrics"
	"firestige.xyz/l2sw/internal/netdev"
)

// runAging sweeps expired entries every sweep interval until shutdown is
// requested. It sleeps without the lock; wake cuts a sleep short so the drain
// handshake does not wait a full interval.
func (sw *Switch) runAging() {
	defer close(sw.agingDone)
	slog.Debug("aging task started", "interval", sw.cfg.SweepInterval, "max_age", sw.cfg.MaxAge)

	for {
		select {
		case <-sw.clock.After(sw.cfg.SweepInterval):
		case <-sw.wake:
		}

		sw.state.mu.Lock()
		if sw.state.shuttingDown {
			sw.state.agingStopped = true
			sw.state.mu.Unlock()
			slog.Debug("aging task stopped")
			return
		}
		_, evs := sw.sweepLocked(false)
		sw.state.mu.Unlock()

		sw.publish(evs)
	}
}

// sweepLocked runs one pass over the table and returns how many entries it
// removed and the events that produced. sw.state.mu must be held.
func (sw *Switch) sweepLocked(force bool) (int, []eventbus.FDBEvent) {
	start := time.Now()
	now := sw.clock.Now()

	kind := eventbus.FDBExpired
	if force {
		kind = eventbus.FDBFlushed
	}
	var evs []eventbus.FDBEvent
	var onRemove func(fdb.Entry[*netdev.Interface])
	if sw.events != nil {
		onRemove = func(e fdb.Entry[*netdev.Interface]) {
			evs = append(evs, eventbus.FDBEvent{
				Kind:      kind,
				MAC:       e.Addr.String(),
				Interface: e.Target.Name(),
				Time:      now,
			})
		}
	}

	n := sw.state.table.Sweep(now, force, onRemove)
	sw.stats.sweeps.Add(1)
	metrics.SweepDurationSeconds.Observe(time.Since(start).Seconds())
	metrics.FDBEntries.Set(float64(sw.state.table.Len()))

	if n > 0 {
		if force {
			sw.stats.flushed.Add(uint64(n))
			metrics.FDBRemovedTotal.WithLabelValues("flushed").Add(float64(n))
		} else {
			sw.stats.expired.Add(uint64(n))
			metrics.FDBRemovedTotal.WithLabelValues("expired").Add(float64(n))
		}
		slog.Debug("fdb swept", "removed", n, "force", force, "remaining", sw.state.table.Len())
	}
	return n, evs
}

func (sw *Switch) publish(evs []eventbus.FDBEvent) {
	for _, ev := range evs {
		sw.events.Publish(ev)
	}
}
