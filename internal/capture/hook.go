// Package capture delivers frames received on a set of interfaces to a single
// handler and provides the link ports those frames are read from.
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/l2sw/internal/core"
	"firestige.xyz/l2sw/internal/frame"
	"firestige.xyz/l2sw/internal/metrics"
	"firestige.xyz/l2sw/internal/netdev"
)

// errorBackoff bounds how fast a receive loop spins on a failing port.
const errorBackoff = 10 * time.Millisecond

// Verdict is what a handler reports back to the hook.
type Verdict int

// RxSuccess means the handler took ownership of the buffer.
const RxSuccess Verdict = 0

// Handler receives one frame. It owns buf and must consume it.
type Handler func(buf *frame.Buffer, ingress *netdev.Interface) Verdict

// PortStats are the receive counters of one interface.
type PortStats struct {
	Interface string `json:"interface"`
	Received  uint64 `json:"received"`
	Delivered uint64 `json:"delivered"`
	Skipped   uint64 `json:"skipped"`
	NoBuffer  uint64 `json:"no_buffer"`
	Malformed uint64 `json:"malformed"`
	Errors    uint64 `json:"errors"`
}

type portCounters struct {
	received  atomic.Uint64
	delivered atomic.Uint64
	skipped   atomic.Uint64
	noBuffer  atomic.Uint64
	malformed atomic.Uint64
	errors    atomic.Uint64
}

// Hook owns the receive side. At most one registration is active at a time.
type Hook struct {
	pool *frame.Pool

	mu     sync.Mutex
	active *Registration
}

// NewHook creates a hook that wraps received frames with pool.
func NewHook(pool *frame.Pool) *Hook {
	return &Hook{pool: pool}
}

// Pool returns the buffer pool frames are delivered in.
func (h *Hook) Pool() *frame.Pool {
	return h.pool
}

// Registration is a running set of receive loops.
type Registration struct {
	hook     *Hook
	ifaces   []*netdev.Interface
	counters []*portCounters

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Register starts one receive loop per interface. Frames whose ether type is
// not etherType are skipped unless etherType is core.EtherTypeAll. Handlers
// for different interfaces run concurrently.
func (h *Hook) Register(ifaces []*netdev.Interface, etherType uint16, handler Handler) (*Registration, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.active != nil {
		return nil, core.ErrHookRegistered
	}

	ctx, cancel := context.WithCancel(context.Background())
	reg := &Registration{
		hook:     h,
		ifaces:   ifaces,
		counters: make([]*portCounters, len(ifaces)),
		cancel:   cancel,
	}
	for i, iface := range ifaces {
		iface := iface
		c := &portCounters{}
		reg.counters[i] = c
		reg.wg.Add(1)
		go func() {
			defer reg.wg.Done()
			h.receive(ctx, iface, etherType, handler, c)
		}()
	}
	h.active = reg

	slog.Info("frame hook registered", "interfaces", len(ifaces), "ether_type", etherType)
	return reg, nil
}

func (h *Hook) receive(ctx context.Context, iface *netdev.Interface, etherType uint16, handler Handler, c *portCounters) {
	name := iface.Name()
	port := iface.Port()
	slog.Debug("receive loop started", "interface", name)

	for {
		if ctx.Err() != nil {
			slog.Debug("receive loop stopped", "interface", name)
			return
		}

		data, pktType, err := port.Recv()
		if err != nil {
			if errors.Is(err, core.ErrPollTimeout) {
				continue
			}
			if errors.Is(err, core.ErrPortClosed) {
				slog.Debug("port closed, receive loop exiting", "interface", name)
				return
			}
			c.errors.Add(1)
			metrics.CaptureErrorsTotal.WithLabelValues(name).Inc()
			slog.Debug("port read failed", "interface", name, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
			continue
		}
		c.received.Add(1)

		if etherType != core.EtherTypeAll && len(data) >= core.EthHeaderLen &&
			binary.BigEndian.Uint16(data[core.EthTypeOffset:]) != etherType {
			c.skipped.Add(1)
			metrics.CaptureFramesTotal.WithLabelValues(name, "skipped").Inc()
			continue
		}

		buf, err := h.pool.FromWire(data, pktType)
		if err != nil {
			if errors.Is(err, core.ErrNoBuffer) {
				c.noBuffer.Add(1)
				metrics.CaptureFramesTotal.WithLabelValues(name, "no_buffer").Inc()
			} else {
				c.malformed.Add(1)
				metrics.CaptureFramesTotal.WithLabelValues(name, "malformed").Inc()
			}
			slog.Debug("frame not delivered", "interface", name, "error", err)
			continue
		}

		c.delivered.Add(1)
		metrics.CaptureFramesTotal.WithLabelValues(name, "delivered").Inc()
		handler(buf, iface)
	}
}

// Unregister stops every receive loop and waits for in-flight handlers to
// return. Calling it more than once is safe.
func (r *Registration) Unregister() {
	r.once.Do(func() {
		r.cancel()
		r.wg.Wait()

		r.hook.mu.Lock()
		if r.hook.active == r {
			r.hook.active = nil
		}
		r.hook.mu.Unlock()

		slog.Info("frame hook unregistered", "interfaces", len(r.ifaces))
	})
}

// Stats returns a snapshot of the per-interface receive counters.
func (r *Registration) Stats() []PortStats {
	out := make([]PortStats, len(r.ifaces))
	for i, iface := range r.ifaces {
		c := r.counters[i]
		out[i] = PortStats{
			Interface: iface.Name(),
			Received:  c.received.Load(),
			Delivered: c.delivered.Load(),
			Skipped:   c.skipped.Load(),
			NoBuffer:  c.noBuffer.Load(),
			Malformed: c.malformed.Load(),
			Errors:    c.errors.Load(),
		}
	}
	return out
}
