package lswitch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"firestige.xyz/l2sw/internal/capture"
	"firestige.xyz/l2sw/internal/core"
	"firestige.xyz/l2sw/internal/eventbus"
	"firestige.xyz/l2sw/internal/metrics"
	"firestige.xyz/l2sw/internal/netdev"
)

// Config is fixed for the lifetime of a switch.
type Config struct {
	Interfaces      []string
	HubMode         bool
	MaxAge          time.Duration
	FDBCapacity     int
	SweepInterval   time.Duration
	FlushOnShutdown bool
}

func (c *Config) applyDefaults() {
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.FDBCapacity <= 0 {
		c.FDBCapacity = DefaultFDBCapacity
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

// Deps are the collaborators a switch runs on.
type Deps struct {
	Registry netdev.Registry
	Hook     *capture.Hook
	Clock    clock.Clock            // defaults to the real clock
	Events   *eventbus.FDBPublisher // nil disables FDB events
}

// Switch is a running learning switch. It is created by Init and torn down by
// Shutdown.
type Switch struct {
	cfg      Config
	registry netdev.Registry
	clock    clock.Clock
	events   *eventbus.FDBPublisher

	state *state
	reg   *capture.Registration
	stats counters

	wake      chan struct{}
	agingDone chan struct{}
	stopOnce  sync.Once
	started   time.Time
}

// Init resolves every configured interface, registers the frame hook for all
// ether types and starts the aging task. If any step fails, everything acquired
// so far is released in reverse order and no switch is left running.
func Init(cfg Config, deps Deps) (*Switch, error) {
	cfg.applyDefaults()
	if len(cfg.Interfaces) == 0 {
		return nil, fmt.Errorf("no member interfaces: %w", core.ErrConfigInvalid)
	}
	if deps.Registry == nil || deps.Hook == nil {
		return nil, errors.New("lswitch: registry and hook are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}

	members := make([]*netdev.Interface, 0, len(cfg.Interfaces))
	releaseAll := func() {
		for i := len(members) - 1; i >= 0; i-- {
			if err := deps.Registry.Release(members[i]); err != nil {
				slog.Warn("failed to release interface", "interface", members[i].Name(), "error", err)
			}
		}
	}

	for _, name := range cfg.Interfaces {
		iface, err := deps.Registry.Resolve(name)
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("resolve interface %q: %w", name, err)
		}
		members = append(members, iface)
	}

	sw := &Switch{
		cfg:       cfg,
		registry:  deps.Registry,
		clock:     deps.Clock,
		events:    deps.Events,
		state:     newState(members, cfg.FDBCapacity, cfg.MaxAge),
		wake:      make(chan struct{}),
		agingDone: make(chan struct{}),
		started:   deps.Clock.Now(),
	}

	reg, err := deps.Hook.Register(members, core.EtherTypeAll, sw.HandleFrame)
	if err != nil {
		releaseAll()
		return nil, fmt.Errorf("register frame hook: %w", err)
	}
	sw.reg = reg

	go sw.runAging()

	metrics.SwitchStatus.Set(metrics.SwitchStatusRunning)
	slog.Info("switch started",
		"interfaces", cfg.Interfaces,
		"hub_mode", cfg.HubMode,
		"max_age", cfg.MaxAge,
		"fdb_capacity", cfg.FDBCapacity,
		"sweep_interval", cfg.SweepInterval)
	return sw, nil
}

// Shutdown asks the aging task to stop and waits for it, optionally flushes the
// table, unregisters the frame hook and releases the member interfaces in
// reverse acquisition order. Calls after the first return immediately.
func (sw *Switch) Shutdown() {
	sw.stopOnce.Do(func() {
		metrics.SwitchStatus.Set(metrics.SwitchStatusShuttingDown)
		slog.Info("switch shutting down")

		sw.state.mu.Lock()
		sw.state.shuttingDown = true
		sw.state.mu.Unlock()

		close(sw.wake)
		<-sw.agingDone

		sw.reg.Unregister()

		if sw.cfg.FlushOnShutdown {
			sw.Flush()
		}

		sw.state.mu.Lock()
		sw.state.closed = true
		sw.state.mu.Unlock()

		for i := len(sw.state.members) - 1; i >= 0; i-- {
			m := sw.state.members[i]
			if err := sw.registry.Release(m); err != nil {
				slog.Warn("failed to release interface", "interface", m.Name(), "error", err)
			}
		}

		metrics.SwitchStatus.Set(metrics.SwitchStatusStopped)
		slog.Info("switch stopped")
	})
}

// Flush removes every table entry now and returns how many were removed.
func (sw *Switch) Flush() int {
	sw.state.mu.Lock()
	n, evs := sw.sweepLocked(true)
	sw.state.mu.Unlock()

	sw.publish(evs)
	slog.Info("fdb flushed", "removed", n)
	return n
}

// Config returns the effective configuration.
func (sw *Switch) Config() Config {
	return sw.cfg
}
