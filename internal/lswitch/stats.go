package lswitch

import (
	"time"

	"firestige.xyz/l2sw/internal/capture"
)

// FrameStats counts frames by dispatch path.
type FrameStats struct {
	Flooded        uint64 `json:"flooded"`
	Unicast        uint64 `json:"unicast"`
	Echo           uint64 `json:"echo"`
	UnknownIngress uint64 `json:"unknown_ingress"`
	AfterClose     uint64 `json:"after_close"`
	Transmitted    uint64 `json:"transmitted"`
	TransmitErrors uint64 `json:"transmit_errors"`
	CloneFailures  uint64 `json:"clone_failures"`
}

// FDBStats counts table changes.
type FDBStats struct {
	Entries  int           `json:"entries"`
	Capacity int           `json:"capacity"`
	MaxAge   time.Duration `json:"max_age"`
	Learned  uint64        `json:"learned"`
	Moved    uint64        `json:"moved"`
	Rejected uint64        `json:"rejected"`
	Expired  uint64        `json:"expired"`
	Flushed  uint64        `json:"flushed"`
	Sweeps   uint64        `json:"sweeps"`
}

// Stats is a point-in-time view of the switch.
type Stats struct {
	Interfaces    []string            `json:"interfaces"`
	HubMode       bool                `json:"hub_mode"`
	SweepInterval time.Duration       `json:"sweep_interval"`
	Uptime        time.Duration       `json:"uptime"`
	ShuttingDown  bool                `json:"shutting_down"`
	AgingStopped  bool                `json:"aging_stopped"`
	Frames        FrameStats          `json:"frames"`
	FDB           FDBStats            `json:"fdb"`
	Ports         []capture.PortStats `json:"ports"`
}

// FDBEntry is one row of the forwarding database as the control plane sees it.
type FDBEntry struct {
	MAC       string        `json:"mac" yaml:"mac" mapstructure:"mac"`
	Interface string        `json:"interface" yaml:"interface" mapstructure:"interface"`
	Expires   time.Time     `json:"expires" yaml:"expires" mapstructure:"expires"`
	ExpiresIn time.Duration `json:"expires_in" yaml:"expires_in" mapstructure:"expires_in"`
}

// Stats returns the current counters.
func (sw *Switch) Stats() Stats {
	names := make([]string, len(sw.state.members))
	for i, m := range sw.state.members {
		names[i] = m.Name()
	}

	sw.state.mu.Lock()
	entries := sw.state.table.Len()
	shuttingDown := sw.state.shuttingDown
	agingStopped := sw.state.agingStopped
	sw.state.mu.Unlock()

	c := &sw.stats
	return Stats{
		Interfaces:    names,
		HubMode:       sw.cfg.HubMode,
		SweepInterval: sw.cfg.SweepInterval,
		Uptime:        sw.clock.Since(sw.started),
		ShuttingDown:  shuttingDown,
		AgingStopped:  agingStopped,
		Frames: FrameStats{
			Flooded:        c.flooded.Load(),
			Unicast:        c.unicast.Load(),
			Echo:           c.echo.Load(),
			UnknownIngress: c.unknownIngress.Load(),
			AfterClose:     c.closed.Load(),
			Transmitted:    c.transmitted.Load(),
			TransmitErrors: c.transmitErrors.Load(),
			CloneFailures:  c.cloneFailures.Load(),
		},
		FDB: FDBStats{
			Entries:  entries,
			Capacity: sw.cfg.FDBCapacity,
			MaxAge:   sw.cfg.MaxAge,
			Learned:  c.learned.Load(),
			Moved:    c.moved.Load(),
			Rejected: c.rejected.Load(),
			Expired:  c.expired.Load(),
			Flushed:  c.flushed.Load(),
			Sweeps:   c.sweeps.Load(),
		},
		Ports: sw.reg.Stats(),
	}
}

// FDB returns the table contents in address order.
func (sw *Switch) FDB() []FDBEntry {
	sw.state.mu.Lock()
	raw := sw.state.table.Entries()
	sw.state.mu.Unlock()

	now := sw.clock.Now()
	out := make([]FDBEntry, len(raw))
	for i, e := range raw {
		out[i] = FDBEntry{
			MAC:       e.Addr.String(),
			Interface: e.Target.Name(),
			Expires:   e.Expires,
			ExpiresIn: e.Expires.Sub(now),
		}
	}
	return out
}
