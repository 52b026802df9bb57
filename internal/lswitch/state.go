// Package lswitch implements the learning switch: shared switch state, the
// per-frame dispatch engine and the background aging task.
package lswitch

import (
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/l2sw/internal/fdb"
	"firestige.xyz/l2sw/internal/netdev"
)

const (
	DefaultMaxAge        = 180 * time.Second
	DefaultFDBCapacity   = 2048
	DefaultSweepInterval = time.Second
)

// state is everything the dispatch engine and the aging task share. members is
// fixed after construction; the table and both flags are guarded by mu.
type state struct {
	members []*netdev.Interface

	mu           sync.Mutex
	table        *fdb.Table[*netdev.Interface]
	shuttingDown bool
	agingStopped bool
	closed       bool // hook gone, members released
}

func newState(members []*netdev.Interface, capacity int, maxAge time.Duration) *state {
	return &state{
		members: members,
		table:   fdb.New(capacity, maxAge, sameInterface),
	}
}

func sameInterface(a, b *netdev.Interface) bool {
	return a.Equal(b)
}

// member returns the configured handle equal to iface, nil if there is none.
func (s *state) member(iface *netdev.Interface) *netdev.Interface {
	for _, m := range s.members {
		if m.Equal(iface) {
			return m
		}
	}
	return nil
}

type counters struct {
	flooded        atomic.Uint64
	unicast        atomic.Uint64
	echo           atomic.Uint64
	unknownIngress atomic.Uint64
	closed         atomic.Uint64
	transmitted    atomic.Uint64
	transmitErrors atomic.Uint64
	cloneFailures  atomic.Uint64
	learned        atomic.Uint64
	moved          atomic.Uint64
	rejected       atomic.Uint64
	expired        atomic.Uint64
	flushed        atomic.Uint64
	sweeps         atomic.Uint64
}
