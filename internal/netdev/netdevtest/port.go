// Package netdevtest provides in-memory ports and registries for tests.
package netdevtest

import (
	"sync"
	"time"

	"firestige.xyz/l2sw/internal/core"
	"firestige.xyz/l2sw/internal/frame"
)

const defaultPollTimeout = 5 * time.Millisecond

type rxFrame struct {
	data    []byte
	pktType frame.PacketType
}

// MemPort is a netdev.Port backed by channels and a slice of sent frames.
type MemPort struct {
	rx     chan rxFrame
	done   chan struct{}
	poll   time.Duration
	onSend func([]byte)

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	closed  bool
}

// NewMemPort returns an open port with a small receive queue.
func NewMemPort() *MemPort {
	return &MemPort{
		rx:   make(chan rxFrame, 64),
		done: make(chan struct{}),
		poll: defaultPollTimeout,
	}
}

// Inject queues a frame for Recv. It copies data.
func (p *MemPort) Inject(data []byte, pktType frame.PacketType) {
	p.rx <- rxFrame{data: append([]byte(nil), data...), pktType: pktType}
}

// Recv returns the next injected frame or core.ErrPollTimeout.
func (p *MemPort) Recv() ([]byte, frame.PacketType, error) {
	timer := time.NewTimer(p.poll)
	defer timer.Stop()

	select {
	case f := <-p.rx:
		return f.data, f.pktType, nil
	case <-p.done:
		return nil, 0, core.ErrPortClosed
	case <-timer.C:
		return nil, 0, core.ErrPollTimeout
	}
}

// Send records a copy of data.
func (p *MemPort) Send(data []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return core.ErrPortClosed
	}
	if p.sendErr != nil {
		err := p.sendErr
		p.mu.Unlock()
		return err
	}
	cp := append([]byte(nil), data...)
	p.sent = append(p.sent, cp)
	hook := p.onSend
	p.mu.Unlock()

	if hook != nil {
		hook(cp)
	}
	return nil
}

// Close stops Recv and rejects further Sends. Closing twice is a no-op.
func (p *MemPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

// Sent returns copies of every frame sent so far.
func (p *MemPort) Sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.sent))
	copy(out, p.sent)
	return out
}

// Reset forgets the sent frames.
func (p *MemPort) Reset() {
	p.mu.Lock()
	p.sent = nil
	p.mu.Unlock()
}

// SetSendError makes every following Send fail with err; nil restores success.
func (p *MemPort) SetSendError(err error) {
	p.mu.Lock()
	p.sendErr = err
	p.mu.Unlock()
}

// OnSend installs a callback invoked after each successful Send.
func (p *MemPort) OnSend(fn func([]byte)) {
	p.mu.Lock()
	p.onSend = fn
	p.mu.Unlock()
}

// Closed reports whether Close was called.
func (p *MemPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
