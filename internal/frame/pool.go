package frame

import (
	"fmt"
	"sync"
	"sync/atomic"

	"firestige.xyz/l2sw/internal/core"
)

const (
	// DefaultHeadroom leaves space in front of the Ethernet header for Push.
	DefaultHeadroom = 64
	// DefaultMaxFrame covers jumbo frames plus a VLAN tag.
	DefaultMaxFrame = 9216
)

// Pool hands out fixed-size frame storage. A positive limit caps the number of
// buffers that may be outstanding at once; Get beyond the cap fails with
// core.ErrNoBuffer instead of allocating, which is how clone failure under
// memory pressure surfaces to the flood path.
type Pool struct {
	headroom int
	maxFrame int
	limit    int64

	inUse   atomic.Int64
	failed  atomic.Uint64
	storage sync.Pool
}

// NewPool creates a pool whose buffers hold maxFrame bytes after headroom.
// limit <= 0 means unbounded.
func NewPool(maxFrame, limit int) *Pool {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	p := &Pool{
		headroom: DefaultHeadroom,
		maxFrame: maxFrame,
		limit:    int64(limit),
	}
	size := p.headroom + p.maxFrame
	p.storage.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// FromWire copies a received frame into pooled storage and returns a Buffer
// positioned the way a capture layer leaves it: the header cursor sits just past
// the Ethernet header, so consumers push it back before touching L2 fields.
func (p *Pool) FromWire(data []byte, pktType PacketType) (*Buffer, error) {
	if len(data) < core.EthHeaderLen {
		return nil, fmt.Errorf("%d bytes: %w", len(data), core.ErrFrameTooShort)
	}
	if len(data) > p.maxFrame {
		return nil, fmt.Errorf("%d bytes > %d: %w", len(data), p.maxFrame, core.ErrFrameTooLarge)
	}

	storage, err := p.get()
	if err != nil {
		return nil, err
	}
	copy(storage[p.headroom:], data)

	return &Buffer{
		pool:    p,
		storage: storage,
		mac:     p.headroom,
		data:    p.headroom + core.EthHeaderLen,
		tail:    p.headroom + len(data),
		pktType: pktType,
	}, nil
}

// InUse returns the number of buffers currently handed out.
func (p *Pool) InUse() int64 {
	return p.inUse.Load()
}

// Failures returns how many Get calls were refused by the limit.
func (p *Pool) Failures() uint64 {
	return p.failed.Load()
}

// Limit returns the configured cap, 0 when unbounded.
func (p *Pool) Limit() int64 {
	return p.limit
}

func (p *Pool) get() ([]byte, error) {
	if n := p.inUse.Add(1); p.limit > 0 && n > p.limit {
		p.inUse.Add(-1)
		p.failed.Add(1)
		return nil, core.ErrNoBuffer
	}
	return *p.storage.Get().(*[]byte), nil
}

func (p *Pool) put(buf []byte) {
	p.inUse.Add(-1)
	if cap(buf) >= p.headroom+p.maxFrame {
		buf = buf[:p.headroom+p.maxFrame]
		p.storage.Put(&buf)
	}
}
