// Package frame implements the owned, clonable frame buffer handed from the
// capture hook to the dispatch engine.
package frame

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/l2sw/internal/core"
)

// PacketType is the link-layer classification assigned on receive. The values
// match the kernel's PACKET_* constants carried in sockaddr_ll.sll_pkttype.
type PacketType uint8

const (
	PacketHost      PacketType = 0 // addressed to this host
	PacketBroadcast PacketType = 1 // link-layer broadcast
	PacketMulticast PacketType = 2 // link-layer multicast
	PacketOtherHost PacketType = 3 // addressed to another host, seen in promiscuous mode
	PacketOutgoing  PacketType = 4 // locally originated, echoed back to packet sockets
	PacketLoopback  PacketType = 5 // looped back through the stack
)

// IsEcho reports whether the frame is a copy of something this host sent.
// Echoes must never be forwarded again or the switch feeds on its own output.
func (t PacketType) IsEcho() bool {
	return t == PacketOutgoing || t == PacketLoopback
}

func (t PacketType) String() string {
	switch t {
	case PacketHost:
		return "host"
	case PacketBroadcast:
		return "broadcast"
	case PacketMulticast:
		return "multicast"
	case PacketOtherHost:
		return "otherhost"
	case PacketOutgoing:
		return "outgoing"
	case PacketLoopback:
		return "loopback"
	default:
		return fmt.Sprintf("pkttype(%d)", uint8(t))
	}
}

// Transmitter is an egress capability. Transmit must not retain data after it returns.
type Transmitter interface {
	Transmit(data []byte) error
}

// Buffer is a single in-flight frame with exactly one owner.
//
// The owner must end the buffer's life with exactly one of Transmit or Dispose.
// Any other method called after that returns core.ErrBufferConsumed or a zero
// value. A Buffer is not safe for concurrent use.
type Buffer struct {
	pool    *Pool
	storage []byte

	mac  int // offset of the Ethernet header, fixed for the buffer's life
	data int // header cursor
	tail int // one past the last frame byte

	pktType PacketType
	target  Transmitter

	consumed bool
}

// Len returns the number of bytes between the header cursor and the frame end.
func (b *Buffer) Len() int {
	if b.consumed {
		return 0
	}
	return b.tail - b.data
}

// Bytes returns the region from the header cursor to the frame end. The slice
// aliases pooled storage and is invalid once the buffer is consumed.
func (b *Buffer) Bytes() []byte {
	if b.consumed {
		return nil
	}
	return b.storage[b.data:b.tail]
}

// Push moves the header cursor n bytes towards the start of storage.
func (b *Buffer) Push(n int) error {
	if b.consumed {
		return core.ErrBufferConsumed
	}
	if n < 0 || b.data-n < 0 {
		return fmt.Errorf("push %d at %d: %w", n, b.data, core.ErrHeaderOutOfBounds)
	}
	b.data -= n
	return nil
}

// Pull moves the header cursor n bytes towards the frame end.
func (b *Buffer) Pull(n int) error {
	if b.consumed {
		return core.ErrBufferConsumed
	}
	if n < 0 || b.data+n > b.tail {
		return fmt.Errorf("pull %d at %d (len %d): %w", n, b.data, b.tail-b.data, core.ErrHeaderOutOfBounds)
	}
	b.data += n
	return nil
}

// HeaderOffset returns the cursor position relative to the Ethernet header:
// 0 when the cursor sits on the header, EthHeaderLen after a capture-layer pull.
func (b *Buffer) HeaderOffset() int {
	return b.data - b.mac
}

// DstMAC returns the destination address at its fixed offset from the frame start.
func (b *Buffer) DstMAC() core.MAC {
	if b.consumed {
		return core.MAC{}
	}
	return core.MACFromBytes(b.storage[b.mac+core.EthDstOffset:])
}

// SrcMAC returns the source address at its fixed offset from the frame start.
func (b *Buffer) SrcMAC() core.MAC {
	if b.consumed {
		return core.MAC{}
	}
	return core.MACFromBytes(b.storage[b.mac+core.EthSrcOffset:])
}

// EtherType returns the type/length field of the outer Ethernet header.
func (b *Buffer) EtherType() uint16 {
	if b.consumed {
		return 0
	}
	return binary.BigEndian.Uint16(b.storage[b.mac+core.EthTypeOffset:])
}

// PacketType returns the receive classification.
func (b *Buffer) PacketType() PacketType {
	return b.pktType
}

// SetTarget retargets the buffer to an egress interface.
func (b *Buffer) SetTarget(t Transmitter) {
	b.target = t
}

// Target returns the current egress target, nil if none was set.
func (b *Buffer) Target() Transmitter {
	return b.target
}

// Consumed reports whether Transmit or Dispose has already been called.
func (b *Buffer) Consumed() bool {
	return b.consumed
}

// Clone returns an independent copy backed by its own storage. When the pool is
// exhausted it returns core.ErrNoBuffer and the receiver is left untouched.
func (b *Buffer) Clone() (*Buffer, error) {
	if b.consumed {
		return nil, core.ErrBufferConsumed
	}
	storage, err := b.pool.get()
	if err != nil {
		return nil, err
	}
	start := min(b.mac, b.data)
	copy(storage[start:b.tail], b.storage[start:b.tail])

	return &Buffer{
		pool:    b.pool,
		storage: storage,
		mac:     b.mac,
		data:    b.data,
		tail:    b.tail,
		pktType: b.pktType,
		target:  b.target,
	}, nil
}

// Transmit hands the bytes from the header cursor onward to the target and
// consumes the buffer, whether or not the transmission succeeds.
func (b *Buffer) Transmit() error {
	if b.consumed {
		return core.ErrBufferConsumed
	}
	t := b.target
	if t == nil {
		b.release()
		return core.ErrNoTarget
	}
	err := t.Transmit(b.storage[b.data:b.tail])
	b.release()
	return err
}

// Dispose consumes the buffer without transmitting it. Disposing an already
// consumed buffer is a no-op.
func (b *Buffer) Dispose() {
	if b.consumed {
		return
	}
	b.release()
}

func (b *Buffer) release() {
	b.consumed = true
	b.target = nil
	b.pool.put(b.storage)
	b.storage = nil
}
