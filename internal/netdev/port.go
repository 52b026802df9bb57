package netdev

import "firestige.xyz/l2sw/internal/frame"

// Port is the link I/O behind one interface.
//
// Recv blocks for at most the port's poll timeout and returns core.ErrPollTimeout
// when nothing arrived; callers loop on it. The returned slice is only valid
// until the next Recv call. Send must not retain data after returning.
// Recv is called from a single goroutine; Send may be called concurrently.
type Port interface {
	Recv() ([]byte, frame.PacketType, error)
	Send(data []byte) error
	Close() error
}

// PortOpener opens the port for a resolved link. It runs inside the link's
// network namespace.
type PortOpener func(link LinkInfo) (Port, error)
