// Package netdev provides interface handles and the network context they are
// resolved in.
package netdev

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"firestige.xyz/l2sw/internal/core"
)

// LinkInfo describes a link as seen at resolve time.
type LinkInfo struct {
	Name         string
	Index        int
	MTU          int
	HardwareAddr core.MAC
	Up           bool
	Promisc      bool
}

// Interface is a reference-counted handle to one network interface. Handles
// compare by underlying identity (network context and ifindex), never by pointer,
// so two resolutions of the same link are Equal.
type Interface struct {
	info LinkInfo
	nc   *NetContext
	port Port

	refs     atomic.Int32
	released atomic.Bool
}

// NewInterface wraps an opened port. The returned handle holds one reference;
// it takes ownership of nc's reference and of port.
func NewInterface(info LinkInfo, nc *NetContext, port Port) *Interface {
	iface := &Interface{info: info, nc: nc, port: port}
	iface.refs.Store(1)
	return iface
}

func (i *Interface) Name() string           { return i.info.Name }
func (i *Interface) Index() int             { return i.info.Index }
func (i *Interface) MTU() int               { return i.info.MTU }
func (i *Interface) HardwareAddr() core.MAC { return i.info.HardwareAddr }
func (i *Interface) Port() Port             { return i.port }

// Context returns the network context the interface was resolved in, nil for
// handles built without one.
func (i *Interface) Context() *NetContext { return i.nc }

// Equal reports whether both handles refer to the same link.
func (i *Interface) Equal(o *Interface) bool {
	if i == nil || o == nil {
		return i == o
	}
	return i.info.Index == o.info.Index && i.nc.ID() == o.nc.ID()
}

// Transmit sends one frame out of the interface.
func (i *Interface) Transmit(data []byte) error {
	if i.released.Load() {
		return fmt.Errorf("%s: %w", i.info.Name, core.ErrInterfaceReleased)
	}
	return i.port.Send(data)
}

// Acquire takes another reference.
func (i *Interface) Acquire() *Interface {
	i.refs.Add(1)
	return i
}

// Release drops one reference. The last release closes the port and releases
// the network context.
func (i *Interface) Release() error {
	n := i.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 || !i.released.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", i.info.Name, core.ErrInterfaceReleased)
	}

	slog.Debug("releasing interface", "interface", i.info.Name, "index", i.info.Index)
	err := i.port.Close()
	if i.nc != nil {
		if ncErr := i.nc.Release(); ncErr != nil && err == nil {
			err = ncErr
		}
	}
	return err
}

// Released reports whether the last reference is gone.
func (i *Interface) Released() bool {
	return i.released.Load()
}

func (i *Interface) String() string {
	return fmt.Sprintf("%s(%d)", i.info.Name, i.info.Index)
}
