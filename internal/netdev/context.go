package netdev

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"firestige.xyz/l2sw/internal/core"
)

// NetContext is a reference-counted handle to a network namespace plus a
// netlink handle bound to it. The zero name means the namespace the process
// started in.
type NetContext struct {
	name   string
	ns     netns.NsHandle
	handle *netlink.Handle
	id     string

	refs atomic.Int32
}

// OpenContext opens the named namespace (as created by `ip netns add`), or the
// current one when name is empty.
func OpenContext(name string) (*NetContext, error) {
	var (
		ns  netns.NsHandle
		err error
	)
	if name == "" {
		ns, err = netns.Get()
	} else {
		ns, err = netns.GetFromName(name)
	}
	if err != nil {
		return nil, fmt.Errorf("open netns %q: %w", name, err)
	}

	handle, err := netlink.NewHandleAt(ns)
	if err != nil {
		ns.Close()
		return nil, fmt.Errorf("netlink handle for netns %q: %w", name, err)
	}

	nc := &NetContext{
		name:   name,
		ns:     ns,
		handle: handle,
		id:     ns.UniqueId(),
	}
	nc.refs.Store(1)

	slog.Debug("network context opened", "netns", nc.displayName(), "id", nc.id)
	return nc, nil
}

// ID identifies the namespace; handles from the same namespace share it.
// A nil context has the empty ID.
func (c *NetContext) ID() string {
	if c == nil {
		return ""
	}
	return c.id
}

// Name returns the namespace name, empty for the initial namespace.
func (c *NetContext) Name() string {
	return c.name
}

// Acquire takes another reference.
func (c *NetContext) Acquire() *NetContext {
	c.refs.Add(1)
	return c
}

// Release drops one reference; the last one closes the netlink handle and the
// namespace file descriptor.
func (c *NetContext) Release() error {
	if c.refs.Add(-1) != 0 {
		return nil
	}
	c.handle.Close()
	if err := c.ns.Close(); err != nil {
		return fmt.Errorf("close netns %q: %w", c.displayName(), err)
	}
	slog.Debug("network context released", "netns", c.displayName())
	return nil
}

// LinkByName resolves a link in this namespace.
func (c *NetContext) LinkByName(name string) (LinkInfo, error) {
	link, err := c.handle.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return LinkInfo{}, fmt.Errorf("%s in netns %q: %w", name, c.displayName(), core.ErrInterfaceNotFound)
		}
		return LinkInfo{}, fmt.Errorf("lookup %s: %w", name, err)
	}

	attrs := link.Attrs()
	info := LinkInfo{
		Name:    attrs.Name,
		Index:   attrs.Index,
		MTU:     attrs.MTU,
		Up:      attrs.OperState == netlink.OperUp || attrs.OperState == netlink.OperUnknown,
		Promisc: attrs.Promisc != 0,
	}
	if len(attrs.HardwareAddr) == core.EthAddrLen {
		info.HardwareAddr = core.MACFromBytes(attrs.HardwareAddr)
	}
	return info, nil
}

// SetPromisc turns promiscuous mode on or off for the named link.
func (c *NetContext) SetPromisc(name string, on bool) error {
	link, err := c.handle.LinkByName(name)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", name, err)
	}
	if on {
		err = c.handle.SetPromiscOn(link)
	} else {
		err = c.handle.SetPromiscOff(link)
	}
	if err != nil {
		return fmt.Errorf("set promiscuous=%t on %s: %w", on, name, err)
	}
	return nil
}

// Do runs fn with the calling OS thread switched into the namespace, so sockets
// created by fn belong to it. For the initial namespace fn runs directly.
func (c *NetContext) Do(fn func() error) error {
	if c.name == "" {
		return fn()
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := netns.Get()
	if err != nil {
		return fmt.Errorf("get current netns: %w", err)
	}
	defer orig.Close()

	if err := netns.Set(c.ns); err != nil {
		return fmt.Errorf("enter netns %q: %w", c.name, err)
	}
	defer func() {
		if err := netns.Set(orig); err != nil {
			slog.Error("failed to restore netns", "error", err)
		}
	}()

	return fn()
}

func (c *NetContext) displayName() string {
	if c.name == "" {
		return "<init>"
	}
	return c.name
}
