package netdev

import (
	"fmt"
	"log/slog"
)

// Registry resolves interface names to handles and takes them back.
type Registry interface {
	Resolve(name string) (*Interface, error)
	Release(iface *Interface) error
}

// LinkRegistry resolves links through netlink in one network context and opens
// a port for each resolved link.
type LinkRegistry struct {
	nc              *NetContext
	open            PortOpener
	disableOffloads bool
}

// RegistryOption configures a LinkRegistry.
type RegistryOption func(*LinkRegistry)

// WithOffloadsDisabled turns receive and segmentation offloads off on every
// resolved link for as long as its port is open.
func WithOffloadsDisabled() RegistryOption {
	return func(r *LinkRegistry) {
		r.disableOffloads = true
	}
}

// NewLinkRegistry creates a registry over nc. The registry does not own nc.
func NewLinkRegistry(nc *NetContext, open PortOpener, opts ...RegistryOption) *LinkRegistry {
	r := &LinkRegistry{nc: nc, open: open}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks the link up and opens its port inside the context's namespace.
func (r *LinkRegistry) Resolve(name string) (*Interface, error) {
	info, err := r.nc.LinkByName(name)
	if err != nil {
		return nil, err
	}
	if !info.Up {
		slog.Warn("interface is not up, frames will not flow until it is", "interface", name)
	}

	var port Port
	err = r.nc.Do(func() error {
		var openErr error
		port, openErr = r.open(info)
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("open port on %s: %w", name, err)
	}

	if !info.Promisc {
		if err := r.nc.SetPromisc(name, true); err != nil {
			port.Close()
			return nil, err
		}
		port = &promiscPort{Port: port, nc: r.nc, name: name}
	}

	if r.disableOffloads {
		var changed map[string]bool
		err := r.nc.Do(func() error {
			var offErr error
			changed, offErr = disableOffloads(name)
			return offErr
		})
		if err != nil {
			slog.Warn("could not disable offloads, oversized frames may be dropped on egress",
				"interface", name, "error", err)
		} else if len(changed) > 0 {
			port = &offloadPort{Port: port, nc: r.nc, name: name, changed: changed}
		}
	}

	slog.Info("interface resolved",
		"interface", info.Name,
		"index", info.Index,
		"mtu", info.MTU,
		"hwaddr", info.HardwareAddr.String(),
		"netns", r.nc.displayName())

	return NewInterface(info, r.nc.Acquire(), port), nil
}

// Release drops the registry's reference on iface.
func (r *LinkRegistry) Release(iface *Interface) error {
	return iface.Release()
}

// promiscPort restores the link's promiscuous flag when the port closes, for
// links that were not promiscuous before the switch took them.
type promiscPort struct {
	Port
	nc   *NetContext
	name string
}

func (p *promiscPort) Close() error {
	err := p.Port.Close()
	if perr := p.nc.SetPromisc(p.name, false); perr != nil {
		slog.Warn("failed to restore promiscuous mode", "interface", p.name, "error", perr)
	}
	return err
}
