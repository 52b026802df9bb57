package netdevtest

import (
	"fmt"
	"sync"

	"firestige.xyz/l2sw/internal/core"
	"firestige.xyz/l2sw/internal/netdev"
)

// Registry resolves a fixed set of names to in-memory interfaces. Interfaces
// get ifindex 1..n in the order given and locally administered addresses
// 02:00:00:00:00:<index>.
type Registry struct {
	mu       sync.Mutex
	links    map[string]netdev.LinkInfo
	ports    map[string]*MemPort
	fail     map[string]error
	resolved []string
	released []string
}

// NewRegistry creates a registry that knows names.
func NewRegistry(names ...string) *Registry {
	r := &Registry{
		links: make(map[string]netdev.LinkInfo, len(names)),
		ports: make(map[string]*MemPort, len(names)),
		fail:  make(map[string]error),
	}
	for i, name := range names {
		idx := i + 1
		r.links[name] = netdev.LinkInfo{
			Name:         name,
			Index:        idx,
			MTU:          1500,
			HardwareAddr: core.MAC{0x02, 0, 0, 0, 0, byte(idx)},
			Up:           true,
		}
		r.ports[name] = NewMemPort()
	}
	return r
}

// Port returns the in-memory port behind name.
func (r *Registry) Port(name string) *MemPort {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ports[name]
}

// FailOn makes Resolve(name) return err.
func (r *Registry) FailOn(name string, err error) {
	r.mu.Lock()
	r.fail[name] = err
	r.mu.Unlock()
}

// Resolve returns a new handle for name.
func (r *Registry) Resolve(name string) (*netdev.Interface, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.fail[name]; err != nil {
		return nil, err
	}
	info, ok := r.links[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, core.ErrInterfaceNotFound)
	}
	r.resolved = append(r.resolved, name)
	return netdev.NewInterface(info, nil, r.ports[name]), nil
}

// Release records the release and drops the handle's reference.
func (r *Registry) Release(iface *netdev.Interface) error {
	r.mu.Lock()
	r.released = append(r.released, iface.Name())
	r.mu.Unlock()
	return iface.Release()
}

// Resolved returns names in resolution order.
func (r *Registry) Resolved() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.resolved...)
}

// Released returns names in release order.
func (r *Registry) Released() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.released...)
}

// Outstanding returns how many resolved handles have not been released.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resolved) - len(r.released)
}
