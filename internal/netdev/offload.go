package netdev

import (
	"fmt"
	"log/slog"

	"github.com/safchain/ethtool"
)

// Receive offloads coalesce segments into frames larger than the link MTU before
// a packet socket sees them. Forwarding those would exceed the egress MTU.
var offloadFeatures = []string{
	"rx-gro",
	"rx-gro-hw",
	"rx-lro",
	"tx-generic-segmentation",
	"tx-tcp-segmentation",
	"tx-tcp6-segmentation",
}

// featureControl is the subset of *ethtool.Ethtool used for offload handling.
type featureControl interface {
	Features(intf string) (map[string]bool, error)
	Change(intf string, config map[string]bool) error
	Close()
}

var newFeatureControl = func() (featureControl, error) {
	return ethtool.NewEthtool()
}

// disableOffloads turns off every enabled offload in offloadFeatures and
// returns the set it changed, so the caller can turn them back on.
func disableOffloads(name string) (map[string]bool, error) {
	fc, err := newFeatureControl()
	if err != nil {
		return nil, fmt.Errorf("ethtool: %w", err)
	}
	defer fc.Close()

	current, err := fc.Features(name)
	if err != nil {
		return nil, fmt.Errorf("read features of %s: %w", name, err)
	}

	changed := make(map[string]bool)
	for _, f := range offloadFeatures {
		if on, ok := current[f]; ok && on {
			changed[f] = false
		}
	}
	if len(changed) == 0 {
		return nil, nil
	}
	if err := fc.Change(name, changed); err != nil {
		return nil, fmt.Errorf("disable offloads on %s: %w", name, err)
	}
	slog.Debug("offloads disabled", "interface", name, "features", len(changed))
	return changed, nil
}

func restoreOffloads(name string, changed map[string]bool) error {
	if len(changed) == 0 {
		return nil
	}
	fc, err := newFeatureControl()
	if err != nil {
		return fmt.Errorf("ethtool: %w", err)
	}
	defer fc.Close()

	restore := make(map[string]bool, len(changed))
	for f := range changed {
		restore[f] = true
	}
	return fc.Change(name, restore)
}

// offloadPort turns the offloads it disabled back on when the port closes.
type offloadPort struct {
	Port
	nc      *NetContext
	name    string
	changed map[string]bool
}

func (p *offloadPort) Close() error {
	err := p.Port.Close()
	rerr := p.nc.Do(func() error {
		return restoreOffloads(p.name, p.changed)
	})
	if rerr != nil {
		slog.Warn("failed to restore offloads", "interface", p.name, "error", rerr)
	}
	return err
}
