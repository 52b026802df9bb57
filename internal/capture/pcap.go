package capture

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/l2sw/internal/core"
	"firestige.xyz/l2sw/internal/frame"
	"firestige.xyz/l2sw/internal/netdev"
)

// pcapPort captures inbound traffic only, so libpcap never hands back frames
// this host transmitted.
type pcapPort struct {
	name   string
	self   core.MAC
	handle *pcap.Handle
}

func openPcap(opts Options, link netdev.LinkInfo) (netdev.Port, error) {
	inactive, err := pcap.NewInactiveHandle(link.Name)
	if err != nil {
		return nil, fmt.Errorf("pcap handle for %s: %w", link.Name, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(opts.SnapLen); err != nil {
		return nil, fmt.Errorf("set snap_len: %w", err)
	}
	if err := inactive.SetPromisc(true); err != nil {
		return nil, fmt.Errorf("set promiscuous: %w", err)
	}
	if err := inactive.SetTimeout(opts.PollTimeout); err != nil {
		return nil, fmt.Errorf("set timeout: %w", err)
	}
	if err := inactive.SetImmediateMode(true); err != nil {
		return nil, fmt.Errorf("set immediate mode: %w", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("activate pcap on %s: %w", link.Name, err)
	}
	if lt := handle.LinkType(); lt != layers.LinkTypeEthernet {
		handle.Close()
		return nil, fmt.Errorf("%s has link type %s, want Ethernet", link.Name, lt)
	}
	if err := handle.SetDirection(pcap.DirectionIn); err != nil {
		handle.Close()
		return nil, fmt.Errorf("set direction: %w", err)
	}
	if opts.BPFFilter != "" {
		if err := handle.SetBPFFilter(opts.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("set BPF filter %q: %w", opts.BPFFilter, err)
		}
	}

	slog.Debug("pcap port opened", "interface", link.Name, "bpf_filter", opts.BPFFilter)
	return &pcapPort{name: link.Name, self: link.HardwareAddr, handle: handle}, nil
}

func (p *pcapPort) Recv() ([]byte, frame.PacketType, error) {
	data, _, err := p.handle.ZeroCopyReadPacketData()
	if err != nil {
		if errors.Is(err, pcap.NextErrorTimeoutExpired) {
			return nil, 0, core.ErrPollTimeout
		}
		if errors.Is(err, pcap.NextErrorNoMorePackets) {
			return nil, 0, core.ErrPortClosed
		}
		return nil, 0, err
	}
	return data, classify(data, p.self), nil
}

func (p *pcapPort) Send(data []byte) error {
	return p.handle.WritePacketData(data)
}

func (p *pcapPort) Close() error {
	p.handle.Close()
	slog.Debug("pcap port closed", "interface", p.name)
	return nil
}
