package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/gopacket/afpacket"

	"firestige.xyz/l2sw/internal/core"
	"firestige.xyz/l2sw/internal/frame"
	"firestige.xyz/l2sw/internal/netdev"
)

// afpacketPort reads from a TPACKET_V3 ring. The kernel filter drops echoes, so
// everything read here is classified by destination address.
type afpacketPort struct {
	name   string
	self   core.MAC
	handle *afpacket.TPacket
}

func openAFPacket(opts Options, link netdev.LinkInfo) (netdev.Port, error) {
	frameSize, blockSize, numBlocks, err := ringGeometry(opts.SnapLen, opts.BlockSize, opts.NumBlocks, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(link.Name),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(opts.PollTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	)
	if err != nil {
		return nil, fmt.Errorf("create TPacket handle: %w", err)
	}

	filter, err := buildFilter(opts.SnapLen, opts.BPFFilter)
	if err != nil {
		handle.Close()
		return nil, err
	}
	if err := handle.SetBPF(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("set BPF: %w", err)
	}

	slog.Debug("afpacket port opened",
		"interface", link.Name,
		"frame_size", frameSize,
		"block_size", blockSize,
		"num_blocks", numBlocks,
		"bpf_filter", opts.BPFFilter)

	return &afpacketPort{name: link.Name, self: link.HardwareAddr, handle: handle}, nil
}

// Recv returns ring memory directly; it stays valid until the next Recv.
func (p *afpacketPort) Recv() ([]byte, frame.PacketType, error) {
	data, _, err := p.handle.ZeroCopyReadPacketData()
	if err != nil {
		if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll) {
			return nil, 0, core.ErrPollTimeout
		}
		return nil, 0, err
	}
	return data, classify(data, p.self), nil
}

func (p *afpacketPort) Send(data []byte) error {
	return p.handle.WritePacketData(data)
}

func (p *afpacketPort) Close() error {
	p.handle.Close()
	slog.Debug("afpacket port closed", "interface", p.name)
	return nil
}
