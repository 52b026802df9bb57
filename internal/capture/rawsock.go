package capture

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"firestige.xyz/l2sw/internal/core"
	"firestige.xyz/l2sw/internal/frame"
	"firestige.xyz/l2sw/internal/netdev"
)

// rawsockPort is a plain AF_PACKET socket. It sees every frame including the
// host's own transmissions and reports the kernel's pkttype for each.
type rawsockPort struct {
	name    string
	ifindex int
	fd      int
	buf     []byte
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

func openRawSocket(opts Options, link netdev.LinkInfo) (netdev.Port, error) {
	proto := htons(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, fmt.Errorf("AF_PACKET socket: %w", err)
	}

	fail := func(step string, err error) (netdev.Port, error) {
		unix.Close(fd)
		return nil, fmt.Errorf("%s on %s: %w", step, link.Name, err)
	}

	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: link.Index}); err != nil {
		return fail("bind", err)
	}

	mreq := unix.PacketMreq{Ifindex: int32(link.Index), Type: unix.PACKET_MR_PROMISC}
	if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &mreq); err != nil {
		return fail("promiscuous membership", err)
	}

	tv := unix.NsecToTimeval(opts.PollTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fail("receive timeout", err)
	}

	if opts.BPFFilter != "" {
		insns, err := compileExpr(opts.SnapLen, opts.BPFFilter)
		if err != nil {
			return fail("filter", err)
		}
		filter := make([]unix.SockFilter, len(insns))
		for i, in := range insns {
			filter[i] = unix.SockFilter{Code: in.Op, Jt: in.Jt, Jf: in.Jf, K: in.K}
		}
		prog := unix.SockFprog{Len: uint16(len(filter)), Filter: &filter[0]}
		if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &prog); err != nil {
			return fail("attach filter", err)
		}
	}

	slog.Debug("raw socket port opened", "interface", link.Name, "ifindex", link.Index)
	return &rawsockPort{
		name:    link.Name,
		ifindex: link.Index,
		fd:      fd,
		buf:     make([]byte, opts.SnapLen),
	}, nil
}

func (p *rawsockPort) Recv() ([]byte, frame.PacketType, error) {
	n, from, err := unix.Recvfrom(p.fd, p.buf, 0)
	if err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			return nil, 0, core.ErrPollTimeout
		case errors.Is(err, unix.EBADF):
			return nil, 0, core.ErrPortClosed
		}
		return nil, 0, err
	}

	pktType := frame.PacketOtherHost
	if sll, ok := from.(*unix.SockaddrLinklayer); ok {
		pktType = frame.PacketType(sll.Pkttype)
	}
	return p.buf[:n], pktType, nil
}

func (p *rawsockPort) Send(data []byte) error {
	_, err := unix.Write(p.fd, data)
	return err
}

func (p *rawsockPort) Close() error {
	if err := unix.Close(p.fd); err != nil {
		return fmt.Errorf("close raw socket on %s: %w", p.name, err)
	}
	slog.Debug("raw socket port closed", "interface", p.name)
	return nil
}
