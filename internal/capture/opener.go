package capture

import (
	"fmt"
	"time"

	"firestige.xyz/l2sw/internal/netdev"
)

// Backend names accepted by NewPortOpener.
const (
	TypeAFPacket = "afpacket"
	TypeRawSock  = "rawsock"
	TypePcap     = "pcap"
)

const (
	defaultSnapLen     = 65535
	defaultBlockSize   = 1 << 20
	defaultNumBlocks   = 8
	defaultPollTimeout = 100 * time.Millisecond
)

// Options configure every port opened by one opener.
type Options struct {
	Type        string
	SnapLen     int
	BlockSize   int
	NumBlocks   int
	PollTimeout time.Duration
	BPFFilter   string
}

func (o *Options) applyDefaults() {
	if o.Type == "" {
		o.Type = TypeAFPacket
	}
	if o.SnapLen <= 0 {
		o.SnapLen = defaultSnapLen
	}
	if o.BlockSize <= 0 {
		o.BlockSize = defaultBlockSize
	}
	if o.NumBlocks <= 0 {
		o.NumBlocks = defaultNumBlocks
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = defaultPollTimeout
	}
}

// NewPortOpener returns the netdev.PortOpener for the configured backend.
func NewPortOpener(opts Options) (netdev.PortOpener, error) {
	opts.applyDefaults()

	var open func(Options, netdev.LinkInfo) (netdev.Port, error)
	switch opts.Type {
	case TypeAFPacket:
		open = openAFPacket
	case TypeRawSock:
		open = openRawSocket
	case TypePcap:
		open = openPcap
	default:
		return nil, fmt.Errorf("unknown capture type %q (want %s, %s or %s)", opts.Type, TypeAFPacket, TypeRawSock, TypePcap)
	}

	return func(link netdev.LinkInfo) (netdev.Port, error) {
		return open(opts, link)
	}, nil
}
