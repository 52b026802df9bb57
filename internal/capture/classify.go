package capture

import (
	"firestige.xyz/l2sw/internal/core"
	"firestige.xyz/l2sw/internal/frame"
)

// classify derives the receive classification from the destination address,
// for backends that cannot report the kernel's pkttype. Echoes are filtered
// before this point on those backends.
func classify(data []byte, self core.MAC) frame.PacketType {
	if len(data) < core.EthAddrLen {
		return frame.PacketOtherHost
	}
	dst := core.MACFromBytes(data[core.EthDstOffset:])
	switch {
	case dst.IsBroadcast():
		return frame.PacketBroadcast
	case dst.IsMulticast():
		return frame.PacketMulticast
	case dst == self:
		return frame.PacketHost
	default:
		return frame.PacketOtherHost
	}
}
