package capture

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// echoGuard rejects frames the kernel classified as outgoing or loopback, then
// falls through to whatever follows it. Jumps are relative, so any program may
// be appended.
var echoGuard = []bpf.Instruction{
	bpf.LoadExtension{Num: bpf.ExtType},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.PACKET_OUTGOING, SkipTrue: 2},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.PACKET_LOOPBACK, SkipTrue: 1},
	bpf.Jump{Skip: 1},
	bpf.RetConstant{Val: 0},
}

// buildFilter assembles the echo guard followed by the user's tcpdump-style
// expression, or by an accept-all when expr is empty.
func buildFilter(snapLen int, expr string) ([]bpf.RawInstruction, error) {
	guard, err := bpf.Assemble(echoGuard)
	if err != nil {
		return nil, fmt.Errorf("assemble echo guard: %w", err)
	}
	if expr == "" {
		accept, err := bpf.Assemble([]bpf.Instruction{bpf.RetConstant{Val: uint32(snapLen)}})
		if err != nil {
			return nil, err
		}
		return append(guard, accept...), nil
	}

	user, err := compileExpr(snapLen, expr)
	if err != nil {
		return nil, err
	}
	return append(guard, user...), nil
}

// compileExpr compiles expr with libpcap and converts it to x/net/bpf form.
func compileExpr(snapLen int, expr string) ([]bpf.RawInstruction, error) {
	pcapInsns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, expr)
	if err != nil {
		return nil, fmt.Errorf("compile BPF filter %q: %w", expr, err)
	}

	raw := make([]bpf.RawInstruction, len(pcapInsns))
	for i, insn := range pcapInsns {
		raw[i] = bpf.RawInstruction{
			Op: insn.Code,
			Jt: insn.Jt,
			Jf: insn.Jf,
			K:  insn.K,
		}
	}
	return raw, nil
}
