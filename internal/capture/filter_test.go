package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"

	"firestige.xyz/l2sw/internal/core"
	"firestige.xyz/l2sw/internal/frame"
)

func TestEchoGuardRejectsEchoTypes(t *testing.T) {
	raw, err := buildFilter(1500, "")
	require.NoError(t, err)

	insns, ok := bpf.Disassemble(raw)
	require.True(t, ok)
	require.Len(t, insns, len(echoGuard)+1)

	assert.Equal(t, bpf.LoadExtension{Num: bpf.ExtType}, insns[0])
	assert.Equal(t, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(frame.PacketOutgoing), SkipTrue: 2}, insns[1])
	assert.Equal(t, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(frame.PacketLoopback), SkipTrue: 1}, insns[2])
	assert.Equal(t, bpf.RetConstant{Val: 0}, insns[4])
	assert.Equal(t, bpf.RetConstant{Val: 1500}, insns[5])
}

func TestRingGeometry(t *testing.T) {
	tests := []struct {
		name                    string
		snapLen, block, nblocks int
		wantFrame               int
		wantErr                 bool
	}{
		{name: "standard mtu", snapLen: 1518, block: 1 << 20, nblocks: 8, wantFrame: 1584},
		{name: "jumbo", snapLen: 9216, block: 1 << 20, nblocks: 4, wantFrame: 9280},
		{name: "small block rounds up", snapLen: 65535, block: 4096, nblocks: 2, wantFrame: 65600},
		{name: "zero snaplen", snapLen: 0, block: 4096, nblocks: 1, wantErr: true},
		{name: "zero blocks", snapLen: 1518, block: 4096, nblocks: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, bs, nb, err := ringGeometry(tt.snapLen, tt.block, tt.nblocks, 4096)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrame, fs)
			assert.Zero(t, fs%tpacketAlignment)
			assert.Zero(t, bs%4096, "block must be page aligned")
			assert.Zero(t, bs%fs, "block must hold whole frames")
			assert.GreaterOrEqual(t, nb, 1)
		})
	}
}

func TestClassify(t *testing.T) {
	self := core.MustParseMAC("02:00:00:00:00:01")
	tests := []struct {
		dst  string
		want frame.PacketType
	}{
		{"ff:ff:ff:ff:ff:ff", frame.PacketBroadcast},
		{"01:00:5e:00:00:fb", frame.PacketMulticast},
		{"02:00:00:00:00:01", frame.PacketHost},
		{"02:00:00:00:00:02", frame.PacketOtherHost},
	}
	for _, tt := range tests {
		t.Run(tt.dst, func(t *testing.T) {
			dst := core.MustParseMAC(tt.dst)
			data := append(dst[:], make([]byte, 8)...)
			assert.Equal(t, tt.want, classify(data, self))
		})
	}
	assert.Equal(t, frame.PacketOtherHost, classify([]byte{1}, self))
}

func TestNewPortOpener(t *testing.T) {
	for _, typ := range []string{"", TypeAFPacket, TypeRawSock, TypePcap} {
		open, err := NewPortOpener(Options{Type: typ})
		assert.NoError(t, err, typ)
		assert.NotNil(t, open)
	}
	_, err := NewPortOpener(Options{Type: "dpdk"})
	assert.Error(t, err)
}
