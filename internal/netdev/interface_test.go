package netdev_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/l2sw/internal/core"
	"firestige.xyz/l2sw/internal/netdev"
	"firestige.xyz/l2sw/internal/netdev/netdevtest"
)

func TestInterfaceEqualityByIdentity(t *testing.T) {
	reg := netdevtest.NewRegistry("veth0", "veth1")

	a1, err := reg.Resolve("veth0")
	require.NoError(t, err)
	a2, err := reg.Resolve("veth0")
	require.NoError(t, err)
	b, err := reg.Resolve("veth1")
	require.NoError(t, err)

	assert.NotSame(t, a1, a2)
	assert.True(t, a1.Equal(a2), "two resolutions of one link are the same interface")
	assert.False(t, a1.Equal(b))
	assert.False(t, a1.Equal(nil))
	assert.True(t, (*netdev.Interface)(nil).Equal(nil))
}

func TestInterfaceTransmit(t *testing.T) {
	reg := netdevtest.NewRegistry("veth0")
	iface, err := reg.Resolve("veth0")
	require.NoError(t, err)

	require.NoError(t, iface.Transmit([]byte{1, 2, 3}))
	assert.Equal(t, [][]byte{{1, 2, 3}}, reg.Port("veth0").Sent())

	sendErr := errors.New("no carrier")
	reg.Port("veth0").SetSendError(sendErr)
	assert.ErrorIs(t, iface.Transmit([]byte{4}), sendErr)
}

func TestInterfaceReleaseClosesPortOnLastReference(t *testing.T) {
	reg := netdevtest.NewRegistry("veth0")
	iface, err := reg.Resolve("veth0")
	require.NoError(t, err)
	port := reg.Port("veth0")

	iface.Acquire()
	require.NoError(t, iface.Release())
	assert.False(t, port.Closed())
	assert.False(t, iface.Released())

	require.NoError(t, reg.Release(iface))
	assert.True(t, port.Closed())
	assert.True(t, iface.Released())

	assert.ErrorIs(t, iface.Transmit([]byte{1}), core.ErrInterfaceReleased)
	assert.ErrorIs(t, iface.Release(), core.ErrInterfaceReleased)
}

func TestRegistryUnknownName(t *testing.T) {
	reg := netdevtest.NewRegistry("veth0")

	_, err := reg.Resolve("eth9")
	assert.ErrorIs(t, err, core.ErrInterfaceNotFound)
	assert.Zero(t, reg.Outstanding())
}

func TestInterfaceAccessors(t *testing.T) {
	reg := netdevtest.NewRegistry("veth0", "veth1")
	iface, err := reg.Resolve("veth1")
	require.NoError(t, err)

	assert.Equal(t, "veth1", iface.Name())
	assert.Equal(t, 2, iface.Index())
	assert.Equal(t, 1500, iface.MTU())
	assert.Equal(t, core.MustParseMAC("02:00:00:00:00:02"), iface.HardwareAddr())
	assert.Equal(t, "veth1(2)", iface.String())
	assert.Nil(t, iface.Context())
}
