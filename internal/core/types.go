// Package core defines core types with zero external dependencies.
package core

import (
	"bytes"
	"fmt"
	"net"
)

// Ethernet framing constants.
const (
	EthAddrLen   = 6
	EthHeaderLen = 14 // dst(6) + src(6) + ethertype(2)

	// Fixed offsets from the first byte of the Ethernet header.
	EthDstOffset  = 0
	EthSrcOffset  = 6
	EthTypeOffset = 12

	// EtherTypeAll matches every protocol (ETH_P_ALL); it is the promiscuous hook type.
	EtherTypeAll uint16 = 0x0003
)

// MAC is a 6-byte hardware address. It is a comparable value type and can be used
// directly as a map or tree key.
type MAC [EthAddrLen]byte

// BroadcastMAC is ff:ff:ff:ff:ff:ff.
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// MACFromBytes copies the first six bytes of b. It panics if b is shorter.
func MACFromBytes(b []byte) MAC {
	var m MAC
	copy(m[:], b[:EthAddrLen])
	return m
}

// ParseMAC parses an IEEE 802 MAC-48 address such as "02:00:00:00:00:01".
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}
	if len(hw) != EthAddrLen {
		return MAC{}, fmt.Errorf("not a 48-bit address: %q", s)
	}
	return MACFromBytes(hw), nil
}

// MustParseMAC is like ParseMAC but panics on error. Intended for tests and constants.
func MustParseMAC(s string) MAC {
	m, err := ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

// IsBroadcast reports whether all six bytes are 0xff.
func (m MAC) IsBroadcast() bool {
	return m == BroadcastMAC
}

// IsMulticast reports whether the group bit is set and the address is not broadcast.
func (m MAC) IsMulticast() bool {
	return m[0]&0x01 == 0x01 && !m.IsBroadcast()
}

// IsZero reports whether the address is 00:00:00:00:00:00.
func (m MAC) IsZero() bool {
	return m == MAC{}
}

// Compare orders addresses bytewise.
func (m MAC) Compare(o MAC) int {
	return bytes.Compare(m[:], o[:])
}

// HardwareAddr returns a net.HardwareAddr copy of m.
func (m MAC) HardwareAddr() net.HardwareAddr {
	hw := make(net.HardwareAddr, EthAddrLen)
	copy(hw, m[:])
	return hw
}

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// MarshalText implements encoding.TextMarshaler so MACs render as strings in JSON and YAML.
func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MAC) UnmarshalText(text []byte) error {
	parsed, err := ParseMAC(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
