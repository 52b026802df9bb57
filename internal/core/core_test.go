package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestMACClassification(t *testing.T) {
	tests := []struct {
		addr      string
		broadcast bool
		multicast bool
	}{
		{"ff:ff:ff:ff:ff:ff", true, false},
		{"01:00:5e:00:00:01", false, true},
		{"33:33:00:00:00:01", false, true},
		{"02:00:00:00:00:01", false, false},
		{"aa:bb:cc:dd:ee:01", false, false},
		{"00:00:00:00:00:00", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			m := MustParseMAC(tt.addr)
			if got := m.IsBroadcast(); got != tt.broadcast {
				t.Errorf("IsBroadcast(%s) = %v, expected %v", tt.addr, got, tt.broadcast)
			}
			if got := m.IsMulticast(); got != tt.multicast {
				t.Errorf("IsMulticast(%s) = %v, expected %v", tt.addr, got, tt.multicast)
			}
		})
	}
}

func TestMACStringRoundTrip(t *testing.T) {
	m := MAC{0xaa, 0xbb, 0xcc, 0x00, 0x01, 0x02}
	if m.String() != "aa:bb:cc:00:01:02" {
		t.Errorf("unexpected string form %q", m.String())
	}

	parsed, err := ParseMAC(m.String())
	if err != nil {
		t.Fatalf("ParseMAC failed: %v", err)
	}
	if parsed != m {
		t.Errorf("expected %v, got %v", m, parsed)
	}
}

func TestParseMACRejectsLongAddresses(t *testing.T) {
	if _, err := ParseMAC("00:00:00:00:fe:80:00:00:00:00:00:00:02:00:5e:10:00:00:00:01"); err == nil {
		t.Error("expected error for 20-byte address")
	}
	if _, err := ParseMAC("not-a-mac"); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestMACCompare(t *testing.T) {
	a := MustParseMAC("00:00:00:00:00:01")
	b := MustParseMAC("00:00:00:00:01:00")

	if a.Compare(b) >= 0 {
		t.Errorf("expected %v < %v", a, b)
	}
	if b.Compare(a) <= 0 {
		t.Errorf("expected %v > %v", b, a)
	}
	if a.Compare(a) != 0 {
		t.Errorf("expected %v == %v", a, a)
	}
}

func TestMACJSON(t *testing.T) {
	in := struct {
		Addr MAC `json:"addr"`
	}{Addr: MustParseMAC("02:00:00:00:00:01")}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"addr":"02:00:00:00:00:01"}` {
		t.Errorf("unexpected JSON %s", data)
	}
}

func TestSentinelErrorsWrap(t *testing.T) {
	wrapped := fmt.Errorf("resolve eth9: %w", ErrInterfaceNotFound)
	if !errors.Is(wrapped, ErrInterfaceNotFound) {
		t.Error("expected wrapped error to match ErrInterfaceNotFound")
	}
	if errors.Is(wrapped, ErrNoBuffer) {
		t.Error("wrapped error should not match ErrNoBuffer")
	}
}
