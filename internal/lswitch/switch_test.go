package lswitch

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	testingclock "k8s.io/utils/clock/testing"

	"firestige.xyz/l2sw/internal/capture"
	"firestige.xyz/l2sw/internal/core"
	"firestige.xyz/l2sw/internal/eventbus"
	"firestige.xyz/l2sw/internal/frame"
	"firestige.xyz/l2sw/internal/netdev"
	"firestige.xyz/l2sw/internal/netdev/netdevtest"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	macA  = "aa:00:00:00:00:01"
	macB  = "bb:00:00:00:00:02"
	bcast = "ff:ff:ff:ff:ff:ff"
)

type harness struct {
	t     *testing.T
	reg   *netdevtest.Registry
	pool  *frame.Pool
	clock *testingclock.FakeClock
	sw    *Switch
}

func newHarness(t *testing.T, cfg Config, names ...string) *harness {
	t.Helper()
	return newHarnessWithPool(t, cfg, frame.NewPool(1518, 0), nil, names...)
}

func newHarnessWithPool(t *testing.T, cfg Config, pool *frame.Pool, events *eventbus.FDBPublisher, names ...string) *harness {
	t.Helper()
	reg := netdevtest.NewRegistry(names...)
	fc := testingclock.NewFakeClock(t0)
	if cfg.Interfaces == nil {
		cfg.Interfaces = names
	}

	sw, err := Init(cfg, Deps{Registry: reg, Hook: capture.NewHook(pool), Clock: fc, Events: events})
	require.NoError(t, err)
	t.Cleanup(sw.Shutdown)

	return &harness{t: t, reg: reg, pool: pool, clock: fc, sw: sw}
}

func ethFrame(t *testing.T, src, dst string) []byte {
	t.Helper()
	srcMAC, err := net.ParseMAC(src)
	require.NoError(t, err)
	dstMAC, err := net.ParseMAC(dst)
	require.NoError(t, err)

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload("payload")))
	return buf.Bytes()
}

func (h *harness) member(name string) *netdev.Interface {
	for _, m := range h.sw.state.members {
		if m.Name() == name {
			return m
		}
	}
	h.t.Fatalf("no member %s", name)
	return nil
}

// deliver hands a frame straight to the dispatch engine, bypassing the hook.
func (h *harness) deliver(ingress *netdev.Interface, raw []byte, pt frame.PacketType) {
	h.t.Helper()
	buf, err := h.pool.FromWire(raw, pt)
	require.NoError(h.t, err)
	assert.Equal(h.t, capture.RxSuccess, h.sw.HandleFrame(buf, ingress))
}

func (h *harness) sent(name string) [][]byte {
	return h.reg.Port(name).Sent()
}

func (h *harness) lookup(mac string) (string, bool) {
	h.sw.state.mu.Lock()
	defer h.sw.state.mu.Unlock()
	iface, ok := h.sw.state.table.Lookup(core.MustParseMAC(mac))
	if !ok {
		return "", false
	}
	return iface.Name(), true
}

func TestEndToEndLearning(t *testing.T) {
	h := newHarness(t, Config{}, "eth0", "eth1")

	frame1 := ethFrame(t, macA, bcast)
	h.reg.Port("eth0").Inject(frame1, frame.PacketBroadcast)
	require.Eventually(t, func() bool { return len(h.sent("eth1")) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, frame1, h.sent("eth1")[0])
	assert.Empty(t, h.sent("eth0"))

	where, ok := h.lookup(macA)
	require.True(t, ok)
	assert.Equal(t, "eth0", where)

	frame2 := ethFrame(t, macB, macA)
	h.reg.Port("eth1").Inject(frame2, frame.PacketOtherHost)
	require.Eventually(t, func() bool { return len(h.sent("eth0")) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, frame2, h.sent("eth0")[0])
	assert.Len(t, h.sent("eth1"), 1, "unicast hit must not flood")

	where, ok = h.lookup(macB)
	require.True(t, ok)
	assert.Equal(t, "eth1", where)

	st := h.sw.Stats()
	assert.Equal(t, uint64(1), st.Frames.Unicast)
	assert.Equal(t, uint64(1), st.Frames.Flooded)
	assert.Zero(t, h.pool.InUse())
}

func TestFloodCompleteness(t *testing.T) {
	names := []string{"eth0", "eth1", "eth2", "eth3"}
	for _, ingress := range names {
		t.Run(ingress, func(t *testing.T) {
			h := newHarness(t, Config{}, names...)
			raw := ethFrame(t, macA, bcast)

			h.deliver(h.member(ingress), raw, frame.PacketBroadcast)

			total := 0
			for _, n := range names {
				got := h.sent(n)
				if n == ingress {
					assert.Empty(t, got, "flood must skip the ingress interface")
					continue
				}
				require.Len(t, got, 1, n)
				assert.Equal(t, raw, got[0])
				total += len(got)
			}
			assert.Equal(t, len(names)-1, total)
			assert.Zero(t, h.pool.InUse())
		})
	}
}

func TestFloodTriggers(t *testing.T) {
	tests := []struct {
		name    string
		hubMode bool
		dst     string
		flood   bool
	}{
		{name: "broadcast", dst: bcast, flood: true},
		{name: "ipv4 multicast", dst: "01:00:5e:00:00:01", flood: true},
		{name: "ipv6 multicast", dst: "33:33:00:00:00:01", flood: true},
		{name: "unicast miss", dst: "02:00:00:00:00:01", flood: true},
		{name: "hub mode", hubMode: true, dst: "02:00:00:00:00:01", flood: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{HubMode: tt.hubMode}, "eth0", "eth1", "eth2")
			h.deliver(h.member("eth0"), ethFrame(t, macA, tt.dst), frame.PacketOtherHost)

			assert.Len(t, h.sent("eth1"), 1)
			assert.Len(t, h.sent("eth2"), 1)
			assert.Equal(t, uint64(1), h.sw.Stats().Frames.Flooded)
		})
	}
}

func TestHubModeNeverLearns(t *testing.T) {
	h := newHarness(t, Config{HubMode: true}, "eth0", "eth1")

	h.deliver(h.member("eth0"), ethFrame(t, macA, macB), frame.PacketOtherHost)
	h.deliver(h.member("eth1"), ethFrame(t, macB, macA), frame.PacketOtherHost)

	assert.Empty(t, h.sw.FDB())
	assert.Len(t, h.sent("eth0"), 1)
	assert.Len(t, h.sent("eth1"), 1)
}

func TestEchoFramesNeverTransmit(t *testing.T) {
	for _, pt := range []frame.PacketType{frame.PacketOutgoing, frame.PacketLoopback} {
		t.Run(pt.String(), func(t *testing.T) {
			h := newHarness(t, Config{}, "eth0", "eth1")

			h.deliver(h.member("eth0"), ethFrame(t, macA, bcast), pt)
			h.deliver(h.member("eth0"), ethFrame(t, macA, macB), pt)

			assert.Empty(t, h.sent("eth0"))
			assert.Empty(t, h.sent("eth1"))
			assert.Empty(t, h.sw.FDB(), "echoes must not teach the table")
			assert.Equal(t, uint64(2), h.sw.Stats().Frames.Echo)
			assert.Zero(t, h.pool.InUse())
		})
	}
}

func TestUnknownIngressDropped(t *testing.T) {
	h := newHarness(t, Config{}, "eth0", "eth1")
	stray, err := netdevtest.NewRegistry("x", "y", "eth9").Resolve("eth9")
	require.NoError(t, err)

	h.deliver(stray, ethFrame(t, macA, macB), frame.PacketOtherHost)
	h.deliver(stray, ethFrame(t, macA, bcast), frame.PacketBroadcast)

	assert.Empty(t, h.sent("eth0"))
	assert.Empty(t, h.sent("eth1"))
	assert.Empty(t, h.sw.FDB())
	assert.Equal(t, uint64(2), h.sw.Stats().Frames.UnknownIngress)
	assert.Zero(t, h.pool.InUse())
}

func TestUnicastToIngressIsTransmitted(t *testing.T) {
	h := newHarness(t, Config{}, "eth0", "eth1")

	h.deliver(h.member("eth0"), ethFrame(t, macA, macB), frame.PacketOtherHost)
	h.reg.Port("eth1").Reset()

	// B is now known behind eth0 as well
	h.deliver(h.member("eth0"), ethFrame(t, macB, "cc:00:00:00:00:03"), frame.PacketOtherHost)
	h.reg.Port("eth1").Reset()

	h.deliver(h.member("eth0"), ethFrame(t, macA, macB), frame.PacketOtherHost)
	assert.Len(t, h.sent("eth0"), 1)
	assert.Empty(t, h.sent("eth1"))
}

func TestStationMove(t *testing.T) {
	bus := eventbus.NewInMemoryEventBus(1, 16)
	var mu sync.Mutex
	var events []eventbus.FDBEvent
	require.NoError(t, eventbus.SubscribeFDB(bus, func(ev eventbus.FDBEvent) error {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		return nil
	}))

	h := newHarnessWithPool(t, Config{}, frame.NewPool(1518, 0), eventbus.NewFDBPublisher(bus), "eth0", "eth1")

	h.deliver(h.member("eth0"), ethFrame(t, macA, macB), frame.PacketOtherHost)
	h.deliver(h.member("eth0"), ethFrame(t, macA, macB), frame.PacketOtherHost)
	h.deliver(h.member("eth1"), ethFrame(t, macA, macB), frame.PacketOtherHost)

	where, ok := h.lookup(macA)
	require.True(t, ok)
	assert.Equal(t, "eth1", where)

	st := h.sw.Stats().FDB
	assert.Equal(t, uint64(1), st.Learned)
	assert.Equal(t, uint64(1), st.Moved)
	assert.Equal(t, 1, st.Entries)

	require.NoError(t, bus.Close())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, eventbus.FDBLearned, events[0].Kind)
	assert.Equal(t, eventbus.FDBMoved, events[1].Kind)
	assert.Equal(t, "eth1", events[1].Interface)
	assert.Equal(t, "eth0", events[1].Previous)
}

func TestCapacityBound(t *testing.T) {
	h := newHarness(t, Config{FDBCapacity: 3}, "eth0", "eth1")

	for i := 1; i <= 5; i++ {
		src := core.MAC{0x02, 0, 0, 0, 0, byte(i)}
		h.deliver(h.member("eth0"), ethFrame(t, src.String(), macB), frame.PacketOtherHost)
	}

	entries := h.sw.FDB()
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, core.MAC{0x02, 0, 0, 0, 0, byte(i + 1)}.String(), e.MAC, "existing entries are not displaced")
	}
	assert.Equal(t, uint64(2), h.sw.Stats().FDB.Rejected)
	assert.Len(t, h.sent("eth1"), 5, "unlearned frames are still forwarded")
}

func TestCloneFailureSkipsOnlyThatEgress(t *testing.T) {
	pool := frame.NewPool(1518, 1)
	h := newHarnessWithPool(t, Config{}, pool, nil, "eth0", "eth1", "eth2")

	h.deliver(h.member("eth0"), ethFrame(t, macA, bcast), frame.PacketBroadcast)

	assert.Empty(t, h.sent("eth1"), "clone for eth1 could not be allocated")
	assert.Len(t, h.sent("eth2"), 1, "the original still reaches the last member")
	assert.Equal(t, uint64(1), h.sw.Stats().Frames.CloneFailures)
	assert.Zero(t, pool.InUse())
}

func TestTransmitErrorIsCounted(t *testing.T) {
	h := newHarness(t, Config{}, "eth0", "eth1", "eth2")
	h.reg.Port("eth1").SetSendError(errors.New("no carrier"))

	h.deliver(h.member("eth0"), ethFrame(t, macA, bcast), frame.PacketBroadcast)

	assert.Len(t, h.sent("eth2"), 1)
	st := h.sw.Stats().Frames
	assert.Equal(t, uint64(1), st.TransmitErrors)
	assert.Equal(t, uint64(1), st.Transmitted)
	assert.Zero(t, h.pool.InUse())
}

func TestZeroQualifyingMembersDisposes(t *testing.T) {
	h := newHarness(t, Config{}, "eth0")

	h.deliver(h.member("eth0"), ethFrame(t, macA, bcast), frame.PacketBroadcast)

	assert.Empty(t, h.sent("eth0"))
	assert.Zero(t, h.pool.InUse())
}

// tick moves the fake clock by d once the aging task is asleep and waits for
// the sweep it triggers.
func (h *harness) tick(d time.Duration) {
	h.t.Helper()
	require.Eventually(h.t, h.clock.HasWaiters, time.Second, time.Millisecond)
	before := h.sw.stats.sweeps.Load()
	h.clock.Step(d)
	require.Eventually(h.t, func() bool { return h.sw.stats.sweeps.Load() > before }, time.Second, time.Millisecond)
}

func TestAgingExpiry(t *testing.T) {
	h := newHarness(t, Config{MaxAge: 10 * time.Second, SweepInterval: time.Second}, "eth0", "eth1")
	h.deliver(h.member("eth0"), ethFrame(t, macA, macB), frame.PacketOtherHost)

	for i := 0; i < 9; i++ {
		h.tick(time.Second)
		_, ok := h.lookup(macA)
		require.True(t, ok, "entry must survive until max_age, sweep %d", i+1)
	}

	h.tick(time.Second)
	_, ok := h.lookup(macA)
	assert.False(t, ok, "entry must be gone once a sweep runs at learn time + max_age")
	assert.Equal(t, uint64(1), h.sw.Stats().FDB.Expired)
}

func TestRefreshExtendsLifetime(t *testing.T) {
	h := newHarness(t, Config{MaxAge: 3 * time.Second, SweepInterval: time.Second}, "eth0", "eth1")
	h.deliver(h.member("eth0"), ethFrame(t, macA, macB), frame.PacketOtherHost)

	h.tick(time.Second)
	h.tick(time.Second)
	h.deliver(h.member("eth0"), ethFrame(t, macA, macB), frame.PacketOtherHost)
	h.tick(time.Second)
	h.tick(time.Second)

	_, ok := h.lookup(macA)
	assert.True(t, ok)
}

func TestExpiredEntryForwardsUntilSwept(t *testing.T) {
	h := newHarness(t, Config{MaxAge: time.Second, SweepInterval: time.Hour}, "eth0", "eth1", "eth2")
	h.deliver(h.member("eth0"), ethFrame(t, macA, macB), frame.PacketOtherHost)
	h.reg.Port("eth1").Reset()
	h.reg.Port("eth2").Reset()

	h.clock.SetTime(t0.Add(5 * time.Second))
	h.deliver(h.member("eth1"), ethFrame(t, macB, macA), frame.PacketOtherHost)

	assert.Len(t, h.sent("eth0"), 1, "lookup does not check expiry")
	assert.Empty(t, h.sent("eth2"))
}

func TestShutdownSafety(t *testing.T) {
	h := newHarness(t, Config{SweepInterval: time.Hour}, "eth0", "eth1", "eth2")
	h.deliver(h.member("eth0"), ethFrame(t, macA, macB), frame.PacketOtherHost)
	members := append([]*netdev.Interface(nil), h.sw.state.members...)

	done := make(chan struct{})
	go func() {
		h.sw.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown waited for a full sweep interval")
	}

	st := h.sw.Stats()
	assert.True(t, st.ShuttingDown)
	assert.True(t, st.AgingStopped)
	assert.Equal(t, []string{"eth2", "eth1", "eth0"}, h.reg.Released())
	assert.Zero(t, h.reg.Outstanding())
	for _, m := range members {
		assert.True(t, m.Released())
	}

	sweeps := st.FDB.Sweeps
	h.clock.Step(2 * time.Hour)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, sweeps, h.sw.Stats().FDB.Sweeps, "no sweep after shutdown")
	assert.Len(t, h.sw.FDB(), 1, "table is left as-is without flush_on_shutdown")

	buf, err := h.pool.FromWire(ethFrame(t, macA, bcast), frame.PacketBroadcast)
	require.NoError(t, err)
	h.sw.HandleFrame(buf, members[0])
	assert.Equal(t, uint64(1), h.sw.Stats().Frames.AfterClose)
	assert.Zero(t, h.pool.InUse())

	h.sw.Shutdown()
	assert.Len(t, h.reg.Released(), 3, "second shutdown is a no-op")
}

func TestFlushOnShutdown(t *testing.T) {
	h := newHarness(t, Config{FlushOnShutdown: true}, "eth0", "eth1")
	h.deliver(h.member("eth0"), ethFrame(t, macA, macB), frame.PacketOtherHost)
	h.deliver(h.member("eth1"), ethFrame(t, macB, macA), frame.PacketOtherHost)

	h.sw.Shutdown()
	assert.Empty(t, h.sw.FDB())
	assert.Equal(t, uint64(2), h.sw.Stats().FDB.Flushed)
}

func TestFlush(t *testing.T) {
	h := newHarness(t, Config{}, "eth0", "eth1")
	h.deliver(h.member("eth0"), ethFrame(t, macA, macB), frame.PacketOtherHost)
	h.deliver(h.member("eth1"), ethFrame(t, macB, macA), frame.PacketOtherHost)

	assert.Equal(t, 2, h.sw.Flush())
	assert.Empty(t, h.sw.FDB())
	assert.Zero(t, h.sw.Flush())
}

func TestFDBView(t *testing.T) {
	h := newHarness(t, Config{MaxAge: time.Minute}, "eth0", "eth1")
	h.deliver(h.member("eth1"), ethFrame(t, macB, macA), frame.PacketOtherHost)
	h.deliver(h.member("eth0"), ethFrame(t, macA, macB), frame.PacketOtherHost)

	entries := h.sw.FDB()
	require.Len(t, entries, 2)
	assert.Equal(t, macA, entries[0].MAC)
	assert.Equal(t, "eth0", entries[0].Interface)
	assert.Equal(t, macB, entries[1].MAC)
	assert.Equal(t, "eth1", entries[1].Interface)
	assert.Equal(t, t0.Add(time.Minute), entries[0].Expires)
	assert.Equal(t, time.Minute, entries[0].ExpiresIn)
}

func TestInitFailureReleasesInReverse(t *testing.T) {
	reg := netdevtest.NewRegistry("eth0", "eth1", "eth2")
	reg.FailOn("eth2", core.ErrInterfaceNotFound)
	hook := capture.NewHook(frame.NewPool(1518, 0))

	sw, err := Init(Config{Interfaces: []string{"eth0", "eth1", "eth2"}}, Deps{Registry: reg, Hook: hook})
	assert.Nil(t, sw)
	assert.ErrorIs(t, err, core.ErrInterfaceNotFound)
	assert.Equal(t, []string{"eth1", "eth0"}, reg.Released())
	assert.Zero(t, reg.Outstanding())

	// the hook was never taken
	r, err := hook.Register(nil, core.EtherTypeAll, func(b *frame.Buffer, _ *netdev.Interface) capture.Verdict {
		b.Dispose()
		return capture.RxSuccess
	})
	require.NoError(t, err)
	r.Unregister()
}

func TestInitFailsWhenHookBusy(t *testing.T) {
	reg := netdevtest.NewRegistry("eth0", "eth1")
	hook := capture.NewHook(frame.NewPool(1518, 0))
	busy, err := hook.Register(nil, core.EtherTypeAll, nil)
	require.NoError(t, err)
	defer busy.Unregister()

	_, err = Init(Config{Interfaces: []string{"eth0", "eth1"}}, Deps{Registry: reg, Hook: hook})
	assert.ErrorIs(t, err, core.ErrHookRegistered)
	assert.Equal(t, []string{"eth1", "eth0"}, reg.Released())
}

func TestInitRequiresInterfaces(t *testing.T) {
	_, err := Init(Config{}, Deps{Registry: netdevtest.NewRegistry(), Hook: capture.NewHook(frame.NewPool(0, 0))})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestInitAppliesDefaults(t *testing.T) {
	h := newHarness(t, Config{}, "eth0")
	cfg := h.sw.Config()
	assert.Equal(t, DefaultMaxAge, cfg.MaxAge)
	assert.Equal(t, DefaultFDBCapacity, cfg.FDBCapacity)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
}

func TestConcurrentDispatchWithAging(t *testing.T) {
	reg := netdevtest.NewRegistry("eth0", "eth1", "eth2", "eth3")
	pool := frame.NewPool(1518, 0)
	sw, err := Init(
		Config{Interfaces: []string{"eth0", "eth1", "eth2", "eth3"}, MaxAge: 2 * time.Millisecond, SweepInterval: time.Millisecond, FDBCapacity: 64},
		Deps{Registry: reg, Hook: capture.NewHook(pool), Clock: clock.RealClock{}},
	)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g, m := range sw.state.members {
		g, m := g, m
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				src := core.MAC{0x02, byte(g), 0, 0, 0, byte(i % 16)}
				dst := core.MAC{0x02, byte((g + 1) % 4), 0, 0, 0, byte(i % 16)}
				if i%10 == 0 {
					dst = core.BroadcastMAC
				}
				buf, err := pool.FromWire(ethFrame(t, src.String(), dst.String()), frame.PacketOtherHost)
				if err != nil {
					t.Error(err)
					return
				}
				sw.HandleFrame(buf, m)
			}
		}()
	}
	wg.Wait()
	sw.Shutdown()

	assert.Zero(t, pool.InUse())
	assert.LessOrEqual(t, sw.Stats().FDB.Entries, 64)
	assert.Equal(t, uint64(800), func() uint64 {
		f := sw.Stats().Frames
		return f.Flooded + f.Unicast
	}())
}
