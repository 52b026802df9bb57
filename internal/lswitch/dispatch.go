package lswitch

import (
	"log/slog"

	"firestige.xyz/l2sw/internal/capture"
	"firestige.xyz/l2sw/internal/eventbus"
	"firestige.xyz/l2sw/internal/fdb"
	"firestige.xyz/l2sw/internal/frame"
	"firestige.xyz/l2sw/internal/metrics"
	"firestige.xyz/l2sw/internal/netdev"
)

// HandleFrame is the frame hook entry point. It takes ownership of buf,
// consumes it on every path and always reports capture.RxSuccess.
func (sw *Switch) HandleFrame(buf *frame.Buffer, ingress *netdev.Interface) capture.Verdict {
	if buf.PacketType().IsEcho() {
		sw.stats.echo.Add(1)
		metrics.DispatchFramesTotal.WithLabelValues("echo").Inc()
		buf.Dispose()
		return capture.RxSuccess
	}

	// the capture layer leaves the cursor past the Ethernet header
	if err := buf.Push(buf.HeaderOffset()); err != nil {
		slog.Debug("cannot restore header boundary", "error", err)
		buf.Dispose()
		return capture.RxSuccess
	}

	if sw.cfg.HubMode {
		sw.state.mu.Lock()
		sw.floodLocked(buf, ingress)
		sw.state.mu.Unlock()
		return capture.RxSuccess
	}

	sw.forward(buf, ingress)
	return capture.RxSuccess
}

// forward is the learning path: learn the source, then flood group-addressed
// frames, unicast on a hit or flood on a miss. Learn and lookup share one lock
// hold so the entry just learned cannot be swept in between.
func (sw *Switch) forward(buf *frame.Buffer, ingress *netdev.Interface) {
	var ev *eventbus.FDBEvent

	sw.state.mu.Lock()
	if sw.state.closed {
		sw.state.mu.Unlock()
		sw.dropClosed(buf)
		return
	}

	in := sw.state.member(ingress)
	if in == nil {
		sw.state.mu.Unlock()
		sw.stats.unknownIngress.Add(1)
		metrics.DispatchFramesTotal.WithLabelValues("unknown_ingress").Inc()
		slog.Debug("frame from unconfigured interface dropped", "interface", ingress.Name())
		buf.Dispose()
		return
	}

	src := buf.SrcMAC()
	now := sw.clock.Now()
	var prev *netdev.Interface
	if sw.events != nil {
		prev, _ = sw.state.table.Lookup(src)
	}
	res := sw.state.table.Upsert(src, in, now)
	sw.countUpsert(res)
	switch res {
	case fdb.Learned:
		ev = &eventbus.FDBEvent{Kind: eventbus.FDBLearned, MAC: src.String(), Interface: in.Name(), Time: now}
	case fdb.Moved:
		ev = &eventbus.FDBEvent{Kind: eventbus.FDBMoved, MAC: src.String(), Interface: in.Name(), Time: now}
		if prev != nil {
			ev.Previous = prev.Name()
		}
	}

	dst := buf.DstMAC()
	if dst.IsBroadcast() || dst.IsMulticast() {
		sw.floodLocked(buf, ingress)
	} else if out, ok := sw.state.table.Lookup(dst); ok {
		sw.stats.unicast.Add(1)
		metrics.DispatchFramesTotal.WithLabelValues("unicast").Inc()
		buf.SetTarget(out)
		sw.transmit(buf, out)
	} else {
		sw.floodLocked(buf, ingress)
	}
	sw.state.mu.Unlock()

	if ev != nil {
		sw.events.Publish(*ev)
	}
}

// floodLocked sends buf out of every member except ingress. Every member but
// the last gets a clone; the last gets buf itself. sw.state.mu must be held.
func (sw *Switch) floodLocked(buf *frame.Buffer, ingress *netdev.Interface) {
	if sw.state.closed {
		sw.dropClosed(buf)
		return
	}
	sw.stats.flooded.Add(1)
	metrics.DispatchFramesTotal.WithLabelValues("flood").Inc()

	var last *netdev.Interface
	for _, m := range sw.state.members {
		if m.Equal(ingress) {
			continue
		}
		if last != nil {
			sw.sendClone(buf, last)
		}
		last = m
	}

	if last == nil {
		buf.Dispose()
		return
	}
	buf.SetTarget(last)
	sw.transmit(buf, last)
}

func (sw *Switch) sendClone(buf *frame.Buffer, out *netdev.Interface) {
	dup, err := buf.Clone()
	if err != nil {
		sw.stats.cloneFailures.Add(1)
		metrics.CloneFailuresTotal.Inc()
		slog.Debug("flood copy skipped", "interface", out.Name(), "error", err)
		return
	}
	dup.SetTarget(out)
	sw.transmit(dup, out)
}

func (sw *Switch) transmit(buf *frame.Buffer, out *netdev.Interface) {
	if err := buf.Transmit(); err != nil {
		sw.stats.transmitErrors.Add(1)
		metrics.TransmitErrorsTotal.WithLabelValues(out.Name()).Inc()
		slog.Debug("transmit failed", "interface", out.Name(), "error", err)
		return
	}
	sw.stats.transmitted.Add(1)
	metrics.TransmitTotal.WithLabelValues(out.Name()).Inc()
}

func (sw *Switch) dropClosed(buf *frame.Buffer) {
	sw.stats.closed.Add(1)
	metrics.DispatchFramesTotal.WithLabelValues("closed").Inc()
	buf.Dispose()
}

func (sw *Switch) countUpsert(res fdb.Result) {
	switch res {
	case fdb.Learned:
		sw.stats.learned.Add(1)
	case fdb.Moved:
		sw.stats.moved.Add(1)
	case fdb.Rejected:
		sw.stats.rejected.Add(1)
	}
	metrics.FDBUpdatesTotal.WithLabelValues(res.String()).Inc()
	metrics.FDBEntries.Set(float64(sw.state.table.Len()))
}
