package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/l2sw/internal/lswitch"
)

type fakeSwitch struct {
	entries []lswitch.FDBEntry
	flushed atomic.Int32
}

func (f *fakeSwitch) FDB() []lswitch.FDBEntry { return f.entries }

func (f *fakeSwitch) Flush() int {
	f.flushed.Add(1)
	n := len(f.entries)
	f.entries = nil
	return n
}

func (f *fakeSwitch) Stats() lswitch.Stats {
	return lswitch.Stats{
		Interfaces: []string{"eth0", "eth1"},
		FDB:        lswitch.FDBStats{Entries: len(f.entries), Capacity: 2048},
		Frames:     lswitch.FrameStats{Flooded: 3, Unicast: 7},
	}
}

func newFakeSwitch() *fakeSwitch {
	exp := time.Date(2026, 1, 1, 0, 3, 0, 0, time.UTC)
	return &fakeSwitch{entries: []lswitch.FDBEntry{
		{MAC: "02:00:00:00:00:0a", Interface: "eth0", Expires: exp, ExpiresIn: 3 * time.Minute},
		{MAC: "02:00:00:00:00:0b", Interface: "eth1", Expires: exp, ExpiresIn: time.Minute},
		{MAC: "02:00:00:00:00:0c", Interface: "eth1", Expires: exp, ExpiresIn: 2 * time.Minute},
	}}
}

// mockConfigReloader is a mock implementation of ConfigReloader.
type mockConfigReloader struct {
	reloadFunc func() (ReloadResult, error)
}

func (m *mockConfigReloader) Reload() (ReloadResult, error) {
	if m.reloadFunc != nil {
		return m.reloadFunc()
	}
	return ReloadResult{}, nil
}

func TestCommandHandler_FDBShow(t *testing.T) {
	tests := []struct {
		name    string
		params  string
		wantMAC []string
		wantErr int
	}{
		{"all", "", []string{"02:00:00:00:00:0a", "02:00:00:00:00:0b", "02:00:00:00:00:0c"}, 0},
		{"by interface", `{"interface":"eth1"}`, []string{"02:00:00:00:00:0b", "02:00:00:00:00:0c"}, 0},
		{"by mac any case", `{"mac":"02:00:00:00:00:0A"}`, []string{"02:00:00:00:00:0a"}, 0},
		{"no match", `{"interface":"eth9"}`, []string{}, 0},
		{"bad mac", `{"mac":"zz"}`, nil, ErrCodeInvalidParams},
		{"bad json", `{`, nil, ErrCodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewCommandHandler(newFakeSwitch(), nil)
			resp := handler.Handle(context.Background(), Command{
				Method: MethodFDBShow,
				Params: json.RawMessage(tt.params),
				ID:     "req-1",
			})
			assert.Equal(t, "req-1", resp.ID)

			if tt.wantErr != 0 {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.wantErr, resp.Error.Code)
				return
			}
			require.Nil(t, resp.Error)
			res, ok := resp.Result.(FDBShowResult)
			require.True(t, ok)
			assert.Equal(t, len(tt.wantMAC), res.Count)
			macs := make([]string, 0, len(res.Entries))
			for _, e := range res.Entries {
				macs = append(macs, e.MAC)
			}
			assert.Equal(t, tt.wantMAC, macs)
		})
	}
}

func TestCommandHandler_FDBFlush(t *testing.T) {
	sw := newFakeSwitch()
	handler := NewCommandHandler(sw, nil)

	resp := handler.Handle(context.Background(), Command{Method: MethodFDBFlush, ID: "req-2"})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	assert.Equal(t, 3, result["removed"])
	assert.Equal(t, int32(1), sw.flushed.Load())
	assert.Empty(t, sw.FDB())
}

func TestCommandHandler_SwitchStats(t *testing.T) {
	handler := NewCommandHandler(newFakeSwitch(), nil)

	resp := handler.Handle(context.Background(), Command{Method: MethodSwitchStats, ID: "req-3"})
	require.Nil(t, resp.Error)
	st, ok := resp.Result.(lswitch.Stats)
	require.True(t, ok)
	assert.Equal(t, uint64(3), st.Frames.Flooded)
	assert.Equal(t, 3, st.FDB.Entries)
}

func TestCommandHandler_ConfigReload(t *testing.T) {
	t.Run("applied", func(t *testing.T) {
		called := false
		handler := NewCommandHandler(newFakeSwitch(), &mockConfigReloader{
			reloadFunc: func() (ReloadResult, error) {
				called = true
				return ReloadResult{Applied: []string{"log"}, RequiresRestart: []string{"switch.hub_mode"}}, nil
			},
		})

		resp := handler.Handle(context.Background(), Command{Method: MethodConfigReload, ID: "req-4"})
		require.Nil(t, resp.Error)
		assert.True(t, called)
		result := resp.Result.(map[string]interface{})
		assert.Equal(t, "reloaded", result["status"])
		assert.Equal(t, []string{"switch.hub_mode"}, result["requires_restart"])
	})

	t.Run("failure", func(t *testing.T) {
		handler := NewCommandHandler(newFakeSwitch(), &mockConfigReloader{
			reloadFunc: func() (ReloadResult, error) { return ReloadResult{}, errors.New("bad yaml") },
		})

		resp := handler.Handle(context.Background(), Command{Method: MethodConfigReload, ID: "req-5"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "bad yaml")
	})

	t.Run("no reloader", func(t *testing.T) {
		handler := NewCommandHandler(newFakeSwitch(), nil)
		resp := handler.Handle(context.Background(), Command{Method: MethodConfigReload, ID: "req-6"})
		require.NotNil(t, resp.Error)
	})
}

func TestCommandHandler_DaemonShutdown(t *testing.T) {
	handler := NewCommandHandler(newFakeSwitch(), nil)

	resp := handler.Handle(context.Background(), Command{Method: MethodDaemonShutdown, ID: "req-7"})
	require.NotNil(t, resp.Error, "shutdown without a callback must fail")

	done := make(chan struct{})
	handler.SetShutdownFunc(func() { close(done) })
	resp = handler.Handle(context.Background(), Command{Method: MethodDaemonShutdown, ID: "req-8"})
	require.Nil(t, resp.Error)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}

func TestCommandHandler_DaemonStatus(t *testing.T) {
	handler := NewCommandHandler(newFakeSwitch(), nil)
	handler.SetHostname("sw-01")

	resp := handler.Handle(context.Background(), Command{Method: MethodDaemonStatus, ID: "req-9"})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	assert.Equal(t, Version, result["version"])
	assert.Equal(t, "sw-01", result["hostname"])
	assert.Equal(t, []string{"eth0", "eth1"}, result["interfaces"])
	assert.Equal(t, 3, result["fdb_entries"])
}

func TestCommandHandler_UnknownMethod(t *testing.T) {
	handler := NewCommandHandler(newFakeSwitch(), nil)

	resp := handler.Handle(context.Background(), Command{Method: "task_create", ID: "req-10"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}
