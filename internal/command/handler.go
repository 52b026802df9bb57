// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/l2sw/internal/core"
	"firestige.xyz/l2sw/internal/lswitch"
)

// Version is reported by daemon_status.
const Version = "0.1.0"

// Method names understood by CommandHandler.
const (
	MethodFDBShow        = "fdb_show"
	MethodFDBFlush       = "fdb_flush"
	MethodSwitchStats    = "switch_stats"
	MethodConfigReload   = "config_reload"
	MethodDaemonStatus   = "daemon_status"
	MethodDaemonShutdown = "daemon_shutdown"
)

// Switch is the part of the running switch the control plane reads and drives.
type Switch interface {
	FDB() []lswitch.FDBEntry
	Flush() int
	Stats() lswitch.Stats
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() (ReloadResult, error)
}

// ReloadResult lists which settings took effect and which wait for a restart.
type ReloadResult struct {
	Applied         []string `json:"applied"`
	RequiresRestart []string `json:"requires_restart"`
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	sw             Switch
	configReloader ConfigReloader
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	hostname       string
	startTime      time.Time
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(sw Switch, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		sw:             sw,
		configReloader: reloader,
		startTime:      time.Now(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// SetHostname sets the node name reported by daemon_status.
func (h *CommandHandler) SetHostname(hostname string) {
	h.hostname = hostname
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "fdb_show", "fdb_flush"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

func errorResponse(id string, code int, format string, args ...any) Response {
	return Response{
		ID: id,
		Error: &ErrorInfo{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		},
	}
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case MethodFDBShow:
		return h.handleFDBShow(ctx, cmd)
	case MethodFDBFlush:
		return h.handleFDBFlush(ctx, cmd)
	case MethodSwitchStats:
		return h.handleSwitchStats(ctx, cmd)
	case MethodConfigReload:
		return h.handleConfigReload(ctx, cmd)
	case MethodDaemonShutdown:
		return h.handleDaemonShutdown(ctx, cmd)
	case MethodDaemonStatus:
		return h.handleDaemonStatus(ctx, cmd)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, "method %q not found", cmd.Method)
	}
}

// FDBShowParams represents optional filters for fdb_show.
type FDBShowParams struct {
	Interface string `json:"interface,omitempty"`
	MAC       string `json:"mac,omitempty"`
}

// FDBShowResult is the fdb_show result.
type FDBShowResult struct {
	Entries []lswitch.FDBEntry `json:"entries" mapstructure:"entries"`
	Count   int                `json:"count" mapstructure:"count"`
}

// handleFDBShow returns the table in address order, optionally filtered.
func (h *CommandHandler) handleFDBShow(_ context.Context, cmd Command) Response {
	var params FDBShowParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid params: %v", err)
		}
	}

	var want core.MAC
	if params.MAC != "" {
		mac, err := core.ParseMAC(params.MAC)
		if err != nil {
			return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid mac: %v", err)
		}
		want = mac
	}

	all := h.sw.FDB()
	entries := make([]lswitch.FDBEntry, 0, len(all))
	for _, e := range all {
		if params.Interface != "" && e.Interface != params.Interface {
			continue
		}
		if params.MAC != "" && e.MAC != want.String() {
			continue
		}
		entries = append(entries, e)
	}

	return Response{
		ID:     cmd.ID,
		Result: FDBShowResult{Entries: entries, Count: len(entries)},
	}
}

// handleFDBFlush forces a sweep that empties the table.
func (h *CommandHandler) handleFDBFlush(_ context.Context, cmd Command) Response {
	n := h.sw.Flush()
	slog.Info("fdb flushed on request", "removed", n)

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"removed": n,
			"status":  "flushed",
		},
	}
}

// handleSwitchStats returns switch and per-port counters.
func (h *CommandHandler) handleSwitchStats(_ context.Context, cmd Command) Response {
	return Response{
		ID:     cmd.ID,
		Result: h.sw.Stats(),
	}
}

// handleConfigReload handles config_reload command.
func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "config reloader not available")
	}

	res, err := h.configReloader.Reload()
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "reload config failed: %v", err)
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status":           "reloaded",
			"applied":          res.Applied,
			"requires_restart": res.RequiresRestart,
		},
	}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "shutting_down",
		},
	}
}

// handleDaemonStatus returns daemon status information.
func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	st := h.sw.Stats()

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"version":       Version,
			"hostname":      h.hostname,
			"uptime_sec":    int64(time.Since(h.startTime).Seconds()),
			"interfaces":    st.Interfaces,
			"hub_mode":      st.HubMode,
			"fdb_entries":   st.FDB.Entries,
			"shutting_down": st.ShuttingDown,
		},
	}
}
