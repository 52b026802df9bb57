package cmd

import (
	"context"

	"firestige.xyz/l2sw/internal/command"
)

// Client is the daemon control API the CLI commands use. *command.UDSClient
// implements it; tests substitute a mock.
type Client interface {
	FDBShow(ctx context.Context, params command.FDBShowParams) (*command.Response, error)
	FDBFlush(ctx context.Context) (*command.Response, error)
	SwitchStats(ctx context.Context) (*command.Response, error)
	ConfigReload(ctx context.Context) (*command.Response, error)
	DaemonStatus(ctx context.Context) (*command.Response, error)
	DaemonShutdown(ctx context.Context) (*command.Response, error)
}
