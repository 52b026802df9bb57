// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/l2sw/internal/command"
	"firestige.xyz/l2sw/internal/daemon"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the l2sw daemon",
	Long: `Stop the l2sw daemon gracefully.

This command sends daemon_shutdown over the Unix Domain Socket and waits for
the socket to disappear. The daemon stops aging, unhooks capture and releases
every interface before it exits. With --force, a daemon whose socket does not
answer is sent SIGTERM using its PID file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := runStop(cmd.Context(), newClient(), cmd.OutOrStdout(), socketPath, stopWait)
		if err != nil && stopForce {
			fmt.Fprintf(cmd.ErrOrStderr(), "control socket failed (%v), signalling via %s\n", err, stopPIDFile)
			if err := daemon.StopProcess(stopPIDFile, stopWait); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Daemon stopped")
			return nil
		}
		return err
	},
}

var (
	stopForce   bool
	stopPIDFile string
	stopWait    time.Duration
)

func init() {
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "fall back to SIGTERM via the PID file")
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "/var/run/l2sw.pid", "PID file used by --force")
	stopCmd.Flags().DurationVar(&stopWait, "wait", 10*time.Second, "how long to wait for the daemon to exit")
}

func runStop(ctx context.Context, client Client, out io.Writer, sock string, wait time.Duration) error {
	resp, err := client.DaemonShutdown(ctx)
	if _, err := result(command.MethodDaemonShutdown, resp, err); err != nil {
		return err
	}
	fmt.Fprintln(out, "Shutdown requested, waiting for daemon to exit...")

	// The daemon removes its socket as part of a graceful stop.
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(sock); os.IsNotExist(err) {
			fmt.Fprintln(out, "✓ Daemon stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not exit within %s", wait)
}
