// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/l2sw/internal/command"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show switch statistics",
	Long: `Query the running switch for its counters.

Shows: frames by dispatch path, transmissions, FDB changes and per-port receive counters.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(cmd.Context(), newClient(), cmd.OutOrStdout(), statsOutput)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the daemon for its overall status.

Shows: version, hostname, uptime, member interfaces and FDB size.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), newClient(), cmd.OutOrStdout(), statsOutput)
	},
}

var statsOutput string

func init() {
	statsCmd.Flags().StringVarP(&statsOutput, "output", "o", outputJSON, "output format: json or yaml")
	statusCmd.Flags().StringVarP(&statsOutput, "output", "o", outputJSON, "output format: json or yaml")
}

func runStats(ctx context.Context, client Client, out io.Writer, format string) error {
	resp, err := client.SwitchStats(ctx)
	raw, err := result(command.MethodSwitchStats, resp, err)
	if err != nil {
		return err
	}
	return writeStructured(out, format, raw)
}

func runStatus(ctx context.Context, client Client, out io.Writer, format string) error {
	resp, err := client.DaemonStatus(ctx)
	raw, err := result(command.MethodDaemonStatus, resp, err)
	if err != nil {
		return err
	}
	return writeStructured(out, format, raw)
}
