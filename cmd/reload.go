package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/l2sw/internal/command"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration",
	Long: `Ask the daemon to re-read its configuration file.

Logging settings apply immediately. Changes to switch, capture, control, events
or metrics settings are reported and take effect on the next restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload(cmd.Context(), newClient(), cmd.OutOrStdout())
	},
}

// runReload 提取的业务逻辑，方便测试
func runReload(ctx context.Context, client Client, out io.Writer) error {
	resp, err := client.ConfigReload(ctx)
	raw, err := result(command.MethodConfigReload, resp, err)
	if err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration reloaded successfully")

	m, _ := raw.(map[string]interface{})
	if pending, _ := m["requires_restart"].([]interface{}); len(pending) > 0 {
		fmt.Fprintf(out, "  restart required for: %v\n", pending)
	}
	return nil
}
