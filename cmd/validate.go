// Package cmd implements CLI commands.
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/l2sw/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load and validate the configuration file without starting the switch,
then print the effective switch settings (defaults and environment overrides applied).

Examples:
  l2sw validate -c /etc/l2sw/config.yml
  L2SW_SWITCH_HUB_MODE=true l2sw validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	sw := cfg.Switch
	mode := "learning"
	if sw.HubMode {
		mode = "hub"
	}
	netns := sw.Netns
	if netns == "" {
		netns = "<current>"
	}

	fmt.Fprintf(out, "VALID: %s\n", path)
	fmt.Fprintf(out, "  interfaces:     %v\n", sw.Interfaces)
	fmt.Fprintf(out, "  mode:           %s\n", mode)
	fmt.Fprintf(out, "  max_age:        %s\n", sw.MaxAge)
	fmt.Fprintf(out, "  sweep_interval: %s\n", sw.SweepInterval)
	fmt.Fprintf(out, "  fdb_capacity:   %d\n", sw.FDBCapacity)
	fmt.Fprintf(out, "  netns:          %s\n", netns)
	fmt.Fprintf(out, "  capture:        %s (snap_len %d)\n", cfg.Capture.Type, cfg.Capture.SnapLen)
	return nil
}
