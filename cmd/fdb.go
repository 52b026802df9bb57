// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"

	"firestige.xyz/l2sw/internal/command"
)

// fdbCmd represents the fdb command group
var fdbCmd = &cobra.Command{
	Use:   "fdb",
	Short: "Inspect and flush the forwarding database",
	Long: `Inspect and flush the forwarding database of the running switch.

Subcommands:
  show   - List learned stations
  flush  - Remove every learned station`,
}

var fdbShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List learned stations",
	Long: `List learned stations in address order.

Examples:
  l2sw fdb show
  l2sw fdb show -i eth1
  l2sw fdb show -o yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := command.FDBShowParams{Interface: fdbInterface, MAC: fdbMAC}
		return runFDBShow(cmd.Context(), newClient(), cmd.OutOrStdout(), params, fdbOutput)
	},
}

var fdbFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Remove every learned station",
	Long: `Force a sweep that removes every entry regardless of age. Traffic to
removed stations is flooded until they are learned again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFDBFlush(cmd.Context(), newClient(), cmd.OutOrStdout())
	},
}

var (
	fdbOutput    string
	fdbInterface string
	fdbMAC       string
)

func init() {
	fdbShowCmd.Flags().StringVarP(&fdbOutput, "output", "o", outputTable, "output format: table, json or yaml")
	fdbShowCmd.Flags().StringVarP(&fdbInterface, "interface", "i", "", "only entries learned on this interface")
	fdbShowCmd.Flags().StringVar(&fdbMAC, "mac", "", "only the entry for this address")

	fdbCmd.AddCommand(fdbShowCmd)
	fdbCmd.AddCommand(fdbFlushCmd)
}

func runFDBShow(ctx context.Context, client Client, out io.Writer, params command.FDBShowParams, format string) error {
	resp, err := client.FDBShow(ctx, params)
	raw, err := result(command.MethodFDBShow, resp, err)
	if err != nil {
		return err
	}

	res, err := decodeFDB(raw)
	if err != nil {
		return err
	}

	if format != outputTable {
		return writeStructured(out, format, res.Entries)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MAC\tINTERFACE\tEXPIRES IN")
	for _, e := range res.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.MAC, e.Interface, formatExpiry(e.ExpiresIn))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d entries\n", res.Count)
	return nil
}

// decodeFDB turns the generic JSON result back into typed entries.
func decodeFDB(raw interface{}) (command.FDBShowResult, error) {
	var res command.FDBShowResult
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			mapstructure.StringToTimeDurationHookFunc(),
		),
		Result: &res,
	})
	if err != nil {
		return res, err
	}
	if err := dec.Decode(raw); err != nil {
		return res, fmt.Errorf("invalid fdb_show result: %w", err)
	}
	return res, nil
}

func formatExpiry(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	return d.Round(time.Second).String()
}

func runFDBFlush(ctx context.Context, client Client, out io.Writer) error {
	resp, err := client.FDBFlush(ctx)
	raw, err := result(command.MethodFDBFlush, resp, err)
	if err != nil {
		return err
	}
	m, _ := raw.(map[string]interface{})
	fmt.Fprintf(out, "✓ FDB flushed, %v entries removed\n", m["removed"])
	return nil
}
