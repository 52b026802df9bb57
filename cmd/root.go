// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/l2sw/internal/command"
)

var (
	// Global flags
	configFile string
	socketPath string
	rpcTimeout time.Duration

	// newClient builds the control client; tests replace it.
	newClient = func() Client {
		return command.NewUDSClient(socketPath, rpcTimeout)
	}
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "l2sw",
	Short: "l2sw - userspace Ethernet learning switch",
	Long: `l2sw bridges a fixed set of Linux network interfaces in userspace.

It captures every frame on each member interface, learns source addresses into
a forwarding database with aging, and forwards known unicast to the learned
port while flooding broadcast, multicast and unknown destinations.

Features:
  - Capture backends: AF_PACKET ring (afpacket), raw socket (rawsock), libpcap (pcap)
  - Hub mode: never learn, always flood
  - FDB inspection and flush via Unix Domain Socket
  - FDB event export to Kafka
  - Prometheus metrics`,
	Version:       command.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/l2sw/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/l2sw.sock",
		"daemon socket path")
	rootCmd.PersistentFlags().DurationVar(&rpcTimeout, "timeout", 10*time.Second,
		"control request timeout")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(fdbCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(stopCmd)
}

// result unwraps a response into its result or an error naming the method.
func result(method string, resp *command.Response, err error) (interface{}, error) {
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s failed: %s", method, resp.Error.Message)
	}
	return resp.Result, nil
}
