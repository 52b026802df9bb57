// Package main is the entry point for the l2sw userspace Ethernet switch.
package main

import (
	"os"

	"firestige.xyz/l2sw/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
