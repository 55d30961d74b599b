// Package cmd implements CLI commands using the cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "capkit",
	Short: "capkit - pcap extraction with IP and TCP reassembly",
	Long: `capkit decodes pcap capture files and reconstructs original datagrams
and byte streams that were split across captured packets by IP
fragmentation or TCP segmentation.

Features:
  - IPv4/IPv6 datagram defragmentation and TCP stream reconstruction
  - Parallel record decoding with strict capture-order analysis
  - Structured output sinks: json, yaml, console`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path")

	rootCmd.AddCommand(extractCmd)
}
