package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "vegapull",
		Short: "vegapull streaming pull subscriber",
		Long:  "A standalone streaming pull subscriber client: pulls messages from a subscription, hands them to a receiver, and acks/nacks/extends leases on the stream.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (JSON or YAML, optional)")
	rootCmd.AddCommand(
		daemonCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
