package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildVersion is overridden at link time via -ldflags "-X main.buildVersion=...".
var buildVersion = "dev"

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the vegapull build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("vegapull " + buildVersion)
			return nil
		},
	}
}
