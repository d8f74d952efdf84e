package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rickgao/fleet-live/internal/version"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the fleetwatch version",
		Run: func(cmd *cobra.Command, args []string) {
			if detailed, _ := cmd.Flags().GetBool("detailed"); detailed {
				fmt.Fprintln(cmd.OutOrStdout(), "fleetwatch "+version.String())
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), "fleetwatch "+version.Version)
		},
	}
	cmd.Flags().Bool("detailed", false, "Include commit and build time")
	return cmd
}
