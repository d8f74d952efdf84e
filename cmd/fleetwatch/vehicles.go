package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rickgao/fleet-live/internal/api"
)

func newVehiclesCmd() *cobra.Command {
	var (
		page    int
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "vehicles",
		Short: "List a page of vehicles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.API.BaseURL == "" {
				return fmt.Errorf("api.base_url is required (set it in the config or pass --api-url)")
			}

			client := newAPIClient(nil)
			result, err := client.ListVehicles(cmd.Context(), api.ListVehiclesOptions{Page: page, Limit: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tVEHICLE\tSTATUS\tODOMETER (KM)")
			for _, v := range result.Docs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f\n", v.ID, v.DisplayName(), v.Status, v.CurrentOdometerKm)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "page %d of %d, %d vehicles\n", result.Page, result.TotalPages, result.TotalDocs)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 10, "Vehicles per page")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the raw page as JSON")
	return cmd
}
