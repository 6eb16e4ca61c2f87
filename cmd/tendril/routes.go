package main

import (
	"fmt"

	"github.com/aretw0/tendril/internal/presentation/graph"
	"github.com/aretw0/tendril/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List every operation with its signature",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, _, err := setup(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		rendered, err := tui.NewRenderer(out)(tui.RoutesMarkdown(srv.Engine().Router()))
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(out, rendered)
		return err
	},
}

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the namespace tree as a Mermaid diagram",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, _, err := setup(cmd)
		if err != nil {
			return err
		}
		var overlay *graph.Overlay
		restricted, _ := cmd.Flags().GetStringSlice("restricted")
		current, _ := cmd.Flags().GetString("highlight")
		if len(restricted) > 0 || current != "" {
			overlay = &graph.Overlay{Restricted: restricted, Current: current}
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(srv.Engine().Router(), overlay))
		return err
	},
}

func init() {
	rootCmd.AddCommand(routesCmd)
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringSlice("restricted", nil, "Operations to mark as restricted")
	graphCmd.Flags().String("highlight", "", "Operation to highlight")
}
