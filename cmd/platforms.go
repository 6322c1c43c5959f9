package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/metal-toolbox/romxfer/internal/platform"
	"github.com/spf13/cobra"
)

// platformsCmd prints the platform label to directory table.
var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List the known platform labels and their device directories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

		fmt.Fprintln(w, "LABEL\tDIRECTORY")

		for _, m := range platform.Known() {
			fmt.Fprintf(w, "%s\t%s\n", m.Label, m.Directory)
		}

		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(platformsCmd)
}
