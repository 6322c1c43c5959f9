package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ROM transfer HTTP service",
	Run: func(cmd *cobra.Command, _ []string) {
		if err := runServer(cmd.Context(), args); err != nil {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
