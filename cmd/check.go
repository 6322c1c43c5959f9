package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/metal-toolbox/romxfer/internal/acquire"
	"github.com/spf13/cobra"
)

// checkCmd reports whether a ROM is already in the downloads directory.
var checkCmd = &cobra.Command{
	Use:   "check <file name>",
	Short: "Check whether a ROM exists in the downloads directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, positional []string) error {
		cmd.SilenceUsage = true

		config, err := loadConfig(args)
		if err != nil {
			return err
		}

		acquirer := acquire.New(acquire.Options{DownloadsDir: config.DownloadsDir})

		exists, path, err := acquirer.Check(positional[0])
		if err != nil {
			return err
		}

		result := struct {
			Exists   bool    `json:"exists"`
			FilePath *string `json:"filePath"`
		}{Exists: exists}

		if exists {
			result.FilePath = &path
		}

		out, err := json.Marshal(result)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
