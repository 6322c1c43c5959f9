package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/metal-toolbox/romxfer/internal/acquire"
	"github.com/metal-toolbox/romxfer/internal/model"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type pushFlags struct {
	host           string
	port           int
	username       string
	password       string
	basePath       string
	platform       string
	romName        string
	strictPassword bool
}

var push = &pushFlags{}

// pushCmd delivers a single ROM without going through the HTTP service.
var pushCmd = &cobra.Command{
	Use:   "push <file or url>",
	Short: "Copy one ROM to a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, positional []string) error {
		cmd.SilenceUsage = true

		outcome, err := runPush(cmd.Context(), args, push, positional[0], cmd.Flags().Changed("password"))
		if err != nil {
			return err
		}

		if !outcome.Success {
			return errors.New(outcome.Message)
		}

		fmt.Fprintln(cmd.OutOrStdout(), outcome.Message)

		return nil
	},
}

func runPush(ctx context.Context, args *model.Args, flags *pushFlags, source string, passwordSet bool) (model.Outcome, error) {
	config, err := loadConfig(args)
	if err != nil {
		return model.Outcome{}, err
	}

	defaults, err := config.HostDefaults()
	if err != nil {
		return model.Outcome{}, err
	}

	req := &model.TransferRequest{
		ID:       uuid.NewString(),
		RomName:  flags.romName,
		Platform: flags.platform,
		Host: model.HostConfig{
			HostIP:         flags.host,
			Port:           defaults.Port,
			Username:       defaults.Username,
			Password:       defaults.Password,
			RemoteBasePath: defaults.RemoteBasePath,
			StrictPassword: flags.strictPassword,
		},
	}

	remote := strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
	if remote {
		req.Source.RemoteURL = source
	} else {
		req.Source.LocalPath = source
	}

	if req.RomName == "" {
		req.RomName = filepath.Base(source)
	}

	if flags.port != 0 {
		req.Host.Port = flags.port
	}

	if flags.username != "" {
		req.Host.Username = flags.username
	}

	if passwordSet {
		req.Host.Password = flags.password
	}

	if flags.basePath != "" {
		req.Host.RemoteBasePath = flags.basePath
	}

	if err := req.Validate(); err != nil {
		return model.FailureOutcome(err), nil
	}

	parts, err := newComponents(ctx, config)
	if err != nil {
		return model.Outcome{}, err
	}

	var artifact *acquire.Artifact
	if remote {
		artifact, err = parts.acquirer.Download(ctx, req.Source.RemoteURL, req.RomName)
	} else {
		artifact, err = parts.acquirer.Local(req.Source.LocalPath, req.RomName)
	}

	if err != nil {
		return model.FailureOutcome(err), nil
	}
	defer artifact.Release()

	return parts.deliverer.Deliver(ctx, artifact.Path, req), nil
}

func init() {
	pushCmd.Flags().StringVar(&push.host, "host", "", "device IP address or host name")
	pushCmd.Flags().IntVar(&push.port, "port", 0, "device SSH port (default from configuration)")
	pushCmd.Flags().StringVar(&push.username, "username", "", "device user (default from configuration)")
	pushCmd.Flags().StringVar(&push.password, "password", "", "device password (default from configuration)")
	pushCmd.Flags().StringVar(&push.basePath, "base-path", "", "ROM root on the device (default from configuration)")
	pushCmd.Flags().StringVar(&push.platform, "platform", "", "platform label, for example \"Game Boy\" or snes")
	pushCmd.Flags().StringVar(&push.romName, "rom-name", "", "file name on the device (default is the source base name)")
	pushCmd.Flags().BoolVar(&push.strictPassword, "strict-password", false, "do not try the fallback passwords")

	for _, name := range []string{"host", "platform"} {
		if err := pushCmd.MarkFlagRequired(name); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(pushCmd)
}
