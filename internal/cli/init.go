package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/novik133/novasearch/internal/config"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = config.UserConfigPath()
			}
			if path == "" {
				return fmt.Errorf("cannot determine config path")
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			if err := os.MkdirAll(config.DataDir(), 0755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}
