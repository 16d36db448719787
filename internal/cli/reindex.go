package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/novik133/novasearch/internal/daemon"
)

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Ask the running daemon for a full re-scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := daemon.SignalReindex(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reindex requested")
			return nil
		},
	}
}
