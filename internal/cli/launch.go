package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/novik133/novasearch/internal/classify"
	"github.com/novik133/novasearch/internal/config"
	"github.com/novik133/novasearch/internal/store"
)

// newLaunchCmd is the writeback hook: the panel invokes it after the user
// opens a result, so launch counts feed back into ranking.
func newLaunchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "launch <path>",
		Short: "Record a launch of an indexed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := classify.Normalize(args[0])
			if err != nil {
				return fmt.Errorf("launch: %w", err)
			}
			s, err := store.OpenReadWrite(config.IndexPath())
			if err != nil {
				return err
			}
			defer s.Close()
			return s.RecordLaunch(cmd.Context(), path)
		},
	}
}
