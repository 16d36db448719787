package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/novik133/novasearch/internal/config"
	"github.com/novik133/novasearch/internal/store"
)

func newSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the index directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.OpenReadOnly(config.IndexPath())
			if err != nil {
				if errors.Is(err, store.ErrNotAvailable) {
					return fmt.Errorf("no index yet; start the daemon first")
				}
				return err
			}
			defer s.Close()

			results, err := s.Query(cmd.Context(), strings.TrimSpace(args[0]), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range results {
				if r.LaunchCount > 0 {
					fmt.Fprintf(out, "%s  (%d launches)\n", r.Path, r.LaunchCount)
				} else {
					fmt.Fprintln(out, r.Path)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum results (default 50)")

	return cmd
}
