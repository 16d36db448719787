package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/novik133/novasearch/internal/daemon"
)

// Exit codes for the status command.
const (
	statusHealthy  = 0
	statusStopped  = 1
	statusDegraded = 2
)

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon state and index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			st, err := daemon.ReadStatus()
			if err != nil {
				fmt.Fprintln(out, "daemon: stopped (no status file)")
				os.Exit(statusStopped)
			}

			alive := daemon.ProcessAlive(st.PID)
			code := statusHealthy
			switch {
			case !alive || st.State == daemon.StateStopped:
				code = statusStopped
			case st.Stale() || st.LastError != "":
				code = statusDegraded
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(st); err != nil {
					return err
				}
				os.Exit(code)
			}

			state := st.State
			if !alive {
				state = daemon.StateStopped
			}
			fmt.Fprintf(out, "State:          %s\n", state)
			fmt.Fprintf(out, "PID:            %d\n", st.PID)
			fmt.Fprintf(out, "Files indexed:  %d\n", st.FilesIndexed)
			fmt.Fprintf(out, "Pending writes: %d\n", st.PendingDepth)
			if st.LastScan > 0 {
				fmt.Fprintf(out, "Last scan:      %s\n", time.Unix(st.LastScan, 0).Format(time.RFC3339))
			} else {
				fmt.Fprintf(out, "Last scan:      never\n")
			}
			if len(st.Roots) > 0 {
				fmt.Fprintf(out, "Roots:\n")
				for _, r := range st.Roots {
					fmt.Fprintf(out, "  %s\n", r)
				}
			}
			if st.LastError != "" {
				fmt.Fprintf(out, "Last error:     %s\n", st.LastError)
			}
			os.Exit(code)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")

	return cmd
}
