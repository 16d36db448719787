// Package cli implements the command-line interface for the NovaSearch
// daemon.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "novasearch",
	Short: "NovaSearch - desktop file search indexing daemon",
	Long: `NovaSearch maintains a persistent, queryable index of files and
desktop-application entries under a configurable set of roots, kept
synchronized with the filesystem in near-real time.

Commands:
  start      Run the indexing daemon in the foreground
  status     Show daemon state and index statistics
  reindex    Ask the running daemon for a full re-scan
  search     Query the index directly
  launch     Record a launch of an indexed file
  init       Write the default configuration file`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/novasearch/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newReindexCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newLaunchCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newAboutCmd())
	rootCmd.AddCommand(newAuthorCmd())
}
