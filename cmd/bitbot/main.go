package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "config.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bitbot",
		Short: "Bitbot runs daily agent exchanges for a list of Solana identities",
		Long: "Bitbot signs in every identity from the key file, sends up to the daily quota of\n" +
			"messages through a rotating proxy pool, and repeats every 24 hours.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", defaultConfigPath, "path to the YAML config (missing file means defaults)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newProxiesCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bitbot %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
