package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dicoderin/bitbot/internal/config"
	"github.com/dicoderin/bitbot/internal/events"
)

func newProxiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "proxies",
		Short: "Probe every proxy in the proxy file and print its state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			endpoints, err := config.ReadLines(cfg.Inputs.ProxiesFile)
			if err != nil {
				return err
			}
			pool := newPool(cfg, endpoints, events.Discard)
			active := pool.ProbeAll(cmd.Context())

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENDPOINT\tSTATE")
			for _, st := range pool.Snapshot() {
				fmt.Fprintf(tw, "%s\t%s\n", st.Endpoint, st.State)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d/%d active\n", active, pool.Len())
			return nil
		},
	}
}
