package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Run the daily reset sweep once, now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Reminders().RunResetSweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "day=%d scanned=%d reset=%d failed=%d\n", res.Day, res.Scanned, res.Reset, res.Failed)
			return nil
		},
	}
}
