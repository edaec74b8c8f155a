package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newNotifyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Push helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test [owner-id]",
		Short: "Send a test push to an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.Notifier().SendTest(cmd.Context(), args[0]) {
				return fmt.Errorf("test push to %s not delivered", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "test push delivered to %s\n", args[0])
			return nil
		},
	})
	return cmd
}
