package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newNextCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the next reminder and missed-check instants of every supplement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			// The scheduler is not started; triggers are registered and previewed only.
			rem := a.Reminders()
			if err := rem.InitializeAll(cmd.Context()); err != nil {
				return err
			}
			loc := rem.Location()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SUPPLEMENT\tRULE\tNEXT REMINDER\tNEXT MISSED")
			for _, set := range rem.Registry().Snapshot() {
				r, m, _ := rem.NextFires(set.Key.EntityID)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", set.Key.EntityID, set.ReminderRule, fmtTime(r, loc), fmtTime(m, loc))
			}
			return w.Flush()
		},
	}
}

func fmtTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format("Mon 2006-01-02 15:04 MST")
}
