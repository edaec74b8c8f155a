package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"emberon/internal/domain"
	"emberon/internal/storage"
)

func newSupplementsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supplements",
		Short: "Inspect stored supplements",
	}
	cmd.AddCommand(newSupplementsListCmd(opts))
	return cmd
}

func newSupplementsListCmd(opts *rootOptions) *cobra.Command {
	var (
		day    int
		owner  string
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List supplements, optionally filtered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := storage.Filter{OwnerID: owner}
			if cmd.Flags().Changed("day") {
				if day < 0 || day > 6 {
					return fmt.Errorf("--day must be 0-6 (Sunday=0), got %d", day)
				}
				f.Day = storage.DayFilter(day)
			}
			if status != "" {
				st := domain.Status(status)
				if !st.Valid() {
					return fmt.Errorf("--status: unknown status %q", status)
				}
				f.Statuses = []domain.Status{st}
			}

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.Store().FindSupplements(cmd.Context(), f)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOWNER\tNAME\tDAY\tTIME\tSTATUS\tUPDATED")
			for _, s := range list {
				updated := "-"
				if !s.LastStatusUpdate.IsZero() {
					updated = humanize.Time(s.LastStatusUpdate)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.OwnerID, s.Name, time.Weekday(s.Day), s.Time, s.Status, updated)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&day, "day", 0, "day of week, 0-6 (Sunday=0)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().StringVar(&status, "status", "", "pending, taken or missed")
	return cmd
}
