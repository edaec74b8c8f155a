package main

import (
	"github.com/spf13/cobra"

	"emberon/internal/app"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "emberon",
		Short: "Weekly supplement reminder scheduler",
		Long: `emberon reminds owners to take their supplements at a weekly slot and
marks a supplement missed when it is still pending an hour later.

Examples:
  emberon serve --config ./config.yaml     # Run the scheduler
  emberon next                             # Show upcoming fire times
  emberon supplements list --day 3         # List Wednesday supplements`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.yaml", "path to config (json or yaml)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newNextCmd(opts))
	cmd.AddCommand(newSupplementsCmd(opts))
	cmd.AddCommand(newNotifyCmd(opts))
	cmd.AddCommand(newResetCmd(opts))
	return cmd
}

// openApp builds the app without starting it; the caller must Close it.
func openApp(opts *rootOptions) (*app.App, error) {
	return app.New(opts.configPath)
}
