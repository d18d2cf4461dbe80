package main

import (
	"os"

	"github.com/spf13/cobra"
)

type options struct {
	server string
	actor  string
	json   bool
}

func (o *options) client() *client {
	return newClient(o.server, o.actor)
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "jobflowctl",
		Short:         "Inspect and drive job lifecycles",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	server := os.Getenv("JOBFLOW_URL")
	if server == "" {
		server = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "Base URL of the jobflow API")
	root.PersistentFlags().StringVar(&opts.actor, "actor", os.Getenv("JOBFLOW_ACTOR"), "Actor id sent with write requests")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Print raw JSON instead of tables")

	root.AddCommand(
		newGetCommand(opts),
		newHistoryCommand(opts),
		newListCommand(opts),
		newDashboardCommand(opts),
		newNotificationsCommand(opts),
		newCreateCommand(opts),
		newActionCommand(opts, "hold", "Put a job on hold", true),
		newActionCommand(opts, "cancel", "Cancel a job", true),
		newActionCommand(opts, "complete", "Mark a job completed", false),
		newResumeCommand(opts),
	)
	return root
}
