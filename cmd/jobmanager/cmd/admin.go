package cmd

import (
	"github.com/spf13/cobra"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

func killCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill jobId",
		Short: "Deletes a job right away and releases its resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(func(ctx *ucontext.Context, a *jobmanager.App) error {
				return a.Orchestrator.Kill(ctx, args[0])
			})
		},
	}
}

func drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Kills every job managed by the job manager",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(func(ctx *ucontext.Context, a *jobmanager.App) error {
				return a.Orchestrator.Drain(ctx)
			})
		},
	}
}

func addOwnerFlags(cmd *cobra.Command) {
	cmd.Flags().String("user", "", "user creating the resource")
	cmd.Flags().String("project", "", "project owning the resource, empty for personal resources")
	_ = cmd.MarkFlagRequired("user")
}

func ownerFromFlags(cmd *cobra.Command) api.Owner {
	user, _ := cmd.Flags().GetString("user")
	project, _ := cmd.Flags().GetString("project")
	return api.Owner{CreatedBy: user, Project: project}
}
