package cmd

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

func submitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Builds a job from a job file and submits it to the cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString("file")
			if err != nil {
				return err
			}
			job, err := readJobFile(path)
			if err != nil {
				return err
			}
			return withApp(func(ctx *ucontext.Context, a *jobmanager.App) error {
				created, err := a.Orchestrator.Create(ctx, job)
				if err != nil {
					return err
				}
				log.Infof("Submitted job %s as %s/%s", job.Id, created.Namespace, created.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringP("file", "f", "", "YAML or JSON file describing the job")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readJobFile decodes and validates a job request.
func readJobFile(path string) (*api.JobRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	job := &api.JobRequest{}
	if err := yaml.UnmarshalStrict(data, job); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	if err := validator.New().Struct(job); err != nil {
		return nil, errors.Wrapf(err, "validating %s", path)
	}
	return job, nil
}
