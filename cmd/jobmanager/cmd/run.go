package cmd

import (
	"github.com/spf13/cobra"

	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the job manager",
		RunE: func(_ *cobra.Command, _ []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			return jobmanager.Run(config)
		},
	}
	return cmd
}
