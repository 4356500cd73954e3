package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SDU-eScience/UCloud-sub021/internal/common"
	commonconfig "github.com/SDU-eScience/UCloud-sub021/internal/common/config"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
)

const (
	CustomConfigLocation string = "config"
	defaultConfigPath    string = "./config/jobmanager"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "jobmanager",
		SilenceUsage: true,
		Short:        "Runs UCloud jobs as volcano batch jobs",
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	_ = viper.BindPFlag(CustomConfigLocation, cmd.PersistentFlags().Lookup(CustomConfigLocation))

	cmd.AddCommand(
		runCmd(),
		submitCmd(),
		killCmd(),
		drainCmd(),
		ingressCmd(),
		networkIpCmd(),
	)

	return cmd
}

func loadConfig() (configuration.Configuration, error) {
	var config configuration.Configuration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	common.LoadConfig(&config, defaultConfigPath, userSpecifiedConfigs)

	err := config.Validate()
	if err != nil {
		commonconfig.LogValidationErrors(err)
	}
	return config, err
}

// withApp runs f against a fully wired job manager, for the commands which act once and exit.
func withApp(f func(ctx *ucontext.Context, a *jobmanager.App) error) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := ucontext.Background()
	a, err := jobmanager.Setup(ctx, config)
	if err != nil {
		return err
	}
	defer a.Close()
	return f(ctx, a)
}
