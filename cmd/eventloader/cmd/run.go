package cmd

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/armadaproject/eventloader/internal/common/app"
	"github.com/armadaproject/eventloader/internal/common/config"
	"github.com/armadaproject/eventloader/internal/common/logging"
	"github.com/armadaproject/eventloader/internal/eventloader"
	"github.com/armadaproject/eventloader/internal/eventloader/configuration"
)

const defaultConfigPath = "./config/eventloader"

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the loader until interrupted",
		RunE:  runCmdE,
	}
}

func checkConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			log.Info("Configuration is valid")
			return nil
		},
	}
}

func runCmdE(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logging.ConfigureLogging(cfg.Logging); err != nil {
		return errors.WithMessage(err, "configuring logging")
	}
	return eventloader.Run(app.CreateContextWithShutdown(), cfg)
}

func loadConfig() (*configuration.EventLoaderConfiguration, error) {
	var cfg configuration.EventLoaderConfiguration
	if _, err := config.ReadConfig(&cfg, defaultConfigPath, viper.GetStringSlice(CustomConfigLocation)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		config.LogValidationErrors(err)
		return nil, errors.New("invalid configuration")
	}
	return &cfg, nil
}
