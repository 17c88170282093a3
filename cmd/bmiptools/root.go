package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"bmiptools/internal/logging"
	"bmiptools/pkg/config"
	"bmiptools/pkg/registry"
)

// commandContext lazily resolves the configuration and logger shared by the
// subcommands.
type commandContext struct {
	configPath *string
	logLevel   *string

	cfg    *config.Config
	logger *slog.Logger
}

func (c *commandContext) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.LoadConfig(*c.configPath)
	if err != nil {
		return nil, err
	}
	if *c.logLevel != "" {
		cfg.Logging.Level = *c.logLevel
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) loggerFor(cmd *cobra.Command) (*slog.Logger, error) {
	if c.logger != nil {
		return c.logger, nil
	}
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	c.logger = logger
	return logger, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var logLevelFlag string

	ctx := &commandContext{configPath: &configFlag, logLevel: &logLevelFlag}
	reg := registry.Default()

	rootCmd := &cobra.Command{
		Use:           "bmiptools",
		Short:         "Volumetric microscopy stack correction pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "bmiptools.yaml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(newPluginsCommand(reg))
	rootCmd.AddCommand(newInitConfigCommand(ctx))
	rootCmd.AddCommand(newTemplateCommand(ctx, reg))
	rootCmd.AddCommand(newRunCommand(ctx, reg))
	rootCmd.AddCommand(newApplyCommand(ctx, reg))

	return rootCmd
}
