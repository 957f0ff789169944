// Package app wires the worker's command-line interface.
package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nzua-hub/grade-notifier/config"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
	"github.com/nzua-hub/grade-notifier/pkg/timeutil"
)

// Build information, set with -ldflags.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	v          *viper.Viper
	configPath string
}

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:               "gradesync",
		Short:             "Polls the school diary and announces new and changed grades",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML configuration file")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := opts.v.BindPFlag("debug", cmd.PersistentFlags().Lookup("debug")); err != nil {
		fmt.Fprintf(os.Stderr, "bind debug flag: %v\n", err)
	}

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newLoginCmd(opts),
		newSyncCmd(opts),
		newFetchCmd(opts),
		newProfileCmd(opts),
		newLogoutCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration and builds the process logger.
func (o *rootOptions) load() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadViper(o.v, o.configPath)
	if err != nil {
		return nil, nil, err
	}

	if err := timeutil.SetLocation(cfg.App.Timezone); err != nil {
		return nil, nil, fmt.Errorf("timezone: %w", err)
	}

	log := logger.New(logger.Options{
		Output:    os.Stderr,
		Level:     logger.ParseLevel(cfg.Log.Level),
		Format:    cfg.Log.Format,
		AddCaller: cfg.App.Debug,
	}).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
	return cfg, log, nil
}
