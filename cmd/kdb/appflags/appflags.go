// Package appflags wires the shared pipeline flags of kdb commands into an
// app.App through the viper precedence chain.
package appflags

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/app"
	"github.com/papercomputeco/kdb/pkg/config"
	"github.com/papercomputeco/kdb/pkg/logger"
)

// Register adds the registered flags named by keys to cmd.
func Register(cmd *cobra.Command, keys []string) {
	config.AddRegisteredFlags(cmd, config.Flags, keys)
}

// Debug reports whether the persistent --debug flag is set. Commands built
// outside the root command have no such flag and log at info level.
func Debug(cmd *cobra.Command) bool {
	debug, _ := cmd.Flags().GetBool("debug")
	return debug
}

// ConfigDir returns the persistent --config-dir flag, if any.
func ConfigDir(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("config-dir")
	return dir
}

// Load layers flags, KDB_ environment variables, config.toml and defaults
// into one Config.
func Load(cmd *cobra.Command, keys []string) (*config.Config, error) {
	v, err := config.InitViper(ConfigDir(cmd))
	if err != nil {
		return nil, err
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, keys)

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// NewApp loads the effective config and builds an App from it. The caller
// closes the App and syncs the logger.
func NewApp(cmd *cobra.Command, keys []string) (*app.App, *zap.Logger, error) {
	log := logger.NewLogger(Debug(cmd))

	cfg, err := Load(cmd, keys)
	if err != nil {
		return nil, log, err
	}

	a, err := app.New(app.Options{
		Config:    cfg,
		ConfigDir: ConfigDir(cmd),
		Logger:    log,
	})
	if err != nil {
		return nil, log, fmt.Errorf("building pipeline: %w", err)
	}
	return a, log, nil
}
