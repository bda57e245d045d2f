package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/site-receiver/internal/config"
	"github.com/tomasbasham/site-receiver/internal/identity"
)

// ConfigFlags are the configuration overrides shared by every command. A flag
// only replaces the environment value when it is set explicitly.
type ConfigFlags struct {
	RootDir   string
	Site      string
	PluginDir string
	LogFile   string
	LogLevel  string
	LogFormat string
}

// AddFlags registers the configuration flags on cmd.
func (f *ConfigFlags) AddFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.StringVar(&f.RootDir, "root-dir", "", "Deployment root holding d/<site> (env RECEIVER_ROOT_DIR)")
	flags.StringVarP(&f.Site, "site", "s", "", "Site served by this instance (env RECEIVER_SITE)")
	flags.StringVar(&f.PluginDir, "plugin-dir", "", "Plugin directory with test/ and store/ (env RECEIVER_PLUGIN_DIR)")
	flags.StringVar(&f.LogFile, "log-file", "", "Audit log file (env RECEIVER_LOG_FILE)")
	flags.StringVar(&f.LogLevel, "log-level", "", "Process log level: debug, info, warn or error (env RECEIVER_LOG_LEVEL)")
	flags.StringVar(&f.LogFormat, "log-format", "", "Process log format: text or json (env RECEIVER_LOG_FORMAT)")
}

// Load reads the environment configuration and applies the flags set on cmd.
// Without a configured site the tenant is derived from the working directory.
func (f *ConfigFlags) Load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		flag  string
		value string
		dst   *string
	}{
		{"root-dir", f.RootDir, &cfg.RootDir},
		{"site", f.Site, &cfg.Site},
		{"plugin-dir", f.PluginDir, &cfg.PluginDir},
		{"log-file", f.LogFile, &cfg.LogFile},
		{"log-level", f.LogLevel, &cfg.LogLevel},
		{"log-format", f.LogFormat, &cfg.LogFormat},
	}
	for _, o := range overrides {
		if cmd.Flags().Changed(o.flag) {
			*o.dst = o.value
		}
	}

	if cfg.Site == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		site, err := identity.TenantFromPath(wd)
		if err != nil {
			return nil, err
		}
		cfg.Site = site
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
