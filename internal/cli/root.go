// Package cli implements the proxy command line
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faiz501/bharat-industry/internal/config"
)

type rootOptions struct {
	configPath string
	cfg        *config.Config
}

// NewRootCommand builds the proxy command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "proxy",
		Short:        "Offline caching worker for the Bharat Industries site",
		Long:         "Runs the offline worker behind an HTTP proxy: static assets and images are served cache-first, pages and data network-first with offline fallbacks.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "configs/config.yaml", "Config file path")

	cmd.AddCommand(
		newServeCommand(opts),
		newInstallCommand(opts),
		newCleanupCommand(opts),
		newCacheSizeCommand(opts),
		newConfigCommand(opts),
	)
	return cmd
}

func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ConfigureLogging(); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}
