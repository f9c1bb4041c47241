// Package main is the crmrecall CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/crmrecall/internal/cli"
	"github.com/hyperjump/crmrecall/internal/config"
	"github.com/hyperjump/crmrecall/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/crmrecall/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	debug      bool
	output     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "crmrecall",
		Short: "Time-sharded semantic memory for CRM records",
		Long: `crmrecall embeds structured CRM records (contacts, companies, deals, tickets...)
into one vector shard per calendar day, keeps a rolling window of days and answers
similarity searches across all of them.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServerCmd(flags),
		newMCPCmd(flags),
		newIngestCmd(flags),
		newSearchCmd(flags),
		newStatusCmd(flags),
		newFlushCmd(flags),
		newSnapshotCmd(flags),
		newRestoreCmd(flags),
		newInitCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads config from path. When path is the default, config.yaml in the
// working directory takes precedence so a project checkout uses its own settings. A
// missing file means defaults. Returns the config and the path it came from ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			local := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(local); err == nil {
				path = local
			}
		}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err := config.LoadOrDefault(path)
		return cfg, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads config and builds the logger for a command. Logs go to stderr.
func (f *globalFlags) setup() (*config.Config, *zap.Logger, cli.OutputFormat, error) {
	format, err := cli.ParseOutputFormat(f.output)
	if err != nil {
		return nil, nil, "", err
	}
	cfg, path, err := loadConfig(f.configPath)
	if err != nil {
		return nil, nil, "", fmt.Errorf("load config: %w", err)
	}
	if f.debug {
		cfg.Debug = true
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, "", fmt.Errorf("create logger: %w", err)
	}
	if path != "" {
		logger.Debug("config loaded", zap.String("config_path", path))
	} else {
		logger.Debug("no config file found, using defaults", zap.String("config_path", f.configPath))
	}
	return cfg, logger, format, nil
}
