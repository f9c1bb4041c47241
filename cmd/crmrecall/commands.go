package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/crmrecall/internal/backup"
	"github.com/hyperjump/crmrecall/internal/cli"
	"github.com/hyperjump/crmrecall/internal/config"
	"github.com/hyperjump/crmrecall/internal/ingest"
	"github.com/hyperjump/crmrecall/internal/maintenance"
	"github.com/hyperjump/crmrecall/internal/mcp"
	"github.com/hyperjump/crmrecall/internal/models"
	"github.com/hyperjump/crmrecall/internal/server"
	"github.com/hyperjump/crmrecall/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func newServerCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP API, inbox watcher and maintenance scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, _, err := flags.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()

			c, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeComponents(c, logger)

			sched, err := startMaintenance(cfg, c, logger)
			if err != nil {
				return err
			}
			w, err := startWatcher(ctx, cfg, c, logger)
			if err != nil {
				return err
			}

			srv := server.NewServer(c.Engine, c.Index, c.Pipeline, c.Journal, cfg, logger)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case err = <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					err = nil
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if serr := srv.Stop(shutdownCtx); serr != nil {
				logger.Warn("server shutdown failed", zap.Error(serr))
			}
			if w != nil {
				w.Stop()
			}
			if sched != nil {
				if serr := sched.Stop(shutdownCtx); serr != nil {
					logger.Warn("maintenance shutdown failed", zap.Error(serr))
				}
			}
			return err
		},
	}
}

func newMCPCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the search_data and store_records tools over MCP stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout for AI assistants.

Claude Desktop configuration (claude_desktop_config.json):
  {
    "mcpServers": {
      "crmrecall": {
        "command": "/path/to/crmrecall",
        "args": ["mcp"]
      }
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, _, err := flags.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()

			c, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeComponents(c, logger)

			sched, err := startMaintenance(cfg, c, logger)
			if err != nil {
				return err
			}
			if sched != nil {
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					_ = sched.Stop(stopCtx)
				}()
			}

			srv, err := mcp.NewServer(&mcp.Ports{
				Search: c.Engine,
				Ingest: c.Pipeline,
				Status: c.Status,
			}, version, logger)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}

func newIngestCmd(flags *globalFlags) *cobra.Command {
	var (
		serverURL string
		category  string
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Embed and store the records in one or more JSON record files",
		Long: `Each file holds either {"category": "...", "tags": {...}, "records": [...]} or a bare
array of records, in which case the file name (without extension) is the category.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, format, err := flags.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			files := make([]*models.RecordFile, len(args))
			for i, path := range args {
				rf, err := ingest.LoadRecordFile(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if category != "" {
					rf.Category = category
				}
				files[i] = rf
			}

			return withServer(ctx, serverURL, logger,
				func(api *apiClient) error {
					for i, rf := range files {
						res, err := api.ingest(ctx, rf)
						if err != nil {
							return fmt.Errorf("%s: %w", args[i], err)
						}
						if err := cli.WriteIngestResult(out, args[i], res, format); err != nil {
							return err
						}
					}
					return nil
				},
				func() error {
					c, err := initializeComponents(ctx, cfg, logger)
					if err != nil {
						return err
					}
					defer closeComponents(c, logger)
					for i, rf := range files {
						res, err := c.Pipeline.Ingest(ctx, rf.Category, rf.Records, rf.Tags)
						if err != nil {
							return fmt.Errorf("%s: %w", args[i], err)
						}
						if err := cli.WriteIngestResult(out, args[i], res, format); err != nil {
							return err
						}
					}
					return nil
				})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = always open the storage directly)")
	cmd.Flags().StringVar(&category, "category", "", "override the category of every file")
	return cmd
}

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var (
		serverURL string
		query     models.SearchQuery
	)
	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search stored records by similarity",
		Long: `Query is all remaining arguments joined by spaces; quoting is optional.

Examples:
  crmrecall search acme renewal
  crmrecall search --category deals --tag region=emea "stalled negotiation"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, format, err := flags.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()
			query.Query = buildSearchQuery(args)
			if query.Query == "" {
				return cmd.Usage()
			}

			var resp *models.SearchResponse
			err = withServer(ctx, serverURL, logger,
				func(api *apiClient) error {
					resp, err = api.search(ctx, &query)
					return err
				},
				func() error {
					c, err := initializeComponents(ctx, cfg, logger)
					if err != nil {
						return err
					}
					defer closeComponents(c, logger)
					resp, err = c.Engine.Search(ctx, &query)
					return err
				})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = always open the storage directly)")
	cmd.Flags().IntVarP(&query.Limit, "limit", "n", 0, "number of results (default from config)")
	cmd.Flags().StringVar(&query.Category, "category", "", "only return records of this type")
	cmd.Flags().StringToStringVar(&query.Tags, "tag", nil, "only return records with this tag value (key=value, repeatable)")
	return cmd
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show shards, vector counts and disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, format, err := flags.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()

			var st *models.Status
			err = withServer(ctx, serverURL, logger,
				func(api *apiClient) error {
					st, err = api.status(ctx)
					return err
				},
				func() error {
					c, err := initializeComponents(ctx, cfg, logger)
					if err != nil {
						return err
					}
					defer closeComponents(c, logger)
					st, err = c.Status(ctx)
					return err
				})
			if err != nil {
				return err
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = always open the storage directly)")
	return cmd
}

func newFlushCmd(flags *globalFlags) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Persist every in-memory shard and apply retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, _, err := flags.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()
			err = withServer(ctx, serverURL, logger,
				func(api *apiClient) error { return api.flush(ctx) },
				func() error {
					// Opening the index already applies retention; closing it flushes.
					c, err := initializeComponents(ctx, cfg, logger)
					if err != nil {
						return err
					}
					return c.Close()
				})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "flushed")
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = always open the storage directly)")
	return cmd
}

func newSnapshotCmd(flags *globalFlags) *cobra.Command {
	var (
		serverURL string
		level     int
	)
	cmd := &cobra.Command{
		Use:   "snapshot <out.tar.zst>",
		Short: "Write every shard artifact to a zstd-compressed tar archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, format, err := flags.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()

			// Flush first so the archive matches memory; a local flush also applies retention.
			err = withServer(ctx, serverURL, logger,
				func(api *apiClient) error { return api.flush(ctx) },
				func() error {
					c, err := initializeComponents(ctx, cfg, logger)
					if err != nil {
						return err
					}
					return c.Close()
				})
			if err != nil {
				return fmt.Errorf("flush before snapshot: %w", err)
			}

			sum, err := backup.ExportFile(ctx, cfg.Storage.Root, args[0], backup.WithLogger(logger), backup.WithLevel(level))
			if err != nil {
				return err
			}
			return writeSummary(cmd, "snapshot", args[0], sum, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL used to flush first (empty = flush the storage directly)")
	cmd.Flags().IntVar(&level, "level", 3, "zstd compression level (1-22)")
	return cmd
}

func newRestoreCmd(flags *globalFlags) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "restore <in.tar.zst>",
		Short: "Extract shard artifacts from a snapshot into the storage root",
		Long: `Restore replaces shard files of the same date. Stop the server first; restore refuses
to run while a server answers at --server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, format, err := flags.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()

			if serverURL != "" {
				err := newAPIClient(serverURL).health(ctx)
				if err == nil {
					return fmt.Errorf("a server is running at %s; stop it before restoring", serverURL)
				}
				if !unreachable(err) {
					return fmt.Errorf("check server: %w", err)
				}
			}
			sum, err := backup.RestoreFile(ctx, args[0], cfg.Storage.Root, backup.WithLogger(logger))
			if err != nil {
				return err
			}
			return writeSummary(cmd, "restore", args[0], sum, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL that must not be running (empty = skip the check)")
	return cmd
}

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "crmrecall version %s\n", version)
		},
	}
}

// withServer runs remote against the server at serverURL, falling back to local when
// serverURL is empty or nothing is listening there.
func withServer(ctx context.Context, serverURL string, logger *zap.Logger, remote func(*apiClient) error, local func() error) error {
	if serverURL == "" {
		return local()
	}
	err := remote(newAPIClient(serverURL))
	if err != nil && unreachable(err) {
		logger.Debug("server not reachable, opening storage directly", zap.String("server", serverURL))
		return local()
	}
	return err
}

func startMaintenance(cfg *config.Config, c *Components, logger *zap.Logger) (*maintenance.Scheduler, error) {
	if !cfg.Maintenance.EnabledOrDefault() {
		return nil, nil
	}
	sched := maintenance.NewScheduler(logger)
	if err := sched.Register(maintenance.NewFlushTask(c.Index), cfg.Maintenance.FlushSchedule); err != nil {
		return nil, err
	}
	if err := sched.Register(maintenance.NewRetentionTask(c.Index, logger), cfg.Maintenance.RetentionSchedule); err != nil {
		return nil, err
	}
	sched.Start()
	return sched, nil
}

func startWatcher(ctx context.Context, cfg *config.Config, c *Components, logger *zap.Logger) (*watcher.Watcher, error) {
	if len(cfg.Watch.Directories) == 0 {
		return nil, nil
	}
	w := watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		ingestFileFunc(c.Pipeline, logger),
		watcher.WithLogger(logger),
	)
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}
	w.SyncExistingFiles()
	return w, nil
}

// ingestFileFunc adapts the pipeline to the watcher. A batch that reached memory but could
// not be saved counts as ingested; the next flush retries the save.
func ingestFileFunc(p *ingest.Pipeline, logger *zap.Logger) watcher.IngestFunc {
	return func(ctx context.Context, path string) error {
		res, err := p.IngestFile(ctx, path)
		if ingest.NotPersisted(err) {
			logger.Warn("ingested file but shard save failed", zap.String("path", path), zap.Error(err))
			return nil
		}
		if err != nil {
			return err
		}
		logger.Debug("ingested records", zap.String("path", path), zap.Int("count", res.Count), zap.String("shard", res.ShardDate))
		return nil
	}
}

func closeComponents(c *Components, logger *zap.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}

func writeSummary(cmd *cobra.Command, op, path string, sum backup.Summary, format cli.OutputFormat) error {
	out := cmd.OutOrStdout()
	if format == cli.OutputJSON {
		return cli.WriteJSON(out, sum)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	fmt.Fprintf(out, "%s %s: %d files, %s, days %s\n", op, abs, sum.Files, cli.HumanBytes(sum.Bytes), strings.Join(sum.Dates, ", "))
	return nil
}

func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
