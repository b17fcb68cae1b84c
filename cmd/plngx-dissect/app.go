package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/a3tai/plngx-dissect/internal/cache"
	"github.com/a3tai/plngx-dissect/internal/config"
	"github.com/a3tai/plngx-dissect/internal/document"
	"github.com/a3tai/plngx-dissect/internal/mcp"
	"github.com/a3tai/plngx-dissect/internal/paperless"
	"github.com/a3tai/plngx-dissect/internal/pattern"
	"github.com/a3tai/plngx-dissect/internal/processing"
	"github.com/a3tai/plngx-dissect/internal/storage"
)

const leaseName = "process_all"

// app wires the services of one process.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *storage.DB
	processor *processing.Processor
	server    *mcp.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := storage.Open(ctx, cfg.DatabasePath(), logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, db: db}

	lease := db.Lease(leaseName)
	if cleared, err := lease.ClearStale(ctx, cfg.StaleLease); err != nil {
		a.Close()
		return nil, fmt.Errorf("clear stale lease: %w", err)
	} else if cleared {
		logger.Warn("lease.stale.cleared", "lease", leaseName)
	}
	a.prune(ctx)

	client, err := paperless.NewClient(paperless.Options{
		BaseURL:    cfg.PaperlessURL,
		Token:      cfg.PaperlessToken,
		ForceHTTPS: cfg.PaperlessForceSSL,
		Logger:     logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	catalog := paperless.NewCatalog(client)

	patterns, err := pattern.NewStore(cfg.PatternsDir, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	docs := document.NewService(catalog, cache.NewTiered(cfg.CacheEntries, db.Cache()), logger)
	history := db.History(storage.DefaultHistorySize)

	a.processor = processing.New(processing.Options{
		RequiredTags: cfg.RequiredTags,
		ExcludedTags: cfg.ExcludedTags,
		AddTags:      cfg.AddTags,
		RemoveTags:   cfg.RemoveTags,
		DryRun:       cfg.DryRun,
		ResultsPath:  cfg.ResultsPath(),
	}, processing.Deps{
		Patterns: patterns,
		Catalog:  catalog,
		Loader:   docs,
		Source:   client,
		Sink:     client,
		History:  history,
		Lease:    lease,
		Logger:   logger,
	})

	if cfg.IsStdioMode() || cfg.IsServerMode() {
		a.server, err = mcp.NewServer(cfg, patterns, a.processor, history, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// Close releases the state database.
func (a *app) Close() error {
	return a.db.Close()
}

// Run executes the configured mode until it finishes or ctx is done.
func (a *app) Run(ctx context.Context) error {
	switch a.cfg.Mode {
	case config.ModeProcess:
		_, err := a.runOnce(ctx)
		return err
	case config.ModeSchedule:
		stop, err := a.startScheduler(ctx)
		if err != nil {
			return err
		}
		<-ctx.Done()
		stop()
		return nil
	case config.ModeServer:
		if a.cfg.Schedule != "" {
			stop, err := a.startScheduler(ctx)
			if err != nil {
				return err
			}
			defer stop()
		}
		return a.server.Run(ctx)
	default:
		return a.server.Run(ctx)
	}
}

// runOnce performs one bulk run and trims the document cache afterwards.
func (a *app) runOnce(ctx context.Context) (*processing.Results, error) {
	res, err := a.processor.Run(ctx)
	a.prune(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	a.logger.Info("processing.summary",
		"matched", len(res.Matched),
		"updated", len(res.Updated),
		"unmatched", len(res.Unmatched),
		"errors", len(res.Errors),
	)
	return res, nil
}

func (a *app) prune(ctx context.Context) {
	removed, err := a.db.Cache().Prune(ctx, a.cfg.CacheMaxBytes)
	if err != nil {
		a.logger.Warn("cache.prune.error", "err", err)
		return
	}
	if removed > 0 {
		a.logger.Info("cache.prune", "removed", removed)
	}
}

// startScheduler runs bulk processing on the configured cron schedule. The
// returned function stops the scheduler and waits for a running job.
func (a *app) startScheduler(ctx context.Context) (func(), error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(a.cfg.Schedule, func() {
		_, err := a.runOnce(ctx)
		switch {
		case errors.Is(err, storage.ErrAlreadyRunning):
			a.logger.Warn("schedule.skipped", "reason", "already running")
		case err != nil:
			a.logger.Error("schedule.run.error", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", a.cfg.Schedule, err)
	}
	c.Start()
	a.logger.Info("schedule.start", "schedule", a.cfg.Schedule)

	return func() {
		<-c.Stop().Done()
		a.logger.Info("schedule.stop")
	}, nil
}
