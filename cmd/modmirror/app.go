package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/italolelis/modmirror/internal/catalog"
	"github.com/italolelis/modmirror/internal/config"
	"github.com/italolelis/modmirror/internal/logctx"
	"github.com/italolelis/modmirror/internal/mirror"
	"github.com/italolelis/modmirror/internal/profile"
	"github.com/italolelis/modmirror/internal/queue"
	"github.com/italolelis/modmirror/internal/remote"
	"github.com/italolelis/modmirror/internal/staging"
	"github.com/italolelis/modmirror/internal/storage/sqlite"
	"github.com/italolelis/modmirror/internal/telemetry"
	"github.com/italolelis/modmirror/internal/transfer"
	"github.com/spf13/afero"
)

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	paths     config.Paths
	fs        afero.Fs
	db        *sql.DB
	telemetry *telemetry.Telemetry
	session   *remote.Session
	catalog   *catalog.Catalog
	queue     *queue.Manager
	orch      *mirror.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logctx.LoggerFromContext(ctx)

	paths, err := cfg.ResolvePaths()
	if err != nil {
		return nil, err
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	// =========================================================================
	// Start Database
	db, err := sqlite.InitDB(paths.DBPath)
	if err != nil {
		if shutdownErr := tel.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
			logger.ErrorContext(ctx, "failed to shutdown telemetry", "err", shutdownErr)
		}

		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	a := &app{cfg: cfg, paths: paths, fs: afero.NewOsFs(), db: db, telemetry: tel}

	// =========================================================================
	// Pin the remote repository and load the catalog
	api := transfer.NewInstrumentedSource(remote.NewAPIClient(cfg.UserAgent, cfg.GithubToken), tel, "github")

	a.session, err = remote.Pin(ctx, api, cfg.CommitsURL, cfg.ContentBaseTemplate)
	if err != nil {
		a.close(ctx)

		return nil, fmt.Errorf("failed to pin repository: %w", err)
	}

	a.session.SetMirror(cfg.MirrorBaseTemplate)

	a.catalog, err = catalog.Fetch(ctx, api, a.session, cfg.CatalogFiles)
	if err != nil {
		a.close(ctx)

		return nil, err
	}

	// =========================================================================
	// Start Orchestrator
	cdn := transfer.NewInstrumentedSource(
		remote.NewFallbackSource(remote.NewContentClient(cfg.UserAgent), a.session),
		tel,
		"cdn",
	)
	stager := staging.NewStager(a.fs, paths.StagingDir, cdn, cfg.ChunkSize, tel)

	a.queue = queue.NewManager()
	a.orch = mirror.New(
		a.fs,
		paths.InstallRoot,
		a.queue,
		stager,
		a.catalog,
		sqlite.NewInstrumentedLedger(db, tel),
		tel,
		mirror.Options{MaxParallel: cfg.MaxParallel, VerifyDependencies: cfg.VerifyDependencies},
	)

	logger.InfoContext(ctx, "mirror ready",
		"commit", a.session.Commit,
		"items", a.catalog.Len(),
		"install_root", paths.InstallRoot,
		"staging_dir", paths.StagingDir,
	)

	return a, nil
}

func (a *app) close(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	if a.orch != nil {
		a.orch.Close()
	}

	if err := a.db.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close ledger", "err", err)
	}

	if err := a.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
		logger.ErrorContext(ctx, "failed to shutdown telemetry", "err", err)
	}
}

func withApp(ctx context.Context, cfg *config.Config, fn func(context.Context, *app) error) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	return fn(ctx, a)
}

func (a *app) install(ctx context.Context, ids []string) error {
	for _, id := range ids {
		item, err := a.catalog.Get(id)
		if err != nil {
			return err
		}

		a.orch.Enqueue(ctx, item)
	}

	return a.orch.Run(ctx)
}

func (a *app) remove(ctx context.Context, ids []string) error {
	var errs []error

	for _, id := range ids {
		item, err := a.catalog.Get(id)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if err := a.orch.Hydrate(ctx, item); err != nil {
			errs = append(errs, err)

			continue
		}

		errs = append(errs, a.orch.Remove(ctx, item))
	}

	return errors.Join(errs...)
}

func (a *app) apply(ctx context.Context, path string) error {
	p, err := profile.Load(path)
	if err != nil {
		return err
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "applying profile", "profile", p.Name, "items", len(p.Items))

	return a.install(ctx, p.Items)
}
