package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/modmirror/internal/cleanup"
	"github.com/italolelis/modmirror/internal/config"
	"github.com/italolelis/modmirror/internal/http/rest"
	"github.com/italolelis/modmirror/internal/logctx"
	"github.com/italolelis/modmirror/internal/mirror"
	"github.com/italolelis/modmirror/internal/notifier"
	"github.com/jonboulle/clockwork"
)

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	// =========================================================================
	// Start Notification
	setupNotification(ctx, a.orch, cfg)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)
	kick := make(chan struct{}, 1)

	server := setupServer(ctx, a, kick)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// =========================================================================
	// Start Cleanup
	janitor := cleanup.NewJanitor(a.fs, a.paths.StagingDir, cfg.StagingRetention, clockwork.NewRealClock(), a.queue)
	setupCleanup(ctx, janitor, cfg.CleanupInterval)

	logger.Info("waiting for transfers...",
		"install_root", a.paths.InstallRoot,
		"update_interval", cfg.UpdateInterval.String(),
		"retention", cfg.StagingRetention.String(),
	)

	// =========================================================================
	// Start Main Loop
	ticker := time.NewTicker(cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}

			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			logger.Info("start shutdown")

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			return nil
		case <-kick:
			processQueue(ctx, a.orch)
		case <-ticker.C:
			processQueue(ctx, a.orch)
		}
	}
}

func processQueue(ctx context.Context, orch *mirror.Orchestrator) {
	if err := orch.Run(ctx); err != nil {
		logctx.LoggerFromContext(ctx).Error("error processing transfer queue", "err", err)
	}
}

func setupNotification(ctx context.Context, orch *mirror.Orchestrator, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier = notifier.Nop{}
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	go func() {
		for event := range orch.OnTransferError {
			if notifyErr := notif.Notify(ctx,
				"❌ Transfer failed for "+event.Reference.Destination+": "+event.Err.Error(),
			); notifyErr != nil {
				logger.Error("failed to send notification", "err", notifyErr)
			}
		}
	}()

	go func() {
		for event := range orch.OnTransferCommitted {
			if notifyErr := notif.Notify(ctx,
				"✅ Installed "+event.Reference.File+" ("+event.Reference.ItemID+")",
			); notifyErr != nil {
				logger.Error("failed to send notification", "item_id", event.Reference.ItemID, "err", notifyErr)
			}
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, a *app, kick chan<- struct{}) *http.Server {
	r := chi.NewRouter()
	r.Mount("/", rest.NewMirrorHandler(a.orch, a.catalog, a.telemetry, kick).Routes())

	return &http.Server{
		Addr:         a.cfg.Web.BindAddress,
		ReadTimeout:  a.cfg.Web.ReadTimeout,
		WriteTimeout: a.cfg.Web.WriteTimeout,
		IdleTimeout:  a.cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, janitor *cleanup.Janitor, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		cleanupTicker := time.NewTicker(interval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-cleanupTicker.C:
				if _, err := janitor.Sweep(ctx); err != nil {
					logger.Error("failed to sweep staging directory", "err", err)
				}
			}
		}
	}()
}
