package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/yieldrouter/internal/notify"
	"github.com/alanyoungcy/yieldrouter/internal/pipeline"
	"github.com/alanyoungcy/yieldrouter/internal/server"
	"github.com/alanyoungcy/yieldrouter/internal/server/handler"
)

const (
	jobTimeout      = 10 * time.Minute
	shutdownTimeout = 5 * time.Second
)

// ServerMode serves the HTTP API and keeps provider quotes warm.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	sched := NewScheduler(jobTimeout, deps.Notifier, a.logger)
	if err := a.addWarmUp(ctx, sched, deps); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	g.Go(func() error { return sched.Run(ctx) })
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// ArchiveMode runs one archive pass and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver not configured")
	}
	job := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	if err := job.Run(ctx); err != nil {
		if nerr := deps.Notifier.Notify(ctx, notify.EventJobFailed, "yieldrouter archive failed", err.Error()); nerr != nil {
			a.logger.WarnContext(ctx, "archive alert failed", slog.String("error", nerr.Error()))
		}
		return fmt.Errorf("archive mode: %w", err)
	}
	return nil
}

// FullMode serves the API, warms quotes, and archives on a schedule.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	sched := NewScheduler(jobTimeout, deps.Notifier, a.logger)
	if err := a.addWarmUp(ctx, sched, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if deps.Archiver != nil {
		job := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		if err := sched.Add(ctx, a.cfg.Archive.Cron, job); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	g.Go(func() error { return sched.Run(ctx) })
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// addWarmUp warms the cache once in the background and schedules refreshes.
func (a *App) addWarmUp(ctx context.Context, sched *Scheduler, deps *Dependencies) error {
	if len(a.cfg.Cache.WarmUpAssets) == 0 || a.cfg.Cache.WarmUpCron == "" {
		return nil
	}
	warmer := pipeline.NewQuoteWarmer(deps.QuoteCache, deps.Allocation, a.cfg.Cache.WarmUpAssets, a.logger)
	if err := sched.Add(ctx, a.cfg.Cache.WarmUpCron, warmer); err != nil {
		return err
	}
	go sched.RunNow(ctx, warmer)
	return nil
}

// startHTTPServer builds the handlers and runs the server until ctx is done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:       handler.NewHealthHandler(deps.Pingers, a.logger),
		Allocation:   handler.NewAllocationHandler(deps.Router, a.logger),
		Deposits:     handler.NewDepositHandler(deps.Router, a.logger),
		Withdrawals:  handler.NewWithdrawHandler(deps.Router, a.logger),
		Positions:    handler.NewPositionHandler(deps.Router, a.logger),
		Transactions: handler.NewTransactionHandler(deps.Router, a.logger),
		Providers:    handler.NewProviderHandler(deps.Router, a.logger),
	}, deps.RateLimiter, deps.Registry, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down", slog.Int("port", a.cfg.Server.Port))
		return srv.Shutdown(shutCtx)
	})
}
