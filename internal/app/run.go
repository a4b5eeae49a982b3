package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// Run starts the HTTP server, the expiry sweeper and the optional bot, and
// blocks until a signal arrives or a component fails. Shutdown drains HTTP
// first, then flushes telemetry, then runs the registered closers.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.Sweeper.Run(gctx)
	})

	if a.Bot != nil {
		g.Go(func() error {
			return a.Bot.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), a.DrainTimeout)
		defer cancel()
		return a.Server.Shutdown(drainCtx)
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
	defer cancel()
	if err := a.Observability.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("telemetry shutdown failed", "error", err)
	}
	a.Close()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	a.Logger.Info("shutdown complete")
	return nil
}
