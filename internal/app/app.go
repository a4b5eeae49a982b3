package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/KetaVip/license-bot/internal/config"
	"github.com/KetaVip/license-bot/internal/discord"
	"github.com/KetaVip/license-bot/internal/observability"
	"github.com/KetaVip/license-bot/internal/service"
)

// App holds the assembled service: HTTP server, sweeper, optional chat
// front end, and the shutdown hooks that tear them down in order.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	Store         *service.LicenseStore
	Sweeper       *service.Sweeper
	Bot           *discord.Bot

	DrainTimeout    time.Duration
	ShutdownTimeout time.Duration

	closers []func() error
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, store *service.LicenseStore, sweeper *service.Sweeper, bot *discord.Bot) *App {
	return &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Observability:   runtime,
		Store:           store,
		Sweeper:         sweeper,
		Bot:             bot,
		DrainTimeout:    cfg.Server.DrainTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
}

// addCloser registers a teardown hook; hooks run in reverse order on Close.
func (a *App) addCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("shutdown hook failed", "error", err)
		}
	}
}
