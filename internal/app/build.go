package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/KetaVip/license-bot/internal/clock"
	"github.com/KetaVip/license-bot/internal/config"
	"github.com/KetaVip/license-bot/internal/discord"
	"github.com/KetaVip/license-bot/internal/domain"
	"github.com/KetaVip/license-bot/internal/http/handler"
	"github.com/KetaVip/license-bot/internal/http/router"
	"github.com/KetaVip/license-bot/internal/observability"
	"github.com/KetaVip/license-bot/internal/repository"
	"github.com/KetaVip/license-bot/internal/security"
	"github.com/KetaVip/license-bot/internal/service"
)

// Build assembles the full service from config: database, store, caches,
// sweeper, optional Discord bot, and the HTTP server. Nothing starts
// running until Run.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, loggerProvider, err := observability.InitLogging(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	runtime, err := observability.InitRuntime(ctx, cfg, logger, loggerProvider)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&domain.LicenseRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	clk := clock.System()
	store := service.NewLicenseStore(repository.NewLicenseRepository(db), clk, cfg.License.MaxResetsPerDay, cfg.License.WarningWindow)

	var cache service.UnknownHWIDCache
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		cache = service.NewRedisUnknownHWIDCache(redisClient, "licensed")
	} else {
		cache = service.NewInMemoryUnknownHWIDCache()
	}

	var (
		bot      *discord.Bot
		roles    service.RoleManager
		notifier service.Notifier
	)
	if cfg.Discord.Token != "" {
		bot, err = discord.New(discord.Config{
			Token:      cfg.Discord.Token,
			Prefix:     cfg.Discord.Prefix,
			GuildID:    cfg.Discord.GuildID,
			VIPRoleID:  cfg.Discord.VIPRoleID,
			Operators:  cfg.Discord.Operators,
			DefaultTTL: cfg.DefaultTTL(),
		}, store, cache, logger)
		if err != nil {
			return nil, fmt.Errorf("init discord bot: %w", err)
		}
		roles, notifier = bot, bot
	} else {
		fallback := &service.LogCollaborator{Logger: logger}
		roles, notifier = fallback, fallback
	}

	sweeper := service.NewSweeper(store, clk, cfg.Sweep.Interval, roles, notifier, logger)

	tokens := security.NewTokenManager(cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.JWTSecret)
	mux := router.NewRouter(router.Dependencies{
		CheckHandler:   handler.NewCheckHandler(store, cache, cfg.Redis.NegativeTTL, logger),
		AdminHandler:   handler.NewAdminHandler(store, roles, cache, cfg.DefaultTTL(), logger),
		TokenManager:   tokens,
		Operators:      cfg.Auth.Operators,
		APIKeyHashes:   cfg.Auth.APIKeyHashes,
		RateLimitRPM:   cfg.Server.RateLimitRPM,
		EnableOTelHTTP: cfg.Telemetry.TracesEnabled,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	a := New(cfg, logger, server, runtime, store, sweeper, bot)
	if sqlDB, err := db.DB(); err == nil {
		a.addCloser(sqlDB.Close)
	}
	if redisClient != nil {
		a.addCloser(redisClient.Close)
	}
	return a, nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.Database.DSN), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
