package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"minimart/backend/internal/cache"
	"minimart/backend/internal/config"
	"minimart/backend/internal/httpapi"
	"minimart/backend/internal/service"
	"minimart/backend/internal/store"
	"minimart/backend/internal/store/memory"
	pgstore "minimart/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", "minimart").Logger()
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid security config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info().Msg("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info().Msg("repository: in-memory")
	}

	discounts := cache.MemberDiscountCache(cache.NoopMemberDiscountCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisMemberDiscountCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using noop discount cache")
		} else {
			discounts = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info().Msg("discount cache: redis")
		}
	} else {
		logger.Info().Msg("discount cache: noop")
	}

	pointsRate, err := decimal.NewFromString(cfg.PointsRate)
	if err != nil || pointsRate.Sign() <= 0 {
		pointsRate = decimal.NewFromInt(1)
	}

	svc := service.New(repo, discounts, logger.With().Str("component", "service").Logger(), service.Config{
		ReturnWindowDays:        cfg.ReturnWindowDays,
		NonReturnableCategories: cfg.NonReturnableCategories,
		PointsRate:              pointsRate,
		MemberDiscountTTL:       time.Duration(cfg.MemberDiscountTTLSeconds) * time.Second,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger.With().Str("component", "http").Logger())

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("POS backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}

	logger.Info().Msg("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
