// Command cloudd serves the account, snapshot and photo API the desktop app
// syncs against.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kittclouds/moshaver/internal/cloud"
	"github.com/kittclouds/moshaver/internal/cloudserver"
	"github.com/kittclouds/moshaver/internal/config"
	"github.com/kittclouds/moshaver/internal/logging"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load when present")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)
	if err := cfg.Server.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid server config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := cloudserver.Options{
		APIKey:         cfg.Server.APIKey,
		JWTSecret:      []byte(cfg.Server.JWTSecret),
		AccessTTL:      cfg.Server.AccessTTL,
		RequireConfirm: cfg.Server.RequireConfirm,
		Bucket:         cloud.PhotoBucket,
	}

	if strings.TrimSpace(cfg.Server.DatabaseURL) != "" {
		pg, err := cloudserver.OpenPostgres(ctx, cfg.Server.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer pg.Close()
		opts.Accounts = pg
	} else {
		log.Warn().Msg("no database configured, accounts are kept in memory")
		opts.Accounts = cloudserver.NewMemAccounts()
	}

	if strings.TrimSpace(cfg.Server.S3Endpoint) != "" {
		photos, err := cloudserver.NewMinioPhotos(ctx, cloudserver.S3Config{
			Endpoint:  cfg.Server.S3Endpoint,
			AccessKey: cfg.Server.S3AccessKey,
			SecretKey: cfg.Server.S3SecretKey,
			Bucket:    cfg.Server.S3Bucket,
			UseSSL:    cfg.Server.S3UseSSL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("object storage connection failed")
		}
		opts.Photos = photos
	} else {
		log.Warn().Msg("no object storage configured, photos are kept in memory")
		opts.Photos = cloudserver.NewMemPhotos()
	}

	if strings.TrimSpace(cfg.Server.RedisURL) != "" {
		rev, err := cloudserver.NewRedisRevoker(ctx, cfg.Server.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer rev.Close()
		opts.Revoker = rev
	} else {
		opts.Revoker = cloudserver.NewMemRevoker()
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           cloudserver.New(opts),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Bool("requireConfirm", opts.RequireConfirm).Msg("cloudd listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
