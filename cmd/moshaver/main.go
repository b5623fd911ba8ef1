// Command moshaver is the operator CLI for a local database: backups, roster
// and photo imports, data fixes and cloud sync.
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/kittclouds/moshaver/internal/backup"
	"github.com/kittclouds/moshaver/internal/cloud"
	"github.com/kittclouds/moshaver/internal/config"
	"github.com/kittclouds/moshaver/internal/logging"
	"github.com/kittclouds/moshaver/internal/repository"
	"github.com/kittclouds/moshaver/internal/store"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	cfg, err := config.Load("")
	if err != nil {
		log.Error().Err(err).Msg("load config")
		return 1
	}
	logging.Setup(cfg.LogLevel, true)

	ctx := context.Background()
	s, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Str("db", cfg.DBPath).Msg("open database")
		return 1
	}
	defer s.Close()

	repo := repository.New(s)
	if err := repo.Load(ctx); err != nil {
		log.Error().Err(err).Msg("load data")
		return 1
	}

	cli := commandLine{
		repo:  repo,
		codec: backup.New(repo),
		cloud: cloud.Config{URL: cfg.CloudURL, Key: cfg.CloudKey},
		out:   os.Stdout,
	}
	if err := cli.run(ctx, os.Args); err != nil {
		if err != errHelp {
			log.Error().Err(err).Msg(cloud.ErrorMessage(err))
		}
		return 1
	}
	return 0
}
