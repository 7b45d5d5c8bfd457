package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"holoncert/pkg/common/config"
	"holoncert/pkg/common/logger"
	"holoncert/pkg/dispatch"
	"holoncert/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "directory containing holonserve.json")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if err := logger.Init(&cfg.Logger); err != nil {
		panic(err)
	}
	log := logger.GetLogger()

	d := dispatch.New(dispatch.Identity{SDK: cfg.SDK, Version: cfg.SDKVersion})
	srv, err := server.New(d,
		server.WithAddress(cfg.Listen),
		server.WithPoolSize(cfg.PoolSize),
		server.WithRateLimit(cfg.RatePerSec, cfg.RateBurst),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("server init failed")
	}

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("server start failed")
	}
	log.Info().Str("sdk", cfg.SDK).Str("version", cfg.SDKVersion).Msg("serving holon-rpc")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Info().Msg("shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}
