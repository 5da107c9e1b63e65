package main

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/raakeshmj/imagegate/internal/config"
	"github.com/raakeshmj/imagegate/internal/server"
)

func main() {
	fallback := zerolog.New(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		fallback.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("server init failed")
	}

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
