package main

import (
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lifxd/internal/app"
	"github.com/dokzlo13/lifxd/internal/config"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	resetDevices := flag.Bool("reset-devices", false, "Forget cached devices on startup")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg.Log.Level, cfg.Log.UseJSON, cfg.Log.Colors)

	log.Info().Str("config", configPath).Msg("Starting lifxd")

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	if *resetDevices {
		log.Info().Msg("Forgetting cached devices (--reset-devices)")
		if err := application.ForgetDevices(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear device cache")
		}
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	if err := application.Start(ctx); err != nil {
		application.Stop()
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	application.Wait()

	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
