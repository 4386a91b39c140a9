package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/profilewatch/internal/app"
	"github.com/lueurxax/profilewatch/internal/platform/config"
	"github.com/lueurxax/profilewatch/internal/platform/schedule"
)

func main() {
	mode := flag.String("mode", "scheduler", "Service mode (scheduler, report, summary)")
	frequency := flag.String("frequency", string(schedule.Daily), "Report frequency for report mode (daily, weekly, monthly)")

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer application.Close()

	if err := runMode(ctx, application, *mode, *frequency, &logger); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("application stopped")
			return
		}

		logger.Error().Err(err).Msg("application error")
		application.Close()
		os.Exit(1)
	}
}

func newLogger(appEnv, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(lvl).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func runMode(ctx context.Context, application *app.App, mode, frequency string, logger *zerolog.Logger) error {
	switch mode {
	case "scheduler":
		go func() {
			if err := application.StartHealthServer(ctx); err != nil {
				logger.Error().Err(err).Msg("health check server error")
			}
		}()

		return application.RunScheduler(ctx)
	case "report":
		freq, err := schedule.ParseFrequency(frequency)
		if err != nil {
			return err
		}

		return application.RunReport(ctx, freq)
	case "summary":
		return application.RunSummary(os.Stdout)
	default:
		log.Fatalf("Usage: %s --mode=[scheduler|report|summary] [--frequency=daily|weekly|monthly]", os.Args[0])

		return nil
	}
}
