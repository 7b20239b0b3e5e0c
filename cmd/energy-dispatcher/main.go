package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/battery"
	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/pipeline"
	"github.com/Bokbacken/energy-dispatcher/pkg/server"
	"github.com/Bokbacken/energy-dispatcher/pkg/storage"
	"github.com/Bokbacken/energy-dispatcher/pkg/telemetry"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	db := storage.Configured()
	sources := telemetry.Configured()
	bat := battery.Configured()

	cycleInterval := lflag.Duration("cycle-interval", 5*time.Minute, "How often a decision cycle runs")

	p := pipeline.New(db, sources, bat)

	// init server
	srv := server.Configured(p, db)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	if err := sources.Connect(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to connect telemetry", "error", err)
		os.Exit(1)
	}
	defer sources.Close()

	if err := bat.Connect(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to connect battery", "error", err)
		os.Exit(1)
	}
	defer bat.Close()

	if err := p.Start(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to start pipeline", "error", err)
		os.Exit(1)
	}

	go runCycles(ctx, p, *cycleInterval)

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}

// runCycles runs one decision cycle immediately and then on every tick
// until ctx is canceled. A failed cycle is logged and retried on the next
// tick.
func runCycles(ctx context.Context, p *pipeline.Pipeline, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunCycle(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
