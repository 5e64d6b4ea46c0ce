package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"

	"github.com/jameshartig/mygas/pkg/integration"
	"github.com/jameshartig/mygas/pkg/log"
	"github.com/jameshartig/mygas/pkg/mygas"
	"github.com/jameshartig/mygas/pkg/server"
	"github.com/jameshartig/mygas/pkg/storage"
)

func main() {
	// init packages
	db := storage.Configured()
	factory := mygas.Configured()
	i := integration.Configured(db, factory)

	// init server
	srv := server.Configured(i)

	// parse flags
	lflag.Configure()

	// lflag sets llog's level, slog needs it too
	level, err := log.LevelFromLLog()
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)
	slog.SetDefault(log.Ctx(context.Background()))
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	if err := i.Start(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to start integration", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := i.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close integration", slog.Any("error", err))
		}
	}()

	// blocks until ctx is canceled or the listener fails
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
