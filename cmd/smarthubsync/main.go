package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/smarthubsync/smarthubsync/pkg/coordinator"
	"github.com/smarthubsync/smarthubsync/pkg/log"
	"github.com/smarthubsync/smarthubsync/pkg/publisher"
	"github.com/smarthubsync/smarthubsync/pkg/server"
	"github.com/smarthubsync/smarthubsync/pkg/smarthub"
	"github.com/smarthubsync/smarthubsync/pkg/storage"
	"github.com/smarthubsync/smarthubsync/pkg/types"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	client := smarthub.Configured()
	s := storage.Configured()
	pub := publisher.Configured()
	coord := coordinator.Configured(client, s, pub)

	// init server
	srv := server.Configured(coord, s, client)

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
	log.SetDefaultLogLevel(level)
	slog.SetDefault(log.Default())
	slog.Debug("logger configured", slog.String("level", level.String()))

	os.Exit(run(client, s, pub, srv))
}

type authenticator interface {
	Authenticate(ctx context.Context) (types.Credential, error)
	Close() error
}

type runner interface {
	Run(ctx context.Context) error
}

type publisherCloser interface {
	Close()
}

// run serves until a signal arrives and returns the process exit code.
func run(client authenticator, s storage.Database, pub publisherCloser, srv runner) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()
	defer pub.Close()
	defer func() {
		if err := client.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close smarthub client", slog.Any("error", err))
		}
	}()

	// refuse to start with credentials the provider rejects
	if _, err := client.Authenticate(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to authenticate with smarthub", slog.Any("error", err))
		return 1
	}

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		return 1
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
	return 0
}
