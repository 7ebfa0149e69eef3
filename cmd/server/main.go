package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"pkt.systems/psi"
	"pkt.systems/pslog"

	"github.com/resume-studio/collabsync/internal/config"
	"github.com/resume-studio/collabsync/internal/db"
	"github.com/resume-studio/collabsync/internal/relay"
	"github.com/resume-studio/collabsync/internal/repository"
)

const shutdownTimeout = 5 * time.Second

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	if err := run(ctx, getEnv("RESUMESYNC_CONFIG", "")); err != nil {
		logger.Error("relay server failed", "err", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfgPath string) error {
	logger := pslog.Ctx(ctx)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// Initialize WebSocket service
	wsService := relay.NewService(relay.NewEchoResponder(cfg.ChunkDelay()), logger)
	defer wsService.Close()

	// Initialize transcript archive
	var transcripts *repository.TranscriptRepository
	if cfg.Transcripts.Enabled {
		database, err := db.InitDB(cfg.Transcripts.DBPath)
		if err != nil {
			return err
		}
		defer db.CloseDB()

		transcripts = repository.NewTranscriptRepository(database)
		wsService.SetArchiver(transcripts)
	}

	r := newRouter(wsService, transcripts, logger)

	logger.Info("starting relay server", "addr", cfg.Server.Addr, "transcripts", cfg.Transcripts.Enabled)
	return listenAndServe(ctx, cfg.Server.Addr, r)
}

// listenAndServe serves handler until ctx is cancelled.
func listenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	logger := pslog.Ctx(ctx)
	server := &http.Server{
		Addr:     addr,
		Handler:  handler,
		ErrorLog: pslog.LogLoggerWithLevel(logger, pslog.ErrorLevel),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down relay server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
