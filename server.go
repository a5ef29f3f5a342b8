package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/orgspace/edge-gateway/internal/config"
	"github.com/rs/zerolog/log"
)

type GatewayServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// drainStep releases something the handlers depend on. Steps run in order
// after the server stops accepting requests and in-flight requests finish
// or time out.
type drainStep struct {
	name  string
	close func(ctx context.Context) error
}

func serveHTTP(serverCfg config.ServerConfig, server GatewayServer, steps ...drainStep) error {
	// capture shutdown signals to allow for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", serverCfg.Port).Msg("starting gateway")
		serverErr <- server.ListenAndServe()
	}()

	var startupError error

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("gateway failed to start")
		}
		// returned after the shutdown sequence completes
		startupError = err
	case <-ctx.Done():
		log.Info().Msg("gateway shutdown requested")
		stop()
	}

	shutdownTimeout := time.Duration(serverCfg.ShutdownTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := server.Shutdown(ctx)

	// the broker and caches stay open until no handler can reach them, and
	// get their own deadline when draining requests used up the first
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelDrain()
	drain(drainCtx, steps)

	if shutdownErr != nil {
		return fmt.Errorf("server shutdown failed: %w", shutdownErr)
	}

	log.Info().Msg("gateway shutdown complete")

	return startupError
}

func drain(ctx context.Context, steps []drainStep) {
	for _, step := range steps {
		log.Info().Str("step", step.name).Msg("shutdown: draining")
		if err := step.close(ctx); err != nil {
			log.Warn().Err(err).Str("step", step.name).Msg("shutdown: drain failed")
			continue
		}
		log.Info().Str("step", step.name).Msg("shutdown: drained")
	}
}
