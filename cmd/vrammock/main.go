package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/vramwatch/internal/logger"
	"codeberg.org/mutker/vramwatch/internal/mock"
	"github.com/spf13/pflag"
)

func main() {
	port := pflag.Int("port", 6767, "Port to serve mock allocator state on")
	seed := pflag.Int64("seed", time.Now().UnixNano(), "Seed for the payload generator")
	logLevel := pflag.String("log-level", "info", "Log level (debug, info, warning, error)")
	pflag.Parse()

	if err := logger.Init(*logLevel, logger.IsService()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      mock.Handler(mock.NewGenerator(*seed)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Mock allocator endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		logger.Fatal().Err(err).Msg("Mock server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown failed")
	}
}
