package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duocall/duocall/internal/adapter/driven/store/memory"
	"github.com/duocall/duocall/internal/config"
	"github.com/duocall/duocall/internal/storesrv"
	"github.com/rs/zerolog"
)

func main() {
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Caller().Logger()

	cfg := config.LoadStoreServer()

	backend := memstore.NewBackend()
	srv := storesrv.New(backend)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.NewRouter(),
	}

	go func() {
		l.Info().Str("port", cfg.Port).Msg("Starting store server")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}
	l.Info().Msg("Server exited")
}
