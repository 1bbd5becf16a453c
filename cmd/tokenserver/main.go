package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	handler "github.com/duocall/duocall/internal/adapter/driving/http"
	"github.com/duocall/duocall/internal/config"
	"github.com/duocall/duocall/internal/credential"
	"github.com/rs/zerolog"
)

func main() {
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Caller().Logger()

	cfg := config.LoadTokenServer()
	if cfg.AppID == "" || cfg.AppCertificate == "" {
		l.Warn().Msg("APP_ID or APP_CERTIFICATE is not set; the server will not be able to issue credentials")
	}

	builder := credential.NewBuilder(cfg.AppID, cfg.AppCertificate)
	h := handler.NewHandler(builder)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("port", cfg.Port).Msg("Starting token server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}
	l.Info().Msg("Server exited")
}
