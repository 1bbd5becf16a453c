package main

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"syscall"

	mediamem "github.com/duocall/duocall/internal/adapter/driven/media/memory"
	redisstore "github.com/duocall/duocall/internal/adapter/driven/store/redis"
	wsstore "github.com/duocall/duocall/internal/adapter/driven/store/ws"
	tokenhttp "github.com/duocall/duocall/internal/adapter/driven/token"
	"github.com/duocall/duocall/internal/config"
	"github.com/duocall/duocall/internal/core/domain"
	"github.com/duocall/duocall/internal/core/port"
	"github.com/duocall/duocall/internal/core/service"
	"github.com/rs/zerolog"
)

// Demo client: announces presence, prints the roster as it changes and
// auto-accepts whatever invite lands in its mailbox. The media engine is
// the in-memory double; a real deployment swaps in the external engine.
func main() {
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Logger()

	cfg := config.LoadClient()
	if cfg.UserID == "" {
		l.Fatal().Msg("USER_ID must be set")
	}
	self := domain.UserID(cfg.UserID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store port.Store
	if cfg.RedisURL != "" {
		s, err := redisstore.Open(cfg.RedisURL)
		if err != nil {
			l.Fatal().Err(err).Msg("Failed to connect to redis store")
		}
		store = s
	} else {
		s, err := wsstore.Dial(ctx, cfg.StoreURL)
		if err != nil {
			l.Fatal().Err(err).Msg("Failed to connect to store server")
		}
		store = s
	}
	defer store.Close()

	presence := service.NewPresenceRegistry(store)
	mailbox := service.NewCallMailbox(store)
	issuer := tokenhttp.New(cfg.TokenURL)
	media := mediamem.NewEngine()

	coord := service.NewCoordinator(self, cfg.DisplayName, cfg.AppID, presence, mailbox, issuer, media)
	if err := coord.Start(ctx); err != nil {
		l.Fatal().Err(err).Msg("Failed to start coordinator")
	}

	if err := presence.Announce(ctx, self, cfg.DisplayName, cfg.Email); err != nil {
		l.Fatal().Err(err).Msg("Failed to announce presence")
	}
	l.Info().Str("user_id", self.String()).Msg("Online")

	roster, err := presence.Watch(ctx)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to watch presence")
	}

	go func() {
		for snapshot := range roster {
			names := make([]string, 0, len(snapshot))
			for id, p := range snapshot {
				if id == self {
					continue
				}
				label := p.Label()
				if p.InCall {
					label += " (in call)"
				}
				names = append(names, label)
			}
			sort.Strings(names)
			l.Info().Strs("online", names).Msg("Roster changed")
		}
	}()

	go func() {
		for inv := range coord.Incoming() {
			l.Info().
				Str("caller", inv.CallerName).
				Str("channel", inv.Channel).
				Msg("Incoming call, accepting")
			if err := coord.Accept(ctx); err != nil {
				l.Error().Err(err).Msg("Accept failed")
				continue
			}
			if sess := coord.Session(); sess != nil {
				l.Info().Str("channel", sess.Channel).Uint32("uid", sess.UID).Msg("In call")
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	l.Info().Msg("Going offline...")
	if err := coord.End(ctx); err != nil {
		l.Error().Err(err).Msg("End failed")
	}
	if err := presence.Retract(ctx, self); err != nil {
		l.Error().Err(err).Msg("Retract failed")
	}
}
