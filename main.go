package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"movieflix-tg-bot/internal/bot"
	"movieflix-tg-bot/internal/config"
	"movieflix-tg-bot/internal/fetch"
	"movieflix-tg-bot/internal/flow"
	"movieflix-tg-bot/internal/store"
	"movieflix-tg-bot/internal/userlog"
	"movieflix-tg-bot/internal/yts"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration")
	}
	if cfg.LogLevel != "" {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			log = log.Level(lvl)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth")
	}

	var db *userlog.Mongo
	if cfg.MongoURI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		db, err = userlog.NewMongo(connectCtx, cfg.MongoURI)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("mongo unavailable, user audit disabled")
			db = nil
		} else {
			defer db.Close(context.Background())
		}
	}

	results := store.New(cfg.ResultTTL)
	go results.Run(ctx, cfg.ResultTTL/2)

	ctrl := flow.NewController(
		yts.NewClient(cfg.APIBase),
		results,
		fetch.New(cfg.FetchTimeout),
		cfg.SearchLimit,
		log.With().Str("component", "flow").Logger(),
	)
	audit := userlog.New(db, api, cfg.LogChannelID, log.With().Str("component", "userlog").Logger())

	b := bot.New(api, ctrl, audit, log.With().Str("component", "bot").Logger())
	b.Run(ctx)

	log.Info().Msg("shut down")
}
