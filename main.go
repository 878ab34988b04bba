package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	"wlink-bridge/config"
	"wlink-bridge/internal/crypto"
	"wlink-bridge/internal/db"
	"wlink-bridge/internal/evolution"
	"wlink-bridge/internal/ghl"
	"wlink-bridge/internal/handlers"
	"wlink-bridge/internal/services"
	"wlink-bridge/internal/store"
	"wlink-bridge/pkg/logger"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	if err := db.Migrate(conn); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	st := store.New(conn)
	tokens := crypto.NewTokenCodec(cfg.TokenEncryptionKey)

	crm := ghl.New(ghl.Config{
		BaseURL:      cfg.GhlAPIBaseURL,
		ClientID:     cfg.GhlClientID,
		ClientSecret: cfg.GhlClientSecret,
		RedirectURI:  cfg.AppURL + "/oauth/callback",
	}, st, tokens)

	gateway, err := evolution.New(cfg.EvolutionAPIURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Evolution client")
	}

	reconciler := services.NewReconciler(st)
	instances := services.NewInstanceService(st, gateway, tokens, cfg.AppURL+"/webhooks/evolution", cfg.EvolutionWebhookToken)
	messages := services.NewMessageService(st, crm, gateway, tokens, reconciler, cfg.ConversationProviderID)

	h := handlers.New(cfg, st, instances, messages, crm, tokens)
	chain := alice.New(handlers.Recoverer, handlers.RequestLogger).Then(h.Routes())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      chain,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
