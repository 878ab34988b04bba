package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port                   string
	DatabaseURL            string
	AppURL                 string
	FrontendURL            string
	GhlAPIBaseURL          string
	GhlClientID            string
	GhlClientSecret        string
	GhlSharedSecret        string
	ConversationProviderID string
	TokenEncryptionKey     string
	EvolutionAPIURL        string
	EvolutionWebhookToken  string
	LogLevel               string
	LogFormat              string
}

// Load reads configuration from environment variables. A .env file is loaded
// first if present; real environment variables take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Port:                   os.Getenv("PORT"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		AppURL:                 os.Getenv("APP_URL"),
		FrontendURL:            os.Getenv("FRONTEND_URL"),
		GhlAPIBaseURL:          os.Getenv("GHL_API_BASE_URL"),
		GhlClientID:            os.Getenv("GHL_CLIENT_ID"),
		GhlClientSecret:        os.Getenv("GHL_CLIENT_SECRET"),
		GhlSharedSecret:        os.Getenv("GHL_SHARED_SECRET"),
		ConversationProviderID: os.Getenv("GHL_CONVERSATION_PROVIDER_ID"),
		TokenEncryptionKey:     os.Getenv("TOKEN_ENCRYPTION_KEY"),
		EvolutionAPIURL:        os.Getenv("EVOLUTION_API_URL"),
		EvolutionWebhookToken:  os.Getenv("EVOLUTION_WEBHOOK_TOKEN"),
		LogLevel:               os.Getenv("LOG_LEVEL"),
		LogFormat:              os.Getenv("LOG_FORMAT"),
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "wlink.db"
		log.Info().Str("dsn", cfg.DatabaseURL).Msg("DATABASE_URL not set, using local sqlite file")
	}
	if cfg.GhlAPIBaseURL == "" {
		cfg.GhlAPIBaseURL = "https://services.leadconnectorhq.com"
	}
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = cfg.AppURL
	}
	// Token encryption falls back to the shared secret so a minimal deployment
	// still never stores plaintext tokens.
	if cfg.TokenEncryptionKey == "" {
		cfg.TokenEncryptionKey = cfg.GhlSharedSecret
	}

	for name, v := range map[string]string{
		"GHL_CLIENT_ID":     cfg.GhlClientID,
		"GHL_CLIENT_SECRET": cfg.GhlClientSecret,
		"GHL_SHARED_SECRET": cfg.GhlSharedSecret,
		"EVOLUTION_API_URL": cfg.EvolutionAPIURL,
		"APP_URL":           cfg.AppURL,
	} {
		if v == "" {
			return nil, fmt.Errorf("required environment variable %s is not set", name)
		}
	}

	return cfg, nil
}
