package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/assetgate/internal/api"
	"github.com/org/assetgate/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr     string `yaml:"listen_addr"`
	TLSCertFile    string `yaml:"tls_cert"`
	TLSKeyFile     string `yaml:"tls_key"`
	Storage        string `yaml:"storage"` // "postgres" or "memory"
	DBUrl          string `yaml:"db_url"`
	MigrationsDir  string `yaml:"migrations_dir"`
	LogLevel       string `yaml:"log_level"`
	RateLimitRPS   int    `yaml:"rate_limit_rps"`
	RateLimitBurst int    `yaml:"rate_limit_burst"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("GATE_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:    ":8400",
		Storage:       "postgres",
		MigrationsDir: "migrations",
		LogLevel:      "info",
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("GATE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GATE_STORAGE"); v != "" {
		cfg.Storage = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	var store storage.Backend
	switch cfg.Storage {
	case "memory":
		log.Warn().Msg("using in-memory storage - state is lost on restart")
		store = storage.NewMemoryBackend()
	default:
		if cfg.DBUrl == "" {
			log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
		}
		pg, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		store = pg

		if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations applied")
	}
	defer store.Close()

	// Create server
	srv := api.NewServer(store, api.Config{
		ListenAddr:     cfg.ListenAddr,
		TLSCertFile:    cfg.TLSCertFile,
		TLSKeyFile:     cfg.TLSKeyFile,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	// First boot: create the management token and show it once.
	bootstrapToken, err := srv.Bootstrap(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}
	if bootstrapToken != "" {
		log.Info().Str("token", bootstrapToken).Msg("bootstrap management token (shown once, store it now)")
	}

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
