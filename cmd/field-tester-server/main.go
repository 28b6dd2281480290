package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/field-tester-server/internal/api"
	mqttbackend "github.com/lorawan-server/field-tester-server/internal/backend/mqtt"
	natsbackend "github.com/lorawan-server/field-tester-server/internal/backend/nats"
	"github.com/lorawan-server/field-tester-server/internal/config"
	"github.com/lorawan-server/field-tester-server/internal/envelope"
	"github.com/lorawan-server/field-tester-server/internal/service"
	"github.com/lorawan-server/field-tester-server/internal/storage"
)

var version = "dev"

func main() {
	// Command line flags
	var configPath = flag.String("config", config.DefaultFile, "Configuration file path")
	var validateOnly = flag.Bool("validate", false, "Validate the configuration and exit")
	var showConfig = flag.Bool("show-config", false, "Print the configuration and exit")
	var hashKey = flag.String("hash-key", "", "Print the bcrypt hash of a webhook key and exit")
	var generateKey = flag.Bool("generate-key", false, "Generate a random webhook key with its hash and exit")
	var issueToken = flag.String("issue-token", "", "Print a JWT for the given subject and exit")
	var decodeResp = flag.String("decode-response", "", "Decode a downlink given as <port>:<hex> and exit")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Tools that need no configuration
	switch {
	case *hashKey != "":
		exitOnError(runHashKey(os.Stdout, *hashKey))
		return
	case *generateKey:
		exitOnError(runGenerateKey(os.Stdout))
		return
	case *decodeResp != "":
		exitOnError(runDecodeResponse(os.Stdout, *decodeResp))
		return
	}

	// Load configuration, a missing default file is fine
	cfg, err := config.Load(*configPath, !flagSet("config"))
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("Failed to load configuration")
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = version
	}

	setupLogging(cfg.Log)

	if *showConfig {
		cfg.PrintConfigSummary()
		return
	}

	if *validateOnly {
		cfg.PrintConfigSummary()
		fmt.Println("Configuration is valid")
		return
	}

	if *issueToken != "" {
		exitOnError(runIssueToken(os.Stdout, cfg, *issueToken))
		return
	}

	log.Info().
		Str("config_path", *configPath).
		Str("parser", cfg.Parser.Type).
		Str("version", cfg.Server.Version).
		Msg("Field tester server starting")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional fix storage
	var store storage.Store
	if cfg.Database.DSN != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.Database.DSN, storage.PostgresOptions{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer pg.Close()

		if cfg.Database.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("Failed to migrate database")
			}
		}

		store = pg
		log.Info().Msg("Connected to database")
	} else {
		log.Info().Msg("Database not configured, fixes are not stored")
	}

	env, err := envelope.New(cfg.EnvelopeType())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create envelope")
	}
	processor := service.NewProcessor(env, store)
	log.Info().
		Str("envelope", string(processor.Envelope().Type())).
		Bool("storage", store != nil).
		Msg("Uplink processor ready")

	// WaitGroup for services
	var wg sync.WaitGroup

	// MQTT backend
	if cfg.MQTT.Enabled {
		backend, err := mqttbackend.NewBackend(cfg.MQTT, processor)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create MQTT backend")
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := backend.Start(ctx); err != nil {
				log.Error().Err(err).Msg("MQTT backend stopped")
			}
		}()
	}

	// NATS backend
	if cfg.NATS.Enabled {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err := natsbackend.Connect(cfg.NATS, cfg.Server.Name)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		log.Info().Msg("Connected to NATS")

		backend := natsbackend.NewBackend(nc, cfg.NATS, processor)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := backend.Start(ctx); err != nil {
				log.Error().Err(err).Msg("NATS backend stopped")
			}
		}()
	}

	// REST API
	var apiServer *api.RESTServer
	if cfg.API.Enabled {
		apiServer = api.NewRESTServer(cfg, store)

		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
			if err := apiServer.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("REST API server failed")
			}
		}()
	}

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Cancel context
	cancel()

	// Shutdown API server
	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
		}
		shutdownCancel()
	}

	// Wait for all services
	wg.Wait()

	log.Info().Msg("Field tester server stopped")
}

// setupLogging applies the configured level and format
func setupLogging(c config.LogConfig) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		log.Warn().Str("level", c.Level).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if c.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
