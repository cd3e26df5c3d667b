/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the calculator backend server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load .env and environment (config.Load)
  2. Open the ledger store (SQLite or PostgreSQL), check and seed operations
  3. Build the identity provider and the authorization gate
  4. Create API handler with dependencies
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  --port       HTTP server port (overrides PORT)
  --env-file   dotenv file to load (default: .env)
  --resources  YAML resources file (overrides RESOURCES_FILE)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database and redis connections
  4. Exit

EXAMPLES:
  # Local development: SQLite, in-process identity provider
  API_ARN=arn:aws:execute-api:local:000000000000:calculator ./server --port=3000

  # Cognito and PostgreSQL
  IDENTITY_PROVIDER=cognito USER_POOL_REGION=us-east-2 \
  USER_POOL_ID=us-east-2_xxx COGNITO_CLIENT_ID=yyy \
  DB_DRIVER=pgx DATABASE_URL=postgres://... ./server --resources=resources.yaml

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlstore/sqlstore.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/warp/calculator-engine/api"
	"github.com/warp/calculator-engine/auth"
	"github.com/warp/calculator-engine/config"
	"github.com/warp/calculator-engine/identity"
	"github.com/warp/calculator-engine/ledger"
	"github.com/warp/calculator-engine/logging"
	"github.com/warp/calculator-engine/randomstring"
	"github.com/warp/calculator-engine/records"
	"github.com/warp/calculator-engine/store/sqlstore"
	"golang.org/x/time/rate"
)

func main() {
	// Flags
	port := pflag.Int("port", 0, "HTTP server port (overrides PORT)")
	envFile := pflag.String("env-file", ".env", "dotenv file to load")
	resources := pflag.String("resources", "", "YAML resources file (overrides RESOURCES_FILE)")
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if pflag.CommandLine.Changed("port") {
		cfg.Port = *port
	}
	if *resources != "" {
		cfg.ResourcesFile = *resources
	}

	log := logging.New(cfg.Log)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize store
	driver, dsn := cfg.StoreDSN()
	store, err := sqlstore.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()

	catalog := ledger.DefaultOperations()
	if err := records.CheckCatalog(catalog); err != nil {
		return err
	}
	ops, err := store.SeedOperations(ctx, catalog)
	if err != nil {
		return fmt.Errorf("seeding operations: %w", err)
	}
	log.Info().Str("driver", driver).Int("operations", len(ops)).Msg("store ready")

	// Identity provider and the key source the gate verifies against
	var (
		idp  identity.Provider
		keys auth.KeySource
	)
	switch cfg.IdentityProvider {
	case config.ProviderCognito:
		cognito, err := identity.NewCognito(ctx, cfg.UserPoolRegion, cfg.ClientID, cfg.IdentityTimeout)
		if err != nil {
			return fmt.Errorf("initializing cognito: %w", err)
		}
		idp = cognito
		jwks, err := auth.NewJWKS(ctx, cfg.JWKSURL, cfg.AuthTimeout, cfg.JWKSRefresh,
			log.With().Str("component", "jwks").Logger())
		if err != nil {
			return fmt.Errorf("initializing key set: %w", err)
		}
		keys = jwks
	default:
		local, err := identity.NewLocal(identity.LocalConfig{
			Issuer:   cfg.TokenIssuer,
			ClientID: cfg.ClientID,
		}, log.With().Str("component", "identity").Logger())
		if err != nil {
			return fmt.Errorf("initializing local identity provider: %w", err)
		}
		idp = local
		keys = local
		log.Warn().Msg("using the in-process identity provider; confirmation codes are logged")
	}

	// Authorization gate
	allowed, err := config.LoadResources(cfg.ResourcesFile, cfg.Environment, cfg.APIARN)
	if err != nil {
		return err
	}

	gateOpts := []auth.Option{auth.WithLogger(log.With().Str("component", "auth").Logger())}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		gateOpts = append(gateOpts, auth.WithDenylist(auth.NewRedisDenylist(rdb)))
	} else {
		log.Warn().Msg("REDIS_ADDR not set; signed-out tokens stay valid until they expire")
	}

	gate := auth.NewGate(auth.Config{
		Issuer:    cfg.TokenIssuer,
		ClientID:  cfg.ClientID,
		Resources: allowed,
		Timeout:   cfg.AuthTimeout,
	}, keys, gateOpts...)

	// Services
	random := randomstring.NewClient(randomstring.Config{
		BaseURL:   cfg.RandomOrgURL,
		Timeout:   cfg.RandomTimeout,
		RateLimit: rate.Limit(cfg.RandomRPS),
	}, log.With().Str("component", "randomstring").Logger())

	svc := records.NewService(store,
		records.WithLogger(log.With().Str("component", "records").Logger()),
		records.WithDefaultBalance(cfg.DefaultBalance),
	)

	// Create router
	handler := api.NewHandler(svc, idp, gate, random, log)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("environment", cfg.Environment).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}
