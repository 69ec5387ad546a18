package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filippo.io/csrf"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/salesloop/crmgate/internal/gateway"
	httpmiddleware "github.com/salesloop/crmgate/internal/http"
	"github.com/salesloop/crmgate/internal/logger"
	"github.com/salesloop/crmgate/internal/server"
	"github.com/salesloop/crmgate/internal/telemetry"
)

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"localhost:3000" env:"CRMGATE_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"CRMGATE_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"CRMGATE_TLS_KEY"`

	// Backend configuration
	BackendURL string `help:"base URL of the remote CRM backend" required:"" env:"CRMGATE_BACKEND_URL"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost:3000" env:"CRMGATE_CORS_ORIGINS"`

	// Cookie configuration
	CookieSecure    bool          `help:"set the Secure attribute on session cookies (disable for local HTTP development only)" default:"true" env:"CRMGATE_COOKIE_SECURE"`
	AccessTokenTTL  time.Duration `help:"access token cookie lifetime" default:"1h" env:"CRMGATE_ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `help:"refresh token and session id cookie lifetime" default:"168h" env:"CRMGATE_REFRESH_TOKEN_TTL"`

	// Session store configuration
	SessionStore string `help:"where sessions live (cookie or redis)" default:"cookie" env:"CRMGATE_SESSION_STORE" enum:"cookie,redis"`
	RedisAddr    string `help:"redis address for the redis session store" default:"localhost:6379" env:"CRMGATE_REDIS_ADDR"`

	// Operational modes
	Tracing bool `help:"enable tracing and metrics export" default:"false" env:"CRMGATE_TRACING"`
}

func (c *ServeCmd) Validate() error {
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("--cert and --key must be provided together")
	}
	return nil
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting CRM gateway")

	if c.Tracing {
		shutdown, err := telemetry.InitTelemetry(ctx, "crmgate", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	gw := gateway.New(c.BackendURL)

	cookieCfg := server.CookieConfig{
		Secure:        c.CookieSecure,
		AccessMaxAge:  c.AccessTokenTTL,
		RefreshMaxAge: c.RefreshTokenTTL,
	}

	var opts []server.Option
	if c.SessionStore == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", c.RedisAddr, err)
		}
		opts = append(opts, server.WithRedisSessions(rdb, c.RefreshTokenTTL))
		log.Info().Str("addr", c.RedisAddr).Msg("Using redis session store")
	} else {
		log.Info().Msg("Using cookie session store")
	}

	srv := server.New(gw, cookieCfg, opts...)

	// The whole API is cookie-authenticated, so cross-site request
	// protection applies everywhere; CORS then admits the configured
	// dashboard origins.
	protection := csrf.New()

	handler := httpmiddleware.RequestIDMiddleware()(
		httpmiddleware.ClientIPMiddleware()(
			logger.NewHTTPRequests(log)(
				protection.Handler(srv.Handler()))))

	handler = cors.New(cors.Options{
		AllowedOrigins:   c.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-Id"},
		AllowCredentials: true, // Required for cookie-based authentication
	}).Handler(handler)

	httpServer := configureHTTPServer(c.Listen, handler)

	// Shut down cleanly on SIGINT/SIGTERM
	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Str("backend", c.BackendURL).Msg("Starting HTTP server")
		if c.Cert != "" && c.Key != "" {
			errCh <- httpServer.ListenAndServeTLS(c.Cert, c.Key)
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-stopCtx.Done():
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
	}

	return nil
}
