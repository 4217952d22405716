// Package app wires the agegate runtime: config, logging, HTTP routes, the
// session store with its janitor, and the status-notification broker.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"agegate/internal/api"
	"agegate/internal/metrics"
	"agegate/internal/notify"
	"agegate/internal/session"
	"agegate/internal/verify"
)

// App is the agegate server runtime.
type App struct {
	cfg Config
	log Logger

	store   *session.MemoryStore
	broker  *notify.Broker
	janitor *session.Janitor
	handler *api.Handler

	verifierOverride verify.Verifier
}

// Option overrides optional App dependencies.
type Option func(*App)

// WithVerifier replaces the iden3-backed verifier. Used by tests and by
// deployments that front a different proof-verification engine.
func WithVerifier(v verify.Verifier) Option {
	return func(a *App) {
		if a == nil || v == nil {
			return
		}
		a.verifierOverride = v
	}
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	a := &App{cfg: cfg, log: log}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	verifier := a.verifierOverride
	if verifier == nil {
		resolvers, err := ParseResolvers(cfg.StateResolvers)
		if err != nil {
			return nil, fmt.Errorf("state resolvers: %w", err)
		}
		verifier, err = verify.NewIden3Verifier(cfg.CircuitsDir, resolvers, cfg.IPFSGatewayURL, cfg.StateTransitionDelay)
		if err != nil {
			return nil, err
		}
	}

	a.store = session.NewMemoryStore(cfg.SessionIdleTTL, cfg.SessionRetention)
	a.broker = notify.NewBroker(log)

	a.janitor = session.NewJanitor(log, a.store, cfg.SweepInterval, func(sess session.Session) {
		metrics.SessionsTimedOut.Inc()
		a.broker.Publish(sess.ID, notify.Event{Status: string(sess.Status), Error: sess.Error})
	})

	builder := verify.NewChallengeBuilder(cfg.Audience, cfg.Reason, cfg.Query())
	a.handler = api.NewHandler(log, api.Config{
		ExternalURL:       cfg.ExternalURL,
		StreamMaxLifetime: cfg.StreamMaxLifetime,
		MaxTokenBytes:     cfg.MaxTokenBytes,
	}, a.store, a.broker, builder, verifier)

	return a, nil
}

// Run starts the HTTP server and the session janitor and blocks until context
// cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.handler)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithCORS(WithRequestLogging(mux, a.log), a.cfg.AllowedOrigin),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		// No WriteTimeout: verify-status streams stay open far longer than
		// any fixed write deadline; their lifetime is bounded per stream.
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go a.janitor.Run(janitorCtx)

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
