// ABOUTME: Gateway wires the store, pipeline, scheduler and HTTP server together
// ABOUTME: Owns process lifecycle: serving, background retention and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"wagateway/internal/admin"
	"wagateway/internal/ai"
	"wagateway/internal/auth"
	"wagateway/internal/config"
	"wagateway/internal/dedupe"
	"wagateway/internal/ratelimit"
	"wagateway/internal/retention"
	"wagateway/internal/store"
	"wagateway/internal/webhook"
	"wagateway/internal/whatsapp"
)

// Retry dedupe window. The platform redelivers unacknowledged events for
// a bounded period; anything older than this is a genuinely new event.
const (
	dedupeTTL     = 10 * time.Minute
	dedupeMaxSize = 10000
)

// Gateway is the assembled wagateway server.
type Gateway struct {
	config     *config.Config
	store      store.Store
	pipeline   *webhook.Pipeline
	scheduler  *retention.Scheduler
	dedupe     *dedupe.Cache
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path, cfg.Limits.ConversationWindow, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	limiter := ratelimit.New(cfg.Limits.RatePerMinute)

	var dispatcher webhook.AdminDispatcher
	if len(cfg.Admin.Users) > 0 {
		dispatcher = admin.New(st, cfg.Retention.Timeout, cfg.Admin.Users, logger)
	}

	responder := ai.NewClient(cfg.OpenAI, logger)
	transport := whatsapp.NewClient(cfg.WhatsApp.APIBaseURL, cfg.WhatsApp.Token, cfg.WhatsApp.SendTimeout, logger)

	pipeline := webhook.New(st, limiter, dispatcher, responder, transport, webhook.Config{
		MaxMessageLength: cfg.Limits.MaxMessageLength,
		AITimeout:        cfg.OpenAI.Timeout,
		SendTimeout:      cfg.WhatsApp.SendTimeout,
		ChunkDelay:       cfg.WhatsApp.ChunkDelay,
	}, logger)

	scheduler := retention.New(st, cfg.Retention.CleanupInterval, cfg.Retention.Timeout, logger)

	gw := &Gateway{
		config:    cfg,
		store:     st,
		pipeline:  pipeline,
		scheduler: scheduler,
		dedupe:    dedupe.New(dedupeTTL, dedupeMaxSize),
		logger:    logger.With("component", "gateway"),
	}

	if cfg.Webhook.AppSecret == "" {
		gw.logger.Warn("webhook signature verification disabled - no app_secret configured")
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP mux: the webhook surface, health, and the
// bearer-token gated admin API.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.HandleFunc("GET /webhook", g.handleWebhookVerify)
	mux.HandleFunc("POST /webhook", g.handleWebhook)

	adminOnly := auth.RequireToken(g.config.Admin.Token)
	mux.Handle("GET /api/conversations/{user_id}", adminOnly(http.HandlerFunc(g.handleConversationHistory)))
	mux.Handle("GET /api/stats", adminOnly(http.HandlerFunc(g.handleStats)))
	mux.Handle("POST /api/cleanup", adminOnly(http.HandlerFunc(g.handleCleanup)))

	return mux
}

// Run starts the HTTP server and the retention scheduler and blocks until
// ctx is cancelled or the server fails. The scheduler is daemonic: it is
// cancelled along with everything else and needs no drain phase.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.store.Close()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		if err := g.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		g.logger.Info("shutting down")
		return g.httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
