package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/config"
	"github.com/capitalize-ai/chat-relay/internal/handler"
	natsclient "github.com/capitalize-ai/chat-relay/internal/nats"
	"github.com/capitalize-ai/chat-relay/internal/relay"
	"github.com/capitalize-ai/chat-relay/internal/service"
	"github.com/capitalize-ai/chat-relay/internal/store"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/tracing"
)

func serve(parent context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting API server")

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-relay", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(context.Background(), tp) }()
		}
	}

	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	events, natsClient, err := connectEvents(ctx, cfg, log)
	if err != nil {
		return err
	}
	if natsClient != nil {
		async := natsclient.NewAsyncPublisher(events, natsclient.DefaultQueueSize, natsclient.DefaultPublishTimeout, log.Named("events"))
		events = async
		// Queued events drain before the connection does.
		defer natsClient.Close()
		defer func() {
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := async.Close(drainCtx); err != nil {
				log.Warn("dropped queued lifecycle events on shutdown", zap.Error(err))
			}
		}()
	}

	client, err := newUpstreamClient(cfg)
	if err != nil {
		return err
	}

	rl := relay.New(
		relay.WithIdleTimeout(cfg.StreamIdleTimeout),
		relay.WithLogger(log.Named("relay")),
	)

	chatSvc := service.NewChatService(st, client, rl, events, log)
	conversationSvc := service.NewConversationService(st, log)
	settingsSvc := service.NewSettingsService(st)

	// A nil *Client must not become a non-nil interface.
	var natsHealth handler.ConnectionChecker
	if natsClient != nil {
		natsHealth = natsClient
	}

	router := newRouter(routes{
		logger:         log,
		jwtSecret:      cfg.JWTSecret,
		allowedOrigins: cfg.AllowedOrigins,
		maxBodyBytes:   cfg.MaxBodyBytes,
		health:         handler.NewHealthHandler(st, natsHealth),
		chat:           handler.NewChatHandler(chatSvc, log),
		conversations:  handler.NewConversationHandler(conversationSvc, log),
		settings:       handler.NewSettingsHandler(settingsSvc, log),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// connectEvents returns the lifecycle publisher, connecting to NATS when configured.
func connectEvents(ctx context.Context, cfg *config.Config, log *logger.Logger) (natsclient.Publisher, *natsclient.Client, error) {
	natsCfg := natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}
	if !natsCfg.Enabled() {
		log.Info("NATS not configured, lifecycle events disabled")
		return natsclient.NopPublisher{}, nil, nil
	}

	nc, err := natsclient.Connect(ctx, natsCfg, log.Named("nats"))
	if err != nil {
		return nil, nil, err
	}

	publisher := natsclient.NewEventPublisher(nc)
	if err := publisher.EnsureStream(ctx); err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return publisher, nc, nil
}
