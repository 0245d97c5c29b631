package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devricklin/feishu-persona-bot/internal/api"
	"github.com/devricklin/feishu-persona-bot/internal/server"
	"github.com/devricklin/feishu-persona-bot/internal/service"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Feishu and run the persona",
		Long: `Connect to Feishu over WebSocket, answer chat messages and run the wake
schedule. The admin API used by "persona-bot mcp" listens on 127.0.0.1.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	convSvc := service.NewConversationService(
		a.usecases.Recorder,
		a.usecases.Reply,
		a.repos.Conversation,
		a.repos.Platform,
		a.translator,
		a.cfg.Persona.Handle,
		a.cfg.IsOwner,
		logger,
	)
	srv := server.NewFeishuServer(a.feishu, convSvc, logger)

	if err := a.wake.Start(ctx); err != nil {
		return err
	}
	defer a.wake.Stop()

	var apiServer *api.Server
	if a.cfg.Admin.Port > 0 {
		apiServer = api.NewServer(a.usecases.Conversation, a.wake, a.cfg.Admin.Port, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("API server error", zap.Error(err))
			}
		}()
	}

	// the websocket client does not return on cancel
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	logger.Info("persona bot running",
		zap.String("app_id", a.cfg.Feishu.AppID),
		zap.String("handle", a.cfg.Persona.Handle),
		zap.String("locale", a.translator.Locale()),
		zap.String("wake_schedule", a.cfg.Wake.Schedule))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping")
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("feishu connection: %w", err)
		} else {
			err = nil
		}
	}

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if stopErr := apiServer.Stop(shutdownCtx); stopErr != nil {
			logger.Warn("API server shutdown failed", zap.Error(stopErr))
		}
	}
	return err
}
