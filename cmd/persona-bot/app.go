package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/devricklin/feishu-persona-bot/internal/biz"
	"github.com/devricklin/feishu-persona-bot/internal/biz/usecase"
	"github.com/devricklin/feishu-persona-bot/internal/conf"
	"github.com/devricklin/feishu-persona-bot/internal/data"
	"github.com/devricklin/feishu-persona-bot/internal/i18n"
	"github.com/devricklin/feishu-persona-bot/internal/infra/feishu"
	"github.com/devricklin/feishu-persona-bot/internal/infra/openai"
	"github.com/devricklin/feishu-persona-bot/internal/service"
)

// app holds the wired layers shared by serve and sweep
type app struct {
	cfg        *conf.Config
	feishu     *feishu.Client
	repos      *data.Repositories
	usecases   *biz.Usecases
	translator *i18n.Translator
	wake       *service.WakeScheduler
}

func newApp(logger *zap.Logger) (*app, error) {
	cfg, err := conf.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.PersonaFile != nil && cfg.PersonaFile.LoadedFrom != "" {
		logger.Info("persona tuning loaded", zap.String("path", cfg.PersonaFile.LoadedFrom))
	}

	tr, err := i18n.New(cfg.Locale.Locale, cfg.Locale.Dir)
	if err != nil {
		return nil, fmt.Errorf("load locale: %w", err)
	}

	feishuClient := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, cfg.Persona.Handle, logger)
	generator := openai.NewClient(openai.Config{
		APIKey:          cfg.OpenAI.APIKey,
		BaseURL:         cfg.OpenAI.BaseURL,
		ChatModel:       cfg.OpenAI.ChatModel,
		CompletionModel: cfg.OpenAI.CompletionModel,
		Temperature:     cfg.OpenAI.Temperature,
		Timeout:         cfg.OpenAI.Timeout,
	})

	var tokens usecase.TokenEstimator
	if counter, err := openai.NewTokenCounter(cfg.OpenAI.CompletionModel); err != nil {
		logger.Warn("no token encoding for model, using byte estimate",
			zap.String("model", cfg.OpenAI.CompletionModel), zap.Error(err))
	} else {
		tokens = counter.Count
	}

	repos, err := data.NewRepositories(cfg.Store.DBPath, generator, feishuClient)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Info("store opened", zap.String("path", cfg.Store.DBPath))

	ucs := biz.NewUsecases(biz.Deps{
		Conversations: repos.Conversation,
		Users:         repos.User,
		Messages:      repos.Message,
		Audits:        repos.Audit,
		Generator:     repos.Generator,
		Platform:      repos.Platform,
		Translator:    tr,
		Tokens:        tokens,
	}, cfg.ToPipelineConfig(), cfg.WakeIdle(), logger)

	wake, err := service.NewWakeScheduler(ucs.Wake, cfg.Wake.Schedule, logger)
	if err != nil {
		repos.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		feishu:     feishuClient,
		repos:      repos,
		usecases:   ucs,
		translator: tr,
		wake:       wake,
	}, nil
}

func (a *app) close() {
	if err := a.repos.Close(); err != nil {
		logger.Warn("failed to close store", zap.Error(err))
	}
}
