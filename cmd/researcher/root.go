package main

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/logging"
	"github.com/mohammad-safakhou/researcher/internal/research"
	"github.com/mohammad-safakhou/researcher/internal/telemetry"
	openai_provider "github.com/mohammad-safakhou/researcher/provider/openai"
	"github.com/mohammad-safakhou/researcher/session"
	"github.com/mohammad-safakhou/researcher/session/index"
	"github.com/mohammad-safakhou/researcher/tools/web_search"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfgPath string

func rootCMD() *cobra.Command {
	root := &cobra.Command{
		Use:          "researcher",
		Short:        "Conversational research assistant",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	root.AddCommand(serveCMD(), askCMD(), sessionsCMD(), tokenCMD())
	return root
}

// app holds everything a command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *telemetry.Metrics
	store   session.Store
	history *index.HistoryIndex
	svc     *research.Service

	shutdownTracing telemetry.Shutdown
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Options{
		Level:   cfg.General.LogLevel,
		Debug:   cfg.General.Debug,
		LogFile: cfg.Telemetry.LogFile,
	})

	shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	metrics := telemetry.NewMetrics()

	ws := cfg.Sources.WebSearch
	searcher, err := web_search.NewWebSearcher(web_search.Backend(ws.Provider), ws.APIKey(), ws.Endpoint, nil)
	if err != nil {
		return nil, err
	}

	store, err := session.NewStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	history, err := index.NewHistoryIndex()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("history index: %w", err)
	}

	svc := research.New(
		openai_provider.NewOpenAIClient(cfg.LLM),
		web_search.NewSearchProvider(searcher, ws.Timeout, logger.Named("web_search")),
		store,
		history,
		research.Options{
			MaxIterations: cfg.Agents.MaxIterations,
			CacheCapacity: cfg.Agents.CacheCapacity,
			ResultCount:   ws.MaxResults,
			Logger:        logger,
			Metrics:       metrics,
		},
	)
	if err := svc.RebuildHistory(ctx); err != nil {
		logger.Warn("history index rebuild failed", zap.Error(err))
	}

	logger.Info("researcher ready",
		zap.String("model", cfg.LLM.Model),
		zap.String("web_search", ws.Provider),
		zap.String("storage", cfg.Storage.Backend),
	)
	return &app{
		cfg:             cfg,
		logger:          logger,
		metrics:         metrics,
		store:           store,
		history:         history,
		svc:             svc,
		shutdownTracing: shutdown,
	}, nil
}

func (a *app) Close() {
	a.svc.Close()
	if err := a.history.Close(); err != nil {
		a.logger.Warn("history index close", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("session store close", zap.Error(err))
	}
	if a.shutdownTracing != nil {
		_ = a.shutdownTracing(context.Background())
	}
	_ = a.logger.Sync()
}
