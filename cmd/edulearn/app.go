package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"edulearn/internal/chat"
	"edulearn/internal/compaction"
	"edulearn/internal/config"
	"edulearn/internal/llm"
	"edulearn/internal/metrics"
	"edulearn/internal/prompt"
	"edulearn/internal/retrieval"
	"edulearn/internal/session"
	"edulearn/internal/storage"
)

// app holds the long-lived components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	sessions *session.Manager
	chat     *chat.Service
	recorder storage.Recorder
	// documents is set when a context file is configured.
	documents *retrieval.FileRetriever
	closers   []func(context.Context) error
}

func openRepository(ctx context.Context, cfg *config.Config) (session.Repository, func(context.Context) error, error) {
	switch cfg.Store {
	case config.StoreMongo:
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		repo, err := session.NewMongoRepository(cctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case config.StoreFile:
		repo, err := session.NewFileRepository(cfg.SessionDir)
		return repo, nil, err
	case config.StoreMemory:
		return session.NewMemoryRepository(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store: %s", cfg.Store)
	}
}

// openStore is replaced in tests.
var openStore = openRepository

func openSessions(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session.Manager, func(context.Context) error, error) {
	policy, err := session.ParsePolicy(cfg.LookupPolicy)
	if err != nil {
		return nil, nil, err
	}
	repo, closer, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	if policy == session.PolicyAutoCreate {
		logger.Warn("unknown session ids will start blank sessions", "policy", policy.String())
	}
	logger.Info("session store ready", "store", cfg.Store, "policy", policy.String())
	return session.NewManager(repo, policy, logger), closer, nil
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	// release whatever was opened before a later step failed
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.registry)

	sessions, closer, err := openSessions(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.sessions = sessions
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	factory := llm.NewFactory(cfg, logger)
	gen, err := factory.CreateClient(ctx, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	var summarizer llm.Client = gen
	if name := cfg.SummaryModelName(); name != cfg.Model {
		if summarizer, err = factory.CreateClient(ctx, name); err != nil {
			return nil, fmt.Errorf("create summarizer client: %w", err)
		}
	}

	compactor, err := compaction.New(compaction.Config{Threshold: cfg.CompactionThreshold}, summarizer, m, logger)
	if err != nil {
		return nil, err
	}

	kind, err := prompt.ParseKind(cfg.PromptKind)
	if err != nil {
		return nil, fmt.Errorf("PROMPT_KIND: %w", err)
	}
	catalog := prompt.NewCatalog(kind)
	if cfg.PromptTemplatesPath != "" {
		if err := catalog.LoadOverrides(cfg.PromptTemplatesPath); err != nil {
			return nil, err
		}
	}

	var retriever retrieval.Retriever
	if cfg.ContextFilePath != "" {
		a.documents, err = retrieval.NewFileRetriever(cfg.ContextFilePath, 3)
		if err != nil {
			return nil, err
		}
		retriever = a.documents
	}

	if cfg.InteractionLogPath != "" {
		rec, err := storage.NewFileRecorder(cfg.InteractionLogPath)
		if err != nil {
			logger.Warn("interaction log disabled", "path", cfg.InteractionLogPath, "error", err)
		} else {
			a.recorder = rec
		}
	}

	a.chat, err = chat.New(chat.Options{
		Sessions:  sessions,
		Compactor: compactor,
		Generator: gen,
		Prompts:   catalog,
		Retriever: retriever,
		Recorder:  a.recorder,
		Metrics:   m,
		Logger:    logger,
		Timeout:   cfg.LLMTimeout,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("chat service ready",
		"provider", cfg.LLMProvider, "model", cfg.Model, "summary_model", cfg.SummaryModelName(),
		"compaction_threshold", cfg.CompactionThreshold, "prompt_kind", kind.String())
	return a, nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, c := range a.closers {
		if err := c(ctx); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}
