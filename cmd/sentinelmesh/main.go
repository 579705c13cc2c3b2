// Command sentinelmesh runs the cybersecurity Q&A service: a WebSocket chat
// endpoint backed by routed specialist agents, pgvector knowledge retrieval,
// trusted-source web search and durable SQLite sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/hupe1980/sentinelmesh"
	"github.com/hupe1980/sentinelmesh/config"
	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/logging"
	"github.com/hupe1980/sentinelmesh/model"
	"github.com/hupe1980/sentinelmesh/model/anthropic"
	"github.com/hupe1980/sentinelmesh/model/openai"
	"github.com/hupe1980/sentinelmesh/retrieval"
	"github.com/hupe1980/sentinelmesh/retrieval/pgvector"
	"github.com/hupe1980/sentinelmesh/retrieval/tavily"
	"github.com/hupe1980/sentinelmesh/server"
	"github.com/hupe1980/sentinelmesh/session"
	sqlitestore "github.com/hupe1980/sentinelmesh/session/sqlite"
)

func main() {
	configPath := flag.String("config", "sentinelmesh.toml", "path to the TOML config file")
	flag.Parse()

	// Credentials come from the environment; .env is a development nicety.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentinelmesh: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	models, raterModel, err := buildModels(cfg)
	if err != nil {
		return err
	}

	knowledge, closeKnowledge, err := buildKnowledge(cfg, logger)
	if err != nil {
		return err
	}
	if closeKnowledge != nil {
		defer closeKnowledge()
	}

	web := buildWebSearch(cfg, logger)

	store, err := buildStore(cfg, models, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	routerModel, _ := models.Resolve(cfg.Models.Router)

	mesh, err := sentinelmesh.New(models,
		func(o *sentinelmesh.Options) {
			o.Knowledge = knowledge
			o.Web = web
			o.Store = store
			o.RouterModel = routerModel
			o.RaterModel = raterModel
			o.CollaborationThreshold = cfg.Collaboration.Threshold
			o.RetrievalWeight = cfg.Confidence.RetrievalWeight
			o.SelfRatingWeight = cfg.Confidence.SelfRatingWeight
			o.ModelTimeout = cfg.ModelTimeout()
			o.Logger = logger
		},
	)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	srv := server.New(mesh.Engine(), func(o *server.Options) {
		o.ReadTimeout = cfg.Server.ReadTimeout.Duration
		o.WriteTimeout = cfg.Server.WriteTimeout.Duration
		o.PingInterval = cfg.Server.PingInterval.Duration
		o.Logger = logger
	})
	srv.Routes(e)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "version", sentinelmesh.Version)
		if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Shutdown(ctx)
}

// buildModels assembles the model registry from the configured provider
// credentials, plus the small model used for answer rating.
func buildModels(cfg *config.Config) (*model.Registry, model.Model, error) {
	available := make(map[string]model.Model)

	if key := cfg.OpenAIKey(); key != "" {
		available["openai"] = openai.NewModel(func(o *openai.Options) {
			o.APIKey = key
		})
	}
	if key := cfg.AnthropicKey(); key != "" {
		available["anthropic"] = anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = key
		})
	}
	if cfg.Models.Default == "mock" {
		available["mock"] = model.NewMockModel("mock", "mock")
	}

	defaultName := cfg.Models.Default
	if _, ok := available[defaultName]; !ok {
		// Credentials decide availability; fall back to whichever provider
		// is configured.
		for name := range available {
			defaultName = name
			break
		}
	}

	registry, err := model.NewRegistry(defaultName, available)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", core.ErrConfiguration, err)
	}
	rater, _ := registry.Resolve(cfg.Models.Router)
	return registry, rater, nil
}

// buildKnowledge connects the pgvector store when a DSN is configured.
func buildKnowledge(cfg *config.Config, logger logging.Logger) (retrieval.KnowledgeSearcher, func() error, error) {
	if cfg.Knowledge.DSN == "" {
		logger.Warn("knowledge base disabled, no dsn configured")
		return nil, nil, nil
	}
	if cfg.OpenAIKey() == "" {
		return nil, nil, fmt.Errorf("%w: knowledge base requires %s for embeddings", core.ErrConfiguration, cfg.Models.OpenAIKeyEnv)
	}
	embedder := openai.NewEmbedder(func(o *openai.EmbedderOptions) {
		o.APIKey = cfg.OpenAIKey()
	})
	store, err := pgvector.Open(cfg.Knowledge.DSN, embedder)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open knowledge base: %v", core.ErrConfiguration, err)
	}
	return store, store.Close, nil
}

// buildWebSearch connects Tavily when a key is present.
func buildWebSearch(cfg *config.Config, logger logging.Logger) retrieval.WebSearcher {
	key := cfg.TavilyKey()
	if key == "" {
		logger.Warn("web search disabled, no api key configured")
		return nil
	}
	client, err := tavily.New(key, func(o *tavily.Options) {
		o.MaxResults = cfg.WebSearch.MaxResults
		o.TrustedDomains = cfg.WebSearch.TrustedDomains
	})
	if err != nil {
		logger.Warn("web search disabled", "error", err)
		return nil
	}
	return client
}

// buildStore opens the durable session store, with history summarization
// driven by the configured summarizer model.
func buildStore(cfg *config.Config, models *model.Registry, logger logging.Logger) (core.SessionStore, error) {
	summarizerModel, _ := models.Resolve(cfg.Models.Summarizer)
	summarizer := session.NewSummarizer(summarizerModel, func(o *session.SummarizerOptions) {
		o.TokenBudget = cfg.Session.TokenBudget
		o.KeepRecent = cfg.Session.KeepRecent
		o.Logger = logger
	})

	if cfg.Store.Path == "" {
		logger.Warn("using volatile in-memory session store")
		return session.NewInMemoryStore(session.WithSummarizer(summarizer)), nil
	}
	store, err := sqlitestore.NewStore(cfg.Store.Path, func(o *sqlitestore.Options) {
		o.Summarizer = summarizer
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open session store: %v", core.ErrConfiguration, err)
	}
	return store, nil
}

// newLogger builds the process logger from config.
func newLogger(cfg *config.Config) logging.Logger {
	level := logging.LogLevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = logging.LogLevelDebug
	case "warn":
		level = logging.LogLevelWarn
	case "error":
		level = logging.LogLevelError
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Logging.Format,
		Output:    os.Stdout,
		Component: "sentinelmesh",
	})
}
