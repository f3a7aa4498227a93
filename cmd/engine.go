package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/meter-lab/internal/ai"
	"github.com/kozaktomas/meter-lab/internal/batch"
	"github.com/kozaktomas/meter-lab/internal/config"
	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/database/postgres"
	"github.com/kozaktomas/meter-lab/internal/logger"
	"github.com/kozaktomas/meter-lab/internal/objectstore"
	"github.com/kozaktomas/meter-lab/internal/promotion"
	"github.com/kozaktomas/meter-lab/internal/recognition"
)

// openStore connects to PostgreSQL, applies pending migrations and returns
// the registered store.
func openStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return database.GetStore(ctx)
}

// createAIProvider builds the vision provider selected by name, falling
// back to VISION_PROVIDER.
func createAIProvider(ctx context.Context, cfg *config.Config, name string) (ai.Provider, error) {
	if name == "" {
		name = cfg.Vision.Provider
	}

	switch name {
	case "openai":
		if cfg.OpenAI.Token == "" {
			return nil, errors.New("OPENAI_TOKEN environment variable is required")
		}
		pricing := cfg.GetModelPricing("gpt-4.1-mini")
		return ai.NewOpenAIProvider(cfg.OpenAI.Token, ai.Pricing{Input: pricing.Input, Output: pricing.Output}), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable is required")
		}
		pricing := cfg.GetModelPricing("gemini-2.5-flash")
		p, err := ai.NewGeminiProvider(ctx, cfg.Gemini.APIKey, ai.Pricing{Input: pricing.Input, Output: pricing.Output})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini provider: %w", err)
		}
		return p, nil
	case "ollama":
		return ai.NewOllamaProvider(cfg.Ollama.URL, cfg.Ollama.Model), nil
	case "llamacpp":
		p, err := ai.NewLlamaCppProvider(cfg.LlamaCpp.URL, cfg.LlamaCpp.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s (use openai, gemini, ollama or llamacpp)", name)
	}
}

// openObjectStore returns the HTTP store when STORAGE_BASE_URL is set and the
// local directory store otherwise.
func openObjectStore(cfg *config.Config) (objectstore.Store, error) {
	if cfg.Storage.BaseURL != "" {
		s, err := objectstore.NewHTTP(cfg.Storage.BaseURL, cfg.Storage.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP object store: %w", err)
		}
		return s, nil
	}
	if cfg.Storage.Dir == "" {
		return nil, errors.New("STORAGE_BASE_URL or STORAGE_DIR environment variable is required")
	}
	s, err := objectstore.NewLocal(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage directory: %w", err)
	}
	return s, nil
}

// engine is the set of collaborators a CLI command works with.
type engine struct {
	cfg      *config.Config
	store    database.Store
	provider ai.Provider
	objects  objectstore.Store
	log      zerolog.Logger
}

// openEngine connects everything a recognition command needs. providerName
// may be empty to use VISION_PROVIDER.
func openEngine(ctx context.Context, providerName string) (*engine, error) {
	cfg := config.Load()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	provider, err := createAIProvider(ctx, cfg, providerName)
	if err != nil {
		return nil, err
	}
	objects, err := openObjectStore(cfg)
	if err != nil {
		return nil, err
	}
	return &engine{
		cfg:      cfg,
		store:    store,
		provider: provider,
		objects:  objects,
		log:      *logger.Get(),
	}, nil
}

func (e *engine) resolver() *batch.Resolver {
	return batch.NewResolver(e.store, nil)
}

func (e *engine) orchestrator() *batch.Orchestrator {
	runner := recognition.NewRunner(e.provider, e.objects, e.log.With().Str("component", "runner").Logger())
	return batch.New(e.store, runner, e.log.With().Str("component", "batch").Logger())
}

// newGate builds the promotion gate from the recognition policy settings.
func newGate(store database.Store, cfg *config.Config) *promotion.Gate {
	return promotion.NewGate(store, promotion.Policy{
		MinPhotosRequired: cfg.Recognition.MinPhotosRequired,
		AccuracyFloor:     cfg.Recognition.PromotionAccuracyFloor,
	}, logger.Named("promotion"))
}
