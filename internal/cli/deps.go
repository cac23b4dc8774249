package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"webrag/config"
	"webrag/internal/adapter/cache"
	"webrag/internal/adapter/embedding"
	"webrag/internal/adapter/fetch"
	"webrag/internal/adapter/memstore"
	"webrag/internal/adapter/search"
	"webrag/internal/adapter/store"
	"webrag/internal/domain"
	"webrag/internal/port"
	"webrag/internal/usecase"
)

// deps is everything one command needs. The store handle lives for the
// whole process and is released by Close.
type deps struct {
	embedder port.Embedder
	store    port.KnowledgeStore
	ask      *usecase.AskUseCase
}

func buildDeps(ctx context.Context, cfg *config.Config, rootDir string, logger *zap.Logger) (*deps, error) {
	embedder, err := newEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg, rootDir)
	if err != nil {
		return nil, err
	}

	distance := domain.Distance(cfg.Store.Distance)
	if err := st.EnsureCollection(ctx, cfg.Store.Collection, embedder.Dimension(), distance); err != nil {
		st.Close()
		return nil, fmt.Errorf("collection %s: %w", cfg.Store.Collection, err)
	}
	logger.Debug("collection ready",
		zap.String("collection", cfg.Store.Collection),
		zap.String("backend", cfg.Store.Backend),
		zap.String("model", embedder.ModelName()),
		zap.Int("dimension", embedder.Dimension()),
	)

	searcher := search.NewDuckDuckGo(cfg.Search.Endpoint, cfg.Fetch.UserAgent, cfg.Fetch.Timeout)
	fetcher := fetch.New(searcher, fetch.Config{
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: cfg.Fetch.UserAgent,
		MaxChars:  cfg.Fetch.MaxChars,
		MaxBytes:  cfg.Fetch.MaxBytes,
		Interval:  cfg.Fetch.Interval,
		Excludes:  cfg.Fetch.Excludes,
	}, logger.Named("fetch"))

	dedup := usecase.DedupMode(cfg.Retrieve.Dedup)
	if !dedup.Valid() {
		st.Close()
		return nil, fmt.Errorf("%w: dedup mode %q", domain.ErrInvalidInput, cfg.Retrieve.Dedup)
	}

	ask := usecase.NewAskUseCase(fetcher, embedder, st, usecase.AskOptions{
		MaxResults:      cfg.Search.MaxResults,
		TopK:            cfg.Retrieve.TopK,
		MaxChars:        cfg.Normalize.MaxChars,
		SnippetChars:    cfg.Answer.SnippetChars,
		Dedup:           dedup,
		MergeDuplicates: cfg.Answer.MergeDuplicates,
	}, logger.Named("ask"))

	return &deps{embedder: embedder, store: st, ask: ask}, nil
}

func (d *deps) Close() error {
	if d == nil || d.store == nil {
		return nil
	}
	return d.store.Close()
}

type prober interface {
	Probe(ctx context.Context) error
}

func newEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (port.Embedder, error) {
	var embedder port.Embedder

	switch cfg.Provider {
	case "hash":
		embedder = embedding.NewHashEmbedder(cfg.Dimension)
	case "openai":
		var (
			e   *embedding.OpenAIEmbedder
			err error
		)
		if cfg.BaseURL == "" {
			e, err = embedding.NewOpenAIEmbedder(cfg.APIKeyEnv, cfg.Model)
		} else {
			e, err = embedding.NewOpenAICompatibleEmbedder(cfg.APIKeyEnv, cfg.Model, cfg.BaseURL)
		}
		if err != nil {
			return nil, err
		}
		embedder = e.WithDimension(cfg.Dimension).WithBatchSize(cfg.BatchSize)
	default:
		embedder = embedding.NewOllamaEmbedder(cfg.Model, cfg.BaseURL).
			WithDimension(cfg.Dimension).
			WithBatchSize(cfg.BatchSize)
	}

	if embedder.Dimension() == 0 {
		p, ok := embedder.(prober)
		if !ok {
			return nil, fmt.Errorf("%w: unknown dimension for model %s", domain.ErrInvalidInput, cfg.Model)
		}
		if err := p.Probe(ctx); err != nil {
			return nil, fmt.Errorf("probe model %s: %w", cfg.Model, err)
		}
	}

	if cfg.CacheSize > 0 {
		embedder = cache.NewCachedEmbedder(embedder, cache.NewEmbeddingCache(cfg.CacheSize, cfg.CacheTTL))
	}
	return embedder, nil
}

func openStore(cfg *config.Config, rootDir string) (port.KnowledgeStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memstore.NewMemoryStore(), nil
	case "bolt":
		if err := config.EnsureDataDir(rootDir); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return store.NewBoltKnowledgeStore(cfg.StorePath(rootDir))
	case "weaviate":
		return store.NewWeaviateKnowledgeStore(store.WeaviateConfig{
			Host:    cfg.StoreAddress(),
			Scheme:  cfg.Store.Scheme,
			Timeout: cfg.Store.Timeout,
		})
	}
	return nil, errors.New("unknown store backend: " + cfg.Store.Backend)
}
