package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cogmemd/cogmemd/internal/causal"
	"github.com/cogmemd/cogmemd/internal/checkpoint"
	"github.com/cogmemd/cogmemd/internal/config"
	"github.com/cogmemd/cogmemd/internal/embedding"
	"github.com/cogmemd/cogmemd/internal/fsrs"
	"github.com/cogmemd/cogmemd/internal/indexer"
	"github.com/cogmemd/cogmemd/internal/learning"
	"github.com/cogmemd/cogmemd/internal/mcp"
	"github.com/cogmemd/cogmemd/internal/pegate"
	search "github.com/cogmemd/cogmemd/internal/retrieval"
	"github.com/cogmemd/cogmemd/internal/store"
	"github.com/cogmemd/cogmemd/internal/workingmem"
)

// openDeps assembles every store, provider, and component mcp.Deps needs,
// opening (or creating) the on-disk metadata, vector, and BM25 indexes
// under cfg.Storage.DataDir so `index scan` and `serve` see the same
// state across separate process invocations.
//
// The returned closer must be called to flush the vector index to disk
// and release the SQLite handles; it does not persist automatically.
func openDeps(ctx context.Context, cfg *config.Config, rootPath string, logger *slog.Logger) (mcp.Deps, func() error, error) {
	metadataPath := filepath.Join(cfg.Storage.DataDir, "cogmemd.db")
	metadata, err := store.NewSQLiteMetadataStore(metadataPath)
	if err != nil {
		return mcp.Deps{}, nil, fmt.Errorf("open metadata store: %w", err)
	}

	provider, err := embedding.NewProvider(ctx, embedding.FactoryConfig{
		Provider:                cfg.Embeddings.Provider,
		Model:                   cfg.Embeddings.Model,
		Dimensions:              cfg.Embeddings.Dimensions,
		BatchSize:               cfg.Embeddings.BatchSize,
		OllamaHost:              cfg.Embeddings.OllamaHost,
		CacheSize:               cfg.Embeddings.CacheSize,
		CircuitBreakerThreshold: cfg.Embeddings.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  cfg.Embeddings.CircuitBreakerCooldown,
	})
	if err != nil {
		metadata.Close()
		return mcp.Deps{}, nil, fmt.Errorf("open embedding provider: %w", err)
	}

	dim := provider.Metadata().Dim
	vectorPath := filepath.Join(cfg.Storage.DataDir, "vectors.hnsw")
	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dim))
	if err != nil {
		provider.Close()
		metadata.Close()
		return mcp.Deps{}, nil, fmt.Errorf("open vector store: %w", err)
	}
	if loadErr := vectors.Load(vectorPath); loadErr != nil {
		logger.Debug("no existing vector index to load, starting empty", slog.String("error", loadErr.Error()))
	}

	bm25Path := filepath.Join(cfg.Storage.DataDir, "bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25Path, store.DefaultBM25Config(), cfg.Storage.FTSBackend)
	if err != nil {
		vectors.Close()
		provider.Close()
		metadata.Close()
		return mcp.Deps{}, nil, fmt.Errorf("open BM25 index: %w", err)
	}

	scheduler := fsrs.NewScheduler(cfg.Scheduler)

	engine := &search.Engine{
		Metadata:  metadata,
		Vectors:   vectors,
		BM25:      bm25,
		Scheduler: scheduler,
		Config:    cfg.Retrieval,
		DBPath:    metadataPath,
	}

	working := &workingmem.Tracker{
		Metadata: metadata,
		Trigger:  engine,
		Config:   cfg.WorkingMemory,
	}

	gate := pegate.NewGate(cfg.PEGate, nil)

	idx := &indexer.Indexer{
		Metadata:    metadata,
		Vectors:     vectors,
		BM25:        bm25,
		Embedder:    provider,
		Gate:        gate,
		Scheduler:   scheduler,
		Invalidator: engine,
		Logger:      logger,
	}

	scanner := &indexer.Scanner{
		Indexer:    idx,
		Metadata:   metadata,
		MemoryRoot: cfg.Storage.MemoryRoot,
		Cooldown:   cfg.Storage.ScanCooldown,
	}

	checkpoints := &checkpoint.Manager{
		Metadata: metadata,
		Lock:     checkpoint.NewRestoreLock(cfg.Storage.DataDir),
	}

	deps := mcp.Deps{
		Metadata:    metadata,
		Vectors:     vectors,
		BM25:        bm25,
		Embedder:    provider,
		Engine:      engine,
		Working:     working,
		Learning:    &learning.Service{Metadata: metadata},
		Causal:      &causal.Graph{Metadata: metadata},
		Checkpoints: checkpoints,
		Indexer:     idx,
		Scanner:     scanner,
		Config:      cfg,
		RootPath:    rootPath,
		Logger:      logger,
	}

	closer := func() error {
		saveErr := vectors.Save(vectorPath)
		if closeErr := bm25.Close(); closeErr != nil && saveErr == nil {
			saveErr = closeErr
		}
		if closeErr := vectors.Close(); closeErr != nil && saveErr == nil {
			saveErr = closeErr
		}
		provider.Close()
		if closeErr := metadata.Close(); closeErr != nil && saveErr == nil {
			saveErr = closeErr
		}
		return saveErr
	}

	return deps, closer, nil
}
