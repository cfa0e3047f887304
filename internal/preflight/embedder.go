package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cogmemd/cogmemd/internal/embedding"
	"github.com/cogmemd/cogmemd/internal/store"
)

// CheckEmbedderReachable probes the configured embedding backend. Ollama is
// non-critical here: cogmemd falls back to the static provider, so a down
// daemon is a warning, not a failure.
func (c *Checker) CheckEmbedderReachable(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "embedder_reachable",
		Required: false,
	}

	provider := embedding.ParseProviderType(os.Getenv("COGMEMD_EMBEDDER"))
	if provider == embedding.ProviderTypeStatic {
		result.Status = StatusPass
		result.Message = "static provider configured (no network dependency)"
		return result
	}

	host := embedding.DefaultOllamaHost
	if h := os.Getenv("COGMEMD_OLLAMA_HOST"); h != "" {
		host = h
	}

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, host+"/api/tags", nil)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot build ollama health request: %v", err)
		return result
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("ollama not reachable at %s", host)
		result.Details = "start ollama (`ollama serve`) or set embeddings.provider: static for offline use"
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("ollama returned HTTP %d", resp.StatusCode)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("ollama reachable at %s", host)
	return result
}

// CheckEmbedderDimensionConsistency connects to the embedding provider named
// by COGMEMD_EMBEDDER and compares its profile slug against the one recorded
// in metadata on the last index build, catching a model swap that would
// otherwise silently corrupt similarity search until the next full reindex.
// metadata may be nil (no store opened yet, e.g. first run) in which case
// the check passes trivially.
func (c *Checker) CheckEmbedderDimensionConsistency(ctx context.Context, metadata store.MetadataStore) CheckResult {
	result := CheckResult{
		Name:     "embedder_dimension",
		Required: false,
	}

	if metadata == nil {
		result.Status = StatusPass
		result.Message = "no store opened yet; profile will be recorded on first index"
		return result
	}

	recorded, err := metadata.GetState(ctx, store.StateKeyProfileSlug)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("could not read recorded embedding profile: %v", err)
		return result
	}
	if recorded == "" {
		result.Status = StatusPass
		result.Message = "no prior index found; profile will be set on first scan"
		return result
	}

	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	provider, err := embedding.NewProvider(reqCtx, embedding.FactoryConfig{
		Provider: os.Getenv("COGMEMD_EMBEDDER"),
	})
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("could not verify embedding profile: %v", err)
		return result
	}
	defer provider.Close()

	slug := provider.Metadata().Slug()
	if slug != recorded {
		result.Status = StatusFail
		result.Required = true
		result.Message = fmt.Sprintf("embedder profile %s does not match the index's recorded profile %s", slug, recorded)
		result.Details = "run `cogmemd index scan --force` after switching embedding models"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("profile %s matches the existing index", slug)
	return result
}
