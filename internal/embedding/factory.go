package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// ProviderType names a concrete embedding backend.
type ProviderType string

const (
	ProviderTypeOllama ProviderType = "ollama"
	ProviderTypeStatic ProviderType = "static"
)

// ParseProviderType converts a config string to a ProviderType, defaulting
// to ollama for anything unrecognized.
func ParseProviderType(s string) ProviderType {
	switch strings.ToLower(s) {
	case "static":
		return ProviderTypeStatic
	default:
		return ProviderTypeOllama
	}
}

// FactoryConfig carries the subset of internal/config.EmbeddingsConfig the
// factory needs, kept decoupled from the config package to avoid an import
// cycle (config does not depend on embedding).
type FactoryConfig struct {
	Provider                string
	Model                   string
	Dimensions              int
	BatchSize               int
	OllamaHost              string
	CacheSize               int
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration
}

// NewProvider builds a Provider from cfg, wrapping it in a CachedProvider
// unless COGMEMD_EMBED_CACHE disables caching. The COGMEMD_EMBEDDER
// environment variable overrides cfg.Provider for quick manual testing.
func NewProvider(ctx context.Context, cfg FactoryConfig) (Provider, error) {
	providerType := ParseProviderType(cfg.Provider)
	if env := os.Getenv("COGMEMD_EMBEDDER"); env != "" {
		providerType = ParseProviderType(env)
	}

	var provider Provider
	switch providerType {
	case ProviderTypeStatic:
		provider = NewStaticProvider()

	case ProviderTypeOllama:
		ollamaCfg := DefaultOllamaConfig()
		if cfg.Model != "" {
			ollamaCfg.Model = cfg.Model
		}
		if cfg.Dimensions > 0 {
			ollamaCfg.Dim = cfg.Dimensions
		}
		if cfg.BatchSize > 0 {
			ollamaCfg.BatchSize = cfg.BatchSize
		}
		if cfg.OllamaHost != "" {
			ollamaCfg.Host = cfg.OllamaHost
		}
		if cfg.CircuitBreakerThreshold > 0 {
			ollamaCfg.CircuitMaxFailures = cfg.CircuitBreakerThreshold
		}
		if cfg.CircuitBreakerCooldown > 0 {
			ollamaCfg.CircuitResetTimeout = cfg.CircuitBreakerCooldown
		}
		if host := os.Getenv("COGMEMD_OLLAMA_HOST"); host != "" {
			ollamaCfg.Host = host
		}
		if model := os.Getenv("COGMEMD_OLLAMA_MODEL"); model != "" {
			ollamaCfg.Model = model
		}

		p, err := NewOllamaProvider(ctx, ollamaCfg)
		if err != nil {
			return nil, fmt.Errorf("ollama embedding provider unavailable: %w"+
				"\n  start ollama: ollama serve"+
				"\n  or set embeddings.provider: static for offline use", err)
		}
		provider = p

	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	if isCacheDisabled() {
		return provider, nil
	}
	return NewCachedProvider(provider, cfg.CacheSize), nil
}

func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("COGMEMD_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}
