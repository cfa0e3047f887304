// Package config loads and layers cogmemd's configuration: hardcoded
// defaults, a user/global YAML file, a per-project YAML file, then
// environment variable overrides, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete cogmemd configuration.
type Config struct {
	Version       int                 `yaml:"version" json:"version"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Embeddings    EmbeddingsConfig    `yaml:"embeddings" json:"embeddings"`
	Retrieval     RetrievalConfig     `yaml:"retrieval" json:"retrieval"`
	WorkingMemory WorkingMemoryConfig `yaml:"working_memory" json:"working_memory"`
	Scheduler     SchedulerConfig     `yaml:"scheduler" json:"scheduler"`
	PEGate        PEGateConfig        `yaml:"prediction_error_gate" json:"prediction_error_gate"`
	Server        ServerConfig        `yaml:"server" json:"server"`
	Checkpoints   CheckpointsConfig   `yaml:"checkpoints" json:"checkpoints"`
	Performance   PerformanceConfig  `yaml:"performance" json:"performance"`
}

// StorageConfig configures the embedded relational/vector/lexical stores.
type StorageConfig struct {
	// DataDir is where the sqlite database, HNSW graph, and FTS shadow index live.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// MemoryRoot is the directory tree scanned for memory files (C3/C4).
	MemoryRoot string `yaml:"memory_root" json:"memory_root"`
	// FTSBackend selects the lexical index backend: "sqlite" (default) or "bleve" (legacy).
	FTSBackend string `yaml:"fts_backend" json:"fts_backend"`
	// SQLiteCacheMB is the SQLite page cache size in MB.
	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
	// ScanDebounce is how long the file watcher waits for a burst of edits to
	// settle before triggering an incremental scan.
	ScanDebounce string `yaml:"scan_debounce" json:"scan_debounce"`
	// ScanCooldown is the minimum interval between handle_memory_index_scan
	// runs; a call within the window returns a warning with wait_seconds
	// instead of re-scanning.
	ScanCooldown time.Duration `yaml:"scan_cooldown" json:"scan_cooldown"`
}

// EmbeddingsConfig configures the embedding provider (C1).
type EmbeddingsConfig struct {
	// Provider selects the embedding backend: "ollama" or "static" (deterministic
	// hash-based vectors, used in tests and offline CI).
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// Dimensions is 0 to auto-detect from the provider on first embed.
	Dimensions    int           `yaml:"dimensions" json:"dimensions"`
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// CacheSize bounds the in-process LRU cache of recently embedded queries.
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// CircuitBreakerThreshold is consecutive provider failures before the
	// breaker opens and embedding calls fail fast (C1 §4.1 degradation path).
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown  time.Duration `yaml:"circuit_breaker_cooldown" json:"circuit_breaker_cooldown"`
}

// RetrievalConfig configures hybrid retrieval fusion (C7).
type RetrievalConfig struct {
	// BM25Weight and SemanticWeight must sum to 1.0; they weight the two
	// ranked lists going into reciprocal rank fusion.
	BM25Weight     float64 `yaml:"bm25_weight" json:"bm25_weight"`
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	// RRFConstant is the RRF smoothing parameter k (default: 60, the
	// Azure AI Search / OpenSearch convention).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	MaxResults  int `yaml:"max_results" json:"max_results"`
	// TierWeightFloor is the minimum composite-score multiplier a deprecated
	// memory can still contribute, so `include_deprecated` stays meaningful.
	TierWeightFloor float64 `yaml:"tier_weight_floor" json:"tier_weight_floor"`
	// DecayTauDays is τ in decay(age_days) = exp(-age_days/τ), applied to
	// vector_search's composite score when use_decay is requested.
	DecayTauDays float64 `yaml:"decay_tau_days" json:"decay_tau_days"`
	// MinConceptSimilarity is multi_concept_search's per-concept floor.
	MinConceptSimilarity float64 `yaml:"min_concept_similarity" json:"min_concept_similarity"`
	// ConstitutionalBackfillLimit bounds how many constitutional rows are
	// fetched to prepend when none made the top-limit results.
	ConstitutionalBackfillLimit int `yaml:"constitutional_backfill_limit" json:"constitutional_backfill_limit"`
}

// WorkingMemoryConfig configures per-session attention and decay (C8).
type WorkingMemoryConfig struct {
	DecayRate          float64 `yaml:"decay_rate" json:"decay_rate"`
	SpreadFactor       float64 `yaml:"spread_factor" json:"spread_factor"`
	InhibitionStrength float64 `yaml:"inhibition_strength" json:"inhibition_strength"`
	AttentionFloor     float64 `yaml:"attention_floor" json:"attention_floor"`
	MaxActiveMemories  int     `yaml:"max_active_memories" json:"max_active_memories"`
	SeedBoost          float64 `yaml:"seed_boost" json:"seed_boost"`
}

// SchedulerConfig configures the FSRS-style spaced-repetition scheduler (C6).
type SchedulerConfig struct {
	InitialStability  float64 `yaml:"initial_stability" json:"initial_stability"`
	InitialDifficulty float64 `yaml:"initial_difficulty" json:"initial_difficulty"`
	// RetrievabilityFloor marks a memory stale (due for review) once
	// R(delta) drops below this threshold.
	RetrievabilityFloor float64 `yaml:"retrievability_floor" json:"retrievability_floor"`
}

// PEGateConfig configures the prediction-error gate's similarity bands (C5).
type PEGateConfig struct {
	ReinforceThreshold float64 `yaml:"reinforce_threshold" json:"reinforce_threshold"`
	UpdateThreshold    float64 `yaml:"update_threshold" json:"update_threshold"`
	LinkedThreshold    float64 `yaml:"linked_threshold" json:"linked_threshold"`
	// ContradictionMargin is how far below UpdateThreshold a match must fall
	// combined with a detected polarity flip before SUPERSEDE is considered.
	ContradictionMargin float64 `yaml:"contradiction_margin" json:"contradiction_margin"`
}

// ServerConfig configures the MCP server transport and logging.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	Port      int    `yaml:"port" json:"port"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	// RateLimitPerMinute bounds tool calls per session (0 disables limiting).
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
}

// CheckpointsConfig configures checkpoint retention (C11).
type CheckpointsConfig struct {
	AutoCheckpoint bool `yaml:"auto_checkpoint" json:"auto_checkpoint"`
	MaxCheckpoints int  `yaml:"max_checkpoints" json:"max_checkpoints"`
}

// PerformanceConfig configures resource tuning.
type PerformanceConfig struct {
	IndexWorkers int `yaml:"index_workers" json:"index_workers"`
	CacheSize    int `yaml:"cache_size" json:"cache_size"`
}

// defaultExcludePatterns are always excluded from the memory-file scan.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/dist/**",
	"**/build/**",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			DataDir:       defaultDataDir(),
			MemoryRoot:    ".",
			FTSBackend:    "sqlite",
			SQLiteCacheMB: 64,
			ScanDebounce:  "500ms",
			ScanCooldown:  30 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Provider:                "ollama",
			Model:                   "nomic-embed-text",
			Dimensions:              0,
			BatchSize:               32,
			RequestTimeout:          30 * time.Second,
			OllamaHost:              "",
			CacheSize:               512,
			CircuitBreakerThreshold: 5,
			CircuitBreakerCooldown:  30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			BM25Weight:                  0.4,
			SemanticWeight:              0.6,
			RRFConstant:                 60,
			MaxResults:                  20,
			TierWeightFloor:             0.1,
			DecayTauDays:                30,
			MinConceptSimilarity:        0.5,
			ConstitutionalBackfillLimit: 5,
		},
		WorkingMemory: WorkingMemoryConfig{
			DecayRate:          0.5,
			SpreadFactor:       0.8,
			InhibitionStrength: 0.15,
			AttentionFloor:     0.05,
			MaxActiveMemories:  40,
			SeedBoost:          0.5,
		},
		Scheduler: SchedulerConfig{
			InitialStability:    1.0,
			InitialDifficulty:   5.0,
			RetrievabilityFloor: 0.7,
		},
		PEGate: PEGateConfig{
			ReinforceThreshold:  0.92,
			UpdateThreshold:     0.80,
			LinkedThreshold:     0.60,
			ContradictionMargin: 0.10,
		},
		Server: ServerConfig{
			Transport:          "stdio",
			Port:               8765,
			LogLevel:           "info",
			RateLimitPerMinute: 120,
		},
		Checkpoints: CheckpointsConfig{
			AutoCheckpoint: true,
			MaxCheckpoints: 20,
		},
		Performance: PerformanceConfig{
			IndexWorkers: runtime.NumCPU(),
			CacheSize:    1000,
		},
	}
}

// defaultDataDir returns the default cogmemd data directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".cogmemd")
	}
	return filepath.Join(home, ".cogmemd")
}

// GetUserConfigPath returns the path to the user/global configuration file,
// following the XDG Base Directory specification.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cogmemd", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "cogmemd", "config.yaml")
	}
	return filepath.Join(home, ".config", "cogmemd", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration from the specified spec folder directory, applying
// layers in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/cogmemd/config.yaml)
//  3. Project config (.cogmemd.yaml in dir)
//  4. Environment variables (COGMEMD_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".cogmemd.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, ".cogmemd.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Storage.DataDir != "" {
		c.Storage.DataDir = other.Storage.DataDir
	}
	if other.Storage.MemoryRoot != "" {
		c.Storage.MemoryRoot = other.Storage.MemoryRoot
	}
	if other.Storage.FTSBackend != "" {
		c.Storage.FTSBackend = other.Storage.FTSBackend
	}
	if other.Storage.SQLiteCacheMB != 0 {
		c.Storage.SQLiteCacheMB = other.Storage.SQLiteCacheMB
	}
	if other.Storage.ScanDebounce != "" {
		c.Storage.ScanDebounce = other.Storage.ScanDebounce
	}
	if other.Storage.ScanCooldown != 0 {
		c.Storage.ScanCooldown = other.Storage.ScanCooldown
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.RequestTimeout != 0 {
		c.Embeddings.RequestTimeout = other.Embeddings.RequestTimeout
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.CircuitBreakerThreshold != 0 {
		c.Embeddings.CircuitBreakerThreshold = other.Embeddings.CircuitBreakerThreshold
	}
	if other.Embeddings.CircuitBreakerCooldown != 0 {
		c.Embeddings.CircuitBreakerCooldown = other.Embeddings.CircuitBreakerCooldown
	}

	if other.Retrieval.BM25Weight != 0 {
		c.Retrieval.BM25Weight = other.Retrieval.BM25Weight
	}
	if other.Retrieval.SemanticWeight != 0 {
		c.Retrieval.SemanticWeight = other.Retrieval.SemanticWeight
	}
	if other.Retrieval.RRFConstant != 0 {
		c.Retrieval.RRFConstant = other.Retrieval.RRFConstant
	}
	if other.Retrieval.MaxResults != 0 {
		c.Retrieval.MaxResults = other.Retrieval.MaxResults
	}
	if other.Retrieval.TierWeightFloor != 0 {
		c.Retrieval.TierWeightFloor = other.Retrieval.TierWeightFloor
	}
	if other.Retrieval.DecayTauDays != 0 {
		c.Retrieval.DecayTauDays = other.Retrieval.DecayTauDays
	}
	if other.Retrieval.MinConceptSimilarity != 0 {
		c.Retrieval.MinConceptSimilarity = other.Retrieval.MinConceptSimilarity
	}
	if other.Retrieval.ConstitutionalBackfillLimit != 0 {
		c.Retrieval.ConstitutionalBackfillLimit = other.Retrieval.ConstitutionalBackfillLimit
	}

	if other.WorkingMemory.DecayRate != 0 {
		c.WorkingMemory.DecayRate = other.WorkingMemory.DecayRate
	}
	if other.WorkingMemory.SpreadFactor != 0 {
		c.WorkingMemory.SpreadFactor = other.WorkingMemory.SpreadFactor
	}
	if other.WorkingMemory.InhibitionStrength != 0 {
		c.WorkingMemory.InhibitionStrength = other.WorkingMemory.InhibitionStrength
	}
	if other.WorkingMemory.AttentionFloor != 0 {
		c.WorkingMemory.AttentionFloor = other.WorkingMemory.AttentionFloor
	}
	if other.WorkingMemory.MaxActiveMemories != 0 {
		c.WorkingMemory.MaxActiveMemories = other.WorkingMemory.MaxActiveMemories
	}
	if other.WorkingMemory.SeedBoost != 0 {
		c.WorkingMemory.SeedBoost = other.WorkingMemory.SeedBoost
	}

	if other.Scheduler.InitialStability != 0 {
		c.Scheduler.InitialStability = other.Scheduler.InitialStability
	}
	if other.Scheduler.InitialDifficulty != 0 {
		c.Scheduler.InitialDifficulty = other.Scheduler.InitialDifficulty
	}
	if other.Scheduler.RetrievabilityFloor != 0 {
		c.Scheduler.RetrievabilityFloor = other.Scheduler.RetrievabilityFloor
	}

	if other.PEGate.ReinforceThreshold != 0 {
		c.PEGate.ReinforceThreshold = other.PEGate.ReinforceThreshold
	}
	if other.PEGate.UpdateThreshold != 0 {
		c.PEGate.UpdateThreshold = other.PEGate.UpdateThreshold
	}
	if other.PEGate.LinkedThreshold != 0 {
		c.PEGate.LinkedThreshold = other.PEGate.LinkedThreshold
	}
	if other.PEGate.ContradictionMargin != 0 {
		c.PEGate.ContradictionMargin = other.PEGate.ContradictionMargin
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.RateLimitPerMinute != 0 {
		c.Server.RateLimitPerMinute = other.Server.RateLimitPerMinute
	}

	if other.Checkpoints.MaxCheckpoints != 0 {
		c.Checkpoints.MaxCheckpoints = other.Checkpoints.MaxCheckpoints
	}

	if other.Performance.IndexWorkers != 0 {
		c.Performance.IndexWorkers = other.Performance.IndexWorkers
	}
	if other.Performance.CacheSize != 0 {
		c.Performance.CacheSize = other.Performance.CacheSize
	}
}

// applyEnvOverrides applies COGMEMD_* environment variable overrides, the
// highest-precedence configuration layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("COGMEMD_BM25_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.BM25Weight = w
		}
	}
	if v := os.Getenv("COGMEMD_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.SemanticWeight = w
		}
	}
	if v := os.Getenv("COGMEMD_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.RRFConstant = k
		}
	}
	if v := os.Getenv("COGMEMD_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("COGMEMD_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("COGMEMD_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("COGMEMD_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("COGMEMD_MEMORY_ROOT"); v != "" {
		c.Storage.MemoryRoot = v
	}
	if v := os.Getenv("COGMEMD_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("COGMEMD_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if sum := c.Retrieval.BM25Weight + c.Retrieval.SemanticWeight; sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("retrieval.bm25_weight + retrieval.semantic_weight must sum to 1.0, got %.3f", sum)
	}
	if c.Retrieval.DecayTauDays <= 0 {
		return fmt.Errorf("retrieval.decay_tau_days must be positive, got %.2f", c.Retrieval.DecayTauDays)
	}
	if c.Retrieval.MinConceptSimilarity < 0 || c.Retrieval.MinConceptSimilarity > 1 {
		return fmt.Errorf("retrieval.min_concept_similarity must be in [0,1], got %.2f", c.Retrieval.MinConceptSimilarity)
	}
	if c.Retrieval.RRFConstant <= 0 {
		return fmt.Errorf("retrieval.rrf_constant must be positive, got %d", c.Retrieval.RRFConstant)
	}
	switch c.Storage.FTSBackend {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("storage.fts_backend must be \"sqlite\" or \"bleve\", got %q", c.Storage.FTSBackend)
	}
	switch c.Embeddings.Provider {
	case "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be \"ollama\" or \"static\", got %q", c.Embeddings.Provider)
	}
	if c.PEGate.ReinforceThreshold <= c.PEGate.UpdateThreshold || c.PEGate.UpdateThreshold <= c.PEGate.LinkedThreshold {
		return fmt.Errorf("prediction_error_gate thresholds must satisfy reinforce > update > linked")
	}
	if c.Storage.ScanCooldown < 0 {
		return fmt.Errorf("storage.scan_cooldown must not be negative, got %s", c.Storage.ScanCooldown)
	}
	return nil
}

// parseFloat64 parses a string to float64.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
