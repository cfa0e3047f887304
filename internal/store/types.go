// Package store provides vector storage (HNSW), a lexical (FTS) index, and
// metadata persistence (SQLite). This is the persistence layer for the
// memory engine: every memory row, its derived causal/working-memory state,
// session learning records, and checkpoints flow through here.
package store

import (
	"context"
	"fmt"
	"time"
)

// ContextType classifies the nature of a memory's content.
type ContextType string

const (
	ContextResearch       ContextType = "research"
	ContextImplementation ContextType = "implementation"
	ContextDecision       ContextType = "decision"
	ContextDiscovery      ContextType = "discovery"
	ContextGeneral        ContextType = "general"
)

// Valid reports whether c is one of the fixed enum values.
func (c ContextType) Valid() bool {
	switch c {
	case ContextResearch, ContextImplementation, ContextDecision, ContextDiscovery, ContextGeneral:
		return true
	}
	return false
}

// ImportanceTier ranks a memory's retrieval priority and lifecycle.
type ImportanceTier string

const (
	TierConstitutional ImportanceTier = "constitutional"
	TierCritical       ImportanceTier = "critical"
	TierImportant      ImportanceTier = "important"
	TierNormal         ImportanceTier = "normal"
	TierTemporary      ImportanceTier = "temporary"
	TierDeprecated     ImportanceTier = "deprecated"
)

// Valid reports whether t is one of the fixed enum values.
func (t ImportanceTier) Valid() bool {
	switch t {
	case TierConstitutional, TierCritical, TierImportant, TierNormal, TierTemporary, TierDeprecated:
		return true
	}
	return false
}

// Weight returns the tier's retrieval weight multiplier used by the
// composite scoring formula in the retrieval engine.
func (t ImportanceTier) Weight() float64 {
	switch t {
	case TierConstitutional:
		return 1.0
	case TierCritical:
		return 0.9
	case TierImportant:
		return 0.7
	case TierNormal:
		return 0.5
	case TierTemporary:
		return 0.3
	case TierDeprecated:
		return 0.1
	default:
		return 0.5
	}
}

// EmbeddingStatus tracks whether a memory's vector is usable for retrieval.
type EmbeddingStatus string

const (
	EmbeddingSuccess EmbeddingStatus = "success"
	EmbeddingPending EmbeddingStatus = "pending"
	EmbeddingFailed  EmbeddingStatus = "failed"
)

// State keys for the config key/value table.
const (
	StateKeyProfileSlug   = "profile_slug"
	StateKeyEmbeddingDim  = "embedding_dim"
	StateKeySchemaVersion = "schema_version"
	StateKeyLastScanMs    = "last_scan_time_ms"
	StateKeyConfirmedDim  = "last_confirmed_embedding_dim"
)

// Memory is a single stored cognitive-memory row (memory_index table).
type Memory struct {
	ID               int64
	SpecFolder       string
	FilePath         string
	Title            string
	ContentHash      string
	Content          string
	TriggerPhrases   []string
	ContextType      ContextType
	ImportanceTier   ImportanceTier
	ImportanceWeight float64
	Embedding        []float32
	EmbeddingStatus  EmbeddingStatus
	FileMtimeNs      int64
	Stability        float64
	Difficulty       float64
	LastReview       time.Time
	ReviewCount      int
	AccessCount      int
	LastAccessed     time.Time
	Confidence       float64
	ValidationCount  int
	RelatedMemories  []int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MemoryPatch carries a partial update to update_memory. Nil fields are left
// untouched; Embedding is only applied when EmbeddingSet is true so a caller
// can distinguish "no embedding change" from "clear the embedding".
type MemoryPatch struct {
	Title            *string
	Content          *string
	ContentHash      *string
	TriggerPhrases   []string
	ContextType      *ContextType
	ImportanceTier   *ImportanceTier
	ImportanceWeight *float64
	Embedding        []float32
	EmbeddingSet     bool
	EmbeddingStatus  *EmbeddingStatus
	FileMtimeNs      *int64
	Stability        *float64
	Difficulty       *float64
	LastReview       *time.Time
	ReviewCount      *int
	AccessCount      *int
	LastAccessed     *time.Time
	Confidence       *float64
	ValidationCount  *int
	RelatedMemories  []int64
}

// VectorSearchOptions configures filtered vector search against the store.
type VectorSearchOptions struct {
	Limit                 int
	SpecFolder             string
	Tier                   ImportanceTier
	ContextType            ContextType
	UseDecay               bool
	IncludeContiguity      bool
	IncludeConstitutional  bool
	ExcludeDeprecated      bool
}

// ErrDimensionMismatch indicates a vector's length does not match the
// embedding profile's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d (run 'cogmemd index scan --force')", e.Expected, e.Got)
}

// CausalRelation enumerates the fixed edge types of the causal graph.
type CausalRelation string

const (
	RelationCausedBy    CausalRelation = "caused_by"
	RelationEnabledBy   CausalRelation = "enabled_by"
	RelationSupersedes  CausalRelation = "supersedes"
	RelationContradicts CausalRelation = "contradicts"
	RelationDerivedFrom CausalRelation = "derived_from"
	RelationSupports    CausalRelation = "supports"
)

// Valid reports whether r is one of the fixed relation types.
func (r CausalRelation) Valid() bool {
	switch r {
	case RelationCausedBy, RelationEnabledBy, RelationSupersedes, RelationContradicts, RelationDerivedFrom, RelationSupports:
		return true
	}
	return false
}

// CausalEdge is a typed, directed association between two memories.
type CausalEdge struct {
	ID        int64
	SourceID  int64
	TargetID  int64
	Relation  CausalRelation
	Strength  float64
	Evidence  string
	CreatedAt time.Time
}

// WorkingMemoryEntry is per-session attention state for one memory.
type WorkingMemoryEntry struct {
	SessionID         string
	MemoryID          int64
	AttentionScore    float64
	LastTurnActivated int
	LastDecayTurn     int
}

// LearningPhase tracks a session_learning row's lifecycle stage.
type LearningPhase string

const (
	PhasePreflight LearningPhase = "preflight"
	PhaseComplete  LearningPhase = "complete"
)

// SessionLearning is one preflight/postflight epistemic record.
type SessionLearning struct {
	ID                int64
	SpecFolder        string
	TaskID            string
	Phase             LearningPhase
	SessionID         string
	PreKnowledge      int
	PreUncertainty    int
	PreContext        int
	KnowledgeGaps     []string
	PostKnowledge     int
	PostUncertainty   int
	PostContext       int
	DeltaKnowledge    float64
	DeltaUncertainty  float64
	DeltaContext      float64
	LearningIndex     float64
	GapsClosed        []string
	NewGapsDiscovered []string
	CreatedAt         time.Time
	CompletedAt       time.Time
}

// Checkpoint is a named logical snapshot of the store.
type Checkpoint struct {
	Name       string
	CreatedAt  time.Time
	SpecFolder string
	Metadata   string // opaque JSON summary
	Payload    []byte // opaque serialized snapshot
}

// ConflictLogEntry is one append-only audit row for a prediction-error-gate
// decision, kept for operator review via `cogmemd doctor`.
type ConflictLogEntry struct {
	ID                    int64
	NewMemoryHash         string
	ExistingMemoryID      *int64
	SimilarityScore       float64
	Action                string
	ContradictionDetected bool
	Notes                 string
	SpecFolder            string
	CreatedAt             time.Time
}

// IntegrityReport summarizes a VerifyIntegrity pass.
type IntegrityReport struct {
	OrphanedVectors []string // memory ids with a vector but no parent row
	OrphanedEdges   []int64  // edges referencing a missing endpoint
	Cleaned         bool
}

// CurrentSchemaVersion is the schema version this build expects.
const CurrentSchemaVersion = 1

// MetadataStore persists all relational state for the memory engine.
type MetadataStore interface {
	// Memory lifecycle.
	IndexMemory(ctx context.Context, m *Memory) (int64, error)
	UpdateMemory(ctx context.Context, id int64, patch MemoryPatch) error
	DeleteMemory(ctx context.Context, id int64) (bool, error)
	GetMemory(ctx context.Context, id int64) (*Memory, error)
	GetMemoryByPath(ctx context.Context, filePath string) (*Memory, error)
	GetMemoriesByFolder(ctx context.Context, folder string) ([]*Memory, error)
	ListMemoriesByTier(ctx context.Context, tier ImportanceTier) ([]*Memory, error)
	ListMemories(ctx context.Context, folder string, cursor string, limit int) ([]*Memory, string, error)
	CountMemories(ctx context.Context) (int, error)
	UpdateEmbeddingStatus(ctx context.Context, id int64, status EmbeddingStatus) error
	RecordAccess(ctx context.Context, id int64, at time.Time) error

	// Trigger phrases, for the exact/fuzzy phrase fast-path in retrieval.
	TriggerMap(ctx context.Context) (map[string][]int64, error)

	// Causal graph.
	InsertEdge(ctx context.Context, e *CausalEdge) (int64, error)
	DeleteEdge(ctx context.Context, id int64) (bool, error)
	GetEdgesBySource(ctx context.Context, id int64) ([]*CausalEdge, error)
	GetEdgesByTarget(ctx context.Context, id int64) ([]*CausalEdge, error)
	AllEdges(ctx context.Context) ([]*CausalEdge, error)

	// Working memory.
	GetWorkingMemory(ctx context.Context, sessionID string) ([]*WorkingMemoryEntry, error)
	AllWorkingMemory(ctx context.Context) ([]*WorkingMemoryEntry, error)
	UpsertWorkingMemory(ctx context.Context, entries []*WorkingMemoryEntry) error
	PruneWorkingMemory(ctx context.Context, sessionID string, keepMemoryIDs []int64) error

	// Session learning.
	InsertPreflight(ctx context.Context, r *SessionLearning) (int64, error)
	GetSessionLearning(ctx context.Context, specFolder, taskID string) (*SessionLearning, error)
	CompletePostflight(ctx context.Context, specFolder, taskID string, patch *SessionLearning) (*SessionLearning, error)
	GetLearningHistory(ctx context.Context, specFolder, sessionID string, onlyComplete bool) ([]*SessionLearning, error)

	// Checkpoints.
	SaveCheckpoint(ctx context.Context, c *Checkpoint) error
	GetCheckpoint(ctx context.Context, name string) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, specFolder string, limit int) ([]*Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, name string) (bool, error)

	// Conflict audit log.
	AppendConflictLog(ctx context.Context, e *ConflictLogEntry) error
	RecentConflictLog(ctx context.Context, specFolder string, limit int) ([]*ConflictLogEntry, error)

	// Config key/value store.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Maintenance.
	VerifyIntegrity(ctx context.Context, autoClean bool) (*IntegrityReport, error)
	ClearPreparedStatements()
	Close() error
}

// Document represents a document to be indexed in the lexical (FTS) index.
type Document struct {
	ID      string // memory id, as a string
	Content string // title + body text
}

// BM25Result is a single lexical search hit.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats summarizes a BM25Index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index provides keyword search over memory content using BM25 scoring.
// It is an auxiliary index: VerifyIntegrity treats it as rebuildable, never
// as a source of truth.
type BM25Index interface {
	// Index adds documents to the index.
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents matching query, scored by BM25.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Delete removes documents from the index.
	Delete(ctx context.Context, docIDs []string) error

	// AllIDs returns all document IDs in the index, for consistency checks.
	AllIDs() ([]string, error)

	// Stats returns index statistics.
	Stats() *IndexStats

	// Persistence.
	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2).
	K1 float64

	// B is the length normalization parameter (default: 0.75).
	B float64

	// StopWords is a list of words to filter out during tokenization.
	StopWords []string

	// MinTokenLength is the minimum token length to index (default: 2).
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords filters common English function words from trigger
// phrases, titles, and memory body text before BM25 indexing.
var DefaultStopWords = []string{
	"the", "a", "an", "and", "or", "but", "is", "are", "was", "were",
	"this", "that", "these", "those", "it", "its", "to", "of", "in", "on",
	"for", "with", "as", "at", "by", "from", "be", "been", "being",
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // memory ID
	Distance float32 // lower is more similar (0-2 for cosine)
	Score    float32 // normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension, set by the active embedding profile.
	Dimensions int

	// Quantization is the vector precision: "f32", "f16", "i8" (default: "f16").
	Quantization string

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos").
	Metric string

	// M is HNSW max connections per layer (default: 32).
	M int

	// EfConstruction is HNSW build-time search width (default: 128).
	EfConstruction int

	// EfSearch is HNSW query-time search width (default: 64).
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Quantization:   "f16",
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore provides semantic search using the HNSW algorithm.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all vector IDs in the store, for consistency checks.
	AllIDs() []string

	// Contains checks if ID exists.
	Contains(id string) bool

	// Count returns number of vectors.
	Count() int

	// Persistence.
	Save(path string) error
	Load(path string) error
	Close() error
}
