package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"

	"github.com/cogmemd/cogmemd/internal/causal"
	"github.com/cogmemd/cogmemd/internal/checkpoint"
	"github.com/cogmemd/cogmemd/internal/config"
	"github.com/cogmemd/cogmemd/internal/embedding"
	cogerrors "github.com/cogmemd/cogmemd/internal/errors"
	"github.com/cogmemd/cogmemd/internal/indexer"
	"github.com/cogmemd/cogmemd/internal/learning"
	"github.com/cogmemd/cogmemd/internal/memfile"
	search "github.com/cogmemd/cogmemd/internal/retrieval"
	"github.com/cogmemd/cogmemd/internal/store"
	"github.com/cogmemd/cogmemd/internal/workingmem"
	"github.com/cogmemd/cogmemd/pkg/version"
)

// Deps wires every engine component the dispatcher fronts. Unlike a
// two-or-three-dependency constructor, C12 sits in front of all eleven
// other components, so a single struct reads better than a long
// positional parameter list.
type Deps struct {
	Metadata    store.MetadataStore
	Vectors     store.VectorStore
	BM25        store.BM25Index // optional; nil disables lexical fallback
	Embedder    embedding.Provider
	Engine      *search.Engine
	Working     *workingmem.Tracker
	Learning    *learning.Service
	Causal      *causal.Graph
	Checkpoints *checkpoint.Manager
	Indexer     *indexer.Indexer
	Scanner     *indexer.Scanner
	Config      *config.Config
	RootPath    string
	Logger      *slog.Logger
}

// Server is the MCP tool dispatcher for cogmemd: a thin adapter turning
// tool calls into calls on the other eleven components, returning every
// result in the uniform response Envelope (spec.md §4.12).
type Server struct {
	mcp *mcp.Server

	metadata    store.MetadataStore
	vectors     store.VectorStore
	bm25        store.BM25Index
	embedder    embedding.Provider
	engine      *search.Engine
	working     *workingmem.Tracker
	learning    *learning.Service
	causal      *causal.Graph
	checkpoints *checkpoint.Manager
	indexer     *indexer.Indexer
	scanner     *indexer.Scanner
	config      *config.Config
	rootPath    string
	logger      *slog.Logger

	mu sync.RWMutex
}

// ToolInfo describes one registered tool, for operator-facing listings
// (e.g. `cogmemd doctor`).
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer builds the dispatcher over deps, registering every tool named
// in spec.md §4.12.
func NewServer(deps Deps) (*Server, error) {
	if deps.Metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("retrieval engine is required")
	}
	if deps.Config == nil {
		deps.Config = config.NewConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		metadata:    deps.Metadata,
		vectors:     deps.Vectors,
		bm25:        deps.BM25,
		embedder:    deps.Embedder,
		engine:      deps.Engine,
		working:     deps.Working,
		learning:    deps.Learning,
		causal:      deps.Causal,
		checkpoints: deps.Checkpoints,
		indexer:     deps.Indexer,
		scanner:     deps.Scanner,
		config:      deps.Config,
		rootPath:    deps.RootPath,
		logger:      logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: "cogmemd", Version: version.Version},
		nil,
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "cogmemd", version.Version
}

// ListTools returns every tool this dispatcher registers.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: "memory_search", Description: "Hybrid vector+lexical+trigger search over memories, composite-scored by tier weight and optional recency decay."},
		{Name: "memory_match_triggers", Description: "Fast exact/fuzzy trigger-phrase lookup, the same fast path working memory uses to seed activation."},
		{Name: "memory_save", Description: "Write a new memory file under an allowed memory root and index it."},
		{Name: "memory_update", Description: "Patch a memory's mutable fields."},
		{Name: "memory_delete", Description: "Delete a memory, cascading to its incident causal edges."},
		{Name: "memory_list", Description: "Paginated listing of memories, optionally scoped to a spec folder."},
		{Name: "memory_stats", Description: "Whole-store aggregate counts: totals by tier, pending/failed embeddings, causal link coverage."},
		{Name: "memory_health", Description: "Embedding provider readiness and store integrity (orphaned vectors/edges)."},
		{Name: "memory_validate", Description: "Dry-run parse of a memory file's front matter and anchors without writing anything."},
		{Name: "memory_index_scan", Description: "Rate-limited filesystem sweep over memory files."},
		{Name: "memory_context", Description: "Intent-aware routing over the other retrieval tools, with mode-specific result limits and anchor sets; results are not trimmed to a token budget."},
		{Name: "checkpoint_create", Description: "Snapshot memories, incident causal edges, and working memory, scoped to a folder or the whole store."},
		{Name: "checkpoint_list", Description: "List checkpoints, optionally scoped to a folder."},
		{Name: "checkpoint_restore", Description: "Restore a checkpoint's scoped subset, optionally clearing the existing subset first."},
		{Name: "checkpoint_delete", Description: "Delete a named checkpoint."},
		{Name: "task_preflight", Description: "Record pre-task knowledge/uncertainty/context self-assessment scores."},
		{Name: "task_postflight", Description: "Record post-task scores and compute the learning index and its interpretation."},
		{Name: "memory_get_learning_history", Description: "Retrieve session_learning records, optionally with an aggregate summary."},
		{Name: "memory_causal_link", Description: "Insert a typed causal edge between two memories."},
		{Name: "memory_causal_unlink", Description: "Delete a causal edge by id."},
		{Name: "memory_causal_stats", Description: "Total edges, per-relation counts, and link coverage percent."},
		{Name: "memory_drift_why", Description: "Bounded BFS causal chain rooted at a memory, bucketed by relation, for investigating why it changed."},
	}
}

// registerTools registers every tool with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_search", Description: "Hybrid vector+lexical+trigger search over memories."}, s.mcpMemorySearch)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_match_triggers", Description: "Fast exact/fuzzy trigger-phrase lookup."}, s.mcpMemoryMatchTriggers)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_save", Description: "Write and index a new memory file."}, s.mcpMemorySave)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_update", Description: "Patch a memory's mutable fields."}, s.mcpMemoryUpdate)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_delete", Description: "Delete a memory and its incident causal edges."}, s.mcpMemoryDelete)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_list", Description: "Paginated memory listing."}, s.mcpMemoryList)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_stats", Description: "Whole-store aggregate counts."}, s.mcpMemoryStats)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_health", Description: "Embedding provider readiness and integrity."}, s.mcpMemoryHealth)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_validate", Description: "Dry-run parse of a memory file."}, s.mcpMemoryValidate)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_index_scan", Description: "Rate-limited filesystem sweep."}, s.mcpMemoryIndexScan)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_context", Description: "Intent-aware routing over the retrieval tools."}, s.mcpMemoryContext)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "checkpoint_create", Description: "Snapshot the store or one folder."}, s.mcpCheckpointCreate)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "checkpoint_list", Description: "List checkpoints."}, s.mcpCheckpointList)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "checkpoint_restore", Description: "Restore a checkpoint."}, s.mcpCheckpointRestore)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "checkpoint_delete", Description: "Delete a checkpoint."}, s.mcpCheckpointDelete)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "task_preflight", Description: "Record pre-task self-assessment."}, s.mcpTaskPreflight)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "task_postflight", Description: "Record post-task scores and learning index."}, s.mcpTaskPostflight)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_get_learning_history", Description: "Retrieve session_learning records."}, s.mcpMemoryGetLearningHistory)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_causal_link", Description: "Insert a causal edge."}, s.mcpMemoryCausalLink)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_causal_unlink", Description: "Delete a causal edge."}, s.mcpMemoryCausalUnlink)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_causal_stats", Description: "Causal graph coverage statistics."}, s.mcpMemoryCausalStats)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "memory_drift_why", Description: "Bounded BFS causal chain."}, s.mcpMemoryDriftWhy)

	s.logger.Info("MCP tools registered", slog.Int("count", len(s.ListTools())))
}

// dispatch runs fn, timing it and wrapping whatever it returns (or
// whatever error it raises) into the uniform response envelope. fn
// returning a *cogerrors.CogError surfaces its full taxonomy/recovery
// shape; any other error is wrapped as INTERNAL.
func (s *Server) dispatch(tool string, fn func() (data any, summary string, hints []string, err error)) Envelope {
	start := time.Now()
	requestID := uuid.NewString()

	data, summary, hints, err := fn()
	if err != nil {
		s.logger.Warn("tool call failed", slog.String("tool", tool), slog.String("request_id", requestID), slog.String("error", err.Error()))
		return errorEnvelope(tool, requestID, start, err)
	}
	return okEnvelope(tool, requestID, start, summary, data, hints...)
}

// --- memory_search ---

func (s *Server) mcpMemorySearch(ctx context.Context, _ *mcp.CallToolRequest, input MemorySearchInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_search", func() (any, string, []string, error) { return s.memorySearch(ctx, input) }), nil
}

func (s *Server) memorySearch(ctx context.Context, input MemorySearchInput) (any, string, []string, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, "", nil, cogerrors.MissingParam("query")
	}

	opts := search.SearchOptions{
		Limit:                 input.Limit,
		SpecFolder:            input.SpecFolder,
		Tier:                  store.ImportanceTier(input.Tier),
		ContextType:           store.ContextType(input.ContextType),
		UseDecay:              input.UseDecay,
		IncludeConstitutional: input.IncludeConstitutional,
		IncludeDeprecated:     input.IncludeDeprecated,
		Anchors:               input.Anchors,
	}

	results, hints, err := s.hybridOrFallback(ctx, input.Query, opts)
	if err != nil {
		return nil, "", nil, err
	}

	out := toSearchResultOutputs(results)
	summary := fmt.Sprintf("%d result(s) for %q", len(out), input.Query)
	return MemorySearchOutput{Results: out, Count: len(out)}, summary, hints, nil
}

// hybridOrFallback embeds the query and runs HybridSearch; if the
// embedding provider is unavailable it falls back to FTSSearch alone,
// per the search-tools-degrade-to-non-vector-paths rule (spec.md §5).
func (s *Server) hybridOrFallback(ctx context.Context, query string, opts search.SearchOptions) ([]search.Result, []string, error) {
	if s.embedder == nil || !s.embedder.IsReady() {
		results, err := s.engine.FTSSearch(ctx, query, opts)
		if err != nil {
			return nil, nil, cogerrors.DatabaseError("fts search failed", err)
		}
		return results, []string{"embedding provider unavailable; results are lexical-only"}, nil
	}

	qVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		results, ftsErr := s.engine.FTSSearch(ctx, query, opts)
		if ftsErr != nil {
			return nil, nil, cogerrors.EmbeddingFailed("query embedding failed and lexical fallback also failed", err)
		}
		return results, []string{"query embedding failed; results are lexical-only"}, nil
	}

	results, err := s.engine.HybridSearch(ctx, qVec, query, opts)
	if err != nil {
		return nil, nil, cogerrors.DatabaseError("hybrid search failed", err)
	}
	return results, nil, nil
}

func toSearchResultOutputs(results []search.Result) []SearchResultOutput {
	out := make([]SearchResultOutput, 0, len(results))
	for _, r := range results {
		if r.Memory == nil {
			continue
		}
		out = append(out, SearchResultOutput{
			ID:          r.Memory.ID,
			Title:       r.Memory.Title,
			SpecFolder:  r.Memory.SpecFolder,
			Tier:        string(r.Memory.ImportanceTier),
			ContextType: string(r.Memory.ContextType),
			Score:       r.Score,
			BM25Score:   r.BM25Score,
			VecScore:    r.VecScore,
			MatchedOn:   r.MatchedOn,
			Content:     r.Memory.Content,
			Projection:  r.Projection,
			Triggers:    r.Memory.TriggerPhrases,
		})
	}
	return out
}

// --- memory_match_triggers ---

func (s *Server) mcpMemoryMatchTriggers(ctx context.Context, _ *mcp.CallToolRequest, input MemoryMatchTriggersInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_match_triggers", func() (any, string, []string, error) {
		return s.memoryMatchTriggers(ctx, input)
	}), nil
}

func (s *Server) memoryMatchTriggers(ctx context.Context, input MemoryMatchTriggersInput) (any, string, []string, error) {
	if strings.TrimSpace(input.Prompt) == "" {
		return nil, "", nil, cogerrors.MissingParam("prompt")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	results, err := s.engine.MatchTriggerPhrases(ctx, input.Prompt, limit)
	if err != nil {
		return nil, "", nil, cogerrors.DatabaseError("trigger match failed", err)
	}
	out := toSearchResultOutputs(results)
	return MemoryMatchTriggersOutput{Matches: out}, fmt.Sprintf("%d trigger match(es)", len(out)), nil, nil
}

// --- memory_save ---

// memorySaveFrontMatter mirrors memfile's unexported frontMatter shape so
// memory_save can marshal the same YAML block Parse expects.
type memorySaveFrontMatter struct {
	Title          string   `yaml:"title"`
	SpecFolder     string   `yaml:"spec_folder"`
	ContextType    string   `yaml:"context_type,omitempty"`
	ImportanceTier string   `yaml:"importance_tier,omitempty"`
	TriggerPhrases []string `yaml:"trigger_phrases,omitempty"`
}

func (s *Server) mcpMemorySave(ctx context.Context, _ *mcp.CallToolRequest, input MemorySaveInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_save", func() (any, string, []string, error) { return s.memorySave(ctx, input) }), nil
}

func (s *Server) memorySave(ctx context.Context, input MemorySaveInput) (any, string, []string, error) {
	if s.indexer == nil {
		return nil, "", nil, cogerrors.Unavailable("indexer is not configured", nil)
	}
	if input.SpecFolder == "" {
		return nil, "", nil, cogerrors.MissingParam("spec_folder")
	}
	if input.FileName == "" {
		return nil, "", nil, cogerrors.MissingParam("file_name")
	}
	if input.Title == "" {
		return nil, "", nil, cogerrors.MissingParam("title")
	}

	contextType := input.ContextType
	if contextType == "" {
		contextType = string(store.ContextGeneral)
	}
	tier := input.ImportanceTier
	if tier == "" {
		tier = string(store.TierNormal)
	}

	fm := memorySaveFrontMatter{
		Title:          input.Title,
		SpecFolder:     input.SpecFolder,
		ContextType:    contextType,
		ImportanceTier: tier,
		TriggerPhrases: input.TriggerPhrases,
	}
	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return nil, "", nil, cogerrors.InternalError("failed to render front matter", err)
	}
	content := "---\n" + string(fmBytes) + "---\n\n" + input.Content + "\n"

	var rel string
	if input.Constitutional {
		rel = filepath.Join(".opencode/skill", input.SpecFolder, "constitutional", input.FileName)
	} else {
		rel = filepath.Join("specs", input.SpecFolder, "memory", input.FileName)
	}
	rel = filepath.ToSlash(rel)
	if !memfile.AllowedPath(rel) {
		return nil, "", nil, cogerrors.InvalidParameter("resulting path is outside the allowed memory roots: "+rel, nil)
	}

	fullPath := filepath.Join(s.config.Storage.MemoryRoot, rel)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, "", nil, cogerrors.InternalError("failed to create memory directory", err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		return nil, "", nil, cogerrors.InternalError("failed to write memory file", err)
	}

	result, err := s.indexer.IndexMemoryFile(ctx, fullPath, indexer.IndexOptions{})
	if err != nil {
		return nil, "", nil, err
	}

	out := MemorySaveOutput{
		ID:       result.ID,
		Path:     rel,
		Status:   string(result.Status),
		PEAction: result.PEAction,
		PEReason: result.PEReason,
		Warnings: result.Warnings,
	}
	return out, fmt.Sprintf("saved memory %q (%s)", input.Title, result.Status), nil, nil
}

// --- memory_update ---

func (s *Server) mcpMemoryUpdate(ctx context.Context, _ *mcp.CallToolRequest, input MemoryUpdateInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_update", func() (any, string, []string, error) {
		return s.memoryUpdateBody(ctx, input)
	}), nil
}

func (s *Server) memoryUpdateBody(ctx context.Context, input MemoryUpdateInput) (any, string, []string, error) {
	if input.ID == 0 {
		return nil, "", nil, cogerrors.MissingParam("id")
	}
	patch := store.MemoryPatch{}
	if input.Title != "" {
		patch.Title = &input.Title
	}
	if input.Content != "" {
		patch.Content = &input.Content
		hash := memfile.ContentHash([]byte(input.Content))
		patch.ContentHash = &hash
	}
	if input.ContextType != "" {
		ct := store.ContextType(input.ContextType)
		if !ct.Valid() {
			return nil, "", nil, cogerrors.InvalidParameter("invalid context_type: "+input.ContextType, nil)
		}
		patch.ContextType = &ct
	}
	if input.ImportanceTier != "" {
		tier := store.ImportanceTier(input.ImportanceTier)
		if !tier.Valid() {
			return nil, "", nil, cogerrors.InvalidParameter("invalid importance_tier: "+input.ImportanceTier, nil)
		}
		patch.ImportanceTier = &tier
		w := tier.Weight()
		patch.ImportanceWeight = &w
	}
	if input.SetTriggers || len(input.TriggerPhrases) > 0 {
		patch.TriggerPhrases = input.TriggerPhrases
	}

	if err := s.metadata.UpdateMemory(ctx, input.ID, patch); err != nil {
		return nil, "", nil, cogerrors.DatabaseError("failed to update memory", err)
	}
	if s.engine != nil {
		s.engine.Invalidate()
	}
	return MemoryUpdateOutput{ID: input.ID, Updated: true, Title: input.Title}, fmt.Sprintf("updated memory %d", input.ID), nil, nil
}

// --- memory_delete ---

func (s *Server) mcpMemoryDelete(ctx context.Context, _ *mcp.CallToolRequest, input MemoryDeleteInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_delete", func() (any, string, []string, error) {
		return s.memoryDeleteBody(ctx, input)
	}), nil
}

func (s *Server) memoryDeleteBody(ctx context.Context, input MemoryDeleteInput) (any, string, []string, error) {
	if input.ID == 0 {
		return nil, "", nil, cogerrors.MissingParam("id")
	}
	ok, err := s.metadata.DeleteMemory(ctx, input.ID)
	if err != nil {
		return nil, "", nil, cogerrors.DatabaseError("failed to delete memory", err)
	}
	if ok {
		idStr := strconv.FormatInt(input.ID, 10)
		if s.vectors != nil {
			_ = s.vectors.Delete(ctx, []string{idStr})
		}
		if s.bm25 != nil {
			_ = s.bm25.Delete(ctx, []string{idStr})
		}
		if s.engine != nil {
			s.engine.Invalidate()
		}
	}
	return MemoryDeleteOutput{ID: input.ID, Deleted: ok}, fmt.Sprintf("memory %d deleted=%t", input.ID, ok), nil, nil
}

// --- memory_list ---

func (s *Server) mcpMemoryList(ctx context.Context, _ *mcp.CallToolRequest, input MemoryListInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_list", func() (any, string, []string, error) {
		return s.memoryListBody(ctx, input)
	}), nil
}

func (s *Server) memoryListBody(ctx context.Context, input MemoryListInput) (any, string, []string, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, next, err := s.metadata.ListMemories(ctx, input.SpecFolder, input.Cursor, limit)
	if err != nil {
		return nil, "", nil, cogerrors.DatabaseError("failed to list memories", err)
	}
	out := make([]SearchResultOutput, 0, len(rows))
	for _, m := range rows {
		out = append(out, SearchResultOutput{
			ID:          m.ID,
			Title:       m.Title,
			SpecFolder:  m.SpecFolder,
			Tier:        string(m.ImportanceTier),
			ContextType: string(m.ContextType),
			Triggers:    m.TriggerPhrases,
		})
	}
	return MemoryListOutput{Memories: out, NextCursor: next}, fmt.Sprintf("%d memor(ies) listed", len(out)), nil, nil
}

// --- memory_stats ---

func (s *Server) mcpMemoryStats(ctx context.Context, _ *mcp.CallToolRequest, _ MemoryStatsInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_stats", func() (any, string, []string, error) { return s.memoryStats(ctx) }), nil
}

func (s *Server) memoryStats(ctx context.Context) (any, string, []string, error) {
	total, err := s.metadata.CountMemories(ctx)
	if err != nil {
		return nil, "", nil, cogerrors.DatabaseError("failed to count memories", err)
	}

	byTier := make(map[string]int)
	pending, failed := 0, 0
	for _, tier := range []store.ImportanceTier{
		store.TierConstitutional, store.TierCritical, store.TierImportant,
		store.TierNormal, store.TierTemporary, store.TierDeprecated,
	} {
		rows, err := s.metadata.ListMemoriesByTier(ctx, tier)
		if err != nil {
			return nil, "", nil, cogerrors.DatabaseError("failed to list memories by tier", err)
		}
		byTier[string(tier)] = len(rows)
		for _, m := range rows {
			switch m.EmbeddingStatus {
			case store.EmbeddingPending:
				pending++
			case store.EmbeddingFailed:
				failed++
			}
		}
	}

	var coverage float64
	if s.causal != nil {
		stats, err := s.causal.GetGraphStats(ctx)
		if err != nil {
			return nil, "", nil, err
		}
		coverage = stats.LinkCoveragePercent
	}

	out := MemoryStatsOutput{
		TotalMemories:   total,
		ByTier:          byTier,
		PendingEmbeds:   pending,
		FailedEmbeds:    failed,
		LinkCoveragePct: coverage,
	}
	return out, fmt.Sprintf("%d memories total", total), nil, nil
}

// --- memory_health ---

func (s *Server) mcpMemoryHealth(ctx context.Context, _ *mcp.CallToolRequest, _ MemoryHealthInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_health", func() (any, string, []string, error) { return s.memoryHealth(ctx) }), nil
}

func (s *Server) memoryHealth(ctx context.Context) (any, string, []string, error) {
	out := MemoryHealthOutput{SchemaVersion: store.CurrentSchemaVersion}
	if s.embedder != nil {
		profile := s.embedder.Metadata()
		out.EmbeddingProvider = profile.Provider
		out.EmbeddingModel = profile.Model
		out.EmbeddingReady = s.embedder.IsReady()
	}

	report, err := s.metadata.VerifyIntegrity(ctx, false)
	if err != nil {
		return nil, "", nil, cogerrors.DatabaseError("integrity check failed", err)
	}
	out.OrphanedVectors = report.OrphanedVectors
	out.OrphanedEdges = report.OrphanedEdges

	var hints []string
	if len(report.OrphanedVectors) > 0 || len(report.OrphanedEdges) > 0 {
		hints = append(hints, "run memory_index_scan with force=true, or call memory_drift_why to locate affected edge ids")
	}
	status := "healthy"
	if !out.EmbeddingReady || len(hints) > 0 {
		status = "degraded"
	}
	return out, fmt.Sprintf("store is %s", status), hints, nil
}

// --- memory_validate ---

func (s *Server) mcpMemoryValidate(_ context.Context, _ *mcp.CallToolRequest, input MemoryValidateInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_validate", func() (any, string, []string, error) {
		return s.memoryValidateBody(input)
	}), nil
}

func (s *Server) memoryValidateBody(input MemoryValidateInput) (any, string, []string, error) {
	var raw []byte
	var path string
	switch {
	case input.Content != "":
		raw = []byte(input.Content)
		path = "memory_validate://inline"
	case input.Path != "":
		b, err := os.ReadFile(input.Path)
		if err != nil {
			return nil, "", nil, cogerrors.NotFound("could not read path: " + input.Path)
		}
		raw = b
		path = input.Path
	default:
		return nil, "", nil, cogerrors.InvalidParameter("one of path or content is required", nil)
	}

	result := memfile.Parse(path, raw)
	out := MemoryValidateOutput{
		Valid: result.Valid,
		Title: result.Parsed.Title,
	}
	for _, e := range result.Errors {
		out.Errors = append(out.Errors, e.Error())
	}
	for _, w := range result.Warnings {
		out.Warnings = append(out.Warnings, w.String())
	}
	summary := "valid"
	if !out.Valid {
		summary = fmt.Sprintf("invalid: %d error(s)", len(out.Errors))
	}
	return out, summary, nil, nil
}

// --- memory_index_scan ---

func (s *Server) mcpMemoryIndexScan(ctx context.Context, _ *mcp.CallToolRequest, input MemoryIndexScanInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_index_scan", func() (any, string, []string, error) {
		return s.memoryIndexScanBody(ctx, input)
	}), nil
}

func (s *Server) memoryIndexScanBody(ctx context.Context, input MemoryIndexScanInput) (any, string, []string, error) {
	if s.scanner == nil {
		return nil, "", nil, cogerrors.Unavailable("scanner is not configured", nil)
	}
	result, err := s.scanner.Scan(ctx, indexer.ScanOptions{
		SpecFolder:            input.SpecFolder,
		Force:                 input.Force,
		IncludeConstitutional: input.IncludeConstitutional,
		Incremental:           input.Incremental,
	})
	if err != nil {
		return nil, "", nil, err
	}
	if result.Skipped {
		waitErr := cogerrors.RateLimited(result.WaitSeconds)
		return nil, "", nil, waitErr
	}
	out := MemoryIndexScanOutput{
		Status: "complete", FilesScanned: result.FilesScanned, Created: result.Created,
		Updated: result.Updated, Reinforced: result.Reinforced, Superseded: result.Superseded,
		Unchanged: result.Unchanged, Failed: result.Failed, Errors: result.Errors, Warnings: result.Warnings,
	}
	return out, fmt.Sprintf("scanned %d file(s): %d created, %d updated", result.FilesScanned, result.Created, result.Updated), nil, nil
}

// --- memory_context ---

func (s *Server) mcpMemoryContext(ctx context.Context, _ *mcp.CallToolRequest, input MemoryContextInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_context", func() (any, string, []string, error) { return s.memoryContext(ctx, input) }), nil
}

func classifyIntent(prompt string) string {
	p := strings.ToLower(prompt)
	switch {
	case strings.Contains(p, "fix") || strings.Contains(p, "bug") || strings.Contains(p, "broken"):
		return "fix_bug"
	case strings.Contains(p, "refactor") || strings.Contains(p, "clean up") || strings.Contains(p, "restructure"):
		return "refactor"
	case strings.Contains(p, "security") || strings.Contains(p, "audit") || strings.Contains(p, "vulnerab"):
		return "security_audit"
	case strings.Contains(p, "add") || strings.Contains(p, "implement") || strings.Contains(p, "build"):
		return "add_feature"
	default:
		return "understand"
	}
}

// resumeAnchors is the fixed anchor set memory_context pins for resume
// mode (spec.md §4.12).
var resumeAnchors = []string{"state", "next-steps", "summary", "blockers"}

func (s *Server) memoryContext(ctx context.Context, input MemoryContextInput) (any, string, []string, error) {
	if strings.TrimSpace(input.Prompt) == "" {
		return nil, "", nil, cogerrors.MissingParam("prompt")
	}

	mode := input.Mode
	if mode == "" {
		mode = "auto"
	}
	intent := input.Intent
	if intent == "" {
		intent = classifyIntent(input.Prompt)
	}
	if mode == "auto" {
		mode = "quick"
		if intent == "security_audit" || intent == "refactor" {
			mode = "deep"
		}
	}

	opts := search.SearchOptions{SpecFolder: input.SpecFolder}
	var anchors []string
	var routedTo string
	var results []search.Result
	var err error

	switch mode {
	case "quick":
		routedTo = "memory_match_triggers"
		opts.Limit = 10
		results, err = s.engine.MatchTriggerPhrases(ctx, input.Prompt, opts.Limit)
	case "deep":
		routedTo = "memory_search"
		opts.Limit = 40
		opts.UseDecay = true
		opts.IncludeConstitutional = true
		results, _, err = s.hybridOrFallback(ctx, input.Prompt, opts)
	case "focused":
		routedTo = "memory_search"
		opts.Limit = 20
		results, _, err = s.hybridOrFallback(ctx, input.Prompt, opts)
	case "resume":
		routedTo = "memory_context(resume)"
		anchors = resumeAnchors
		opts.Limit = 20
		opts.Anchors = resumeAnchors
		opts.UseDecay = false
		if s.working != nil && input.SessionID != "" {
			if _, err := s.working.Turn(ctx, input.SessionID, 0, input.Prompt); err != nil {
				return nil, "", nil, cogerrors.DatabaseError("failed to advance working memory", err)
			}
		}
		results, _, err = s.hybridOrFallback(ctx, input.Prompt, opts)
	default:
		return nil, "", nil, cogerrors.InvalidParameter("invalid mode: "+mode, nil)
	}
	if err != nil {
		return nil, "", nil, err
	}

	out := MemoryContextOutput{Mode: mode, Intent: intent, RoutedTo: routedTo, Results: toSearchResultOutputs(results), Anchors: anchors}
	return out, fmt.Sprintf("mode=%s intent=%s routed to %s, %d result(s)", mode, intent, routedTo, len(out.Results)), nil, nil
}

// --- checkpoints ---

func (s *Server) mcpCheckpointCreate(ctx context.Context, _ *mcp.CallToolRequest, input CheckpointCreateInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("checkpoint_create", func() (any, string, []string, error) {
		return s.checkpointCreateBody(ctx, input)
	}), nil
}

func (s *Server) checkpointCreateBody(ctx context.Context, input CheckpointCreateInput) (any, string, []string, error) {
	if s.checkpoints == nil {
		return nil, "", nil, cogerrors.Unavailable("checkpoint manager is not configured", nil)
	}
	cp, err := s.checkpoints.Create(ctx, input.Name, input.SpecFolder, input.Metadata)
	if err != nil {
		return nil, "", nil, err
	}
	out := CheckpointCreateOutput{Name: cp.Name, SpecFolder: cp.SpecFolder, CreatedAt: cp.CreatedAt.Format(time.RFC3339)}
	return out, fmt.Sprintf("checkpoint %q created", cp.Name), nil, nil
}

func (s *Server) mcpCheckpointList(ctx context.Context, _ *mcp.CallToolRequest, input CheckpointListInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("checkpoint_list", func() (any, string, []string, error) {
		return s.checkpointListBody(ctx, input)
	}), nil
}

func (s *Server) checkpointListBody(ctx context.Context, input CheckpointListInput) (any, string, []string, error) {
	if s.checkpoints == nil {
		return nil, "", nil, cogerrors.Unavailable("checkpoint manager is not configured", nil)
	}
	cps, err := s.checkpoints.List(ctx, input.SpecFolder, input.Limit)
	if err != nil {
		return nil, "", nil, err
	}
	out := CheckpointListOutput{Checkpoints: make([]CheckpointInfo, 0, len(cps))}
	for _, cp := range cps {
		out.Checkpoints = append(out.Checkpoints, CheckpointInfo{
			Name: cp.Name, SpecFolder: cp.SpecFolder, Metadata: cp.Metadata, CreatedAt: cp.CreatedAt.Format(time.RFC3339),
		})
	}
	return out, fmt.Sprintf("%d checkpoint(s)", len(out.Checkpoints)), nil, nil
}

func (s *Server) mcpCheckpointRestore(ctx context.Context, _ *mcp.CallToolRequest, input CheckpointRestoreInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("checkpoint_restore", func() (any, string, []string, error) {
		return s.checkpointRestoreBody(ctx, input)
	}), nil
}

func (s *Server) checkpointRestoreBody(ctx context.Context, input CheckpointRestoreInput) (any, string, []string, error) {
	if s.checkpoints == nil {
		return nil, "", nil, cogerrors.Unavailable("checkpoint manager is not configured", nil)
	}
	result, err := s.checkpoints.Restore(ctx, input.Name, input.ClearExisting)
	if err != nil {
		return nil, "", nil, err
	}
	if s.engine != nil {
		s.engine.Invalidate()
	}
	out := CheckpointRestoreOutput{
		Name: result.Name, MemoriesRestored: result.MemoriesRestored, EdgesRestored: result.EdgesRestored,
		WorkingMemory: result.WorkingMemory, ClearedExisting: result.ClearedExisting,
	}
	return out, fmt.Sprintf("restored checkpoint %q: %d memories, %d edges", result.Name, result.MemoriesRestored, result.EdgesRestored), nil, nil
}

func (s *Server) mcpCheckpointDelete(ctx context.Context, _ *mcp.CallToolRequest, input CheckpointDeleteInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("checkpoint_delete", func() (any, string, []string, error) {
		return s.checkpointDeleteBody(ctx, input)
	}), nil
}

func (s *Server) checkpointDeleteBody(ctx context.Context, input CheckpointDeleteInput) (any, string, []string, error) {
	if s.checkpoints == nil {
		return nil, "", nil, cogerrors.Unavailable("checkpoint manager is not configured", nil)
	}
	ok, err := s.checkpoints.Delete(ctx, input.Name)
	if err != nil {
		return nil, "", nil, err
	}
	return CheckpointDeleteOutput{Name: input.Name, Deleted: ok}, fmt.Sprintf("checkpoint %q deleted=%t", input.Name, ok), nil, nil
}

// --- preflight / postflight ---

func (s *Server) mcpTaskPreflight(ctx context.Context, _ *mcp.CallToolRequest, input TaskPreflightInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("task_preflight", func() (any, string, []string, error) {
		return s.taskPreflightBody(ctx, input)
	}), nil
}

func (s *Server) taskPreflightBody(ctx context.Context, input TaskPreflightInput) (any, string, []string, error) {
	if s.learning == nil {
		return nil, "", nil, cogerrors.Unavailable("learning service is not configured", nil)
	}
	rec, err := s.learning.Preflight(ctx, input.SpecFolder, input.TaskID, input.SessionID, input.KnowledgeScore, input.UncertaintyScore, input.ContextScore, input.KnowledgeGaps)
	if err != nil {
		return nil, "", nil, err
	}
	out := TaskPreflightOutput{SpecFolder: rec.SpecFolder, TaskID: rec.TaskID, Phase: string(rec.Phase)}
	return out, fmt.Sprintf("preflight recorded for task %s", rec.TaskID), nil, nil
}

func (s *Server) mcpTaskPostflight(ctx context.Context, _ *mcp.CallToolRequest, input TaskPostflightInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("task_postflight", func() (any, string, []string, error) {
		return s.taskPostflightBody(ctx, input)
	}), nil
}

func (s *Server) taskPostflightBody(ctx context.Context, input TaskPostflightInput) (any, string, []string, error) {
	if s.learning == nil {
		return nil, "", nil, cogerrors.Unavailable("learning service is not configured", nil)
	}
	rec, err := s.learning.Postflight(ctx, input.SpecFolder, input.TaskID, input.KnowledgeScore, input.UncertaintyScore, input.ContextScore, input.GapsClosed, input.NewGapsDiscovered)
	if err != nil {
		return nil, "", nil, err
	}
	out := TaskPostflightOutput{
		SpecFolder: rec.SpecFolder, TaskID: rec.TaskID,
		DeltaKnowledge: rec.DeltaKnowledge, DeltaUncertainty: rec.DeltaUncertainty, DeltaContext: rec.DeltaContext,
		LearningIndex: rec.LearningIndex, Interpretation: string(learning.Interpret(rec.LearningIndex)),
	}
	return out, fmt.Sprintf("learning index %.2f (%s)", out.LearningIndex, out.Interpretation), nil, nil
}

func (s *Server) mcpMemoryGetLearningHistory(ctx context.Context, _ *mcp.CallToolRequest, input MemoryGetLearningHistoryInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_get_learning_history", func() (any, string, []string, error) {
		return s.memoryGetLearningHistoryBody(ctx, input)
	}), nil
}

func (s *Server) memoryGetLearningHistoryBody(ctx context.Context, input MemoryGetLearningHistoryInput) (any, string, []string, error) {
	if s.learning == nil {
		return nil, "", nil, cogerrors.Unavailable("learning service is not configured", nil)
	}
	rows, summary, err := s.learning.History(ctx, input.SpecFolder, input.SessionID, input.OnlyComplete, input.IncludeSummary)
	if err != nil {
		return nil, "", nil, err
	}
	out := MemoryGetLearningHistoryOutput{Records: make([]LearningRecord, 0, len(rows))}
	for _, r := range rows {
		out.Records = append(out.Records, LearningRecord{
			TaskID: r.TaskID, Phase: string(r.Phase), SessionID: r.SessionID, LearningIndex: r.LearningIndex,
			GapsClosed: r.GapsClosed, KnowledgeGaps: r.KnowledgeGaps, CreatedAt: r.CreatedAt.Format(time.RFC3339),
		})
	}
	if summary != nil {
		out.Summary = &LearningSummary{
			Count: summary.Count, MeanLearningIndex: summary.MeanLearningIndex,
			MinLearningIndex: summary.MinLearningIndex, MaxLearningIndex: summary.MaxLearningIndex,
			MeanDeltaKnowledge: summary.MeanDeltaKnowledge, MeanDeltaUncertainty: summary.MeanDeltaUncertainty,
			MeanDeltaContext: summary.MeanDeltaContext,
		}
	}
	return out, fmt.Sprintf("%d learning record(s)", len(out.Records)), nil, nil
}

// --- causal graph ---

func (s *Server) mcpMemoryCausalLink(ctx context.Context, _ *mcp.CallToolRequest, input MemoryCausalLinkInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_causal_link", func() (any, string, []string, error) {
		return s.memoryCausalLinkBody(ctx, input)
	}), nil
}

func (s *Server) memoryCausalLinkBody(ctx context.Context, input MemoryCausalLinkInput) (any, string, []string, error) {
	if s.causal == nil {
		return nil, "", nil, cogerrors.Unavailable("causal graph is not configured", nil)
	}
	relation := store.CausalRelation(input.Relation)
	if !relation.Valid() {
		return nil, "", nil, cogerrors.InvalidParameter("invalid relation: "+input.Relation, nil)
	}
	strength := input.Strength
	if strength == 0 {
		strength = 1.0
	}
	id, err := s.causal.InsertEdge(ctx, &store.CausalEdge{
		SourceID: input.SourceID, TargetID: input.TargetID, Relation: relation, Strength: strength, Evidence: input.Evidence,
	})
	if err != nil {
		return nil, "", nil, err
	}
	return MemoryCausalLinkOutput{ID: id}, fmt.Sprintf("linked %d -[%s]-> %d", input.SourceID, relation, input.TargetID), nil, nil
}

func (s *Server) mcpMemoryCausalUnlink(ctx context.Context, _ *mcp.CallToolRequest, input MemoryCausalUnlinkInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_causal_unlink", func() (any, string, []string, error) {
		return s.memoryCausalUnlinkBody(ctx, input)
	}), nil
}

func (s *Server) memoryCausalUnlinkBody(ctx context.Context, input MemoryCausalUnlinkInput) (any, string, []string, error) {
	if s.causal == nil {
		return nil, "", nil, cogerrors.Unavailable("causal graph is not configured", nil)
	}
	ok, err := s.causal.DeleteEdge(ctx, input.ID)
	if err != nil {
		return nil, "", nil, err
	}
	return MemoryCausalUnlinkOutput{ID: input.ID, Deleted: ok}, fmt.Sprintf("edge %d deleted=%t", input.ID, ok), nil, nil
}

func (s *Server) mcpMemoryCausalStats(ctx context.Context, _ *mcp.CallToolRequest, _ MemoryCausalStatsInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_causal_stats", func() (any, string, []string, error) {
		return s.memoryCausalStatsBody(ctx)
	}), nil
}

func (s *Server) memoryCausalStatsBody(ctx context.Context) (any, string, []string, error) {
	if s.causal == nil {
		return nil, "", nil, cogerrors.Unavailable("causal graph is not configured", nil)
	}
	stats, err := s.causal.GetGraphStats(ctx)
	if err != nil {
		return nil, "", nil, err
	}
	byRelation := make(map[string]int, len(stats.ByRelation))
	for rel, n := range stats.ByRelation {
		byRelation[string(rel)] = n
	}
	out := MemoryCausalStatsOutput{TotalEdges: stats.TotalEdges, LinkCoveragePercent: stats.LinkCoveragePercent, ByRelation: byRelation}
	return out, fmt.Sprintf("%d edges, %.2f%% link coverage", out.TotalEdges, out.LinkCoveragePercent), nil, nil
}

func (s *Server) mcpMemoryDriftWhy(ctx context.Context, _ *mcp.CallToolRequest, input MemoryDriftWhyInput) (*mcp.CallToolResult, Envelope, error) {
	return nil, s.dispatch("memory_drift_why", func() (any, string, []string, error) {
		return s.memoryDriftWhyBody(ctx, input)
	}), nil
}

func (s *Server) memoryDriftWhyBody(ctx context.Context, input MemoryDriftWhyInput) (any, string, []string, error) {
	if s.causal == nil {
		return nil, "", nil, cogerrors.Unavailable("causal graph is not configured", nil)
	}
	if input.MemoryID == 0 {
		return nil, "", nil, cogerrors.MissingParam("memory_id")
	}
	relations := make([]store.CausalRelation, 0, len(input.Relations))
	for _, r := range input.Relations {
		relations = append(relations, store.CausalRelation(r))
	}
	direction := causal.Direction(input.Direction)
	chain, err := s.causal.GetCausalChain(ctx, input.MemoryID, input.MaxDepth, direction, relations)
	if err != nil {
		return nil, "", nil, err
	}

	out := MemoryDriftWhyOutput{
		RootID: chain.RootID, MaxDepthReached: chain.MaxDepthReached,
		All: edgesOut(chain.All), ByCause: edgesOut(chain.ByCause), ByEnabled: edgesOut(chain.ByEnabled),
		BySupersedes: edgesOut(chain.BySupersedes), ByContradicts: edgesOut(chain.ByContradicts),
		ByDerivedFrom: edgesOut(chain.ByDerivedFrom), BySupports: edgesOut(chain.BySupports),
	}
	var hints []string
	if out.MaxDepthReached {
		hints = append(hints, "the traversal frontier was truncated at max_depth; raise max_depth to see further")
	}
	return out, fmt.Sprintf("%d edge(s) in the causal chain rooted at %d", len(out.All), input.MemoryID), hints, nil
}

func edgesOut(edges []*store.CausalEdge) []CausalEdgeOut {
	out := make([]CausalEdgeOut, 0, len(edges))
	for _, e := range edges {
		out = append(out, CausalEdgeOut{
			ID: e.ID, SourceID: e.SourceID, TargetID: e.TargetID, Relation: string(e.Relation), Strength: e.Strength, Evidence: e.Evidence,
		})
	}
	return out
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("starting MCP server", slog.String("transport", transport), slog.String("addr", addr))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	case "sse":
		return fmt.Errorf("SSE transport not yet implemented")
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	return nil
}
