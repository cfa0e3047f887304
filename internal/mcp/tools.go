package mcp

// This file defines the typed Input/Output schemas for every tool spec.md
// §4.12 names. Each struct's json tags double as the SDK's jsonschema
// property names; Description comments on exported fields show up in the
// generated tool schema the SDK hands to a client.

// MemorySearchInput drives memory_search: the unified hybrid search over
// vector similarity, lexical BM25, and exact/fuzzy trigger phrases.
type MemorySearchInput struct {
	Query                 string   `json:"query" jsonschema:"the natural-language query to search for"`
	Limit                 int      `json:"limit,omitempty" jsonschema:"maximum results, default 20"`
	SpecFolder            string   `json:"spec_folder,omitempty" jsonschema:"restrict to one spec folder"`
	Tier                  string   `json:"tier,omitempty" jsonschema:"restrict to one importance tier"`
	ContextType           string   `json:"context_type,omitempty" jsonschema:"restrict to one context type"`
	UseDecay              bool     `json:"use_decay,omitempty" jsonschema:"apply recency decay to the composite score"`
	IncludeConstitutional bool     `json:"include_constitutional,omitempty" jsonschema:"pin constitutional memories into the result set"`
	IncludeDeprecated     bool     `json:"include_deprecated,omitempty" jsonschema:"include deprecated-tier memories"`
	Anchors               []string `json:"anchors,omitempty" jsonschema:"if set, project results to the named ANCHOR spans"`
}

// MemorySearchOutput is memory_search's data payload.
type MemorySearchOutput struct {
	Results []SearchResultOutput `json:"results"`
	Count   int                  `json:"count"`
}

// SearchResultOutput is one memory_search/memory_context hit.
type SearchResultOutput struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	SpecFolder  string   `json:"spec_folder"`
	Tier        string   `json:"importance_tier"`
	ContextType string   `json:"context_type"`
	Score       float64  `json:"score"`
	BM25Score   float64  `json:"bm25_score,omitempty"`
	VecScore    float64  `json:"vec_score,omitempty"`
	MatchedOn   string   `json:"matched_on"`
	Content     string   `json:"content,omitempty"`
	Projection  string   `json:"projection,omitempty"`
	Triggers    []string `json:"trigger_phrases,omitempty"`
}

// MemoryMatchTriggersInput drives memory_match_triggers: the fast-path
// exact/fuzzy trigger-phrase lookup working memory seeds activation from.
type MemoryMatchTriggersInput struct {
	Prompt string `json:"prompt" jsonschema:"free text to scan for trigger phrase matches"`
	Limit  int    `json:"limit,omitempty" jsonschema:"max matches, default 20"`
}

// MemoryMatchTriggersOutput is memory_match_triggers's data payload.
type MemoryMatchTriggersOutput struct {
	Matches []SearchResultOutput `json:"matches"`
}

// MemorySaveInput drives memory_save: write a new memory file to disk
// under an allowed memory root, then index it the same way a file-system
// scan would.
type MemorySaveInput struct {
	SpecFolder     string   `json:"spec_folder" jsonschema:"the spec folder this memory belongs to, under specs/, e.g. 007-auth"`
	FileName       string   `json:"file_name" jsonschema:"the memory file's base name, e.g. oauth.md"`
	Title          string   `json:"title" jsonschema:"the memory's title"`
	Content        string   `json:"content" jsonschema:"the memory's markdown body"`
	ContextType    string   `json:"context_type,omitempty" jsonschema:"research|implementation|decision|discovery|general, default general"`
	ImportanceTier string   `json:"importance_tier,omitempty" jsonschema:"constitutional|critical|important|normal|temporary|deprecated, default normal"`
	TriggerPhrases []string `json:"trigger_phrases,omitempty" jsonschema:"up to 10 phrases that should surface this memory"`
	Constitutional bool     `json:"constitutional,omitempty" jsonschema:"write under the constitutional memory root instead of specs/**/memory"`
}

// MemorySaveOutput is memory_save's data payload.
type MemorySaveOutput struct {
	ID       int64    `json:"id"`
	Path     string   `json:"path"`
	Status   string   `json:"status"`
	PEAction string   `json:"pe_action,omitempty"`
	PEReason string   `json:"pe_reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// MemoryUpdateInput drives memory_update: a partial patch over one
// memory's mutable fields.
type MemoryUpdateInput struct {
	ID             int64    `json:"id" jsonschema:"the memory's id"`
	Title          string   `json:"title,omitempty"`
	Content        string   `json:"content,omitempty"`
	ContextType    string   `json:"context_type,omitempty"`
	ImportanceTier string   `json:"importance_tier,omitempty"`
	TriggerPhrases []string `json:"trigger_phrases,omitempty"`
	SetTriggers    bool     `json:"set_triggers,omitempty" jsonschema:"apply trigger_phrases even if empty, clearing existing ones"`
}

// MemoryUpdateOutput is memory_update's data payload.
type MemoryUpdateOutput struct {
	ID      int64  `json:"id"`
	Updated bool   `json:"updated"`
	Title   string `json:"title,omitempty"`
}

// MemoryDeleteInput drives memory_delete: remove a memory and cascade to
// its incident causal edges.
type MemoryDeleteInput struct {
	ID int64 `json:"id" jsonschema:"the memory's id"`
}

// MemoryDeleteOutput is memory_delete's data payload.
type MemoryDeleteOutput struct {
	ID      int64 `json:"id"`
	Deleted bool  `json:"deleted"`
}

// MemoryListInput drives memory_list: a paginated, optionally
// folder-scoped listing.
type MemoryListInput struct {
	SpecFolder string `json:"spec_folder,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
	Limit      int    `json:"limit,omitempty" jsonschema:"default 50"`
}

// MemoryListOutput is memory_list's data payload.
type MemoryListOutput struct {
	Memories   []SearchResultOutput `json:"memories"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// MemoryStatsInput drives memory_stats: empty, aggregates whole-store
// counts.
type MemoryStatsInput struct{}

// MemoryStatsOutput is memory_stats's data payload.
type MemoryStatsOutput struct {
	TotalMemories   int            `json:"total_memories"`
	ByTier          map[string]int `json:"by_tier"`
	PendingEmbeds   int            `json:"pending_embeddings"`
	FailedEmbeds    int            `json:"failed_embeddings"`
	LinkCoveragePct float64        `json:"link_coverage_percent"`
}

// MemoryHealthInput drives memory_health: empty, reports integrity and
// provider readiness.
type MemoryHealthInput struct{}

// MemoryHealthOutput is memory_health's data payload.
type MemoryHealthOutput struct {
	EmbeddingProvider string   `json:"embedding_provider"`
	EmbeddingModel    string   `json:"embedding_model"`
	EmbeddingReady    bool     `json:"embedding_ready"`
	OrphanedVectors   []string `json:"orphaned_vectors,omitempty"`
	OrphanedEdges     []int64  `json:"orphaned_edges,omitempty"`
	SchemaVersion     int      `json:"schema_version"`
}

// MemoryValidateInput drives memory_validate: a dry-run parse of a memory
// file's front matter and anchors without writing anything.
type MemoryValidateInput struct {
	Path    string `json:"path,omitempty" jsonschema:"an existing memory file path to validate"`
	Content string `json:"content,omitempty" jsonschema:"raw markdown to validate instead of reading from disk"`
}

// MemoryValidateOutput is memory_validate's data payload.
type MemoryValidateOutput struct {
	Valid    bool     `json:"valid"`
	Title    string   `json:"title,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// MemoryIndexScanInput drives memory_index_scan: the rate-limited
// filesystem sweep over memory files.
type MemoryIndexScanInput struct {
	SpecFolder            string `json:"spec_folder,omitempty"`
	Force                 bool   `json:"force,omitempty"`
	IncludeConstitutional bool   `json:"include_constitutional,omitempty"`
	Incremental           bool   `json:"incremental,omitempty"`
}

// MemoryIndexScanOutput is memory_index_scan's data payload.
type MemoryIndexScanOutput struct {
	Status       string   `json:"status"`
	WaitSeconds  int      `json:"wait_seconds,omitempty"`
	FilesScanned int      `json:"files_scanned"`
	Created      int      `json:"created"`
	Updated      int      `json:"updated"`
	Reinforced   int      `json:"reinforced"`
	Superseded   int      `json:"superseded"`
	Unchanged    int      `json:"unchanged"`
	Failed       int      `json:"failed"`
	Errors       []string `json:"errors,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// MemoryContextInput drives memory_context: intent-aware routing over the
// other retrieval tools (spec.md §4.12).
type MemoryContextInput struct {
	Prompt     string `json:"prompt" jsonschema:"the caller's current task prompt, used for intent classification"`
	Mode       string `json:"mode,omitempty" jsonschema:"auto|quick|deep|focused|resume, default auto"`
	Intent     string `json:"intent,omitempty" jsonschema:"override auto-classification: add_feature|fix_bug|refactor|security_audit|understand"`
	SpecFolder string `json:"spec_folder,omitempty"`
	SessionID  string `json:"session_id,omitempty" jsonschema:"required for resume mode's working-memory pin"`
}

// MemoryContextOutput is memory_context's data payload.
type MemoryContextOutput struct {
	Mode     string               `json:"mode"`
	Intent   string               `json:"intent"`
	RoutedTo string               `json:"routed_to"`
	Results  []SearchResultOutput `json:"results"`
	Anchors  []string             `json:"anchors,omitempty"`
}

// CheckpointCreateInput drives checkpoint_create.
type CheckpointCreateInput struct {
	Name       string `json:"name" jsonschema:"the checkpoint's name, unique"`
	SpecFolder string `json:"spec_folder,omitempty" jsonschema:"scope the snapshot to one folder; empty snapshots the whole store"`
	Metadata   string `json:"metadata,omitempty" jsonschema:"opaque caller-supplied JSON note"`
}

// CheckpointCreateOutput is checkpoint_create's data payload.
type CheckpointCreateOutput struct {
	Name       string `json:"name"`
	SpecFolder string `json:"spec_folder,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// CheckpointListInput drives checkpoint_list.
type CheckpointListInput struct {
	SpecFolder string `json:"spec_folder,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// CheckpointListOutput is checkpoint_list's data payload.
type CheckpointListOutput struct {
	Checkpoints []CheckpointInfo `json:"checkpoints"`
}

// CheckpointInfo summarizes one checkpoint row.
type CheckpointInfo struct {
	Name       string `json:"name"`
	SpecFolder string `json:"spec_folder,omitempty"`
	Metadata   string `json:"metadata,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// CheckpointRestoreInput drives checkpoint_restore.
type CheckpointRestoreInput struct {
	Name          string `json:"name" jsonschema:"the checkpoint to restore"`
	ClearExisting bool   `json:"clear_existing,omitempty" jsonschema:"delete the scoped subset before restoring instead of merging"`
}

// CheckpointRestoreOutput is checkpoint_restore's data payload.
type CheckpointRestoreOutput struct {
	Name             string `json:"name"`
	MemoriesRestored int    `json:"memories_restored"`
	EdgesRestored    int    `json:"edges_restored"`
	WorkingMemory    int    `json:"working_memory_restored"`
	ClearedExisting  bool   `json:"cleared_existing"`
}

// CheckpointDeleteInput drives checkpoint_delete.
type CheckpointDeleteInput struct {
	Name string `json:"name"`
}

// CheckpointDeleteOutput is checkpoint_delete's data payload.
type CheckpointDeleteOutput struct {
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
}

// TaskPreflightInput drives task_preflight: the pre-task epistemic
// self-assessment.
type TaskPreflightInput struct {
	SpecFolder       string   `json:"spec_folder"`
	TaskID           string   `json:"task_id"`
	SessionID        string   `json:"session_id,omitempty"`
	KnowledgeScore   int      `json:"knowledge_score" jsonschema:"0-100"`
	UncertaintyScore int      `json:"uncertainty_score" jsonschema:"0-100"`
	ContextScore     int      `json:"context_score" jsonschema:"0-100"`
	KnowledgeGaps    []string `json:"knowledge_gaps,omitempty"`
}

// TaskPreflightOutput is task_preflight's data payload.
type TaskPreflightOutput struct {
	SpecFolder string `json:"spec_folder"`
	TaskID     string `json:"task_id"`
	Phase      string `json:"phase"`
}

// TaskPostflightInput drives task_postflight: the post-task delta and
// learning-index computation.
type TaskPostflightInput struct {
	SpecFolder        string   `json:"spec_folder"`
	TaskID            string   `json:"task_id"`
	KnowledgeScore    int      `json:"knowledge_score"`
	UncertaintyScore  int      `json:"uncertainty_score"`
	ContextScore      int      `json:"context_score"`
	GapsClosed        []string `json:"gaps_closed,omitempty"`
	NewGapsDiscovered []string `json:"new_gaps_discovered,omitempty"`
}

// TaskPostflightOutput is task_postflight's data payload.
type TaskPostflightOutput struct {
	SpecFolder       string  `json:"spec_folder"`
	TaskID           string  `json:"task_id"`
	DeltaKnowledge   float64 `json:"delta_knowledge"`
	DeltaUncertainty float64 `json:"delta_uncertainty"`
	DeltaContext     float64 `json:"delta_context"`
	LearningIndex    float64 `json:"learning_index"`
	Interpretation   string  `json:"interpretation"`
}

// MemoryGetLearningHistoryInput drives memory_get_learning_history.
type MemoryGetLearningHistoryInput struct {
	SpecFolder     string `json:"spec_folder,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	OnlyComplete   bool   `json:"only_complete,omitempty"`
	IncludeSummary bool   `json:"include_summary,omitempty"`
}

// MemoryGetLearningHistoryOutput is memory_get_learning_history's data payload.
type MemoryGetLearningHistoryOutput struct {
	Records []LearningRecord `json:"records"`
	Summary *LearningSummary `json:"summary,omitempty"`
}

// LearningRecord is one session_learning row in tool-response form.
type LearningRecord struct {
	TaskID        string   `json:"task_id"`
	Phase         string   `json:"phase"`
	SessionID     string   `json:"session_id,omitempty"`
	LearningIndex float64  `json:"learning_index,omitempty"`
	GapsClosed    []string `json:"gaps_closed,omitempty"`
	KnowledgeGaps []string `json:"knowledge_gaps,omitempty"`
	CreatedAt     string   `json:"created_at"`
}

// LearningSummary aggregates a LearningRecord set.
type LearningSummary struct {
	Count                int     `json:"count"`
	MeanLearningIndex    float64 `json:"mean_learning_index"`
	MinLearningIndex     float64 `json:"min_learning_index"`
	MaxLearningIndex     float64 `json:"max_learning_index"`
	MeanDeltaKnowledge   float64 `json:"mean_delta_knowledge"`
	MeanDeltaUncertainty float64 `json:"mean_delta_uncertainty"`
	MeanDeltaContext     float64 `json:"mean_delta_context"`
}

// MemoryCausalLinkInput drives memory_causal_link: insert_edge.
type MemoryCausalLinkInput struct {
	SourceID int64   `json:"source_id"`
	TargetID int64   `json:"target_id"`
	Relation string  `json:"relation" jsonschema:"caused_by|enabled_by|supersedes|contradicts|derived_from|supports"`
	Strength float64 `json:"strength,omitempty" jsonschema:"0-1, default 1.0"`
	Evidence string  `json:"evidence,omitempty"`
}

// MemoryCausalLinkOutput is memory_causal_link's data payload.
type MemoryCausalLinkOutput struct {
	ID int64 `json:"id"`
}

// MemoryCausalUnlinkInput drives memory_causal_unlink: delete_edge.
type MemoryCausalUnlinkInput struct {
	ID int64 `json:"id"`
}

// MemoryCausalUnlinkOutput is memory_causal_unlink's data payload.
type MemoryCausalUnlinkOutput struct {
	ID      int64 `json:"id"`
	Deleted bool  `json:"deleted"`
}

// MemoryCausalStatsInput drives memory_causal_stats: get_graph_stats.
type MemoryCausalStatsInput struct{}

// MemoryCausalStatsOutput is memory_causal_stats's data payload.
type MemoryCausalStatsOutput struct {
	TotalEdges          int            `json:"total_edges"`
	LinkCoveragePercent float64        `json:"link_coverage_percent"`
	ByRelation          map[string]int `json:"by_relation"`
}

// MemoryDriftWhyInput drives memory_drift_why: get_causal_chain, framed as
// "why did this memory change" investigation tooling.
type MemoryDriftWhyInput struct {
	MemoryID  int64    `json:"memory_id"`
	MaxDepth  int      `json:"max_depth,omitempty" jsonschema:"<= 10, default 10"`
	Direction string   `json:"direction,omitempty" jsonschema:"outgoing|incoming|both, default both"`
	Relations []string `json:"relations,omitempty"`
}

// MemoryDriftWhyOutput is memory_drift_why's data payload: the bucketed
// causal chain rooted at memory_id.
type MemoryDriftWhyOutput struct {
	RootID          int64           `json:"root_id"`
	MaxDepthReached bool            `json:"max_depth_reached"`
	All             []CausalEdgeOut `json:"all"`
	ByCause         []CausalEdgeOut `json:"by_cause,omitempty"`
	ByEnabled       []CausalEdgeOut `json:"by_enabled,omitempty"`
	BySupersedes    []CausalEdgeOut `json:"by_supersedes,omitempty"`
	ByContradicts   []CausalEdgeOut `json:"by_contradicts,omitempty"`
	ByDerivedFrom   []CausalEdgeOut `json:"by_derived_from,omitempty"`
	BySupports      []CausalEdgeOut `json:"by_supports,omitempty"`
}

// CausalEdgeOut is a store.CausalEdge in tool-response form.
type CausalEdgeOut struct {
	ID       int64   `json:"id"`
	SourceID int64   `json:"source_id"`
	TargetID int64   `json:"target_id"`
	Relation string  `json:"relation"`
	Strength float64 `json:"strength"`
	Evidence string  `json:"evidence,omitempty"`
}
