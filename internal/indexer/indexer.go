package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/cogmemd/cogmemd/internal/embedding"
	cogerrors "github.com/cogmemd/cogmemd/internal/errors"
	"github.com/cogmemd/cogmemd/internal/fsrs"
	"github.com/cogmemd/cogmemd/internal/memfile"
	"github.com/cogmemd/cogmemd/internal/pegate"
	"github.com/cogmemd/cogmemd/internal/store"
)

// candidateSearchBuffer is how many nearest vectors to pull from the
// vector store before filtering down to the same spec_folder,
// non-deprecated, minimum-similarity candidate set the PE gate sees.
const candidateSearchBuffer = 50

// maxCandidates is the PE gate's top-k bound (spec.md §4.4 step 4).
const maxCandidates = 5

// minCandidateSimilarity is the floor below which a vector neighbor is
// not even offered to the PE gate.
const minCandidateSimilarity = 0.5

// CacheInvalidator is notified whenever a write changes the trigger-
// phrase map, so the retrieval engine's cached lookup (C7) can bump its
// generation counter. A nil invalidator is a valid no-op choice for
// callers that have not wired retrieval yet.
type CacheInvalidator interface {
	Invalidate()
}

// Indexer orchestrates the write path: parse (C3), embed (C1), gate (C5),
// schedule (C6), and persist (C2).
type Indexer struct {
	Metadata    store.MetadataStore
	Vectors     store.VectorStore
	BM25        store.BM25Index // optional; nil skips lexical index updates
	Embedder    embedding.Provider
	Gate        *pegate.Gate
	Scheduler   *fsrs.Scheduler
	Invalidator CacheInvalidator
	Logger      *slog.Logger
	Now         func() time.Time
}

func (idx *Indexer) now() time.Time {
	if idx.Now != nil {
		return idx.Now()
	}
	return time.Now()
}

func (idx *Indexer) logger() *slog.Logger {
	if idx.Logger != nil {
		return idx.Logger
	}
	return slog.Default()
}

// IndexMemoryFile parses, embeds, and writes path's content, per
// spec.md §4.4's index_memory_file contract.
func (idx *Indexer) IndexMemoryFile(ctx context.Context, path string, opts IndexOptions) (Result, error) {
	if !memfile.AllowedPath(path) {
		return Result{}, cogerrors.New(cogerrors.CodeInvalidParameter, fmt.Sprintf("path %q is outside the allowed memory roots", path), nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{}, cogerrors.New(cogerrors.CodeInvalidParameter, fmt.Sprintf("failed to stat %q", path), err)
	}
	mtimeNs := info.ModTime().UnixNano()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{}, cogerrors.New(cogerrors.CodeInvalidParameter, fmt.Sprintf("failed to read %q", path), err)
	}

	parsed := memfile.Parse(path, raw)
	if !parsed.Valid {
		return Result{}, fmt.Errorf("memory file %q failed validation: %v", path, parsed.Errors)
	}
	warnings := warningStrings(parsed.Warnings)

	existing, err := idx.Metadata.GetMemoryByPath(ctx, path)
	if err != nil {
		return Result{}, cogerrors.New(cogerrors.CodeDatabaseError, "failed to look up existing memory", err)
	}
	if existing != nil && existing.ContentHash == parsed.Parsed.ContentHash && !opts.Force {
		return Result{Status: StatusUnchanged, ID: existing.ID, Warnings: warnings}, nil
	}

	embeddingStatus := store.EmbeddingSuccess
	vec, embedErr := idx.Embedder.EmbedDocument(ctx, parsed.Parsed.Content)
	if embedErr != nil {
		if !opts.AllowPartialUpdate {
			return Result{}, cogerrors.New(cogerrors.CodeEmbeddingFailed, "embedding failed for "+path, embedErr)
		}
		embeddingStatus = store.EmbeddingPending
		vec = nil
		warnings = append(warnings, fmt.Sprintf("embedding failed, stored with embedding_status=pending: %v", embedErr))
	}

	var candidates []pegate.Candidate
	if vec != nil {
		candidates, err = idx.nearestCandidates(ctx, vec, parsed.Parsed.SpecFolder)
		if err != nil {
			return Result{}, cogerrors.New(cogerrors.CodeDatabaseError, "failed to query candidate memories", err)
		}
	}

	decision := idx.Gate.Evaluate(parsed.Parsed.Content, candidates)

	result, err := idx.applyDecision(ctx, decision, parsed.Parsed, vec, embeddingStatus, mtimeNs, warnings)
	if err != nil {
		return Result{}, err
	}

	idx.invalidateCaches()
	return result, nil
}

func (idx *Indexer) nearestCandidates(ctx context.Context, vec []float32, specFolder string) ([]pegate.Candidate, error) {
	neighbors, err := idx.Vectors.Search(ctx, vec, candidateSearchBuffer)
	if err != nil {
		return nil, err
	}

	var out []pegate.Candidate
	for _, n := range neighbors {
		if float64(n.Score) < minCandidateSimilarity {
			continue
		}
		id, err := strconv.ParseInt(n.ID, 10, 64)
		if err != nil {
			continue
		}
		m, err := idx.Metadata.GetMemory(ctx, id)
		if err != nil || m == nil {
			continue
		}
		if m.SpecFolder != specFolder || m.ImportanceTier == store.TierDeprecated {
			continue
		}
		out = append(out, pegate.Candidate{
			ID:         m.ID,
			Similarity: float64(n.Score),
			Content:    m.Content,
			Stability:  m.Stability,
			Difficulty: m.Difficulty,
			FilePath:   m.FilePath,
		})
		if len(out) >= maxCandidates {
			break
		}
	}
	return out, nil
}

func (idx *Indexer) applyDecision(ctx context.Context, decision pegate.Decision, parsed memfile.Parsed, vec []float32, embeddingStatus store.EmbeddingStatus, mtimeNs int64, warnings []string) (Result, error) {
	switch decision.Action {
	case pegate.ActionReinforce:
		return idx.reinforce(ctx, decision, mtimeNs, warnings)

	case pegate.ActionUpdate:
		return idx.update(ctx, decision, parsed, vec, embeddingStatus, mtimeNs, warnings)

	case pegate.ActionSupersede:
		if err := idx.deprecate(ctx, decision.Candidate.ID); err != nil {
			return Result{}, cogerrors.New(cogerrors.CodeDatabaseError, "failed to deprecate superseded memory", err)
		}
		id, err := idx.create(ctx, parsed, vec, embeddingStatus, mtimeNs, nil)
		if err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuperseded, ID: id, PEAction: string(decision.Action), PEReason: decision.Reason, Warnings: warnings}, nil

	case pegate.ActionCreateLinked:
		id, err := idx.create(ctx, parsed, vec, embeddingStatus, mtimeNs, decision.RelatedIDs)
		if err != nil {
			return Result{}, err
		}
		return Result{Status: StatusCreated, ID: id, PEAction: string(decision.Action), PEReason: decision.Reason, Warnings: warnings}, nil

	default: // ActionCreate
		id, err := idx.create(ctx, parsed, vec, embeddingStatus, mtimeNs, nil)
		if err != nil {
			return Result{}, err
		}
		return Result{Status: StatusCreated, ID: id, PEAction: string(decision.Action), PEReason: decision.Reason, Warnings: warnings}, nil
	}
}

func (idx *Indexer) reinforce(ctx context.Context, decision pegate.Decision, mtimeNs int64, warnings []string) (Result, error) {
	candidate := decision.Candidate
	now := idx.now()
	state := fsrs.State{Stability: candidate.Stability, Difficulty: candidate.Difficulty, LastReview: now}
	updated := idx.Scheduler.Retrieve(state, now)

	m, err := idx.Metadata.GetMemory(ctx, candidate.ID)
	if err != nil || m == nil {
		return Result{}, cogerrors.New(cogerrors.CodeDatabaseError, "failed to reload candidate for reinforcement", err)
	}
	reviewCount := m.ReviewCount + 1

	patch := store.MemoryPatch{
		Stability:   &updated.Stability,
		LastReview:  &now,
		ReviewCount: &reviewCount,
		FileMtimeNs: &mtimeNs,
	}
	if err := idx.Metadata.UpdateMemory(ctx, candidate.ID, patch); err != nil {
		return Result{}, cogerrors.New(cogerrors.CodeDatabaseError, "failed to reinforce candidate", err)
	}

	idx.logger().Info("pe_gate reinforced memory", "id", candidate.ID, "similarity", decision.Similarity)
	return Result{Status: StatusReinforced, ID: candidate.ID, PEAction: string(decision.Action), PEReason: decision.Reason, Warnings: warnings}, nil
}

func (idx *Indexer) update(ctx context.Context, decision pegate.Decision, parsed memfile.Parsed, vec []float32, embeddingStatus store.EmbeddingStatus, mtimeNs int64, warnings []string) (Result, error) {
	candidate := decision.Candidate
	m, err := idx.Metadata.GetMemory(ctx, candidate.ID)
	if err != nil || m == nil {
		return Result{}, cogerrors.New(cogerrors.CodeDatabaseError, "failed to reload candidate for update", err)
	}

	title := parsed.Title
	content := parsed.Content
	hash := parsed.ContentHash
	contextType := parsed.ContextType
	importanceTier := parsed.ImportanceTier
	reviewCount := m.ReviewCount + 1
	now := idx.now()

	patch := store.MemoryPatch{
		Title:           &title,
		Content:         &content,
		ContentHash:     &hash,
		TriggerPhrases:  parsed.TriggerPhrases,
		ContextType:     &contextType,
		ImportanceTier:  &importanceTier,
		EmbeddingSet:    vec != nil,
		Embedding:       vec,
		EmbeddingStatus: &embeddingStatus,
		ReviewCount:     &reviewCount,
		LastReview:      &now,
		FileMtimeNs:     &mtimeNs,
	}
	if err := idx.Metadata.UpdateMemory(ctx, candidate.ID, patch); err != nil {
		return Result{}, cogerrors.New(cogerrors.CodeDatabaseError, "failed to update candidate", err)
	}
	if vec != nil {
		if err := idx.Vectors.Add(ctx, []string{strconv.FormatInt(candidate.ID, 10)}, [][]float32{vec}); err != nil {
			return Result{}, cogerrors.New(cogerrors.CodeDatabaseError, "failed to update candidate vector", err)
		}
	}
	idx.reindexBM25(ctx, candidate.ID, title, content)

	return Result{Status: StatusUpdated, ID: candidate.ID, PEAction: string(decision.Action), PEReason: decision.Reason, Warnings: warnings}, nil
}

func (idx *Indexer) deprecate(ctx context.Context, id int64) error {
	deprecated := store.TierDeprecated
	return idx.Metadata.UpdateMemory(ctx, id, store.MemoryPatch{ImportanceTier: &deprecated})
}

func (idx *Indexer) create(ctx context.Context, parsed memfile.Parsed, vec []float32, embeddingStatus store.EmbeddingStatus, mtimeNs int64, relatedIDs []int64) (int64, error) {
	now := idx.now()
	initial := idx.Scheduler.InitialState(now)

	m := &store.Memory{
		SpecFolder:      parsed.SpecFolder,
		FilePath:        parsed.FilePath,
		Title:           parsed.Title,
		Content:         parsed.Content,
		ContentHash:     parsed.ContentHash,
		TriggerPhrases:  parsed.TriggerPhrases,
		ContextType:     parsed.ContextType,
		ImportanceTier:  parsed.ImportanceTier,
		EmbeddingStatus: embeddingStatus,
		Stability:       initial.Stability,
		Difficulty:      initial.Difficulty,
		LastReview:      initial.LastReview,
		ReviewCount:     initial.ReviewCount,
		RelatedMemories: relatedIDs,
		FileMtimeNs:     mtimeNs,
	}

	id, err := idx.Metadata.IndexMemory(ctx, m)
	if err != nil {
		return 0, cogerrors.New(cogerrors.CodeDatabaseError, "failed to create memory row", err)
	}
	if vec != nil {
		if err := idx.Vectors.Add(ctx, []string{strconv.FormatInt(id, 10)}, [][]float32{vec}); err != nil {
			return 0, cogerrors.New(cogerrors.CodeDatabaseError, "failed to index memory vector", err)
		}
	}
	idx.reindexBM25(ctx, id, parsed.Title, parsed.Content)
	return id, nil
}

// reindexBM25 refreshes the auxiliary lexical index. Failures are logged,
// never propagated: the BM25 index is rebuildable and never a source of
// truth (store.BM25Index's contract).
func (idx *Indexer) reindexBM25(ctx context.Context, id int64, title, content string) {
	if idx.BM25 == nil {
		return
	}
	doc := &store.Document{ID: strconv.FormatInt(id, 10), Content: title + "\n" + content}
	if err := idx.BM25.Index(ctx, []*store.Document{doc}); err != nil {
		idx.logger().Warn("bm25 reindex failed", "id", id, "error", err)
	}
}

func (idx *Indexer) invalidateCaches() {
	if idx.Invalidator != nil {
		idx.Invalidator.Invalidate()
	}
}
