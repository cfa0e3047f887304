package search

import (
	"context"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/cogmemd/cogmemd/internal/config"
	"github.com/cogmemd/cogmemd/internal/fsrs"
	"github.com/cogmemd/cogmemd/internal/memfile"
	"github.com/cogmemd/cogmemd/internal/store"
)

// Result is one row returned by any of the Engine's search operations.
type Result struct {
	Memory     *store.Memory
	Score      float64
	BM25Score  float64
	VecScore   float64
	MatchedOn  string // "vector", "fts", "hybrid", "multi_concept", "trigger", "constitutional"
	Projection string // anchor-filtered content, when an anchors filter matched
}

// SearchOptions controls vector_search, fts_search, hybrid_search and
// multi_concept_search (spec.md §4.7).
type SearchOptions struct {
	Limit                 int
	SpecFolder            string
	Tier                  store.ImportanceTier
	ContextType           store.ContextType
	UseDecay              bool
	IncludeContiguity     bool
	IncludeConstitutional bool
	IncludeDeprecated     bool
	Anchors               []string
}

func (o SearchOptions) limit() int {
	if o.Limit > 0 {
		return o.Limit
	}
	return 20
}

// Engine composes C7's search modalities over the metadata store, the
// vector store, and the auxiliary BM25 index, applying tier weighting,
// age decay, constitutional pinning, and the C6 testing-effect callback.
type Engine struct {
	Metadata  store.MetadataStore
	Vectors   store.VectorStore
	BM25      store.BM25Index
	Scheduler *fsrs.Scheduler
	Config    config.RetrievalConfig
	// DBPath is stat'd to invalidate the constitutional-row cache when the
	// database file's mtime advances (spec.md §4.7).
	DBPath string
	Now     func() time.Time

	mu             sync.Mutex
	triggerMap     map[string][]int64
	triggerGen     uint64
	constitutional []*store.Memory
	constitMtime   time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Invalidate bumps the trigger-phrase cache generation so the next
// MatchTriggerPhrases call rebuilds it from the store. Implements
// indexer.CacheInvalidator.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggerMap = nil
	e.triggerGen++
}

// tierWeight maps an importance tier to its composite-score multiplier,
// flooring deprecated rows at Config.TierWeightFloor instead of its
// otherwise-steep 0.1 so an operator's include_deprecated query stays
// meaningful (spec.md §4.7).
func (e *Engine) tierWeight(tier store.ImportanceTier) float64 {
	w := tier.Weight()
	if tier == store.TierDeprecated && e.Config.TierWeightFloor > 0 && w < e.Config.TierWeightFloor {
		return e.Config.TierWeightFloor
	}
	return w
}

func (e *Engine) decayTau() float64 {
	if e.Config.DecayTauDays > 0 {
		return e.Config.DecayTauDays
	}
	return 30
}

// decay implements decay(age_days) = exp(-age_days/τ).
func (e *Engine) decay(ageDays float64) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / e.decayTau())
}

func (e *Engine) compositeScore(m *store.Memory, similarity float64, opts SearchOptions) float64 {
	score := similarity * e.tierWeight(m.ImportanceTier)
	if opts.UseDecay {
		age := e.now().Sub(m.UpdatedAt).Hours() / 24.0
		score *= e.decay(age)
	}
	return score
}

// VectorSearch implements vector_search.
func (e *Engine) VectorSearch(ctx context.Context, qVec []float32, opts SearchOptions) ([]Result, error) {
	neighbors, err := e.Vectors.Search(ctx, qVec, opts.limit()*4+20)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, n := range neighbors {
		m, err := e.loadMemory(ctx, n.ID)
		if err != nil || m == nil {
			continue
		}
		if !e.passesFilters(m, opts) {
			continue
		}
		results = append(results, Result{
			Memory:    m,
			Score:     e.compositeScore(m, float64(n.Score), opts),
			VecScore:  float64(n.Score),
			MatchedOn: "vector",
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	results = e.pinConstitutional(ctx, results, opts)
	results = truncate(results, opts.limit())
	e.project(results, opts.Anchors)
	e.applyTestingEffect(ctx, results)
	return results, nil
}

// FTSSearch implements fts_search over the shadow lexical index.
func (e *Engine) FTSSearch(ctx context.Context, query string, opts SearchOptions) ([]Result, error) {
	if e.BM25 == nil {
		return nil, nil
	}
	hits, err := e.BM25.Search(ctx, query, opts.limit()*4+20)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, h := range hits {
		m, err := e.loadMemory(ctx, h.DocID)
		if err != nil || m == nil {
			continue
		}
		if !e.passesFilters(m, opts) {
			continue
		}
		results = append(results, Result{
			Memory:    m,
			Score:     e.compositeScore(m, h.Score, opts),
			BM25Score: h.Score,
			MatchedOn: "fts",
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	results = e.pinConstitutional(ctx, results, opts)
	results = truncate(results, opts.limit())
	e.project(results, opts.Anchors)
	e.applyTestingEffect(ctx, results)
	return results, nil
}

// HybridSearch implements hybrid_search: BM25 and vector lists run
// concurrently, bounded to K candidates each, then fuse via RRF. Falls
// back to pure vector search if hybrid comes back empty or either leg
// fails outright (spec.md §4.7).
func (e *Engine) HybridSearch(ctx context.Context, qVec []float32, qText string, opts SearchOptions) ([]Result, error) {
	k := opts.limit()*4 + 20

	var bm25Results []*store.BM25Result
	var vecResults []*store.VectorResult
	var bm25Failed, vecFailed bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if e.BM25 == nil {
			bm25Failed = true
			return nil
		}
		r, err := e.BM25.Search(gctx, qText, k)
		if err != nil {
			bm25Failed = true
			return nil // graceful degradation, not a hard failure
		}
		bm25Results = r
		return nil
	})
	g.Go(func() error {
		r, err := e.Vectors.Search(gctx, qVec, k)
		if err != nil {
			vecFailed = true
			return nil
		}
		vecResults = r
		return nil
	})
	_ = g.Wait()

	if bm25Failed || vecFailed {
		return e.VectorSearch(ctx, qVec, opts)
	}

	weights := Weights{BM25: e.Config.BM25Weight, Semantic: e.Config.SemanticWeight}
	fusion := NewRRFFusionWithK(e.Config.RRFConstant)
	fused := fusion.Fuse(bm25Results, vecResults, weights)

	if len(fused) == 0 {
		return e.VectorSearch(ctx, qVec, opts)
	}

	var results []Result
	for _, f := range fused {
		m, err := e.loadMemory(ctx, f.ChunkID)
		if err != nil || m == nil {
			continue
		}
		if !e.passesFilters(m, opts) {
			continue
		}
		results = append(results, Result{
			Memory:    m,
			Score:     e.compositeScore(m, f.RRFScore, opts),
			BM25Score: f.BM25Score,
			VecScore:  f.VecScore,
			MatchedOn: "hybrid",
		})
	}

	if len(results) == 0 {
		return e.VectorSearch(ctx, qVec, opts)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	results = e.pinConstitutional(ctx, results, opts)
	results = truncate(results, opts.limit())
	e.project(results, opts.Anchors)
	e.applyTestingEffect(ctx, results)
	return results, nil
}

// MultiConceptSearch implements multi_concept_search: a row only
// qualifies if every concept embedding clears minSimilarity against it,
// and its score is the minimum similarity across concepts (spec.md §4.7).
func (e *Engine) MultiConceptSearch(ctx context.Context, embeddings [][]float32, opts SearchOptions) ([]Result, error) {
	if len(embeddings) < 2 || len(embeddings) > 5 {
		return nil, errConceptCount
	}
	minSim := e.Config.MinConceptSimilarity
	if minSim <= 0 {
		minSim = 0.5
	}

	scoresByID := make(map[string]float64)
	memosByID := make(map[string]*store.Memory)
	seenCount := make(map[string]int)

	for _, vec := range embeddings {
		neighbors, err := e.Vectors.Search(ctx, vec, opts.limit()*4+20)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			sim := float64(n.Score)
			if sim < minSim {
				continue
			}
			seenCount[n.ID]++
			if existing, ok := scoresByID[n.ID]; !ok || sim < existing {
				scoresByID[n.ID] = sim
			}
		}
	}

	var results []Result
	for id, sim := range scoresByID {
		if seenCount[id] != len(embeddings) {
			continue // must clear the floor for every concept, not just some
		}
		m, ok := memosByID[id]
		if !ok {
			var err error
			m, err = e.loadMemory(ctx, id)
			if err != nil || m == nil {
				continue
			}
			memosByID[id] = m
		}
		if !e.passesFilters(m, opts) {
			continue
		}
		results = append(results, Result{Memory: m, Score: e.compositeScore(m, sim, opts), MatchedOn: "multi_concept"})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	results = e.pinConstitutional(ctx, results, opts)
	results = truncate(results, opts.limit())
	e.project(results, opts.Anchors)
	e.applyTestingEffect(ctx, results)
	return results, nil
}

// conceptCountError reports multi_concept_search's 2-5 embedding bound.
type conceptCountError struct{}

func (conceptCountError) Error() string { return "multi_concept_search requires 2 to 5 embeddings" }

var errConceptCount = conceptCountError{}

// MatchTriggerPhrases implements match_trigger_phrases: whole-phrase,
// case-insensitive, whitespace-collapsed matching against the cached
// trigger map, ranked by importance_weight then match count.
func (e *Engine) MatchTriggerPhrases(ctx context.Context, prompt string, limit int) ([]Result, error) {
	triggerMap, err := e.loadTriggerMap(ctx)
	if err != nil {
		return nil, err
	}
	normalizedPrompt := normalizeForMatch(prompt)

	matchCount := make(map[int64]int)
	for phrase, ids := range triggerMap {
		if strings.Contains(normalizedPrompt, phrase) {
			for _, id := range ids {
				matchCount[id]++
			}
		}
	}

	var results []Result
	for id := range matchCount {
		m, err := e.loadMemory(ctx, strconv.FormatInt(id, 10))
		if err != nil || m == nil {
			continue
		}
		results = append(results, Result{
			Memory:    m,
			Score:     m.ImportanceWeight,
			MatchedOn: "trigger",
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Memory.ImportanceWeight != results[j].Memory.ImportanceWeight {
			return results[i].Memory.ImportanceWeight > results[j].Memory.ImportanceWeight
		}
		return matchCount[results[i].Memory.ID] > matchCount[results[j].Memory.ID]
	})

	if limit <= 0 {
		limit = 20
	}
	if len(results) > limit {
		results = results[:limit]
	}
	e.applyTestingEffect(ctx, results)
	return results, nil
}

func normalizeForMatch(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimFunc(f, unicode.IsPunct); f != "" {
			out = append(out, f)
		}
	}
	return " " + strings.Join(out, " ") + " "
}

func (e *Engine) loadTriggerMap(ctx context.Context) (map[string][]int64, error) {
	e.mu.Lock()
	cached := e.triggerMap
	e.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	raw, err := e.Metadata.TriggerMap(ctx)
	if err != nil {
		return nil, err
	}
	normalized := make(map[string][]int64, len(raw))
	for phrase, ids := range raw {
		normalized[normalizeForMatch(phrase)] = ids
	}

	e.mu.Lock()
	e.triggerMap = normalized
	e.mu.Unlock()
	return normalized, nil
}

func (e *Engine) loadMemory(ctx context.Context, id string) (*store.Memory, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, err
	}
	return e.Metadata.GetMemory(ctx, n)
}

func (e *Engine) passesFilters(m *store.Memory, opts SearchOptions) bool {
	if opts.SpecFolder != "" && m.SpecFolder != opts.SpecFolder {
		return false
	}
	if opts.Tier != "" && m.ImportanceTier != opts.Tier {
		return false
	}
	if opts.ContextType != "" && m.ContextType != opts.ContextType {
		return false
	}
	if m.ImportanceTier == store.TierDeprecated && !opts.IncludeDeprecated {
		return false
	}
	return true
}

// pinConstitutional ensures at least one constitutional row appears in
// the top-limit results when requested, prepending up to
// ConstitutionalBackfillLimit deduplicated candidates (spec.md §4.7).
func (e *Engine) pinConstitutional(ctx context.Context, results []Result, opts SearchOptions) []Result {
	if !opts.IncludeConstitutional {
		return dedupe(results)
	}

	limit := opts.limit()
	top := results
	if len(top) > limit {
		top = top[:limit]
	}
	for _, r := range top {
		if r.Memory.ImportanceTier == store.TierConstitutional {
			return dedupe(results)
		}
	}

	constitutional := e.constitutionalCandidates(ctx)
	backfillLimit := e.Config.ConstitutionalBackfillLimit
	if backfillLimit <= 0 {
		backfillLimit = 5
	}
	if len(constitutional) > backfillLimit {
		constitutional = constitutional[:backfillLimit]
	}

	merged := make([]Result, 0, len(constitutional)+len(results))
	for _, m := range constitutional {
		merged = append(merged, Result{Memory: m, Score: m.ImportanceWeight, MatchedOn: "constitutional"})
	}
	merged = append(merged, results...)
	return dedupe(merged)
}

func dedupe(results []Result) []Result {
	seen := make(map[int64]bool, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if seen[r.Memory.ID] {
			continue
		}
		seen[r.Memory.ID] = true
		out = append(out, r)
	}
	return out
}

// constitutionalCandidates returns the cached constitutional rows,
// rebuilding the cache when the database file's mtime has advanced.
func (e *Engine) constitutionalCandidates(ctx context.Context) []*store.Memory {
	e.mu.Lock()
	cached := e.constitutional
	cachedMtime := e.constitMtime
	e.mu.Unlock()

	var currentMtime time.Time
	if e.DBPath != "" {
		if info, err := os.Stat(e.DBPath); err == nil {
			currentMtime = info.ModTime()
		}
	}
	if cached != nil && !currentMtime.After(cachedMtime) {
		return cached
	}

	all, err := e.Metadata.ListMemoriesByTier(ctx, store.TierConstitutional)
	if err != nil {
		return cached
	}

	e.mu.Lock()
	e.constitutional = all
	e.constitMtime = currentMtime
	e.mu.Unlock()
	return all
}

func truncate(results []Result, limit int) []Result {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}

// project restricts each result's content to the union of the spans
// named by anchors, when the memory file carries matching ANCHOR spans
// (spec.md §4.7).
func (e *Engine) project(results []Result, anchors []string) {
	if len(anchors) == 0 {
		return
	}
	wanted := make(map[string]bool, len(anchors))
	for _, a := range anchors {
		wanted[a] = true
	}
	for i := range results {
		spans := memfile.Anchors(results[i].Memory.Content)
		var parts []string
		for _, span := range spans {
			if wanted[span.ID] {
				parts = append(parts, memfile.Span(results[i].Memory.Content, span))
			}
		}
		if len(parts) > 0 {
			results[i].Projection = strings.Join(parts, "\n---\n")
		}
	}
}

// applyTestingEffect calls the C6 scheduler with a GOOD-grade retrieval
// for every returned row, per spec.md §4.7's testing-effect callback.
// Failures are logged-equivalent (silently skipped): a read path must
// never fail because bookkeeping could not be written.
func (e *Engine) applyTestingEffect(ctx context.Context, results []Result) {
	if e.Scheduler == nil {
		return
	}
	now := e.now()
	for _, r := range results {
		m := r.Memory
		state := fsrs.State{Stability: m.Stability, Difficulty: m.Difficulty, LastReview: m.LastReview, ReviewCount: m.ReviewCount}
		updated := e.Scheduler.Retrieve(state, now)
		reviewCount := m.ReviewCount + 1
		_ = e.Metadata.UpdateMemory(ctx, m.ID, store.MemoryPatch{
			Stability:   &updated.Stability,
			LastReview:  &now,
			ReviewCount: &reviewCount,
		})
		_ = e.Metadata.RecordAccess(ctx, m.ID, now)
	}
}
