// Package workingmem tracks per-session attention over memories: turn-based
// power-law decay, trigger-driven activation, depth-1 co-activation spread
// across related_memories/causal links, and HOT/WARM/COLD tiering for
// content projection (spec.md §4.8).
package workingmem

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/cogmemd/cogmemd/internal/config"
	"github.com/cogmemd/cogmemd/internal/memfile"
	search "github.com/cogmemd/cogmemd/internal/retrieval"
	"github.com/cogmemd/cogmemd/internal/store"
)

// Tier is the HOT/WARM/COLD classification of an attention score.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"

	hotThreshold  = 0.75
	warmThreshold = 0.35

	// coActivationBonus is the fixed additive bump applied to a depth-1
	// related/causal neighbor of a newly activated memory.
	coActivationBonus = 0.35

	// summaryAnchorLimit bounds how many anchor ids a WARM projection lists.
	summaryAnchorLimit = 3
)

// Classify buckets an attention score per spec.md §4.8's fixed thresholds.
func Classify(score float64) Tier {
	switch {
	case score >= hotThreshold:
		return TierHot
	case score >= warmThreshold:
		return TierWarm
	default:
		return TierCold
	}
}

// TriggerMatcher is the subset of the retrieval engine C8 depends on to seed
// activation from a prompt. Scoped to an interface so workingmem doesn't
// need the rest of search.Engine's surface.
type TriggerMatcher interface {
	MatchTriggerPhrases(ctx context.Context, prompt string, limit int) ([]MatchedMemory, error)
}

// MatchedMemory is the shape TriggerMatcher returns — just enough to seed
// activation, independent of the retrieval package's richer Result type.
type MatchedMemory struct {
	MemoryID int64
}

// EngineMatcher adapts a retrieval Engine's MatchTriggerPhrases to
// TriggerMatcher, so a Tracker can be wired directly against C7 without C7
// depending back on working memory's types.
type EngineMatcher struct {
	Engine *search.Engine
}

func (m EngineMatcher) MatchTriggerPhrases(ctx context.Context, prompt string, limit int) ([]MatchedMemory, error) {
	results, err := m.Engine.MatchTriggerPhrases(ctx, prompt, limit)
	if err != nil {
		return nil, err
	}
	out := make([]MatchedMemory, len(results))
	for i, r := range results {
		out[i] = MatchedMemory{MemoryID: r.Memory.ID}
	}
	return out, nil
}

// Projection is one row returned from a Turn call: HOT rows carry full
// content, WARM rows carry a summary, COLD rows are never returned (they
// stay tracked in the working_memory table only).
type Projection struct {
	MemoryID int64
	Tier     Tier
	Score    float64
	Title    string
	Content  string // full content, HOT only
	Summary  string // title + top anchors, WARM only
}

// Tracker holds the dependencies a Turn call needs: the metadata store for
// persistence and causal/related lookups, a trigger matcher to seed
// activation, and the decay/spread/cap parameters from config.
type Tracker struct {
	Metadata store.MetadataStore
	Trigger  TriggerMatcher
	Config   config.WorkingMemoryConfig
	Now      func() time.Time
}

func (tr *Tracker) now() time.Time {
	if tr.Now != nil {
		return tr.Now()
	}
	return time.Now()
}

// Turn advances a session's working memory by one turn: decay, trigger
// match, activation, co-activation, soft-cap eviction, and projection.
func (tr *Tracker) Turn(ctx context.Context, sessionID string, turn int, prompt string) ([]Projection, error) {
	entries, err := tr.Metadata.GetWorkingMemory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*store.WorkingMemoryEntry, len(entries))
	for _, e := range entries {
		byID[e.MemoryID] = e
	}

	tr.decay(byID, turn)

	matches, err := tr.Trigger.MatchTriggerPhrases(ctx, prompt, matchLimit(tr.Config))
	if err != nil {
		return nil, err
	}

	activated := make([]int64, 0, len(matches))
	for _, m := range matches {
		e := tr.entryFor(byID, sessionID, m.MemoryID)
		e.AttentionScore = 1.0
		e.LastTurnActivated = turn
		e.LastDecayTurn = turn
		activated = append(activated, m.MemoryID)
	}

	for _, id := range activated {
		if err := tr.coActivate(ctx, byID, sessionID, turn, id); err != nil {
			return nil, err
		}
	}

	tr.enforceSoftCap(byID)

	kept := make([]*store.WorkingMemoryEntry, 0, len(byID))
	keepIDs := make([]int64, 0, len(byID))
	for _, e := range byID {
		kept = append(kept, e)
		keepIDs = append(keepIDs, e.MemoryID)
	}

	if err := tr.Metadata.UpsertWorkingMemory(ctx, kept); err != nil {
		return nil, err
	}
	if err := tr.Metadata.PruneWorkingMemory(ctx, sessionID, keepIDs); err != nil {
		return nil, err
	}

	return tr.project(ctx, kept)
}

func matchLimit(cfg config.WorkingMemoryConfig) int {
	if cfg.MaxActiveMemories > 0 {
		return cfg.MaxActiveMemories
	}
	return 40
}

func (tr *Tracker) entryFor(byID map[int64]*store.WorkingMemoryEntry, sessionID string, memoryID int64) *store.WorkingMemoryEntry {
	if e, ok := byID[memoryID]; ok {
		return e
	}
	e := &store.WorkingMemoryEntry{SessionID: sessionID, MemoryID: memoryID}
	byID[memoryID] = e
	return e
}

// decay multiplies every entry's score by a power-law factor keyed on the
// elapsed turns since its last decay, clamped at the configured floor, and
// drops entries that decay to zero so they don't linger forever.
func (tr *Tracker) decay(byID map[int64]*store.WorkingMemoryEntry, turn int) {
	rate := tr.Config.DecayRate
	if rate <= 0 {
		rate = 0.5
	}
	for id, e := range byID {
		delta := turn - e.LastDecayTurn
		if delta <= 0 {
			continue
		}
		factor := math.Pow(float64(delta+1), -rate)
		e.AttentionScore *= factor
		e.LastDecayTurn = turn
		if e.AttentionScore < tr.Config.AttentionFloor {
			delete(byID, id)
		}
	}
}

// coActivate follows depth-1 related_memories and enabled_by/derived_from
// causal links from a newly activated memory, bumping each neighbor's score
// by coActivationBonus (clamped to 1.0) without overriding an existing,
// higher activation.
func (tr *Tracker) coActivate(ctx context.Context, byID map[int64]*store.WorkingMemoryEntry, sessionID string, turn int, memoryID int64) error {
	m, err := tr.Metadata.GetMemory(ctx, memoryID)
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}

	neighbors := make(map[int64]bool, len(m.RelatedMemories))
	for _, id := range m.RelatedMemories {
		neighbors[id] = true
	}

	outgoing, err := tr.Metadata.GetEdgesBySource(ctx, memoryID)
	if err != nil {
		return err
	}
	incoming, err := tr.Metadata.GetEdgesByTarget(ctx, memoryID)
	if err != nil {
		return err
	}
	for _, e := range outgoing {
		if e.Relation == store.RelationEnabledBy || e.Relation == store.RelationDerivedFrom {
			neighbors[e.TargetID] = true
		}
	}
	for _, e := range incoming {
		if e.Relation == store.RelationEnabledBy || e.Relation == store.RelationDerivedFrom {
			neighbors[e.SourceID] = true
		}
	}

	for id := range neighbors {
		e := tr.entryFor(byID, sessionID, id)
		if e.LastDecayTurn == 0 && e.LastTurnActivated == 0 {
			e.LastDecayTurn = turn
		}
		e.AttentionScore = math.Min(1.0, e.AttentionScore+coActivationBonus)
	}
	return nil
}

// enforceSoftCap evicts the lowest-scoring entries once the session's
// tracked-entry count exceeds MaxActiveMemories.
func (tr *Tracker) enforceSoftCap(byID map[int64]*store.WorkingMemoryEntry) {
	limit := tr.Config.MaxActiveMemories
	if limit <= 0 || len(byID) <= limit {
		return
	}
	ordered := make([]*store.WorkingMemoryEntry, 0, len(byID))
	for _, e := range byID {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].AttentionScore > ordered[j].AttentionScore })
	for _, e := range ordered[limit:] {
		delete(byID, e.MemoryID)
	}
}

// project renders HOT rows with full content and WARM rows with a summary;
// COLD rows are tracked (already persisted above) but not returned.
func (tr *Tracker) project(ctx context.Context, entries []*store.WorkingMemoryEntry) ([]Projection, error) {
	var out []Projection
	for _, e := range entries {
		tier := Classify(e.AttentionScore)
		if tier == TierCold {
			continue
		}
		m, err := tr.Metadata.GetMemory(ctx, e.MemoryID)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		p := Projection{MemoryID: e.MemoryID, Tier: tier, Score: e.AttentionScore, Title: m.Title}
		switch tier {
		case TierHot:
			p.Content = m.Content
		case TierWarm:
			p.Summary = warmSummary(m)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func warmSummary(m *store.Memory) string {
	spans := memfile.Anchors(m.Content)
	if len(spans) == 0 {
		return m.Title
	}
	if len(spans) > summaryAnchorLimit {
		spans = spans[:summaryAnchorLimit]
	}
	summary := m.Title
	for _, s := range spans {
		summary += " [" + s.ID + "]"
	}
	return summary
}
