// Package causal implements the typed causal graph over memories:
// insertion/deletion of edges, bounded BFS traversal, orphan detection, and
// coverage statistics (spec.md §4.10).
package causal

import (
	"context"

	cogerrors "github.com/cogmemd/cogmemd/internal/errors"
	"github.com/cogmemd/cogmemd/internal/store"
)

// Direction constrains which endpoint of an edge get_causal_chain follows.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"

	// MaxChainDepth is get_causal_chain's hard depth ceiling.
	MaxChainDepth = 10
)

func (d Direction) valid() bool {
	switch d {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth, "":
		return true
	}
	return false
}

// RelationTypes lists the fixed set of valid causal edge relations.
func RelationTypes() []store.CausalRelation {
	return []store.CausalRelation{
		store.RelationCausedBy,
		store.RelationEnabledBy,
		store.RelationSupersedes,
		store.RelationContradicts,
		store.RelationDerivedFrom,
		store.RelationSupports,
	}
}

// Graph exposes causal-graph operations over a metadata store.
type Graph struct {
	Metadata store.MetadataStore
}

// InsertEdge validates the relation type and strength, then inserts the
// edge.
func (g *Graph) InsertEdge(ctx context.Context, e *store.CausalEdge) (int64, error) {
	if !e.Relation.Valid() {
		return 0, cogerrors.New(cogerrors.CodeInvalidParameter, "unknown causal relation: "+string(e.Relation), nil)
	}
	if e.Strength < 0 || e.Strength > 1 {
		return 0, cogerrors.New(cogerrors.CodeInvalidParameter, "edge strength must be in [0,1]", nil)
	}
	id, err := g.Metadata.InsertEdge(ctx, e)
	if err != nil {
		return 0, cogerrors.New(cogerrors.CodeDatabaseError, "failed to insert causal edge", err)
	}
	return id, nil
}

// DeleteEdge removes an edge by id, reporting whether it existed.
func (g *Graph) DeleteEdge(ctx context.Context, id int64) (bool, error) {
	ok, err := g.Metadata.DeleteEdge(ctx, id)
	if err != nil {
		return false, cogerrors.New(cogerrors.CodeDatabaseError, "failed to delete causal edge", err)
	}
	return ok, nil
}

// ChainResult is get_causal_chain's bucketed, depth-bounded BFS output.
type ChainResult struct {
	RootID          int64
	MaxDepthReached bool
	All             []*store.CausalEdge
	ByCause         []*store.CausalEdge
	ByEnabled       []*store.CausalEdge
	BySupersedes    []*store.CausalEdge
	ByContradicts   []*store.CausalEdge
	ByDerivedFrom   []*store.CausalEdge
	BySupports      []*store.CausalEdge
}

func (r *ChainResult) add(e *store.CausalEdge) {
	r.All = append(r.All, e)
	switch e.Relation {
	case store.RelationCausedBy:
		r.ByCause = append(r.ByCause, e)
	case store.RelationEnabledBy:
		r.ByEnabled = append(r.ByEnabled, e)
	case store.RelationSupersedes:
		r.BySupersedes = append(r.BySupersedes, e)
	case store.RelationContradicts:
		r.ByContradicts = append(r.ByContradicts, e)
	case store.RelationDerivedFrom:
		r.ByDerivedFrom = append(r.ByDerivedFrom, e)
	case store.RelationSupports:
		r.BySupports = append(r.BySupports, e)
	}
}

// GetCausalChain performs a bounded BFS from memoryID, following edges in
// the requested direction (optionally restricted to a relation subset),
// bucketing results by relation, detecting cycles by ignoring revisited
// nodes, and flagging max_depth_reached when the frontier was truncated.
func (g *Graph) GetCausalChain(ctx context.Context, memoryID int64, maxDepth int, direction Direction, relations []store.CausalRelation) (*ChainResult, error) {
	if !direction.valid() {
		return nil, cogerrors.New(cogerrors.CodeInvalidParameter, "invalid direction: "+string(direction), nil)
	}
	if direction == "" {
		direction = DirectionBoth
	}
	if maxDepth <= 0 || maxDepth > MaxChainDepth {
		maxDepth = MaxChainDepth
	}

	allowed := make(map[store.CausalRelation]bool, len(relations))
	for _, r := range relations {
		allowed[r] = true
	}
	filterRelations := len(allowed) > 0

	result := &ChainResult{RootID: memoryID}
	visitedNodes := map[int64]bool{memoryID: true}
	visitedEdges := make(map[int64]bool)
	frontier := []int64{memoryID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []int64
		for _, node := range frontier {
			edges, err := g.incidentEdges(ctx, node, direction)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if filterRelations && !allowed[e.Relation] {
					continue
				}
				if visitedEdges[e.ID] {
					continue
				}
				visitedEdges[e.ID] = true
				result.add(e)

				other := e.TargetID
				if other == node {
					other = e.SourceID
				}
				if !visitedNodes[other] {
					visitedNodes[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	result.MaxDepthReached = len(frontier) > 0
	return result, nil
}

func (g *Graph) incidentEdges(ctx context.Context, node int64, direction Direction) ([]*store.CausalEdge, error) {
	var edges []*store.CausalEdge
	if direction == DirectionOutgoing || direction == DirectionBoth {
		out, err := g.Metadata.GetEdgesBySource(ctx, node)
		if err != nil {
			return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to load outgoing edges", err)
		}
		edges = append(edges, out...)
	}
	if direction == DirectionIncoming || direction == DirectionBoth {
		in, err := g.Metadata.GetEdgesByTarget(ctx, node)
		if err != nil {
			return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to load incoming edges", err)
		}
		edges = append(edges, in...)
	}
	return edges, nil
}

// Stats summarizes the overall health/coverage of the causal graph.
type Stats struct {
	TotalEdges          int
	LinkCoveragePercent float64
	ByRelation          map[store.CausalRelation]int
}

// GetGraphStats reports total edges, per-relation counts, and the percent
// of memories with at least one incident edge.
func (g *Graph) GetGraphStats(ctx context.Context) (*Stats, error) {
	edges, err := g.Metadata.AllEdges(ctx)
	if err != nil {
		return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to load causal edges", err)
	}
	totalMemories, err := g.Metadata.CountMemories(ctx)
	if err != nil {
		return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to count memories", err)
	}

	linked := make(map[int64]bool)
	byRelation := make(map[store.CausalRelation]int)
	for _, e := range edges {
		linked[e.SourceID] = true
		linked[e.TargetID] = true
		byRelation[e.Relation]++
	}

	var coverage float64
	if totalMemories > 0 {
		coverage = round2(float64(len(linked)) / float64(totalMemories) * 100)
	}

	return &Stats{TotalEdges: len(edges), LinkCoveragePercent: coverage, ByRelation: byRelation}, nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// FindOrphanedEdges reports edges referencing a memory that no longer
// exists, reusing the store's integrity check rather than re-deriving it.
func (g *Graph) FindOrphanedEdges(ctx context.Context) ([]int64, error) {
	report, err := g.Metadata.VerifyIntegrity(ctx, false)
	if err != nil {
		return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to check edge integrity", err)
	}
	return report.OrphanedEdges, nil
}
