// Package learning implements session preflight/postflight epistemic
// tracking: a task records its knowledge/uncertainty/context scores before
// and after the work, and the delta is reduced to a single learning index
// (spec.md §4.9).
package learning

import (
	"context"
	"fmt"
	"math"

	cogerrors "github.com/cogmemd/cogmemd/internal/errors"
	"github.com/cogmemd/cogmemd/internal/store"
)

// Bucket is the qualitative interpretation of a learning index.
type Bucket string

const (
	BucketSignificant       Bucket = "significant"
	BucketModerate          Bucket = "moderate"
	BucketIncremental       Bucket = "incremental"
	BucketExecutionFocused  Bucket = "execution_focused"
	BucketRegression        Bucket = "regression"
	knowledgeWeight         = 0.40
	uncertaintyWeight       = 0.35
	contextWeight           = 0.25
	minScore, maxScore      = 0, 100
)

// Interpret buckets a learning index per spec.md §4.9's fixed cutoffs.
func Interpret(index float64) Bucket {
	switch {
	case index >= 40:
		return BucketSignificant
	case index >= 15:
		return BucketModerate
	case index >= 5:
		return BucketIncremental
	case index >= 0:
		return BucketExecutionFocused
	default:
		return BucketRegression
	}
}

// Service implements preflight/postflight recording and history lookup over
// a MetadataStore's session_learning table.
type Service struct {
	Metadata store.MetadataStore
}

func validateScore(name string, v int) error {
	if v < minScore || v > maxScore {
		return cogerrors.New(cogerrors.CodeInvalidParameter,
			fmt.Sprintf("%s must be in [0,100], got %d", name, v), nil)
	}
	return nil
}

// Preflight inserts a new preflight record for (spec_folder, task_id).
func (s *Service) Preflight(ctx context.Context, specFolder, taskID, sessionID string, knowledge, uncertainty, ctxScore int, knowledgeGaps []string) (*store.SessionLearning, error) {
	if err := validateScore("knowledge", knowledge); err != nil {
		return nil, err
	}
	if err := validateScore("uncertainty", uncertainty); err != nil {
		return nil, err
	}
	if err := validateScore("context", ctxScore); err != nil {
		return nil, err
	}

	record := &store.SessionLearning{
		SpecFolder:     specFolder,
		TaskID:         taskID,
		SessionID:      sessionID,
		Phase:          store.PhasePreflight,
		PreKnowledge:   knowledge,
		PreUncertainty: uncertainty,
		PreContext:     ctxScore,
		KnowledgeGaps:  knowledgeGaps,
	}
	id, err := s.Metadata.InsertPreflight(ctx, record)
	if err != nil {
		return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to insert preflight record", err)
	}
	record.ID = id
	return record, nil
}

// Postflight completes a preflight row with post-scores, computing the
// deltas and learning index. Fails NOT_FOUND if no matching preflight row
// exists, and refuses to re-complete an already-completed row.
func (s *Service) Postflight(ctx context.Context, specFolder, taskID string, knowledge, uncertainty, ctxScore int, gapsClosed, newGapsDiscovered []string) (*store.SessionLearning, error) {
	if err := validateScore("knowledge", knowledge); err != nil {
		return nil, err
	}
	if err := validateScore("uncertainty", uncertainty); err != nil {
		return nil, err
	}
	if err := validateScore("context", ctxScore); err != nil {
		return nil, err
	}

	existing, err := s.Metadata.GetSessionLearning(ctx, specFolder, taskID)
	if err != nil {
		return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to look up preflight record", err)
	}
	if existing == nil {
		return nil, cogerrors.New(cogerrors.CodeNotFound,
			fmt.Sprintf("no preflight record for spec_folder=%q task_id=%q", specFolder, taskID), nil)
	}
	if existing.Phase != store.PhasePreflight {
		return nil, cogerrors.New(cogerrors.CodeInvalidParameter,
			fmt.Sprintf("task %q already completed postflight", taskID), nil)
	}

	deltaKnowledge := float64(knowledge - existing.PreKnowledge)
	deltaUncertainty := float64(existing.PreUncertainty - uncertainty)
	deltaContext := float64(ctxScore - existing.PreContext)
	index := round2(knowledgeWeight*deltaKnowledge + uncertaintyWeight*deltaUncertainty + contextWeight*deltaContext)

	patch := &store.SessionLearning{
		PostKnowledge:     knowledge,
		PostUncertainty:   uncertainty,
		PostContext:       ctxScore,
		DeltaKnowledge:    deltaKnowledge,
		DeltaUncertainty:  deltaUncertainty,
		DeltaContext:      deltaContext,
		LearningIndex:     index,
		GapsClosed:        gapsClosed,
		NewGapsDiscovered: newGapsDiscovered,
	}
	completed, err := s.Metadata.CompletePostflight(ctx, specFolder, taskID, patch)
	if err != nil {
		return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to complete postflight record", err)
	}
	return completed, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// HistorySummary aggregates a set of completed session_learning rows.
type HistorySummary struct {
	Count                int
	MeanLearningIndex    float64
	MinLearningIndex     float64
	MaxLearningIndex     float64
	MeanDeltaKnowledge   float64
	MeanDeltaUncertainty float64
	MeanDeltaContext     float64
}

// History returns matching session_learning rows and, if requested, an
// aggregate summary over them.
func (s *Service) History(ctx context.Context, specFolder, sessionID string, onlyComplete, includeSummary bool) ([]*store.SessionLearning, *HistorySummary, error) {
	rows, err := s.Metadata.GetLearningHistory(ctx, specFolder, sessionID, onlyComplete)
	if err != nil {
		return nil, nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to fetch learning history", err)
	}
	if !includeSummary || len(rows) == 0 {
		return rows, nil, nil
	}

	summary := &HistorySummary{Count: len(rows), MinLearningIndex: math.MaxFloat64, MaxLearningIndex: -math.MaxFloat64}
	var sumIndex, sumK, sumU, sumC float64
	for _, r := range rows {
		sumIndex += r.LearningIndex
		sumK += r.DeltaKnowledge
		sumU += r.DeltaUncertainty
		sumC += r.DeltaContext
		if r.LearningIndex < summary.MinLearningIndex {
			summary.MinLearningIndex = r.LearningIndex
		}
		if r.LearningIndex > summary.MaxLearningIndex {
			summary.MaxLearningIndex = r.LearningIndex
		}
	}
	n := float64(len(rows))
	summary.MeanLearningIndex = round2(sumIndex / n)
	summary.MeanDeltaKnowledge = round2(sumK / n)
	summary.MeanDeltaUncertainty = round2(sumU / n)
	summary.MeanDeltaContext = round2(sumC / n)
	return rows, summary, nil
}
