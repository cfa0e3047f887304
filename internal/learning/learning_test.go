package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cogerrors "github.com/cogmemd/cogmemd/internal/errors"
	"github.com/cogmemd/cogmemd/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	metadata, err := store.NewSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadata.Close() })
	return &Service{Metadata: metadata}
}

func TestPreflight_RejectsOutOfRangeScore(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Preflight(context.Background(), "auth", "task-1", "session-1", 101, 50, 50, nil)
	require.Error(t, err)
	assert.Equal(t, cogerrors.CodeInvalidParameter, cogerrors.GetCode(err))
}

func TestPreflight_StoresPreScores(t *testing.T) {
	svc := newTestService(t)
	rec, err := svc.Preflight(context.Background(), "auth", "task-1", "session-1", 20, 80, 30, []string{"refresh token lifetime"})
	require.NoError(t, err)
	assert.Equal(t, store.PhasePreflight, rec.Phase)
	assert.Equal(t, 20, rec.PreKnowledge)
}

func TestPostflight_FailsNotFoundWithoutPreflight(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Postflight(context.Background(), "auth", "task-missing", 80, 20, 70, nil, nil)
	require.Error(t, err)
	assert.Equal(t, cogerrors.CodeNotFound, cogerrors.GetCode(err))
}

func TestPostflight_ComputesLearningIndex(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.Preflight(ctx, "auth", "task-1", "session-1", 20, 80, 30, nil)
	require.NoError(t, err)

	rec, err := svc.Postflight(ctx, "auth", "task-1", 70, 20, 60, []string{"refresh token lifetime"}, nil)
	require.NoError(t, err)

	assert.Equal(t, store.PhaseComplete, rec.Phase)
	assert.InDelta(t, 50.0, rec.DeltaKnowledge, 1e-9)
	assert.InDelta(t, 60.0, rec.DeltaUncertainty, 1e-9)
	assert.InDelta(t, 30.0, rec.DeltaContext, 1e-9)

	expected := round2(0.40*50.0 + 0.35*60.0 + 0.25*30.0)
	assert.InDelta(t, expected, rec.LearningIndex, 1e-9)
	assert.Equal(t, BucketSignificant, Interpret(rec.LearningIndex))
}

func TestPostflight_AllowsNegativeLearningIndex(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.Preflight(ctx, "auth", "task-1", "session-1", 80, 20, 70, nil)
	require.NoError(t, err)

	rec, err := svc.Postflight(ctx, "auth", "task-1", 60, 50, 50, nil, nil)
	require.NoError(t, err)
	assert.Less(t, rec.LearningIndex, 0.0)
	assert.Equal(t, BucketRegression, Interpret(rec.LearningIndex))
}

func TestPostflight_RejectsDoubleCompletion(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.Preflight(ctx, "auth", "task-1", "session-1", 20, 80, 30, nil)
	require.NoError(t, err)
	_, err = svc.Postflight(ctx, "auth", "task-1", 70, 20, 60, nil, nil)
	require.NoError(t, err)

	_, err = svc.Postflight(ctx, "auth", "task-1", 70, 20, 60, nil, nil)
	require.Error(t, err)
}

func TestHistory_IncludesSummaryStats(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.Preflight(ctx, "auth", "task-1", "session-1", 20, 80, 30, nil)
	require.NoError(t, err)
	_, err = svc.Postflight(ctx, "auth", "task-1", 70, 20, 60, nil, nil)
	require.NoError(t, err)

	_, err = svc.Preflight(ctx, "auth", "task-2", "session-1", 50, 50, 50, nil)
	require.NoError(t, err)
	_, err = svc.Postflight(ctx, "auth", "task-2", 55, 48, 52, nil, nil)
	require.NoError(t, err)

	rows, summary, err := svc.History(ctx, "auth", "session-1", true, true)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.Count)
}

func TestInterpret_Buckets(t *testing.T) {
	assert.Equal(t, BucketSignificant, Interpret(40))
	assert.Equal(t, BucketModerate, Interpret(15))
	assert.Equal(t, BucketIncremental, Interpret(5))
	assert.Equal(t, BucketExecutionFocused, Interpret(0))
	assert.Equal(t, BucketRegression, Interpret(-0.01))
}
