package fsrs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cogmemd/cogmemd/internal/config"
)

func testScheduler() *Scheduler {
	return NewScheduler(config.SchedulerConfig{
		InitialStability:    1.0,
		InitialDifficulty:   5.0,
		RetrievabilityFloor: 0.7,
	})
}

func TestRetrievability_DecaysWithElapsedTime(t *testing.T) {
	r0 := Retrievability(2.0, 0)
	r1 := Retrievability(2.0, 2.0)
	r2 := Retrievability(2.0, 10.0)

	assert.InDelta(t, 1.0, r0, 0.0001)
	assert.Less(t, r1, r0)
	assert.Less(t, r2, r1)
}

func TestRetrievability_NegativeElapsedClampsToZero(t *testing.T) {
	r := Retrievability(2.0, -5.0)
	assert.InDelta(t, 1.0, r, 0.0001)
}

func TestScheduler_InitialState_UsesConfiguredDefaults(t *testing.T) {
	s := testScheduler()
	now := time.Now()

	state := s.InitialState(now)

	assert.Equal(t, 1.0, state.Stability)
	assert.Equal(t, 5.0, state.Difficulty)
	assert.Equal(t, 0, state.ReviewCount)
	assert.Equal(t, now, state.LastReview)
}

func TestScheduler_Review_StabilityIncreasesMonotonicallyWithGrade(t *testing.T) {
	s := testScheduler()
	base := State{Stability: 2.0, Difficulty: 5.0, LastReview: time.Now().Add(-3 * 24 * time.Hour), ReviewCount: 1}
	now := time.Now()

	again := s.Review(base, GradeAgain, now)
	hard := s.Review(base, GradeHard, now)
	good := s.Review(base, GradeGood, now)
	easy := s.Review(base, GradeEasy, now)

	assert.Less(t, again.Stability, hard.Stability)
	assert.Less(t, hard.Stability, good.Stability)
	assert.Less(t, good.Stability, easy.Stability)
}

func TestScheduler_Review_StabilityIncreasesMoreWhenRetrievabilityIsLower(t *testing.T) {
	s := testScheduler()
	now := time.Now()

	recentlyReviewed := State{Stability: 2.0, Difficulty: 5.0, LastReview: now.Add(-1 * 24 * time.Hour)}
	longOverdue := State{Stability: 2.0, Difficulty: 5.0, LastReview: now.Add(-30 * 24 * time.Hour)}

	afterRecent := s.Review(recentlyReviewed, GradeGood, now)
	afterOverdue := s.Review(longOverdue, GradeGood, now)

	assert.Greater(t, afterOverdue.Stability, afterRecent.Stability,
		"recalling a memory that decayed further should grant a larger desirable-difficulty bonus")
}

func TestScheduler_Review_DifficultyClampedToRange(t *testing.T) {
	s := testScheduler()
	now := time.Now()

	extreme := State{Stability: 1.0, Difficulty: 9.9, LastReview: now}
	for i := 0; i < 50; i++ {
		extreme = s.Review(extreme, GradeEasy, now)
	}
	assert.GreaterOrEqual(t, extreme.Difficulty, MinDifficulty)
	assert.LessOrEqual(t, extreme.Difficulty, MaxDifficulty)

	hard := State{Stability: 1.0, Difficulty: 1.1, LastReview: now}
	for i := 0; i < 50; i++ {
		hard = s.Review(hard, GradeAgain, now)
	}
	assert.GreaterOrEqual(t, hard.Difficulty, MinDifficulty)
	assert.LessOrEqual(t, hard.Difficulty, MaxDifficulty)
}

func TestScheduler_Review_ReviewCountIncrements(t *testing.T) {
	s := testScheduler()
	now := time.Now()
	state := State{Stability: 1.0, Difficulty: 5.0, LastReview: now, ReviewCount: 3}

	updated := s.Review(state, GradeGood, now)

	assert.Equal(t, 4, updated.ReviewCount)
}

func TestScheduler_Review_StabilityNeverBelowFloor(t *testing.T) {
	s := testScheduler()
	now := time.Now()
	state := State{Stability: MinStability, Difficulty: 5.0, LastReview: now}

	for i := 0; i < 20; i++ {
		state = s.Review(state, GradeAgain, now)
	}
	assert.GreaterOrEqual(t, state.Stability, MinStability)
}

func TestScheduler_Retrieve_AppliesTestingEffectBonus(t *testing.T) {
	s := testScheduler()
	now := time.Now()
	state := State{Stability: 2.0, Difficulty: 5.0, LastReview: now.Add(-20 * 24 * time.Hour)}

	reviewed := s.Review(state, GradeGood, now)
	retrieved := s.Retrieve(state, now)

	assert.Greater(t, retrieved.Stability, reviewed.Stability,
		"access strengthening must add a bonus beyond a plain GOOD review")
}

func TestScheduler_IsStale_ReflectsRetrievabilityFloor(t *testing.T) {
	s := testScheduler()
	now := time.Now()

	fresh := State{Stability: 10.0, Difficulty: 5.0, LastReview: now}
	stale := State{Stability: 0.5, Difficulty: 5.0, LastReview: now.Add(-30 * 24 * time.Hour)}

	assert.False(t, s.IsStale(fresh, now))
	assert.True(t, s.IsStale(stale, now))
}
