package fsrs

import (
	"math"
	"time"

	"github.com/cogmemd/cogmemd/internal/config"
)

// testingEffectGrade is the fixed grade applied on access strengthening;
// spec.md §4.6 requires every successful retrieval to reinforce a memory
// as if it had been reviewed and recalled correctly.
const testingEffectGrade = GradeGood

// Scheduler computes retrievability and applies review/access updates to
// a memory's stability and difficulty.
type Scheduler struct {
	initialStability    float64
	initialDifficulty   float64
	retrievabilityFloor float64
}

// NewScheduler builds a Scheduler from the configured defaults (C2).
func NewScheduler(cfg config.SchedulerConfig) *Scheduler {
	s := &Scheduler{
		initialStability:    cfg.InitialStability,
		initialDifficulty:   cfg.InitialDifficulty,
		retrievabilityFloor: cfg.RetrievabilityFloor,
	}
	if s.initialStability <= 0 {
		s.initialStability = 1.0
	}
	if s.initialDifficulty <= 0 {
		s.initialDifficulty = 5.0
	}
	if s.retrievabilityFloor <= 0 {
		s.retrievabilityFloor = 0.7
	}
	return s
}

// InitialState is the State a newly created memory row starts with.
func (s *Scheduler) InitialState(now time.Time) State {
	return State{
		Stability:   s.initialStability,
		Difficulty:  s.initialDifficulty,
		LastReview:  now,
		ReviewCount: 0,
	}
}

// IsStale reports whether the memory's retrievability has dropped below
// the configured floor and it is due for review.
func (s *Scheduler) IsStale(state State, now time.Time) bool {
	return Retrievability(state.Stability, elapsedDays(state.LastReview, now)) < s.retrievabilityFloor
}

// Retrievability computes R(Δ) = exp(-Δ/S) for elapsed days Δ (clamped
// to ≥ 0) and stability S.
func Retrievability(stability float64, elapsedDays float64) float64 {
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	if stability <= 0 {
		stability = MinStability
	}
	return math.Exp(-elapsedDays / stability)
}

func elapsedDays(lastReview, now time.Time) float64 {
	return now.Sub(lastReview).Hours() / 24.0
}

// gradeStabilityMultiplier is strictly increasing in recall quality: a
// failed recall (AGAIN) shrinks stability, a perfect recall (EASY)
// grows it the most.
func gradeStabilityMultiplier(g Grade) float64 {
	switch g {
	case GradeAgain:
		return 0.5
	case GradeHard:
		return 1.0
	case GradeGood:
		return 1.8
	case GradeEasy:
		return 2.6
	default:
		return 1.0
	}
}

// gradeTargetDifficulty is the difficulty value a grade pulls the memory
// toward: failing a recall makes it look harder, acing it makes it look
// easier.
func gradeTargetDifficulty(g Grade) float64 {
	switch g {
	case GradeAgain:
		return 9.0
	case GradeHard:
		return 7.0
	case GradeGood:
		return 5.0
	case GradeEasy:
		return 2.0
	default:
		return 5.0
	}
}

// Review applies grade g to state at time now, returning the updated
// state. New stability is a monotone function of (S, D, R, g): it
// strictly increases with g (via gradeStabilityMultiplier) and strictly
// decreases with retrievability R (via the desirable-difficulty bonus,
// which rewards recalling a memory that had decayed further). New
// difficulty drifts toward the grade's target, clamped to [1, 10].
func (s *Scheduler) Review(state State, grade Grade, now time.Time) State {
	r := Retrievability(state.Stability, elapsedDays(state.LastReview, now))
	desirableDifficultyBonus := 1.0 + (1.0-r)*(state.Difficulty/MaxDifficulty)*0.5

	newStability := state.Stability * gradeStabilityMultiplier(grade) * desirableDifficultyBonus
	if newStability < MinStability {
		newStability = MinStability
	}

	target := gradeTargetDifficulty(grade)
	newDifficulty := clamp(state.Difficulty+(target-state.Difficulty)*0.2, MinDifficulty, MaxDifficulty)

	return State{
		Stability:   newStability,
		Difficulty:  newDifficulty,
		LastReview:  now,
		ReviewCount: state.ReviewCount + 1,
	}
}

// Retrieve applies the access-strengthening ("testing effect") update:
// every retrieval that returns a memory reviews it as GOOD plus an
// additional multiplicative bonus (1 + max(0, 0.9 - R) * 0.5) rewarding
// retrieval of memories that had decayed close to or past the floor.
// Callers are responsible for bumping the row's access_count and
// last_accessed fields; those are bookkeeping counters, not scheduler
// state.
func (s *Scheduler) Retrieve(state State, now time.Time) State {
	r := Retrievability(state.Stability, elapsedDays(state.LastReview, now))
	updated := s.Review(state, testingEffectGrade, now)

	testingBonus := 1.0 + math.Max(0, 0.9-r)*0.5
	updated.Stability *= testingBonus
	if updated.Stability < MinStability {
		updated.Stability = MinStability
	}
	return updated
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
