// Package fsrs implements a spaced-repetition-style scheduler for memory
// rows: retrievability decay, stability/difficulty updates on review, and
// the access-strengthening bonus applied whenever a retrieval returns a
// memory ("testing effect").
package fsrs

import "time"

// Grade is the reviewer's (or retrieval engine's) assessment of a recall.
type Grade string

const (
	GradeAgain Grade = "AGAIN"
	GradeHard  Grade = "HARD"
	GradeGood  Grade = "GOOD"
	GradeEasy  Grade = "EASY"
)

const (
	// MinStability is the floor below which a memory's stability never
	// falls, regardless of how poorly it is graded.
	MinStability = 0.1

	MinDifficulty = 1.0
	MaxDifficulty = 10.0
)

// State is the scheduler-relevant subset of a memory row.
type State struct {
	Stability   float64
	Difficulty  float64
	LastReview  time.Time
	ReviewCount int
}
