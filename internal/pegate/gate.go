package pegate

import (
	"fmt"
	"sort"

	"github.com/cogmemd/cogmemd/internal/config"
)

// DefaultLowSimilarityThreshold is the floor below which even the "low"
// band no longer applies and a candidate is not referenced at all. It is
// not exposed in config.PEGateConfig since, unlike the reinforce/update/
// linked thresholds, spec.md fixes it at 0.50 rather than leaving it a
// tunable operational knob.
const DefaultLowSimilarityThreshold = 0.50

// Gate evaluates the prediction-error decision for a new piece of content
// against the nearest existing memories in its spec_folder.
type Gate struct {
	reinforceThreshold float64
	updateThreshold    float64
	linkedThreshold    float64
	lowThreshold       float64
	detector           ContradictionDetector
}

// NewGate builds a Gate from the prediction-error gate's configured
// similarity bands. detector may be nil, in which case the conservative
// default NegationPairDetector is used.
func NewGate(cfg config.PEGateConfig, detector ContradictionDetector) *Gate {
	if detector == nil {
		detector = NewNegationPairDetector()
	}
	return &Gate{
		reinforceThreshold: cfg.ReinforceThreshold,
		updateThreshold:    cfg.UpdateThreshold,
		linkedThreshold:    cfg.LinkedThreshold,
		lowThreshold:       DefaultLowSimilarityThreshold,
		detector:           detector,
	}
}

// Evaluate applies the band table to the candidate with the highest
// similarity and returns the write-path decision. candidates need not be
// pre-sorted.
func (g *Gate) Evaluate(newContent string, candidates []Candidate) Decision {
	if len(candidates) == 0 {
		return Decision{
			Action: ActionCreate,
			Reason: "no similar memories found in this spec_folder",
		}
	}

	top := highestSimilarity(candidates)
	s := top.Similarity

	switch {
	case s >= g.reinforceThreshold:
		return Decision{
			Action:     ActionReinforce,
			Candidate:  &top,
			Similarity: s,
			Reason:     fmt.Sprintf("similarity %.3f >= reinforce threshold %.3f (duplicate)", s, g.reinforceThreshold),
		}

	case s >= g.updateThreshold:
		contradiction := g.detector.Detect(top.Content, newContent)
		if contradiction.Found {
			return Decision{
				Action:        ActionSupersede,
				Candidate:     &top,
				Similarity:    s,
				Reason:        fmt.Sprintf("similarity %.3f in near-duplicate band and contradiction detected", s),
				Contradiction: contradiction,
			}
		}
		return Decision{
			Action:        ActionUpdate,
			Candidate:     &top,
			Similarity:    s,
			Reason:        fmt.Sprintf("similarity %.3f in near-duplicate band, no contradiction found", s),
			Contradiction: contradiction,
		}

	case s >= g.linkedThreshold:
		return Decision{
			Action:     ActionCreateLinked,
			Candidate:  &top,
			Similarity: s,
			Reason:     fmt.Sprintf("similarity %.3f in medium band (%.3f <= s < %.3f)", s, g.linkedThreshold, g.updateThreshold),
			RelatedIDs: []int64{top.ID},
		}

	case s >= g.lowThreshold:
		return Decision{
			Action:     ActionCreate,
			Candidate:  &top,
			Similarity: s,
			Reason:     fmt.Sprintf("similarity %.3f in low band (%.3f <= s < %.3f), created with note", s, g.lowThreshold, g.linkedThreshold),
		}

	default:
		return Decision{
			Action:     ActionCreate,
			Similarity: s,
			Reason:     fmt.Sprintf("similarity %.3f below low threshold %.3f", s, g.lowThreshold),
		}
	}
}

func highestSimilarity(candidates []Candidate) Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Similarity > sorted[j].Similarity })
	return sorted[0]
}
