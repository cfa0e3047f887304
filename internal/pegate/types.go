// Package pegate implements the prediction-error gate: the decision
// procedure that converts a raw "save this memory" request into a
// disciplined write, reinforcing or updating existing memories rather
// than growing the store unboundedly.
package pegate

// Action is the write-path decision the gate hands back to the indexer.
type Action string

const (
	ActionReinforce    Action = "REINFORCE"
	ActionUpdate       Action = "UPDATE"
	ActionSupersede    Action = "SUPERSEDE"
	ActionCreateLinked Action = "CREATE_LINKED"
	ActionCreate       Action = "CREATE"
)

// Candidate is one existing memory considered as a match for new content.
type Candidate struct {
	ID         int64
	Similarity float64
	Content    string
	Stability  float64
	Difficulty float64
	FilePath   string
}

// Contradiction reports whether a conservative textual check found a
// direct contradiction between a candidate and the new content.
type Contradiction struct {
	Found bool
	Span  string
}

// Decision is the gate's full output for one index_memory_file call.
type Decision struct {
	Action        Action
	Candidate     *Candidate
	Similarity    float64
	Reason        string
	Contradiction Contradiction
	RelatedIDs    []int64
}
