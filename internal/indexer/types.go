// Package indexer serializes the memory-file write path so that a file
// becomes a memory row, a vector, and cache invalidation consistently
// with the prediction-error gate's decision (spec.md §4.4).
package indexer

import "github.com/cogmemd/cogmemd/internal/memfile"

// Status is the outcome of indexing a single memory file.
type Status string

const (
	StatusUnchanged  Status = "unchanged"
	StatusCreated    Status = "created"
	StatusUpdated    Status = "updated"
	StatusReinforced Status = "reinforced"
	StatusSuperseded Status = "superseded"
)

// IndexOptions controls a single index_memory_file call.
type IndexOptions struct {
	// Force bypasses the unchanged-content-hash short circuit.
	Force bool
	// AllowPartialUpdate stores the row with embedding_status=pending
	// instead of rolling back the whole write when embedding fails.
	AllowPartialUpdate bool
}

// Result is index_memory_file's return shape.
type Result struct {
	Status   Status
	ID       int64
	PEAction string
	PEReason string
	Warnings []string
}

// warningStrings renders memfile warnings as plain strings for Result.Warnings.
func warningStrings(warnings []memfile.Warning) []string {
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = w.String()
	}
	return out
}
