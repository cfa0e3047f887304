package mcp

import (
	"fmt"
	"strings"

	search "github.com/cogmemd/cogmemd/internal/retrieval"
)

// FormatMemoryResults renders hybrid search results as markdown, used by
// CLI debug output and anywhere a human-readable rendering (rather than
// the structured envelope) is useful.
func FormatMemoryResults(query string, results []search.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No memories found for %q", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Memory Search Results for %q\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(results))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		formatMemoryResult(&sb, i+1, r)
	}

	return sb.String()
}

func formatMemoryResult(sb *strings.Builder, num int, r search.Result) {
	if r.Memory == nil {
		return
	}

	fmt.Fprintf(sb, "### %d. %s (score: %.3f, tier: %s)\n\n",
		num, r.Memory.Title, r.Score, r.Memory.ImportanceTier,
	)
	fmt.Fprintf(sb, "%s\n\n", generateMatchReason(r))

	body := r.Memory.Content
	if r.Projection != "" {
		body = r.Projection
	}
	sb.WriteString(body)
	sb.WriteString("\n\n---\n\n")
}

// generateMatchReason explains why a result surfaced: which signal
// (vector, lexical, trigger phrase) contributed and by how much.
func generateMatchReason(r search.Result) string {
	var parts []string
	if r.MatchedOn != "" {
		parts = append(parts, fmt.Sprintf("matched on: %s", r.MatchedOn))
	}
	if r.VecScore > 0 {
		parts = append(parts, fmt.Sprintf("vector similarity %.3f", r.VecScore))
	}
	if r.BM25Score > 0 {
		parts = append(parts, fmt.Sprintf("lexical score %.3f", r.BM25Score))
	}
	if len(parts) == 0 {
		return "matched memory content"
	}
	return strings.Join(parts, "; ")
}

// clampLimit ensures limit is within [min, max], substituting defaultVal
// when limit is unset.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}
