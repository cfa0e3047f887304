package pegate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegationPairDetector_DirectiveFlip_DetectsContradiction(t *testing.T) {
	d := NewNegationPairDetector()

	c := d.Detect("Do retry failed uploads.", "Do not retry failed uploads.")

	assert.True(t, c.Found)
	assert.NotEmpty(t, c.Span)
}

func TestNegationPairDetector_ReverseDirectiveFlip_DetectsContradiction(t *testing.T) {
	d := NewNegationPairDetector()

	c := d.Detect("Never log request bodies.", "Always do log request bodies.")

	assert.True(t, c.Found)
}

func TestNegationPairDetector_UseValueConflict_DetectsContradiction(t *testing.T) {
	d := NewNegationPairDetector()

	c := d.Detect("For session storage, use redis.", "For session storage, use postgres.")

	assert.True(t, c.Found)
}

func TestNegationPairDetector_SameUseValue_NoContradiction(t *testing.T) {
	d := NewNegationPairDetector()

	c := d.Detect("For session storage, use redis.", "For session storage, use Redis.")

	assert.False(t, c.Found)
}

func TestNegationPairDetector_UnrelatedContent_NoContradiction(t *testing.T) {
	d := NewNegationPairDetector()

	c := d.Detect("The retry backoff is exponential.", "Memory rows are keyed by content hash.")

	assert.False(t, c.Found)
}

func TestNegationPairDetector_AmbiguousPhrasing_ResolvesToNoContradiction(t *testing.T) {
	d := NewNegationPairDetector()

	c := d.Detect(
		"We decided retries should probably be limited in most cases.",
		"Retries are sometimes capped depending on the error class.",
	)

	assert.False(t, c.Found)
}

func TestSentences_StripsBulletsAndSplitsOnTerminators(t *testing.T) {
	got := sentences("- Do X.\n* Do not Y!\nPlain sentence")

	assert.Equal(t, []string{"Do X", "Do not Y", "Plain sentence"}, got)
}
