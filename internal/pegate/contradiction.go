package pegate

import (
	"fmt"
	"regexp"
	"strings"
)

// ContradictionDetector decides whether new content directly contradicts
// an existing candidate's content. Implementations must be conservative:
// ambiguous input resolves to "no contradiction found" so the gate falls
// back to UPDATE rather than SUPERSEDE.
type ContradictionDetector interface {
	Detect(candidateContent, newContent string) Contradiction
}

// NegationPairDetector is the default ContradictionDetector. It looks for
// two narrow textual signals: a directive ("do X") paired with its
// negation ("do not X") on the same normalized subject, and an
// instruction naming one value for a topic ("use A") paired with a
// different value for the same topic ("use B"). Anything else is treated
// as ambiguous and reported as no contradiction.
type NegationPairDetector struct{}

// NewNegationPairDetector constructs the default conservative detector.
func NewNegationPairDetector() *NegationPairDetector {
	return &NegationPairDetector{}
}

var (
	sentenceSplitPattern = regexp.MustCompile(`[.!?\n]+`)
	bulletPrefixPattern  = regexp.MustCompile(`^[\s*\-+>#]+`)

	negationTrigger = regexp.MustCompile(`(?i)^(?:do not|don't|never|stop|avoid)\s+(.{1,60})$`)
	positiveTrigger = regexp.MustCompile(`(?i)^(?:always\s+)?do\s+(.{1,60})$`)
	useTrigger      = regexp.MustCompile(`(?i)\buse\s+([a-z0-9][a-z0-9_.\-]*)`)
)

func (d *NegationPairDetector) Detect(candidateContent, newContent string) Contradiction {
	candidateSentences := sentences(candidateContent)
	newSentences := sentences(newContent)

	if c := detectDirectiveFlip(candidateSentences, newSentences); c.Found {
		return c
	}
	return detectUseValueConflict(candidateSentences, newSentences)
}

func sentences(text string) []string {
	parts := sentenceSplitPattern.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = bulletPrefixPattern.ReplaceAllString(p, "")
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeSubject(s string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(s)), ".,;:!? ")
}

// detectDirectiveFlip finds a "do X" in one side and "do not X" (or an
// equivalent negation) on the same normalized subject in the other.
func detectDirectiveFlip(candidateSentences, newSentences []string) Contradiction {
	candidatePos, candidateNeg := directiveSets(candidateSentences)
	newPos, newNeg := directiveSets(newSentences)

	for subject, sentence := range candidatePos {
		if negSentence, ok := newNeg[subject]; ok {
			return Contradiction{Found: true, Span: fmt.Sprintf("%q vs %q", sentence, negSentence)}
		}
	}
	for subject, sentence := range candidateNeg {
		if posSentence, ok := newPos[subject]; ok {
			return Contradiction{Found: true, Span: fmt.Sprintf("%q vs %q", sentence, posSentence)}
		}
	}
	return Contradiction{}
}

func directiveSets(sents []string) (positive, negative map[string]string) {
	positive = make(map[string]string)
	negative = make(map[string]string)
	for _, s := range sents {
		if m := negationTrigger.FindStringSubmatch(s); m != nil {
			negative[normalizeSubject(m[1])] = s
			continue
		}
		if m := positiveTrigger.FindStringSubmatch(s); m != nil {
			positive[normalizeSubject(m[1])] = s
		}
	}
	return positive, negative
}

// detectUseValueConflict finds "use A" on one side and "use B" on the
// other for what is otherwise the same sentence (the text around the
// captured value matches), where A and B differ.
func detectUseValueConflict(candidateSentences, newSentences []string) Contradiction {
	candidateUse := useStatements(candidateSentences)
	newUse := useStatements(newSentences)

	for context, candidateValue := range candidateUse {
		newValue, ok := newUse[context]
		if !ok {
			continue
		}
		if normalizeSubject(candidateValue) == normalizeSubject(newValue) {
			continue
		}
		return Contradiction{
			Found: true,
			Span:  fmt.Sprintf("use %s vs use %s", candidateValue, newValue),
		}
	}
	return Contradiction{}
}

// useStatements maps a sentence's context (the sentence with the matched
// value removed) to the value it names, so two sentences about the same
// topic naming different values can be compared.
func useStatements(sents []string) map[string]string {
	out := make(map[string]string)
	for _, s := range sents {
		m := useTrigger.FindStringSubmatchIndex(s)
		if m == nil {
			continue
		}
		value := s[m[2]:m[3]]
		context := normalizeSubject(s[:m[2]] + s[m[3]:])
		if context == "" {
			continue
		}
		out[context] = value
	}
	return out
}
