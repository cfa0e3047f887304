// Package memfile parses Markdown memory files into the normalized row
// shape persisted by internal/store, validating front-matter and content
// without blocking indexing on minor issues.
package memfile

import (
	"github.com/cogmemd/cogmemd/internal/store"
)

// MaxTriggerPhrases bounds the number of trigger phrases kept per memory.
const MaxTriggerPhrases = 10

// MaxTriggerPhraseLen clamps each trigger phrase's length.
const MaxTriggerPhraseLen = 80

// Anchor describes one ANCHOR:<id> ... /ANCHOR:<id> span found in a file.
type Anchor struct {
	ID        string
	StartLine int
	EndLine   int
	Closed    bool
}

// Parsed is the normalized shape produced by parsing a memory file.
type Parsed struct {
	SpecFolder     string
	FilePath       string
	Title          string
	Content        string
	ContentHash    string
	TriggerPhrases []string
	ContextType    store.ContextType
	ImportanceTier store.ImportanceTier
	Anchors        []Anchor
}

// ValidationError is a fatal parsing problem; its presence means the file
// must not be indexed.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Warning is a non-fatal parsing observation attached to the indexing
// result rather than blocking it.
type Warning struct {
	Field   string
	Message string
}

func (w Warning) String() string {
	if w.Field == "" {
		return w.Message
	}
	return w.Field + ": " + w.Message
}

// Result is the full output of parsing one memory file.
type Result struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []Warning
	Parsed   Parsed
}
