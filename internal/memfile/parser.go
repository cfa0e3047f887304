package memfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cogmemd/cogmemd/internal/store"
)

var (
	utf8BOM = []byte{0xEF, 0xBB, 0xBF}

	// frontmatterPattern matches a leading "---\n...\n---" YAML block.
	frontmatterPattern = regexp.MustCompile(`(?s)^---\r?\n(.*?)\r?\n---[ \t]*\r?\n?`)

	// anchorPattern matches ANCHOR:<id> opens and /ANCHOR:<id> closes.
	anchorPattern = regexp.MustCompile(`(/?)ANCHOR:(\S+)`)
)

type frontMatter struct {
	Title          string   `yaml:"title"`
	SpecFolder     string   `yaml:"spec_folder"`
	ContextType    string   `yaml:"context_type"`
	ImportanceTier string   `yaml:"importance_tier"`
	TriggerPhrases []string `yaml:"trigger_phrases"`
}

// ContentHash computes the same sha256-over-normalized-bytes hash Parse
// stores on a Memory row, without running the rest of parsing. Callers
// use it to cheaply check whether a file changed before paying for a
// full Parse + embed pass.
func ContentHash(raw []byte) string {
	sum := sha256.Sum256(normalizeForHash(stripBOM(raw)))
	return hex.EncodeToString(sum[:])
}

// Parse parses the raw bytes of a memory file at path into a Result. It
// never returns a Go error: malformed input surfaces as Result.Errors so
// callers can still report a response for a broken file.
func Parse(path string, raw []byte) Result {
	raw = stripBOM(raw)
	normalized := normalizeForHash(raw)
	sum := sha256.Sum256(normalized)

	var errs []ValidationError
	var warns []Warning

	content := string(raw)
	fm, body, ok := splitFrontMatter(content)
	if !ok {
		errs = append(errs, ValidationError{Field: "front_matter", Message: "missing or malformed YAML front-matter block"})
	}

	var parsed frontMatter
	if ok {
		if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
			errs = append(errs, ValidationError{Field: "front_matter", Message: fmt.Sprintf("invalid YAML: %v", err)})
		}
	}

	if strings.TrimSpace(parsed.Title) == "" {
		errs = append(errs, ValidationError{Field: "title", Message: "required"})
	}
	if strings.TrimSpace(parsed.SpecFolder) == "" {
		errs = append(errs, ValidationError{Field: "spec_folder", Message: "required"})
	}

	contextType := store.ContextType(strings.TrimSpace(parsed.ContextType))
	if contextType == "" {
		errs = append(errs, ValidationError{Field: "context_type", Message: "required"})
	} else if !contextType.Valid() {
		errs = append(errs, ValidationError{Field: "context_type", Message: fmt.Sprintf("unknown context_type %q", parsed.ContextType)})
	}

	importanceTier := store.ImportanceTier(strings.TrimSpace(parsed.ImportanceTier))
	if importanceTier == "" {
		errs = append(errs, ValidationError{Field: "importance_tier", Message: "required"})
	} else if !importanceTier.Valid() {
		errs = append(errs, ValidationError{Field: "importance_tier", Message: fmt.Sprintf("unknown importance_tier %q", parsed.ImportanceTier)})
	}

	triggers := normalizeTriggerPhrases(parsed.TriggerPhrases)

	anchors, anchorWarnings := scanAnchors(body)
	warns = append(warns, anchorWarnings...)

	result := Result{
		Valid:    len(errs) == 0,
		Errors:   errs,
		Warnings: warns,
		Parsed: Parsed{
			SpecFolder:     parsed.SpecFolder,
			FilePath:       path,
			Title:          parsed.Title,
			Content:        strings.TrimLeft(body, "\r\n"),
			ContentHash:    hex.EncodeToString(sum[:]),
			TriggerPhrases: triggers,
			ContextType:    contextType,
			ImportanceTier: importanceTier,
			Anchors:        anchors,
		},
	}
	return result
}

func stripBOM(raw []byte) []byte {
	if len(raw) >= 3 && raw[0] == utf8BOM[0] && raw[1] == utf8BOM[1] && raw[2] == utf8BOM[2] {
		return raw[3:]
	}
	return raw
}

// normalizeForHash strips the BOM and trailing whitespace so that content
// hashes are stable across trivial re-saves.
func normalizeForHash(raw []byte) []byte {
	raw = stripBOM(raw)
	return []byte(strings.TrimRight(string(raw), " \t\r\n"))
}

func splitFrontMatter(content string) (frontMatter string, body string, ok bool) {
	match := frontmatterPattern.FindStringSubmatchIndex(content)
	if match == nil {
		return "", content, false
	}
	fm := content[match[2]:match[3]]
	rest := content[match[1]:]
	return fm, rest, true
}

// normalizeTriggerPhrases lowercases, trims, dedupes preserving first-seen
// order, truncates to MaxTriggerPhrases entries, and clamps each entry to
// its first MaxTriggerPhraseLen bytes.
func normalizeTriggerPhrases(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, phrase := range raw {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p == "" {
			continue
		}
		if len(p) > MaxTriggerPhraseLen {
			p = p[:MaxTriggerPhraseLen]
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
		if len(out) >= MaxTriggerPhrases {
			break
		}
	}
	return out
}

// Anchors re-scans a stored memory's content for its ANCHOR:<id> spans.
// Retrieval uses this to project a response down to just the spans a
// caller's anchors filter names, without re-running full Parse.
func Anchors(content string) []Anchor {
	anchors, _ := scanAnchors(content)
	return anchors
}

// Span extracts the line range an Anchor covers from content. An anchor
// left unclosed (EndLine == -1) extends to the end of the document.
func Span(content string, anchor Anchor) string {
	lines := strings.Split(content, "\n")
	end := anchor.EndLine
	if end < 0 || end >= len(lines) {
		end = len(lines) - 1
	}
	start := anchor.StartLine
	if start < 0 {
		start = 0
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start:end+1], "\n")
}

// scanAnchors detects ANCHOR:<id> ... /ANCHOR:<id> spans, warning on
// unclosed, mismatched, or orphaned markers without treating them as
// fatal errors.
func scanAnchors(body string) ([]Anchor, []Warning) {
	lines := strings.Split(body, "\n")

	type openMarker struct {
		id   string
		line int
	}
	var stack []openMarker
	var anchors []Anchor
	var warnings []Warning

	for lineNum, line := range lines {
		for _, m := range anchorPattern.FindAllStringSubmatch(line, -1) {
			isClose := m[1] == "/"
			id := m[2]
			if !isClose {
				stack = append(stack, openMarker{id: id, line: lineNum})
				continue
			}
			if len(stack) == 0 {
				warnings = append(warnings, Warning{Field: "anchors", Message: fmt.Sprintf("orphaned /ANCHOR:%s at line %d has no matching open", id, lineNum+1)})
				continue
			}
			top := stack[len(stack)-1]
			if top.id != id {
				warnings = append(warnings, Warning{Field: "anchors", Message: fmt.Sprintf("mismatched anchor close /ANCHOR:%s at line %d, expected /ANCHOR:%s", id, lineNum+1, top.id)})
			}
			stack = stack[:len(stack)-1]
			anchors = append(anchors, Anchor{ID: top.id, StartLine: top.line, EndLine: lineNum, Closed: true})
		}
	}

	for _, open := range stack {
		warnings = append(warnings, Warning{Field: "anchors", Message: fmt.Sprintf("unclosed ANCHOR:%s opened at line %d", open.id, open.line+1)})
		anchors = append(anchors, Anchor{ID: open.id, StartLine: open.line, EndLine: -1, Closed: false})
	}

	sort.Slice(anchors, func(i, j int) bool { return anchors[i].StartLine < anchors[j].StartLine })
	return anchors, warnings
}
