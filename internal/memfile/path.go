package memfile

import (
	"path/filepath"
	"regexp"
	"strings"
)

// allowedRootPatterns matches the directories a memory file is permitted to
// live under: specs/**/memory/ and .opencode/skill/*/constitutional/.
var allowedRootPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|/)specs/.*/memory/[^/]+$`),
	regexp.MustCompile(`(^|/)\.opencode/skill/[^/]+/constitutional/[^/]+$`),
}

// AllowedPath reports whether path lies under one of the roots memory
// files may be indexed from. Callers must reject paths outside these
// roots before invoking Parse.
func AllowedPath(path string) bool {
	clean := filepath.ToSlash(filepath.Clean(path))
	clean = strings.TrimPrefix(clean, "/")
	for _, pattern := range allowedRootPatterns {
		if pattern.MatchString(clean) {
			return true
		}
	}
	return false
}
