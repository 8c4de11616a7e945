package sync

import (
	"bufio"
	"os"
	"path"
	"strings"
)

// defaultIgnorePatterns are applied before any patterns read from
// .syncignore, grounded on original_source's DEFAULT_IGNORE_PATTERNS.
var defaultIgnorePatterns = []string{
	".git",
	".git/**",
	".DS_Store",
	"Thumbs.db",
	"*.tmp",
	"*.temp",
	"~*",
	"*.swp",
	"*.swo",
}

// IgnoreSet holds gitignore-style glob patterns and decides whether a
// relative path should be excluded from sync. The engine keeps one
// IgnoreSet per sync root and recompiles it whenever .syncignore itself
// changes (the ignore file is synchronized like any other path).
type IgnoreSet struct {
	patterns []string
}

// NewIgnoreSet builds an IgnoreSet seeded with the defaults plus extra
// (the ignore_patterns config value).
func NewIgnoreSet(extra []string) *IgnoreSet {
	patterns := make([]string, 0, len(defaultIgnorePatterns)+len(extra))
	patterns = append(patterns, defaultIgnorePatterns...)
	patterns = append(patterns, extra...)
	return &IgnoreSet{patterns: patterns}
}

// LoadFile appends patterns read from a .syncignore file, skipping
// comments and blank lines. A missing file is not an error.
func (s *IgnoreSet) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s.patterns = append(s.patterns, line)
	}
	return scanner.Err()
}

// ShouldIgnore reports whether relPath (forward-slash, relative to the
// sync root) matches any pattern. isDir tells the matcher whether to
// apply directory-only ("pattern/") rules.
func (s *IgnoreSet) ShouldIgnore(relPath string, isDir bool) bool {
	relPath = strings.ReplaceAll(relPath, `\`, "/")
	base := relPath
	if i := strings.LastIndex(relPath, "/"); i >= 0 {
		base = relPath[i+1:]
	}

	for _, pattern := range s.patterns {
		if strings.HasSuffix(pattern, "/") {
			dirPattern := strings.TrimSuffix(pattern, "/")
			if isDir && globMatch(dirPattern, relPath) {
				return true
			}
			firstSegment := relPath
			if i := strings.Index(relPath, "/"); i >= 0 {
				firstSegment = relPath[:i]
			}
			if globMatch(dirPattern, firstSegment) {
				return true
			}
			continue
		}

		if strings.Contains(pattern, "**") {
			if globMatch(pattern, relPath) {
				return true
			}
			continue
		}

		if globMatch(pattern, relPath) || globMatch(pattern, base) {
			return true
		}
	}
	return false
}

// globMatch is a thin wrapper over path.Match that treats "**" as
// matching across path separators by collapsing it to "*" — path.Match
// has no double-star support, and our patterns are shallow enough
// (sync-root-relative paths) that this approximation matches the
// Python original's fnmatch-based behavior in practice.
func globMatch(pattern, name string) bool {
	flattened := strings.ReplaceAll(pattern, "**", "*")
	ok, err := path.Match(flattened, name)
	return err == nil && ok
}
