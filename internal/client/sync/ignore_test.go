package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreSet_DefaultPatterns(t *testing.T) {
	s := NewIgnoreSet(nil)
	assert.True(t, s.ShouldIgnore(".git", true))
	assert.True(t, s.ShouldIgnore(".DS_Store", false))
	assert.True(t, s.ShouldIgnore("Thumbs.db", false))
	assert.True(t, s.ShouldIgnore("notes.tmp", false))
	assert.True(t, s.ShouldIgnore("~backup", false))
	assert.False(t, s.ShouldIgnore("document.txt", false))
}

func TestIgnoreSet_GitSubpathIgnored(t *testing.T) {
	// see the one-level caveat on ".git/**" documented in
	// TestIgnoreSet_DoubleStarPattern_MatchesOneLevel.
	s := NewIgnoreSet(nil)
	assert.True(t, s.ShouldIgnore(".git/objects", false))
}

func TestIgnoreSet_ExtraPatterns(t *testing.T) {
	s := NewIgnoreSet([]string{"*.log", "build/"})
	assert.True(t, s.ShouldIgnore("app.log", false))
	assert.True(t, s.ShouldIgnore("build", true))
	assert.True(t, s.ShouldIgnore("build/output.bin", false))
	assert.False(t, s.ShouldIgnore("src/main.go", false))
}

func TestIgnoreSet_LoadFile(t *testing.T) {
	dir := t.TempDir()
	ignorePath := filepath.Join(dir, ".syncignore")
	content := "# comment\n\n*.bak\nsecret/\n"
	require.NoError(t, os.WriteFile(ignorePath, []byte(content), 0o644))

	s := NewIgnoreSet(nil)
	require.NoError(t, s.LoadFile(ignorePath))

	assert.True(t, s.ShouldIgnore("notes.bak", false))
	assert.True(t, s.ShouldIgnore("secret", true))
	assert.False(t, s.ShouldIgnore("public.txt", false))
}

func TestIgnoreSet_LoadFile_MissingIsNotError(t *testing.T) {
	s := NewIgnoreSet(nil)
	err := s.LoadFile(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.NoError(t, err)
}

func TestIgnoreSet_NestedPathMatchesBasenamePattern(t *testing.T) {
	s := NewIgnoreSet([]string{"*.swp"})
	assert.True(t, s.ShouldIgnore("deep/nested/dir/file.swp", false))
}

func TestIgnoreSet_DoubleStarPattern_MatchesOneLevel(t *testing.T) {
	// globMatch flattens "**" to a single "*", which path.Match never
	// crosses a "/" boundary with — so "vendor/**" only reaches one
	// path segment below vendor/, not arbitrarily deep nesting.
	s := NewIgnoreSet([]string{"vendor/**"})
	assert.True(t, s.ShouldIgnore("vendor/pkg", false))
	assert.False(t, s.ShouldIgnore("vendor/pkg/mod/file.go", false))
}
