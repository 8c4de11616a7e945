package sync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ConflictKind records when during a transfer a conflict was detected,
// grounded on original_source's ConflictType.
type ConflictKind int

const (
	PreTransfer ConflictKind = iota
	MidTransfer
	PostTransfer
	ConcurrentEvent
)

// ConflictOutcome is the result of checking for, or resolving, a
// conflict.
type ConflictOutcome int

const (
	NoConflict ConflictOutcome = iota
	AlreadySynced
	Resolved
	RetryNeeded
	Abort
)

// ConflictContext carries what's needed to detect and resolve a
// conflict for one path.
type ConflictContext struct {
	LocalPath      string
	RelativePath   RelativePath
	LocalMtime     *float64
	LocalSize      *int64
	ExpectedVersion *int64
	ServerVersion  *int64
}

// ConflictResolution is the outcome of Resolve: what happened and, if a
// local copy was preserved, where.
type ConflictResolution struct {
	Outcome      ConflictOutcome
	ConflictPath string
	Message      string
}

// sanitizeMachineRe matches characters not allowed in the spec's machine
// identifier ([A-Za-z0-9_-]{3,32}).
var sanitizeMachineRe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeMachineName reduces name to the spec's allowed character set
// and length, padding short names so the {3,32} bound is always met.
func SanitizeMachineName(name string) string {
	cleaned := sanitizeMachineRe.ReplaceAllString(name, "")
	if len(cleaned) > 32 {
		cleaned = cleaned[:32]
	}
	for len(cleaned) < 3 {
		cleaned += "x"
	}
	return cleaned
}

// GenerateConflictFilename builds the externally observable conflict
// filename {stem}.conflict-YYYYMMDD-HHMMSSmmm-{machine}{ext}, grounded
// on original_source's generate_conflict_filename but adding the
// millisecond component the spec requires for same-second collisions.
func GenerateConflictFilename(originalPath, machineName string, now time.Time) string {
	dir := filepath.Dir(originalPath)
	ext := filepath.Ext(originalPath)
	stem := strings.TrimSuffix(filepath.Base(originalPath), ext)

	timestamp := fmt.Sprintf("%s%03d", now.Format("20060102-150405"), now.Nanosecond()/1_000_000)
	machine := SanitizeMachineName(machineName)

	name := fmt.Sprintf("%s.conflict-%s-%s%s", stem, timestamp, machine, ext)
	return filepath.Join(dir, name)
}

// ErrRaceCondition is returned by SafeRename when the source file was
// modified between the mtime check and the rename completing.
var ErrRaceCondition = errors.New("sync: file modified during conflict rename")

// SafeRename renames src to dst, verifying that src's mtime did not
// change during the call; if it did, the rename is rolled back and
// ErrRaceCondition is returned so the caller can retry conflict
// resolution against the newer content rather than silently losing it.
func SafeRename(src, dst string) error {
	before, err := os.Stat(src)
	if err != nil {
		return err
	}
	mtimeBefore := before.ModTime()

	if err := os.Rename(src, dst); err != nil {
		return err
	}

	after, err := os.Stat(dst)
	if err != nil {
		return err
	}
	if !after.ModTime().Equal(mtimeBefore) {
		_ = os.Rename(dst, src)
		return ErrRaceCondition
	}
	return nil
}

// CheckPreDownload implements PreDownloadConflictDetector: whether
// downloading the server's version would clobber local changes not yet
// reflected in the state store.
func CheckPreDownload(ctx ConflictContext) ConflictOutcome {
	info, err := os.Stat(ctx.LocalPath)
	if err != nil {
		return NoConflict // nothing local to clobber
	}
	if ctx.LocalMtime == nil {
		return Resolved // untracked file appeared
	}

	mtime := float64(info.ModTime().UnixNano()) / 1e9
	var size int64
	if ctx.LocalSize != nil {
		size = *ctx.LocalSize
	}
	if mtime > *ctx.LocalMtime || info.Size() != size {
		return Resolved
	}
	return NoConflict
}

// CheckPreUpload implements PreUploadConflictDetector: whether the
// server has moved past the version this upload was computed against.
func CheckPreUpload(ctx ConflictContext) ConflictOutcome {
	if ctx.ExpectedVersion == nil {
		return NoConflict // new file, nothing to conflict with
	}
	if ctx.ServerVersion == nil {
		return Resolved // file deleted on server
	}
	if *ctx.ServerVersion != *ctx.ExpectedVersion {
		return Resolved
	}
	return NoConflict
}

// Resolve implements the "Server Wins + Local Preserved" strategy: the
// server's version always ends up at the canonical path; any local
// content that would otherwise be lost is renamed aside to a conflict
// file first.
func Resolve(kind ConflictKind, ctx ConflictContext, machineName string, now time.Time) ConflictResolution {
	info, err := os.Stat(ctx.LocalPath)
	if err != nil {
		return ConflictResolution{Outcome: NoConflict, Message: "no local file to preserve"}
	}
	if info.IsDir() {
		return ConflictResolution{Outcome: Abort, Message: "refusing to conflict-copy a directory"}
	}

	conflictPath := GenerateConflictFilename(ctx.LocalPath, machineName, now)
	if err := SafeRename(ctx.LocalPath, conflictPath); err != nil {
		if errors.Is(err, ErrRaceCondition) {
			return ConflictResolution{Outcome: RetryNeeded, Message: "local file changed during conflict rename"}
		}
		return ConflictResolution{Outcome: Abort, Message: err.Error()}
	}

	return ConflictResolution{
		Outcome:      Resolved,
		ConflictPath: conflictPath,
		Message:      fmt.Sprintf("local copy preserved at %s (%s)", conflictPath, kindLabel(kind)),
	}
}

func kindLabel(k ConflictKind) string {
	switch k {
	case PreTransfer:
		return "pre-transfer"
	case MidTransfer:
		return "mid-transfer"
	case PostTransfer:
		return "post-transfer"
	case ConcurrentEvent:
		return "concurrent-event"
	default:
		return "unknown"
	}
}
