package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide_LocalVsDownload_CancelsAndRequeues(t *testing.T) {
	action, _ := decide(SyncEvent{Source: SourceLocal, Type: LocalModified}, Download)
	assert.Equal(t, ActionCancelAndRequeue, action)
}

func TestDecide_RemoteModifiedVsUpload_MarksConflict(t *testing.T) {
	action, _ := decide(SyncEvent{Source: SourceRemote, Type: RemoteModified}, Upload)
	assert.Equal(t, ActionMarkConflict, action)
}

func TestDecide_RemoteDeletedVsUpload_CreatesConflictCopy(t *testing.T) {
	action, _ := decide(SyncEvent{Source: SourceRemote, Type: RemoteDeleted}, Upload)
	assert.Equal(t, ActionCreateConflictCopy, action)
}

func TestDecide_RemoteCreatedVsDownload_Ignores(t *testing.T) {
	action, _ := decide(SyncEvent{Source: SourceRemote, Type: RemoteCreated}, Download)
	assert.Equal(t, ActionIgnore, action)
}

func TestDecide_LocalVsUpload_Ignores(t *testing.T) {
	action, _ := decide(SyncEvent{Source: SourceLocal, Type: LocalCreated}, Upload)
	assert.Equal(t, ActionIgnore, action)
}

func TestDecide_NoMatchingRule_DefaultsToIgnore(t *testing.T) {
	action, reason := decide(SyncEvent{Source: SourceRemote, Type: RemoteCreated}, Delete)
	assert.Equal(t, ActionIgnore, action)
	assert.NotEmpty(t, reason)
}

func TestDecisionAction_String(t *testing.T) {
	assert.Equal(t, "IGNORE", ActionIgnore.String())
	assert.Equal(t, "CANCEL_AND_REQUEUE", ActionCancelAndRequeue.String())
	assert.Equal(t, "MARK_CONFLICT", ActionMarkConflict.String())
	assert.Equal(t, "CREATE_CONFLICT_COPY", ActionCreateConflictCopy.String())
}
