package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransfer_ValidTransitions(t *testing.T) {
	tr := NewTransferTracker()
	tx := tr.Create("a.txt", Upload, SyncEvent{}, nil)
	assert.Equal(t, Pending, tx.Status())

	require.NoError(t, tx.Start())
	assert.Equal(t, InProgress, tx.Status())

	require.NoError(t, tx.Complete())
	assert.Equal(t, Completed, tx.Status())
	assert.True(t, tx.IsTerminal())
}

func TestTransfer_InvalidTransition(t *testing.T) {
	tr := NewTransferTracker()
	tx := tr.Create("a.txt", Upload, SyncEvent{}, nil)

	require.NoError(t, tx.Start())
	require.NoError(t, tx.Complete())

	err := tx.Start()
	require.Error(t, err)
	var invalid *ErrInvalidTransition
	assert.ErrorAs(t, err, &invalid)
}

func TestTransfer_Cancel_CallsCancelFuncAndTransitions(t *testing.T) {
	called := false
	cancel := func() { called = true }

	tr := NewTransferTracker()
	tx := tr.Create("a.txt", Download, SyncEvent{}, cancel)
	tx.Cancel()

	assert.True(t, called)
	assert.Equal(t, Cancelled, tx.Status())
}

func TestTransfer_Cancel_NoopWhenAlreadyTerminal(t *testing.T) {
	tr := NewTransferTracker()
	tx := tr.Create("a.txt", Upload, SyncEvent{}, nil)
	require.NoError(t, tx.Start())
	require.NoError(t, tx.Fail())

	tx.Cancel()
	assert.Equal(t, Failed, tx.Status(), "cancel must not override an already-terminal status")
}

func TestTransfer_MarkConflict(t *testing.T) {
	tr := NewTransferTracker()
	tx := tr.Create("a.txt", Upload, SyncEvent{}, nil)

	flagged, _ := tx.Conflict()
	assert.False(t, flagged)

	tx.MarkConflict("version", 42)
	flagged, kind := tx.Conflict()
	assert.True(t, flagged)
	assert.Equal(t, "version", kind)
}

func TestTransferTracker_GetActive_ExcludesTerminal(t *testing.T) {
	tr := NewTransferTracker()
	tx := tr.Create("a.txt", Upload, SyncEvent{}, nil)

	_, ok := tr.GetActive("a.txt")
	assert.True(t, ok)

	require.NoError(t, tx.Start())
	require.NoError(t, tx.Complete())

	_, ok = tr.GetActive("a.txt")
	assert.False(t, ok)
}

func TestTransferTracker_RemoveAndAllActive(t *testing.T) {
	tr := NewTransferTracker()
	a := tr.Create("a.txt", Upload, SyncEvent{}, nil)
	tr.Create("b.txt", Download, SyncEvent{}, nil)

	assert.Len(t, tr.AllActive(), 2)

	tr.Remove("a.txt", a)
	_, ok := tr.Get("a.txt")
	assert.False(t, ok)
	assert.Len(t, tr.AllActive(), 1)
}

func TestTransferTracker_Remove_StaleTransferDoesNotDeleteReplacement(t *testing.T) {
	tr := NewTransferTracker()
	stale := tr.Create("a.txt", Upload, SyncEvent{}, nil)
	fresh := tr.Create("a.txt", Upload, SyncEvent{}, nil)

	tr.Remove("a.txt", stale)

	got, ok := tr.Get("a.txt")
	assert.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestTransfer_Done_ClosesOnceAndIsIdempotent(t *testing.T) {
	tr := NewTransferTracker()
	tx := tr.Create("a.txt", Upload, SyncEvent{}, nil)

	select {
	case <-tx.Done():
		t.Fatal("Done channel should not be closed before finish()")
	default:
	}

	tx.finish()
	tx.finish() // must not panic on double-close

	select {
	case <-tx.Done():
	default:
		t.Fatal("Done channel should be closed after finish()")
	}
}

func TestTransferTracker_CancelAll(t *testing.T) {
	tr := NewTransferTracker()
	var cancelled int
	cancelFn := func() { cancelled++ }

	tr.Create("a.txt", Upload, SyncEvent{}, cancelFn)
	tr.Create("b.txt", Download, SyncEvent{}, cancelFn)

	tr.CancelAll()

	assert.Equal(t, 2, cancelled)
	assert.Len(t, tr.AllActive(), 0)
}

func TestTransfer_Cancel_WithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := NewTransferTracker()
	tx := tr.Create("a.txt", Upload, SyncEvent{}, cancel)

	tx.Cancel()

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be cancelled")
	}
}
