package session

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode/internal/runtime"
	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/pkg/types"
)

var sessionIDPattern = regexp.MustCompile(`^ses_[a-z0-9]{12}$`)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := storage.New(t.TempDir())
	return NewService(store)
}

func addTurn(t *testing.T, s *Service, sessionID, userID, assistantID string, sortOrder int) {
	t.Helper()
	ctx := context.Background()

	userMsg := &types.Message{
		ID:        userID,
		SessionID: sessionID,
		Role:      "user",
		SortOrder: sortOrder,
		Time:      types.MessageTime{Created: time.Now().UnixMilli()},
	}
	require.NoError(t, s.AddMessage(ctx, sessionID, userMsg))

	assistantMsg := &types.Message{
		ID:        assistantID,
		SessionID: sessionID,
		Role:      "assistant",
		SortOrder: sortOrder + 1,
		Time:      types.MessageTime{Created: time.Now().UnixMilli()},
	}
	require.NoError(t, s.AddMessage(ctx, sessionID, assistantMsg))
}

// TestService_CreateForkVerifyCopy covers §8 scenario 1: create, append
// four messages, fork at msg_2, and verify the child carries only the
// first two messages plus parent linkage.
func TestService_CreateForkVerifyCopy(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	parent, err := s.Create(ctx, CreateOptions{Directory: t.TempDir(), Title: "Parent"})
	require.NoError(t, err)
	assert.Regexp(t, sessionIDPattern, parent.ID)

	addTurn(t, s, parent.ID, "msg_1", "msg_2", 0)
	addTurn(t, s, parent.ID, "msg_3", "msg_4", 2)

	child, err := s.Fork(ctx, parent.ID, strPtr("msg_2"), "")
	require.NoError(t, err)

	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent.ID, *child.ParentID)
	require.NotNil(t, child.ForkPoint)
	assert.Equal(t, "msg_2", *child.ForkPoint)
	assert.Equal(t, "Parent (fork)", child.Title)

	childMessages, err := s.GetMessages(ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, childMessages, 2)
	assert.Equal(t, "msg_1", childMessages[0].ID)
	assert.Equal(t, "msg_2", childMessages[1].ID)
}

// TestService_RevertThenUnrevert covers §8 scenario 2: reverting marks
// the session at a prior message/snapshot, unreverting clears it while
// leaving messages untouched.
func TestService_RevertThenUnrevert(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, CreateOptions{Directory: t.TempDir(), Title: "S"})
	require.NoError(t, err)

	addTurn(t, s, sess.ID, "msg_1", "msg_2", 0)
	require.NoError(t, s.AddMessage(ctx, sess.ID, &types.Message{
		ID: "msg_3", SessionID: sess.ID, Role: "user", SortOrder: 2,
		Time: types.MessageTime{Created: time.Now().UnixMilli()},
	}))

	history, err := s.getSnapshotHistory(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, s.setSnapshotHistory(ctx, sess.ID, append(history, history[0], history[0])))

	reverted, err := s.Revert(ctx, sess.ID, "msg_2", nil)
	require.NoError(t, err)
	require.NotNil(t, reverted.Revert)
	assert.Equal(t, "msg_2", reverted.Revert.MessageID)

	messagesBefore, err := s.GetMessages(ctx, sess.ID)
	require.NoError(t, err)

	unreverted, err := s.Unrevert(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, unreverted.Revert)

	messagesAfter, err := s.GetMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, len(messagesBefore), len(messagesAfter))
}

// TestService_UndoOneTurn covers §8 scenario 3: undoing one turn drops
// the trailing (user, assistant) pair and restores the snapshot to the
// point right after the surviving messages.
func TestService_UndoOneTurn(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, CreateOptions{Directory: t.TempDir(), Title: "S"})
	require.NoError(t, err)

	addTurn(t, s, sess.ID, "msg_1", "msg_2", 0)
	addTurn(t, s, sess.ID, "msg_3", "msg_4", 2)

	history, err := s.getSnapshotHistory(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, s.setSnapshotHistory(ctx, sess.ID, append(history, history[0], history[0], history[0])))

	result, err := s.UndoTurns(ctx, sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TurnsUndone)
	assert.Equal(t, 2, result.MessagesRemoved)

	remaining, err := s.GetMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, "msg_1", remaining[0].ID)
	assert.Equal(t, "msg_2", remaining[1].ID)

	remainingHistory, err := s.getSnapshotHistory(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, remainingHistory, 3)
}

// TestService_UndoTurnsNoOpBeyondAvailable covers the §8 invariant that
// undoTurns is a no-op (not an error) once n exceeds available turns.
func TestService_UndoTurnsNoOpBeyondAvailable(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, CreateOptions{Directory: t.TempDir(), Title: "S"})
	require.NoError(t, err)

	addTurn(t, s, sess.ID, "msg_1", "msg_2", 0)

	result, err := s.UndoTurns(ctx, sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TurnsUndone)
	assert.Equal(t, 0, result.MessagesRemoved)
	assert.Empty(t, result.FilesReverted)
	assert.Nil(t, result.SnapshotHash)

	messages, err := s.GetMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 2, "a single-turn session must be left untouched")
}

// TestService_UndoTurnsRejectedDuringActiveRun covers the active-run
// guard: undoTurns must refuse to restore a snapshot while the
// session's agent loop is in flight, since that would race the
// in-flight tool handlers writing to the same working directory.
func TestService_UndoTurnsRejectedDuringActiveRun(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, CreateOptions{Directory: t.TempDir(), Title: "S"})
	require.NoError(t, err)
	addTurn(t, s, sess.ID, "msg_1", "msg_2", 0)
	addTurn(t, s, sess.ID, "msg_3", "msg_4", 2)

	_, cancel := context.WithCancel(ctx)
	defer cancel()
	require.True(t, s.Runtime().StartTask(sess.ID, runtime.Task{Cancel: cancel, Done: make(chan struct{})}))

	_, err = s.UndoTurns(ctx, sess.ID, 1)
	require.Error(t, err)
	var typedErr *types.Error
	require.ErrorAs(t, err, &typedErr)
	assert.Equal(t, types.ErrInvalidOperation, typedErr.Kind)
}

// TestService_DeleteCancelsAndCascades covers §8 scenario 6: deleting a
// session with an active run cancels it, waits for termination, and
// leaves no residual messages, parts, snapshot history, runtime state,
// or session record.
func TestService_DeleteCancelsAndCascades(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, CreateOptions{Directory: t.TempDir(), Title: "S"})
	require.NoError(t, err)
	addTurn(t, s, sess.ID, "msg_1", "msg_2", 0)

	cancelled := make(chan struct{})
	done := make(chan struct{})
	_, cancel := context.WithCancel(ctx)
	task := runtime.Task{
		Cancel: func() {
			cancel()
			close(cancelled)
			close(done)
		},
		Done: done,
	}
	require.True(t, s.Runtime().StartTask(sess.ID, task))

	ok, err := s.Delete(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	select {
	case <-cancelled:
	default:
		t.Fatal("expected the active task to be cancelled")
	}

	assert.False(t, s.Runtime().IsActive(sess.ID))

	messages, err := s.GetMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	_, err = s.Get(ctx, sess.ID)
	assert.Error(t, err)
}

// TestService_AbortTwiceSecondCallFalse covers the §8 invariant that a
// second abort on an already-aborted session returns false.
func TestService_AbortTwiceSecondCallFalse(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, CreateOptions{Directory: t.TempDir(), Title: "S"})
	require.NoError(t, err)

	_, cancel := context.WithCancel(ctx)
	require.True(t, s.Runtime().StartTask(sess.ID, runtime.Task{Cancel: cancel, Done: make(chan struct{})}))

	first, err := s.Abort(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.Abort(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, second)
}

// TestService_CreateRejectsDuplicateDirectory covers §5's "two sessions
// pointing at the same directory is an error" rule for fresh,
// unrelated sessions (forked children are exempt: they deliberately
// share the parent's directory).
func TestService_CreateRejectsDuplicateDirectory(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := s.Create(ctx, CreateOptions{Directory: dir, Title: "First"})
	require.NoError(t, err)

	_, err = s.Create(ctx, CreateOptions{Directory: dir, Title: "Second"})
	require.Error(t, err)
	var typedErr *types.Error
	require.ErrorAs(t, err, &typedErr)
	assert.Equal(t, types.ErrInvalidOperation, typedErr.Kind)
}

func strPtr(s string) *string { return &s }
