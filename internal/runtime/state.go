// Package runtime holds the core's process-local state: which
// sessions currently have an agent run in flight, and which snapshot
// handle each session is "at" for diffing purposes (§4.C). Nothing
// here is persisted; a process restart loses it, which is fine since
// an in-flight run cannot survive a restart anyway.
package runtime

import (
	"context"
	"sync"
)

// Task is the cancellation handle installed for a session's active
// agent run. Done must close when the run has actually stopped
// (post-cleanup), not merely when Cancel has been called — the two
// are different moments, and callers that need to observe termination
// (Delete) depend on the distinction.
type Task struct {
	Cancel context.CancelFunc
	Done   <-chan struct{}
}

// State is the Runtime State component: two maps keyed by session id,
// guarded by a single mutex. Fine-grained per-session locking is not
// worth it here — the maps are touched only at run start/stop and
// snapshot bookkeeping, never on a hot path.
type State struct {
	mu            sync.Mutex
	activeTasks   map[string]Task
	openSnapshots map[string]string
}

// New constructs an empty Runtime State.
func New() *State {
	return &State{
		activeTasks:   make(map[string]Task),
		openSnapshots: make(map[string]string),
	}
}

// StartTask installs a cancellation handle for sessionID. Returns false
// if a task is already active for that session (caller should surface
// InvalidOperation).
func (s *State) StartTask(sessionID string, task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.activeTasks[sessionID]; ok {
		return false
	}
	s.activeTasks[sessionID] = task
	return true
}

// FinishTask removes the active task entry for sessionID. Called by
// the agent loop's own cleanup, never by abort.
func (s *State) FinishTask(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeTasks, sessionID)
}

// Abort signals cancel on the active task for sessionID, if any,
// removes it from activeTasks, and reports whether one was found. The
// entry is removed immediately so a second Abort call on the same
// session returns false rather than cancelling again; the loop's own
// FinishTask call on an already-removed entry is a no-op.
func (s *State) Abort(sessionID string) bool {
	s.mu.Lock()
	task, ok := s.activeTasks[sessionID]
	if ok {
		delete(s.activeTasks, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	task.Cancel()
	return true
}

// TaskDone returns the Done channel for sessionID's active task and
// true, or (nil, false) if no task is active. Callers that need to
// wait for actual termination must capture this before calling Abort,
// since Abort removes the entry immediately.
func (s *State) TaskDone(sessionID string) (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.activeTasks[sessionID]
	if !ok {
		return nil, false
	}
	return task.Done, true
}

// IsActive reports whether sessionID currently has a task installed.
func (s *State) IsActive(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.activeTasks[sessionID]
	return ok
}

// SetOpenSnapshot records the snapshot handle sessionID is currently
// viewing.
func (s *State) SetOpenSnapshot(sessionID, handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openSnapshots[sessionID] = handle
}

// OpenSnapshot returns the snapshot handle sessionID is currently
// viewing, or "" if none is recorded.
func (s *State) OpenSnapshot(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openSnapshots[sessionID]
}

// ClearSessionState removes all runtime bookkeeping for sessionID: it
// signals cancellation on any active task and drops the open-snapshot
// entry. Idempotent and safe to call on a session with no runtime
// state at all.
func (s *State) ClearSessionState(sessionID string) {
	s.mu.Lock()
	task, hasTask := s.activeTasks[sessionID]
	delete(s.activeTasks, sessionID)
	delete(s.openSnapshots, sessionID)
	s.mu.Unlock()

	if hasTask {
		task.Cancel()
	}
}
