// Package session provides session management functionality.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/opencode/internal/event"
	"github.com/opencode-ai/opencode/internal/permission"
	"github.com/opencode-ai/opencode/internal/project"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/internal/runtime"
	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/internal/tool"
	"github.com/opencode-ai/opencode/internal/vcs"
	"github.com/opencode-ai/opencode/pkg/types"
)

// Service is the Session Manager (§4.E): CRUD, fork, revert, unrevert,
// and undo-turns over the Persistent Store, serialized per session and
// backed by the Runtime State and Snapshot Store.
type Service struct {
	storage *storage.Storage
	runtime *runtime.State

	snapMu    sync.Mutex
	snapshots map[string]*vcs.Snapshot // keyed by directory

	sessionMu sync.Mutex
	locks     map[string]*sync.Mutex

	// Processor for agentic loop
	processor *Processor
}

// NewService creates a new session service.
func NewService(store *storage.Storage) *Service {
	return &Service{
		storage:   store,
		runtime:   runtime.New(),
		snapshots: make(map[string]*vcs.Snapshot),
		locks:     make(map[string]*sync.Mutex),
	}
}

// NewServiceWithProcessor creates a new session service with processor dependencies.
func NewServiceWithProcessor(
	store *storage.Storage,
	providerReg *provider.Registry,
	toolReg *tool.Registry,
	permChecker *permission.Checker,
	defaultProviderID string,
	defaultModelID string,
) *Service {
	s := NewService(store)
	s.processor = NewProcessor(providerReg, toolReg, store, permChecker, defaultProviderID, defaultModelID)
	s.processor.SetRuntime(s.runtime)
	return s
}

// GetProcessor returns the session processor.
func (s *Service) GetProcessor() *Processor {
	return s.processor
}

// Runtime returns the runtime state tracking active tasks and open snapshots.
func (s *Service) Runtime() *runtime.State {
	return s.runtime
}

// sessionLock returns the exclusive lock for sessionID, creating it on
// first use. Mutating operations hold this for their full duration, per §5.
func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// snapshotFor returns the Snapshot Store for directory, opening it on
// first use and caching it for subsequent sessions sharing the same
// working directory.
func (s *Service) snapshotFor(directory string) (*vcs.Snapshot, error) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if snap, ok := s.snapshots[directory]; ok {
		return snap, nil
	}
	snap, err := vcs.Open(directory)
	if err != nil {
		return nil, err
	}
	s.snapshots[directory] = snap
	return snap, nil
}

// CreateOptions are the inputs to Create.
type CreateOptions struct {
	Directory       string
	Title           string
	ParentID        *string
	ForkPoint       *string
	BypassMode      bool
	Model           string
	ReasoningEffort string
	Plugins         []string
}

// Create creates a new session rooted at a working directory and
// initializes its snapshot history with a single init commit.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (*types.Session, error) {
	if opts.Directory == "" {
		return nil, types.Validation("directory", "directory is required")
	}

	// A forked/child session deliberately shares its parent's directory
	// (Fork calls Create with ParentID set) — only a fresh, unrelated
	// session is rejected for colliding with one already using the
	// directory.
	if opts.ParentID == nil {
		existing, err := s.List(ctx, opts.Directory)
		if err != nil {
			return nil, fmt.Errorf("session: check directory ownership: %w", err)
		}
		if len(existing) > 0 {
			return nil, types.InvalidOperation("session: directory already in use by an existing session: " + opts.Directory)
		}
	}

	now := time.Now().UnixMilli()
	projectID, err := project.GetProjectID(opts.Directory)
	if err != nil {
		return nil, fmt.Errorf("session: resolve project id: %w", err)
	}

	title := opts.Title
	if title == "" {
		title = "New Session"
	}
	reasoningEffort := opts.ReasoningEffort
	if reasoningEffort == "" {
		reasoningEffort = "medium"
	}

	sess := &types.Session{
		ID:              generateSessionID(),
		ProjectID:       projectID,
		Directory:       opts.Directory,
		ParentID:        opts.ParentID,
		ForkPoint:       opts.ForkPoint,
		Title:           title,
		Version:         "1.0.0",
		BypassMode:      opts.BypassMode,
		Model:           opts.Model,
		ReasoningEffort: reasoningEffort,
		Plugins:         opts.Plugins,
		Time:            types.SessionTime{Created: now, Updated: now},
	}

	snap, err := s.snapshotFor(opts.Directory)
	if err != nil {
		return nil, fmt.Errorf("session: open snapshot store: %w", err)
	}
	initHash, err := s.commitWithRetry(snap, func() (string, error) { return snap.Init() })
	if err != nil {
		event.Publish(event.New(types.EventError, sess.ID, map[string]any{"error": err.Error()}))
	}
	if err := s.setSnapshotHistory(ctx, sess.ID, []string{initHash}); err != nil {
		return nil, err
	}

	if err := s.storage.Put(ctx, []string{"session", projectID, sess.ID}, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	event.Publish(event.New(types.EventSessionCreated, sess.ID, map[string]any{"title": sess.Title}))
	return sess, nil
}

// commitWithRetry retries a snapshot commit up to 3 times with the
// backoff schedule the spec prescribes (10ms, 100ms, 1s): losing a
// snapshot is preferable to failing the surrounding operation.
func (s *Service) commitWithRetry(snap *vcs.Snapshot, fn func() (string, error)) (string, error) {
	delays := []time.Duration{10 * time.Millisecond, 100 * time.Millisecond, time.Second}
	var lastErr error
	for attempt := 0; attempt <= len(delays); attempt++ {
		hash, err := fn()
		if err == nil {
			return hash, nil
		}
		lastErr = err
		if attempt < len(delays) {
			time.Sleep(delays[attempt])
		}
	}
	return "", lastErr
}

// Get retrieves a session by ID.
func (s *Service) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	projects, err := s.storage.List(ctx, []string{"session"})
	if err != nil {
		return nil, err
	}

	for _, projectID := range projects {
		var sess types.Session
		if err := s.storage.Get(ctx, []string{"session", projectID, sessionID}, &sess); err == nil {
			return &sess, nil
		}
	}

	return nil, types.NotFound("Session", sessionID)
}

// UpdateOptions are the mutable fields of updateSession.
type UpdateOptions struct {
	Title           *string
	Archived        *bool
	Model           *string
	ReasoningEffort *string
	Plugins         []string
}

// Update applies a partial update to a session and emits session.updated.
func (s *Service) Update(ctx context.Context, sessionID string, opts UpdateOptions) (*types.Session, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if opts.Title != nil {
		sess.Title = *opts.Title
	}
	if opts.Archived != nil {
		if *opts.Archived {
			now := time.Now().UnixMilli()
			sess.Time.Archived = &now
		} else {
			sess.Time.Archived = nil
		}
	}
	if opts.Model != nil {
		sess.Model = *opts.Model
	}
	if opts.ReasoningEffort != nil {
		sess.ReasoningEffort = *opts.ReasoningEffort
	}
	if opts.Plugins != nil {
		sess.Plugins = opts.Plugins
	}
	sess.Time.Updated = time.Now().UnixMilli()

	if err := s.storage.Put(ctx, []string{"session", sess.ProjectID, sess.ID}, sess); err != nil {
		return nil, err
	}

	event.Publish(event.New(types.EventSessionUpdated, sess.ID, nil))
	return sess, nil
}

// Delete deletes a session, cascading to its messages, parts, snapshot
// history, and runtime state. Cancels and waits for any active task.
func (s *Service) Delete(ctx context.Context, sessionID string) (bool, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}

	// Capture the task's completion channel before aborting: Abort
	// removes the activeTasks entry immediately, so TaskDone must be
	// read first or there would be nothing left to wait on.
	doneCh, hadTask := s.runtime.TaskDone(sessionID)
	if s.runtime.Abort(sessionID) && hadTask {
		select {
		case <-doneCh:
		case <-time.After(5 * time.Second):
		}
	}
	s.runtime.ClearSessionState(sessionID)

	messages, _ := s.GetMessages(ctx, sessionID)
	for _, msg := range messages {
		parts, _ := s.GetParts(ctx, msg.ID)
		for _, part := range parts {
			s.storage.Delete(ctx, []string{"part", msg.ID, part.ID})
		}
		s.storage.Delete(ctx, []string{"message", sessionID, msg.ID})
	}

	s.storage.Delete(ctx, []string{"snapshotHistory", sessionID})

	if err := s.storage.Delete(ctx, []string{"session", sess.ProjectID, sessionID}); err != nil {
		return false, err
	}

	event.Publish(event.New(types.EventSessionDeleted, sessionID, nil))
	return true, nil
}

// List lists sessions for a directory.
// If directory is empty, lists all sessions across all projects.
func (s *Service) List(ctx context.Context, directory string) ([]*types.Session, error) {
	var sessions []*types.Session

	if directory == "" {
		projects, err := s.storage.List(ctx, []string{"session"})
		if err != nil {
			return nil, err
		}
		for _, projectID := range projects {
			err := s.storage.Scan(ctx, []string{"session", projectID}, func(key string, data json.RawMessage) error {
				var sess types.Session
				if err := json.Unmarshal(data, &sess); err != nil {
					return err
				}
				sessions = append(sessions, &sess)
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
		return sessions, nil
	}

	// Non-git directories all resolve to the "global" project id (mirrors
	// the TypeScript implementation), so project-level scanning alone
	// isn't enough to isolate one directory's sessions from another's —
	// filter on the stored Directory field too.
	projectID, err := project.GetProjectID(directory)
	if err != nil {
		return nil, err
	}
	err = s.storage.Scan(ctx, []string{"session", projectID}, func(key string, data json.RawMessage) error {
		var sess types.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return err
		}
		if sess.Directory == directory {
			sessions = append(sessions, &sess)
		}
		return nil
	})

	return sessions, err
}

// GetChildren returns child sessions (forks).
func (s *Service) GetChildren(ctx context.Context, sessionID string) ([]*types.Session, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	all, err := s.List(ctx, session.Directory)
	if err != nil {
		return nil, err
	}

	var children []*types.Session
	for _, sess := range all {
		if sess.ParentID != nil && *sess.ParentID == sessionID {
			children = append(children, sess)
		}
	}

	return children, nil
}

// Abort cancels the active task for a session, if any.
func (s *Service) Abort(ctx context.Context, sessionID string) (bool, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return false, err
	}
	return s.runtime.Abort(sessionID), nil
}

// Fork creates a fork of a session, copying messages (and their parts,
// with fresh part ids) up to and including forkPoint. A nil forkPoint
// copies every message.
func (s *Service) Fork(ctx context.Context, sessionID string, forkPoint *string, title string) (*types.Session, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	parent, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	forkTitle := title
	if forkTitle == "" {
		forkTitle = parent.Title + " (fork)"
	}

	parentID := sessionID
	child, err := s.Create(ctx, CreateOptions{
		Directory:       parent.Directory,
		Title:           forkTitle,
		ParentID:        &parentID,
		ForkPoint:       forkPoint,
		BypassMode:      parent.BypassMode,
		Model:           parent.Model,
		ReasoningEffort: parent.ReasoningEffort,
		Plugins:         parent.Plugins,
	})
	if err != nil {
		return nil, err
	}

	messages, err := s.GetMessages(ctx, sessionID)
	if err != nil {
		return child, err
	}

	for _, msg := range messages {
		newMsg := *msg
		newMsg.SessionID = child.ID
		if err := s.AddMessage(ctx, child.ID, &newMsg); err == nil {
			parts, _ := s.GetParts(ctx, msg.ID)
			for _, part := range parts {
				newPart := part
				newPart.ID = generateID()
				newPart.SessionID = child.ID
				newPart.MessageID = newMsg.ID
				s.storage.Put(ctx, []string{"part", newMsg.ID, newPart.ID}, newPart)
			}
		}

		if forkPoint != nil && msg.ID == *forkPoint {
			break
		}
	}

	return child, nil
}

// Revert marks a session as viewing a prior message without discarding
// history or the working copy.
func (s *Service) Revert(ctx context.Context, sessionID, messageID string, partID *string) (*types.Session, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	messages, err := s.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, m := range messages {
		if m.ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, types.NotFound("Message", messageID)
	}

	history, err := s.getSnapshotHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var snapshotHash string
	if idx < len(history) {
		snapshotHash = history[idx]
	}

	sess.Revert = &types.SessionRevert{MessageID: messageID, PartID: partID, Snapshot: snapshotHash}
	sess.Time.Updated = time.Now().UnixMilli()
	if err := s.storage.Put(ctx, []string{"session", sess.ProjectID, sess.ID}, sess); err != nil {
		return nil, err
	}

	event.Publish(event.New(types.EventSessionUpdated, sess.ID, nil))
	return sess, nil
}

// Unrevert clears the revert state from a session.
func (s *Service) Unrevert(ctx context.Context, sessionID string) (*types.Session, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.Revert = nil
	sess.Time.Updated = time.Now().UnixMilli()
	if err := s.storage.Put(ctx, []string{"session", sess.ProjectID, sess.ID}, sess); err != nil {
		return nil, err
	}

	event.Publish(event.New(types.EventSessionUpdated, sess.ID, nil))
	return sess, nil
}

// UndoResult is the outcome of UndoTurns.
type UndoResult struct {
	TurnsUndone     int
	MessagesRemoved int
	FilesReverted   []string
	SnapshotHash    *string
}

// UndoTurns removes up to count trailing (user, assistant) turns,
// restoring the working copy to the snapshot taken right after the
// last surviving message. Never removes the session's only turn.
func (s *Service) UndoTurns(ctx context.Context, sessionID string, count int) (*UndoResult, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if s.runtime.IsActive(sessionID) {
		return nil, types.InvalidOperation("session: cannot undo turns during an active agent run")
	}

	messages, err := s.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	availableTurns := len(messages) / 2
	if availableTurns < 2 {
		return &UndoResult{}, nil
	}

	turnsUndone := count
	if turnsUndone > availableTurns-1 {
		turnsUndone = availableTurns - 1
	}
	if turnsUndone <= 0 {
		return &UndoResult{}, nil
	}

	messagesRemoved := turnsUndone * 2
	targetMsgIndex := len(messages) - messagesRemoved

	history, err := s.getSnapshotHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	targetHistIndex := targetMsgIndex
	if targetHistIndex >= len(history) {
		targetHistIndex = len(history) - 1
	}
	targetSnapshot := history[targetHistIndex]

	snap, err := s.snapshotFor(sess.Directory)
	if err != nil {
		return nil, err
	}

	currentSnapshot := history[len(history)-1]
	filesReverted, err := snap.ChangedFiles(currentSnapshot, targetSnapshot)
	if err != nil {
		filesReverted = nil
	}

	toRemove := messages[targetMsgIndex:]
	for _, msg := range toRemove {
		parts, _ := s.GetParts(ctx, msg.ID)
		for _, part := range parts {
			s.storage.Delete(ctx, []string{"part", msg.ID, part.ID})
		}
		s.storage.Delete(ctx, []string{"message", sessionID, msg.ID})
	}

	if err := s.setSnapshotHistory(ctx, sessionID, history[:targetHistIndex+1]); err != nil {
		return nil, err
	}

	if err := snap.Restore(targetSnapshot); err != nil {
		return nil, fmt.Errorf("session: restore snapshot: %w", err)
	}

	hash := targetSnapshot
	return &UndoResult{
		TurnsUndone:     turnsUndone,
		MessagesRemoved: messagesRemoved,
		FilesReverted:   filesReverted,
		SnapshotHash:    &hash,
	}, nil
}

// getSnapshotHistory loads the ordered snapshot handle list for a session.
func (s *Service) getSnapshotHistory(ctx context.Context, sessionID string) ([]string, error) {
	var history []string
	if err := s.storage.Get(ctx, []string{"snapshotHistory", sessionID}, &history); err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return history, nil
}

func (s *Service) setSnapshotHistory(ctx context.Context, sessionID string, history []string) error {
	return s.storage.Put(ctx, []string{"snapshotHistory", sessionID}, history)
}

// Share shares a session and returns a share URL.
func (s *Service) Share(ctx context.Context, sessionID string) (string, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}

	shareURL := fmt.Sprintf("https://opencode.ai/share/%s", sessionID)

	session.Share = &types.SessionShare{URL: shareURL}
	session.Time.Updated = time.Now().UnixMilli()

	if err := s.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session); err != nil {
		return "", err
	}

	return shareURL, nil
}

// Unshare removes sharing from a session.
func (s *Service) Unshare(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	session.Share = nil
	session.Time.Updated = time.Now().UnixMilli()

	return s.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session)
}

// Summarize returns the running diff summary for a session.
func (s *Service) Summarize(ctx context.Context, sessionID string) (*types.SessionSummary, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &session.Summary, nil
}

// GetDiffs returns diffs for a session.
func (s *Service) GetDiffs(ctx context.Context, sessionID string) ([]types.FileDiff, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return session.Summary.Diffs, nil
}

// GetTodos returns the scratch todo list maintained for a session.
func (s *Service) GetTodos(ctx context.Context, sessionID string) ([]types.TodoInfo, error) {
	var todos []types.TodoInfo
	if err := s.storage.Get(ctx, []string{"todo", sessionID}, &todos); err != nil {
		if err == storage.ErrNotFound {
			return []types.TodoInfo{}, nil
		}
		return nil, err
	}
	return todos, nil
}

// AddMessage adds a message to a session.
func (s *Service) AddMessage(ctx context.Context, sessionID string, msg *types.Message) error {
	return s.storage.Put(ctx, []string{"message", sessionID, msg.ID}, msg)
}

// GetMessages returns all messages for a session in insertion order.
func (s *Service) GetMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	var messages []*types.Message
	err := s.storage.Scan(ctx, []string{"message", sessionID}, func(key string, data json.RawMessage) error {
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		messages = append(messages, &msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].SortOrder != messages[j].SortOrder {
			return messages[i].SortOrder < messages[j].SortOrder
		}
		return messages[i].Time.Created < messages[j].Time.Created
	})
	return messages, nil
}

// GetParts returns all parts for a message, ordered by sortOrder.
func (s *Service) GetParts(ctx context.Context, messageID string) ([]types.Part, error) {
	var parts []types.Part
	err := s.storage.Scan(ctx, []string{"part", messageID}, func(key string, data json.RawMessage) error {
		part, err := types.UnmarshalPart(data)
		if err != nil {
			return err
		}
		parts = append(parts, part)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].SortOrder < parts[j].SortOrder })
	return parts, err
}

// ProcessMessage processes a user message and generates an assistant response.
// This is the main agentic loop.
func (s *Service) ProcessMessage(
	ctx context.Context,
	session *types.Session,
	content string,
	model *types.ModelRef,
	agent *Agent,
	onUpdate func(msg *types.Message, parts []types.Part),
) (*types.Message, []types.Part, error) {
	if agent == nil {
		agent = DefaultAgent()
	}
	// First, save the user message
	userMsg := &types.Message{
		ID:        generateID(),
		SessionID: session.ID,
		Role:      types.RoleUser,
		Time:      types.MessageTime{Created: time.Now().UnixMilli()},
	}
	if model != nil {
		userMsg.Model = model
	}

	if err := s.AddMessage(ctx, session.ID, userMsg); err != nil {
		return nil, nil, err
	}

	// Save user's text content as a part
	userPart := types.NewTextPart(generateID(), session.ID, userMsg.ID, 0, content, false)
	if err := s.storage.Put(ctx, []string{"part", userMsg.ID, userPart.ID}, userPart); err != nil {
		return nil, nil, err
	}

	// Use processor if available
	if s.processor != nil {
		var finalMsg *types.Message
		var finalParts []types.Part

		err := s.processor.Process(ctx, session.ID, agent, func(msg *types.Message, parts []types.Part) {
			finalMsg = msg
			finalParts = parts
			if onUpdate != nil {
				onUpdate(msg, parts)
			}
		})

		if err != nil {
			return finalMsg, finalParts, err
		}

		return finalMsg, finalParts, nil
	}

	// Fallback: Create placeholder assistant message if no processor
	assistantMsg := &types.Message{
		ID:        generateID(),
		SessionID: session.ID,
		Role:      types.RoleAssistant,
		Time:      types.MessageTime{Created: time.Now().UnixMilli()},
	}

	if model != nil {
		assistantMsg.ProviderID = model.ProviderID
		assistantMsg.ModelID = model.ModelID
	}

	parts := []types.Part{
		types.NewTextPart(generateID(), session.ID, assistantMsg.ID, 0,
			"Processor not initialized. Please configure providers.", false),
	}

	// Save message
	if err := s.AddMessage(ctx, session.ID, assistantMsg); err != nil {
		return nil, nil, err
	}

	// Notify of update
	if onUpdate != nil {
		onUpdate(assistantMsg, parts)
	}

	return assistantMsg, parts, nil
}

// generateID generates a new ULID.
func generateID() string {
	return ulid.Make().String()
}

// generateSessionID generates an id matching ^ses_[a-z0-9]{12}$.
func generateSessionID() string {
	raw := strings.ToLower(ulid.Make().String())
	return "ses_" + raw[len(raw)-12:]
}

