package vcs

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/object"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/opencode-ai/opencode/internal/logging"
	"github.com/opencode-ai/opencode/pkg/types"
)

// snapshotAuthor is attached to every commit the Snapshot Store makes.
// It never reads from the user's own git config so its history stays
// distinguishable from the user's own commits.
var snapshotAuthor = &object.Signature{Name: "opencode", Email: "opencode@local"}

// Snapshot implements the Snapshot Store (§4.B) for one session's
// working directory. All operations are scoped to that directory; a
// caller that needs snapshots for N sessions holds N Snapshot values.
type Snapshot struct {
	dir  string
	repo *git.Repository

	mu      sync.Mutex
	watcher *Watcher
}

// Open opens (or initializes, if absent) the git-backed snapshot store
// rooted at dir.
func Open(dir string) (*Snapshot, error) {
	repo, err := git.PlainOpen(dir)
	if err == git.ErrRepositoryNotExists {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("vcs: open %s: %w", dir, err)
	}
	return &Snapshot{dir: dir, repo: repo}, nil
}

// Init creates the initial empty commit if the repository has no HEAD
// yet, and returns its handle. Idempotent: calling it again on an
// already-initialized repository returns the existing HEAD.
func (s *Snapshot) Init() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if head, err := s.repo.Head(); err == nil {
		return head.Hash().String(), nil
	}

	wt, err := s.repo.Worktree()
	if err != nil {
		return "", types.InvalidOperation("vcs: no worktree: " + err.Error())
	}

	hash, err := wt.Commit("init", &git.CommitOptions{
		Author:            snapshotAuthor,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fmt.Errorf("vcs: init commit: %w", err)
	}
	logging.Debug().Str("dir", s.dir).Str("commit", hash.String()).Msg("snapshot store initialized")
	return hash.String(), nil
}

// Commit snapshots the current working copy under description and
// returns its handle. A commit with no changes is still recorded
// (AllowEmptyCommits) so the message-to-snapshot index in §3 stays
// dense: every message gets exactly one trailing snapshot.
func (s *Snapshot) Commit(description string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wt, err := s.repo.Worktree()
	if err != nil {
		return "", types.InvalidOperation("vcs: no worktree: " + err.Error())
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("vcs: stage changes: %w", err)
	}

	hash, err := wt.Commit(description, &git.CommitOptions{
		Author:            snapshotAuthor,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fmt.Errorf("vcs: commit: %w", err)
	}
	return hash.String(), nil
}

// History returns the full commit chain reachable from HEAD, oldest
// first, mirroring snapshotHistory's index-0-is-initial-state ordering.
func (s *Snapshot) History() ([]types.SnapshotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.repo.Head()
	if err != nil {
		return nil, nil // uninitialized: empty history
	}
	iter, err := s.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("vcs: log: %w", err)
	}
	var out []types.SnapshotInfo
	err = iter.ForEach(func(c *object.Commit) error {
		stats, statErr := c.Stats()
		isEmpty := statErr == nil && len(stats) == 0
		out = append(out, types.SnapshotInfo{
			ChangeID:    c.Hash.String(),
			CommitID:    c.Hash.String(),
			Description: c.Message,
			Timestamp:   c.Author.When.UnixMilli(),
			IsEmpty:     isEmpty,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	// iter walks newest-first; reverse to oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ChangedFiles returns the sorted set of paths that differ between a
// and b.
func (s *Snapshot) ChangedFiles(a, b string) ([]string, error) {
	diffs, err := s.Diff(a, b)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(diffs))
	for i, d := range diffs {
		paths[i] = d.Path
	}
	return paths, nil
}

// Diff returns the FileDiff list describing how b differs from a,
// with line-level added/deleted counts computed via go-diff the way
// the diff tool already does for in-session edits.
func (s *Snapshot) Diff(a, b string) ([]types.FileDiff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	treeA, err := s.treeAt(a)
	if err != nil {
		return nil, types.NotFound("snapshot", a)
	}
	treeB, err := s.treeAt(b)
	if err != nil {
		return nil, types.NotFound("snapshot", b)
	}

	changes, err := treeA.Diff(treeB)
	if err != nil {
		return nil, fmt.Errorf("vcs: diff: %w", err)
	}

	dmp := diffmatchpatch.New()
	result := make([]types.FileDiff, 0, len(changes))
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			continue
		}

		fd := types.FileDiff{}
		var before, after string

		switch action {
		case merkletrie.Insert:
			fd.Path = ch.To.Name
			fd.ChangeType = types.ChangeAdded
			after = blobContent(s.repo, ch.To.TreeEntry.Hash)
		case merkletrie.Delete:
			fd.Path = ch.From.Name
			fd.ChangeType = types.ChangeDeleted
			before = blobContent(s.repo, ch.From.TreeEntry.Hash)
		default: // Modify
			fd.Path = ch.To.Name
			fd.ChangeType = types.ChangeModified
			before = blobContent(s.repo, ch.From.TreeEntry.Hash)
			after = blobContent(s.repo, ch.To.TreeEntry.Hash)
		}

		fd.Before, fd.After = before, after
		lineDiffs := dmp.DiffMain(before, after, false)
		for _, d := range lineDiffs {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				fd.Additions += countLines(d.Text)
			case diffmatchpatch.DiffDelete:
				fd.Deletions += countLines(d.Text)
			}
		}
		result = append(result, fd)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

// Restore mutates the working copy to exactly the state recorded at
// handle. It is synchronous and must not be called concurrently with
// an active agent run against the same directory (enforced by the
// caller serializing on the session lock, per §5).
func (s *Snapshot) Restore(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wt, err := s.repo.Worktree()
	if err != nil {
		return types.InvalidOperation("vcs: no worktree: " + err.Error())
	}
	hash := plumbing.NewHash(handle)
	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return fmt.Errorf("vcs: restore %s: %w", handle, err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		logging.Warn().Err(err).Msg("vcs: clean after restore failed")
	}
	return nil
}

// AttachWatcher starts a branch-change watcher whose callback
// invalidates snapshot-derived caches held by the owner (the session
// manager passes its own onChange closure).
func (s *Snapshot) AttachWatcher(onChange func(branch string)) error {
	w, err := NewWatcher(s.dir, onChange)
	if err != nil || w == nil {
		return err
	}
	s.watcher = w
	w.Start()
	return nil
}

// Close releases any resources (watcher) held by the Snapshot.
func (s *Snapshot) Close() error {
	if s.watcher != nil {
		return s.watcher.Stop()
	}
	return nil
}

func (s *Snapshot) treeAt(handle string) (*object.Tree, error) {
	hash := plumbing.NewHash(handle)
	c, err := s.repo.CommitObject(hash)
	if err != nil {
		return nil, err
	}
	return c.Tree()
}

func blobContent(repo *git.Repository, hash plumbing.Hash) string {
	blob, err := repo.BlobObject(hash)
	if err != nil {
		return ""
	}
	r, err := blob.Reader()
	if err != nil {
		return ""
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	return string(data)
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	if s[len(s)-1] != '\n' {
		n++
	}
	return n
}
