// Package project provides project management functionality.
package project

import (
	"context"
	"os"
	"time"

	"github.com/opencode-ai/opencode/pkg/types"
)

// Service manages project information.
type Service struct {
	workDir string
}

// NewService creates a new project service.
func NewService(workDir string) *Service {
	return &Service{workDir: workDir}
}

// List returns all projects (currently just the current project).
// The context is not consulted; the project is always resolved from the service's workDir.
func (s *Service) List(ctx context.Context) ([]types.Project, error) {
	current, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	return []types.Project{*current}, nil
}

// ListForDir returns all projects for a specific directory.
func (s *Service) ListForDir(ctx context.Context, dir string) ([]types.Project, error) {
	current, err := s.CurrentForDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	return []types.Project{*current}, nil
}

// Current returns the current project based on workDir.
func (s *Service) Current(ctx context.Context) (*types.Project, error) {
	return s.CurrentForDir(ctx, s.workDir)
}

// CurrentForDir returns the current project for a specific directory,
// using the same git-aware identity FromDirectory gives the Session
// Manager so a project listed here matches the projectID its sessions
// are filed under.
func (s *Service) CurrentForDir(ctx context.Context, dir string) (*types.Project, error) {
	info, err := FromDirectory(dir)
	if err != nil {
		return nil, err
	}

	var vcs string
	if info.VCS != nil {
		vcs = *info.VCS
	}

	// Get directory creation time (or use current time as fallback)
	stat, _ := os.Stat(info.Worktree)
	created := time.Now().UnixMilli()
	if stat != nil {
		created = stat.ModTime().UnixMilli()
	}

	return &types.Project{
		ID:       info.ID,
		Worktree: info.Worktree,
		VCS:      vcs,
		Time: types.ProjectTime{
			Created: created,
		},
	}, nil
}
