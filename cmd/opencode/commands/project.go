package commands

import (
	"fmt"
	"time"

	"github.com/opencode-ai/opencode/internal/project"
	"github.com/spf13/cobra"
)

var projectDir string

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Show the project a directory resolves to",
	Long:  `Print the project identity (id, worktree, vcs) a working directory resolves to.`,
	RunE:  runProjectCurrent,
}

func init() {
	projectCmd.Flags().StringVar(&projectDir, "directory", "", "Working directory (defaults to cwd)")
}

func runProjectCurrent(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(projectDir)
	if err != nil {
		return err
	}

	svc := project.NewService(workDir)
	proj, err := svc.Current(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to resolve project: %w", err)
	}

	vcs := proj.VCS
	if vcs == "" {
		vcs = "none"
	}
	fmt.Printf("ID:       %s\n", proj.ID)
	fmt.Printf("Worktree: %s\n", proj.Worktree)
	fmt.Printf("VCS:      %s\n", vcs)
	fmt.Printf("Created:  %s\n", time.UnixMilli(proj.Time.Created).Format(time.RFC3339))
	return nil
}
