package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/opencode-ai/opencode/internal/config"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/spf13/cobra"
)

var sessionDir string

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
	Long:  `List, fork, revert, and undo sessions directly against the session store.`,
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions for a directory",
	RunE:    runSessionList,
}

var sessionForkCmd = &cobra.Command{
	Use:   "fork <session-id> [message-id]",
	Short: "Fork a session, optionally at a specific message",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSessionFork,
}

var sessionRevertCmd = &cobra.Command{
	Use:   "revert <session-id> <message-id>",
	Short: "Mark a session as viewing a prior message",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionRevert,
}

var sessionUnrevertCmd = &cobra.Command{
	Use:   "unrevert <session-id>",
	Short: "Clear a session's revert marker",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionUnrevert,
}

var sessionUndoCmd = &cobra.Command{
	Use:   "undo <session-id> [turns]",
	Short: "Undo the last N turns, restoring the working copy",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSessionUndo,
}

func init() {
	sessionCmd.PersistentFlags().StringVar(&sessionDir, "directory", "", "Working directory (defaults to cwd)")
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionForkCmd)
	sessionCmd.AddCommand(sessionRevertCmd)
	sessionCmd.AddCommand(sessionUnrevertCmd)
	sessionCmd.AddCommand(sessionUndoCmd)
}

func newSessionService() (*session.Service, error) {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}
	return session.NewService(storage.New(paths.StoragePath())), nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(sessionDir)
	if err != nil {
		return err
	}

	svc, err := newSessionService()
	if err != nil {
		return err
	}

	sessions, err := svc.List(cmd.Context(), workDir)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tUPDATED\t")
	for _, s := range sessions {
		updated := time.UnixMilli(s.Time.Updated).Format(time.RFC3339)
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", s.ID, s.Title, updated)
	}
	return w.Flush()
}

func runSessionFork(cmd *cobra.Command, args []string) error {
	svc, err := newSessionService()
	if err != nil {
		return err
	}

	var forkPoint *string
	if len(args) > 1 {
		forkPoint = &args[1]
	}

	fork, err := svc.Fork(cmd.Context(), args[0], forkPoint, "")
	if err != nil {
		return err
	}

	fmt.Printf("Forked session %s -> %s\n", args[0], fork.ID)
	return nil
}

func runSessionRevert(cmd *cobra.Command, args []string) error {
	svc, err := newSessionService()
	if err != nil {
		return err
	}

	sess, err := svc.Revert(cmd.Context(), args[0], args[1], nil)
	if err != nil {
		return err
	}

	fmt.Printf("Session %s now viewing message %s\n", sess.ID, args[1])
	return nil
}

func runSessionUnrevert(cmd *cobra.Command, args []string) error {
	svc, err := newSessionService()
	if err != nil {
		return err
	}

	sess, err := svc.Unrevert(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Session %s revert cleared\n", sess.ID)
	return nil
}

func runSessionUndo(cmd *cobra.Command, args []string) error {
	svc, err := newSessionService()
	if err != nil {
		return err
	}

	count := 1
	if len(args) > 1 {
		if _, err := fmt.Sscanf(args[1], "%d", &count); err != nil {
			return fmt.Errorf("invalid turn count: %s", args[1])
		}
	}

	result, err := svc.UndoTurns(cmd.Context(), args[0], count)
	if err != nil {
		return err
	}

	fmt.Printf("Undid %d turn(s), removed %d message(s)\n", result.TurnsUndone, result.MessagesRemoved)
	if len(result.FilesReverted) > 0 {
		fmt.Println("Files reverted:")
		for _, f := range result.FilesReverted {
			fmt.Printf("  %s\n", f)
		}
	}
	return nil
}
