package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencode-ai/opencode/internal/event"
	"github.com/opencode-ai/opencode/internal/permission"
	"github.com/opencode-ai/opencode/internal/tool"
	"github.com/opencode-ai/opencode/pkg/types"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// executeToolCalls runs every tool-call part still awaiting execution.
func (p *Processor) executeToolCalls(
	ctx context.Context,
	state *sessionState,
	agent *Agent,
	callback ProcessCallback,
) error {
	var pending []int
	for i, part := range state.parts {
		if part.Type == types.PartToolCall && part.Status == types.ToolCallPending {
			pending = append(pending, i)
		}
	}

	for _, idx := range pending {
		if err := p.executeSingleTool(ctx, state, agent, idx, callback); err != nil {
			// Error is captured in the tool-result part; keep processing the rest.
			continue
		}
	}

	return nil
}

// executeSingleTool runs the tool-call part at state.parts[idx] and appends
// the matching tool-result part once it finishes.
func (p *Processor) executeSingleTool(
	ctx context.Context,
	state *sessionState,
	agent *Agent,
	idx int,
	callback ProcessCallback,
) error {
	callPart := &state.parts[idx]

	t, ok := p.toolRegistry.Get(callPart.ToolName)
	if !ok {
		return p.failTool(ctx, state, idx, callback, fmt.Sprintf("Tool not found: %s", callPart.ToolName))
	}

	if err := p.checkToolPermission(ctx, state, agent, callPart); err != nil {
		return p.failTool(ctx, state, idx, callback, err.Error())
	}
	if err := p.checkDoomLoop(ctx, state, agent, callPart); err != nil {
		return p.failTool(ctx, state, idx, callback, err.Error())
	}

	inputJSON, err := json.Marshal(callPart.Input)
	if err != nil {
		return p.failTool(ctx, state, idx, callback, fmt.Sprintf("Failed to marshal input: %v", err))
	}

	workDir := ""
	if sess, err := p.loadSession(state.message.SessionID); err == nil {
		workDir = sess.Directory
	}

	abortCh := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(abortCh)
	}()

	callPart.Status = types.ToolCallRunning
	p.savePart(ctx, state.message.ID, *callPart)
	event.Publish(types.NewEvent(types.EventPartUpdated, state.message.SessionID, map[string]any{
		"messageID": state.message.ID,
		"partID":    callPart.ID,
	}))

	toolCtx := &tool.Context{
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		CallID:    callPart.ToolCallID,
		Agent:     agent.Name,
		WorkDir:   workDir,
		AbortCh:   abortCh,
		Extra: map[string]any{
			"model": state.message.ModelID,
		},
	}

	toolCtx.OnMetadata = func(title string, meta map[string]any) {
		if callPart.Metadata == nil {
			callPart.Metadata = make(map[string]any)
		}
		callPart.Metadata["title"] = title
		for k, v := range meta {
			callPart.Metadata[k] = v
		}

		event.Publish(types.NewEvent(types.EventPartUpdated, state.message.SessionID, map[string]any{
			"messageID": state.message.ID,
			"partID":    callPart.ID,
		}))
		callback(state.message, state.parts)
	}

	result, err := t.Execute(ctx, inputJSON, toolCtx)
	if err != nil {
		return p.failTool(ctx, state, idx, callback, err.Error())
	}

	now := time.Now().UnixMilli()
	callPart.Status = types.ToolCallCompleted
	callPart.Time.End = &now
	if callPart.Metadata == nil {
		callPart.Metadata = make(map[string]any)
	}
	callPart.Metadata["title"] = result.Title
	for k, v := range result.Metadata {
		callPart.Metadata[k] = v
	}
	p.savePart(ctx, state.message.ID, *callPart)

	resultPart := types.NewToolResultPart(generatePartID(), state.message.SessionID, state.message.ID,
		len(state.parts), callPart.ToolCallID, result.Output, nil)
	resultPart.Metadata = result.Metadata

	for _, att := range result.Attachments {
		filePart := types.NewFilePart(generatePartID(), state.message.SessionID, state.message.ID,
			len(state.parts)+1, att.Filename, types.ChangeModified)
		filePart.Metadata = map[string]any{"mediaType": att.MediaType, "url": att.URL}
		state.parts = append(state.parts, filePart)
		p.savePart(ctx, state.message.ID, filePart)
		event.Publish(types.NewEvent(types.EventPartCreated, state.message.SessionID, map[string]any{
			"messageID": state.message.ID,
			"partID":    filePart.ID,
		}))
	}

	p.recordDiff(state, &resultPart)

	state.parts = append(state.parts, resultPart)
	p.savePart(ctx, state.message.ID, resultPart)

	event.Publish(types.NewEvent(types.EventPartUpdated, state.message.SessionID, map[string]any{
		"messageID": state.message.ID,
		"partID":    callPart.ID,
	}))
	event.Publish(types.NewEvent(types.EventPartCreated, state.message.SessionID, map[string]any{
		"messageID": state.message.ID,
		"partID":    resultPart.ID,
	}))

	callback(state.message, state.parts)
	return nil
}

// failTool marks a tool call as failed and appends an errored tool-result part.
func (p *Processor) failTool(
	ctx context.Context,
	state *sessionState,
	idx int,
	callback ProcessCallback,
	errMsg string,
) error {
	callPart := &state.parts[idx]
	now := time.Now().UnixMilli()
	callPart.Status = types.ToolCallFailed
	callPart.Time.End = &now
	p.savePart(ctx, state.message.ID, *callPart)

	resultPart := types.NewToolResultPart(generatePartID(), state.message.SessionID, state.message.ID,
		len(state.parts), callPart.ToolCallID, "", &errMsg)
	state.parts = append(state.parts, resultPart)
	p.savePart(ctx, state.message.ID, resultPart)

	event.Publish(types.NewEvent(types.EventPartUpdated, state.message.SessionID, map[string]any{
		"messageID": state.message.ID,
		"partID":    callPart.ID,
	}))
	event.Publish(types.NewEvent(types.EventPartCreated, state.message.SessionID, map[string]any{
		"messageID": state.message.ID,
		"partID":    resultPart.ID,
	}))

	callback(state.message, state.parts)
	return errors.New(errMsg)
}

// checkToolPermission checks if the tool execution is permitted.
func (p *Processor) checkToolPermission(
	ctx context.Context,
	state *sessionState,
	agent *Agent,
	callPart *types.Part,
) error {
	if p.permissionChecker == nil {
		return nil
	}

	var permType permission.PermissionType
	var action permission.PermissionAction
	var pattern []string

	switch callPart.ToolName {
	case "bash":
		permType = permission.PermBash
		if cmd, ok := callPart.Input["command"].(string); ok {
			pattern = []string{cmd}
		}
		switch agent.Permission.Bash {
		case "allow":
			action = permission.ActionAllow
		case "deny":
			action = permission.ActionDeny
		default:
			action = permission.ActionAsk
		}

	case "write", "edit":
		permType = permission.PermEdit
		if path, ok := callPart.Input["filePath"].(string); ok {
			pattern = []string{path}
		}
		switch agent.Permission.Write {
		case "allow":
			action = permission.ActionAllow
		case "deny":
			action = permission.ActionDeny
		default:
			action = permission.ActionAsk
		}

	default:
		// Other tools don't require permission
		return nil
	}

	req := permission.Request{
		Type:      permType,
		Pattern:   pattern,
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		CallID:    callPart.ToolCallID,
		Title:     fmt.Sprintf("Allow %s?", callPart.ToolName),
	}

	return p.permissionChecker.Check(ctx, req, action)
}

// recordDiff captures a file diff from a tool-result part's metadata
// (populated by edit-like tools via "file"/"before"/"after") and folds
// it into the session's running summary.
func (p *Processor) recordDiff(state *sessionState, resultPart *types.Part) error {
	if resultPart.Metadata == nil {
		return nil
	}

	pathVal, ok := resultPart.Metadata["file"].(string)
	if !ok || pathVal == "" {
		return nil
	}
	before, okBefore := resultPart.Metadata["before"].(string)
	after, okAfter := resultPart.Metadata["after"].(string)
	if !okBefore || !okAfter {
		return nil
	}

	session, err := p.loadSession(state.message.SessionID)
	if err != nil {
		return err
	}

	relPath := pathVal
	if session.Directory != "" {
		if rp, err := filepath.Rel(session.Directory, pathVal); err == nil {
			relPath = rp
		}
	}

	diffText, additions, deletions, err := computeDiff(before, after, relPath)
	if err != nil {
		return err
	}

	changeType := types.ChangeModified
	if before == "" {
		changeType = types.ChangeAdded
	} else if after == "" {
		changeType = types.ChangeDeleted
	}

	fileDiff := types.FileDiff{
		Path:       relPath,
		ChangeType: changeType,
		Additions:  additions,
		Deletions:  deletions,
		Before:     before,
		After:      after,
	}

	var filtered []types.FileDiff
	for _, d := range session.Summary.Diffs {
		if d.Path != relPath {
			filtered = append(filtered, d)
		}
	}
	filtered = append(filtered, fileDiff)
	session.Summary.Diffs = filtered

	adds, dels, files := 0, 0, len(session.Summary.Diffs)
	for _, d := range session.Summary.Diffs {
		adds += d.Additions
		dels += d.Deletions
	}
	session.Summary.Additions = adds
	session.Summary.Deletions = dels
	session.Summary.Files = files
	session.Time.Updated = time.Now().UnixMilli()

	if err := p.saveSession(session); err != nil {
		return err
	}

	event.Publish(types.NewEvent(types.EventSessionUpdated, session.ID, map[string]any{
		"additions": adds,
		"deletions": dels,
		"files":     files,
	}))

	resultPart.Metadata["diff"] = diffText
	return nil
}

func computeDiff(before, after, path string) (string, int, int, error) {
	dmp := diffmatchpatch.New()

	// Compute line-based diff for accurate line counting
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	// Count additions and deletions by lines
	additions, deletions := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			lines := countLines(d.Text)
			additions += lines
		case diffmatchpatch.DiffDelete:
			lines := countLines(d.Text)
			deletions += lines
		}
	}

	// Generate proper unified diff text for display
	diffText := generateUnifiedDiff(diffs, path)

	return diffText, additions, deletions, nil
}

// countLines counts the number of lines in text
func countLines(text string) int {
	if text == "" {
		return 0
	}
	lines := strings.Count(text, "\n")
	// If text doesn't end with newline, count it as a line
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	return lines
}

// generateUnifiedDiff creates a proper unified diff format from diffs with context lines
func generateUnifiedDiff(diffs []diffmatchpatch.Diff, path string) string {
	if len(diffs) == 0 {
		return ""
	}

	// Check if there are any actual changes
	hasChanges := false
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffEqual {
			hasChanges = true
			break
		}
	}
	if !hasChanges {
		return ""
	}

	// Convert diffs to lines with their types
	type diffLine struct {
		text     string
		diffType diffmatchpatch.Operation
	}
	var allLines []diffLine

	for _, d := range diffs {
		text := d.Text
		lines := strings.Split(text, "\n")
		// Handle trailing newline - if text ends with \n, the last split element is empty
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			allLines = append(allLines, diffLine{text: line, diffType: d.Type})
		}
	}

	// Find ranges of changes with context (3 lines before and after)
	const contextLines = 3
	type hunk struct {
		startOld, countOld int
		startNew, countNew int
		lines              []diffLine
	}

	var hunks []hunk
	var currentHunk *hunk

	for i, line := range allLines {
		isChange := line.diffType != diffmatchpatch.DiffEqual

		if isChange {
			// Start a new hunk or extend current one
			if currentHunk == nil {
				// Calculate start positions including context
				contextStart := i - contextLines
				if contextStart < 0 {
					contextStart = 0
				}

				// Calculate old/new line numbers at context start
				startOld := 1
				startNew := 1
				for j := 0; j < contextStart; j++ {
					switch allLines[j].diffType {
					case diffmatchpatch.DiffEqual:
						startOld++
						startNew++
					case diffmatchpatch.DiffDelete:
						startOld++
					case diffmatchpatch.DiffInsert:
						startNew++
					}
				}

				currentHunk = &hunk{
					startOld: startOld,
					startNew: startNew,
				}

				// Add context lines before the change
				for j := contextStart; j < i; j++ {
					currentHunk.lines = append(currentHunk.lines, allLines[j])
				}
			}
			currentHunk.lines = append(currentHunk.lines, line)
		} else if currentHunk != nil {
			// Check if we should end the hunk or continue with context
			// Look ahead to see if there's another change within context range
			nextChangeIdx := -1
			for j := i + 1; j < len(allLines) && j <= i+contextLines*2; j++ {
				if allLines[j].diffType != diffmatchpatch.DiffEqual {
					nextChangeIdx = j
					break
				}
			}

			if nextChangeIdx != -1 && nextChangeIdx <= i+contextLines*2 {
				// Another change is close, include this line and continue
				currentHunk.lines = append(currentHunk.lines, line)
			} else {
				// Add remaining context lines and close hunk
				for j := i; j < len(allLines) && j < i+contextLines; j++ {
					if allLines[j].diffType == diffmatchpatch.DiffEqual {
						currentHunk.lines = append(currentHunk.lines, allLines[j])
					} else {
						break
					}
				}

				// Calculate counts
				for _, l := range currentHunk.lines {
					switch l.diffType {
					case diffmatchpatch.DiffEqual:
						currentHunk.countOld++
						currentHunk.countNew++
					case diffmatchpatch.DiffDelete:
						currentHunk.countOld++
					case diffmatchpatch.DiffInsert:
						currentHunk.countNew++
					}
				}

				hunks = append(hunks, *currentHunk)
				currentHunk = nil
			}
		}
	}

	// Close any remaining hunk
	if currentHunk != nil {
		for _, l := range currentHunk.lines {
			switch l.diffType {
			case diffmatchpatch.DiffEqual:
				currentHunk.countOld++
				currentHunk.countNew++
			case diffmatchpatch.DiffDelete:
				currentHunk.countOld++
			case diffmatchpatch.DiffInsert:
				currentHunk.countNew++
			}
		}
		hunks = append(hunks, *currentHunk)
	}

	// Build output
	var buf strings.Builder

	// Write file headers
	buf.WriteString("Index: ")
	buf.WriteString(path)
	buf.WriteString("\n")
	buf.WriteString("===================================================================\n")
	buf.WriteString("--- ")
	buf.WriteString(path)
	buf.WriteString("\n")
	buf.WriteString("+++ ")
	buf.WriteString(path)
	buf.WriteString("\n")

	// Write each hunk
	for _, h := range hunks {
		buf.WriteString(fmt.Sprintf("@@ -%d,%d +%d,%d @@\n", h.startOld, h.countOld, h.startNew, h.countNew))
		for _, line := range h.lines {
			switch line.diffType {
			case diffmatchpatch.DiffEqual:
				buf.WriteString(" ")
			case diffmatchpatch.DiffDelete:
				buf.WriteString("-")
			case diffmatchpatch.DiffInsert:
				buf.WriteString("+")
			}
			buf.WriteString(line.text)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

func (p *Processor) loadSession(sessionID string) (*types.Session, error) {
	projects, err := p.storage.List(context.Background(), []string{"session"})
	if err != nil {
		return nil, err
	}

	for _, projectID := range projects {
		var session types.Session
		if err := p.storage.Get(context.Background(), []string{"session", projectID, sessionID}, &session); err == nil {
			return &session, nil
		}
	}
	return nil, fmt.Errorf("session %s not found", sessionID)
}

func (p *Processor) saveSession(session *types.Session) error {
	return p.storage.Put(context.Background(), []string{"session", session.ProjectID, session.ID}, session)
}

// checkDoomLoop detects and handles repetitive tool calls.
func (p *Processor) checkDoomLoop(
	ctx context.Context,
	state *sessionState,
	agent *Agent,
	callPart *types.Part,
) error {
	// Count identical tool calls
	count := 0
	inputJSON, _ := json.Marshal(callPart.Input)
	inputStr := string(inputJSON)

	for _, part := range state.parts {
		if part.Type == types.PartToolCall && part.Status == types.ToolCallCompleted && part.ToolName == callPart.ToolName {
			otherInput, _ := json.Marshal(part.Input)
			if string(otherInput) == inputStr {
				count++
			}
		}
	}

	// Threshold for doom loop detection
	if count < 3 {
		return nil
	}

	// Check permission policy
	switch agent.Permission.DoomLoop {
	case "allow":
		return nil

	case "deny":
		return fmt.Errorf("doom loop detected: %s called %d times with same input", callPart.ToolName, count)

	case "ask", "":
		if p.permissionChecker == nil {
			return nil
		}

		// Request permission from user
		req := permission.Request{
			Type:      permission.PermDoomLoop,
			Pattern:   []string{callPart.ToolName},
			SessionID: state.message.SessionID,
			MessageID: state.message.ID,
			CallID:    callPart.ToolCallID,
			Title:     fmt.Sprintf("Allow repeated %s call?", callPart.ToolName),
		}

		return p.permissionChecker.Ask(ctx, req)
	}

	return nil
}
