package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/opencode/internal/event"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/pkg/types"
)

// CompactionConfig controls message compaction behavior.
type CompactionConfig struct {
	// MinMessagesToKeep is the minimum number of recent messages to keep.
	MinMessagesToKeep int

	// SummaryMaxTokens is the maximum tokens for the summary.
	SummaryMaxTokens int

	// ContextThreshold is a fraction of context usage. The compaction trigger
	// (shouldCompact) does not read it; it compares the summed message tokens
	// against MaxContextTokens.
	ContextThreshold float64
}

// DefaultCompactionConfig returns the default compaction configuration.
var DefaultCompactionConfig = CompactionConfig{
	MinMessagesToKeep: 4,
	SummaryMaxTokens:  2000,
	ContextThreshold:  0.75,
}

// compactionSystemPrompt is the system prompt for generating summaries.
const compactionSystemPrompt = `You are a conversation summarizer. Create a concise summary of the conversation that preserves key context for continuing the discussion.

Focus on:
1. What was accomplished
2. Current work in progress
3. Files involved
4. Next steps
5. Any key user requests or constraints

Be concise but detailed enough that work can continue seamlessly.`

// compactMessages summarizes old messages into a single assistant message so
// the next completion request fits within the model's context window.
func (p *Processor) compactMessages(
	ctx context.Context,
	sessionID string,
	messages []*types.Message,
) error {
	if len(messages) <= DefaultCompactionConfig.MinMessagesToKeep {
		return nil
	}

	session, err := p.findSession(ctx, sessionID)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	session.Time.Compacting = &now
	p.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session)

	defer func() {
		session.Time.Compacting = nil
		p.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session)
	}()

	compactEnd := len(messages) - DefaultCompactionConfig.MinMessagesToKeep
	toCompact := messages[:compactEnd]

	summaryPrompt := buildSummaryPrompt(ctx, p, toCompact)

	model, err := p.providerRegistry.DefaultModel()
	if err != nil {
		return err
	}

	prov, err := p.providerRegistry.Get(model.ProviderID)
	if err != nil {
		return err
	}

	systemMsg := &schema.Message{Role: schema.System, Content: compactionSystemPrompt}
	userMsg := &schema.Message{Role: schema.User, Content: summaryPrompt}

	stream, err := prov.CreateCompletion(ctx, &provider.CompletionRequest{
		Model:     model.ID,
		Messages:  []*schema.Message{systemMsg, userMsg},
		MaxTokens: DefaultCompactionConfig.SummaryMaxTokens,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	var summary strings.Builder
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		summary.WriteString(msg.Content)
	}

	lastMsg := messages[len(messages)-1]
	summaryMsg := &types.Message{
		ID:        generatePartID(),
		SessionID: sessionID,
		Role:      types.RoleAssistant,
		SortOrder: lastMsg.SortOrder + 1,
		Mode:      lastMsg.Mode,
		Time:      types.MessageTime{Created: now},
		Tokens: &types.TokenUsage{
			Input:  estimateTokens(summaryPrompt),
			Output: estimateTokens(summary.String()),
		},
	}
	if err := p.storage.Put(ctx, []string{"message", sessionID, summaryMsg.ID}, summaryMsg); err != nil {
		return fmt.Errorf("failed to save compaction message: %w", err)
	}
	event.Publish(types.NewEvent(types.EventMessageCreated, sessionID, map[string]any{"messageID": summaryMsg.ID}))

	summaryPart := types.NewTextPart(generatePartID(), sessionID, summaryMsg.ID, 0, summary.String(), false)
	if err := p.storage.Put(ctx, []string{"part", summaryMsg.ID, summaryPart.ID}, summaryPart); err != nil {
		return fmt.Errorf("failed to save compaction part: %w", err)
	}
	event.Publish(types.NewEvent(types.EventPartCreated, sessionID, map[string]any{
		"messageID": summaryMsg.ID,
		"partID":    summaryPart.ID,
	}))

	return nil
}

// buildSummaryPrompt creates a prompt for summarizing messages.
func buildSummaryPrompt(ctx context.Context, p *Processor, messages []*types.Message) string {
	var prompt strings.Builder

	prompt.WriteString("Please summarize the following conversation, focusing on:\n")
	prompt.WriteString("1. Key decisions and outcomes\n")
	prompt.WriteString("2. Files that were modified\n")
	prompt.WriteString("3. Important context for continuing the work\n\n")
	prompt.WriteString("---\n\n")

	for _, msg := range messages {
		if msg.Role == types.RoleUser {
			prompt.WriteString("USER:\n")
		} else {
			prompt.WriteString("ASSISTANT:\n")
		}

		parts, err := p.loadParts(ctx, msg.ID)
		if err != nil {
			continue
		}

		for _, part := range parts {
			switch part.Type {
			case types.PartText:
				prompt.WriteString(part.Content)
				prompt.WriteString("\n")
			case types.PartToolCall:
				prompt.WriteString(fmt.Sprintf("[Tool: %s]\n", part.ToolName))
			case types.PartToolResult:
				output := part.Output
				if len(output) > 500 {
					output = output[:500] + "..."
				}
				if output != "" {
					prompt.WriteString(output)
					prompt.WriteString("\n")
				}
			}
		}

		prompt.WriteString("\n")
	}

	return prompt.String()
}

// estimateTokens provides a rough estimate of token count.
func estimateTokens(text string) int {
	// Rough estimate: ~4 characters per token
	return len(text) / 4
}
