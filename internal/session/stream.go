package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/opencode/internal/event"
	"github.com/opencode-ai/opencode/internal/logging"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/pkg/types"
)

// streamToolCall tracks one in-flight tool call across chunk deltas before
// it becomes a types.Part.
type streamToolCall struct {
	idx        int // index into state.parts once appended
	toolCallID string
	toolName   string
	rawInput   string
}

// processStream processes events from the LLM stream.
func (p *Processor) processStream(
	ctx context.Context,
	stream *provider.CompletionStream,
	state *sessionState,
	callback ProcessCallback,
) (string, error) {
	var textIdx = -1
	var reasoningIdx = -1
	toolCalls := make(map[string]*streamToolCall)
	var finishReason string
	var accumulatedContent string

	sessionID := state.message.SessionID

	stepStartPart := types.NewStepStartPart(generatePartID(), sessionID, state.message.ID, len(state.parts), "")
	state.parts = append(state.parts, stepStartPart)
	p.savePart(ctx, state.message.ID, stepStartPart)
	event.Publish(types.NewEvent(types.EventPartCreated, sessionID, map[string]any{
		"messageID": state.message.ID,
		"partID":    stepStartPart.ID,
	}))
	callback(state.message, state.parts)

	logging.Debug().Str("sessionID", sessionID).Msg("stream: starting to receive chunks")
	chunkCount := 0
	var lastEventTime time.Time

	for {
		select {
		case <-ctx.Done():
			logging.Debug().Str("sessionID", sessionID).Msg("stream: context cancelled")
			return "error", ctx.Err()
		default:
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			logging.Debug().Int("chunks", chunkCount).Msg("stream: received EOF")
			break
		}
		if err != nil {
			logging.Warn().Err(err).Msg("stream: error receiving chunk")
			return "error", err
		}
		chunkCount++

		finishReason = p.processMessageChunk(ctx, msg, state, callback,
			&textIdx, &reasoningIdx, toolCalls, &accumulatedContent, &lastEventTime)

		if finishReason != "" {
			break
		}
	}

	// Finalize any open streaming parts.
	now := time.Now().UnixMilli()
	if textIdx >= 0 {
		state.parts[textIdx].Time.End = &now
		state.parts[textIdx].Streaming = false
		p.savePart(ctx, state.message.ID, state.parts[textIdx])
	}
	if reasoningIdx >= 0 {
		state.parts[reasoningIdx].Time.End = &now
		state.parts[reasoningIdx].Streaming = false
		p.savePart(ctx, state.message.ID, state.parts[reasoningIdx])
	}

	logging.Debug().Int("toolCalls", len(toolCalls)).Msg("stream: finalizing tool calls")
	for _, tc := range toolCalls {
		callPart := &state.parts[tc.idx]
		if callPart.Input == nil && tc.rawInput != "" {
			var input map[string]any
			if err := json.Unmarshal([]byte(tc.rawInput), &input); err == nil {
				callPart.Input = input
			}
		}
		callPart.Status = types.ToolCallPending
		p.savePart(ctx, state.message.ID, *callPart)
	}

	if finishReason == "" {
		if len(toolCalls) > 0 {
			finishReason = "tool-calls"
		} else {
			finishReason = "stop"
		}
	}
	if finishReason == "tool_use" {
		finishReason = "tool-calls"
	}

	stepFinishPart := types.NewStepFinishPart(generatePartID(), sessionID, state.message.ID, len(state.parts), "", finishReason != "error")
	state.parts = append(state.parts, stepFinishPart)
	p.savePart(ctx, state.message.ID, stepFinishPart)
	event.Publish(types.NewEvent(types.EventPartCreated, sessionID, map[string]any{
		"messageID": state.message.ID,
		"partID":    stepFinishPart.ID,
	}))
	callback(state.message, state.parts)

	logging.Debug().Str("finishReason", finishReason).Int("parts", len(state.parts)).Msg("stream: finished")

	return finishReason, nil
}

// MinEventInterval is the minimum time between streaming events.
// This ensures a client has time to process each event before the next arrives.
const MinEventInterval = 20 * time.Millisecond

// throttledPublish publishes an event with optional throttling to prevent
// downstream consumers from being flooded by per-token deltas.
func throttledPublish(e types.Event, lastEventTime *time.Time) {
	if lastEventTime != nil && !lastEventTime.IsZero() {
		elapsed := time.Since(*lastEventTime)
		if elapsed < MinEventInterval {
			time.Sleep(MinEventInterval - elapsed)
		}
	}
	event.Publish(e)
	if lastEventTime != nil {
		*lastEventTime = time.Now()
	}
}

// processMessageChunk handles a single message chunk from the stream.
func (p *Processor) processMessageChunk(
	ctx context.Context,
	msg *schema.Message,
	state *sessionState,
	callback ProcessCallback,
	textIdx *int,
	reasoningIdx *int,
	toolCalls map[string]*streamToolCall,
	accumulatedContent *string,
	lastEventTime *time.Time,
) string {
	var finishReason string
	sessionID := state.message.SessionID

	// Handle text content.
	if msg.Content != "" {
		if *textIdx < 0 {
			part := types.NewTextPart(generatePartID(), sessionID, state.message.ID, len(state.parts), msg.Content, true)
			part.Time.Start = time.Now().UnixMilli()
			state.parts = append(state.parts, part)
			*textIdx = len(state.parts) - 1
			*accumulatedContent = msg.Content

			throttledPublish(types.NewEvent(types.EventPartUpdated, sessionID, map[string]any{
				"messageID": state.message.ID,
				"partID":    part.ID,
				"delta":     msg.Content,
			}), lastEventTime)

			callback(state.message, state.parts)
		} else {
			var delta string
			if strings.HasPrefix(msg.Content, *accumulatedContent) {
				delta = msg.Content[len(*accumulatedContent):]
				*accumulatedContent = msg.Content
			} else {
				delta = msg.Content
				*accumulatedContent += msg.Content
			}
			state.parts[*textIdx].Content = *accumulatedContent

			throttledPublish(types.NewEvent(types.EventPartUpdated, sessionID, map[string]any{
				"messageID": state.message.ID,
				"partID":    state.parts[*textIdx].ID,
				"delta":     delta,
			}), lastEventTime)

			callback(state.message, state.parts)
		}
	}

	// Handle reasoning content (extended thinking).
	if msg.ReasoningContent != "" {
		if *reasoningIdx < 0 {
			part := types.NewReasoningPart(generatePartID(), sessionID, state.message.ID, len(state.parts), msg.ReasoningContent, true)
			part.Time.Start = time.Now().UnixMilli()
			state.parts = append(state.parts, part)
			*reasoningIdx = len(state.parts) - 1
		} else {
			state.parts[*reasoningIdx].Content = msg.ReasoningContent
		}
		callback(state.message, state.parts)
	}

	// Handle tool calls.
	// The eino streaming model tracks a call across chunks by Index:
	// - Start event: Index=N, ID="toolu_xxx", Name="Read"
	// - Delta events: Index=N, ID="", Name="", Arguments='{"partial...'
	for _, tc := range msg.ToolCalls {
		var lookupKey string
		if tc.Index != nil {
			lookupKey = fmt.Sprintf("idx:%d", *tc.Index)
		} else if tc.ID != "" {
			lookupKey = tc.ID
		} else {
			continue
		}

		call, exists := toolCalls[lookupKey]

		if !exists && tc.ID != "" && tc.Function.Name != "" {
			part := types.NewToolCallPart(generatePartID(), sessionID, state.message.ID, len(state.parts),
				tc.ID, tc.Function.Name, make(map[string]any))
			part.Time.Start = time.Now().UnixMilli()
			state.parts = append(state.parts, part)

			call = &streamToolCall{idx: len(state.parts) - 1, toolCallID: tc.ID, toolName: tc.Function.Name}
			toolCalls[lookupKey] = call

			event.Publish(types.NewEvent(types.EventPartCreated, sessionID, map[string]any{
				"messageID": state.message.ID,
				"partID":    part.ID,
			}))
			callback(state.message, state.parts)
		}

		if tc.Function.Arguments != "" && call != nil {
			call.rawInput += tc.Function.Arguments
			callPart := &state.parts[call.idx]

			var input map[string]any
			if err := json.Unmarshal([]byte(call.rawInput), &input); err == nil {
				callPart.Input = input
			}

			event.Publish(types.NewEvent(types.EventPartUpdated, sessionID, map[string]any{
				"messageID": state.message.ID,
				"partID":    callPart.ID,
			}))
			callback(state.message, state.parts)
		}
	}

	// Check for response metadata (token usage, finish reason).
	if msg.ResponseMeta != nil {
		if state.message.Tokens == nil {
			state.message.Tokens = &types.TokenUsage{}
		}
		if msg.ResponseMeta.Usage != nil {
			state.message.Tokens.Input = msg.ResponseMeta.Usage.PromptTokens
			state.message.Tokens.Output = msg.ResponseMeta.Usage.CompletionTokens
		}
		if msg.ResponseMeta.FinishReason != "" {
			finishReason = msg.ResponseMeta.FinishReason
		}
	}

	return finishReason
}
