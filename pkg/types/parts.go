package types

import (
	"encoding/json"
	"fmt"
)

// PartType tags the variant a Part carries.
type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
	PartFile       PartType = "file"
	PartStepStart  PartType = "step-start"
	PartStepFinish PartType = "step-finish"
)

// ToolCallStatus is the lifecycle of a tool-call part.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
	ToolCallCancelled ToolCallStatus = "cancelled"
)

// Part is a typed fragment of one message. SortOrder is dense and
// strictly increasing within a message; Type discriminates which of
// the fields below are meaningful. A Part is one flat struct rather
// than an interface with N implementations so the persistent store can
// round-trip it with a single json.Marshal/Unmarshal and sortOrder
// bookkeeping lives in one place (the message/part store), not in each
// variant.
type Part struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      PartType `json:"type"`
	SortOrder int      `json:"sortOrder"`
	Time      PartTime `json:"time"`

	// text / reasoning
	Content   string `json:"content,omitempty"`
	Streaming bool   `json:"streaming,omitempty"`

	// tool-call
	ToolCallID string         `json:"toolCallID,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Status     ToolCallStatus `json:"status,omitempty"`

	// tool-result (ToolCallID above identifies the call this answers)
	Output string  `json:"output,omitempty"`
	Error  *string `json:"error,omitempty"`

	// file
	Path       string     `json:"path,omitempty"`
	BeforeHash string     `json:"beforeHash,omitempty"`
	AfterHash  string     `json:"afterHash,omitempty"`
	ChangeType ChangeType `json:"changeType,omitempty"`

	// step-start / step-finish
	StepName string `json:"stepName,omitempty"`
	StepOK   bool   `json:"stepOK,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// PartTime tracks when a streaming part started and, once fully
// received, ended.
type PartTime struct {
	Start int64  `json:"start"`
	End   *int64 `json:"end,omitempty"`
}

// NewTextPart builds a text part at the given sortOrder.
func NewTextPart(id, sessionID, messageID string, sortOrder int, content string, streaming bool) Part {
	return Part{ID: id, SessionID: sessionID, MessageID: messageID, Type: PartText,
		SortOrder: sortOrder, Content: content, Streaming: streaming}
}

// NewReasoningPart builds a reasoning part at the given sortOrder.
func NewReasoningPart(id, sessionID, messageID string, sortOrder int, content string, streaming bool) Part {
	return Part{ID: id, SessionID: sessionID, MessageID: messageID, Type: PartReasoning,
		SortOrder: sortOrder, Content: content, Streaming: streaming}
}

// NewToolCallPart builds a pending tool-call part.
func NewToolCallPart(id, sessionID, messageID string, sortOrder int, toolCallID, toolName string, input map[string]any) Part {
	return Part{ID: id, SessionID: sessionID, MessageID: messageID, Type: PartToolCall,
		SortOrder: sortOrder, ToolCallID: toolCallID, ToolName: toolName, Input: input, Status: ToolCallPending}
}

// NewToolResultPart builds a tool-result part answering toolCallID.
func NewToolResultPart(id, sessionID, messageID string, sortOrder int, toolCallID, output string, errMsg *string) Part {
	return Part{ID: id, SessionID: sessionID, MessageID: messageID, Type: PartToolResult,
		SortOrder: sortOrder, ToolCallID: toolCallID, Output: output, Error: errMsg}
}

// NewFilePart describes one file touched by a tool call.
func NewFilePart(id, sessionID, messageID string, sortOrder int, path string, change ChangeType) Part {
	return Part{ID: id, SessionID: sessionID, MessageID: messageID, Type: PartFile,
		SortOrder: sortOrder, Path: path, ChangeType: change}
}

// NewStepStartPart marks the beginning of a provider turn iteration.
func NewStepStartPart(id, sessionID, messageID string, sortOrder int, stepName string) Part {
	return Part{ID: id, SessionID: sessionID, MessageID: messageID, Type: PartStepStart,
		SortOrder: sortOrder, StepName: stepName}
}

// NewStepFinishPart marks the end of a provider turn iteration.
func NewStepFinishPart(id, sessionID, messageID string, sortOrder int, stepName string, ok bool) Part {
	return Part{ID: id, SessionID: sessionID, MessageID: messageID, Type: PartStepFinish,
		SortOrder: sortOrder, StepName: stepName, StepOK: ok}
}

// Validate checks the invariants a Part must hold regardless of type.
func (p Part) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("part: missing id")
	}
	switch p.Type {
	case PartText, PartReasoning, PartToolCall, PartToolResult, PartFile, PartStepStart, PartStepFinish:
	default:
		return fmt.Errorf("part: unknown type %q", p.Type)
	}
	if p.Type == PartToolResult && p.ToolCallID == "" {
		return fmt.Errorf("part: tool-result missing toolCallID")
	}
	return nil
}

// UnmarshalPart decodes a stored/transmitted part. Kept as a named
// function (rather than relying on json.Unmarshal alone) so storage
// call sites read the same way they did when Part was a variant
// interface, and so a malformed type string surfaces before it lands
// in a message's part list.
func UnmarshalPart(data []byte) (Part, error) {
	var p Part
	if err := json.Unmarshal(data, &p); err != nil {
		return Part{}, err
	}
	if err := p.Validate(); err != nil {
		return Part{}, err
	}
	return p, nil
}
