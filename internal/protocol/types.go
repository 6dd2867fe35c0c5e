package protocol

import (
	"encoding/json"
	"time"
)

// Message is an observer-facing chat/event message
type Message struct {
	Role      string           `json:"role"` // user, assistant, system
	Content   string           `json:"content"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Status    string           `json:"status,omitempty"`
	Timestamp int64            `json:"timestamp"` // unix millis
}

// ToolUseBlock represents a tool call requested by the assistant
type ToolUseBlock struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Tool represents a tool definition exposed to completion providers
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolCallRecord is the outcome of one tool invocation.
// Records are append-only: once in a run's history they are never mutated.
type ToolCallRecord struct {
	ID        string                 `json:"id"`
	Tool      string                 `json:"tool"`
	Args      map[string]interface{} `json:"args,omitempty"`
	Result    interface{}            `json:"result,omitempty"`
	OK        bool                   `json:"ok"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
}

// Approval request lifecycle
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// ApprovalRequest is a pending (or resolved) human decision for a run.
// Resolved requests are kept on the run for audit.
type ApprovalRequest struct {
	ID        string          `json:"id"`
	StepID    string          `json:"step_id"`
	Title     string          `json:"title"`
	Diff      string          `json:"diff,omitempty"`
	Checks    map[string]bool `json:"checks,omitempty"`
	Status    string          `json:"status"` // pending, approved, rejected
	Approver  string          `json:"approver,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// RunSnapshot is a point-in-time copy of a run's state for observers.
// Everything in it is owned by the receiver; mutating it never affects the run.
type RunSnapshot struct {
	RunID      string                 `json:"run_id"`
	ManifestID string                 `json:"manifest_id"`
	StepID     string                 `json:"step_id,omitempty"`
	Status     string                 `json:"status"`
	Variables  map[string]interface{} `json:"variables"`
	History    []ToolCallRecord       `json:"history"`
	Approval   *ApprovalRequest       `json:"approval,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// LatestCall returns the most recent record for a tool name, if any.
func (s *RunSnapshot) LatestCall(tool string) (ToolCallRecord, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Tool == tool {
			return s.History[i], true
		}
	}
	return ToolCallRecord{}, false
}
