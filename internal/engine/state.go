package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/changeware/flowgate/internal/protocol"
)

// RunStatus is the status of the current step / the run as a whole
type RunStatus string

const (
	StatusPending RunStatus = "pending"
	StatusRunning RunStatus = "running"
	StatusWaiting RunStatus = "waiting"
	StatusSuccess RunStatus = "success"
	StatusError   RunStatus = "error"
)

// RunState is the whole mutable execution record of one run. It is created
// per run and owned by its Runner; nothing engine-side is global. History is
// append-only and edge effects are the only path that mutates variables.
//
// RunState methods are safe for concurrent reads (snapshots), but the run
// loop itself is single-owner: callers must not run Approve/Reject/Run on
// the same state concurrently.
type RunState struct {
	mu         sync.RWMutex
	runID      string
	manifestID string
	stepID     string
	status     RunStatus
	vars       map[string]interface{}
	history    []protocol.ToolCallRecord
	approval   *protocol.ApprovalRequest
	startedAt  time.Time
	updatedAt  time.Time
}

// NewRunState creates a fresh run state seeded with the manifest's initial
// variable bindings.
func NewRunState(manifestID string, initial map[string]interface{}) *RunState {
	vars := make(map[string]interface{}, len(initial))
	for k, v := range initial {
		vars[k] = v
	}
	now := time.Now()
	return &RunState{
		runID:      uuid.NewString(),
		manifestID: manifestID,
		status:     StatusPending,
		vars:       vars,
		startedAt:  now,
		updatedAt:  now,
	}
}

// RunID returns the unique run identifier
func (s *RunState) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// StepID returns the id of the current step
func (s *RunState) StepID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stepID
}

// Status returns the current step status
func (s *RunState) Status() RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStep moves the run to a step with the given status
func (s *RunState) SetStep(stepID string, status RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepID = stepID
	s.status = status
	s.updatedAt = time.Now()
}

// SetStatus updates the current step status
func (s *RunState) SetStatus(status RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.updatedAt = time.Now()
}

// Var returns one run variable
func (s *RunState) Var(name string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

// SetVar sets one run variable
func (s *RunState) SetVar(name string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
	s.updatedAt = time.Now()
}

// Vars returns a copy of the variable bag
func (s *RunState) Vars() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

// AppendRecord appends a tool call record to the run history
func (s *RunState) AppendRecord(rec protocol.ToolCallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	s.updatedAt = time.Now()
}

// History returns a copy of the append-only history
func (s *RunState) History() []protocol.ToolCallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.ToolCallRecord, len(s.history))
	copy(out, s.history)
	return out
}

// LatestCall returns the most recent record for a tool name, if any
func (s *RunState) LatestCall(tool string) (protocol.ToolCallRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Tool == tool {
			return s.history[i], true
		}
	}
	return protocol.ToolCallRecord{}, false
}

// Approval returns the run's approval request, or nil
func (s *RunState) Approval() *protocol.ApprovalRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.approval == nil {
		return nil
	}
	cp := *s.approval
	return &cp
}

// SetApproval stores a new approval request. At most one request is
// outstanding per run; the previous one must have been resolved.
func (s *RunState) SetApproval(req *protocol.ApprovalRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approval = req
	s.updatedAt = time.Now()
}

// ResolveApproval marks the outstanding request approved or rejected.
// It reports false when there is no pending request to resolve.
func (s *RunState) ResolveApproval(status, approver, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.approval == nil || s.approval.Status != protocol.ApprovalPending {
		return false
	}
	s.approval.Status = status
	s.approval.Approver = approver
	s.approval.Reason = reason
	s.updatedAt = time.Now()
	return true
}

// Snapshot returns a point-in-time copy of the whole run state
func (s *RunState) Snapshot() protocol.RunSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vars := make(map[string]interface{}, len(s.vars))
	for k, v := range s.vars {
		vars[k] = v
	}
	history := make([]protocol.ToolCallRecord, len(s.history))
	copy(history, s.history)

	var approval *protocol.ApprovalRequest
	if s.approval != nil {
		cp := *s.approval
		approval = &cp
	}

	return protocol.RunSnapshot{
		RunID:      s.runID,
		ManifestID: s.manifestID,
		StepID:     s.stepID,
		Status:     string(s.status),
		Variables:  vars,
		History:    history,
		Approval:   approval,
		StartedAt:  s.startedAt,
		UpdatedAt:  s.updatedAt,
	}
}
