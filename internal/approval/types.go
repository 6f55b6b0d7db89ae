// Package approval drives the human-in-the-loop state machine that gates
// rename batches, releases and destructive operations.
package approval

import (
	"time"

	"topiary.org/internal/policy"
)

// State is one node of the approval lifecycle. Denied, Expired, Confirmed
// and RolledBack are terminal: a request in any of them accepts no further
// mutation and is retained for audit only.
type State string

const (
	StateProposed         State = "proposed"
	StatePolicyChecked    State = "policy-checked"
	StateAwaitingApproval State = "awaiting-approval"
	StateApproved         State = "approved"
	StateExecuting        State = "executing"
	StateConfirmed        State = "confirmed"
	StateRolledBack       State = "rolled-back"
	StateDenied           State = "denied"
	StateExpired          State = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateRolledBack, StateDenied, StateExpired:
		return true
	}
	return false
}

// SubjectKind selects the executor and rollback behavior for a request.
type SubjectKind string

const (
	KindRenameBatch SubjectKind = "rename-batch"
	KindRelease     SubjectKind = "release"
	KindDestructive SubjectKind = "destructive"
)

// Request is one approval in flight (or retained after its terminal state).
type Request struct {
	ID          string      `json:"id"`
	SubjectKind SubjectKind `json:"subject_kind"`
	Subject     string      `json:"subject"`
	Category    string      `json:"category,omitempty"`
	Proposer    string      `json:"proposer"`
	Reason      string      `json:"reason,omitempty"`

	RequiredRoles []string `json:"required_roles"`
	// ReceivedApprovals maps role to the approver who satisfied it. One
	// role satisfies exactly one slot, however many people hold it.
	ReceivedApprovals map[string]string `json:"received_approvals,omitempty"`

	State      State              `json:"state"`
	Violations []policy.Violation `json:"violations,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// fullyApproved reports whether every required role has a recorded approval.
func (r Request) fullyApproved() bool {
	for _, role := range r.RequiredRoles {
		if _, ok := r.ReceivedApprovals[role]; !ok {
			return false
		}
	}
	return true
}

func (r Request) clone() Request {
	out := r
	out.RequiredRoles = append([]string(nil), r.RequiredRoles...)
	if r.ReceivedApprovals != nil {
		out.ReceivedApprovals = make(map[string]string, len(r.ReceivedApprovals))
		for k, v := range r.ReceivedApprovals {
			out.ReceivedApprovals[k] = v
		}
	}
	out.Violations = append([]policy.Violation(nil), r.Violations...)
	return out
}
