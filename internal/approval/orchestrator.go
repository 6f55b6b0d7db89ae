package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"topiary.org/internal/fault"
	"topiary.org/internal/keylock"
	"topiary.org/internal/ledger"
	"topiary.org/internal/obs"
	"topiary.org/internal/policy"
)

// Executor performs the mutation a subject kind stands for. Rollback is
// invoked when Execute fails; implementations with nothing to undo return
// nil.
type Executor interface {
	Execute(ctx context.Context, req Request) error
	Rollback(ctx context.Context, req Request) error
}

// ExecutorFuncs adapts two functions into an Executor.
type ExecutorFuncs struct {
	ExecuteFn  func(ctx context.Context, req Request) error
	RollbackFn func(ctx context.Context, req Request) error
}

func (e ExecutorFuncs) Execute(ctx context.Context, req Request) error {
	if e.ExecuteFn == nil {
		return nil
	}
	return e.ExecuteFn(ctx, req)
}

func (e ExecutorFuncs) Rollback(ctx context.Context, req Request) error {
	if e.RollbackFn == nil {
		return nil
	}
	return e.RollbackFn(ctx, req)
}

// Proposal is the input to Propose.
type Proposal struct {
	SubjectKind   SubjectKind `json:"subject_kind"`
	Subject       string      `json:"subject"`
	Category      string      `json:"category,omitempty"`
	Proposer      string      `json:"proposer"`
	ProposerRoles []string    `json:"proposer_roles,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	RequiredRoles []string    `json:"required_roles"`

	// CategoryUtilization feeds capacity-sensitive policy rules.
	CategoryUtilization float64 `json:"category_utilization,omitempty"`
}

// Orchestrator owns the approval lifecycle. Same-request operations are
// serialized by a keyed mutex so two approval submissions cannot race the
// role-completeness check.
type Orchestrator struct {
	store Store
	gate  *policy.Gate
	led   ledger.Ledger
	locks *keylock.Map
	execs map[SubjectKind]Executor
	ttl   time.Duration
	now   func() time.Time
	newID func() string
}

// NewOrchestrator creates an Orchestrator. ttl bounds how long a request may
// sit in AwaitingApproval; zero falls back to 72 hours.
func NewOrchestrator(store Store, gate *policy.Gate, led ledger.Ledger, ttl time.Duration) *Orchestrator {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Orchestrator{
		store: store,
		gate:  gate,
		led:   led,
		locks: keylock.New(),
		execs: make(map[SubjectKind]Executor),
		ttl:   ttl,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// RegisterExecutor binds an executor to a subject kind. Not safe to call
// concurrently with request processing; register everything at startup.
func (o *Orchestrator) RegisterExecutor(kind SubjectKind, exec Executor) {
	o.execs[kind] = exec
}

// Propose creates a request, runs it through the policy gate and leaves it
// in AwaitingApproval or the terminal Denied state.
func (o *Orchestrator) Propose(ctx context.Context, p Proposal) (Request, error) {
	if p.Subject == "" {
		return Request{}, fmt.Errorf("%w: proposal subject is empty", fault.ErrValidation)
	}
	if len(p.RequiredRoles) == 0 {
		return Request{}, fmt.Errorf("%w: proposal has no required roles", fault.ErrValidation)
	}
	switch p.SubjectKind {
	case KindRenameBatch, KindRelease, KindDestructive:
	default:
		return Request{}, fmt.Errorf("%w: unknown subject kind %q", fault.ErrValidation, p.SubjectKind)
	}

	now := o.now().UTC()
	req := Request{
		ID:                o.newID(),
		SubjectKind:       p.SubjectKind,
		Subject:           p.Subject,
		Category:          p.Category,
		Proposer:          p.Proposer,
		Reason:            p.Reason,
		RequiredRoles:     append([]string(nil), p.RequiredRoles...),
		ReceivedApprovals: make(map[string]string),
		State:             StateProposed,
		CreatedAt:         now,
		ExpiresAt:         now.Add(o.ttl),
		UpdatedAt:         now,
	}
	if err := o.transition(ctx, &req, StateProposed, p.Proposer, "proposed"); err != nil {
		return Request{}, err
	}

	decision, err := o.gate.Evaluate(ctx, policy.Action{
		Kind:                policyKind(p.SubjectKind),
		Actor:               p.Proposer,
		Roles:               p.ProposerRoles,
		Category:            p.Category,
		TargetState:         p.Subject,
		Reason:              p.Reason,
		CategoryUtilization: p.CategoryUtilization,
	})
	if err != nil {
		return Request{}, err
	}
	if err := o.transition(ctx, &req, StatePolicyChecked, p.Proposer, "policy evaluated"); err != nil {
		return Request{}, err
	}

	if !decision.Allowed {
		req.Violations = decision.Violations
		if err := o.transition(ctx, &req, StateDenied, p.Proposer, decision.Err().Error()); err != nil {
			return Request{}, err
		}
		if err := o.store.Put(ctx, req); err != nil {
			return Request{}, err
		}
		return req, nil
	}

	if err := o.transition(ctx, &req, StateAwaitingApproval, p.Proposer, "policy allowed"); err != nil {
		return Request{}, err
	}
	if err := o.store.Put(ctx, req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Submit records one approval or denial for a request. Duplicate approvals
// for an already-satisfied role are no-ops. Once every required role has
// approved, the request moves to Approved.
func (o *Orchestrator) Submit(ctx context.Context, requestID, role, approver string, approve bool) (Request, error) {
	unlock := o.locks.Lock(requestID)
	defer unlock()

	req, err := o.store.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if expired, err := o.expireIfDue(ctx, &req); err != nil {
		return Request{}, err
	} else if expired {
		return req, fmt.Errorf("%w: request %s has expired", fault.ErrValidation, requestID)
	}
	if req.State != StateAwaitingApproval {
		return req, fmt.Errorf("%w: request %s is %s, not awaiting approval", fault.ErrValidation, requestID, req.State)
	}

	if !approve {
		if err := o.transition(ctx, &req, StateDenied, approver, fmt.Sprintf("rejected by %s (%s)", approver, role)); err != nil {
			return Request{}, err
		}
		if err := o.store.Put(ctx, req); err != nil {
			return Request{}, err
		}
		return req, nil
	}

	if !hasRole(req.RequiredRoles, role) {
		return req, fmt.Errorf("%w: role %q is not required for request %s", fault.ErrValidation, role, requestID)
	}
	if _, done := req.ReceivedApprovals[role]; done {
		// Duplicate approval for a satisfied role: no state change.
		return req, nil
	}

	req.ReceivedApprovals[role] = approver
	req.UpdatedAt = o.now().UTC()
	if req.fullyApproved() {
		if err := o.transition(ctx, &req, StateApproved, approver, "all required roles approved"); err != nil {
			return Request{}, err
		}
	}
	if err := o.store.Put(ctx, req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Execute runs the registered executor for an approved request. Failure
// triggers the rollback hook and lands in RolledBack; success in Confirmed.
func (o *Orchestrator) Execute(ctx context.Context, requestID, actor string) (Request, error) {
	unlock := o.locks.Lock(requestID)
	defer unlock()

	req, err := o.store.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.State != StateApproved {
		return req, fmt.Errorf("%w: request %s is %s, not approved", fault.ErrValidation, requestID, req.State)
	}
	exec, ok := o.execs[req.SubjectKind]
	if !ok {
		return req, fmt.Errorf("%w: no executor registered for %s", fault.ErrValidation, req.SubjectKind)
	}

	if err := o.transition(ctx, &req, StateExecuting, actor, "execution started"); err != nil {
		return Request{}, err
	}
	if err := o.store.Put(ctx, req); err != nil {
		return Request{}, err
	}

	if execErr := exec.Execute(ctx, req); execErr != nil {
		reason := "execution failed: " + execErr.Error()
		if rbErr := exec.Rollback(ctx, req); rbErr != nil {
			reason += "; rollback failed: " + rbErr.Error()
		}
		if err := o.transition(ctx, &req, StateRolledBack, actor, reason); err != nil {
			return Request{}, err
		}
		if err := o.store.Put(ctx, req); err != nil {
			return Request{}, err
		}
		return req, fmt.Errorf("approval: execute request %s: %w", requestID, execErr)
	}

	if err := o.transition(ctx, &req, StateConfirmed, actor, "execution confirmed"); err != nil {
		return Request{}, err
	}
	if err := o.store.Put(ctx, req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Get loads a request, applying lazy expiry on the way out.
func (o *Orchestrator) Get(ctx context.Context, requestID string) (Request, error) {
	unlock := o.locks.Lock(requestID)
	defer unlock()

	req, err := o.store.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if _, err := o.expireIfDue(ctx, &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// List returns all requests ordered by creation time.
func (o *Orchestrator) List(ctx context.Context) ([]Request, error) {
	return o.store.List(ctx)
}

func (o *Orchestrator) expireIfDue(ctx context.Context, req *Request) (bool, error) {
	if req.State != StateAwaitingApproval || o.now().Before(req.ExpiresAt) {
		return false, nil
	}
	if err := o.transition(ctx, req, StateExpired, "system", "approval window elapsed"); err != nil {
		return false, err
	}
	if err := o.store.Put(ctx, *req); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) transition(ctx context.Context, req *Request, to State, actor, reason string) error {
	before := ledger.Snapshot(map[string]string{"state": string(req.State)})
	req.State = to
	req.UpdatedAt = o.now().UTC()
	obs.ObserveApprovalTransition(string(to))

	_, err := o.led.Append(ctx, ledger.Entry{
		IdempotencyKey: ledger.Key(req.ID, "transition", string(to)),
		Actor:          actor,
		Action:         ledgerAction(to),
		Before:         before,
		After:          ledger.Snapshot(req),
		Reason:         reason,
		Outcome:        ledgerOutcome(to),
	})
	if errors.Is(err, ledger.ErrDuplicateKey) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("approval: record transition to %s: %w", to, err)
	}
	return nil
}

func policyKind(k SubjectKind) string {
	switch k {
	case KindRenameBatch:
		return "rename"
	case KindRelease:
		return "release"
	case KindDestructive:
		return "destructive"
	}
	return string(k)
}

func ledgerAction(to State) ledger.Action {
	switch to {
	case StateExecuting, StateConfirmed:
		return ledger.ActionExecute
	case StateRolledBack:
		return ledger.ActionRollback
	}
	return ledger.ActionApprove
}

func ledgerOutcome(to State) ledger.Outcome {
	switch to {
	case StateDenied:
		return ledger.OutcomeDenied
	case StateRolledBack:
		return ledger.OutcomeFailed
	}
	return ledger.OutcomeSucceeded
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
