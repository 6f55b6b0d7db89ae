package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"topiary.org/internal/fault"
	"topiary.org/internal/ledger"
	"topiary.org/internal/policy"
)

func allowAllGate() *policy.Gate {
	return policy.NewGate([]policy.Rule{{
		ID:          "allow-everything",
		Description: "test rule",
		Evaluate:    func(policy.Action) policy.Effect { return policy.Allow },
	}}, nil)
}

func denyAllGate() *policy.Gate {
	return policy.NewGate([]policy.Rule{{
		ID:          "deny-everything",
		Description: "nothing is permitted",
		Evaluate:    func(policy.Action) policy.Effect { return policy.Deny },
	}}, nil)
}

func newTestOrchestrator(t *testing.T, gate *policy.Gate) (*Orchestrator, *ledger.InMemory) {
	t.Helper()
	led := ledger.NewInMemory()
	return NewOrchestrator(NewInMemory(), gate, led, time.Hour), led
}

func propose(t *testing.T, o *Orchestrator, roles ...string) Request {
	t.Helper()
	req, err := o.Propose(context.Background(), Proposal{
		SubjectKind:   KindRelease,
		Subject:       "deploy build 42",
		Proposer:      "alice",
		RequiredRoles: roles,
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	return req
}

func TestProposeLandsInAwaitingApproval(t *testing.T) {
	o, led := newTestOrchestrator(t, allowAllGate())
	req := propose(t, o, "lead", "oncall")

	if req.State != StateAwaitingApproval {
		t.Fatalf("state = %s, want %s", req.State, StateAwaitingApproval)
	}
	entries, err := led.List(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	// proposed, policy-checked, awaiting-approval.
	if len(entries) != 3 {
		t.Fatalf("ledger entries = %d, want 3", len(entries))
	}
}

func TestProposeDeniedIsTerminal(t *testing.T) {
	o, _ := newTestOrchestrator(t, denyAllGate())
	req := propose(t, o, "lead")

	if req.State != StateDenied {
		t.Fatalf("state = %s, want %s", req.State, StateDenied)
	}
	if len(req.Violations) == 0 {
		t.Fatal("denied request carries no violations")
	}
	if _, err := o.Submit(context.Background(), req.ID, "lead", "bob", true); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("Submit on denied request: err = %v, want validation", err)
	}
}

func TestApprovalRequiresEveryRole(t *testing.T) {
	o, _ := newTestOrchestrator(t, allowAllGate())
	req := propose(t, o, "lead", "oncall")
	ctx := context.Background()

	req, err := o.Submit(ctx, req.ID, "lead", "bob", true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if req.State != StateAwaitingApproval {
		t.Fatalf("state after one of two roles = %s, want %s", req.State, StateAwaitingApproval)
	}

	// Duplicate approval for a satisfied role changes nothing.
	req, err = o.Submit(ctx, req.ID, "lead", "carol", true)
	if err != nil {
		t.Fatalf("duplicate Submit: %v", err)
	}
	if got := req.ReceivedApprovals["lead"]; got != "bob" {
		t.Fatalf("duplicate approval overwrote approver: %q", got)
	}
	if len(req.ReceivedApprovals) != 1 {
		t.Fatalf("approvals = %d, want 1", len(req.ReceivedApprovals))
	}

	req, err = o.Submit(ctx, req.ID, "oncall", "dave", true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if req.State != StateApproved {
		t.Fatalf("state = %s, want %s", req.State, StateApproved)
	}
}

func TestSubmitUnknownRoleRejected(t *testing.T) {
	o, _ := newTestOrchestrator(t, allowAllGate())
	req := propose(t, o, "lead")

	if _, err := o.Submit(context.Background(), req.ID, "intern", "bob", true); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestRejectionDeniesRequest(t *testing.T) {
	o, _ := newTestOrchestrator(t, allowAllGate())
	req := propose(t, o, "lead")

	req, err := o.Submit(context.Background(), req.ID, "lead", "bob", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if req.State != StateDenied {
		t.Fatalf("state = %s, want %s", req.State, StateDenied)
	}
}

func TestLazyExpiry(t *testing.T) {
	o, _ := newTestOrchestrator(t, allowAllGate())
	req := propose(t, o, "lead")

	o.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	got, err := o.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != StateExpired {
		t.Fatalf("state = %s, want %s", got.State, StateExpired)
	}
	if _, err := o.Submit(context.Background(), req.ID, "lead", "bob", true); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("Submit on expired request: err = %v, want validation", err)
	}
}

func TestExecuteConfirms(t *testing.T) {
	o, led := newTestOrchestrator(t, allowAllGate())
	executed := false
	o.RegisterExecutor(KindRelease, ExecutorFuncs{
		ExecuteFn: func(ctx context.Context, req Request) error {
			executed = true
			return nil
		},
	})

	req := propose(t, o, "lead")
	ctx := context.Background()
	if _, err := o.Submit(ctx, req.ID, "lead", "bob", true); err != nil {
		t.Fatal(err)
	}
	req, err := o.Execute(ctx, req.ID, "bob")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !executed || req.State != StateConfirmed {
		t.Fatalf("executed=%v state=%s", executed, req.State)
	}
	entries, _ := led.List(ctx, 0)
	var sawExecute, sawConfirm bool
	for _, e := range entries {
		if e.Action == ledger.ActionExecute {
			sawExecute = true
		}
		if e.IdempotencyKey == ledger.Key(req.ID, "transition", string(StateConfirmed)) {
			sawConfirm = true
		}
	}
	if !sawExecute || !sawConfirm {
		t.Fatalf("missing execute/confirm ledger entries (execute=%v confirm=%v)", sawExecute, sawConfirm)
	}
}

func TestExecuteFailureRollsBack(t *testing.T) {
	o, _ := newTestOrchestrator(t, allowAllGate())
	rolledBack := false
	o.RegisterExecutor(KindRelease, ExecutorFuncs{
		ExecuteFn: func(ctx context.Context, req Request) error {
			return errors.New("deploy went sideways")
		},
		RollbackFn: func(ctx context.Context, req Request) error {
			rolledBack = true
			return nil
		},
	})

	req := propose(t, o, "lead")
	ctx := context.Background()
	if _, err := o.Submit(ctx, req.ID, "lead", "bob", true); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Execute(ctx, req.ID, "bob"); err == nil {
		t.Fatal("Execute returned nil on executor failure")
	}
	if !rolledBack {
		t.Fatal("rollback hook not invoked")
	}
	got, err := o.Get(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateRolledBack {
		t.Fatalf("state = %s, want %s", got.State, StateRolledBack)
	}
}

func TestConcurrentSubmissionsSerialize(t *testing.T) {
	o, _ := newTestOrchestrator(t, allowAllGate())
	req := propose(t, o, "lead", "oncall")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Submit(ctx, req.ID, "lead", "bob", true)
			o.Submit(ctx, req.ID, "oncall", "carol", true)
		}()
	}
	wg.Wait()

	got, err := o.Get(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateApproved {
		t.Fatalf("state = %s, want %s", got.State, StateApproved)
	}
	if len(got.ReceivedApprovals) != 2 {
		t.Fatalf("approvals = %d, want 2", len(got.ReceivedApprovals))
	}
}
