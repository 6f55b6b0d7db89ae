// Package policy gates every proposed mutating action. Rules are ordered,
// independently evaluable predicates; the gate is default-deny and a single
// denying rule blocks the action regardless of other allowances.
package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"topiary.org/internal/fault"
	"topiary.org/internal/ledger"
	"topiary.org/internal/obs"
)

// Effect is one rule's verdict on an action.
type Effect int

const (
	Abstain Effect = iota
	Allow
	Deny
)

// Action describes a proposed mutation for rule evaluation. Callers enrich
// it with whatever context their rules need (roles, utilization) so rules
// themselves stay pure.
type Action struct {
	Kind        string   `json:"kind"` // rename, re-pin, create-topic, release, destructive
	Actor       string   `json:"actor"`
	Roles       []string `json:"roles,omitempty"`
	Category    string   `json:"category,omitempty"`
	TargetState string   `json:"target_state,omitempty"`
	Reason      string   `json:"reason,omitempty"`

	// CategoryUtilization is the category's latest observed utilization,
	// filled by the caller for capacity-sensitive rules.
	CategoryUtilization float64 `json:"category_utilization,omitempty"`
}

// HasRole reports whether the actor carries role.
func (a Action) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Rule is one ordered predicate in the gate.
type Rule struct {
	ID          string
	Description string
	Evaluate    func(Action) Effect
}

// Violation names a rule that denied the action, with its human-readable
// reason.
type Violation struct {
	RuleID string `json:"rule_id"`
	Reason string `json:"reason"`
}

// Decision is the gate's verdict. All violated rules are listed, not just
// the first, so callers can present the complete explanation.
type Decision struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
}

// Err converts a denial into the terminal PolicyDenied error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	reasons := make([]string, len(d.Violations))
	for i, v := range d.Violations {
		reasons[i] = v.RuleID + ": " + v.Reason
	}
	return fmt.Errorf("%w: %s", fault.ErrPolicyDenied, strings.Join(reasons, "; "))
}

// Gate evaluates actions against its rule set and records denials in the
// audit ledger. Allowed actions are logged by whichever component performs
// the mutation, not here, to avoid double-logging.
type Gate struct {
	rules []Rule
	led   ledger.Ledger
	now   func() time.Time
}

// NewGate creates a Gate. led may be nil for pure evaluation (tests).
func NewGate(rules []Rule, led ledger.Ledger) *Gate {
	return &Gate{rules: rules, led: led, now: time.Now}
}

// Evaluate runs every rule in order. Default deny: the action passes only if
// at least one rule explicitly allows it and none denies it.
func (g *Gate) Evaluate(ctx context.Context, act Action) (Decision, error) {
	var d Decision
	anyAllow := false
	for _, r := range g.rules {
		switch r.Evaluate(act) {
		case Allow:
			anyAllow = true
		case Deny:
			d.Violations = append(d.Violations, Violation{RuleID: r.ID, Reason: r.Description})
		}
	}
	d.Allowed = anyAllow && len(d.Violations) == 0

	if !d.Allowed {
		if len(d.Violations) == 0 {
			d.Violations = append(d.Violations, Violation{
				RuleID: "default-deny",
				Reason: "no rule explicitly allows this action",
			})
		}
		obs.ObservePolicyDenial(act.Kind)
		if g.led != nil {
			if err := g.recordDenial(ctx, act, d); err != nil {
				return d, err
			}
		}
	}
	return d, nil
}

func (g *Gate) recordDenial(ctx context.Context, act Action, d Decision) error {
	ids := make([]string, len(d.Violations))
	for i, v := range d.Violations {
		ids[i] = v.RuleID
	}
	_, err := g.led.Append(ctx, ledger.Entry{
		IdempotencyKey: ledger.Key(act.Kind, act.Category, act.TargetState, "policy-deny",
			g.now().UTC().Format(time.RFC3339Nano)),
		Actor:   act.Actor,
		Action:  ledger.ActionPolicyDeny,
		After:   ledger.Snapshot(act),
		Reason:  strings.Join(ids, ","),
		Outcome: ledger.OutcomeDenied,
	})
	if err != nil {
		return fmt.Errorf("policy: record denial: %w", err)
	}
	return nil
}
