// Package ledger is the append-only record of every state-changing action the
// control plane takes. Entries are never mutated or deleted; the ledger is the
// canonical answer to "has this idempotent action already happened".
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Action enumerates the recordable state changes.
type Action string

const (
	ActionRename     Action = "rename"
	ActionRePin      Action = "re-pin"
	ActionPolicyDeny Action = "policy-deny"
	ActionApprove    Action = "approve"
	ActionExecute    Action = "execute"
	ActionRollback   Action = "rollback"
)

// Outcome records how the attempt ended. The idempotency-key uniqueness
// invariant binds only succeeded entries: a failed attempt may be retried
// under the same key.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeDenied    Outcome = "denied"
)

// Entry is one immutable ledger record.
type Entry struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Timestamp      time.Time       `json:"timestamp"`
	Actor          string          `json:"actor"`
	Action         Action          `json:"action"`
	Before         json.RawMessage `json:"before,omitempty"`
	After          json.RawMessage `json:"after,omitempty"`
	Reason         string          `json:"reason"`
	Outcome        Outcome         `json:"outcome"`
}

var (
	// ErrDuplicateKey is returned when appending a succeeded entry whose
	// idempotency key already succeeded. Callers treat it as "work already
	// done" and move on.
	ErrDuplicateKey = errors.New("ledger: idempotency key already succeeded")

	errMissingKey = errors.New("ledger: idempotency key is required")
)

// Key derives the deterministic idempotency key for an intended mutation,
// e.g. Key(topicID, "rename", canonicalName).
func Key(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:])
}

// Snapshot marshals v into an opaque before/after blob. Marshal failures
// degrade to a quoted error string rather than blocking the append.
func Snapshot(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"snapshot_error": err.Error()})
	}
	return data
}
