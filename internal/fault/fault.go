// Package fault defines the error kinds shared across the control plane.
// Every user-visible failure maps onto exactly one kind so the CLI and the
// HTTP surface can report a machine-readable classification.
package fault

import "errors"

var (
	// ErrPlatformUnavailable means an external API could not be reached
	// after the configured retries. The unit of work fails; nothing is
	// half-written.
	ErrPlatformUnavailable = errors.New("platform unavailable")

	// ErrPolicyDenied is terminal for the action. A new proposal is
	// required; the gate never retries.
	ErrPolicyDenied = errors.New("policy denied")

	// ErrNotFound means the referenced topic or request does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is lock contention on the same topic or
	// request. Callers may retry once after a short delay.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrValidation is malformed input, surfaced immediately, never retried.
	ErrValidation = errors.New("validation error")
)

// Kind returns the machine-readable kind for err, or "internal" when the
// error does not wrap one of the known sentinels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPlatformUnavailable):
		return "platform_unavailable"
	case errors.Is(err, ErrPolicyDenied):
		return "policy_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	default:
		return "internal"
	}
}
