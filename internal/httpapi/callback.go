package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"topiary.org/internal/curator"
	"topiary.org/internal/fault"
	"topiary.org/internal/policy"
)

// callbackRequest accepts either structured fields or the compact button
// payload "<namespace>:<action>:<subject>[:<extra>]".
type callbackRequest struct {
	Action    string `json:"action,omitempty"`
	SubjectID string `json:"subject_id,omitempty"`
	Extra     string `json:"extra,omitempty"`
	Message   string `json:"message,omitempty"`
	Payload   string `json:"payload,omitempty"`
}

// handleCallback is the entry point for approval clicks and card buttons
// coming back from the chat platform.
func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req callbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Payload != "" {
		action, subject, extra, err := parsePayload(req.Payload)
		if err != nil {
			writeError(w, err)
			return
		}
		req.Action, req.SubjectID, req.Extra = action, subject, extra
	}
	if req.Action == "" || req.SubjectID == "" {
		respondValidation(w, "action and subject_id are required")
		return
	}

	p := a.principal(r.Context())
	switch req.Action {
	case "approve", "deny":
		// Extra names the role slot the click satisfies.
		if req.Extra == "" {
			respondValidation(w, "approval callbacks need a role")
			return
		}
		updated, err := a.deps.Orchestrator.Submit(r.Context(), req.SubjectID, req.Extra, p.Subject, req.Action == "approve")
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case "execute":
		updated, err := a.deps.Orchestrator.Execute(r.Context(), req.SubjectID, p.Subject)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case "open":
		// Navigation only; acknowledge so the platform stops retrying.
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})

	case "create":
		// Quick-create from the pin card is gated but needs no approval
		// round: evaluate policy and acknowledge.
		decision, err := a.deps.Gate.Evaluate(r.Context(), policyAction(
			"create-topic", p.Subject, p.Roles, req.SubjectID, "", req.Message, 0))
		if err != nil {
			writeError(w, err)
			return
		}
		if !decision.Allowed {
			writeError(w, decision.Err())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "category": req.SubjectID})

	default:
		respondValidation(w, "unknown callback action %q", req.Action)
	}
}

func parsePayload(payload string) (action, subject, extra string, err error) {
	parts := strings.SplitN(payload, ":", 4)
	if len(parts) < 3 || parts[0] != curator.CallbackNamespace {
		return "", "", "", fmt.Errorf("%w: malformed callback payload", fault.ErrValidation)
	}
	action, subject = parts[1], parts[2]
	if len(parts) == 4 {
		extra = parts[3]
	}
	return action, subject, extra, nil
}

func policyAction(kind, actor string, roles []string, category, targetState, reason string, utilization float64) policy.Action {
	return policy.Action{
		Kind:                kind,
		Actor:               actor,
		Roles:               roles,
		Category:            category,
		TargetState:         targetState,
		Reason:              reason,
		CategoryUtilization: utilization,
	}
}
