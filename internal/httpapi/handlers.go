package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"topiary.org/internal/approval"
	"topiary.org/internal/curator"
	"topiary.org/internal/fault"
	"topiary.org/internal/topic"
)

type auditRequest struct {
	Category string `json:"category,omitempty"`
}

type polishRequest struct {
	Category string `json:"category,omitempty"`
	Mode     string `json:"mode"`
	Reason   string `json:"reason"`
}

type polishResponse struct {
	Report curator.Report `json:"report"`
	Result curator.Result `json:"result"`
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req auditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	report, err := a.deps.Auditor.Audit(r.Context(), req.Category)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handlePolish runs a fresh audit and applies (or previews) its findings, so
// the polish always acts on a coherent snapshot.
func (a *API) handlePolish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req polishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	mode := curator.Mode(req.Mode)
	if mode != curator.ModeDryRun && mode != curator.ModeApply {
		respondValidation(w, "mode must be %q or %q", curator.ModeDryRun, curator.ModeApply)
		return
	}
	if mode == curator.ModeApply && strings.TrimSpace(req.Reason) == "" {
		respondValidation(w, "reason is required in apply mode")
		return
	}

	report, err := a.deps.Auditor.Audit(r.Context(), req.Category)
	if err != nil {
		writeError(w, err)
		return
	}
	p := a.principal(r.Context())
	result, err := a.deps.Polisher.Polish(r.Context(), report, mode, curator.Trigger{
		Actor:  p.Subject,
		Roles:  p.Roles,
		Reason: req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, polishResponse{Report: report, Result: result})
}

func (a *API) handleTopics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	topics, err := a.deps.Topics.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": topics})
}

// topicUpdateRequest carries the governance metadata the audit cycle cannot
// learn from the platform. Pointer fields distinguish "leave alone" from
// "set"; an explicit empty value clears the field.
type topicUpdateRequest struct {
	Stakeholders       *[]string  `json:"stakeholders,omitempty"`
	Deadline           *time.Time `json:"deadline,omitempty"`
	DependencyIDs      *[]string  `json:"dependency_ids,omitempty"`
	BusinessImpact     *string    `json:"business_impact,omitempty"`
	ChangeRequest      *string    `json:"change_request,omitempty"`
	ExternalConfidence *float64   `json:"external_confidence,omitempty"`
}

func (a *API) handleTopicResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/topics/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := a.deps.Topics.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)

	case http.MethodPatch:
		a.updateTopic(w, r, id)

	default:
		methodNotAllowed(w, "GET, PATCH")
	}
}

func (a *API) updateTopic(w http.ResponseWriter, r *http.Request, id string) {
	var req topicUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.BusinessImpact != nil {
		switch topic.Impact(*req.BusinessImpact) {
		case "", topic.ImpactLow, topic.ImpactMedium, topic.ImpactHigh:
		default:
			respondValidation(w, "business_impact must be %q, %q or %q",
				topic.ImpactLow, topic.ImpactMedium, topic.ImpactHigh)
			return
		}
	}
	if req.ExternalConfidence != nil && (*req.ExternalConfidence < 0 || *req.ExternalConfidence > 1) {
		respondValidation(w, "external_confidence must be within [0,1]")
		return
	}

	rec, err := a.deps.Topics.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Stakeholders != nil {
		rec.Stakeholders = append([]string(nil), (*req.Stakeholders)...)
	}
	if req.Deadline != nil {
		d := *req.Deadline
		rec.Deadline = &d
	}
	if req.DependencyIDs != nil {
		rec.DependencyIDs = append([]string(nil), (*req.DependencyIDs)...)
	}
	if req.BusinessImpact != nil {
		rec.Extension.BusinessImpact = topic.Impact(*req.BusinessImpact)
	}
	if req.ChangeRequest != nil {
		rec.Extension.ChangeRequest = *req.ChangeRequest
	}
	if req.ExternalConfidence != nil {
		rec.Extension.ExternalConfidence = *req.ExternalConfidence
	}
	if rec.Extension.SchemaVersion == 0 {
		rec.Extension.SchemaVersion = topic.ExtensionSchemaVersion
	}
	if err := a.deps.Topics.Put(r.Context(), rec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	topics, err := a.deps.Topics.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": a.deps.Scorer.ScoreAll(topics),
		"as_of": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleForecast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	category := r.URL.Query().Get("category")
	if category == "" {
		respondValidation(w, "category is required")
		return
	}
	horizon := 90
	if raw := r.URL.Query().Get("horizon"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondValidation(w, "horizon must be an integer")
			return
		}
		horizon = n
	}
	fc, err := a.deps.Forecaster.Forecast(r.Context(), category, horizon)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

func (a *API) handlePolicyCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var act struct {
		Kind                string   `json:"kind"`
		Category            string   `json:"category,omitempty"`
		TargetState         string   `json:"target_state,omitempty"`
		Reason              string   `json:"reason,omitempty"`
		CategoryUtilization float64  `json:"category_utilization,omitempty"`
		Roles               []string `json:"roles,omitempty"`
	}
	if err := decodeJSON(w, r, &act); err != nil {
		writeError(w, err)
		return
	}
	if act.Kind == "" {
		respondValidation(w, "kind is required")
		return
	}
	p := a.principal(r.Context())
	roles := act.Roles
	if len(p.Roles) > 0 {
		roles = p.Roles
	}
	decision, err := a.deps.Gate.Evaluate(r.Context(), policyAction(act.Kind, p.Subject, roles, act.Category, act.TargetState, act.Reason, act.CategoryUtilization))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type proposalRequest struct {
	SubjectKind         string   `json:"subject_kind"`
	Subject             string   `json:"subject"`
	Category            string   `json:"category,omitempty"`
	Reason              string   `json:"reason,omitempty"`
	RequiredRoles       []string `json:"required_roles"`
	CategoryUtilization float64  `json:"category_utilization,omitempty"`
}

func (a *API) handleProposals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createProposal(w, r)
	case http.MethodGet:
		reqs, err := a.deps.Orchestrator.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": reqs})
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (a *API) createProposal(w http.ResponseWriter, r *http.Request) {
	var req proposalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	p := a.principal(r.Context())
	created, err := a.deps.Orchestrator.Propose(r.Context(), approval.Proposal{
		SubjectKind:         approval.SubjectKind(req.SubjectKind),
		Subject:             req.Subject,
		Category:            req.Category,
		Proposer:            p.Subject,
		ProposerRoles:       p.Roles,
		Reason:              req.Reason,
		RequiredRoles:       req.RequiredRoles,
		CategoryUtilization: req.CategoryUtilization,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleProposalResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/proposals/")
	id, verb, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, fmt.Errorf("%w: proposal id is required", fault.ErrValidation))
		return
	}

	switch {
	case verb == "" && r.Method == http.MethodGet:
		req, err := a.deps.Orchestrator.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req)

	case verb == "approvals" && r.Method == http.MethodPost:
		var body struct {
			Role    string `json:"role"`
			Approve bool   `json:"approve"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, err)
			return
		}
		p := a.principal(r.Context())
		req, err := a.deps.Orchestrator.Submit(r.Context(), id, body.Role, p.Subject, body.Approve)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req)

	case verb == "execute" && r.Method == http.MethodPost:
		p := a.principal(r.Context())
		req, err := a.deps.Orchestrator.Execute(r.Context(), id, p.Subject)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req)

	default:
		http.NotFound(w, r)
	}
}
