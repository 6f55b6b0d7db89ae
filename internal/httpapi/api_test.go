package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"topiary.org/internal/approval"
	"topiary.org/internal/auth"
	"topiary.org/internal/capacity"
	"topiary.org/internal/config"
	"topiary.org/internal/curator"
	"topiary.org/internal/ledger"
	"topiary.org/internal/naming"
	"topiary.org/internal/platform"
	"topiary.org/internal/policy"
	"topiary.org/internal/scoring"
	"topiary.org/internal/topic"
)

type env struct {
	api      *API
	platform *platform.Fake
	led      *ledger.InMemory
	topics   *topic.InMemory
	orch     *approval.Orchestrator
	auth     *auth.Service
}

func newEnv(t *testing.T, withAuth bool) *env {
	t.Helper()
	cats := []config.Category{
		{Slug: "sec", Emoji: "🛡️", Limit: 10, EscalationContact: "@sec-oncall"},
	}
	policyCfg := config.PolicyConfig{
		RenameRoles:      []string{"operator"},
		ReleaseRoles:     []string{"release-manager"},
		DestructiveRoles: []string{"governance"},
		QuietHoursStart:  -1,
		QuietHoursEnd:    -1,
	}

	fake := platform.NewFake()
	led := ledger.NewInMemory()
	topics := topic.NewInMemory()
	metrics := capacity.NewInMemory()
	gate := policy.NewGate(policy.FromConfig(policyCfg, cats, time.Now), led)
	norm := naming.New(naming.DefaultMaxLength)

	orch := approval.NewOrchestrator(approval.NewInMemory(), gate, led, time.Hour)
	orch.RegisterExecutor(approval.KindRelease, approval.ExecutorFuncs{})

	var authSvc *auth.Service
	if withAuth {
		var err error
		authSvc, err = auth.NewService("test-secret", "topiary", time.Hour)
		if err != nil {
			t.Fatal(err)
		}
	}

	api := New(ReadyProbe{}, "test", Deps{
		Auditor:      curator.NewAuditor(topics, metrics, fake, norm, cats),
		Polisher:     curator.NewPolisher(topics, led, fake, gate, cats, "https://chat.example.org"),
		Topics:       topics,
		Scorer:       scoring.New(),
		Forecaster:   capacity.NewForecaster(metrics, 30),
		Gate:         gate,
		Orchestrator: orch,
		Auth:         authSvc,
	})
	return &env{api: api, platform: fake, led: led, topics: topics, orch: orch, auth: authSvc}
}

func (e *env) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthEndpoints(t *testing.T) {
	e := newEnv(t, false)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		rec := e.do(t, http.MethodGet, path, nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s -> %d", path, rec.Code)
		}
	}
}

func TestAuditAndPolishEndpoints(t *testing.T) {
	e := newEnv(t, false)
	e.platform.Seed(platform.TopicSnapshot{ID: "t1", Category: "sec", Title: "Security Discussion"})

	rec := e.do(t, http.MethodPost, "/v1/audit", auditRequest{Category: "sec"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("audit -> %d: %s", rec.Code, rec.Body.String())
	}
	report := decode[curator.Report](t, rec)
	if report.NeedsPolish != 1 {
		t.Fatalf("needs_polish = %d", report.NeedsPolish)
	}

	// Anonymous caller has no rename role: the gated apply fails per topic.
	rec = e.do(t, http.MethodPost, "/v1/polish", polishRequest{Category: "sec", Mode: "apply", Reason: "test"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("polish -> %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[polishResponse](t, rec)
	if resp.Result.Failed != 1 || resp.Result.Renamed != 0 {
		t.Fatalf("gated polish result = %+v", resp.Result)
	}
	if resp.Result.Failures[0].Kind != "policy_denied" {
		t.Fatalf("failure kind = %s", resp.Result.Failures[0].Kind)
	}
}

func TestTopicMetadataUpdate(t *testing.T) {
	e := newEnv(t, false)
	e.platform.Seed(platform.TopicSnapshot{ID: "t1", Category: "sec", Title: "Security Discussion"})
	if rec := e.do(t, http.MethodPost, "/v1/audit", map[string]string{"category": "sec"}, ""); rec.Code != http.StatusOK {
		t.Fatalf("audit -> %d", rec.Code)
	}

	deadline := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	rec := e.do(t, http.MethodPatch, "/v1/topics/t1", map[string]any{
		"dependency_ids":  []string{"t7", "t8"},
		"business_impact": "high",
		"change_request":  "https://cr.example.org/CR-42",
		"deadline":        deadline,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("patch -> %d: %s", rec.Code, rec.Body.String())
	}
	updated := decode[topic.Topic](t, rec)
	if len(updated.DependencyIDs) != 2 || updated.Extension.BusinessImpact != topic.ImpactHigh {
		t.Fatalf("updated = %+v", updated)
	}
	if updated.Extension.ChangeRequest != "https://cr.example.org/CR-42" {
		t.Fatalf("change request = %q", updated.Extension.ChangeRequest)
	}
	if updated.Deadline == nil || !updated.Deadline.Equal(deadline) {
		t.Fatalf("deadline = %v", updated.Deadline)
	}

	// The store saw it, and the next audit refresh keeps it.
	stored, err := e.topics.Get(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.DependencyIDs) != 2 {
		t.Fatalf("stored = %+v", stored)
	}
	if rec := e.do(t, http.MethodPost, "/v1/audit", map[string]string{"category": "sec"}, ""); rec.Code != http.StatusOK {
		t.Fatalf("second audit -> %d", rec.Code)
	}
	stored, err = e.topics.Get(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Extension.BusinessImpact != topic.ImpactHigh || len(stored.DependencyIDs) != 2 {
		t.Fatalf("audit dropped the metadata: %+v", stored)
	}

	// Untouched fields survive a partial update.
	rec = e.do(t, http.MethodPatch, "/v1/topics/t1", map[string]any{"business_impact": "medium"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("second patch -> %d", rec.Code)
	}
	updated = decode[topic.Topic](t, rec)
	if updated.Extension.BusinessImpact != topic.ImpactMedium || len(updated.DependencyIDs) != 2 {
		t.Fatalf("partial update clobbered fields: %+v", updated)
	}
}

func TestTopicMetadataUpdateValidation(t *testing.T) {
	e := newEnv(t, false)
	e.platform.Seed(platform.TopicSnapshot{ID: "t1", Category: "sec", Title: "Security Discussion"})
	if rec := e.do(t, http.MethodPost, "/v1/audit", map[string]string{"category": "sec"}, ""); rec.Code != http.StatusOK {
		t.Fatalf("audit -> %d", rec.Code)
	}

	rec := e.do(t, http.MethodPatch, "/v1/topics/t1", map[string]any{"business_impact": "extreme"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad impact -> %d", rec.Code)
	}
	if got := decode[map[string]any](t, rec)["kind"]; got != "validation_error" {
		t.Fatalf("kind = %v", got)
	}

	rec = e.do(t, http.MethodPatch, "/v1/topics/ghost", map[string]any{"business_impact": "low"}, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown topic -> %d", rec.Code)
	}
}

func TestPolishRequiresReasonInApplyMode(t *testing.T) {
	e := newEnv(t, false)
	rec := e.do(t, http.MethodPost, "/v1/polish", polishRequest{Mode: "apply"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestPolicyCheckEndpoint(t *testing.T) {
	e := newEnv(t, false)
	rec := e.do(t, http.MethodPost, "/v1/policy/check", map[string]any{
		"kind":   "rename",
		"roles":  []string{"operator"},
		"reason": "cleanup",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body.String())
	}
	decision := decode[policy.Decision](t, rec)
	if !decision.Allowed {
		t.Fatalf("decision = %+v", decision)
	}

	rec = e.do(t, http.MethodPost, "/v1/policy/check", map[string]any{
		"kind": "destructive", "roles": []string{"operator"},
	}, "")
	decision = decode[policy.Decision](t, rec)
	if decision.Allowed {
		t.Fatal("destructive action allowed for operator role")
	}
	if len(decision.Violations) == 0 {
		t.Fatal("denial carries no violations")
	}
}

func TestForecastUnknownCategoryIs404(t *testing.T) {
	e := newEnv(t, false)
	rec := e.do(t, http.MethodGet, "/v1/forecast?category=ghost", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]any](t, rec)
	if body["kind"] != "not_found" {
		t.Fatalf("kind = %v", body["kind"])
	}
}

func TestProposalLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t, true)
	token, err := e.auth.IssueToken("alice", []string{"release-manager", "lead"})
	if err != nil {
		t.Fatal(err)
	}

	rec := e.do(t, http.MethodPost, "/v1/proposals", proposalRequest{
		SubjectKind:   "release",
		Subject:       "deploy build 42",
		Reason:        "weekly release",
		RequiredRoles: []string{"lead"},
	}, token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create -> %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[approval.Request](t, rec)
	if created.State != approval.StateAwaitingApproval {
		t.Fatalf("state = %s", created.State)
	}

	rec = e.do(t, http.MethodPost, "/v1/proposals/"+created.ID+"/approvals",
		map[string]any{"role": "lead", "approve": true}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve -> %d: %s", rec.Code, rec.Body.String())
	}
	approved := decode[approval.Request](t, rec)
	if approved.State != approval.StateApproved {
		t.Fatalf("state = %s", approved.State)
	}

	rec = e.do(t, http.MethodPost, "/v1/proposals/"+created.ID+"/execute", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("execute -> %d: %s", rec.Code, rec.Body.String())
	}
	done := decode[approval.Request](t, rec)
	if done.State != approval.StateConfirmed {
		t.Fatalf("state = %s", done.State)
	}

	rec = e.do(t, http.MethodGet, "/v1/proposals/"+created.ID, nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("get -> %d", rec.Code)
	}
}

func TestCallbackCompactPayload(t *testing.T) {
	e := newEnv(t, false)
	req, err := e.orch.Propose(context.Background(), approval.Proposal{
		SubjectKind:   approval.KindRelease,
		Subject:       "deploy build 7",
		Proposer:      "alice",
		ProposerRoles: []string{"release-manager"},
		Reason:        "hotfix",
		RequiredRoles: []string{"lead"},
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := e.do(t, http.MethodPost, "/v1/callback", callbackRequest{
		Payload: "topiary:approve:" + req.ID + ":lead",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("callback -> %d: %s", rec.Code, rec.Body.String())
	}
	updated := decode[approval.Request](t, rec)
	if updated.State != approval.StateApproved {
		t.Fatalf("state = %s", updated.State)
	}
}

func TestCallbackRejectsForeignNamespace(t *testing.T) {
	e := newEnv(t, false)
	rec := e.do(t, http.MethodPost, "/v1/callback", callbackRequest{Payload: "other:approve:x:y"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestAuthRequiredOnProtectedPaths(t *testing.T) {
	e := newEnv(t, true)

	rec := e.do(t, http.MethodGet, "/v1/topics", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("without token -> %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz should stay public, got %d", rec.Code)
	}

	token, err := e.auth.IssueToken("alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	rec = e.do(t, http.MethodGet, "/v1/topics", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token -> %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	e := newEnv(t, false)
	rec := e.do(t, http.MethodGet, "/v1/audit", nil, "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code = %d", rec.Code)
	}
}
