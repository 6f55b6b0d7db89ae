// Package httpapi is the HTTP surface of the control plane.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"topiary.org/internal/approval"
	"topiary.org/internal/auth"
	"topiary.org/internal/capacity"
	"topiary.org/internal/curator"
	"topiary.org/internal/fault"
	"topiary.org/internal/obs"
	"topiary.org/internal/policy"
	"topiary.org/internal/scoring"
	"topiary.org/internal/topic"
)

// ReadyProbe reports whether the service can take traffic (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps collects everything the API serves.
type Deps struct {
	Auditor      *curator.Auditor
	Polisher     *curator.Polisher
	Topics       topic.Store
	Scorer       *scoring.Scorer
	Forecaster   *capacity.Forecaster
	Gate         *policy.Gate
	Orchestrator *approval.Orchestrator
	Auth         *auth.Service
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	deps       Deps
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		deps:       deps,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/audit", a.handleAudit)
	a.mux.HandleFunc("/v1/polish", a.handlePolish)
	a.mux.HandleFunc("/v1/topics", a.handleTopics)
	a.mux.HandleFunc("/v1/topics/", a.handleTopicResource)
	a.mux.HandleFunc("/v1/score", a.handleScore)
	a.mux.HandleFunc("/v1/forecast", a.handleForecast)
	a.mux.HandleFunc("/v1/policy/check", a.handlePolicyCheck)
	a.mux.HandleFunc("/v1/proposals", a.handleProposals)
	a.mux.HandleFunc("/v1/proposals/", a.handleProposalResource)
	a.mux.HandleFunc("/v1/callback", a.handleCallback)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "topiary-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "topiary-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error's fault kind to an HTTP status and emits the
// machine-readable kind alongside the message.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForKind(fault.Kind(err)), map[string]any{
		"error": err.Error(),
		"kind":  fault.Kind(err),
	})
}

func statusForKind(kind string) int {
	switch kind {
	case "validation_error":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "policy_denied":
		return http.StatusForbidden
	case "concurrent_modification":
		return http.StatusConflict
	case "platform_unavailable":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondValidation(w http.ResponseWriter, format string, args ...any) {
	writeError(w, fmt.Errorf("%w: %s", fault.ErrValidation, fmt.Sprintf(format, args...)))
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{
		"error": "method not allowed",
		"kind":  "validation_error",
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json body: %v", fault.ErrValidation, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected trailing data", fault.ErrValidation)
	}
	return nil
}

// principal returns the verified caller, or an anonymous one when auth is
// disabled.
func (a *API) principal(ctx context.Context) auth.Principal {
	if p, ok := auth.FromContext(ctx); ok {
		return p
	}
	return auth.Principal{Subject: "anonymous"}
}

func isNotFound(err error) bool {
	return errors.Is(err, fault.ErrNotFound)
}
