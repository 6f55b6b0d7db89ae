// Package scm integrates with the source-control host that carries the
// change requests referenced by topics and release proposals.
package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Status is a point-in-time view of a change request.
type Status struct {
	ID        string `json:"id"`
	State     string `json:"state"` // open, approved, merged, closed
	Mergeable bool   `json:"mergeable"`
	Title     string `json:"title"`
}

// Client covers the change-request operations the orchestrator drives.
type Client interface {
	GetStatus(ctx context.Context, changeID string) (Status, error)
	Approve(ctx context.Context, changeID, reviewer string) error
	RequestChanges(ctx context.Context, changeID, reviewer, comment string) error
	Merge(ctx context.Context, changeID string) error
}

// REST talks to the SCM host's HTTP API. Single attempts only; callers
// decide their own retry policy.
type REST struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewREST(baseURL, token string) *REST {
	return &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

var _ Client = (*REST)(nil)

func (c *REST) GetStatus(ctx context.Context, changeID string) (Status, error) {
	var out Status
	err := c.call(ctx, http.MethodGet, "/v1/changes/"+url.PathEscape(changeID), nil, &out)
	return out, err
}

func (c *REST) Approve(ctx context.Context, changeID, reviewer string) error {
	body := map[string]string{"reviewer": reviewer}
	return c.call(ctx, http.MethodPost, "/v1/changes/"+url.PathEscape(changeID)+"/approve", body, nil)
}

func (c *REST) RequestChanges(ctx context.Context, changeID, reviewer, comment string) error {
	body := map[string]string{"reviewer": reviewer, "comment": comment}
	return c.call(ctx, http.MethodPost, "/v1/changes/"+url.PathEscape(changeID)+"/request-changes", body, nil)
}

func (c *REST) Merge(ctx context.Context, changeID string) error {
	return c.call(ctx, http.MethodPost, "/v1/changes/"+url.PathEscape(changeID)+"/merge", nil, nil)
}

func (c *REST) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("scm: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("scm: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("scm: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("scm: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("scm: decode response: %w", err)
	}
	return nil
}
