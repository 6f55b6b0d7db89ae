package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"topiary.org/internal/fault"
)

// REST talks to the chat platform's HTTP gateway. It performs single
// attempts; wrap it in a Retrier for the backoff and timeout policy.
type REST struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewREST creates a client for the gateway at baseURL.
func NewREST(baseURL, token string) *REST {
	return &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

var _ Client = (*REST)(nil)

func (c *REST) ListTopics(ctx context.Context, category string) ([]TopicSnapshot, error) {
	path := "/v1/topics"
	if category != "" {
		path += "?category=" + url.QueryEscape(category)
	}
	var out struct {
		Items []TopicSnapshot `json:"items"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *REST) RenameTopic(ctx context.Context, topicID, newName string) error {
	body := map[string]string{"name": newName}
	return c.call(ctx, http.MethodPost, "/v1/topics/"+url.PathEscape(topicID)+"/rename", body, nil)
}

func (c *REST) PinMessage(ctx context.Context, topicID string, card Card) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
	}
	err := c.call(ctx, http.MethodPost, "/v1/topics/"+url.PathEscape(topicID)+"/pins", card, &out)
	return out.MessageID, err
}

func (c *REST) UnpinAll(ctx context.Context, topicID string) error {
	return c.call(ctx, http.MethodDelete, "/v1/topics/"+url.PathEscape(topicID)+"/pins", nil, nil)
}

func (c *REST) SendInteractiveCard(ctx context.Context, topicID string, card Card) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
	}
	err := c.call(ctx, http.MethodPost, "/v1/topics/"+url.PathEscape(topicID)+"/cards", card, &out)
	return out.MessageID, err
}

func (c *REST) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("platform: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("platform: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s",
			kindForStatus(resp.StatusCode), method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("platform: decode response: %w", err)
	}
	return nil
}

// kindForStatus classifies gateway responses. 404 and the other 4xx are the
// caller's problem and must not be retried; everything else is the platform's.
func kindForStatus(status int) error {
	switch {
	case status == http.StatusNotFound:
		return fault.ErrNotFound
	case status >= 400 && status < 500:
		return fault.ErrValidation
	default:
		return fault.ErrPlatformUnavailable
	}
}
