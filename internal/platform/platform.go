// Package platform is the boundary to the external chat platform. The
// platform is always the source of truth for live topic titles; everything
// here is read-or-mutate plumbing with no governance logic.
package platform

import (
	"context"
	"time"
)

// TopicSnapshot is one live topic as the platform reports it.
type TopicSnapshot struct {
	ID           string     `json:"id"`
	Category     string     `json:"category"`
	Title        string     `json:"title"`
	Replies      int        `json:"replies"`
	Views        int        `json:"views"`
	Stakeholders []string   `json:"stakeholders,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
}

// Button is one interactive card action. Payload follows the
// "<namespace>:<action>:<subject_id>[:<extra>]" callback convention.
type Button struct {
	Label   string `json:"label"`
	Payload string `json:"payload"`
}

// Card is a rendered message with optional interactive buttons.
type Card struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	DeepLink string   `json:"deep_link,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
}

// Client is the chat platform adapter.
type Client interface {
	// ListTopics returns live topics, optionally filtered to one category.
	ListTopics(ctx context.Context, category string) ([]TopicSnapshot, error)
	RenameTopic(ctx context.Context, topicID, newName string) error
	// PinMessage posts the card into the topic and pins it, returning the
	// new message id.
	PinMessage(ctx context.Context, topicID string, card Card) (string, error)
	UnpinAll(ctx context.Context, topicID string) error
	SendInteractiveCard(ctx context.Context, topicID string, card Card) (string, error)
}
