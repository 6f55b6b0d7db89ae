package topic

import (
	"time"
)

// Topic is the materialized view of one chat topic. The platform stays the
// source of truth for RawTitle; this record is a lag-tolerant copy refreshed
// by every audit cycle.
type Topic struct {
	ID              string     `json:"id"` // platform-assigned, immutable
	Category        string     `json:"category"`
	RawTitle        string     `json:"raw_title"`
	CanonicalName   string     `json:"canonical_name"`
	Compliant       bool       `json:"compliant"`
	PinnedMessageID string     `json:"pinned_message_id,omitempty"`
	Stakeholders    []string   `json:"stakeholders,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	DependencyIDs   []string   `json:"dependency_ids,omitempty"`
	Replies         int        `json:"replies"`
	Views           int        `json:"views"`

	// PriorityScore is derived, recomputed on demand, never authoritative.
	PriorityScore float64 `json:"priority_score"`

	Extension Extension `json:"extension"`

	LastAuditedAt  time.Time `json:"last_audited_at"`
	LastPolishedAt time.Time `json:"last_polished_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Extension is the typed, versioned replacement for free-form per-topic
// metadata. New fields bump SchemaVersion instead of growing an open map.
type Extension struct {
	SchemaVersion      int     `json:"schema_version"`
	BusinessImpact     Impact  `json:"business_impact,omitempty"`
	ChangeRequest      string  `json:"change_request,omitempty"` // tracked RFC/CR link
	ExternalConfidence float64 `json:"external_confidence,omitempty"`
}

// ExtensionSchemaVersion is the current Extension layout.
const ExtensionSchemaVersion = 1

// Impact is the categorical business-impact classification.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// Bonus returns the flat scoring addend for the impact class.
func (i Impact) Bonus() float64 {
	switch i {
	case ImpactMedium:
		return 0.05
	case ImpactHigh:
		return 0.10
	default:
		return 0
	}
}
