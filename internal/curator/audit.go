// Package curator keeps the live chat topics reconciled with policy: the
// Auditor detects naming drift, the Polisher repairs it idempotently.
package curator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"topiary.org/internal/capacity"
	"topiary.org/internal/config"
	"topiary.org/internal/fault"
	"topiary.org/internal/naming"
	"topiary.org/internal/obs"
	"topiary.org/internal/platform"
	"topiary.org/internal/topic"
)

// Finding is one non-compliant topic with its proposed canonical name.
type Finding struct {
	Topic  topic.Topic `json:"topic"`
	Target string      `json:"target"`
}

// Report is the outcome of one audit cycle. It is the sole input Polish
// accepts, so every polish run acts on a coherent snapshot. Every audited
// topic lands in exactly one bucket: Total = Compliant + NeedsPolish +
// Uncanonicalizable.
type Report struct {
	Category    string    `json:"category,omitempty"`
	Total       int       `json:"total"`
	Compliant   int       `json:"compliant"`
	NeedsPolish int       `json:"needs_polish"`
	// Uncanonicalizable counts topics whose title has no canonical form
	// (nothing left after slugging). They need a human, not a rename.
	Uncanonicalizable int       `json:"uncanonicalizable,omitempty"`
	Findings          []Finding `json:"findings,omitempty"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// Auditor reads the live topic list and reconciles the store against it.
// It never mutates the external platform.
type Auditor struct {
	store    topic.Store
	metrics  capacity.Store
	platform platform.Client
	norm     *naming.Normalizer
	cats     map[string]config.Category
	now      func() time.Time
}

// NewAuditor wires an Auditor. client should already carry the retry policy.
func NewAuditor(store topic.Store, metrics capacity.Store, client platform.Client, norm *naming.Normalizer, cats []config.Category) *Auditor {
	bySlug := make(map[string]config.Category, len(cats))
	for _, c := range cats {
		bySlug[c.Slug] = c
	}
	return &Auditor{
		store:    store,
		metrics:  metrics,
		platform: client,
		norm:     norm,
		cats:     bySlug,
		now:      time.Now,
	}
}

// Audit lists live topics (optionally one category), recomputes compliance
// for each and persists the refreshed records. All-or-nothing: if the listing
// fails, nothing is written and the error surfaces as PlatformUnavailable.
func (a *Auditor) Audit(ctx context.Context, category string) (Report, error) {
	snaps, err := a.platform.ListTopics(ctx, category)
	if err != nil {
		return Report{}, fmt.Errorf("audit: %w", err)
	}

	now := a.now().UTC()
	report := Report{Category: category, GeneratedAt: now}
	staged := make([]topic.Topic, 0, len(snaps))
	perCategory := make(map[string]int)

	for _, snap := range snaps {
		cat, ok := a.cats[snap.Category]
		if !ok {
			obs.LogEvent("audit.skip_unconfigured_category", map[string]any{
				"topic_id": snap.ID,
				"category": snap.Category,
			})
			continue
		}

		rec, err := a.store.Get(ctx, snap.ID)
		switch {
		case errors.Is(err, fault.ErrNotFound):
			rec = topic.Topic{
				ID:        snap.ID,
				Category:  snap.Category,
				CreatedAt: now,
				Extension: topic.Extension{SchemaVersion: topic.ExtensionSchemaVersion},
			}
		case err != nil:
			return Report{}, fmt.Errorf("audit: load topic %s: %w", snap.ID, err)
		}

		rec.RawTitle = snap.Title
		rec.Replies = snap.Replies
		rec.Views = snap.Views
		if len(snap.Stakeholders) > 0 {
			rec.Stakeholders = append([]string(nil), snap.Stakeholders...)
		}
		if snap.Deadline != nil {
			d := *snap.Deadline
			rec.Deadline = &d
		}
		rec.LastAuditedAt = now

		canonical, err := a.norm.Normalize(naming.Category{Slug: cat.Slug, Emoji: cat.Emoji}, snap.Title)
		if err != nil {
			// Nothing to rename to; record the drift but propose no target.
			obs.LogEvent("audit.uncanonicalizable_title", map[string]any{
				"topic_id": snap.ID,
				"title":    snap.Title,
				"error":    err.Error(),
			})
			rec.CanonicalName = ""
			rec.Compliant = false
			report.Total++
			report.Uncanonicalizable++
			staged = append(staged, rec)
			perCategory[snap.Category]++
			continue
		}

		rec.CanonicalName = canonical
		rec.Compliant = snap.Title == canonical
		report.Total++
		perCategory[snap.Category]++
		if rec.Compliant {
			report.Compliant++
		} else {
			report.NeedsPolish++
			report.Findings = append(report.Findings, Finding{Topic: rec, Target: canonical})
		}
		staged = append(staged, rec)
	}

	if err := a.store.PutBatch(ctx, staged); err != nil {
		return Report{}, fmt.Errorf("audit: persist topics: %w", err)
	}

	for slug, count := range perCategory {
		cat := a.cats[slug]
		m := capacity.NewMetric(slug, now, count, cat.Limit)
		if err := a.metrics.Record(ctx, m); err != nil {
			return Report{}, fmt.Errorf("audit: record capacity for %s: %w", slug, err)
		}
		obs.SetCapacityUtilization(slug, m.Utilization)
	}

	label := category
	if label == "" {
		label = "all"
	}
	obs.ObserveAuditCycle(label)
	obs.LogEvent("audit.cycle_complete", map[string]any{
		"category":          label,
		"total":             report.Total,
		"compliant":         report.Compliant,
		"needs_polish":      report.NeedsPolish,
		"uncanonicalizable": report.Uncanonicalizable,
	})
	return report, nil
}
