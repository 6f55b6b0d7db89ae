package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate rejects configurations the engines cannot run with.
func (c *Config) Validate() error {
	if c.Naming.MaxNameLength < 16 {
		return fmt.Errorf("naming.max_name_length %d is too small", c.Naming.MaxNameLength)
	}
	if c.Scoring.StakeholderSaturation <= 0 || c.Scoring.DependencySaturation <= 0 {
		return errors.New("scoring saturations must be positive")
	}
	if c.Scoring.DeadlineWindowDays <= 0 {
		return errors.New("scoring.deadline_window_days must be positive")
	}
	if c.Forecast.Window < 2 {
		return errors.New("forecast.window must be at least 2")
	}
	if c.Approval.TTL <= 0 {
		return errors.New("approval.ttl must be positive")
	}
	if c.Platform.MaxRetries < 0 {
		return errors.New("platform.max_retries must not be negative")
	}
	if (c.Policy.QuietHoursStart >= 0) != (c.Policy.QuietHoursEnd >= 0) {
		return errors.New("policy quiet hours need both start and end")
	}
	if c.Policy.QuietHoursStart > 23 || c.Policy.QuietHoursEnd > 23 {
		return errors.New("policy quiet hours must be within 0..23")
	}

	seen := make(map[string]struct{}, len(c.Categories))
	for _, cat := range c.Categories {
		slug := strings.TrimSpace(cat.Slug)
		if slug == "" {
			return errors.New("category slug is required")
		}
		if slug != strings.ToLower(slug) || strings.ContainsAny(slug, " \t") {
			return fmt.Errorf("category slug %q must be a lowercase slug", cat.Slug)
		}
		if _, dup := seen[slug]; dup {
			return fmt.Errorf("duplicate category slug %q", slug)
		}
		seen[slug] = struct{}{}
		if cat.Limit <= 0 {
			return fmt.Errorf("category %q: limit must be positive", slug)
		}
	}
	return nil
}
