package policy

import (
	"fmt"
	"strings"
	"time"

	"topiary.org/internal/config"
)

// RoleRule allows actions of the given kinds for actors holding any of the
// allowed roles, and denies them for everyone else.
func RoleRule(id string, kinds, allowedRoles []string) Rule {
	kindSet := toSet(kinds)
	return Rule{
		ID:          id,
		Description: fmt.Sprintf("%s requires one of roles [%s]", strings.Join(kinds, "/"), strings.Join(allowedRoles, ", ")),
		Evaluate: func(a Action) Effect {
			if _, ok := kindSet[a.Kind]; !ok {
				return Abstain
			}
			for _, role := range allowedRoles {
				if a.HasRole(role) {
					return Allow
				}
			}
			return Deny
		},
	}
}

// FrozenCategoryRule denies any mutation inside a frozen category.
func FrozenCategoryRule(frozen []string) Rule {
	frozenSet := toSet(frozen)
	return Rule{
		ID:          "frozen-category",
		Description: "category is frozen; no mutations are allowed",
		Evaluate: func(a Action) Effect {
			if _, ok := frozenSet[a.Category]; ok {
				return Deny
			}
			return Abstain
		},
	}
}

// CapacityRule denies topic creation once the category is at or beyond its
// limit. The caller supplies the latest utilization on the Action.
func CapacityRule() Rule {
	return Rule{
		ID:          "capacity-limit",
		Description: "category is at capacity; close or archive topics first",
		Evaluate: func(a Action) Effect {
			if a.Kind != "create-topic" {
				return Abstain
			}
			if a.CategoryUtilization >= 1.0 {
				return Deny
			}
			return Abstain
		},
	}
}

// ReasonRequiredRule denies actions of the given kinds that arrive without a
// stated reason; the ledger needs one.
func ReasonRequiredRule(kinds ...string) Rule {
	kindSet := toSet(kinds)
	return Rule{
		ID:          "reason-required",
		Description: "a reason is required for this action",
		Evaluate: func(a Action) Effect {
			if _, ok := kindSet[a.Kind]; !ok {
				return Abstain
			}
			if strings.TrimSpace(a.Reason) == "" {
				return Deny
			}
			return Abstain
		},
	}
}

// QuietHoursRule denies destructive actions inside the [start, end) local
// hour window. A window wrapping midnight (start > end) is supported.
func QuietHoursRule(startHour, endHour int, now func() time.Time) Rule {
	return Rule{
		ID:          "quiet-hours",
		Description: fmt.Sprintf("destructive actions are blocked between %02d:00 and %02d:00", startHour, endHour),
		Evaluate: func(a Action) Effect {
			if a.Kind != "destructive" {
				return Abstain
			}
			h := now().Hour()
			inWindow := false
			if startHour <= endHour {
				inWindow = h >= startHour && h < endHour
			} else {
				inWindow = h >= startHour || h < endHour
			}
			if inWindow {
				return Deny
			}
			return Abstain
		},
	}
}

// FromConfig assembles the built-in ordered rule set.
func FromConfig(cfg config.PolicyConfig, categories []config.Category, now func() time.Time) []Rule {
	if now == nil {
		now = time.Now
	}
	var frozen []string
	for _, c := range categories {
		if c.Frozen {
			frozen = append(frozen, c.Slug)
		}
	}

	rules := []Rule{
		FrozenCategoryRule(frozen),
		ReasonRequiredRule("rename", "destructive"),
		CapacityRule(),
		RoleRule("rename-roles", []string{"rename", "re-pin", "create-topic"}, cfg.RenameRoles),
		RoleRule("release-roles", []string{"release"}, cfg.ReleaseRoles),
		RoleRule("destructive-roles", []string{"destructive"}, cfg.DestructiveRoles),
	}
	if cfg.QuietHoursStart >= 0 && cfg.QuietHoursEnd >= 0 {
		rules = append(rules, QuietHoursRule(cfg.QuietHoursStart, cfg.QuietHoursEnd, now))
	}
	return rules
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
