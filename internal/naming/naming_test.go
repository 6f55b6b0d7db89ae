package naming

import (
	"errors"
	"strings"
	"testing"

	"topiary.org/internal/fault"
)

var sec = Category{Slug: "sec", Emoji: "🛡️"}

func TestNormalize(t *testing.T) {
	n := New(DefaultMaxLength)
	cases := map[string]string{
		"Security Discussion":           "🛡️ sec-security-discussion",
		"  Security   Discussion!!  ":   "🛡️ sec-security-discussion",
		"🛡️ sec-security-discussion":    "🛡️ sec-security-discussion",
		"sec-security-discussion":       "🛡️ sec-security-discussion",
		"Threat Model / Q1 2026":        "🛡️ sec-threat-model-q1-2026",
		"ДАННЫЕ и Отчёты":               "🛡️ sec-данные-и-отчёты",
	}
	for raw, want := range cases {
		got, err := n.Normalize(sec, raw)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("Normalize(%q)=%q, want %q", raw, got, want)
		}
	}
}

func TestNormalizeFixedPoint(t *testing.T) {
	n := New(DefaultMaxLength)
	titles := []string{
		"Security Discussion",
		"release: cut v2.3!",
		"🛡️ sec-already-canonical",
		"a b c d e f g",
	}
	for _, raw := range titles {
		once, err := n.Normalize(sec, raw)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", raw, err)
		}
		twice, err := n.Normalize(sec, once)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", once, err)
		}
		if once != twice {
			t.Fatalf("not a fixed point: %q -> %q -> %q", raw, once, twice)
		}
	}
}

func TestNormalizeTruncates(t *testing.T) {
	n := New(32)
	long := strings.Repeat("verylongword ", 10)
	got, err := n.Normalize(sec, long)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if runes := len([]rune(got)); runes > 32 {
		t.Fatalf("canonical name %q has %d runes, max 32", got, runes)
	}
	if strings.HasSuffix(got, "-") {
		t.Fatalf("dangling separator in %q", got)
	}
	// Truncation must stay a fixed point too.
	twice, err := n.Normalize(sec, got)
	if err != nil {
		t.Fatalf("Normalize twice: %v", err)
	}
	if got != twice {
		t.Fatalf("truncated name not stable: %q -> %q", got, twice)
	}
}

func TestNormalizeRejectsEmptySlugContent(t *testing.T) {
	n := New(DefaultMaxLength)
	if _, err := n.Normalize(sec, "!!! ???"); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := n.Normalize(Category{}, "anything"); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("expected validation error for empty category, got %v", err)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Hello World":    "hello-world",
		"a--b___c":       "a-b-c",
		"  spaced  out ": "spaced-out",
		"v2.3.1":         "v2-3-1",
		"":               "",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q)=%q, want %q", in, got, want)
		}
	}
}
