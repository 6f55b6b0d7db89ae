// Package naming derives the canonical, policy-compliant name for a topic.
// Normalize is a pure function and a fixed point: applying it to its own
// output returns the same string.
package naming

import (
	"fmt"
	"strings"
	"unicode"

	"topiary.org/internal/fault"
)

// DefaultMaxLength matches the display-name limit of the chat platform.
const DefaultMaxLength = 128

// Category carries the pieces of a stream the normalizer needs.
type Category struct {
	Slug  string
	Emoji string
}

// Normalizer turns raw topic titles into canonical names of the form
// "<emoji> <category-slug>-<title-slug>".
type Normalizer struct {
	maxLength int
}

// New returns a Normalizer bounded by maxLength runes (DefaultMaxLength when
// maxLength is not positive).
func New(maxLength int) *Normalizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Normalizer{maxLength: maxLength}
}

// Normalize computes the canonical name for rawTitle within cat. The same
// (category, title) input always yields the same output, and an already
// canonical name maps to itself.
func (n *Normalizer) Normalize(cat Category, rawTitle string) (string, error) {
	slug := strings.TrimSpace(cat.Slug)
	if slug == "" {
		return "", fmt.Errorf("%w: category slug is required", fault.ErrValidation)
	}

	prefix := slug + "-"
	if cat.Emoji != "" {
		prefix = cat.Emoji + " " + prefix
	}

	title := strings.TrimSpace(rawTitle)
	// Strip an existing canonical prefix so normalization never stacks.
	title = strings.TrimPrefix(title, prefix)

	titleSlug := Slugify(title)
	// Slugifying a previously prefixed title can leave the bare slug again
	// when the emoji was lost in transit ("sec-foo" -> "sec-foo").
	titleSlug = strings.TrimPrefix(titleSlug, slug+"-")
	if titleSlug == "" {
		return "", fmt.Errorf("%w: title %q has no slug content", fault.ErrValidation, rawTitle)
	}

	budget := n.maxLength - len([]rune(prefix))
	if budget < 1 {
		return "", fmt.Errorf("%w: prefix %q leaves no room for a title", fault.ErrValidation, prefix)
	}
	titleSlug = truncateSlug(titleSlug, budget)

	return prefix + titleSlug, nil
}

// Slugify lowercases s, strips everything that is not a letter or digit and
// collapses runs of separators into single hyphens.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// truncateSlug cuts slug to at most max runes, preferring a hyphen boundary
// so words are not chopped mid-run.
func truncateSlug(slug string, max int) string {
	runes := []rune(slug)
	if len(runes) <= max {
		return slug
	}
	cut := string(runes[:max])
	if i := strings.LastIndexByte(cut, '-'); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, "-")
}
