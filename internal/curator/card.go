package curator

import (
	"fmt"
	"strings"

	"topiary.org/internal/config"
	"topiary.org/internal/platform"
	"topiary.org/internal/topic"
)

// CallbackNamespace prefixes every button payload this service emits, so the
// inbound callback handler can tell its own buttons from anyone else's.
const CallbackNamespace = "topiary"

// PinCard renders the perfect-pin card for a topic: the canonical name, a
// deep link into the topic, a quick-create button for the category and the
// category's escalation contact.
func PinCard(t topic.Topic, canonical string, cat config.Category, deepLinkBase string) platform.Card {
	deepLink := fmt.Sprintf("%s/c/%s/%s", strings.TrimRight(deepLinkBase, "/"), cat.Slug, t.ID)

	var body strings.Builder
	fmt.Fprintf(&body, "Canonical name: %s\n", canonical)
	fmt.Fprintf(&body, "Category: %s %s\n", cat.Emoji, cat.Slug)
	if cat.EscalationContact != "" {
		fmt.Fprintf(&body, "Escalation: %s\n", cat.EscalationContact)
	}

	return platform.Card{
		Title:    canonical,
		Body:     body.String(),
		DeepLink: deepLink,
		Buttons: []platform.Button{
			{Label: "Open topic", Payload: CallbackNamespace + ":open:" + t.ID},
			{Label: "New " + cat.Slug + " topic", Payload: CallbackNamespace + ":create:" + cat.Slug},
		},
	}
}
