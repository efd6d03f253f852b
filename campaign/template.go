package campaign

import (
	"math/rand"
	"strings"

	"sendloop/models"
)

// Personalization tokens. Anything else in a template passes through
// verbatim.
const (
	tokenName   = "{{name}}"
	tokenHandle = "{{handle}}"
)

// ResolveMessage picks the message text for a step: a uniformly random
// variant when any exist, the legacy single body otherwise. An empty result
// means the step has nothing usable to send.
func ResolveMessage(step *models.CampaignStep) string {
	if len(step.Variants) > 0 {
		return step.Variants[rand.Intn(len(step.Variants))].Body
	}
	return strings.TrimSpace(step.Body)
}

// Personalize substitutes the two supported tokens. The name token falls
// back from display name to handle to a generic greeting; the handle token
// is always the raw handle.
func Personalize(text string, contact *models.Contact) string {
	name := contact.DisplayName
	if name == "" {
		name = contact.Handle
	}
	if name == "" {
		name = "there"
	}
	text = strings.ReplaceAll(text, tokenName, name)
	text = strings.ReplaceAll(text, tokenHandle, contact.Handle)
	return text
}
