package conversation

import (
	"strings"
	"unicode"

	"github.com/m-mizutani/murmur/pkg/model"
)

const commandSigil = "/"

// Classify decides how an inbound text is handled. It has no side effects.
// With an unresolved identity, free text is always ignored.
func Classify(text string, self model.Identity, replyTo *model.UserID) model.Classification {
	if strings.HasPrefix(text, commandSigil) {
		return model.ClassCommand
	}
	if !self.Resolved() {
		return model.ClassIgnored
	}

	if strings.Contains(text, self.Mention()) {
		return model.ClassTriggered
	}
	if replyTo != nil && *replyTo == self.UserID {
		return model.ClassTriggered
	}

	return model.ClassIgnored
}

// splitCommand returns the command name without sigil or "@botname" suffix, and the remaining argument text
func splitCommand(text string) (name, args string) {
	text = strings.TrimPrefix(text, commandSigil)
	token, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		token, rest = text[:i], text[i:]
	}
	token, _, _ = strings.Cut(token, "@")
	return token, strings.TrimSpace(rest)
}
