package model

import "time"

// Event is one inbound chat message after boundary validation
type Event struct {
	ChatID    ChatID
	MessageID MessageID
	SenderID  UserID
	Text      string
	Timestamp time.Time

	// ReplyToUserID is the author of the message this one replies to, if any
	ReplyToUserID *UserID
}

// HasText reports whether the event carries text to process
func (x *Event) HasText() bool {
	return x.Text != ""
}

// Identity is the agent's own platform identity. The zero value means unresolved.
type Identity struct {
	Username string
	UserID   UserID
}

// Resolved reports whether both username and user id are known
func (x Identity) Resolved() bool {
	return x.Username != "" && x.UserID != 0
}

// Mention returns the "@username" form used to detect mentions, or "" when unresolved
func (x Identity) Mention() string {
	if x.Username == "" {
		return ""
	}
	return "@" + x.Username
}

// Classification is the result of trigger classification
type Classification int

const (
	ClassIgnored Classification = iota
	ClassCommand
	ClassTriggered
)

func (x Classification) String() string {
	switch x {
	case ClassCommand:
		return "command"
	case ClassTriggered:
		return "triggered_conversation"
	default:
		return "ignored"
	}
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged entry of a generation request
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func SystemTurn(content string) Turn { return Turn{Role: RoleSystem, Content: content} }
func UserTurn(content string) Turn   { return Turn{Role: RoleUser, Content: content} }
