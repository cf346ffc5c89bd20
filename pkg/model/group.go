package model

import (
	"strconv"
	"time"
)

// ChatID identifies a chat on the messaging platform
type ChatID int64

func (x ChatID) String() string { return strconv.FormatInt(int64(x), 10) }

// UserID identifies a user (or the agent itself) on the messaging platform
type UserID int64

func (x UserID) String() string { return strconv.FormatInt(int64(x), 10) }

// MessageID is the platform-assigned message identifier, unique per chat
type MessageID int64

func (x MessageID) String() string { return strconv.FormatInt(int64(x), 10) }

// Group is the per-chat record of the Group Directory
type Group struct {
	ChatID      ChatID
	IsActive    bool
	AdminIDs    []UserID
	Personality string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewGroup returns the default record created on first contact with a chat
func NewGroup(chatID ChatID, now time.Time) *Group {
	return &Group{
		ChatID:    chatID,
		IsActive:  true,
		AdminIDs:  []UserID{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasPersonality reports whether a custom persona is set for the group
func (g *Group) HasPersonality() bool {
	return g.Personality != ""
}
