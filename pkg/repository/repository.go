package repository

import (
	"context"

	"github.com/m-mizutani/murmur/pkg/model"
)

// Repository combines the Group Directory and the Memory Store
type Repository interface {
	// GetOrCreateGroup returns the group record, creating the default one on first contact
	GetOrCreateGroup(ctx context.Context, chatID model.ChatID) (*model.Group, error)

	// SetActive updates the activation flag of a group
	SetActive(ctx context.Context, chatID model.ChatID, active bool) error

	// SetPersonality replaces the custom persona text of a group
	SetPersonality(ctx context.Context, chatID model.ChatID, text string) error

	// GetPersonality returns the custom persona text, or "" when not set
	GetPersonality(ctx context.Context, chatID model.ChatID) (string, error)

	// AddAdmin appends userID to the admin set. Adding an existing admin is a no-op.
	AddAdmin(ctx context.Context, chatID model.ChatID, userID model.UserID) error

	// RemoveAdmin removes userID from the admin set
	RemoveAdmin(ctx context.Context, chatID model.ChatID, userID model.UserID) error

	// ListAdmins returns the admin set of a group
	ListAdmins(ctx context.Context, chatID model.ChatID) ([]model.UserID, error)

	// AppendMemory inserts a memory entry. It returns false without error when an entry
	// with the same (ChatID, MessageID) already exists.
	AppendMemory(ctx context.Context, entry *model.MemoryEntry) (bool, error)

	// SearchMemory returns the nearest entries of a chat ordered by cosine distance, closest first
	SearchMemory(ctx context.Context, input *model.SearchMemoryInput) ([]*model.MemoryEntry, error)
}

func validateEntry(entry *model.MemoryEntry) error {
	if len(entry.Embedding) == 0 {
		return model.ErrEmptyEmbedding
	}
	return nil
}
