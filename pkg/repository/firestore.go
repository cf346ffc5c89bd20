package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionGroups   = "groups"
	collectionMemories = "memories"
)

// Firestore implements Repository on Cloud Firestore. Memory search requires a vector index
// on memories.Embedding with ChatID and Timestamp as prefilter fields.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore creates a new Firestore repository
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}
	return &Firestore{client: client}, nil
}

// Close closes the underlying client
func (r *Firestore) Close() error {
	return r.client.Close()
}

type groupDoc struct {
	ChatID      int64
	IsActive    bool
	AdminIDs    []int64
	Personality string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (d *groupDoc) toModel() *model.Group {
	g := &model.Group{
		ChatID:      model.ChatID(d.ChatID),
		IsActive:    d.IsActive,
		AdminIDs:    make([]model.UserID, 0, len(d.AdminIDs)),
		Personality: d.Personality,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	for _, id := range d.AdminIDs {
		g.AdminIDs = append(g.AdminIDs, model.UserID(id))
	}
	return g
}

type memoryDoc struct {
	ChatID    int64
	MessageID int64
	UserID    int64
	Text      string
	Timestamp time.Time
	Embedding firestore.Vector32
	Distance  float64 `firestore:"Distance,omitempty"`
}

func (r *Firestore) groupRef(chatID model.ChatID) *firestore.DocumentRef {
	return r.client.Collection(collectionGroups).Doc(chatID.String())
}

func memoryDocID(chatID model.ChatID, messageID model.MessageID) string {
	return fmt.Sprintf("%d_%d", chatID, messageID)
}

func (r *Firestore) GetOrCreateGroup(ctx context.Context, chatID model.ChatID) (*model.Group, error) {
	ref := r.groupRef(chatID)
	now := time.Now().UTC()

	// Create fails with AlreadyExists when another event created the group first
	_, err := ref.Create(ctx, &groupDoc{
		ChatID:    int64(chatID),
		IsActive:  true,
		AdminIDs:  []int64{},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return nil, goerr.Wrap(err, "failed to create group", goerr.V("chat_id", chatID))
	}

	return r.getGroup(ctx, chatID)
}

func (r *Firestore) getGroup(ctx context.Context, chatID model.ChatID) (*model.Group, error) {
	snap, err := r.groupRef(chatID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, goerr.Wrap(model.ErrGroupNotFound, "group does not exist", goerr.V("chat_id", chatID))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get group", goerr.V("chat_id", chatID))
	}

	var doc groupDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode group", goerr.V("chat_id", chatID))
	}
	return doc.toModel(), nil
}

func (r *Firestore) updateGroup(ctx context.Context, chatID model.ChatID, updates ...firestore.Update) error {
	updates = append(updates, firestore.Update{Path: "UpdatedAt", Value: firestore.ServerTimestamp})
	_, err := r.groupRef(chatID).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return goerr.Wrap(model.ErrGroupNotFound, "group does not exist", goerr.V("chat_id", chatID))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to update group", goerr.V("chat_id", chatID))
	}
	return nil
}

func (r *Firestore) SetActive(ctx context.Context, chatID model.ChatID, active bool) error {
	return r.updateGroup(ctx, chatID, firestore.Update{Path: "IsActive", Value: active})
}

func (r *Firestore) SetPersonality(ctx context.Context, chatID model.ChatID, text string) error {
	return r.updateGroup(ctx, chatID, firestore.Update{Path: "Personality", Value: text})
}

func (r *Firestore) GetPersonality(ctx context.Context, chatID model.ChatID) (string, error) {
	g, err := r.getGroup(ctx, chatID)
	if err != nil {
		return "", err
	}
	return g.Personality, nil
}

func (r *Firestore) AddAdmin(ctx context.Context, chatID model.ChatID, userID model.UserID) error {
	return r.updateGroup(ctx, chatID, firestore.Update{Path: "AdminIDs", Value: firestore.ArrayUnion(int64(userID))})
}

func (r *Firestore) RemoveAdmin(ctx context.Context, chatID model.ChatID, userID model.UserID) error {
	return r.updateGroup(ctx, chatID, firestore.Update{Path: "AdminIDs", Value: firestore.ArrayRemove(int64(userID))})
}

func (r *Firestore) ListAdmins(ctx context.Context, chatID model.ChatID) ([]model.UserID, error) {
	g, err := r.getGroup(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return g.AdminIDs, nil
}

func (r *Firestore) AppendMemory(ctx context.Context, entry *model.MemoryEntry) (bool, error) {
	if err := validateEntry(entry); err != nil {
		return false, goerr.Wrap(err, "failed to append memory",
			goerr.V("chat_id", entry.ChatID),
			goerr.V("message_id", entry.MessageID))
	}

	doc := &memoryDoc{
		ChatID:    int64(entry.ChatID),
		MessageID: int64(entry.MessageID),
		UserID:    int64(entry.UserID),
		Text:      entry.Text,
		Timestamp: entry.Timestamp,
		Embedding: entry.Embedding,
	}

	ref := r.client.Collection(collectionMemories).Doc(memoryDocID(entry.ChatID, entry.MessageID))
	if _, err := ref.Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, goerr.Wrap(err, "failed to create memory",
			goerr.V("chat_id", entry.ChatID),
			goerr.V("message_id", entry.MessageID))
	}
	return true, nil
}

func (r *Firestore) SearchMemory(ctx context.Context, input *model.SearchMemoryInput) ([]*model.MemoryEntry, error) {
	if len(input.Embedding) == 0 {
		return nil, goerr.Wrap(model.ErrEmptyEmbedding, "failed to search memory", goerr.V("chat_id", input.ChatID))
	}
	if input.Limit <= 0 {
		return nil, nil
	}

	q := r.client.Collection(collectionMemories).Where("ChatID", "==", int64(input.ChatID))
	if cutoff, ok := input.Cutoff(); ok {
		q = q.Where("Timestamp", ">=", cutoff)
	}

	vq := q.FindNearest("Embedding", input.Embedding, input.Limit, firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: "Distance"})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	var entries []*model.MemoryEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to search memory", goerr.V("chat_id", input.ChatID))
		}

		var doc memoryDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory", goerr.V("doc_id", snap.Ref.ID))
		}
		entries = append(entries, &model.MemoryEntry{
			ChatID:    model.ChatID(doc.ChatID),
			MessageID: model.MessageID(doc.MessageID),
			UserID:    model.UserID(doc.UserID),
			Text:      doc.Text,
			Timestamp: doc.Timestamp,
			Embedding: doc.Embedding,
			Distance:  doc.Distance,
		})
	}

	return entries, nil
}
