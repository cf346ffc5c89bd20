package repository_test

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/murmur/pkg/model"
	"github.com/m-mizutani/murmur/pkg/repository"
	"golang.org/x/sync/errgroup"
)

func setupPostgres(t *testing.T) repository.Repository {
	dsn := os.Getenv("TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_URL is not set")
	}

	ctx := context.Background()
	repo, err := repository.NewPostgres(ctx, dsn)
	gt.NoError(t, err)
	gt.NoError(t, repo.Migrate(ctx))
	t.Cleanup(repo.Close)
	return repo
}

func setupFirestore(t *testing.T) repository.Repository {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	repo, err := repository.NewFirestore(context.Background(), projectID, databaseID)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func backends() map[string]func(t *testing.T) repository.Repository {
	return map[string]func(t *testing.T) repository.Repository{
		"memory":    func(t *testing.T) repository.Repository { return repository.NewMemory() },
		"postgres":  setupPostgres,
		"firestore": setupFirestore,
	}
}

// newChatID avoids collisions between runs against shared databases
func newChatID() model.ChatID {
	return model.ChatID(-1_000_000_000 - rand.Int63n(1_000_000_000))
}

func vec(values ...float32) []float32 {
	return values
}

func TestGetOrCreateGroupIsIdempotent(t *testing.T) {
	for name, setup := range backends() {
		t.Run(name, func(t *testing.T) {
			repo := setup(t)
			ctx := context.Background()
			chatID := newChatID()

			first, err := repo.GetOrCreateGroup(ctx, chatID)
			gt.NoError(t, err)
			gt.Equal(t, first.ChatID, chatID)
			gt.True(t, first.IsActive)
			gt.A(t, first.AdminIDs).Length(0)
			gt.Equal(t, first.Personality, "")

			second, err := repo.GetOrCreateGroup(ctx, chatID)
			gt.NoError(t, err)
			gt.Equal(t, second.AdminIDs, first.AdminIDs)
			gt.Equal(t, second.Personality, first.Personality)
		})
	}
}

func TestAdmins(t *testing.T) {
	for name, setup := range backends() {
		t.Run(name, func(t *testing.T) {
			repo := setup(t)
			ctx := context.Background()
			chatID := newChatID()

			_, err := repo.GetOrCreateGroup(ctx, chatID)
			gt.NoError(t, err)

			gt.NoError(t, repo.AddAdmin(ctx, chatID, 5))
			gt.NoError(t, repo.AddAdmin(ctx, chatID, 5))
			gt.NoError(t, repo.AddAdmin(ctx, chatID, 7))

			admins, err := repo.ListAdmins(ctx, chatID)
			gt.NoError(t, err)
			gt.A(t, admins).Length(2)
			gt.True(t, slices.Contains(admins, 5))
			gt.True(t, slices.Contains(admins, 7))

			gt.NoError(t, repo.RemoveAdmin(ctx, chatID, 5))
			admins, err = repo.ListAdmins(ctx, chatID)
			gt.NoError(t, err)
			gt.Equal(t, admins, []model.UserID{7})

			// removing a non-admin leaves the set untouched
			gt.NoError(t, repo.RemoveAdmin(ctx, chatID, 99))
			admins, err = repo.ListAdmins(ctx, chatID)
			gt.NoError(t, err)
			gt.Equal(t, admins, []model.UserID{7})
		})
	}
}

func TestMutationOnUnknownGroup(t *testing.T) {
	for name, setup := range backends() {
		t.Run(name, func(t *testing.T) {
			repo := setup(t)
			ctx := context.Background()
			chatID := newChatID()

			err := repo.SetPersonality(ctx, chatID, "pirate")
			gt.True(t, errors.Is(err, model.ErrGroupNotFound))

			err = repo.AddAdmin(ctx, chatID, 1)
			gt.True(t, errors.Is(err, model.ErrGroupNotFound))

			_, err = repo.ListAdmins(ctx, chatID)
			gt.True(t, errors.Is(err, model.ErrGroupNotFound))
		})
	}
}

func TestPersonalityAndActivity(t *testing.T) {
	for name, setup := range backends() {
		t.Run(name, func(t *testing.T) {
			repo := setup(t)
			ctx := context.Background()
			chatID := newChatID()

			_, err := repo.GetOrCreateGroup(ctx, chatID)
			gt.NoError(t, err)

			p, err := repo.GetPersonality(ctx, chatID)
			gt.NoError(t, err)
			gt.Equal(t, p, "")

			gt.NoError(t, repo.SetPersonality(ctx, chatID, "You are a calm librarian."))
			p, err = repo.GetPersonality(ctx, chatID)
			gt.NoError(t, err)
			gt.Equal(t, p, "You are a calm librarian.")

			gt.NoError(t, repo.SetActive(ctx, chatID, false))
			g, err := repo.GetOrCreateGroup(ctx, chatID)
			gt.NoError(t, err)
			gt.False(t, g.IsActive)
			gt.Equal(t, g.Personality, "You are a calm librarian.")
		})
	}
}

func TestAppendMemoryDedup(t *testing.T) {
	for name, setup := range backends() {
		t.Run(name, func(t *testing.T) {
			repo := setup(t)
			ctx := context.Background()
			chatID := newChatID()
			now := time.Now().UTC().Truncate(time.Second)

			_, err := repo.GetOrCreateGroup(ctx, chatID)
			gt.NoError(t, err)

			inserted, err := repo.AppendMemory(ctx, &model.MemoryEntry{
				ChatID: chatID, MessageID: 1, UserID: 10, Text: "first payload", Timestamp: now,
				Embedding: vec(1, 0, 0),
			})
			gt.NoError(t, err)
			gt.True(t, inserted)

			inserted, err = repo.AppendMemory(ctx, &model.MemoryEntry{
				ChatID: chatID, MessageID: 1, UserID: 11, Text: "second payload", Timestamp: now,
				Embedding: vec(1, 0, 0),
			})
			gt.NoError(t, err)
			gt.False(t, inserted)

			found, err := repo.SearchMemory(ctx, &model.SearchMemoryInput{
				ChatID: chatID, Embedding: vec(1, 0, 0), Limit: 10,
			})
			gt.NoError(t, err)
			gt.A(t, found).Length(1)
			gt.Equal(t, found[0].Text, "first payload")
			gt.Equal(t, found[0].UserID, model.UserID(10))
		})
	}
}

func TestAppendMemoryConcurrentSameKey(t *testing.T) {
	for name, setup := range backends() {
		t.Run(name, func(t *testing.T) {
			repo := setup(t)
			ctx := context.Background()
			chatID := newChatID()
			now := time.Now().UTC().Truncate(time.Second)

			_, err := repo.GetOrCreateGroup(ctx, chatID)
			gt.NoError(t, err)

			const writers = 20
			var inserted atomic.Int32
			var eg errgroup.Group
			for i := range writers {
				eg.Go(func() error {
					ok, err := repo.AppendMemory(ctx, &model.MemoryEntry{
						ChatID: chatID, MessageID: 42, UserID: model.UserID(100 + i),
						Text: "same message", Timestamp: now, Embedding: vec(0, 1, 0),
					})
					if ok {
						inserted.Add(1)
					}
					return err
				})
			}
			gt.NoError(t, eg.Wait())
			gt.Equal(t, inserted.Load(), int32(1))

			found, err := repo.SearchMemory(ctx, &model.SearchMemoryInput{
				ChatID: chatID, Embedding: vec(0, 1, 0), Limit: 10,
			})
			gt.NoError(t, err)
			gt.A(t, found).Length(1)
		})
	}
}

func TestAppendMemoryRejectsEmptyEmbedding(t *testing.T) {
	repo := repository.NewMemory()
	_, err := repo.AppendMemory(context.Background(), &model.MemoryEntry{
		ChatID: 1, MessageID: 1, UserID: 1, Text: "x", Timestamp: time.Now(),
	})
	gt.True(t, errors.Is(err, model.ErrEmptyEmbedding))
}

func TestSearchMemoryOrderAndScope(t *testing.T) {
	for name, setup := range backends() {
		t.Run(name, func(t *testing.T) {
			repo := setup(t)
			ctx := context.Background()
			chatID := newChatID()
			otherChat := newChatID()
			now := time.Now().UTC().Truncate(time.Second)

			for _, id := range []model.ChatID{chatID, otherChat} {
				_, err := repo.GetOrCreateGroup(ctx, id)
				gt.NoError(t, err)
			}

			entries := []*model.MemoryEntry{
				{ChatID: chatID, MessageID: 1, UserID: 1, Text: "far", Timestamp: now, Embedding: vec(0, 1, 0)},
				{ChatID: chatID, MessageID: 2, UserID: 1, Text: "closest", Timestamp: now, Embedding: vec(1, 0, 0)},
				{ChatID: chatID, MessageID: 3, UserID: 1, Text: "middle", Timestamp: now, Embedding: vec(1, 1, 0)},
				{ChatID: otherChat, MessageID: 4, UserID: 1, Text: "other chat", Timestamp: now, Embedding: vec(1, 0, 0)},
			}
			for _, e := range entries {
				_, err := repo.AppendMemory(ctx, e)
				gt.NoError(t, err)
			}

			found, err := repo.SearchMemory(ctx, &model.SearchMemoryInput{
				ChatID: chatID, Embedding: vec(1, 0, 0), Limit: 2, Now: now,
			})
			gt.NoError(t, err)
			gt.A(t, found).Length(2)
			gt.Equal(t, found[0].Text, "closest")
			gt.Equal(t, found[1].Text, "middle")
		})
	}
}

func TestSearchMemoryAgeFilter(t *testing.T) {
	for name, setup := range backends() {
		t.Run(name, func(t *testing.T) {
			repo := setup(t)
			ctx := context.Background()
			chatID := newChatID()
			now := time.Now().UTC().Truncate(time.Second)

			_, err := repo.GetOrCreateGroup(ctx, chatID)
			gt.NoError(t, err)

			_, err = repo.AppendMemory(ctx, &model.MemoryEntry{
				ChatID: chatID, MessageID: 1, UserID: 1, Text: "old news",
				Timestamp: now.AddDate(0, 0, -30), Embedding: vec(1, 0),
			})
			gt.NoError(t, err)

			found, err := repo.SearchMemory(ctx, &model.SearchMemoryInput{
				ChatID: chatID, Embedding: vec(1, 0), Limit: 3, MaxAgeDays: 7, Now: now,
			})
			gt.NoError(t, err)
			gt.A(t, found).Length(0)

			found, err = repo.SearchMemory(ctx, &model.SearchMemoryInput{
				ChatID: chatID, Embedding: vec(1, 0), Limit: 3, MaxAgeDays: 0, Now: now,
			})
			gt.NoError(t, err)
			gt.A(t, found).Length(1)
			gt.Equal(t, found[0].Text, "old news")
		})
	}
}

func TestMemoryTiesKeepInsertionOrder(t *testing.T) {
	repo := repository.NewMemory()
	ctx := context.Background()
	now := time.Now()

	for i, text := range []string{"a", "b", "c"} {
		_, err := repo.AppendMemory(ctx, &model.MemoryEntry{
			ChatID: 1, MessageID: model.MessageID(i + 1), UserID: 1, Text: text, Timestamp: now,
			Embedding: vec(1, 1),
		})
		gt.NoError(t, err)
	}

	for range 3 {
		found, err := repo.SearchMemory(ctx, &model.SearchMemoryInput{ChatID: 1, Embedding: vec(1, 1), Limit: 3})
		gt.NoError(t, err)
		gt.A(t, found).Length(3)
		gt.Equal(t, found[0].Text, "a")
		gt.Equal(t, found[1].Text, "b")
		gt.Equal(t, found[2].Text, "c")
	}
}
