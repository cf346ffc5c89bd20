package repository

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/model"
	"github.com/viterin/vek/vek32"
)

// Memory is an in-process Repository. It is used by the console command and by tests.
type Memory struct {
	mu       sync.Mutex
	groups   map[model.ChatID]*model.Group
	memories map[model.ChatID][]*model.MemoryEntry
	now      func() time.Time
}

type MemoryOption func(*Memory)

// WithClock replaces the clock used for created_at / updated_at
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-memory repository
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		groups:   make(map[model.ChatID]*model.Group),
		memories: make(map[model.ChatID][]*model.MemoryEntry),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func copyGroup(g *model.Group) *model.Group {
	c := *g
	c.AdminIDs = slices.Clone(g.AdminIDs)
	return &c
}

func (m *Memory) GetOrCreateGroup(ctx context.Context, chatID model.ChatID) (*model.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[chatID]
	if !ok {
		g = model.NewGroup(chatID, m.now())
		m.groups[chatID] = g
	}
	return copyGroup(g), nil
}

// update runs f on the stored group under the lock
func (m *Memory) update(chatID model.ChatID, f func(g *model.Group)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[chatID]
	if !ok {
		return goerr.Wrap(model.ErrGroupNotFound, "failed to update group", goerr.V("chat_id", chatID))
	}
	f(g)
	g.UpdatedAt = m.now()
	return nil
}

func (m *Memory) get(chatID model.ChatID) (*model.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[chatID]
	if !ok {
		return nil, goerr.Wrap(model.ErrGroupNotFound, "failed to get group", goerr.V("chat_id", chatID))
	}
	return copyGroup(g), nil
}

func (m *Memory) SetActive(ctx context.Context, chatID model.ChatID, active bool) error {
	return m.update(chatID, func(g *model.Group) { g.IsActive = active })
}

func (m *Memory) SetPersonality(ctx context.Context, chatID model.ChatID, text string) error {
	return m.update(chatID, func(g *model.Group) { g.Personality = text })
}

func (m *Memory) GetPersonality(ctx context.Context, chatID model.ChatID) (string, error) {
	g, err := m.get(chatID)
	if err != nil {
		return "", err
	}
	return g.Personality, nil
}

func (m *Memory) AddAdmin(ctx context.Context, chatID model.ChatID, userID model.UserID) error {
	return m.update(chatID, func(g *model.Group) {
		if !slices.Contains(g.AdminIDs, userID) {
			g.AdminIDs = append(g.AdminIDs, userID)
		}
	})
}

func (m *Memory) RemoveAdmin(ctx context.Context, chatID model.ChatID, userID model.UserID) error {
	return m.update(chatID, func(g *model.Group) {
		g.AdminIDs = slices.DeleteFunc(g.AdminIDs, func(id model.UserID) bool { return id == userID })
	})
}

func (m *Memory) ListAdmins(ctx context.Context, chatID model.ChatID) ([]model.UserID, error) {
	g, err := m.get(chatID)
	if err != nil {
		return nil, err
	}
	return g.AdminIDs, nil
}

func (m *Memory) AppendMemory(ctx context.Context, entry *model.MemoryEntry) (bool, error) {
	if err := validateEntry(entry); err != nil {
		return false, goerr.Wrap(err, "failed to append memory",
			goerr.V("chat_id", entry.ChatID),
			goerr.V("message_id", entry.MessageID))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.memories[entry.ChatID] {
		if e.MessageID == entry.MessageID {
			return false, nil
		}
	}

	stored := *entry
	stored.Embedding = slices.Clone(entry.Embedding)
	stored.Distance = 0
	m.memories[entry.ChatID] = append(m.memories[entry.ChatID], &stored)
	return true, nil
}

func (m *Memory) SearchMemory(ctx context.Context, input *model.SearchMemoryInput) ([]*model.MemoryEntry, error) {
	if len(input.Embedding) == 0 {
		return nil, goerr.Wrap(model.ErrEmptyEmbedding, "failed to search memory", goerr.V("chat_id", input.ChatID))
	}
	if input.Limit <= 0 {
		return nil, nil
	}

	cutoff, filtered := input.Cutoff()

	m.mu.Lock()
	candidates := make([]*model.MemoryEntry, 0, len(m.memories[input.ChatID]))
	for _, e := range m.memories[input.ChatID] {
		if filtered && e.Timestamp.Before(cutoff) {
			continue
		}
		if len(e.Embedding) != len(input.Embedding) {
			continue
		}
		c := *e
		c.Distance = cosineDistance(e.Embedding, input.Embedding)
		candidates = append(candidates, &c)
	}
	m.mu.Unlock()

	// stable sort keeps insertion order among equal distances
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})

	if len(candidates) > input.Limit {
		candidates = candidates[:input.Limit]
	}
	return candidates, nil
}

// cosineDistance returns 1 - cosine similarity. Zero vectors are treated as maximally distant.
func cosineDistance(a, b []float32) float64 {
	sim := float64(vek32.CosineSimilarity(a, b))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 2
	}
	return 1 - sim
}
