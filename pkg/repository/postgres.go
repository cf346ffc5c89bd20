package repository

import (
	"context"
	_ "embed"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/model"
)

//go:embed sql/schema.sql
var postgresSchema string

// Postgres implements Repository on PostgreSQL with the pgvector extension
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and verifies the connection
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse database URL")
	}
	cfg.MinConns = 1
	cfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, goerr.Wrap(err, "failed to connect database")
	}

	return &Postgres{pool: pool}, nil
}

// Migrate creates the extension, tables and indexes if they do not exist
func (r *Postgres) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return goerr.Wrap(err, "failed to apply schema")
	}
	return nil
}

// Close releases all connections
func (r *Postgres) Close() {
	r.pool.Close()
}

const selectGroup = `SELECT chat_id, is_active, admin_ids, personality_prompt, created_at, updated_at FROM groups WHERE chat_id = $1`

func scanGroup(row pgx.Row) (*model.Group, error) {
	var (
		chatID      int64
		admins      []int64
		personality *string
		g           model.Group
	)
	if err := row.Scan(&chatID, &g.IsActive, &admins, &personality, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}

	g.ChatID = model.ChatID(chatID)
	g.AdminIDs = make([]model.UserID, 0, len(admins))
	for _, id := range admins {
		g.AdminIDs = append(g.AdminIDs, model.UserID(id))
	}
	if personality != nil {
		g.Personality = *personality
	}
	return &g, nil
}

func (r *Postgres) GetOrCreateGroup(ctx context.Context, chatID model.ChatID) (*model.Group, error) {
	// insert-or-ignore keeps concurrent first contacts race free
	if _, err := r.pool.Exec(ctx, `INSERT INTO groups (chat_id) VALUES ($1) ON CONFLICT (chat_id) DO NOTHING`, int64(chatID)); err != nil {
		return nil, goerr.Wrap(err, "failed to create group", goerr.V("chat_id", chatID))
	}

	g, err := scanGroup(r.pool.QueryRow(ctx, selectGroup, int64(chatID)))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get group", goerr.V("chat_id", chatID))
	}
	return g, nil
}

func (r *Postgres) getGroup(ctx context.Context, chatID model.ChatID) (*model.Group, error) {
	g, err := scanGroup(r.pool.QueryRow(ctx, selectGroup, int64(chatID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, goerr.Wrap(model.ErrGroupNotFound, "group does not exist", goerr.V("chat_id", chatID))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get group", goerr.V("chat_id", chatID))
	}
	return g, nil
}

// execUpdate runs a single-group UPDATE and maps zero affected rows to ErrGroupNotFound
func (r *Postgres) execUpdate(ctx context.Context, chatID model.ChatID, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return goerr.Wrap(err, "failed to update group", goerr.V("chat_id", chatID))
	}
	if tag.RowsAffected() == 0 {
		return goerr.Wrap(model.ErrGroupNotFound, "group does not exist", goerr.V("chat_id", chatID))
	}
	return nil
}

func (r *Postgres) SetActive(ctx context.Context, chatID model.ChatID, active bool) error {
	return r.execUpdate(ctx, chatID,
		`UPDATE groups SET is_active = $1, updated_at = NOW() WHERE chat_id = $2`,
		active, int64(chatID))
}

func (r *Postgres) SetPersonality(ctx context.Context, chatID model.ChatID, text string) error {
	return r.execUpdate(ctx, chatID,
		`UPDATE groups SET personality_prompt = $1, updated_at = NOW() WHERE chat_id = $2`,
		text, int64(chatID))
}

func (r *Postgres) GetPersonality(ctx context.Context, chatID model.ChatID) (string, error) {
	g, err := r.getGroup(ctx, chatID)
	if err != nil {
		return "", err
	}
	return g.Personality, nil
}

func (r *Postgres) AddAdmin(ctx context.Context, chatID model.ChatID, userID model.UserID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE groups
		SET admin_ids = array_append(COALESCE(admin_ids, ARRAY[]::BIGINT[]), $1::BIGINT), updated_at = NOW()
		WHERE chat_id = $2 AND NOT (COALESCE(admin_ids, ARRAY[]::BIGINT[]) @> ARRAY[$1::BIGINT])`,
		int64(userID), int64(chatID))
	if err != nil {
		return goerr.Wrap(err, "failed to add admin", goerr.V("chat_id", chatID), goerr.V("user_id", userID))
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: either the user is already an admin or the group is missing
	if _, err := r.getGroup(ctx, chatID); err != nil {
		return err
	}
	return nil
}

func (r *Postgres) RemoveAdmin(ctx context.Context, chatID model.ChatID, userID model.UserID) error {
	return r.execUpdate(ctx, chatID,
		`UPDATE groups SET admin_ids = array_remove(admin_ids, $1::BIGINT), updated_at = NOW() WHERE chat_id = $2`,
		int64(userID), int64(chatID))
}

func (r *Postgres) ListAdmins(ctx context.Context, chatID model.ChatID) ([]model.UserID, error) {
	g, err := r.getGroup(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return g.AdminIDs, nil
}

func (r *Postgres) AppendMemory(ctx context.Context, entry *model.MemoryEntry) (bool, error) {
	if err := validateEntry(entry); err != nil {
		return false, goerr.Wrap(err, "failed to append memory",
			goerr.V("chat_id", entry.ChatID),
			goerr.V("message_id", entry.MessageID))
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO chat_memories (chat_id, message_id, user_id, message_text, message_timestamp, embedding)
		VALUES ($1, $2, $3, $4, $5, $6::vector)
		ON CONFLICT (chat_id, message_id) DO NOTHING`,
		int64(entry.ChatID),
		int64(entry.MessageID),
		int64(entry.UserID),
		entry.Text,
		entry.Timestamp,
		vectorLiteral(entry.Embedding),
	)
	if err != nil {
		return false, goerr.Wrap(err, "failed to insert memory",
			goerr.V("chat_id", entry.ChatID),
			goerr.V("message_id", entry.MessageID))
	}

	return tag.RowsAffected() > 0, nil
}

func (r *Postgres) SearchMemory(ctx context.Context, input *model.SearchMemoryInput) ([]*model.MemoryEntry, error) {
	if len(input.Embedding) == 0 {
		return nil, goerr.Wrap(model.ErrEmptyEmbedding, "failed to search memory", goerr.V("chat_id", input.ChatID))
	}
	if input.Limit <= 0 {
		return nil, nil
	}

	var cutoff *time.Time
	if t, ok := input.Cutoff(); ok {
		cutoff = &t
	}

	// The age filter is a plain timestamp comparison against a bound cutoff value
	rows, err := r.pool.Query(ctx, `
		SELECT chat_id, message_id, user_id, message_text, message_timestamp, embedding <=> $2::vector AS distance
		FROM chat_memories
		WHERE chat_id = $1 AND ($3::TIMESTAMPTZ IS NULL OR message_timestamp >= $3::TIMESTAMPTZ)
		ORDER BY distance ASC, memory_id ASC
		LIMIT $4`,
		int64(input.ChatID),
		vectorLiteral(input.Embedding),
		cutoff,
		input.Limit,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search memory", goerr.V("chat_id", input.ChatID))
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.MemoryEntry, error) {
		var (
			chatID, messageID, userID int64
			e                         model.MemoryEntry
		)
		if err := row.Scan(&chatID, &messageID, &userID, &e.Text, &e.Timestamp, &e.Distance); err != nil {
			return nil, err
		}
		e.ChatID = model.ChatID(chatID)
		e.MessageID = model.MessageID(messageID)
		e.UserID = model.UserID(userID)
		return &e, nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read memory rows", goerr.V("chat_id", input.ChatID))
	}

	return entries, nil
}

// vectorLiteral encodes v in the pgvector text format, e.g. "[0.1,0.2]"
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
