package messaging

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - Conversation pairs are unique on (pair_low, pair_high); creation is INSERT .. ON CONFLICT DO NOTHING
//     followed by a re-read, so concurrent creators converge on one row.
//   - Message inserts take a per-conversation transactional advisory lock so created_at strictly increases.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "public").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("messaging: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("messaging: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "public",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("messaging: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// ApplySchema creates the messaging tables in schema if they do not exist.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if !isValidPGIdent(schema) {
		return fmt.Errorf("messaging: invalid schema identifier %q", schema)
	}
	quoted := pgx.Identifier{schema}.Sanitize()
	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+quoted); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := pool.Exec(ctx, strings.ReplaceAll(schemaSQL, "{{schema}}", quoted)); err != nil {
		return fmt.Errorf("apply messaging schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) ConversationIDsFor(ctx context.Context, profileID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id FROM `+s.table("conversation_participants")+`
		  WHERE profile_id = $1
		  ORDER BY conversation_id`,
		profileID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) SharedConversationIDs(ctx context.Context, conversationIDs []string, profileID string) ([]string, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id FROM `+s.table("conversation_participants")+`
		  WHERE profile_id = $1 AND conversation_id = ANY($2)
		  ORDER BY conversation_id`,
		profileID, conversationIDs,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) CreateConversation(ctx context.Context, in CreateConversationInput) (Conversation, bool, error) {
	if in.ID == "" || in.A == "" || in.B == "" || in.A == in.B {
		return Conversation{}, false, ErrInvalidInput
	}
	low, high := canonicalPair(in.A, in.B)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Conversation{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conversations := s.table("conversations")

	var createdAt time.Time
	err = tx.QueryRow(ctx,
		`INSERT INTO `+conversations+` (id, pair_low, pair_high)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (pair_low, pair_high) DO NOTHING
		 RETURNING created_at`,
		in.ID, low, high,
	).Scan(&createdAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race (or the pair already existed): the winner's row is committed by now.
		var existing Conversation
		if err := tx.QueryRow(ctx,
			`SELECT id, created_at FROM `+conversations+` WHERE pair_low = $1 AND pair_high = $2`,
			low, high,
		).Scan(&existing.ID, &existing.CreatedAt); err != nil {
			return Conversation{}, false, fmt.Errorf("read existing conversation: %w", err)
		}
		existing.Participants = [2]string{low, high}
		if err := tx.Commit(ctx); err != nil {
			return Conversation{}, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return Conversation{}, false, fmt.Errorf("insert conversation: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.table("conversation_participants")+` (conversation_id, profile_id)
		 VALUES ($1, $2), ($1, $3)`,
		in.ID, in.A, in.B,
	); err != nil {
		return Conversation{}, false, fmt.Errorf("insert participants: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, false, err
	}
	return Conversation{
		ID:           in.ID,
		Participants: [2]string{in.A, in.B},
		CreatedAt:    createdAt,
	}, true, nil
}

func (s *PostgresStore) Participants(ctx context.Context, conversationIDs []string) ([]Participant, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id, profile_id FROM `+s.table("conversation_participants")+`
		  WHERE conversation_id = ANY($1)`,
		conversationIDs,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Participant, error) {
		var p Participant
		err := row.Scan(&p.ConversationID, &p.ProfileID)
		return p, err
	})
}

func (s *PostgresStore) IsParticipant(ctx context.Context, conversationID, profileID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM `+s.table("conversation_participants")+`
		    WHERE conversation_id = $1 AND profile_id = $2
		 )`,
		conversationID, profileID,
	).Scan(&ok)
	return ok, err
}

func (s *PostgresStore) InsertMessage(ctx context.Context, in InsertMessageInput) (Message, error) {
	if in.ID == "" || in.ConversationID == "" || in.SenderID == "" || in.Content == "" {
		return Message{}, ErrInvalidInput
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ConversationID); err != nil {
		return Message{}, fmt.Errorf("advisory lock: %w", err)
	}

	messages := s.table("messages")

	// GREATEST skips NULL, so the first message simply takes clock_timestamp().
	var createdAt time.Time
	err = tx.QueryRow(ctx,
		`INSERT INTO `+messages+` (id, conversation_id, sender_id, content, created_at)
		 SELECT $1, $2, $3, $4, GREATEST(
		          clock_timestamp(),
		          (SELECT max(created_at) + interval '1 microsecond' FROM `+messages+` WHERE conversation_id = $2)
		        )
		  WHERE EXISTS (
		    SELECT 1 FROM `+s.table("conversation_participants")+`
		     WHERE conversation_id = $2 AND profile_id = $3
		  )
		 RETURNING created_at`,
		in.ID, in.ConversationID, in.SenderID, in.Content,
	).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotAuthorized
	}
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return Message{
		ID:             in.ID,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		CreatedAt:      createdAt.UTC(),
	}, nil
}

func (s *PostgresStore) ListThread(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender_id, content, created_at, read_at
		   FROM `+s.table("messages")+`
		  WHERE conversation_id = $1
		  ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMessage)
}

func (s *PostgresStore) ListLatest(ctx context.Context, conversationIDs []string) ([]Message, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender_id, content, created_at, read_at
		   FROM `+s.table("messages")+`
		  WHERE conversation_id = ANY($1)
		  ORDER BY created_at DESC, id DESC`,
		conversationIDs,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMessage)
}

func (s *PostgresStore) MarkRead(ctx context.Context, conversationID, readerID string) (int64, time.Time, error) {
	var (
		n  int64
		at *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`WITH marked AS (
		   UPDATE `+s.table("messages")+`
		      SET read_at = now()
		    WHERE conversation_id = $1
		      AND sender_id <> $2
		      AND read_at IS NULL
		   RETURNING read_at
		 )
		 SELECT count(*), max(read_at) FROM marked`,
		conversationID, readerID,
	).Scan(&n, &at)
	if err != nil {
		return 0, time.Time{}, err
	}
	if at == nil {
		return 0, time.Time{}, nil
	}
	return n, at.UTC(), nil
}

func (s *PostgresStore) LastReadAt(ctx context.Context, conversationID, readerID string) (time.Time, bool, error) {
	var at *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT max(read_at) FROM `+s.table("messages")+`
		  WHERE conversation_id = $1 AND sender_id <> $2`,
		conversationID, readerID,
	).Scan(&at)
	if err != nil {
		return time.Time{}, false, err
	}
	if at == nil {
		return time.Time{}, false, nil
	}
	return at.UTC(), true, nil
}

func scanMessage(row pgx.CollectableRow) (Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt, &m.ReadAt); err != nil {
		return Message{}, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	if m.ReadAt != nil {
		at := m.ReadAt.UTC()
		m.ReadAt = &at
	}
	return m, nil
}

func (s *PostgresStore) table(name string) string {
	return pgIdent(s.schema, name)
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
