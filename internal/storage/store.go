package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"supportchat/internal/models"
)

// ErrConversationNotFound is returned when an operation targets a conversation that does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// Error wraps every failure raised by the backing database.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err originated in the store.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Store persists conversations and their append-only message log.
type Store struct {
	db        *sqlx.DB
	opTimeout time.Duration
	now       func() time.Time
	newID     func() string
}

// NewStore builds a Store on top of an opened pool. opTimeout bounds each call,
// including the wait for a pooled connection; zero disables it.
func NewStore(db *sqlx.DB, opTimeout time.Duration) *Store {
	return &Store{
		db:        db,
		opTimeout: opTimeout,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return wrap("ping", s.db.PingContext(ctx))
}

// CreateConversation inserts a new conversation with a fresh identifier.
func (s *Store) CreateConversation(ctx context.Context) (*models.Conversation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now()
	conv := &models.Conversation{ID: s.newID(), CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)`),
		conv.ID, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return nil, wrap("create conversation", err)
	}
	return conv, nil
}

// GetConversation returns the conversation or nil when it does not exist.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var conv models.Conversation
	err := s.db.GetContext(ctx, &conv,
		s.db.Rebind(`SELECT id, created_at, updated_at FROM conversations WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("get conversation", err)
	}
	return &conv, nil
}

// TouchConversation bumps updated_at to now without ever moving it backwards.
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return touch(ctx, s.db, id, s.now())
}

// AppendMessage inserts a message and touches its conversation in one transaction.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, sender models.Sender, text string) (*models.Message, error) {
	if !sender.Valid() {
		return nil, wrap("append message", fmt.Errorf("invalid sender %q", sender))
	}
	if text == "" {
		return nil, wrap("append message", errors.New("text cannot be empty"))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrap("begin tx", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.GetContext(ctx, &seq,
		tx.Rebind(`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`),
		conversationID,
	); err != nil {
		return nil, wrap("next message seq", err)
	}

	msg := &models.Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		Sender:         sender,
		Text:           text,
		Timestamp:      s.now(),
		Seq:            seq,
	}
	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`INSERT INTO messages (id, conversation_id, sender, text, timestamp, seq) VALUES (?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.ConversationID, string(msg.Sender), msg.Text, msg.Timestamp, msg.Seq,
	); err != nil {
		return nil, wrap("insert message", err)
	}
	if err := touch(ctx, tx, conversationID, msg.Timestamp); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, wrap("commit message", err)
	}
	return msg, nil
}

// ListMessages returns every message of the conversation in chronological order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	messages := make([]*models.Message, 0)
	err := s.db.SelectContext(ctx, &messages,
		s.db.Rebind(`SELECT id, conversation_id, sender, text, timestamp, seq FROM messages
			WHERE conversation_id = ? ORDER BY timestamp ASC, seq ASC`),
		conversationID,
	)
	if err != nil {
		return nil, wrap("list messages", err)
	}
	return messages, nil
}

// ListRecentMessages returns at most limit of the newest messages, oldest first.
func (s *Store) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		return make([]*models.Message, 0), nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	messages := make([]*models.Message, 0, limit)
	err := s.db.SelectContext(ctx, &messages,
		s.db.Rebind(`SELECT id, conversation_id, sender, text, timestamp, seq FROM messages
			WHERE conversation_id = ? ORDER BY timestamp DESC, seq DESC LIMIT ?`),
		conversationID, limit,
	)
	if err != nil {
		return nil, wrap("list recent messages", err)
	}
	slices.Reverse(messages)
	return messages, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Rebind(query string) string
}

func touch(ctx context.Context, ex execer, id string, now time.Time) error {
	res, err := ex.ExecContext(ctx,
		ex.Rebind(`UPDATE conversations SET updated_at = CASE WHEN updated_at > ? THEN updated_at ELSE ? END WHERE id = ?`),
		now, now, id,
	)
	if err != nil {
		return wrap("touch conversation", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrap("touch rows affected", err)
	}
	if affected == 0 {
		return wrap("touch conversation", ErrConversationNotFound)
	}
	return nil
}
