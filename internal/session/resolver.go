package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"supportchat/internal/models"
	"supportchat/internal/observability"
)

// ConversationStore is the slice of the store the resolver needs.
type ConversationStore interface {
	CreateConversation(ctx context.Context) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
}

// Normalize returns the canonical lowercase form of a session id.
// ok is false when id is not a UUID, which no stored conversation can have.
func Normalize(id string) (string, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

// Resolver maps a client-supplied session id to a conversation that exists.
type Resolver struct {
	store ConversationStore
}

func NewResolver(store ConversationStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the canonical sessionID when it names a stored conversation.
// An absent or unknown id yields a freshly created conversation; created
// reports which case happened.
func (r *Resolver) Resolve(ctx context.Context, sessionID string) (string, bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if id, ok := Normalize(sessionID); ok {
		conv, err := r.store.GetConversation(ctx, id)
		if err != nil {
			return "", false, fmt.Errorf("lookup session: %w", err)
		}
		if conv != nil {
			return conv.ID, false, nil
		}
	}

	conv, err := r.store.CreateConversation(ctx)
	if err != nil {
		return "", false, fmt.Errorf("create session: %w", err)
	}
	if sessionID != "" {
		observability.FromContext(ctx).
			WithField("requested_session", sessionID).
			WithField("session", conv.ID).
			Info("unknown session, started a new conversation")
	}
	return conv.ID, true, nil
}
