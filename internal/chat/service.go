package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"supportchat/internal/llm"
	"supportchat/internal/models"
	"supportchat/internal/observability"
)

// ErrConversationNotFound is returned by History for unknown session ids.
var ErrConversationNotFound = errors.New("conversation not found")

const (
	DefaultHistoryWindow = 50
	DefaultLockWait      = 10 * time.Second

	errorReplyPrefix = "Sorry, I encountered an error: "
)

// Store is the persistence surface the orchestrator depends on.
type Store interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, sender models.Sender, text string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
}

// Resolver turns an optional session id into a conversation id.
type Resolver interface {
	Resolve(ctx context.Context, sessionID string) (id string, created bool, err error)
}

// Generator produces the assistant reply for a turn.
type Generator interface {
	Generate(ctx context.Context, history []*models.Message, text string) llm.Reply
}

// Result is what a handled turn reports back to the caller.
type Result struct {
	Reply     string
	SessionID string
	Error     bool
}

type Options struct {
	HistoryWindow int
	LockWait      time.Duration
}

type Service struct {
	store     Store
	resolver  Resolver
	generator Generator
	locker    TurnLocker
	window    int
	lockWait  time.Duration
}

func NewService(store Store, resolver Resolver, generator Generator, locker TurnLocker, opts Options) *Service {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.LockWait <= 0 {
		opts.LockWait = DefaultLockWait
	}
	return &Service{
		store:     store,
		resolver:  resolver,
		generator: generator,
		locker:    locker,
		window:    opts.HistoryWindow,
		lockWait:  opts.LockWait,
	}
}

// HandleMessage runs one chat turn. text must already be validated.
// A generation failure is not an error: it is persisted as the ai reply and
// flagged on the Result. Only storage and locking failures are returned.
func (s *Service) HandleMessage(ctx context.Context, text, sessionID string) (*Result, error) {
	// persistence must finish even if the client goes away
	ctx = context.WithoutCancel(ctx)
	log := observability.FromContext(ctx)

	convID, created, err := s.resolver.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	log = log.WithField("session", convID)

	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	unlock, err := s.locker.Lock(lockCtx, convID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("lock conversation %s: %w", convID, err)
	}
	defer unlock()

	userMsg, err := s.store.AppendMessage(ctx, convID, models.SenderUser, text)
	if err != nil {
		return nil, err
	}

	history, err := s.store.ListMessages(ctx, convID)
	if err != nil {
		return nil, err
	}
	if len(history) > s.window {
		history = history[len(history)-s.window:]
	}
	// the stored user message goes to the generator as the new turn, not as history
	if n := len(history); n > 0 && history[n-1].ID == userMsg.ID {
		history = history[:n-1]
	}

	reply := s.generator.Generate(ctx, history, text)

	res := &Result{SessionID: convID}
	if reply.Failed() {
		res.Reply = errorReplyPrefix + reply.ErrorText
		res.Error = true
	} else {
		res.Reply = reply.Text
	}
	if _, err := s.store.AppendMessage(ctx, convID, models.SenderAI, res.Reply); err != nil {
		return nil, err
	}

	log.WithField("created", created).
		WithField("history", len(history)).
		WithField("failed", res.Error).
		Info("chat turn handled")
	return res, nil
}

// History returns the conversation and its messages in chronological order.
func (s *Service) History(ctx context.Context, sessionID string) (*models.Conversation, []*models.Message, error) {
	conv, err := s.store.GetConversation(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		return nil, nil, ErrConversationNotFound
	}
	msgs, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}
