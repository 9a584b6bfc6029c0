package chat

import (
	"context"
	"sync"
)

// TurnLocker serializes turns that target the same conversation.
type TurnLocker interface {
	Lock(ctx context.Context, conversationID string) (unlock func(), err error)
}

// LocalLocker is an in-process TurnLocker for single-instance deployments.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Lock(ctx context.Context, conversationID string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[conversationID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[conversationID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.release(conversationID, s)
			})
		}, nil
	case <-ctx.Done():
		l.release(conversationID, s)
		return nil, ctx.Err()
	}
}

// release drops a reference and forgets the slot once nobody holds or waits on it.
func (l *LocalLocker) release(conversationID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, conversationID)
	}
}
