package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"supportchat/internal/observability"
)

const (
	turnLockPrefix   = "supportchat:turn:"
	defaultLockLease = 2 * time.Minute
	lockRetryMin     = 10 * time.Millisecond
	lockRetryMax     = 200 * time.Millisecond
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// TurnLock serializes chat turns for the same conversation across processes.
type TurnLock struct {
	client *Client
	lease  time.Duration
}

// NewTurnLock builds a lock whose keys expire after lease so a crashed
// holder cannot wedge a conversation.
func NewTurnLock(client *Client, lease time.Duration) *TurnLock {
	if lease <= 0 {
		lease = defaultLockLease
	}
	return &TurnLock{client: client, lease: lease}
}

// Lock blocks until the conversation lock is held or ctx is done.
func (l *TurnLock) Lock(ctx context.Context, conversationID string) (func(), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("redis turn lock not initialized")
	}
	key := turnLockPrefix + conversationID
	token := uuid.NewString()
	wait := lockRetryMin
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.lease)
		if err != nil {
			return nil, fmt.Errorf("acquire turn lock: %w", err)
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire turn lock: %w", ctx.Err())
		case <-time.After(wait):
		}
		if wait *= 2; wait > lockRetryMax {
			wait = lockRetryMax
		}
	}
}

func (l *TurnLock) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client.Raw(), []string{key}, token).Err(); err != nil && err != ErrCacheMiss {
		observability.Logger().WithError(err).WithField("key", key).Warn("release turn lock failed")
	}
}
