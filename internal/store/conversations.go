package store

import (
	"context"
	"time"
)

// Conversation scopes.
const (
	ScopeThread = "thread"
	ScopeUser   = "user"
)

// Conversations maps a Slack thread (or user) to a Dify conversation id.
// Last write wins.
type Conversations struct {
	kv    KV
	scope string
	ttl   time.Duration
}

// NewConversations creates a mapping. A zero ttl keeps ids until deleted.
func NewConversations(kv KV, scope string, ttl time.Duration) *Conversations {
	if scope != ScopeUser {
		scope = ScopeThread
	}
	return &Conversations{kv: kv, scope: scope, ttl: ttl}
}

// Key returns the mapping key for a message, according to the scope.
func (c *Conversations) Key(channel, threadTS, user string) string {
	if c.scope == ScopeUser {
		return "conv:user:" + user
	}
	return "conv:" + channel + ":" + threadTS
}

// Get returns the stored id, or "" when there is none.
func (c *Conversations) Get(ctx context.Context, key string) (string, error) {
	id, _, err := c.kv.Get(ctx, key)
	return id, err
}

// Put stores id under key. Empty ids are ignored.
func (c *Conversations) Put(ctx context.Context, key, id string) error {
	if id == "" {
		return nil
	}
	return c.kv.Set(ctx, key, id, c.ttl)
}

// Forget drops the id stored under key.
func (c *Conversations) Forget(ctx context.Context, key string) error {
	return c.kv.Delete(ctx, key)
}
