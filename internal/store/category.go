package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultHistorySize is the number of categories remembered per user.
const DefaultHistorySize = 3

// CategoryHistory remembers the categories a user picked most recently.
// Entries are unique; picking a category again moves it to the end, and only
// the newest entries are kept.
type CategoryHistory struct {
	kv   KV
	max  int
	ttl  time.Duration
	lock *KeyedMutex
}

// NewCategoryHistory creates a history of at most max entries per user.
func NewCategoryHistory(kv KV, max int, ttl time.Duration) *CategoryHistory {
	if max <= 0 {
		max = DefaultHistorySize
	}
	return &CategoryHistory{kv: kv, max: max, ttl: ttl, lock: NewKeyedMutex()}
}

func historyKey(user string) string {
	return "category:" + user
}

// History returns the stored categories, oldest first.
func (h *CategoryHistory) History(ctx context.Context, user string) ([]string, error) {
	raw, ok, err := h.kv.Get(ctx, historyKey(user))
	if err != nil || !ok {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decode category history for %s: %w", user, err)
	}
	return list, nil
}

// Record appends category to the user's history and returns the new history.
func (h *CategoryHistory) Record(ctx context.Context, user, category string) ([]string, error) {
	unlock := h.lock.Lock(user)
	defer unlock()

	list, err := h.History(ctx, user)
	if err != nil {
		return nil, err
	}

	next := make([]string, 0, len(list)+1)
	for _, c := range list {
		if c != category {
			next = append(next, c)
		}
	}
	next = append(next, category)
	if len(next) > h.max {
		next = next[len(next)-h.max:]
	}

	data, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	if err := h.kv.Set(ctx, historyKey(user), string(data), h.ttl); err != nil {
		return nil, err
	}
	return next, nil
}
