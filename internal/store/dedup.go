package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultDedupWindow is how long a delivered event suppresses its duplicates.
const DefaultDedupWindow = time.Minute

// Dedup suppresses repeated deliveries of the same Slack event.
type Dedup struct {
	kv     KV
	window time.Duration
}

// NewDedup creates a guard whose claims expire after window.
func NewDedup(kv KV, window time.Duration) *Dedup {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Dedup{kv: kv, window: window}
}

// DedupKey identifies an event by user, timestamp and text.
func DedupKey(user, ts, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "dedup:" + user + ":" + ts + ":" + hex.EncodeToString(sum[:])[:16]
}

// Claim reports whether the caller is the first to see this event within the
// window. Later claims for the same event return false.
func (d *Dedup) Claim(ctx context.Context, user, ts, text string) (bool, error) {
	return d.kv.SetNX(ctx, DedupKey(user, ts, text), "1", d.window)
}
