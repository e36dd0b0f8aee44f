// Package relay turns a streamed Dify answer into a series of Slack message
// edits followed by the final, possibly multi-message, answer.
package relay

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ops-euc-admin/ops-app-repo/internal/dify"
)

const (
	// DefaultUpdateInterval is the minimum time between two interim edits
	// unless a sentence boundary arrives first.
	DefaultUpdateInterval = 1500 * time.Millisecond

	// DefaultMaxBytes keeps each Slack message under the text size limit.
	DefaultMaxBytes = 3900

	ellipsis = "…"
)

// sentence boundaries that trigger an early interim edit
const boundaries = "。！？!?\n"

// EventSource yields stream events until io.EOF.
type EventSource interface {
	Next() (dify.Event, error)
}

// Publisher writes into the Slack thread that holds the placeholder.
type Publisher interface {
	// Update replaces the text of the placeholder message.
	Update(ctx context.Context, text string) error
	// Post adds a new message to the thread.
	Post(ctx context.Context, text string) error
}

// Formatter renders accumulated answer text for Slack.
type Formatter func(string) string

// Options configures a Relay.
type Options struct {
	UpdateInterval time.Duration
	MaxBytes       int
	ShowThoughts   bool
	Format         Formatter
	EmptyText      string
	Now            func() time.Time
}

// Result is what a completed relay produced.
type Result struct {
	Answer         string
	ConversationID string
	MessageID      string
	Chunks         int
}

// Relay accumulates answer deltas and pushes them to a Publisher.
type Relay struct {
	opts Options
}

// New creates a Relay, filling unset options with defaults.
func New(opts Options) *Relay {
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = DefaultUpdateInterval
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Format == nil {
		opts.Format = func(s string) string { return s }
	}
	if opts.EmptyText == "" {
		opts.EmptyText = "（回答がありませんでした）"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Relay{opts: opts}
}

// Run reads src to the end. Interim edits that fail are logged and skipped;
// a failing final edit or post is returned. Stream errors are returned as is
// so the caller can apologise in the thread.
func (r *Relay) Run(ctx context.Context, src EventSource, pub Publisher) (*Result, error) {
	var (
		buf        strings.Builder
		thought    string
		lastPushed string
		lastPush   = r.opts.Now()
		res        = &Result{}
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ev, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if ev.ConversationID != "" {
			res.ConversationID = ev.ConversationID
		}
		if ev.MessageID != "" {
			res.MessageID = ev.MessageID
		}

		var delta string
		switch ev.Event {
		case dify.EventMessage, dify.EventAgentMessage:
			buf.WriteString(ev.Answer)
			delta = ev.Answer
		case dify.EventMessageReplace:
			buf.Reset()
			buf.WriteString(ev.Answer)
			delta = ev.Answer
		case dify.EventAgentThought:
			if !r.opts.ShowThoughts || ev.Thought == "" {
				continue
			}
			thought = ev.Thought
			delta = "\n"
		case dify.EventMessageEnd:
			continue
		default:
			continue
		}

		now := r.opts.Now()
		if now.Sub(lastPush) < r.opts.UpdateInterval && !endsWithBoundary(delta) {
			continue
		}

		text := r.interim(buf.String(), thought)
		if text == "" || text == lastPushed {
			continue
		}
		if err := pub.Update(ctx, text); err != nil {
			logrus.Warnf("Interim update failed: %v", err)
			continue
		}
		lastPushed = text
		lastPush = now
	}

	res.Answer = buf.String()

	final := strings.TrimSpace(r.opts.Format(res.Answer))
	if final == "" {
		final = r.opts.EmptyText
	}
	chunks := SplitByBytes(final, r.opts.MaxBytes)
	res.Chunks = len(chunks)

	if err := pub.Update(ctx, chunks[0]); err != nil {
		return res, err
	}
	for _, c := range chunks[1:] {
		if err := pub.Post(ctx, c); err != nil {
			return res, err
		}
	}
	return res, nil
}

// interim renders the in-progress view: the quoted latest thought (if any)
// and the first chunk of the answer so far.
func (r *Relay) interim(answer, thought string) string {
	var b strings.Builder
	budget := r.opts.MaxBytes - len(ellipsis)

	if thought != "" {
		for _, line := range strings.Split(strings.TrimSpace(thought), "\n") {
			b.WriteString("> ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	quoted := b.Len()
	if quoted >= budget {
		return SplitByBytes(b.String(), budget)[0] + ellipsis
	}

	body := strings.TrimSpace(r.opts.Format(answer))
	if body == "" {
		return strings.TrimSpace(b.String())
	}
	chunks := SplitByBytes(body, budget-quoted)
	b.WriteString(chunks[0])
	if len(chunks) > 1 {
		b.WriteString(ellipsis)
	}
	return b.String()
}

func endsWithBoundary(s string) bool {
	if s == "" {
		return false
	}
	for _, b := range boundaries {
		if strings.HasSuffix(s, string(b)) {
			return true
		}
	}
	return false
}
