package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ops-euc-admin/ops-app-repo/internal/dify"
)

type step struct {
	ev      dify.Event
	err     error
	advance time.Duration
}

// scriptedSource replays steps, moving the fake clock forward before each one.
type scriptedSource struct {
	steps []step
	now   *time.Time
}

func (s *scriptedSource) Next() (dify.Event, error) {
	if len(s.steps) == 0 {
		return dify.Event{}, io.EOF
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	*s.now = s.now.Add(st.advance)
	return st.ev, st.err
}

type recordingPublisher struct {
	updates []string
	posts   []string
	failOn  string
}

func (p *recordingPublisher) Update(ctx context.Context, text string) error {
	if p.failOn != "" && text == p.failOn {
		return errors.New("update failed")
	}
	p.updates = append(p.updates, text)
	return nil
}

func (p *recordingPublisher) Post(ctx context.Context, text string) error {
	p.posts = append(p.posts, text)
	return nil
}

func msg(answer string) dify.Event {
	return dify.Event{Event: dify.EventMessage, Answer: answer, ConversationID: "conv-1", MessageID: "m-1"}
}

func newTestRelay(now *time.Time, opts Options) *Relay {
	opts.Now = func() time.Time { return *now }
	return New(opts)
}

func TestRelay_ThrottlesInterimUpdates(t *testing.T) {
	now := time.Unix(0, 0)
	src := &scriptedSource{now: &now, steps: []step{
		{ev: msg("Hel"), advance: 100 * time.Millisecond},
		{ev: msg("lo"), advance: 100 * time.Millisecond},
		{ev: msg(" world"), advance: 2 * time.Second}, // interval elapsed
		{ev: msg(" again"), advance: 100 * time.Millisecond},
		{ev: dify.Event{Event: dify.EventMessageEnd, ConversationID: "conv-1"}},
	}}
	pub := &recordingPublisher{}

	res, err := newTestRelay(&now, Options{}).Run(context.Background(), src, pub)
	require.NoError(t, err)

	assert.Equal(t, []string{"Hello world", "Hello world again"}, pub.updates)
	assert.Empty(t, pub.posts)
	assert.Equal(t, "Hello world again", res.Answer)
	assert.Equal(t, "conv-1", res.ConversationID)
	assert.Equal(t, "m-1", res.MessageID)
	assert.Equal(t, 1, res.Chunks)
}

func TestRelay_SentenceBoundaryPushesEarly(t *testing.T) {
	now := time.Unix(0, 0)
	src := &scriptedSource{now: &now, steps: []step{
		{ev: msg("こんにちは。"), advance: 10 * time.Millisecond},
		{ev: msg("元気"), advance: 10 * time.Millisecond},
		{ev: msg("ですか？"), advance: 10 * time.Millisecond},
	}}
	pub := &recordingPublisher{}

	_, err := newTestRelay(&now, Options{}).Run(context.Background(), src, pub)
	require.NoError(t, err)

	// two boundary pushes; the final text equals the last interim, still re-sent as final
	assert.Equal(t, []string{"こんにちは。", "こんにちは。元気ですか？", "こんにちは。元気ですか？"}, pub.updates)
}

func TestRelay_SkipsUnchangedBuffer(t *testing.T) {
	now := time.Unix(0, 0)
	src := &scriptedSource{now: &now, steps: []step{
		{ev: msg("done.\n"), advance: time.Millisecond},
		{ev: msg(""), advance: 5 * time.Second},
		{ev: dify.Event{Event: dify.EventPing}, advance: 5 * time.Second},
	}}
	pub := &recordingPublisher{}

	_, err := newTestRelay(&now, Options{}).Run(context.Background(), src, pub)
	require.NoError(t, err)
	assert.Equal(t, []string{"done.", "done."}, pub.updates)
}

func TestRelay_SplitsLongFinalAnswer(t *testing.T) {
	now := time.Unix(0, 0)
	long := strings.Repeat("a", 250)
	src := &scriptedSource{now: &now, steps: []step{
		{ev: msg(long), advance: 5 * time.Second},
	}}
	pub := &recordingPublisher{}

	res, err := newTestRelay(&now, Options{MaxBytes: 100}).Run(context.Background(), src, pub)
	require.NoError(t, err)

	require.Len(t, pub.updates, 2)
	assert.Equal(t, strings.Repeat("a", 100-len(ellipsis))+ellipsis, pub.updates[0])
	assert.Equal(t, strings.Repeat("a", 100), pub.updates[1])
	assert.Equal(t, []string{strings.Repeat("a", 100), strings.Repeat("a", 50)}, pub.posts)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, long, pub.updates[1]+strings.Join(pub.posts, ""))
}

func TestRelay_MessageReplace(t *testing.T) {
	now := time.Unix(0, 0)
	src := &scriptedSource{now: &now, steps: []step{
		{ev: msg("draft")},
		{ev: dify.Event{Event: dify.EventMessageReplace, Answer: "moderated"}},
	}}
	pub := &recordingPublisher{}

	res, err := newTestRelay(&now, Options{}).Run(context.Background(), src, pub)
	require.NoError(t, err)
	assert.Equal(t, "moderated", res.Answer)
	assert.Equal(t, "moderated", pub.updates[len(pub.updates)-1])
}

func TestRelay_Thoughts(t *testing.T) {
	steps := func() []step {
		return []step{
			{ev: dify.Event{Event: dify.EventAgentThought, Thought: "search docs"}, advance: 2 * time.Second},
			{ev: dify.Event{Event: dify.EventAgentMessage, Answer: "Answer"}, advance: 2 * time.Second},
		}
	}

	t.Run("shown", func(t *testing.T) {
		now := time.Unix(0, 0)
		pub := &recordingPublisher{}
		_, err := newTestRelay(&now, Options{ShowThoughts: true}).Run(context.Background(),
			&scriptedSource{now: &now, steps: steps()}, pub)
		require.NoError(t, err)
		assert.Equal(t, []string{"> search docs", "> search docs\n\nAnswer", "Answer"}, pub.updates)
	})

	t.Run("hidden", func(t *testing.T) {
		now := time.Unix(0, 0)
		pub := &recordingPublisher{}
		_, err := newTestRelay(&now, Options{}).Run(context.Background(),
			&scriptedSource{now: &now, steps: steps()}, pub)
		require.NoError(t, err)
		assert.Equal(t, []string{"Answer", "Answer"}, pub.updates)
	})
}

func TestRelay_FormatterApplied(t *testing.T) {
	now := time.Unix(0, 0)
	src := &scriptedSource{now: &now, steps: []step{{ev: msg("**bold**")}}}
	pub := &recordingPublisher{}

	format := func(s string) string { return strings.ReplaceAll(s, "**", "*") }
	_, err := newTestRelay(&now, Options{Format: format}).Run(context.Background(), src, pub)
	require.NoError(t, err)
	assert.Equal(t, []string{"*bold*"}, pub.updates)
}

func TestRelay_EmptyAnswer(t *testing.T) {
	now := time.Unix(0, 0)
	src := &scriptedSource{now: &now, steps: []step{{ev: dify.Event{Event: dify.EventMessageEnd}}}}
	pub := &recordingPublisher{}

	res, err := newTestRelay(&now, Options{EmptyText: "no answer"}).Run(context.Background(), src, pub)
	require.NoError(t, err)
	assert.Equal(t, []string{"no answer"}, pub.updates)
	assert.Equal(t, 1, res.Chunks)
}

func TestRelay_StreamError(t *testing.T) {
	now := time.Unix(0, 0)
	streamErr := &dify.APIError{StatusCode: 500, Code: "internal", Message: "boom"}
	src := &scriptedSource{now: &now, steps: []step{
		{ev: msg("partial")},
		{err: streamErr},
	}}
	pub := &recordingPublisher{}

	res, err := newTestRelay(&now, Options{}).Run(context.Background(), src, pub)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, streamErr)
}

func TestRelay_InterimFailureIsNotFatal(t *testing.T) {
	now := time.Unix(0, 0)
	src := &scriptedSource{now: &now, steps: []step{
		{ev: msg("first.\n")},
		{ev: msg("second")},
	}}
	pub := &recordingPublisher{failOn: "first."}

	res, err := newTestRelay(&now, Options{}).Run(context.Background(), src, pub)
	require.NoError(t, err)
	assert.Equal(t, "first.\nsecond", res.Answer)
}

func TestRelay_ContextCancelled(t *testing.T) {
	now := time.Unix(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRelay(&now, Options{}).Run(ctx, &scriptedSource{now: &now, steps: []step{{ev: msg("x")}}}, &recordingPublisher{})
	assert.ErrorIs(t, err, context.Canceled)
}
