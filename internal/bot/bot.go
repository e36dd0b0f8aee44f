// Package bot answers Slack questions with a Dify chat app. It listens over
// Socket Mode, asks for a category when a question is too vague, and streams
// the answer into the thread.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/ops-euc-admin/ops-app-repo/internal/config"
	"github.com/ops-euc-admin/ops-app-repo/internal/dify"
	"github.com/ops-euc-admin/ops-app-repo/internal/metrics"
	"github.com/ops-euc-admin/ops-app-repo/internal/s3mirror"
	"github.com/ops-euc-admin/ops-app-repo/internal/store"
)

const categoryHistoryTTL = 30 * 24 * time.Hour

// message subtypes that still carry a question from a person
var handledSubtypes = map[string]bool{
	"":                 true,
	"file_share":       true,
	"thread_broadcast": true,
}

// Options configures a Bot.
type Options struct {
	API          SlackAPI
	Socket       *socketmode.Client
	Dify         dify.ChatClient
	KV           store.KV
	Profile      Profile
	UserPrefix   string
	ResponseMode string
	Mirror       s3mirror.Putter
	MirrorPrefix string
	OnReady      func(bool)
}

// Bot relays Slack questions to Dify.
type Bot struct {
	api          SlackAPI
	socket       *socketmode.Client
	dify         dify.ChatClient
	profile      Profile
	userPrefix   string
	responseMode string
	mirror       s3mirror.Putter
	mirrorPrefix string
	onReady      func(bool)

	conversations *store.Conversations
	dedup         *store.Dedup
	categories    *store.CategoryHistory
	locks         *store.KeyedMutex

	botUserID    string
	userNames    sync.Map
	channelNames sync.Map
	wg           sync.WaitGroup
}

// New creates a Bot. Socket may be nil when events are fed in directly.
func New(opts Options) (*Bot, error) {
	if opts.API == nil {
		return nil, errors.New("bot: slack api is required")
	}
	if opts.Dify == nil {
		return nil, errors.New("bot: dify client is required")
	}
	if opts.KV == nil {
		return nil, errors.New("bot: store is required")
	}
	if opts.Profile.Prompt == nil {
		opts.Profile = DefaultProfile()
	}
	if opts.ResponseMode == "" {
		opts.ResponseMode = dify.ResponseModeStreaming
	}

	return &Bot{
		api:           opts.API,
		socket:        opts.Socket,
		dify:          opts.Dify,
		profile:       opts.Profile,
		userPrefix:    opts.UserPrefix,
		responseMode:  opts.ResponseMode,
		mirror:        opts.Mirror,
		mirrorPrefix:  opts.MirrorPrefix,
		onReady:       opts.OnReady,
		conversations: store.NewConversations(opts.KV, opts.Profile.Scope, opts.Profile.ConversationTTL),
		dedup:         store.NewDedup(opts.KV, opts.Profile.DedupWindow),
		categories:    store.NewCategoryHistory(opts.KV, store.DefaultHistorySize, categoryHistoryTTL),
		locks:         store.NewKeyedMutex(),
	}, nil
}

// Connect creates the Web API and Socket Mode clients for cfg.
func Connect(cfg config.SlackConfig) (*slack.Client, *socketmode.Client) {
	api := slack.New(
		cfg.BotToken,
		slack.OptionAppLevelToken(cfg.AppToken),
		slack.OptionDebug(cfg.Debug),
	)
	return api, socketmode.New(api, socketmode.OptionDebug(cfg.Debug))
}

// Run identifies the bot user, then handles Socket Mode events until ctx is
// done. In-flight handlers are waited for before it returns.
func (b *Bot) Run(ctx context.Context) error {
	if b.socket == nil {
		return errors.New("bot: socket mode client is not configured")
	}

	auth, err := b.api.AuthTest(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test failed: %w", err)
	}
	b.botUserID = auth.UserID
	logrus.Infof("Running as %s (%s) in %s with profile %q", auth.User, auth.UserID, auth.Team, b.profile.Name)

	go b.loop(ctx)

	err = b.socket.RunContext(ctx)
	b.wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *Bot) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socket.Events:
			if !ok {
				return
			}
			b.dispatch(ctx, evt)
		}
	}
}

func (b *Bot) setReady(ready bool) {
	if b.onReady != nil {
		b.onReady(ready)
	}
}

func (b *Bot) dispatch(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		logrus.Info("Connecting to Slack with Socket Mode...")
	case socketmode.EventTypeConnectionError:
		logrus.Warn("Socket Mode connection failed, retrying")
		b.setReady(false)
	case socketmode.EventTypeConnected:
		logrus.Info("Connected to Slack with Socket Mode")
		b.setReady(true)
	case socketmode.EventTypeEventsAPI:
		if evt.Request == nil {
			return
		}
		b.socket.Ack(*evt.Request)

		eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || eventsAPI.Type != slackevents.CallbackEvent {
			return
		}
		var source string
		switch eventsAPI.InnerEvent.Data.(type) {
		case *slackevents.AppMentionEvent:
			source = TriggerMention
		case *slackevents.MessageEvent:
			source = TriggerDM
		default:
			return
		}
		msg, err := decodeMessage(evt.Request.Payload)
		if err != nil {
			logrus.Warnf("Ignoring %s event: %v", eventsAPI.InnerEvent.Type, err)
			return
		}
		b.spawn(ctx, func(ctx context.Context) { b.handleMessage(ctx, source, msg) })
	case socketmode.EventTypeInteractive:
		if evt.Request == nil {
			return
		}
		b.socket.Ack(*evt.Request)

		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		b.spawn(ctx, func(ctx context.Context) { b.handleInteraction(ctx, callback) })
	}
}

func (b *Bot) spawn(ctx context.Context, fn func(context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logrus.Errorf("Handler panicked: %v", r)
			}
		}()
		fn(ctx)
	}()
}

// slackMessage is the part of a message or app_mention event the bot reads.
type slackMessage struct {
	Type        string `json:"type"`
	User        string `json:"user"`
	Text        string `json:"text"`
	TS          string `json:"ts"`
	ThreadTS    string `json:"thread_ts"`
	Channel     string `json:"channel"`
	ChannelType string `json:"channel_type"`
	SubType     string `json:"subtype"`
	BotID       string `json:"bot_id"`
	Hidden      bool   `json:"hidden"`
	Edited      *struct {
		User string `json:"user"`
		TS   string `json:"ts"`
	} `json:"edited"`
	Files []struct {
		ID string `json:"id"`
	} `json:"files"`
}

func decodeMessage(payload json.RawMessage) (slackMessage, error) {
	var callback struct {
		Event slackMessage `json:"event"`
	}
	if err := json.Unmarshal(payload, &callback); err != nil {
		return slackMessage{}, fmt.Errorf("decode event: %w", err)
	}
	return callback.Event, nil
}

func (m slackMessage) fileIDs() []string {
	ids := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		if f.ID != "" {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

func (m slackMessage) threadRoot() string {
	if m.ThreadTS != "" {
		return m.ThreadTS
	}
	return m.TS
}

func (b *Bot) shouldHandle(source string, m slackMessage) bool {
	switch {
	case m.BotID != "", m.User == "", m.User == b.botUserID:
		return false
	case m.Edited != nil, m.Hidden, !handledSubtypes[m.SubType]:
		return false
	case source == TriggerDM && m.ChannelType != "im":
		// channel mentions arrive again as app_mention
		return false
	}
	return b.profile.Accepts(source)
}

// question is one request to Dify on behalf of a Slack user.
type question struct {
	id       string
	channel  string
	threadTS string
	user     string
	text     string
	files    []string
}

func (q question) logger() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"correlation_id": q.id,
		"channel":        q.channel,
		"thread_ts":      q.threadTS,
		"user":           q.user,
	})
}

func (b *Bot) handleMessage(ctx context.Context, source string, m slackMessage) {
	if !b.shouldHandle(source, m) {
		return
	}

	fresh, err := b.dedup.Claim(ctx, m.User, m.TS, m.Text)
	if err != nil {
		logrus.Warnf("Duplicate check failed for %s/%s, handling anyway: %v", m.Channel, m.TS, err)
	} else if !fresh {
		metrics.DedupSuppressed.Inc()
		logrus.Debugf("Dropping duplicate delivery of %s/%s", m.Channel, m.TS)
		return
	}

	q := question{
		id:       uuid.NewString(),
		channel:  m.Channel,
		threadTS: m.threadRoot(),
		user:     m.User,
		text:     stripMention(m.Text, b.botUserID),
		files:    m.fileIDs(),
	}

	if b.profile.IsAmbiguous(q.text) {
		b.askCategory(ctx, q)
		return
	}
	b.ask(ctx, q)
}

func (b *Bot) askCategory(ctx context.Context, q question) {
	log := q.logger()

	blocks, err := categoryForm(b.profile.Categories, q.text, q.threadTS, q.files)
	if err != nil {
		log.Errorf("Failed to build category form: %v", err)
		metrics.RelayRequests.WithLabelValues("failed").Inc()
		if _, err := b.api.PostMessage(ctx, q.channel, q.threadTS, b.profile.ApologyText); err != nil {
			log.Errorf("Failed to post apology: %v", err)
		}
		return
	}
	if _, err := b.api.PostMessage(ctx, q.channel, q.threadTS, formHeading, blocks...); err != nil {
		log.Errorf("Failed to post category form: %v", err)
		metrics.RelayRequests.WithLabelValues("failed").Inc()
		return
	}
	metrics.RelayRequests.WithLabelValues("form").Inc()
	log.Debug("Asked for a category")
}

func (b *Bot) handleInteraction(ctx context.Context, cb slack.InteractionCallback) {
	if cb.Type != slack.InteractionTypeBlockActions {
		return
	}
	for _, action := range cb.ActionCallback.BlockActions {
		if action.BlockID != categoryBlockID || !strings.HasPrefix(action.ActionID, categoryActionPrefix) {
			continue
		}
		state, err := decodeFormState(action.Value)
		if err != nil {
			logrus.Warnf("Ignoring category pick from %s: %v", cb.User.ID, err)
			continue
		}
		b.handleCategory(ctx, cb.Channel.ID, cb.User.ID, cb.Message.Timestamp, state)
		return
	}
}

// handleCategory answers a pick on the category form posted as formTS.
func (b *Bot) handleCategory(ctx context.Context, channel, user, formTS string, state formState) {
	q := question{
		id:       uuid.NewString(),
		channel:  channel,
		threadTS: state.ThreadTS,
		user:     user,
		files:    state.Files,
	}
	log := q.logger()

	history, err := b.categories.Record(ctx, user, state.Category)
	if err != nil {
		log.Warnf("Failed to record category history: %v", err)
		history = []string{state.Category}
	}

	q.text, err = b.profile.BuildPrompt(state.Category, history, state.Text)
	if err != nil {
		log.Errorf("Failed to build prompt: %v", err)
		b.apologize(ctx, q, nil)
		metrics.RelayRequests.WithLabelValues("failed").Inc()
		return
	}

	if formTS != "" {
		if err := b.api.UpdateMessage(ctx, channel, formTS, confirmationText(state.Category), confirmationBlocks(state.Category)...); err != nil {
			log.Warnf("Failed to replace category form: %v", err)
		}
	}
	b.ask(ctx, q)
}

// ask relays q to Dify and streams the answer into the thread.
func (b *Bot) ask(ctx context.Context, q question) {
	log := q.logger()
	key := b.conversations.Key(q.channel, q.threadTS, q.user)

	unlock := b.locks.Lock(key)
	defer unlock()

	start := time.Now()
	pub, err := b.answer(ctx, q, key)
	metrics.StreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RelayRequests.WithLabelValues("failed").Inc()
		log.Errorf("Failed to answer question: %v", err)
		b.apologize(ctx, q, pub)
		return
	}
	metrics.RelayRequests.WithLabelValues("answered").Inc()
	log.Infof("Answered in %v (%d updates)", time.Since(start).Round(time.Millisecond), pub.updates)
}

func (b *Bot) answer(ctx context.Context, q question, key string) (*threadPublisher, error) {
	log := q.logger()
	files := b.attachFiles(ctx, q)

	ts, err := b.api.PostMessage(ctx, q.channel, q.threadTS, b.profile.PlaceholderText)
	if err != nil {
		return nil, fmt.Errorf("post placeholder: %w", err)
	}
	pub := &threadPublisher{api: b.api, channel: q.channel, threadTS: q.threadTS, ts: ts}

	convID, err := b.conversations.Get(ctx, key)
	if err != nil {
		log.Warnf("Failed to load conversation, starting a new one: %v", err)
		convID = ""
	}

	res, err := b.relayAnswer(ctx, q, convID, files, pub)
	if err != nil && convID != "" && dify.IsConversationNotFound(err) {
		log.Infof("Conversation %s no longer exists, starting a new one", convID)
		if err := b.conversations.Forget(ctx, key); err != nil {
			log.Warnf("Failed to forget conversation: %v", err)
		}
		convID = ""
		res, err = b.relayAnswer(ctx, q, "", files, pub)
	}
	if err != nil {
		return pub, err
	}

	if res.ConversationID != "" && res.ConversationID != convID {
		if err := b.conversations.Put(ctx, key, res.ConversationID); err != nil {
			log.Warnf("Failed to store conversation %s: %v", res.ConversationID, err)
		}
	}
	return pub, nil
}

// apologize tells the user the question failed. A placeholder that never
// showed any answer is removed first.
func (b *Bot) apologize(ctx context.Context, q question, pub *threadPublisher) {
	log := q.logger()
	if pub != nil && pub.updates == 0 {
		if err := b.api.DeleteMessage(ctx, q.channel, pub.ts); err != nil {
			log.Warnf("Failed to delete placeholder: %v", err)
		}
	}
	if _, err := b.api.PostMessage(ctx, q.channel, q.threadTS, b.profile.ApologyText); err != nil {
		log.Errorf("Failed to post apology: %v", err)
	}
}
