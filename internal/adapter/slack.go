package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ops-euc-admin/ops-app-repo/internal/config"
	"github.com/ops-euc-admin/ops-app-repo/internal/csvdoc"
	"github.com/ops-euc-admin/ops-app-repo/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

const slackPageLimit = 200

// SlackHistoryClient is the part of the Slack Web API the exporter needs.
// *slack.Client satisfies it.
type SlackHistoryClient interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	JoinConversationContext(ctx context.Context, channelID string) (*slack.Channel, string, []string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	GetUsersContext(ctx context.Context, options ...slack.GetUsersOption) ([]slack.User, error)
}

// SlackAdapter exports Slack channels as Dify-ready CSV documents
type SlackAdapter struct {
	client       SlackHistoryClient
	channels     []config.SlackChannelMapping
	chunkBytes   int
	messageLimit int
	retry        utils.RetryConfig
	lastSync     time.Time

	teamURL string
	users   map[string]string
}

// NewSlackAdapter creates a Slack exporter for the configured channels
func NewSlackAdapter(client SlackHistoryClient, cfg config.KnowledgeConfig) *SlackAdapter {
	limit := cfg.MessageLimit
	if limit <= 0 {
		limit = 1000
	}
	return &SlackAdapter{
		client:       client,
		channels:     cfg.SlackChannels,
		chunkBytes:   cfg.ChunkBytes,
		messageLimit: limit,
		retry:        utils.SlackRetryConfig(),
	}
}

// Name returns the adapter name
func (s *SlackAdapter) Name() string {
	return "slack"
}

// FetchFiles exports every configured channel, flattens threads into
// parent/child rows and chunks them into upload-sized CSV parts.
func (s *SlackAdapter) FetchFiles(ctx context.Context) ([]*File, error) {
	var files []*File
	var failures []MappingFailure
	now := time.Now()

	for i, mapping := range s.channels {
		logrus.Infof("Exporting channel %d/%d: %s (%s)", i+1, len(s.channels), mapping.ChannelName, mapping.ChannelID)

		// Without a configured name the part names are not known up front,
		// so a failure keeps every slack document of the dataset.
		failure := MappingFailure{DatasetID: mapping.DatasetID}
		if mapping.ChannelName != "" {
			failure.Base = sanitizeChannelName(mapping.ChannelName)
		}

		records, err := s.ExportChannel(ctx, mapping.ChannelID, false)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logrus.Errorf("Failed to export channel %s: %v", mapping.ChannelID, err)
			failure.Err = fmt.Errorf("channel %s: %w", mapping.ChannelID, err)
			failures = append(failures, failure)
			continue
		}

		rows, orphans := csvdoc.ToDifyRows(records)
		if orphans > 0 {
			logrus.Warnf("Dropped %d replies without a parent in channel %s", orphans, mapping.ChannelID)
		}
		if len(rows) == 0 {
			logrus.Warnf("No messages found in channel %s (%s)", mapping.ChannelName, mapping.ChannelID)
			continue
		}

		name := mapping.ChannelName
		if name == "" {
			name = s.channelName(ctx, mapping.ChannelID)
		}
		parts, err := tableFiles(csvdoc.DifyTable(rows), sanitizeChannelName(name), s.Name(), mapping.DatasetID, s.chunkBytes, now)
		if err != nil {
			logrus.Errorf("Failed to build documents for channel %s: %v", mapping.ChannelID, err)
			failure.Err = fmt.Errorf("channel %s: %w", mapping.ChannelID, err)
			failures = append(failures, failure)
			continue
		}
		files = append(files, parts...)
		logrus.Debugf("Channel %s produced %d rows in %d parts", mapping.ChannelID, len(rows), len(parts))
	}

	s.lastSync = now
	logrus.Infof("Fetched %d files from %d Slack channels", len(files), len(s.channels))
	return files, partial(s.Name(), failures)
}

// ExportChannel returns the channel's messages and thread replies, oldest
// first. raw_data is filled only when withRaw is set.
func (s *SlackAdapter) ExportChannel(ctx context.Context, channelID string, withRaw bool) ([]csvdoc.SlackRecord, error) {
	if err := s.ensureWorkspace(ctx); err != nil {
		return nil, err
	}

	messages, err := s.history(ctx, channelID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(messages))
	var records []csvdoc.SlackRecord
	add := func(msg slack.Msg) {
		if seen[msg.Timestamp] {
			return
		}
		seen[msg.Timestamp] = true
		records = append(records, s.record(channelID, msg, withRaw))
	}

	for _, msg := range messages {
		add(msg.Msg)

		isReply := msg.ThreadTimestamp != "" && msg.ThreadTimestamp != msg.Timestamp
		if isReply || msg.ReplyCount == 0 {
			continue
		}
		replies, err := s.replies(ctx, channelID, msg.Timestamp)
		if err != nil {
			logrus.Warnf("Failed to fetch thread replies for message %s: %v", msg.Timestamp, err)
			continue
		}
		for _, reply := range replies {
			add(reply.Msg)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return tsValue(records[i].TS) < tsValue(records[j].TS)
	})
	logrus.Infof("Exported %d messages from channel %s", len(records), channelID)
	return records, nil
}

// history pages conversations.history until the cursor runs out or the
// message limit is reached.
func (s *SlackAdapter) history(ctx context.Context, channelID string) ([]slack.Message, error) {
	var (
		all    []slack.Message
		cursor string
		joined bool
	)
	for page := 1; ; page++ {
		params := slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Limit:     slackPageLimit,
			Cursor:    cursor,
		}

		var resp *slack.GetConversationHistoryResponse
		err := utils.RetryWithBackoff(ctx, s.retry, func() error {
			var err error
			resp, err = s.client.GetConversationHistoryContext(ctx, &params)
			return err
		})
		if err != nil && !joined && isNotInChannel(err) {
			joined = true
			if _, _, _, joinErr := s.client.JoinConversationContext(ctx, channelID); joinErr != nil {
				return nil, fmt.Errorf("join channel %s: %w", channelID, joinErr)
			}
			logrus.Infof("Joined channel %s", channelID)
			page--
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get conversation history: %w", err)
		}

		logrus.Debugf("History page %d for %s: %d messages, has_more=%v", page, channelID, len(resp.Messages), resp.HasMore)
		all = append(all, resp.Messages...)

		if len(all) >= s.messageLimit {
			logrus.Infof("Reached message limit (%d) for channel %s", s.messageLimit, channelID)
			return all[:s.messageLimit], nil
		}
		cursor = resp.ResponseMetaData.NextCursor
		if cursor == "" || len(resp.Messages) == 0 {
			return all, nil
		}
	}
}

// replies returns the thread's replies without the parent message.
func (s *SlackAdapter) replies(ctx context.Context, channelID, threadTS string) ([]slack.Message, error) {
	var (
		all    []slack.Message
		cursor string
	)
	for {
		params := slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadTS,
			Limit:     slackPageLimit,
			Cursor:    cursor,
		}

		var (
			msgs    []slack.Message
			hasMore bool
			next    string
		)
		err := utils.RetryWithBackoff(ctx, s.retry, func() error {
			var err error
			msgs, hasMore, next, err = s.client.GetConversationRepliesContext(ctx, &params)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get conversation replies: %w", err)
		}

		for _, m := range msgs {
			if m.Timestamp == threadTS {
				continue
			}
			all = append(all, m)
		}
		if !hasMore || next == "" {
			return all, nil
		}
		cursor = next
	}
}

func (s *SlackAdapter) record(channelID string, msg slack.Msg, withRaw bool) csvdoc.SlackRecord {
	threadTS := msg.ThreadTimestamp
	if threadTS == "" {
		threadTS = msg.Timestamp
	}
	rec := csvdoc.SlackRecord{
		User:      s.userName(msg),
		Text:      msg.Text,
		TS:        msg.Timestamp,
		ThreadTS:  msg.ThreadTimestamp,
		ThreadURL: s.permalink(channelID, threadTS),
		Source:    "slack",
	}
	if withRaw {
		if raw, err := json.Marshal(msg); err == nil {
			rec.RawData = string(raw)
		}
	}
	return rec
}

func (s *SlackAdapter) userName(msg slack.Msg) string {
	if name, ok := s.users[msg.User]; ok {
		return name
	}
	if msg.User == "" && msg.Username != "" {
		return msg.Username
	}
	return msg.User
}

func (s *SlackAdapter) permalink(channelID, ts string) string {
	if s.teamURL == "" {
		return ""
	}
	return fmt.Sprintf("%sarchives/%s/p%s", s.teamURL, channelID, strings.ReplaceAll(ts, ".", ""))
}

// ensureWorkspace loads the team URL and user directory once per adapter.
func (s *SlackAdapter) ensureWorkspace(ctx context.Context) error {
	if s.users != nil {
		return nil
	}

	auth, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to authenticate with Slack: %w", err)
	}
	s.teamURL = auth.URL
	if s.teamURL != "" && !strings.HasSuffix(s.teamURL, "/") {
		s.teamURL += "/"
	}

	var users []slack.User
	err = utils.RetryWithBackoff(ctx, s.retry, func() error {
		var err error
		users, err = s.client.GetUsersContext(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	s.users = make(map[string]string, len(users))
	for _, u := range users {
		name := u.RealName
		if name == "" {
			name = u.Name
		}
		s.users[u.ID] = name
	}
	logrus.Debugf("Cached %d Slack users", len(s.users))
	return nil
}

func (s *SlackAdapter) channelName(ctx context.Context, channelID string) string {
	ch, err := s.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil || ch == nil || ch.Name == "" {
		return channelID
	}
	return ch.Name
}

// GetLastSync returns the last sync time
func (s *SlackAdapter) GetLastSync() time.Time {
	return s.lastSync
}

// SetLastSync updates the last sync time
func (s *SlackAdapter) SetLastSync(t time.Time) {
	s.lastSync = t
}

func isNotInChannel(err error) bool {
	return strings.Contains(err.Error(), "not_in_channel")
}

func tsValue(ts string) float64 {
	v, _ := strconv.ParseFloat(ts, 64)
	return v
}

// sanitizeChannelName sanitizes channel name for use in filenames
func sanitizeChannelName(name string) string {
	name = strings.TrimPrefix(name, "#")
	name = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':', '*', '?', '"', '<', '>', '|', '@', '#':
			return '_'
		}
		return r
	}, name)
	return strings.TrimRight(name, "_")
}
