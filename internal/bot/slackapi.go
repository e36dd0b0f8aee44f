package bot

import (
	"context"
	"io"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/ops-euc-admin/ops-app-repo/internal/utils"
)

// DefaultRequestsPerSecond throttles Web API calls made by the bot. Slack's
// chat.update tier allows roughly one call per second per channel with short
// bursts.
const DefaultRequestsPerSecond = 3

// SlackAPI is the part of the Slack Web API the bot talks to.
type SlackAPI interface {
	AuthTest(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessage(ctx context.Context, channel, threadTS, text string, blocks ...slack.Block) (string, error)
	UpdateMessage(ctx context.Context, channel, ts, text string, blocks ...slack.Block) error
	PostEphemeral(ctx context.Context, channel, user, threadTS, text string) error
	DeleteMessage(ctx context.Context, channel, ts string) error
	FileInfo(ctx context.Context, fileID string) (*slack.File, error)
	DownloadFile(ctx context.Context, url string, w io.Writer) error
	UserInfo(ctx context.Context, userID string) (*slack.User, error)
	ChannelInfo(ctx context.Context, channelID string) (*slack.Channel, error)
	InviteUsers(ctx context.Context, channelID string, users ...string) error
}

// WebAPI is satisfied by *slack.Client.
type WebAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
	DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error)
	GetFileInfoContext(ctx context.Context, fileID string, count, page int) (*slack.File, []slack.Comment, *slack.Paging, error)
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	InviteUsersToConversationContext(ctx context.Context, channelID string, users ...string) (*slack.Channel, error)
}

// SlackClient throttles every call and retries the ones Slack rate limits.
type SlackClient struct {
	api     WebAPI
	limiter *rate.Limiter
	retry   utils.RetryConfig
}

var _ SlackAPI = (*SlackClient)(nil)

// NewSlackClient wraps api. A non-positive rps uses DefaultRequestsPerSecond.
func NewSlackClient(api WebAPI, rps float64) *SlackClient {
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	return &SlackClient{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		retry:   utils.SlackRetryConfig(),
	}
}

func (c *SlackClient) call(ctx context.Context, op func() error) error {
	return utils.RetryWithBackoff(ctx, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return op()
	})
}

func messageOptions(threadTS, text string, blocks []slack.Block) []slack.MsgOption {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	return opts
}

func (c *SlackClient) AuthTest(ctx context.Context) (*slack.AuthTestResponse, error) {
	var resp *slack.AuthTestResponse
	err := c.call(ctx, func() error {
		var err error
		resp, err = c.api.AuthTestContext(ctx)
		return err
	})
	return resp, err
}

// PostMessage posts text (and optional blocks) and returns the message ts.
func (c *SlackClient) PostMessage(ctx context.Context, channel, threadTS, text string, blocks ...slack.Block) (string, error) {
	var ts string
	err := c.call(ctx, func() error {
		var err error
		_, ts, err = c.api.PostMessageContext(ctx, channel, messageOptions(threadTS, text, blocks)...)
		return err
	})
	return ts, err
}

func (c *SlackClient) UpdateMessage(ctx context.Context, channel, ts, text string, blocks ...slack.Block) error {
	return c.call(ctx, func() error {
		_, _, _, err := c.api.UpdateMessageContext(ctx, channel, ts, messageOptions("", text, blocks)...)
		return err
	})
}

func (c *SlackClient) PostEphemeral(ctx context.Context, channel, user, threadTS, text string) error {
	return c.call(ctx, func() error {
		_, err := c.api.PostEphemeralContext(ctx, channel, user, messageOptions(threadTS, text, nil)...)
		return err
	})
}

func (c *SlackClient) DeleteMessage(ctx context.Context, channel, ts string) error {
	return c.call(ctx, func() error {
		_, _, err := c.api.DeleteMessageContext(ctx, channel, ts)
		return err
	})
}

func (c *SlackClient) FileInfo(ctx context.Context, fileID string) (*slack.File, error) {
	var file *slack.File
	err := c.call(ctx, func() error {
		var err error
		file, _, _, err = c.api.GetFileInfoContext(ctx, fileID, 0, 0)
		return err
	})
	return file, err
}

// DownloadFile fetches a url_private(_download) link with the bot token.
// It is not retried because w may already hold part of the body.
func (c *SlackClient) DownloadFile(ctx context.Context, url string, w io.Writer) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.api.GetFileContext(ctx, url, w)
}

func (c *SlackClient) UserInfo(ctx context.Context, userID string) (*slack.User, error) {
	var user *slack.User
	err := c.call(ctx, func() error {
		var err error
		user, err = c.api.GetUserInfoContext(ctx, userID)
		return err
	})
	return user, err
}

func (c *SlackClient) ChannelInfo(ctx context.Context, channelID string) (*slack.Channel, error) {
	var ch *slack.Channel
	err := c.call(ctx, func() error {
		var err error
		ch, err = c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
		return err
	})
	return ch, err
}

// InviteUsers adds users to a channel the bot is a member of.
func (c *SlackClient) InviteUsers(ctx context.Context, channelID string, users ...string) error {
	return c.call(ctx, func() error {
		_, err := c.api.InviteUsersToConversationContext(ctx, channelID, users...)
		return err
	})
}
