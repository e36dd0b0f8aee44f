package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ops-euc-admin/ops-app-repo/internal/dify"
	"github.com/ops-euc-admin/ops-app-repo/internal/metrics"
	"github.com/ops-euc-admin/ops-app-repo/internal/mrkdwn"
	"github.com/ops-euc-admin/ops-app-repo/internal/relay"
	"github.com/ops-euc-admin/ops-app-repo/internal/s3mirror"
)

var errUnsupportedFile = errors.New("only images can be attached")

// threadPublisher edits the placeholder and posts overflow into its thread.
type threadPublisher struct {
	api      SlackAPI
	channel  string
	threadTS string
	ts       string
	updates  int
}

func (p *threadPublisher) Update(ctx context.Context, text string) error {
	if err := p.api.UpdateMessage(ctx, p.channel, p.ts, text); err != nil {
		return err
	}
	p.updates++
	metrics.SlackUpdates.Inc()
	return nil
}

func (p *threadPublisher) Post(ctx context.Context, text string) error {
	_, err := p.api.PostMessage(ctx, p.channel, p.threadTS, text)
	return err
}

// answerSource replays a blocking answer as a single stream event.
type answerSource struct {
	events []dify.Event
}

func (s *answerSource) Next() (dify.Event, error) {
	if len(s.events) == 0 {
		return dify.Event{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (b *Bot) relayAnswer(ctx context.Context, q question, convID string, files []dify.FileRef, pub *threadPublisher) (*relay.Result, error) {
	req := dify.ChatRequest{
		Inputs:         b.inputs(ctx, q),
		Query:          q.text,
		ConversationID: convID,
		User:           b.userPrefix + q.user,
		Files:          files,
	}

	r := relay.New(relay.Options{
		UpdateInterval: b.profile.UpdateInterval,
		MaxBytes:       b.profile.MaxMessageBytes,
		ShowThoughts:   b.profile.ShowThoughts,
		Format:         mrkdwn.Format,
	})

	if b.responseMode == dify.ResponseModeBlocking {
		resp, err := b.dify.ChatBlocking(ctx, req)
		if err != nil {
			return nil, err
		}
		src := &answerSource{events: []dify.Event{{
			Event:          dify.EventMessage,
			Answer:         resp.Answer,
			ConversationID: resp.ConversationID,
			MessageID:      resp.MessageID,
		}}}
		return r.Run(ctx, src, pub)
	}

	stream, err := b.dify.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return r.Run(ctx, stream, pub)
}

// inputs passes who is asking and where to the Dify app.
func (b *Bot) inputs(ctx context.Context, q question) map[string]interface{} {
	in := map[string]interface{}{}
	if name := b.userName(ctx, q.user); name != "" {
		in["user_name"] = name
	}
	if name := b.channelName(ctx, q.channel); name != "" {
		in["channel_name"] = name
	}
	return in
}

func (b *Bot) userName(ctx context.Context, userID string) string {
	if v, ok := b.userNames.Load(userID); ok {
		return v.(string)
	}
	user, err := b.api.UserInfo(ctx, userID)
	if err != nil {
		q := question{user: userID}
		q.logger().Debugf("Failed to look up user: %v", err)
		return ""
	}
	name := user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = user.Name
	}
	b.userNames.Store(userID, name)
	return name
}

func (b *Bot) channelName(ctx context.Context, channelID string) string {
	if v, ok := b.channelNames.Load(channelID); ok {
		return v.(string)
	}
	ch, err := b.api.ChannelInfo(ctx, channelID)
	if err != nil {
		q := question{channel: channelID}
		q.logger().Debugf("Failed to look up channel: %v", err)
		return ""
	}
	b.channelNames.Store(channelID, ch.Name)
	return ch.Name
}

// attachFiles uploads the images shared with q to Dify. Files that cannot be
// used are reported to the user privately and skipped.
func (b *Bot) attachFiles(ctx context.Context, q question) []dify.FileRef {
	if !b.profile.FileUpload || len(q.files) == 0 {
		return nil
	}
	log := q.logger()

	var refs []dify.FileRef
	for _, id := range q.files {
		name, ref, err := b.attachFile(ctx, q, id)
		if err != nil {
			log.Warnf("Skipping file %s: %v", id, err)
			if name == "" {
				name = id
			}
			notice := fmt.Sprintf("添付ファイル「%s」は読み込めませんでした（%v）。", name, err)
			if err := b.api.PostEphemeral(ctx, q.channel, q.user, q.threadTS, notice); err != nil {
				log.Warnf("Failed to send file notice: %v", err)
			}
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

func (b *Bot) attachFile(ctx context.Context, q question, fileID string) (string, dify.FileRef, error) {
	info, err := b.api.FileInfo(ctx, fileID)
	if err != nil {
		return "", dify.FileRef{}, fmt.Errorf("files.info: %w", err)
	}
	if !strings.HasPrefix(info.Mimetype, "image/") {
		return info.Name, dify.FileRef{}, errUnsupportedFile
	}

	url := info.URLPrivateDownload
	if url == "" {
		url = info.URLPrivate
	}
	var buf bytes.Buffer
	if err := b.api.DownloadFile(ctx, url, &buf); err != nil {
		return info.Name, dify.FileRef{}, fmt.Errorf("download: %w", err)
	}

	if b.mirror != nil {
		key := s3mirror.Key(b.mirrorPrefix, q.channel, info.ID, info.Name)
		if location, err := b.mirror.Put(ctx, key, bytes.NewReader(buf.Bytes()), info.Mimetype); err != nil {
			q.logger().Warnf("Failed to mirror %s to S3: %v", info.Name, err)
		} else {
			q.logger().Debugf("Mirrored %s to %s", info.Name, location)
		}
	}

	uploaded, err := b.dify.UploadFile(ctx, b.userPrefix+q.user, info.Name, buf.Bytes())
	if err != nil {
		return info.Name, dify.FileRef{}, fmt.Errorf("upload to dify: %w", err)
	}
	return info.Name, dify.ImageFile(uploaded.ID), nil
}
