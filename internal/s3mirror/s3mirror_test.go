package s3mirror

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ops-euc-admin/ops-app-repo/internal/config"
)

type fakeUploader struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.input = input
	b, _ := io.ReadAll(input.Body)
	f.body = string(b)
	if f.err != nil {
		return nil, f.err
	}
	return &manager.UploadOutput{Location: "https://bucket.s3.amazonaws.com/" + aws.ToString(input.Key)}, nil
}

func TestKey(t *testing.T) {
	tests := []struct {
		prefix, channel, id, name, want string
	}{
		{"slack-files", "C1", "F1", "report.pdf", "slack-files/C1/F1-report.pdf"},
		{"/slack-files/", "C1", "F1", "a/b.png", "slack-files/C1/F1-a_b.png"},
		{"", "C1", "F1", "x.txt", "C1/F1-x.txt"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Key(tt.prefix, tt.channel, tt.id, tt.name))
	}
}

func TestUploader_Put(t *testing.T) {
	fake := &fakeUploader{}
	u := &Uploader{bucket: "bucket", prefix: "slack-files", uploader: fake}

	loc, err := u.Put(context.Background(), "slack-files/C1/F1-a.png", strings.NewReader("png"), "image/png")
	require.NoError(t, err)

	assert.Equal(t, "https://bucket.s3.amazonaws.com/slack-files/C1/F1-a.png", loc)
	assert.Equal(t, "bucket", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "image/png", aws.ToString(fake.input.ContentType))
	assert.Equal(t, "png", fake.body)
	assert.Equal(t, "slack-files", u.Prefix())
}

func TestUploader_PutError(t *testing.T) {
	u := &Uploader{bucket: "bucket", uploader: &fakeUploader{err: errors.New("access denied")}}

	_, err := u.Put(context.Background(), "k", strings.NewReader(""), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://bucket/k")
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), config.S3Config{Region: "ap-northeast-1"})
	assert.Error(t, err)
}
