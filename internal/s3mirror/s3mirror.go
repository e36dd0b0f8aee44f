// Package s3mirror copies files shared with the bot into S3.
package s3mirror

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/ops-euc-admin/ops-app-repo/internal/config"
)

// PartSize is the multipart chunk size used for uploads.
const PartSize = 8 * 1024 * 1024

// Putter stores an object; satisfied by *Uploader.
type Putter interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

// uploadAPI is the part of the S3 upload manager Uploader uses.
type uploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Uploader writes objects to one bucket with the S3 upload manager, which
// switches to multipart uploads for large bodies.
type Uploader struct {
	bucket   string
	prefix   string
	uploader uploadAPI
}

// New loads AWS credentials from the default chain and returns an Uploader
// for cfg.Bucket.
func New(ctx context.Context, cfg config.S3Config) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	up := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = PartSize
	})

	logrus.Infof("Mirroring shared files to s3://%s/%s", cfg.Bucket, cfg.Prefix)
	return &Uploader{bucket: cfg.Bucket, prefix: cfg.Prefix, uploader: up}, nil
}

// Prefix returns the key prefix objects are stored under.
func (u *Uploader) Prefix() string {
	return u.prefix
}

// Put uploads body under key and returns the object location.
func (u *Uploader) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := u.uploader.Upload(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", u.bucket, key, err)
	}
	logrus.Debugf("Uploaded s3://%s/%s", u.bucket, key)
	return out.Location, nil
}

// Key builds <prefix>/<channel>/<file id>-<name>. Path separators in name
// are replaced.
func Key(prefix, channel, fileID, name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	return path.Join(strings.Trim(prefix, "/"), channel, fileID+"-"+name)
}
