package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	domainchat "chatgate/internal/domain/chat"
)

var ErrNotConfigured = fmt.Errorf("%w: media storage is not configured", domainchat.ErrUpstream)

// Options configures the media bucket client.
type Options struct {
	Endpoint       string
	PublicEndpoint string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
}

// Client stores message attachments in an S3-compatible bucket.
type Client struct {
	bucket         string
	publicBaseURL  string
	client         *minio.Client
	logger         *slog.Logger
	now            func() time.Time
	bucketInitOnce sync.Once
	bucketInitErr  error
}

func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	mc, err := minio.New(parseEndpoint(endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(opts.AccessKey), strings.TrimSpace(opts.SecretKey), ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	base := strings.TrimSpace(opts.PublicEndpoint)
	if base == "" {
		base = endpoint
		if !strings.Contains(base, "://") {
			base = scheme(opts.UseSSL) + "://" + base
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(base, "/"),
		client:        mc,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// UploadAttachment stores the content under a fresh key and returns an
// attachment that can go straight into a message body.
func (c *Client) UploadAttachment(ctx context.Context, name string, reader io.Reader, size int64, contentType string) (domainchat.Attachment, error) {
	if reader == nil {
		return domainchat.Attachment{}, fmt.Errorf("%w: attachment content is required", domainchat.ErrValidation)
	}
	if err := c.ensureBucket(ctx); err != nil {
		return domainchat.Attachment{}, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := objectKey(c.now(), uuid.NewString(), name)
	if size <= 0 {
		size = -1
	}
	_, err := c.client.PutObject(ctx, c.bucket, key, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return domainchat.Attachment{}, fmt.Errorf("%w: s3 put object: %w", domainchat.ErrUpstream, err)
	}
	publicURL := c.objectURL(key)
	c.logger.Info("s3 upload completed", "bucket", c.bucket, "key", key, "url", publicURL)
	return domainchat.Attachment{URL: publicURL, ContentType: contentType, Name: path.Base(cleanName(name))}, nil
}

func (c *Client) ensureBucket(ctx context.Context) error {
	c.bucketInitOnce.Do(func() {
		exists, err := c.client.BucketExists(ctx, c.bucket)
		if err != nil {
			c.bucketInitErr = fmt.Errorf("%w: s3 check bucket: %w", domainchat.ErrUpstream, err)
			return
		}
		if exists {
			return
		}
		if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			c.bucketInitErr = fmt.Errorf("%w: s3 create bucket: %w", domainchat.ErrUpstream, err)
			return
		}
		policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, c.bucket)
		if err := c.client.SetBucketPolicy(ctx, c.bucket, policy); err != nil {
			c.bucketInitErr = fmt.Errorf("%w: s3 set bucket policy: %w", domainchat.ErrUpstream, err)
		}
	})
	return c.bucketInitErr
}

func (c *Client) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", c.publicBaseURL, c.bucket, strings.TrimLeft(key, "/"))
}

// objectKey builds attachments/<yyyy>/<mm>/<id><ext>.
func objectKey(at time.Time, id, name string) string {
	ext := strings.ToLower(path.Ext(cleanName(name)))
	return fmt.Sprintf("attachments/%04d/%02d/%s%s", at.Year(), int(at.Month()), id, ext)
}

func cleanName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if name == "" {
		return "file"
	}
	return name
}

func parseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}

func scheme(ssl bool) string {
	if ssl {
		return "https"
	}
	return "http"
}

// Unavailable rejects uploads when no bucket is configured.
type Unavailable struct{}

func (Unavailable) UploadAttachment(context.Context, string, io.Reader, int64, string) (domainchat.Attachment, error) {
	return domainchat.Attachment{}, ErrNotConfigured
}
