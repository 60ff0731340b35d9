// Package archive uploads generated import scripts to S3 or an
// S3-compatible store so every emitted script is kept.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/lenmed/importer/internal/config"
	"github.com/lenmed/importer/internal/logging"
)

// ErrNoBucket is returned when archiving is requested without a bucket.
var ErrNoBucket = errors.New("archive bucket not configured")

const contentType = "application/sql"

type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes scripts under a key prefix in one bucket.
type Archiver struct {
	client putter
	bucket string
	prefix string
	now    func() time.Time
}

// New builds an Archiver from cfg. Static credentials are used when given,
// otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newArchiver(client, cfg.Bucket, cfg.Prefix), nil
}

func newArchiver(client putter, bucket, prefix string) *Archiver {
	return &Archiver{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// Key returns the object key for a script named name, stamped with the
// current UTC time so repeated runs never overwrite each other.
func (a *Archiver) Key(name string) string {
	prefix := a.prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + a.now().UTC().Format("20060102T150405Z") + "-" + filepath.Base(name)
}

// Upload stores body under Key(name) and returns the s3:// location.
func (a *Archiver) Upload(ctx context.Context, name string, body io.Reader) (string, error) {
	key := a.Key(name)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	location := fmt.Sprintf("s3://%s/%s", a.bucket, key)
	logging.FromContext(ctx).Info("script archived", "location", location)
	return location, nil
}

// UploadFile archives the file at path.
func (a *Archiver) UploadFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return a.Upload(ctx, path, bytes.NewReader(data))
}
