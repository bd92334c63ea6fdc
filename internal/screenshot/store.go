// Package screenshot stores Tier 3 page captures.
package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/config"
)

// Store persists a PNG and returns the key it was written under
type Store interface {
	Put(ctx context.Context, candidateID uuid.UUID, png []byte) (string, error)
}

// Key builds the object key of a capture
func Key(prefix string, candidateID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s%s/%d.png", prefix, candidateID, at.Unix())
}

type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes captures to an S3 compatible bucket
type S3Store struct {
	client putter
	bucket string
	prefix string
}

// NewS3Store builds an S3 client from cfg. Static keys are used when set,
// otherwise the default AWS credential chain applies. A custom endpoint
// switches to path-style addressing for MinIO and friends.
func NewS3Store(ctx context.Context, cfg config.ScreenshotConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("screenshot: bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "screenshot: load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Store(client putter, bucket, prefix string) *S3Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// Put implements Store
func (s *S3Store) Put(ctx context.Context, candidateID uuid.UUID, png []byte) (string, error) {
	key := Key(s.prefix, candidateID, time.Now().UTC())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(png),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return "", eris.Wrapf(err, "screenshot: put %s", key)
	}

	return key, nil
}
