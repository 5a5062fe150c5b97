package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config holds the connection settings for the external object store.
// Endpoint is optional and enables S3-compatible services (MinIO and the
// like); empty means AWS proper.
type S3Config struct {
	Bucket    string
	Region    string
	Prefix    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Store uploads export files to an S3 bucket. Each file gets a fresh UUID
// as its identity; the object key is derived from it, so the ID on the task
// record is all that is needed to fetch the file back.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store builds the store from config. Static credentials are used when
// provided; otherwise the SDK's default chain applies.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
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
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Store) key(id uuid.UUID) string {
	return path.Join(s.prefix, id.String())
}

func (s *S3Store) Upload(ctx context.Context, fileName, contentType string, data []byte) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(s.key(id)),
		Body:               bytes.NewReader(data),
		ContentType:        aws.String(contentType),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", fileName)),
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("uploading %s: %w", fileName, err)
	}
	return id, nil
}

// Download fetches a previously uploaded export file by its ID.
func (s *S3Store) Download(ctx context.Context, id uuid.UUID) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching external file %s: %w", id, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading external file %s: %w", id, err)
	}
	return data, nil
}
