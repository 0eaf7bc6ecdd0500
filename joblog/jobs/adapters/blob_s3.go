package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ZanzyTHEbar/joblog/joblog/config"
	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// s3API is the subset of *s3.Client the blob store uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	s3.ListObjectsV2APIClient
}

// S3BlobStore implements BlobStore on an S3 bucket.
type S3BlobStore struct {
	client s3API
	bucket string
	logger zerolog.Logger
}

// NewS3BlobStore loads the shared AWS config chain and connects to cfg.Bucket.
// Profile and region override the environment when set; Endpoint selects an
// S3-compatible service with path-style addressing.
func NewS3BlobStore(ctx context.Context, cfg config.BlobConfig, logger zerolog.Logger) (*S3BlobStore, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3BlobStore(client, cfg.Bucket, logger), nil
}

func newS3BlobStore(client s3API, bucket string, logger zerolog.Logger) *S3BlobStore {
	return &S3BlobStore{
		client: client,
		bucket: bucket,
		logger: logger.With().Str("bucket", bucket).Logger(),
	}
}

func (b *S3BlobStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *S3BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", b.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", b.bucket, key, err)
	}
	return data, nil
}

func (b *S3BlobStore) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete s3://%s/%s: %w", b.bucket, key, err)
	}
	return nil
}

// DeletePrefix removes every object under prefix, one listing page per batch.
func (b *S3BlobStore) DeletePrefix(ctx context.Context, prefix string) error {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})

	deleted := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list s3://%s/%s: %w", b.bucket, prefix, err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}

		out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects under s3://%s/%s: %w", b.bucket, prefix, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %d objects under s3://%s/%s: %s: %s",
				len(out.Errors), b.bucket, prefix, aws.ToString(first.Key), aws.ToString(first.Message))
		}
		deleted += len(ids)
	}

	b.logger.Debug().Str("prefix", prefix).Int("objects", deleted).Msg("Deleted blobs")
	return nil
}

// Ensure S3BlobStore implements the BlobStore interface.
var _ ports.BlobStore = (*S3BlobStore)(nil)
