package backup

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Config holds settings for the S3 snapshot target.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	Keep            int
}

// S3Target stores snapshots as dated objects in an S3-compatible bucket.
type S3Target struct {
	client *s3.Client
	bucket string
	prefix string
	keep   int
	logger zerolog.Logger
}

// NewS3Target builds the S3 client. Any S3-compatible endpoint works.
func NewS3Target(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Target, error) {
	keep := cfg.Keep
	if keep <= 0 {
		keep = DefaultKeep
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Target{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		keep:   keep,
		logger: logger.With().Str("component", "backup-s3").Logger(),
	}, nil
}

// Store writes one snapshot object and prunes beyond the retention count.
func (t *S3Target) Store(ctx context.Context, takenAt time.Time, data []byte) error {
	key := t.prefix + snapshotName(takenAt)

	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(t.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}

	names, err := t.List(ctx)
	if err != nil {
		return err
	}
	for len(names) > t.keep {
		oldest := names[0]
		_, err := t.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(t.bucket),
			Key:    aws.String(t.prefix + oldest),
		})
		if err != nil {
			t.logger.Warn().Err(err).Str("key", oldest).Msg("failed to prune backup")
			break
		}
		names = names[1:]
	}

	t.logger.Debug().Str("key", key).Msg("backup uploaded")
	return nil
}

// List returns retained snapshot names, oldest first.
func (t *S3Target) List(ctx context.Context) ([]string, error) {
	out, err := t.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(t.bucket),
		Prefix: aws.String(t.prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var names []string
	for _, obj := range out.Contents {
		name := strings.TrimPrefix(aws.ToString(obj.Key), t.prefix)
		if strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Ensure S3Target implements Target.
var _ Target = (*S3Target)(nil)
