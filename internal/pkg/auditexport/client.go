package auditexport

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"

	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/config"
)

// S3Client writes export objects to the audit bucket
type S3Client struct {
	s3Client *s3.Client
	bucket   string
}

// NewS3Client creates a client for cfg's bucket and checks it is reachable.
func NewS3Client(ctx context.Context, cfg config.AuditConfig) (*S3Client, error) {
	if !cfg.Enabled() {
		return nil, apperror.Configuration("audit export requires AUDIT_S3_BUCKET, AUDIT_S3_ACCESS_KEY and AUDIT_S3_SECRET_KEY")
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			// S3-compatible stores (MinIO, B2) want path-style URLs
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	client := &S3Client{s3Client: s3Client, bucket: cfg.Bucket}
	if _, err := s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, apperror.Upstream(fmt.Sprintf("bucket %s not accessible", cfg.Bucket), err)
	}

	log.Infof("[Audit] Initialized S3 client for bucket: %s", cfg.Bucket)
	return client, nil
}

// PutObject uploads body under key.
func (c *S3Client) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"upload-source": "brandbridge-ledger-export",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", c.bucket, key, err)
	}
	log.Infof("[Audit] Uploaded s3://%s/%s (%d bytes)", c.bucket, key, len(body))
	return nil
}

// ObjectExists checks if an object exists in the bucket
func (c *S3Client) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}
