package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client is the subset of the S3 API the uploader needs.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures an S3Uploader.
type S3Config struct {
	Bucket string
	Region string

	// Endpoint is set for S3-compatible services such as MinIO.
	Endpoint string

	// PathStyle forces path-style addressing, required by most
	// S3-compatible services.
	PathStyle bool
}

// S3Uploader uploads objects to an S3 bucket.
type S3Uploader struct {
	client S3Client
	bucket string
}

// NewS3Uploader creates an S3Uploader using the default AWS credential chain.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: S3 bucket is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("storage: failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewS3UploaderWithClient(client, cfg.Bucket), nil
}

// NewS3UploaderWithClient creates an S3Uploader around an existing client.
func NewS3UploaderWithClient(client S3Client, bucket string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket}
}

// Upload writes content to the bucket at the requested object name.
func (u *S3Uploader) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(req.ObjectName),
		Body:   req.Content,
	}
	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("storage: S3 put failed for %q: %w", req.ObjectName, err)
	}

	return &UploadResult{
		ObjectName: req.ObjectName,
		URL:        fmt.Sprintf("s3://%s/%s", u.bucket, req.ObjectName),
	}, nil
}
