package archive

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config names the destination bucket and, optionally, a non-AWS endpoint
// (an S3-compatible store) and static credentials for it.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Uploader uploads parquet archive files via the S3 multipart manager,
// which splits large files into concurrent part uploads automatically.
type S3Uploader struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Uploader loads AWS config (falling back to static credentials and a
// custom endpoint when S3Config names one, for S3-compatible object stores
// that aren't AWS itself) and builds an Uploader bound to cfg.Bucket.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{bucket: cfg.Bucket, prefix: cfg.Prefix, uploader: manager.NewUploader(client)}, nil
}

// UploadFile streams path's contents to bucket/prefix/key.
func (u *S3Uploader) UploadFile(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer f.Close()

	fullKey := key
	if u.prefix != "" {
		fullKey = u.prefix + "/" + key
	}
	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(fullKey),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("archive: upload %s: %w", fullKey, err)
	}
	return nil
}
