package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

const refScheme = "s3://"

// MaxObjectBytes caps how much of a photo Fetch will load into memory.
const MaxObjectBytes = 20 << 20

var ErrTooLarge = errors.New("object exceeds size limit")

// Options configures the S3 client. Empty credentials fall back to the
// default AWS chain; Endpoint targets S3-compatible stores such as MinIO.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Client stores and retrieves chat photos in one bucket.
type S3Client struct {
	client     *s3.Client
	downloader *manager.Downloader
	uploader   *manager.Uploader
	bucketName string
}

// NewS3Client creates a new S3 client
func NewS3Client(ctx context.Context, opts Options) (*S3Client, error) {
	if opts.Bucket == "" {
		return nil, errors.New("missing S3 bucket")
	}
	loadOpts := []func(*awscfg.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.UsePathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})

	return &S3Client{
		client:     cli,
		downloader: manager.NewDownloader(cli),
		uploader:   manager.NewUploader(cli),
		bucketName: opts.Bucket,
	}, nil
}

// ParseRef splits "s3://bucket/key" into bucket and key.
func ParseRef(ref string) (bucket, key string, err error) {
	if !strings.HasPrefix(ref, refScheme) {
		return "", "", fmt.Errorf("not an s3 ref: %q", ref)
	}
	rest := strings.TrimPrefix(ref, refScheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 ref: %q", ref)
	}
	return bucket, key, nil
}

// Ref formats the ref for key in this client's bucket.
func (s *S3Client) Ref(key string) string { return refScheme + s.bucketName + "/" + key }

// Fetch downloads the object behind ref. Refs into other buckets are rejected.
func (s *S3Client) Fetch(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	if bucket != s.bucketName {
		return nil, fmt.Errorf("bucket %q is not allowed", bucket)
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", ref, err)
	}
	if size := aws.ToInt64(head.ContentLength); size > MaxObjectBytes {
		return nil, fmt.Errorf("%s is %d bytes: %w", ref, size, ErrTooLarge)
	}

	buf := manager.NewWriteAtBuffer(nil)
	n, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	log.Debug().Str("key", key).Int64("size", n).Msg("downloaded object from S3")
	return buf.Bytes(), nil
}

// Upload stores data under key and returns its s3:// ref.
func (s *S3Client) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "" || key == "." {
		return "", errors.New("empty object key")
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, in); err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Info().Str("key", key).Int("size", len(data)).Str("content_type", contentType).Msg("uploaded object to S3")
	return s.Ref(key), nil
}

// Ping checks that the bucket exists and is reachable.
func (s *S3Client) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucketName)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", s.bucketName, err)
	}
	return nil
}
