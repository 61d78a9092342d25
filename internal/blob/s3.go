package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"kakigoori/internal/models"
)

// ErrPermanent marks failures that a retry will not fix (denied, bad request).
var ErrPermanent = errors.New("blob: permanent failure")

// deleteBatch is the S3 DeleteObjects limit.
const deleteBatch = 1000

// S3Store talks to any S3-compatible endpoint. Retries are left to the SDK
// retryer, bounded by BlobConfig.MaxAttempts.
type S3Store struct {
	client *s3.Client
	bucket string
	log    *slog.Logger
}

func NewS3Store(ctx context.Context, cfg models.BlobConfig, log *slog.Logger) (*S3Store, error) {
	const op = "blob.NewS3Store"

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.MaxAttempts))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	log.Info("s3 blob store ready", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)
	return NewS3StoreWithClient(client, cfg.Bucket, log), nil
}

func NewS3StoreWithClient(client *s3.Client, bucket string, log *slog.Logger) *S3Store {
	return &S3Store{client: client, bucket: bucket, log: log}
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return classify("blob.Put", key, err)
	}
	s.log.Debug("object uploaded", "key", key, "bytes", len(data))
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("blob.Get", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("blob.Get %s: %v: %w", key, err, models.ErrTransientStorage)
	}
	return data, nil
}

func (s *S3Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	src := (&url.URL{Path: s.bucket + "/" + srcKey}).EscapedPath()
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(src),
	})
	if err != nil {
		return classify("blob.Copy", srcKey, err)
	}
	s.log.Debug("object copied", "src", srcKey, "dst", dstKey)
	return nil
}

func (s *S3Store) Delete(ctx context.Context, keys ...string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return classify("blob.Delete", keys[start], err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("blob.Delete %s: %s: %s: %w",
				aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message), models.ErrTransientStorage)
		}
	}
	return nil
}

func classify(op, key string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%s %s: %w", op, key, ErrNotExist)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		return fmt.Errorf("%s %s: %s: %w", op, key, apiErr.ErrorCode(), ErrPermanent)
	}
	return fmt.Errorf("%s %s: %v: %w", op, key, err, models.ErrTransientStorage)
}
