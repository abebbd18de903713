package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-collector/internal/models"
	"github.com/kjstillabower/weather-collector/internal/observability"
)

// ObjectPutter is the slice of the S3 API the sink needs. *s3.Client implements it.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ClientConfig holds what is needed to build an S3 client.
type ClientConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the AWS endpoint for S3-compatible stores (MinIO, LocalStack).
	// Path-style addressing is used when set.
	Endpoint string
}

// NewS3Client builds an S3 client with static credentials.
func NewS3Client(ctx context.Context, cfg ClientConfig, optFns ...func(*s3.Options)) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	opts := make([]func(*s3.Options), 0, len(optFns)+1)
	if endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	opts = append(opts, optFns...)
	return s3.NewFromConfig(awsCfg, opts...), nil
}

// S3Sink uploads a batch as one JSON object and, when localDir is set,
// writes the same bytes to a local backup file.
type S3Sink struct {
	api      ObjectPutter
	bucket   string
	prefix   string
	localDir string
	logger   *zap.Logger
}

// NewS3Sink creates a sink writing to bucket under prefix. An empty localDir
// disables the local copy.
func NewS3Sink(api ObjectPutter, bucket, prefix, localDir string, logger *zap.Logger) *S3Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Sink{
		api:      api,
		bucket:   bucket,
		prefix:   prefix,
		localDir: localDir,
		logger:   logger,
	}
}

// Store uploads the batch, then writes the local copy. The local copy is
// attempted even if the upload failed so the run's data is not lost.
func (s *S3Sink) Store(ctx context.Context, batch models.Batch) (Result, error) {
	body, err := MarshalBatch(batch)
	if err != nil {
		return Result{}, &StorageError{Op: "marshal", Kind: KindUnknown, Err: err}
	}

	res := Result{
		Bucket: s.bucket,
		Key:    ObjectKey(s.prefix, batch.CollectedAt),
		Bytes:  len(body),
	}

	var errs []error
	if err := s.upload(ctx, res.Key, body, batch); err != nil {
		errs = append(errs, err)
	} else {
		res.Uploaded = true
	}

	if s.localDir != "" {
		start := time.Now()
		path, err := writeLocal(s.localDir, BackupFileName(batch.CollectedAt), body)
		observability.RecordStorageWrite("local", start, err)
		if err != nil {
			s.logger.Error("local backup failed", zap.String("dir", s.localDir), zap.Error(err))
			errs = append(errs, &StorageError{Op: "write_local", Kind: KindLocal, Err: err})
		} else {
			res.LocalPath = path
			s.logger.Info("local backup saved", zap.String("path", path), zap.String("run_id", batch.RunID))
		}
	}

	return res, errors.Join(errs...)
}

func (s *S3Sink) upload(ctx context.Context, key string, body []byte, batch models.Batch) error {
	start := time.Now()
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
		Metadata: map[string]string{
			"run-id":       batch.RunID,
			"record-count": strconv.Itoa(batch.Len()),
		},
	})
	observability.RecordStorageWrite("s3", start, err)
	if err != nil {
		serr := newStorageError("put_object", err)
		s.logger.Error("upload failed",
			zap.String("bucket", s.bucket),
			zap.String("key", key),
			zap.String("kind", string(serr.Kind)),
			zap.Error(err),
		)
		return serr
	}
	s.logger.Info("batch uploaded",
		zap.String("bucket", s.bucket),
		zap.String("key", key),
		zap.Int("records", batch.Len()),
		zap.Int("bytes", len(body)),
		zap.String("run_id", batch.RunID),
	)
	return nil
}
