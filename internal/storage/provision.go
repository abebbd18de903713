package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// BucketAPI is the slice of the S3 API used to provision and check a bucket.
// *s3.Client implements it.
type BucketAPI interface {
	ObjectPutter
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketVersioning(ctx context.Context, params *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error)
	PutBucketLifecycleConfiguration(ctx context.Context, params *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error)
	PutBucketTagging(ctx context.Context, params *s3.PutBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// DefaultArchiveDays is how long batches stay in STANDARD before moving to GLACIER.
const DefaultArchiveDays = 90

// DefaultTags are applied to the bucket by Setup.
var DefaultTags = map[string]string{
	"Project":     "WeatherDataCollection",
	"Environment": "Development",
	"ManagedBy":   "weather-collector",
	"Purpose":     "WeatherDataStorage",
}

// Provisioner creates and configures the collection bucket.
type Provisioner struct {
	api    BucketAPI
	bucket string
	region string
}

func NewProvisioner(api BucketAPI, bucket, region string) *Provisioner {
	return &Provisioner{api: api, bucket: bucket, region: region}
}

// CreateBucket creates the bucket. A bucket this account already owns is
// not an error. us-east-1 must not send a location constraint.
func (p *Provisioner) CreateBucket(ctx context.Context) error {
	in := &s3.CreateBucketInput{Bucket: aws.String(p.bucket)}
	if p.region != "" && p.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(p.region),
		}
	}
	_, err := p.api.CreateBucket(ctx, in)
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return newStorageError("create_bucket", err)
	}
	return nil
}

func (p *Provisioner) EnableVersioning(ctx context.Context) error {
	_, err := p.api.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(p.bucket),
		VersioningConfiguration: &types.VersioningConfiguration{
			Status: types.BucketVersioningStatusEnabled,
		},
	})
	if err != nil {
		return newStorageError("put_bucket_versioning", err)
	}
	return nil
}

// SetLifecycle moves batch objects written under keyPrefix to GLACIER after
// days. keyPrefix is the sink's storage prefix, empty for the bucket root.
func (p *Provisioner) SetLifecycle(ctx context.Context, keyPrefix string, days int32) error {
	if days <= 0 {
		days = DefaultArchiveDays
	}
	_, err := p.api.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(p.bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{
			Rules: []types.LifecycleRule{
				{
					ID:     aws.String("ArchiveOldWeatherData"),
					Status: types.ExpirationStatusEnabled,
					Filter: &types.LifecycleRuleFilterMemberPrefix{Value: BatchKeyPrefix(keyPrefix)},
					Transitions: []types.Transition{
						{
							Days:         aws.Int32(days),
							StorageClass: types.TransitionStorageClassGlacier,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return newStorageError("put_bucket_lifecycle", err)
	}
	return nil
}

// Tag replaces the bucket's tag set. Keys are written in sorted order.
func (p *Provisioner) Tag(ctx context.Context, tags map[string]string) error {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	set := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		set = append(set, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	_, err := p.api.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket:  aws.String(p.bucket),
		Tagging: &types.Tagging{TagSet: set},
	})
	if err != nil {
		return newStorageError("put_bucket_tagging", err)
	}
	return nil
}

// VerifyAccess checks the bucket exists and the credentials can reach it.
func (p *Provisioner) VerifyAccess(ctx context.Context) error {
	if _, err := p.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)}); err != nil {
		return newStorageError("head_bucket", err)
	}
	return nil
}

// ProbeWrite puts and then deletes a small object to prove write access.
func (p *Provisioner) ProbeWrite(ctx context.Context, now time.Time) (string, error) {
	key := "verify/write_test_" + now.UTC().Format(fileTimeLayout) + ".txt"
	_, err := p.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader("write test"),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return key, newStorageError("put_object", err)
	}
	if _, err := p.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return key, newStorageError("delete_object", err)
	}
	return key, nil
}

// Step is one provisioning action and its outcome.
type Step struct {
	Name string
	Err  error
}

// SetupOptions configures Setup.
type SetupOptions struct {
	// KeyPrefix must match the collector's storage prefix for the lifecycle
	// rule to apply to its objects.
	KeyPrefix   string
	ArchiveDays int32
	Tags        map[string]string
}

// Setup runs create, versioning, lifecycle, tagging and access verification
// in order. Creation failure stops the sequence; later steps are independent
// and all run. The returned error joins every failed step.
func (p *Provisioner) Setup(ctx context.Context, opts SetupOptions) ([]Step, error) {
	tags := opts.Tags
	if tags == nil {
		tags = DefaultTags
	}

	var steps []Step
	if err := p.CreateBucket(ctx); err != nil {
		steps = append(steps, Step{Name: "create bucket", Err: err})
		return steps, fmt.Errorf("create bucket %s: %w", p.bucket, err)
	}
	steps = append(steps, Step{Name: "create bucket"})

	rest := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"enable versioning", p.EnableVersioning},
		{"set lifecycle policy", func(ctx context.Context) error { return p.SetLifecycle(ctx, opts.KeyPrefix, opts.ArchiveDays) }},
		{"add tags", func(ctx context.Context) error { return p.Tag(ctx, tags) }},
		{"verify access", p.VerifyAccess},
	}
	var errs []error
	for _, s := range rest {
		err := s.fn(ctx)
		steps = append(steps, Step{Name: s.name, Err: err})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return steps, errors.Join(errs...)
}
