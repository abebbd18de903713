// Package storage persists collection batches to S3 with an optional local
// copy, and provisions the bucket they go to.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/kjstillabower/weather-collector/internal/models"
)

// Kind classifies a storage failure.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindPermission Kind = "permission"
	KindNotFound   Kind = "not_found"
	KindNetwork    Kind = "network"
	KindLocal      Kind = "local"
	KindUnknown    Kind = "unknown"
)

// ErrEmptyBatch is returned when asked to store a batch with no records.
var ErrEmptyBatch = errors.New("empty batch")

// StorageError reports a failed write or bucket operation.
type StorageError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Sink persists one batch.
type Sink interface {
	Store(ctx context.Context, batch models.Batch) (Result, error)
}

// Result describes where a batch ended up. Fields are set for every target
// that succeeded, even when Store returns an error for another.
type Result struct {
	Bucket    string
	Key       string
	LocalPath string
	Bytes     int
	Uploaded  bool
}

const fileTimeLayout = "20060102_150405"

// ObjectKey is the S3 key for a batch collected at t.
func ObjectKey(prefix string, t time.Time) string {
	return BatchKeyPrefix(prefix) + t.UTC().Format(fileTimeLayout) + ".json"
}

// BatchKeyPrefix is the key prefix shared by every batch object under prefix.
func BatchKeyPrefix(prefix string) string {
	return prefix + "weather_data_"
}

// BackupFileName is the local file name for a batch collected at t.
func BackupFileName(t time.Time) string {
	return "weather_data_backup_" + t.UTC().Format(fileTimeLayout) + ".json"
}

// MarshalBatch renders the batch as an indented JSON array of records.
func MarshalBatch(batch models.Batch) ([]byte, error) {
	if batch.Len() == 0 {
		return nil, ErrEmptyBatch
	}
	return json.MarshalIndent(batch.Records, "", "  ")
}

var (
	authCodes = map[string]struct{}{
		"InvalidAccessKeyId":          {},
		"SignatureDoesNotMatch":       {},
		"ExpiredToken":                {},
		"InvalidToken":                {},
		"TokenRefreshRequired":        {},
		"UnrecognizedClientException": {},
	}
	permissionCodes = map[string]struct{}{
		"AccessDenied":       {},
		"AllAccessDisabled":  {},
		"AccountProblem":     {},
		"InvalidObjectState": {},
	}
	notFoundCodes = map[string]struct{}{
		"NoSuchBucket": {},
		"NotFound":     {},
		"NoSuchKey":    {},
	}
)

// classify maps an SDK error to a Kind using the API error code first, then
// the HTTP status, then transport errors.
func classify(err error) Kind {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if _, ok := authCodes[code]; ok {
			return KindAuth
		}
		if _, ok := permissionCodes[code]; ok {
			return KindPermission
		}
		if _, ok := notFoundCodes[code]; ok {
			return KindNotFound
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 401:
			return KindAuth
		case 403:
			return KindPermission
		case 404:
			return KindNotFound
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}
	return KindUnknown
}

func newStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Kind: classify(err), Err: err}
}
