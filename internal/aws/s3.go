package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/embano1/transcribe-worker/internal/types"
)

// S3API is the part of the S3 client the worker uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// ObjectError is a failed object access with the provider's code and message.
type ObjectError struct {
	Bucket  string
	Key     string
	Code    string
	Message string
	Err     error
}

func (e *ObjectError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ObjectError) Unwrap() error { return e.Err }

// NotFound reports whether the object or bucket does not exist.
func (e *ObjectError) NotFound() bool {
	return isNotFoundError(e.Err)
}

// AccessDenied reports whether the credentials lack access.
func (e *ObjectError) AccessDenied() bool {
	switch e.Code {
	case "AccessDenied", "Forbidden", "403":
		return true
	}
	return false
}

// S3Service handles S3 operations
type S3Service struct {
	client S3API
}

// NewS3Service creates a new S3 service
func NewS3Service(client S3API) *S3Service {
	return &S3Service{client: client}
}

// Download copies s3://bucket/key into dest and returns the bytes written.
// dest may hold a partial file when the copy fails; the caller owns it.
func (s *S3Service) Download(ctx context.Context, bucket, key, dest string) (int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return 0, newObjectError(bucket, key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	n, copyErr := io.Copy(f, out.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return n, newObjectError(bucket, key, copyErr)
	}
	return n, closeErr
}

// UploadFile uploads the given file to the specified bucket and key.
func (s *S3Service) UploadFile(ctx context.Context, bucket, key, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   f,
	})
	if err != nil {
		return newObjectError(bucket, key, err)
	}
	return nil
}

// DeleteObject removes an object. A missing object is not an error.
func (s *S3Service) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil && !isNotFoundError(err) {
		return newObjectError(bucket, key, err)
	}
	return nil
}

// GetTranscript downloads a transcription result document written by Amazon
// Transcribe.
func (s *S3Service) GetTranscript(ctx context.Context, bucket, key string) (*types.AWSTranscript, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, newObjectError(bucket, key, err)
	}
	defer out.Body.Close()

	var result types.AWSTranscript
	if err := json.NewDecoder(out.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode transcript %s: %w", key, err)
	}
	return &result, nil
}

// HeadBucket checks if bucket exists and is accessible
func (s *S3Service) HeadBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &bucket,
	})
	if err != nil {
		return newObjectError(bucket, "", err)
	}
	return nil
}

func newObjectError(bucket, key string, err error) *ObjectError {
	oe := &ObjectError{Bucket: bucket, Key: key, Message: err.Error(), Err: err}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		oe.Code = apiErr.ErrorCode()
		if msg := apiErr.ErrorMessage(); msg != "" {
			oe.Message = msg
		}
	}
	return oe
}

// isNotFoundError determines if an error from AWS indicates a "not found" condition.
func isNotFoundError(err error) bool {
	var apiErr smithy.APIError
	if err == nil {
		return false
	}
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFoundException", "NotFound", "NoSuchKey", "NoSuchBucket", "404":
			return true
		}
	}
	return strings.Contains(err.Error(), "NotFound:")
}
