package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
)

// ClientOptions selects region, credentials and an optional S3-compatible
// endpoint.
type ClientOptions struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	EndpointURL     string
}

// LoadConfig builds the SDK configuration. Static keys win over the default
// credential chain when both are given.
func LoadConfig(ctx context.Context, opts ClientOptions) (awssdk.Config, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return awssdk.Config{}, fmt.Errorf("load AWS SDK config: %w", err)
	}
	return cfg, nil
}

// NewS3Client creates an S3 client. A custom endpoint switches to path-style
// addressing, which S3-compatible stores expect.
func NewS3Client(cfg awssdk.Config, endpointURL string) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpointURL != "" {
			o.BaseEndpoint = awssdk.String(endpointURL)
			o.UsePathStyle = true
		}
	})
}

// NewTranscribeClient creates an Amazon Transcribe client.
func NewTranscribeClient(cfg awssdk.Config) *transcribe.Client {
	return transcribe.NewFromConfig(cfg)
}
