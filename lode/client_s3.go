package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// S3Config locates a capture store in an S3 bucket or an S3-compatible
// service such as MinIO or R2.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	// Prefix namespaces captures within the bucket. No leading or
	// trailing slash.
	Prefix string `yaml:"prefix"`
	// Region overrides the SDK default chain.
	Region string `yaml:"region"`
	// Endpoint replaces the AWS endpoint, for S3-compatible services.
	Endpoint string `yaml:"endpoint"`
	// UsePathStyle puts the bucket in the path rather than the host name.
	// Most S3-compatible services need it.
	UsePathStyle bool `yaml:"use_path_style"`
}

// Validate checks the bucket name against the S3 naming rules.
func (c *S3Config) Validate() error {
	b := c.Bucket
	if b == "" {
		return errors.New("S3 bucket is required")
	}
	if len(b) < 3 || len(b) > 63 {
		return fmt.Errorf("S3 bucket %q must be 3 to 63 characters", b)
	}
	for i := 0; i < len(b); i++ {
		ch := b[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
		case ch == '-' || ch == '.':
			if i == 0 || i == len(b)-1 {
				return fmt.Errorf("S3 bucket %q must start and end with a letter or digit", b)
			}
		default:
			return fmt.Errorf("S3 bucket %q may only contain lowercase letters, digits, '-' and '.'", b)
		}
	}
	return nil
}

// ParseS3Path splits "bucket", "bucket/prefix" or "s3://bucket/prefix"
// into bucket and prefix. Surrounding slashes are dropped from the prefix.
func ParseS3Path(path string) (bucket, prefix string) {
	path = strings.TrimPrefix(path, "s3://")
	bucket, prefix, _ = strings.Cut(path, "/")
	return bucket, strings.Trim(prefix, "/")
}

// clientOptions maps the endpoint overrides onto S3 client options.
func (c S3Config) clientOptions() []func(*s3.Options) {
	if c.Endpoint == "" && !c.UsePathStyle {
		return nil
	}
	return []func(*s3.Options){func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
		o.UsePathStyle = c.UsePathStyle
	}}
}

// newS3Factory returns a store factory over one shared S3 client.
// Credentials come from the SDK default chain.
func newS3Factory(ctx context.Context, s3cfg S3Config) (lode.StoreFactory, error) {
	if err := s3cfg.Validate(); err != nil {
		return nil, err
	}

	var loadOpts []func(*config.LoadOptions) error
	if s3cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(s3cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, s3cfg.clientOptions()...)

	storeCfg := lodes3.Config{Bucket: s3cfg.Bucket, Prefix: s3cfg.Prefix}
	return func() (lode.Store, error) {
		return lodes3.New(client, storeCfg)
	}, nil
}
