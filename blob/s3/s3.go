// Package s3 provides an S3 backed blob store for uploaded files.
package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config makes the storage target explicit: bucket, optional key prefix, and
// an optional public base URL (CDN or website endpoint) used to build the
// returned links. When PublicBaseURL is empty the virtual-hosted S3 URL is
// used.
type Config struct {
	Bucket        string
	Prefix        string
	Region        string
	PublicBaseURL string
}

// Store implements blob.Store on top of AWS S3 (or compatible APIs).
type Store struct {
	client *s3.Client
	cfg    Config
}

// New loads AWS configuration from the environment and returns an S3 store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	return NewFromClient(s3.NewFromConfig(awsCfg), cfg), nil
}

// NewFromClient returns an S3 store using an existing client.
func NewFromClient(client *s3.Client, cfg Config) *Store {
	return &Store{client: client, cfg: cfg}
}

// Put implements blob.Store.
func (s *Store) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	key := name
	if s.cfg.Prefix != "" {
		key = strings.TrimSuffix(s.cfg.Prefix, "/") + "/" + name
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("s3: put object %s: %w", key, err)
	}

	return s.objectURL(key), nil
}

func (s *Store) objectURL(key string) string {
	escaped := url.PathEscape(key)
	// PathEscape escapes the separators too; keys keep their slashes.
	escaped = strings.ReplaceAll(escaped, "%2F", "/")

	if s.cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(s.cfg.PublicBaseURL, "/") + "/" + escaped
	}
	region := s.cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, region, escaped)
}
