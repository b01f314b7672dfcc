package blobstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Gateway copies assets into durable object storage and returns stable public
// URLs. Implementations must be safe for concurrent use.
type Gateway interface {
	UploadFromURL(ctx context.Context, sourceURL, key, contentType string) (string, error)
	UploadFromBase64(ctx context.Context, payload, key, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Options configures the S3-compatible store. Endpoint points at the
// provider (e.g. a Cloudflare R2 account endpoint); PublicBaseURL is the
// public serving domain for uploaded keys.
type Options struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicBaseURL   string
	HTTPClient      *http.Client
}

// S3Store implements Gateway against any S3-compatible object store.
type S3Store struct {
	client        *s3.Client
	httpClient    *http.Client
	bucket        string
	publicBaseURL string
}

// NewS3Store builds the store from process-wide configuration. Credentials are
// static; no per-call overrides exist.
func NewS3Store(ctx context.Context, opts Options) (*S3Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("blobstore: bucket is required")
	}
	if strings.TrimSpace(opts.PublicBaseURL) == "" {
		return nil, fmt.Errorf("blobstore: public base url is required")
	}

	region := opts.Region
	if region == "" {
		region = "auto"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = true
	})

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &S3Store{
		client:        client,
		httpClient:    httpClient,
		bucket:        opts.Bucket,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
	}, nil
}

// UploadFromURL fetches the asset at sourceURL and writes it under key.
// Provider delivery URLs are sometimes partial; they are normalized first.
func (s *S3Store) UploadFromURL(ctx context.Context, sourceURL, key, contentType string) (string, error) {
	full := NormalizeDeliveryURL(sourceURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: unexpected status %s", ErrFetch, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}

	return s.put(ctx, key, data, contentType)
}

var dataURLPrefix = regexp.MustCompile(`^data:image/\w+;base64,`)

// UploadFromBase64 decodes an inline payload (optionally carrying a data-URL
// prefix) and writes it under key.
func (s *S3Store) UploadFromBase64(ctx context.Context, payload, key, contentType string) (string, error) {
	raw := dataURLPrefix.ReplaceAllString(strings.TrimSpace(payload), "")
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return s.put(ctx, key, data, contentType)
}

// Delete removes the object under key. Best effort; callers may ignore the error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStore, key, err)
	}
	return nil
}

func (s *S3Store) put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "image/png"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %v", ErrStore, key, err)
	}
	return s.publicBaseURL + "/" + key, nil
}

// NormalizeDeliveryURL completes partial provider delivery paths into full
// URLs. Replicate sometimes returns bare hosts or relative paths.
func NormalizeDeliveryURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(trimmed, "http://"), strings.HasPrefix(trimmed, "https://"):
		return trimmed
	case strings.Contains(trimmed, "replicate.delivery"):
		return "https://" + trimmed
	default:
		return "https://replicate.delivery/" + strings.TrimLeft(trimmed, "/")
	}
}

// ObjectKey builds a collision-resistant storage key under an owner+kind
// namespace: images/{owner}/{kind}/{unixms}-{suffix}.{ext}.
func ObjectKey(ownerID, kind, ext string) string {
	if ext == "" {
		ext = "png"
	}
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("images/%s/%s/%d-%s.%s", ownerID, kind, time.Now().UnixMilli(), suffix, ext)
}

// ThumbnailKey derives the preview key from an image key.
func ThumbnailKey(imageKey string) string {
	if idx := strings.LastIndex(imageKey, "."); idx > 0 {
		return imageKey[:idx] + "-thumb" + imageKey[idx:]
	}
	return imageKey + "-thumb"
}

var _ Gateway = (*S3Store)(nil)
