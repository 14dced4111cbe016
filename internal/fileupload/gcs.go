// ==============================================================================
// GCS STORAGE PROVIDER - internal/fileupload/gcs.go
// ==============================================================================
// Google Cloud Storage via the JSON API client
// ==============================================================================

package fileupload

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"skyportal/pkg/logger"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// GCSConfig configures the bucket and how to authenticate.
type GCSConfig struct {
	Bucket string
	// Endpoint overrides the API base URL, e.g. for a local emulator.
	Endpoint        string
	CredentialsFile string
	// AccessToken is used as a static bearer token when set.
	AccessToken string
	// HTTPClient replaces the transport entirely, mainly for tests.
	HTTPClient *http.Client
}

type GCSStorageProvider struct {
	service *storage.Service
	bucket  string
	logger  logger.Logger
}

// NewGCSStorageProvider builds the API client. Without credentials, a
// static token or a custom endpoint it falls back to application default
// credentials.
func NewGCSStorageProvider(ctx context.Context, cfg GCSConfig, log logger.Logger) (*GCSStorageProvider, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.AccessToken != "":
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.AccessToken,
			TokenType:   "Bearer",
		})))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.Endpoint != "":
		opts = append(opts, option.WithoutAuthentication())
	}

	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}

	return &GCSStorageProvider{service: svc, bucket: cfg.Bucket, logger: log}, nil
}

func (p *GCSStorageProvider) Name() string {
	return "gcs"
}

// Ping checks that the bucket exists and is reachable.
func (p *GCSStorageProvider) Ping(ctx context.Context) error {
	if _, err := p.service.Buckets.Get(p.bucket).Context(ctx).Do(); err != nil {
		return fmt.Errorf("bucket %s unreachable: %w", p.bucket, err)
	}
	return nil
}

func (p *GCSStorageProvider) Put(ctx context.Context, objectName string, data []byte, meta ObjectMeta) (string, error) {
	startTime := time.Now()

	obj := &storage.Object{
		Name:        objectName,
		ContentType: meta.ContentType,
		Metadata: map[string]string{
			"sha256":       meta.SHA256,
			"document_key": meta.DocumentKey,
			"identity_id":  meta.IdentityID,
		},
	}

	stored, err := p.service.Objects.Insert(p.bucket, obj).
		Media(bytes.NewReader(data), googleapi.ContentType(meta.ContentType)).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", objectName, err)
	}

	name := objectName
	if stored != nil && stored.Name != "" {
		name = stored.Name
	}

	p.logger.Debug("Object uploaded to gcs", map[string]interface{}{
		"event":        "file_saved_gcs",
		"bucket":       p.bucket,
		"object":       name,
		"document_key": meta.DocumentKey,
		"file_size":    len(data),
		"duration_ms":  time.Since(startTime).Milliseconds(),
	})

	return fmt.Sprintf("gs://%s/%s", p.bucket, name), nil
}
