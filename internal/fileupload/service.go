// ==============================================================================
// DOCUMENT UPLOAD GATEWAY - internal/fileupload/service.go
// ==============================================================================
// Uploads a registration's documents to the configured store in parallel
// ==============================================================================

package fileupload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"skyportal/internal/domain"
	"skyportal/internal/virusscan"
	apperrors "skyportal/pkg/errors"
	"skyportal/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// ==============================================================================
// INTERFACES
// ==============================================================================

// StorageProvider defines the interface for different storage backends
type StorageProvider interface {
	// Put stores data under objectName and returns its location.
	Put(ctx context.Context, objectName string, data []byte, meta ObjectMeta) (string, error)
	// Ping reports whether the backend is reachable at all.
	Ping(ctx context.Context) error
	Name() string
}

// ObjectMeta is stored alongside each object.
type ObjectMeta struct {
	ContentType string
	SHA256      string
	DocumentKey string
	IdentityID  string
}

// ==============================================================================
// REQUEST/RESPONSE STRUCTURES
// ==============================================================================

// UploadResult partitions every submitted document key into exactly one of
// Succeeded or Failed.
type UploadResult struct {
	Succeeded map[string]domain.DocumentHandle `json:"succeeded"`
	Failed    map[string]string                `json:"failed"`
}

func newUploadResult() *UploadResult {
	return &UploadResult{
		Succeeded: make(map[string]domain.DocumentHandle),
		Failed:    make(map[string]string),
	}
}

// GatewayConfig tunes per-document checks and fan-out width.
type GatewayConfig struct {
	MaxFileSize      int64
	AllowedMimeTypes []string
	Concurrency      int
}

// ==============================================================================
// GATEWAY IMPLEMENTATION
// ==============================================================================

type Gateway struct {
	storage StorageProvider
	scanner virusscan.Scanner
	config  GatewayConfig
	allowed map[string]struct{}
	logger  logger.Logger
	now     func() time.Time
}

// NewGateway creates an upload gateway. scanner may be nil to skip scanning.
func NewGateway(storage StorageProvider, scanner virusscan.Scanner, cfg GatewayConfig, log logger.Logger) *Gateway {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024 // 10MB
	}
	if log == nil {
		log = logger.NewNop()
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedMimeTypes))
	for _, t := range cfg.AllowedMimeTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}

	return &Gateway{
		storage: storage,
		scanner: scanner,
		config:  cfg,
		allowed: allowed,
		logger:  log,
		now:     time.Now,
	}
}

// UploadAll uploads every document and waits for all attempts. A failed
// document never stops its siblings. The only error returned is
// ErrGatewayUnavailable, when the store cannot be reached; every key is then
// reported as failed.
func (g *Gateway) UploadAll(ctx context.Context, identityID string, docs []domain.Document) (*UploadResult, error) {
	result := newUploadResult()
	if len(docs) == 0 {
		return result, nil
	}
	startTime := time.Now()

	if err := g.storage.Ping(ctx); err != nil {
		g.logger.Error("Document store unreachable", map[string]interface{}{
			"event":       "document_store_unavailable",
			"backend":     g.storage.Name(),
			"identity_id": identityID,
			"error":       err.Error(),
		})
		for _, doc := range docs {
			result.Failed[doc.Key] = apperrors.ErrGatewayUnavailable.Error()
		}
		return result, fmt.Errorf("%w: %v", apperrors.ErrGatewayUnavailable, err)
	}

	var (
		mu sync.Mutex
		eg errgroup.Group
	)
	eg.SetLimit(g.config.Concurrency)

	for _, doc := range docs {
		eg.Go(func() error {
			handle, err := g.uploadOne(ctx, identityID, doc)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[doc.Key] = err.Error()
				g.logger.Warn("Document upload failed", map[string]interface{}{
					"event":        "document_upload_failed",
					"identity_id":  identityID,
					"document_key": doc.Key,
					"error":        err.Error(),
				})
				return nil
			}
			result.Succeeded[doc.Key] = handle
			return nil
		})
	}
	_ = eg.Wait()

	g.logger.Info("Document upload completed", map[string]interface{}{
		"event":       "document_upload_completed",
		"identity_id": identityID,
		"backend":     g.storage.Name(),
		"succeeded":   len(result.Succeeded),
		"failed":      len(result.Failed),
		"duration_ms": time.Since(startTime).Milliseconds(),
	})

	return result, nil
}

// uploadOne validates, scans and stores a single document.
func (g *Gateway) uploadOne(ctx context.Context, identityID string, doc domain.Document) (domain.DocumentHandle, error) {
	size := int64(len(doc.Bytes))
	if size > g.config.MaxFileSize {
		return domain.DocumentHandle{}, fmt.Errorf("%w: %d bytes exceeds %d",
			apperrors.ErrDocumentTooLarge, size, g.config.MaxFileSize)
	}

	contentType := normalizeContentType(doc.MimeType)
	if _, ok := g.allowed[contentType]; !ok {
		return domain.DocumentHandle{}, fmt.Errorf("%w: %s", apperrors.ErrDocumentTypeRejected, contentType)
	}

	if g.scanner != nil {
		scan, err := g.scanner.ScanBuffer(ctx, doc.DisplayName, doc.Bytes)
		if err != nil {
			return domain.DocumentHandle{}, fmt.Errorf("%w: scan failed: %v", apperrors.ErrFileStorageFailed, err)
		}
		if !scan.Clean {
			return domain.DocumentHandle{}, fmt.Errorf("%w: %s", apperrors.ErrDocumentInfected, strings.Join(scan.Threats, ", "))
		}
	}

	sum := sha256.Sum256(doc.Bytes)
	checksum := hex.EncodeToString(sum[:])
	objectName := ObjectName(identityID, doc.Key, checksum, extensionFor(contentType, doc.DisplayName))

	location, err := g.storage.Put(ctx, objectName, doc.Bytes, ObjectMeta{
		ContentType: contentType,
		SHA256:      checksum,
		DocumentKey: doc.Key,
		IdentityID:  identityID,
	})
	if err != nil {
		return domain.DocumentHandle{}, fmt.Errorf("%w: %v", apperrors.ErrFileStorageFailed, err)
	}

	return domain.DocumentHandle{
		Key:         doc.Key,
		Location:    location,
		SHA256:      checksum,
		Size:        size,
		ContentType: contentType,
		UploadedAt:  g.now().UTC(),
	}, nil
}

// ==============================================================================
// HELPERS
// ==============================================================================

// ObjectName builds registrations/<identity>/<key>-<sha8><ext>. The checksum
// prefix makes re-uploads of the same bytes land on the same object.
func ObjectName(identityID, key, checksum, ext string) string {
	short := checksum
	if len(short) > 8 {
		short = short[:8]
	}
	return path.Join("registrations", sanitizeFileName(identityID), sanitizeFileName(key)+"-"+short+ext)
}

func normalizeContentType(declared string) string {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(declared))
	}
	return mediaType
}

var preferredExtensions = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/heic":      ".heic",
	"image/tiff":      ".tiff",
}

func extensionFor(contentType, displayName string) string {
	if ext, ok := preferredExtensions[contentType]; ok {
		return ext
	}
	return strings.ToLower(filepath.Ext(sanitizeFileName(displayName)))
}

// sanitizeFileName removes dangerous characters from file names
func sanitizeFileName(fileName string) string {
	// Remove path components
	fileName = filepath.Base(fileName)

	replacements := map[string]string{
		"..": "",
		"/":  "_",
		"\\": "_",
		" ":  "_",
		"\"": "",
		"'":  "",
		"`":  "",
		"|":  "_",
		"&":  "_",
		";":  "_",
		"$":  "_",
		"<":  "_",
		">":  "_",
		"*":  "_",
		"?":  "_",
		"%":  "_",
	}

	for old, repl := range replacements {
		fileName = strings.ReplaceAll(fileName, old, repl)
	}

	// Limit length
	if len(fileName) > 128 {
		ext := filepath.Ext(fileName)
		fileName = fileName[:128-len(ext)] + ext
	}

	return fileName
}
