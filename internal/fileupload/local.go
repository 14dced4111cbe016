// ==============================================================================
// LOCAL STORAGE PROVIDER - internal/fileupload/local.go
// ==============================================================================

package fileupload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"skyportal/pkg/logger"
)

// LocalStorageConfig contains configuration for local storage
type LocalStorageConfig struct {
	BasePath        string      `json:"base_path"`
	FilePermissions os.FileMode `json:"file_permissions"`
	DirPermissions  os.FileMode `json:"dir_permissions"`
}

// LocalStorageProvider implements StorageProvider for local filesystem.
// Intended for development; production deployments use GCS.
type LocalStorageProvider struct {
	config *LocalStorageConfig
	logger logger.Logger
}

// NewLocalStorageProvider creates a new local storage provider
func NewLocalStorageProvider(config *LocalStorageConfig, log logger.Logger) *LocalStorageProvider {
	if config == nil {
		config = &LocalStorageConfig{BasePath: "./uploads"}
	}
	if config.FilePermissions == 0 {
		config.FilePermissions = 0640
	}
	if config.DirPermissions == 0 {
		config.DirPermissions = 0750
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &LocalStorageProvider{config: config, logger: log}
}

func (p *LocalStorageProvider) Name() string {
	return "local"
}

// Ping makes sure the base directory exists and is a directory.
func (p *LocalStorageProvider) Ping(ctx context.Context) error {
	if err := os.MkdirAll(p.config.BasePath, p.config.DirPermissions); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	info, err := os.Stat(p.config.BasePath)
	if err != nil {
		return fmt.Errorf("failed to stat storage directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage path is not a directory: %s", p.config.BasePath)
	}
	return nil
}

// Put writes the object below the base path. Existing objects are replaced.
func (p *LocalStorageProvider) Put(ctx context.Context, objectName string, data []byte, meta ObjectMeta) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	startTime := time.Now()

	base, err := filepath.Abs(p.config.BasePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	storagePath := filepath.Join(base, filepath.FromSlash(objectName))

	// Verify the path is within the base directory for security
	if !strings.HasPrefix(storagePath, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("access denied: path outside base directory")
	}

	if err := os.MkdirAll(filepath.Dir(storagePath), p.config.DirPermissions); err != nil {
		return "", fmt.Errorf("failed to create storage directory: %w", err)
	}

	// Write to a temp file first so a crash never leaves a truncated object.
	tmp := storagePath + ".tmp"
	if err := os.WriteFile(tmp, data, p.config.FilePermissions); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, storagePath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}

	p.logger.Debug("File saved to local storage", map[string]interface{}{
		"event":        "file_saved_local",
		"document_key": meta.DocumentKey,
		"storage_path": storagePath,
		"file_size":    len(data),
		"duration_ms":  time.Since(startTime).Milliseconds(),
	})

	return "file://" + filepath.ToSlash(storagePath), nil
}
