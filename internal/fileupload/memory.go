// ==============================================================================
// IN-MEMORY STORAGE PROVIDER - internal/fileupload/memory.go
// ==============================================================================
// Keeps objects in process memory (for demos and tests)
// ==============================================================================

package fileupload

import (
	"context"
	"sync"
)

// MemoryStorageProvider implements StorageProvider in memory
type MemoryStorageProvider struct {
	mu      sync.RWMutex
	objects map[string][]byte
	meta    map[string]ObjectMeta
}

func NewMemoryStorageProvider() *MemoryStorageProvider {
	return &MemoryStorageProvider{
		objects: make(map[string][]byte),
		meta:    make(map[string]ObjectMeta),
	}
}

func (p *MemoryStorageProvider) Name() string {
	return "memory"
}

func (p *MemoryStorageProvider) Ping(ctx context.Context) error {
	return nil
}

func (p *MemoryStorageProvider) Put(ctx context.Context, objectName string, data []byte, meta ObjectMeta) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.objects[objectName] = append([]byte(nil), data...)
	p.meta[objectName] = meta
	return "mem://" + objectName, nil
}

// Object returns a copy of a stored object.
func (p *MemoryStorageProvider) Object(objectName string) ([]byte, ObjectMeta, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, ok := p.objects[objectName]
	if !ok {
		return nil, ObjectMeta{}, false
	}
	return append([]byte(nil), data...), p.meta[objectName], true
}

func (p *MemoryStorageProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.objects)
}
