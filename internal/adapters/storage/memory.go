package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryService is an in-process StorageService for tests and local runs
// without MinIO.
type MemoryService struct {
	mu      sync.Mutex
	objects map[string][]byte
	baseURL string
}

// NewMemoryService serves presigned URLs below baseURL.
func NewMemoryService(baseURL string) *MemoryService {
	return &MemoryService{objects: make(map[string][]byte), baseURL: baseURL}
}

func (m *MemoryService) EnsureBucketExists(context.Context, string) error { return nil }

func (m *MemoryService) UploadFile(_ context.Context, bucket, folder, fileName, contentType string, reader io.Reader, size int64) (string, error) {
	if err := ValidateContentType(contentType); err != nil {
		return "", err
	}
	if err := ValidateFileSize(size); err != nil {
		return "", err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	key := ObjectKey(folder, fileName)
	m.mu.Lock()
	m.objects[bucket+"/"+key] = data
	m.mu.Unlock()
	return key, nil
}

func (m *MemoryService) GenerateDownloadURL(_ context.Context, bucket, fileKey string) (*PresignedURL, error) {
	m.mu.Lock()
	_, ok := m.objects[bucket+"/"+fileKey]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("object %s not found", fileKey)
	}
	return &PresignedURL{
		URL:       m.baseURL + "/" + bucket + "/" + fileKey,
		FileKey:   fileKey,
		ExpiresAt: time.Now().Add(PresignedURLTTL),
	}, nil
}

// Len returns the number of stored objects.
func (m *MemoryService) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

var (
	_ StorageService = (*MinIOService)(nil)
	_ StorageService = (*MemoryService)(nil)
)
