// Package storage keeps generated documents and uploaded templates under
// string keys, either in the workspace database or in a MinIO bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxKeyLength bounds object keys.
const MaxKeyLength = 512

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

// Object describes a stored blob.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store is implemented by LocalStore and MinioStore.
type Store interface {
	List(ctx context.Context, prefix string) ([]Object, error)
	Put(ctx context.Context, obj Object, data []byte) (Object, error)
	Get(ctx context.Context, key string) (Object, []byte, error)
	Delete(ctx context.Context, key string) error
}

// ValidateKey rejects empty, oversized and path-escaping keys.
func ValidateKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case len(key) > MaxKeyLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, MaxKeyLength)
	case strings.HasPrefix(key, "/"):
		return fmt.Errorf("%w: leading slash", ErrInvalidKey)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q escapes its prefix", ErrInvalidKey, key)
		}
	}
	return nil
}

func contentType(ct string) string {
	if strings.TrimSpace(ct) == "" {
		return "application/octet-stream"
	}
	return ct
}
