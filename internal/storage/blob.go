// Package storage holds the attachment blob stores.
package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrBlobNotFound is returned when a handle does not resolve to stored bytes.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore persists attachment bytes and hands back an opaque handle.
type BlobStore interface {
	Store(ctx context.Context, data []byte, suggestedName, contentType string) (string, error)
	Retrieve(ctx context.Context, handle string) ([]byte, error)
	Remove(ctx context.Context, handle string) error
}

// objectKey builds a unique key that keeps a sanitized form of the original name.
func objectKey(suggestedName string) string {
	name := filepath.Base(strings.ReplaceAll(suggestedName, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." || name == "/" {
		name = "file"
	}
	return uuid.NewString() + "_" + name
}
