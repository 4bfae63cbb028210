// Package storage keeps uploaded letter documents in S3-compatible object
// storage (or a local directory in development) and hands out download
// links.
package storage

import (
	"context"
	"fmt"
	"time"
)

// Store persists letter files by key.
type Store interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	// URL returns a time-limited download link for key.
	URL(ctx context.Context, key string) (string, error)
}

// ObjectKey lays files out by upload month and letter.
func ObjectKey(letterID, fileID string, at time.Time) string {
	return fmt.Sprintf("letters/%d/%02d/%s/%s.pdf", at.Year(), at.Month(), letterID, fileID)
}
