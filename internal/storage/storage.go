// Package storage archives submission attachments.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
)

// Storage defines the operations the attachment archive needs
type Storage interface {
	// Save stores an object under key
	Save(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Get opens the object stored under key
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object; a missing object is not an error
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored under key
	Exists(ctx context.Context, key string) (bool, error)

	// Size returns the stored size in bytes
	Size(ctx context.Context, key string) (int64, error)
}

const (
	TypeNone         = "none"
	TypeLocal        = "local"
	TypeS3           = "s3"
	TypeCloudflareR2 = "cloudflare_r2"
)

// Config holds storage configuration
type Config struct {
	Type      string // none, local, s3, cloudflare_r2
	BasePath  string // For local storage
	Bucket    string // For S3/R2
	Region    string // For S3
	AccessKey string // For S3/R2
	SecretKey string // For S3/R2
	Endpoint  string // For R2 or custom S3
	AccountID string // For R2 when Endpoint is empty
}

// NewStorage returns nil, nil when archiving is disabled.
func NewStorage(cfg Config) (Storage, error) {
	switch strings.ToLower(cfg.Type) {
	case "", TypeNone:
		return nil, nil
	case TypeLocal:
		s, err := NewLocalStorage(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case TypeS3:
		s, err := NewS3Storage(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case TypeCloudflareR2:
		s, err := NewCloudflareR2Storage(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// AttachmentKey builds the archive key of the n-th attachment of a
// submission. The file name is reduced to a safe subset.
func AttachmentKey(kind, submissionID string, n int, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.Trim(unsafeChars.ReplaceAllString(base, "_"), "._")
	if base == "" {
		base = "file"
	}
	if len(base) > 100 {
		base = base[len(base)-100:]
	}
	return fmt.Sprintf("submissions/%s/%s/%02d-%s", kind, submissionID, n, base)
}

// cleanKey rejects keys that would escape the archive root.
func cleanKey(key string) (string, error) {
	slashed := strings.ReplaceAll(key, "\\", "/")
	for _, segment := range strings.Split(slashed, "/") {
		if segment == ".." {
			return "", fmt.Errorf("invalid storage key: %q", key)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if cleaned == "" {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	return cleaned, nil
}
