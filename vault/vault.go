// Package vault archives harvested binaries content-addressed by their
// sha256. The vault is an optional long-term copy next to the malware
// repository: the reporter writes to it best-effort and nothing in the
// pipeline reads it back.
package vault

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Client stores and retrieves binary payloads by key. Keys are sha256
// hex digests of the content.
type Client interface {
	// Put stores content under key. Storing the same key twice is
	// allowed; content is assumed identical.
	Put(ctx context.Context, key string, content []byte) error

	// Get returns the content stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether key is stored.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases client resources.
	Close() error
}

// Config selects and configures a vault backend. The URL scheme picks
// the backend: file:///path, s3://bucket/prefix or mem://.
type Config struct {
	URL string
	// Region, Endpoint and PathStyle apply to the s3 backend only.
	Region    string
	Endpoint  string
	PathStyle bool
}

// Open builds the vault client the config URL describes.
func Open(ctx context.Context, cfg Config) (Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("vault URL is empty")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse vault URL: %w", err)
	}

	switch u.Scheme {
	case "file":
		return NewFS(u.Path)
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("vault URL %q has no bucket", cfg.URL)
		}
		return NewS3(ctx, S3Options{
			Bucket:    u.Host,
			Prefix:    strings.Trim(u.Path, "/"),
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
		})
	case "mem":
		return NewMem(), nil
	default:
		return nil, fmt.Errorf("unsupported vault scheme %q", u.Scheme)
	}
}

// validKey rejects keys that could escape the backend's key space.
func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return &StorageError{Op: "key", Key: key, Err: errors.New("invalid key")}
	}
	return nil
}
