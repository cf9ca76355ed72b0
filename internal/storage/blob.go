// Package storage mirrors published assets to a blob store.
package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"
)

// BlobStore persists a single object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Mirror copies files from the local content tree into a BlobStore under a
// key prefix. Failures are per file; one bad file does not stop the rest.
type Mirror struct {
	blobs  BlobStore
	prefix string
	logger *zap.Logger
}

// NewMirror builds a Mirror. prefix may be empty.
func NewMirror(blobs BlobStore, prefix string, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{blobs: blobs, prefix: prefix, logger: logger}
}

// Key returns the object key for a file relative to the content root.
func (m *Mirror) Key(rel string) string {
	return path.Join(m.prefix, filepath.ToSlash(rel))
}

// MirrorFiles uploads each absolute file path, keyed by its path relative to
// root. It returns the URIs of the files that were uploaded.
func (m *Mirror) MirrorFiles(ctx context.Context, root string, files []string) []string {
	if m == nil || m.blobs == nil {
		return nil
	}
	uris := make([]string, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			m.logger.Warn("asset mirror interrupted", zap.Error(err))
			return uris
		}
		uri, err := m.mirrorFile(ctx, root, file)
		if err != nil {
			m.logger.Warn("asset mirror failed", zap.String("file", file), zap.Error(err))
			continue
		}
		uris = append(uris, uri)
	}
	return uris
}

func (m *Mirror) mirrorFile(ctx context.Context, root, file string) (string, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", fmt.Errorf("relative path: %w", err)
	}
	f, err := os.Open(file) // #nosec G304 -- files come from the content store
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	uri, err := m.blobs.PutObject(ctx, m.Key(rel), ContentType(file), f)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

// ContentType guesses a MIME type from the file extension.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
