package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rawsym/symdex-engine/pkg/models"
)

// BlobStore is a content-addressed object store on the local filesystem.
// Blobs are keyed by the hex SHA-256 of their contents and fanned out over
// two-character prefix directories. Writes go through a temp file and a
// rename so a crashed ingestion never leaves a half-written blob under its
// final name.
type BlobStore struct {
	root string
}

// NewBlobStore opens (creating if needed) a blob root directory.
func NewBlobStore(root string) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// HashBytes returns the content address for a blob.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Path returns the on-disk path for a content hash.
func (s *BlobStore) Path(hash string) string {
	return filepath.Join(s.root, hash[:2], hash)
}

// Put stores a blob and returns its content hash and path. Storing the same
// contents twice is a no-op.
func (s *BlobStore) Put(data []byte) (hash, path string, err error) {
	hash = HashBytes(data)
	path = s.Path(hash)

	if _, err := os.Stat(path); err == nil {
		return hash, path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", "", fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", "", fmt.Errorf("stage blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", "", fmt.Errorf("commit blob: %w", err)
	}
	return hash, path, nil
}

// Open returns a reader over a stored blob path. A vanished blob surfaces as
// ErrBackingStoreMissing so read paths can report it unchanged.
func (s *BlobStore) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrBackingStoreMissing, path)
		}
		return nil, err
	}
	return f, nil
}
