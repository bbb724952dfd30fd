package storage

import (
	"errors"
	"io"
	"testing"

	"github.com/rawsym/symdex-engine/pkg/models"
)

func TestBlobStore_PutAndOpen(t *testing.T) {
	store, err := NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlobStore failed: %v", err)
	}

	data := []byte(`{"symbols":[]}`)
	hash, path, err := store.Put(data)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if len(hash) != 64 {
		t.Errorf("Expected a hex SHA-256 content hash, got %q", hash)
	}

	r, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if string(got) != string(data) {
		t.Errorf("Round-trip corrupted blob: %q", got)
	}
}

func TestBlobStore_PutIsIdempotent(t *testing.T) {
	store, _ := NewBlobStore(t.TempDir())

	h1, p1, err := store.Put([]byte("same contents"))
	if err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	h2, p2, err := store.Put([]byte("same contents"))
	if err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	if h1 != h2 || p1 != p2 {
		t.Errorf("Identical contents must share hash and path: (%s,%s) vs (%s,%s)", h1, p1, h2, p2)
	}
}

func TestBlobStore_MissingBlob(t *testing.T) {
	store, _ := NewBlobStore(t.TempDir())

	_, err := store.Open(store.Path(HashBytes([]byte("never stored"))))
	if !errors.Is(err, models.ErrBackingStoreMissing) {
		t.Errorf("Expected ErrBackingStoreMissing, got %v", err)
	}
}
