package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *DiskStore {
	t.Helper()
	store, err := NewDiskStore(t.TempDir(), "http://localhost:8080/")
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}
	return store
}

func TestDiskStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Put(ctx, []byte("audio-bytes"), "audio/mpeg")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasSuffix(id, ".mp3") {
		t.Errorf("expected .mp3 extension, got %q", id)
	}

	data, err := os.ReadFile(store.Path(id))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Errorf("stored content mismatch: %q", data)
	}

	url := store.URL(id)
	if url != "http://localhost:8080/files/"+id {
		t.Errorf("unexpected URL %q", url)
	}

	if err := store.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if store.URL(id) != "" {
		t.Error("URL for a deleted blob should be empty")
	}
}

func TestDiskStoreURLMissingBlob(t *testing.T) {
	store := newTestStore(t)
	if store.URL("no-such-blob.png") != "" {
		t.Error("URL for a missing blob should be empty")
	}
	if store.URL("") != "" {
		t.Error("URL for an empty ID should be empty")
	}
}

func TestDiskStoreDeleteIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Delete("no-such-blob.mp3"); err != nil {
		t.Fatalf("deleting a missing blob should succeed: %v", err)
	}
}

func TestDiskStorePathRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	p := store.Path("../../etc/passwd")
	if filepath.Dir(p) != filepath.Clean(filepath.Dir(store.Path("x"))) {
		t.Errorf("traversal not contained: %q", p)
	}
	if filepath.Base(p) != "passwd" {
		t.Errorf("unexpected base %q", p)
	}
}

func TestDiskStoreExtensionByContentType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cases := []struct {
		contentType string
		suffix      string
	}{
		{"image/png", ".png"},
		{"image/webp", ".webp"},
		{"application/octet-stream", ""},
	}
	for _, tc := range cases {
		id, err := store.Put(ctx, []byte("x"), tc.contentType)
		if err != nil {
			t.Fatalf("put %s: %v", tc.contentType, err)
		}
		if tc.suffix == "" {
			if strings.Contains(id, ".") {
				t.Errorf("unknown content type should have no extension, got %q", id)
			}
		} else if !strings.HasSuffix(id, tc.suffix) {
			t.Errorf("put %s: expected suffix %q, got %q", tc.contentType, tc.suffix, id)
		}
	}
}
