package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustSaveBlob(t *testing.T, store *Store, id, url string, createdAt int64) {
	t.Helper()

	err := store.SaveBlob(Blob{
		BlobID:     id,
		URL:        url,
		StoredPath: "/tmp/blobs/" + id,
		Filename:   id + ".txt",
		Filetype:   "text/plain",
		Filesize:   10,
		Checksum:   "checksum-" + id,
		FromID:     "client_b2",
		CreatedAt:  createdAt,
	})
	if err != nil {
		t.Fatalf("save blob %q: %v", id, err)
	}
}
