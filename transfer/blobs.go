package transfer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"lanshare/logging"
	"lanshare/models"
	"lanshare/storage"
)

// Ledger records blob allocation and release. *storage.Store implements it.
type Ledger interface {
	SaveBlob(blob storage.Blob) error
	MarkBlobReleased(url string) error
	ActiveBlobs() ([]storage.Blob, error)
}

// BlobStoreOptions configures a BlobStore.
type BlobStoreOptions struct {
	Dir    string
	Ledger Ledger
	Logger *logrus.Logger
}

// BlobStore writes decoded inbound files to disk and hands out file:// URLs for them.
type BlobStore struct {
	dir    string
	ledger Ledger
	log    *logrus.Entry

	mu   sync.Mutex
	live map[string]string
}

// NewBlobStore creates the blob directory if needed.
func NewBlobStore(options BlobStoreOptions) (*BlobStore, error) {
	if options.Dir == "" {
		return nil, errors.New("blob directory is required")
	}
	if err := os.MkdirAll(options.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &BlobStore{
		dir:    options.Dir,
		ledger: options.Ledger,
		log:    logging.OrDefault(options.Logger).WithField("component", "blobs"),
		live:   make(map[string]string),
	}, nil
}

// Allocate decodes one file and stores it. The returned URL stays valid until Release.
func (b *BlobStore) Allocate(file models.EncodedFile, fromID string) (models.DecodedFile, error) {
	data, fileType, err := DecodeFile(file)
	if err != nil {
		return models.DecodedFile{}, err
	}

	blobID := uuid.NewString()
	storedPath := filepath.Join(b.dir, blobID)
	if err := os.WriteFile(storedPath, data, 0o600); err != nil {
		return models.DecodedFile{}, fmt.Errorf("write blob: %w", err)
	}
	blobURL := fileURL(storedPath)

	sum := blake2b.Sum256(data)
	if b.ledger != nil {
		err := b.ledger.SaveBlob(storage.Blob{
			BlobID:     blobID,
			URL:        blobURL,
			StoredPath: storedPath,
			Filename:   file.Name,
			Filetype:   fileType,
			Filesize:   int64(len(data)),
			Checksum:   hex.EncodeToString(sum[:]),
			FromID:     fromID,
		})
		if err != nil {
			b.log.WithError(err).WithField("blob", blobID).Warn("record blob in ledger failed")
		}
	}

	b.mu.Lock()
	b.live[blobURL] = storedPath
	b.mu.Unlock()

	return models.DecodedFile{
		Name: file.Name,
		Type: fileType,
		URL:  blobURL,
		Size: int64(len(data)),
	}, nil
}

// AllocateBatch allocates every file or none: a failure releases what was already stored.
func (b *BlobStore) AllocateBatch(files []models.EncodedFile, fromID string) ([]models.DecodedFile, error) {
	decoded := make([]models.DecodedFile, 0, len(files))
	for _, file := range files {
		out, err := b.Allocate(file, fromID)
		if err != nil {
			for _, done := range decoded {
				_ = b.Release(done.URL)
			}
			return nil, err
		}
		decoded = append(decoded, out)
	}
	return decoded, nil
}

// Release deletes the blob behind url.
func (b *BlobStore) Release(blobURL string) error {
	b.mu.Lock()
	storedPath, ok := b.live[blobURL]
	delete(b.live, blobURL)
	b.mu.Unlock()
	if !ok {
		return ErrUnknownBlob
	}
	return b.remove(blobURL, storedPath)
}

// ReleaseAll deletes every live blob.
func (b *BlobStore) ReleaseAll() error {
	b.mu.Lock()
	live := b.live
	b.live = make(map[string]string)
	b.mu.Unlock()

	var errs []error
	for blobURL, storedPath := range live {
		if err := b.remove(blobURL, storedPath); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sweep deletes blobs left active by an earlier process and returns how many were removed.
func (b *BlobStore) Sweep() (int, error) {
	if b.ledger == nil {
		return b.sweepDir()
	}

	stale, err := b.ledger.ActiveBlobs()
	if err != nil {
		return 0, fmt.Errorf("list active blobs: %w", err)
	}

	removed := 0
	var errs []error
	for _, blob := range stale {
		if b.isLive(blob.URL) {
			continue
		}
		if err := b.remove(blob.URL, blob.StoredPath); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Open returns a reader for a live blob.
func (b *BlobStore) Open(blobURL string) (io.ReadCloser, error) {
	b.mu.Lock()
	storedPath, ok := b.live[blobURL]
	b.mu.Unlock()
	if !ok {
		return nil, ErrUnknownBlob
	}
	file, err := os.Open(storedPath)
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return file, nil
}

// Live returns the number of allocated, unreleased blobs.
func (b *BlobStore) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

func (b *BlobStore) isLive(blobURL string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.live[blobURL]
	return ok
}

func (b *BlobStore) remove(blobURL, storedPath string) error {
	if err := os.Remove(storedPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob %s: %w", storedPath, err)
	}
	if b.ledger != nil {
		if err := b.ledger.MarkBlobReleased(blobURL); err != nil && !errors.Is(err, storage.ErrNotFound) {
			b.log.WithError(err).WithField("url", blobURL).Warn("mark blob released failed")
		}
	}
	return nil
}

func (b *BlobStore) sweepDir() (int, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, fmt.Errorf("read blob directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		storedPath := filepath.Join(b.dir, entry.Name())
		if b.isLive(fileURL(storedPath)) {
			continue
		}
		if err := os.Remove(storedPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove blob %s: %w", storedPath, err)
		}
		removed++
	}
	return removed, nil
}

func fileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if len(slashed) > 0 && slashed[0] != '/' {
		slashed = "/" + slashed
	}
	return (&url.URL{Scheme: "file", Path: slashed}).String()
}
