package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// SaveBlob records a newly allocated blob.
func (s *Store) SaveBlob(blob Blob) error {
	if blob.BlobID == "" {
		return errors.New("blob_id is required")
	}
	if blob.URL == "" {
		return errors.New("url is required")
	}
	if blob.StoredPath == "" {
		return errors.New("stored_path is required")
	}
	if blob.Filename == "" {
		return errors.New("filename is required")
	}
	if blob.Checksum == "" {
		return errors.New("checksum is required")
	}
	if blob.CreatedAt == 0 {
		blob.CreatedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO blobs (
			blob_id,
			url,
			stored_path,
			filename,
			filetype,
			filesize,
			checksum,
			from_id,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		blob.BlobID,
		blob.URL,
		blob.StoredPath,
		blob.Filename,
		nullString(blob.Filetype),
		blob.Filesize,
		blob.Checksum,
		nullString(blob.FromID),
		blob.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert blob %q: %w", blob.BlobID, err)
	}
	return nil
}

// MarkBlobReleased stamps released_at on the blob with the given URL.
func (s *Store) MarkBlobReleased(url string) error {
	if url == "" {
		return errors.New("url is required")
	}

	res, err := s.db.Exec(
		`UPDATE blobs SET released_at = ? WHERE url = ? AND released_at IS NULL`,
		nowUnixMilli(),
		url,
	)
	if err != nil {
		return fmt.Errorf("mark blob released %q: %w", url, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for blob release %q: %w", url, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBlobByURL fetches one blob row.
func (s *Store) GetBlobByURL(url string) (*Blob, error) {
	row := s.db.QueryRow(
		`SELECT blob_id, url, stored_path, filename, filetype, filesize, checksum, from_id, created_at, released_at
		FROM blobs WHERE url = ?`,
		url,
	)
	blob, err := scanBlob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %q: %w", url, err)
	}
	return blob, nil
}

// ActiveBlobs returns blobs that were allocated and never released.
func (s *Store) ActiveBlobs() ([]Blob, error) {
	rows, err := s.db.Query(
		`SELECT blob_id, url, stored_path, filename, filetype, filesize, checksum, from_id, created_at, released_at
		FROM blobs
		WHERE released_at IS NULL
		ORDER BY created_at ASC, blob_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active blobs: %w", err)
	}
	defer rows.Close()

	blobs := make([]Blob, 0)
	for rows.Next() {
		blob, err := scanBlob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan blob row: %w", err)
		}
		blobs = append(blobs, *blob)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blob rows: %w", err)
	}
	return blobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlob(row rowScanner) (*Blob, error) {
	var (
		blob       Blob
		filetype   sql.NullString
		fromID     sql.NullString
		releasedAt sql.NullInt64
	)
	if err := row.Scan(
		&blob.BlobID,
		&blob.URL,
		&blob.StoredPath,
		&blob.Filename,
		&filetype,
		&blob.Filesize,
		&blob.Checksum,
		&fromID,
		&blob.CreatedAt,
		&releasedAt,
	); err != nil {
		return nil, err
	}
	blob.Filetype = filetype.String
	blob.FromID = fromID.String
	blob.ReleasedAt = int64Ptr(releasedAt)
	return &blob, nil
}
