package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	// MessageKindMessage is a surfaced text message.
	MessageKindMessage = "message"
	// MessageKindFiles is a completed inbound file batch.
	MessageKindFiles = "files"
	// MessageKindLoading is a file batch placeholder.
	MessageKindLoading = "loading"
	// MessageKindFailed is a file batch that never completed.
	MessageKindFailed = "failed"
	// MessageKindInfo is a roster join/leave line.
	MessageKindInfo = "info"
)

// Message is the SQLite representation of one history entry.
type Message struct {
	MessageID  string
	Kind       string
	FromID     string
	FromName   string
	DataType   string
	Content    string
	ReceivedAt int64
}

// Blob is the SQLite representation of one allocated inbound blob.
type Blob struct {
	BlobID     string
	URL        string
	StoredPath string
	Filename   string
	Filetype   string
	Filesize   int64
	Checksum   string
	FromID     string
	CreatedAt  int64
	ReleasedAt *int64
}

func validateMessageKind(kind string) error {
	switch kind {
	case MessageKindMessage, MessageKindFiles, MessageKindLoading, MessageKindFailed, MessageKindInfo:
		return nil
	default:
		return fmt.Errorf("invalid message kind %q", kind)
	}
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
