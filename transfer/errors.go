package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyBatch indicates a batch with no files.
	ErrEmptyBatch = errors.New("transfer: empty batch")
	// ErrFileTooLarge indicates a file above MaxFileSize.
	ErrFileTooLarge = errors.New("transfer: file too large")
	// ErrBatchTooLarge indicates a batch whose encoded frame would exceed MaxBatchSize.
	ErrBatchTooLarge = errors.New("transfer: batch too large")
	// ErrNotRegularFile indicates a path that is not a regular file.
	ErrNotRegularFile = errors.New("transfer: not a regular file")
	// ErrInvalidBase64 indicates inbound file data that is not valid base64.
	ErrInvalidBase64 = errors.New("transfer: invalid base64 data")
	// ErrUnknownBlob indicates a URL that this store did not allocate or already released.
	ErrUnknownBlob = errors.New("transfer: unknown blob")
)

// EncodeError reports why an outbound batch was abandoned.
type EncodeError struct {
	File string
	Err  error
}

func (e *EncodeError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("transfer: encode batch: %v", e.Err)
	}
	return fmt.Sprintf("transfer: encode %q: %v", e.File, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
