package transfer

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// MaxFileSize keeps one encoded file under the relay frame limit.
	MaxFileSize = 32 * 1024 * 1024
	// DefaultMimeType is used when neither extension nor content identify a file.
	DefaultMimeType = "application/octet-stream"
)

// Descriptor is the name, MIME type and size of one outbound file.
type Descriptor struct {
	Name string
	Type string
	Size int64
}

// Source is one outbound file.
type Source interface {
	Describe() (Descriptor, error)
	Open() (io.ReadCloser, error)
}

type localFile struct {
	path string
}

// LocalFile returns a Source reading from disk.
func LocalFile(path string) Source {
	return localFile{path: path}
}

func (f localFile) Describe() (Descriptor, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotRegularFile, f.path)
	}

	fileType := mediaType(mime.TypeByExtension(filepath.Ext(f.path)))
	if fileType == "" {
		detected, err := mimetype.DetectFile(f.path)
		if err != nil {
			return Descriptor{}, fmt.Errorf("detect file type: %w", err)
		}
		fileType = mediaType(detected.String())
	}

	return Descriptor{Name: filepath.Base(f.path), Type: fileType, Size: info.Size()}, nil
}

func (f localFile) Open() (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

type bytesFile struct {
	name     string
	fileType string
	data     []byte
}

// BytesFile returns an in-memory Source. An empty fileType is sniffed from data.
func BytesFile(name, fileType string, data []byte) Source {
	return bytesFile{name: name, fileType: fileType, data: data}
}

func (f bytesFile) Describe() (Descriptor, error) {
	fileType := f.fileType
	if fileType == "" {
		fileType = mediaType(mimetype.Detect(f.data).String())
	}
	return Descriptor{Name: f.name, Type: fileType, Size: int64(len(f.data))}, nil
}

func (f bytesFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

// mediaType drops parameters such as "; charset=utf-8".
func mediaType(value string) string {
	if value == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(value)
	if err != nil {
		return value
	}
	return parsed
}
