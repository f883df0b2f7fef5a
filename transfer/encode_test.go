package transfer

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingSource struct {
	desc Descriptor
	err  error
}

func (f failingSource) Describe() (Descriptor, error) { return f.desc, nil }
func (f failingSource) Open() (io.ReadCloser, error)  { return nil, f.err }

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	req.NoError(os.WriteFile(path, []byte("0123456789"), 0o600))

	batch, err := Describe(LocalFile(path))
	req.NoError(err)
	req.Equal([]Descriptor{{Name: "test.txt", Type: "text/plain", Size: 10}}, batch.Files)
	req.Equal(int64(10), batch.TotalSize())

	meta := batch.Meta()
	req.Len(meta, 1)
	req.Equal("test.txt", meta[0].Name)
	req.Equal("text/plain", meta[0].Type)

	encoded, err := batch.Encode(context.Background(), nil)
	req.NoError(err)
	req.Len(encoded, 1)
	req.Equal("data:text/plain;base64,MDEyMzQ1Njc4OQ==", encoded[0].Base64)

	data, fileType, err := DecodeFile(encoded[0])
	req.NoError(err)
	req.Equal("0123456789", string(data))
	req.Equal("text/plain", fileType)
}

func TestEncodeRoundTripBinary(t *testing.T) {
	req := require.New(t)

	payload := make([]byte, 256*1024)
	for i := range payload {
		payload[i] = byte(i * 31)
	}

	batch, err := Describe(BytesFile("blob.bin", "application/octet-stream", payload))
	req.NoError(err)

	encoded, err := batch.Encode(context.Background(), nil)
	req.NoError(err)

	data, _, err := DecodeFile(encoded[0])
	req.NoError(err)
	req.Equal(payload, data)
}

func TestEncodeKeepsOrderAndReportsProgress(t *testing.T) {
	req := require.New(t)

	var (
		mu   sync.Mutex
		last = map[int]int64{}
	)
	batch, err := Describe(
		BytesFile("a.txt", "text/plain", []byte("alpha")),
		BytesFile("b.txt", "text/plain", []byte("bravo!")),
		BytesFile("c.txt", "text/plain", []byte("charlie")),
	)
	req.NoError(err)

	encoded, err := batch.Encode(context.Background(), func(index int, done int64) {
		mu.Lock()
		last[index] = done
		mu.Unlock()
	})
	req.NoError(err)
	req.Equal([]string{"a.txt", "b.txt", "c.txt"}, []string{encoded[0].Name, encoded[1].Name, encoded[2].Name})
	req.Equal(map[int]int64{0: 5, 1: 6, 2: 7}, last)
}

func TestEncodeAbortsWholeBatchOnFailure(t *testing.T) {
	req := require.New(t)

	boom := errors.New("disk unplugged")
	batch, err := Describe(
		BytesFile("ok.txt", "text/plain", []byte("fine")),
		failingSource{desc: Descriptor{Name: "bad.txt", Type: "text/plain", Size: 3}, err: boom},
	)
	req.NoError(err)

	encoded, err := batch.Encode(context.Background(), nil)
	req.Nil(encoded)
	var encodeErr *EncodeError
	req.ErrorAs(err, &encodeErr)
	req.Equal("bad.txt", encodeErr.File)
	req.ErrorIs(err, boom)
}

func TestDescribeRejectsBadBatches(t *testing.T) {
	req := require.New(t)

	_, err := Describe()
	req.ErrorIs(err, ErrEmptyBatch)

	_, err = Describe(LocalFile(filepath.Join(t.TempDir(), "missing.txt")))
	var encodeErr *EncodeError
	req.ErrorAs(err, &encodeErr)

	_, err = Describe(LocalFile(t.TempDir()))
	req.ErrorIs(err, ErrNotRegularFile)

	_, err = Describe(failingSource{desc: Descriptor{Name: "huge.iso", Size: MaxFileSize + 1}})
	req.ErrorIs(err, ErrFileTooLarge)
}

func TestDescribeBoundsEncodedBatchSize(t *testing.T) {
	req := require.New(t)

	batch, err := Describe(failingSource{desc: Descriptor{Name: "max.bin", Type: "application/octet-stream", Size: MaxFileSize}})
	req.NoError(err)
	req.LessOrEqual(encodedBatchSize(batch.Files), int64(MaxBatchSize))

	// each file fits on its own, together they overflow one frame
	_, err = Describe(
		failingSource{desc: Descriptor{Name: "a.mp4", Type: "video/mp4", Size: 30 << 20}},
		failingSource{desc: Descriptor{Name: "b.mp4", Type: "video/mp4", Size: 30 << 20}},
	)
	req.ErrorIs(err, ErrBatchTooLarge)
	var encodeErr *EncodeError
	req.ErrorAs(err, &encodeErr)
	req.Empty(encodeErr.File)

	files := []Descriptor{{Name: "a.txt", Type: "text/plain", Size: 10}}
	want := int64(base64.StdEncoding.EncodedLen(10) + len("data:text/plain;base64,") + 2*len("a.txttext/plain") + fileJSONOverhead)
	req.Equal(want, encodedBatchSize(files))
}

func TestDescribeSniffsUnknownTypes(t *testing.T) {
	req := require.New(t)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	batch, err := Describe(BytesFile("image", "", png))
	req.NoError(err)
	req.Equal("image/png", batch.Files[0].Type)

	path := filepath.Join(t.TempDir(), "notes")
	req.NoError(os.WriteFile(path, []byte("plain words"), 0o600))
	batch, err = Describe(LocalFile(path))
	req.NoError(err)
	req.True(strings.HasPrefix(batch.Files[0].Type, "text/plain"))
}

func TestDecodeFileAcceptsRawBase64(t *testing.T) {
	req := require.New(t)

	data, fileType, err := DecodeFile(modelsFile("raw.txt", "", "aGVsbG8="))
	req.NoError(err)
	req.Equal("hello", string(data))
	req.Equal("", fileType)

	data, fileType, err = DecodeFile(modelsFile("typed", "", "data:image/gif;base64,R0lG"))
	req.NoError(err)
	req.Equal("GIF", string(data))
	req.Equal("image/gif", fileType)

	_, _, err = DecodeFile(modelsFile("bad", "", "data:text/plain;base64,***"))
	req.ErrorIs(err, ErrInvalidBase64)
}

func TestSplitDataURL(t *testing.T) {
	mimeType, payload := SplitDataURL("data:text/plain;base64,aGk=")
	require.Equal(t, "text/plain", mimeType)
	require.Equal(t, "aGk=", payload)

	mimeType, payload = SplitDataURL("aGk=")
	require.Equal(t, "", mimeType)
	require.Equal(t, "aGk=", payload)
}
