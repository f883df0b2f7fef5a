package transfer

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"lanshare/models"
	"lanshare/network"
)

// MaxBatchSize bounds the encoded size of a batch so its files frame fits a single
// websocket read on the relay.
const MaxBatchSize = network.MaxFrameSize - frameHeadroom

const (
	// frameHeadroom covers the envelope fields around the file list.
	frameHeadroom = 64 << 10
	// fileJSONOverhead covers the keys, quotes and separators of one encoded file entry.
	fileJSONOverhead = 48
)

// ProgressFunc receives the number of source bytes encoded so far for file index.
type ProgressFunc func(index int, done int64)

// Batch is an outbound set of described files.
type Batch struct {
	sources []Source
	Files   []Descriptor
}

// Describe resolves name, type and size for every source. Any failure rejects the whole batch.
func Describe(sources ...Source) (*Batch, error) {
	if len(sources) == 0 {
		return nil, &EncodeError{Err: ErrEmptyBatch}
	}

	files := make([]Descriptor, 0, len(sources))
	for _, source := range sources {
		desc, err := source.Describe()
		if err != nil {
			return nil, &EncodeError{Err: err}
		}
		if desc.Name == "" {
			return nil, &EncodeError{Err: fmt.Errorf("file without name")}
		}
		if desc.Size > MaxFileSize {
			return nil, &EncodeError{File: desc.Name, Err: fmt.Errorf("%w: %d bytes", ErrFileTooLarge, desc.Size)}
		}
		files = append(files, desc)
	}

	if size := encodedBatchSize(files); size > MaxBatchSize {
		return nil, &EncodeError{Err: fmt.Errorf("%w: %d encoded bytes, limit %d", ErrBatchTooLarge, size, MaxBatchSize)}
	}

	return &Batch{sources: sources, Files: files}, nil
}

// encodedBatchSize estimates the bytes the files occupy once encoded into a frame.
// Name and type are counted twice to cover escaping once the content string sits inside the envelope.
func encodedBatchSize(files []Descriptor) int64 {
	return lo.SumBy(files, func(desc Descriptor) int64 {
		return int64(base64.StdEncoding.EncodedLen(int(desc.Size))) +
			int64(len(dataURLPrefix(desc.Type))) +
			int64(2*(len(desc.Name)+len(desc.Type))) +
			fileJSONOverhead
	})
}

// Meta returns the name/type pairs announced in the placeholder.
func (b *Batch) Meta() []models.FileMeta {
	return lo.Map(b.Files, func(desc Descriptor, _ int) models.FileMeta {
		return models.FileMeta{Name: desc.Name, Type: desc.Type}
	})
}

// TotalSize returns the sum of all file sizes.
func (b *Batch) TotalSize() int64 {
	return lo.SumBy(b.Files, func(desc Descriptor) int64 { return desc.Size })
}

// Encode turns every file into a data URL in parallel. The first failure cancels the rest
// and no partial result is returned.
func (b *Batch) Encode(ctx context.Context, progress ProgressFunc) ([]models.EncodedFile, error) {
	encoded := make([]models.EncodedFile, len(b.sources))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, source := range b.sources {
		desc := b.Files[i]
		group.Go(func() error {
			dataURL, err := encodeSource(groupCtx, source, desc, func(done int64) {
				if progress != nil {
					progress(i, done)
				}
			})
			if err != nil {
				return &EncodeError{File: desc.Name, Err: err}
			}
			encoded[i] = models.EncodedFile{Name: desc.Name, Type: desc.Type, Base64: dataURL}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return encoded, nil
}

// EncodeDataURL returns "data:<mime>;base64,<payload>".
func EncodeDataURL(mimeType string, data []byte) string {
	return dataURLPrefix(mimeType) + base64.StdEncoding.EncodeToString(data)
}

func encodeSource(ctx context.Context, source Source, desc Descriptor, progress func(int64)) (string, error) {
	reader, err := source.Open()
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var out strings.Builder
	out.Grow(len(dataURLPrefix(desc.Type)) + int(base64.StdEncoding.EncodedLen(int(desc.Size))))
	out.WriteString(dataURLPrefix(desc.Type))

	encoder := base64.NewEncoder(base64.StdEncoding, &out)
	if _, err := io.Copy(encoder, &progressReader{ctx: ctx, r: reader, report: progress}); err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return "", fmt.Errorf("flush base64: %w", err)
	}
	return out.String(), nil
}

func dataURLPrefix(mimeType string) string {
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	return "data:" + mimeType + ";base64,"
}

type progressReader struct {
	ctx    context.Context
	r      io.Reader
	done   int64
	report func(int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(buf)
	if n > 0 {
		p.done += int64(n)
		p.report(p.done)
	}
	return n, err
}
