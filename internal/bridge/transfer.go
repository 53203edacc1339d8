package bridge

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/kissr/kissr-sync/internal/logging"
	"github.com/kissr/kissr-sync/internal/metrics"
)

// TransferStatus is the outcome of a single object transfer.
type TransferStatus string

const (
	StatusCopied  TransferStatus = "copied"
	StatusDeleted TransferStatus = "deleted"
	StatusFailed  TransferStatus = "failed"
)

// TransferResult reports what happened to one file.
type TransferResult struct {
	Key    string
	Status TransferStatus
	Size   int64
	Err    error
}

// ObjectKey maps a Dropbox path to its bucket key by dropping one
// leading separator.
func ObjectKey(p string) string {
	return strings.TrimPrefix(p, "/")
}

// ContentType guesses the MIME type from the file extension.
func ContentType(p string) string {
	return strings.TrimSuffix(mime.TypeByExtension(path.Ext(p)), "; charset=utf-8")
}

// countingReader counts the bytes that pass through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// CopyToS3 streams the file at p from Dropbox into the bucket. Failures
// are logged and reported in the result, never returned or panicked.
func (b *Bridge) CopyToS3(ctx context.Context, remote Downloader, p string) (res TransferResult) {
	key := ObjectKey(p)
	res = TransferResult{Key: key, Status: StatusFailed}
	logger := logging.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("copy %s: panic: %v", p, r)
			logger.Error("copy failed", zap.String("path", p), zap.Error(res.Err))
		}
	}()

	d, err := remote.Download(ctx, p)
	if err != nil {
		res.Err = fmt.Errorf("download %s: %w", p, err)
		logger.Error("copy failed", zap.String("path", p), zap.Error(res.Err))
		return res
	}
	defer d.Body.Close()

	body := &countingReader{r: d.Body}
	if err := b.objects.PutObject(ctx, key, body, d.Size, ContentType(p)); err != nil {
		res.Err = err
		logger.Error("copy failed", zap.String("path", p), zap.Error(err))
		return res
	}

	size := body.n
	metrics.RecordBytesCopied(size)
	logger.Info("copied", zap.String("key", key), zap.Int64("size", size))
	res.Status = StatusCopied
	res.Size = size
	return res
}

// DeleteFromS3 removes the object for a deleted Dropbox path. Like
// CopyToS3 it reports failures in the result.
func (b *Bridge) DeleteFromS3(ctx context.Context, p string) TransferResult {
	key := ObjectKey(p)
	logger := logging.WithContext(ctx)

	if err := b.objects.DeleteObject(ctx, key); err != nil {
		logger.Error("delete failed", zap.String("path", p), zap.Error(err))
		return TransferResult{Key: key, Status: StatusFailed, Err: err}
	}
	logger.Info("deleted", zap.String("key", key))
	return TransferResult{Key: key, Status: StatusDeleted}
}
