package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kissr/kissr-sync/internal/dropbox"
)

type panickyDownloader struct{}

func (panickyDownloader) Download(context.Context, string) (*dropbox.Download, error) {
	panic("transport exploded")
}

// trickleBody yields one chunk and then holds EOF back until release is
// closed, like a large download still in flight.
type trickleBody struct {
	chunk   string
	sent    bool
	release <-chan struct{}
}

func (b *trickleBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, b.chunk), nil
	}
	<-b.release
	return 0, io.EOF
}

func (b *trickleBody) Close() error { return nil }

type trickleRemote struct{ body *trickleBody }

func (r trickleRemote) Download(context.Context, string) (*dropbox.Download, error) {
	return &dropbox.Download{Body: r.body, Size: -1}, nil
}

// startSignalObjects closes started as soon as a put begins, then drains
// the body.
type startSignalObjects struct {
	fakeObjects
	once    sync.Once
	started chan struct{}
}

func (o *startSignalObjects) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	o.once.Do(func() { close(o.started) })
	return o.fakeObjects.PutObject(ctx, key, body, size, contentType)
}

func TestCopyToS3StreamsBody(t *testing.T) {
	objects := &startSignalObjects{started: make(chan struct{})}
	b := New(&fakeAccounts{}, objects, nil, nil, Options{})
	remote := trickleRemote{body: &trickleBody{chunk: "first-chunk", release: objects.started}}

	done := make(chan TransferResult, 1)
	go func() { done <- b.CopyToS3(context.Background(), remote, "/siteA/big.bin") }()

	var res TransferResult
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("upload did not start until the download finished")
	}
	if res.Status != StatusCopied || res.Size != int64(len("first-chunk")) {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(objects.puts) != 1 || objects.puts[0].Body != "first-chunk" {
		t.Errorf("unexpected puts %+v", objects.puts)
	}
}

func TestObjectKey(t *testing.T) {
	tests := map[string]string{
		"/siteA/img.png": "siteA/img.png",
		"//siteA/x":      "/siteA/x",
		"siteA/img.png":  "siteA/img.png",
	}
	for in, want := range tests {
		if got := ObjectKey(in); got != want {
			t.Errorf("ObjectKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"/siteA/index.html": "text/html",
		"/siteA/img.png":    "image/png",
		"/siteA/README":     "",
	}
	for in, want := range tests {
		if got := ContentType(in); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCopyToS3Success(t *testing.T) {
	remote := &fakeRemote{files: map[string]string{"/siteA/img.png": "PNGDATA"}}
	objects := &fakeObjects{}
	b, _ := newTestBridge(&fakeAccounts{}, objects, remote, Options{})

	res := b.CopyToS3(context.Background(), remote, "/siteA/img.png")
	if res.Err != nil || res.Status != StatusCopied {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Key != "siteA/img.png" || res.Size != 7 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(objects.puts) != 1 || objects.puts[0].Body != "PNGDATA" || objects.puts[0].Key != "siteA/img.png" {
		t.Errorf("unexpected puts %+v", objects.puts)
	}
}

func TestCopyToS3DownloadFailure(t *testing.T) {
	remote := &fakeRemote{files: map[string]string{}}
	objects := &fakeObjects{}
	b, _ := newTestBridge(&fakeAccounts{}, objects, remote, Options{})

	res := b.CopyToS3(context.Background(), remote, "/siteA/missing.png")
	if res.Status != StatusFailed || res.Err == nil {
		t.Fatalf("expected failure, got %+v", res)
	}
	var apiErr *dropbox.APIError
	if !errors.As(res.Err, &apiErr) {
		t.Errorf("expected wrapped APIError, got %v", res.Err)
	}
	if len(objects.puts) != 0 {
		t.Error("nothing should be uploaded")
	}
}

func TestCopyToS3UploadFailure(t *testing.T) {
	remote := &fakeRemote{files: map[string]string{"/siteA/img.png": "x"}}
	objects := &fakeObjects{putErr: errors.New("access denied")}
	b, _ := newTestBridge(&fakeAccounts{}, objects, remote, Options{})

	res := b.CopyToS3(context.Background(), remote, "/siteA/img.png")
	if res.Status != StatusFailed || res.Err == nil {
		t.Fatalf("expected failure, got %+v", res)
	}
}

func TestCopyToS3RecoversPanic(t *testing.T) {
	objects := &fakeObjects{}
	b, _ := newTestBridge(&fakeAccounts{}, objects, &fakeRemote{}, Options{})

	res := b.CopyToS3(context.Background(), panickyDownloader{}, "/siteA/img.png")
	if res.Status != StatusFailed || res.Err == nil {
		t.Fatalf("expected failure, got %+v", res)
	}
}

func TestDeleteFromS3(t *testing.T) {
	objects := &fakeObjects{}
	b, _ := newTestBridge(&fakeAccounts{}, objects, &fakeRemote{}, Options{})

	res := b.DeleteFromS3(context.Background(), "/siteA/old.html")
	if res.Status != StatusDeleted || res.Key != "siteA/old.html" {
		t.Fatalf("unexpected result %+v", res)
	}
}
