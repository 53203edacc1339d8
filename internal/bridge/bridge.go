// Package bridge copies Dropbox files into an object store.
//
// A notification for an account starts a synchronization pass: the
// account's token is looked up, its folder tree is listed page by page,
// and every file whose top-level folder (its domain) is registered for
// the account is copied into the bucket.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kissr/kissr-sync/internal/cursor"
	"github.com/kissr/kissr-sync/internal/dropbox"
	"github.com/kissr/kissr-sync/internal/logging"
	"github.com/kissr/kissr-sync/internal/metrics"
)

// Remote is the part of the Dropbox API a pass needs.
type Remote interface {
	ListFolder(ctx context.Context, path string, recursive bool) (*dropbox.ListFolderResult, error)
	ListFolderContinue(ctx context.Context, cursor string) (*dropbox.ListFolderResult, error)
	Downloader
}

// Downloader fetches file content.
type Downloader interface {
	Download(ctx context.Context, path string) (*dropbox.Download, error)
}

// RemoteFactory builds a Remote authorized with an account's token.
type RemoteFactory func(token string) Remote

// Accounts resolves tokens and site registrations.
type Accounts interface {
	GetToken(ctx context.Context, accountID string) (string, error)
	SiteRegistered(ctx context.Context, accountID, domain string) (bool, error)
}

// ObjectWriter stores and removes objects in the destination bucket.
// PutObject must consume body as a stream; size is -1 when unknown.
type ObjectWriter interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	DeleteObject(ctx context.Context, key string) error
}

// Options tunes pass behavior.
type Options struct {
	// ResumeFromCursor starts passes from the stored cursor instead of a
	// full recursive listing.
	ResumeFromCursor bool
	// SyncDeletes removes objects for deleted entries in registered domains.
	SyncDeletes bool
}

// Bridge runs synchronization passes.
type Bridge struct {
	accounts  Accounts
	objects   ObjectWriter
	cursors   cursor.Store
	newRemote RemoteFactory
	opts      Options

	tasks sync.WaitGroup
}

// New creates a Bridge.
func New(accounts Accounts, objects ObjectWriter, cursors cursor.Store, newRemote RemoteFactory, opts Options) *Bridge {
	return &Bridge{
		accounts:  accounts,
		objects:   objects,
		cursors:   cursors,
		newRemote: newRemote,
		opts:      opts,
	}
}

// Dispatch starts one pass per account in the background and returns
// immediately. Passes are independent: a failure in one is logged and
// does not affect the others. Use Wait to join them.
func (b *Bridge) Dispatch(ctx context.Context, accountIDs []string) {
	for _, id := range accountIDs {
		b.tasks.Add(1)
		go func(accountID string) {
			defer b.tasks.Done()
			res, err := b.SyncAccount(ctx, accountID)
			logger := logging.WithContext(ctx).With(zap.String("account", accountID))
			if err != nil {
				logger.Error("sync pass failed", zap.Error(err), zap.Int("pages", res.Pages))
				return
			}
			logger.Info("sync pass completed",
				zap.Int("pages", res.Pages),
				zap.Int("copied", res.Copied),
				zap.Int("deleted", res.Deleted),
				zap.Int("skipped", res.Skipped),
				zap.Int("failed", res.Failed))
		}(id)
	}
}

// Wait blocks until every dispatched pass has finished.
func (b *Bridge) Wait() {
	b.tasks.Wait()
}

// WaitContext is Wait bounded by ctx.
func (b *Bridge) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SyncAccount looks up the account's token and runs one pass for it.
func (b *Bridge) SyncAccount(ctx context.Context, accountID string) (PassResult, error) {
	start := time.Now()
	ctx = logging.WithAccount(ctx, accountID)

	token, err := b.accounts.GetToken(ctx, accountID)
	if err != nil {
		metrics.RecordSyncPass(time.Since(start), false)
		return PassResult{}, fmt.Errorf("lookup token: %w", err)
	}

	var from string
	if b.opts.ResumeFromCursor {
		from, err = b.cursors.Get(ctx, accountID)
		if err != nil && !errors.Is(err, cursor.ErrNotFound) {
			logging.WithContext(ctx).Warn("stored cursor unavailable, starting full listing", zap.Error(err))
		}
	}

	res, err := b.SyncFolder(ctx, accountID, b.newRemote(token), from)
	metrics.RecordSyncPass(time.Since(start), err == nil)
	return res, err
}
