package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kissr/kissr-sync/internal/dropbox"
	"github.com/kissr/kissr-sync/internal/logging"
	"github.com/kissr/kissr-sync/internal/metrics"
)

// Outcome of one listing entry.
const (
	OutcomeCopied  = "copied"
	OutcomeDeleted = "deleted"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// PassResult summarizes a synchronization pass.
type PassResult struct {
	Pages   int
	Copied  int
	Deleted int
	Skipped int
	Failed  int
}

type tally struct {
	copied, deleted, skipped, failed atomic.Int64
}

func (t *tally) add(outcome string) {
	metrics.RecordEntry(outcome)
	switch outcome {
	case OutcomeCopied:
		t.copied.Add(1)
	case OutcomeDeleted:
		t.deleted.Add(1)
	case OutcomeSkipped:
		t.skipped.Add(1)
	default:
		t.failed.Add(1)
	}
}

func (t *tally) result(pages int) PassResult {
	return PassResult{
		Pages:   pages,
		Copied:  int(t.copied.Load()),
		Deleted: int(t.deleted.Load()),
		Skipped: int(t.skipped.Load()),
		Failed:  int(t.failed.Load()),
	}
}

// SyncFolder runs one pass over the account's folder tree. An empty cursor
// starts a full recursive listing from the root; otherwise listing
// continues from cursor.
//
// Each page's cursor is stored before its entries are handled. Entries
// run concurrently and are not awaited before the next page is fetched;
// they are joined before SyncFolder returns. Pagination stops only when
// Dropbox reports has_more false. A listing error ends the pass.
func (b *Bridge) SyncFolder(ctx context.Context, accountID string, remote Remote, cursor string) (PassResult, error) {
	logger := logging.WithContext(ctx)

	var (
		wg    sync.WaitGroup
		t     tally
		pages int
	)

	for {
		page, err := b.listPage(ctx, remote, cursor)
		if err != nil {
			wg.Wait()
			return t.result(pages), fmt.Errorf("list folder (page %d): %w", pages+1, err)
		}
		pages++

		if err := b.cursors.Set(ctx, accountID, page.Cursor); err != nil {
			logger.Warn("store cursor failed", zap.Error(err))
		}

		for _, entry := range page.Entries {
			if !entry.IsFile() && !(entry.IsDeleted() && b.opts.SyncDeletes) {
				continue
			}
			wg.Add(1)
			go func(e dropbox.Entry) {
				defer wg.Done()
				t.add(b.handleEntry(ctx, accountID, remote, e))
			}(entry)
		}

		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}

	wg.Wait()
	return t.result(pages), nil
}

func (b *Bridge) listPage(ctx context.Context, remote Remote, cursor string) (*dropbox.ListFolderResult, error) {
	if cursor == "" {
		metrics.RecordListPage("initial")
		return remote.ListFolder(ctx, "", true)
	}
	metrics.RecordListPage("continue")
	return remote.ListFolderContinue(ctx, cursor)
}

func (b *Bridge) handleEntry(ctx context.Context, accountID string, remote Downloader, e dropbox.Entry) string {
	path := e.PathDisplay
	if path == "" {
		path = e.PathLower
	}

	ok, err := b.ShouldSync(ctx, accountID, path)
	if err != nil {
		logging.WithContext(ctx).Error("authorization check failed", zap.String("path", path), zap.Error(err))
		return OutcomeFailed
	}
	if !ok {
		return OutcomeSkipped
	}

	if e.IsDeleted() {
		if res := b.DeleteFromS3(ctx, path); res.Err != nil {
			return OutcomeFailed
		}
		return OutcomeDeleted
	}
	if res := b.CopyToS3(ctx, remote, path); res.Err != nil {
		return OutcomeFailed
	}
	return OutcomeCopied
}
