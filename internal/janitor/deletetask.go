package janitor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/quickwit-oss/quickwit-go/internal/indexing"
	"github.com/quickwit-oss/quickwit-go/internal/merge"
	"github.com/quickwit-oss/quickwit-go/internal/metastore"
	"github.com/quickwit-oss/quickwit-go/internal/types"
)

// DeletePredicateBuilder turns a DeleteTask's opaque query into a predicate
// deciding whether a raw document should be dropped. Evaluating the query
// AST against documents is the search API's job, an out-of-scope external
// collaborator (spec.md §1 and §4.4: "using the search API as an external
// collaborator to identify docs"); callers supply the evaluator.
type DeletePredicateBuilder func(tasks []metastore.DeleteTask) merge.DeletePredicate

// DeleteTaskExecutor is the Delete Task Executor loop: for every index with
// delete tasks, it scans stale Published splits (delete_opstamp below the
// index's current max opstamp) and spawns a bounded set of delete
// pipelines that re-materialize each one with matching documents removed,
// via the same stage->upload->publish-with-replacement protocol the merge
// pipeline uses (spec.md §4.4).
type DeleteTaskExecutor struct {
	Metastore        metastore.Metastore
	Downloader       *merge.Downloader
	PredicateBuilder DeletePredicateBuilder
	Packager         *indexing.Packager
	Uploader         *indexing.Uploader
	StorageKeyFor    func(splitID string) string
	MaxConcurrent    int64
	BatchSize        int
	Logger           *zap.Logger
}

func (d *DeleteTaskExecutor) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// DeleteTaskCounters reports one pass's outcome.
type DeleteTaskCounters struct {
	SplitsRewritten int
	SplitsSkipped   int // already at the index's current max opstamp without rewriting (no matching docs)
}

// RunOnceForIndex processes one index's stale splits. A split's
// delete_opstamp is not re-read before its rewrite: if a concurrent pass has
// already replaced the split, the PublishSplits call fails because the
// replaced split is no longer Published, and that failure is logged, not
// counted.
func (d *DeleteTaskExecutor) RunOnceForIndex(ctx context.Context, indexUID types.IndexUID) (DeleteTaskCounters, error) {
	maxOpstamp, err := d.Metastore.LastDeleteOpstamp(ctx, indexUID)
	if err != nil {
		return DeleteTaskCounters{}, err
	}
	if maxOpstamp == 0 {
		return DeleteTaskCounters{}, nil
	}

	tasks, err := d.Metastore.ListDeleteTasks(ctx, indexUID, 0)
	if err != nil {
		return DeleteTaskCounters{}, err
	}
	predicate := d.PredicateBuilder(tasks)

	batchSize := d.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	stale, err := d.Metastore.ListStaleSplits(ctx, indexUID, maxOpstamp, batchSize)
	if err != nil {
		return DeleteTaskCounters{}, err
	}

	maxConcurrent := d.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	sem := semaphore.NewWeighted(maxConcurrent)

	var counters DeleteTaskCounters
	errs := make(chan error, len(stale))
	for _, split := range stale {
		split := split
		if err := sem.Acquire(ctx, 1); err != nil {
			return counters, err
		}
		go func() {
			defer sem.Release(1)
			rewrote, err := d.rewriteOne(ctx, indexUID, split, predicate, maxOpstamp)
			if err != nil {
				errs <- err
				return
			}
			if rewrote {
				counters.SplitsRewritten++
			} else {
				counters.SplitsSkipped++
			}
			errs <- nil
		}()
	}
	for range stale {
		if err := <-errs; err != nil {
			d.logger().Warn("delete task executor: pipeline failed", zap.String("index_uid", indexUID.String()), zap.Error(err))
		}
	}
	return counters, nil
}

// rewriteOne downloads split, applies predicate, and either republishes a
// rewritten replacement (if any document was actually dropped) or simply
// bumps the split's delete_opstamp in place (spec.md §4.4's conservation:
// only splits that actually need rewriting go through the publish
// protocol). Returns whether a rewrite (vs. a cheap opstamp bump) happened.
func (d *DeleteTaskExecutor) rewriteOne(ctx context.Context, indexUID types.IndexUID, split metastore.Split, predicate merge.DeletePredicate, maxOpstamp uint64) (bool, error) {
	splitID := split.SplitMetadata.SplitID.String()
	localPath, err := d.Downloader.Download(ctx, splitID, d.StorageKeyFor(splitID))
	if err != nil {
		return false, fmt.Errorf("delete task: download split %s: %w", splitID, err)
	}

	executor := &merge.Executor{Delete: predicate}
	rewritten, opstamp, err := executor.Rewrite(merge.SourceSplit{LocalPath: localPath, Metadata: split.SplitMetadata}, maxOpstamp)
	if err != nil {
		return false, fmt.Errorf("delete task: rewrite split %s: %w", splitID, err)
	}

	if rewritten.NumDocs == split.SplitMetadata.NumDocs {
		// No document was actually dropped; just advance the opstamp so
		// this split is no longer considered stale (spec.md §4.4).
		if err := d.Metastore.UpdateSplitsDeleteOpstamp(ctx, indexUID, []string{splitID}, opstamp); err != nil {
			return false, fmt.Errorf("delete task: bump opstamp for split %s: %w", splitID, err)
		}
		return false, nil
	}

	packaged, err := d.Packager.Package(rewritten)
	if err != nil {
		return false, fmt.Errorf("delete task: package rewritten split: %w", err)
	}
	packaged.Metadata.DeleteOpstamp = opstamp

	if _, err := d.Uploader.Upload(ctx, packaged); err != nil {
		return false, fmt.Errorf("delete task: upload rewritten split: %w", err)
	}
	if err := d.Metastore.PublishSplits(ctx, indexUID, []string{packaged.Metadata.SplitID.String()}, []string{splitID}, nil); err != nil {
		return false, fmt.Errorf("delete task: publish rewritten split: %w", err)
	}
	d.logger().Info("delete task: rewrote split", zap.String("old_split_id", splitID), zap.String("new_split_id", packaged.Metadata.SplitID.String()))
	return true, nil
}
