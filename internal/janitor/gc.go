// Package janitor implements the independent cooperative loops of
// spec.md §4.4: garbage collection, retention policy evaluation, and
// delete-task execution, plus the ingest-queue garbage collector
// (IngestQueueGC). Each loop is single-threaded, idempotent, and may
// be stopped mid-pass without corrupting state; every mutation it makes is
// a single metastore transaction, matching the rest of this repository's
// convention of keeping external-lock-free, single-writer-per-index
// discipline (spec.md §5).
package janitor

import (
	"context"
	"path"
	"time"

	"github.com/thanos-io/objstore"
	"go.uber.org/zap"

	"github.com/quickwit-oss/quickwit-go/internal/metastore"
	"github.com/quickwit-oss/quickwit-go/internal/splitstore"
	"github.com/quickwit-oss/quickwit-go/internal/types"
)

// IndexLister enumerates the indexes a janitor loop should sweep. Kept as
// an injected function rather than a hard dependency on
// Metastore.ListIndexesMetadata so tests can scope a pass to a fixed set.
type IndexLister func(ctx context.Context) ([]types.IndexUID, error)

// GC is the Garbage Collector loop: every pass it deletes the object-storage
// files of every MarkedForDeletion split and then its metastore row, and
// marks orphaned Staged splits (crashed uploaders) for deletion once they
// are older than StagedGracePeriod (spec.md §4.4).
type GC struct {
	Metastore         metastore.Metastore
	Storage           objstore.Bucket
	SplitStore        *splitstore.Store // optional; evicted entries are dropped from the local cache too
	StagedGracePeriod time.Duration
	Logger            *zap.Logger
}

func (g *GC) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

// GCCounters reports one pass's outcome, mirroring the original's
// observable-state pattern (e.g. RetentionPolicyEvaluatorCounters) of
// exposing pass counts for operational visibility.
type GCCounters struct {
	SplitsDeleted       int
	OrphansMarked       int
}

func splitStorageKey(indexID, splitID string) string {
	return path.Join(indexID, splitID+".split")
}

// RunOnce sweeps every index returned by lister exactly once.
func (g *GC) RunOnce(ctx context.Context, lister IndexLister) (GCCounters, error) {
	indexUIDs, err := lister(ctx)
	if err != nil {
		return GCCounters{}, err
	}
	var total GCCounters
	for _, indexUID := range indexUIDs {
		c, err := g.runOnceForIndex(ctx, indexUID)
		if err != nil {
			g.logger().Warn("gc pass failed for index", zap.String("index_uid", indexUID.String()), zap.Error(err))
			continue
		}
		total.SplitsDeleted += c.SplitsDeleted
		total.OrphansMarked += c.OrphansMarked
	}
	return total, nil
}

func (g *GC) runOnceForIndex(ctx context.Context, indexUID types.IndexUID) (GCCounters, error) {
	var counters GCCounters

	markedSplits, err := g.Metastore.ListSplits(ctx, metastore.ForIndex(indexUID.String()).WithSplitStates(metastore.SplitMarkedForDeletion))
	if err != nil {
		return counters, err
	}
	var deletable []string
	for _, s := range markedSplits {
		key := splitStorageKey(indexUID.IndexID, s.SplitMetadata.SplitID.String())
		if err := g.Storage.Delete(ctx, key); err != nil && !g.Storage.IsObjNotFoundErr(err) {
			g.logger().Warn("gc: failed to delete split object", zap.String("key", key), zap.Error(err))
			continue
		}
		deletable = append(deletable, s.SplitMetadata.SplitID.String())
		if g.SplitStore != nil {
			g.SplitStore.Evict(s.SplitMetadata.SplitID.String())
		}
	}
	if len(deletable) > 0 {
		if err := g.Metastore.DeleteSplits(ctx, indexUID, deletable); err != nil {
			return counters, err
		}
		counters.SplitsDeleted = len(deletable)
		g.logger().Info("gc: deleted splits", zap.String("index_uid", indexUID.String()), zap.Int("count", len(deletable)))
	}

	cutoff := time.Now().Add(-g.gracePeriod()).Unix()
	staged, err := g.listStagedOlderThan(ctx, indexUID, cutoff)
	if err != nil {
		return counters, err
	}
	if len(staged) > 0 {
		if err := g.Metastore.MarkSplitsForDeletion(ctx, indexUID, staged); err != nil {
			return counters, err
		}
		counters.OrphansMarked = len(staged)
		g.logger().Info("gc: marked orphaned staged splits for deletion", zap.String("index_uid", indexUID.String()), zap.Int("count", len(staged)))
	}
	return counters, nil
}

func (g *GC) gracePeriod() time.Duration {
	if g.StagedGracePeriod <= 0 {
		return time.Hour
	}
	return g.StagedGracePeriod
}

func (g *GC) listStagedOlderThan(ctx context.Context, indexUID types.IndexUID, cutoffUnix int64) ([]string, error) {
	q := metastore.ForIndex(indexUID.String()).WithSplitStates(metastore.SplitStaged)
	q.UpdateTimestamp.LessThan = &cutoffUnix
	splits, err := g.Metastore.ListSplits(ctx, q)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(splits))
	for _, s := range splits {
		ids = append(ids, s.SplitMetadata.SplitID.String())
	}
	return ids, nil
}
