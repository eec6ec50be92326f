package janitor

import (
	"context"

	"go.uber.org/zap"
)

// QueueLister lists the ingest-API queue ids currently on disk. The ingest
// API's local queue storage is an out-of-scope external collaborator
// (spec.md §1); IngestQueueGC depends only on this function and DropQueue.
type QueueLister func(ctx context.Context) ([]string, error)

// DropQueue removes one ingest-API queue and, if a pipeline is still
// reading from it, shuts that pipeline down first. queueID equals the
// index_id the queue was created for.
type DropQueue func(ctx context.Context, queueID string) error

// IngestQueueGC drops local ingest-API queues whose owning index no longer
// exists in the metastore (spec.md §2, "ingest-queue GC"), grounded on the
// original's IngestApiGarbageCollector: list queues, list indexes, drop
// every queue whose id is not also an index id.
type IngestQueueGC struct {
	ListQueues  QueueLister
	ListIndexes func(ctx context.Context) ([]string, error)
	Drop        DropQueue
	Logger      *zap.Logger
}

func (g *IngestQueueGC) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

// IngestQueueGCCounters reports one pass's outcome.
type IngestQueueGCCounters struct {
	QueuesDeleted int
}

// RunOnce performs one pass: list queues, list indexes, drop every queue
// with no corresponding index. A failure listing either side aborts the
// pass without dropping anything, matching the original's behavior of
// logging and rescheduling rather than risking a false-positive drop.
func (g *IngestQueueGC) RunOnce(ctx context.Context) (IngestQueueGCCounters, error) {
	queues, err := g.ListQueues(ctx)
	if err != nil {
		g.logger().Error("ingest queue gc: failed to list queues", zap.Error(err))
		return IngestQueueGCCounters{}, err
	}
	indexes, err := g.ListIndexes(ctx)
	if err != nil {
		g.logger().Error("ingest queue gc: failed to list indexes", zap.Error(err))
		return IngestQueueGCCounters{}, err
	}
	indexSet := make(map[string]bool, len(indexes))
	for _, id := range indexes {
		indexSet[id] = true
	}

	var counters IngestQueueGCCounters
	for _, queueID := range queues {
		if indexSet[queueID] {
			continue
		}
		if err := g.Drop(ctx, queueID); err != nil {
			g.logger().Error("ingest queue gc: failed to delete queue", zap.String("queue_id", queueID), zap.Error(err))
			continue
		}
		counters.QueuesDeleted++
	}
	return counters, nil
}
