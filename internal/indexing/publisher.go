package indexing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/quickwit-oss/quickwit-go/internal/actor"
	"github.com/quickwit-oss/quickwit-go/internal/checkpoint"
	"github.com/quickwit-oss/quickwit-go/internal/metastore"
	"github.com/quickwit-oss/quickwit-go/internal/types"
)

// Publisher serializes publish_splits calls for one (index_uid, source_id):
// it drains up to MaxBatch PublishRequests queued in its mailbox (one when
// MaxBatch is unset) into a single batch, merges their checkpoint deltas,
// and issues one publish_splits call combining all staged_split_ids
// (spec.md §4.2). replaced_split_ids is always empty here; the merge
// pipeline sets it in its own PublishSplits call (spec.md §4.3).
type Publisher struct {
	Metastore metastore.Metastore
	IndexUID  types.IndexUID
	SourceID  string
	MaxBatch  int
	Logger    *zap.Logger
}

// Drain pulls up to MaxBatch pending requests off mailbox without
// blocking beyond the first item, then publishes them as a single
// transaction. It returns the number of requests published.
func (p *Publisher) Drain(ctx context.Context, mailbox *actor.Mailbox[PublishRequest], kill *actor.KillSwitch) (int, error) {
	var first PublishRequest
	select {
	case req, ok := <-mailbox.Receive():
		if !ok {
			return 0, nil
		}
		first = req
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-kill.Done():
		return 0, nil
	}

	batch := []PublishRequest{first}
	maxBatch := p.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1
	}
drain:
	for len(batch) < maxBatch {
		select {
		case req, ok := <-mailbox.Receive():
			if !ok {
				break drain
			}
			batch = append(batch, req)
		default:
			break drain
		}
	}

	return len(batch), p.publish(ctx, batch)
}

func (p *Publisher) publish(ctx context.Context, batch []PublishRequest) error {
	stagedIDs := make([]string, 0, len(batch))
	merged := make(checkpoint.Delta)
	for _, req := range batch {
		stagedIDs = append(stagedIDs, req.SplitID)
		merged = merged.Merge(req.Delta)
	}

	var delta *metastore.IndexCheckpointDelta
	if !merged.IsEmpty() {
		delta = &metastore.IndexCheckpointDelta{SourceID: p.SourceID, Delta: merged}
	}

	if err := p.Metastore.PublishSplits(ctx, p.IndexUID, stagedIDs, nil, delta); err != nil {
		return fmt.Errorf("publisher: publish_splits for %d splits: %w", len(stagedIDs), err)
	}

	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("splits published", zap.Int("count", len(stagedIDs)), zap.String("source_id", p.SourceID))
	return nil
}
