package indexing

import (
	"bytes"
	"context"
	"fmt"

	"github.com/thanos-io/objstore"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/quickwit-oss/quickwit-go/internal/checkpoint"
	"github.com/quickwit-oss/quickwit-go/internal/metastore"
	"github.com/quickwit-oss/quickwit-go/internal/types"
)

// PublishRequest is what a successful upload forwards to the Publisher:
// the split that is now safe to publish, plus the checkpoint delta it
// covers.
type PublishRequest struct {
	SplitID string
	Delta   checkpoint.Delta
}

// Uploader stages each packaged split in the Metastore, then uploads its
// bundle to object storage, bounded by a semaphore
// (max_concurrent_split_uploads, spec.md §4.2). On success it forwards a
// PublishRequest; on failure it returns the error so the pipeline's
// supervisor can kill and respawn with backoff, per spec.md §4.2.
type Uploader struct {
	Metastore metastore.Metastore
	Storage   objstore.Bucket
	IndexUID  types.IndexUID
	Sem       *semaphore.Weighted
	Logger    *zap.Logger
}

// Upload stages and uploads one packaged split, returning the
// PublishRequest to forward downstream.
func (u *Uploader) Upload(ctx context.Context, split PackagedSplit) (PublishRequest, error) {
	if err := u.Sem.Acquire(ctx, 1); err != nil {
		return PublishRequest{}, fmt.Errorf("uploader: acquire upload slot: %w", err)
	}
	defer u.Sem.Release(1)

	if err := u.Metastore.StageSplits(ctx, u.IndexUID, []metastore.SplitMetadata{split.Metadata}); err != nil {
		return PublishRequest{}, fmt.Errorf("uploader: stage split %s: %w", split.Metadata.SplitID, err)
	}

	if err := u.Storage.Upload(ctx, split.Key, bytes.NewReader(split.Bundle)); err != nil {
		return PublishRequest{}, fmt.Errorf("uploader: upload bundle for split %s: %w", split.Metadata.SplitID, err)
	}

	logger := u.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("split uploaded",
		zap.String("split_id", split.Metadata.SplitID.String()),
		zap.Uint64("num_docs", split.Metadata.NumDocs))

	return PublishRequest{SplitID: split.Metadata.SplitID.String(), Delta: split.Delta}, nil
}
