package merge

import (
	"context"
	"fmt"

	"github.com/quickwit-oss/quickwit-go/internal/indexing"
	"github.com/quickwit-oss/quickwit-go/internal/metastore"
)

// Pipeline drives one merge operation end to end: download every source
// split, execute the N-way merge, reuse internal/indexing's
// Packager/Uploader, then call Metastore.PublishSplits directly with
// replaced_split_ids set to the merged-away splits and no checkpoint delta
// (spec.md §4.3).
type Pipeline struct {
	Downloader *Downloader
	Executor   *Executor
	Packager   *indexing.Packager
	Uploader   *indexing.Uploader
	Metastore  metastore.Metastore
}

// Run executes one Operation: downloads op's splits, merges them, packages
// and uploads the result, then publishes it as a replacement.
func (p *Pipeline) Run(ctx context.Context, op Operation, sourceMeta map[string]metastore.SplitMetadata, storageKeys map[string]string, maxDeleteOpstamp uint64) error {
	sources := make([]SourceSplit, 0, len(op.SplitIDs))
	for _, id := range op.SplitIDs {
		meta, ok := sourceMeta[id]
		if !ok {
			return fmt.Errorf("merge: no metadata for split %s", id)
		}
		localPath, err := p.Downloader.Download(ctx, id, storageKeys[id])
		if err != nil {
			return err
		}
		sources = append(sources, SourceSplit{LocalPath: localPath, Metadata: meta})
	}

	merged, opstamp, err := p.Executor.Merge(sources, maxDeleteOpstamp)
	if err != nil {
		return err
	}

	packaged, err := p.Packager.Package(merged)
	if err != nil {
		return err
	}
	packaged.Metadata.DeleteOpstamp = opstamp

	// Upload stages and uploads the merged split; its returned
	// PublishRequest carries no checkpoint delta for merges (spec.md §4.3),
	// so we publish directly with the replaced source ids instead of going
	// through indexing.Publisher's batching path.
	if _, err := p.Uploader.Upload(ctx, packaged); err != nil {
		return err
	}
	if err := p.Metastore.PublishSplits(ctx, p.Packager.IndexUID, []string{packaged.Metadata.SplitID.String()}, op.SplitIDs, nil); err != nil {
		return fmt.Errorf("merge: publish merged split: %w", err)
	}
	return nil
}
