// Package metastore is the authoritative, transactional store of index
// configs, splits, sources, and delete tasks (spec.md §4.1). Every method
// below is a single serializable transaction against one IndexUID unless
// stated otherwise.
package metastore

import (
	"context"

	"github.com/quickwit-oss/quickwit-go/internal/checkpoint"
	"github.com/quickwit-oss/quickwit-go/internal/types"
)

// IndexCheckpointDelta is the checkpoint advancement carried by a
// publish_splits call: the source it applies to, plus the per-partition
// delta.
type IndexCheckpointDelta struct {
	SourceID string
	Delta    checkpoint.Delta
}

// IndexUpdate names the mutable subset of IndexConfig that update_index may
// change; nil fields are left untouched.
type IndexUpdate struct {
	RetentionPeriod *int64 // nanoseconds; reusing the wire-friendly scalar instead of time.Duration
	MaxNumDocsPerSplit   *uint64
	MaxUncompressedBytes *uint64
	CommitTimeoutSeconds *int64
}

// Metastore is the contract every backend (file-backed, relational) must
// satisfy. See spec.md §4.1 for the full narrative of each operation, and
// §3's invariants I1-I5 for what every implementation must preserve across
// concurrent callers.
type Metastore interface {
	CreateIndex(ctx context.Context, cfg IndexConfig) (types.IndexUID, error)
	UpdateIndex(ctx context.Context, indexUID types.IndexUID, update IndexUpdate) (IndexMetadata, error)
	DeleteIndex(ctx context.Context, indexUID types.IndexUID) error
	ListIndexesMetadata(ctx context.Context, indexIDPatterns []string) ([]IndexMetadata, error)
	IndexMetadata(ctx context.Context, indexUID types.IndexUID) (IndexMetadata, error)
	IndexMetadataByID(ctx context.Context, indexID string) (IndexMetadata, error)

	AddSource(ctx context.Context, indexUID types.IndexUID, source SourceConfig) error
	DeleteSource(ctx context.Context, indexUID types.IndexUID, sourceID string) error
	ToggleSource(ctx context.Context, indexUID types.IndexUID, sourceID string, enable bool) error
	ResetSourceCheckpoint(ctx context.Context, indexUID types.IndexUID, sourceID string) error

	StageSplits(ctx context.Context, indexUID types.IndexUID, splits []SplitMetadata) error
	PublishSplits(ctx context.Context, indexUID types.IndexUID, stagedSplitIDs, replacedSplitIDs []string, delta *IndexCheckpointDelta) error
	ListSplits(ctx context.Context, query ListSplitsQuery) ([]Split, error)
	MarkSplitsForDeletion(ctx context.Context, indexUID types.IndexUID, splitIDs []string) error
	DeleteSplits(ctx context.Context, indexUID types.IndexUID, splitIDs []string) error

	LastDeleteOpstamp(ctx context.Context, indexUID types.IndexUID) (uint64, error)
	CreateDeleteTask(ctx context.Context, query DeleteQuery) (DeleteTask, error)
	ListDeleteTasks(ctx context.Context, indexUID types.IndexUID, opstampStart uint64) ([]DeleteTask, error)
	UpdateSplitsDeleteOpstamp(ctx context.Context, indexUID types.IndexUID, splitIDs []string, opstamp uint64) error

	// ListStaleSplits returns Published splits with delete_opstamp strictly
	// below deleteOpstamp, oldest-first, truncated to numSplits. Supplemented
	// from the original's default trait method (SPEC_FULL.md §2).
	ListStaleSplits(ctx context.Context, indexUID types.IndexUID, deleteOpstamp uint64, numSplits int) ([]Split, error)
}
