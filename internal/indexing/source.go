// Package indexing implements the per-(index_uid, source_id, pipeline_ord)
// actor graph of spec.md §4.2: Source -> Doc Processor -> Indexer ->
// Packager -> Uploader -> Publisher, wired together with bounded mailboxes
// (internal/actor) and supervised respawn.
package indexing

import (
	"context"
	"errors"

	"github.com/quickwit-oss/quickwit-go/internal/checkpoint"
)

// ErrSourceExhausted is returned by a finite Source once it has no more
// batches to produce. Infinite sources (Kafka, Kinesis, ...) never return
// it.
var ErrSourceExhausted = errors.New("indexing: source exhausted")

// RawBatch is one unit of work out of a Source: a set of raw document
// bytes plus, for every partition touched, the checkpoint range this batch
// covers.
type RawBatch struct {
	Docs               [][]byte
	PartitionPositions map[checkpoint.PartitionID]checkpoint.PartitionDelta
}

// Source produces a lazy sequence of RawBatches and must be resumable from
// a checkpoint supplied at construction time (spec.md §4.2). The concrete
// wire protocol per source kind (Kafka consumer, file reader, ...) is an
// out-of-scope external collaborator; pipelines depend only on this
// interface.
type Source interface {
	// Next blocks until a batch is available, ctx is done, or the source is
	// exhausted (ErrSourceExhausted).
	Next(ctx context.Context) (RawBatch, error)
}
