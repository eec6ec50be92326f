package indexing

import (
	"time"

	"github.com/quickwit-oss/quickwit-go/internal/checkpoint"
	"github.com/quickwit-oss/quickwit-go/internal/metastore"
)

// IndexerConfig bounds when a split is sealed (spec.md §4.2).
type IndexerConfig struct {
	MaxNumDocsPerSplit   uint64
	MaxUncompressedBytes uint64
	CommitTimeout        time.Duration
}

// IndexedSplit is what the Indexer hands to the Packager once a split is
// sealed: the raw document bytes that will become its body, the checkpoint
// range it covers, and the bits of SplitMetadata the Indexer itself can
// compute (doc counts, byte size, time range).
type IndexedSplit struct {
	Docs                      [][]byte
	NumDocs                   uint64
	UncompressedDocsSizeBytes uint64
	TimeRange                 *metastore.TimeRange
	CheckpointDelta           checkpoint.Delta
}

// builder accumulates one in-flight split for one partition key.
type builder struct {
	docs              [][]byte
	numDocs           uint64
	uncompressedBytes uint64
	timeRange         *metastore.TimeRange
	delta             checkpoint.Delta
	firstDocAt        time.Time
}

func newBuilder() *builder {
	return &builder{firstDocAt: now(), delta: make(checkpoint.Delta)}
}

func (b *builder) add(doc ProcessedDoc, pd map[checkpoint.PartitionID]checkpoint.PartitionDelta) {
	b.docs = append(b.docs, doc.Raw)
	b.numDocs++
	b.uncompressedBytes += uint64(len(doc.Raw))
	if doc.Timestamp != nil {
		if b.timeRange == nil {
			b.timeRange = &metastore.TimeRange{Min: *doc.Timestamp, Max: *doc.Timestamp}
		} else {
			if *doc.Timestamp < b.timeRange.Min {
				b.timeRange.Min = *doc.Timestamp
			}
			if *doc.Timestamp > b.timeRange.Max {
				b.timeRange.Max = *doc.Timestamp
			}
		}
	}
	b.delta = b.delta.Merge(checkpoint.Delta(pd))
}

func (b *builder) seal() IndexedSplit {
	return IndexedSplit{
		Docs:                      b.docs,
		NumDocs:                   b.numDocs,
		UncompressedDocsSizeBytes: b.uncompressedBytes,
		TimeRange:                 b.timeRange,
		CheckpointDelta:           b.delta,
	}
}

// Indexer groups ProcessedDocs by partition key into in-memory split
// builders, sealing one whenever any of the configured thresholds is
// crossed (spec.md §4.2).
type Indexer struct {
	cfg      IndexerConfig
	builders map[string]*builder
}

// NewIndexer returns an Indexer with no in-flight builders.
func NewIndexer(cfg IndexerConfig) *Indexer {
	return &Indexer{cfg: cfg, builders: make(map[string]*builder)}
}

// Add feeds one document into the builder for its partition key. pd is the
// checkpoint delta contribution this document's source batch covers; the
// caller (the pipeline's per-stage loop) passes the same map for every
// document in a batch.
func (ix *Indexer) Add(doc ProcessedDoc, pd map[checkpoint.PartitionID]checkpoint.PartitionDelta) {
	b, ok := ix.builders[doc.PartitionKey]
	if !ok {
		b = newBuilder()
		ix.builders[doc.PartitionKey] = b
	}
	b.add(doc, pd)
}

// SealReady seals and returns every builder that has crossed a threshold,
// removing them from the in-flight set. asOf is the instant to measure
// commit timeouts against (normally time.Now(), injected for tests).
func (ix *Indexer) SealReady(asOf time.Time) []IndexedSplit {
	var sealed []IndexedSplit
	for key, b := range ix.builders {
		if ix.shouldSeal(b, asOf) {
			sealed = append(sealed, b.seal())
			delete(ix.builders, key)
		}
	}
	return sealed
}

// SealAll force-seals every in-flight builder regardless of threshold,
// used when the pipeline is shutting down cleanly (e.g. source exhausted).
func (ix *Indexer) SealAll() []IndexedSplit {
	var sealed []IndexedSplit
	for key, b := range ix.builders {
		if b.numDocs > 0 {
			sealed = append(sealed, b.seal())
		}
		delete(ix.builders, key)
	}
	return sealed
}

func (ix *Indexer) shouldSeal(b *builder, asOf time.Time) bool {
	if ix.cfg.MaxNumDocsPerSplit > 0 && b.numDocs >= ix.cfg.MaxNumDocsPerSplit {
		return true
	}
	if ix.cfg.MaxUncompressedBytes > 0 && b.uncompressedBytes >= ix.cfg.MaxUncompressedBytes {
		return true
	}
	if ix.cfg.CommitTimeout > 0 && b.numDocs > 0 && asOf.Sub(b.firstDocAt) >= ix.cfg.CommitTimeout {
		return true
	}
	return false
}
