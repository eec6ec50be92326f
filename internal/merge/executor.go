package merge

import (
	"bytes"
	"fmt"
	"os"

	"github.com/quickwit-oss/quickwit-go/internal/bundle"
	"github.com/quickwit-oss/quickwit-go/internal/indexing"
	"github.com/quickwit-oss/quickwit-go/internal/metastore"
)

// SourceSplit is one downloaded split ready to be merged: its local bundle
// path plus the metastore row describing it.
type SourceSplit struct {
	LocalPath string
	Metadata  metastore.SplitMetadata
}

// DeletePredicate reports whether a raw document should be dropped by a
// pending delete task. Matching a delete query's predicate against document
// fields is the search/query engine's job, an out-of-scope external
// collaborator (spec.md §1); the Executor only applies the verdict.
type DeletePredicate func(doc []byte) bool

// Executor opens the downloaded source splits, performs an N-way merge
// into one logical split while honoring pending delete tasks, and reports
// the highest delete_opstamp it applied (spec.md §4.3).
type Executor struct {
	Delete DeletePredicate
}

// Merge reads every file body out of each source split's bundle (skipping
// its hot cache and metadata blobs), concatenates the surviving documents
// across all sources, and unions their time ranges. maxOpstamp is the
// highest opstamp among the DeleteTasks the caller has chosen to apply;
// it becomes the merged split's DeleteOpstamp.
func (e *Executor) Merge(sources []SourceSplit, maxOpstamp uint64) (indexing.IndexedSplit, uint64, error) {
	if len(sources) < 2 {
		return indexing.IndexedSplit{}, 0, fmt.Errorf("merge: need at least 2 source splits, got %d", len(sources))
	}

	var merged indexing.IndexedSplit
	for _, src := range sources {
		docs, timeRange, err := e.readDocs(src)
		if err != nil {
			return indexing.IndexedSplit{}, 0, fmt.Errorf("merge: read split %s: %w", src.Metadata.SplitID, err)
		}
		for _, doc := range docs {
			if e.Delete != nil && e.Delete(doc) {
				continue
			}
			merged.Docs = append(merged.Docs, doc)
			merged.NumDocs++
			merged.UncompressedDocsSizeBytes += uint64(len(doc))
		}
		merged.TimeRange = unionTimeRange(merged.TimeRange, timeRange)
		if src.Metadata.DeleteOpstamp > maxOpstamp {
			maxOpstamp = src.Metadata.DeleteOpstamp
		}
	}
	return merged, maxOpstamp, nil
}

// Rewrite re-materializes a single split with documents matching e.Delete
// removed, without merging it against any other split. This is the same
// document-filtering logic Merge applies per source, used standalone by
// the janitor's Delete Task Executor (spec.md §4.4) when a stale split
// needs its matching documents purged but has no merge partner.
func (e *Executor) Rewrite(source SourceSplit, maxOpstamp uint64) (indexing.IndexedSplit, uint64, error) {
	docs, timeRange, err := e.readDocs(source)
	if err != nil {
		return indexing.IndexedSplit{}, 0, fmt.Errorf("merge: read split %s: %w", source.Metadata.SplitID, err)
	}
	var rewritten indexing.IndexedSplit
	for _, doc := range docs {
		if e.Delete != nil && e.Delete(doc) {
			continue
		}
		rewritten.Docs = append(rewritten.Docs, doc)
		rewritten.NumDocs++
		rewritten.UncompressedDocsSizeBytes += uint64(len(doc))
	}
	rewritten.TimeRange = timeRange
	if source.Metadata.DeleteOpstamp > maxOpstamp {
		maxOpstamp = source.Metadata.DeleteOpstamp
	}
	return rewritten, maxOpstamp, nil
}

func (e *Executor) readDocs(src SourceSplit) ([][]byte, *metastore.TimeRange, error) {
	data, err := os.ReadFile(src.LocalPath)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(data)) < src.Metadata.FooterOffsets.End {
		return nil, nil, fmt.Errorf("bundle shorter than recorded footer offsets")
	}
	trailer := data[src.Metadata.FooterOffsets.Start:src.Metadata.FooterOffsets.End]
	footer, err := bundle.DecodeTrailer(trailer, src.Metadata.FooterOffsets.End)
	if err != nil {
		return nil, nil, err
	}
	body := data[:footer.HotcacheStart]
	docs := splitDocBodies(body)
	return docs, src.Metadata.TimeRange, nil
}

// splitDocBodies is a placeholder document-boundary scheme: the bundle
// format itself does not delimit individual document bodies within the
// file-body region (that's the index format's concern, out of scope per
// spec.md §1), so the body region is split on zero bytes and each segment is
// taken as one document. A body with no zero byte comes back as a single
// document; a document whose bytes contain a zero byte is split apart.
func splitDocBodies(body []byte) [][]byte {
	if len(body) == 0 {
		return nil
	}
	return bytes.Split(body, []byte{0})
}

func unionTimeRange(a, b *metastore.TimeRange) *metastore.TimeRange {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	min, max := a.Min, a.Max
	if b.Min < min {
		min = b.Min
	}
	if b.Max > max {
		max = b.Max
	}
	return &metastore.TimeRange{Min: min, Max: max}
}
