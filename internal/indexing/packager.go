package indexing

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/quickwit-oss/quickwit-go/internal/bundle"
	"github.com/quickwit-oss/quickwit-go/internal/checkpoint"
	"github.com/quickwit-oss/quickwit-go/internal/metastore"
	"github.com/quickwit-oss/quickwit-go/internal/types"
)

// TagExtractor derives the bounded tag set used for split pruning from a
// split's raw documents. The tagging field set is doc-mapping configuration,
// an out-of-scope external collaborator; pipelines supply a function.
type TagExtractor func(docs [][]byte) []string

// PackagedSplit is what the Packager hands to the Uploader: the encoded
// bundle bytes ready to upload, its object-storage key, and its finalized
// SplitMetadata.
type PackagedSplit struct {
	Key      string
	Bundle   []byte
	Metadata metastore.SplitMetadata
	Delta    checkpoint.Delta
}

// Packager computes a split's hot cache and tag set, finalizes its
// SplitMetadata, and encodes the bundle (spec.md §4.2). The hot cache's
// actual content -- which byte ranges of the underlying columnar/full-text
// index are "frequently needed by searchers" -- is produced by the index
// format itself, an out-of-scope external collaborator (spec.md §1
// excludes the storage/indexing format internals); HotcacheBuilder stands
// in for it.
type Packager struct {
	IndexUID     types.IndexUID
	IndexURI     string
	SourceID     string
	NodeID       string
	Tags         TagExtractor
	HotcacheBuilder func(docs [][]byte) []byte
	MaturationPeriod time.Duration
}

// Package finalizes one IndexedSplit into a PackagedSplit.
func (p *Packager) Package(split IndexedSplit) (PackagedSplit, error) {
	splitID := ulid.Make()

	var hotcache []byte
	if p.HotcacheBuilder != nil {
		hotcache = p.HotcacheBuilder(split.Docs)
	}
	var tags []string
	if p.Tags != nil {
		tags = p.Tags(split.Docs)
	}

	createTimestamp := now()
	maturity := metastore.Maturity{Mature: p.MaturationPeriod <= 0, MaturationAt: createTimestamp.Add(p.MaturationPeriod)}

	meta := metastore.SplitMetadata{
		SplitID:                   splitID,
		IndexUID:                  p.IndexUID,
		SourceID:                  p.SourceID,
		NodeID:                    p.NodeID,
		NumDocs:                   split.NumDocs,
		UncompressedDocsSizeBytes: split.UncompressedDocsSizeBytes,
		TimeRange:                 split.TimeRange,
		CreateTimestamp:           createTimestamp,
		Maturity:                  maturity,
		Tags:                      tags,
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return PackagedSplit{}, err
	}

	files := make([]bundle.File, 0, len(split.Docs))
	for i, doc := range split.Docs {
		files = append(files, bundle.File{Name: docFileName(i), Body: doc})
	}
	encoded, _, err := bundle.Encode(files, hotcache, metaBytes)
	if err != nil {
		return PackagedSplit{}, err
	}
	meta.FooterOffsets = metastore.FooterOffsets{
		Start: uint64(len(encoded)) - 12,
		End:   uint64(len(encoded)),
	}

	return PackagedSplit{
		Key:      p.IndexURI + "/" + splitID.String() + ".split",
		Bundle:   encoded,
		Metadata: meta,
		Delta:    split.CheckpointDelta,
	}, nil
}

func docFileName(i int) string {
	return "doc_" + strconv.Itoa(i)
}
