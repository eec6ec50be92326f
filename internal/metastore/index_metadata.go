package metastore

import (
	"time"

	"github.com/quickwit-oss/quickwit-go/internal/checkpoint"
	"github.com/quickwit-oss/quickwit-go/internal/types"
)

// SourceKind tags the SourceConfig.Params union, replacing the Rust side's
// typetag boxed-trait-object serialization with an explicit tag/payload pair
// (spec.md §9: "never serialize an implementation-specific type name").
type SourceKind string

const (
	SourceFile     SourceKind = "file"
	SourceKafka    SourceKind = "kafka"
	SourceKinesis  SourceKind = "kinesis"
	SourcePulsar   SourceKind = "pulsar"
	SourceIngestAPI SourceKind = "ingest_api"
	SourceIngestCLI SourceKind = "ingest_cli"
	SourceVec      SourceKind = "vec"
	SourceVoid     SourceKind = "void"
)

// Transform is a pre-index document transform applied by the Doc Processor
// before mapping. The transform script language itself (VRL-like) is an
// out-of-scope external collaborator; we only carry its configuration.
type Transform struct {
	Script   string
	Timezone string
}

// SourceConfig configures one ingestion source of an index.
type SourceConfig struct {
	SourceID     string
	NumPipelines int
	Enabled      bool
	Kind         SourceKind
	Params       map[string]string // opaque per-kind parameters (connection strings, topics, ...)
	Transform    *Transform
}

// IndexConfig is the user-supplied configuration of an index: schema/doc
// mapping and indexing/search settings are external collaborators (the
// doc-mapper is out of scope per spec.md §1), so we carry them as an opaque
// document plus the knobs the core coordination layer itself consumes.
type IndexConfig struct {
	IndexID         string
	IndexURI        string
	DocMapping      []byte // opaque serialized doc-mapper configuration
	RetentionPeriod time.Duration
	RetentionSchedule string // cron-like schedule string; RetentionEvaluator does not read it and FileMetastore does not persist it
	RetentionByPublishTime bool // if false, evaluate retention against the split's max time_range instead

	MaxNumDocsPerSplit   uint64
	MaxUncompressedBytes uint64
	CommitTimeout        time.Duration

	Sources []SourceConfig
}

// DeleteTask is a monotonically increasing (per index_uid), immutable
// record of a delete-by-query request (spec.md §3).
type DeleteTask struct {
	Opstamp         uint64
	IndexUID        types.IndexUID
	CreateTimestamp time.Time
	Query           DeleteQuery
}

// DeleteQuery names the documents a DeleteTask targets. The query AST
// itself is an out-of-scope external collaborator (spec.md §1); we carry it
// as an opaque serialized form.
type DeleteQuery struct {
	IndexUID  types.IndexUID
	QueryAST  []byte
	StartTimestamp *int64
	EndTimestamp   *int64
}

// IndexMetadata is the authoritative description of one index: its
// configuration, its per-source checkpoints, and when it was created.
type IndexMetadata struct {
	IndexUID       types.IndexUID
	Config         IndexConfig
	Checkpoints    map[string]checkpoint.SourceCheckpoint // keyed by source_id
	CreateTimestamp time.Time
	Sources        map[string]SourceConfig // keyed by source_id
}

// Clone returns a deep-enough copy so that callers (in particular the
// in-memory file-backed metastore) can hand out a value without aliasing
// mutable maps with their own storage.
func (m IndexMetadata) Clone() IndexMetadata {
	clone := m
	clone.Checkpoints = make(map[string]checkpoint.SourceCheckpoint, len(m.Checkpoints))
	for source, sc := range m.Checkpoints {
		clone.Checkpoints[source] = sc.Clone()
	}
	clone.Sources = make(map[string]SourceConfig, len(m.Sources))
	for id, src := range m.Sources {
		clone.Sources[id] = src
	}
	return clone
}

// SourceCheckpoint returns the checkpoint for source_id, creating an empty
// one if the source has never advanced. Mutating the returned value does
// not mutate m; callers must write it back through the metastore's write
// path.
func (m IndexMetadata) SourceCheckpoint(sourceID string) checkpoint.SourceCheckpoint {
	if sc, ok := m.Checkpoints[sourceID]; ok {
		return sc.Clone()
	}
	return checkpoint.SourceCheckpoint{}
}
