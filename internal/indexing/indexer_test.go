package indexing

import (
	"testing"
	"time"

	"github.com/quickwit-oss/quickwit-go/internal/checkpoint"
)

func ts(sec int64) *int64 { return &sec }

func TestIndexerSealsOnMaxNumDocs(t *testing.T) {
	ix := NewIndexer(IndexerConfig{MaxNumDocsPerSplit: 2})
	ix.Add(ProcessedDoc{Raw: []byte("a")}, nil)
	if sealed := ix.SealReady(time.Now()); len(sealed) != 0 {
		t.Fatalf("expected no split sealed yet, got %d", len(sealed))
	}
	ix.Add(ProcessedDoc{Raw: []byte("b")}, nil)
	sealed := ix.SealReady(time.Now())
	if len(sealed) != 1 {
		t.Fatalf("expected 1 split sealed, got %d", len(sealed))
	}
	if sealed[0].NumDocs != 2 {
		t.Fatalf("NumDocs = %d, want 2", sealed[0].NumDocs)
	}
}

func TestIndexerSealsOnMaxBytes(t *testing.T) {
	ix := NewIndexer(IndexerConfig{MaxUncompressedBytes: 3})
	ix.Add(ProcessedDoc{Raw: []byte("ab")}, nil)
	ix.Add(ProcessedDoc{Raw: []byte("cd")}, nil)
	sealed := ix.SealReady(time.Now())
	if len(sealed) != 1 || sealed[0].UncompressedDocsSizeBytes != 4 {
		t.Fatalf("unexpected seal result: %+v", sealed)
	}
}

func TestIndexerSealsOnCommitTimeout(t *testing.T) {
	ix := NewIndexer(IndexerConfig{CommitTimeout: time.Second})
	start := time.Now()
	restoreNow := now
	now = func() time.Time { return start }
	defer func() { now = restoreNow }()

	ix.Add(ProcessedDoc{Raw: []byte("a")}, nil)
	if sealed := ix.SealReady(start.Add(500 * time.Millisecond)); len(sealed) != 0 {
		t.Fatalf("expected no seal before timeout, got %d", len(sealed))
	}
	sealed := ix.SealReady(start.Add(2 * time.Second))
	if len(sealed) != 1 {
		t.Fatalf("expected seal after timeout, got %d", len(sealed))
	}
}

func TestIndexerPartitionsByKey(t *testing.T) {
	ix := NewIndexer(IndexerConfig{MaxNumDocsPerSplit: 1})
	ix.Add(ProcessedDoc{Raw: []byte("a"), PartitionKey: "tenant-1"}, nil)
	ix.Add(ProcessedDoc{Raw: []byte("b"), PartitionKey: "tenant-2"}, nil)
	sealed := ix.SealReady(time.Now())
	if len(sealed) != 2 {
		t.Fatalf("expected one split per partition key, got %d", len(sealed))
	}
}

func TestIndexerTracksTimeRange(t *testing.T) {
	ix := NewIndexer(IndexerConfig{})
	ix.Add(ProcessedDoc{Raw: []byte("a"), Timestamp: ts(100)}, nil)
	ix.Add(ProcessedDoc{Raw: []byte("b"), Timestamp: ts(50)}, nil)
	ix.Add(ProcessedDoc{Raw: []byte("c"), Timestamp: ts(200)}, nil)
	sealed := ix.SealAll()
	if len(sealed) != 1 {
		t.Fatalf("expected 1 split, got %d", len(sealed))
	}
	tr := sealed[0].TimeRange
	if tr == nil || tr.Min != 50 || tr.Max != 200 {
		t.Fatalf("unexpected time range: %+v", tr)
	}
}

func TestIndexerMergesCheckpointDeltaAcrossDocs(t *testing.T) {
	ix := NewIndexer(IndexerConfig{})
	pd1 := map[checkpoint.PartitionID]checkpoint.PartitionDelta{"p0": {From: "0", To: "5"}}
	pd2 := map[checkpoint.PartitionID]checkpoint.PartitionDelta{"p0": {From: "5", To: "10"}}
	ix.Add(ProcessedDoc{Raw: []byte("a")}, pd1)
	ix.Add(ProcessedDoc{Raw: []byte("b")}, pd2)
	sealed := ix.SealAll()
	delta := sealed[0].CheckpointDelta
	if delta["p0"].From != "0" || delta["p0"].To != "10" {
		t.Fatalf("unexpected merged delta: %+v", delta["p0"])
	}
}

func TestIndexerSealAllClearsInFlightBuilders(t *testing.T) {
	ix := NewIndexer(IndexerConfig{})
	ix.Add(ProcessedDoc{Raw: []byte("a")}, nil)
	ix.SealAll()
	if sealed := ix.SealAll(); len(sealed) != 0 {
		t.Fatalf("expected no builders left after SealAll, got %d", len(sealed))
	}
}
