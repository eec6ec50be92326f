package janitor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/thanos-io/objstore"

	"github.com/quickwit-oss/quickwit-go/internal/metastore"
	"github.com/quickwit-oss/quickwit-go/internal/types"
)

// rewindSplitUpdateTimestamp reaches into an index's persisted metastore.json
// and backdates every split row's update_timestamp, standing in for the
// passage of time without depending on a wall-clock sleep.
func rewindSplitUpdateTimestamp(t *testing.T, bkt objstore.Bucket, indexID string, ts int64) {
	t.Helper()
	ctx := context.Background()
	key := indexID + "/metastore.json"
	r, err := bkt.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get metastore.json: %v", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read metastore.json: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal metastore.json: %v", err)
	}
	splits, _ := doc["splits"].([]interface{})
	for _, s := range splits {
		row, ok := s.(map[string]interface{})
		if !ok {
			continue
		}
		row["update_timestamp"] = ts
	}
	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal metastore.json: %v", err)
	}
	if err := bkt.Upload(ctx, key, bytes.NewReader(out)); err != nil {
		t.Fatalf("re-upload metastore.json: %v", err)
	}
}

func newTestIndex(t *testing.T, m *metastore.FileMetastore, indexID string) types.IndexUID {
	t.Helper()
	indexUID, err := m.CreateIndex(context.Background(), metastore.IndexConfig{IndexID: indexID, IndexURI: indexID})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	return indexUID
}

func stageSplit(t *testing.T, m *metastore.FileMetastore, indexUID types.IndexUID, splitID ulid.ULID) {
	t.Helper()
	err := m.StageSplits(context.Background(), indexUID, []metastore.SplitMetadata{{
		SplitID:   splitID,
		IndexUID:  indexUID,
		NumDocs:   10,
	}})
	if err != nil {
		t.Fatalf("StageSplits: %v", err)
	}
}

// TestGCDeletesMarkedSplits is scenario S3's back half: a split marked for
// deletion has its object removed and its metastore row removed.
func TestGCDeletesMarkedSplits(t *testing.T) {
	bkt := objstore.NewInMemBucket()
	m := metastore.NewFileMetastore(bkt, nil)
	ctx := context.Background()
	indexUID := newTestIndex(t, m, "idx-a")

	splitID := ulid.Make()
	stageSplit(t, m, indexUID, splitID)
	key := splitStorageKey(indexUID.IndexID, splitID.String())
	if err := bkt.Upload(ctx, key, strings.NewReader("bytes")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := m.MarkSplitsForDeletion(ctx, indexUID, []string{splitID.String()}); err != nil {
		t.Fatalf("MarkSplitsForDeletion: %v", err)
	}

	gc := &GC{Metastore: m, Storage: bkt}
	counters, err := gc.RunOnce(ctx, func(context.Context) ([]types.IndexUID, error) {
		return []types.IndexUID{indexUID}, nil
	})
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if counters.SplitsDeleted != 1 {
		t.Fatalf("SplitsDeleted = %d, want 1", counters.SplitsDeleted)
	}
	if exists, _ := bkt.Exists(ctx, key); exists {
		t.Fatal("expected split object to be deleted")
	}
	splits, err := m.ListSplits(ctx, metastore.ForIndex(indexUID.String()))
	if err != nil {
		t.Fatalf("ListSplits: %v", err)
	}
	if len(splits) != 0 {
		t.Fatalf("expected split row removed, got %+v", splits)
	}
}

// TestGCLeavesFreshStagedSplitsAlone is scenario S3's front half: a
// recently staged split is not touched until it ages past the grace
// period.
func TestGCLeavesFreshStagedSplitsAlone(t *testing.T) {
	bkt := objstore.NewInMemBucket()
	m := metastore.NewFileMetastore(bkt, nil)
	ctx := context.Background()
	indexUID := newTestIndex(t, m, "idx-b")
	splitID := ulid.Make()
	stageSplit(t, m, indexUID, splitID)

	gc := &GC{Metastore: m, Storage: bkt, StagedGracePeriod: time.Hour}
	counters, err := gc.RunOnce(ctx, func(context.Context) ([]types.IndexUID, error) {
		return []types.IndexUID{indexUID}, nil
	})
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if counters.OrphansMarked != 0 {
		t.Fatalf("expected no orphans marked for a freshly staged split, got %d", counters.OrphansMarked)
	}
}

func TestGCMarksOldOrphanedStagedSplits(t *testing.T) {
	bkt := objstore.NewInMemBucket()
	m := metastore.NewFileMetastore(bkt, nil)
	ctx := context.Background()
	indexUID := newTestIndex(t, m, "idx-c")
	splitID := ulid.Make()
	stageSplit(t, m, indexUID, splitID)
	rewindSplitUpdateTimestamp(t, bkt, indexUID.IndexID, time.Now().Add(-2*time.Hour).Unix())

	gc := &GC{Metastore: m, Storage: bkt, StagedGracePeriod: time.Hour}
	counters, err := gc.RunOnce(ctx, func(context.Context) ([]types.IndexUID, error) {
		return []types.IndexUID{indexUID}, nil
	})
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if counters.OrphansMarked != 1 {
		t.Fatalf("OrphansMarked = %d, want 1", counters.OrphansMarked)
	}
	splits, err := m.ListSplits(ctx, metastore.ForIndex(indexUID.String()).WithSplitStates(metastore.SplitMarkedForDeletion))
	if err != nil {
		t.Fatalf("ListSplits: %v", err)
	}
	if len(splits) != 1 {
		t.Fatalf("expected the orphaned split marked for deletion, got %+v", splits)
	}
}
