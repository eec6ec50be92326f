package controlplane

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/thanos-io/objstore"

	"github.com/quickwit-oss/quickwit-go/internal/actor"
	"github.com/quickwit-oss/quickwit-go/internal/metastore"
)

// blockingRun runs until its kill switch trips, recording that it started.
func blockingRun(started chan<- struct{}) RunFunc {
	return func(ctx context.Context, kill *actor.KillSwitch) error {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-ctx.Done():
			return nil
		case <-kill.Done():
			return nil
		}
	}
}

func TestReconcileSpawnsOnePipelinePerEnabledSource(t *testing.T) {
	ctx := context.Background()
	bkt := objstore.NewInMemBucket()
	m := metastore.NewFileMetastore(bkt, nil)
	indexUID, err := m.CreateIndex(ctx, metastore.IndexConfig{IndexID: "idx-a", IndexURI: "idx-a"})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := m.AddSource(ctx, indexUID, metastore.SourceConfig{SourceID: "src-1", Enabled: true, NumPipelines: 2}); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	if err := m.AddSource(ctx, indexUID, metastore.SourceConfig{SourceID: "src-2", Enabled: false, NumPipelines: 1}); err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	var mu sync.Mutex
	spawned := make(map[PipelineKey]bool)
	started := make(chan struct{}, 8)
	cp := &ControlPlane{
		Metastore: m,
		Factory: func(ctx context.Context, key PipelineKey) (RunFunc, error) {
			mu.Lock()
			spawned[key] = true
			mu.Unlock()
			return blockingRun(started), nil
		},
	}

	if err := cp.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for spawned pipeline to start")
		}
	}

	running := cp.Running()
	if len(running) != 2 {
		t.Fatalf("Running() = %v, want 2 entries (one per pipeline_ord of the enabled source)", running)
	}
	mu.Lock()
	n := len(spawned)
	mu.Unlock()
	if n != 2 {
		t.Fatalf("factory called %d times, want 2 (disabled source must not spawn)", n)
	}

	cp.stopAll()
	if len(cp.Running()) != 0 {
		t.Fatal("expected stopAll to clear the running set")
	}
}

func TestReconcileStopsPipelinesForDisabledSource(t *testing.T) {
	ctx := context.Background()
	bkt := objstore.NewInMemBucket()
	m := metastore.NewFileMetastore(bkt, nil)
	indexUID, err := m.CreateIndex(ctx, metastore.IndexConfig{IndexID: "idx-b", IndexURI: "idx-b"})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := m.AddSource(ctx, indexUID, metastore.SourceConfig{SourceID: "src-1", Enabled: true, NumPipelines: 1}); err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	started := make(chan struct{}, 4)
	cp := &ControlPlane{
		Metastore: m,
		Factory: func(ctx context.Context, key PipelineKey) (RunFunc, error) {
			return blockingRun(started), nil
		},
	}
	if err := cp.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial spawn")
	}
	if len(cp.Running()) != 1 {
		t.Fatalf("Running() = %v, want 1", cp.Running())
	}

	if err := m.ToggleSource(ctx, indexUID, "src-1", false); err != nil {
		t.Fatalf("ToggleSource: %v", err)
	}
	if err := cp.Reconcile(ctx); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if len(cp.Running()) != 0 {
		t.Fatalf("Running() = %v, want 0 after disabling the only source", cp.Running())
	}
}

func TestReconcileSurfacesFactoryErrorsWithoutAbortingOtherSpawns(t *testing.T) {
	ctx := context.Background()
	bkt := objstore.NewInMemBucket()
	m := metastore.NewFileMetastore(bkt, nil)
	indexUID, err := m.CreateIndex(ctx, metastore.IndexConfig{IndexID: "idx-c", IndexURI: "idx-c"})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := m.AddSource(ctx, indexUID, metastore.SourceConfig{SourceID: "bad", Enabled: true, NumPipelines: 1}); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	if err := m.AddSource(ctx, indexUID, metastore.SourceConfig{SourceID: "good", Enabled: true, NumPipelines: 1}); err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	started := make(chan struct{}, 4)
	cp := &ControlPlane{
		Metastore: m,
		Factory: func(ctx context.Context, key PipelineKey) (RunFunc, error) {
			if key.SourceID == "bad" {
				return nil, fmt.Errorf("cannot build source")
			}
			return blockingRun(started), nil
		},
	}
	if err := cp.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile should not fail the whole pass on one factory error: %v", err)
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the good pipeline to spawn")
	}
	running := cp.Running()
	if len(running) != 1 || running[0].SourceID != "good" {
		t.Fatalf("Running() = %v, want only the good source", running)
	}
	cp.stopAll()
}
