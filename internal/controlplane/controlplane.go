// Package controlplane is the Control Plane Supervisor of spec.md §2: it
// owns the set of indexing pipelines running on this indexer process and
// reacts to metastore changes by reconciling that set against what the
// current IndexMetadata says should be running.
//
// Building and wiring an actual indexing.Pipeline (its Source,
// DocProcessor, Indexer, Packager, Uploader, Publisher) requires knowledge
// of a source's kind and connection parameters that is itself an
// out-of-scope external collaborator (spec.md §1); ControlPlane depends
// only on a caller-supplied PipelineFactory, mirroring the rest of this
// repository's practice of depending on the narrowest interface a
// component actually needs.
package controlplane

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quickwit-oss/quickwit-go/internal/actor"
	"github.com/quickwit-oss/quickwit-go/internal/metastore"
	"github.com/quickwit-oss/quickwit-go/internal/types"
)

// PipelineKey identifies one supervised pipeline instance: one ordinal
// worker of one source of one index, matching spec.md §4.2's "a supervised
// actor graph per (index_uid, source_id, pipeline_ord)".
type PipelineKey struct {
	IndexUID    types.IndexUID
	SourceID    string
	PipelineOrd int
}

func (k PipelineKey) String() string {
	return fmt.Sprintf("%s/%s#%d", k.IndexUID, k.SourceID, k.PipelineOrd)
}

// RunFunc is one pipeline instance's supervised body, matching the shape
// of indexing.Pipeline.Run: it runs until ctx is done, the kill switch
// trips, or the stage graph fails.
type RunFunc func(ctx context.Context, kill *actor.KillSwitch) error

// PipelineFactory builds the RunFunc for a newly desired pipeline
// instance. Returning an error aborts that one spawn attempt; ControlPlane
// retries it on the next Reconcile pass.
type PipelineFactory func(ctx context.Context, key PipelineKey) (RunFunc, error)

// ControlPlane tracks the desired-vs-running pipeline set for every index
// this process is responsible for and keeps them converged (spec.md §2,
// "Control plane supervisor"). It does not itself perform leader election
// across indexer nodes; spec.md §9 assigns that to deployment-level
// routing ("the control plane enforces this by routing all mutations to
// one process") which is out of scope here the same way object-storage
// clients are.
type ControlPlane struct {
	Metastore metastore.Metastore
	Factory   PipelineFactory
	Policy    actor.RetryPolicy
	Logger    *zap.Logger

	mu      sync.Mutex
	running map[PipelineKey]*runningPipeline
}

type runningPipeline struct {
	cancel context.CancelFunc
	kill   *actor.KillSwitch
	done   chan struct{}
}

func (c *ControlPlane) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// Run polls Reconcile every interval until ctx is done, then stops every
// pipeline it owns before returning.
func (c *ControlPlane) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := c.Reconcile(ctx); err != nil {
		c.logger().Warn("control plane: initial reconcile failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			c.stopAll()
			return nil
		case <-ticker.C:
			if err := c.Reconcile(ctx); err != nil {
				c.logger().Warn("control plane: reconcile failed", zap.Error(err))
			}
		}
	}
}

// Reconcile computes the desired pipeline set from the metastore's current
// IndexMetadata and converges the running set to match: missing pipelines
// are spawned, pipelines for deleted indexes or disabled/removed sources
// are stopped.
func (c *ControlPlane) Reconcile(ctx context.Context) error {
	indexes, err := c.Metastore.ListIndexesMetadata(ctx, nil)
	if err != nil {
		return fmt.Errorf("control plane: list indexes: %w", err)
	}

	desired := make(map[PipelineKey]bool)
	for _, idx := range indexes {
		for sourceID, src := range idx.Sources {
			if !src.Enabled {
				continue
			}
			n := src.NumPipelines
			if n <= 0 {
				n = 1
			}
			for ord := 0; ord < n; ord++ {
				desired[PipelineKey{IndexUID: idx.IndexUID, SourceID: sourceID, PipelineOrd: ord}] = true
			}
		}
	}

	c.mu.Lock()
	if c.running == nil {
		c.running = make(map[PipelineKey]*runningPipeline)
	}
	var toStop []PipelineKey
	for key := range c.running {
		if !desired[key] {
			toStop = append(toStop, key)
		}
	}
	var toStart []PipelineKey
	for key := range desired {
		if _, ok := c.running[key]; !ok {
			toStart = append(toStart, key)
		}
	}
	c.mu.Unlock()

	for _, key := range toStop {
		c.stop(key)
	}
	for _, key := range toStart {
		if err := c.spawn(ctx, key); err != nil {
			c.logger().Warn("control plane: failed to spawn pipeline", zap.String("pipeline", key.String()), zap.Error(err))
		}
	}
	return nil
}

func (c *ControlPlane) spawn(ctx context.Context, key PipelineKey) error {
	run, err := c.Factory(ctx, key)
	if err != nil {
		return err
	}

	pipelineCtx, cancel := context.WithCancel(ctx)
	kill := actor.NewKillSwitch()
	done := make(chan struct{})

	c.mu.Lock()
	c.running[key] = &runningPipeline{cancel: cancel, kill: kill, done: done}
	c.mu.Unlock()

	supervisor := &actor.Supervisor{Name: key.String(), Policy: c.Policy, Logger: c.Logger}
	go func() {
		defer close(done)
		if err := supervisor.Run(pipelineCtx, kill, run); err != nil {
			c.logger().Error("control plane: pipeline exhausted its retry budget", zap.String("pipeline", key.String()), zap.Error(err))
		}
	}()
	c.logger().Info("control plane: spawned pipeline", zap.String("pipeline", key.String()))
	return nil
}

func (c *ControlPlane) stop(key PipelineKey) {
	c.mu.Lock()
	rp, ok := c.running[key]
	if ok {
		delete(c.running, key)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	rp.kill.Trip()
	rp.cancel()
	<-rp.done
	c.logger().Info("control plane: stopped pipeline", zap.String("pipeline", key.String()))
}

func (c *ControlPlane) stopAll() {
	c.mu.Lock()
	keys := make([]PipelineKey, 0, len(c.running))
	for key := range c.running {
		keys = append(keys, key)
	}
	c.mu.Unlock()
	for _, key := range keys {
		c.stop(key)
	}
}

// Running returns the set of pipeline keys currently supervised, for
// tests and operational introspection.
func (c *ControlPlane) Running() []PipelineKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PipelineKey, 0, len(c.running))
	for key := range c.running {
		out = append(out, key)
	}
	return out
}
