// Command quickwitd is the node process entrypoint (spec.md §6's CLI
// surface, "run --service indexer|searcher|metastore|janitor|control_plane").
// It is a thin wiring layer: every concern it touches beyond the
// coordination core itself (object-storage client construction, gRPC/REST
// serving) is an out-of-scope external collaborator per spec.md §1, so
// this binary demonstrates constructing and running the coordination-core
// components against the in-memory bucket the rest of this repository
// tests with.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/thanos-io/objstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quickwit-oss/quickwit-go/internal/config"
	"github.com/quickwit-oss/quickwit-go/internal/controlplane"
	"github.com/quickwit-oss/quickwit-go/internal/janitor"
	"github.com/quickwit-oss/quickwit-go/internal/metastore"
	"github.com/quickwit-oss/quickwit-go/internal/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quickwitd",
		Short: "Run a quickwit coordination-layer node process",
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node's configured services until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the node's YAML configuration file")
	cmd.MarkFlagRequired("config")
	return cmd
}

func runNode(ctx context.Context, configPath string) error {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("quickwitd: read config %s: %w", configPath, err)
	}
	cfg, err := config.Load(raw)
	if err != nil {
		return fmt.Errorf("quickwitd: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("quickwitd: build logger: %w", err)
	}
	defer logger.Sync()

	// The object-storage client itself is an out-of-scope external
	// collaborator (spec.md §1); this binary exercises the same
	// objstore.Bucket interface the rest of the repository codes against,
	// backed here by the in-memory implementation used throughout its
	// tests. A production deployment supplies a real S3/GCS-backed Bucket
	// constructed elsewhere and wired in at this same seam.
	bucket := objstore.NewInMemBucket()
	store := metastore.NewFileMetastore(bucket, logger)

	logger.Info("quickwitd starting",
		zap.String("node_id", cfg.NodeID),
		zap.Any("services", cfg.Services))

	group, groupCtx := errgroup.WithContext(ctx)
	ranAnything := false

	if cfg.Runs(config.ServiceJanitor) {
		ranAnything = true
		group.Go(func() error { return runJanitor(groupCtx, cfg, store, bucket, logger) })
	}
	if cfg.Runs(config.ServiceControlPlane) {
		ranAnything = true
		group.Go(func() error { return runControlPlane(groupCtx, cfg, store, logger) })
	}
	if !ranAnything {
		logger.Info("quickwitd: no long-running coordination loop configured for this node's service set; idling until interrupted",
			zap.Any("services", cfg.Services))
		group.Go(func() error {
			<-groupCtx.Done()
			return nil
		})
	}

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// runJanitor drives the GC loop on its configured cadence. The sibling
// loops (RetentionEvaluator, DeleteTaskExecutor, IngestQueueGC) are not
// started by this binary.
func runJanitor(ctx context.Context, cfg config.NodeConfig, store metastore.Metastore, bucket objstore.Bucket, logger *zap.Logger) error {
	gc := &janitor.GC{Metastore: store, Storage: bucket, StagedGracePeriod: cfg.Janitor.StagedGracePeriod, Logger: logger}

	ticker := time.NewTicker(cfg.Janitor.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := gc.RunOnce(ctx, allIndexUIDs(store)); err != nil {
				logger.Warn("janitor: gc pass failed", zap.Error(err))
			}
		}
	}
}

func runControlPlane(ctx context.Context, cfg config.NodeConfig, store metastore.Metastore, logger *zap.Logger) error {
	cp := &controlplane.ControlPlane{
		Metastore: store,
		Logger:    logger,
		Factory: func(ctx context.Context, key controlplane.PipelineKey) (controlplane.RunFunc, error) {
			return nil, fmt.Errorf("quickwitd: wiring pipeline %s requires a source connector and doc-mapper, which are out of scope for this coordination core", key)
		},
	}
	return cp.Run(ctx, cfg.Janitor.GCInterval)
}

// allIndexUIDs adapts Metastore.ListIndexesMetadata to janitor.IndexLister.
func allIndexUIDs(store metastore.Metastore) janitor.IndexLister {
	return func(ctx context.Context) ([]types.IndexUID, error) {
		indexes, err := store.ListIndexesMetadata(ctx, nil)
		if err != nil {
			return nil, err
		}
		out := make([]types.IndexUID, 0, len(indexes))
		for _, idx := range indexes {
			out = append(out, idx.IndexUID)
		}
		return out, nil
	}
}
