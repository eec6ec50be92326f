package indexing

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/quickwit-oss/quickwit-go/internal/actor"
)

// PipelineState is the supervised actor graph's lifecycle state (spec.md
// §4.2: "States: Spawning, Running, Terminated").
type PipelineState int

const (
	PipelineSpawning PipelineState = iota
	PipelineRunning
	PipelineTerminated
)

// Pipeline wires one (index_uid, source_id, pipeline_ord) worth of Source
// -> Doc Processor -> Indexer -> Packager -> Uploader -> Publisher under a
// single kill switch. The death of any stage terminates the others; the
// caller is expected to run Pipeline.Run under an actor.Supervisor so a
// crash is followed by a respawn with backoff (spec.md §4.2).
type Pipeline struct {
	Source       Source
	DocProcessor *DocProcessor
	Indexer      *Indexer
	Packager     *Packager
	Uploader     *Uploader
	Publisher    *Publisher

	SealCheckInterval time.Duration
	Logger            *zap.Logger

	state PipelineState
}

// State reports the pipeline's current lifecycle state.
func (p *Pipeline) State() PipelineState { return p.state }

// Run drives the pipeline until ctx is done, the kill switch trips, or the
// Source is exhausted and every in-flight builder has been sealed and
// published. A non-nil error return means the stage graph failed and
// should be respawned by the caller's supervisor.
func (p *Pipeline) Run(ctx context.Context, kill *actor.KillSwitch) error {
	p.state = PipelineSpawning
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	publishQueue := actor.NewMailbox[PublishRequest](64)
	defer publishQueue.Close()

	sealInterval := p.SealCheckInterval
	if sealInterval <= 0 {
		sealInterval = time.Second
	}
	ticker := time.NewTicker(sealInterval)
	defer ticker.Stop()

	p.state = PipelineRunning
	defer func() { p.state = PipelineTerminated }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-kill.Done():
			return nil
		case <-ticker.C:
			if err := p.sealAndPublish(ctx, publishQueue, false); err != nil {
				return err
			}
		default:
		}

		batch, err := p.Source.Next(ctx)
		if errors.Is(err, ErrSourceExhausted) {
			return p.sealAndPublish(ctx, publishQueue, true)
		}
		if err != nil {
			return err
		}
		p.ingest(batch)

		if len(publishQueue.Receive()) > 0 {
			if _, err := p.Publisher.Drain(ctx, publishQueue, kill); err != nil {
				return err
			}
		}
	}
}

func (p *Pipeline) ingest(batch RawBatch) {
	for _, raw := range batch.Docs {
		doc, ok := p.DocProcessor.Process(raw)
		if !ok {
			continue
		}
		p.Indexer.Add(doc, batch.PartitionPositions)
	}
}

func (p *Pipeline) sealAndPublish(ctx context.Context, publishQueue *actor.Mailbox[PublishRequest], all bool) error {
	var sealed []IndexedSplit
	if all {
		sealed = p.Indexer.SealAll()
	} else {
		sealed = p.Indexer.SealReady(time.Now())
	}
	for _, split := range sealed {
		packaged, err := p.Packager.Package(split)
		if err != nil {
			return err
		}
		req, err := p.Uploader.Upload(ctx, packaged)
		if err != nil {
			return err
		}
		if err := publishQueue.Send(ctx, req); err != nil {
			return err
		}
		if _, err := p.Publisher.Drain(ctx, publishQueue, actor.NewKillSwitch()); err != nil {
			return err
		}
	}
	return nil
}
