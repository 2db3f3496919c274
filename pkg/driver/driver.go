/*
Copyright 2023 The Sluice Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package driver runs a translated pipeline as a sequence of micro-batch
// ticks. Every tick it reads one batch per live source, advances the
// watermark registry, evaluates the graph and commits the staged state
// transactions, then acks the sources. A failed tick is retried with the
// same batches and the same tick number, so partial commits deduplicate and
// nothing is acked until the tick has fully landed.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/metrics"
	"github.com/sluiceproj/sluice/pkg/reduce/state"
	"github.com/sluiceproj/sluice/pkg/shared/logging"
	"github.com/sluiceproj/sluice/pkg/sources"
	"github.com/sluiceproj/sluice/pkg/substrate"
	"github.com/sluiceproj/sluice/pkg/translate"
	"github.com/sluiceproj/sluice/pkg/watermark"
)

type Driver struct {
	pipelineName string
	translator   *translate.Translator
	watermarks   *watermark.Registry
	// sourceNodes are the live source nodes of the graph in graph order
	sourceNodes []string
	sources     map[string]sources.Sourcer
	clock       clockz.Clock
	// interval between micro-batch ticks
	tickInterval time.Duration
	// max number of elements read from one source per tick, atomic so a
	// config reload can adjust it mid-run
	batchSize *atomic.Int64
	// retry policy for one source read
	readBackoff wait.Backoff
	// retry policy for evaluate-and-commit of one tick
	tickBackoff wait.Backoff
	// run is a fresh id per driver instance, it tags the logs of a run
	run string
	// tick is the number of the next tick, ticks are committed in order
	tick     int64
	logger   *zap.SugaredLogger
	started  *atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

type Option func(*Driver) error

// WithLogger is used to return logger information
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *Driver) error {
		o.logger = l
		return nil
	}
}

// WithClock replaces the wall clock pacing the tick loop
func WithClock(c clockz.Clock) Option {
	return func(o *Driver) error {
		o.clock = c
		return nil
	}
}

// WithTickInterval sets the interval between micro-batch ticks
func WithTickInterval(d time.Duration) Option {
	return func(o *Driver) error {
		o.tickInterval = d
		return nil
	}
}

// WithReadBatchSize caps how many elements one source contributes per tick
func WithReadBatchSize(n int64) Option {
	return func(o *Driver) error {
		o.batchSize.Store(n)
		return nil
	}
}

// WithReadBackoff sets the retry policy for one source read
func WithReadBackoff(b wait.Backoff) Option {
	return func(o *Driver) error {
		o.readBackoff = b
		return nil
	}
}

// WithTickBackoff sets the retry policy for evaluating and committing a tick
func WithTickBackoff(b wait.Backoff) Option {
	return func(o *Driver) error {
		o.tickBackoff = b
		return nil
	}
}

// New builds a driver for the given graph. Every live source node of the
// graph must be bound to exactly one Sourcer under its node name; bounded
// source nodes carry their own data and need no binding.
func New(ctx context.Context, pipelineName string, g *translate.Graph, sub substrate.Substrate,
	stores state.Provider, srcs map[string]sources.Sourcer, opts ...Option) (*Driver, error) {
	d := &Driver{
		pipelineName: pipelineName,
		watermarks:   watermark.NewRegistry(),
		sources:      srcs,
		clock:        clockz.RealClock,
		tickInterval: time.Second,
		batchSize:    atomic.NewInt64(500),
		readBackoff: wait.Backoff{
			Steps:    3,
			Duration: 100 * time.Millisecond,
			Factor:   2.0,
			Jitter:   0.1,
		},
		tickBackoff: wait.Backoff{
			Steps:    3,
			Duration: 100 * time.Millisecond,
			Factor:   2.0,
			Jitter:   0.1,
		},
		run:     uuid.New().String(),
		started: atomic.NewBool(false),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logging.FromContext(ctx),
	}
	for _, o := range opts {
		if err := o(d); err != nil {
			return nil, err
		}
	}

	seen := map[watermark.SourceID]string{}
	bound := map[string]bool{}
	for _, n := range g.Nodes() {
		if n.Kind != translate.KindSource || n.Bounded != nil {
			continue
		}
		src, ok := srcs[n.Name]
		if !ok {
			return nil, fmt.Errorf("live source node %q has no sourcer bound", n.Name)
		}
		if prev, dup := seen[src.ID()]; dup {
			return nil, fmt.Errorf("sources %q and %q share the watermark id %q", prev, n.Name, src.ID())
		}
		seen[src.ID()] = n.Name
		bound[n.Name] = true
		d.sourceNodes = append(d.sourceNodes, n.Name)
		d.watermarks.Register(src.ID())
	}
	for name := range srcs {
		if !bound[name] {
			return nil, fmt.Errorf("sourcer %q is not bound to any live source node of the graph", name)
		}
	}

	translator, err := translate.New(pipelineName, g, sub, d.watermarks, stores)
	if err != nil {
		return nil, err
	}
	d.translator = translator
	return d, nil
}

// Watermarks exposes the registry the driver advances, read-only use.
func (d *Driver) Watermarks() *watermark.Registry {
	return d.watermarks
}

// SetReadBatchSize adjusts the per-source read cap, taking effect from the
// next tick.
func (d *Driver) SetReadBatchSize(n int64) {
	d.batchSize.Store(n)
}

// Run processes ticks until the context is done or Stop is called. A
// pipeline without live sources is fully evaluated by a single tick, so Run
// returns after it.
func (d *Driver) Run(ctx context.Context) error {
	d.started.Store(true)
	defer close(d.doneCh)
	d.logger.Infow("Starting the micro-batch driver...",
		zap.String("run", d.run),
		zap.Bool("streaming", d.translator.Streaming()),
		zap.Duration("tickInterval", d.tickInterval))

	if !d.translator.Streaming() {
		return d.runTick(ctx)
	}

	ticker := d.clock.NewTicker(d.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Driver context done, stopping...")
			return nil
		case <-d.stopCh:
			d.logger.Info("Driver stopped")
			return nil
		case <-ticker.C():
			if err := d.runTick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Stop ends the tick loop and waits for a running tick to finish.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	if d.started.Load() {
		<-d.doneCh
	}
}

// runTick runs one complete tick: read, advance watermarks, evaluate,
// commit, ack. Evaluation and commit are retried with the same batches and
// tick number; the store deduplicates the partitions that already landed.
func (d *Driver) runTick(ctx context.Context) error {
	tick := d.tick
	start := time.Now()

	batches, err := d.readSources(ctx)
	if err != nil {
		tickFailuresCount.With(map[string]string{metrics.LabelPipeline: d.pipelineName}).Inc()
		return fmt.Errorf("tick %d: %w", tick, err)
	}

	// watermarks move before evaluation so this tick's grouping sees them
	for _, node := range d.sourceNodes {
		src := d.sources[node]
		d.watermarks.Advance(src.ID(), src.CurrentWatermark())
	}

	evaluate := func(_ context.Context) (bool, error) {
		d.translator.BeginTick(tick)
		for _, b := range batches {
			if err := d.translator.StageSourceBatch(b.node, b.els, b.srcs); err != nil {
				return false, err
			}
		}
		res, err := d.translator.EvaluateTick(ctx)
		if err != nil {
			d.logger.Errorw("Tick evaluation failed, retrying", zap.Int64("tick", tick), zap.Error(err))
			return false, nil
		}
		for _, txn := range res.Txns {
			if cerr := txn.Commit(ctx, tick); cerr != nil {
				d.logger.Errorw("State commit failed, retrying the tick",
					zap.Int64("tick", tick), zap.Int("partition", txn.Partition()), zap.Error(cerr))
				return false, nil
			}
		}
		return true, nil
	}
	if err := wait.ExponentialBackoffWithContext(ctx, d.tickBackoff, evaluate); err != nil {
		tickFailuresCount.With(map[string]string{metrics.LabelPipeline: d.pipelineName}).Inc()
		return fmt.Errorf("tick %d failed: %w", tick, err)
	}

	// the tick has landed, release the source batches
	for _, node := range d.sourceNodes {
		if err := d.sources[node].Ack(ctx); err != nil {
			// committed ticks deduplicate any redelivery, so an ack
			// failure costs a replay, not correctness
			d.logger.Errorw("Source ack failed", zap.String("source", node), zap.Error(err))
		}
	}
	d.tick++
	ticksCount.With(map[string]string{metrics.LabelPipeline: d.pipelineName}).Inc()
	tickProcessingTime.With(map[string]string{metrics.LabelPipeline: d.pipelineName}).Observe(float64(time.Since(start).Microseconds()))
	return nil
}

// stagedBatch is one source's contribution to a tick.
type stagedBatch struct {
	node string
	els  []*element.Windowed
	srcs []watermark.SourceID
}

func (d *Driver) readSources(ctx context.Context) ([]stagedBatch, error) {
	batches := make([]stagedBatch, len(d.sourceNodes))
	g, gctx := errgroup.WithContext(ctx)
	for i, node := range d.sourceNodes {
		i, node := i, node
		src := d.sources[node]
		g.Go(func() error {
			var els []*element.Element
			err := wait.ExponentialBackoffWithContext(gctx, d.readBackoff, func(_ context.Context) (bool, error) {
				var rerr error
				els, rerr = src.Read(gctx, d.batchSize.Load())
				if rerr != nil {
					sourceReadErrorsCount.With(map[string]string{metrics.LabelPipeline: d.pipelineName, metrics.LabelSource: node}).Inc()
					d.logger.Errorw("Source read failed, retrying", zap.String("source", node), zap.Error(rerr))
					return false, nil
				}
				return true, nil
			})
			if err != nil {
				return fmt.Errorf("reading source %s: %w", node, err)
			}
			wels := make([]*element.Windowed, 0, len(els))
			for _, el := range els {
				wels = append(wels, element.NewWindowed(*el))
			}
			batches[i] = stagedBatch{node: node, els: wels, srcs: []watermark.SourceID{src.ID()}}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, nil
}
