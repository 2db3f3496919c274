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

// Package reduce is the stateful grouping engine. It maintains one
// accumulator per (key, window) across micro-batches and fires panes as
// the low watermark passes window ends. Elements are partitioned by key;
// each partition is processed independently and stages its mutations in
// one transaction, which the driver commits only after the whole tick
// evaluated cleanly.
package reduce

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sluiceproj/sluice/pkg/combine"
	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/reduce/state"
	"github.com/sluiceproj/sluice/pkg/shared/logging"
	"github.com/sluiceproj/sluice/pkg/sideinput"
	"github.com/sluiceproj/sluice/pkg/substrate/local"
	"github.com/sluiceproj/sluice/pkg/watermark"
	"github.com/sluiceproj/sluice/pkg/window"
)

// Engine groups windowed elements by (key, window) and triggers panes.
type Engine struct {
	pipelineName string
	name         string
	fn           combine.CombineFn
	windower     window.Windower
	store        state.Store
	registry     *watermark.Registry
	opts         *Options
}

// NewEngine returns a grouping engine for one stateful transform.
func NewEngine(pipelineName, name string, fn combine.CombineFn, windower window.Windower,
	store state.Store, registry *watermark.Registry, opts ...Option) (*Engine, error) {
	options := DefaultOptions()
	for _, o := range opts {
		if err := o(options); err != nil {
			return nil, err
		}
	}
	return &Engine{
		pipelineName: pipelineName,
		name:         name,
		fn:           fn,
		windower:     windower,
		store:        store,
		registry:     registry,
		opts:         options,
	}, nil
}

// Result is the outcome of one tick of grouping.
type Result struct {
	// Panes emitted this tick, ordered by window end then key.
	Panes []*element.Windowed
	// Txns holds one staged transaction per key partition. The driver
	// commits all of them after the tick evaluated cleanly, or discards
	// all of them on failure.
	Txns []state.Txn
	// LateDropped is the number of elements dropped because their window
	// was already past allowed lateness.
	LateDropped int64
}

// ProcessTick folds one micro-batch of elements into the grouping state
// and returns the panes the watermark released. Every partition is
// scanned even when it received no input, because firing depends on the
// watermark, not on arrivals.
func (e *Engine) ProcessTick(ctx context.Context, tick int64, els []*element.Windowed,
	sources []watermark.SourceID, sideInputs sideinput.Reader) (*Result, error) {
	low := e.registry.Low(sources...)
	cctx := combine.Context{Tick: tick, SideInputs: sideInputs}

	parts := make([][]*element.Windowed, e.opts.parallelism)
	for _, el := range els {
		if len(el.Windows) == 0 {
			el = element.NewWindowed(el.Element, e.windower.AssignWindows(el.EventTime)...)
		}
		for _, single := range el.Explode() {
			p := local.PartitionForKey(single.Key, e.opts.parallelism)
			parts[p] = append(parts[p], single)
		}
	}

	results := make([]*partitionResult, e.opts.parallelism)
	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < e.opts.parallelism; p++ {
		p := p
		g.Go(func() error {
			r, err := e.processPartition(gctx, tick, p, parts[p], low, cctx)
			if err != nil {
				return err
			}
			results[p] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range results {
			if r != nil {
				r.txn.Discard()
			}
		}
		return nil, err
	}

	res := &Result{}
	for _, r := range results {
		res.Panes = append(res.Panes, r.panes...)
		res.Txns = append(res.Txns, r.txn)
		res.LateDropped += r.lateDropped
	}
	sort.SliceStable(res.Panes, func(i, j int) bool {
		wi, wj := res.Panes[i].Windows[0], res.Panes[j].Windows[0]
		if !wi.EndTime().Equal(wj.EndTime()) {
			return wi.EndTime().Before(wj.EndTime())
		}
		return res.Panes[i].Key < res.Panes[j].Key
	})
	return res, nil
}

type partitionResult struct {
	txn         state.Txn
	panes       []*element.Windowed
	lateDropped int64
}

func (e *Engine) processPartition(ctx context.Context, tick int64, partition int,
	els []*element.Windowed, low watermark.Watermark, cctx combine.Context) (*partitionResult, error) {
	log := logging.FromContext(ctx)
	lateness := e.windower.AllowedLateness()

	txn, err := e.store.Begin(ctx, partition)
	if err != nil {
		return nil, err
	}
	base, err := txn.List(ctx)
	if err != nil {
		txn.Discard()
		return nil, err
	}
	view := newPartitionView(base)
	r := &partitionResult{txn: txn}

	for _, el := range els {
		iw := el.Windows[0]
		if e.opts.policy.ShouldExpire(iw.EndTime(), low, lateness) {
			r.lateDropped++
			lateDroppedCount.WithLabelValues(e.pipelineName, e.name).Inc()
			log.Debugw("Dropping element for an expired window",
				zap.String("key", el.Key), zap.String("window", iw.String()))
			continue
		}

		entry, err := e.entryFor(view, el.Key, iw, tick)
		if err != nil {
			txn.Discard()
			return nil, err
		}
		acc, err := e.fn.AddInput(cctx, entry.Acc, &el.Element)
		if err != nil {
			txn.Discard()
			return nil, fmt.Errorf("combine %q add input for key %q: %w", e.fn.Name(), el.Key, err)
		}
		entry.Acc = acc
		entry.Observe(el.EventTime)
		view.put(entry)
		elementsProcessedCount.WithLabelValues(e.pipelineName, e.name).Inc()
	}

	// firing pass, then expiry, so a closing window still emits its
	// final pane before the state is dropped
	for _, entry := range view.all() {
		d := e.opts.policy.ShouldFire(entry, low)
		if !d.Fire {
			continue
		}
		pane, err := e.firePane(cctx, entry, d.Timing)
		if err != nil {
			txn.Discard()
			return nil, err
		}
		entry.MarkFired()
		view.put(entry)
		r.panes = append(r.panes, pane)
		panesFiredCount.WithLabelValues(e.pipelineName, e.name, d.Timing.String()).Inc()
	}

	for _, entry := range view.all() {
		if !e.opts.policy.ShouldExpire(entry.ID.End, low, lateness) {
			continue
		}
		view.delete(entry.ID)
		stateEntriesExpiredCount.WithLabelValues(e.pipelineName, e.name).Inc()
	}

	if err := view.flush(ctx, txn); err != nil {
		txn.Discard()
		return nil, err
	}
	return r, nil
}

// entryFor locates or creates the state entry an element folds into. For
// merging strategies the target window absorbs every overlapping same-key
// entry first.
func (e *Engine) entryFor(view *partitionView, key string, iw *window.IntervalWindow, tick int64) (*state.Entry, error) {
	if !e.windower.Merges() {
		id := state.ID{Start: iw.StartTime(), End: iw.EndTime(), Key: key}
		if entry := view.get(id); entry != nil {
			return entry, nil
		}
		entry := state.NewEntry(id, e.fn.CreateAccumulator(), tick)
		view.put(entry)
		stateEntriesCreatedCount.WithLabelValues(e.pipelineName, e.name).Inc()
		return entry, nil
	}
	return e.mergedEntryFor(view, key, iw, tick)
}

func (e *Engine) mergedEntryFor(view *partitionView, key string, proto *window.IntervalWindow, tick int64) (*state.Entry, error) {
	target := proto
	var merged *state.Entry

	// absorbing an entry can bridge a gap to the next one, so rescan
	// until the target interval is stable
	for {
		overlaps := view.overlapping(key, target)
		if len(overlaps) == 0 {
			break
		}
		for _, o := range overlaps {
			target = target.Union(o.ID.Window())
			view.delete(o.ID)
			if merged == nil {
				merged = o
				continue
			}
			acc, err := e.fn.MergeAccumulators(merged.Acc, o.Acc)
			if err != nil {
				return nil, fmt.Errorf("combine %q merge accumulators for key %q: %w", e.fn.Name(), key, err)
			}
			merged.Acc = acc
			merged.Count += o.Count
			merged.PendingSinceFire += o.PendingSinceFire
			if o.MinEventTime.Before(merged.MinEventTime) {
				merged.MinEventTime = o.MinEventTime
			}
			if o.MaxEventTime.After(merged.MaxEventTime) {
				merged.MaxEventTime = o.MaxEventTime
			}
			if o.CreatedTick < merged.CreatedTick {
				merged.CreatedTick = o.CreatedTick
			}
			if o.HasFired() {
				merged.Phase = state.Fired
				if o.PaneIndex > merged.PaneIndex {
					merged.PaneIndex = o.PaneIndex
				}
			}
		}
	}

	if merged == nil {
		id := state.ID{Start: target.StartTime(), End: target.EndTime(), Key: key}
		entry := state.NewEntry(id, e.fn.CreateAccumulator(), tick)
		view.put(entry)
		stateEntriesCreatedCount.WithLabelValues(e.pipelineName, e.name).Inc()
		return entry, nil
	}
	merged.ID = state.ID{Start: target.StartTime(), End: target.EndTime(), Key: key}
	view.put(merged)
	return merged, nil
}

func (e *Engine) firePane(cctx combine.Context, entry *state.Entry, timing element.PaneTiming) (*element.Windowed, error) {
	payload, err := e.fn.ExtractOutput(cctx, entry.Acc)
	if err != nil {
		return nil, fmt.Errorf("combine %q extract output for key %q: %w", e.fn.Name(), entry.ID.Key, err)
	}
	el := element.Element{
		// pane identity is deterministic so replayed ticks dedupe downstream
		ID:        fmt.Sprintf("%s:%d", entry.ID, entry.PaneIndex+1),
		Key:       entry.ID.Key,
		EventTime: entry.ID.Window().MaxTimestamp(),
		Payload:   payload,
	}
	w := element.NewWindowed(el, entry.ID.Window())
	w.Timing = timing
	return w, nil
}
