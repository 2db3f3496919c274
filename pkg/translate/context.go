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

package translate

import (
	"context"

	"github.com/sluiceproj/sluice/pkg/dataset"
	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/reduce"
	"github.com/sluiceproj/sluice/pkg/reduce/state"
	"github.com/sluiceproj/sluice/pkg/sideinput"
	"github.com/sluiceproj/sluice/pkg/substrate"
	"github.com/sluiceproj/sluice/pkg/udf"
	"github.com/sluiceproj/sluice/pkg/watermark"
	"github.com/sluiceproj/sluice/pkg/window"
)

// SourceBatch is the micro-batch the driver staged for one live source node
// before evaluating a tick.
type SourceBatch struct {
	Elements []*element.Windowed
	Sources  []watermark.SourceID
}

type binding struct {
	ds dataset.Dataset
	// windower in effect on the dataset, nil before any window assignment.
	windower window.Windower
}

// EvaluationContext carries the state evaluators read and write. The
// bindings, staged source batches and staged state transactions are
// tick-scoped and cleared by ResetForTick; the watermark registry, the
// broadcast set and the grouping engines persist for the life of the
// pipeline.
type EvaluationContext struct {
	pipelineName string
	sub          substrate.Substrate
	watermarks   *watermark.Registry
	broadcasts   *sideinput.BroadcastSet
	stores       state.Provider
	engines      map[string]*reduce.Engine

	// lifted remembers which bounded flatten branches already delivered
	// their content, per "flatten-node/input-ref". A lifted bounded input
	// behaves like a stream that delivers everything in one tick and is
	// empty afterwards.
	lifted map[string]bool

	tick     int64
	bindings map[Ref]*binding
	batches  map[string]*SourceBatch
	txns     []state.Txn
}

// NewEvaluationContext returns an evaluation context for one pipeline.
func NewEvaluationContext(pipelineName string, sub substrate.Substrate,
	watermarks *watermark.Registry, stores state.Provider) *EvaluationContext {
	return &EvaluationContext{
		pipelineName: pipelineName,
		sub:          sub,
		watermarks:   watermarks,
		broadcasts:   sideinput.NewBroadcastSet(sub),
		stores:       stores,
		engines:      make(map[string]*reduce.Engine),
		lifted:       make(map[string]bool),
		bindings:     make(map[Ref]*binding),
		batches:      make(map[string]*SourceBatch),
	}
}

// ResetForTick clears the tick-scoped state and moves the context to the
// given tick. Anything that persists across ticks stays untouched.
func (ectx *EvaluationContext) ResetForTick(tick int64) {
	ectx.tick = tick
	ectx.bindings = make(map[Ref]*binding)
	ectx.batches = make(map[string]*SourceBatch)
	ectx.txns = nil
}

// Tick returns the tick being evaluated.
func (ectx *EvaluationContext) Tick() int64 {
	return ectx.tick
}

// Substrate returns the batch substrate the pipeline runs on.
func (ectx *EvaluationContext) Substrate() substrate.Substrate {
	return ectx.sub
}

// Watermarks returns the pipeline's watermark registry.
func (ectx *EvaluationContext) Watermarks() *watermark.Registry {
	return ectx.watermarks
}

// StageSourceBatch hands the tick's micro-batch of one live source node to
// the source evaluator.
func (ectx *EvaluationContext) StageSourceBatch(node string, els []*element.Windowed, srcs []watermark.SourceID) {
	ectx.batches[node] = &SourceBatch{Elements: els, Sources: srcs}
}

func (ectx *EvaluationContext) sourceBatch(node string) (*SourceBatch, bool) {
	b, ok := ectx.batches[node]
	return b, ok
}

// liftOnce reports whether the bounded input at ref still owes the given
// flatten node its content, and marks it delivered.
func (ectx *EvaluationContext) liftOnce(node string, ref Ref) bool {
	key := node + "/" + ref.String()
	if ectx.lifted[key] {
		return false
	}
	ectx.lifted[key] = true
	return true
}

// Bind publishes one output dataset of a node, together with the window
// strategy in effect on it (nil when the elements are unwindowed).
func (ectx *EvaluationContext) Bind(node string, tag udf.Tag, ds dataset.Dataset, w window.Windower) {
	ectx.bindings[Ref{Node: node, Tag: tag}] = &binding{ds: ds, windower: w}
}

// Dataset reads the dataset bound at ref. forNode names the reading node in
// the UnboundInputErr when the ref was never bound.
func (ectx *EvaluationContext) Dataset(forNode string, ref Ref) (dataset.Dataset, error) {
	b, ok := ectx.bindings[ref]
	if !ok {
		return nil, UnboundInputErr{Node: forNode, Input: ref}
	}
	return b.ds, nil
}

// WindowerFor returns the window strategy in effect on the dataset bound at
// ref, nil when the dataset is unwindowed or the ref unbound.
func (ectx *EvaluationContext) WindowerFor(ref Ref) window.Windower {
	b, ok := ectx.bindings[ref]
	if !ok {
		return nil
	}
	return b.windower
}

// SideReader snapshots the declared side input views for the current tick
// and returns the read-only facade user fns see. An unbounded side input
// contributes its current tick's slice.
func (ectx *EvaluationContext) SideReader(ctx context.Context, forNode string, sis []SideInput) (sideinput.Reader, error) {
	if len(sis) == 0 {
		return sideinput.NewReader(nil), nil
	}
	snaps := make(map[sideinput.ViewID]*sideinput.Broadcast, len(sis))
	for _, si := range sis {
		ds, err := ectx.Dataset(forNode, si.From)
		if err != nil {
			return nil, err
		}
		var b *dataset.Bounded
		switch d := ds.(type) {
		case *dataset.Bounded:
			b = d
		case *dataset.Unbounded:
			b = dataset.NewBounded(d.Collection())
		}
		snap, err := ectx.broadcasts.Snapshot(ctx, si.View, ectx.tick, b)
		if err != nil {
			return nil, err
		}
		snaps[si.View] = snap
	}
	return sideinput.NewReader(snaps), nil
}

// StageTxns adds staged state transactions to the tick's set. The driver
// commits the whole set after the tick evaluated cleanly or discards it on
// failure.
func (ectx *EvaluationContext) StageTxns(txns ...state.Txn) {
	ectx.txns = append(ectx.txns, txns...)
}

func (ectx *EvaluationContext) stagedTxns() []state.Txn {
	return ectx.txns
}

// engineFor returns the grouping engine of a group-by-key node, creating it
// on first use. Engines persist across ticks; their state store is the
// cross-tick accumulator home.
func (ectx *EvaluationContext) engineFor(ctx context.Context, n *Node) (*reduce.Engine, error) {
	if eng, ok := ectx.engines[n.Name]; ok {
		return eng, nil
	}
	store, err := ectx.stores.StoreFor(ctx, n.Name, n.Fn)
	if err != nil {
		return nil, err
	}
	eng, err := reduce.NewEngine(ectx.pipelineName, n.Name, n.Fn, n.Windower, store, ectx.watermarks,
		reduce.WithParallelism(ectx.sub.Parallelism()))
	if err != nil {
		return nil, err
	}
	ectx.engines[n.Name] = eng
	return eng, nil
}
