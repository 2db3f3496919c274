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
	"fmt"

	"go.uber.org/zap"

	"github.com/sluiceproj/sluice/pkg/dataset"
	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/reduce/state"
	"github.com/sluiceproj/sluice/pkg/shared/logging"
	"github.com/sluiceproj/sluice/pkg/substrate"
	"github.com/sluiceproj/sluice/pkg/watermark"
)

// Translator evaluates a transform graph one tick at a time. The pipeline
// runs in streaming mode when the graph has at least one live source;
// otherwise every node evaluates against the batch registry.
type Translator struct {
	pipelineName  string
	graph         *Graph
	ectx          *EvaluationContext
	batch         *Registry
	streaming     *Registry
	streamingMode bool
}

// Option applies optional translator configuration.
type Option func(*Translator) error

// WithRegistries replaces the default evaluator registries, the hook for
// registering evaluators of new operator kinds.
func WithRegistries(batch, streaming *Registry) Option {
	return func(t *Translator) error {
		t.batch = batch
		t.streaming = streaming
		return nil
	}
}

// New returns a translator for the given graph.
func New(pipelineName string, g *Graph, sub substrate.Substrate,
	watermarks *watermark.Registry, stores state.Provider, opts ...Option) (*Translator, error) {
	t := &Translator{
		pipelineName:  pipelineName,
		graph:         g,
		ectx:          NewEvaluationContext(pipelineName, sub, watermarks, stores),
		batch:         BatchRegistry(),
		streaming:     StreamingRegistry(),
		streamingMode: g.HasLiveSource(),
	}
	for _, o := range opts {
		if err := o(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Streaming reports whether the pipeline runs in streaming mode.
func (t *Translator) Streaming() bool {
	return t.streamingMode
}

// Result is the outcome of one evaluated tick.
type Result struct {
	// Txns holds every state transaction the tick staged. The driver
	// commits them all, then acks the sources; on failure EvaluateTick has
	// already discarded them.
	Txns []state.Txn
}

// BeginTick clears the per-tick state and moves the translator to the given
// tick. Source batches staged afterwards belong to this tick.
func (t *Translator) BeginTick(tick int64) {
	t.ectx.ResetForTick(tick)
}

// StageSourceBatch hands one live source node its micro-batch for the
// current tick.
func (t *Translator) StageSourceBatch(node string, els []*element.Windowed, srcs []watermark.SourceID) error {
	n, ok := t.graph.Node(node)
	if !ok {
		return fmt.Errorf("(%s) not a node in the graph", node)
	}
	if n.Kind != KindSource || n.Bounded != nil {
		return fmt.Errorf("(%s) not a live source node", node)
	}
	t.ectx.StageSourceBatch(node, els, srcs)
	return nil
}

// EvaluateTick walks the graph in dependency order, dispatching every node
// to the batch or streaming registry. On any failure the staged state
// transactions are discarded, leaving every store at its pre-tick snapshot.
func (t *Translator) EvaluateTick(ctx context.Context) (*Result, error) {
	log := logging.FromContext(ctx)
	for _, n := range t.graph.Nodes() {
		reg, err := t.registryFor(n)
		if err == nil {
			var ev Evaluator
			if ev, err = reg.Evaluator(n.Kind); err == nil {
				err = ev(ctx, t.ectx, n)
			}
		}
		if err != nil {
			t.discardStaged()
			log.Errorw("Tick evaluation failed", zap.Int64("tick", t.ectx.tick),
				zap.String("node", n.Name), zap.Error(err))
			return nil, err
		}
	}
	log.Debugw("Evaluated tick", zap.Int64("tick", t.ectx.tick),
		zap.Int("nodes", len(t.graph.Nodes())))
	return &Result{Txns: t.ectx.stagedTxns()}, nil
}

// Dataset returns the dataset bound at ref by the last evaluated tick,
// mainly for inspection in tests and the run command.
func (t *Translator) Dataset(ref Ref) (dataset.Dataset, error) {
	return t.ectx.Dataset(ref.Node, ref)
}

// registryFor applies the dispatch rule: in streaming mode a node goes to
// the streaming registry when it is a live source or consumes at least one
// unbounded dataset; everything else is served by the batch registry.
func (t *Translator) registryFor(n *Node) (*Registry, error) {
	if !t.streamingMode {
		return t.batch, nil
	}
	if n.Kind == KindSource {
		if n.Bounded == nil {
			return t.streaming, nil
		}
		return t.batch, nil
	}
	for _, in := range n.Inputs {
		ds, err := t.ectx.Dataset(n.Name, in)
		if err != nil {
			return nil, err
		}
		if !ds.IsBounded() {
			return t.streaming, nil
		}
	}
	return t.batch, nil
}

func (t *Translator) discardStaged() {
	for _, txn := range t.ectx.stagedTxns() {
		txn.Discard()
	}
	t.ectx.txns = nil
}
