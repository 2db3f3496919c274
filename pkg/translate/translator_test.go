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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sluiceproj/sluice/pkg/combine"
	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/reduce/state"
	"github.com/sluiceproj/sluice/pkg/reduce/state/memory"
	"github.com/sluiceproj/sluice/pkg/sinks"
	"github.com/sluiceproj/sluice/pkg/substrate/local"
	"github.com/sluiceproj/sluice/pkg/udf"
	"github.com/sluiceproj/sluice/pkg/watermark"
	"github.com/sluiceproj/sluice/pkg/window"
	"github.com/sluiceproj/sluice/pkg/window/strategy/fixed"
)

type captureSink struct {
	name string
	err  error

	mu      sync.Mutex
	batches [][]*element.Windowed
}

var _ sinks.Sink = (*captureSink)(nil)

func (c *captureSink) Name() string { return c.name }

func (c *captureSink) Write(_ context.Context, els []*element.Windowed) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, els)
	return nil
}

func (c *captureSink) Close() error { return nil }

func keyedEl(key string, ms int64, payload string) *element.Windowed {
	e := element.New([]byte(payload), time.UnixMilli(ms))
	e.Key = key
	return element.NewWindowed(*e)
}

func commitAll(t *testing.T, txns []state.Txn, tick int64) {
	t.Helper()
	for _, txn := range txns {
		assert.NoError(t, txn.Commit(context.Background(), tick))
	}
}

func newFixture(t *testing.T, g *Graph, opts ...Option) (*Translator, *watermark.Registry) {
	t.Helper()
	wm := watermark.NewRegistry()
	tr, err := New("test-pipeline", g, local.NewSubstrate(2), wm, memory.NewProvider(), opts...)
	assert.NoError(t, err)
	return tr, wm
}

func TestTranslator_StreamingPipeline(t *testing.T) {
	ctx := context.Background()
	tenSec := func() window.Windower {
		return fixed.NewFixed(10*time.Second, window.WithAllowedLateness(5*time.Second))
	}
	clean := udf.NewMapper("clean", func(_ context.Context, _ udf.Context, el *element.Windowed) ([]udf.TaggedOutput, error) {
		if string(el.Payload) == "drop" {
			return nil, nil
		}
		return []udf.TaggedOutput{udf.Emit(el)}, nil
	})
	sink := &captureSink{name: "out"}

	g := NewGraph()
	assert.NoError(t, g.Add(&Node{Name: "gen", Kind: KindSource}))
	assert.NoError(t, g.Add(&Node{Name: "clean", Kind: KindParDo, Inputs: []Ref{MainOutput("gen")}, Mapper: clean}))
	assert.NoError(t, g.Add(&Node{Name: "win", Kind: KindWindowInto, Inputs: []Ref{MainOutput("clean")}, Windower: tenSec()}))
	assert.NoError(t, g.Add(&Node{Name: "sum", Kind: KindGroupByKey, Inputs: []Ref{MainOutput("win")}, Windower: tenSec(), Fn: combine.SumInt64Fn{}}))
	assert.NoError(t, g.Add(&Node{Name: "out", Kind: KindSink, Inputs: []Ref{MainOutput("sum")}, Sink: sink}))

	tr, wm := newFixture(t, g)
	assert.True(t, tr.Streaming())
	srcs := []watermark.SourceID{"gen"}

	// tick 1: the element lands in [0,10000) but the watermark is unknown
	tr.BeginTick(1)
	assert.NoError(t, tr.StageSourceBatch("gen", []*element.Windowed{
		keyedEl("a", 7000, "5"),
		keyedEl("a", 3000, "drop"),
	}, srcs))
	res, err := tr.EvaluateTick(ctx)
	assert.NoError(t, err)
	commitAll(t, res.Txns, 1)
	assert.Len(t, sink.batches, 1)
	assert.Empty(t, sink.batches[0])

	// tick 2: the watermark passes the window end and the pane fires
	wm.Advance("gen", watermark.Watermark(time.UnixMilli(12000)))
	tr.BeginTick(2)
	assert.NoError(t, tr.StageSourceBatch("gen", nil, srcs))
	res, err = tr.EvaluateTick(ctx)
	assert.NoError(t, err)
	commitAll(t, res.Txns, 2)
	assert.Len(t, sink.batches, 2)
	assert.Len(t, sink.batches[1], 1)
	pane := sink.batches[1][0]
	assert.Equal(t, "5", string(pane.Payload))
	assert.Equal(t, "a", pane.Key)
	assert.Equal(t, "0-10000-a:0", pane.ID)
	assert.Equal(t, int64(9999), pane.EventTime.UnixMilli())
	assert.Equal(t, element.PaneOnTime, pane.Timing)
	assert.Equal(t, "[0,10000)", pane.Windows[0].String())
}

func TestTranslator_BatchPipeline(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{name: "out"}

	g := NewGraph()
	assert.NoError(t, g.Add(&Node{Name: "fixtures", Kind: KindSource, Bounded: []*element.Element{
		keyedEl("a", 10000, "1").Element.Copy(),
		keyedEl("a", 20000, "2").Element.Copy(),
		keyedEl("b", 30000, "4").Element.Copy(),
	}}))
	assert.NoError(t, g.Add(&Node{Name: "group", Kind: KindGroupByKey, Inputs: []Ref{MainOutput("fixtures")}, Windower: fixed.NewFixed(time.Minute)}))
	assert.NoError(t, g.Add(&Node{Name: "fold", Kind: KindCombineGrouped, Inputs: []Ref{MainOutput("group")}, Fn: combine.SumInt64Fn{}}))
	assert.NoError(t, g.Add(&Node{Name: "out", Kind: KindSink, Inputs: []Ref{MainOutput("fold")}, Sink: sink}))

	tr, _ := newFixture(t, g)
	assert.False(t, tr.Streaming())

	tr.BeginTick(0)
	res, err := tr.EvaluateTick(ctx)
	assert.NoError(t, err)
	assert.Empty(t, res.Txns)

	assert.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 2)
	byKey := map[string]*element.Windowed{}
	for _, el := range sink.batches[0] {
		byKey[el.Key] = el
	}
	assert.Equal(t, "3", string(byKey["a"].Payload))
	assert.Equal(t, "4", string(byKey["b"].Payload))
	assert.Equal(t, int64(59999), byKey["a"].EventTime.UnixMilli())
	assert.Equal(t, element.PaneOnTime, byKey["a"].Timing)
}

func TestTranslator_DispatchRegistrySelection(t *testing.T) {
	ctx := context.Background()
	served := map[string]string{}
	instrument := func(reg *Registry, label string) *Registry {
		wrapped := NewRegistry(label)
		for k := KindSource; k <= KindSink; k++ {
			ev, err := reg.Evaluator(k)
			if err != nil {
				continue
			}
			wrapped.Register(k, func(ctx context.Context, ectx *EvaluationContext, n *Node) error {
				served[n.Name] = label
				return ev(ctx, ectx, n)
			})
		}
		return wrapped
	}

	sink := &captureSink{name: "out"}
	g := NewGraph()
	assert.NoError(t, g.Add(&Node{Name: "gen", Kind: KindSource}))
	assert.NoError(t, g.Add(&Node{Name: "fixtures", Kind: KindSource, Bounded: []*element.Element{
		keyedEl("k", 7000, "10").Element.Copy(),
	}}))
	assert.NoError(t, g.Add(&Node{Name: "join", Kind: KindFlatten, Inputs: []Ref{MainOutput("gen"), MainOutput("fixtures")}}))
	assert.NoError(t, g.Add(&Node{Name: "out", Kind: KindSink, Inputs: []Ref{MainOutput("join")}, Sink: sink}))

	tr, _ := newFixture(t, g, WithRegistries(instrument(BatchRegistry(), "batch"), instrument(StreamingRegistry(), "streaming")))
	tr.BeginTick(1)
	assert.NoError(t, tr.StageSourceBatch("gen", []*element.Windowed{keyedEl("k", 5000, "1")}, []watermark.SourceID{"gen"}))
	_, err := tr.EvaluateTick(ctx)
	assert.NoError(t, err)

	assert.Equal(t, map[string]string{
		"gen":      "streaming",
		"fixtures": "batch",
		"join":     "streaming",
		"out":      "streaming",
	}, served)
	assert.Len(t, sink.batches[0], 2)
}

func TestTranslator_UnsupportedOperator(t *testing.T) {
	sink := &captureSink{name: "out"}
	g := NewGraph()
	assert.NoError(t, g.Add(&Node{Name: "gen", Kind: KindSource}))
	assert.NoError(t, g.Add(&Node{Name: "out", Kind: KindSink, Inputs: []Ref{MainOutput("gen")}, Sink: sink}))

	tr, _ := newFixture(t, g, WithRegistries(BatchRegistry(), NewRegistry("streaming")))
	tr.BeginTick(1)
	assert.NoError(t, tr.StageSourceBatch("gen", nil, []watermark.SourceID{"gen"}))
	_, err := tr.EvaluateTick(context.Background())
	assert.Error(t, err)
	var uerr UnsupportedOperatorErr
	assert.ErrorAs(t, err, &uerr)
	assert.Equal(t, KindSource, uerr.Kind)
	assert.Contains(t, err.Error(), "streaming registry")
}

func TestTranslator_UnboundInput(t *testing.T) {
	// a source evaluator that binds nothing leaves the sink's input unbound
	sreg := StreamingRegistry()
	sreg.Register(KindSource, func(context.Context, *EvaluationContext, *Node) error { return nil })

	sink := &captureSink{name: "out"}
	g := NewGraph()
	assert.NoError(t, g.Add(&Node{Name: "gen", Kind: KindSource}))
	assert.NoError(t, g.Add(&Node{Name: "out", Kind: KindSink, Inputs: []Ref{MainOutput("gen")}, Sink: sink}))

	tr, _ := newFixture(t, g, WithRegistries(BatchRegistry(), sreg))
	tr.BeginTick(1)
	assert.NoError(t, tr.StageSourceBatch("gen", nil, []watermark.SourceID{"gen"}))
	_, err := tr.EvaluateTick(context.Background())
	assert.Error(t, err)
	var berr UnboundInputErr
	assert.ErrorAs(t, err, &berr)
	assert.Equal(t, "out", berr.Node)
	assert.Equal(t, MainOutput("gen"), berr.Input)
}

func TestTranslator_SinkFailureDiscardsState(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{name: "out", err: errors.New("broker unavailable")}
	tenSec := fixed.NewFixed(10 * time.Second)

	g := NewGraph()
	assert.NoError(t, g.Add(&Node{Name: "gen", Kind: KindSource}))
	assert.NoError(t, g.Add(&Node{Name: "sum", Kind: KindGroupByKey, Inputs: []Ref{MainOutput("gen")}, Windower: tenSec, Fn: combine.SumInt64Fn{}}))
	assert.NoError(t, g.Add(&Node{Name: "out", Kind: KindSink, Inputs: []Ref{MainOutput("sum")}, Sink: sink}))

	wm := watermark.NewRegistry()
	stores := memory.NewProvider()
	tr, err := New("test-pipeline", g, local.NewSubstrate(2), wm, stores)
	assert.NoError(t, err)

	tr.BeginTick(1)
	assert.NoError(t, tr.StageSourceBatch("gen", []*element.Windowed{keyedEl("a", 7000, "5")}, []watermark.SourceID{"gen"}))
	_, err = tr.EvaluateTick(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `sink "out"`)

	// the staged entry was discarded with the failed tick
	store, err := stores.StoreFor(ctx, "sum", combine.SumInt64Fn{})
	assert.NoError(t, err)
	for p := 0; p < 2; p++ {
		txn, err := store.Begin(ctx, p)
		assert.NoError(t, err)
		entries, err := txn.List(ctx)
		assert.NoError(t, err)
		assert.Empty(t, entries)
		txn.Discard()
	}
}

func TestTranslator_MultiOutputParDo(t *testing.T) {
	ctx := context.Background()
	split := udf.NewMapper("split", func(_ context.Context, _ udf.Context, el *element.Windowed) ([]udf.TaggedOutput, error) {
		if len(el.Payload) > 1 {
			return []udf.TaggedOutput{udf.EmitTo("big", el)}, nil
		}
		return []udf.TaggedOutput{udf.Emit(el)}, nil
	})
	mainSink := &captureSink{name: "small-out"}
	bigSink := &captureSink{name: "big-out"}

	g := NewGraph()
	assert.NoError(t, g.Add(&Node{Name: "gen", Kind: KindSource}))
	assert.NoError(t, g.Add(&Node{Name: "split", Kind: KindParDo, Inputs: []Ref{MainOutput("gen")}, Mapper: split, ExtraTags: []udf.Tag{"big"}}))
	assert.NoError(t, g.Add(&Node{Name: "small-out", Kind: KindSink, Inputs: []Ref{MainOutput("split")}, Sink: mainSink}))
	assert.NoError(t, g.Add(&Node{Name: "big-out", Kind: KindSink, Inputs: []Ref{{Node: "split", Tag: "big"}}, Sink: bigSink}))

	tr, _ := newFixture(t, g)
	tr.BeginTick(1)
	assert.NoError(t, tr.StageSourceBatch("gen", []*element.Windowed{
		keyedEl("a", 1000, "5"),
		keyedEl("b", 2000, "99"),
	}, []watermark.SourceID{"gen"}))
	_, err := tr.EvaluateTick(ctx)
	assert.NoError(t, err)

	assert.Len(t, mainSink.batches[0], 1)
	assert.Equal(t, "5", string(mainSink.batches[0][0].Payload))
	assert.Len(t, bigSink.batches[0], 1)
	assert.Equal(t, "99", string(bigSink.batches[0][0].Payload))
}

func TestTranslator_WindowIntoSkipsReassign(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{name: "out"}
	g := NewGraph()
	assert.NoError(t, g.Add(&Node{Name: "gen", Kind: KindSource}))
	assert.NoError(t, g.Add(&Node{Name: "win1", Kind: KindWindowInto, Inputs: []Ref{MainOutput("gen")}, Windower: fixed.NewFixed(10 * time.Second)}))
	assert.NoError(t, g.Add(&Node{Name: "win2", Kind: KindWindowInto, Inputs: []Ref{MainOutput("win1")}, Windower: fixed.NewFixed(10 * time.Second)}))
	assert.NoError(t, g.Add(&Node{Name: "out", Kind: KindSink, Inputs: []Ref{MainOutput("win2")}, Sink: sink}))

	tr, _ := newFixture(t, g)
	tr.BeginTick(1)
	assert.NoError(t, tr.StageSourceBatch("gen", []*element.Windowed{keyedEl("a", 7000, "5")}, []watermark.SourceID{"gen"}))
	_, err := tr.EvaluateTick(ctx)
	assert.NoError(t, err)

	ds1, err := tr.Dataset(MainOutput("win1"))
	assert.NoError(t, err)
	ds2, err := tr.Dataset(MainOutput("win2"))
	assert.NoError(t, err)
	assert.Same(t, ds1, ds2)
	assert.Equal(t, "[0,10000)", sink.batches[0][0].Windows[0].String())
}

func TestTranslator_FlattenUnionsSourcesAndLiftsBoundedOnce(t *testing.T) {
	ctx := context.Background()
	tenSec := fixed.NewFixed(10 * time.Second)
	sink := &captureSink{name: "out"}

	g := NewGraph()
	assert.NoError(t, g.Add(&Node{Name: "sensors-a", Kind: KindSource}))
	assert.NoError(t, g.Add(&Node{Name: "sensors-b", Kind: KindSource}))
	assert.NoError(t, g.Add(&Node{Name: "fixtures", Kind: KindSource, Bounded: []*element.Element{
		keyedEl("k", 7000, "10").Element.Copy(),
	}}))
	assert.NoError(t, g.Add(&Node{Name: "join", Kind: KindFlatten, Inputs: []Ref{
		MainOutput("sensors-a"), MainOutput("sensors-b"), MainOutput("fixtures"),
	}}))
	assert.NoError(t, g.Add(&Node{Name: "sum", Kind: KindGroupByKey, Inputs: []Ref{MainOutput("join")}, Windower: tenSec, Fn: combine.SumInt64Fn{}}))
	assert.NoError(t, g.Add(&Node{Name: "out", Kind: KindSink, Inputs: []Ref{MainOutput("sum")}, Sink: sink}))

	tr, wm := newFixture(t, g)

	// tick 1: only source a has reported; the union's low watermark is
	// unknown, nothing fires
	wm.Advance("a", watermark.Watermark(time.UnixMilli(12000)))
	tr.BeginTick(1)
	assert.NoError(t, tr.StageSourceBatch("sensors-a", []*element.Windowed{keyedEl("k", 5000, "1")}, []watermark.SourceID{"a"}))
	assert.NoError(t, tr.StageSourceBatch("sensors-b", []*element.Windowed{keyedEl("k", 6000, "2")}, []watermark.SourceID{"b"}))
	res, err := tr.EvaluateTick(ctx)
	assert.NoError(t, err)
	commitAll(t, res.Txns, 1)
	assert.Empty(t, sink.batches[0])

	// tick 2: source b catches up; the bounded branch must not deliver its
	// content a second time
	wm.Advance("b", watermark.Watermark(time.UnixMilli(12000)))
	tr.BeginTick(2)
	assert.NoError(t, tr.StageSourceBatch("sensors-a", nil, []watermark.SourceID{"a"}))
	assert.NoError(t, tr.StageSourceBatch("sensors-b", nil, []watermark.SourceID{"b"}))
	res, err = tr.EvaluateTick(ctx)
	assert.NoError(t, err)
	commitAll(t, res.Txns, 2)

	assert.Len(t, sink.batches[1], 1)
	pane := sink.batches[1][0]
	assert.Equal(t, "13", string(pane.Payload))
	assert.Equal(t, "k", pane.Key)
	assert.Equal(t, "0-10000-k:0", pane.ID)
}

func TestTranslator_StageSourceBatchValidation(t *testing.T) {
	g := NewGraph()
	assert.NoError(t, g.Add(&Node{Name: "fixtures", Kind: KindSource, Bounded: []*element.Element{
		keyedEl("k", 1000, "1").Element.Copy(),
	}}))
	assert.NoError(t, g.Add(&Node{Name: "gen", Kind: KindSource}))

	tr, _ := newFixture(t, g)
	tr.BeginTick(1)
	assert.Error(t, tr.StageSourceBatch("missing", nil, nil))
	err := tr.StageSourceBatch("fixtures", nil, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not a live source")
	assert.NoError(t, tr.StageSourceBatch("gen", nil, nil))
}
