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

package reduce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sluiceproj/sluice/pkg/combine"
	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/reduce/state/memory"
	"github.com/sluiceproj/sluice/pkg/sideinput"
	"github.com/sluiceproj/sluice/pkg/watermark"
	"github.com/sluiceproj/sluice/pkg/window"
	"github.com/sluiceproj/sluice/pkg/window/strategy/fixed"
	"github.com/sluiceproj/sluice/pkg/window/strategy/session"
	"github.com/sluiceproj/sluice/pkg/window/strategy/sliding"
)

const testSource = watermark.SourceID("gen")

var noSideInputs = sideinput.NewReader(nil)

func newTestEngine(t *testing.T, windower window.Windower, opts ...Option) (*Engine, *memory.Store, *watermark.Registry) {
	t.Helper()
	store := memory.NewStore("gbk")
	registry := watermark.NewRegistry()
	registry.Register(testSource)
	e, err := NewEngine("test-pipeline", "gbk", combine.SumInt64Fn{}, windower, store, registry, opts...)
	assert.NoError(t, err)
	return e, store, registry
}

func unwindowed(key string, ms int64, payload string) *element.Windowed {
	el := element.New([]byte(payload), time.UnixMilli(ms)).WithKey(key)
	return element.NewWindowed(*el)
}

func commitAll(t *testing.T, ctx context.Context, res *Result, tick int64) {
	t.Helper()
	for _, txn := range res.Txns {
		assert.NoError(t, txn.Commit(ctx, tick))
	}
}

func advance(r *watermark.Registry, ms int64) {
	r.Advance(testSource, watermark.Watermark(time.UnixMilli(ms)))
}

// Walks one fixed window through its whole lifecycle: open and silent,
// on-time pane, late pane, expiry with a drop.
func TestEngine_FixedWindowLifecycle(t *testing.T) {
	ctx := context.Background()
	windower := fixed.NewFixed(10*time.Second, window.WithAllowedLateness(5*time.Second))
	e, store, registry := newTestEngine(t, windower, WithParallelism(2))
	sources := []watermark.SourceID{testSource}

	// tick 1: one element, watermark still at zero, nothing fires
	advance(registry, 0)
	res, err := e.ProcessTick(ctx, 1, []*element.Windowed{unwindowed("a", 7000, "5")}, sources, noSideInputs)
	assert.NoError(t, err)
	assert.Empty(t, res.Panes)
	assert.Equal(t, int64(0), res.LateDropped)
	commitAll(t, ctx, res, 1)

	// tick 2: watermark passes the window end, the on-time pane fires
	advance(registry, 12000)
	res, err = e.ProcessTick(ctx, 2, nil, sources, noSideInputs)
	assert.NoError(t, err)
	assert.Len(t, res.Panes, 1)
	pane := res.Panes[0]
	assert.Equal(t, "5", string(pane.Payload))
	assert.Equal(t, "a", pane.Key)
	assert.Equal(t, element.PaneOnTime, pane.Timing)
	assert.Equal(t, "[0,10000)", pane.Windows[0].String())
	assert.Equal(t, time.UnixMilli(9999), pane.EventTime)
	assert.Equal(t, "0-10000-a:0", pane.ID)
	commitAll(t, ctx, res, 2)

	// tick 3: a late element within allowed lateness refires with the
	// full accumulator
	advance(registry, 14000)
	res, err = e.ProcessTick(ctx, 3, []*element.Windowed{unwindowed("a", 9000, "3")}, sources, noSideInputs)
	assert.NoError(t, err)
	assert.Len(t, res.Panes, 1)
	pane = res.Panes[0]
	assert.Equal(t, "8", string(pane.Payload))
	assert.Equal(t, element.PaneLate, pane.Timing)
	assert.Equal(t, "0-10000-a:1", pane.ID)
	commitAll(t, ctx, res, 3)

	// tick 4: watermark passes end+lateness, the entry expires and a
	// still later element is dropped, not an error
	advance(registry, 20000)
	res, err = e.ProcessTick(ctx, 4, []*element.Windowed{unwindowed("a", 9000, "99")}, sources, noSideInputs)
	assert.NoError(t, err)
	assert.Empty(t, res.Panes)
	assert.Equal(t, int64(1), res.LateDropped)
	commitAll(t, ctx, res, 4)

	for p := 0; p < 2; p++ {
		txn, err := store.Begin(ctx, p)
		assert.NoError(t, err)
		entries, err := txn.List(ctx)
		assert.NoError(t, err)
		assert.Empty(t, entries)
		txn.Discard()
	}
}

func TestEngine_UnknownWatermarkNeverFires(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t, fixed.NewFixed(10*time.Second))
	sources := []watermark.SourceID{testSource}

	// the source is registered but never reported, low stays unknown
	for tick := int64(1); tick <= 3; tick++ {
		res, err := e.ProcessTick(ctx, tick, []*element.Windowed{unwindowed("a", 1000*tick, "1")}, sources, noSideInputs)
		assert.NoError(t, err)
		assert.Empty(t, res.Panes)
		assert.Equal(t, int64(0), res.LateDropped)
		commitAll(t, ctx, res, tick)
	}

	txn, err := store.Begin(ctx, 0)
	assert.NoError(t, err)
	entries, err := txn.List(ctx)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].Count)
	txn.Discard()
}

func TestEngine_MultiSourceLowGatesFiring(t *testing.T) {
	ctx := context.Background()
	slow := watermark.SourceID("slow")
	store := memory.NewStore("gbk")
	registry := watermark.NewRegistry()
	registry.Register(testSource)
	registry.Register(slow)
	e, err := NewEngine("test-pipeline", "gbk", combine.SumInt64Fn{}, fixed.NewFixed(10*time.Second), store, registry)
	assert.NoError(t, err)
	sources := []watermark.SourceID{testSource, slow}

	advance(registry, 30000)
	res, err := e.ProcessTick(ctx, 1, []*element.Windowed{unwindowed("a", 5000, "1")}, sources, noSideInputs)
	assert.NoError(t, err)
	// the slow source has never reported, low is unknown
	assert.Empty(t, res.Panes)
	commitAll(t, ctx, res, 1)

	registry.Advance(slow, watermark.Watermark(time.UnixMilli(5000)))
	res, err = e.ProcessTick(ctx, 2, nil, sources, noSideInputs)
	assert.NoError(t, err)
	// low is 5000, still before the window end
	assert.Empty(t, res.Panes)
	commitAll(t, ctx, res, 2)

	registry.Advance(slow, watermark.Watermark(time.UnixMilli(11000)))
	res, err = e.ProcessTick(ctx, 3, nil, sources, noSideInputs)
	assert.NoError(t, err)
	assert.Len(t, res.Panes, 1)
	assert.Equal(t, "1", string(res.Panes[0].Payload))
	commitAll(t, ctx, res, 3)
}

func TestEngine_SessionMergeWithinTick(t *testing.T) {
	ctx := context.Background()
	e, store, registry := newTestEngine(t, session.NewSession(10*time.Second))
	sources := []watermark.SourceID{testSource}

	// 0s and 8s overlap, 18s abuts the merged window and still joins
	advance(registry, 0)
	res, err := e.ProcessTick(ctx, 1, []*element.Windowed{
		unwindowed("a", 0, "1"),
		unwindowed("a", 8000, "2"),
		unwindowed("a", 18000, "4"),
	}, sources, noSideInputs)
	assert.NoError(t, err)
	assert.Empty(t, res.Panes)
	commitAll(t, ctx, res, 1)

	txn, err := store.Begin(ctx, 0)
	assert.NoError(t, err)
	entries, err := txn.List(ctx)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "0-28000-a", entries[0].ID.String())
	assert.Equal(t, int64(3), entries[0].Count)
	txn.Discard()

	advance(registry, 28000)
	res, err = e.ProcessTick(ctx, 2, nil, sources, noSideInputs)
	assert.NoError(t, err)
	assert.Len(t, res.Panes, 1)
	assert.Equal(t, "7", string(res.Panes[0].Payload))
	assert.Equal(t, "[0,28000)", res.Panes[0].Windows[0].String())
	commitAll(t, ctx, res, 2)
}

func TestEngine_SessionMergeAcrossTicks(t *testing.T) {
	ctx := context.Background()
	e, store, registry := newTestEngine(t, session.NewSession(10*time.Second))
	sources := []watermark.SourceID{testSource}

	advance(registry, 0)
	res, err := e.ProcessTick(ctx, 1, []*element.Windowed{unwindowed("a", 0, "1")}, sources, noSideInputs)
	assert.NoError(t, err)
	commitAll(t, ctx, res, 1)

	// next tick's element lands inside the persisted session and extends it
	res, err = e.ProcessTick(ctx, 2, []*element.Windowed{unwindowed("a", 8000, "2")}, sources, noSideInputs)
	assert.NoError(t, err)
	assert.Empty(t, res.Panes)
	commitAll(t, ctx, res, 2)

	txn, err := store.Begin(ctx, 0)
	assert.NoError(t, err)
	entries, err := txn.List(ctx)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "0-18000-a", entries[0].ID.String())
	assert.Equal(t, int64(1), entries[0].CreatedTick)
	txn.Discard()

	advance(registry, 18000)
	res, err = e.ProcessTick(ctx, 3, nil, sources, noSideInputs)
	assert.NoError(t, err)
	assert.Len(t, res.Panes, 1)
	assert.Equal(t, "3", string(res.Panes[0].Payload))
	commitAll(t, ctx, res, 3)
}

func TestEngine_SessionsOfDifferentKeysStayApart(t *testing.T) {
	ctx := context.Background()
	e, _, registry := newTestEngine(t, session.NewSession(10*time.Second), WithParallelism(3))
	sources := []watermark.SourceID{testSource}

	advance(registry, 0)
	res, err := e.ProcessTick(ctx, 1, []*element.Windowed{
		unwindowed("a", 0, "1"),
		unwindowed("b", 2000, "10"),
	}, sources, noSideInputs)
	assert.NoError(t, err)
	commitAll(t, ctx, res, 1)

	advance(registry, 30000)
	res, err = e.ProcessTick(ctx, 2, nil, sources, noSideInputs)
	assert.NoError(t, err)
	assert.Len(t, res.Panes, 2)
	got := map[string]string{}
	for _, p := range res.Panes {
		got[p.Key] = string(p.Payload)
	}
	assert.Equal(t, map[string]string{"a": "1", "b": "10"}, got)
}

func TestEngine_SlidingElementLandsInEverySlide(t *testing.T) {
	ctx := context.Background()
	e, _, registry := newTestEngine(t, sliding.NewSliding(60*time.Second, 20*time.Second))
	sources := []watermark.SourceID{testSource}

	advance(registry, 0)
	res, err := e.ProcessTick(ctx, 1, []*element.Windowed{unwindowed("a", 610000, "5")}, sources, noSideInputs)
	assert.NoError(t, err)
	assert.Empty(t, res.Panes)
	commitAll(t, ctx, res, 1)

	advance(registry, 660000)
	res, err = e.ProcessTick(ctx, 2, nil, sources, noSideInputs)
	assert.NoError(t, err)
	assert.Len(t, res.Panes, 3)
	// panes come out ordered by window end
	assert.Equal(t, "[560000,620000)", res.Panes[0].Windows[0].String())
	assert.Equal(t, "[580000,640000)", res.Panes[1].Windows[0].String())
	assert.Equal(t, "[600000,660000)", res.Panes[2].Windows[0].String())
	for _, p := range res.Panes {
		assert.Equal(t, "5", string(p.Payload))
		assert.Equal(t, element.PaneOnTime, p.Timing)
	}
}

func TestEngine_PanesOrderedByWindowEndThenKey(t *testing.T) {
	ctx := context.Background()
	e, _, registry := newTestEngine(t, fixed.NewFixed(10*time.Second), WithParallelism(4))
	sources := []watermark.SourceID{testSource}

	advance(registry, 20000)
	res, err := e.ProcessTick(ctx, 1, []*element.Windowed{
		unwindowed("b", 5000, "2"),
		unwindowed("a", 15000, "3"),
		unwindowed("a", 5000, "1"),
	}, sources, noSideInputs)
	assert.NoError(t, err)
	assert.Len(t, res.Panes, 3)
	assert.Equal(t, "a", res.Panes[0].Key)
	assert.Equal(t, "[0,10000)", res.Panes[0].Windows[0].String())
	assert.Equal(t, "b", res.Panes[1].Key)
	assert.Equal(t, "[0,10000)", res.Panes[1].Windows[0].String())
	assert.Equal(t, "a", res.Panes[2].Key)
	assert.Equal(t, "[10000,20000)", res.Panes[2].Windows[0].String())
}

func TestEngine_ArrivalOrderIndependence(t *testing.T) {
	ctx := context.Background()
	sources := []watermark.SourceID{testSource}
	els := []*element.Windowed{
		unwindowed("a", 1000, "1"),
		unwindowed("b", 2000, "2"),
		unwindowed("a", 3000, "3"),
		unwindowed("b", 14000, "4"),
		unwindowed("a", 9000, "5"),
	}
	reversed := make([]*element.Windowed, len(els))
	for i, el := range els {
		reversed[len(els)-1-i] = el
	}

	run := func(input []*element.Windowed) []*element.Windowed {
		e, _, registry := newTestEngine(t, fixed.NewFixed(10*time.Second), WithParallelism(2))
		advance(registry, 20000)
		res, err := e.ProcessTick(ctx, 1, input, sources, noSideInputs)
		assert.NoError(t, err)
		commitAll(t, ctx, res, 1)
		return res.Panes
	}

	forward := run(els)
	backward := run(reversed)
	assert.Equal(t, len(forward), len(backward))
	for i := range forward {
		assert.Equal(t, forward[i].ID, backward[i].ID)
		assert.Equal(t, string(forward[i].Payload), string(backward[i].Payload))
		assert.Equal(t, forward[i].Timing, backward[i].Timing)
	}
}

func TestEngine_DiscardedTickLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	e, _, registry := newTestEngine(t, fixed.NewFixed(10*time.Second))
	sources := []watermark.SourceID{testSource}
	els := []*element.Windowed{unwindowed("a", 5000, "5")}

	advance(registry, 0)
	res, err := e.ProcessTick(ctx, 1, els, sources, noSideInputs)
	assert.NoError(t, err)
	for _, txn := range res.Txns {
		txn.Discard()
	}

	// the retried tick sees pristine state, so the aggregate is not doubled
	res, err = e.ProcessTick(ctx, 1, els, sources, noSideInputs)
	assert.NoError(t, err)
	commitAll(t, ctx, res, 1)

	advance(registry, 12000)
	res, err = e.ProcessTick(ctx, 2, nil, sources, noSideInputs)
	assert.NoError(t, err)
	assert.Len(t, res.Panes, 1)
	assert.Equal(t, "5", string(res.Panes[0].Payload))
}

func TestEngine_ReplayedTickIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, _, registry := newTestEngine(t, fixed.NewFixed(10*time.Second))
	sources := []watermark.SourceID{testSource}
	els := []*element.Windowed{unwindowed("a", 5000, "5")}

	advance(registry, 0)
	res, err := e.ProcessTick(ctx, 1, els, sources, noSideInputs)
	assert.NoError(t, err)
	commitAll(t, ctx, res, 1)

	// the substrate delivers at least once; the same batch shows up again
	res, err = e.ProcessTick(ctx, 1, els, sources, noSideInputs)
	assert.NoError(t, err)
	commitAll(t, ctx, res, 1)

	advance(registry, 12000)
	res, err = e.ProcessTick(ctx, 2, nil, sources, noSideInputs)
	assert.NoError(t, err)
	assert.Len(t, res.Panes, 1)
	assert.Equal(t, "5", string(res.Panes[0].Payload))
}

func TestEngine_AddInputErrorFailsTick(t *testing.T) {
	ctx := context.Background()
	e, store, registry := newTestEngine(t, fixed.NewFixed(10*time.Second))
	sources := []watermark.SourceID{testSource}

	advance(registry, 0)
	_, err := e.ProcessTick(ctx, 1, []*element.Windowed{unwindowed("a", 5000, "not-a-number")}, sources, noSideInputs)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `combine "sum"`)

	// nothing leaked into the store
	txn, err := store.Begin(ctx, 0)
	assert.NoError(t, err)
	entries, err := txn.List(ctx)
	assert.NoError(t, err)
	assert.Empty(t, entries)
	txn.Discard()
}

func TestEngine_OptionValidation(t *testing.T) {
	store := memory.NewStore("gbk")
	registry := watermark.NewRegistry()

	_, err := NewEngine("p", "g", combine.SumInt64Fn{}, fixed.NewFixed(time.Minute), store, registry, WithParallelism(0))
	assert.Error(t, err)

	_, err = NewEngine("p", "g", combine.SumInt64Fn{}, fixed.NewFixed(time.Minute), store, registry, WithTriggerPolicy(nil))
	assert.Error(t, err)
}
