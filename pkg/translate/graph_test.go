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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sluiceproj/sluice/pkg/combine"
	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/udf"
	"github.com/sluiceproj/sluice/pkg/window/strategy/fixed"
)

func passThrough() udf.Mapper {
	return udf.NewMapper("pass", func(_ context.Context, _ udf.Context, el *element.Windowed) ([]udf.TaggedOutput, error) {
		return []udf.TaggedOutput{udf.Emit(el)}, nil
	})
}

func TestGraph_Add(t *testing.T) {
	g := NewGraph()
	assert.NoError(t, g.Add(&Node{Name: "gen", Kind: KindSource}))
	assert.NoError(t, g.Add(&Node{Name: "clean", Kind: KindParDo, Inputs: []Ref{MainOutput("gen")}, Mapper: passThrough()}))
	assert.NoError(t, g.Add(&Node{Name: "win", Kind: KindWindowInto, Inputs: []Ref{MainOutput("clean")}, Windower: fixed.NewFixed(time.Minute)}))
	assert.NoError(t, g.Add(&Node{Name: "sum", Kind: KindGroupByKey, Inputs: []Ref{MainOutput("win")}, Windower: fixed.NewFixed(time.Minute), Fn: combine.SumInt64Fn{}}))

	assert.Len(t, g.Nodes(), 4)
	n, ok := g.Node("clean")
	assert.True(t, ok)
	assert.Equal(t, KindParDo, n.Kind)
	assert.True(t, g.HasLiveSource())
}

func TestGraph_AddRejectsInvalidNodes(t *testing.T) {
	for _, tc := range []struct {
		name    string
		node    *Node
		errCtns string
	}{
		{"empty name", &Node{Kind: KindSource}, "needs a name"},
		{"duplicate name", &Node{Name: "gen", Kind: KindSource}, "already exists"},
		{"unknown kind", &Node{Name: "odd", Kind: Kind(42)}, "unknown operator kind"},
		{"input out of order", &Node{Name: "late", Kind: KindFlatten, Inputs: []Ref{MainOutput("missing")}}, "dependency order"},
		{"source with input", &Node{Name: "bad-src", Kind: KindSource, Inputs: []Ref{MainOutput("gen")}}, "takes no inputs"},
		{"pardo without mapper", &Node{Name: "noop", Kind: KindParDo, Inputs: []Ref{MainOutput("gen")}}, "needs a mapper"},
		{"gbk without strategy", &Node{Name: "grp", Kind: KindGroupByKey, Inputs: []Ref{MainOutput("gen")}}, "needs a window strategy"},
		{"combine without fn", &Node{Name: "fold", Kind: KindCombineGrouped, Inputs: []Ref{MainOutput("gen")}}, "needs a combine fn"},
		{"sink without sink", &Node{Name: "out", Kind: KindSink, Inputs: []Ref{MainOutput("gen")}}, "needs a sink"},
		{"flatten without inputs", &Node{Name: "join", Kind: KindFlatten}, "at least one input"},
		{"side input out of order", &Node{Name: "enrich", Kind: KindParDo, Inputs: []Ref{MainOutput("gen")}, Mapper: passThrough(),
			SideInputs: []SideInput{{View: "cfg", From: MainOutput("missing")}}}, "side input"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGraph()
			assert.NoError(t, g.Add(&Node{Name: "gen", Kind: KindSource}))
			err := g.Add(tc.node)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tc.errCtns)
		})
	}
}

func TestGraph_HasLiveSource(t *testing.T) {
	g := NewGraph()
	assert.NoError(t, g.Add(&Node{Name: "fixtures", Kind: KindSource, Bounded: []*element.Element{
		element.New([]byte("1"), time.UnixMilli(1000)),
	}}))
	assert.False(t, g.HasLiveSource())
	assert.NoError(t, g.Add(&Node{Name: "gen", Kind: KindSource}))
	assert.True(t, g.HasLiveSource())
}

func TestRefString(t *testing.T) {
	assert.Equal(t, "split", MainOutput("split").String())
	assert.Equal(t, "split.big", Ref{Node: "split", Tag: "big"}.String())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "GroupByKey", KindGroupByKey.String())
	assert.Equal(t, "Unknown", Kind(42).String())
}
