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
	"fmt"

	"github.com/sluiceproj/sluice/pkg/combine"
	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/sideinput"
	"github.com/sluiceproj/sluice/pkg/sinks"
	"github.com/sluiceproj/sluice/pkg/udf"
	"github.com/sluiceproj/sluice/pkg/window"
)

// Ref names one output of a node. The zero Tag refers to the main output.
type Ref struct {
	Node string
	Tag  udf.Tag
}

// MainOutput returns the ref of the given node's main output.
func MainOutput(node string) Ref {
	return Ref{Node: node}
}

func (r Ref) String() string {
	if r.Tag == udf.MainTag {
		return r.Node
	}
	return r.Node + "." + string(r.Tag)
}

// SideInput declares that a node reads the dataset behind From as a
// broadcast view during element processing.
type SideInput struct {
	View sideinput.ViewID
	From Ref
}

// Node is one logical operator of the graph: a kind plus the configuration
// fields of that kind. Only the fields of the node's kind are read.
type Node struct {
	Name   string
	Kind   Kind
	Inputs []Ref

	// Bounded is a static finite input for a KindSource node. A source
	// without one is a live source fed by the driver every tick.
	Bounded []*element.Element
	// Mapper is the user transform of a KindParDo node.
	Mapper udf.Mapper
	// ExtraTags declares the additional outputs of a KindParDo node beyond
	// the main one.
	ExtraTags []udf.Tag
	// SideInputs are the broadcast views a KindParDo, KindGroupByKey or
	// KindCombineGrouped node consults.
	SideInputs []SideInput
	// Windower is the window strategy of a KindWindowInto or KindGroupByKey
	// node.
	Windower window.Windower
	// Fn is the combine of a KindGroupByKey (streaming) or
	// KindCombineGrouped node.
	Fn combine.CombineFn
	// Sink is the terminal writer of a KindSink node.
	Sink sinks.Sink
}

// Graph is a transform graph in dependency order. Add refuses a node whose
// inputs are not present yet, so the node slice is always a valid
// evaluation order.
type Graph struct {
	nodes  []*Node
	byName map[string]*Node
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		byName: make(map[string]*Node),
	}
}

// Add appends a node to the graph after validating it against the nodes
// already present.
func (g *Graph) Add(n *Node) error {
	if n.Name == "" {
		return fmt.Errorf("node needs a name")
	}
	if _, ok := g.byName[n.Name]; ok {
		return fmt.Errorf("(%s) a node with this name already exists", n.Name)
	}
	if n.Kind < KindSource || n.Kind > KindSink {
		return fmt.Errorf("(%s) unknown operator kind %d", n.Name, n.Kind)
	}
	for _, in := range n.Inputs {
		if _, ok := g.byName[in.Node]; !ok {
			return fmt.Errorf("(%s) input %s refers to a node not in the graph; nodes must be added in dependency order", n.Name, in)
		}
	}
	for _, si := range n.SideInputs {
		if _, ok := g.byName[si.From.Node]; !ok {
			return fmt.Errorf("(%s) side input %q refers to a node not in the graph", n.Name, si.From)
		}
	}
	if err := g.validateKind(n); err != nil {
		return err
	}
	g.nodes = append(g.nodes, n)
	g.byName[n.Name] = n
	return nil
}

func (g *Graph) validateKind(n *Node) error {
	switch n.Kind {
	case KindSource:
		if len(n.Inputs) != 0 {
			return fmt.Errorf("(%s) a source takes no inputs", n.Name)
		}
	case KindParDo:
		if len(n.Inputs) != 1 {
			return fmt.Errorf("(%s) a pardo takes exactly one input", n.Name)
		}
		if n.Mapper == nil {
			return fmt.Errorf("(%s) a pardo needs a mapper", n.Name)
		}
	case KindWindowInto:
		if len(n.Inputs) != 1 {
			return fmt.Errorf("(%s) a window-into takes exactly one input", n.Name)
		}
		if n.Windower == nil {
			return fmt.Errorf("(%s) a window-into needs a window strategy", n.Name)
		}
	case KindGroupByKey:
		if len(n.Inputs) != 1 {
			return fmt.Errorf("(%s) a group-by-key takes exactly one input", n.Name)
		}
		if n.Windower == nil {
			return fmt.Errorf("(%s) a group-by-key needs a window strategy", n.Name)
		}
	case KindCombineGrouped:
		if len(n.Inputs) != 1 {
			return fmt.Errorf("(%s) a combine-grouped takes exactly one input", n.Name)
		}
		if n.Fn == nil {
			return fmt.Errorf("(%s) a combine-grouped needs a combine fn", n.Name)
		}
	case KindFlatten:
		if len(n.Inputs) == 0 {
			return fmt.Errorf("(%s) a flatten takes at least one input", n.Name)
		}
	case KindSink:
		if len(n.Inputs) != 1 {
			return fmt.Errorf("(%s) a sink takes exactly one input", n.Name)
		}
		if n.Sink == nil {
			return fmt.Errorf("(%s) a sink node needs a sink", n.Name)
		}
	}
	return nil
}

// Nodes returns the nodes in the order they were added, which is a valid
// evaluation order.
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// Node returns the named node.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// HasLiveSource reports whether any source node is fed by the driver rather
// than a static batch. A graph with a live source runs in streaming mode.
func (g *Graph) HasLiveSource() bool {
	for _, n := range g.nodes {
		if n.Kind == KindSource && n.Bounded == nil {
			return true
		}
	}
	return false
}
