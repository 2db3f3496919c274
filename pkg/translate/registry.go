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
)

// Evaluator runs one node for one tick: it reads the node's inputs from the
// evaluation context and binds the node's outputs back into it.
type Evaluator func(ctx context.Context, ectx *EvaluationContext, n *Node) error

// Registry maps operator kinds to evaluators. Registration happens at
// compile time; a lookup miss is an UnsupportedOperatorErr.
type Registry struct {
	name       string
	evaluators map[Kind]Evaluator
}

// NewRegistry returns an empty registry. The name appears in dispatch
// errors.
func NewRegistry(name string) *Registry {
	return &Registry{
		name:       name,
		evaluators: make(map[Kind]Evaluator),
	}
}

// Register binds an evaluator to a kind, replacing any previous one.
func (r *Registry) Register(k Kind, ev Evaluator) *Registry {
	r.evaluators[k] = ev
	return r
}

// Evaluator returns the evaluator registered for the kind.
func (r *Registry) Evaluator(k Kind) (Evaluator, error) {
	ev, ok := r.evaluators[k]
	if !ok {
		return nil, UnsupportedOperatorErr{Kind: k, Registry: r.name}
	}
	return ev, nil
}

// BatchRegistry returns the registry of finite-dataset evaluators. These are
// usable in both modes; in a streaming pipeline they still serve the nodes
// all of whose inputs are bounded.
func BatchRegistry() *Registry {
	return NewRegistry("batch").
		Register(KindSource, evalBoundedSource).
		Register(KindParDo, evalBatchParDo).
		Register(KindWindowInto, evalBatchWindowInto).
		Register(KindGroupByKey, evalBatchGroupByKey).
		Register(KindCombineGrouped, evalBatchCombineGrouped).
		Register(KindFlatten, evalBatchFlatten).
		Register(KindSink, evalBatchSink)
}

// StreamingRegistry returns the registry of tick-based evaluators for nodes
// that consume unbounded datasets.
func StreamingRegistry() *Registry {
	return NewRegistry("streaming").
		Register(KindSource, evalLiveSource).
		Register(KindParDo, evalStreamingParDo).
		Register(KindWindowInto, evalStreamingWindowInto).
		Register(KindGroupByKey, evalStreamingGroupByKey).
		Register(KindCombineGrouped, evalStreamingCombineGrouped).
		Register(KindFlatten, evalStreamingFlatten).
		Register(KindSink, evalStreamingSink)
}
